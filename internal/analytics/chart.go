package analytics

import (
	"fmt"
	"html/template"
	"math"

	"github.com/mind-edu/mind-insights/internal/analytics/svg"
	"github.com/mind-edu/mind-insights/internal/warehouse"
)

// Chart is a rendered chart or, for kinds without a renderer, a table
// fallback.
type Chart struct {
	SVG      template.HTML
	Fallback bool
}

// RenderChart draws the request against the result. Unsupported kinds and
// results that cannot be drawn report Fallback so the caller shows a table.
func RenderChart(req ChartRequest, res warehouse.Result) (Chart, error) {
	if res.Empty() {
		return Chart{Fallback: true}, nil
	}
	var (
		out template.HTML
		err error
	)
	switch req.Kind {
	case ChartLine:
		out, err = lineChart(req, res)
	case ChartBar:
		out, err = barChart(req, res)
	case ChartGauge:
		out, err = gaugeChart(req, res)
	default:
		return Chart{Fallback: true}, nil
	}
	if err != nil {
		return Chart{Fallback: true}, fmt.Errorf("analytics: render %s chart: %w", req.Kind, err)
	}
	return Chart{SVG: out}, nil
}

func lineChart(req ChartRequest, res warehouse.Result) (template.HTML, error) {
	values, labels := column(res, req.Y[0]), labelsOf(res, req.X)
	return svg.Line(0, 0, values, labels, svg.LineOpts{
		Title:     req.Title,
		ShowDots:  len(values) <= 31,
		MaxLabels: 8,
	})
}

func barChart(req ChartRequest, res warehouse.Result) (template.HTML, error) {
	series := make([]svg.Series, 0, len(req.Y))
	for _, y := range req.Y {
		series = append(series, svg.Series{Label: y, Values: column(res, y)})
	}
	return svg.Bars(0, 0, series, labelsOf(res, req.X), svg.BarOpts{Title: req.Title})
}

func gaugeChart(req ChartRequest, res warehouse.Result) (template.HTML, error) {
	value := res.Rows[0].Float(req.Y[0])
	if !value.Valid {
		return "", fmt.Errorf("value of %q unavailable", req.Y[0])
	}
	hi := req.Max
	if hi <= 0 {
		hi = 100
	}
	return svg.Gauge(0, 0, value.Float64, svg.GaugeOpts{
		Title:     req.Title,
		Max:       hi,
		Threshold: req.Threshold,
	})
}

func column(res warehouse.Result, col string) []float64 {
	out := make([]float64, len(res.Rows))
	for i, row := range res.Rows {
		v := row.Float(col)
		if !v.Valid {
			out[i] = svg.Missing
			continue
		}
		out[i] = v.Float64
	}
	return out
}

func labelsOf(res warehouse.Result, col string) []string {
	out := make([]string, len(res.Rows))
	for i, row := range res.Rows {
		out[i] = Label(row, col)
	}
	return out
}

// MetricValue formats the value of a metric widget. NULL aggregates are
// shown as unavailable, never as zero.
func MetricValue(spec MetricSpec, res warehouse.Result) string {
	if res.Empty() {
		return Unavailable
	}
	v := res.Rows[0].Float(spec.Column)
	if !v.Valid || math.IsInf(v.Float64, 0) {
		return Unavailable
	}
	s := fmt.Sprintf("%.*f", spec.Digits, v.Float64)
	if spec.Unit != "" {
		s += spec.Unit
	}
	return s
}
