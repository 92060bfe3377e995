// Package analytics runs dashboard widgets against the warehouse and turns
// their results into view-ready data.
package analytics

import (
	"fmt"
	"slices"

	"github.com/mind-edu/mind-insights/internal/query"
	"github.com/mind-edu/mind-insights/internal/warehouse"
)

// Display is how a widget presents its result.
type Display string

// Display kinds.
const (
	DisplayMetric Display = "metric"
	DisplayTable  Display = "table"
	DisplayChart  Display = "chart"
)

// ChartKind is the semantic chart type requested by a widget.
type ChartKind string

// Chart kinds. The renderer draws line, bar and gauge; the rest are shown as
// tables.
const (
	ChartLine    ChartKind = "line"
	ChartBar     ChartKind = "bar"
	ChartPie     ChartKind = "pie"
	ChartGauge   ChartKind = "gauge"
	ChartHeatmap ChartKind = "heatmap"
	ChartRadar   ChartKind = "radar"
	ChartFunnel  ChartKind = "funnel"
)

// ChartKinds lists every accepted chart kind.
func ChartKinds() []ChartKind {
	return []ChartKind{ChartLine, ChartBar, ChartPie, ChartGauge, ChartHeatmap, ChartRadar, ChartFunnel}
}

// ChartRequest describes a chart semantically; the renderer decides how to
// draw it.
type ChartRequest struct {
	Kind  ChartKind `json:"kind" yaml:"kind"`
	X     string    `json:"x,omitempty" yaml:"x"`
	Y     []string  `json:"y,omitempty" yaml:"y"`
	Color string    `json:"color,omitempty" yaml:"color"`
	Title string    `json:"title,omitempty" yaml:"title"`
	// Threshold colours gauges below the value.
	Threshold float64 `json:"threshold,omitempty" yaml:"threshold"`
	Max       float64 `json:"max,omitempty" yaml:"max"`
}

// Validate checks the chart kind and the referenced columns.
func (c ChartRequest) Validate() error {
	if !slices.Contains(ChartKinds(), c.Kind) {
		return fmt.Errorf("analytics: unknown chart kind %q", c.Kind)
	}
	if len(c.Y) == 0 {
		return fmt.Errorf("analytics: chart %q needs at least one y column", c.Kind)
	}
	if c.Kind != ChartGauge && c.X == "" {
		return fmt.Errorf("analytics: chart %q needs an x column", c.Kind)
	}
	return nil
}

// Columns lists the result columns the chart reads.
func (c ChartRequest) Columns() []string {
	cols := slices.Clone(c.Y)
	if c.X != "" {
		cols = append(cols, c.X)
	}
	if c.Color != "" {
		cols = append(cols, c.Color)
	}
	return cols
}

// MetricSpec selects the value shown by a metric widget.
type MetricSpec struct {
	Column string `json:"column" yaml:"column"`
	Unit   string `json:"unit,omitempty" yaml:"unit"`
	// Digits is the number of decimals shown.
	Digits int `json:"digits,omitempty" yaml:"digits"`
}

// BuildFunc constructs the query of a widget for a scope.
type BuildFunc func(b *query.Builder, s query.Scope) (warehouse.Query, error)

// Widget is a titled query with a presentation.
type Widget struct {
	ID          string
	Title       string
	Description string
	Display     Display
	Chart       *ChartRequest
	Metric      *MetricSpec
	// Columns are required in a non-empty result; missing ones make the
	// widget render as empty.
	Columns []string
	// Hint replaces the empty message while a required selection, such as
	// a learner or trace id, is missing.
	Hint  string
	Build BuildFunc
}

// Required lists every column the widget needs.
func (w Widget) Required() []string {
	cols := slices.Clone(w.Columns)
	if w.Chart != nil {
		cols = append(cols, w.Chart.Columns()...)
	}
	if w.Metric != nil {
		cols = append(cols, w.Metric.Column)
	}
	slices.Sort(cols)
	return slices.Compact(cols)
}

// Validate checks that the widget is complete.
func (w Widget) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("analytics: widget id required")
	}
	if w.Build == nil {
		return fmt.Errorf("analytics: widget %s has no query", w.ID)
	}
	switch w.Display {
	case DisplayChart:
		if w.Chart == nil {
			return fmt.Errorf("analytics: widget %s: chart display without chart", w.ID)
		}
		if err := w.Chart.Validate(); err != nil {
			return fmt.Errorf("analytics: widget %s: %w", w.ID, err)
		}
	case DisplayMetric:
		if w.Metric == nil || w.Metric.Column == "" {
			return fmt.Errorf("analytics: widget %s: metric display without column", w.ID)
		}
	case DisplayTable:
	default:
		return fmt.Errorf("analytics: widget %s: unknown display %q", w.ID, w.Display)
	}
	return nil
}
