package analytics

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mind-edu/mind-insights/internal/warehouse"
)

func series() warehouse.Result {
	return warehouse.Result{
		Columns: []string{"bucket", "value"},
		Rows: []warehouse.Row{
			{"bucket": int64(1735689600), "value": 10.0},
			{"bucket": int64(1735776000), "value": nil},
			{"bucket": int64(1735862400), "value": 12.0},
		},
	}
}

func TestRenderChartLine(t *testing.T) {
	chart, err := RenderChart(ChartRequest{Kind: ChartLine, X: "bucket", Y: []string{"value"}, Title: "Requests"}, series())
	require.NoError(t, err)
	require.False(t, chart.Fallback)
	require.Contains(t, string(chart.SVG), "<svg")
	require.Contains(t, string(chart.SVG), "01 Jan")
}

func TestRenderChartBarAndGauge(t *testing.T) {
	res := warehouse.Result{
		Columns: []string{"cohort", "avg_score"},
		Rows:    []warehouse.Row{{"cohort": "2024", "avg_score": 71.5}, {"cohort": "2025", "avg_score": 64.0}},
	}
	chart, err := RenderChart(ChartRequest{Kind: ChartBar, X: "cohort", Y: []string{"avg_score"}}, res)
	require.NoError(t, err)
	require.Contains(t, string(chart.SVG), "2024")

	gauge, err := RenderChart(ChartRequest{Kind: ChartGauge, Y: []string{"avg_score"}, Threshold: 60}, res)
	require.NoError(t, err)
	require.False(t, gauge.Fallback)
}

func TestRenderChartFallsBack(t *testing.T) {
	for _, kind := range []ChartKind{ChartPie, ChartHeatmap, ChartRadar, ChartFunnel} {
		chart, err := RenderChart(ChartRequest{Kind: kind, X: "bucket", Y: []string{"value"}}, series())
		require.NoError(t, err)
		require.True(t, chart.Fallback, kind)
	}

	chart, err := RenderChart(ChartRequest{Kind: ChartLine, X: "bucket", Y: []string{"value"}}, warehouse.Result{})
	require.NoError(t, err)
	require.True(t, chart.Fallback)

	nulls := warehouse.Result{Columns: []string{"avg_score"}, Rows: []warehouse.Row{{"avg_score": nil}}}
	chart, err = RenderChart(ChartRequest{Kind: ChartGauge, Y: []string{"avg_score"}}, nulls)
	require.Error(t, err)
	require.True(t, chart.Fallback)
}

func TestMetricValueKeepsNullUnavailable(t *testing.T) {
	spec := MetricSpec{Column: "avg_score", Digits: 1, Unit: "%"}
	require.Equal(t, Unavailable, MetricValue(spec, warehouse.Result{}))
	require.Equal(t, Unavailable, MetricValue(spec, warehouse.Result{Columns: []string{"avg_score"}, Rows: []warehouse.Row{{"avg_score": nil}}}))
	require.Equal(t, "72.3%", MetricValue(spec, warehouse.Result{Columns: []string{"avg_score"}, Rows: []warehouse.Row{{"avg_score": 72.26}}}))
}

func TestCellFormatting(t *testing.T) {
	row := warehouse.Row{"avg_score": 55.0, "created_at": int64(1735689600), "name": "Ada", "missing": nil, "derived_is_error": true}
	require.Equal(t, "55.00", Cell(row, "avg_score"))
	require.Equal(t, "2025-01-01 00:00", Cell(row, "created_at"))
	require.Equal(t, "Ada", Cell(row, "name"))
	require.Equal(t, Unavailable, Cell(row, "missing"))
	require.Equal(t, "yes", Cell(row, "derived_is_error"))
}
