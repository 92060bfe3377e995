package svg

import "math"

// LineOpts customises the line chart renderer.
type LineOpts struct {
	Title       string
	Description string
	StrokeColor string
	FillColor   string
	AxisColor   string
	GridColor   string
	Padding     float64
	ShowDots    bool
	TickCount   int
	// MaxLabels thins x-axis labels on dense series.
	MaxLabels int
}

// Series is one named bar series.
type Series struct {
	Label  string
	Values []float64
	Color  string
}

// BarOpts customises the bar chart renderer.
type BarOpts struct {
	Title       string
	Description string
	AxisColor   string
	GridColor   string
	Padding     float64
	TickCount   int
}

// GaugeOpts customises the gauge renderer.
type GaugeOpts struct {
	Title       string
	Description string
	Min         float64
	Max         float64
	// Threshold marks the at-risk boundary; values below it use WarnColor.
	Threshold  float64
	Color      string
	WarnColor  string
	TrackColor string
	Unit       string
}

// Defaults for the dashboard charts.
const (
	DefaultWidth   = 720
	DefaultHeight  = 240
	DefaultPadding = 28.0
	DefaultTicks   = 5
)

// Missing marks an unavailable point; lines break around it and bars skip it.
var Missing = math.NaN()

var palette = []string{"#2563eb", "#f97316", "#10b981", "#a855f7", "#ef4444", "#0ea5e9"}
