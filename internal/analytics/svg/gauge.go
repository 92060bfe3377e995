package svg

import (
	"fmt"
	"html/template"
	"math"
	"strings"
)

// Gauge renders a half-circle gauge for a single value.
func Gauge(width, height int, value float64, opts GaugeOpts) (template.HTML, error) {
	if math.IsNaN(value) {
		return "", fmt.Errorf("svg: gauge value missing")
	}
	lo, hi := opts.Min, opts.Max
	if hi <= lo {
		lo, hi = 0, 100
	}
	if width <= 0 {
		width = 240
	}
	if height <= 0 {
		height = 150
	}
	color := fallback(opts.Color, "#10b981")
	if opts.Threshold > 0 && value < opts.Threshold {
		color = fallback(opts.WarnColor, "#ef4444")
	}
	track := fallback(opts.TrackColor, "#e2e8f0")

	ratio := (math.Min(math.Max(value, lo), hi) - lo) / (hi - lo)
	cx := float64(width) / 2
	cy := float64(height) - 20
	r := math.Min(cx, cy) - 12
	arc := func(to float64) string {
		angle := math.Pi * (1 - to)
		x := cx + r*math.Cos(angle)
		y := cy - r*math.Sin(angle)
		return fmt.Sprintf("M%.2f %.2f A%.2f %.2f 0 0 1 %.2f %.2f", cx-r, cy, r, r, x, y)
	}

	titleID := makeID(opts.Title, "gauge-title")
	descID := makeID(opts.Title, "gauge-desc")

	var b strings.Builder
	fmt.Fprintf(&b, "<svg xmlns=\"http://www.w3.org/2000/svg\" viewBox=\"0 0 %d %d\" role=\"img\" aria-labelledby=\"%s %s\">", width, height, titleID, descID)
	fmt.Fprintf(&b, "<title id=\"%s\">%s</title>", titleID, template.HTMLEscapeString(fallback(opts.Title, "Gauge")))
	fmt.Fprintf(&b, "<desc id=\"%s\">%s</desc>", descID, template.HTMLEscapeString(fallback(opts.Description, fmt.Sprintf("%s of %s", formatTick(value), formatTick(hi)))))
	fmt.Fprintf(&b, "<path d=\"%s\" fill=\"none\" stroke=\"%s\" stroke-width=\"14\" stroke-linecap=\"round\"></path>", arc(1), track)
	if ratio > 0 {
		fmt.Fprintf(&b, "<path d=\"%s\" fill=\"none\" stroke=\"%s\" stroke-width=\"14\" stroke-linecap=\"round\"></path>", arc(ratio), color)
	}
	fmt.Fprintf(&b, "<text x=\"%.2f\" y=\"%.2f\" font-size=\"22\" font-weight=\"600\" text-anchor=\"middle\" fill=\"#0f172a\">%s%s</text>",
		cx, cy-4, template.HTMLEscapeString(formatTick(value)), template.HTMLEscapeString(opts.Unit))
	fmt.Fprintf(&b, "<text x=\"%.2f\" y=\"%.2f\" font-size=\"10\" text-anchor=\"middle\" fill=\"#475569\">%s</text>", cx-r, cy+14, template.HTMLEscapeString(formatTick(lo)))
	fmt.Fprintf(&b, "<text x=\"%.2f\" y=\"%.2f\" font-size=\"10\" text-anchor=\"middle\" fill=\"#475569\">%s</text>", cx+r, cy+14, template.HTMLEscapeString(formatTick(hi)))
	b.WriteString("</svg>")
	return template.HTML(b.String()), nil
}
