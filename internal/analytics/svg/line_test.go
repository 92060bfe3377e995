package svg

import (
	"strings"
	"testing"
)

func TestLineProducesSVG(t *testing.T) {
	html, err := Line(400, 200, []float64{72, 78, 75}, []string{"Mon", "Tue", "Wed"}, LineOpts{
		Title:       "Average score",
		Description: "Daily average score",
		ShowDots:    true,
	})
	if err != nil {
		t.Fatalf("line renderer error: %v", err)
	}
	output := string(html)
	if !strings.HasPrefix(output, "<svg") {
		t.Fatalf("expected svg output, got %s", output)
	}
	if !strings.Contains(output, "<path") {
		t.Fatalf("expected path element in svg")
	}
	if !strings.Contains(output, "aria-labelledby") {
		t.Fatalf("expected accessibility attributes")
	}
}

func TestLineBreaksAtMissingPoints(t *testing.T) {
	html, err := Line(400, 200, []float64{10, Missing, 30, 40}, []string{"a", "b", "c", "d"}, LineOpts{FillColor: "none"})
	if err != nil {
		t.Fatalf("line renderer error: %v", err)
	}
	// Two segments: a lone point and a two-point line.
	if got := strings.Count(string(html), "<path"); got != 2 {
		t.Fatalf("expected 2 line paths, got %d", got)
	}
}

func TestLineRejectsAllMissing(t *testing.T) {
	if _, err := Line(400, 200, []float64{Missing}, []string{"a"}, LineOpts{}); err == nil {
		t.Fatalf("expected error for series without values")
	}
}

func TestLineEscapesLabels(t *testing.T) {
	html, err := Line(400, 200, []float64{1, 2}, []string{"<b>", "x"}, LineOpts{Title: "<script>"})
	if err != nil {
		t.Fatalf("line renderer error: %v", err)
	}
	if strings.Contains(string(html), "<script>") || strings.Contains(string(html), "<b>") {
		t.Fatalf("expected escaped labels, got %s", html)
	}
}
