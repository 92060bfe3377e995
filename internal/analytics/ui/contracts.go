// Package ui turns widget results into template view models.
package ui

import (
	"html/template"
	"slices"

	"github.com/mind-edu/mind-insights/internal/analytics"
)

// TableView is a pre-formatted table.
type TableView struct {
	Columns []string
	Rows    [][]string
}

// WidgetView is everything a widget template needs.
type WidgetView struct {
	ID          string
	Title       string
	Description string
	Status      analytics.Status
	Message     string
	Display     analytics.Display
	Metric      string
	Chart       template.HTML
	Table       TableView
	ExportURL   string
}

// OK reports whether the widget has content to show.
func (v WidgetView) OK() bool {
	return v.Status == analytics.StatusOK
}

// TabView groups widgets under a tab.
type TabView struct {
	ID      string
	Title   string
	Widgets []WidgetView
}

// FilterView is one select box of the filter bar.
type FilterView struct {
	Name     string
	Label    string
	Selected string
	Options  []string
}

// PageView is the dashboard page view model.
type PageView struct {
	Page        string
	Title       string
	Tabs        []TabView
	Filters     []FilterView
	// Offered lists the filter names of the page.
	Offered     []string
	Ranges      []string
	Since       string
	Search      string
	Threshold   string
	TraceID     string
	Preview     bool
	PreviewNote string
	Error       string
}

// Offers reports whether the page has the filter.
func (p PageView) Offers(name string) bool {
	return slices.Contains(p.Offered, name)
}

// ToWidgetView formats a widget result. Charts that cannot be drawn fall
// back to a table of the result.
func ToWidgetView(res analytics.WidgetResult, exportURL string) WidgetView {
	w := res.Widget
	view := WidgetView{
		ID:          res.ID,
		Title:       res.Title,
		Description: w.Description,
		Status:      res.Status,
		Message:     res.Message,
		Display:     w.Display,
	}
	if res.Status != analytics.StatusOK {
		return view
	}
	view.ExportURL = exportURL
	switch w.Display {
	case analytics.DisplayMetric:
		view.Metric = analytics.MetricValue(*w.Metric, res.Result)
	case analytics.DisplayChart:
		chart, err := analytics.RenderChart(*w.Chart, res.Result)
		if err == nil && !chart.Fallback {
			view.Chart = chart.SVG
			return view
		}
		view.Display = analytics.DisplayTable
		view.Table = ToTable(res)
	default:
		view.Table = ToTable(res)
	}
	return view
}

// ToTable formats every cell of a result.
func ToTable(res analytics.WidgetResult) TableView {
	t := TableView{Columns: res.Result.Columns, Rows: make([][]string, 0, len(res.Result.Rows))}
	for _, row := range res.Result.Rows {
		cells := make([]string, len(t.Columns))
		for i, col := range t.Columns {
			cells[i] = analytics.Cell(row, col)
		}
		t.Rows = append(t.Rows, cells)
	}
	return t
}
