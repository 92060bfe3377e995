// Package dashboard assembles the role pages: a YAML layout of tabs and
// widgets, the widget catalog and the filter state behind each page.
package dashboard

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/mind-edu/mind-insights/internal/shared"
)

//go:embed pages.yaml
var defaultLayout []byte

// TabConfig is one tab of a page.
type TabConfig struct {
	ID      string   `yaml:"id"`
	Title   string   `yaml:"title"`
	Widgets []string `yaml:"widgets"`
}

// PageConfig is one role page.
type PageConfig struct {
	Name    string      `yaml:"name"`
	Title   string      `yaml:"title"`
	Filters []string    `yaml:"filters"`
	Tabs    []TabConfig `yaml:"tabs"`
}

// HasFilter reports whether the page offers the filter.
func (p PageConfig) HasFilter(name string) bool {
	return slices.Contains(p.Filters, name)
}

// WidgetIDs lists the widgets of every tab without duplicates, in layout
// order.
func (p PageConfig) WidgetIDs() []string {
	var ids []string
	for _, tab := range p.Tabs {
		for _, id := range tab.Widgets {
			if !slices.Contains(ids, id) {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Layout is the set of pages.
type Layout struct {
	Pages []PageConfig `yaml:"pages"`
}

// Page returns the configuration of a page.
func (l *Layout) Page(name string) (PageConfig, bool) {
	for _, p := range l.Pages {
		if p.Name == name {
			return p, true
		}
	}
	return PageConfig{}, false
}

// DefaultLayout returns the embedded layout.
func DefaultLayout(catalog Catalog) (*Layout, error) {
	return LoadLayout(bytes.NewReader(defaultLayout), catalog)
}

// LoadLayoutFile reads a layout override.
func LoadLayoutFile(path string, catalog Catalog) (*Layout, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dashboard: open layout: %w", err)
	}
	defer f.Close()
	return LoadLayout(f, catalog)
}

// LoadLayout decodes and validates a layout against the catalog.
func LoadLayout(r io.Reader, catalog Catalog) (*Layout, error) {
	var l Layout
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&l); err != nil {
		return nil, fmt.Errorf("dashboard: decode layout: %w", err)
	}
	if err := l.validate(catalog); err != nil {
		return nil, err
	}
	return &l, nil
}

func (l *Layout) validate(catalog Catalog) error {
	var errs []error
	seen := make(map[string]struct{})
	for _, p := range l.Pages {
		if !slices.Contains(shared.Pages(), p.Name) {
			errs = append(errs, fmt.Errorf("dashboard: unknown page %q", p.Name))
		}
		if _, dup := seen[p.Name]; dup {
			errs = append(errs, fmt.Errorf("dashboard: page %q defined twice", p.Name))
		}
		seen[p.Name] = struct{}{}
		for _, f := range p.Filters {
			if !slices.Contains(FilterNames(), f) {
				errs = append(errs, fmt.Errorf("dashboard: page %q: unknown filter %q", p.Name, f))
			}
		}
		if len(p.Tabs) == 0 {
			errs = append(errs, fmt.Errorf("dashboard: page %q has no tabs", p.Name))
		}
		for _, tab := range p.Tabs {
			for _, id := range tab.Widgets {
				if _, ok := catalog[id]; !ok {
					errs = append(errs, fmt.Errorf("dashboard: page %q tab %q: unknown widget %q", p.Name, tab.ID, id))
				}
			}
		}
	}
	for _, name := range shared.Pages() {
		if _, ok := seen[name]; !ok {
			errs = append(errs, fmt.Errorf("dashboard: page %q missing from layout", name))
		}
	}
	return errors.Join(errs...)
}
