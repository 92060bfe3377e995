package warehouse

import (
	"fmt"
	"regexp"
	"slices"
)

var placeholderPattern = regexp.MustCompile(`@([A-Za-z_][A-Za-z0-9_]*)`)

// Query is a query descriptor: SQL text with @name placeholders and the
// ordered list of bound parameters. User input only ever travels in Params.
type Query struct {
	Name   string  `json:"name"`
	SQL    string  `json:"sql"`
	Params []Param `json:"params"`
}

// Param returns the bound parameter with the given name.
func (q Query) Param(name string) (Param, bool) {
	for _, p := range q.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Placeholders lists the distinct placeholder names in SQL order.
func (q Query) Placeholders() []string {
	var names []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(q.SQL, -1) {
		if !slices.Contains(names, m[1]) {
			names = append(names, m[1])
		}
	}
	return names
}

// Validate checks that every placeholder has exactly one well-typed
// parameter and that no parameter is unused.
func (q Query) Validate() error {
	if q.SQL == "" {
		return fmt.Errorf("warehouse: query %s: empty sql", q.Name)
	}
	seen := make(map[string]struct{}, len(q.Params))
	for _, p := range q.Params {
		if err := p.check(); err != nil {
			return fmt.Errorf("warehouse: query %s: %w", q.Name, err)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("warehouse: query %s: duplicate parameter %s", q.Name, p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	placeholders := q.Placeholders()
	for _, name := range placeholders {
		if _, ok := seen[name]; !ok {
			return fmt.Errorf("warehouse: query %s: placeholder @%s has no parameter", q.Name, name)
		}
	}
	for name := range seen {
		if !slices.Contains(placeholders, name) {
			return fmt.Errorf("warehouse: query %s: parameter %s is unused", q.Name, name)
		}
	}
	return nil
}
