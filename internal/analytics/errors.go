package analytics

import "fmt"

// DataShapeError reports a result that lacks a column the widget needs.
type DataShapeError struct {
	Widget string
	Column string
}

func (e *DataShapeError) Error() string {
	return fmt.Sprintf("analytics: widget %s: result has no column %q", e.Widget, e.Column)
}

func checkShape(w Widget, columns []string) error {
	have := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		have[c] = struct{}{}
	}
	for _, c := range w.Required() {
		if _, ok := have[c]; !ok {
			return &DataShapeError{Widget: w.ID, Column: c}
		}
	}
	return nil
}
