package analytics

import (
	"strconv"
	"strings"

	"github.com/mind-edu/mind-insights/internal/warehouse"
)

// Unavailable is shown for NULL values.
const Unavailable = "N/A"

var timeColumns = map[string]struct{}{
	"bucket":        {},
	"timestamp":     {},
	"created_at":    {},
	"start_time":    {},
	"end_time":      {},
	"last_attempt":  {},
	"first_attempt": {},
	"first_error":   {},
	"last_error":    {},
}

// IsTimeColumn reports whether a column carries timestamps. SQLite returns
// them as unix seconds, so the name decides how they are shown.
func IsTimeColumn(name string) bool {
	if _, ok := timeColumns[name]; ok {
		return true
	}
	return strings.HasSuffix(name, "_at")
}

// Cell formats one value for tables and exports.
func Cell(row warehouse.Row, col string) string {
	if row[col] == nil {
		return Unavailable
	}
	if IsTimeColumn(col) {
		if t := row.Time(col); t.Valid {
			return t.Time.Format("2006-01-02 15:04")
		}
	}
	switch v := row[col].(type) {
	case float64:
		if f := row.Float(col); !f.Valid {
			return Unavailable
		}
		return strconv.FormatFloat(v, 'f', 2, 64)
	case bool:
		if v {
			return "yes"
		}
		return "no"
	}
	return row.String(col).String
}

// Label formats an axis label.
func Label(row warehouse.Row, col string) string {
	if IsTimeColumn(col) {
		if t := row.Time(col); t.Valid {
			if t.Time.Hour() == 0 && t.Time.Minute() == 0 {
				return t.Time.Format("02 Jan")
			}
			return t.Time.Format("02 Jan 15:04")
		}
	}
	if s := row.String(col); s.Valid {
		return s.String
	}
	return Unavailable
}
