package warehouse

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/volatiletech/null/v8"
)

// Row maps column names to scalar values: string, int64, float64, bool,
// time.Time or nil.
type Row map[string]any

// Result is an ordered tabular result.
type Result struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// Empty reports whether the result has no rows.
func (r Result) Empty() bool {
	return len(r.Rows) == 0
}

// HasColumn reports whether the column is part of the result.
func (r Result) HasColumn(name string) bool {
	for _, c := range r.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Column returns the values of one column in row order.
func (r Result) Column(name string) []any {
	out := make([]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		out = append(out, row[name])
	}
	return out
}

// Float reads a numeric column. Missing and NULL values are invalid, never
// zero.
func (row Row) Float(col string) null.Float64 {
	switch v := row[col].(type) {
	case float64:
		if math.IsNaN(v) {
			return null.Float64{}
		}
		return null.Float64From(v)
	case float32:
		return null.Float64From(float64(v))
	case int64:
		return null.Float64From(float64(v))
	case int:
		return null.Float64From(float64(v))
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return null.Float64{}
		}
		return null.Float64From(f)
	default:
		return null.Float64{}
	}
}

// Int reads an integer column. Floats from a JSON round trip are accepted
// when they carry no fraction.
func (row Row) Int(col string) null.Int64 {
	switch v := row[col].(type) {
	case int64:
		return null.Int64From(v)
	case int:
		return null.Int64From(int64(v))
	case float64:
		if v != math.Trunc(v) {
			return null.Int64{}
		}
		return null.Int64From(int64(v))
	case string:
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return null.Int64{}
		}
		return null.Int64From(i)
	default:
		return null.Int64{}
	}
}

// String reads a column as text.
func (row Row) String(col string) null.String {
	switch v := row[col].(type) {
	case nil:
		return null.String{}
	case string:
		return null.StringFrom(v)
	case time.Time:
		return null.StringFrom(v.UTC().Format(time.RFC3339))
	case float64:
		return null.StringFrom(strconv.FormatFloat(v, 'f', -1, 64))
	default:
		return null.StringFrom(fmt.Sprint(v))
	}
}

// Time reads a timestamp column. RFC3339 strings (cached results) and unix
// seconds (SQLite) are accepted.
func (row Row) Time(col string) null.Time {
	switch v := row[col].(type) {
	case time.Time:
		return null.TimeFrom(v.UTC())
	case int64:
		return null.TimeFrom(time.Unix(v, 0).UTC())
	case float64:
		return null.TimeFrom(time.Unix(int64(v), 0).UTC())
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return null.TimeFrom(t.UTC())
			}
		}
		return null.Time{}
	default:
		return null.Time{}
	}
}

// Bool reads a boolean column; integer 0/1 is accepted.
func (row Row) Bool(col string) null.Bool {
	switch v := row[col].(type) {
	case bool:
		return null.BoolFrom(v)
	case int64:
		return null.BoolFrom(v != 0)
	case float64:
		return null.BoolFrom(v != 0)
	default:
		return null.Bool{}
	}
}
