package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mind-edu/mind-insights/internal/warehouse"
)

// Interval is a time-series bucket width.
type Interval string

// Supported intervals.
const (
	Hour Interval = "hour"
	Day  Interval = "day"
	Week Interval = "week"
)

// ParseInterval validates an interval name.
func ParseInterval(raw string) (Interval, error) {
	switch iv := Interval(strings.ToLower(raw)); iv {
	case Hour, Day, Week:
		return iv, nil
	}
	return "", fmt.Errorf("%w: interval %q", ErrInvalidArgument, raw)
}

// Dialect renders the warehouse-specific fragments of a query. Every method
// receives trusted identifiers and placeholders only.
type Dialect interface {
	Name() string
	// Table returns the qualified reference of a canonical table.
	Table(name string) string
	// Bucket truncates a timestamp column to the interval.
	Bucket(col string, iv Interval) string
	// Contains tests whether haystack contains the bound needle.
	Contains(haystack, needle string) string
	// JSONString extracts a top-level key of a JSON text column as text.
	JSONString(col, key string) string
	// JSONNumber extracts a top-level key as a float, NULL when absent.
	JSONNumber(col, key string) string
	// Percentiles wraps an inner select exposing column v (and the group
	// columns) into one row per group with p<N> columns and request_count.
	Percentiles(inner string, groups []string, percentiles []int) string
}

// DialectFor returns the dialect of a warehouse driver.
func DialectFor(driver, project, dataset string) (Dialect, error) {
	switch driver {
	case warehouse.DriverBigQuery:
		if project == "" || dataset == "" {
			return nil, fmt.Errorf("query: bigquery dialect requires project and dataset")
		}
		return BigQuery{Project: project, Dataset: dataset}, nil
	case warehouse.DriverPostgres:
		return Postgres{Schema: dataset}, nil
	case warehouse.DriverSQLite:
		return SQLite{}, nil
	default:
		return nil, fmt.Errorf("query: no dialect for driver %q", driver)
	}
}

// BigQuery is the GoogleSQL dialect.
type BigQuery struct {
	Project string
	Dataset string
}

func (BigQuery) Name() string { return warehouse.DriverBigQuery }

func (d BigQuery) Table(name string) string {
	return "`" + d.Project + "." + d.Dataset + "." + name + "`"
}

func (BigQuery) Bucket(col string, iv Interval) string {
	switch iv {
	case Hour:
		return "TIMESTAMP_TRUNC(" + col + ", HOUR)"
	case Week:
		return "TIMESTAMP_TRUNC(" + col + ", WEEK(MONDAY))"
	default:
		return "TIMESTAMP_TRUNC(" + col + ", DAY)"
	}
}

func (BigQuery) Contains(haystack, needle string) string {
	return "STRPOS(LOWER(" + haystack + "), LOWER(" + needle + ")) > 0"
}

func (BigQuery) JSONString(col, key string) string {
	return "JSON_VALUE(" + col + ", '$.\"" + key + "\"')"
}

func (d BigQuery) JSONNumber(col, key string) string {
	return "SAFE_CAST(" + d.JSONString(col, key) + " AS FLOAT64)"
}

func (BigQuery) Percentiles(inner string, groups []string, percentiles []int) string {
	cols := make([]string, 0, len(groups)+len(percentiles)+1)
	cols = append(cols, groups...)
	for _, p := range percentiles {
		cols = append(cols, fmt.Sprintf("APPROX_QUANTILES(v, 100)[OFFSET(%d)] AS p%d", p, p))
	}
	cols = append(cols, "COUNT(*) AS request_count")
	sql := "SELECT " + strings.Join(cols, ", ") + " FROM (" + inner + ")"
	return sql + groupAndOrder(groups)
}

// Postgres is the PostgreSQL dialect; the dataset maps to a schema.
type Postgres struct {
	Schema string
}

func (Postgres) Name() string { return warehouse.DriverPostgres }

func (d Postgres) Table(name string) string {
	schema := d.Schema
	if schema == "" {
		schema = "public"
	}
	return quote(schema) + "." + quote(name)
}

func (Postgres) Bucket(col string, iv Interval) string {
	return "date_trunc('" + string(normalInterval(iv)) + "', " + col + ")"
}

func (Postgres) Contains(haystack, needle string) string {
	return "strpos(lower(" + haystack + "), lower(" + needle + ")) > 0"
}

func (Postgres) JSONString(col, key string) string {
	return "(" + col + "::jsonb ->> '" + key + "')"
}

func (d Postgres) JSONNumber(col, key string) string {
	return "CAST(NULLIF(" + d.JSONString(col, key) + ", '') AS double precision)"
}

func (Postgres) Percentiles(inner string, groups []string, percentiles []int) string {
	cols := make([]string, 0, len(groups)+len(percentiles)+1)
	cols = append(cols, groups...)
	for _, p := range percentiles {
		cols = append(cols, fmt.Sprintf("percentile_cont(%s) WITHIN GROUP (ORDER BY v) AS p%d", fraction(p), p))
	}
	cols = append(cols, "COUNT(*) AS request_count")
	sql := "SELECT " + strings.Join(cols, ", ") + " FROM (" + inner + ") AS s"
	return sql + groupAndOrder(groups)
}

// SQLite is the embedded dialect; timestamps are unix seconds.
type SQLite struct{}

func (SQLite) Name() string { return warehouse.DriverSQLite }

func (SQLite) Table(name string) string { return quote(name) }

func (SQLite) Bucket(col string, iv Interval) string {
	switch iv {
	case Hour:
		return "((" + col + " / 3600) * 3600)"
	case Week:
		return "CAST(strftime('%s', date(" + col + ", 'unixepoch', '-6 days', 'weekday 1')) AS INTEGER)"
	default:
		return "((" + col + " / 86400) * 86400)"
	}
}

func (SQLite) Contains(haystack, needle string) string {
	return "instr(lower(" + haystack + "), lower(" + needle + ")) > 0"
}

func (SQLite) JSONString(col, key string) string {
	return "json_extract(" + col + ", '$.\"" + key + "\"')"
}

func (d SQLite) JSONNumber(col, key string) string {
	return "CAST(" + d.JSONString(col, key) + " AS REAL)"
}

// Percentiles uses the nearest-rank method over CUME_DIST since SQLite has
// no quantile aggregate: pN is the smallest v whose cumulative share of the
// group reaches N percent, so single values and ties resolve to themselves.
func (SQLite) Percentiles(inner string, groups []string, percentiles []int) string {
	partition := ""
	if len(groups) > 0 {
		partition = "PARTITION BY " + strings.Join(groups, ", ") + " "
	}
	ranked := "SELECT s.*, CUME_DIST() OVER (" + partition + "ORDER BY v) AS cd FROM (" + inner + ") AS s"
	cols := make([]string, 0, len(groups)+len(percentiles)+1)
	cols = append(cols, groups...)
	for _, p := range percentiles {
		cols = append(cols, fmt.Sprintf("MIN(CASE WHEN cd >= %s THEN v END) AS p%d", fraction(p), p))
	}
	cols = append(cols, "COUNT(*) AS request_count")
	sql := "WITH ranked AS (" + ranked + ") SELECT " + strings.Join(cols, ", ") + " FROM ranked"
	return sql + groupAndOrder(groups)
}

func groupAndOrder(groups []string) string {
	if len(groups) == 0 {
		return ""
	}
	return " GROUP BY " + strings.Join(groups, ", ") + " ORDER BY request_count DESC, " + strings.Join(groups, ", ")
}

func normalInterval(iv Interval) Interval {
	switch iv {
	case Hour, Week:
		return iv
	}
	return Day
}

func fraction(p int) string {
	return strconv.FormatFloat(float64(p)/100, 'f', 2, 64)
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
