package query

import (
	"time"

	"github.com/mind-edu/mind-insights/internal/warehouse"
)

// Builder produces query descriptors for one warehouse dialect. It never
// executes or retries anything.
type Builder struct {
	dialect Dialect
	now     func() time.Time
}

// NewBuilder constructs a Builder. A nil clock uses time.Now.
func NewBuilder(dialect Dialect, now func() time.Time) *Builder {
	if now == nil {
		now = time.Now
	}
	return &Builder{dialect: dialect, now: now}
}

// Dialect exposes the dialect in use.
func (b *Builder) Dialect() Dialect {
	return b.dialect
}

func (b *Builder) table(name string) string {
	return b.dialect.Table(name)
}

// gradesFrom joins grades with the learner table.
func (b *Builder) gradesFrom() string {
	return " FROM " + b.table("grades") + " g LEFT JOIN " + b.table("user") + " u ON u.user_id = g.user_id"
}

func build(name, sql string, params []warehouse.Param) warehouse.Query {
	if params == nil {
		params = []warehouse.Param{}
	}
	return warehouse.Query{Name: name, SQL: sql, Params: params}
}
