package query

import (
	"github.com/mind-edu/mind-insights/internal/warehouse"
)

// Event property keys.
const (
	propSessionID        = "$session_id"
	propExceptionType    = "$exception_type"
	propExceptionMessage = "$exception_message"
	propLCP              = "$web_vitals_LCP_value"
	propFCP              = "$web_vitals_FCP_value"
	propINP              = "$web_vitals_INP_value"
	propCLS              = "$web_vitals_CLS_value"
)

func (b *Builder) eventsFrom() string {
	return " FROM " + b.table("events") + " e"
}

func (b *Builder) prop(key string) string {
	return b.dialect.JSONString("e.properties", key)
}

// eventScope guards product analytics and optionally pins one event name.
func eventScope(s Scope, event string) (*predicates, error) {
	p := &predicates{}
	if err := telemetryScope(s, p, "e.timestamp"); err != nil {
		return nil, err
	}
	if event != "" {
		p.add("e.event = @event", warehouse.String("event", event))
	}
	return p, nil
}

// ExceptionRate reports the daily share of events that are exceptions and
// how many users hit one.
func (b *Builder) ExceptionRate(s Scope) (warehouse.Query, error) {
	p, err := eventScope(s, "")
	if err != nil {
		return warehouse.Query{}, err
	}
	isException := "CASE WHEN e.event = @exception THEN 1 ELSE 0 END"
	bucket := b.dialect.Bucket("e.timestamp", Day)
	sql := "SELECT " + bucket + " AS bucket, SUM(" + isException + ") AS exceptions, COUNT(*) AS events, " +
		"100.0 * SUM(" + isException + ") / COUNT(*) AS exception_rate, COUNT(DISTINCT e.distinct_id) AS users, " +
		"COUNT(DISTINCT CASE WHEN e.event = @exception THEN e.distinct_id END) AS users_with_errors" +
		b.eventsFrom() + p.where() + " GROUP BY " + bucket + " ORDER BY bucket DESC"
	params := append(p.params, warehouse.String("exception", eventException))
	return build("exception_rate", sql, params), nil
}

// UsersAffectedByErrors ranks users by the exceptions they hit.
func (b *Builder) UsersAffectedByErrors(s Scope) (warehouse.Query, error) {
	p, err := eventScope(s, eventException)
	if err != nil {
		return warehouse.Query{}, err
	}
	sql := "SELECT e.distinct_id AS user_id, COUNT(*) AS exceptions, " +
		"COUNT(DISTINCT " + b.prop(propExceptionType) + ") AS error_types, " +
		"MIN(e.timestamp) AS first_error, MAX(e.timestamp) AS last_error" +
		b.eventsFrom() + p.where() +
		" GROUP BY e.distinct_id ORDER BY exceptions DESC, user_id ASC LIMIT @limit"
	params := append(p.params, warehouse.Int64("limit", int64(s.limit(100))))
	return build("users_affected_by_errors", sql, params), nil
}

// ErrorTypes groups exceptions by type and message.
func (b *Builder) ErrorTypes(s Scope) (warehouse.Query, error) {
	p, err := eventScope(s, eventException)
	if err != nil {
		return warehouse.Query{}, err
	}
	errType, errMessage := b.prop(propExceptionType), b.prop(propExceptionMessage)
	sql := "SELECT " + errType + " AS error_type, " + errMessage + " AS error_message, COUNT(*) AS occurrences, " +
		"COUNT(DISTINCT e.distinct_id) AS users_affected, COUNT(DISTINCT " + b.prop(propSessionID) + ") AS sessions_affected" +
		b.eventsFrom() + p.where() + " GROUP BY " + errType + ", " + errMessage +
		" ORDER BY occurrences DESC, error_type ASC LIMIT @limit"
	params := append(p.params, warehouse.Int64("limit", int64(s.limit(50))))
	return build("error_types", sql, params), nil
}

// ErrorFreeSessionRate reports in one row how many browser sessions saw no
// exception. Events without a session id are ignored.
func (b *Builder) ErrorFreeSessionRate(s Scope) (warehouse.Query, error) {
	p, err := eventScope(s, "")
	if err != nil {
		return warehouse.Query{}, err
	}
	session := b.prop(propSessionID)
	p.add(session + " IS NOT NULL")
	perSession := "SELECT " + session + " AS session_id, MAX(CASE WHEN e.event = @exception THEN 1 ELSE 0 END) AS had_error" +
		b.eventsFrom() + p.where() + " GROUP BY " + session
	sql := "WITH per_session AS (" + perSession + ") SELECT COUNT(*) AS total_sessions, " +
		"COALESCE(SUM(had_error), 0) AS sessions_with_errors, COUNT(*) - COALESCE(SUM(had_error), 0) AS error_free_sessions, " +
		"100.0 * (COUNT(*) - COALESCE(SUM(had_error), 0)) / NULLIF(COUNT(*), 0) AS error_free_rate FROM per_session"
	params := append(p.params, warehouse.String("exception", eventException))
	return build("error_free_session_rate", sql, params), nil
}

// RageClicks ranks pages by rage clicks.
func (b *Builder) RageClicks(s Scope) (warehouse.Query, error) {
	p, err := eventScope(s, eventRageClick)
	if err != nil {
		return warehouse.Query{}, err
	}
	session := b.prop(propSessionID)
	sql := "SELECT e.current_url AS page_url, COUNT(*) AS rage_clicks, COUNT(DISTINCT e.distinct_id) AS users_frustrated, " +
		"COUNT(DISTINCT " + session + ") AS sessions, 1.0 * COUNT(*) / NULLIF(COUNT(DISTINCT " + session + "), 0) AS per_session" +
		b.eventsFrom() + p.where() + " GROUP BY e.current_url ORDER BY rage_clicks DESC, page_url ASC LIMIT @limit"
	params := append(p.params, warehouse.Int64("limit", int64(s.limit(50))))
	return build("rage_clicks", sql, params), nil
}

// WebVitals averages the core web vitals per day. LCP and FCP are reported
// in seconds, INP in milliseconds and CLS as a score.
func (b *Builder) WebVitals(s Scope) (warehouse.Query, error) {
	p, err := eventScope(s, eventWebVitals)
	if err != nil {
		return warehouse.Query{}, err
	}
	num := func(key string) string { return b.dialect.JSONNumber("e.properties", key) }
	bucket := b.dialect.Bucket("e.timestamp", Day)
	sql := "SELECT " + bucket + " AS bucket, AVG(" + num(propLCP) + ") / 1000.0 AS lcp_seconds, " +
		"AVG(" + num(propFCP) + ") / 1000.0 AS fcp_seconds, AVG(" + num(propINP) + ") AS inp_ms, " +
		"AVG(" + num(propCLS) + ") AS cls, COUNT(*) AS samples" +
		b.eventsFrom() + p.where() + " GROUP BY " + bucket + " ORDER BY bucket"
	return build("web_vitals", sql, p.params), nil
}
