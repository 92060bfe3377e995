package query

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mind-edu/mind-insights/internal/shared"
	"github.com/mind-edu/mind-insights/internal/warehouse"
)

// Metric is a time-series measure.
type Metric string

// Supported metrics.
const (
	MetricRequests     Metric = "requests"
	MetricErrorRate    Metric = "error_rate"
	MetricSubmissions  Metric = "submissions"
	MetricTokens       Metric = "tokens"
	MetricAverageScore Metric = "average_score"
	MetricPageViews    Metric = "page_views"
	MetricExceptions   Metric = "exceptions"
)

// Metrics lists every supported metric.
func Metrics() []Metric {
	return []Metric{MetricRequests, MetricErrorRate, MetricSubmissions, MetricTokens, MetricAverageScore, MetricPageViews, MetricExceptions}
}

// ParseMetric validates a metric name.
func ParseMetric(raw string) (Metric, error) {
	m := Metric(strings.ToLower(raw))
	if slices.Contains(Metrics(), m) {
		return m, nil
	}
	return "", fmt.Errorf("%w: metric %q", ErrInvalidArgument, raw)
}

// Product analytics event names.
const (
	eventPageView  = "$pageview"
	eventException = "$exception"
	eventRageClick = "$rageclick"
	eventWebVitals = "$web_vitals"
)

// USDPerMillionTokens is the flat rate used for the model cost estimate.
const USDPerMillionTokens = 15.0

const isError = "CASE WHEN t.derived_is_error THEN 1.0 ELSE 0.0 END"

// TimeSeries buckets a metric over the trailing window. The window start is
// bound as a TIMESTAMP; a narrower Since filter wins.
func (b *Builder) TimeSeries(s Scope, m Metric, iv Interval, window time.Duration) (warehouse.Query, error) {
	if window <= 0 {
		return warehouse.Query{}, fmt.Errorf("%w: window %s", ErrInvalidArgument, window)
	}
	if _, err := ParseInterval(string(iv)); err != nil {
		return warehouse.Query{}, err
	}
	s, start := b.windowStart(s, window)

	p := &predicates{}
	var sql string
	switch m {
	case MetricRequests, MetricErrorRate, MetricTokens:
		if err := telemetryScope(s, p, "t.created_at"); err != nil {
			return warehouse.Query{}, err
		}
		p.add("t.created_at >= @window_start", warehouse.Timestamp("window_start", start))
		value := map[Metric]string{
			MetricRequests:  "COUNT(*)",
			MetricErrorRate: "100.0 * AVG(" + isError + ")",
			MetricTokens:    "SUM(COALESCE(t.derived_ai_total_tokens, 0))",
		}[m]
		bucket := b.dialect.Bucket("t.created_at", iv)
		sql = "SELECT " + bucket + " AS bucket, " + value + " AS value FROM " + b.table("backend_telemetry") + " t" +
			p.where() + " GROUP BY " + bucket + " ORDER BY bucket"
	case MetricSubmissions, MetricAverageScore:
		if err := gradeScope(s, p); err != nil {
			return warehouse.Query{}, err
		}
		p.add("g.timestamp >= @window_start", warehouse.Timestamp("window_start", start))
		value := "COUNT(*)"
		if m == MetricAverageScore {
			value = "AVG(g.final_score)"
		}
		bucket := b.dialect.Bucket("g.timestamp", iv)
		sql = "SELECT " + bucket + " AS bucket, " + value + " AS value" + b.gradesFrom() +
			p.where() + " GROUP BY " + bucket + " ORDER BY bucket"
	case MetricPageViews, MetricExceptions:
		if err := telemetryScope(s, p, "e.timestamp"); err != nil {
			return warehouse.Query{}, err
		}
		event := eventPageView
		if m == MetricExceptions {
			event = eventException
		}
		p.add("e.event = @event", warehouse.String("event", event))
		p.add("e.timestamp >= @window_start", warehouse.Timestamp("window_start", start))
		bucket := b.dialect.Bucket("e.timestamp", iv)
		sql = "SELECT " + bucket + " AS bucket, COUNT(*) AS value FROM " + b.table("events") + " e" +
			p.where() + " GROUP BY " + bucket + " ORDER BY bucket"
	default:
		return warehouse.Query{}, fmt.Errorf("%w: metric %q", ErrInvalidArgument, m)
	}
	return build(fmt.Sprintf("timeseries_%s_%s", m, iv), sql, p.params), nil
}

// windowStart resolves the start of a trailing window and clears the Since
// filter it absorbed.
func (b *Builder) windowStart(s Scope, window time.Duration) (Scope, time.Time) {
	start := b.now().UTC().Add(-window)
	if s.Filters.Since.After(start) {
		start = s.Filters.Since.UTC()
	}
	s.Filters.Since = time.Time{}
	return s, start
}

// TraceLookup returns every span of one trace in time order.
func (b *Builder) TraceLookup(s Scope, traceID string) (warehouse.Query, error) {
	traceID = strings.TrimSpace(traceID)
	if traceID == "" {
		return warehouse.Query{}, fmt.Errorf("%w: trace id required", ErrInvalidArgument)
	}
	if !s.Telemetry {
		return warehouse.Query{}, fmt.Errorf("query: trace lookup: %w", shared.ErrAccessDenied)
	}
	p := &predicates{}
	p.add("t.trace_id = @trace_id", warehouse.String("trace_id", traceID))
	sql := "SELECT t.created_at AS created_at, t.trace_id AS trace_id, t.span_id AS span_id, t.service_name AS service_name, " +
		"t.http_route AS http_route, t.http_method AS http_method, t.http_status_code AS http_status_code, " +
		"t.derived_response_time_ms AS response_time_ms, t.derived_is_error AS is_error, " +
		"t.derived_ai_model AS ai_model, t.derived_ai_total_tokens AS ai_total_tokens FROM " +
		b.table("backend_telemetry") + " t" + p.where() + " ORDER BY t.created_at ASC"
	return build("trace_lookup", sql, p.params), nil
}

// LatencyTarget selects global or per-route latency percentiles.
type LatencyTarget string

// Latency targets.
const (
	LatencyGlobal LatencyTarget = "global"
	LatencyRoute  LatencyTarget = "route"
)

// DefaultPercentiles are reported when none are requested.
var DefaultPercentiles = []int{50, 95, 99}

// PercentileLatency reports response-time percentiles. The quantile function
// belongs to the dialect; the builder only picks the column and grouping.
func (b *Builder) PercentileLatency(s Scope, target LatencyTarget, percentiles []int) (warehouse.Query, error) {
	if len(percentiles) == 0 {
		percentiles = DefaultPercentiles
	}
	for _, pc := range percentiles {
		if pc < 1 || pc > 99 {
			return warehouse.Query{}, fmt.Errorf("%w: percentile %d", ErrInvalidArgument, pc)
		}
	}
	percentiles = slices.Compact(slices.Sorted(slices.Values(percentiles)))
	var groups []string
	inner := "SELECT t.derived_response_time_ms AS v"
	switch target {
	case LatencyGlobal:
	case LatencyRoute:
		inner += ", t.http_route AS route"
		groups = []string{"route"}
	default:
		return warehouse.Query{}, fmt.Errorf("%w: latency target %q", ErrInvalidArgument, target)
	}
	p := &predicates{}
	if err := telemetryScope(s, p, "t.created_at"); err != nil {
		return warehouse.Query{}, err
	}
	p.add("t.derived_response_time_ms IS NOT NULL")
	inner += " FROM " + b.table("backend_telemetry") + " t" + p.where()
	return build("latency_percentiles_"+string(target), b.dialect.Percentiles(inner, groups, percentiles), p.params), nil
}

// StatusCodes counts requests per HTTP status.
func (b *Builder) StatusCodes(s Scope) (warehouse.Query, error) {
	p := &predicates{}
	if err := telemetryScope(s, p, "t.created_at"); err != nil {
		return warehouse.Query{}, err
	}
	sql := "SELECT t.http_status_code AS status_code, COUNT(*) AS requests FROM " + b.table("backend_telemetry") + " t" +
		p.where() + " GROUP BY t.http_status_code ORDER BY requests DESC, status_code ASC"
	return build("status_codes", sql, p.params), nil
}

// RoutePerformance summarises traffic, latency and errors per route.
func (b *Builder) RoutePerformance(s Scope) (warehouse.Query, error) {
	p := &predicates{}
	if err := telemetryScope(s, p, "t.created_at"); err != nil {
		return warehouse.Query{}, err
	}
	sql := "SELECT t.http_route AS route, COUNT(*) AS requests, AVG(t.derived_response_time_ms) AS avg_latency_ms, " +
		"MAX(t.derived_response_time_ms) AS max_latency_ms, 100.0 * AVG(" + isError + ") AS error_rate FROM " +
		b.table("backend_telemetry") + " t" + p.where() +
		" GROUP BY t.http_route ORDER BY requests DESC, route ASC LIMIT @limit"
	params := append(p.params, warehouse.Int64("limit", int64(s.limit(25))))
	return build("route_performance", sql, params), nil
}

// RecentTraces lists the newest traces with their span count.
func (b *Builder) RecentTraces(s Scope) (warehouse.Query, error) {
	p := &predicates{}
	if err := telemetryScope(s, p, "t.created_at"); err != nil {
		return warehouse.Query{}, err
	}
	sql := "SELECT t.trace_id AS trace_id, MIN(t.created_at) AS started_at, COUNT(*) AS spans, " +
		"MAX(t.http_route) AS route, MAX(t.derived_response_time_ms) AS max_latency_ms, " +
		"MAX(CASE WHEN t.derived_is_error THEN 1 ELSE 0 END) AS has_error FROM " +
		b.table("backend_telemetry") + " t" + p.where() +
		" GROUP BY t.trace_id ORDER BY started_at DESC, trace_id ASC LIMIT @limit"
	params := append(p.params, warehouse.Int64("limit", int64(s.limit(20))))
	return build("recent_traces", sql, params), nil
}

// ModelUsage totals tokens per AI model with a flat cost estimate.
func (b *Builder) ModelUsage(s Scope) (warehouse.Query, error) {
	p := &predicates{}
	if err := telemetryScope(s, p, "t.created_at"); err != nil {
		return warehouse.Query{}, err
	}
	p.add("t.derived_ai_model IS NOT NULL")
	p.add("t.derived_ai_model <> ''")
	sql := "SELECT t.derived_ai_model AS model, COUNT(*) AS calls, " +
		"SUM(COALESCE(t.derived_ai_input_tokens, 0)) AS input_tokens, " +
		"SUM(COALESCE(t.derived_ai_output_tokens, 0)) AS output_tokens, " +
		"SUM(COALESCE(t.derived_ai_total_tokens, 0)) AS total_tokens, " +
		"SUM(COALESCE(t.derived_ai_total_tokens, 0)) * @usd_per_million / 1000000.0 AS estimated_cost_usd FROM " +
		b.table("backend_telemetry") + " t" + p.where() +
		" GROUP BY t.derived_ai_model ORDER BY total_tokens DESC, model ASC"
	params := append(p.params, warehouse.Float64("usd_per_million", USDPerMillionTokens))
	return build("model_usage", sql, params), nil
}

// ServiceDistribution counts requests per emitting service.
func (b *Builder) ServiceDistribution(s Scope) (warehouse.Query, error) {
	return b.requestsBy(s, "service_distribution", "t.service_name", "service")
}

// EnvironmentDistribution counts requests per deployment environment.
func (b *Builder) EnvironmentDistribution(s Scope) (warehouse.Query, error) {
	return b.requestsBy(s, "environment_distribution", "t.deployment_environment", "environment")
}

func (b *Builder) requestsBy(s Scope, name, col, alias string) (warehouse.Query, error) {
	p := &predicates{}
	if err := telemetryScope(s, p, "t.created_at"); err != nil {
		return warehouse.Query{}, err
	}
	p.add(col + " IS NOT NULL")
	sql := "SELECT " + col + " AS " + alias + ", COUNT(*) AS requests FROM " + b.table("backend_telemetry") + " t" +
		p.where() + " GROUP BY " + col + " ORDER BY requests DESC, " + alias + " ASC"
	return build(name, sql, p.params), nil
}

// ErrorsByRoute counts failed requests per route.
func (b *Builder) ErrorsByRoute(s Scope) (warehouse.Query, error) {
	return b.errorsBy(s, "errors_by_route", "t.http_route", "route")
}

// ErrorsByStatus counts failed requests per HTTP status.
func (b *Builder) ErrorsByStatus(s Scope) (warehouse.Query, error) {
	return b.errorsBy(s, "errors_by_status", "t.http_status_code", "status_code")
}

func (b *Builder) errorsBy(s Scope, name, col, alias string) (warehouse.Query, error) {
	p := &predicates{}
	if err := telemetryScope(s, p, "t.created_at"); err != nil {
		return warehouse.Query{}, err
	}
	p.add("t.derived_is_error")
	sql := "SELECT " + col + " AS " + alias + ", COUNT(*) AS errors FROM " + b.table("backend_telemetry") + " t" +
		p.where() + " GROUP BY " + col + " ORDER BY errors DESC, " + alias + " ASC LIMIT @limit"
	params := append(p.params, warehouse.Int64("limit", int64(s.limit(10))))
	return build(name, sql, params), nil
}

// RecentErrors lists the newest failed spans.
func (b *Builder) RecentErrors(s Scope) (warehouse.Query, error) {
	p := &predicates{}
	if err := telemetryScope(s, p, "t.created_at"); err != nil {
		return warehouse.Query{}, err
	}
	p.add("t.derived_is_error")
	sql := "SELECT t.created_at AS created_at, t.trace_id AS trace_id, t.service_name AS service_name, " +
		"t.http_route AS http_route, t.http_status_code AS http_status_code, " +
		"t.derived_response_time_ms AS response_time_ms FROM " + b.table("backend_telemetry") + " t" +
		p.where() + " ORDER BY t.created_at DESC, t.span_id ASC LIMIT @limit"
	params := append(p.params, warehouse.Int64("limit", int64(s.limit(50))))
	return build("recent_errors", sql, params), nil
}
