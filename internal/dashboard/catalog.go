package dashboard

import (
	"fmt"
	"time"

	"github.com/mind-edu/mind-insights/internal/analytics"
	"github.com/mind-edu/mind-insights/internal/query"
	"github.com/mind-edu/mind-insights/internal/warehouse"
)

// Catalog maps widget ids to widgets.
type Catalog map[string]analytics.Widget

// Widgets resolves ids in order.
func (c Catalog) Widgets(ids []string) ([]analytics.Widget, error) {
	out := make([]analytics.Widget, 0, len(ids))
	for _, id := range ids {
		w, ok := c[id]
		if !ok {
			return nil, fmt.Errorf("dashboard: unknown widget %q", id)
		}
		out = append(out, w)
	}
	return out, nil
}

const (
	trendWindow  = 30 * 24 * time.Hour
	hourlyWindow = 48 * time.Hour
	weeklyWindow = 12 * 7 * 24 * time.Hour
	topLimit     = 10

	hintLearner = "Select a learner to see this view."
	hintTrace   = "Enter a trace id to inspect its spans."
)

func metric(id, title, column, unit string, digits int, build analytics.BuildFunc) analytics.Widget {
	return analytics.Widget{
		ID:      id,
		Title:   title,
		Display: analytics.DisplayMetric,
		Metric:  &analytics.MetricSpec{Column: column, Unit: unit, Digits: digits},
		Build:   build,
	}
}

func chart(id, title string, req analytics.ChartRequest, build analytics.BuildFunc) analytics.Widget {
	req.Title = title
	return analytics.Widget{ID: id, Title: title, Display: analytics.DisplayChart, Chart: &req, Build: build}
}

func table(id, title string, columns []string, build analytics.BuildFunc) analytics.Widget {
	return analytics.Widget{ID: id, Title: title, Display: analytics.DisplayTable, Columns: columns, Build: build}
}

func series(m query.Metric, iv query.Interval, window time.Duration) analytics.BuildFunc {
	return func(b *query.Builder, s query.Scope) (warehouse.Query, error) {
		return b.TimeSeries(s, m, iv, window)
	}
}

func grouped(key query.GroupKey) analytics.BuildFunc {
	return func(b *query.Builder, s query.Scope) (warehouse.Query, error) {
		return b.AggregatePerformanceByGroup(s, key)
	}
}

func latency(target query.LatencyTarget) analytics.BuildFunc {
	return func(b *query.Builder, s query.Scope) (warehouse.Query, error) {
		return b.PercentileLatency(s, target, query.DefaultPercentiles)
	}
}

func lineOver(y string) analytics.ChartRequest {
	return analytics.ChartRequest{Kind: analytics.ChartLine, X: "bucket", Y: []string{y}}
}

// DefaultCatalog returns every built-in widget.
func DefaultCatalog() Catalog {
	classSummary := func(b *query.Builder, s query.Scope) (warehouse.Query, error) { return b.ClassSummary(s) }
	standing := func(b *query.Builder, s query.Scope) (warehouse.Query, error) { return b.LearnerStanding(s) }
	progress := func(b *query.Builder, s query.Scope) (warehouse.Query, error) { return b.LearnerProgress(s) }
	modelUsage := func(b *query.Builder, s query.Scope) (warehouse.Query, error) { return b.ModelUsage(s) }
	sessions := func(b *query.Builder, s query.Scope) (warehouse.Query, error) { return b.SessionSummary(s, trendWindow) }
	caseStudies := func(b *query.Builder, s query.Scope) (warehouse.Query, error) { return b.LearnerCaseStudies(s) }
	errorFree := func(b *query.Builder, s query.Scope) (warehouse.Query, error) { return b.ErrorFreeSessionRate(s) }
	learnerCols := []string{"user_id", "name", "attempts", "avg_score"}

	widgets := []analytics.Widget{
		metric("class_learners", "Learners", "learners", "", 0, classSummary),
		metric("class_attempts", "Submissions", "attempts", "", 0, classSummary),
		metric("class_average", "Average score", "avg_score", "", 1, classSummary),
		metric("class_min", "Lowest score", "min_score", "", 1, classSummary),
		metric("class_max", "Highest score", "max_score", "", 1, classSummary),
		chart("grade_distribution", "Grade distribution",
			analytics.ChartRequest{Kind: analytics.ChartPie, X: "grade", Y: []string{"attempts"}},
			func(b *query.Builder, s query.Scope) (warehouse.Query, error) { return b.GradeDistribution(s) }),
		chart("submissions_trend", "Daily submissions", lineOver("value"), series(query.MetricSubmissions, query.Day, trendWindow)),
		chart("cohort_performance", "Performance by cohort",
			analytics.ChartRequest{Kind: analytics.ChartBar, X: "group_key", Y: []string{"avg_score"}}, grouped(query.GroupCohort)),
		chart("department_performance", "Performance by department",
			analytics.ChartRequest{Kind: analytics.ChartBar, X: "group_key", Y: []string{"avg_score"}}, grouped(query.GroupDepartment)),
		chart("role_performance", "Performance by role",
			analytics.ChartRequest{Kind: analytics.ChartBar, X: "group_key", Y: []string{"avg_score", "avg_communication", "avg_comprehension", "avg_critical_thinking"}},
			grouped(query.GroupRole)),
		table("top_performers", "Top performers", learnerCols, func(b *query.Builder, s query.Scope) (warehouse.Query, error) {
			return b.TopPerformers(s, topLimit)
		}),
		table("at_risk", "Learners at risk", learnerCols, func(b *query.Builder, s query.Scope) (warehouse.Query, error) {
			threshold := s.Filters.Threshold
			if threshold <= 0 {
				threshold = query.DefaultThreshold
			}
			return b.AtRiskRoster(s, threshold)
		}),
		chart("token_trend", "Daily AI tokens", lineOver("value"), series(query.MetricTokens, query.Day, trendWindow)),
		table("model_usage", "AI model usage", []string{"model", "total_tokens", "estimated_cost_usd"}, modelUsage),
		metric("active_users", "Active learners (30d)", "active_users", "", 0, sessions),
		metric("total_sessions", "Sessions (30d)", "sessions", "", 0, sessions),
		metric("avg_session_minutes", "Average session", "avg_duration_minutes", " min", 1, sessions),
		chart("daily_active_users", "Daily active learners", lineOver("active_users"),
			func(b *query.Builder, s query.Scope) (warehouse.Query, error) { return b.DailyActiveUsers(s, trendWindow) }),
		chart("session_engagement", "Session engagement",
			analytics.ChartRequest{Kind: analytics.ChartLine, X: "bucket", Y: []string{"sessions", "avg_duration_minutes"}},
			func(b *query.Builder, s query.Scope) (warehouse.Query, error) { return b.SessionEngagement(s, trendWindow) }),

		chart("request_trend", "Requests per hour", lineOver("value"), series(query.MetricRequests, query.Hour, hourlyWindow)),
		chart("error_rate_trend", "Error rate per hour (%)", lineOver("value"), series(query.MetricErrorRate, query.Hour, hourlyWindow)),
		chart("status_codes", "Status codes",
			analytics.ChartRequest{Kind: analytics.ChartBar, X: "status_code", Y: []string{"requests"}},
			func(b *query.Builder, s query.Scope) (warehouse.Query, error) { return b.StatusCodes(s) }),
		table("route_performance", "Route performance", []string{"route", "requests", "avg_latency_ms", "error_rate"},
			func(b *query.Builder, s query.Scope) (warehouse.Query, error) { return b.RoutePerformance(s) }),
		table("latency_global", "Latency percentiles (ms)", []string{"p50", "p95", "p99", "request_count"}, latency(query.LatencyGlobal)),
		chart("latency_routes", "Latency by route (ms)",
			analytics.ChartRequest{Kind: analytics.ChartBar, X: "route", Y: []string{"p50", "p95", "p99"}}, latency(query.LatencyRoute)),
		{
			ID:      "trace_lookup",
			Title:   "Trace lookup",
			Display: analytics.DisplayTable,
			Columns: []string{"created_at", "span_id", "http_route", "response_time_ms"},
			Hint:    hintTrace,
			Build: func(b *query.Builder, s query.Scope) (warehouse.Query, error) {
				return b.TraceLookup(s, s.Filters.TraceID)
			},
		},
		table("recent_traces", "Recent traces", []string{"trace_id", "started_at", "spans"},
			func(b *query.Builder, s query.Scope) (warehouse.Query, error) { return b.RecentTraces(s) }),
		chart("service_distribution", "Requests by service",
			analytics.ChartRequest{Kind: analytics.ChartBar, X: "service", Y: []string{"requests"}},
			func(b *query.Builder, s query.Scope) (warehouse.Query, error) { return b.ServiceDistribution(s) }),
		chart("environment_distribution", "Requests by environment",
			analytics.ChartRequest{Kind: analytics.ChartPie, X: "environment", Y: []string{"requests"}},
			func(b *query.Builder, s query.Scope) (warehouse.Query, error) { return b.EnvironmentDistribution(s) }),
		chart("errors_by_route", "Errors by route",
			analytics.ChartRequest{Kind: analytics.ChartBar, X: "route", Y: []string{"errors"}},
			func(b *query.Builder, s query.Scope) (warehouse.Query, error) { return b.ErrorsByRoute(s) }),
		chart("errors_by_status", "Errors by status code",
			analytics.ChartRequest{Kind: analytics.ChartBar, X: "status_code", Y: []string{"errors"}},
			func(b *query.Builder, s query.Scope) (warehouse.Query, error) { return b.ErrorsByStatus(s) }),
		table("recent_errors", "Recent errors", []string{"created_at", "service_name", "http_route", "http_status_code", "response_time_ms"},
			func(b *query.Builder, s query.Scope) (warehouse.Query, error) { return b.RecentErrors(s) }),
		chart("page_view_trend", "Page views per day", lineOver("value"), series(query.MetricPageViews, query.Day, trendWindow)),
		chart("exception_trend", "Exceptions per day", lineOver("value"), series(query.MetricExceptions, query.Day, trendWindow)),
		table("exception_rate", "Exception rate", []string{"bucket", "exceptions", "events", "exception_rate", "users_with_errors"},
			func(b *query.Builder, s query.Scope) (warehouse.Query, error) { return b.ExceptionRate(s) }),
		table("users_affected", "Users affected by errors", []string{"user_id", "exceptions", "error_types", "last_error"},
			func(b *query.Builder, s query.Scope) (warehouse.Query, error) { return b.UsersAffectedByErrors(s) }),
		table("error_types", "Error types", []string{"error_type", "error_message", "occurrences", "users_affected"},
			func(b *query.Builder, s query.Scope) (warehouse.Query, error) { return b.ErrorTypes(s) }),
		metric("error_free_rate", "Error-free sessions", "error_free_rate", "%", 1, errorFree),
		metric("sessions_with_errors", "Sessions with errors", "sessions_with_errors", "", 0, errorFree),
		table("rage_clicks", "Rage clicks", []string{"page_url", "rage_clicks", "users_frustrated", "per_session"},
			func(b *query.Builder, s query.Scope) (warehouse.Query, error) { return b.RageClicks(s) }),
		chart("web_vitals", "Web vitals (s)",
			analytics.ChartRequest{Kind: analytics.ChartLine, X: "bucket", Y: []string{"lcp_seconds", "fcp_seconds"}},
			func(b *query.Builder, s query.Scope) (warehouse.Query, error) { return b.WebVitals(s) }),

		table("student_roster", "Students", learnerCols, func(b *query.Builder, s query.Scope) (warehouse.Query, error) {
			return b.StudentRoster(s)
		}),
		table("improvement", "Improvement tracking", []string{"user_id", "attempts", "improvement"},
			func(b *query.Builder, s query.Scope) (warehouse.Query, error) { return b.ImprovementTracking(s) }),
		chart("case_study_performance", "Case study performance",
			analytics.ChartRequest{Kind: analytics.ChartBar, X: "title", Y: []string{"avg_score"}},
			func(b *query.Builder, s query.Scope) (warehouse.Query, error) { return b.CaseStudyPerformance(s) }),
		chart("rubric_heatmap", "Rubric scores by case study",
			analytics.ChartRequest{Kind: analytics.ChartHeatmap, X: "title", Y: []string{"avg_communication", "avg_comprehension", "avg_critical_thinking"}},
			func(b *query.Builder, s query.Scope) (warehouse.Query, error) { return b.CaseStudyPerformance(s) }),
		chart("weekly_average", "Weekly average score", lineOver("value"), series(query.MetricAverageScore, query.Week, weeklyWindow)),

		metric("own_average", "My average", "own_avg", "", 1, standing),
		metric("percentile_rank", "Percentile rank", "percentile_rank", "%", 0, standing),
		metric("own_attempts", "My submissions", "own_attempts", "", 0, standing),
		chart("standing", "Me vs class",
			analytics.ChartRequest{Kind: analytics.ChartRadar, X: "own_avg", Y: []string{"own_communication", "own_comprehension", "own_critical_thinking", "class_avg"}},
			standing),
		chart("progress_trend", "Score over time",
			analytics.ChartRequest{Kind: analytics.ChartLine, X: "attempted_at", Y: []string{"final_score"}}, progress),
		table("progress_table", "Submissions", []string{"attempted_at", "title", "final_score"}, progress),
		table("my_case_studies", "My case studies", []string{"title", "attempts", "avg_score", "best_score", "last_attempt"}, caseStudies),
		chart("best_scores", "Best score by case study",
			analytics.ChartRequest{Kind: analytics.ChartBar, X: "title", Y: []string{"best_score", "avg_score"}}, caseStudies),
		chart("learner_progress", "Learner progress",
			analytics.ChartRequest{Kind: analytics.ChartLine, X: "attempted_at", Y: []string{"final_score"}}, progress),
	}

	c := make(Catalog, len(widgets))
	for _, w := range widgets {
		if w.Hint == "" && needsLearner(w.ID) {
			w.Hint = hintLearner
		}
		c[w.ID] = w
	}
	return c
}

func needsLearner(id string) bool {
	switch id {
	case "learner_progress", "progress_trend", "progress_table", "standing", "own_average", "percentile_rank", "own_attempts",
		"my_case_studies", "best_scores":
		return true
	}
	return false
}

// Validate checks every widget.
func (c Catalog) Validate() error {
	for id, w := range c {
		if id != w.ID {
			return fmt.Errorf("dashboard: catalog key %q holds widget %q", id, w.ID)
		}
		if err := w.Validate(); err != nil {
			return err
		}
	}
	return nil
}
