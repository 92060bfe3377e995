package query

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mind-edu/mind-insights/internal/identity"
	"github.com/mind-edu/mind-insights/internal/shared"
	"github.com/mind-edu/mind-insights/internal/warehouse"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testBuilder() *Builder {
	return NewBuilder(SQLite{}, func() time.Time { return fixedNow })
}

func facultyScope(f Filters) Scope {
	return NewScope(identity.Identity{
		Key:         "faculty@mind.edu",
		Role:        identity.RoleFaculty,
		Departments: []string{"Computer Science", "Engineering"},
		Cohorts:     []string{"2024", "2025"},
	}, false, f)
}

func studentScope(learner string) Scope {
	return NewScope(identity.Identity{
		Key:         "student@mind.edu",
		Role:        identity.RoleStudent,
		Departments: []string{"Computer Science"},
		Cohorts:     []string{"2025"},
		LearnerID:   learner,
	}, false, Filters{})
}

func adminScope(f Filters) Scope {
	return NewScope(identity.Identity{
		Key:         "admin@mind.edu",
		Role:        identity.RoleAdmin,
		Departments: []string{identity.ScopeAll},
		Cohorts:     []string{identity.ScopeAll},
	}, true, f)
}

func TestStudentScopeIsForcedToLearner(t *testing.T) {
	s := studentScope("learner-1")
	// A student cannot widen the scope with UI selections.
	s.Filters = Filters{Department: "Business", Learner: "someone-else"}

	q, err := testBuilder().TopPerformers(s, 5)
	require.NoError(t, err)
	require.Contains(t, q.SQL, "g.user_id = @learner_id")
	require.NotContains(t, q.SQL, "@department")
	p, ok := q.Param("learner_id")
	require.True(t, ok)
	require.Equal(t, "learner-1", p.Value)
	require.NoError(t, q.Validate())
}

func TestStudentWithoutLearnerIsConfigurationError(t *testing.T) {
	_, err := testBuilder().ClassSummary(studentScope(""))
	require.ErrorIs(t, err, ErrUnboundLearner)
	require.ErrorIs(t, err, shared.ErrMisconfigured)
}

func TestFacultyScopeRestrictsToOwnLists(t *testing.T) {
	q, err := testBuilder().AggregatePerformanceByGroup(facultyScope(Filters{}), GroupCohort)
	require.NoError(t, err)
	require.Contains(t, q.SQL, "u.department IN (@department_0, @department_1)")
	require.Contains(t, q.SQL, "u.cohort IN (@cohort_0, @cohort_1)")
	p, _ := q.Param("department_1")
	require.Equal(t, "Engineering", p.Value)
	require.NoError(t, q.Validate())
}

func TestFacultySelectionOutsideScopeIsDenied(t *testing.T) {
	_, err := testBuilder().StudentRoster(facultyScope(Filters{Department: "Business"}))
	require.ErrorIs(t, err, shared.ErrAccessDenied)

	q, err := testBuilder().StudentRoster(facultyScope(Filters{Department: "Engineering"}))
	require.NoError(t, err)
	require.Contains(t, q.SQL, "u.department = @department")
}

func TestAdminIsUnrestricted(t *testing.T) {
	q, err := testBuilder().ClassSummary(adminScope(Filters{}))
	require.NoError(t, err)
	require.NotContains(t, q.SQL, "WHERE")
	require.Empty(t, q.Params)

	q, err = testBuilder().ClassSummary(adminScope(Filters{Cohort: "2024"}))
	require.NoError(t, err)
	require.Contains(t, q.SQL, "u.cohort = @cohort")
}

func TestTelemetryRequiresCapability(t *testing.T) {
	b := testBuilder()
	_, err := b.StatusCodes(facultyScope(Filters{}))
	require.ErrorIs(t, err, shared.ErrAccessDenied)
	_, err = b.TraceLookup(facultyScope(Filters{}), "abc")
	require.ErrorIs(t, err, shared.ErrAccessDenied)
	_, err = b.TimeSeries(facultyScope(Filters{}), MetricRequests, Day, 24*time.Hour)
	require.ErrorIs(t, err, shared.ErrAccessDenied)

	for _, build := range []func(Scope) (warehouse.Query, error){
		b.ServiceDistribution, b.ErrorsByStatus, b.RecentErrors, b.ErrorTypes, b.ErrorFreeSessionRate, b.WebVitals,
	} {
		_, err = build(facultyScope(Filters{}))
		require.ErrorIs(t, err, shared.ErrAccessDenied)
	}

	// Grade-derived series stay available to faculty.
	_, err = b.TimeSeries(facultyScope(Filters{}), MetricSubmissions, Day, 24*time.Hour)
	require.NoError(t, err)
}

func TestUserInputIsNeverInlined(t *testing.T) {
	hostile := []string{
		`'; DROP TABLE grades; --`,
		`" OR "1"="1`,
		`x' OR '1'='1`,
		`\'; SELECT 1; --`,
		"Robert'); DELETE FROM user;--",
	}
	b := testBuilder()
	for _, value := range hostile {
		scopes := []Scope{
			adminScope(Filters{Department: value, Cohort: value, Search: value, Learner: value, TraceID: value}),
			facultyScope(Filters{Search: value}),
			studentScope(value),
		}
		for _, s := range scopes {
			queries := buildAll(t, b, s)
			q, err := b.TraceLookup(adminScope(Filters{}), value)
			require.NoError(t, err)
			queries = append(queries, q)
			for _, q := range queries {
				require.NotContains(t, q.SQL, value, "query %s inlines user input", q.Name)
				require.NotContains(t, q.SQL, strings.TrimSpace(value))
				require.NoError(t, q.Validate(), q.Name)
			}
		}
	}
}

func buildAll(t *testing.T, b *Builder, s Scope) []warehouse.Query {
	t.Helper()
	var out []warehouse.Query
	add := func(q warehouse.Query, err error) {
		if err == nil {
			out = append(out, q)
		}
	}
	add(b.AggregatePerformanceByGroup(s, GroupDepartment))
	add(b.AtRiskRoster(s, 60))
	add(b.TopPerformers(s, 5))
	add(b.ClassSummary(s))
	add(b.GradeDistribution(s))
	add(b.CaseStudyPerformance(s))
	add(b.StudentRoster(s))
	add(b.ImprovementTracking(s))
	add(b.LearnerProgress(s))
	add(b.LearnerStanding(s))
	add(b.TimeSeries(s, MetricAverageScore, Week, 30*24*time.Hour))
	add(b.SessionSummary(s, 30*24*time.Hour))
	add(b.DailyActiveUsers(s, 30*24*time.Hour))
	add(b.SessionEngagement(s, 30*24*time.Hour))
	add(b.LearnerCaseStudies(s))
	for _, build := range []func(Scope) (warehouse.Query, error){
		b.ServiceDistribution, b.EnvironmentDistribution, b.ErrorsByRoute, b.ErrorsByStatus, b.RecentErrors,
		b.ExceptionRate, b.UsersAffectedByErrors, b.ErrorTypes, b.ErrorFreeSessionRate, b.RageClicks, b.WebVitals,
	} {
		add(build(s))
	}
	require.NotEmpty(t, out)
	return out
}

func TestAtRiskBindsThresholdAsFloat(t *testing.T) {
	q, err := testBuilder().AtRiskRoster(adminScope(Filters{}), 60)
	require.NoError(t, err)
	require.Contains(t, q.SQL, "< @threshold")
	p, ok := q.Param("threshold")
	require.True(t, ok)
	require.Equal(t, warehouse.TypeFloat64, p.Type)
	require.Equal(t, 60.0, p.Value)
}

func TestTopPerformersOrderingAndLimit(t *testing.T) {
	q, err := testBuilder().TopPerformers(adminScope(Filters{}), 10)
	require.NoError(t, err)
	require.Contains(t, q.SQL, "ORDER BY avg_score DESC, user_id ASC LIMIT @limit")
	p, _ := q.Param("limit")
	require.Equal(t, warehouse.TypeInt64, p.Type)
	require.Equal(t, int64(10), p.Value)

	_, err = testBuilder().TopPerformers(adminScope(Filters{}), 0)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestTimeSeriesBindsWindowStart(t *testing.T) {
	q, err := testBuilder().TimeSeries(adminScope(Filters{}), MetricErrorRate, Hour, 6*time.Hour)
	require.NoError(t, err)
	p, ok := q.Param("window_start")
	require.True(t, ok)
	require.Equal(t, warehouse.TypeTimestamp, p.Type)
	require.Equal(t, fixedNow.Add(-6*time.Hour), p.Value)

	_, err = testBuilder().TimeSeries(adminScope(Filters{}), Metric("latency"), Hour, time.Hour)
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = testBuilder().TimeSeries(adminScope(Filters{}), MetricRequests, Interval("month"), time.Hour)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestTraceLookupOrdersByCreation(t *testing.T) {
	q, err := testBuilder().TraceLookup(adminScope(Filters{}), "trace-1")
	require.NoError(t, err)
	require.Contains(t, q.SQL, "t.trace_id = @trace_id")
	require.True(t, strings.HasSuffix(q.SQL, "ORDER BY t.created_at ASC"))

	_, err = testBuilder().TraceLookup(adminScope(Filters{}), "  ")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDialectsRenderPercentiles(t *testing.T) {
	cases := map[string]struct {
		dialect Dialect
		want    string
	}{
		"bigquery": {BigQuery{Project: "p", Dataset: "d"}, "APPROX_QUANTILES(v, 100)[OFFSET(95)] AS p95"},
		"postgres": {Postgres{}, "percentile_cont(0.95) WITHIN GROUP (ORDER BY v) AS p95"},
		"sqlite":   {SQLite{}, "MIN(CASE WHEN cd >= 0.95 THEN v END) AS p95"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			b := NewBuilder(tc.dialect, nil)
			q, err := b.PercentileLatency(adminScope(Filters{}), LatencyRoute, nil)
			require.NoError(t, err)
			require.Contains(t, q.SQL, tc.want)
			require.Contains(t, q.SQL, "GROUP BY route")
		})
	}
}

func TestDialectsExtractJSON(t *testing.T) {
	require.Equal(t, `JSON_VALUE(e.properties, '$."$session_id"')`, BigQuery{}.JSONString("e.properties", "$session_id"))
	require.Equal(t, `(e.properties::jsonb ->> '$session_id')`, Postgres{}.JSONString("e.properties", "$session_id"))
	require.Equal(t, `json_extract(e.properties, '$."$session_id"')`, SQLite{}.JSONString("e.properties", "$session_id"))
	require.Equal(t, `CAST(json_extract(e.properties, '$."k"') AS REAL)`, SQLite{}.JSONNumber("e.properties", "k"))
	require.Contains(t, BigQuery{}.JSONNumber("e.properties", "k"), "SAFE_CAST(")
}

func TestSessionQueriesFollowLearnerScope(t *testing.T) {
	b := testBuilder()
	q, err := b.DailyActiveUsers(facultyScope(Filters{}), 7*24*time.Hour)
	require.NoError(t, err)
	require.Contains(t, q.SQL, "u.department IN (@department_0, @department_1)")
	require.Contains(t, q.SQL, "se.start_time >= @window_start")
	require.NoError(t, q.Validate())

	q, err = b.SessionSummary(studentScope("learner-1"), 7*24*time.Hour)
	require.NoError(t, err)
	require.Contains(t, q.SQL, "se.user_id = @learner_id")

	_, err = b.LearnerCaseStudies(facultyScope(Filters{}))
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = b.LearnerCaseStudies(studentScope(""))
	require.ErrorIs(t, err, ErrUnboundLearner)
}

func TestDialectTables(t *testing.T) {
	require.Equal(t, "`proj.ds.grades`", BigQuery{Project: "proj", Dataset: "ds"}.Table("grades"))
	require.Equal(t, `"public"."user"`, Postgres{}.Table("user"))
	require.Equal(t, `"user"`, SQLite{}.Table("user"))

	d, err := DialectFor(warehouse.DriverBigQuery, "", "ds")
	require.Error(t, err)
	require.Nil(t, d)
}
