package analytics

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mind-edu/mind-insights/internal/warehouse"
)

func TestLearnersMapsNullAverage(t *testing.T) {
	res := warehouse.Result{
		Columns: []string{"user_id", "name", "attempts", "avg_score"},
		Rows: []warehouse.Row{
			{"user_id": "a", "name": "Ada", "attempts": int64(3), "avg_score": 41.0},
			{"user_id": "b", "name": nil, "attempts": 1.0, "avg_score": nil},
		},
	}
	rows, err := AtRisk(res)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, 41.0, rows[0].Average.Float64)
	require.False(t, rows[1].Average.Valid)
	require.False(t, rows[1].Name.Valid)
	require.EqualValues(t, 1, rows[1].Attempts)
}

func TestTypedHelpersRejectWrongShape(t *testing.T) {
	res := warehouse.Result{Columns: []string{"user_id"}, Rows: []warehouse.Row{{"user_id": "a"}}}
	_, err := TopPerformers(res)
	var shape *DataShapeError
	require.ErrorAs(t, err, &shape)
	require.Equal(t, "avg_score", shape.Column)

	_, err = Series(res)
	require.ErrorAs(t, err, &shape)
}

func TestLearnerStandingEmpty(t *testing.T) {
	s, err := LearnerStanding(warehouse.Result{})
	require.NoError(t, err)
	require.False(t, s.Own.Valid)
	require.False(t, s.PercentileRank.Valid)

	s, err = LearnerStanding(warehouse.Result{
		Columns: []string{"own_avg", "class_avg", "class_size", "percentile_rank"},
		Rows:    []warehouse.Row{{"own_avg": 80.0, "class_avg": 70.0, "class_size": int64(4), "percentile_rank": 75.0}},
	})
	require.NoError(t, err)
	require.Equal(t, 80.0, s.Own.Float64)
	require.EqualValues(t, 4, s.ClassSize)
}

func TestLatency(t *testing.T) {
	rows, err := Latency(warehouse.Result{
		Columns: []string{"route", "p50", "p95", "p99", "request_count"},
		Rows:    []warehouse.Row{{"route": "/api", "p50": 12.0, "p95": 40.0, "p99": nil, "request_count": int64(9)}},
	})
	require.NoError(t, err)
	require.Equal(t, "/api", rows[0].Route)
	require.False(t, rows[0].P99.Valid)
}

func TestTypedPicksModelByQueryName(t *testing.T) {
	series := warehouse.Result{
		Columns: []string{"bucket", "value"},
		Rows:    []warehouse.Row{{"bucket": int64(1735689600), "value": 3.0}},
	}
	v, err := Typed("timeseries_requests_day", series)
	require.NoError(t, err)
	points, ok := v.([]Point)
	require.True(t, ok)
	require.Equal(t, 2025, points[0].Bucket.Time.Year())

	v, err = Typed("learner_case_studies", warehouse.Result{
		Columns: []string{"case_study_id", "title", "attempts", "best_score"},
		Rows:    []warehouse.Row{{"case_study_id": "cs-1", "title": "Triage", "attempts": int64(2), "best_score": 88.0}},
	})
	require.NoError(t, err)
	cases, ok := v.([]CaseStudySummary)
	require.True(t, ok)
	require.Equal(t, 88.0, cases[0].Best.Float64)
	require.False(t, cases[0].Average.Valid)

	v, err = Typed("status_codes", warehouse.Result{})
	require.NoError(t, err)
	require.Equal(t, []warehouse.Row{}, v)

	_, err = Typed("top_performers", warehouse.Result{Columns: []string{"user_id"}, Rows: []warehouse.Row{{"user_id": "a"}}})
	var shape *DataShapeError
	require.ErrorAs(t, err, &shape)
}
