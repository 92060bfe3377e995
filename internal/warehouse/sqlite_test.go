package warehouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	db, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(db))
	return db
}

func TestSQLiteNamedParams(t *testing.T) {
	db := openTestSQLite(t)
	ctx := context.Background()
	at := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, db.Load(ctx, Dataset{
		Learners: []Learner{{UserID: "u1", Name: "A", Department: "CS", Cohort: "2025"}},
		Grades: []Grade{
			{UserID: "u1", CaseStudyID: "c1", FinalScore: null.Float64From(80), At: at},
			{UserID: "u1", CaseStudyID: "c1", FinalScore: null.Float64From(60), At: at.Add(time.Hour)},
		},
	}))

	res, err := db.Run(ctx, Query{
		Name: "avg",
		SQL:  `SELECT user_id, AVG(final_score) AS avg_score, MAX(timestamp) AS last_at FROM grades WHERE user_id = @uid AND timestamp >= @since GROUP BY user_id`,
		Params: []Param{
			String("uid", "u1"),
			Timestamp("since", at),
		},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"user_id", "avg_score", "last_at"}, res.Columns)
	require.Len(t, res.Rows, 1)
	require.InDelta(t, 70, res.Rows[0].Float("avg_score").Float64, 1e-9)
	require.Equal(t, at.Add(time.Hour), res.Rows[0].Time("last_at").Time)
}

func TestSQLiteEmptyAggregateIsNull(t *testing.T) {
	db := openTestSQLite(t)
	res, err := db.Run(context.Background(), Query{Name: "avg", SQL: `SELECT AVG(final_score) AS avg_score FROM grades`})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.False(t, res.Rows[0].Float("avg_score").Valid)
}

func TestSQLiteQueryError(t *testing.T) {
	db := openTestSQLite(t)
	_, err := db.Run(context.Background(), Query{Name: "bad", SQL: `SELECT nope FROM missing_table`})
	var qErr *QueryError
	require.ErrorAs(t, err, &qErr)
	require.Equal(t, "bad", qErr.Query)
	require.Contains(t, qErr.Error(), "missing_table")
}

func TestSQLiteRejectsUnboundPlaceholder(t *testing.T) {
	db := openTestSQLite(t)
	_, err := db.Run(context.Background(), Query{Name: "bad", SQL: `SELECT * FROM grades WHERE user_id = @uid`})
	var qErr *QueryError
	require.ErrorAs(t, err, &qErr)
	require.Equal(t, ReasonInvalid, qErr.Reason)
}

func TestOpenSeedsDemoData(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	exec, err := Open(context.Background(), DriverConfig{Driver: DriverSQLite, DSN: ":memory:", SeedDemo: true, Now: func() time.Time { return now }})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(exec) })

	res, err := exec.Run(context.Background(), Query{
		Name:   "learner",
		SQL:    `SELECT COUNT(*) AS n FROM grades WHERE user_id = @uid`,
		Params: []Param{String("uid", DemoLearnerID)},
	})
	require.NoError(t, err)
	require.Positive(t, res.Rows[0].Int("n").Int64)
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestSQLite(t)
	require.NoError(t, Migrate(db))
}
