package analytics

import (
	"strings"

	"github.com/volatiletech/null/v8"

	"github.com/mind-edu/mind-insights/internal/warehouse"
)

// LearnerScore is one row of a learner roster.
type LearnerScore struct {
	UserID      string       `json:"user_id"`
	Name        null.String  `json:"name"`
	Department  null.String  `json:"department"`
	Cohort      null.String  `json:"cohort"`
	Attempts    int64        `json:"attempts"`
	Average     null.Float64 `json:"avg_score"`
	LastAttempt null.Time    `json:"last_attempt"`
}

// Standing compares one learner with the class.
type Standing struct {
	Own            null.Float64 `json:"own_avg"`
	Communication  null.Float64 `json:"own_communication"`
	Comprehension  null.Float64 `json:"own_comprehension"`
	Critical       null.Float64 `json:"own_critical_thinking"`
	Attempts       null.Int64   `json:"own_attempts"`
	ClassAverage   null.Float64 `json:"class_avg"`
	ClassSize      int64        `json:"class_size"`
	PercentileRank null.Float64 `json:"percentile_rank"`
}

// LatencyRow holds percentiles for one route, or the whole service when
// Route is empty.
type LatencyRow struct {
	Route    string       `json:"route,omitempty"`
	P50      null.Float64 `json:"p50"`
	P95      null.Float64 `json:"p95"`
	P99      null.Float64 `json:"p99"`
	Requests int64        `json:"request_count"`
}

// Point is one time-series bucket.
type Point struct {
	Bucket null.Time    `json:"bucket"`
	Value  null.Float64 `json:"value"`
}

// CaseStudySummary is one case study of a learner's history.
type CaseStudySummary struct {
	CaseStudyID string       `json:"case_study_id"`
	Title       null.String  `json:"title"`
	Attempts    int64        `json:"attempts"`
	Average     null.Float64 `json:"avg_score"`
	Best        null.Float64 `json:"best_score"`
	LastAttempt null.Time    `json:"last_attempt"`
}

// Typed maps a result onto the model of the query that produced it. Queries
// without a model come back as plain rows.
func Typed(queryName string, res warehouse.Result) (any, error) {
	switch {
	case queryName == "at_risk_roster":
		return AtRisk(res)
	case queryName == "top_performers":
		return TopPerformers(res)
	case queryName == "student_roster":
		return Learners(res)
	case queryName == "learner_standing":
		return LearnerStanding(res)
	case queryName == "learner_case_studies":
		return CaseStudies(res)
	case strings.HasPrefix(queryName, "latency_percentiles_"):
		return Latency(res)
	case strings.HasPrefix(queryName, "timeseries_"):
		return Series(res)
	}
	if res.Rows == nil {
		return []warehouse.Row{}, nil
	}
	return res.Rows, nil
}

// Learners maps roster rows (at-risk, top performers, roster).
func Learners(res warehouse.Result) ([]LearnerScore, error) {
	if err := requireColumns("learners", res, "user_id", "avg_score"); err != nil {
		return nil, err
	}
	out := make([]LearnerScore, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, LearnerScore{
			UserID:      row.String("user_id").String,
			Name:        row.String("name"),
			Department:  row.String("department"),
			Cohort:      row.String("cohort"),
			Attempts:    row.Int("attempts").Int64,
			Average:     row.Float("avg_score"),
			LastAttempt: row.Time("last_attempt"),
		})
	}
	return out, nil
}

// AtRisk maps the at-risk roster.
func AtRisk(res warehouse.Result) ([]LearnerScore, error) {
	return Learners(res)
}

// TopPerformers maps the top performers ranking.
func TopPerformers(res warehouse.Result) ([]LearnerScore, error) {
	return Learners(res)
}

// LearnerStanding maps the single standing row. An empty result yields an
// all-unavailable standing.
func LearnerStanding(res warehouse.Result) (Standing, error) {
	if res.Empty() {
		return Standing{}, nil
	}
	if err := requireColumns("standing", res, "own_avg", "class_avg", "percentile_rank"); err != nil {
		return Standing{}, err
	}
	row := res.Rows[0]
	return Standing{
		Own:            row.Float("own_avg"),
		Communication:  row.Float("own_communication"),
		Comprehension:  row.Float("own_comprehension"),
		Critical:       row.Float("own_critical_thinking"),
		Attempts:       row.Int("own_attempts"),
		ClassAverage:   row.Float("class_avg"),
		ClassSize:      row.Int("class_size").Int64,
		PercentileRank: row.Float("percentile_rank"),
	}, nil
}

// Latency maps percentile rows.
func Latency(res warehouse.Result) ([]LatencyRow, error) {
	if err := requireColumns("latency", res, "request_count"); err != nil {
		return nil, err
	}
	out := make([]LatencyRow, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, LatencyRow{
			Route:    row.String("route").String,
			P50:      row.Float("p50"),
			P95:      row.Float("p95"),
			P99:      row.Float("p99"),
			Requests: row.Int("request_count").Int64,
		})
	}
	return out, nil
}

// Series maps time-series rows.
func Series(res warehouse.Result) ([]Point, error) {
	if err := requireColumns("series", res, "bucket", "value"); err != nil {
		return nil, err
	}
	out := make([]Point, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, Point{Bucket: row.Time("bucket"), Value: row.Float("value")})
	}
	return out, nil
}

// CaseStudies maps a learner's per case study summary.
func CaseStudies(res warehouse.Result) ([]CaseStudySummary, error) {
	if err := requireColumns("case_studies", res, "case_study_id", "best_score"); err != nil {
		return nil, err
	}
	out := make([]CaseStudySummary, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, CaseStudySummary{
			CaseStudyID: row.String("case_study_id").String,
			Title:       row.String("title"),
			Attempts:    row.Int("attempts").Int64,
			Average:     row.Float("avg_score"),
			Best:        row.Float("best_score"),
			LastAttempt: row.Time("last_attempt"),
		})
	}
	return out, nil
}

func requireColumns(name string, res warehouse.Result, cols ...string) error {
	if res.Empty() {
		return nil
	}
	for _, c := range cols {
		if !res.HasColumn(c) {
			return &DataShapeError{Widget: name, Column: c}
		}
	}
	return nil
}
