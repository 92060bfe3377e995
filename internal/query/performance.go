package query

import (
	"fmt"

	"github.com/mind-edu/mind-insights/internal/warehouse"
)

// GroupKey selects the grouping of AggregatePerformanceByGroup.
type GroupKey string

// Supported group keys.
const (
	GroupCohort     GroupKey = "cohort"
	GroupDepartment GroupKey = "department"
	GroupRole       GroupKey = "role"
)

const rubricAverages = "AVG(g.final_score) AS avg_score, " +
	"AVG(g.communication) AS avg_communication, " +
	"AVG(g.comprehension) AS avg_comprehension, " +
	"AVG(g.critical_thinking) AS avg_critical_thinking"

// AggregatePerformanceByGroup averages final and rubric scores per group.
func (b *Builder) AggregatePerformanceByGroup(s Scope, key GroupKey) (warehouse.Query, error) {
	var expr string
	switch key {
	case GroupCohort:
		expr = "COALESCE(u.cohort, 'Unassigned')"
	case GroupDepartment:
		expr = "COALESCE(u.department, 'Unassigned')"
	case GroupRole:
		expr = "CASE WHEN u.user_id IS NULL THEN 'unknown' ELSE 'student' END"
	default:
		return warehouse.Query{}, fmt.Errorf("%w: group key %q", ErrInvalidArgument, key)
	}
	p := &predicates{}
	p.add("g.final_score IS NOT NULL")
	if err := gradeScope(s, p); err != nil {
		return warehouse.Query{}, err
	}
	sql := "SELECT " + expr + " AS group_key, COUNT(DISTINCT g.user_id) AS learners, COUNT(*) AS attempts, " + rubricAverages +
		b.gradesFrom() + p.where() +
		" GROUP BY " + expr + " ORDER BY group_key"
	return build("performance_by_"+string(key), sql, p.params), nil
}

// learnerAverages is the per-learner aggregate shared by rosters.
func (b *Builder) learnerAverages(p *predicates) string {
	return "SELECT g.user_id AS user_id, MAX(u.name) AS name, MAX(u.student_email) AS email, " +
		"MAX(u.department) AS department, MAX(u.cohort) AS cohort, COUNT(*) AS attempts, " +
		rubricAverages + ", MAX(g.timestamp) AS last_attempt" +
		b.gradesFrom() + p.where() + " GROUP BY g.user_id"
}

// AtRiskRoster lists learners whose mean score is strictly below the
// threshold, lowest first.
func (b *Builder) AtRiskRoster(s Scope, threshold float64) (warehouse.Query, error) {
	if threshold <= 0 || threshold > 100 {
		return warehouse.Query{}, fmt.Errorf("%w: threshold %v", ErrInvalidArgument, threshold)
	}
	p := &predicates{}
	p.add("g.final_score IS NOT NULL")
	if err := gradeScope(s, p); err != nil {
		return warehouse.Query{}, err
	}
	sql := b.learnerAverages(p) +
		" HAVING AVG(g.final_score) < @threshold ORDER BY avg_score ASC, user_id ASC"
	params := append(p.params, warehouse.Float64("threshold", threshold))
	return build("at_risk_roster", sql, params), nil
}

// TopPerformers ranks learners by mean score, ties broken by user id.
func (b *Builder) TopPerformers(s Scope, limit int) (warehouse.Query, error) {
	if limit <= 0 {
		return warehouse.Query{}, fmt.Errorf("%w: limit %d", ErrInvalidArgument, limit)
	}
	p := &predicates{}
	p.add("g.final_score IS NOT NULL")
	if err := gradeScope(s, p); err != nil {
		return warehouse.Query{}, err
	}
	sql := b.learnerAverages(p) + " ORDER BY avg_score DESC, user_id ASC LIMIT @limit"
	params := append(p.params, warehouse.Int64("limit", int64(limit)))
	return build("top_performers", sql, params), nil
}

// ClassSummary returns one row of headline numbers.
func (b *Builder) ClassSummary(s Scope) (warehouse.Query, error) {
	p := &predicates{}
	if err := gradeScope(s, p); err != nil {
		return warehouse.Query{}, err
	}
	sql := "SELECT COUNT(DISTINCT g.user_id) AS learners, COUNT(*) AS attempts, " + rubricAverages +
		", MIN(g.final_score) AS min_score, MAX(g.final_score) AS max_score" +
		b.gradesFrom() + p.where()
	return build("class_summary", sql, p.params), nil
}

// GradeDistribution counts attempts per letter bracket (90/80/70/60).
func (b *Builder) GradeDistribution(s Scope) (warehouse.Query, error) {
	p := &predicates{}
	p.add("g.final_score IS NOT NULL")
	if err := gradeScope(s, p); err != nil {
		return warehouse.Query{}, err
	}
	bracket := "CASE WHEN g.final_score >= 90 THEN 'A' WHEN g.final_score >= 80 THEN 'B' " +
		"WHEN g.final_score >= 70 THEN 'C' WHEN g.final_score >= 60 THEN 'D' ELSE 'F' END"
	sql := "SELECT " + bracket + " AS grade, COUNT(*) AS attempts" + b.gradesFrom() + p.where() +
		" GROUP BY " + bracket + " ORDER BY grade"
	return build("grade_distribution", sql, p.params), nil
}

// CaseStudyPerformance averages scores per case study; it also feeds the
// rubric heatmap.
func (b *Builder) CaseStudyPerformance(s Scope) (warehouse.Query, error) {
	p := &predicates{}
	p.add("g.final_score IS NOT NULL")
	if err := gradeScope(s, p); err != nil {
		return warehouse.Query{}, err
	}
	sql := "SELECT g.case_study_id AS case_study_id, MAX(c.title) AS title, COUNT(DISTINCT g.user_id) AS learners, COUNT(*) AS attempts, " +
		rubricAverages + b.gradesFrom() +
		" LEFT JOIN " + b.table("casestudy") + " c ON c.case_study_id = g.case_study_id" + p.where() +
		" GROUP BY g.case_study_id ORDER BY avg_score DESC, case_study_id ASC"
	return build("case_study_performance", sql, p.params), nil
}

// ImprovementTracking measures the score spread over repeat attempts. The
// first attempt of each learner is the baseline and is left out; learners
// need more than two repeat attempts to be listed.
func (b *Builder) ImprovementTracking(s Scope) (warehouse.Query, error) {
	p := &predicates{}
	p.add("g.final_score IS NOT NULL")
	if err := gradeScope(s, p); err != nil {
		return warehouse.Query{}, err
	}
	ranked := "SELECT g.user_id AS user_id, u.name AS name, g.final_score AS final_score, " +
		"ROW_NUMBER() OVER (PARTITION BY g.user_id ORDER BY g.timestamp) AS attempt_num" +
		b.gradesFrom() + p.where()
	sql := "WITH ranked AS (" + ranked + ") SELECT user_id, MAX(name) AS name, COUNT(*) AS attempts, " +
		"AVG(final_score) AS avg_score, MIN(final_score) AS min_score, MAX(final_score) AS max_score, " +
		"MAX(final_score) - MIN(final_score) AS improvement FROM ranked WHERE attempt_num > 1" +
		" GROUP BY user_id HAVING COUNT(*) > 2 ORDER BY improvement DESC, user_id ASC LIMIT @limit"
	params := append(p.params, warehouse.Int64("limit", int64(s.limit(20))))
	return build("improvement_tracking", sql, params), nil
}
