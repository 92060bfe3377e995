package query

import (
	"fmt"
	"strings"

	"github.com/mind-edu/mind-insights/internal/identity"
	"github.com/mind-edu/mind-insights/internal/shared"
	"github.com/mind-edu/mind-insights/internal/warehouse"
)

// StudentRoster lists learners with their averages. The search filter
// matches name or email by containment and is always bound.
func (b *Builder) StudentRoster(s Scope) (warehouse.Query, error) {
	p := &predicates{}
	if err := gradeScope(s, p); err != nil {
		return warehouse.Query{}, err
	}
	if search := strings.TrimSpace(s.Filters.Search); search != "" {
		p.add("("+b.dialect.Contains("COALESCE(u.name, '')", "@search")+" OR "+
			b.dialect.Contains("COALESCE(u.student_email, '')", "@search")+")",
			warehouse.String("search", search))
	}
	sql := b.learnerAverages(p) + " ORDER BY name ASC, user_id ASC LIMIT @limit"
	params := append(p.params, warehouse.Int64("limit", int64(s.limit(200))))
	return build("student_roster", sql, params), nil
}

// LearnerProgress returns the attempts of one learner in time order.
func (b *Builder) LearnerProgress(s Scope) (warehouse.Query, error) {
	if s.Learner() == "" && s.Role != identity.RoleStudent {
		return warehouse.Query{}, fmt.Errorf("%w: learner selection required", ErrInvalidArgument)
	}
	p := &predicates{}
	if err := gradeScope(s, p); err != nil {
		return warehouse.Query{}, err
	}
	sql := "SELECT g.timestamp AS attempted_at, g.case_study_id AS case_study_id, c.title AS title, g.attempt AS attempt, " +
		"g.final_score AS final_score, g.communication AS communication, g.comprehension AS comprehension, " +
		"g.critical_thinking AS critical_thinking" +
		b.gradesFrom() + " LEFT JOIN " + b.table("casestudy") + " c ON c.case_study_id = g.case_study_id" +
		p.where() + " ORDER BY attempted_at ASC"
	return build("learner_progress", sql, p.params), nil
}

// LearnerStanding compares one learner with the class in a single row:
// own averages, class average, class size and percentile rank, where the
// rank is the share of learners with a strictly lower average.
func (b *Builder) LearnerStanding(s Scope) (warehouse.Query, error) {
	learner := s.Learner()
	if s.Role == identity.RoleStudent && learner == "" {
		return warehouse.Query{}, ErrUnboundLearner
	}
	if learner == "" {
		return warehouse.Query{}, fmt.Errorf("%w: learner selection required", ErrInvalidArgument)
	}
	// The class is the scope without the learner pin; staff outside their
	// departments or cohorts see no standing at all.
	p := &predicates{}
	p.add("g.final_score IS NOT NULL")
	switch s.Role {
	case identity.RoleFaculty, identity.RoleDeveloper:
		if err := restrict(p, "u.department", "department", s.Filters.Department, s.Departments); err != nil {
			return warehouse.Query{}, err
		}
		if err := restrict(p, "u.cohort", "cohort", s.Filters.Cohort, s.Cohorts); err != nil {
			return warehouse.Query{}, err
		}
	case identity.RoleAdmin:
		if s.Filters.Department != "" {
			p.add("u.department = @department", warehouse.String("department", s.Filters.Department))
		}
		if s.Filters.Cohort != "" {
			p.add("u.cohort = @cohort", warehouse.String("cohort", s.Filters.Cohort))
		}
	case identity.RoleStudent:
	default:
		return warehouse.Query{}, fmt.Errorf("query: role %q: %w", s.Role, shared.ErrAccessDenied)
	}
	if !s.Filters.Since.IsZero() {
		p.add("g.timestamp >= @since", warehouse.Timestamp("since", s.Filters.Since))
	}
	perLearner := "SELECT g.user_id AS user_id, " + rubricAverages + ", COUNT(*) AS attempts" +
		b.gradesFrom() + p.where() + " GROUP BY g.user_id"
	own := "(SELECT avg_score FROM per_learner WHERE user_id = @learner_id)"
	classSize := "(SELECT COUNT(*) FROM per_learner)"
	sql := "WITH per_learner AS (" + perLearner + ") SELECT " +
		own + " AS own_avg, " +
		"(SELECT avg_communication FROM per_learner WHERE user_id = @learner_id) AS own_communication, " +
		"(SELECT avg_comprehension FROM per_learner WHERE user_id = @learner_id) AS own_comprehension, " +
		"(SELECT avg_critical_thinking FROM per_learner WHERE user_id = @learner_id) AS own_critical_thinking, " +
		"(SELECT attempts FROM per_learner WHERE user_id = @learner_id) AS own_attempts, " +
		"(SELECT AVG(avg_score) FROM per_learner) AS class_avg, " +
		classSize + " AS class_size, " +
		"CASE WHEN " + own + " IS NULL OR " + classSize + " = 0 THEN NULL ELSE " +
		"100.0 * (SELECT COUNT(*) FROM per_learner WHERE avg_score < " + own + ") / " + classSize +
		" END AS percentile_rank"
	params := append(p.params, warehouse.String("learner_id", learner))
	return build("learner_standing", sql, params), nil
}

// FilterField is a column offered as a dashboard filter.
type FilterField string

// Filterable fields.
const (
	FieldDepartment FilterField = "department"
	FieldCohort     FilterField = "cohort"
)

// FilterOptions lists the distinct values of a filter field inside the
// scope.
func (b *Builder) FilterOptions(s Scope, field FilterField) (warehouse.Query, error) {
	var allowed []string
	switch field {
	case FieldDepartment:
		allowed = s.Departments
	case FieldCohort:
		allowed = s.Cohorts
	default:
		return warehouse.Query{}, fmt.Errorf("%w: filter field %q", ErrInvalidArgument, field)
	}
	if s.Role == identity.RoleStudent {
		return warehouse.Query{}, fmt.Errorf("query: filter options: %w", shared.ErrAccessDenied)
	}
	col := "u." + string(field)
	p := &predicates{}
	p.add(col + " IS NOT NULL")
	if s.Role != identity.RoleAdmin && !unrestricted(allowed) {
		if len(allowed) == 0 {
			return warehouse.Query{}, fmt.Errorf("query: empty %s scope: %w", field, shared.ErrAccessDenied)
		}
		p.in(col, string(field), allowed)
	}
	sql := "SELECT DISTINCT " + col + " AS value FROM " + b.table("user") + " u" + p.where() + " ORDER BY value"
	return build("filter_options_"+string(field), sql, p.params), nil
}

// PreviewLearner picks the learner with most attempts. It backs preview
// mode only.
func (b *Builder) PreviewLearner() warehouse.Query {
	sql := "SELECT g.user_id AS user_id, COUNT(*) AS attempts FROM " + b.table("grades") + " g" +
		" GROUP BY g.user_id ORDER BY attempts DESC, user_id ASC LIMIT 1"
	return build("preview_learner", sql, nil)
}
