// Package query builds parameterized warehouse queries restricted to what the
// signed-in identity may see. User-supplied values only ever travel as bound
// parameters; the SQL text is assembled from fixed fragments.
package query

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mind-edu/mind-insights/internal/identity"
	"github.com/mind-edu/mind-insights/internal/shared"
	"github.com/mind-edu/mind-insights/internal/warehouse"
)

var (
	// ErrUnboundLearner is returned for a student scope without learner id.
	ErrUnboundLearner = fmt.Errorf("query: student identity has no learner id: %w", shared.ErrMisconfigured)
	// ErrInvalidArgument marks a rejected operation argument.
	ErrInvalidArgument = errors.New("query: invalid argument")
)

// DefaultThreshold is the at-risk cut-off used when none is selected.
const DefaultThreshold = 60.0

// Filters are the UI selections applied on top of the identity scope.
type Filters struct {
	Since      time.Time `json:"since,omitzero"`
	Department string    `json:"department,omitempty"`
	Cohort     string    `json:"cohort,omitempty"`
	Learner    string    `json:"learner,omitempty"`
	Search     string    `json:"search,omitempty"`
	Threshold  float64   `json:"threshold,omitempty"`
	TraceID    string    `json:"trace_id,omitempty"`
	Limit      int       `json:"limit,omitempty"`
}

// Scope is the identity-derived restriction plus the active filters.
type Scope struct {
	Role        identity.Role
	Key         string
	Departments []string
	Cohorts     []string
	LearnerID   string
	Telemetry   bool
	Filters     Filters
}

// NewScope derives the scope of an identity.
func NewScope(ident identity.Identity, viewTelemetry bool, filters Filters) Scope {
	return Scope{
		Role:        ident.Role,
		Key:         ident.Key,
		Departments: slices.Clone(ident.Departments),
		Cohorts:     slices.Clone(ident.Cohorts),
		LearnerID:   ident.LearnerID,
		Telemetry:   viewTelemetry,
		Filters:     filters,
	}
}

// WithFilters returns a copy of the scope with other filters.
func (s Scope) WithFilters(f Filters) Scope {
	s.Filters = f
	return s
}

// Learner returns the learner the scope is pinned to, if any. Students are
// always pinned to themselves.
func (s Scope) Learner() string {
	if s.Role == identity.RoleStudent {
		return s.LearnerID
	}
	return strings.TrimSpace(s.Filters.Learner)
}

func (s Scope) threshold() float64 {
	if s.Filters.Threshold > 0 {
		return s.Filters.Threshold
	}
	return DefaultThreshold
}

func (s Scope) limit(def int) int {
	if s.Filters.Limit > 0 {
		return min(s.Filters.Limit, 1000)
	}
	return def
}

func unrestricted(values []string) bool {
	return slices.Contains(values, identity.ScopeAll)
}

// predicates accumulates WHERE conditions with their parameters.
type predicates struct {
	conds  []string
	params []warehouse.Param
}

func (p *predicates) add(cond string, params ...warehouse.Param) {
	p.conds = append(p.conds, cond)
	p.params = append(p.params, params...)
}

// in binds every value as its own parameter: col IN (@name_0, @name_1).
func (p *predicates) in(col, name string, values []string) {
	holders := make([]string, len(values))
	params := make([]warehouse.Param, len(values))
	for i, v := range values {
		pname := fmt.Sprintf("%s_%d", name, i)
		holders[i] = "@" + pname
		params[i] = warehouse.String(pname, v)
	}
	p.add(col+" IN ("+strings.Join(holders, ", ")+")", params...)
}

func (p *predicates) where() string {
	if len(p.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(p.conds, " AND ")
}

// gradeScope restricts grade rows (alias g, user alias u) to the scope.
func gradeScope(s Scope, p *predicates) error {
	return learnerScope(s, p, "g.user_id", "g.timestamp")
}

// learnerScope restricts learner-owned rows joined to user alias u. userCol
// and timeCol name the owning learner and the row time.
func learnerScope(s Scope, p *predicates, userCol, timeCol string) error {
	f := s.Filters
	switch s.Role {
	case identity.RoleStudent:
		if strings.TrimSpace(s.LearnerID) == "" {
			return ErrUnboundLearner
		}
		p.add(userCol+" = @learner_id", warehouse.String("learner_id", s.LearnerID))
	case identity.RoleFaculty, identity.RoleDeveloper:
		if err := restrict(p, "u.department", "department", f.Department, s.Departments); err != nil {
			return err
		}
		if err := restrict(p, "u.cohort", "cohort", f.Cohort, s.Cohorts); err != nil {
			return err
		}
		if learner := s.Learner(); learner != "" {
			p.add(userCol+" = @learner_id", warehouse.String("learner_id", learner))
		}
	case identity.RoleAdmin:
		if f.Department != "" {
			p.add("u.department = @department", warehouse.String("department", f.Department))
		}
		if f.Cohort != "" {
			p.add("u.cohort = @cohort", warehouse.String("cohort", f.Cohort))
		}
		if learner := s.Learner(); learner != "" {
			p.add(userCol+" = @learner_id", warehouse.String("learner_id", learner))
		}
	default:
		return fmt.Errorf("query: role %q: %w", s.Role, shared.ErrAccessDenied)
	}
	if !f.Since.IsZero() {
		p.add(timeCol+" >= @since", warehouse.Timestamp("since", f.Since))
	}
	return nil
}

// restrict applies a department or cohort restriction. A selection outside
// the allowed list is denied rather than silently widened.
func restrict(p *predicates, col, name, selected string, allowed []string) error {
	all := unrestricted(allowed)
	if selected != "" {
		if !all && !slices.Contains(allowed, selected) {
			return fmt.Errorf("query: %s %q outside scope: %w", name, selected, shared.ErrAccessDenied)
		}
		p.add(col+" = @"+name, warehouse.String(name, selected))
		return nil
	}
	if all {
		return nil
	}
	if len(allowed) == 0 {
		return fmt.Errorf("query: empty %s scope: %w", name, shared.ErrAccessDenied)
	}
	p.in(col, name, allowed)
	return nil
}

// telemetryScope guards backend telemetry and product analytics.
func telemetryScope(s Scope, p *predicates, col string) error {
	if !s.Telemetry {
		return fmt.Errorf("query: telemetry: %w", shared.ErrAccessDenied)
	}
	if !s.Filters.Since.IsZero() {
		p.add(col+" >= @since", warehouse.Timestamp("since", s.Filters.Since))
	}
	return nil
}
