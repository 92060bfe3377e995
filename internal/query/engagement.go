package query

import (
	"fmt"
	"time"

	"github.com/mind-edu/mind-insights/internal/identity"
	"github.com/mind-edu/mind-insights/internal/warehouse"
)

// sessionsFrom joins learning sessions with the learner table.
func (b *Builder) sessionsFrom() string {
	return " FROM " + b.table("sessions") + " se LEFT JOIN " + b.table("user") + " u ON u.user_id = se.user_id"
}

func (b *Builder) sessionScope(s Scope, window time.Duration) (*predicates, error) {
	s, start := b.windowStart(s, window)
	p := &predicates{}
	if err := learnerScope(s, p, "se.user_id", "se.start_time"); err != nil {
		return nil, err
	}
	p.add("se.start_time >= @window_start", warehouse.Timestamp("window_start", start))
	return p, nil
}

// SessionSummary counts active learners and sessions started in the window.
func (b *Builder) SessionSummary(s Scope, window time.Duration) (warehouse.Query, error) {
	p, err := b.sessionScope(s, window)
	if err != nil {
		return warehouse.Query{}, err
	}
	sql := "SELECT COUNT(DISTINCT se.user_id) AS active_users, COUNT(*) AS sessions, " +
		"AVG(se.duration_seconds) / 60.0 AS avg_duration_minutes" + b.sessionsFrom() + p.where()
	return build("session_summary", sql, p.params), nil
}

// DailyActiveUsers counts distinct learners with a session per day.
func (b *Builder) DailyActiveUsers(s Scope, window time.Duration) (warehouse.Query, error) {
	p, err := b.sessionScope(s, window)
	if err != nil {
		return warehouse.Query{}, err
	}
	bucket := b.dialect.Bucket("se.start_time", Day)
	sql := "SELECT " + bucket + " AS bucket, COUNT(DISTINCT se.user_id) AS active_users" + b.sessionsFrom() +
		p.where() + " GROUP BY " + bucket + " ORDER BY bucket"
	return build("daily_active_users", sql, p.params), nil
}

// SessionEngagement reports sessions, learners and mean session length per
// day. Sessions still open have no duration and only count as sessions.
func (b *Builder) SessionEngagement(s Scope, window time.Duration) (warehouse.Query, error) {
	p, err := b.sessionScope(s, window)
	if err != nil {
		return warehouse.Query{}, err
	}
	bucket := b.dialect.Bucket("se.start_time", Day)
	sql := "SELECT " + bucket + " AS bucket, COUNT(*) AS sessions, COUNT(DISTINCT se.user_id) AS active_users, " +
		"AVG(se.duration_seconds) / 60.0 AS avg_duration_minutes" + b.sessionsFrom() +
		p.where() + " GROUP BY " + bucket + " ORDER BY bucket"
	return build("session_engagement", sql, p.params), nil
}

// LearnerCaseStudies summarises the pinned learner's attempts per case
// study, most recently attempted first.
func (b *Builder) LearnerCaseStudies(s Scope) (warehouse.Query, error) {
	if s.Learner() == "" && s.Role != identity.RoleStudent {
		return warehouse.Query{}, fmt.Errorf("%w: learner selection required", ErrInvalidArgument)
	}
	p := &predicates{}
	p.add("g.final_score IS NOT NULL")
	if err := gradeScope(s, p); err != nil {
		return warehouse.Query{}, err
	}
	sql := "SELECT g.case_study_id AS case_study_id, MAX(c.title) AS title, COUNT(*) AS attempts, " +
		"AVG(g.final_score) AS avg_score, MAX(g.final_score) AS best_score, MAX(g.timestamp) AS last_attempt" +
		b.gradesFrom() + " LEFT JOIN " + b.table("casestudy") + " c ON c.case_study_id = g.case_study_id" +
		p.where() + " GROUP BY g.case_study_id ORDER BY last_attempt DESC, case_study_id ASC"
	return build("learner_case_studies", sql, p.params), nil
}
