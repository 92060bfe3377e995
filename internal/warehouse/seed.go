package warehouse

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
)

// Learner is a row of the user table.
type Learner struct {
	UserID     string
	Name       string
	Email      string
	Department string
	Cohort     string
}

// CaseStudy is a row of the casestudy table.
type CaseStudy struct {
	ID    string
	Title string
}

// Grade is one graded attempt.
type Grade struct {
	UserID           string
	CaseStudyID      string
	ConversationID   string
	FinalScore       null.Float64
	Communication    null.Float64
	Comprehension    null.Float64
	CriticalThinking null.Float64
	Attempt          int64
	At               time.Time
}

// LearningSession is a row of the sessions table.
type LearningSession struct {
	ID          string
	UserID      string
	CaseStudyID string
	Start       time.Time
	End         null.Time
}

// Span is a row of backend_telemetry.
type Span struct {
	At           time.Time
	TraceID      string
	SpanID       string
	Service      string
	Route        string
	Method       string
	Status       int64
	LatencyMS    float64
	IsError      bool
	Model        string
	InputTokens  int64
	OutputTokens int64
	Environment  string
}

// Event is a product analytics event. Properties are stored as a JSON
// object.
type Event struct {
	UUID       string
	Name       string
	DistinctID string
	At         time.Time
	URL        string
	Properties map[string]any
}

// Dataset groups rows to load into a SQLite warehouse.
type Dataset struct {
	Learners    []Learner
	CaseStudies []CaseStudy
	Grades      []Grade
	Sessions    []LearningSession
	Spans       []Span
	Events      []Event
}

// Load inserts the dataset in one transaction.
func (s *SQLite) Load(ctx context.Context, d Dataset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("warehouse: seed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, l := range d.Learners {
		if _, err := tx.ExecContext(ctx, `INSERT INTO "user" (user_id, name, student_email, department, cohort) VALUES (?, ?, ?, ?, ?)`,
			l.UserID, l.Name, l.Email, l.Department, l.Cohort); err != nil {
			return fmt.Errorf("warehouse: seed learner %s: %w", l.UserID, err)
		}
	}
	for _, c := range d.CaseStudies {
		if _, err := tx.ExecContext(ctx, `INSERT INTO casestudy (case_study_id, title) VALUES (?, ?)`, c.ID, c.Title); err != nil {
			return fmt.Errorf("warehouse: seed case study %s: %w", c.ID, err)
		}
	}
	for _, g := range d.Grades {
		if _, err := tx.ExecContext(ctx, `INSERT INTO grades (user_id, case_study_id, conversation_id, final_score, communication, comprehension, critical_thinking, attempt, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			g.UserID, g.CaseStudyID, g.ConversationID, g.FinalScore, g.Communication, g.Comprehension, g.CriticalThinking, g.Attempt, g.At.Unix()); err != nil {
			return fmt.Errorf("warehouse: seed grade: %w", err)
		}
	}
	for _, ls := range d.Sessions {
		var end, duration any
		if ls.End.Valid {
			end = ls.End.Time.Unix()
			duration = ls.End.Time.Sub(ls.Start).Seconds()
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO sessions (session_id, user_id, case_study_id, start_time, end_time, duration_seconds) VALUES (?, ?, ?, ?, ?, ?)`,
			ls.ID, ls.UserID, ls.CaseStudyID, ls.Start.Unix(), end, duration); err != nil {
			return fmt.Errorf("warehouse: seed session: %w", err)
		}
	}
	for _, sp := range d.Spans {
		if _, err := tx.ExecContext(ctx, `INSERT INTO backend_telemetry (created_at, trace_id, span_id, service_name, http_route, http_method, http_status_code,
			derived_response_time_ms, derived_is_error, derived_ai_model, derived_ai_input_tokens, derived_ai_output_tokens, derived_ai_total_tokens, deployment_environment)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sp.At.Unix(), sp.TraceID, sp.SpanID, sp.Service, sp.Route, sp.Method, sp.Status,
			sp.LatencyMS, sp.IsError, nullString(sp.Model), sp.InputTokens, sp.OutputTokens, sp.InputTokens+sp.OutputTokens, sp.Environment); err != nil {
			return fmt.Errorf("warehouse: seed span: %w", err)
		}
	}
	for _, e := range d.Events {
		var props sql.NullString
		if len(e.Properties) > 0 {
			raw, err := json.Marshal(e.Properties)
			if err != nil {
				return fmt.Errorf("warehouse: seed event %s properties: %w", e.UUID, err)
			}
			props = sql.NullString{String: string(raw), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO events (uuid, event, distinct_id, timestamp, current_url, properties) VALUES (?, ?, ?, ?, ?, ?)`,
			e.UUID, e.Name, e.DistinctID, e.At.Unix(), e.URL, props); err != nil {
			return fmt.Errorf("warehouse: seed event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("warehouse: seed commit: %w", err)
	}
	return nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// DemoLearnerID is the learner bound to the development student identity.
const DemoLearnerID = "550e8400-e29b-41d4-a716-446655440000"

// DemoDataset generates a deterministic demo warehouse ending at now.
func DemoDataset(now time.Time) Dataset {
	rng := rand.New(rand.NewPCG(2024, 11))
	now = now.UTC().Truncate(time.Hour)
	var d Dataset

	departments := []string{"Computer Science", "Engineering", "Business"}
	cohorts := []string{"2024", "2025"}
	names := []string{
		"John Smith", "Amara Okafor", "Lena Fischer", "Mateo Alvarez", "Priya Natarajan",
		"Kenji Watanabe", "Sofia Rossi", "Noah Becker", "Fatima Zahra", "Liam O'Brien",
		"Chen Wei", "Emma Dubois", "Yusuf Demir", "Hannah Kim", "Oliver Novak", "Zara Ahmed",
	}
	for i, name := range names {
		id := DemoLearnerID
		if i > 0 {
			id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
		}
		dept := departments[i%len(departments)]
		cohort := cohorts[i%len(cohorts)]
		if i == 0 {
			dept, cohort = "Computer Science", "2025"
		}
		d.Learners = append(d.Learners, Learner{
			UserID:     id,
			Name:       name,
			Email:      fmt.Sprintf("learner%02d@mind.edu", i+1),
			Department: dept,
			Cohort:     cohort,
		})
	}

	titles := []string{"Market Entry Strategy", "Incident Postmortem", "Patient Triage", "Supply Chain Disruption", "Product Launch Ethics"}
	for i, title := range titles {
		d.CaseStudies = append(d.CaseStudies, CaseStudy{ID: fmt.Sprintf("cs-%02d", i+1), Title: title})
	}

	for li, learner := range d.Learners {
		base := 50 + float64(li*37%45)
		attempts := 2 + rng.IntN(5)
		for a := 0; a < attempts; a++ {
			cs := d.CaseStudies[(li+a)%len(d.CaseStudies)]
			at := now.Add(-time.Duration(attempts-a) * 3 * 24 * time.Hour).Add(time.Duration(rng.IntN(12)) * time.Hour)
			score := clamp(base + float64(a)*2.5 + rng.Float64()*8 - 4)
			g := Grade{
				UserID:           learner.UserID,
				CaseStudyID:      cs.ID,
				ConversationID:   uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s/%d", learner.UserID, a))).String(),
				FinalScore:       null.Float64From(round1(score)),
				Communication:    null.Float64From(round1(clamp(score + rng.Float64()*10 - 5))),
				Comprehension:    null.Float64From(round1(clamp(score + rng.Float64()*10 - 5))),
				CriticalThinking: null.Float64From(round1(clamp(score + rng.Float64()*10 - 5))),
				Attempt:          int64(a + 1),
				At:               at,
			}
			d.Grades = append(d.Grades, g)
			minutes := 10 + rng.IntN(40)
			d.Sessions = append(d.Sessions, LearningSession{
				ID:          g.ConversationID,
				UserID:      learner.UserID,
				CaseStudyID: cs.ID,
				Start:       at.Add(-time.Duration(minutes) * time.Minute),
				End:         null.TimeFrom(at),
			})
		}
	}

	routes := []struct {
		route, method string
		latency       float64
	}{
		{"/api/chat", "POST", 1800},
		{"/api/grade", "POST", 2600},
		{"/api/case-studies", "GET", 120},
		{"/api/sessions/{id}", "GET", 80},
		{"/healthz", "GET", 5},
	}
	models := []string{"gpt-4o", "claude-3-5-sonnet", ""}
	services := []string{"mind-backend", "mind-backend", "mind-grader"}
	environments := []string{"production", "production", "production", "staging"}
	for h := 0; h < 7*24; h += 2 {
		at := now.Add(-time.Duration(h) * time.Hour)
		for i := 0; i < 3; i++ {
			r := routes[rng.IntN(len(routes))]
			trace := uuid.NewSHA1(uuid.NameSpaceDNS, []byte(fmt.Sprintf("trace-%d-%d", h, i))).String()
			status := int64(200)
			switch roll := rng.IntN(100); {
			case roll < 3:
				status = 500
			case roll < 8:
				status = 404
			}
			model := ""
			var in, out int64
			if r.method == "POST" {
				model = models[rng.IntN(len(models))]
				if model != "" {
					in = int64(400 + rng.IntN(1600))
					out = int64(100 + rng.IntN(600))
				}
			}
			service := services[rng.IntN(len(services))]
			env := environments[rng.IntN(len(environments))]
			spans := 1 + rng.IntN(3)
			for s := 0; s < spans; s++ {
				d.Spans = append(d.Spans, Span{
					At:           at.Add(time.Duration(s*150+i*600) * time.Millisecond),
					TraceID:      trace,
					SpanID:       fmt.Sprintf("%s-%d", trace[:8], s),
					Service:      service,
					Route:        r.route,
					Method:       r.method,
					Status:       status,
					LatencyMS:    round1(r.latency*(0.5+rng.Float64()) / float64(s+1)),
					IsError:      status >= 500,
					Model:        model,
					InputTokens:  in,
					OutputTokens: out,
					Environment:  env,
				})
			}
		}
	}

	eventNames := []string{"$pageview", "$pageview", "$pageview", "case_started", "case_submitted", "$exception", "$rageclick", "$web_vitals"}
	pages := []string{"/", "/cases", "/cases/cs-01", "/progress", "/profile"}
	errorTypes := []struct{ kind, message string }{
		{"error", "TypeError: cannot read properties of undefined"},
		{"error", "ChunkLoadError: loading chunk failed"},
		{"warning", "ResizeObserver loop limit exceeded"},
	}
	for h := 0; h < 7*24; h++ {
		at := now.Add(-time.Duration(h) * time.Hour)
		for i := 0; i < 2; i++ {
			learner := d.Learners[rng.IntN(len(d.Learners))]
			name := eventNames[rng.IntN(len(eventNames))]
			props := map[string]any{"$session_id": fmt.Sprintf("%s-%d", learner.UserID[:8], h/6)}
			switch name {
			case "$exception":
				e := errorTypes[rng.IntN(len(errorTypes))]
				props["$exception_type"] = e.kind
				props["$exception_message"] = e.message
			case "$web_vitals":
				props["$web_vitals_LCP_value"] = round1(1200 + rng.Float64()*3000)
				props["$web_vitals_FCP_value"] = round1(600 + rng.Float64()*2000)
				props["$web_vitals_INP_value"] = round1(80 + rng.Float64()*400)
				props["$web_vitals_CLS_value"] = float64(rng.IntN(300)) / 1000
			}
			d.Events = append(d.Events, Event{
				UUID:       uuid.NewSHA1(uuid.NameSpaceX500, []byte(fmt.Sprintf("event-%d-%d", h, i))).String(),
				Name:       name,
				DistinctID: learner.UserID,
				At:         at.Add(time.Duration(i*17) * time.Minute),
				URL:        "https://app.mind.edu" + pages[rng.IntN(len(pages))],
				Properties: props,
			})
		}
	}
	return d
}

func clamp(v float64) float64 {
	return min(100, max(0, v))
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
