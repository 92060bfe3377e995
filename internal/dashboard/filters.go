package dashboard

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mind-edu/mind-insights/internal/platform/httpx"
	"github.com/mind-edu/mind-insights/internal/query"
)

// Filter names usable in a page layout.
const (
	FilterRange      = "range"
	FilterDepartment = "department"
	FilterCohort     = "cohort"
	FilterThreshold  = "threshold"
	FilterSearch     = "search"
	FilterLearner    = "learner"
	FilterTraceID    = "trace_id"
)

// FilterNames lists every filter.
func FilterNames() []string {
	return []string{FilterRange, FilterDepartment, FilterCohort, FilterThreshold, FilterSearch, FilterLearner, FilterTraceID}
}

// DefaultRange is the window used when none is selected.
const DefaultRange = "30d"

// Ranges offered by the time window select, newest first.
var Ranges = []string{"24h", "7d", "30d", "90d", "all"}

var rangeDurations = map[string]time.Duration{
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
	"90d": 90 * 24 * time.Hour,
}

// FilterForm is the submitted filter bar.
type FilterForm struct {
	Range      string `validate:"omitempty,oneof=24h 7d 30d 90d all"`
	Department string `validate:"omitempty,max=100"`
	Cohort     string `validate:"omitempty,max=50"`
	Threshold  string `validate:"omitempty,numeric"`
	Search     string `validate:"omitempty,max=100"`
	Learner    string `validate:"omitempty,max=64,printascii"`
	TraceID    string `validate:"omitempty,max=64,printascii"`
}

// FormFromValues reads the filters a page offers; others are ignored.
func FormFromValues(page PageConfig, get func(string) string) FilterForm {
	read := func(name string) string {
		if !page.HasFilter(name) {
			return ""
		}
		return strings.TrimSpace(get(name))
	}
	return FilterForm{
		Range:      read(FilterRange),
		Department: read(FilterDepartment),
		Cohort:     read(FilterCohort),
		Threshold:  read(FilterThreshold),
		Search:     read(FilterSearch),
		Learner:    read(FilterLearner),
		TraceID:    read(FilterTraceID),
	}
}

// Values returns the non-empty fields keyed by filter name, the shape kept
// in the session.
func (f FilterForm) Values() map[string]string {
	out := make(map[string]string)
	for name, v := range map[string]string{
		FilterRange:      f.Range,
		FilterDepartment: f.Department,
		FilterCohort:     f.Cohort,
		FilterThreshold:  f.Threshold,
		FilterSearch:     f.Search,
		FilterLearner:    f.Learner,
		FilterTraceID:    f.TraceID,
	} {
		if v != "" {
			out[name] = v
		}
	}
	return out
}

// FieldError names the offending filter.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("filter %s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return httpx.ErrValidation }

// Validate checks the form.
func (f FilterForm) Validate(v *validator.Validate) error {
	if err := v.Struct(f); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return &FieldError{Field: strings.ToLower(fieldErrs[0].Field()), Err: fieldErrs[0]}
		}
		return &FieldError{Field: "form", Err: err}
	}
	if f.Threshold != "" {
		t, _ := strconv.ParseFloat(f.Threshold, 64)
		if t <= 0 || t > 100 {
			return &FieldError{Field: FilterThreshold, Err: errors.New("must be in (0, 100]")}
		}
	}
	return nil
}

// Filters converts the form to query filters. The default window is the
// last 30 days.
func (f FilterForm) Filters(now time.Time) query.Filters {
	out := query.Filters{
		Department: f.Department,
		Cohort:     f.Cohort,
		Search:     f.Search,
		Learner:    f.Learner,
		TraceID:    f.TraceID,
	}
	r := f.Range
	if r == "" {
		r = DefaultRange
	}
	if d, ok := rangeDurations[r]; ok {
		out.Since = now.UTC().Add(-d)
	}
	if f.Threshold != "" {
		out.Threshold, _ = strconv.ParseFloat(f.Threshold, 64)
	}
	return out
}
