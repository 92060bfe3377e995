package warehouse

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned when no warehouse driver is configured.
var ErrNotConfigured = errors.New("warehouse: not configured")

// ConnectionError reports that the warehouse client could not be built,
// e.g. missing or invalid service credentials.
type ConnectionError struct {
	Driver string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("warehouse: connect %s: %v", e.Driver, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryError reports a malformed or rejected query. Message carries the
// warehouse's own error text.
type QueryError struct {
	Query   string
	Code    string
	Reason  string
	Message string
	Err     error
}

func (e *QueryError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Reason != "" {
		return fmt.Sprintf("warehouse: query %s: %s (%s)", e.Query, msg, e.Reason)
	}
	return fmt.Sprintf("warehouse: query %s: %s", e.Query, msg)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Quota reports whether the warehouse rejected the query for quota or rate
// reasons. Callers decide whether to back off and retry.
func (e *QueryError) Quota() bool {
	switch e.Reason {
	case ReasonQuota, ReasonThrottled:
		return true
	}
	return false
}

// Well known QueryError reasons.
const (
	ReasonQuota     = "quotaExceeded"
	ReasonThrottled = "throttled"
	ReasonInvalid   = "invalidQuery"
)

// IsConnection reports whether err is a ConnectionError.
func IsConnection(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// IsQuery reports whether err is a QueryError.
func IsQuery(err error) bool {
	var qErr *QueryError
	return errors.As(err, &qErr)
}

func wrapQuery(q Query, err error) error {
	if err == nil {
		return nil
	}
	var qErr *QueryError
	if errors.As(err, &qErr) {
		return err
	}
	return &QueryError{Query: q.Name, Err: err}
}
