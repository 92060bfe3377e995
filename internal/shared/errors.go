package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure. The message never says
	// which half of the credential was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccessDenied indicates an authenticated identity lacks the role or
	// scope for the requested page, filter or query.
	ErrAccessDenied = errors.New("access denied")
	// ErrUnauthenticated indicates no identity is bound to the session.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrMisconfigured indicates a deployment problem such as a student
	// identity without a learner id.
	ErrMisconfigured = errors.New("configuration error")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)
