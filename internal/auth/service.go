package auth

import (
	"context"
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/mind-edu/mind-insights/internal/identity"
	"github.com/mind-edu/mind-insights/internal/shared"
)

// CredentialSource resolves identities and their password hashes.
type CredentialSource interface {
	Lookup(key string) (identity.Identity, string, bool)
}

// AccessTable answers role to page checks.
type AccessTable interface {
	CanAccess(role identity.Role, page string) bool
	HomePath(role identity.Role) string
}

// Gate verifies credentials, binds identities to sessions and answers page
// access checks.
type Gate struct {
	creds     CredentialSource
	access    AccessTable
	sessions  *shared.SessionManager
	csrf      *shared.CSRFManager
	dummyHash []byte
}

// NewGate constructs a Gate. Sessions and csrf may be nil in tests that
// only verify credentials.
func NewGate(creds CredentialSource, access AccessTable, sessions *shared.SessionManager, csrf *shared.CSRFManager) (*Gate, error) {
	if creds == nil || access == nil {
		return nil, errors.New("auth: credential source and access table required")
	}
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	// bcrypt caps input at 72 bytes; the seed stays well under.
	dummy, err := bcrypt.GenerateFromPassword(seed, bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &Gate{creds: creds, access: access, sessions: sessions, csrf: csrf, dummyHash: dummy}, nil
}

// VerifyCredential reports whether secret matches the stored hash of key.
// Unknown keys are compared against a dummy hash so both paths cost one
// bcrypt comparison.
func (g *Gate) VerifyCredential(key, secret string) bool {
	_, ok := g.verify(key, secret)
	return ok
}

func (g *Gate) verify(key, secret string) (identity.Identity, bool) {
	ident, hash, found := g.creds.Lookup(key)
	target := g.dummyHash
	if found {
		target = []byte(hash)
	}
	match := bcrypt.CompareHashAndPassword(target, []byte(secret)) == nil
	if !found || !match {
		return identity.Identity{}, false
	}
	return ident, true
}

// EstablishSession binds the identity to the session after a successful
// verification. Any failure returns shared.ErrInvalidCredentials.
func (g *Gate) EstablishSession(ctx context.Context, sess *shared.Session, key, secret string) (identity.Identity, error) {
	ident, ok := g.verify(key, secret)
	if !ok {
		return identity.Identity{}, shared.ErrInvalidCredentials
	}
	if sess == nil {
		return identity.Identity{}, errors.New("auth: session missing")
	}
	sess.Reset()
	if g.sessions != nil {
		g.sessions.Regenerate(sess)
	}
	sess.SetUser(ident.Key)
	sess.SetRole(string(ident.Role))
	if g.csrf != nil {
		g.csrf.Rotate(sess)
	}
	return ident, nil
}

// CanAccess is a pure lookup against the role permission table.
func (g *Gate) CanAccess(role identity.Role, page string) bool {
	return g.access.CanAccess(role, page)
}

// HomePath is where a signed-in role lands after login.
func (g *Gate) HomePath(role identity.Role) string {
	return g.access.HomePath(role)
}

// TeardownSession clears the bound identity and remembered filters and
// marks the session for deletion. Safe to call repeatedly.
func (g *Gate) TeardownSession(sess *shared.Session) {
	if sess == nil {
		return
	}
	sess.Reset()
	if g.sessions != nil {
		g.sessions.Destroy(sess)
	}
}

// Current resolves the identity bound to the session.
func (g *Gate) Current(sess *shared.Session) (identity.Identity, bool) {
	if !sess.Authenticated() {
		return identity.Identity{}, false
	}
	ident, _, ok := g.creds.Lookup(sess.User())
	if !ok || string(ident.Role) != sess.Role() {
		return identity.Identity{}, false
	}
	return ident, true
}
