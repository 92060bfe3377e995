package identity

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

//go:embed default_credentials.yaml
var defaultCredentials []byte

// ErrPlaintextPassword is returned when a credential file carries a
// plaintext password and plaintext is not allowed.
var ErrPlaintextPassword = errors.New("identity: plaintext password not allowed")

// Store is the immutable credential store loaded at startup.
type Store struct {
	identities map[string]Identity
	hashes     map[string]string
}

type fileFormat struct {
	Identities []fileIdentity `yaml:"identities"`
}

type fileIdentity struct {
	Key          string   `yaml:"key"`
	Name         string   `yaml:"name"`
	Role         string   `yaml:"role"`
	PasswordHash string   `yaml:"password_hash"`
	Password     string   `yaml:"password"`
	Departments  []string `yaml:"departments"`
	Cohorts      []string `yaml:"cohorts"`
	LearnerID    string   `yaml:"learner_id"`
}

// LoadOptions tunes credential loading.
type LoadOptions struct {
	// AllowPlaintext accepts `password` entries and hashes them on load.
	AllowPlaintext bool
	// Cost is the bcrypt cost used for plaintext entries.
	Cost int
}

// Default returns the development credential fixture.
func Default() (*Store, error) {
	return Load(bytes.NewReader(defaultCredentials), LoadOptions{AllowPlaintext: true})
}

// LoadFile reads a YAML credential file.
func LoadFile(path string, opts LoadOptions) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("identity: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f, opts)
}

// Load parses and validates a YAML credential document.
func Load(r io.Reader, opts LoadOptions) (*Store, error) {
	var doc fileFormat
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("identity: decode: %w", err)
	}
	if opts.Cost == 0 {
		opts.Cost = bcrypt.DefaultCost
	}

	store := &Store{
		identities: make(map[string]Identity, len(doc.Identities)),
		hashes:     make(map[string]string, len(doc.Identities)),
	}
	for i, entry := range doc.Identities {
		ident, hash, err := entry.resolve(opts)
		if err != nil {
			return nil, fmt.Errorf("identity: entry %d: %w", i, err)
		}
		if _, dup := store.identities[ident.Key]; dup {
			return nil, fmt.Errorf("identity: duplicate key %q", ident.Key)
		}
		store.identities[ident.Key] = ident
		store.hashes[ident.Key] = hash
	}
	if len(store.identities) == 0 {
		return nil, errors.New("identity: no identities defined")
	}
	return store, nil
}

func (f fileIdentity) resolve(opts LoadOptions) (Identity, string, error) {
	key := NormalizeKey(f.Key)
	if key == "" {
		return Identity{}, "", errors.New("key required")
	}
	role, ok := ParseRole(f.Role)
	if !ok {
		return Identity{}, "", fmt.Errorf("%s: unknown role %q", key, f.Role)
	}
	hash := strings.TrimSpace(f.PasswordHash)
	switch {
	case hash != "":
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return Identity{}, "", fmt.Errorf("%s: password_hash: %w", key, err)
		}
	case f.Password != "":
		if !opts.AllowPlaintext {
			return Identity{}, "", fmt.Errorf("%s: %w", key, ErrPlaintextPassword)
		}
		raw, err := bcrypt.GenerateFromPassword([]byte(f.Password), opts.Cost)
		if err != nil {
			return Identity{}, "", fmt.Errorf("%s: hash password: %w", key, err)
		}
		hash = string(raw)
	default:
		return Identity{}, "", fmt.Errorf("%s: password_hash required", key)
	}

	ident := Identity{
		Key:         key,
		Name:        strings.TrimSpace(f.Name),
		Role:        role,
		Departments: cleanList(f.Departments),
		Cohorts:     cleanList(f.Cohorts),
		LearnerID:   strings.TrimSpace(f.LearnerID),
	}
	if ident.Name == "" {
		ident.Name = key
	}
	if role == RoleAdmin {
		ident.Departments = []string{ScopeAll}
		ident.Cohorts = []string{ScopeAll}
	}
	if len(ident.Departments) == 0 || len(ident.Cohorts) == 0 {
		return Identity{}, "", fmt.Errorf("%s: departments and cohorts required (use %q to lift)", key, ScopeAll)
	}
	return ident, hash, nil
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Lookup returns the identity and its bcrypt hash.
func (s *Store) Lookup(key string) (Identity, string, bool) {
	if s == nil {
		return Identity{}, "", false
	}
	key = NormalizeKey(key)
	ident, ok := s.identities[key]
	if !ok {
		return Identity{}, "", false
	}
	return ident, s.hashes[key], true
}

// Get returns the identity without its hash.
func (s *Store) Get(key string) (Identity, bool) {
	ident, _, ok := s.Lookup(key)
	return ident, ok
}

// Identities lists identities sorted by key.
func (s *Store) Identities() []Identity {
	if s == nil {
		return nil
	}
	out := make([]Identity, 0, len(s.identities))
	for _, ident := range s.identities {
		out = append(out, ident)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Roles lists the distinct roles present in the store.
func (s *Store) Roles() []Role {
	seen := make(map[Role]struct{})
	var roles []Role
	for _, ident := range s.Identities() {
		if _, ok := seen[ident.Role]; ok {
			continue
		}
		seen[ident.Role] = struct{}{}
		roles = append(roles, ident.Role)
	}
	return roles
}
