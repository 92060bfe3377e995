package rbac

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/mind-edu/mind-insights/internal/identity"
	"github.com/mind-edu/mind-insights/internal/shared"
)

// Service answers page and capability checks from a static table.
type Service struct {
	table map[identity.Role]Permission
	order []identity.Role
}

// NewService indexes the given records. Later records for the same role
// are rejected.
func NewService(records ...Permission) (*Service, error) {
	s := &Service{table: make(map[identity.Role]Permission, len(records))}
	for _, rec := range records {
		if _, dup := s.table[rec.Role]; dup {
			return nil, fmt.Errorf("rbac: duplicate record for role %q", rec.Role)
		}
		s.table[rec.Role] = rec
		s.order = append(s.order, rec.Role)
	}
	if err := s.checkAdminSuperset(); err != nil {
		return nil, err
	}
	return s, nil
}

// DefaultService returns the service over DefaultPermissions.
func DefaultService() *Service {
	s, err := NewService(DefaultPermissions()...)
	if err != nil {
		panic(err)
	}
	return s
}

// CanAccess is a pure lookup of the page in the role's allowed set.
func (s *Service) CanAccess(role identity.Role, page string) bool {
	perm, ok := s.Permission(role)
	return ok && perm.CanAccess(page)
}

// HomePath is the first dashboard the role may open, in page order. Roles
// without any page are sent to the login page.
func (s *Service) HomePath(role identity.Role) string {
	for _, page := range shared.Pages() {
		if s.CanAccess(role, page) {
			return PagePath(page)
		}
	}
	return LoginPath
}

// PagePath is the URL of a dashboard page.
func PagePath(page string) string {
	return "/dashboard/" + url.PathEscape(page)
}

// Has reports whether the role carries the capability.
func (s *Service) Has(role identity.Role, capability string) bool {
	perm, ok := s.Permission(role)
	return ok && perm.Has(capability)
}

// Permission returns the record of a role.
func (s *Service) Permission(role identity.Role) (Permission, bool) {
	if s == nil {
		return Permission{}, false
	}
	perm, ok := s.table[role]
	return perm, ok
}

// Permissions lists the records in declaration order.
func (s *Service) Permissions() []Permission {
	out := make([]Permission, 0, len(s.order))
	for _, role := range s.order {
		out = append(out, s.table[role])
	}
	return out
}

// Validate checks that every role in use has exactly one record.
func (s *Service) Validate(roles []identity.Role) error {
	var errs []error
	for _, role := range roles {
		if _, ok := s.table[role]; !ok {
			errs = append(errs, fmt.Errorf("rbac: role %q has no permission record", role))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) checkAdminSuperset() error {
	admin, ok := s.table[identity.RoleAdmin]
	if !ok {
		return nil
	}
	for _, perm := range s.table {
		for _, page := range perm.Pages {
			if !admin.CanAccess(page) {
				return fmt.Errorf("rbac: admin lacks page %q granted to %q", page, perm.Role)
			}
		}
	}
	return nil
}
