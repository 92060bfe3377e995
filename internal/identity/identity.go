// Package identity holds the static credential store: the principals that
// may sign in, their roles and their department/cohort scope.
package identity

import (
	"slices"
	"strings"
)

// Role is one of the closed set of dashboard roles.
type Role string

// Known roles.
const (
	RoleAdmin     Role = "admin"
	RoleDeveloper Role = "developer"
	RoleFaculty   Role = "faculty"
	RoleStudent   Role = "student"
)

// ScopeAll is the sentinel that lifts a department or cohort restriction.
const ScopeAll = "All"

// Roles lists every known role.
func Roles() []Role {
	return []Role{RoleAdmin, RoleDeveloper, RoleFaculty, RoleStudent}
}

// ParseRole normalises a role name.
func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if slices.Contains(Roles(), role) {
		return role, true
	}
	return "", false
}

// Identity represents a login principal.
type Identity struct {
	Key         string
	Name        string
	Role        Role
	Departments []string
	Cohorts     []string
	LearnerID   string
}

// AllDepartments reports whether the department scope is unrestricted.
func (i Identity) AllDepartments() bool {
	return unrestricted(i.Departments)
}

// AllCohorts reports whether the cohort scope is unrestricted.
func (i Identity) AllCohorts() bool {
	return unrestricted(i.Cohorts)
}

// HasDepartment reports whether the department is inside the scope.
func (i Identity) HasDepartment(dept string) bool {
	return i.AllDepartments() || slices.Contains(i.Departments, dept)
}

// HasCohort reports whether the cohort is inside the scope.
func (i Identity) HasCohort(cohort string) bool {
	return i.AllCohorts() || slices.Contains(i.Cohorts, cohort)
}

func unrestricted(values []string) bool {
	return slices.Contains(values, ScopeAll)
}

// NormalizeKey lower-cases and trims an identity key.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
