package rbac

import (
	"slices"

	"github.com/mind-edu/mind-insights/internal/identity"
	"github.com/mind-edu/mind-insights/internal/shared"
)

// Permission is the static permission record of one role.
type Permission struct {
	Role           identity.Role
	Pages          []string
	ViewAllUsers   bool
	ModifySettings bool
	ViewTelemetry  bool
	ExportData     bool
}

// CanAccess reports whether the page is in the allowed set.
func (p Permission) CanAccess(page string) bool {
	return slices.Contains(p.Pages, page)
}

// Has reports whether the capability flag is set.
func (p Permission) Has(capability string) bool {
	switch capability {
	case shared.CapViewAllUsers:
		return p.ViewAllUsers
	case shared.CapModifySettings:
		return p.ModifySettings
	case shared.CapViewTelemetry:
		return p.ViewTelemetry
	case shared.CapExportData:
		return p.ExportData
	default:
		return false
	}
}

// Capabilities lists the capability flags that are set.
func (p Permission) Capabilities() []string {
	var caps []string
	for _, c := range shared.Capabilities() {
		if p.Has(c) {
			caps = append(caps, c)
		}
	}
	return caps
}

// DefaultPermissions returns the built-in role table.
func DefaultPermissions() []Permission {
	return []Permission{
		{
			Role:           identity.RoleAdmin,
			Pages:          shared.Pages(),
			ViewAllUsers:   true,
			ModifySettings: true,
			ViewTelemetry:  true,
			ExportData:     true,
		},
		{
			Role:          identity.RoleDeveloper,
			Pages:         []string{shared.PageDeveloper},
			ViewTelemetry: true,
			ExportData:    true,
		},
		{
			Role:       identity.RoleFaculty,
			Pages:      []string{shared.PageFaculty},
			ExportData: true,
		},
		{
			Role:  identity.RoleStudent,
			Pages: []string{shared.PageStudent},
		},
	}
}
