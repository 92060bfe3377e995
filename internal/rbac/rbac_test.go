package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-edu/mind-insights/internal/identity"
	"github.com/mind-edu/mind-insights/internal/shared"
)

func TestCanAccessMatchesTable(t *testing.T) {
	svc := DefaultService()
	want := map[identity.Role][]string{
		identity.RoleAdmin:     {shared.PageAdmin, shared.PageDeveloper, shared.PageFaculty, shared.PageStudent},
		identity.RoleDeveloper: {shared.PageDeveloper},
		identity.RoleFaculty:   {shared.PageFaculty},
		identity.RoleStudent:   {shared.PageStudent},
	}
	for _, role := range identity.Roles() {
		for _, page := range shared.Pages() {
			expected := false
			for _, p := range want[role] {
				if p == page {
					expected = true
				}
			}
			for i := 0; i < 3; i++ {
				assert.Equal(t, expected, svc.CanAccess(role, page), "%s -> %s", role, page)
			}
		}
	}
	assert.False(t, svc.CanAccess("janitor", shared.PageAdmin))
	assert.False(t, svc.CanAccess(identity.RoleAdmin, "Billing"))
}

func TestAdminPagesAreSuperset(t *testing.T) {
	svc := DefaultService()
	admin, ok := svc.Permission(identity.RoleAdmin)
	require.True(t, ok)
	for _, perm := range svc.Permissions() {
		for _, page := range perm.Pages {
			assert.True(t, admin.CanAccess(page), "admin missing %s", page)
		}
	}
}

func TestNewServiceRejectsBrokenTables(t *testing.T) {
	_, err := NewService(
		Permission{Role: identity.RoleAdmin, Pages: []string{shared.PageAdmin}},
		Permission{Role: identity.RoleStudent, Pages: []string{shared.PageStudent}},
	)
	require.Error(t, err)

	_, err = NewService(
		Permission{Role: identity.RoleStudent, Pages: []string{shared.PageStudent}},
		Permission{Role: identity.RoleStudent, Pages: []string{shared.PageStudent}},
	)
	require.Error(t, err)
}

func TestCapabilities(t *testing.T) {
	svc := DefaultService()
	assert.True(t, svc.Has(identity.RoleDeveloper, shared.CapViewTelemetry))
	assert.True(t, svc.Has(identity.RoleDeveloper, shared.CapExportData))
	assert.False(t, svc.Has(identity.RoleDeveloper, shared.CapModifySettings))
	assert.True(t, svc.Has(identity.RoleFaculty, shared.CapExportData))
	assert.False(t, svc.Has(identity.RoleFaculty, shared.CapViewTelemetry))
	assert.Empty(t, mustPermission(t, svc, identity.RoleStudent).Capabilities())
	assert.ElementsMatch(t, shared.Capabilities(), mustPermission(t, svc, identity.RoleAdmin).Capabilities())
}

func TestValidateCoversStoreRoles(t *testing.T) {
	svc, err := NewService(Permission{Role: identity.RoleStudent, Pages: []string{shared.PageStudent}})
	require.NoError(t, err)
	require.Error(t, svc.Validate([]identity.Role{identity.RoleStudent, identity.RoleFaculty}))
	require.NoError(t, DefaultService().Validate(identity.Roles()))
}

func TestRequireAll(t *testing.T) {
	var denied int
	mw := Middleware{Service: DefaultService(), Denied: func(w http.ResponseWriter, r *http.Request) {
		denied++
		w.WriteHeader(http.StatusForbidden)
	}}
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	handler := mw.RequireAll(shared.CapExportData, shared.CapViewTelemetry)(ok)

	cases := []struct {
		name   string
		role   string
		user   string
		status int
	}{
		{name: "anonymous", status: http.StatusSeeOther},
		{name: "developer", user: "dev@mind.edu", role: "developer", status: http.StatusNoContent},
		{name: "admin", user: "admin@mind.edu", role: "admin", status: http.StatusNoContent},
		{name: "faculty", user: "faculty@mind.edu", role: "faculty", status: http.StatusForbidden},
		{name: "bad role", user: "x@mind.edu", role: "root", status: http.StatusSeeOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/settings/permissions", nil)
			sess := &shared.Session{}
			if tc.user != "" {
				sess.SetUser(tc.user)
				sess.SetRole(tc.role)
			}
			req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			assert.Equal(t, tc.status, rr.Code)
			if rr.Code == http.StatusSeeOther {
				assert.Equal(t, LoginPath, rr.Header().Get("Location"))
			}
		})
	}
	assert.Equal(t, 1, denied)

	plain := Middleware{Service: DefaultService()}.RequireAll(shared.CapModifySettings)(ok)
	req := httptest.NewRequest(http.MethodPost, "/settings/cache/flush", nil)
	sess := &shared.Session{}
	sess.SetUser("dev@mind.edu")
	sess.SetRole("developer")
	rr := httptest.NewRecorder()
	plain.ServeHTTP(rr, req.WithContext(shared.ContextWithSession(req.Context(), sess)))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestHomePath(t *testing.T) {
	svc := DefaultService()
	assert.Equal(t, "/dashboard/Admin", svc.HomePath(identity.RoleAdmin))
	assert.Equal(t, "/dashboard/Developer", svc.HomePath(identity.RoleDeveloper))
	assert.Equal(t, "/dashboard/Student", svc.HomePath(identity.RoleStudent))
	assert.Equal(t, LoginPath, svc.HomePath(identity.Role("guest")))
}

func mustPermission(t *testing.T, svc *Service, role identity.Role) Permission {
	t.Helper()
	perm, ok := svc.Permission(role)
	require.True(t, ok)
	return perm
}
