package shared

// Dashboard pages guarded by role permissions.
const (
	PageAdmin     = "Admin"
	PageDeveloper = "Developer"
	PageFaculty   = "Faculty"
	PageStudent   = "Student"
)

// Capability flags carried by every role permission record.
const (
	CapViewAllUsers   = "users.view_all"
	CapModifySettings = "settings.modify"
	CapViewTelemetry  = "telemetry.view"
	CapExportData     = "data.export"
)

// Pages lists every dashboard page in navigation order.
func Pages() []string {
	return []string{
		PageAdmin,
		PageDeveloper,
		PageFaculty,
		PageStudent,
	}
}

// Capabilities lists every capability flag.
func Capabilities() []string {
	return []string{
		CapViewAllUsers,
		CapModifySettings,
		CapViewTelemetry,
		CapExportData,
	}
}
