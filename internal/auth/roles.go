package auth

import "slices"

const (
	RoleAdmin  = "admin"
	RoleUser   = "user"
	RoleViewer = "viewer"
)

const (
	PermissionGraphQuery     = "graph.query"
	PermissionGraphView      = "graph.view"
	PermissionDocumentUpload = "document.upload"
	PermissionDocumentView   = "document.view"
	PermissionDocumentDelete = "document.delete"
	PermissionTenantView     = "tenant.view"
	PermissionTenantManage   = "tenant.manage"
	PermissionUserManage     = "user.manage"
)

// AllPermissions lists every known permission. Admins and the master API key
// identity hold all of them.
var AllPermissions = []string{
	PermissionGraphQuery,
	PermissionGraphView,
	PermissionDocumentUpload,
	PermissionDocumentView,
	PermissionDocumentDelete,
	PermissionTenantView,
	PermissionTenantManage,
	PermissionUserManage,
}

var rolePermissions = map[string][]string{
	RoleAdmin: AllPermissions,
	RoleUser: {
		PermissionGraphQuery,
		PermissionGraphView,
		PermissionDocumentUpload,
		PermissionDocumentView,
		PermissionDocumentDelete,
		PermissionTenantView,
	},
	RoleViewer: {
		PermissionGraphQuery,
		PermissionGraphView,
		PermissionDocumentView,
		PermissionTenantView,
	},
}

// ValidRole reports whether the role is one of the known roles.
func ValidRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

// PermissionsForRole returns the permission set of a role. Unknown roles get
// no permissions.
func PermissionsForRole(role string) []string {
	perms, ok := rolePermissions[role]
	if !ok {
		return nil
	}
	return slices.Clone(perms)
}

// HasPermission reports whether the permission set contains the permission.
func HasPermission(permissions []string, permission string) bool {
	return slices.Contains(permissions, permission)
}
