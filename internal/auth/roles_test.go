package auth

import (
	"slices"
	"testing"
)

func TestPermissionsForRole(t *testing.T) {
	tests := []struct {
		name    string
		role    string
		has     []string
		hasNot  []string
		invalid bool
	}{
		{
			name: "admin has everything",
			role: RoleAdmin,
			has:  AllPermissions,
		},
		{
			name:   "user can upload and delete but not manage",
			role:   RoleUser,
			has:    []string{PermissionGraphQuery, PermissionDocumentUpload, PermissionDocumentDelete},
			hasNot: []string{PermissionTenantManage, PermissionUserManage},
		},
		{
			name:   "viewer is read only",
			role:   RoleViewer,
			has:    []string{PermissionGraphQuery, PermissionGraphView, PermissionDocumentView},
			hasNot: []string{PermissionDocumentUpload, PermissionDocumentDelete, PermissionUserManage},
		},
		{
			name:    "unknown role has nothing",
			role:    "superuser",
			hasNot:  []string{PermissionGraphQuery},
			invalid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if ValidRole(tt.role) == tt.invalid {
				t.Errorf("ValidRole(%q) = %v, want %v", tt.role, !tt.invalid, tt.invalid)
			}

			perms := PermissionsForRole(tt.role)
			for _, p := range tt.has {
				if !HasPermission(perms, p) {
					t.Errorf("role %q should have %q", tt.role, p)
				}
			}
			for _, p := range tt.hasNot {
				if HasPermission(perms, p) {
					t.Errorf("role %q should not have %q", tt.role, p)
				}
			}
		})
	}
}

func TestPermissionsForRoleReturnsCopy(t *testing.T) {
	perms := PermissionsForRole(RoleViewer)
	if len(perms) == 0 {
		t.Fatalf("viewer has no permissions")
	}
	perms[0] = "tampered"

	if slices.Contains(PermissionsForRole(RoleViewer), "tampered") {
		t.Errorf("mutating the returned slice must not affect the role definition")
	}
}

func TestCheckPassword(t *testing.T) {
	hash, err := HashPassword("Sup3rSecret")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	if !CheckPassword(hash, "Sup3rSecret") {
		t.Errorf("correct password rejected")
	}
	if CheckPassword(hash, "wrong") {
		t.Errorf("wrong password accepted")
	}
	if CheckPassword("not-a-hash", "Sup3rSecret") {
		t.Errorf("malformed hash accepted")
	}
}
