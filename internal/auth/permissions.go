package auth

// Permission represents a named capability in the system.
type Permission string

// Permission constants.
const (
	PermDashboardUser  Permission = "dashboard:user"
	PermDashboardAdmin Permission = "dashboard:admin"
	PermUserRead       Permission = "user:read"
	PermUserManage     Permission = "user:manage"
	PermSessionRevoke  Permission = "session:revoke"
	PermAuditRead      Permission = "audit:read"
)

// rolePermissions maps each role to its granted permissions.
// This is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleUser: {
		PermDashboardUser,
	},
	RoleAdmin: {
		PermDashboardUser,
		PermDashboardAdmin,
		PermUserRead,
		PermUserManage,
		PermSessionRevoke,
		PermAuditRead,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	perms, ok := rolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}

// DashboardPath returns the dashboard a role lands on after sign-in.
// This is the routing rule behind the root and sign-in redirects.
func DashboardPath(role Role) string {
	if role == RoleAdmin {
		return "/dashboard/admin"
	}
	return "/dashboard/user"
}
