package domain

// Role constants define the known roles.
const (
	RoleMember     = "member"
	RoleModerator  = "moderator"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superadmin"
)

// AdminRoles returns the role set that grants access to the admin trust domain.
func AdminRoles() []string {
	return []string{RoleAdmin, RoleSuperAdmin}
}

// ValidRoles returns the set of valid roles.
func ValidRoles() []string {
	return []string{RoleMember, RoleModerator, RoleAdmin, RoleSuperAdmin}
}

// IsValidRole checks whether the given role string is a valid role.
func IsValidRole(role string) bool {
	for _, r := range ValidRoles() {
		if r == role {
			return true
		}
	}
	return false
}
