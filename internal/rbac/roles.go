package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOwner      = "owner"
	RoleAgent      = "agent"
	RoleAnalyst    = "analyst"
	RoleSuperAdmin = "super_admin"

	// RoleSupportOperator is a hidden role for provider-side debugging.
	// It is denied everywhere unless a route opts in explicitly.
	RoleSupportOperator = "support_operator"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsHiddenRole(role string) bool { return role == RoleSupportOperator }
