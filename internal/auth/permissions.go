package auth

import "household-planet/internal/models"

// Permission is a single capability an endpoint can require.
type Permission string

const (
	PermOrdersReadOwn  Permission = "orders:read_own"
	PermOrdersCreate   Permission = "orders:create"
	PermOrdersRead     Permission = "orders:read"
	PermOrdersWrite    Permission = "orders:write"
	PermPromosRead     Permission = "promos:read"
	PermPromosWrite    Permission = "promos:write"
	PermAnalyticsRead  Permission = "analytics:read"
	PermPaymentsManage Permission = "payments:manage"
)

// PermissionSet is an unordered set of permissions.
type PermissionSet map[Permission]struct{}

func newSet(perms ...Permission) PermissionSet {
	s := make(PermissionSet, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

// Has reports whether p is in the set.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

func (s PermissionSet) union(other PermissionSet) PermissionSet {
	out := make(PermissionSet, len(s)+len(other))
	for p := range s {
		out[p] = struct{}{}
	}
	for p := range other {
		out[p] = struct{}{}
	}
	return out
}

var (
	customerPerms = newSet(PermOrdersReadOwn, PermOrdersCreate)
	staffPerms    = customerPerms.union(newSet(PermOrdersRead, PermOrdersWrite, PermPromosRead))
	adminPerms    = staffPerms.union(newSet(PermPromosWrite, PermAnalyticsRead))
	superPerms    = adminPerms.union(newSet(PermPaymentsManage))
)

var rolePermissions = map[models.Role]PermissionSet{
	models.RoleCustomer:   customerPerms,
	models.RoleStaff:      staffPerms,
	models.RoleAdmin:      adminPerms,
	models.RoleSuperAdmin: superPerms,
}

// PermissionsFor returns the capability set of a role. Unknown roles get an empty set.
func PermissionsFor(role models.Role) PermissionSet {
	if s, ok := rolePermissions[role]; ok {
		return s
	}
	return PermissionSet{}
}

// Can reports whether role holds permission p.
func Can(role models.Role, p Permission) bool {
	return PermissionsFor(role).Has(p)
}

// KnownRole reports whether the role is recognised.
func KnownRole(role models.Role) bool {
	_, ok := rolePermissions[role]
	return ok
}
