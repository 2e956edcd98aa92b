package rbac

import (
	"fmt"

	"github.com/franchisepos/inventory/internal/shared"
)

// Role is the position of a user in the franchise hierarchy.
type Role string

// Supported roles.
const (
	RoleSuperAdmin     Role = "super_admin"
	RoleFranchiseAdmin Role = "franchise_admin"
	RoleStaff          Role = "staff"
)

// Principal describes the authenticated actor.
type Principal struct {
	UserID      int64
	Username    string
	Role        Role
	LocationIDs []int64
}

// IsSuperAdmin reports whether the principal may act on every location.
func (p Principal) IsSuperAdmin() bool {
	return p.Role == RoleSuperAdmin
}

// Scope returns the locations the principal may act on. Super admins reach
// every location, franchise admins their assigned ones, staff none.
func (p Principal) Scope() shared.LocationScope {
	switch p.Role {
	case RoleSuperAdmin:
		return shared.LocationScope{All: true}
	case RoleFranchiseAdmin:
		ids := make([]int64, len(p.LocationIDs))
		copy(ids, p.LocationIDs)
		return shared.LocationScope{IDs: ids}
	default:
		return shared.LocationScope{}
	}
}

var (
	// ErrNotFound indicates that the user does not exist or is inactive.
	ErrNotFound = fmt.Errorf("rbac: user %w", shared.ErrNotFound)
	// ErrNoSession indicates the request carries no authenticated user.
	ErrNoSession = fmt.Errorf("rbac: %w: authentication required", shared.ErrUnauthorized)
	// ErrLocationDenied indicates the caller may not act on a location.
	ErrLocationDenied = fmt.Errorf("rbac: %w: you do not have access to this location", shared.ErrForbidden)
	// ErrSuperAdminOnly indicates an operation restricted to super admins.
	ErrSuperAdminOnly = fmt.Errorf("rbac: %w: super admin only", shared.ErrForbidden)
)
