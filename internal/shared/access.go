package shared

import "context"

// LocationScope lists the locations a caller may act on.
type LocationScope struct {
	All bool
	IDs []int64
}

// Allows reports whether locationID is inside the scope.
func (s LocationScope) Allows(locationID int64) bool {
	if s.All {
		return true
	}
	for _, id := range s.IDs {
		if id == locationID {
			return true
		}
	}
	return false
}

// LocationAccess decides whether the caller in ctx may act on a location.
// AuthorizeLocation returns an error wrapping ErrForbidden or ErrUnauthorized
// when access is denied.
type LocationAccess interface {
	AuthorizeLocation(ctx context.Context, locationID int64) error
	AllowedLocations(ctx context.Context) (LocationScope, error)
}
