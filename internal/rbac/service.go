package rbac

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/franchisepos/inventory/internal/shared"
)

// Store loads principals.
type Store interface {
	LoadPrincipal(ctx context.Context, userID int64) (Principal, error)
}

// Service resolves the caller's role and location scope.
type Service struct {
	store Store
}

// NewService constructs a Service backed by store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Principal loads the principal for the session user in ctx.
func (s *Service) Principal(ctx context.Context) (Principal, error) {
	userID := shared.UserIDFromContext(ctx)
	if userID == 0 {
		return Principal{}, ErrNoSession
	}
	p, err := s.store.LoadPrincipal(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return Principal{}, ErrNoSession
	}
	return p, err
}

// AuthorizeLocation rejects callers outside the location's scope.
func (s *Service) AuthorizeLocation(ctx context.Context, locationID int64) error {
	p, err := s.Principal(ctx)
	if err != nil {
		return err
	}
	if !p.Scope().Allows(locationID) {
		return ErrLocationDenied
	}
	return nil
}

// AllowedLocations returns the caller's scope.
func (s *Service) AllowedLocations(ctx context.Context) (shared.LocationScope, error) {
	p, err := s.Principal(ctx)
	if err != nil {
		return shared.LocationScope{}, err
	}
	return p.Scope(), nil
}

// PGStore reads users and their location assignments from PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// LoadPrincipal loads an active user with assigned locations.
func (s *PGStore) LoadPrincipal(ctx context.Context, userID int64) (Principal, error) {
	var (
		p              Principal
		superAdmin     bool
		franchiseAdmin bool
	)
	err := s.pool.QueryRow(ctx, `SELECT id, username, is_super_admin, is_franchise_admin FROM users WHERE id = $1 AND is_active`, userID).
		Scan(&p.UserID, &p.Username, &superAdmin, &franchiseAdmin)
	if errors.Is(err, pgx.ErrNoRows) {
		return Principal{}, ErrNotFound
	}
	if err != nil {
		return Principal{}, err
	}
	switch {
	case superAdmin:
		p.Role = RoleSuperAdmin
		return p, nil
	case franchiseAdmin:
		p.Role = RoleFranchiseAdmin
	default:
		p.Role = RoleStaff
		return p, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT location_id FROM user_locations WHERE user_id = $1 ORDER BY location_id`, userID)
	if err != nil {
		return Principal{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return Principal{}, err
		}
		p.LocationIDs = append(p.LocationIDs, id)
	}
	return p, rows.Err()
}
