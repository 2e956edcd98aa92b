package masterdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/franchisepos/inventory/internal/platform/cache"
	"github.com/franchisepos/inventory/internal/shared"
)

// RepositoryPort abstracts catalog reads and transactions.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListIngredients(ctx context.Context, active bool) ([]Ingredient, error)
	GetIngredient(ctx context.Context, id int64) (Ingredient, error)
	GetIngredients(ctx context.Context, ids []int64) (map[int64]Ingredient, error)
	GetLocation(ctx context.Context, id int64) (Location, error)
	ListLocations(ctx context.Context) ([]Location, error)
	ListAssignments(ctx context.Context, locationID int64, assigned *bool) ([]LocationIngredient, error)
	GetAssignment(ctx context.Context, id int64) (LocationIngredient, error)
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	GetIngredientForUpdate(ctx context.Context, id int64) (Ingredient, error)
	FindIngredientByName(ctx context.Context, normalized string) (Ingredient, error)
	ActiveCompositesUsing(ctx context.Context, rawID int64) ([]Ingredient, error)
	InsertIngredient(ctx context.Context, ing Ingredient) (int64, error)
	UpdateIngredient(ctx context.Context, ing Ingredient) error
	SetIngredientActive(ctx context.Context, id int64, active bool) error
	UnassignIngredient(ctx context.Context, ingredientID int64) (int64, error)
	GetAssignmentForUpdate(ctx context.Context, id int64) (LocationIngredient, error)
	FindAssignment(ctx context.Context, locationID, ingredientID int64) (LocationIngredient, error)
	UpsertAssignment(ctx context.Context, locationID, ingredientID int64, available bool) (int64, error)
	SetAssignmentAvailability(ctx context.Context, id int64, available bool) error
	UnassignAssignment(ctx context.Context, id int64) error
	AvailableCompositesUsing(ctx context.Context, locationID, rawID int64) ([]string, error)
}

// Service coordinates catalog operations.
type Service struct {
	repo   RepositoryPort
	cache  *cache.Versioned
	access shared.LocationAccess
	audit  shared.Auditor
	logger *slog.Logger
}

// NewService builds Service. cache and access may be nil.
func NewService(repo RepositoryPort, c *cache.Versioned, access shared.LocationAccess, audit shared.Auditor, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: c, access: access, audit: audit, logger: logger}
}

// ListIngredients returns active ingredients sorted by name.
func (s *Service) ListIngredients(ctx context.Context) ([]Ingredient, error) {
	var out []Ingredient
	err := s.cache.FetchJSON(ctx, &out, func(ctx context.Context) (any, error) {
		return s.repo.ListIngredients(ctx, true)
	}, "ingredients", "active")
	return out, err
}

// ListArchived returns deactivated ingredients.
func (s *Service) ListArchived(ctx context.Context) ([]Ingredient, error) {
	return s.repo.ListIngredients(ctx, false)
}

// GetIngredient returns an active ingredient.
func (s *Service) GetIngredient(ctx context.Context, id int64) (Ingredient, error) {
	ing, err := s.repo.GetIngredient(ctx, id)
	if err != nil {
		return Ingredient{}, err
	}
	if !ing.IsActive {
		return Ingredient{}, ErrIngredientNotFound
	}
	return ing, nil
}

// RecipeNames resolves display names for the ingredients of a recipe.
func (s *Service) RecipeNames(ctx context.Context, recipe Recipe) (map[int64]string, error) {
	if len(recipe) == 0 {
		return nil, nil
	}
	found, err := s.repo.GetIngredients(ctx, recipe.IDs())
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(found))
	for id, ing := range found {
		names[id] = ing.Name
	}
	return names, nil
}

// CreateIngredient validates and stores a new master ingredient.
func (s *Service) CreateIngredient(ctx context.Context, input CreateIngredientInput) (Ingredient, error) {
	shelfLife, err := shelfLifeFromHours(input.ShelfLifeHours)
	if err != nil {
		return Ingredient{}, err
	}
	ing := Ingredient{
		Name:             NormalizeName(input.Name),
		Unit:             Unit(strings.ToLower(string(input.Unit))),
		ReorderThreshold: input.ReorderThreshold,
		ShelfLife:        shelfLife,
		IsComposite:      input.IsComposite,
		IsActive:         true,
	}
	if ing.IsComposite {
		if input.RecipeYield != nil {
			ing.RecipeYield = *input.RecipeYield
		}
		ing.Recipe = input.Recipe
	} else if len(input.Recipe) > 0 || input.RecipeYield != nil {
		return Ingredient{}, fmt.Errorf("%w: recipe_yield and recipe_ratios only apply to composite ingredients", ErrInvalidIngredient)
	}
	catalog, err := s.repo.GetIngredients(ctx, ing.Recipe.IDs())
	if err != nil {
		return Ingredient{}, err
	}
	if err := validateIngredient(ing, catalog); err != nil {
		return Ingredient{}, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.FindIngredientByName(ctx, ing.Name); err == nil {
			return ErrDuplicateName
		} else if !errors.Is(err, ErrIngredientNotFound) {
			return err
		}
		id, err := tx.InsertIngredient(ctx, ing)
		if err != nil {
			if shared.IsUniqueViolation(err) {
				return ErrDuplicateName
			}
			return err
		}
		ing.ID = id
		return nil
	})
	if err != nil {
		return Ingredient{}, err
	}
	s.invalidate(ctx)
	s.recordAudit(ctx, "ingredient:create", ing.ID, map[string]any{"name": ing.Name, "is_composite": ing.IsComposite})
	return ing, nil
}

// UpdateIngredient applies a partial update.
func (s *Service) UpdateIngredient(ctx context.Context, id int64, input UpdateIngredientInput) (Ingredient, error) {
	var updated Ingredient
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ing, err := tx.GetIngredientForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !ing.IsActive {
			return ErrIngredientNotFound
		}
		if input.Name != nil {
			name := NormalizeName(*input.Name)
			if name != ing.Name {
				other, err := tx.FindIngredientByName(ctx, name)
				if err == nil && other.ID != ing.ID {
					return ErrDuplicateName
				}
				if err != nil && !errors.Is(err, ErrIngredientNotFound) {
					return err
				}
			}
			ing.Name = name
		}
		if input.Unit != nil {
			ing.Unit = Unit(strings.ToLower(string(*input.Unit)))
		}
		if input.ReorderThreshold != nil {
			ing.ReorderThreshold = *input.ReorderThreshold
		}
		if input.ShelfLifeHours != nil {
			shelfLife, err := shelfLifeFromHours(input.ShelfLifeHours)
			if err != nil {
				return err
			}
			ing.ShelfLife = shelfLife
		}
		if input.IsComposite != nil {
			ing.IsComposite = *input.IsComposite
		}
		if ing.IsComposite {
			if input.RecipeYield != nil {
				ing.RecipeYield = *input.RecipeYield
			}
			if input.RecipeSet {
				ing.Recipe = input.Recipe
			}
		} else {
			ing.RecipeYield = 0
			ing.Recipe = nil
		}
		catalog, err := s.repo.GetIngredients(ctx, ing.Recipe.IDs())
		if err != nil {
			return err
		}
		if err := validateIngredient(ing, catalog); err != nil {
			return err
		}
		for _, rawID := range ing.Recipe.IDs() {
			if raw := catalog[rawID]; raw.IsComposite && raw.Recipe.Uses(ing.ID) {
				return fmt.Errorf("%w: %s already uses %s in its recipe", ErrInvalidIngredient, raw.Name, ing.Name)
			}
		}
		if err := tx.UpdateIngredient(ctx, ing); err != nil {
			if shared.IsUniqueViolation(err) {
				return ErrDuplicateName
			}
			return err
		}
		updated = ing
		return nil
	})
	if err != nil {
		return Ingredient{}, err
	}
	s.invalidate(ctx)
	s.recordAudit(ctx, "ingredient:update", id, map[string]any{"name": updated.Name, "is_composite": updated.IsComposite})
	return updated, nil
}

// DeactivateIngredient soft-deletes an ingredient and unassigns it from every
// location in one transaction. It returns how many assignments were removed.
func (s *Service) DeactivateIngredient(ctx context.Context, id int64) (int64, error) {
	var unassigned int64
	var name string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ing, err := tx.GetIngredientForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !ing.IsActive {
			return ErrIngredientNotFound
		}
		name = ing.Name
		if ing.IsComposite && len(ing.Recipe) > 0 {
			return fmt.Errorf("%w: %s is a composite with recipe ratios, clear its recipe first", ErrIngredientInUse, ing.Name)
		}
		users, err := tx.ActiveCompositesUsing(ctx, id)
		if err != nil {
			return err
		}
		if len(users) > 0 {
			names := make([]string, 0, len(users))
			for _, u := range users {
				names = append(names, u.Name)
			}
			return fmt.Errorf("%w: %s is used in active composite ingredients: %s", ErrIngredientInUse, ing.Name, strings.Join(names, ", "))
		}
		if err := tx.SetIngredientActive(ctx, id, false); err != nil {
			return err
		}
		unassigned, err = tx.UnassignIngredient(ctx, id)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx)
	s.recordAudit(ctx, "ingredient:deactivate", id, map[string]any{"name": name, "unassigned_locations": unassigned})
	return unassigned, nil
}

// RestoreIngredient re-activates an archived ingredient. Assignments are not
// restored.
func (s *Service) RestoreIngredient(ctx context.Context, id int64) (Ingredient, error) {
	var restored Ingredient
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ing, err := tx.GetIngredientForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if ing.IsActive {
			return fmt.Errorf("%w: %s is already active", ErrInvalidIngredient, ing.Name)
		}
		if err := tx.SetIngredientActive(ctx, id, true); err != nil {
			return err
		}
		ing.IsActive = true
		restored = ing
		return nil
	})
	if err != nil {
		return Ingredient{}, err
	}
	s.invalidate(ctx)
	s.recordAudit(ctx, "ingredient:restore", id, map[string]any{"name": restored.Name})
	return restored, nil
}

// ListAssignments lists a location's ingredients filtered by assignment state
// (assigned only when assigned is nil).
func (s *Service) ListAssignments(ctx context.Context, locationID int64, assigned *bool) ([]LocationIngredient, error) {
	if _, err := s.repo.GetLocation(ctx, locationID); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, locationID); err != nil {
		return nil, err
	}
	if assigned == nil {
		yes := true
		assigned = &yes
	}
	return s.repo.ListAssignments(ctx, locationID, assigned)
}

// GetAssignment returns one assignment of an active ingredient.
func (s *Service) GetAssignment(ctx context.Context, id int64) (LocationIngredient, error) {
	li, err := s.repo.GetAssignment(ctx, id)
	if err != nil {
		return LocationIngredient{}, err
	}
	if !li.Ingredient.IsActive {
		return LocationIngredient{}, ErrAssignmentNotFound
	}
	if err := s.authorize(ctx, li.LocationID); err != nil {
		return LocationIngredient{}, err
	}
	return li, nil
}

type pendingAssignment struct {
	ingredient   Ingredient
	available    bool
	autoAssigned bool
}

// Assign bulk-assigns ingredients to a location. Composites pull in their raw
// ingredients as available; unknown or inactive requested ids are skipped.
func (s *Service) Assign(ctx context.Context, locationID int64, inputs []AssignInput) ([]AssignResult, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: location_id and ingredients are required", ErrInvalidIngredient)
	}
	if err := s.authorize(ctx, locationID); err != nil {
		return nil, err
	}
	location, err := s.repo.GetLocation(ctx, locationID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(inputs))
	for _, in := range inputs {
		ids = append(ids, in.IngredientID)
	}
	requested, err := s.repo.GetIngredients(ctx, ids)
	if err != nil {
		return nil, err
	}

	order := []int64{}
	pending := map[int64]*pendingAssignment{}
	for _, in := range inputs {
		ing, ok := requested[in.IngredientID]
		if !ok || !ing.IsActive {
			continue
		}
		if _, seen := pending[ing.ID]; !seen {
			order = append(order, ing.ID)
		}
		pending[ing.ID] = &pendingAssignment{ingredient: ing, available: in.IsAvailable}
		if !ing.IsComposite || len(ing.Recipe) == 0 {
			continue
		}
		raws, err := s.repo.GetIngredients(ctx, ing.Recipe.IDs())
		if err != nil {
			return nil, err
		}
		var missing []string
		for _, rawID := range ing.Recipe.IDs() {
			if raw, ok := raws[rawID]; !ok || !raw.IsActive {
				missing = append(missing, fmt.Sprintf("%d", rawID))
			}
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("%w: cannot assign composite ingredient '%s' because the following raw ingredients are missing or inactive: %s",
				ErrInvalidIngredient, ing.Name, strings.Join(missing, ", "))
		}
		for _, rawID := range ing.Recipe.IDs() {
			if _, seen := pending[rawID]; seen {
				continue
			}
			order = append(order, rawID)
			pending[rawID] = &pendingAssignment{ingredient: raws[rawID], available: true, autoAssigned: true}
		}
	}

	results := make([]AssignResult, 0, len(order))
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, ingID := range order {
			p := pending[ingID]
			id, err := tx.UpsertAssignment(ctx, locationID, ingID, p.available)
			if err != nil {
				return err
			}
			results = append(results, AssignResult{
				Assignment: LocationIngredient{
					ID:           id,
					IngredientID: ingID,
					LocationID:   locationID,
					LocationName: location.Name,
					IsAssigned:   true,
					IsAvailable:  p.available,
					Ingredient:   p.ingredient,
				},
				AutoAssigned: p.autoAssigned,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "location_ingredient:assign", locationID, map[string]any{"count": len(results)})
	return results, nil
}

// SetAvailability toggles availability for assigned ingredients. Toggles that
// would break a composite/raw dependency are reported and skipped; the rest
// are applied together.
func (s *Service) SetAvailability(ctx context.Context, inputs []AvailabilityInput) (AvailabilityResult, error) {
	if len(inputs) == 0 {
		return AvailabilityResult{}, fmt.Errorf("%w: ingredients are required", ErrInvalidIngredient)
	}
	for _, in := range inputs {
		li, err := s.repo.GetAssignment(ctx, in.AssignmentID)
		if errors.Is(err, ErrAssignmentNotFound) {
			continue
		}
		if err != nil {
			return AvailabilityResult{}, err
		}
		if err := s.authorize(ctx, li.LocationID); err != nil {
			return AvailabilityResult{}, err
		}
	}

	var result AvailabilityResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = AvailabilityResult{}
		for _, in := range inputs {
			li, err := tx.GetAssignmentForUpdate(ctx, in.AssignmentID)
			if errors.Is(err, ErrAssignmentNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if !li.IsAssigned {
				continue
			}
			ing := li.Ingredient
			if in.IsAvailable && ing.IsComposite && len(ing.Recipe) > 0 {
				missing, err := s.unavailableRaws(ctx, tx, li.LocationID, ing.Recipe)
				if err != nil {
					return err
				}
				if len(missing) > 0 {
					result.Errors = append(result.Errors, AvailabilityError{
						IngredientName: ing.Name,
						Message:        "Cannot make composite ingredient available. Missing or unavailable raw ingredients: " + strings.Join(missing, ", "),
					})
					continue
				}
			}
			if !in.IsAvailable {
				deps, err := tx.AvailableCompositesUsing(ctx, li.LocationID, ing.ID)
				if err != nil {
					return err
				}
				if len(deps) > 0 {
					kind := "raw ingredient"
					if ing.IsComposite {
						kind = "composite ingredient"
					}
					result.Errors = append(result.Errors, AvailabilityError{
						IngredientName: ing.Name,
						Message:        "Cannot make " + kind + " unavailable. It is required by available composite ingredients: " + strings.Join(deps, ", "),
					})
					continue
				}
			}
			if li.IsAvailable != in.IsAvailable {
				if err := tx.SetAssignmentAvailability(ctx, li.ID, in.IsAvailable); err != nil {
					return err
				}
				li.IsAvailable = in.IsAvailable
			}
			result.Updated = append(result.Updated, li)
		}
		return nil
	})
	if err != nil {
		return AvailabilityResult{}, err
	}
	for _, li := range result.Updated {
		s.recordAudit(ctx, "location_ingredient:availability", li.ID, map[string]any{"location_id": li.LocationID, "is_available": li.IsAvailable})
	}
	return result, nil
}

func (s *Service) unavailableRaws(ctx context.Context, tx TxRepository, locationID int64, recipe Recipe) ([]string, error) {
	var missing []string
	var unknown []int64
	for _, rawID := range recipe.IDs() {
		raw, err := tx.FindAssignment(ctx, locationID, rawID)
		if errors.Is(err, ErrAssignmentNotFound) || (err == nil && !raw.IsAssigned) {
			unknown = append(unknown, rawID)
			continue
		}
		if err != nil {
			return nil, err
		}
		if !raw.IsAvailable {
			missing = append(missing, raw.Ingredient.Name)
		}
	}
	if len(unknown) == 0 {
		return missing, nil
	}
	found, err := s.repo.GetIngredients(ctx, unknown)
	if err != nil {
		return nil, err
	}
	for _, rawID := range unknown {
		if ing, ok := found[rawID]; ok && ing.IsActive {
			missing = append(missing, ing.Name+" (not assigned)")
		} else {
			missing = append(missing, fmt.Sprintf("Unknown ingredient (ID: %d)", rawID))
		}
	}
	return missing, nil
}

// Unassign removes an ingredient from a location unless an available
// composite there still depends on it.
func (s *Service) Unassign(ctx context.Context, id int64) error {
	li, err := s.repo.GetAssignment(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, li.LocationID); err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		deps, err := tx.AvailableCompositesUsing(ctx, li.LocationID, li.IngredientID)
		if err != nil {
			return err
		}
		if len(deps) > 0 {
			return fmt.Errorf("%w: cannot unassign '%s' from location because it is used in the recipe of: %s, unassign those first",
				ErrIngredientInUse, li.Ingredient.Name, strings.Join(deps, ", "))
		}
		return tx.UnassignAssignment(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "location_ingredient:unassign", id, map[string]any{"location_id": li.LocationID, "ingredient_id": li.IngredientID})
	return nil
}

// LookupAssignment returns an assignment regardless of caller or status.
func (s *Service) LookupAssignment(ctx context.Context, id int64) (LocationIngredient, error) {
	return s.repo.GetAssignment(ctx, id)
}

// LookupLocation returns a location regardless of caller.
func (s *Service) LookupLocation(ctx context.Context, id int64) (Location, error) {
	return s.repo.GetLocation(ctx, id)
}

// LookupIngredients returns ingredients by id regardless of status.
func (s *Service) LookupIngredients(ctx context.Context, ids []int64) (map[int64]Ingredient, error) {
	return s.repo.GetIngredients(ctx, ids)
}

// ListLocations returns every active location.
func (s *Service) ListLocations(ctx context.Context) ([]Location, error) {
	return s.repo.ListLocations(ctx)
}

func (s *Service) authorize(ctx context.Context, locationID int64) error {
	if s.access == nil {
		return nil
	}
	return s.access.AuthorizeLocation(ctx, locationID)
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil && s.logger != nil {
		s.logger.Warn("catalog cache bump", slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	shared.RecordAudit(ctx, s.audit, s.logger, shared.AuditLog{
		Action:   action,
		Entity:   "masterdata",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
		At:       time.Now().UTC(),
	})
}
