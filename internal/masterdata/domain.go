// Package masterdata owns the ingredient catalog: master ingredients with their
// recipes, locations, and the per-location ingredient assignments.
package masterdata

import (
	"fmt"
	"sort"
	"time"

	"github.com/franchisepos/inventory/internal/shared"
)

// Unit is the measuring unit of an ingredient.
type Unit string

// Supported units.
const (
	UnitKilogram   Unit = "kg"
	UnitGram       Unit = "g"
	UnitMilligram  Unit = "mg"
	UnitLitre      Unit = "l"
	UnitMillilitre Unit = "ml"
	UnitPiece      Unit = "pcs"
	UnitPack       Unit = "pack"
	UnitBottle     Unit = "bottle"
	UnitCup        Unit = "cup"
	UnitTablespoon Unit = "tbsp"
	UnitTeaspoon   Unit = "tsp"
	UnitDozen      Unit = "dozen"
	UnitBag        Unit = "bag"
)

var validUnits = map[Unit]struct{}{
	UnitKilogram: {}, UnitGram: {}, UnitMilligram: {}, UnitLitre: {}, UnitMillilitre: {},
	UnitPiece: {}, UnitPack: {}, UnitBottle: {}, UnitCup: {}, UnitTablespoon: {},
	UnitTeaspoon: {}, UnitDozen: {}, UnitBag: {},
}

// Valid reports whether u is a supported unit.
func (u Unit) Valid() bool {
	_, ok := validUnits[u]
	return ok
}

// Recipe maps a raw ingredient id to the units of it consumed per prepared
// unit of the composite.
type Recipe map[int64]float64

// IDs returns the raw ingredient ids in ascending order.
func (r Recipe) IDs() []int64 {
	ids := make([]int64, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Uses reports whether the recipe consumes ingredient id.
func (r Recipe) Uses(id int64) bool {
	_, ok := r[id]
	return ok
}

// Ingredient is a master catalog entry shared by all locations.
type Ingredient struct {
	ID               int64
	Name             string
	Unit             Unit
	ReorderThreshold float64
	ShelfLife        time.Duration
	IsComposite      bool
	RecipeYield      float64
	Recipe           Recipe
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Location is a restaurant outlet.
type Location struct {
	ID       int64
	Name     string
	IsActive bool
}

// LocationIngredient assigns a master ingredient to a location.
type LocationIngredient struct {
	ID           int64
	IngredientID int64
	LocationID   int64
	LocationName string
	IsAssigned   bool
	IsAvailable  bool
	Ingredient   Ingredient
}

// CreateIngredientInput describes a new master ingredient.
type CreateIngredientInput struct {
	Name             string
	Unit             Unit
	ReorderThreshold float64
	ShelfLifeHours   *float64
	IsComposite      bool
	RecipeYield      *float64
	Recipe           Recipe
}

// UpdateIngredientInput carries a partial update; nil fields are unchanged.
type UpdateIngredientInput struct {
	Name             *string
	Unit             *Unit
	ReorderThreshold *float64
	ShelfLifeHours   *float64
	IsComposite      *bool
	RecipeYield      *float64
	Recipe           Recipe
	RecipeSet        bool
}

// AssignInput requests an ingredient at a location.
type AssignInput struct {
	IngredientID int64
	IsAvailable  bool
}

// AssignResult reports one assignment made by Assign.
type AssignResult struct {
	Assignment   LocationIngredient
	AutoAssigned bool
}

// AvailabilityInput toggles one assignment.
type AvailabilityInput struct {
	AssignmentID int64
	IsAvailable  bool
}

// AvailabilityError explains why a toggle was refused.
type AvailabilityError struct {
	IngredientName string
	Message        string
}

// AvailabilityResult aggregates a bulk toggle.
type AvailabilityResult struct {
	Updated []LocationIngredient
	Errors  []AvailabilityError
}

// Status summarises the outcome the way clients expect it.
func (r AvailabilityResult) Status() string {
	switch {
	case len(r.Errors) == 0:
		return "success"
	case len(r.Updated) > 0:
		return "partial_success"
	default:
		return "error"
	}
}

var (
	// ErrIngredientNotFound indicates a missing or inactive master ingredient.
	ErrIngredientNotFound = fmt.Errorf("masterdata: ingredient %w", shared.ErrNotFound)
	// ErrLocationNotFound indicates a missing location.
	ErrLocationNotFound = fmt.Errorf("masterdata: location %w", shared.ErrNotFound)
	// ErrAssignmentNotFound indicates a missing location ingredient.
	ErrAssignmentNotFound = fmt.Errorf("masterdata: location ingredient %w", shared.ErrNotFound)
	// ErrDuplicateName indicates the normalised name is taken.
	ErrDuplicateName = fmt.Errorf("masterdata: ingredient name %w", shared.ErrDuplicate)
	// ErrInvalidIngredient wraps field level validation failures.
	ErrInvalidIngredient = fmt.Errorf("masterdata: %w", shared.ErrValidation)
	// ErrIngredientInUse blocks deactivation and unassignment of referenced ingredients.
	ErrIngredientInUse = fmt.Errorf("masterdata: ingredient in use: %w", shared.ErrValidation)
)
