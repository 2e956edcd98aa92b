package masterdata

import (
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var lower = cases.Lower(language.Und)

// NormalizeName trims and lower-cases an ingredient name. Names are unique in
// this form.
func NormalizeName(name string) string {
	return lower.String(strings.Join(strings.Fields(name), " "))
}

// validateIngredient checks an ingredient before it is stored. catalog holds
// every ingredient the recipe references, keyed by id.
func validateIngredient(ing Ingredient, catalog map[int64]Ingredient) error {
	if ing.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidIngredient)
	}
	if !ing.Unit.Valid() {
		return fmt.Errorf("%w: unsupported unit %q", ErrInvalidIngredient, ing.Unit)
	}
	if ing.ReorderThreshold < 0 || math.IsNaN(ing.ReorderThreshold) {
		return fmt.Errorf("%w: reorder_threshold must be >= 0", ErrInvalidIngredient)
	}
	if ing.ShelfLife < 0 {
		return fmt.Errorf("%w: shelf_life_hours must be >= 0", ErrInvalidIngredient)
	}
	if !ing.IsComposite {
		if len(ing.Recipe) > 0 {
			return fmt.Errorf("%w: recipe_ratios only apply to composite ingredients", ErrInvalidIngredient)
		}
		return nil
	}
	if ing.RecipeYield <= 0 || math.IsNaN(ing.RecipeYield) {
		return fmt.Errorf("%w: recipe_yield must be > 0 for composite ingredients", ErrInvalidIngredient)
	}
	return ValidateRecipe(ing.ID, ing.Recipe, catalog)
}

// ValidateRecipe checks that every ratio is positive and references an
// existing, active ingredient other than the composite itself.
func ValidateRecipe(self int64, recipe Recipe, catalog map[int64]Ingredient) error {
	if len(recipe) == 0 {
		return fmt.Errorf("%w: recipe_ratios required for composite ingredients", ErrInvalidIngredient)
	}
	var missing []string
	for _, id := range recipe.IDs() {
		ratio := recipe[id]
		if self != 0 && id == self {
			return fmt.Errorf("%w: recipe cannot reference the ingredient itself", ErrInvalidIngredient)
		}
		if ratio <= 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
			return fmt.Errorf("%w: ratio for ingredient %d must be > 0", ErrInvalidIngredient, id)
		}
		raw, ok := catalog[id]
		if !ok || !raw.IsActive {
			missing = append(missing, fmt.Sprintf("%d", id))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: invalid ingredient ids in recipe_ratios: %s", ErrInvalidIngredient, strings.Join(missing, ", "))
	}
	return nil
}

func shelfLifeFromHours(hours *float64) (time.Duration, error) {
	if hours == nil {
		return 0, nil
	}
	if *hours < 0 || math.IsNaN(*hours) {
		return 0, fmt.Errorf("%w: shelf_life_hours must be >= 0", ErrInvalidIngredient)
	}
	return time.Duration(*hours * float64(time.Hour)), nil
}
