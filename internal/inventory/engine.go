package inventory

import (
	"fmt"
	"strconv"

	"github.com/franchisepos/inventory/internal/masterdata"
	"github.com/franchisepos/inventory/internal/shared"
)

// Adjustment is a signed change to one raw ingredient row.
type Adjustment struct {
	IngredientID int64
	Previous     float64
	Next         float64
	Before       Row
	After        Row
}

// Delta is the change in consumption applied to the raw row.
func (a Adjustment) Delta() float64 {
	return shared.AddQty(a.Next, -a.Previous)
}

// Plan is a fully validated reconciliation of a composite preparation change.
// Building a Plan never writes; applying it writes every adjustment or none.
type Plan struct {
	Adjustments []Adjustment
	RawEquiv    RawEquiv
}

// PlanPreparation computes the raw-ingredient consumption implied by moving a
// composite's prepared quantity from prevPrepared to newPrepared.
//
// recipe and names are a snapshot of the catalog; raws holds the raw
// ingredients' rows for the same location and date keyed by ingredient id.
// Consumption is ratio * prepared for each raw ingredient, rounded to three
// places. Raw rows absent from raws are only tolerated when nothing is drawn
// from them.
func PlanPreparation(recipe masterdata.Recipe, names map[int64]string, raws map[int64]Row, prevPrepared, newPrepared float64) (Plan, error) {
	if prevPrepared < 0 || newPrepared < 0 {
		return Plan{}, fmt.Errorf("%w: prepared_qty must be >= 0", ErrInvalidQuantity)
	}
	plan := Plan{RawEquiv: make(RawEquiv, len(recipe))}
	for _, id := range recipe.IDs() {
		ratio := recipe[id]
		prev := shared.MulRaw(ratio, prevPrepared)
		next := shared.MulRaw(ratio, newPrepared)
		plan.RawEquiv[id] = next

		row, ok := raws[id]
		if !ok {
			if next > 0 {
				return Plan{}, &StockError{Kind: ErrMissingStockRecord, IngredientID: id, Ingredient: rawName(names, id), Required: next}
			}
			continue
		}
		available := shared.AddQty(row.ClosingStock, prev)
		if next > available {
			return Plan{}, &StockError{Kind: ErrInsufficientStock, IngredientID: id, Ingredient: rawName(names, id), Available: available, Required: next}
		}
		if next == prev {
			continue
		}
		after := row
		after.UsedQty = shared.AddQty(row.UsedQty, next, -prev)
		after.Recompute()
		if after.IngredientName == "" {
			after.IngredientName = rawName(names, id)
		}
		if err := after.Validate(); err != nil {
			return Plan{}, err
		}
		plan.Adjustments = append(plan.Adjustments, Adjustment{
			IngredientID: id,
			Previous:     prev,
			Next:         next,
			Before:       row,
			After:        after,
		})
	}
	return plan, nil
}

func rawName(names map[int64]string, id int64) string {
	if name, ok := names[id]; ok && name != "" {
		return name
	}
	return "id " + strconv.FormatInt(id, 10)
}
