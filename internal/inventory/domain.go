// Package inventory keeps the per-day stock ledger of every location and
// reconciles raw-ingredient consumption when composite ingredients are
// prepared.
package inventory

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/franchisepos/inventory/internal/shared"
)

// RawEquiv maps a raw ingredient id to the quantity a composite row's
// preparation consumed from it.
type RawEquiv map[int64]float64

// Row is one DailyInventory ledger entry for (date, location ingredient).
type Row struct {
	ID                   int64
	Date                 time.Time
	LocationID           int64
	LocationName         string
	LocationIngredientID int64
	IngredientID         int64
	IngredientName       string
	Unit                 string
	IsComposite          bool
	OpeningStock         float64
	PreparedQty          float64
	UsedQty              float64
	ClosingStock         float64
	RawEquiv             RawEquiv
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Recompute derives closing stock from the other quantities.
func (r *Row) Recompute() {
	r.ClosingStock = shared.AddQty(r.OpeningStock, r.PreparedQty, -r.UsedQty)
}

// Validate checks that no quantity is negative.
func (r Row) Validate() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"opening_stock", r.OpeningStock},
		{"prepared_qty", r.PreparedQty},
		{"used_qty", r.UsedQty},
		{"closing_stock", r.ClosingStock},
	}
	for _, f := range fields {
		if f.value < 0 {
			return fmt.Errorf("%w: %s for %s would be %s", ErrNegativeStock, f.name, r.label(), formatQty(f.value))
		}
	}
	return nil
}

// Display returns a copy rounded for presentation.
func (r Row) Display() Row {
	r.OpeningStock = shared.RoundQty(r.OpeningStock)
	r.PreparedQty = shared.RoundQty(r.PreparedQty)
	r.UsedQty = shared.RoundQty(r.UsedQty)
	r.ClosingStock = shared.RoundQty(r.ClosingStock)
	return r
}

func (r Row) label() string {
	if r.IngredientName != "" {
		return r.IngredientName
	}
	return "location ingredient " + strconv.FormatInt(r.LocationIngredientID, 10)
}

// RowFilter selects ledger rows for listing.
type RowFilter struct {
	Date  time.Time
	Scope shared.LocationScope
}

// CreateRowInput describes a POSTed ledger row.
type CreateRowInput struct {
	Date                 time.Time
	LocationID           int64
	LocationIngredientID int64
	OpeningStock         float64
	UsedQty              float64
	PreparedQty          float64
}

// UpdateRowInput carries a partial edit; nil fields keep their value.
type UpdateRowInput struct {
	OpeningStock *float64
	UsedQty      *float64
	PreparedQty  *float64
}

// SeedResult reports a report generation.
type SeedResult struct {
	Date       time.Time
	LocationID int64
	Added      int64
	Rows       []Row
}

// StockError reports a raw ingredient that cannot cover a preparation.
type StockError struct {
	Kind         error
	IngredientID int64
	Ingredient   string
	Available    float64
	Required     float64
}

func (e *StockError) Error() string {
	if errors.Is(e.Kind, ErrMissingStockRecord) {
		return fmt.Sprintf("No stock record found for raw ingredient %s.", e.Ingredient)
	}
	return fmt.Sprintf("Not enough stock of %s. Available: %s, Required: %s.", e.Ingredient, formatQty(e.Available), formatQty(e.Required))
}

// Unwrap exposes the kind so callers can match it with errors.Is.
func (e *StockError) Unwrap() error { return e.Kind }

func formatQty(v float64) string {
	return strconv.FormatFloat(shared.RoundRaw(v), 'f', -1, 64)
}

var (
	// ErrRowNotFound indicates a missing ledger row.
	ErrRowNotFound = fmt.Errorf("inventory: ledger row %w", shared.ErrNotFound)
	// ErrDuplicateRow indicates a row already exists for (date, location ingredient).
	ErrDuplicateRow = fmt.Errorf("inventory: ledger row for this date and ingredient %w", shared.ErrDuplicate)
	// ErrInsufficientStock indicates a raw ingredient cannot cover a preparation.
	ErrInsufficientStock = fmt.Errorf("inventory: insufficient stock: %w", shared.ErrValidation)
	// ErrMissingStockRecord indicates a raw ingredient has no row for the date.
	ErrMissingStockRecord = fmt.Errorf("inventory: missing stock record: %w", shared.ErrValidation)
	// ErrNegativeStock indicates a quantity would drop below zero.
	ErrNegativeStock = fmt.Errorf("inventory: negative stock not allowed: %w", shared.ErrValidation)
	// ErrInvalidQuantity indicates malformed input quantities.
	ErrInvalidQuantity = fmt.Errorf("inventory: %w", shared.ErrValidation)
	// ErrFutureDate rejects reports for dates after today.
	ErrFutureDate = fmt.Errorf("inventory: %w: Cannot generate report for a future date.", shared.ErrValidation)
	// ErrNothingToReport indicates a location with no rows and no ingredients to seed.
	ErrNothingToReport = fmt.Errorf("inventory: No ingredients found for this location: %w", shared.ErrNotFound)
	// ErrNoRecords indicates a report date whose rows all belong to inactive ingredients.
	ErrNoRecords = fmt.Errorf("inventory: No inventory records found for this date: %w", shared.ErrNotFound)
)
