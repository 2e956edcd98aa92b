// Package procurement manages purchase lists and posts confirmed purchases
// into the daily inventory ledger.
package procurement

import (
	"fmt"
	"time"

	"github.com/franchisepos/inventory/internal/shared"
)

// Status is the purchase list lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusConfirmed Status = "confirmed"
)

// SystemActor is recorded as added_by on entries created by confirmation.
const SystemActor = "system"

// PurchaseList is a planned batch of purchases for one location and day.
type PurchaseList struct {
	ID           int64
	Date         time.Time
	LocationID   int64
	LocationName string
	CreatedBy    string
	Status       Status
	Notes        string
	Items        []Item
	CreatedAt    time.Time
}

// Item is one planned purchase. LocationIngredientID is zero for legacy
// items without an ingredient reference.
type Item struct {
	ID                   int64
	ListID               int64
	LocationIngredientID int64
	IngredientName       string
	Unit                 string
	Quantity             float64
	Notes                string
}

// Entry is a posted purchase for (date, location ingredient, location).
type Entry struct {
	ID                   int64
	Date                 time.Time
	LocationIngredientID int64
	LocationID           int64
	LocationName         string
	IngredientName       string
	Unit                 string
	Quantity             float64
	AddedBy              string
}

// ItemInput describes a requested item.
type ItemInput struct {
	LocationIngredientID int64
	Quantity             float64
	Notes                string
}

// CreateListInput describes a new purchase list. A nil Date means today.
type CreateListInput struct {
	Date       *time.Time
	LocationID int64
	CreatedBy  string
	Notes      string
	Items      []ItemInput
}

// UpdateListInput edits a draft. Nil Notes keeps them; nil Items keeps the items.
type UpdateListInput struct {
	Notes *string
	Items []ItemInput
}

// ConfirmResult reports what a confirmation posted.
type ConfirmResult struct {
	List    PurchaseList
	Entries []Entry
	Skipped int
}

var (
	// ErrListNotFound indicates a missing purchase list.
	ErrListNotFound = fmt.Errorf("procurement: purchase list %w", shared.ErrNotFound)
	// ErrNotDraft rejects confirming a list twice.
	ErrNotDraft = fmt.Errorf("procurement: %w: Only draft lists can be confirmed", shared.ErrValidation)
	// ErrListLocked rejects edits to confirmed lists.
	ErrListLocked = fmt.Errorf("procurement: confirmed purchase lists cannot be changed: %w", shared.ErrConflict)
	// ErrInvalidList wraps input validation failures.
	ErrInvalidList = fmt.Errorf("procurement: %w", shared.ErrValidation)
)
