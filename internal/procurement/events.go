package procurement

import (
	"context"
	"fmt"

	"github.com/franchisepos/inventory/internal/platform/events"
	"github.com/franchisepos/inventory/internal/shared"
)

// Event types published after purchase list changes commit.
const (
	EventListCreated   = "purchase.list_created"
	EventListConfirmed = "purchase.list_confirmed"
)

// EntryEvent describes one posted purchase.
type EntryEvent struct {
	LocationIngredientID int64   `json:"location_ingredient_id"`
	Quantity             float64 `json:"quantity"`
	Total                float64 `json:"total"`
}

// ListConfirmedEvent is the payload of EventListConfirmed.
type ListConfirmedEvent struct {
	ListID  int64        `json:"list_id"`
	Date    string       `json:"date"`
	Entries []EntryEvent `json:"entries"`
	Skipped int          `json:"skipped"`
}

// ListCreatedEvent is the payload of EventListCreated.
type ListCreatedEvent struct {
	ListID int64  `json:"list_id"`
	Date   string `json:"date"`
	Items  int    `json:"items"`
}

func confirmedEvent(ctx context.Context, res ConfirmResult, posted map[int64]float64) events.Event {
	payload := ListConfirmedEvent{
		ListID:  res.List.ID,
		Date:    shared.FormatDate(res.List.Date),
		Skipped: res.Skipped,
	}
	for _, entry := range res.Entries {
		payload.Entries = append(payload.Entries, EntryEvent{
			LocationIngredientID: entry.LocationIngredientID,
			Quantity:             posted[entry.LocationIngredientID],
			Total:                entry.Quantity,
		})
	}
	return events.Event{
		Type:       EventListConfirmed,
		LocationID: res.List.LocationID,
		ActorID:    shared.UserIDFromContext(ctx),
		Payload:    payload,
	}
}

func (s *Service) recordAudit(ctx context.Context, action string, list PurchaseList, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["location_id"] = list.LocationID
	meta["date"] = shared.FormatDate(list.Date)
	shared.RecordAudit(ctx, s.cfg.Audit, s.cfg.Logger, shared.AuditLog{
		Action:   action,
		Entity:   "purchase_list",
		EntityID: fmt.Sprintf("%d", list.ID),
		Meta:     meta,
		At:       s.cfg.Clock.Now().UTC(),
	})
}
