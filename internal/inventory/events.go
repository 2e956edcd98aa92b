package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/franchisepos/inventory/internal/platform/events"
	"github.com/franchisepos/inventory/internal/shared"
)

// Event types published after ledger mutations commit.
const (
	EventRowCreated   = "ledger.row_created"
	EventRowUpdated   = "ledger.row_updated"
	EventRowDeleted   = "ledger.row_deleted"
	EventReportSeeded = "ledger.report_seeded"
)

// RowEvent is the payload of row events.
type RowEvent struct {
	RowID                int64    `json:"row_id"`
	Date                 string   `json:"date"`
	LocationIngredientID int64    `json:"location_ingredient_id"`
	IngredientID         int64    `json:"ingredient_id"`
	OpeningStock         float64  `json:"opening_stock"`
	PreparedQty          float64  `json:"prepared_qty"`
	UsedQty              float64  `json:"used_qty"`
	ClosingStock         float64  `json:"closing_stock"`
	RawEquiv             RawEquiv `json:"raw_equiv,omitempty"`
}

// ReportSeededEvent is the payload of EventReportSeeded.
type ReportSeededEvent struct {
	Date  string `json:"date"`
	Added int64  `json:"added"`
}

func rowEvent(ctx context.Context, eventType string, row Row) events.Event {
	return events.Event{
		Type:       eventType,
		LocationID: row.LocationID,
		ActorID:    shared.UserIDFromContext(ctx),
		Payload: RowEvent{
			RowID:                row.ID,
			Date:                 shared.FormatDate(row.Date),
			LocationIngredientID: row.LocationIngredientID,
			IngredientID:         row.IngredientID,
			OpeningStock:         row.OpeningStock,
			PreparedQty:          row.PreparedQty,
			UsedQty:              row.UsedQty,
			ClosingStock:         row.ClosingStock,
			RawEquiv:             row.RawEquiv,
		},
	}
}

func seededEvent(ctx context.Context, locationID int64, date time.Time, added int64) events.Event {
	return events.Event{
		Type:       EventReportSeeded,
		LocationID: locationID,
		ActorID:    shared.UserIDFromContext(ctx),
		Payload:    ReportSeededEvent{Date: shared.FormatDate(date), Added: added},
	}
}

func (s *Service) afterCommit(ctx context.Context, eventType, action string, row Row) {
	shared.RecordAudit(ctx, s.cfg.Audit, s.cfg.Logger, shared.AuditLog{
		Action:   action,
		Entity:   "daily_inventory",
		EntityID: fmt.Sprintf("%d", row.ID),
		Meta: map[string]any{
			"date":                   shared.FormatDate(row.Date),
			"location_id":            row.LocationID,
			"location_ingredient_id": row.LocationIngredientID,
			"opening_stock":          row.OpeningStock,
			"prepared_qty":           row.PreparedQty,
			"used_qty":               row.UsedQty,
			"closing_stock":          row.ClosingStock,
		},
		At: s.cfg.Clock.Now().UTC(),
	})
	events.PublishAfterCommit(ctx, s.cfg.Publisher, s.cfg.Logger, rowEvent(ctx, eventType, row))
}
