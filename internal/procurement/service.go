package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/franchisepos/inventory/internal/inventory"
	"github.com/franchisepos/inventory/internal/masterdata"
	"github.com/franchisepos/inventory/internal/platform/events"
	"github.com/franchisepos/inventory/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListLists(ctx context.Context, scope shared.LocationScope) ([]PurchaseList, error)
	GetList(ctx context.Context, id int64) (PurchaseList, error)
	ListEntries(ctx context.Context, locationID int64, date time.Time) ([]Entry, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetListForUpdate(ctx context.Context, id int64) (PurchaseList, error)
	InsertList(ctx context.Context, list PurchaseList) (int64, error)
	ReplaceItems(ctx context.Context, listID int64, items []Item) error
	UpdateNotes(ctx context.Context, listID int64, notes string) error
	SetStatus(ctx context.Context, listID int64, status Status) error
	DeleteList(ctx context.Context, listID int64) error
	// AddEntry creates the entry for its key or adds its quantity to the
	// existing one, returning the stored entry.
	AddEntry(ctx context.Context, entry Entry) (Entry, error)
	Ledger() inventory.LedgerTx
}

// CatalogPort resolves locations and their ingredient assignments.
type CatalogPort interface {
	LookupAssignment(ctx context.Context, id int64) (masterdata.LocationIngredient, error)
	LookupLocation(ctx context.Context, id int64) (masterdata.Location, error)
}

// Metrics receives purchase counters.
type Metrics interface {
	RecordPurchaseConfirmed(items int)
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Access    shared.LocationAccess
	Audit     shared.Auditor
	Keys      shared.KeyStore
	Publisher events.Publisher
	Metrics   Metrics
	Clock     shared.Clock
	Location  *time.Location
	Logger    *slog.Logger
}

// Service orchestrates purchase list flows.
type Service struct {
	repo    RepositoryPort
	catalog CatalogPort
	cfg     ServiceConfig
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, catalog CatalogPort, cfg ServiceConfig) *Service {
	if cfg.Clock == nil {
		cfg.Clock = shared.SystemClock{}
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Service{repo: repo, catalog: catalog, cfg: cfg}
}

// ListLists returns lists of every location the caller may access, newest first.
func (s *Service) ListLists(ctx context.Context) ([]PurchaseList, error) {
	scope, err := s.allowed(ctx)
	if err != nil {
		return nil, err
	}
	if !scope.All && len(scope.IDs) == 0 {
		return []PurchaseList{}, nil
	}
	return s.repo.ListLists(ctx, scope)
}

// GetList returns one list with its items.
func (s *Service) GetList(ctx context.Context, id int64) (PurchaseList, error) {
	list, err := s.repo.GetList(ctx, id)
	if err != nil {
		return PurchaseList{}, err
	}
	if err := s.authorize(ctx, list.LocationID); err != nil {
		return PurchaseList{}, err
	}
	return list, nil
}

// CreateList stores a draft purchase list.
func (s *Service) CreateList(ctx context.Context, input CreateListInput) (PurchaseList, error) {
	input.CreatedBy = strings.TrimSpace(input.CreatedBy)
	if input.CreatedBy == "" {
		return PurchaseList{}, fmt.Errorf("%w: created_by is required", ErrInvalidList)
	}
	if len(input.Items) == 0 {
		return PurchaseList{}, fmt.Errorf("%w: items are required", ErrInvalidList)
	}
	loc, err := s.catalog.LookupLocation(ctx, input.LocationID)
	if err != nil {
		return PurchaseList{}, err
	}
	if err := s.authorize(ctx, loc.ID); err != nil {
		return PurchaseList{}, err
	}
	items, err := s.resolveItems(ctx, loc.ID, input.Items)
	if err != nil {
		return PurchaseList{}, err
	}
	list := PurchaseList{
		Date:         shared.Today(s.cfg.Clock, s.cfg.Location),
		LocationID:   loc.ID,
		LocationName: loc.Name,
		CreatedBy:    input.CreatedBy,
		Status:       StatusDraft,
		Notes:        input.Notes,
	}
	if input.Date != nil {
		list.Date = *input.Date
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertList(ctx, list)
		if err != nil {
			return err
		}
		list.ID = id
		return tx.ReplaceItems(ctx, id, items)
	})
	if err != nil {
		return PurchaseList{}, err
	}
	list.Items = items
	s.recordAudit(ctx, "purchase_list:create", list, map[string]any{"items": len(items)})
	events.PublishAfterCommit(ctx, s.cfg.Publisher, s.cfg.Logger, events.Event{
		Type:       EventListCreated,
		LocationID: list.LocationID,
		ActorID:    shared.UserIDFromContext(ctx),
		Payload:    ListCreatedEvent{ListID: list.ID, Date: shared.FormatDate(list.Date), Items: len(items)},
	})
	return list, nil
}

// UpdateList replaces the notes and items of a draft list.
func (s *Service) UpdateList(ctx context.Context, id int64, input UpdateListInput) (PurchaseList, error) {
	list, err := s.GetList(ctx, id)
	if err != nil {
		return PurchaseList{}, err
	}
	if list.Status != StatusDraft {
		return PurchaseList{}, ErrListLocked
	}
	var items []Item
	if input.Items != nil {
		if len(input.Items) == 0 {
			return PurchaseList{}, fmt.Errorf("%w: items are required", ErrInvalidList)
		}
		if items, err = s.resolveItems(ctx, list.LocationID, input.Items); err != nil {
			return PurchaseList{}, err
		}
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetListForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if locked.Status != StatusDraft {
			return ErrListLocked
		}
		if input.Notes != nil {
			if err := tx.UpdateNotes(ctx, id, *input.Notes); err != nil {
				return err
			}
		}
		if items != nil {
			return tx.ReplaceItems(ctx, id, items)
		}
		return nil
	})
	if err != nil {
		return PurchaseList{}, err
	}
	updated, err := s.repo.GetList(ctx, id)
	if err != nil {
		return PurchaseList{}, err
	}
	s.recordAudit(ctx, "purchase_list:update", updated, map[string]any{"items": len(updated.Items)})
	return updated, nil
}

// DeleteList removes a draft list.
func (s *Service) DeleteList(ctx context.Context, id int64) error {
	list, err := s.GetList(ctx, id)
	if err != nil {
		return err
	}
	if list.Status != StatusDraft {
		return ErrListLocked
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetListForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if locked.Status != StatusDraft {
			return ErrListLocked
		}
		return tx.DeleteList(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "purchase_list:delete", list, nil)
	return nil
}

// ConfirmList moves a draft list to confirmed and posts every item into the
// purchase entries and the ledger in one transaction. Items without an
// ingredient reference are skipped. A missing ledger row for any item aborts
// the whole confirmation.
func (s *Service) ConfirmList(ctx context.Context, id int64) (ConfirmResult, error) {
	list, err := s.GetList(ctx, id)
	if err != nil {
		return ConfirmResult{}, err
	}
	if list.Status != StatusDraft {
		return ConfirmResult{}, ErrNotDraft
	}
	key := fmt.Sprintf("purchase_list:confirm:%d", id)
	inserted := false
	if s.cfg.Keys != nil {
		if err := s.cfg.Keys.CheckAndInsert(ctx, key, "procurement.purchase_list"); err != nil {
			return ConfirmResult{}, err
		}
		inserted = true
	}

	var res ConfirmResult
	posted := map[int64]float64{}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetListForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if locked.Status != StatusDraft {
			return ErrNotDraft
		}
		if err := tx.SetStatus(ctx, id, StatusConfirmed); err != nil {
			return err
		}
		locked.Status = StatusConfirmed
		res = ConfirmResult{List: locked}
		for _, item := range locked.Items {
			if item.LocationIngredientID == 0 {
				res.Skipped++
				continue
			}
			entry, err := tx.AddEntry(ctx, Entry{
				Date:                 locked.Date,
				LocationIngredientID: item.LocationIngredientID,
				LocationID:           locked.LocationID,
				Quantity:             item.Quantity,
				AddedBy:              SystemActor,
			})
			if err != nil {
				return err
			}
			if _, err := inventory.PostPurchase(ctx, tx.Ledger(), locked.LocationID, item.LocationIngredientID, locked.Date, item.Quantity); err != nil {
				if errors.Is(err, inventory.ErrRowNotFound) {
					return fmt.Errorf("procurement: no inventory record for %s on %s: %w", itemLabel(item), shared.FormatDate(locked.Date), err)
				}
				return err
			}
			posted[item.LocationIngredientID] = item.Quantity
			res.Entries = append(res.Entries, entry)
		}
		return nil
	})
	if err != nil {
		if inserted {
			s.releaseKey(ctx, key)
		}
		return ConfirmResult{}, err
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordPurchaseConfirmed(len(res.Entries))
	}
	s.recordAudit(ctx, "purchase_list:confirm", res.List, map[string]any{"entries": len(res.Entries), "skipped": res.Skipped})
	events.PublishAfterCommit(ctx, s.cfg.Publisher, s.cfg.Logger, confirmedEvent(ctx, res, posted))
	return res, nil
}

// releaseKey frees a confirmation key after a failed attempt so the list can
// be confirmed again. It outlives a cancelled request context.
func (s *Service) releaseKey(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.cfg.Keys.Delete(ctx, key); err != nil && s.cfg.Logger != nil {
		s.cfg.Logger.Error("release idempotency key", slog.String("key", key), slog.Any("error", err))
	}
}

// ListEntries returns the purchases posted for a location on date.
func (s *Service) ListEntries(ctx context.Context, locationID int64, date time.Time) ([]Entry, error) {
	if _, err := s.catalog.LookupLocation(ctx, locationID); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, locationID); err != nil {
		return nil, err
	}
	return s.repo.ListEntries(ctx, locationID, date)
}

func (s *Service) resolveItems(ctx context.Context, locationID int64, inputs []ItemInput) ([]Item, error) {
	seen := make(map[int64]bool, len(inputs))
	items := make([]Item, 0, len(inputs))
	for _, in := range inputs {
		if in.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be > 0", ErrInvalidList)
		}
		if seen[in.LocationIngredientID] {
			return nil, fmt.Errorf("%w: location ingredient %d listed twice", ErrInvalidList, in.LocationIngredientID)
		}
		seen[in.LocationIngredientID] = true
		li, err := s.catalog.LookupAssignment(ctx, in.LocationIngredientID)
		if err != nil {
			return nil, err
		}
		if li.LocationID != locationID {
			return nil, fmt.Errorf("%w: location ingredient %d does not belong to location %d", ErrInvalidList, li.ID, locationID)
		}
		items = append(items, Item{
			LocationIngredientID: li.ID,
			IngredientName:       li.Ingredient.Name,
			Unit:                 string(li.Ingredient.Unit),
			Quantity:             shared.RoundRaw(in.Quantity),
			Notes:                in.Notes,
		})
	}
	return items, nil
}

func itemLabel(item Item) string {
	if item.IngredientName != "" {
		return item.IngredientName
	}
	return fmt.Sprintf("location ingredient %d", item.LocationIngredientID)
}

func (s *Service) authorize(ctx context.Context, locationID int64) error {
	if s.cfg.Access == nil {
		return nil
	}
	return s.cfg.Access.AuthorizeLocation(ctx, locationID)
}

func (s *Service) allowed(ctx context.Context) (shared.LocationScope, error) {
	if s.cfg.Access == nil {
		return shared.LocationScope{All: true}, nil
	}
	return s.cfg.Access.AllowedLocations(ctx)
}
