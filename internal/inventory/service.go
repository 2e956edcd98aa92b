package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/franchisepos/inventory/internal/masterdata"
	"github.com/franchisepos/inventory/internal/platform/events"
	"github.com/franchisepos/inventory/internal/shared"
)

// RepositoryPort abstracts ledger reads and transactions.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListRows(ctx context.Context, filter RowFilter) ([]Row, error)
	GetRow(ctx context.Context, id int64) (Row, error)
	SeedableAssignments(ctx context.Context, locationID int64) ([]int64, error)
	ExistingRowKeys(ctx context.Context, locationID int64, date time.Time) (map[int64]bool, error)
	LatestClosings(ctx context.Context, locationIngredientIDs []int64, before time.Time) (map[int64]float64, error)
}

// LedgerTx is the row-update primitive shared by the reconciliation engine
// and purchase posting.
type LedgerTx interface {
	GetRowByKeyForUpdate(ctx context.Context, locationID, locationIngredientID int64, date time.Time) (Row, error)
	UpdateRowQuantities(ctx context.Context, row Row) error
}

// TxRepository exposes transactional ledger operations.
type TxRepository interface {
	LedgerTx
	GetRowForUpdate(ctx context.Context, id int64) (Row, error)
	LockRawRows(ctx context.Context, locationID int64, date time.Time, ingredientIDs []int64) (map[int64]Row, error)
	InsertRow(ctx context.Context, row Row) (int64, error)
	DeleteRow(ctx context.Context, id int64) error
	InsertRowsIgnoreConflicts(ctx context.Context, rows []Row) (int64, error)
}

// CatalogPort is the catalog lookup the ledger depends on.
type CatalogPort interface {
	LookupAssignment(ctx context.Context, id int64) (masterdata.LocationIngredient, error)
	LookupLocation(ctx context.Context, id int64) (masterdata.Location, error)
	LookupIngredients(ctx context.Context, ids []int64) (map[int64]masterdata.Ingredient, error)
}

// Metrics receives ledger counters.
type Metrics interface {
	RecordRejection(reason string)
	AddRowsSeeded(n int64)
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Access    shared.LocationAccess
	Audit     shared.Auditor
	Publisher events.Publisher
	Metrics   Metrics
	Clock     shared.Clock
	Location  *time.Location
	Logger    *slog.Logger
}

// Service coordinates ledger operations.
type Service struct {
	repo    RepositoryPort
	catalog CatalogPort
	cfg     ServiceConfig
}

// NewService builds Service.
func NewService(repo RepositoryPort, catalog CatalogPort, cfg ServiceConfig) *Service {
	if cfg.Clock == nil {
		cfg.Clock = shared.SystemClock{}
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Service{repo: repo, catalog: catalog, cfg: cfg}
}

// composite is the catalog snapshot a composite row is reconciled against.
type composite struct {
	recipe masterdata.Recipe
	names  map[int64]string
}

func (s *Service) snapshot(ctx context.Context, li masterdata.LocationIngredient) (*composite, error) {
	if !li.Ingredient.IsComposite {
		return nil, nil
	}
	snap := &composite{recipe: li.Ingredient.Recipe, names: map[int64]string{}}
	if len(snap.recipe) == 0 {
		return snap, nil
	}
	raws, err := s.catalog.LookupIngredients(ctx, snap.recipe.IDs())
	if err != nil {
		return nil, err
	}
	for id, ing := range raws {
		snap.names[id] = ing.Name
	}
	return snap, nil
}

// reconcile plans and applies a composite preparation change inside tx.
func (s *Service) reconcile(ctx context.Context, tx TxRepository, snap *composite, row Row, prev, next float64) (RawEquiv, error) {
	if snap == nil || len(snap.recipe) == 0 {
		return RawEquiv{}, nil
	}
	raws, err := tx.LockRawRows(ctx, row.LocationID, row.Date, snap.recipe.IDs())
	if err != nil {
		return nil, err
	}
	plan, err := PlanPreparation(snap.recipe, snap.names, raws, prev, next)
	if err != nil {
		s.recordRejection(err)
		return nil, err
	}
	for _, adj := range plan.Adjustments {
		if err := tx.UpdateRowQuantities(ctx, adj.After); err != nil {
			return nil, err
		}
	}
	return plan.RawEquiv, nil
}

// CreateRow records a new ledger row. A composite with a prepared quantity
// draws its raw ingredients through the reconciliation engine.
func (s *Service) CreateRow(ctx context.Context, input CreateRowInput) (Row, error) {
	if input.OpeningStock < 0 || input.UsedQty < 0 || input.PreparedQty < 0 {
		return Row{}, fmt.Errorf("%w: quantities must be >= 0", ErrInvalidQuantity)
	}
	li, err := s.catalog.LookupAssignment(ctx, input.LocationIngredientID)
	if err != nil {
		return Row{}, err
	}
	if !li.Ingredient.IsActive {
		return Row{}, masterdata.ErrIngredientNotFound
	}
	if li.LocationID != input.LocationID {
		return Row{}, fmt.Errorf("%w: location ingredient %d does not belong to location %d", ErrInvalidQuantity, li.ID, input.LocationID)
	}
	if _, err := s.catalog.LookupLocation(ctx, input.LocationID); err != nil {
		return Row{}, err
	}
	if err := s.authorize(ctx, input.LocationID); err != nil {
		return Row{}, err
	}

	row := Row{
		Date:                 input.Date,
		LocationID:           input.LocationID,
		LocationName:         li.LocationName,
		LocationIngredientID: li.ID,
		IngredientID:         li.IngredientID,
		IngredientName:       li.Ingredient.Name,
		Unit:                 string(li.Ingredient.Unit),
		IsComposite:          li.Ingredient.IsComposite,
		OpeningStock:         shared.RoundRaw(input.OpeningStock),
		UsedQty:              shared.RoundRaw(input.UsedQty),
	}
	if row.IsComposite {
		row.PreparedQty = shared.RoundRaw(input.PreparedQty)
	}
	row.Recompute()
	if err := row.Validate(); err != nil {
		return Row{}, err
	}
	snap, err := s.snapshot(ctx, li)
	if err != nil {
		return Row{}, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if row.IsComposite && row.PreparedQty > 0 {
			equiv, err := s.reconcile(ctx, tx, snap, row, 0, row.PreparedQty)
			if err != nil {
				return err
			}
			row.RawEquiv = equiv
		}
		id, err := tx.InsertRow(ctx, row)
		if err != nil {
			if shared.IsUniqueViolation(err) {
				return ErrDuplicateRow
			}
			return err
		}
		row.ID = id
		return nil
	})
	if err != nil {
		return Row{}, err
	}
	s.afterCommit(ctx, EventRowCreated, "daily_inventory:create", row)
	return row.Display(), nil
}

// UpdateRow applies a partial edit. Composite rows are reconciled from their
// stored prepared quantity to the new one.
func (s *Service) UpdateRow(ctx context.Context, id int64, input UpdateRowInput) (Row, error) {
	for _, v := range []*float64{input.OpeningStock, input.UsedQty, input.PreparedQty} {
		if v != nil && *v < 0 {
			return Row{}, fmt.Errorf("%w: quantities must be >= 0", ErrInvalidQuantity)
		}
	}
	current, err := s.repo.GetRow(ctx, id)
	if err != nil {
		return Row{}, err
	}
	if err := s.authorize(ctx, current.LocationID); err != nil {
		return Row{}, err
	}
	li, err := s.catalog.LookupAssignment(ctx, current.LocationIngredientID)
	if err != nil {
		return Row{}, err
	}
	snap, err := s.snapshot(ctx, li)
	if err != nil {
		return Row{}, err
	}

	var updated Row
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		row, err := tx.GetRowForUpdate(ctx, id)
		if err != nil {
			return err
		}
		prev := row.PreparedQty
		if input.OpeningStock != nil {
			row.OpeningStock = shared.RoundRaw(*input.OpeningStock)
		}
		if input.UsedQty != nil {
			row.UsedQty = shared.RoundRaw(*input.UsedQty)
		}
		if input.PreparedQty != nil {
			row.PreparedQty = shared.RoundRaw(*input.PreparedQty)
		}
		row.IsComposite = li.Ingredient.IsComposite
		if !row.IsComposite {
			row.PreparedQty = 0
			row.RawEquiv = nil
		}
		row.Recompute()
		if err := row.Validate(); err != nil {
			return err
		}
		if row.IsComposite {
			equiv, err := s.reconcile(ctx, tx, snap, row, prev, row.PreparedQty)
			if err != nil {
				return err
			}
			row.RawEquiv = equiv
		}
		if err := tx.UpdateRowQuantities(ctx, row); err != nil {
			return err
		}
		updated = row
		return nil
	})
	if err != nil {
		return Row{}, err
	}
	s.afterCommit(ctx, EventRowUpdated, "daily_inventory:update", updated)
	return updated.Display(), nil
}

// DeleteRow removes a ledger row, first returning any raw stock a composite
// row's preparation consumed.
func (s *Service) DeleteRow(ctx context.Context, id int64) error {
	current, err := s.repo.GetRow(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, current.LocationID); err != nil {
		return err
	}
	li, err := s.catalog.LookupAssignment(ctx, current.LocationIngredientID)
	if err != nil {
		return err
	}
	snap, err := s.snapshot(ctx, li)
	if err != nil {
		return err
	}
	var deleted Row
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		row, err := tx.GetRowForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if li.Ingredient.IsComposite && row.PreparedQty > 0 {
			if _, err := s.reconcile(ctx, tx, snap, row, row.PreparedQty, 0); err != nil {
				return err
			}
		}
		deleted = row
		return tx.DeleteRow(ctx, id)
	})
	if err != nil {
		return err
	}
	s.afterCommit(ctx, EventRowDeleted, "daily_inventory:delete", deleted)
	return nil
}

// ListRows returns the date's rows of active ingredients ordered by name. A
// nil locationID lists every location the caller may access.
func (s *Service) ListRows(ctx context.Context, date time.Time, locationID *int64) ([]Row, error) {
	filter := RowFilter{Date: date}
	if locationID != nil {
		if _, err := s.catalog.LookupLocation(ctx, *locationID); err != nil {
			return nil, err
		}
		if err := s.authorize(ctx, *locationID); err != nil {
			return nil, err
		}
		filter.Scope = shared.LocationScope{IDs: []int64{*locationID}}
	} else {
		scope, err := s.allowed(ctx)
		if err != nil {
			return nil, err
		}
		filter.Scope = scope
	}
	if !filter.Scope.All && len(filter.Scope.IDs) == 0 {
		return []Row{}, nil
	}
	rows, err := s.repo.ListRows(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Display())
	}
	return out, nil
}

// GetRow returns one row after checking access.
func (s *Service) GetRow(ctx context.Context, id int64) (Row, error) {
	row, err := s.repo.GetRow(ctx, id)
	if err != nil {
		return Row{}, err
	}
	if err := s.authorize(ctx, row.LocationID); err != nil {
		return Row{}, err
	}
	return row.Display(), nil
}

// GenerateReport seeds missing rows for a location and date and returns the
// date's rows of active ingredients. Future dates are rejected against today
// in the configured zone.
func (s *Service) GenerateReport(ctx context.Context, locationID int64, date time.Time) (SeedResult, error) {
	if date.After(shared.Today(s.cfg.Clock, s.cfg.Location)) {
		return SeedResult{}, ErrFutureDate
	}
	if _, err := s.catalog.LookupLocation(ctx, locationID); err != nil {
		return SeedResult{}, err
	}
	if err := s.authorize(ctx, locationID); err != nil {
		return SeedResult{}, err
	}
	added, err := s.SeedRows(ctx, locationID, date)
	if err != nil {
		return SeedResult{}, err
	}
	rows, err := s.repo.ListRows(ctx, RowFilter{Date: date, Scope: shared.LocationScope{IDs: []int64{locationID}}})
	if err != nil {
		return SeedResult{}, err
	}
	if len(rows) == 0 {
		return SeedResult{}, ErrNoRecords
	}
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Display())
	}
	return SeedResult{Date: date, LocationID: locationID, Added: added, Rows: out}, nil
}

// SeedRows creates a row for every assigned, available, active ingredient at
// the location that has none for date, carrying the latest earlier closing
// stock forward as opening stock. Existing rows are never touched and
// repeating the call adds nothing. It performs no authorization and is
// shared by the report endpoint and the nightly job.
func (s *Service) SeedRows(ctx context.Context, locationID int64, date time.Time) (int64, error) {
	assigned, err := s.repo.SeedableAssignments(ctx, locationID)
	if err != nil {
		return 0, err
	}
	existing, err := s.repo.ExistingRowKeys(ctx, locationID, date)
	if err != nil {
		return 0, err
	}
	if len(existing) == 0 && len(assigned) == 0 {
		return 0, ErrNothingToReport
	}
	var missing []int64
	for _, liID := range assigned {
		if !existing[liID] {
			missing = append(missing, liID)
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}
	closings, err := s.repo.LatestClosings(ctx, missing, date)
	if err != nil {
		return 0, err
	}
	rows := make([]Row, 0, len(missing))
	for _, liID := range missing {
		opening := closings[liID]
		rows = append(rows, Row{
			Date:                 date,
			LocationID:           locationID,
			LocationIngredientID: liID,
			OpeningStock:         opening,
			ClosingStock:         opening,
		})
	}
	var added int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		n, err := tx.InsertRowsIgnoreConflicts(ctx, rows)
		added = n
		return err
	})
	if err != nil {
		return 0, err
	}
	if added > 0 {
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.AddRowsSeeded(added)
		}
		events.PublishAfterCommit(ctx, s.cfg.Publisher, s.cfg.Logger, seededEvent(ctx, locationID, date, added))
	}
	return added, nil
}

// PostPurchase adds a purchased quantity to the opening and closing stock of
// an existing row inside the caller's transaction.
func PostPurchase(ctx context.Context, tx LedgerTx, locationID, locationIngredientID int64, date time.Time, qty float64) (Row, error) {
	if qty <= 0 {
		return Row{}, fmt.Errorf("%w: purchased quantity must be > 0", ErrInvalidQuantity)
	}
	row, err := tx.GetRowByKeyForUpdate(ctx, locationID, locationIngredientID, date)
	if err != nil {
		return Row{}, err
	}
	row.OpeningStock = shared.AddQty(row.OpeningStock, qty)
	row.ClosingStock = shared.AddQty(row.ClosingStock, qty)
	if err := tx.UpdateRowQuantities(ctx, row); err != nil {
		return Row{}, err
	}
	return row, nil
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

func (s *Service) recordRejection(err error) {
	if s.cfg.Metrics == nil {
		return
	}
	switch {
	case errors.Is(err, ErrInsufficientStock):
		s.cfg.Metrics.RecordRejection("insufficient_stock")
	case errors.Is(err, ErrMissingStockRecord):
		s.cfg.Metrics.RecordRejection("missing_stock_record")
	case errors.Is(err, ErrNegativeStock):
		s.cfg.Metrics.RecordRejection("negative_stock")
	}
}
