package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/franchisepos/inventory/internal/platform/db"
)

// Repository persists the ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// NewLedgerTx exposes the row-update primitive on a transaction owned by
// another package.
func NewLedgerTx(tx pgx.Tx) LedgerTx {
	return &txRepository{tx: tx}
}

type scanner interface {
	Scan(dest ...any) error
}

const rowColumns = `d.id, d.date, li.location_id, l.name, d.location_ingredient_id, mi.id, mi.name, mi.unit, mi.is_composite,
d.opening_stock::float8, d.prepared_qty::float8, d.used_qty::float8, d.closing_stock::float8, d.raw_equiv, d.created_at, d.updated_at`

const rowFrom = `FROM daily_inventory d
JOIN location_ingredients li ON li.id = d.location_ingredient_id
JOIN master_ingredients mi ON mi.id = li.master_ingredient_id
JOIN locations l ON l.id = li.location_id`

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// ListRows lists a date's rows of active ingredients ordered by name.
func (r *Repository) ListRows(ctx context.Context, filter RowFilter) ([]Row, error) {
	query := `SELECT ` + rowColumns + ` ` + rowFrom + `
WHERE d.date = $1 AND mi.is_active AND ($2::bool OR li.location_id = ANY($3))
ORDER BY mi.name, l.name`
	ids := filter.Scope.IDs
	if ids == nil {
		ids = []int64{}
	}
	rows, err := r.pool.Query(ctx, query, filter.Date, filter.Scope.All, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Row{}
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// GetRow loads one row.
func (r *Repository) GetRow(ctx context.Context, id int64) (Row, error) {
	return scanRow(r.pool.QueryRow(ctx, `SELECT `+rowColumns+` `+rowFrom+` WHERE d.id = $1`, id))
}

// SeedableAssignments lists assigned, available assignments of active
// ingredients at a location.
func (r *Repository) SeedableAssignments(ctx context.Context, locationID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT li.id FROM location_ingredients li
JOIN master_ingredients mi ON mi.id = li.master_ingredient_id
WHERE li.location_id = $1 AND li.is_assigned AND li.is_available AND mi.is_active
ORDER BY li.id`, locationID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// ExistingRowKeys returns the location ingredients that already have a row.
func (r *Repository) ExistingRowKeys(ctx context.Context, locationID int64, date time.Time) (map[int64]bool, error) {
	rows, err := r.pool.Query(ctx, `SELECT d.location_ingredient_id FROM daily_inventory d
JOIN location_ingredients li ON li.id = d.location_ingredient_id
WHERE li.location_id = $1 AND d.date = $2`, locationID, date)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	out := make(map[int64]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// LatestClosings returns the most recent closing stock strictly before the
// date for each location ingredient that has one.
func (r *Repository) LatestClosings(ctx context.Context, locationIngredientIDs []int64, before time.Time) (map[int64]float64, error) {
	out := make(map[int64]float64, len(locationIngredientIDs))
	if len(locationIngredientIDs) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT ON (location_ingredient_id) location_ingredient_id, closing_stock::float8
FROM daily_inventory
WHERE location_ingredient_id = ANY($1) AND date < $2
ORDER BY location_ingredient_id, date DESC`, locationIngredientIDs, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id      int64
			closing float64
		)
		if err := rows.Scan(&id, &closing); err != nil {
			return nil, err
		}
		out[id] = closing
	}
	return out, rows.Err()
}

func (r *txRepository) GetRowForUpdate(ctx context.Context, id int64) (Row, error) {
	return scanRow(r.tx.QueryRow(ctx, `SELECT `+rowColumns+` `+rowFrom+` WHERE d.id = $1 FOR UPDATE OF d`, id))
}

func (r *txRepository) GetRowByKeyForUpdate(ctx context.Context, locationID, locationIngredientID int64, date time.Time) (Row, error) {
	return scanRow(r.tx.QueryRow(ctx, `SELECT `+rowColumns+` `+rowFrom+`
WHERE li.location_id = $1 AND d.location_ingredient_id = $2 AND d.date = $3
FOR UPDATE OF d`, locationID, locationIngredientID, date))
}

func (r *txRepository) LockRawRows(ctx context.Context, locationID int64, date time.Time, ingredientIDs []int64) (map[int64]Row, error) {
	out := make(map[int64]Row, len(ingredientIDs))
	if len(ingredientIDs) == 0 {
		return out, nil
	}
	rows, err := r.tx.Query(ctx, `SELECT `+rowColumns+` `+rowFrom+`
WHERE li.location_id = $1 AND d.date = $2 AND li.master_ingredient_id = ANY($3)
ORDER BY li.master_ingredient_id
FOR UPDATE OF d`, locationID, date, ingredientIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out[row.IngredientID] = row
	}
	return out, rows.Err()
}

func (r *txRepository) InsertRow(ctx context.Context, row Row) (int64, error) {
	equiv, err := encodeRawEquiv(row.RawEquiv)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.tx.QueryRow(ctx, `INSERT INTO daily_inventory
(date, location_ingredient_id, opening_stock, prepared_qty, used_qty, closing_stock, raw_equiv, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW()) RETURNING id`,
		row.Date, row.LocationIngredientID, row.OpeningStock, row.PreparedQty, row.UsedQty, row.ClosingStock, equiv).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateRowQuantities(ctx context.Context, row Row) error {
	equiv, err := encodeRawEquiv(row.RawEquiv)
	if err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `UPDATE daily_inventory
SET opening_stock=$2, prepared_qty=$3, used_qty=$4, closing_stock=$5, raw_equiv=$6, updated_at=NOW()
WHERE id=$1`, row.ID, row.OpeningStock, row.PreparedQty, row.UsedQty, row.ClosingStock, equiv)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRowNotFound
	}
	return nil
}

func (r *txRepository) DeleteRow(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM daily_inventory WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRowNotFound
	}
	return nil
}

func (r *txRepository) InsertRowsIgnoreConflicts(ctx context.Context, rows []Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`INSERT INTO daily_inventory
(date, location_ingredient_id, opening_stock, prepared_qty, used_qty, closing_stock, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW())
ON CONFLICT (date, location_ingredient_id) DO NOTHING`,
			row.Date, row.LocationIngredientID, row.OpeningStock, row.PreparedQty, row.UsedQty, row.ClosingStock)
	}
	results := r.tx.SendBatch(ctx, batch)
	var inserted int64
	for range rows {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return 0, err
		}
		inserted += tag.RowsAffected()
	}
	return inserted, results.Close()
}

func scanRow(row scanner) (Row, error) {
	var (
		out   Row
		equiv []byte
	)
	err := row.Scan(&out.ID, &out.Date, &out.LocationID, &out.LocationName, &out.LocationIngredientID,
		&out.IngredientID, &out.IngredientName, &out.Unit, &out.IsComposite,
		&out.OpeningStock, &out.PreparedQty, &out.UsedQty, &out.ClosingStock, &equiv, &out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrRowNotFound
	}
	if err != nil {
		return Row{}, err
	}
	if len(equiv) > 0 && string(equiv) != "null" {
		if err := json.Unmarshal(equiv, &out.RawEquiv); err != nil {
			return Row{}, err
		}
	}
	return out, nil
}

func encodeRawEquiv(equiv RawEquiv) ([]byte, error) {
	if equiv == nil {
		return nil, nil
	}
	return json.Marshal(equiv)
}
