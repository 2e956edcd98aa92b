package procurement

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/franchisepos/inventory/internal/inventory"
	"github.com/franchisepos/inventory/internal/platform/db"
	"github.com/franchisepos/inventory/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const listColumns = `p.id, p.date, p.location_id, l.name, COALESCE(p.created_by,''), p.status, COALESCE(p.notes,''), p.created_at`

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("procurement repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// ListLists returns list headers within scope, newest first.
func (r *Repository) ListLists(ctx context.Context, scope shared.LocationScope) ([]PurchaseList, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+listColumns+`
FROM purchase_lists p JOIN locations l ON l.id = p.location_id
WHERE ($1::bool OR p.location_id = ANY($2))
ORDER BY p.date DESC, p.id DESC`, scope.All, scope.IDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PurchaseList
	for rows.Next() {
		list, err := scanList(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, list)
	}
	return out, rows.Err()
}

// GetList loads a list with its items.
func (r *Repository) GetList(ctx context.Context, id int64) (PurchaseList, error) {
	return loadList(ctx, r.pool, id, false)
}

// ListEntries returns purchase entries for a location and day.
func (r *Repository) ListEntries(ctx context.Context, locationID int64, date time.Time) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT e.id, e.date, e.location_ingredient_id, e.location_id, l.name, mi.name, mi.unit,
e.quantity::float8, e.added_by
FROM purchase_entries e
JOIN locations l ON l.id = e.location_id
JOIN location_ingredients li ON li.id = e.location_ingredient_id
JOIN master_ingredients mi ON mi.id = li.master_ingredient_id
WHERE e.location_id = $1 AND e.date = $2
ORDER BY mi.name`, locationID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Date, &e.LocationIngredientID, &e.LocationID, &e.LocationName,
			&e.IngredientName, &e.Unit, &e.Quantity, &e.AddedBy); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *txRepo) GetListForUpdate(ctx context.Context, id int64) (PurchaseList, error) {
	return loadList(ctx, t.tx, id, true)
}

func (t *txRepo) InsertList(ctx context.Context, list PurchaseList) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_lists (date, location_id, created_by, status, notes, created_at)
VALUES ($1,$2,$3,$4,$5,NOW()) RETURNING id`,
		list.Date, list.LocationID, list.CreatedBy, list.Status, list.Notes).Scan(&id)
	return id, err
}

func (t *txRepo) ReplaceItems(ctx context.Context, listID int64, items []Item) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM purchase_list_items WHERE purchase_list_id=$1`, listID); err != nil {
		return err
	}
	rows := make([][]any, 0, len(items))
	for _, item := range items {
		rows = append(rows, []any{listID, item.LocationIngredientID, item.Quantity, item.Notes})
	}
	_, err := t.tx.CopyFrom(ctx, pgx.Identifier{"purchase_list_items"},
		[]string{"purchase_list_id", "location_ingredient_id", "quantity", "notes"},
		pgx.CopyFromRows(rows))
	return err
}

func (t *txRepo) UpdateNotes(ctx context.Context, listID int64, notes string) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_lists SET notes=$2 WHERE id=$1`, listID, notes)
	return err
}

func (t *txRepo) SetStatus(ctx context.Context, listID int64, status Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_lists SET status=$2 WHERE id=$1`, listID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrListNotFound
	}
	return nil
}

func (t *txRepo) DeleteList(ctx context.Context, listID int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM purchase_lists WHERE id=$1`, listID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrListNotFound
	}
	return nil
}

func (t *txRepo) AddEntry(ctx context.Context, entry Entry) (Entry, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_entries (date, location_ingredient_id, location_id, quantity, added_by, created_at)
VALUES ($1,$2,$3,$4,$5,NOW())
ON CONFLICT (date, location_ingredient_id, location_id)
DO UPDATE SET quantity = purchase_entries.quantity + EXCLUDED.quantity
RETURNING id, quantity::float8, added_by`,
		entry.Date, entry.LocationIngredientID, entry.LocationID, entry.Quantity, entry.AddedBy).
		Scan(&entry.ID, &entry.Quantity, &entry.AddedBy)
	return entry, err
}

func (t *txRepo) Ledger() inventory.LedgerTx {
	return inventory.NewLedgerTx(t.tx)
}

func loadList(ctx context.Context, q querier, id int64, forUpdate bool) (PurchaseList, error) {
	query := `SELECT ` + listColumns + ` FROM purchase_lists p JOIN locations l ON l.id = p.location_id WHERE p.id=$1`
	if forUpdate {
		query += ` FOR UPDATE OF p`
	}
	list, err := scanList(q.QueryRow(ctx, query, id))
	if err != nil {
		return PurchaseList{}, err
	}
	rows, err := q.Query(ctx, `SELECT i.id, i.purchase_list_id, COALESCE(i.location_ingredient_id, 0),
COALESCE(mi.name, ''), COALESCE(mi.unit, ''), i.quantity::float8, COALESCE(i.notes, '')
FROM purchase_list_items i
LEFT JOIN location_ingredients li ON li.id = i.location_ingredient_id
LEFT JOIN master_ingredients mi ON mi.id = li.master_ingredient_id
WHERE i.purchase_list_id = $1
ORDER BY mi.name NULLS LAST, i.id`, id)
	if err != nil {
		return PurchaseList{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.ListID, &item.LocationIngredientID, &item.IngredientName,
			&item.Unit, &item.Quantity, &item.Notes); err != nil {
			return PurchaseList{}, err
		}
		list.Items = append(list.Items, item)
	}
	return list, rows.Err()
}

func scanList(row pgx.Row) (PurchaseList, error) {
	var list PurchaseList
	err := row.Scan(&list.ID, &list.Date, &list.LocationID, &list.LocationName, &list.CreatedBy,
		&list.Status, &list.Notes, &list.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseList{}, ErrListNotFound
	}
	return list, err
}
