package masterdata

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/franchisepos/inventory/internal/platform/db"
)

// Repository persists the catalog in PostgreSQL.
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

type scanner interface {
	Scan(dest ...any) error
}

const ingredientColumns = `mi.id, mi.name, mi.unit, mi.reorder_threshold::float8, COALESCE(mi.shelf_life_hours, 0)::float8,
mi.is_composite, COALESCE(mi.recipe_yield, 0)::float8, mi.recipe_ratios, mi.is_active, mi.created_at, mi.updated_at`

const assignmentColumns = `li.id, li.master_ingredient_id, li.location_id, l.name, li.is_assigned, li.is_available, ` + ingredientColumns

const assignmentFrom = `FROM location_ingredients li
JOIN master_ingredients mi ON mi.id = li.master_ingredient_id
JOIN locations l ON l.id = li.location_id`

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("masterdata repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// ListIngredients returns ingredients with the given active flag sorted by name.
func (r *Repository) ListIngredients(ctx context.Context, active bool) ([]Ingredient, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ingredientColumns+` FROM master_ingredients mi WHERE mi.is_active = $1 ORDER BY mi.name`, active)
	if err != nil {
		return nil, err
	}
	return collectIngredients(rows)
}

// GetIngredient loads one ingredient regardless of status.
func (r *Repository) GetIngredient(ctx context.Context, id int64) (Ingredient, error) {
	return scanIngredient(r.pool.QueryRow(ctx, `SELECT `+ingredientColumns+` FROM master_ingredients mi WHERE mi.id = $1`, id))
}

// GetIngredients loads ingredients by id. Unknown ids are absent from the map.
func (r *Repository) GetIngredients(ctx context.Context, ids []int64) (map[int64]Ingredient, error) {
	out := make(map[int64]Ingredient, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+ingredientColumns+` FROM master_ingredients mi WHERE mi.id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	list, err := collectIngredients(rows)
	if err != nil {
		return nil, err
	}
	for _, ing := range list {
		out[ing.ID] = ing
	}
	return out, nil
}

// GetLocation loads a location.
func (r *Repository) GetLocation(ctx context.Context, id int64) (Location, error) {
	var loc Location
	err := r.pool.QueryRow(ctx, `SELECT id, name, is_active FROM locations WHERE id = $1`, id).Scan(&loc.ID, &loc.Name, &loc.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return Location{}, ErrLocationNotFound
	}
	return loc, err
}

// ListLocations returns active locations ordered by id.
func (r *Repository) ListLocations(ctx context.Context) ([]Location, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, is_active FROM locations WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Location
	for rows.Next() {
		var loc Location
		if err := rows.Scan(&loc.ID, &loc.Name, &loc.IsActive); err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

// ListAssignments lists a location's assignments of active ingredients.
func (r *Repository) ListAssignments(ctx context.Context, locationID int64, assigned *bool) ([]LocationIngredient, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+assignmentColumns+` `+assignmentFrom+`
WHERE li.location_id = $1 AND mi.is_active AND ($2::bool IS NULL OR li.is_assigned = $2)
ORDER BY mi.name`, locationID, assigned)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LocationIngredient
	for rows.Next() {
		li, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, li)
	}
	return out, rows.Err()
}

// GetAssignment loads one assignment with its ingredient.
func (r *Repository) GetAssignment(ctx context.Context, id int64) (LocationIngredient, error) {
	return scanAssignment(r.pool.QueryRow(ctx, `SELECT `+assignmentColumns+` `+assignmentFrom+` WHERE li.id = $1`, id))
}

func (r *txRepository) GetIngredientForUpdate(ctx context.Context, id int64) (Ingredient, error) {
	return scanIngredient(r.tx.QueryRow(ctx, `SELECT `+ingredientColumns+` FROM master_ingredients mi WHERE mi.id = $1 FOR UPDATE`, id))
}

func (r *txRepository) FindIngredientByName(ctx context.Context, normalized string) (Ingredient, error) {
	return scanIngredient(r.tx.QueryRow(ctx, `SELECT `+ingredientColumns+` FROM master_ingredients mi WHERE lower(mi.name) = $1`, normalized))
}

func (r *txRepository) ActiveCompositesUsing(ctx context.Context, rawID int64) ([]Ingredient, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+ingredientColumns+` FROM master_ingredients mi
WHERE mi.is_active AND mi.is_composite AND mi.recipe_ratios ? $1::text
ORDER BY mi.name`, rawID)
	if err != nil {
		return nil, err
	}
	return collectIngredients(rows)
}

func (r *txRepository) InsertIngredient(ctx context.Context, ing Ingredient) (int64, error) {
	ratios, err := encodeRecipe(ing.Recipe)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.tx.QueryRow(ctx, `INSERT INTO master_ingredients
(name, unit, reorder_threshold, shelf_life_hours, is_composite, recipe_yield, recipe_ratios, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,TRUE,NOW(),NOW()) RETURNING id`,
		ing.Name, string(ing.Unit), ing.ReorderThreshold, nullHours(ing), ing.IsComposite, nullYield(ing), ratios).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateIngredient(ctx context.Context, ing Ingredient) error {
	ratios, err := encodeRecipe(ing.Recipe)
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `UPDATE master_ingredients
SET name=$2, unit=$3, reorder_threshold=$4, shelf_life_hours=$5, is_composite=$6, recipe_yield=$7, recipe_ratios=$8, updated_at=NOW()
WHERE id=$1`, ing.ID, ing.Name, string(ing.Unit), ing.ReorderThreshold, nullHours(ing), ing.IsComposite, nullYield(ing), ratios)
	return err
}

func (r *txRepository) SetIngredientActive(ctx context.Context, id int64, active bool) error {
	_, err := r.tx.Exec(ctx, `UPDATE master_ingredients SET is_active=$2, updated_at=NOW() WHERE id=$1`, id, active)
	return err
}

func (r *txRepository) UnassignIngredient(ctx context.Context, ingredientID int64) (int64, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE location_ingredients SET is_assigned=FALSE, is_available=FALSE, updated_at=NOW()
WHERE master_ingredient_id=$1 AND is_assigned`, ingredientID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *txRepository) GetAssignmentForUpdate(ctx context.Context, id int64) (LocationIngredient, error) {
	return scanAssignment(r.tx.QueryRow(ctx, `SELECT `+assignmentColumns+` `+assignmentFrom+` WHERE li.id = $1 FOR UPDATE OF li`, id))
}

func (r *txRepository) FindAssignment(ctx context.Context, locationID, ingredientID int64) (LocationIngredient, error) {
	return scanAssignment(r.tx.QueryRow(ctx, `SELECT `+assignmentColumns+` `+assignmentFrom+`
WHERE li.location_id = $1 AND li.master_ingredient_id = $2`, locationID, ingredientID))
}

func (r *txRepository) UpsertAssignment(ctx context.Context, locationID, ingredientID int64, available bool) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO location_ingredients (master_ingredient_id, location_id, is_assigned, is_available, created_at, updated_at)
VALUES ($1,$2,TRUE,$3,NOW(),NOW())
ON CONFLICT (master_ingredient_id, location_id) DO UPDATE SET is_assigned=TRUE, is_available=EXCLUDED.is_available, updated_at=NOW()
RETURNING id`, ingredientID, locationID, available).Scan(&id)
	return id, err
}

func (r *txRepository) SetAssignmentAvailability(ctx context.Context, id int64, available bool) error {
	_, err := r.tx.Exec(ctx, `UPDATE location_ingredients SET is_available=$2, updated_at=NOW() WHERE id=$1`, id, available)
	return err
}

func (r *txRepository) UnassignAssignment(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE location_ingredients SET is_assigned=FALSE, is_available=FALSE, updated_at=NOW() WHERE id=$1`, id)
	return err
}

func (r *txRepository) AvailableCompositesUsing(ctx context.Context, locationID, rawID int64) ([]string, error) {
	rows, err := r.tx.Query(ctx, `SELECT mi.name `+assignmentFrom+`
WHERE li.location_id = $1 AND li.is_assigned AND li.is_available
  AND mi.is_active AND mi.is_composite AND mi.recipe_ratios ? $2::text
ORDER BY mi.name`, locationID, rawID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func scanIngredient(row scanner) (Ingredient, error) {
	var (
		ing    Ingredient
		unit   string
		hours  float64
		ratios []byte
	)
	err := row.Scan(&ing.ID, &ing.Name, &unit, &ing.ReorderThreshold, &hours, &ing.IsComposite, &ing.RecipeYield, &ratios, &ing.IsActive, &ing.CreatedAt, &ing.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Ingredient{}, ErrIngredientNotFound
	}
	if err != nil {
		return Ingredient{}, err
	}
	ing.Unit = Unit(unit)
	ing.ShelfLife, _ = shelfLifeFromHours(&hours)
	if ing.Recipe, err = decodeRecipe(ratios); err != nil {
		return Ingredient{}, err
	}
	return ing, nil
}

func collectIngredients(rows pgx.Rows) ([]Ingredient, error) {
	defer rows.Close()
	var out []Ingredient
	for rows.Next() {
		ing, err := scanIngredient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ing)
	}
	return out, rows.Err()
}

func scanAssignment(row scanner) (LocationIngredient, error) {
	var (
		li     LocationIngredient
		unit   string
		hours  float64
		ratios []byte
	)
	ing := &li.Ingredient
	err := row.Scan(&li.ID, &li.IngredientID, &li.LocationID, &li.LocationName, &li.IsAssigned, &li.IsAvailable,
		&ing.ID, &ing.Name, &unit, &ing.ReorderThreshold, &hours, &ing.IsComposite, &ing.RecipeYield, &ratios, &ing.IsActive, &ing.CreatedAt, &ing.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return LocationIngredient{}, ErrAssignmentNotFound
	}
	if err != nil {
		return LocationIngredient{}, err
	}
	ing.Unit = Unit(unit)
	ing.ShelfLife, _ = shelfLifeFromHours(&hours)
	if ing.Recipe, err = decodeRecipe(ratios); err != nil {
		return LocationIngredient{}, err
	}
	return li, nil
}

func encodeRecipe(recipe Recipe) ([]byte, error) {
	if len(recipe) == 0 {
		return nil, nil
	}
	return json.Marshal(recipe)
}

func decodeRecipe(raw []byte) (Recipe, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var recipe Recipe
	if err := json.Unmarshal(raw, &recipe); err != nil {
		return nil, err
	}
	return recipe, nil
}

func nullHours(ing Ingredient) any {
	if ing.ShelfLife == 0 {
		return nil
	}
	return ing.ShelfLife.Hours()
}

func nullYield(ing Ingredient) any {
	if !ing.IsComposite {
		return nil
	}
	return ing.RecipeYield
}
