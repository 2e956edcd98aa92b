package masterdata

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franchisepos/inventory/internal/platform/cache"
	"github.com/franchisepos/inventory/internal/shared"
)

type memoryRepo struct {
	ingredients map[int64]Ingredient
	locations   map[int64]Location
	assignments map[int64]LocationIngredient
	nextID      int64
	listCalls   int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		ingredients: map[int64]Ingredient{},
		locations:   map[int64]Location{1: {ID: 1, Name: "Indiranagar", IsActive: true}, 2: {ID: 2, Name: "Koramangala", IsActive: true}},
		assignments: map[int64]LocationIngredient{},
		nextID:      100,
	}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	ingredients := make(map[int64]Ingredient, len(m.ingredients))
	for k, v := range m.ingredients {
		ingredients[k] = v
	}
	assignments := make(map[int64]LocationIngredient, len(m.assignments))
	for k, v := range m.assignments {
		assignments[k] = v
	}
	if err := fn(ctx, m); err != nil {
		m.ingredients = ingredients
		m.assignments = assignments
		return err
	}
	return nil
}

func (m *memoryRepo) ListIngredients(_ context.Context, active bool) ([]Ingredient, error) {
	m.listCalls++
	var out []Ingredient
	for _, ing := range m.ingredients {
		if ing.IsActive == active {
			out = append(out, ing)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memoryRepo) GetIngredient(_ context.Context, id int64) (Ingredient, error) {
	ing, ok := m.ingredients[id]
	if !ok {
		return Ingredient{}, ErrIngredientNotFound
	}
	return ing, nil
}

func (m *memoryRepo) GetIngredients(_ context.Context, ids []int64) (map[int64]Ingredient, error) {
	out := map[int64]Ingredient{}
	for _, id := range ids {
		if ing, ok := m.ingredients[id]; ok {
			out[id] = ing
		}
	}
	return out, nil
}

func (m *memoryRepo) GetLocation(_ context.Context, id int64) (Location, error) {
	loc, ok := m.locations[id]
	if !ok {
		return Location{}, ErrLocationNotFound
	}
	return loc, nil
}

func (m *memoryRepo) ListLocations(context.Context) ([]Location, error) {
	var out []Location
	for _, loc := range m.locations {
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRepo) ListAssignments(_ context.Context, locationID int64, assigned *bool) ([]LocationIngredient, error) {
	var out []LocationIngredient
	for _, li := range m.assignments {
		if li.LocationID != locationID || (assigned != nil && li.IsAssigned != *assigned) {
			continue
		}
		out = append(out, m.hydrate(li))
	}
	return out, nil
}

func (m *memoryRepo) GetAssignment(_ context.Context, id int64) (LocationIngredient, error) {
	li, ok := m.assignments[id]
	if !ok {
		return LocationIngredient{}, ErrAssignmentNotFound
	}
	return m.hydrate(li), nil
}

func (m *memoryRepo) hydrate(li LocationIngredient) LocationIngredient {
	li.Ingredient = m.ingredients[li.IngredientID]
	li.LocationName = m.locations[li.LocationID].Name
	return li
}

func (m *memoryRepo) GetIngredientForUpdate(ctx context.Context, id int64) (Ingredient, error) {
	return m.GetIngredient(ctx, id)
}

func (m *memoryRepo) FindIngredientByName(_ context.Context, normalized string) (Ingredient, error) {
	for _, ing := range m.ingredients {
		if ing.Name == normalized {
			return ing, nil
		}
	}
	return Ingredient{}, ErrIngredientNotFound
}

func (m *memoryRepo) ActiveCompositesUsing(_ context.Context, rawID int64) ([]Ingredient, error) {
	var out []Ingredient
	for _, ing := range m.ingredients {
		if ing.IsActive && ing.IsComposite && ing.Recipe.Uses(rawID) {
			out = append(out, ing)
		}
	}
	return out, nil
}

func (m *memoryRepo) InsertIngredient(_ context.Context, ing Ingredient) (int64, error) {
	m.nextID++
	ing.ID = m.nextID
	m.ingredients[ing.ID] = ing
	return ing.ID, nil
}

func (m *memoryRepo) UpdateIngredient(_ context.Context, ing Ingredient) error {
	m.ingredients[ing.ID] = ing
	return nil
}

func (m *memoryRepo) SetIngredientActive(_ context.Context, id int64, active bool) error {
	ing := m.ingredients[id]
	ing.IsActive = active
	m.ingredients[id] = ing
	return nil
}

func (m *memoryRepo) UnassignIngredient(_ context.Context, ingredientID int64) (int64, error) {
	var n int64
	for id, li := range m.assignments {
		if li.IngredientID == ingredientID && li.IsAssigned {
			li.IsAssigned, li.IsAvailable = false, false
			m.assignments[id] = li
			n++
		}
	}
	return n, nil
}

func (m *memoryRepo) GetAssignmentForUpdate(ctx context.Context, id int64) (LocationIngredient, error) {
	return m.GetAssignment(ctx, id)
}

func (m *memoryRepo) FindAssignment(_ context.Context, locationID, ingredientID int64) (LocationIngredient, error) {
	for _, li := range m.assignments {
		if li.LocationID == locationID && li.IngredientID == ingredientID {
			return m.hydrate(li), nil
		}
	}
	return LocationIngredient{}, ErrAssignmentNotFound
}

func (m *memoryRepo) UpsertAssignment(ctx context.Context, locationID, ingredientID int64, available bool) (int64, error) {
	if li, err := m.FindAssignment(ctx, locationID, ingredientID); err == nil {
		li.IsAssigned, li.IsAvailable = true, available
		m.assignments[li.ID] = li
		return li.ID, nil
	}
	m.nextID++
	m.assignments[m.nextID] = LocationIngredient{ID: m.nextID, IngredientID: ingredientID, LocationID: locationID, IsAssigned: true, IsAvailable: available}
	return m.nextID, nil
}

func (m *memoryRepo) SetAssignmentAvailability(_ context.Context, id int64, available bool) error {
	li := m.assignments[id]
	li.IsAvailable = available
	m.assignments[id] = li
	return nil
}

func (m *memoryRepo) UnassignAssignment(_ context.Context, id int64) error {
	li := m.assignments[id]
	li.IsAssigned, li.IsAvailable = false, false
	m.assignments[id] = li
	return nil
}

func (m *memoryRepo) AvailableCompositesUsing(_ context.Context, locationID, rawID int64) ([]string, error) {
	var names []string
	for _, li := range m.assignments {
		ing := m.ingredients[li.IngredientID]
		if li.LocationID == locationID && li.IsAssigned && li.IsAvailable && ing.IsActive && ing.IsComposite && ing.Recipe.Uses(rawID) {
			names = append(names, ing.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

type denyLocation struct{ denied int64 }

func (d denyLocation) AuthorizeLocation(_ context.Context, locationID int64) error {
	if locationID == d.denied {
		return shared.ErrForbidden
	}
	return nil
}

func (d denyLocation) AllowedLocations(context.Context) (shared.LocationScope, error) {
	return shared.LocationScope{All: true}, nil
}

func float(v float64) *float64 { return &v }

func seedBatter(t *testing.T, svc *Service) (rice, lentils, batter Ingredient) {
	t.Helper()
	ctx := context.Background()
	var err error
	rice, err = svc.CreateIngredient(ctx, CreateIngredientInput{Name: "Rice", Unit: UnitKilogram})
	require.NoError(t, err)
	lentils, err = svc.CreateIngredient(ctx, CreateIngredientInput{Name: "Lentils", Unit: UnitKilogram})
	require.NoError(t, err)
	batter, err = svc.CreateIngredient(ctx, CreateIngredientInput{
		Name:        "Dosa Batter",
		Unit:        UnitKilogram,
		IsComposite: true,
		RecipeYield: float(1),
		Recipe:      Recipe{rice.ID: 0.7, lentils.ID: 0.3},
	})
	require.NoError(t, err)
	return rice, lentils, batter
}

func TestCreateIngredientNormalisesAndRejectsDuplicates(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil, nil)
	ctx := context.Background()

	ing, err := svc.CreateIngredient(ctx, CreateIngredientInput{Name: "  Basmati   RICE ", Unit: "KG", ReorderThreshold: 2})
	require.NoError(t, err)
	assert.Equal(t, "basmati rice", ing.Name)
	assert.Equal(t, UnitKilogram, ing.Unit)

	_, err = svc.CreateIngredient(ctx, CreateIngredientInput{Name: "basmati rice", Unit: UnitKilogram})
	assert.ErrorIs(t, err, ErrDuplicateName)
	assert.ErrorIs(t, err, shared.ErrDuplicate)
}

func TestCreateIngredientValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil, nil)
	ctx := context.Background()
	rice, err := svc.CreateIngredient(ctx, CreateIngredientInput{Name: "rice", Unit: UnitKilogram})
	require.NoError(t, err)

	cases := []struct {
		name  string
		input CreateIngredientInput
	}{
		{"unknown unit", CreateIngredientInput{Name: "salt", Unit: "barrel"}},
		{"negative threshold", CreateIngredientInput{Name: "salt", Unit: UnitGram, ReorderThreshold: -1}},
		{"negative shelf life", CreateIngredientInput{Name: "salt", Unit: UnitGram, ShelfLifeHours: float(-2)}},
		{"composite without yield", CreateIngredientInput{Name: "mix", Unit: UnitKilogram, IsComposite: true, Recipe: Recipe{rice.ID: 1}}},
		{"composite without recipe", CreateIngredientInput{Name: "mix", Unit: UnitKilogram, IsComposite: true, RecipeYield: float(1)}},
		{"zero ratio", CreateIngredientInput{Name: "mix", Unit: UnitKilogram, IsComposite: true, RecipeYield: float(1), Recipe: Recipe{rice.ID: 0}}},
		{"unknown raw", CreateIngredientInput{Name: "mix", Unit: UnitKilogram, IsComposite: true, RecipeYield: float(1), Recipe: Recipe{999: 1}}},
		{"raw with recipe", CreateIngredientInput{Name: "mix", Unit: UnitKilogram, Recipe: Recipe{rice.ID: 1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateIngredient(ctx, tc.input)
			assert.ErrorIs(t, err, shared.ErrValidation)
		})
	}
}

func TestUpdateIngredientSwitchToRawClearsRecipe(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil, nil)
	_, _, batter := seedBatter(t, svc)

	no := false
	updated, err := svc.UpdateIngredient(context.Background(), batter.ID, UpdateIngredientInput{IsComposite: &no})
	require.NoError(t, err)
	assert.False(t, updated.IsComposite)
	assert.Nil(t, updated.Recipe)
	assert.Zero(t, updated.RecipeYield)
}

func TestUpdateIngredientRejectsRecipeCycle(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil, nil)
	rice, _, batter := seedBatter(t, svc)

	yes := true
	_, err := svc.UpdateIngredient(context.Background(), rice.ID, UpdateIngredientInput{
		IsComposite: &yes,
		RecipeYield: float(1),
		Recipe:      Recipe{batter.ID: 1},
		RecipeSet:   true,
	})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestDeactivateIngredientRules(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()
	rice, _, batter := seedBatter(t, svc)
	_, err := svc.Assign(ctx, 1, []AssignInput{{IngredientID: rice.ID, IsAvailable: true}})
	require.NoError(t, err)

	_, err = svc.DeactivateIngredient(ctx, rice.ID)
	assert.ErrorIs(t, err, ErrIngredientInUse, "raw used by an active composite")

	_, err = svc.DeactivateIngredient(ctx, batter.ID)
	assert.ErrorIs(t, err, ErrIngredientInUse, "composite still has recipe ratios")

	no := false
	_, err = svc.UpdateIngredient(ctx, batter.ID, UpdateIngredientInput{IsComposite: &no})
	require.NoError(t, err)
	_, err = svc.DeactivateIngredient(ctx, batter.ID)
	require.NoError(t, err)

	n, err := svc.DeactivateIngredient(ctx, rice.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.False(t, repo.ingredients[rice.ID].IsActive)
	for _, li := range repo.assignments {
		if li.IngredientID == rice.ID {
			assert.False(t, li.IsAssigned)
			assert.False(t, li.IsAvailable)
		}
	}

	_, err = svc.GetIngredient(ctx, rice.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	restored, err := svc.RestoreIngredient(ctx, rice.ID)
	require.NoError(t, err)
	assert.True(t, restored.IsActive)
	for _, li := range repo.assignments {
		if li.IngredientID == rice.ID {
			assert.False(t, li.IsAssigned, "restore does not re-assign")
		}
	}
}

func TestAssignCompositeAutoAssignsRaws(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	rice, lentils, batter := seedBatter(t, svc)

	results, err := svc.Assign(context.Background(), 1, []AssignInput{{IngredientID: batter.ID, IsAvailable: true}, {IngredientID: 4242}})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, batter.ID, results[0].Assignment.IngredientID)
	assert.False(t, results[0].AutoAssigned)
	got := map[int64]bool{}
	for _, res := range results[1:] {
		assert.True(t, res.AutoAssigned)
		assert.True(t, res.Assignment.IsAvailable)
		got[res.Assignment.IngredientID] = true
	}
	assert.Equal(t, map[int64]bool{rice.ID: true, lentils.ID: true}, got)
}

func TestAssignRejectsCompositeWithInactiveRaw(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	rice, _, batter := seedBatter(t, svc)
	inactive := repo.ingredients[rice.ID]
	inactive.IsActive = false
	repo.ingredients[rice.ID] = inactive

	_, err := svc.Assign(context.Background(), 1, []AssignInput{{IngredientID: batter.ID, IsAvailable: true}})
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.Empty(t, repo.assignments)
}

func TestAssignChecksLocation(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, denyLocation{denied: 2}, nil, nil)
	rice, _, _ := seedBatter(t, svc)

	_, err := svc.Assign(context.Background(), 2, []AssignInput{{IngredientID: rice.ID}})
	assert.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.Assign(context.Background(), 77, []AssignInput{{IngredientID: rice.ID}})
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSetAvailabilityDependencyRules(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()
	rice, lentils, batter := seedBatter(t, svc)

	results, err := svc.Assign(ctx, 1, []AssignInput{
		{IngredientID: rice.ID, IsAvailable: false},
		{IngredientID: lentils.ID, IsAvailable: true},
		{IngredientID: batter.ID, IsAvailable: false},
	})
	require.NoError(t, err)
	ids := map[int64]int64{}
	for _, res := range results {
		ids[res.Assignment.IngredientID] = res.Assignment.ID
	}

	res, err := svc.SetAvailability(ctx, []AvailabilityInput{{AssignmentID: ids[batter.ID], IsAvailable: true}})
	require.NoError(t, err)
	assert.Equal(t, "error", res.Status())
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "Missing or unavailable raw ingredients: rice")

	res, err = svc.SetAvailability(ctx, []AvailabilityInput{
		{AssignmentID: ids[rice.ID], IsAvailable: true},
		{AssignmentID: ids[batter.ID], IsAvailable: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status())
	assert.True(t, repo.assignments[ids[batter.ID]].IsAvailable)

	res, err = svc.SetAvailability(ctx, []AvailabilityInput{
		{AssignmentID: ids[lentils.ID], IsAvailable: false},
		{AssignmentID: ids[batter.ID], IsAvailable: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "partial_success", res.Status())
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "required by available composite ingredients: dosa batter")
	assert.True(t, repo.assignments[ids[lentils.ID]].IsAvailable)
}

func TestSetAvailabilityProtectsNestedComposite(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()
	rice, lentils, batter := seedBatter(t, svc)
	mix, err := svc.CreateIngredient(ctx, CreateIngredientInput{
		Name:        "Masala Dosa Mix",
		Unit:        UnitKilogram,
		IsComposite: true,
		RecipeYield: float(1),
		Recipe:      Recipe{batter.ID: 1},
	})
	require.NoError(t, err)

	ids := map[int64]int64{}
	for _, batch := range [][]AssignInput{
		{{IngredientID: rice.ID}, {IngredientID: lentils.ID}, {IngredientID: batter.ID}},
		{{IngredientID: mix.ID}},
	} {
		results, err := svc.Assign(ctx, 1, batch)
		require.NoError(t, err)
		for _, res := range results {
			ids[res.Assignment.IngredientID] = res.Assignment.ID
		}
	}
	res, err := svc.SetAvailability(ctx, []AvailabilityInput{
		{AssignmentID: ids[rice.ID], IsAvailable: true},
		{AssignmentID: ids[lentils.ID], IsAvailable: true},
		{AssignmentID: ids[batter.ID], IsAvailable: true},
		{AssignmentID: ids[mix.ID], IsAvailable: true},
	})
	require.NoError(t, err)
	require.Equal(t, "success", res.Status())

	res, err = svc.SetAvailability(ctx, []AvailabilityInput{{AssignmentID: ids[batter.ID], IsAvailable: false}})
	require.NoError(t, err)
	assert.Equal(t, "error", res.Status())
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "Cannot make composite ingredient unavailable")
	assert.Contains(t, res.Errors[0].Message, "masala dosa mix")
	assert.True(t, repo.assignments[ids[batter.ID]].IsAvailable)

	res, err = svc.SetAvailability(ctx, []AvailabilityInput{
		{AssignmentID: ids[mix.ID], IsAvailable: false},
		{AssignmentID: ids[batter.ID], IsAvailable: false},
	})
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status())
	assert.False(t, repo.assignments[ids[batter.ID]].IsAvailable)
}

func TestUnassignBlockedByAvailableComposite(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()
	rice, _, batter := seedBatter(t, svc)

	results, err := svc.Assign(ctx, 1, []AssignInput{{IngredientID: batter.ID, IsAvailable: true}})
	require.NoError(t, err)
	var riceLI, batterLI int64
	for _, res := range results {
		switch res.Assignment.IngredientID {
		case rice.ID:
			riceLI = res.Assignment.ID
		case batter.ID:
			batterLI = res.Assignment.ID
		}
	}

	err = svc.Unassign(ctx, riceLI)
	assert.ErrorIs(t, err, ErrIngredientInUse)

	require.NoError(t, svc.Unassign(ctx, batterLI))
	require.NoError(t, svc.Unassign(ctx, riceLI))
	assert.False(t, repo.assignments[riceLI].IsAssigned)
}

func TestListIngredientsCachedUntilWrite(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMemoryRepo()
	svc := NewService(repo, cache.NewVersioned(client, "catalog", 0), nil, nil, nil)
	ctx := context.Background()

	_, err := svc.CreateIngredient(ctx, CreateIngredientInput{Name: "rice", Unit: UnitKilogram})
	require.NoError(t, err)

	first, err := svc.ListIngredients(ctx)
	require.NoError(t, err)
	_, err = svc.ListIngredients(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.listCalls)
	require.Len(t, first, 1)

	_, err = svc.CreateIngredient(ctx, CreateIngredientInput{Name: "salt", Unit: UnitGram})
	require.NoError(t, err)
	second, err := svc.ListIngredients(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.listCalls)
	assert.Len(t, second, 2)
}

func TestErrorsWrapCategories(t *testing.T) {
	assert.True(t, errors.Is(ErrIngredientNotFound, shared.ErrNotFound))
	assert.True(t, errors.Is(ErrIngredientInUse, shared.ErrValidation))
}
