package masterdata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franchisepos/inventory/internal/rbac"
	"github.com/franchisepos/inventory/internal/shared"
)

const (
	superUser int64 = 1
	ownerUser int64 = 2
)

type principalStore map[int64]rbac.Principal

func (s principalStore) LoadPrincipal(_ context.Context, userID int64) (rbac.Principal, error) {
	p, ok := s[userID]
	if !ok {
		return rbac.Principal{}, rbac.ErrNotFound
	}
	return p, nil
}

type stubCatalog struct {
	ingredient   Ingredient
	names        map[int64]string
	assignments  []LocationIngredient
	assigned     []AssignResult
	availability AvailabilityResult
	unassigned   int64
	err          error

	createInput *CreateIngredientInput
	assignLoc   int64
	assignInput []AssignInput
	toggles     []AvailabilityInput
	listFilter  *bool
}

func (s *stubCatalog) ListIngredients(context.Context) ([]Ingredient, error) {
	return []Ingredient{s.ingredient}, s.err
}

func (s *stubCatalog) ListArchived(context.Context) ([]Ingredient, error) { return nil, s.err }

func (s *stubCatalog) GetIngredient(context.Context, int64) (Ingredient, error) {
	return s.ingredient, s.err
}

func (s *stubCatalog) RecipeNames(context.Context, Recipe) (map[int64]string, error) {
	return s.names, nil
}

func (s *stubCatalog) CreateIngredient(_ context.Context, input CreateIngredientInput) (Ingredient, error) {
	s.createInput = &input
	return s.ingredient, s.err
}

func (s *stubCatalog) UpdateIngredient(context.Context, int64, UpdateIngredientInput) (Ingredient, error) {
	return s.ingredient, s.err
}

func (s *stubCatalog) DeactivateIngredient(context.Context, int64) (int64, error) {
	return s.unassigned, s.err
}

func (s *stubCatalog) RestoreIngredient(context.Context, int64) (Ingredient, error) {
	return s.ingredient, s.err
}

func (s *stubCatalog) ListAssignments(_ context.Context, _ int64, assigned *bool) ([]LocationIngredient, error) {
	s.listFilter = assigned
	return s.assignments, s.err
}

func (s *stubCatalog) GetAssignment(context.Context, int64) (LocationIngredient, error) {
	return LocationIngredient{}, s.err
}

func (s *stubCatalog) Assign(_ context.Context, locationID int64, inputs []AssignInput) ([]AssignResult, error) {
	s.assignLoc = locationID
	s.assignInput = inputs
	return s.assigned, s.err
}

func (s *stubCatalog) SetAvailability(_ context.Context, inputs []AvailabilityInput) (AvailabilityResult, error) {
	s.toggles = inputs
	return s.availability, s.err
}

func (s *stubCatalog) Unassign(context.Context, int64) error { return s.err }

func serve(t *testing.T, svc ServicePort, method, target, body string, userID int64) *httptest.ResponseRecorder {
	t.Helper()
	mw := rbac.Middleware{Service: rbac.NewService(principalStore{
		superUser: {UserID: superUser, Username: "root", Role: rbac.RoleSuperAdmin},
		ownerUser: {UserID: ownerUser, Username: "owner", Role: rbac.RoleFranchiseAdmin, LocationIDs: []int64{1}},
	})}
	r := chi.NewRouter()
	NewHandler(nil, svc, mw).MountRoutes(r)
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req = req.WithContext(shared.ContextWithSession(req.Context(), &shared.Session{ID: "sess", UserID: userID}))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestCreateIngredientIsSuperAdminOnly(t *testing.T) {
	stub := &stubCatalog{
		ingredient: Ingredient{ID: 3, Name: "dosa batter", Unit: UnitKilogram, IsComposite: true, RecipeYield: 1, Recipe: Recipe{1: 0.6, 2: 0.4}, IsActive: true},
		names:      map[int64]string{1: "rice"},
	}
	body := `{"name":"Dosa Batter","unit":"kg","is_composite":true,"recipe_yield":1,"recipe_ratios":{"1":0.6,"2":0.4}}`

	rr := serve(t, stub, http.MethodPost, "/master-ingredients", body, ownerUser)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Nil(t, stub.createInput)

	rr = serve(t, stub, http.MethodPost, "/master-ingredients", body, superUser)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.NotNil(t, stub.createInput)
	assert.Equal(t, Recipe{1: 0.6, 2: 0.4}, stub.createInput.Recipe)
	assert.Equal(t, UnitKilogram, stub.createInput.Unit)

	var out ingredientResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Len(t, out.RecipeRatios, 2)
	assert.Equal(t, recipeLine{ID: 1, Name: "rice", Ratio: 0.6}, out.RecipeRatios[0])
	assert.Equal(t, "Unknown ingredient (ID: 2)", out.RecipeRatios[1].Name)
	require.NotNil(t, out.RecipeYield)
	assert.Equal(t, 1.0, *out.RecipeYield)
}

func TestCreateIngredientValidationErrors(t *testing.T) {
	stub := &stubCatalog{}
	rr := serve(t, stub, http.MethodPost, "/master-ingredients", `{"unit":"kg"}`, superUser)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Nil(t, stub.createInput)

	stub.err = ErrDuplicateName
	rr = serve(t, stub, http.MethodPost, "/master-ingredients", `{"name":"rice","unit":"kg"}`, superUser)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestAssignDefaultsToAvailable(t *testing.T) {
	stub := &stubCatalog{assigned: []AssignResult{
		{Assignment: LocationIngredient{ID: 10, IngredientID: 3, LocationID: 1, IsAssigned: true, IsAvailable: true}},
		{Assignment: LocationIngredient{ID: 11, IngredientID: 1, LocationID: 1, IsAssigned: true, IsAvailable: true}, AutoAssigned: true},
	}}
	rr := serve(t, stub, http.MethodPost, "/location-ingredients",
		`{"location_id":1,"ingredients":[{"master_ingredient_id":3},{"master_ingredient_id":4,"is_available":false}]}`, ownerUser)

	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, int64(1), stub.assignLoc)
	assert.Equal(t, []AssignInput{{IngredientID: 3, IsAvailable: true}, {IngredientID: 4, IsAvailable: false}}, stub.assignInput)

	var out []assignmentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Len(t, out, 2)
	require.NotNil(t, out[1].AutoAssigned)
	assert.True(t, *out[1].AutoAssigned)
}

func TestSetAvailabilityStatusCodes(t *testing.T) {
	refused := AvailabilityError{IngredientName: "rice", Message: "Cannot make raw ingredient unavailable. It is required by available composite ingredients: dosa batter"}

	stub := &stubCatalog{availability: AvailabilityResult{Errors: []AvailabilityError{refused}}}
	rr := serve(t, stub, http.MethodPatch, "/location-ingredients/availability", `{"ingredients":[{"id":11,"is_available":false}]}`, ownerUser)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, []AvailabilityInput{{AssignmentID: 11, IsAvailable: false}}, stub.toggles)

	var body struct {
		Status string              `json:"status"`
		Errors []map[string]string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "error", body.Status)
	require.Len(t, body.Errors, 1)
	assert.Equal(t, "rice", body.Errors[0]["ingredient"])
	assert.Contains(t, body.Errors[0]["error"], "dosa batter")

	stub.availability.Updated = []LocationIngredient{{ID: 12, IsAssigned: true}}
	rr = serve(t, stub, http.MethodPatch, "/location-ingredients/availability", `{"ingredients":[{"id":11,"is_available":false},{"id":12,"is_available":false}]}`, ownerUser)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "partial_success", body.Status)

	rr = serve(t, stub, http.MethodPatch, "/location-ingredients/availability", `{"ingredients":[]}`, ownerUser)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListAssignmentsQuery(t *testing.T) {
	stub := &stubCatalog{assignments: []LocationIngredient{{ID: 10, LocationID: 1, IsAssigned: true}}}
	rr := serve(t, stub, http.MethodGet, "/location-ingredients?location_id=1&assigned=true", "", ownerUser)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, stub.listFilter)
	assert.True(t, *stub.listFilter)

	rr = serve(t, stub, http.MethodGet, "/location-ingredients", "", ownerUser)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = serve(t, stub, http.MethodGet, "/location-ingredients?location_id=1&assigned=maybe", "", ownerUser)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	stub.err = rbac.ErrLocationDenied
	rr = serve(t, stub, http.MethodGet, "/location-ingredients?location_id=2", "", ownerUser)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestDeactivateIngredientRoute(t *testing.T) {
	stub := &stubCatalog{unassigned: 3}
	rr := serve(t, stub, http.MethodDelete, "/master-ingredients/5", "", superUser)
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Unassigned int64 `json:"unassigned_locations"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, int64(3), body.Unassigned)

	stub.err = ErrIngredientInUse
	rr = serve(t, stub, http.MethodDelete, "/master-ingredients/5", "", superUser)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
