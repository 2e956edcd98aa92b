package masterdata

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/franchisepos/inventory/internal/platform/httpx"
	"github.com/franchisepos/inventory/internal/rbac"
)

// ServicePort is the catalog surface the handler drives.
type ServicePort interface {
	ListIngredients(ctx context.Context) ([]Ingredient, error)
	ListArchived(ctx context.Context) ([]Ingredient, error)
	GetIngredient(ctx context.Context, id int64) (Ingredient, error)
	RecipeNames(ctx context.Context, recipe Recipe) (map[int64]string, error)
	CreateIngredient(ctx context.Context, input CreateIngredientInput) (Ingredient, error)
	UpdateIngredient(ctx context.Context, id int64, input UpdateIngredientInput) (Ingredient, error)
	DeactivateIngredient(ctx context.Context, id int64) (int64, error)
	RestoreIngredient(ctx context.Context, id int64) (Ingredient, error)
	ListAssignments(ctx context.Context, locationID int64, assigned *bool) ([]LocationIngredient, error)
	GetAssignment(ctx context.Context, id int64) (LocationIngredient, error)
	Assign(ctx context.Context, locationID int64, inputs []AssignInput) ([]AssignResult, error)
	SetAvailability(ctx context.Context, inputs []AvailabilityInput) (AvailabilityResult, error)
	Unassign(ctx context.Context, id int64) error
}

// Handler exposes catalog endpoints.
type Handler struct {
	logger  *slog.Logger
	service ServicePort
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service ServicePort, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers catalog routes under the inventory prefix.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireUser())
		r.Get("/master-ingredients", h.listIngredients)
		r.Get("/master-ingredients/{id}", h.getIngredient)
		r.Get("/location-ingredients", h.listAssignments)
		r.Get("/location-ingredients/{id}", h.getAssignment)
		r.Post("/location-ingredients", h.assign)
		r.Patch("/location-ingredients/availability", h.setAvailability)
		r.Delete("/location-ingredients/{id}", h.unassign)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireSuperAdmin())
		r.Post("/master-ingredients", h.createIngredient)
		r.Patch("/master-ingredients/{id}", h.updateIngredient)
		r.Delete("/master-ingredients/{id}", h.deactivateIngredient)
		r.Get("/archived-ingredients", h.listArchived)
		r.Post("/restored-ingredients/{id}", h.restoreIngredient)
	})
}

type recipeLine struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Ratio float64 `json:"ratio"`
}

type ingredientResponse struct {
	ID               int64        `json:"id"`
	Name             string       `json:"name"`
	Unit             string       `json:"unit"`
	ReorderThreshold float64      `json:"reorder_threshold"`
	ShelfLifeHours   *float64     `json:"shelf_life_hours"`
	IsComposite      bool         `json:"is_composite"`
	RecipeYield      *float64     `json:"recipe_yield"`
	RecipeRatios     []recipeLine `json:"recipe_ratios"`
	IsActive         bool         `json:"is_active"`
}

type assignmentResponse struct {
	ID           int64              `json:"id"`
	LocationID   int64              `json:"location_id"`
	LocationName string             `json:"location_name"`
	IsAssigned   bool               `json:"is_assigned"`
	IsAvailable  bool               `json:"is_available"`
	AutoAssigned *bool              `json:"auto_assigned,omitempty"`
	Ingredient   ingredientResponse `json:"master_ingredient"`
}

type ingredientRequest struct {
	Name             string            `json:"name" validate:"required,max=100"`
	Unit             string            `json:"unit" validate:"required"`
	ReorderThreshold float64           `json:"reorder_threshold" validate:"gte=0"`
	ShelfLifeHours   *float64          `json:"shelf_life_hours" validate:"omitempty,gte=0"`
	IsComposite      bool              `json:"is_composite"`
	RecipeYield      *float64          `json:"recipe_yield" validate:"omitempty,gt=0"`
	RecipeRatios     map[int64]float64 `json:"recipe_ratios"`
}

type ingredientPatch struct {
	Name             *string           `json:"name" validate:"omitempty,max=100"`
	Unit             *string           `json:"unit"`
	ReorderThreshold *float64          `json:"reorder_threshold" validate:"omitempty,gte=0"`
	ShelfLifeHours   *float64          `json:"shelf_life_hours" validate:"omitempty,gte=0"`
	IsComposite      *bool             `json:"is_composite"`
	RecipeYield      *float64          `json:"recipe_yield" validate:"omitempty,gt=0"`
	RecipeRatios     map[int64]float64 `json:"recipe_ratios"`
}

type assignRequest struct {
	LocationID  int64 `json:"location_id" validate:"required,gt=0"`
	Ingredients []struct {
		IngredientID int64 `json:"master_ingredient_id" validate:"required,gt=0"`
		IsAvailable  *bool `json:"is_available"`
	} `json:"ingredients" validate:"required,min=1,dive"`
}

type availabilityRequest struct {
	Ingredients []struct {
		ID          int64 `json:"id" validate:"required,gt=0"`
		IsAvailable bool  `json:"is_available"`
	} `json:"ingredients" validate:"required,min=1,dive"`
}

func (h *Handler) listIngredients(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListIngredients(r.Context())
	if err != nil {
		h.fail(w, "list ingredients", err)
		return
	}
	out, err := h.renderIngredients(r.Context(), items)
	if err != nil {
		h.fail(w, "list ingredients", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) listArchived(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListArchived(r.Context())
	if err != nil {
		h.fail(w, "list archived ingredients", err)
		return
	}
	out, err := h.renderIngredients(r.Context(), items)
	if err != nil {
		h.fail(w, "list archived ingredients", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getIngredient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ing, err := h.service.GetIngredient(r.Context(), id)
	if err != nil {
		h.fail(w, "get ingredient", err)
		return
	}
	h.respondIngredient(w, r, http.StatusOK, ing)
}

func (h *Handler) createIngredient(w http.ResponseWriter, r *http.Request) {
	var req ingredientRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ing, err := h.service.CreateIngredient(r.Context(), CreateIngredientInput{
		Name:             req.Name,
		Unit:             Unit(req.Unit),
		ReorderThreshold: req.ReorderThreshold,
		ShelfLifeHours:   req.ShelfLifeHours,
		IsComposite:      req.IsComposite,
		RecipeYield:      req.RecipeYield,
		Recipe:           Recipe(req.RecipeRatios),
	})
	if err != nil {
		h.fail(w, "create ingredient", err)
		return
	}
	h.respondIngredient(w, r, http.StatusCreated, ing)
}

func (h *Handler) updateIngredient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req ingredientPatch
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := UpdateIngredientInput{
		Name:             req.Name,
		ReorderThreshold: req.ReorderThreshold,
		ShelfLifeHours:   req.ShelfLifeHours,
		IsComposite:      req.IsComposite,
		RecipeYield:      req.RecipeYield,
		Recipe:           Recipe(req.RecipeRatios),
		RecipeSet:        req.RecipeRatios != nil,
	}
	if req.Unit != nil {
		unit := Unit(*req.Unit)
		input.Unit = &unit
	}
	ing, err := h.service.UpdateIngredient(r.Context(), id, input)
	if err != nil {
		h.fail(w, "update ingredient", err)
		return
	}
	h.respondIngredient(w, r, http.StatusOK, ing)
}

func (h *Handler) deactivateIngredient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	n, err := h.service.DeactivateIngredient(r.Context(), id)
	if err != nil {
		h.fail(w, "deactivate ingredient", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"message":              "Ingredient deactivated",
		"unassigned_locations": n,
	})
}

func (h *Handler) restoreIngredient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ing, err := h.service.RestoreIngredient(r.Context(), id)
	if err != nil {
		h.fail(w, "restore ingredient", err)
		return
	}
	h.respondIngredient(w, r, http.StatusOK, ing)
}

func (h *Handler) listAssignments(w http.ResponseWriter, r *http.Request) {
	locationID, err := strconv.ParseInt(r.URL.Query().Get("location_id"), 10, 64)
	if err != nil || locationID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "location_id is required")
		return
	}
	var assigned *bool
	if raw := r.URL.Query().Get("assigned"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "assigned must be true or false")
			return
		}
		assigned = &v
	}
	items, err := h.service.ListAssignments(r.Context(), locationID, assigned)
	if err != nil {
		h.fail(w, "list assignments", err)
		return
	}
	out := make([]assignmentResponse, 0, len(items))
	for _, li := range items {
		out = append(out, h.assignment(r.Context(), li, nil))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getAssignment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	li, err := h.service.GetAssignment(r.Context(), id)
	if err != nil {
		h.fail(w, "get assignment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.assignment(r.Context(), li, nil))
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	inputs := make([]AssignInput, 0, len(req.Ingredients))
	for _, item := range req.Ingredients {
		available := true
		if item.IsAvailable != nil {
			available = *item.IsAvailable
		}
		inputs = append(inputs, AssignInput{IngredientID: item.IngredientID, IsAvailable: available})
	}
	results, err := h.service.Assign(r.Context(), req.LocationID, inputs)
	if err != nil {
		h.fail(w, "assign ingredients", err)
		return
	}
	out := make([]assignmentResponse, 0, len(results))
	for _, res := range results {
		auto := res.AutoAssigned
		out = append(out, h.assignment(r.Context(), res.Assignment, &auto))
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) setAvailability(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	inputs := make([]AvailabilityInput, 0, len(req.Ingredients))
	for _, item := range req.Ingredients {
		inputs = append(inputs, AvailabilityInput{AssignmentID: item.ID, IsAvailable: item.IsAvailable})
	}
	result, err := h.service.SetAvailability(r.Context(), inputs)
	if err != nil {
		h.fail(w, "set availability", err)
		return
	}
	updated := make([]assignmentResponse, 0, len(result.Updated))
	for _, li := range result.Updated {
		updated = append(updated, h.assignment(r.Context(), li, nil))
	}
	errs := make([]map[string]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		errs = append(errs, map[string]string{"ingredient": e.IngredientName, "error": e.Message})
	}
	status := http.StatusOK
	if result.Status() == "error" {
		status = http.StatusBadRequest
	}
	httpx.JSON(w, status, map[string]any{
		"status":  result.Status(),
		"updated": updated,
		"errors":  errs,
	})
}

func (h *Handler) unassign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.Unassign(r.Context(), id); err != nil {
		h.fail(w, "unassign ingredient", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondIngredient(w http.ResponseWriter, r *http.Request, status int, ing Ingredient) {
	names, err := h.service.RecipeNames(r.Context(), ing.Recipe)
	if err != nil {
		h.fail(w, "resolve recipe names", err)
		return
	}
	httpx.JSON(w, status, toIngredientResponse(ing, names))
}

func (h *Handler) renderIngredients(ctx context.Context, items []Ingredient) ([]ingredientResponse, error) {
	all := Recipe{}
	for _, ing := range items {
		for id, ratio := range ing.Recipe {
			all[id] = ratio
		}
	}
	names, err := h.service.RecipeNames(ctx, all)
	if err != nil {
		return nil, err
	}
	out := make([]ingredientResponse, 0, len(items))
	for _, ing := range items {
		out = append(out, toIngredientResponse(ing, names))
	}
	return out, nil
}

func (h *Handler) assignment(ctx context.Context, li LocationIngredient, auto *bool) assignmentResponse {
	names, err := h.service.RecipeNames(ctx, li.Ingredient.Recipe)
	if err != nil && h.logger != nil {
		h.logger.Warn("resolve recipe names", slog.Any("error", err))
	}
	return assignmentResponse{
		ID:           li.ID,
		LocationID:   li.LocationID,
		LocationName: li.LocationName,
		IsAssigned:   li.IsAssigned,
		IsAvailable:  li.IsAvailable,
		AutoAssigned: auto,
		Ingredient:   toIngredientResponse(li.Ingredient, names),
	}
}

func toIngredientResponse(ing Ingredient, names map[int64]string) ingredientResponse {
	out := ingredientResponse{
		ID:               ing.ID,
		Name:             ing.Name,
		Unit:             string(ing.Unit),
		ReorderThreshold: ing.ReorderThreshold,
		IsComposite:      ing.IsComposite,
		IsActive:         ing.IsActive,
		RecipeRatios:     []recipeLine{},
	}
	if ing.ShelfLife > 0 {
		hours := ing.ShelfLife.Hours()
		out.ShelfLifeHours = &hours
	}
	if ing.IsComposite {
		yield := ing.RecipeYield
		out.RecipeYield = &yield
	}
	for _, id := range ing.Recipe.IDs() {
		name, ok := names[id]
		if !ok {
			name = "Unknown ingredient (ID: " + strconv.FormatInt(id, 10) + ")"
		}
		out.RecipeRatios = append(out.RecipeRatios, recipeLine{ID: id, Name: name, Ratio: ing.Recipe[id]})
	}
	return out
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusOf(err) >= http.StatusInternalServerError && h.logger != nil {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return 0, false
	}
	return id, true
}
