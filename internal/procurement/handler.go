package procurement

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/franchisepos/inventory/internal/platform/httpx"
	"github.com/franchisepos/inventory/internal/rbac"
	"github.com/franchisepos/inventory/internal/shared"
)

// ServicePort is the purchasing surface the handler drives.
type ServicePort interface {
	ListLists(ctx context.Context) ([]PurchaseList, error)
	GetList(ctx context.Context, id int64) (PurchaseList, error)
	CreateList(ctx context.Context, input CreateListInput) (PurchaseList, error)
	UpdateList(ctx context.Context, id int64, input UpdateListInput) (PurchaseList, error)
	DeleteList(ctx context.Context, id int64) error
	ConfirmList(ctx context.Context, id int64) (ConfirmResult, error)
	ListEntries(ctx context.Context, locationID int64, date time.Time) ([]Entry, error)
}

// Handler manages procurement endpoints.
type Handler struct {
	logger  *slog.Logger
	service ServicePort
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service ServicePort, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers purchase routes under the inventory prefix.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireUser())
		r.Get("/purchase-list", h.listLists)
		r.Post("/purchase-list", h.createList)
		r.Get("/purchase-list/{id}", h.getList)
		r.Put("/purchase-list/{id}", h.updateList)
		r.Delete("/purchase-list/{id}", h.deleteList)
		r.Post("/purchase-list-confirm/{id}", h.confirmList)
		r.Get("/purchased-items", h.listEntries)
	})
}

type itemRequest struct {
	LocationIngredientID int64   `json:"ingredient_id" validate:"required,gt=0"`
	Quantity             float64 `json:"quantity" validate:"gt=0"`
	Notes                string  `json:"notes" validate:"max=500"`
}

type createListRequest struct {
	Date       string        `json:"date"`
	LocationID int64         `json:"location_id" validate:"required,gt=0"`
	CreatedBy  string        `json:"created_by" validate:"required,max=20"`
	Notes      string        `json:"notes"`
	Items      []itemRequest `json:"items" validate:"required,min=1,dive"`
}

type updateListRequest struct {
	Notes *string       `json:"notes"`
	Items []itemRequest `json:"items" validate:"omitempty,min=1,dive"`
}

type itemResponse struct {
	ID                   int64   `json:"id"`
	LocationIngredientID int64   `json:"ingredient_id"`
	IngredientName       string  `json:"ingredient_name"`
	Quantity             float64 `json:"quantity"`
	Unit                 string  `json:"unit"`
	Notes                string  `json:"notes"`
}

type listResponse struct {
	ID         int64          `json:"id"`
	Date       string         `json:"date"`
	Location   string         `json:"location"`
	LocationID int64          `json:"location_id"`
	CreatedBy  string         `json:"created_by"`
	Status     Status         `json:"status"`
	Notes      string         `json:"notes"`
	Items      []itemResponse `json:"items"`
}

type entryResponse struct {
	ID                   int64   `json:"id"`
	Ingredient           string  `json:"ingredient"`
	LocationIngredientID int64   `json:"ingredient_id"`
	Unit                 string  `json:"unit"`
	Quantity             float64 `json:"quantity"`
	Date                 string  `json:"date"`
	Location             string  `json:"location"`
	LocationID           int64   `json:"location_id"`
	AddedBy              string  `json:"added_by"`
}

func (h *Handler) listLists(w http.ResponseWriter, r *http.Request) {
	lists, err := h.service.ListLists(r.Context())
	if err != nil {
		h.fail(w, "list purchase lists", err)
		return
	}
	out := make([]listResponse, 0, len(lists))
	for _, list := range lists {
		out = append(out, toListResponse(list))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getList(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	list, err := h.service.GetList(r.Context(), id)
	if err != nil {
		h.fail(w, "get purchase list", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toListResponse(list))
}

func (h *Handler) createList(w http.ResponseWriter, r *http.Request) {
	var req createListRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := CreateListInput{
		LocationID: req.LocationID,
		CreatedBy:  req.CreatedBy,
		Notes:      req.Notes,
		Items:      toItemInputs(req.Items),
	}
	if req.Date != "" {
		date, err := shared.ParseDate(req.Date)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		input.Date = &date
	}
	list, err := h.service.CreateList(r.Context(), input)
	if err != nil {
		h.fail(w, "create purchase list", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toListResponse(list))
}

func (h *Handler) updateList(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateListRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, err := h.service.UpdateList(r.Context(), id, UpdateListInput{Notes: req.Notes, Items: toItemInputs(req.Items)})
	if err != nil {
		h.fail(w, "update purchase list", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toListResponse(list))
}

func (h *Handler) deleteList(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteList(r.Context(), id); err != nil {
		h.fail(w, "delete purchase list", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) confirmList(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.service.ConfirmList(r.Context(), id)
	if err != nil {
		h.fail(w, "confirm purchase list", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"message": "Purchase list confirmed and entries created/updated.",
		"posted":  len(res.Entries),
		"skipped": res.Skipped,
		"list":    toListResponse(res.List),
	})
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := shared.ParseDate(q.Get("date"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	locationID, err := strconv.ParseInt(q.Get("location_id"), 10, 64)
	if err != nil || locationID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "location_id is required")
		return
	}
	entries, err := h.service.ListEntries(r.Context(), locationID, date)
	if err != nil {
		h.fail(w, "list purchase entries", err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			ID:                   e.ID,
			Ingredient:           e.IngredientName,
			LocationIngredientID: e.LocationIngredientID,
			Unit:                 e.Unit,
			Quantity:             shared.RoundQty(e.Quantity),
			Date:                 shared.FormatDate(e.Date),
			Location:             e.LocationName,
			LocationID:           e.LocationID,
			AddedBy:              e.AddedBy,
		})
	}
	httpx.JSON(w, http.StatusOK, out)
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

func toItemInputs(reqs []itemRequest) []ItemInput {
	if reqs == nil {
		return nil
	}
	out := make([]ItemInput, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, ItemInput{LocationIngredientID: req.LocationIngredientID, Quantity: req.Quantity, Notes: req.Notes})
	}
	return out
}

func toListResponse(list PurchaseList) listResponse {
	out := listResponse{
		ID:         list.ID,
		Date:       shared.FormatDate(list.Date),
		Location:   list.LocationName,
		LocationID: list.LocationID,
		CreatedBy:  list.CreatedBy,
		Status:     list.Status,
		Notes:      list.Notes,
		Items:      make([]itemResponse, 0, len(list.Items)),
	}
	for _, item := range list.Items {
		if item.LocationIngredientID == 0 {
			continue
		}
		out.Items = append(out.Items, itemResponse{
			ID:                   item.ID,
			LocationIngredientID: item.LocationIngredientID,
			IngredientName:       item.IngredientName,
			Quantity:             item.Quantity,
			Unit:                 item.Unit,
			Notes:                item.Notes,
		})
	}
	return out
}
