package inventory

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/franchisepos/inventory/internal/platform/httpx"
	"github.com/franchisepos/inventory/internal/rbac"
	"github.com/franchisepos/inventory/internal/shared"
)

// ServicePort is the ledger surface the handler drives.
type ServicePort interface {
	ListRows(ctx context.Context, date time.Time, locationID *int64) ([]Row, error)
	GetRow(ctx context.Context, id int64) (Row, error)
	CreateRow(ctx context.Context, input CreateRowInput) (Row, error)
	UpdateRow(ctx context.Context, id int64, input UpdateRowInput) (Row, error)
	DeleteRow(ctx context.Context, id int64) error
	GenerateReport(ctx context.Context, locationID int64, date time.Time) (SeedResult, error)
}

// Handler wires HTTP endpoints for the ledger.
type Handler struct {
	logger  *slog.Logger
	service ServicePort
	rbac    rbac.Middleware
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service ServicePort, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers ledger routes under the inventory prefix.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireUser())
		r.Get("/daily-report", h.listRows)
		r.Get("/daily-report/export", h.exportRows)
		r.Get("/daily-report/{id}", h.getRow)
		r.Post("/daily-report", h.createRow)
		r.Patch("/daily-report", h.updateRow)
		r.Delete("/daily-report/{id}", h.deleteRow)
		r.Post("/generate-report", h.generateReport)
	})
}

type rowResponse struct {
	ID                   int64              `json:"id"`
	Date                 string             `json:"date"`
	LocationID           int64              `json:"location_id"`
	LocationName         string             `json:"location_name"`
	LocationIngredientID int64              `json:"location_ingredient_id"`
	IngredientID         int64              `json:"ingredient_id"`
	IngredientName       string             `json:"ingredient_name"`
	Unit                 string             `json:"unit"`
	IsComposite          bool               `json:"is_composite"`
	OpeningStock         float64            `json:"opening_stock"`
	PreparedQty          float64            `json:"prepared_qty"`
	UsedQty              float64            `json:"used_qty"`
	ClosingStock         float64            `json:"closing_stock"`
	RawEquiv             map[string]float64 `json:"raw_equiv"`
}

type createRowRequest struct {
	Date                 string   `json:"date" validate:"required"`
	LocationID           int64    `json:"location_id" validate:"required,gt=0"`
	LocationIngredientID int64    `json:"location_ingredient_id" validate:"required,gt=0"`
	OpeningStock         *float64 `json:"opening_stock" validate:"omitempty,gte=0"`
	UsedQty              *float64 `json:"used_qty" validate:"omitempty,gte=0"`
	PreparedQty          *float64 `json:"prepared_qty" validate:"omitempty,gte=0"`
}

type updateRowRequest struct {
	ID           int64    `json:"id" validate:"required,gt=0"`
	OpeningStock *float64 `json:"opening_stock" validate:"omitempty,gte=0"`
	UsedQty      *float64 `json:"used_qty" validate:"omitempty,gte=0"`
	PreparedQty  *float64 `json:"prepared_qty" validate:"omitempty,gte=0"`
}

type generateReportRequest struct {
	Date       string `json:"date" validate:"required"`
	LocationID int64  `json:"location_id" validate:"required,gt=0"`
}

func (h *Handler) listRows(w http.ResponseWriter, r *http.Request) {
	date, locationID, ok := h.rowQuery(w, r)
	if !ok {
		return
	}
	rows, err := h.service.ListRows(r.Context(), date, locationID)
	if err != nil {
		h.fail(w, "list ledger rows", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRowResponses(rows))
}

func (h *Handler) exportRows(w http.ResponseWriter, r *http.Request) {
	date, locationID, ok := h.rowQuery(w, r)
	if !ok {
		return
	}
	rows, err := h.service.ListRows(r.Context(), date, locationID)
	if err != nil {
		h.fail(w, "export ledger rows", err)
		return
	}
	var buf bytes.Buffer
	if err := WriteReportXLSX(&buf, rows); err != nil {
		h.fail(w, "render ledger workbook", err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=daily-inventory-%s.xlsx", shared.FormatDate(date)))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) getRow(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	row, err := h.service.GetRow(r.Context(), id)
	if err != nil {
		h.fail(w, "get ledger row", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRowResponse(row))
}

func (h *Handler) createRow(w http.ResponseWriter, r *http.Request) {
	var req createRowRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, err := shared.ParseDate(req.Date)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	row, err := h.service.CreateRow(r.Context(), CreateRowInput{
		Date:                 date,
		LocationID:           req.LocationID,
		LocationIngredientID: req.LocationIngredientID,
		OpeningStock:         deref(req.OpeningStock),
		UsedQty:              deref(req.UsedQty),
		PreparedQty:          deref(req.PreparedQty),
	})
	if err != nil {
		h.fail(w, "create ledger row", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRowResponse(row))
}

func (h *Handler) updateRow(w http.ResponseWriter, r *http.Request) {
	var req updateRowRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	row, err := h.service.UpdateRow(r.Context(), req.ID, UpdateRowInput{
		OpeningStock: req.OpeningStock,
		UsedQty:      req.UsedQty,
		PreparedQty:  req.PreparedQty,
	})
	if err != nil {
		h.fail(w, "update ledger row", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRowResponse(row))
}

func (h *Handler) deleteRow(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	if err := h.service.DeleteRow(r.Context(), id); err != nil {
		h.fail(w, "delete ledger row", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) generateReport(w http.ResponseWriter, r *http.Request) {
	var req generateReportRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, err := shared.ParseDate(req.Date)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.GenerateReport(r.Context(), req.LocationID, date)
	if err != nil {
		h.fail(w, "generate report", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"date":                  shared.FormatDate(res.Date),
		"location_id":           res.LocationID,
		"added_new_ingredients": res.Added,
		"data":                  toRowResponses(res.Rows),
	})
}

func (h *Handler) rowQuery(w http.ResponseWriter, r *http.Request) (time.Time, *int64, bool) {
	q := r.URL.Query()
	date, err := shared.ParseDate(q.Get("date"))
	if err != nil {
		httpx.RespondError(w, err)
		return time.Time{}, nil, false
	}
	raw := q.Get("location_id")
	if raw == "" {
		return date, nil, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid location_id")
		return time.Time{}, nil, false
	}
	return date, &id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusOf(err) >= http.StatusInternalServerError && h.logger != nil {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func toRowResponses(rows []Row) []rowResponse {
	out := make([]rowResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, toRowResponse(row))
	}
	return out
}

func toRowResponse(row Row) rowResponse {
	out := rowResponse{
		ID:                   row.ID,
		Date:                 shared.FormatDate(row.Date),
		LocationID:           row.LocationID,
		LocationName:         row.LocationName,
		LocationIngredientID: row.LocationIngredientID,
		IngredientID:         row.IngredientID,
		IngredientName:       row.IngredientName,
		Unit:                 row.Unit,
		IsComposite:          row.IsComposite,
		OpeningStock:         row.OpeningStock,
		PreparedQty:          row.PreparedQty,
		UsedQty:              row.UsedQty,
		ClosingStock:         row.ClosingStock,
	}
	if row.RawEquiv != nil {
		out.RawEquiv = make(map[string]float64, len(row.RawEquiv))
		for id, qty := range row.RawEquiv {
			out.RawEquiv[strconv.FormatInt(id, 10)] = shared.RoundRaw(qty)
		}
	}
	return out
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
