package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stocktrace/stocktrace-backend/internal/stock/repository"
	"github.com/stocktrace/stocktrace-backend/internal/stock/service"
	"github.com/stocktrace/stocktrace-backend/pkg/errors"
	"github.com/stocktrace/stocktrace-backend/pkg/httputil"
	"github.com/stocktrace/stocktrace-backend/pkg/logger"
)

// BatchHandler exposes the batch store and the selection engine
type BatchHandler struct {
	batches   *service.BatchService
	selection *service.SelectionService
	logger    *logger.Logger
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(batches *service.BatchService, selection *service.SelectionService, log *logger.Logger) *BatchHandler {
	return &BatchHandler{
		batches:   batches,
		selection: selection,
		logger:    log.WithComponent("batch_handler"),
	}
}

// RegisterRoutes registers batch routes on the router
func (h *BatchHandler) RegisterRoutes(r chi.Router) {
	r.Get("/batches", h.List)
	r.Get("/batches/select", h.Select)
	r.Get("/batches/statistics", h.Statistics)
	r.Get("/batches/{id}", h.Get)
	r.Post("/batches", h.Create)
	r.Put("/batches/{id}", h.Update)
	r.Get("/batches/product/{sku}", h.ListByProduct)
}

type createBatchRequest struct {
	ProductSKU string  `json:"product_sku" validate:"required"`
	UnitID     string  `json:"unit_id" validate:"required"`
	Quantity   string  `json:"quantity" validate:"required"`
	LocationID *string `json:"location_id,omitempty"`
	Notes      *string `json:"notes,omitempty"`
}

type updateBatchRequest struct {
	CurrentQuantity *string `json:"current_quantity,omitempty"`
	Status          *string `json:"status,omitempty"`
	LocationID      *string `json:"location_id,omitempty"`
	Notes           *string `json:"notes,omitempty"`
}

// Create handles POST /batches
func (h *BatchHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, errors.BadRequest("invalid request body"))
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}
	quantity, err := parseQuantity(req.Quantity, "quantity")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	batch, err := h.batches.CreateBatch(r.Context(), service.CreateBatchInput{
		ProductSKU: req.ProductSKU,
		UnitID:     req.UnitID,
		Quantity:   quantity,
		LocationID: req.LocationID,
		Notes:      req.Notes,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, batch)
}

// Get handles GET /batches/{id}
func (h *BatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	batch, err := h.batches.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, batch)
}

// List handles GET /batches
func (h *BatchHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)
	filter := repository.BatchFilter{
		Status:     r.URL.Query().Get("status"),
		ProductSKU: r.URL.Query().Get("product_sku"),
		LocationID: r.URL.Query().Get("location_id"),
	}

	batches, total, err := h.batches.ListBatches(r.Context(), filter, page, perPage)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSONWithMeta(w, http.StatusOK, batches, httputil.NewMeta(page, perPage, total))
}

// ListByProduct handles GET /batches/product/{sku}
func (h *BatchHandler) ListByProduct(w http.ResponseWriter, r *http.Request) {
	batches, err := h.batches.ListBatchesByProduct(r.Context(), chi.URLParam(r, "sku"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, batches)
}

// Update handles PUT /batches/{id}
func (h *BatchHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateBatchRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, errors.BadRequest("invalid request body"))
		return
	}

	update := repository.BatchUpdate{
		Status:     req.Status,
		LocationID: req.LocationID,
		Notes:      req.Notes,
	}
	if req.CurrentQuantity != nil {
		quantity, err := parseQuantity(*req.CurrentQuantity, "current_quantity")
		if err != nil {
			httputil.Error(w, err)
			return
		}
		update.CurrentQuantity = &quantity
	}

	batch, err := h.batches.UpdateBatch(r.Context(), chi.URLParam(r, "id"), update)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, batch)
}

// Select handles GET /batches/select
func (h *BatchHandler) Select(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("product_sku") == "" {
		httputil.Error(w, errors.BadRequest("product_sku is required"))
		return
	}
	required, err := parseQuantity(q.Get("required_quantity"), "required_quantity")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.selection.Select(r.Context(), service.SelectInput{
		ProductSKU:          q.Get("product_sku"),
		RequiredQuantity:    required,
		Method:              q.Get("method"),
		PreferredLocationID: q.Get("preferred_location"),
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, result)
}

// Statistics handles GET /batches/statistics
func (h *BatchHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.batches.Statistics(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, stats)
}

func parseQuantity(raw, field string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, errors.BadRequest(field + " is required")
	}
	quantity, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.BadRequest(field + " is not a valid decimal")
	}
	return quantity, nil
}
