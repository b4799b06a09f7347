package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stocktrace/stocktrace-backend/internal/stock/repository"
	"github.com/stocktrace/stocktrace-backend/internal/stock/service"
	"github.com/stocktrace/stocktrace-backend/pkg/errors"
	"github.com/stocktrace/stocktrace-backend/pkg/httputil"
	"github.com/stocktrace/stocktrace-backend/pkg/logger"
)

// MovementHandler exposes the movement and adjustment ledger
type MovementHandler struct {
	movements *service.MovementService
	logger    *logger.Logger
}

// NewMovementHandler creates a new movement handler
func NewMovementHandler(movements *service.MovementService, log *logger.Logger) *MovementHandler {
	return &MovementHandler{
		movements: movements,
		logger:    log.WithComponent("movement_handler"),
	}
}

// RegisterRoutes registers movement routes on the router
func (h *MovementHandler) RegisterRoutes(r chi.Router) {
	r.Post("/movements", h.Record)
	r.Post("/movements/adjust", h.Adjust)
	r.Get("/movements", h.History)
	r.Get("/products/{sku}/stock", h.StockLevels)
}

type recordMovementRequest struct {
	MovementType   string  `json:"movement_type" validate:"required,oneof=TRANSFER INBOUND OUTBOUND"`
	ProductSKU     string  `json:"product_sku" validate:"required"`
	FromLocationID *string `json:"from_location_id,omitempty"`
	ToLocationID   *string `json:"to_location_id,omitempty"`
	Quantity       string  `json:"quantity" validate:"required"`
	LotNumber      string  `json:"lot_number,omitempty"`
	Reason         *string `json:"reason,omitempty"`
}

type adjustInventoryRequest struct {
	ProductSKU  string `json:"product_sku" validate:"required"`
	LocationID  string `json:"location_id" validate:"required"`
	LotNumber   string `json:"lot_number,omitempty"`
	NewQuantity string `json:"new_quantity" validate:"required"`
	Reason      string `json:"reason" validate:"required"`
}

// Record handles POST /movements
func (h *MovementHandler) Record(w http.ResponseWriter, r *http.Request) {
	var req recordMovementRequest
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

	movement, err := h.movements.RecordMovement(r.Context(), service.RecordMovementInput{
		MovementType:   req.MovementType,
		ProductSKU:     req.ProductSKU,
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		Quantity:       quantity,
		LotNumber:      req.LotNumber,
		Reason:         req.Reason,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, movement)
}

// Adjust handles POST /movements/adjust
func (h *MovementHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustInventoryRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, errors.BadRequest("invalid request body"))
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}
	quantity, err := parseQuantity(req.NewQuantity, "new_quantity")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	movement, err := h.movements.AdjustInventory(r.Context(), service.AdjustInventoryInput{
		ProductSKU:  req.ProductSKU,
		LocationID:  req.LocationID,
		LotNumber:   req.LotNumber,
		NewQuantity: quantity,
		Reason:      req.Reason,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, movement)
}

// History handles GET /movements
func (h *MovementHandler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.MovementFilter{
		ProductSKU:   q.Get("product_sku"),
		LocationID:   q.Get("location_id"),
		MovementType: q.Get("movement_type"),
	}

	if raw := q.Get("start_date"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.Error(w, errors.BadRequest("start_date must be RFC 3339"))
			return
		}
		filter.StartDate = &t
	}
	if raw := q.Get("end_date"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.Error(w, errors.BadRequest("end_date must be RFC 3339"))
			return
		}
		filter.EndDate = &t
	}

	page, perPage := pagination(r)
	movements, total, err := h.movements.GetHistory(r.Context(), filter, page, perPage)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSONWithMeta(w, http.StatusOK, movements, httputil.NewMeta(page, perPage, total))
}

// StockLevels handles GET /products/{sku}/stock
func (h *MovementHandler) StockLevels(w http.ResponseWriter, r *http.Request) {
	items, err := h.movements.GetStockLevels(r.Context(), chi.URLParam(r, "sku"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, items)
}

func pagination(r *http.Request) (page, perPage int) {
	page = 1
	perPage = 20
	if raw := r.URL.Query().Get("page"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			page = n
		}
	}
	// limit is the documented name; per_page is kept as an alias.
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		raw = r.URL.Query().Get("per_page")
	}
	if raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			perPage = n
		}
	}
	return page, perPage
}
