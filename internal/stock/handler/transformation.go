package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stocktrace/stocktrace-backend/internal/stock/repository"
	"github.com/stocktrace/stocktrace-backend/internal/stock/service"
	"github.com/stocktrace/stocktrace-backend/pkg/errors"
	"github.com/stocktrace/stocktrace-backend/pkg/httputil"
	"github.com/stocktrace/stocktrace-backend/pkg/logger"
)

// TransformationHandler exposes the transformation engine
type TransformationHandler struct {
	transformations *service.TransformationService
	logger          *logger.Logger
}

// NewTransformationHandler creates a new transformation handler
func NewTransformationHandler(transformations *service.TransformationService, log *logger.Logger) *TransformationHandler {
	return &TransformationHandler{
		transformations: transformations,
		logger:          log.WithComponent("transformation_handler"),
	}
}

// RegisterRoutes registers transformation routes on the router
func (h *TransformationHandler) RegisterRoutes(r chi.Router) {
	r.Get("/transformations", h.List)
	r.Get("/transformations/statistics", h.Statistics)
	r.Get("/transformations/tree/{batch_id}", h.Tree)
	r.Get("/transformations/{id}", h.Get)
	r.Post("/transformations", h.Create)
	r.Post("/transformations/merge", h.Merge)
	r.Post("/transformations/cut", h.CreateCut)
	r.Put("/transformations/{id}/result", h.SetResult)
}

type resultSpecRequest struct {
	Quantity   string  `json:"quantity" validate:"required"`
	UnitID     string  `json:"unit_id,omitempty"`
	ProductSKU string  `json:"product_sku,omitempty"`
	LocationID *string `json:"location_id,omitempty"`
}

func (r *resultSpecRequest) toSpec() (service.ResultSpec, error) {
	quantity, err := parseQuantity(r.Quantity, "result.quantity")
	if err != nil {
		return service.ResultSpec{}, err
	}
	return service.ResultSpec{
		Quantity:   quantity,
		UnitID:     r.UnitID,
		ProductSKU: r.ProductSKU,
		LocationID: r.LocationID,
	}, nil
}

type createTransformationRequest struct {
	TransformationType string             `json:"transformation_type" validate:"required,oneof=CUT REPACK CONVERT SPLIT"`
	SourceBatchID      string             `json:"source_batch_id" validate:"required"`
	SourceQuantityUsed string             `json:"source_quantity_used" validate:"required"`
	Result             *resultSpecRequest `json:"result,omitempty"`
	Notes              *string            `json:"notes,omitempty"`
}

type setResultRequest struct {
	Result   resultSpecRequest `json:"result"`
	NoOutput bool              `json:"no_output,omitempty"`
	Notes    *string           `json:"notes,omitempty"`
}

type mergeRequest struct {
	Sources []struct {
		BatchID  string `json:"batch_id" validate:"required"`
		Quantity string `json:"quantity" validate:"required"`
	} `json:"sources" validate:"required,min=2,dive"`
	UnitID     string  `json:"unit_id" validate:"required"`
	ProductSKU string  `json:"product_sku,omitempty"`
	LocationID *string `json:"location_id,omitempty"`
	Notes      *string `json:"notes,omitempty"`
}

type createCutRequest struct {
	ProductSKU          string  `json:"product_sku" validate:"required"`
	RequiredQuantity    string  `json:"required_quantity" validate:"required"`
	Method              string  `json:"method,omitempty"`
	PreferredLocationID string  `json:"preferred_location_id,omitempty"`
	ResultLocationID    *string `json:"result_location_id,omitempty"`
	Notes               *string `json:"notes,omitempty"`
}

type transformationResponse struct {
	Transformation *repository.Transformation `json:"transformation"`
	ResultBatch    *repository.Batch          `json:"result_batch,omitempty"`
}

// Create handles POST /transformations
func (h *TransformationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTransformationRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, errors.BadRequest("invalid request body"))
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}
	used, err := parseQuantity(req.SourceQuantityUsed, "source_quantity_used")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	input := service.CreateTransformationInput{
		TransformationType: req.TransformationType,
		SourceBatchID:      req.SourceBatchID,
		SourceQuantityUsed: used,
		Notes:              req.Notes,
	}
	if req.Result != nil {
		spec, err := req.Result.toSpec()
		if err != nil {
			httputil.Error(w, err)
			return
		}
		input.Result = &spec
	}

	transformation, resultBatch, err := h.transformations.CreateTransformation(r.Context(), input)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, transformationResponse{Transformation: transformation, ResultBatch: resultBatch})
}

// SetResult handles PUT /transformations/{id}/result. A no_output flag closes
// the transformation without an output batch.
func (h *TransformationHandler) SetResult(w http.ResponseWriter, r *http.Request) {
	var req setResultRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, errors.BadRequest("invalid request body"))
		return
	}
	id := chi.URLParam(r, "id")

	if req.NoOutput {
		transformation, err := h.transformations.MarkNoOutput(r.Context(), id, req.Notes)
		if err != nil {
			httputil.Error(w, err)
			return
		}
		httputil.JSON(w, http.StatusOK, transformationResponse{Transformation: transformation})
		return
	}

	spec, err := req.Result.toSpec()
	if err != nil {
		httputil.Error(w, err)
		return
	}
	transformation, resultBatch, err := h.transformations.SetResult(r.Context(), id, service.SetResultInput{
		Result: spec,
		Notes:  req.Notes,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, transformationResponse{Transformation: transformation, ResultBatch: resultBatch})
}

// Merge handles POST /transformations/merge
func (h *TransformationHandler) Merge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, errors.BadRequest("invalid request body"))
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	input := service.MergeInput{
		UnitID:     req.UnitID,
		ProductSKU: req.ProductSKU,
		LocationID: req.LocationID,
		Notes:      req.Notes,
	}
	for _, src := range req.Sources {
		quantity, err := parseQuantity(src.Quantity, "sources.quantity")
		if err != nil {
			httputil.Error(w, err)
			return
		}
		input.Sources = append(input.Sources, service.MergeSource{BatchID: src.BatchID, Quantity: quantity})
	}

	transformations, resultBatch, err := h.transformations.Merge(r.Context(), input)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, map[string]interface{}{
		"transformations": transformations,
		"result_batch":    resultBatch,
	})
}

// CreateCut handles POST /transformations/cut
func (h *TransformationHandler) CreateCut(w http.ResponseWriter, r *http.Request) {
	var req createCutRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, errors.BadRequest("invalid request body"))
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}
	required, err := parseQuantity(req.RequiredQuantity, "required_quantity")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.transformations.CreateCut(r.Context(), service.CreateCutInput{
		ProductSKU:          req.ProductSKU,
		RequiredQuantity:    required,
		Method:              req.Method,
		PreferredLocationID: req.PreferredLocationID,
		ResultLocationID:    req.ResultLocationID,
		Notes:               req.Notes,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, result)
}

// Get handles GET /transformations/{id}
func (h *TransformationHandler) Get(w http.ResponseWriter, r *http.Request) {
	transformation, err := h.transformations.GetTransformation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, transformation)
}

// List handles GET /transformations
func (h *TransformationHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, perPage := pagination(r)
	filter := repository.TransformationFilter{
		TransformationType: q.Get("type"),
		ResultState:        q.Get("result_state"),
		SourceBatchID:      q.Get("source_batch_id"),
		ProductSKU:         q.Get("product_sku"),
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

	transformations, total, err := h.transformations.ListTransformations(r.Context(), filter, page, perPage)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSONWithMeta(w, http.StatusOK, transformations, httputil.NewMeta(page, perPage, total))
}

// Tree handles GET /transformations/tree/{batch_id}
func (h *TransformationHandler) Tree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.transformations.GetTree(r.Context(), chi.URLParam(r, "batch_id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, tree)
}

// Statistics handles GET /transformations/statistics
func (h *TransformationHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.transformations.Statistics(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, stats)
}
