package service

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stocktrace/stocktrace-backend/internal/stock/events"
	"github.com/stocktrace/stocktrace-backend/internal/stock/repository"
	"github.com/stocktrace/stocktrace-backend/pkg/actor"
	"github.com/stocktrace/stocktrace-backend/pkg/database"
	"github.com/stocktrace/stocktrace-backend/pkg/errors"
	"github.com/stocktrace/stocktrace-backend/pkg/logger"
	"github.com/stocktrace/stocktrace-backend/pkg/messaging"
)

// BatchService manages the batch store: receipt, lookup, the closed field
// update path and statistics. Consumption of batches happens only in the
// transformation service.
type BatchService struct {
	db        *database.DB
	batches   *repository.BatchRepository
	products  *repository.ProductRepository
	locations *repository.LocationRepository
	publisher *events.StockEventPublisher
	logger    *logger.Logger
}

// NewBatchService creates a new batch service
func NewBatchService(db *database.DB, publisher *events.StockEventPublisher, log *logger.Logger) *BatchService {
	return &BatchService{
		db:        db,
		batches:   repository.NewBatchRepository(db),
		products:  repository.NewProductRepository(db),
		locations: repository.NewLocationRepository(db),
		publisher: publisher,
		logger:    log.WithComponent("batch_service"),
	}
}

// CreateBatchInput carries a direct receipt
type CreateBatchInput struct {
	ProductSKU string
	UnitID     string
	Quantity   decimal.Decimal
	LocationID *string
	Notes      *string
}

// BatchStatistics aggregates the batch store
type BatchStatistics struct {
	ByStatus  []*repository.BatchStatusCount  `json:"by_status"`
	ByProduct []*repository.BatchProductCount `json:"by_product"`
}

// CreateBatch receives a new INTACT batch into stock
func (s *BatchService) CreateBatch(ctx context.Context, input CreateBatchInput) (*repository.Batch, error) {
	if !input.Quantity.IsPositive() {
		return nil, errors.BadRequest("quantity must be positive")
	}
	if _, err := s.products.GetBySKU(ctx, input.ProductSKU); err != nil {
		return nil, err
	}
	if input.LocationID != nil {
		if _, err := s.locations.GetByID(ctx, *input.LocationID); err != nil {
			return nil, err
		}
	}

	performedBy := actor.FromContext(ctx)
	if performedBy == nil {
		performedBy = actor.SystemActor()
	}

	batch := &repository.Batch{
		ProductSKU:      input.ProductSKU,
		UnitID:          input.UnitID,
		InitialQuantity: input.Quantity,
		CurrentQuantity: input.Quantity,
		LocationID:      input.LocationID,
		Notes:           input.Notes,
	}

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := repository.NewBatchRepository(tx).Create(ctx, batch); err != nil {
			return err
		}
		return repository.NewAuditTrailRepository(tx).Record(ctx, "batch", batch.ID, repository.AuditActionBatchCreated,
			repository.AuditMetadata{
				ProductSKU:  batch.ProductSKU,
				BatchNumber: batch.BatchNumber,
				Quantity:    batch.InitialQuantity.String(),
			}, performedBy.ID, &performedBy.Name)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("batch_id", batch.ID).
		Str("batch_number", batch.BatchNumber).
		Str("product_sku", batch.ProductSKU).
		Msg("Batch created")

	s.publisher.BatchCreated(ctx, messaging.BatchCreatedEvent{
		BatchID:         batch.ID,
		BatchNumber:     batch.BatchNumber,
		ProductSKU:      batch.ProductSKU,
		UnitID:          batch.UnitID,
		InitialQuantity: batch.InitialQuantity.String(),
		LocationID:      deref(batch.LocationID),
	})

	return batch, nil
}

// GetBatch gets a batch by ID
func (s *BatchService) GetBatch(ctx context.Context, id string) (*repository.Batch, error) {
	return s.batches.GetByID(ctx, id)
}

// ListBatches lists batches matching the filter
func (s *BatchService) ListBatches(ctx context.Context, filter repository.BatchFilter, page, perPage int) ([]*repository.Batch, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return s.batches.List(ctx, filter, perPage, (page-1)*perPage)
}

// ListBatchesByProduct lists all batches for a product, oldest first
func (s *BatchService) ListBatchesByProduct(ctx context.Context, productSKU string) ([]*repository.Batch, error) {
	if _, err := s.products.GetBySKU(ctx, productSKU); err != nil {
		return nil, err
	}
	return s.batches.ListByProduct(ctx, productSKU)
}

// UpdateBatch applies the closed set of operator-updatable fields. Quantity
// edits through this path are corrections, bounded by the initial quantity;
// consumption always goes through transformations.
func (s *BatchService) UpdateBatch(ctx context.Context, id string, update repository.BatchUpdate) (*repository.Batch, error) {
	before, err := s.batches.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if update.Status != nil {
		switch *update.Status {
		case repository.BatchStatusIntact, repository.BatchStatusCut, repository.BatchStatusRepacked,
			repository.BatchStatusEmpty, repository.BatchStatusDamaged, repository.BatchStatusQuarantine:
		default:
			return nil, errors.BadRequest("unknown batch status: " + *update.Status)
		}
	}
	if update.CurrentQuantity != nil {
		if update.CurrentQuantity.IsNegative() {
			return nil, errors.BadRequest("current_quantity must not be negative")
		}
		if update.CurrentQuantity.GreaterThan(before.InitialQuantity) {
			return nil, errors.BadRequest("current_quantity must not exceed initial_quantity")
		}
	}
	if update.LocationID != nil && *update.LocationID != "" {
		if _, err := s.locations.GetByID(ctx, *update.LocationID); err != nil {
			return nil, err
		}
	}

	// Status and quantity stay coupled: EMPTY means nothing left, and
	// nothing left means EMPTY.
	effectiveStatus := before.Status
	if update.Status != nil {
		effectiveStatus = *update.Status
	}
	effectiveQuantity := before.CurrentQuantity
	if update.CurrentQuantity != nil {
		effectiveQuantity = *update.CurrentQuantity
	}
	if effectiveStatus == repository.BatchStatusEmpty && effectiveQuantity.IsPositive() {
		return nil, errors.BadRequest("status EMPTY requires current_quantity 0")
	}
	if effectiveQuantity.IsZero() && effectiveStatus != repository.BatchStatusEmpty {
		if update.Status != nil {
			return nil, errors.BadRequest("current_quantity 0 requires status EMPTY")
		}
		empty := repository.BatchStatusEmpty
		update.Status = &empty
	}

	performedBy := actor.FromContext(ctx)
	if performedBy == nil {
		performedBy = actor.SystemActor()
	}

	var batch *repository.Batch
	err = s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		var err error
		batch, err = repository.NewBatchRepository(tx).Update(ctx, id, update)
		if err != nil {
			return err
		}
		return repository.NewAuditTrailRepository(tx).Record(ctx, "batch", batch.ID, repository.AuditActionBatchUpdated,
			repository.AuditMetadata{
				ProductSKU:     batch.ProductSKU,
				BatchNumber:    batch.BatchNumber,
				QuantityBefore: before.CurrentQuantity.String(),
				QuantityAfter:  batch.CurrentQuantity.String(),
			}, performedBy.ID, &performedBy.Name)
	})
	if err != nil {
		return nil, err
	}

	if update.Status != nil && before.Status != batch.Status {
		s.publisher.BatchStatusChanged(ctx, messaging.BatchStatusChangedEvent{
			BatchID:   batch.ID,
			OldStatus: before.Status,
			NewStatus: batch.Status,
		})
	}

	return batch, nil
}

// Statistics aggregates the batch store by status and product
func (s *BatchService) Statistics(ctx context.Context) (*BatchStatistics, error) {
	byStatus, err := s.batches.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	byProduct, err := s.batches.CountByProduct(ctx)
	if err != nil {
		return nil, err
	}
	return &BatchStatistics{ByStatus: byStatus, ByProduct: byProduct}, nil
}
