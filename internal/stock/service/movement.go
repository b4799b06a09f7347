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

// MovementService owns the movement and adjustment ledger. Every quantity
// change on a (product, location, lot) triple goes through here, inside one
// transaction per call.
type MovementService struct {
	db        *database.DB
	products  *repository.ProductRepository
	locations *repository.LocationRepository
	movements *repository.MovementRepository
	publisher *events.StockEventPublisher
	logger    *logger.Logger
}

// NewMovementService creates a new movement service
func NewMovementService(db *database.DB, publisher *events.StockEventPublisher, log *logger.Logger) *MovementService {
	return &MovementService{
		db:        db,
		products:  repository.NewProductRepository(db),
		locations: repository.NewLocationRepository(db),
		movements: repository.NewMovementRepository(db),
		publisher: publisher,
		logger:    log.WithComponent("movement_service"),
	}
}

// RecordMovementInput carries a transfer, inbound or outbound request
type RecordMovementInput struct {
	MovementType   string
	ProductSKU     string
	FromLocationID *string
	ToLocationID   *string
	Quantity       decimal.Decimal
	LotNumber      string
	Reason         *string
}

// AdjustInventoryInput carries an absolute-value correction
type AdjustInventoryInput struct {
	ProductSKU  string
	LocationID  string
	LotNumber   string
	NewQuantity decimal.Decimal
	Reason      string
}

// RecordMovement records one ledger movement and applies it to the quantity
// rows it touches. The decrement, increment, ledger insert and audit entry
// commit or roll back as a unit.
func (s *MovementService) RecordMovement(ctx context.Context, input RecordMovementInput) (*repository.Movement, error) {
	switch input.MovementType {
	case repository.MovementTypeTransfer:
		if input.FromLocationID == nil || input.ToLocationID == nil {
			return nil, errors.BadRequest("transfer requires both from_location_id and to_location_id")
		}
	case repository.MovementTypeInbound:
		if input.ToLocationID == nil {
			return nil, errors.BadRequest("inbound requires to_location_id")
		}
	case repository.MovementTypeOutbound:
		if input.FromLocationID == nil {
			return nil, errors.BadRequest("outbound requires from_location_id")
		}
	case repository.MovementTypeAdjustment:
		return nil, errors.BadRequest("adjustments are recorded through the adjust operation")
	default:
		return nil, errors.BadRequest("unknown movement type: " + input.MovementType)
	}
	if !input.Quantity.IsPositive() {
		return nil, errors.BadRequest("quantity must be positive")
	}

	if _, err := s.products.GetBySKU(ctx, input.ProductSKU); err != nil {
		return nil, err
	}
	for _, id := range []*string{input.FromLocationID, input.ToLocationID} {
		if id == nil {
			continue
		}
		if _, err := s.locations.GetByID(ctx, *id); err != nil {
			return nil, err
		}
	}

	performedBy := actor.FromContext(ctx)
	if performedBy == nil {
		performedBy = actor.SystemActor()
	}

	movement := &repository.Movement{
		MovementType:    input.MovementType,
		ProductSKU:      input.ProductSKU,
		FromLocationID:  input.FromLocationID,
		ToLocationID:    input.ToLocationID,
		Quantity:        input.Quantity,
		LotNumber:       input.LotNumber,
		Reason:          input.Reason,
		PerformedBy:     performedBy.ID,
		PerformedByName: &performedBy.Name,
	}

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		movements := repository.NewMovementRepository(tx)
		audit := repository.NewAuditTrailRepository(tx)

		if input.FromLocationID != nil {
			if err := movements.DecrementQuantity(ctx, input.ProductSKU, *input.FromLocationID, input.LotNumber, input.Quantity); err != nil {
				return err
			}
		}
		if input.ToLocationID != nil {
			if err := movements.IncrementQuantity(ctx, input.ProductSKU, *input.ToLocationID, input.LotNumber, input.Quantity); err != nil {
				return err
			}
		}
		if err := movements.Insert(ctx, movement); err != nil {
			return err
		}

		return audit.Record(ctx, "movement", movement.ID, repository.AuditActionMovementRecorded,
			repository.AuditMetadata{
				ProductSKU:     input.ProductSKU,
				MovementType:   input.MovementType,
				FromLocationID: deref(input.FromLocationID),
				ToLocationID:   deref(input.ToLocationID),
				Quantity:       input.Quantity.String(),
			}, performedBy.ID, &performedBy.Name)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("movement_id", movement.ID).
		Str("movement_type", movement.MovementType).
		Str("product_sku", movement.ProductSKU).
		Str("quantity", movement.Quantity.String()).
		Msg("Movement recorded")

	s.publisher.MovementRecorded(ctx, messaging.MovementRecordedEvent{
		MovementID:   movement.ID,
		MovementType: movement.MovementType,
		ProductSKU:   movement.ProductSKU,
		FromLocation: deref(movement.FromLocationID),
		ToLocation:   deref(movement.ToLocationID),
		Quantity:     movement.Quantity.String(),
		LotNumber:    movement.LotNumber,
		PerformedBy:  movement.PerformedBy,
	})

	return movement, nil
}

// AdjustInventory sets a quantity row to an absolute value and records the
// signed difference as an ADJUSTMENT movement. Re-running the same adjustment
// appends another zero-diff ledger row but leaves the quantity unchanged.
func (s *MovementService) AdjustInventory(ctx context.Context, input AdjustInventoryInput) (*repository.Movement, error) {
	if input.NewQuantity.IsNegative() {
		return nil, errors.BadRequest("new_quantity must not be negative")
	}
	if input.Reason == "" {
		return nil, errors.BadRequest("reason is required for adjustments")
	}

	if _, err := s.products.GetBySKU(ctx, input.ProductSKU); err != nil {
		return nil, err
	}
	if _, err := s.locations.GetByID(ctx, input.LocationID); err != nil {
		return nil, err
	}

	performedBy := actor.FromContext(ctx)
	if performedBy == nil {
		performedBy = actor.SystemActor()
	}

	var movement *repository.Movement
	var oldQuantity decimal.Decimal

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		movements := repository.NewMovementRepository(tx)
		audit := repository.NewAuditTrailRepository(tx)

		var err error
		oldQuantity, err = movements.GetQuantity(ctx, input.ProductSKU, input.LocationID, input.LotNumber)
		if err != nil {
			return err
		}
		if err := movements.SetQuantity(ctx, input.ProductSKU, input.LocationID, input.LotNumber, input.NewQuantity); err != nil {
			return err
		}

		movement = &repository.Movement{
			MovementType:    repository.MovementTypeAdjustment,
			ProductSKU:      input.ProductSKU,
			ToLocationID:    &input.LocationID,
			Quantity:        input.NewQuantity.Sub(oldQuantity),
			LotNumber:       input.LotNumber,
			Reason:          &input.Reason,
			PerformedBy:     performedBy.ID,
			PerformedByName: &performedBy.Name,
		}
		if err := movements.Insert(ctx, movement); err != nil {
			return err
		}

		return audit.Record(ctx, "inventory_item", input.ProductSKU+"@"+input.LocationID, repository.AuditActionInventoryAdjusted,
			repository.AuditMetadata{
				ProductSKU:     input.ProductSKU,
				ToLocationID:   input.LocationID,
				QuantityBefore: oldQuantity.String(),
				QuantityAfter:  input.NewQuantity.String(),
				Reason:         input.Reason,
			}, performedBy.ID, &performedBy.Name)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("product_sku", input.ProductSKU).
		Str("location_id", input.LocationID).
		Str("old_quantity", oldQuantity.String()).
		Str("new_quantity", input.NewQuantity.String()).
		Msg("Inventory adjusted")

	s.publisher.StockAdjusted(ctx, messaging.StockAdjustedEvent{
		ProductSKU:  input.ProductSKU,
		LocationID:  input.LocationID,
		LotNumber:   input.LotNumber,
		OldQuantity: oldQuantity.String(),
		NewQuantity: input.NewQuantity.String(),
		Reason:      input.Reason,
		PerformedBy: performedBy.ID,
	})

	return movement, nil
}

// GetHistory returns the paginated movement history for the filter
func (s *MovementService) GetHistory(ctx context.Context, filter repository.MovementFilter, page, perPage int) ([]*repository.Movement, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return nil, 0, errors.BadRequest("end_date must not precede start_date")
	}
	return s.movements.List(ctx, filter, perPage, (page-1)*perPage)
}

// GetStockLevels returns the live quantity rows for a product
func (s *MovementService) GetStockLevels(ctx context.Context, productSKU string) ([]*repository.InventoryItem, error) {
	if _, err := s.products.GetBySKU(ctx, productSKU); err != nil {
		return nil, err
	}
	return s.movements.ListQuantities(ctx, productSKU)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
