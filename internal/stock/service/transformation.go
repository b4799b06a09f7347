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

// TransformationService is the only component allowed to consume batch
// quantity. Each operation decrements its source batches, writes the
// transformation rows and creates any result batch inside one transaction,
// so quantity is conserved or nothing happens.
type TransformationService struct {
	db              *database.DB
	batches         *repository.BatchRepository
	transformations *repository.TransformationRepository
	locations       *repository.LocationRepository
	selection       *SelectionService
	publisher       *events.StockEventPublisher
	logger          *logger.Logger
}

// NewTransformationService creates a new transformation service
func NewTransformationService(db *database.DB, selection *SelectionService, publisher *events.StockEventPublisher, log *logger.Logger) *TransformationService {
	return &TransformationService{
		db:              db,
		batches:         repository.NewBatchRepository(db),
		transformations: repository.NewTransformationRepository(db),
		locations:       repository.NewLocationRepository(db),
		selection:       selection,
		publisher:       publisher,
		logger:          log.WithComponent("transformation_service"),
	}
}

// ResultSpec describes the output batch of a transformation
type ResultSpec struct {
	Quantity   decimal.Decimal
	UnitID     string
	ProductSKU string // defaults to the source batch's product
	LocationID *string
}

// CreateTransformationInput carries a transformation request. Result may be
// nil: the transformation is then recorded PENDING and closed later through
// SetResult or MarkNoOutput.
type CreateTransformationInput struct {
	TransformationType string
	SourceBatchID      string
	SourceQuantityUsed decimal.Decimal
	Result             *ResultSpec
	Notes              *string
}

// SetResultInput back-fills the output of a PENDING transformation
type SetResultInput struct {
	Result ResultSpec
	Notes  *string
}

// MergeInput consumes several source batches into one result batch
type MergeInput struct {
	Sources []MergeSource
	UnitID  string
	// ProductSKU of the result; defaults to the first source's product
	ProductSKU string
	LocationID *string
	Notes      *string
}

// MergeSource is one batch contribution to a merge
type MergeSource struct {
	BatchID  string
	Quantity decimal.Decimal
}

// CreateCutInput runs selection and commits a CUT against the pick in one call
type CreateCutInput struct {
	ProductSKU          string
	RequiredQuantity    decimal.Decimal
	Method              string
	PreferredLocationID string
	ResultLocationID    *string
	Notes               *string
}

// CutResult pairs the committed transformation with the selection it used
type CutResult struct {
	Transformation *repository.Transformation `json:"transformation"`
	ResultBatch    *repository.Batch          `json:"result_batch"`
	Selection      *SelectionResult           `json:"selection"`
}

// consumedStatus maps a transformation type to the status its source batch
// takes when quantity remains after the consumption.
func consumedStatus(transformationType string) string {
	if transformationType == repository.TransformationTypeRepack {
		return repository.BatchStatusRepacked
	}
	return repository.BatchStatusCut
}

// CreateTransformation consumes quantity from a source batch and records the
// transformation. When a result spec is given the output batch is created in
// the same transaction and the transformation closes COMPLETED with derived
// waste; otherwise it stays PENDING.
func (s *TransformationService) CreateTransformation(ctx context.Context, input CreateTransformationInput) (*repository.Transformation, *repository.Batch, error) {
	switch input.TransformationType {
	case repository.TransformationTypeCut, repository.TransformationTypeRepack,
		repository.TransformationTypeConvert, repository.TransformationTypeSplit:
	case repository.TransformationTypeMerge:
		return nil, nil, errors.BadRequest("merge takes multiple sources; use the merge operation")
	default:
		return nil, nil, errors.BadRequest("unknown transformation type: " + input.TransformationType)
	}
	if !input.SourceQuantityUsed.IsPositive() {
		return nil, nil, errors.BadRequest("source_quantity_used must be positive")
	}
	if input.Result != nil {
		if !input.Result.Quantity.IsPositive() {
			return nil, nil, errors.BadRequest("result quantity must be positive; close with no_output for pure scrap")
		}
		if input.Result.Quantity.GreaterThan(input.SourceQuantityUsed) {
			return nil, nil, errors.BadRequest("result quantity must not exceed source_quantity_used")
		}
		if input.Result.LocationID != nil {
			if _, err := s.locations.GetByID(ctx, *input.Result.LocationID); err != nil {
				return nil, nil, err
			}
		}
	}

	performedBy := actor.FromContext(ctx)
	if performedBy == nil {
		performedBy = actor.SystemActor()
	}

	var transformation *repository.Transformation
	var resultBatch *repository.Batch
	var source *repository.Batch

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		batches := repository.NewBatchRepository(tx)
		transformations := repository.NewTransformationRepository(tx)
		audit := repository.NewAuditTrailRepository(tx)

		var err error
		source, err = batches.ConsumeQuantity(ctx, input.SourceBatchID, input.SourceQuantityUsed, consumedStatus(input.TransformationType))
		if err != nil {
			return err
		}

		transformation = &repository.Transformation{
			TransformationType: input.TransformationType,
			SourceBatchID:      source.ID,
			SourceQuantityUsed: input.SourceQuantityUsed,
			Notes:              input.Notes,
			PerformedBy:        performedBy.ID,
		}

		if input.Result != nil {
			waste := input.SourceQuantityUsed.Sub(input.Result.Quantity)
			pct := wastePercent(waste, input.SourceQuantityUsed)
			transformation.ResultQuantity = &input.Result.Quantity
			transformation.WasteQuantity = &waste
			transformation.WastePercent = &pct
			transformation.ResultState = repository.ResultStateCompleted
		}
		if err := transformations.Insert(ctx, transformation); err != nil {
			return err
		}

		if input.Result != nil {
			resultBatch, err = s.createResultBatch(ctx, batches, source, transformation, input.Result)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE transformations SET result_batch_id = $2, updated_at = NOW() WHERE id = $1`,
				transformation.ID, resultBatch.ID); err != nil {
				return err
			}
			transformation.ResultBatchID = &resultBatch.ID
		}

		return audit.Record(ctx, "transformation", transformation.ID, repository.AuditActionTransformationCreated,
			repository.AuditMetadata{
				ProductSKU:         source.ProductSKU,
				TransformationType: input.TransformationType,
				Quantity:           input.SourceQuantityUsed.String(),
				QuantityBefore:     source.CurrentQuantity.Add(input.SourceQuantityUsed).String(),
				QuantityAfter:      source.CurrentQuantity.String(),
			}, performedBy.ID, &performedBy.Name)
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info().
		Str("transformation_id", transformation.ID).
		Str("transformation_type", transformation.TransformationType).
		Str("source_batch_id", source.ID).
		Str("source_quantity_used", input.SourceQuantityUsed.String()).
		Msg("Transformation created")

	s.publishCreated(ctx, transformation)
	if resultBatch != nil {
		s.publishResultBatch(ctx, resultBatch)
	}

	return transformation, resultBatch, nil
}

// SetResult closes a PENDING transformation, creating its output batch with
// lineage back-pointers in the same transaction.
func (s *TransformationService) SetResult(ctx context.Context, id string, input SetResultInput) (*repository.Transformation, *repository.Batch, error) {
	if !input.Result.Quantity.IsPositive() {
		return nil, nil, errors.BadRequest("result quantity must be positive; close with no_output for pure scrap")
	}
	if input.Result.LocationID != nil {
		if _, err := s.locations.GetByID(ctx, *input.Result.LocationID); err != nil {
			return nil, nil, err
		}
	}

	var transformation *repository.Transformation
	var resultBatch *repository.Batch

	performedBy := actor.FromContext(ctx)
	if performedBy == nil {
		performedBy = actor.SystemActor()
	}

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		batches := repository.NewBatchRepository(tx)
		transformations := repository.NewTransformationRepository(tx)

		pending, err := transformations.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if input.Result.Quantity.GreaterThan(pending.SourceQuantityUsed) {
			return errors.BadRequest("result quantity must not exceed source_quantity_used")
		}

		source, err := batches.GetByID(ctx, pending.SourceBatchID)
		if err != nil {
			return err
		}
		resultBatch, err = s.createResultBatch(ctx, batches, source, pending, &input.Result)
		if err != nil {
			return err
		}

		waste := pending.SourceQuantityUsed.Sub(input.Result.Quantity)
		transformation, err = transformations.SetResult(ctx, id, resultBatch.ID,
			input.Result.Quantity, waste, wastePercent(waste, pending.SourceQuantityUsed), input.Notes)
		if err != nil {
			return err
		}

		return repository.NewAuditTrailRepository(tx).Record(ctx, "transformation", id, repository.AuditActionTransformationClosed,
			repository.AuditMetadata{
				ProductSKU:         resultBatch.ProductSKU,
				BatchNumber:        resultBatch.BatchNumber,
				TransformationType: transformation.TransformationType,
				Quantity:           input.Result.Quantity.String(),
			}, performedBy.ID, &performedBy.Name)
	})
	if err != nil {
		return nil, nil, err
	}

	s.publisher.TransformationClosed(ctx, messaging.TransformationClosedEvent{
		TransformationID: transformation.ID,
		ResultState:      transformation.ResultState,
		ResultBatchID:    deref(transformation.ResultBatchID),
		ResultQuantity:   transformation.ResultQuantity.String(),
		WasteQuantity:    transformation.WasteQuantity.String(),
	})
	s.publishResultBatch(ctx, resultBatch)

	return transformation, resultBatch, nil
}

// MarkNoOutput closes a PENDING transformation with no output batch; the
// whole consumed quantity is recorded as waste.
func (s *TransformationService) MarkNoOutput(ctx context.Context, id string, notes *string) (*repository.Transformation, error) {
	var transformation *repository.Transformation
	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		var err error
		transformation, err = repository.NewTransformationRepository(tx).MarkNoOutput(ctx, id, notes)
		if err != nil {
			return err
		}

		performedBy := actor.FromContext(ctx)
		if performedBy == nil {
			performedBy = actor.SystemActor()
		}
		return repository.NewAuditTrailRepository(tx).Record(ctx, "transformation", id, repository.AuditActionTransformationClosed,
			repository.AuditMetadata{
				TransformationType: transformation.TransformationType,
				Quantity:           transformation.SourceQuantityUsed.String(),
			}, performedBy.ID, &performedBy.Name)
	})
	if err != nil {
		return nil, err
	}

	s.publisher.TransformationClosed(ctx, messaging.TransformationClosedEvent{
		TransformationID: transformation.ID,
		ResultState:      transformation.ResultState,
		WasteQuantity:    transformation.WasteQuantity.String(),
	})

	return transformation, nil
}

// Merge consumes several source batches into one result batch. Each source
// produces its own transformation row; the rows share the result batch ID,
// which is how the fan-in is represented.
func (s *TransformationService) Merge(ctx context.Context, input MergeInput) ([]*repository.Transformation, *repository.Batch, error) {
	if len(input.Sources) < 2 {
		return nil, nil, errors.BadRequest("merge requires at least two source batches")
	}
	total := decimal.Zero
	seen := make(map[string]bool, len(input.Sources))
	for _, src := range input.Sources {
		if !src.Quantity.IsPositive() {
			return nil, nil, errors.BadRequest("every merge source quantity must be positive")
		}
		if seen[src.BatchID] {
			return nil, nil, errors.BadRequest("duplicate merge source batch: " + src.BatchID)
		}
		seen[src.BatchID] = true
		total = total.Add(src.Quantity)
	}
	if input.LocationID != nil {
		if _, err := s.locations.GetByID(ctx, *input.LocationID); err != nil {
			return nil, nil, err
		}
	}

	performedBy := actor.FromContext(ctx)
	if performedBy == nil {
		performedBy = actor.SystemActor()
	}

	var transformations []*repository.Transformation
	var resultBatch *repository.Batch

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		batches := repository.NewBatchRepository(tx)
		repo := repository.NewTransformationRepository(tx)
		audit := repository.NewAuditTrailRepository(tx)

		productSKU := input.ProductSKU
		for _, src := range input.Sources {
			source, err := batches.ConsumeQuantity(ctx, src.BatchID, src.Quantity, repository.BatchStatusCut)
			if err != nil {
				return err
			}
			if productSKU == "" {
				productSKU = source.ProductSKU
			}
		}

		resultBatch = &repository.Batch{
			ProductSKU:      productSKU,
			UnitID:          input.UnitID,
			InitialQuantity: total,
			CurrentQuantity: total,
			LocationID:      input.LocationID,
			Notes:           input.Notes,
		}
		if err := batches.Create(ctx, resultBatch); err != nil {
			return err
		}

		zero := decimal.Zero
		for _, src := range input.Sources {
			t := &repository.Transformation{
				TransformationType: repository.TransformationTypeMerge,
				SourceBatchID:      src.BatchID,
				SourceQuantityUsed: src.Quantity,
				ResultBatchID:      &resultBatch.ID,
				ResultQuantity:     &src.Quantity,
				WasteQuantity:      &zero,
				WastePercent:       &zero,
				ResultState:        repository.ResultStateCompleted,
				Notes:              input.Notes,
				PerformedBy:        performedBy.ID,
			}
			if err := repo.Insert(ctx, t); err != nil {
				return err
			}
			transformations = append(transformations, t)
		}

		return audit.Record(ctx, "batch", resultBatch.ID, repository.AuditActionTransformationCreated,
			repository.AuditMetadata{
				ProductSKU:         productSKU,
				BatchNumber:        resultBatch.BatchNumber,
				TransformationType: repository.TransformationTypeMerge,
				Quantity:           total.String(),
			}, performedBy.ID, &performedBy.Name)
	})
	if err != nil {
		return nil, nil, err
	}

	for _, t := range transformations {
		s.publishCreated(ctx, t)
	}
	s.publishResultBatch(ctx, resultBatch)

	return transformations, resultBatch, nil
}

// CreateCut runs batch selection and commits a CUT against the pick as one
// atomic unit. The selection itself takes no locks, so the conditional
// consume can still lose a race; that surfaces as a retryable conflict
// rather than a hard failure.
func (s *TransformationService) CreateCut(ctx context.Context, input CreateCutInput) (*CutResult, error) {
	selection, err := s.selection.Select(ctx, SelectInput{
		ProductSKU:          input.ProductSKU,
		RequiredQuantity:    input.RequiredQuantity,
		Method:              input.Method,
		PreferredLocationID: input.PreferredLocationID,
	})
	if err != nil {
		return nil, err
	}

	picked := selection.SelectedBatch.Batch
	transformation, resultBatch, err := s.CreateTransformation(ctx, CreateTransformationInput{
		TransformationType: repository.TransformationTypeCut,
		SourceBatchID:      picked.ID,
		SourceQuantityUsed: input.RequiredQuantity,
		Result: &ResultSpec{
			Quantity:   input.RequiredQuantity,
			UnitID:     picked.UnitID,
			LocationID: input.ResultLocationID,
		},
		Notes: input.Notes,
	})
	if err != nil {
		// Another caller consumed the picked batch between selection
		// and commit. The pick was only a suggestion; tell the caller
		// to retry rather than surfacing the stale-state error.
		if errors.Is(err, errors.ErrInsufficientQuantity) || errors.Is(err, errors.ErrInvalidSourceState) {
			return nil, errors.ConflictRetryable("selected batch changed before the cut committed; retry selection")
		}
		return nil, err
	}

	return &CutResult{
		Transformation: transformation,
		ResultBatch:    resultBatch,
		Selection:      selection,
	}, nil
}

// GetTransformation gets a transformation by ID
func (s *TransformationService) GetTransformation(ctx context.Context, id string) (*repository.Transformation, error) {
	return s.transformations.GetByID(ctx, id)
}

// ListTransformations lists transformations matching the filter
func (s *TransformationService) ListTransformations(ctx context.Context, filter repository.TransformationFilter, page, perPage int) ([]*repository.Transformation, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return s.transformations.List(ctx, filter, perPage, (page-1)*perPage)
}

// Statistics aggregates transformations per type
func (s *TransformationService) Statistics(ctx context.Context) ([]*repository.TransformationTypeStats, error) {
	return s.transformations.StatsByType(ctx)
}

// createResultBatch creates an output batch carrying lineage back-pointers
// to its source batch and transformation.
func (s *TransformationService) createResultBatch(ctx context.Context, batches *repository.BatchRepository, source *repository.Batch, t *repository.Transformation, spec *ResultSpec) (*repository.Batch, error) {
	productSKU := spec.ProductSKU
	if productSKU == "" {
		productSKU = source.ProductSKU
	}
	unitID := spec.UnitID
	if unitID == "" {
		unitID = source.UnitID
	}
	locationID := spec.LocationID
	if locationID == nil {
		locationID = source.LocationID
	}

	batch := &repository.Batch{
		ProductSKU:       productSKU,
		UnitID:           unitID,
		InitialQuantity:  spec.Quantity,
		CurrentQuantity:  spec.Quantity,
		LocationID:       locationID,
		SourceBatchID:    &source.ID,
		TransformationID: &t.ID,
	}
	if err := batches.Create(ctx, batch); err != nil {
		return nil, err
	}
	return batch, nil
}

func (s *TransformationService) publishCreated(ctx context.Context, t *repository.Transformation) {
	event := messaging.TransformationCreatedEvent{
		TransformationID:     t.ID,
		TransformationNumber: t.TransformationNumber,
		TransformationType:   t.TransformationType,
		SourceBatchID:        t.SourceBatchID,
		SourceQuantityUsed:   t.SourceQuantityUsed.String(),
		ResultBatchID:        deref(t.ResultBatchID),
		PerformedBy:          t.PerformedBy,
	}
	if t.ResultQuantity != nil {
		event.ResultQuantity = t.ResultQuantity.String()
	}
	if t.WasteQuantity != nil {
		event.WasteQuantity = t.WasteQuantity.String()
	}
	s.publisher.TransformationCreated(ctx, event)
}

func (s *TransformationService) publishResultBatch(ctx context.Context, b *repository.Batch) {
	s.publisher.BatchCreated(ctx, messaging.BatchCreatedEvent{
		BatchID:         b.ID,
		BatchNumber:     b.BatchNumber,
		ProductSKU:      b.ProductSKU,
		UnitID:          b.UnitID,
		InitialQuantity: b.InitialQuantity.String(),
		LocationID:      deref(b.LocationID),
		SourceBatchID:   deref(b.SourceBatchID),
	})
}
