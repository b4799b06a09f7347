package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stocktrace/stocktrace-backend/pkg/database"
	"github.com/stocktrace/stocktrace-backend/pkg/errors"
)

// Batch statuses
const (
	BatchStatusIntact     = "INTACT"
	BatchStatusCut        = "CUT"
	BatchStatusRepacked   = "REPACKED"
	BatchStatusEmpty      = "EMPTY"
	BatchStatusDamaged    = "DAMAGED"
	BatchStatusQuarantine = "QUARANTINE"
)

// Handling units
const (
	UnitDrum   = "DRUM"
	UnitRoll   = "ROLL"
	UnitPallet = "PALLET"
	UnitBox    = "BOX"
	UnitMeter  = "METER"
	UnitKg     = "KG"
	UnitPiece  = "PIECE"
)

// Batch represents one physically trackable unit of product stock.
// Batches are never deleted; they only transition status.
type Batch struct {
	ID               string          `db:"id" json:"id"`
	BatchNumber      string          `db:"batch_number" json:"batch_number"`
	ProductSKU       string          `db:"product_sku" json:"product_sku"`
	UnitID           string          `db:"unit_id" json:"unit_id"`
	InitialQuantity  decimal.Decimal `db:"initial_quantity" json:"initial_quantity"`
	CurrentQuantity  decimal.Decimal `db:"current_quantity" json:"current_quantity"`
	Status           string          `db:"status" json:"status"`
	LocationID       *string         `db:"location_id" json:"location_id,omitempty"`
	SourceBatchID    *string         `db:"source_batch_id" json:"source_batch_id,omitempty"`
	TransformationID *string         `db:"transformation_id" json:"transformation_id,omitempty"`
	ReceivedAt       time.Time       `db:"received_at" json:"received_at"`
	Notes            *string         `db:"notes" json:"notes,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// BatchFilter narrows List results
type BatchFilter struct {
	Status     string
	ProductSKU string
	LocationID string
}

// BatchUpdate is the closed set of operator-updatable batch fields.
// Nil pointers mean "leave unchanged"; nothing else on a batch is mutable
// through the update path.
type BatchUpdate struct {
	CurrentQuantity *decimal.Decimal
	Status          *string
	LocationID      *string
	Notes           *string
}

// BatchStatusCount aggregates batch counts and quantity per status
type BatchStatusCount struct {
	Status        string          `db:"status" json:"status"`
	BatchCount    int64           `db:"batch_count" json:"batch_count"`
	TotalQuantity decimal.Decimal `db:"total_quantity" json:"total_quantity"`
}

// BatchProductCount aggregates batch counts and quantity per product
type BatchProductCount struct {
	ProductSKU    string          `db:"product_sku" json:"product_sku"`
	BatchCount    int64           `db:"batch_count" json:"batch_count"`
	TotalQuantity decimal.Decimal `db:"total_quantity" json:"total_quantity"`
}

// BatchRepository handles batch persistence
type BatchRepository struct {
	q database.Queryer
}

// NewBatchRepository creates a new batch repository. Pass the shared DB for
// standalone reads, or a transaction to bind all operations to it.
func NewBatchRepository(q database.Queryer) *BatchRepository {
	return &BatchRepository{q: q}
}

// NewBatchNumber generates a human-readable batch number.
func NewBatchNumber(now time.Time) string {
	return fmt.Sprintf("B-%s-%s", now.UTC().Format("20060102"), strings.ToUpper(uuid.New().String()[:8]))
}

const batchColumns = `id, batch_number, product_sku, unit_id, initial_quantity, current_quantity,
		status, location_id, source_batch_id, transformation_id, received_at, notes, created_at, updated_at`

// Create creates a new batch
func (r *BatchRepository) Create(ctx context.Context, batch *Batch) error {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}
	if batch.BatchNumber == "" {
		batch.BatchNumber = NewBatchNumber(time.Now())
	}
	if batch.Status == "" {
		batch.Status = BatchStatusIntact
	}
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO batches (
			id, batch_number, product_sku, unit_id, initial_quantity, current_quantity,
			status, location_id, source_batch_id, transformation_id, received_at, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`

	return r.q.QueryRowxContext(ctx, query,
		batch.ID, batch.BatchNumber, batch.ProductSKU, batch.UnitID,
		batch.InitialQuantity, batch.CurrentQuantity, batch.Status,
		batch.LocationID, batch.SourceBatchID, batch.TransformationID,
		batch.ReceivedAt, batch.Notes,
	).Scan(&batch.CreatedAt, &batch.UpdatedAt)
}

// GetByID gets a batch by ID
func (r *BatchRepository) GetByID(ctx context.Context, id string) (*Batch, error) {
	var batch Batch
	query := `SELECT ` + batchColumns + ` FROM batches WHERE id = $1`
	if err := r.q.GetContext(ctx, &batch, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("batch")
		}
		return nil, err
	}
	return &batch, nil
}

// GetByNumber gets a batch by its human-readable number
func (r *BatchRepository) GetByNumber(ctx context.Context, number string) (*Batch, error) {
	var batch Batch
	query := `SELECT ` + batchColumns + ` FROM batches WHERE batch_number = $1`
	if err := r.q.GetContext(ctx, &batch, query, number); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("batch")
		}
		return nil, err
	}
	return &batch, nil
}

// ListByProduct lists all batches of a product, newest stock last
func (r *BatchRepository) ListByProduct(ctx context.Context, productSKU string) ([]*Batch, error) {
	var batches []*Batch
	query := `
		SELECT ` + batchColumns + ` FROM batches
		WHERE product_sku = $1
		ORDER BY received_at
	`
	if err := r.q.SelectContext(ctx, &batches, query, productSKU); err != nil {
		return nil, err
	}
	return batches, nil
}

// List lists batches matching the filter with pagination
func (r *BatchRepository) List(ctx context.Context, filter BatchFilter, limit, offset int) ([]*Batch, int64, error) {
	where := []string{"1=1"}
	args := []interface{}{}

	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.ProductSKU != "" {
		args = append(args, filter.ProductSKU)
		where = append(where, fmt.Sprintf("product_sku = $%d", len(args)))
	}
	if filter.LocationID != "" {
		args = append(args, filter.LocationID)
		where = append(where, fmt.Sprintf("location_id = $%d", len(args)))
	}

	whereClause := strings.Join(where, " AND ")

	var total int64
	countQuery := `SELECT COUNT(*) FROM batches WHERE ` + whereClause
	if err := r.q.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT `+batchColumns+` FROM batches
		WHERE %s
		ORDER BY received_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, len(args)-1, len(args))

	var batches []*Batch
	if err := r.q.SelectContext(ctx, &batches, query, args...); err != nil {
		return nil, 0, err
	}
	return batches, total, nil
}

// ListCandidates returns the selection candidate set for a product:
// INTACT batches with remaining quantity, oldest first.
func (r *BatchRepository) ListCandidates(ctx context.Context, productSKU string) ([]*Batch, error) {
	var batches []*Batch
	query := `
		SELECT ` + batchColumns + ` FROM batches
		WHERE product_sku = $1 AND status = 'INTACT' AND current_quantity > 0
		ORDER BY received_at
	`
	if err := r.q.SelectContext(ctx, &batches, query, productSKU); err != nil {
		return nil, err
	}
	return batches, nil
}

// Update applies the closed set of updatable fields. Each field is bound
// individually; request keys are never reflected into the query.
func (r *BatchRepository) Update(ctx context.Context, id string, update BatchUpdate) (*Batch, error) {
	set := []string{"updated_at = NOW()"}
	args := []interface{}{id}

	if update.CurrentQuantity != nil {
		args = append(args, *update.CurrentQuantity)
		set = append(set, fmt.Sprintf("current_quantity = $%d", len(args)))
	}
	if update.Status != nil {
		args = append(args, *update.Status)
		set = append(set, fmt.Sprintf("status = $%d", len(args)))
	}
	if update.LocationID != nil {
		args = append(args, *update.LocationID)
		set = append(set, fmt.Sprintf("location_id = $%d", len(args)))
	}
	if update.Notes != nil {
		args = append(args, *update.Notes)
		set = append(set, fmt.Sprintf("notes = $%d", len(args)))
	}

	query := fmt.Sprintf(`
		UPDATE batches SET %s
		WHERE id = $1
		RETURNING `+batchColumns, strings.Join(set, ", "))

	var batch Batch
	if err := r.q.GetContext(ctx, &batch, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("batch")
		}
		return nil, err
	}
	return &batch, nil
}

// ConsumeQuantity atomically decrements a source batch for a transformation.
// The decrement is conditional: it succeeds only while the batch still holds
// enough quantity and is in a consumable status, so two racing consumers can
// never overdraw the same physical batch. The status moves to EMPTY when the
// batch is drained, otherwise to consumedStatus (CUT or REPACKED).
func (r *BatchRepository) ConsumeQuantity(ctx context.Context, id string, quantity decimal.Decimal, consumedStatus string) (*Batch, error) {
	query := `
		UPDATE batches
		SET current_quantity = current_quantity - $2,
		    status = CASE WHEN current_quantity - $2 = 0 THEN 'EMPTY' ELSE $3 END,
		    updated_at = NOW()
		WHERE id = $1
		  AND current_quantity >= $2
		  AND status NOT IN ('EMPTY', 'DAMAGED', 'QUARANTINE')
		RETURNING ` + batchColumns

	var batch Batch
	err := r.q.GetContext(ctx, &batch, query, id, quantity, consumedStatus)
	if err == nil {
		return &batch, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	// The conditional update matched nothing; fetch the row to tell the
	// caller exactly why.
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch current.Status {
	case BatchStatusEmpty, BatchStatusDamaged, BatchStatusQuarantine:
		return nil, errors.InvalidSourceState(id, current.Status)
	default:
		return nil, errors.InsufficientQuantity(quantity.String(), current.CurrentQuantity.String())
	}
}

// CountByStatus aggregates batch counts and total quantity per status
func (r *BatchRepository) CountByStatus(ctx context.Context) ([]*BatchStatusCount, error) {
	var counts []*BatchStatusCount
	query := `
		SELECT status, COUNT(*) AS batch_count, COALESCE(SUM(current_quantity), 0) AS total_quantity
		FROM batches
		GROUP BY status
		ORDER BY status
	`
	if err := r.q.SelectContext(ctx, &counts, query); err != nil {
		return nil, err
	}
	return counts, nil
}

// CountByProduct aggregates non-empty batch counts and quantity per product
func (r *BatchRepository) CountByProduct(ctx context.Context) ([]*BatchProductCount, error) {
	var counts []*BatchProductCount
	query := `
		SELECT product_sku, COUNT(*) AS batch_count, COALESCE(SUM(current_quantity), 0) AS total_quantity
		FROM batches
		WHERE status <> 'EMPTY'
		GROUP BY product_sku
		ORDER BY product_sku
	`
	if err := r.q.SelectContext(ctx, &counts, query); err != nil {
		return nil, err
	}
	return counts, nil
}
