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

// Transformation types
const (
	TransformationTypeCut     = "CUT"
	TransformationTypeRepack  = "REPACK"
	TransformationTypeConvert = "CONVERT"
	TransformationTypeSplit   = "SPLIT"
	TransformationTypeMerge   = "MERGE"
)

// Result states. A transformation starts PENDING when recorded without an
// output batch, and closes as COMPLETED or NO_OUTPUT exactly once.
const (
	ResultStatePending   = "PENDING"
	ResultStateCompleted = "COMPLETED"
	ResultStateNoOutput  = "NO_OUTPUT"
)

// Transformation records one consumption of a source batch. Waste fields
// are derived from source_quantity_used and result_quantity at close time
// and are never accepted from callers.
type Transformation struct {
	ID                   string           `db:"id" json:"id"`
	TransformationNumber string           `db:"transformation_number" json:"transformation_number"`
	TransformationType   string           `db:"transformation_type" json:"transformation_type"`
	SourceBatchID        string           `db:"source_batch_id" json:"source_batch_id"`
	SourceQuantityUsed   decimal.Decimal  `db:"source_quantity_used" json:"source_quantity_used"`
	ResultBatchID        *string          `db:"result_batch_id" json:"result_batch_id,omitempty"`
	ResultQuantity       *decimal.Decimal `db:"result_quantity" json:"result_quantity,omitempty"`
	WasteQuantity        *decimal.Decimal `db:"waste_quantity" json:"waste_quantity,omitempty"`
	WastePercent         *decimal.Decimal `db:"waste_percent" json:"waste_percent,omitempty"`
	ResultState          string           `db:"result_state" json:"result_state"`
	Notes                *string          `db:"notes" json:"notes,omitempty"`
	PerformedBy          string           `db:"performed_by" json:"performed_by"`
	CreatedAt            time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time        `db:"updated_at" json:"updated_at"`
}

// TransformationFilter narrows List results
type TransformationFilter struct {
	TransformationType string
	ResultState        string
	SourceBatchID      string
	ProductSKU         string
	StartDate          *time.Time
	EndDate            *time.Time
}

// TransformationTypeStats aggregates transformations per type
type TransformationTypeStats struct {
	TransformationType string          `db:"transformation_type" json:"transformation_type"`
	Count              int64           `db:"count" json:"count"`
	TotalSourceUsed    decimal.Decimal `db:"total_source_used" json:"total_source_used"`
	TotalWaste         decimal.Decimal `db:"total_waste" json:"total_waste"`
}

// TransformationRepository handles transformation persistence
type TransformationRepository struct {
	q database.Queryer
}

// NewTransformationRepository creates a new transformation repository
func NewTransformationRepository(q database.Queryer) *TransformationRepository {
	return &TransformationRepository{q: q}
}

// NewTransformationNumber generates a human-readable transformation number.
func NewTransformationNumber(now time.Time) string {
	return fmt.Sprintf("T-%s-%s", now.UTC().Format("20060102"), strings.ToUpper(uuid.New().String()[:8]))
}

const transformationColumns = `id, transformation_number, transformation_type, source_batch_id,
		source_quantity_used, result_batch_id, result_quantity, waste_quantity, waste_percent,
		result_state, notes, performed_by, created_at, updated_at`

// Insert inserts a transformation row
func (r *TransformationRepository) Insert(ctx context.Context, t *Transformation) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.TransformationNumber == "" {
		t.TransformationNumber = NewTransformationNumber(time.Now())
	}
	if t.ResultState == "" {
		t.ResultState = ResultStatePending
	}

	query := `
		INSERT INTO transformations (
			id, transformation_number, transformation_type, source_batch_id,
			source_quantity_used, result_batch_id, result_quantity, waste_quantity,
			waste_percent, result_state, notes, performed_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`
	return r.q.QueryRowxContext(ctx, query,
		t.ID, t.TransformationNumber, t.TransformationType, t.SourceBatchID,
		t.SourceQuantityUsed, t.ResultBatchID, t.ResultQuantity, t.WasteQuantity,
		t.WastePercent, t.ResultState, t.Notes, t.PerformedBy,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
}

// GetByID gets a transformation by ID
func (r *TransformationRepository) GetByID(ctx context.Context, id string) (*Transformation, error) {
	var t Transformation
	query := `SELECT ` + transformationColumns + ` FROM transformations WHERE id = $1`
	if err := r.q.GetContext(ctx, &t, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("transformation")
		}
		return nil, err
	}
	return &t, nil
}

// SetResult closes a PENDING transformation with its output batch and the
// derived waste figures. The result_state guard keeps the close idempotent
// under concurrent callers: the second one sees zero rows and gets a
// conflict instead of silently rewriting the result.
func (r *TransformationRepository) SetResult(ctx context.Context, id, resultBatchID string, resultQuantity, wasteQuantity, wastePercent decimal.Decimal, notes *string) (*Transformation, error) {
	query := `
		UPDATE transformations
		SET result_batch_id = $2,
		    result_quantity = $3,
		    waste_quantity = $4,
		    waste_percent = $5,
		    result_state = 'COMPLETED',
		    notes = COALESCE($6, notes),
		    updated_at = NOW()
		WHERE id = $1 AND result_state = 'PENDING'
		RETURNING ` + transformationColumns

	var t Transformation
	err := r.q.GetContext(ctx, &t, query, id, resultBatchID, resultQuantity, wasteQuantity, wastePercent, notes)
	if err == nil {
		return &t, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, errors.Conflict(fmt.Sprintf("transformation result already recorded (state %s)", current.ResultState))
}

// MarkNoOutput closes a PENDING transformation with no output batch; the
// entire consumed quantity becomes waste.
func (r *TransformationRepository) MarkNoOutput(ctx context.Context, id string, notes *string) (*Transformation, error) {
	query := `
		UPDATE transformations
		SET result_quantity = 0,
		    waste_quantity = source_quantity_used,
		    waste_percent = 100,
		    result_state = 'NO_OUTPUT',
		    notes = COALESCE($2, notes),
		    updated_at = NOW()
		WHERE id = $1 AND result_state = 'PENDING'
		RETURNING ` + transformationColumns

	var t Transformation
	err := r.q.GetContext(ctx, &t, query, id, notes)
	if err == nil {
		return &t, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, errors.Conflict(fmt.Sprintf("transformation result already recorded (state %s)", current.ResultState))
}

// ListBySourceBatch lists transformations that consumed a batch
func (r *TransformationRepository) ListBySourceBatch(ctx context.Context, batchID string) ([]*Transformation, error) {
	var ts []*Transformation
	query := `SELECT ` + transformationColumns + ` FROM transformations WHERE source_batch_id = $1 ORDER BY created_at`
	if err := r.q.SelectContext(ctx, &ts, query, batchID); err != nil {
		return nil, err
	}
	return ts, nil
}

// ListByResultBatch lists transformations that produced a batch. A merge
// yields several rows here, one per consumed source.
func (r *TransformationRepository) ListByResultBatch(ctx context.Context, batchID string) ([]*Transformation, error) {
	var ts []*Transformation
	query := `SELECT ` + transformationColumns + ` FROM transformations WHERE result_batch_id = $1 ORDER BY created_at`
	if err := r.q.SelectContext(ctx, &ts, query, batchID); err != nil {
		return nil, err
	}
	return ts, nil
}

// List lists transformations matching the filter with pagination
func (r *TransformationRepository) List(ctx context.Context, filter TransformationFilter, limit, offset int) ([]*Transformation, int64, error) {
	where := []string{"1=1"}
	args := []interface{}{}

	if filter.TransformationType != "" {
		args = append(args, filter.TransformationType)
		where = append(where, fmt.Sprintf("transformation_type = $%d", len(args)))
	}
	if filter.ResultState != "" {
		args = append(args, filter.ResultState)
		where = append(where, fmt.Sprintf("result_state = $%d", len(args)))
	}
	if filter.SourceBatchID != "" {
		args = append(args, filter.SourceBatchID)
		where = append(where, fmt.Sprintf("source_batch_id = $%d", len(args)))
	}
	if filter.ProductSKU != "" {
		args = append(args, filter.ProductSKU)
		where = append(where, fmt.Sprintf("source_batch_id IN (SELECT id FROM batches WHERE product_sku = $%d)", len(args)))
	}
	if filter.StartDate != nil {
		args = append(args, *filter.StartDate)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.EndDate != nil {
		args = append(args, *filter.EndDate)
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	whereClause := strings.Join(where, " AND ")

	var total int64
	countQuery := `SELECT COUNT(*) FROM transformations WHERE ` + whereClause
	if err := r.q.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT `+transformationColumns+` FROM transformations
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, len(args)-1, len(args))

	var ts []*Transformation
	if err := r.q.SelectContext(ctx, &ts, query, args...); err != nil {
		return nil, 0, err
	}
	return ts, total, nil
}

// StatsByType aggregates closed transformations per type
func (r *TransformationRepository) StatsByType(ctx context.Context) ([]*TransformationTypeStats, error) {
	var stats []*TransformationTypeStats
	query := `
		SELECT transformation_type,
		       COUNT(*) AS count,
		       COALESCE(SUM(source_quantity_used), 0) AS total_source_used,
		       COALESCE(SUM(waste_quantity), 0) AS total_waste
		FROM transformations
		GROUP BY transformation_type
		ORDER BY transformation_type
	`
	if err := r.q.SelectContext(ctx, &stats, query); err != nil {
		return nil, err
	}
	return stats, nil
}
