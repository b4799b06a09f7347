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

// Movement types
const (
	MovementTypeTransfer   = "TRANSFER"
	MovementTypeInbound    = "INBOUND"
	MovementTypeOutbound   = "OUTBOUND"
	MovementTypeAdjustment = "ADJUSTMENT"
)

// Movement is one immutable ledger row. Rows are inserted with completed_at
// stamped and are never updated or deleted.
type Movement struct {
	ID              string          `db:"id" json:"id"`
	MovementType    string          `db:"movement_type" json:"movement_type"`
	ProductSKU      string          `db:"product_sku" json:"product_sku"`
	FromLocationID  *string         `db:"from_location_id" json:"from_location_id,omitempty"`
	ToLocationID    *string         `db:"to_location_id" json:"to_location_id,omitempty"`
	Quantity        decimal.Decimal `db:"quantity" json:"quantity"`
	LotNumber       string          `db:"lot_number" json:"lot_number,omitempty"`
	Reason          *string         `db:"reason" json:"reason,omitempty"`
	PerformedBy     string          `db:"performed_by" json:"performed_by"`
	PerformedByName *string         `db:"performed_by_name" json:"performed_by_name,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	CompletedAt     time.Time       `db:"completed_at" json:"completed_at"`
}

// InventoryItem is the live quantity row for a (product, location, lot)
// triple. Only the movement ledger writes these rows.
type InventoryItem struct {
	ID         string          `db:"id" json:"id"`
	ProductSKU string          `db:"product_sku" json:"product_sku"`
	LocationID string          `db:"location_id" json:"location_id"`
	LotNumber  string          `db:"lot_number" json:"lot_number,omitempty"`
	Quantity   decimal.Decimal `db:"quantity" json:"quantity"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}

// MovementFilter narrows GetHistory results
type MovementFilter struct {
	ProductSKU   string
	LocationID   string
	MovementType string
	StartDate    *time.Time
	EndDate      *time.Time
}

// MovementRepository handles the movement ledger and inventory quantity rows
type MovementRepository struct {
	q database.Queryer
}

// NewMovementRepository creates a new movement repository. Pass a transaction
// to bind ledger and quantity writes to the same atomic unit.
func NewMovementRepository(q database.Queryer) *MovementRepository {
	return &MovementRepository{q: q}
}

const movementColumns = `id, movement_type, product_sku, from_location_id, to_location_id,
		quantity, lot_number, reason, performed_by, performed_by_name, created_at, completed_at`

// Insert appends one ledger row, stamping completed_at
func (r *MovementRepository) Insert(ctx context.Context, m *Movement) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}

	query := `
		INSERT INTO movements (
			id, movement_type, product_sku, from_location_id, to_location_id,
			quantity, lot_number, reason, performed_by, performed_by_name, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		RETURNING created_at, completed_at
	`
	return r.q.QueryRowxContext(ctx, query,
		m.ID, m.MovementType, m.ProductSKU, m.FromLocationID, m.ToLocationID,
		m.Quantity, m.LotNumber, m.Reason, m.PerformedBy, m.PerformedByName,
	).Scan(&m.CreatedAt, &m.CompletedAt)
}

// GetQuantity returns the current quantity at a (product, location, lot)
// triple, zero when no row exists.
func (r *MovementRepository) GetQuantity(ctx context.Context, productSKU, locationID, lotNumber string) (decimal.Decimal, error) {
	var quantity decimal.Decimal
	query := `SELECT quantity FROM inventory_items WHERE product_sku = $1 AND location_id = $2 AND lot_number = $3`
	err := r.q.GetContext(ctx, &quantity, query, productSKU, locationID, lotNumber)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return quantity, nil
}

// DecrementQuantity conditionally decrements a quantity row. The WHERE guard
// makes overdraw impossible under concurrent writers; when it matches nothing
// the current quantity is re-read to build the InsufficientQuantity error.
func (r *MovementRepository) DecrementQuantity(ctx context.Context, productSKU, locationID, lotNumber string, quantity decimal.Decimal) error {
	query := `
		UPDATE inventory_items
		SET quantity = quantity - $4, updated_at = NOW()
		WHERE product_sku = $1 AND location_id = $2 AND lot_number = $3 AND quantity >= $4
	`
	result, err := r.q.ExecContext(ctx, query, productSKU, locationID, lotNumber, quantity)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		available, err := r.GetQuantity(ctx, productSKU, locationID, lotNumber)
		if err != nil {
			return err
		}
		return errors.InsufficientQuantity(quantity.String(), available.String())
	}
	return nil
}

// IncrementQuantity upserts a quantity row, adding to it when present
func (r *MovementRepository) IncrementQuantity(ctx context.Context, productSKU, locationID, lotNumber string, quantity decimal.Decimal) error {
	query := `
		INSERT INTO inventory_items (id, product_sku, location_id, lot_number, quantity)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (product_sku, location_id, lot_number) DO UPDATE SET
			quantity = inventory_items.quantity + EXCLUDED.quantity,
			updated_at = NOW()
	`
	_, err := r.q.ExecContext(ctx, query, uuid.New().String(), productSKU, locationID, lotNumber, quantity)
	return err
}

// SetQuantity upserts a quantity row to an absolute value (adjustments)
func (r *MovementRepository) SetQuantity(ctx context.Context, productSKU, locationID, lotNumber string, quantity decimal.Decimal) error {
	query := `
		INSERT INTO inventory_items (id, product_sku, location_id, lot_number, quantity)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (product_sku, location_id, lot_number) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			updated_at = NOW()
	`
	_, err := r.q.ExecContext(ctx, query, uuid.New().String(), productSKU, locationID, lotNumber, quantity)
	return err
}

// ListQuantities lists quantity rows for a product across locations
func (r *MovementRepository) ListQuantities(ctx context.Context, productSKU string) ([]*InventoryItem, error) {
	var items []*InventoryItem
	query := `
		SELECT id, product_sku, location_id, lot_number, quantity, updated_at
		FROM inventory_items
		WHERE product_sku = $1
		ORDER BY location_id, lot_number
	`
	if err := r.q.SelectContext(ctx, &items, query, productSKU); err != nil {
		return nil, err
	}
	return items, nil
}

// List returns the movement history matching the filter, newest first,
// with the total count for pagination.
func (r *MovementRepository) List(ctx context.Context, filter MovementFilter, limit, offset int) ([]*Movement, int64, error) {
	where := []string{"1=1"}
	args := []interface{}{}

	if filter.ProductSKU != "" {
		args = append(args, filter.ProductSKU)
		where = append(where, fmt.Sprintf("product_sku = $%d", len(args)))
	}
	if filter.LocationID != "" {
		args = append(args, filter.LocationID)
		where = append(where, fmt.Sprintf("(from_location_id = $%d OR to_location_id = $%d)", len(args), len(args)))
	}
	if filter.MovementType != "" {
		args = append(args, filter.MovementType)
		where = append(where, fmt.Sprintf("movement_type = $%d", len(args)))
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
	countQuery := `SELECT COUNT(*) FROM movements WHERE ` + whereClause
	if err := r.q.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT `+movementColumns+` FROM movements
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, len(args)-1, len(args))

	var movements []*Movement
	if err := r.q.SelectContext(ctx, &movements, query, args...); err != nil {
		return nil, 0, err
	}
	return movements, total, nil
}
