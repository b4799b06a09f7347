package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/stocktrace/stocktrace-backend/pkg/database"
	"github.com/stocktrace/stocktrace-backend/pkg/errors"
)

// Product is the catalog entry stock references by SKU
type Product struct {
	SKU           string    `db:"sku" json:"sku"`
	Name          string    `db:"name" json:"name"`
	UnitOfMeasure string    `db:"unit_of_measure" json:"unit_of_measure"`
	LotControlled bool      `db:"lot_controlled" json:"lot_controlled"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// ProductRepository handles product catalog persistence
type ProductRepository struct {
	q database.Queryer
}

// NewProductRepository creates a new product repository
func NewProductRepository(q database.Queryer) *ProductRepository {
	return &ProductRepository{q: q}
}

// GetBySKU gets a product by SKU
func (r *ProductRepository) GetBySKU(ctx context.Context, sku string) (*Product, error) {
	var product Product
	query := `SELECT sku, name, unit_of_measure, lot_controlled, created_at, updated_at FROM products WHERE sku = $1`
	if err := r.q.GetContext(ctx, &product, query, sku); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("product")
		}
		return nil, err
	}
	return &product, nil
}

// List lists the product catalog
func (r *ProductRepository) List(ctx context.Context) ([]*Product, error) {
	var products []*Product
	query := `SELECT sku, name, unit_of_measure, lot_controlled, created_at, updated_at FROM products ORDER BY sku`
	if err := r.q.SelectContext(ctx, &products, query); err != nil {
		return nil, err
	}
	return products, nil
}

// Create registers a product in the catalog
func (r *ProductRepository) Create(ctx context.Context, product *Product) error {
	query := `
		INSERT INTO products (sku, name, unit_of_measure, lot_controlled)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`
	return r.q.QueryRowxContext(ctx, query,
		product.SKU, product.Name, product.UnitOfMeasure, product.LotControlled,
	).Scan(&product.CreatedAt, &product.UpdatedAt)
}
