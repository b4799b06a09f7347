package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stocktrace/stocktrace-backend/internal/stock/repository"
)

// FixtureFactory creates test fixtures with sensible defaults
type FixtureFactory struct {
	sequence int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{sequence: 0}
}

// nextSeq returns the next sequence number for unique values
func (f *FixtureFactory) nextSeq() int {
	f.sequence++
	return f.sequence
}

// Product creates a product fixture with defaults
func (f *FixtureFactory) Product(opts ...func(*repository.Product)) *repository.Product {
	seq := f.nextSeq()
	p := &repository.Product{
		SKU:           fmt.Sprintf("CABLE-%03d", seq),
		Name:          fmt.Sprintf("Test Cable %d", seq),
		UnitOfMeasure: "METER",
		LotControlled: false,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Location creates a location fixture with defaults
func (f *FixtureFactory) Location(opts ...func(*repository.Location)) *repository.Location {
	seq := f.nextSeq()
	warehouseID := uuid.New().String()
	zoneID := uuid.New().String()
	l := &repository.Location{
		ID:          uuid.New().String(),
		Code:        fmt.Sprintf("A-%02d-%02d", seq, seq),
		Name:        fmt.Sprintf("Rack %d", seq),
		WarehouseID: warehouseID,
		ZoneID:      &zoneID,
		Status:      repository.LocationStatusActive,
		SyncedAt:    time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Batch creates an INTACT batch fixture with defaults
func (f *FixtureFactory) Batch(productSKU string, opts ...func(*repository.Batch)) *repository.Batch {
	seq := f.nextSeq()
	quantity := decimal.NewFromInt(100)
	b := &repository.Batch{
		ID:              uuid.New().String(),
		BatchNumber:     fmt.Sprintf("B-20250101-%08X", seq),
		ProductSKU:      productSKU,
		UnitID:          repository.UnitDrum,
		InitialQuantity: quantity,
		CurrentQuantity: quantity,
		Status:          repository.BatchStatusIntact,
		ReceivedAt:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(seq) * time.Hour),
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// WithQuantity sets both initial and current quantity on a batch fixture
func WithQuantity(q decimal.Decimal) func(*repository.Batch) {
	return func(b *repository.Batch) {
		b.InitialQuantity = q
		b.CurrentQuantity = q
	}
}

// WithReceivedAt sets the receipt time on a batch fixture
func WithReceivedAt(t time.Time) func(*repository.Batch) {
	return func(b *repository.Batch) {
		b.ReceivedAt = t
	}
}

// WithLocation places a batch fixture at a location
func WithLocation(locationID string) func(*repository.Batch) {
	return func(b *repository.Batch) {
		b.LocationID = &locationID
	}
}

// WithStatus sets the batch fixture status
func WithStatus(status string) func(*repository.Batch) {
	return func(b *repository.Batch) {
		b.Status = status
	}
}

// Transformation creates a PENDING transformation fixture with defaults
func (f *FixtureFactory) Transformation(sourceBatchID string, opts ...func(*repository.Transformation)) *repository.Transformation {
	seq := f.nextSeq()
	t := &repository.Transformation{
		ID:                   uuid.New().String(),
		TransformationNumber: fmt.Sprintf("T-20250101-%08X", seq),
		TransformationType:   repository.TransformationTypeCut,
		SourceBatchID:        sourceBatchID,
		SourceQuantityUsed:   decimal.NewFromInt(25),
		ResultState:          repository.ResultStatePending,
		PerformedBy:          uuid.New().String(),
		CreatedAt:            time.Now().UTC(),
		UpdatedAt:            time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}
