package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stocktrace/stocktrace-backend/internal/stock/repository"
	"github.com/stocktrace/stocktrace-backend/pkg/errors"
	"github.com/stocktrace/stocktrace-backend/pkg/testutil"
)

func TestMovementRepository_GetQuantity_MissingRowIsZero(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	mockDB.ExpectQuery("SELECT quantity FROM inventory_items").
		WithArgs("CABLE-001", "loc-1", "").
		WillReturnRows(testutil.MockRows("quantity"))

	repo := repository.NewMovementRepository(mockDB.DB)
	quantity, err := repo.GetQuantity(context.Background(), "CABLE-001", "loc-1", "")

	require.NoError(t, err)
	assert.True(t, quantity.IsZero())
	mockDB.ExpectationsWereMet(t)
}

func TestMovementRepository_DecrementQuantity_Succeeds(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	mockDB.ExpectExec("UPDATE inventory_items").
		WithArgs("CABLE-001", "loc-1", "LOT-A", decimal.NewFromInt(30)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := repository.NewMovementRepository(mockDB.DB)
	err := repo.DecrementQuantity(context.Background(), "CABLE-001", "loc-1", "LOT-A", decimal.NewFromInt(30))

	require.NoError(t, err)
	mockDB.ExpectationsWereMet(t)
}

func TestMovementRepository_DecrementQuantity_Insufficient(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	// The guarded update touches nothing; the follow-up read reports what
	// is actually available.
	mockDB.ExpectExec("UPDATE inventory_items").
		WithArgs("CABLE-001", "loc-1", "", decimal.NewFromInt(30)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mockDB.ExpectQuery("SELECT quantity FROM inventory_items").
		WithArgs("CABLE-001", "loc-1", "").
		WillReturnRows(testutil.MockRows("quantity").AddRow("12.5"))

	repo := repository.NewMovementRepository(mockDB.DB)
	err := repo.DecrementQuantity(context.Background(), "CABLE-001", "loc-1", "", decimal.NewFromInt(30))

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientQuantity))

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "30", appErr.Details["requested"])
	assert.Equal(t, "12.5", appErr.Details["available"])
	mockDB.ExpectationsWereMet(t)
}

func TestMovementRepository_IncrementQuantity_Upserts(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	mockDB.ExpectExec("INSERT INTO inventory_items").
		WithArgs(testutil.AnyUUID{}, "CABLE-001", "loc-2", "", decimal.NewFromInt(30)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := repository.NewMovementRepository(mockDB.DB)
	err := repo.IncrementQuantity(context.Background(), "CABLE-001", "loc-2", "", decimal.NewFromInt(30))

	require.NoError(t, err)
	mockDB.ExpectationsWereMet(t)
}

func TestMovementRepository_List_FiltersAndCounts(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	now := time.Now()

	mockDB.ExpectQuery("SELECT COUNT(*) FROM movements").
		WithArgs("CABLE-001", start).
		WillReturnRows(testutil.MockRows("count").AddRow(1))
	mockDB.ExpectQuery("FROM movements").
		WithArgs("CABLE-001", start, 20, 0).
		WillReturnRows(testutil.MockRows(
			"id", "movement_type", "product_sku", "from_location_id", "to_location_id",
			"quantity", "lot_number", "reason", "performed_by", "performed_by_name",
			"created_at", "completed_at",
		).AddRow("mov-1", "TRANSFER", "CABLE-001", "loc-1", "loc-2", "30", "", nil, "user-1", "Alex", now, now))

	repo := repository.NewMovementRepository(mockDB.DB)
	movements, total, err := repo.List(context.Background(), repository.MovementFilter{
		ProductSKU: "CABLE-001",
		StartDate:  &start,
	}, 20, 0)

	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, movements, 1)
	assert.Equal(t, "mov-1", movements[0].ID)
	assert.True(t, movements[0].Quantity.Equal(decimal.NewFromInt(30)))
	mockDB.ExpectationsWereMet(t)
}
