package repository_test

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stocktrace/stocktrace-backend/internal/stock/repository"
	"github.com/stocktrace/stocktrace-backend/pkg/errors"
	"github.com/stocktrace/stocktrace-backend/pkg/testutil"
)

var batchColumns = []string{
	"id", "batch_number", "product_sku", "unit_id", "initial_quantity", "current_quantity",
	"status", "location_id", "source_batch_id", "transformation_id", "received_at", "notes",
	"created_at", "updated_at",
}

func batchRow(id, status, initial, current string) []driverValue {
	now := time.Now()
	return []driverValue{
		id, "B-20250101-AAAA0001", "CABLE-001", "DRUM", initial, current,
		status, nil, nil, nil, now, nil, now, now,
	}
}

type driverValue = driver.Value

func TestBatchRepository_GetByID_NotFound(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	mockDB.ExpectQuery("SELECT").
		WithArgs("missing").
		WillReturnRows(testutil.MockRows(batchColumns...))

	repo := repository.NewBatchRepository(mockDB.DB)
	_, err := repo.GetByID(context.Background(), "missing")

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	mockDB.ExpectationsWereMet(t)
}

func TestBatchRepository_ConsumeQuantity_Succeeds(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	rows := testutil.MockRows(batchColumns...).
		AddRow(batchRow("batch-1", repository.BatchStatusCut, "100", "75")...)
	mockDB.ExpectQuery("UPDATE batches").
		WithArgs("batch-1", decimal.NewFromInt(25), repository.BatchStatusCut).
		WillReturnRows(rows)

	repo := repository.NewBatchRepository(mockDB.DB)
	batch, err := repo.ConsumeQuantity(context.Background(), "batch-1", decimal.NewFromInt(25), repository.BatchStatusCut)

	require.NoError(t, err)
	assert.Equal(t, repository.BatchStatusCut, batch.Status)
	assert.True(t, batch.CurrentQuantity.Equal(decimal.NewFromInt(75)))
	mockDB.ExpectationsWereMet(t)
}

func TestBatchRepository_ConsumeQuantity_Insufficient(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	// Conditional update matches nothing, then the re-fetch shows an INTACT
	// batch that simply does not hold enough.
	mockDB.ExpectQuery("UPDATE batches").
		WithArgs("batch-1", decimal.NewFromInt(500), repository.BatchStatusCut).
		WillReturnRows(testutil.MockRows(batchColumns...))
	mockDB.ExpectQuery("SELECT").
		WithArgs("batch-1").
		WillReturnRows(testutil.MockRows(batchColumns...).
			AddRow(batchRow("batch-1", repository.BatchStatusIntact, "100", "100")...))

	repo := repository.NewBatchRepository(mockDB.DB)
	_, err := repo.ConsumeQuantity(context.Background(), "batch-1", decimal.NewFromInt(500), repository.BatchStatusCut)

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientQuantity))

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "500", appErr.Details["requested"])
	assert.Equal(t, "100", appErr.Details["available"])
	mockDB.ExpectationsWereMet(t)
}

func TestBatchRepository_ConsumeQuantity_InvalidSourceState(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	mockDB.ExpectQuery("UPDATE batches").
		WithArgs("batch-1", decimal.NewFromInt(10), repository.BatchStatusCut).
		WillReturnRows(testutil.MockRows(batchColumns...))
	mockDB.ExpectQuery("SELECT").
		WithArgs("batch-1").
		WillReturnRows(testutil.MockRows(batchColumns...).
			AddRow(batchRow("batch-1", repository.BatchStatusQuarantine, "100", "100")...))

	repo := repository.NewBatchRepository(mockDB.DB)
	_, err := repo.ConsumeQuantity(context.Background(), "batch-1", decimal.NewFromInt(10), repository.BatchStatusCut)

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidSourceState))
	mockDB.ExpectationsWereMet(t)
}

func TestBatchRepository_ConsumeQuantity_BatchGone(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	mockDB.ExpectQuery("UPDATE batches").
		WithArgs("missing", decimal.NewFromInt(10), repository.BatchStatusCut).
		WillReturnRows(testutil.MockRows(batchColumns...))
	mockDB.ExpectQuery("SELECT").
		WithArgs("missing").
		WillReturnRows(testutil.MockRows(batchColumns...))

	repo := repository.NewBatchRepository(mockDB.DB)
	_, err := repo.ConsumeQuantity(context.Background(), "missing", decimal.NewFromInt(10), repository.BatchStatusCut)

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	mockDB.ExpectationsWereMet(t)
}

func TestBatchRepository_Update_ClosedFieldSet(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	status := repository.BatchStatusDamaged
	rows := testutil.MockRows(batchColumns...).
		AddRow(batchRow("batch-1", status, "100", "100")...)
	mockDB.ExpectQuery("UPDATE batches").
		WithArgs("batch-1", status).
		WillReturnRows(rows)

	repo := repository.NewBatchRepository(mockDB.DB)
	batch, err := repo.Update(context.Background(), "batch-1", repository.BatchUpdate{Status: &status})

	require.NoError(t, err)
	assert.Equal(t, repository.BatchStatusDamaged, batch.Status)
	mockDB.ExpectationsWereMet(t)
}
