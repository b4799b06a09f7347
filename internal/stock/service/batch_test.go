package service

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stocktrace/stocktrace-backend/internal/stock/repository"
	"github.com/stocktrace/stocktrace-backend/pkg/database"
	"github.com/stocktrace/stocktrace-backend/pkg/errors"
	"github.com/stocktrace/stocktrace-backend/pkg/logger"
	"github.com/stocktrace/stocktrace-backend/pkg/testutil"
)

func newBatchService(t *testing.T) (*BatchService, *testutil.MockDB) {
	mockDB := testutil.NewMockDB(t)
	log := logger.New("test", "test")
	db := database.NewFromSqlx(mockDB.DB, log)
	return NewBatchService(db, nil, log), mockDB
}

func TestBatchService_UpdateBatch_RejectsEmptyWithQuantity(t *testing.T) {
	svc, mockDB := newBatchService(t)
	defer mockDB.Close()

	mockDB.ExpectQuery("FROM batches").
		WithArgs("batch-1").
		WillReturnRows(testutil.MockRows(batchCols...).
			AddRow(consumedRow("batch-1", repository.BatchStatusIntact, "100", "100")...))

	empty := repository.BatchStatusEmpty
	_, err := svc.UpdateBatch(context.Background(), "batch-1", repository.BatchUpdate{Status: &empty})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))
	mockDB.ExpectationsWereMet(t)
}

func TestBatchService_UpdateBatch_RejectsZeroQuantityKeepingStatus(t *testing.T) {
	svc, mockDB := newBatchService(t)
	defer mockDB.Close()

	mockDB.ExpectQuery("FROM batches").
		WithArgs("batch-1").
		WillReturnRows(testutil.MockRows(batchCols...).
			AddRow(consumedRow("batch-1", repository.BatchStatusCut, "100", "40")...))

	zero := decimal.Zero
	cut := repository.BatchStatusCut
	_, err := svc.UpdateBatch(context.Background(), "batch-1", repository.BatchUpdate{
		CurrentQuantity: &zero,
		Status:          &cut,
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))
	mockDB.ExpectationsWereMet(t)
}

func TestBatchService_UpdateBatch_ZeroQuantityBecomesEmpty(t *testing.T) {
	svc, mockDB := newBatchService(t)
	defer mockDB.Close()

	mockDB.ExpectQuery("FROM batches").
		WithArgs("batch-1").
		WillReturnRows(testutil.MockRows(batchCols...).
			AddRow(consumedRow("batch-1", repository.BatchStatusCut, "100", "40")...))

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("UPDATE batches").
		WithArgs("batch-1", decimal.Zero, repository.BatchStatusEmpty).
		WillReturnRows(testutil.MockRows(batchCols...).
			AddRow(consumedRow("batch-1", repository.BatchStatusEmpty, "100", "0")...))
	mockDB.ExpectExec("INSERT INTO audit_trail").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	zero := decimal.Zero
	batch, err := svc.UpdateBatch(context.Background(), "batch-1", repository.BatchUpdate{CurrentQuantity: &zero})

	require.NoError(t, err)
	assert.Equal(t, repository.BatchStatusEmpty, batch.Status)
	assert.True(t, batch.CurrentQuantity.IsZero())
	mockDB.ExpectationsWereMet(t)
}
