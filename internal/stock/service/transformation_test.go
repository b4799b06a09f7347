package service

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

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

var (
	batchCols = []string{
		"id", "batch_number", "product_sku", "unit_id", "initial_quantity", "current_quantity",
		"status", "location_id", "source_batch_id", "transformation_id", "received_at", "notes",
		"created_at", "updated_at",
	}
	transformationCols = []string{
		"id", "transformation_number", "transformation_type", "source_batch_id",
		"source_quantity_used", "result_batch_id", "result_quantity", "waste_quantity",
		"waste_percent", "result_state", "notes", "performed_by", "created_at", "updated_at",
	}
)

func newTransformationService(t *testing.T) (*TransformationService, *testutil.MockDB) {
	mockDB := testutil.NewMockDB(t)
	log := logger.New("test", "test")
	db := database.NewFromSqlx(mockDB.DB, log)
	selection := NewSelectionService(db, log)
	return NewTransformationService(db, selection, nil, log), mockDB
}

func consumedRow(id, status, initial, current string) []driver.Value {
	now := time.Now()
	return []driver.Value{
		id, "B-20250101-AAAA0001", "CABLE-001", "DRUM", initial, current,
		status, nil, nil, nil, now, nil, now, now,
	}
}

func TestTransformationService_CreateTransformation_CutWithResult(t *testing.T) {
	svc, mockDB := newTransformationService(t)
	defer mockDB.Close()

	now := time.Now()

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("UPDATE batches").
		WithArgs("src-1", decimal.NewFromInt(40), repository.BatchStatusCut).
		WillReturnRows(testutil.MockRows(batchCols...).
			AddRow(consumedRow("src-1", repository.BatchStatusCut, "100", "60")...))
	mockDB.ExpectQuery("INSERT INTO transformations").
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(now, now))
	mockDB.ExpectQuery("INSERT INTO batches").
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(now, now))
	mockDB.ExpectExec("UPDATE transformations SET result_batch_id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectExec("INSERT INTO audit_trail").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	transformation, resultBatch, err := svc.CreateTransformation(context.Background(), CreateTransformationInput{
		TransformationType: repository.TransformationTypeCut,
		SourceBatchID:      "src-1",
		SourceQuantityUsed: decimal.NewFromInt(40),
		Result: &ResultSpec{
			Quantity: decimal.NewFromInt(38),
		},
	})

	require.NoError(t, err)
	assert.Equal(t, repository.ResultStateCompleted, transformation.ResultState)
	require.NotNil(t, transformation.WasteQuantity)
	assert.True(t, transformation.WasteQuantity.Equal(decimal.NewFromInt(2)))
	assert.True(t, transformation.WastePercent.Equal(decimal.NewFromInt(5)), "waste percent of 2/40, got %s", transformation.WastePercent)

	require.NotNil(t, resultBatch)
	assert.True(t, resultBatch.InitialQuantity.Equal(decimal.NewFromInt(38)))
	assert.True(t, resultBatch.CurrentQuantity.Equal(resultBatch.InitialQuantity))
	assert.Equal(t, "src-1", *resultBatch.SourceBatchID)
	assert.Equal(t, transformation.ID, *resultBatch.TransformationID)
	assert.Equal(t, "CABLE-001", resultBatch.ProductSKU, "result inherits the source product by default")
	mockDB.ExpectationsWereMet(t)
}

func TestTransformationService_CreateTransformation_PendingWithoutResult(t *testing.T) {
	svc, mockDB := newTransformationService(t)
	defer mockDB.Close()

	now := time.Now()

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("UPDATE batches").
		WithArgs("src-1", decimal.NewFromInt(100), repository.BatchStatusRepacked).
		WillReturnRows(testutil.MockRows(batchCols...).
			AddRow(consumedRow("src-1", repository.BatchStatusEmpty, "100", "0")...))
	mockDB.ExpectQuery("INSERT INTO transformations").
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(now, now))
	mockDB.ExpectExec("INSERT INTO audit_trail").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	transformation, resultBatch, err := svc.CreateTransformation(context.Background(), CreateTransformationInput{
		TransformationType: repository.TransformationTypeRepack,
		SourceBatchID:      "src-1",
		SourceQuantityUsed: decimal.NewFromInt(100),
	})

	require.NoError(t, err)
	assert.Nil(t, resultBatch)
	assert.Equal(t, repository.ResultStatePending, transformation.ResultState)
	assert.Nil(t, transformation.ResultQuantity)
	mockDB.ExpectationsWereMet(t)
}

func TestTransformationService_CreateTransformation_Validation(t *testing.T) {
	svc, mockDB := newTransformationService(t)
	defer mockDB.Close()

	cases := []struct {
		name  string
		input CreateTransformationInput
	}{
		{
			name: "unknown type",
			input: CreateTransformationInput{
				TransformationType: "SHRED",
				SourceBatchID:      "src-1",
				SourceQuantityUsed: decimal.NewFromInt(10),
			},
		},
		{
			name: "merge through single-source operation",
			input: CreateTransformationInput{
				TransformationType: repository.TransformationTypeMerge,
				SourceBatchID:      "src-1",
				SourceQuantityUsed: decimal.NewFromInt(10),
			},
		},
		{
			name: "result exceeds quantity used",
			input: CreateTransformationInput{
				TransformationType: repository.TransformationTypeCut,
				SourceBatchID:      "src-1",
				SourceQuantityUsed: decimal.NewFromInt(10),
				Result:             &ResultSpec{Quantity: decimal.NewFromInt(11)},
			},
		},
		{
			name: "non-positive quantity used",
			input: CreateTransformationInput{
				TransformationType: repository.TransformationTypeCut,
				SourceBatchID:      "src-1",
				SourceQuantityUsed: decimal.Zero,
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := svc.CreateTransformation(context.Background(), tc.input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrBadRequest))
		})
	}
	mockDB.ExpectationsWereMet(t)
}

func TestTransformationService_MarkNoOutput(t *testing.T) {
	svc, mockDB := newTransformationService(t)
	defer mockDB.Close()

	now := time.Now()

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("UPDATE transformations").
		WillReturnRows(testutil.MockRows(transformationCols...).
			AddRow("tr-1", "T-20250101-AAAA0001", "CUT", "src-1",
				"40", nil, "0", "40", "100",
				repository.ResultStateNoOutput, nil, "user-1", now, now))
	mockDB.ExpectExec("INSERT INTO audit_trail").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	transformation, err := svc.MarkNoOutput(context.Background(), "tr-1", nil)

	require.NoError(t, err)
	assert.Equal(t, repository.ResultStateNoOutput, transformation.ResultState)
	assert.True(t, transformation.WasteQuantity.Equal(transformation.SourceQuantityUsed))
	mockDB.ExpectationsWereMet(t)
}

func TestTransformationService_Merge_RejectsSingleSource(t *testing.T) {
	svc, mockDB := newTransformationService(t)
	defer mockDB.Close()

	_, _, err := svc.Merge(context.Background(), MergeInput{
		Sources: []MergeSource{{BatchID: "src-1", Quantity: decimal.NewFromInt(10)}},
		UnitID:  repository.UnitDrum,
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))
}

func TestTransformationService_Merge_RejectsDuplicateSources(t *testing.T) {
	svc, mockDB := newTransformationService(t)
	defer mockDB.Close()

	_, _, err := svc.Merge(context.Background(), MergeInput{
		Sources: []MergeSource{
			{BatchID: "src-1", Quantity: decimal.NewFromInt(10)},
			{BatchID: "src-1", Quantity: decimal.NewFromInt(5)},
		},
		UnitID: repository.UnitDrum,
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))
}

func TestTransformationService_CreateCut_LostRaceIsRetryable(t *testing.T) {
	svc, mockDB := newTransformationService(t)
	defer mockDB.Close()

	// Selection sees a batch that can cover the cut.
	mockDB.ExpectQuery("FROM batches").
		WithArgs("CABLE-001").
		WillReturnRows(testutil.MockRows(batchCols...).
			AddRow(consumedRow("src-1", repository.BatchStatusIntact, "100", "100")...))

	// By commit time a concurrent caller has drained it: the conditional
	// consume misses and the re-fetch shows almost nothing left.
	mockDB.ExpectBegin()
	mockDB.ExpectQuery("UPDATE batches").
		WithArgs("src-1", decimal.NewFromInt(50), repository.BatchStatusCut).
		WillReturnRows(testutil.MockRows(batchCols...))
	mockDB.ExpectQuery("SELECT").
		WithArgs("src-1").
		WillReturnRows(testutil.MockRows(batchCols...).
			AddRow(consumedRow("src-1", repository.BatchStatusCut, "100", "5")...))
	mockDB.ExpectRollback()

	_, err := svc.CreateCut(context.Background(), CreateCutInput{
		ProductSKU:       "CABLE-001",
		RequiredQuantity: decimal.NewFromInt(50),
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflictRetryable))
	mockDB.ExpectationsWereMet(t)
}

func TestTransformationService_CreateCut_NoCandidate(t *testing.T) {
	svc, mockDB := newTransformationService(t)
	defer mockDB.Close()

	mockDB.ExpectQuery("FROM batches").
		WithArgs("CABLE-001").
		WillReturnRows(testutil.MockRows(batchCols...))

	_, err := svc.CreateCut(context.Background(), CreateCutInput{
		ProductSKU:       "CABLE-001",
		RequiredQuantity: decimal.NewFromInt(50),
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNoSuitableBatch))
	mockDB.ExpectationsWereMet(t)
}
