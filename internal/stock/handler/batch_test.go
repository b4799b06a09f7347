package handler_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stocktrace/stocktrace-backend/internal/stock/handler"
	"github.com/stocktrace/stocktrace-backend/internal/stock/service"
	"github.com/stocktrace/stocktrace-backend/pkg/database"
	"github.com/stocktrace/stocktrace-backend/pkg/logger"
	"github.com/stocktrace/stocktrace-backend/pkg/testutil"
)

var batchCols = []string{
	"id", "batch_number", "product_sku", "unit_id", "initial_quantity", "current_quantity",
	"status", "location_id", "source_batch_id", "transformation_id", "received_at", "notes",
	"created_at", "updated_at",
}

func newBatchRouter(t *testing.T) (chi.Router, *testutil.MockDB) {
	mockDB := testutil.NewMockDB(t)
	log := logger.New("test", "test")
	db := database.NewFromSqlx(mockDB.DB, log)

	batches := service.NewBatchService(db, nil, log)
	selection := service.NewSelectionService(db, log)

	r := chi.NewRouter()
	handler.NewBatchHandler(batches, selection, log).RegisterRoutes(r)
	return r, mockDB
}

func TestBatchHandler_Get(t *testing.T) {
	r, mockDB := newBatchRouter(t)
	defer mockDB.Close()

	now := time.Now()
	mockDB.ExpectQuery("FROM batches").
		WithArgs("batch-1").
		WillReturnRows(testutil.MockRows(batchCols...).
			AddRow("batch-1", "B-20250101-AAAA0001", "CABLE-001", "DRUM", "100", "100",
				"INTACT", nil, nil, nil, now, nil, now, now))

	req := testutil.NewHTTPRequest(http.MethodGet, "/batches/batch-1", nil)
	rr := testutil.ExecuteRequest(r, req)

	testutil.AssertStatus(t, rr, http.StatusOK)
	testutil.AssertBodyContains(t, rr, "B-20250101-AAAA0001")
	mockDB.ExpectationsWereMet(t)
}

func TestBatchHandler_Get_NotFound(t *testing.T) {
	r, mockDB := newBatchRouter(t)
	defer mockDB.Close()

	mockDB.ExpectQuery("FROM batches").
		WithArgs("missing").
		WillReturnRows(testutil.MockRows(batchCols...))

	req := testutil.NewHTTPRequest(http.MethodGet, "/batches/missing", nil)
	rr := testutil.ExecuteRequest(r, req)

	testutil.AssertStatus(t, rr, http.StatusNotFound)
	testutil.AssertBodyContains(t, rr, "NOT_FOUND")
	mockDB.ExpectationsWereMet(t)
}

func TestBatchHandler_Select_RequiresParams(t *testing.T) {
	r, mockDB := newBatchRouter(t)
	defer mockDB.Close()

	cases := []struct {
		name string
		path string
		want string
	}{
		{
			name: "missing product_sku",
			path: "/batches/select?required_quantity=50",
			want: "product_sku is required",
		},
		{
			name: "missing required_quantity",
			path: "/batches/select?product_sku=CABLE-001",
			want: "required_quantity is required",
		},
		{
			name: "malformed quantity",
			path: "/batches/select?product_sku=CABLE-001&required_quantity=abc",
			want: "not a valid decimal",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := testutil.NewHTTPRequest(http.MethodGet, tc.path, nil)
			rr := testutil.ExecuteRequest(r, req)

			testutil.AssertStatus(t, rr, http.StatusBadRequest)
			testutil.AssertBodyContains(t, rr, tc.want)
		})
	}
}

func TestBatchHandler_Select_NoSuitableBatch(t *testing.T) {
	r, mockDB := newBatchRouter(t)
	defer mockDB.Close()

	mockDB.ExpectQuery("FROM batches").
		WithArgs("CABLE-001").
		WillReturnRows(testutil.MockRows(batchCols...))

	req := testutil.NewHTTPRequest(http.MethodGet, "/batches/select?product_sku=CABLE-001&required_quantity=50", nil)
	rr := testutil.ExecuteRequest(r, req)

	testutil.AssertStatus(t, rr, http.StatusNotFound)
	testutil.AssertBodyContains(t, rr, "NO_SUITABLE_BATCH")
	mockDB.ExpectationsWereMet(t)
}

func TestBatchHandler_Select_RanksCandidates(t *testing.T) {
	r, mockDB := newBatchRouter(t)
	defer mockDB.Close()

	now := time.Now()
	rows := testutil.MockRows(batchCols...).
		AddRow("old-big", "B-20250101-AAAA0001", "CABLE-001", "DRUM", "500", "500",
			"INTACT", nil, nil, nil, now.Add(-48*time.Hour), nil, now, now).
		AddRow("new-snug", "B-20250101-AAAA0002", "CABLE-001", "DRUM", "60", "60",
			"INTACT", nil, nil, nil, now, nil, now, now)
	mockDB.ExpectQuery("FROM batches").
		WithArgs("CABLE-001").
		WillReturnRows(rows)

	req := testutil.NewHTTPRequest(http.MethodGet, "/batches/select?product_sku=CABLE-001&required_quantity=50&method=MIN_WASTE", nil)
	rr := testutil.ExecuteRequest(r, req)

	testutil.AssertStatus(t, rr, http.StatusOK)

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			SelectedBatch struct {
				Batch struct {
					ID string `json:"id"`
				} `json:"batch"`
				WasteQuantity string `json:"waste_quantity"`
			} `json:"selected_batch"`
			Alternatives []interface{} `json:"alternatives"`
			Method       string        `json:"method"`
		} `json:"data"`
	}
	testutil.ParseJSONBody(t, rr, &body)

	require.True(t, body.Success)
	assert.Equal(t, "new-snug", body.Data.SelectedBatch.Batch.ID)
	assert.Equal(t, "10", body.Data.SelectedBatch.WasteQuantity)
	assert.Len(t, body.Data.Alternatives, 1)
	assert.Equal(t, "MIN_WASTE", body.Data.Method)
	mockDB.ExpectationsWereMet(t)
}

func TestBatchHandler_List_LimitParam(t *testing.T) {
	r, mockDB := newBatchRouter(t)
	defer mockDB.Close()

	now := time.Now()
	mockDB.ExpectQuery("SELECT COUNT").
		WillReturnRows(testutil.MockRows("count").AddRow(1))
	mockDB.ExpectQuery("FROM batches").
		WithArgs(5, 0).
		WillReturnRows(testutil.MockRows(batchCols...).
			AddRow("batch-1", "B-20250101-AAAA0001", "CABLE-001", "DRUM", "100", "100",
				"INTACT", nil, nil, nil, now, nil, now, now))

	req := testutil.NewHTTPRequest(http.MethodGet, "/batches?limit=5", nil)
	rr := testutil.ExecuteRequest(r, req)

	testutil.AssertStatus(t, rr, http.StatusOK)

	var body struct {
		Meta struct {
			Page    int `json:"page"`
			PerPage int `json:"per_page"`
		} `json:"meta"`
	}
	testutil.ParseJSONBody(t, rr, &body)
	assert.Equal(t, 1, body.Meta.Page)
	assert.Equal(t, 5, body.Meta.PerPage)
	mockDB.ExpectationsWereMet(t)
}

func TestBatchHandler_Create_RejectsMissingFields(t *testing.T) {
	r, mockDB := newBatchRouter(t)
	defer mockDB.Close()

	req := testutil.NewHTTPRequest(http.MethodPost, "/batches", map[string]string{
		"product_sku": "CABLE-001",
	})
	rr := testutil.ExecuteRequest(r, req)

	testutil.AssertStatus(t, rr, http.StatusBadRequest)
	testutil.AssertBodyContains(t, rr, "VALIDATION_ERROR")
}
