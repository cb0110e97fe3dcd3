package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/labops/services/batch/internal/model"
	"example.com/labops/services/batch/internal/repository"
	"example.com/labops/services/batch/internal/service"
)

type MockBatchService struct {
	mock.Mock
}

func (m *MockBatchService) Create(ctx context.Context, req *service.CreateBatchRequest) (*model.Batch, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Batch), args.Error(1)
}

func (m *MockBatchService) Update(ctx context.Context, id string, req *service.UpdateBatchRequest) (*model.Batch, error) {
	args := m.Called(ctx, id, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Batch), args.Error(1)
}

func (m *MockBatchService) Get(ctx context.Context, id string) (*model.Batch, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Batch), args.Error(1)
}

func (m *MockBatchService) List(ctx context.Context) ([]*model.Batch, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Batch), args.Error(1)
}

func (m *MockBatchService) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockBatchService) Reject(ctx context.Context, id, reason, actor string) (*model.Batch, error) {
	args := m.Called(ctx, id, reason, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Batch), args.Error(1)
}

type MockLedgerService struct {
	mock.Mock
}

func (m *MockLedgerService) Post(ctx context.Context, req *service.PostTransactionRequest) (*model.InventoryTransaction, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.InventoryTransaction), args.Error(1)
}

func (m *MockLedgerService) ListByItem(ctx context.Context, itemID string) ([]*model.InventoryTransaction, error) {
	args := m.Called(ctx, itemID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.InventoryTransaction), args.Error(1)
}

func (m *MockLedgerService) GetItem(ctx context.Context, id string) (*model.Item, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Item), args.Error(1)
}

func (m *MockLedgerService) GetItemBySKU(ctx context.Context, sku string) (*model.Item, error) {
	args := m.Called(ctx, sku)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Item), args.Error(1)
}

func (m *MockLedgerService) ListItems(ctx context.Context) ([]*model.Item, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Item), args.Error(1)
}

func (m *MockLedgerService) DeleteLot(ctx context.Context, itemID, number string) error {
	args := m.Called(ctx, itemID, number)
	return args.Error(0)
}

type MockArchiveService struct {
	mock.Mock
}

func (m *MockArchiveService) Archive(ctx context.Context, batch *model.Batch) error {
	args := m.Called(ctx, batch)
	return args.Error(0)
}

func (m *MockArchiveService) ListArchived(ctx context.Context, folderPath string) ([]*model.Batch, error) {
	args := m.Called(ctx, folderPath)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Batch), args.Error(1)
}

func (m *MockArchiveService) GetArchived(ctx context.Context, id string) (*model.Batch, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Batch), args.Error(1)
}

func (m *MockArchiveService) SearchArchived(ctx context.Context, term string) ([]json.RawMessage, error) {
	args := m.Called(ctx, term)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]json.RawMessage), args.Error(1)
}

type handlerFixture struct {
	batch   *MockBatchService
	ledger  *MockLedgerService
	archive *MockArchiveService
	router  *gin.Engine
}

func newHandlerFixture() *handlerFixture {
	gin.SetMode(gin.TestMode)
	f := &handlerFixture{
		batch:   new(MockBatchService),
		ledger:  new(MockLedgerService),
		archive: new(MockArchiveService),
	}
	h := NewHandler(f.batch, f.ledger, f.archive)

	f.router = gin.New()
	v1 := f.router.Group("/api/v1")
	v1.POST("/batches", h.CreateBatch)
	v1.GET("/batches/:id", h.GetBatch)
	v1.PATCH("/batches/:id", h.UpdateBatch)
	v1.DELETE("/batches/:id", h.DeleteBatch)
	v1.POST("/batches/:id/reject", h.RejectBatch)
	v1.POST("/inventory/transactions", h.PostTransaction)
	v1.GET("/inventory/items/:id", h.GetItem)
	v1.GET("/archive/search", h.SearchArchived)
	v1.GET("/archive/:id/document", h.GetArchivedDocument)
	return f
}

func (f *handlerFixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestCreateBatchReturnsCreated(t *testing.T) {
	f := newHandlerFixture()
	created := &model.Batch{
		Base:      model.Base{UUID: "b1"},
		FileID:    "file-1",
		RunNumber: 1,
		Status:    model.InProgressBatchStatus,
	}
	f.batch.On("Create", mock.Anything, mock.AnythingOfType("*service.CreateBatchRequest")).
		Return(created, nil)

	w := f.do(http.MethodPost, "/api/v1/batches", gin.H{"file_id": "file-1"})
	require.Equal(t, http.StatusCreated, w.Code)

	var got model.Batch
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, "b1", got.UUID)
	f.batch.AssertExpectations(t)
}

func TestCreateBatchMissingFileIDFailsValidation(t *testing.T) {
	f := newHandlerFixture()

	w := f.do(http.MethodPost, "/api/v1/batches", gin.H{})
	require.Equal(t, http.StatusBadRequest, w.Code)
	f.batch.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestGetBatchNotFoundMapsTo404(t *testing.T) {
	f := newHandlerFixture()
	f.batch.On("Get", mock.Anything, "missing").Return(nil, repository.ErrNotFound)

	w := f.do(http.MethodGet, "/api/v1/batches/missing", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "NOT_FOUND", resp.Code)
}

func TestUpdateBatchInvalidTransitionMapsTo409(t *testing.T) {
	f := newHandlerFixture()
	f.batch.On("Update", mock.Anything, "b1", mock.Anything).
		Return(nil, service.ErrInvalidTransition)

	w := f.do(http.MethodPatch, "/api/v1/batches/b1", gin.H{"status": "Completed"})
	require.Equal(t, http.StatusConflict, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "INVALID_TRANSITION", resp.Code)
}

func TestDeleteBatchWithLedgerHistoryMapsTo409(t *testing.T) {
	f := newHandlerFixture()
	f.batch.On("Delete", mock.Anything, "b1").Return(service.ErrBatchHasTransactions)

	w := f.do(http.MethodDelete, "/api/v1/batches/b1", nil)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestRejectBatchRequiresReason(t *testing.T) {
	f := newHandlerFixture()

	w := f.do(http.MethodPost, "/api/v1/batches/b1/reject", gin.H{"actor": "qa@lab.example"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	f.batch.AssertNotCalled(t, "Reject", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPostTransactionReturnsCreated(t *testing.T) {
	f := newHandlerFixture()
	txn := &model.InventoryTransaction{
		Base: model.Base{UUID: "t1"},
		Type: model.ReceiptTransaction,
	}
	f.ledger.On("Post", mock.Anything, mock.MatchedBy(func(req *service.PostTransactionRequest) bool {
		return req.Type == "receipt" && len(req.Lines) == 1 &&
			req.Lines[0].Qty.Equal(decimal.NewFromInt(10))
	})).Return(txn, nil)

	w := f.do(http.MethodPost, "/api/v1/inventory/transactions", gin.H{
		"type": "receipt",
		"lines": []gin.H{
			{"item_id": "itm-1", "lot_number": "L1", "qty": "10"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	f.ledger.AssertExpectations(t)
}

func TestPostTransactionWithoutLinesFailsValidation(t *testing.T) {
	f := newHandlerFixture()

	w := f.do(http.MethodPost, "/api/v1/inventory/transactions", gin.H{"type": "receipt"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	f.ledger.AssertNotCalled(t, "Post", mock.Anything, mock.Anything)
}

func TestGetItemBySKUQueryParameter(t *testing.T) {
	f := newHandlerFixture()
	item := &model.Item{Base: model.Base{UUID: "itm-1"}, SKU: "CHM-001"}
	f.ledger.On("GetItemBySKU", mock.Anything, "CHM-001").Return(item, nil)

	w := f.do(http.MethodGet, "/api/v1/inventory/items/ignored?sku=CHM-001", nil)
	require.Equal(t, http.StatusOK, w.Code)
	f.ledger.AssertNotCalled(t, "GetItem", mock.Anything, mock.Anything)
	f.ledger.AssertExpectations(t)
}

func TestSearchArchivedRequiresQuery(t *testing.T) {
	f := newHandlerFixture()

	w := f.do(http.MethodGet, "/api/v1/archive/search", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	f.archive.AssertNotCalled(t, "SearchArchived", mock.Anything, mock.Anything)
}

func TestGetArchivedDocumentServesArtifact(t *testing.T) {
	f := newHandlerFixture()
	artifact := []byte("png-bytes")
	f.archive.On("GetArchived", mock.Anything, "b1").Return(&model.Batch{
		Base:           model.Base{UUID: "b1"},
		IsArchived:     true,
		SignedArtifact: artifact,
	}, nil)

	w := f.do(http.MethodGet, "/api/v1/archive/b1/document", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "image/png", w.Header().Get("Content-Type"))
	require.Equal(t, artifact, w.Body.Bytes())
}

func TestGetArchivedDocumentWithoutArtifactMapsTo404(t *testing.T) {
	f := newHandlerFixture()
	f.archive.On("GetArchived", mock.Anything, "b1").Return(&model.Batch{
		Base:       model.Base{UUID: "b1"},
		IsArchived: true,
	}, nil)

	w := f.do(http.MethodGet, "/api/v1/archive/b1/document", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}
