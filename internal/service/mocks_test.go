package service

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"sort"
	"sync"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/labops/services/batch/internal/erp"
	"example.com/labops/services/batch/internal/files"
	"example.com/labops/services/batch/internal/model"
	"example.com/labops/services/batch/internal/repository"
)

// Mock BatchRepository for testing
type MockBatchRepository struct {
	mock.Mock
}

func (m *MockBatchRepository) Create(ctx context.Context, batch *model.Batch) (*model.Batch, error) {
	args := m.Called(ctx, batch)
	if rf, ok := args.Get(0).(func(context.Context, *model.Batch) *model.Batch); ok {
		return rf(ctx, batch), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Batch), args.Error(1)
}

func (m *MockBatchRepository) Update(ctx context.Context, batch *model.Batch) (*model.Batch, error) {
	args := m.Called(ctx, batch)
	if rf, ok := args.Get(0).(func(context.Context, *model.Batch) *model.Batch); ok {
		return rf(ctx, batch), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Batch), args.Error(1)
}

func (m *MockBatchRepository) GetByID(ctx context.Context, id string) (*model.Batch, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Batch), args.Error(1)
}

func (m *MockBatchRepository) List(ctx context.Context) ([]*model.Batch, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Batch), args.Error(1)
}

func (m *MockBatchRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockBatchRepository) NextRunNumber(ctx context.Context, fileID string) (int, error) {
	args := m.Called(ctx, fileID)
	return args.Int(0), args.Error(1)
}

func (m *MockBatchRepository) CreateComponent(ctx context.Context, component *model.BatchComponent) error {
	args := m.Called(ctx, component)
	return args.Error(0)
}

func (m *MockBatchRepository) CreateOverlay(ctx context.Context, overlay *model.BatchOverlay) error {
	args := m.Called(ctx, overlay)
	return args.Error(0)
}

func (m *MockBatchRepository) ListArchived(ctx context.Context, folderPath string) ([]*model.Batch, error) {
	args := m.Called(ctx, folderPath)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Batch), args.Error(1)
}

// Mock TransactionRepository for testing
type MockTransactionRepository struct {
	mock.Mock
}

func (m *MockTransactionRepository) Create(ctx context.Context, txn *model.InventoryTransaction) (*model.InventoryTransaction, error) {
	args := m.Called(ctx, txn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.InventoryTransaction), args.Error(1)
}

func (m *MockTransactionRepository) GetByID(ctx context.Context, id string) (*model.InventoryTransaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.InventoryTransaction), args.Error(1)
}

func (m *MockTransactionRepository) ListByItem(ctx context.Context, itemID string) ([]*model.InventoryTransaction, error) {
	args := m.Called(ctx, itemID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.InventoryTransaction), args.Error(1)
}

func (m *MockTransactionRepository) CountByBatch(ctx context.Context, batchID string) (int64, error) {
	args := m.Called(ctx, batchID)
	return args.Get(0).(int64), args.Error(1)
}

// Mock LedgerService for testing the batch engine
type MockLedgerService struct {
	mock.Mock
}

func (m *MockLedgerService) Post(ctx context.Context, req *PostTransactionRequest) (*model.InventoryTransaction, error) {
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

// Mock ArchiveService for testing the batch engine
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

// Mock files.Provider for testing
type MockFileProvider struct {
	mock.Mock
}

func (m *MockFileProvider) GetFile(ctx context.Context, id string) (*files.File, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*files.File), args.Error(1)
}

func (m *MockFileProvider) GetFolder(ctx context.Context, id string) (*files.Folder, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*files.Folder), args.Error(1)
}

// Mock erp.WorkOrderClient for testing
type MockWorkOrderClient struct {
	mock.Mock
}

func (m *MockWorkOrderClient) CreateWorkOrder(ctx context.Context, batch *model.Batch) (*erp.WorkOrder, error) {
	args := m.Called(ctx, batch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*erp.WorkOrder), args.Error(1)
}

func (m *MockWorkOrderClient) CompleteWorkOrder(ctx context.Context, externalID string) (*erp.WorkOrder, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*erp.WorkOrder), args.Error(1)
}

// Mock messagebus.Client for testing
type MockBusClient struct {
	mock.Mock
}

func (m *MockBusClient) PublishMessage(ctx context.Context, message interface{}, queueName string) error {
	args := m.Called(ctx, message, queueName)
	return args.Error(0)
}

func (m *MockBusClient) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Mock search.Client for testing
type MockSearchClient struct {
	mock.Mock
}

func (m *MockSearchClient) IndexDocument(ctx context.Context, id string, document []byte) error {
	args := m.Called(ctx, id, document)
	return args.Error(0)
}

func (m *MockSearchClient) SearchDocuments(ctx context.Context, query interface{}) ([]json.RawMessage, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]json.RawMessage), args.Error(1)
}

// noopCache is a pass-through cache for tests
type noopCache struct{}

func (noopCache) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	return nil, redis.Nil
}
func (noopCache) SetBatch(ctx context.Context, batch *model.Batch) error { return nil }
func (noopCache) DeleteBatch(ctx context.Context, id string) error       { return nil }
func (noopCache) GetItemBySKU(ctx context.Context, sku string) (*model.Item, error) {
	return nil, redis.Nil
}
func (noopCache) SetItem(ctx context.Context, item *model.Item) error { return nil }
func (noopCache) DeleteItem(ctx context.Context, sku string) error    { return nil }
func (noopCache) FlushAll(ctx context.Context) error                  { return nil }

// fakeItemRepo is an in-memory item store with the same atomic semantics
// as the real repository: per-lot quantities plus a cached aggregate that
// is only refreshed by RecomputeOnHand.
type fakeItemRepo struct {
	mu    sync.Mutex
	items map[string]*model.Item
	lots  map[string]map[string]decimal.Decimal
}

func newFakeItemRepo() *fakeItemRepo {
	return &fakeItemRepo{
		items: make(map[string]*model.Item),
		lots:  make(map[string]map[string]decimal.Decimal),
	}
}

func (f *fakeItemRepo) Create(ctx context.Context, item *model.Item) (*model.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[item.UUID] = item
	f.lots[item.UUID] = make(map[string]decimal.Decimal)
	return item, nil
}

func (f *fakeItemRepo) GetByID(ctx context.Context, id string) (*model.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return f.withLots(item), nil
}

func (f *fakeItemRepo) GetBySKU(ctx context.Context, sku string) (*model.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.items {
		if item.SKU == sku {
			return f.withLots(item), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeItemRepo) List(ctx context.Context) ([]*model.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Item
	for _, item := range f.items {
		out = append(out, f.withLots(item))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (f *fakeItemRepo) MarkLotTracked(ctx context.Context, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item, ok := f.items[itemID]; ok {
		item.LotTracked = true
	}
	return nil
}

func (f *fakeItemRepo) EnsureLot(ctx context.Context, itemID, number string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	lots, ok := f.lots[itemID]
	if !ok {
		return repository.ErrNotFound
	}
	if _, exists := lots[number]; !exists {
		lots[number] = decimal.Zero
	}
	return nil
}

func (f *fakeItemRepo) AddLotQuantity(ctx context.Context, itemID, number string, delta decimal.Decimal) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lots, ok := f.lots[itemID]
	if !ok {
		return decimal.Zero, repository.ErrNotFound
	}
	lots[number] = lots[number].Add(delta)
	return lots[number], nil
}

func (f *fakeItemRepo) RecomputeOnHand(ctx context.Context, itemID string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[itemID]
	if !ok {
		return decimal.Zero, repository.ErrNotFound
	}
	total := decimal.Zero
	for _, qty := range f.lots[itemID] {
		total = total.Add(qty)
	}
	item.QtyOnHand = total
	return total, nil
}

func (f *fakeItemRepo) DeleteLot(ctx context.Context, itemID, number string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	lots, ok := f.lots[itemID]
	if !ok {
		return repository.ErrNotFound
	}
	if _, exists := lots[number]; !exists {
		return repository.ErrNotFound
	}
	delete(lots, number)
	return nil
}

func (f *fakeItemRepo) withLots(item *model.Item) *model.Item {
	copied := *item
	copied.Lots = nil
	numbers := make([]string, 0, len(f.lots[item.UUID]))
	for number := range f.lots[item.UUID] {
		numbers = append(numbers, number)
	}
	sort.Strings(numbers)
	for _, number := range numbers {
		copied.Lots = append(copied.Lots, model.Lot{
			ItemID:   item.UUID,
			Number:   number,
			Quantity: f.lots[item.UUID][number],
		})
	}
	return &copied
}

// fakeTxnRepo is an in-memory append-only transaction store
type fakeTxnRepo struct {
	mu   sync.Mutex
	txns []*model.InventoryTransaction
}

func newFakeTxnRepo() *fakeTxnRepo {
	return &fakeTxnRepo{}
}

func (f *fakeTxnRepo) Create(ctx context.Context, txn *model.InventoryTransaction) (*model.InventoryTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txns = append(f.txns, txn)
	return txn, nil
}

func (f *fakeTxnRepo) GetByID(ctx context.Context, id string) (*model.InventoryTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, txn := range f.txns {
		if txn.UUID == id {
			return txn, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeTxnRepo) ListByItem(ctx context.Context, itemID string) ([]*model.InventoryTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.InventoryTransaction
	for i := len(f.txns) - 1; i >= 0; i-- {
		for _, line := range f.txns[i].Lines {
			if line.ItemID == itemID {
				out = append(out, f.txns[i])
				break
			}
		}
	}
	return out, nil
}

func (f *fakeTxnRepo) CountByBatch(ctx context.Context, batchID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, txn := range f.txns {
		if txn.BatchID != nil && *txn.BatchID == batchID {
			count++
		}
	}
	return count, nil
}

// makePNG builds a small solid-color PNG for overlay tests
func makePNG(t *testing.T, width, height int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
