package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"example.com/labops/services/batch/internal/cache"
	"example.com/labops/services/batch/internal/metrics"
	"example.com/labops/services/batch/internal/model"
	"example.com/labops/services/batch/internal/repository"
)

// TransactionLineRequest is one signed quantity delta in a posting request.
// Negative deltas consume, positive deltas produce or receive.
type TransactionLineRequest struct {
	ItemID    string          `json:"item_id" validate:"required"`
	LotNumber string          `json:"lot_number" validate:"required"`
	Qty       decimal.Decimal `json:"qty" validate:"required"`
}

// PostTransactionRequest defines the request to post a ledger transaction
type PostTransactionRequest struct {
	Type       string                   `json:"type" validate:"required"`
	Lines      []TransactionLineRequest `json:"lines" validate:"required,min=1,dive"`
	Actor      string                   `json:"actor"`
	Memo       string                   `json:"memo"`
	Project    string                   `json:"project"`
	Department string                   `json:"department"`
	BatchID    *string                  `json:"batch_id"`
}

// LedgerService defines the interface for the inventory ledger
type LedgerService interface {
	Post(ctx context.Context, req *PostTransactionRequest) (*model.InventoryTransaction, error)
	ListByItem(ctx context.Context, itemID string) ([]*model.InventoryTransaction, error)
	GetItem(ctx context.Context, id string) (*model.Item, error)
	GetItemBySKU(ctx context.Context, sku string) (*model.Item, error)
	ListItems(ctx context.Context) ([]*model.Item, error)
	DeleteLot(ctx context.Context, itemID, number string) error
}

// ledgerService implements LedgerService
type ledgerService struct {
	txnRepo  repository.TransactionRepository
	itemRepo repository.ItemRepository
	cache    cache.CacheClient
}

// NewLedgerService creates a new ledger service
func NewLedgerService(
	txnRepo repository.TransactionRepository,
	itemRepo repository.ItemRepository,
	cacheClient cache.CacheClient,
) LedgerService {
	return &ledgerService{
		txnRepo:  txnRepo,
		itemRepo: itemRepo,
		cache:    cacheClient,
	}
}

// Post appends a ledger transaction and applies its deltas to the lot
// store. The transaction record is persisted first, unconditionally: it is
// durable even if a later line application fails. Lines are applied
// independently; a line whose item cannot be found is skipped and logged
// while the remaining lines still apply. After every applied line the
// item's cached on-hand aggregate is recomputed from the per-lot rows.
func (s *ledgerService) Post(ctx context.Context, req *PostTransactionRequest) (*model.InventoryTransaction, error) {
	startTime := time.Now()
	collector := metrics.GetMetricsCollector()

	txnType := model.TransactionTypeFromString(req.Type)
	if txnType == "" {
		collector.RecordError(metrics.ErrorTypeValidation)
		return nil, errors.New("unknown transaction type")
	}

	txn := &model.InventoryTransaction{
		Base:       model.Base{UUID: uuid.New().String()},
		Type:       txnType,
		Actor:      req.Actor,
		Memo:       req.Memo,
		Project:    req.Project,
		Department: req.Department,
		BatchID:    req.BatchID,
	}
	for _, line := range req.Lines {
		txn.Lines = append(txn.Lines, model.TransactionLine{
			Base:          model.Base{UUID: uuid.New().String()},
			TransactionID: txn.UUID,
			ItemID:        line.ItemID,
			LotNumber:     line.LotNumber,
			QtyDelta:      line.Qty,
		})
	}

	// Record first: the append-only entry survives partial application
	txn, err := s.txnRepo.Create(ctx, txn)
	if err != nil {
		collector.RecordLedgerPost(false, time.Since(startTime))
		collector.RecordError(metrics.ErrorTypeDatabase)
		return nil, err
	}

	for _, line := range txn.Lines {
		if err := s.applyLine(ctx, txn, &line); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"transaction_id": txn.UUID,
				"item_id":        line.ItemID,
				"lot_number":     line.LotNumber,
			}).Warn("Skipping unapplicable transaction line")
			collector.RecordSkippedLine()
		}
	}

	collector.RecordLedgerPost(true, time.Since(startTime))
	return txn, nil
}

// applyLine applies one line's delta to its lot and refreshes the item's
// cached aggregate
func (s *ledgerService) applyLine(ctx context.Context, txn *model.InventoryTransaction, line *model.TransactionLine) error {
	item, err := s.itemRepo.GetByID(ctx, line.ItemID)
	if err != nil {
		return err
	}

	// First touch of a lot number creates the lot at quantity zero
	if err := s.itemRepo.EnsureLot(ctx, item.UUID, line.LotNumber); err != nil {
		return err
	}

	newQty, err := s.itemRepo.AddLotQuantity(ctx, item.UUID, line.LotNumber, line.QtyDelta)
	if err != nil {
		return err
	}

	// Overdraw is allowed and treated as a backorder signal, not an error
	if newQty.IsNegative() {
		logrus.WithFields(logrus.Fields{
			"transaction_id": txn.UUID,
			"item_id":        item.UUID,
			"sku":            item.SKU,
			"lot_number":     line.LotNumber,
			"quantity":       newQty.String(),
		}).Warn("Lot quantity went negative")
	}

	if _, err := s.itemRepo.RecomputeOnHand(ctx, item.UUID); err != nil {
		return err
	}

	if !item.LotTracked {
		if err := s.itemRepo.MarkLotTracked(ctx, item.UUID); err != nil {
			logrus.WithError(err).WithField("item_id", item.UUID).Warn("Failed to mark item lot-tracked")
		}
	}

	if err := s.cache.DeleteItem(ctx, item.SKU); err != nil && err != redis.Nil {
		logrus.WithError(err).Warn("Failed to invalidate item cache")
	}

	return nil
}

// ListByItem returns all transactions whose lines reference the item,
// newest first
func (s *ledgerService) ListByItem(ctx context.Context, itemID string) ([]*model.InventoryTransaction, error) {
	return s.txnRepo.ListByItem(ctx, itemID)
}

// GetItem gets an item with its lots by ID
func (s *ledgerService) GetItem(ctx context.Context, id string) (*model.Item, error) {
	return s.itemRepo.GetByID(ctx, id)
}

// GetItemBySKU gets an item by SKU, trying the cache first
func (s *ledgerService) GetItemBySKU(ctx context.Context, sku string) (*model.Item, error) {
	item, err := s.cache.GetItemBySKU(ctx, sku)
	if err == nil {
		return item, nil
	}
	if err != redis.Nil {
		logrus.WithError(err).Warn("Failed to get item from cache")
	}

	item, err = s.itemRepo.GetBySKU(ctx, sku)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetItem(ctx, item); err != nil {
		logrus.WithError(err).Warn("Failed to cache item")
	}

	return item, nil
}

// ListItems lists all catalog items
func (s *ledgerService) ListItems(ctx context.Context) ([]*model.Item, error) {
	return s.itemRepo.List(ctx)
}

// DeleteLot removes a lot row and refreshes the item's on-hand aggregate.
// The ledger entries that touched the lot remain; only the current-quantity
// row goes away.
func (s *ledgerService) DeleteLot(ctx context.Context, itemID, number string) error {
	item, err := s.itemRepo.GetByID(ctx, itemID)
	if err != nil {
		return err
	}

	if err := s.itemRepo.DeleteLot(ctx, itemID, number); err != nil {
		return err
	}

	if _, err := s.itemRepo.RecomputeOnHand(ctx, itemID); err != nil {
		return err
	}

	if err := s.cache.DeleteItem(ctx, item.SKU); err != nil && err != redis.Nil {
		logrus.WithError(err).Warn("Failed to invalidate item cache")
	}
	return nil
}
