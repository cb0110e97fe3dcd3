package repository

import (
	"context"

	"gorm.io/gorm"

	"example.com/labops/services/batch/internal/db"
	"example.com/labops/services/batch/internal/model"
)

// TransactionRepository defines the interface for the append-only ledger
type TransactionRepository interface {
	Create(ctx context.Context, txn *model.InventoryTransaction) (*model.InventoryTransaction, error)
	GetByID(ctx context.Context, id string) (*model.InventoryTransaction, error)
	ListByItem(ctx context.Context, itemID string) ([]*model.InventoryTransaction, error)
	CountByBatch(ctx context.Context, batchID string) (int64, error)
}

// transactionRepository implements TransactionRepository
type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

// Create appends a transaction record with its lines. Ledger entries are
// immutable; there is intentionally no update or delete.
func (r *transactionRepository) Create(ctx context.Context, txn *model.InventoryTransaction) (*model.InventoryTransaction, error) {
	if err := r.db.WithContext(ctx).Create(txn).Error; err != nil {
		return nil, err
	}
	return txn, nil
}

// GetByID gets a transaction with its lines by ID
func (r *transactionRepository) GetByID(ctx context.Context, id string) (*model.InventoryTransaction, error) {
	var txn model.InventoryTransaction
	err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("uuid = ?", id).
		First(&txn).Error
	if err != nil {
		if db.IsRecordNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &txn, nil
}

// ListByItem finds all transactions whose lines reference the item, newest first
func (r *transactionRepository) ListByItem(ctx context.Context, itemID string) ([]*model.InventoryTransaction, error) {
	var txns []*model.InventoryTransaction
	sub := r.db.Model(&model.TransactionLine{}).
		Select("transaction_id").
		Where("item_id = ?", itemID)

	err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("uuid IN (?)", sub).
		Order("created_at DESC").
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

// CountByBatch counts ledger entries that reference a batch
func (r *transactionRepository) CountByBatch(ctx context.Context, batchID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.InventoryTransaction{}).
		Where("batch_id = ?", batchID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
