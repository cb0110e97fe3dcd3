package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/labops/services/batch/internal/db"
	"example.com/labops/services/batch/internal/model"
)

// ItemRepository defines the interface for item and lot data access
type ItemRepository interface {
	Create(ctx context.Context, item *model.Item) (*model.Item, error)
	GetByID(ctx context.Context, id string) (*model.Item, error)
	GetBySKU(ctx context.Context, sku string) (*model.Item, error)
	List(ctx context.Context) ([]*model.Item, error)
	MarkLotTracked(ctx context.Context, itemID string) error

	EnsureLot(ctx context.Context, itemID, number string) error
	AddLotQuantity(ctx context.Context, itemID, number string, delta decimal.Decimal) (decimal.Decimal, error)
	RecomputeOnHand(ctx context.Context, itemID string) (decimal.Decimal, error)
	DeleteLot(ctx context.Context, itemID, number string) error
}

// itemRepository implements ItemRepository
type itemRepository struct {
	db *gorm.DB
}

// NewItemRepository creates a new item repository
func NewItemRepository(db *gorm.DB) ItemRepository {
	return &itemRepository{db: db}
}

// Create creates a new item
func (r *itemRepository) Create(ctx context.Context, item *model.Item) (*model.Item, error) {
	if err := r.db.WithContext(ctx).Create(item).Error; err != nil {
		return nil, err
	}
	return item, nil
}

// GetByID gets an item with its lots by ID
func (r *itemRepository) GetByID(ctx context.Context, id string) (*model.Item, error) {
	var item model.Item
	err := r.db.WithContext(ctx).
		Preload("Lots", func(tx *gorm.DB) *gorm.DB { return tx.Order("created_at") }).
		Where("uuid = ?", id).
		First(&item).Error
	if err != nil {
		if db.IsRecordNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// GetBySKU gets an item with its lots by SKU
func (r *itemRepository) GetBySKU(ctx context.Context, sku string) (*model.Item, error) {
	var item model.Item
	err := r.db.WithContext(ctx).
		Preload("Lots", func(tx *gorm.DB) *gorm.DB { return tx.Order("created_at") }).
		Where("sku = ?", sku).
		First(&item).Error
	if err != nil {
		if db.IsRecordNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// List lists all items
func (r *itemRepository) List(ctx context.Context) ([]*model.Item, error) {
	var items []*model.Item
	err := r.db.WithContext(ctx).
		Preload("Lots", func(tx *gorm.DB) *gorm.DB { return tx.Order("created_at") }).
		Order("sku").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// MarkLotTracked flips the lot-tracked flag on an item
func (r *itemRepository) MarkLotTracked(ctx context.Context, itemID string) error {
	return r.db.WithContext(ctx).
		Model(&model.Item{}).
		Where("uuid = ?", itemID).
		Update("lot_tracked", true).Error
}

// EnsureLot creates a zero-quantity lot row for the item if one with the
// given number does not exist yet. Concurrent first touches resolve via
// the unique index rather than a read-check-write.
func (r *itemRepository) EnsureLot(ctx context.Context, itemID, number string) error {
	lot := &model.Lot{
		Base:     model.Base{UUID: uuid.New().String()},
		ItemID:   itemID,
		Number:   number,
		Quantity: decimal.Zero,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "item_id"}, {Name: "number"}},
			DoNothing: true,
		}).
		Create(lot).Error
}

// AddLotQuantity applies a signed delta to a lot with a single atomic
// update and returns the new lot quantity.
func (r *itemRepository) AddLotQuantity(ctx context.Context, itemID, number string, delta decimal.Decimal) (decimal.Decimal, error) {
	var qty decimal.Decimal
	err := r.db.WithContext(ctx).
		Raw(
			"UPDATE lots SET quantity = quantity + ?, updated_at = ? WHERE item_id = ? AND number = ? RETURNING quantity",
			delta, time.Now(), itemID, number,
		).
		Scan(&qty).Error
	if err != nil {
		return decimal.Zero, err
	}
	return qty, nil
}

// RecomputeOnHand recomputes the cached aggregate from the authoritative
// per-lot rows and persists it on the item.
func (r *itemRepository) RecomputeOnHand(ctx context.Context, itemID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.WithContext(ctx).
		Raw("SELECT COALESCE(SUM(quantity), 0) FROM lots WHERE item_id = ?", itemID).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}

	err = r.db.WithContext(ctx).
		Model(&model.Item{}).
		Where("uuid = ?", itemID).
		Update("qty_on_hand", total).Error
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// DeleteLot removes a lot row; the only path that ever deletes one
func (r *itemRepository) DeleteLot(ctx context.Context, itemID, number string) error {
	res := r.db.WithContext(ctx).
		Where("item_id = ? AND number = ?", itemID, number).
		Delete(&model.Lot{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
