package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/labops/services/batch/internal/db"
	"example.com/labops/services/batch/internal/model"
)

// BatchRepository defines the interface for batch data access
type BatchRepository interface {
	Create(ctx context.Context, batch *model.Batch) (*model.Batch, error)
	Update(ctx context.Context, batch *model.Batch) (*model.Batch, error)
	GetByID(ctx context.Context, id string) (*model.Batch, error)
	List(ctx context.Context) ([]*model.Batch, error)
	Delete(ctx context.Context, id string) error
	NextRunNumber(ctx context.Context, fileID string) (int, error)
	CreateComponent(ctx context.Context, component *model.BatchComponent) error
	CreateOverlay(ctx context.Context, overlay *model.BatchOverlay) error
	ListArchived(ctx context.Context, folderPath string) ([]*model.Batch, error)
}

// batchRepository implements BatchRepository
type batchRepository struct {
	db *gorm.DB
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *gorm.DB) BatchRepository {
	return &batchRepository{db: db}
}

func withBatchAssociations(tx *gorm.DB) *gorm.DB {
	return tx.
		Preload("Components", func(tx *gorm.DB) *gorm.DB { return tx.Order("created_at") }).
		Preload("Overlays", func(tx *gorm.DB) *gorm.DB { return tx.Order("sequence") })
}

// Create creates a new batch with its components and overlays
func (r *batchRepository) Create(ctx context.Context, batch *model.Batch) (*model.Batch, error) {
	if err := r.db.WithContext(ctx).Create(batch).Error; err != nil {
		return nil, err
	}
	return batch, nil
}

// Update persists batch fields; associated rows are written through
// CreateComponent and CreateOverlay
func (r *batchRepository) Update(ctx context.Context, batch *model.Batch) (*model.Batch, error) {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Save(batch).Error; err != nil {
		return nil, err
	}
	return batch, nil
}

// GetByID gets a batch with components and overlay history by ID
func (r *batchRepository) GetByID(ctx context.Context, id string) (*model.Batch, error) {
	var batch model.Batch
	err := withBatchAssociations(r.db.WithContext(ctx)).
		Where("uuid = ?", id).
		First(&batch).Error
	if err != nil {
		if db.IsRecordNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &batch, nil
}

// List lists batches newest first
func (r *batchRepository) List(ctx context.Context) ([]*model.Batch, error) {
	var batches []*model.Batch
	err := withBatchAssociations(r.db.WithContext(ctx)).
		Order("created_at DESC").
		Find(&batches).Error
	if err != nil {
		return nil, err
	}
	return batches, nil
}

// Delete removes a batch with its components and overlays
func (r *batchRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("batch_id = ?", id).Delete(&model.BatchComponent{}).Error; err != nil {
			return err
		}
		if err := tx.Where("batch_id = ?", id).Delete(&model.BatchOverlay{}).Error; err != nil {
			return err
		}
		res := tx.Where("uuid = ?", id).Delete(&model.Batch{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// NextRunNumber returns the next sequential run number for a file
func (r *batchRepository) NextRunNumber(ctx context.Context, fileID string) (int, error) {
	var max int
	err := r.db.WithContext(ctx).
		Raw("SELECT COALESCE(MAX(run_number), 0) FROM batches WHERE file_id = ?", fileID).
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

// CreateComponent appends a component row to a batch
func (r *batchRepository) CreateComponent(ctx context.Context, component *model.BatchComponent) error {
	return r.db.WithContext(ctx).Create(component).Error
}

// CreateOverlay appends an overlay row to a batch's history
func (r *batchRepository) CreateOverlay(ctx context.Context, overlay *model.BatchOverlay) error {
	return r.db.WithContext(ctx).Create(overlay).Error
}

// ListArchived lists archived batches newest first, optionally filtered by
// exact folder path
func (r *batchRepository) ListArchived(ctx context.Context, folderPath string) ([]*model.Batch, error) {
	query := withBatchAssociations(r.db.WithContext(ctx)).
		Where("is_archived = ?", true)

	if folderPath != "" {
		query = query.Where("archive_folder_path = ?", folderPath)
	}

	var batches []*model.Batch
	if err := query.Order("archived_at DESC").Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}
