package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cmor03/keepsake-sub000/pkg/db/models"
	"github.com/cmor03/keepsake-sub000/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, err
	}
	return order, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Images", func(db *gorm.DB) *gorm.DB {
			return db.Order("images.created_at ASC")
		}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Images", func(db *gorm.DB) *gorm.DB {
			return db.Order("images.created_at ASC")
		}).
		Where("order_number = ?", orderNumber).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) UpdateOrderCAS(ctx context.Context, id uuid.UUID, expectedVersion int64, updates map[string]any) (bool, error) {
	if len(updates) == 0 {
		return false, nil
	}
	merged := make(map[string]any, len(updates)+2)
	for k, v := range updates {
		merged[k] = v
	}
	merged["version"] = gorm.Expr("version + 1")
	merged["updated_at"] = time.Now().UTC()

	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(merged)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) TransitionOrderStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":     to,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindImageByID(ctx context.Context, imageID uuid.UUID) (*models.Image, error) {
	var image models.Image
	err := r.db.WithContext(ctx).
		Where("id = ?", imageID).
		First(&image).Error
	if err != nil {
		return nil, err
	}
	return &image, nil
}

func (r *repository) UpdateImage(ctx context.Context, imageID uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.Image{}).
		Where("id = ?", imageID).
		Updates(updates).Error
}

func (r *repository) ClaimImage(ctx context.Context, imageID uuid.UUID, from []enums.ImageStatus, to enums.ImageStatus) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.Image{}).
		Where("id = ? AND status IN ?", imageID, from).
		Updates(map[string]any{
			"status":     to,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CompleteImage(ctx context.Context, imageID uuid.UUID, transformedKey string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&models.Image{}).
		Where("id = ?", imageID).
		Updates(map[string]any{
			"status":           enums.ImageStatusCompleted,
			"transformed_key":  transformedKey,
			"date_transformed": now,
			"updated_at":       now,
		}).Error
}

func (r *repository) FailImage(ctx context.Context, imageID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Image{}).
		Where("id = ?", imageID).
		Updates(map[string]any{
			"status":     enums.ImageStatusFailed,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *repository) CompleteOrder(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ? AND notification_sent = ?", id, enums.OrderStatusProcessing, false).
		Updates(map[string]any{
			"status":            enums.OrderStatusCompleted,
			"notification_sent": true,
			"version":           gorm.Expr("version + 1"),
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
