package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/cmor03/keepsake-sub000/pkg/enums"
)

// Image is an order-owned placeholder created from client-declared metadata.
// The storage keys stay nil until the upload and transformation happen.
type Image struct {
	ID              uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID         uuid.UUID         `gorm:"column:order_id;type:uuid;not null;index" json:"order_id"`
	Name            string            `gorm:"column:name;not null" json:"name"`
	Status          enums.ImageStatus `gorm:"column:status;not null;default:'pending'" json:"status"`
	OriginalKey     *string           `gorm:"column:original_key" json:"original_key,omitempty"`
	TransformedKey  *string           `gorm:"column:transformed_key" json:"transformed_key,omitempty"`
	DateUploaded    *time.Time        `gorm:"column:date_uploaded" json:"date_uploaded,omitempty"`
	DateTransformed *time.Time        `gorm:"column:date_transformed" json:"date_transformed,omitempty"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
