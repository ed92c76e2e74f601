package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cmor03/keepsake-sub000/pkg/enums"
)

// Order is the single source of truth for an order's lifecycle. The version
// column backs the compare-and-update primitive; every writer must go through
// it so that concurrent deltas are never silently overwritten.
type Order struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderNumber      string              `gorm:"column:order_number;not null;unique" json:"order_number"`
	Status           enums.OrderStatus   `gorm:"column:status;not null;default:'awaiting_payment'" json:"status"`
	PaymentStatus    enums.PaymentStatus `gorm:"column:payment_status;not null;default:'awaiting_payment'" json:"payment_status"`
	IsPaid           bool                `gorm:"column:is_paid;not null;default:false" json:"is_paid"`
	PaidAt           *time.Time          `gorm:"column:paid_at" json:"paid_at,omitempty"`
	PaymentReference *string             `gorm:"column:payment_reference" json:"payment_reference,omitempty"`
	TotalAmount      decimal.Decimal     `gorm:"column:total_amount;type:numeric(10,2);not null" json:"total_amount"`
	FinalAmount      decimal.Decimal     `gorm:"column:final_amount;type:numeric(10,2);not null" json:"final_amount"`
	CustomerEmail    string              `gorm:"column:customer_email;not null" json:"customer_email"`
	NotificationSent bool                `gorm:"column:notification_sent;not null;default:false" json:"notification_sent"`
	Version          int64               `gorm:"column:version;not null;default:0" json:"-"`
	Images           []Image             `gorm:"foreignKey:OrderID" json:"images"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// AllImagesTerminal reports whether every image reached completed or failed.
func (o *Order) AllImagesTerminal() bool {
	if len(o.Images) == 0 {
		return false
	}
	for _, img := range o.Images {
		if !img.Status.IsTerminal() {
			return false
		}
	}
	return true
}
