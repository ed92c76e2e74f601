package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cmor03/keepsake-sub000/pkg/db/models"
	"github.com/cmor03/keepsake-sub000/pkg/enums"
)

// ImageDeclaration is the client-declared metadata for one expected upload.
type ImageDeclaration struct {
	Name string `json:"name" validate:"required,max=255"`
}

// CreateOrderInput carries everything needed to open an order.
type CreateOrderInput struct {
	CustomerEmail string             `json:"customer_email" validate:"required,email"`
	TotalAmount   decimal.Decimal    `json:"total_amount"`
	Images        []ImageDeclaration `json:"images" validate:"required,min=1,dive"`
}

// CreatedOrder pairs the stored order with the access token minted for it.
type CreatedOrder struct {
	Order *models.Order `json:"order"`
	Token string        `json:"token"`
}

// ImageView is the customer-facing projection of an image row.
type ImageView struct {
	ID              uuid.UUID         `json:"id"`
	Name            string            `json:"name"`
	Status          enums.ImageStatus `json:"status"`
	DateUploaded    *time.Time        `json:"date_uploaded,omitempty"`
	DateTransformed *time.Time        `json:"date_transformed,omitempty"`
}

// OrderView is the customer-facing projection of an order with progress counts.
type OrderView struct {
	ID               uuid.UUID           `json:"id"`
	OrderNumber      string              `json:"order_number"`
	Status           enums.OrderStatus   `json:"status"`
	PaymentStatus    enums.PaymentStatus `json:"payment_status"`
	IsPaid           bool                `json:"is_paid"`
	TotalAmount      decimal.Decimal     `json:"total_amount"`
	FinalAmount      decimal.Decimal     `json:"final_amount"`
	CustomerEmail    string              `json:"customer_email"`
	Images           []ImageView         `json:"images"`
	ImagesCompleted  int                 `json:"images_completed"`
	ImagesFailed     int                 `json:"images_failed"`
	ImagesTotal      int                 `json:"images_total"`
	NotificationSent bool                `json:"notification_sent"`
	CreatedAt        time.Time           `json:"created_at"`
}

// NewOrderView projects a stored order into its customer-facing shape.
func NewOrderView(order *models.Order) *OrderView {
	view := &OrderView{
		ID:               order.ID,
		OrderNumber:      order.OrderNumber,
		Status:           order.Status,
		PaymentStatus:    order.PaymentStatus,
		IsPaid:           order.IsPaid,
		TotalAmount:      order.TotalAmount,
		FinalAmount:      order.FinalAmount,
		CustomerEmail:    order.CustomerEmail,
		NotificationSent: order.NotificationSent,
		CreatedAt:        order.CreatedAt,
		Images:           make([]ImageView, 0, len(order.Images)),
		ImagesTotal:      len(order.Images),
	}
	for _, img := range order.Images {
		view.Images = append(view.Images, ImageView{
			ID:              img.ID,
			Name:            img.Name,
			Status:          img.Status,
			DateUploaded:    img.DateUploaded,
			DateTransformed: img.DateTransformed,
		})
		switch img.Status {
		case enums.ImageStatusCompleted:
			view.ImagesCompleted++
		case enums.ImageStatusFailed:
			view.ImagesFailed++
		}
	}
	return view
}
