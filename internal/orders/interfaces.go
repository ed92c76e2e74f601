package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cmor03/keepsake-sub000/pkg/db/models"
	"github.com/cmor03/keepsake-sub000/pkg/enums"
)

// Repository defines persistence operations for orders and their images.
//
// The conditional writes (UpdateOrderCAS, TransitionOrderStatus, ClaimImage,
// CompleteOrder) report whether the row matched. A false result means another
// writer got there first; callers reload and decide, they never overwrite.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (*models.Order, error)

	// UpdateOrderCAS applies updates only when the stored version still equals
	// expectedVersion, bumping the version in the same statement.
	UpdateOrderCAS(ctx context.Context, id uuid.UUID, expectedVersion int64, updates map[string]any) (bool, error)

	// TransitionOrderStatus moves the order from one status to another in a
	// single conditional statement.
	TransitionOrderStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus) (bool, error)

	FindImageByID(ctx context.Context, imageID uuid.UUID) (*models.Image, error)
	UpdateImage(ctx context.Context, imageID uuid.UUID, updates map[string]any) error

	// ClaimImage transitions the image to the target status only when its
	// current status is one of from. Exactly one concurrent claimer wins.
	ClaimImage(ctx context.Context, imageID uuid.UUID, from []enums.ImageStatus, to enums.ImageStatus) (bool, error)

	CompleteImage(ctx context.Context, imageID uuid.UUID, transformedKey string) error
	FailImage(ctx context.Context, imageID uuid.UUID) error

	// CompleteOrder marks the order completed and claims the completion
	// notification in one statement. True means the caller owns sending it.
	CompleteOrder(ctx context.Context, id uuid.UUID) (bool, error)
}
