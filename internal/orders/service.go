package orders

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cmor03/keepsake-sub000/pkg/auth"
	"github.com/cmor03/keepsake-sub000/pkg/config"
	"github.com/cmor03/keepsake-sub000/pkg/db/models"
	"github.com/cmor03/keepsake-sub000/pkg/enums"
	pkgerrors "github.com/cmor03/keepsake-sub000/pkg/errors"
)

const orderNumberPrefix = "KS-"

// Service defines order lifecycle operations exposed to the API layer.
type Service interface {
	Create(ctx context.Context, input CreateOrderInput) (*CreatedOrder, error)
	Get(ctx context.Context, orderID uuid.UUID) (*OrderView, error)
}

type service struct {
	repo     Repository
	tokenCfg config.OrderTokenConfig
	maxFiles int
}

// NewService builds the order service with its required dependencies.
func NewService(repo Repository, tokenCfg config.OrderTokenConfig, uploads config.UploadsConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tokenCfg.Secret == "" {
		return nil, fmt.Errorf("order token secret required")
	}
	maxFiles := uploads.MaxFileCount
	if maxFiles <= 0 {
		maxFiles = 50
	}
	return &service{repo: repo, tokenCfg: tokenCfg, maxFiles: maxFiles}, nil
}

func (s *service) Create(ctx context.Context, input CreateOrderInput) (*CreatedOrder, error) {
	if len(input.Images) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one image is required")
	}
	if len(input.Images) > s.maxFiles {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("order cannot declare more than %d images", s.maxFiles))
	}
	if input.TotalAmount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "total amount cannot be negative")
	}

	seen := make(map[string]struct{}, len(input.Images))
	images := make([]models.Image, 0, len(input.Images))
	for _, decl := range input.Images {
		name := strings.TrimSpace(decl.Name)
		if name == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "image name cannot be empty")
		}
		if _, dup := seen[name]; dup {
			return nil, pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("duplicate image name %q", name))
		}
		seen[name] = struct{}{}
		images = append(images, models.Image{
			ID:     uuid.New(),
			Name:   name,
			Status: enums.ImageStatusPending,
		})
	}

	order := &models.Order{
		ID:            uuid.New(),
		OrderNumber:   newOrderNumber(),
		Status:        enums.OrderStatusAwaitingPayment,
		PaymentStatus: enums.PaymentStatusAwaitingPayment,
		TotalAmount:   input.TotalAmount,
		FinalAmount:   input.TotalAmount,
		CustomerEmail: strings.ToLower(strings.TrimSpace(input.CustomerEmail)),
		Images:        images,
	}

	created, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}

	token, err := auth.MintOrderToken(s.tokenCfg, time.Now(), auth.OrderTokenPayload{
		OrderID:     created.ID,
		OrderNumber: created.OrderNumber,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint order token")
	}

	return &CreatedOrder{Order: created, Token: token}, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*OrderView, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return NewOrderView(order), nil
}

// newOrderNumber produces a short human-readable identifier like KS-7H2K9QXM.
func newOrderNumber() string {
	var buf [5]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// rand.Read failing means the platform entropy source is broken;
		// fall back to a uuid-derived suffix rather than panicking.
		return orderNumberPrefix + strings.ToUpper(uuid.NewString()[:8])
	}
	return orderNumberPrefix + base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf[:])
}
