package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cmor03/keepsake-sub000/internal/orders"
	"github.com/cmor03/keepsake-sub000/pkg/db/models"
	"github.com/cmor03/keepsake-sub000/pkg/enums"
	pkgerrors "github.com/cmor03/keepsake-sub000/pkg/errors"
	"github.com/cmor03/keepsake-sub000/pkg/logger"
	"github.com/cmor03/keepsake-sub000/pkg/mailer"
	"github.com/cmor03/keepsake-sub000/pkg/metrics"
	"github.com/cmor03/keepsake-sub000/pkg/square"
)

// casAttempts bounds retries when concurrent confirmations race on the
// order version. Both paths converge on the same terminal state, so a
// handful of attempts is enough.
const casAttempts = 3

// Service confirms payments idempotently. Both the customer-initiated
// endpoint and the provider webhook funnel through Confirm.
type Service interface {
	Confirm(ctx context.Context, orderID uuid.UUID, paymentRef string) (*orders.OrderView, error)
}

type service struct {
	repo     orders.Repository
	verifier square.PaymentVerifier
	mail     mailer.Sender
	logg     *logger.Logger
	metrics  *metrics.TransformMetrics
}

// NewService builds the payment confirmation service.
func NewService(repo orders.Repository, verifier square.PaymentVerifier, mail mailer.Sender, logg *logger.Logger, m *metrics.TransformMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if verifier == nil {
		return nil, fmt.Errorf("payment verifier required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, verifier: verifier, mail: mail, logg: logg, metrics: m}, nil
}

func (s *service) Confirm(ctx context.Context, orderID uuid.UUID, paymentRef string) (*orders.OrderView, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	paymentRef = strings.TrimSpace(paymentRef)
	if paymentRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference required")
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// Already confirmed: answer success without touching the provider.
	if order.IsPaid {
		s.observe("already_paid")
		return orders.NewOrderView(order), nil
	}

	status, err := s.verifier.VerifyPayment(ctx, paymentRef)
	if err != nil {
		s.observe("verify_error")
		return nil, err
	}

	switch status {
	case square.VerificationSucceeded:
		// fall through to apply below
	case square.VerificationPending:
		s.observe("pending")
		return nil, pkgerrors.New(pkgerrors.CodePaymentRequired, "payment is still pending with the provider")
	default:
		s.observe("failed")
		s.markPaymentFailed(ctx, order)
		return nil, pkgerrors.New(pkgerrors.CodePaymentRequired, "payment was not completed")
	}

	confirmed, err := s.applyConfirmation(ctx, order, paymentRef)
	if err != nil {
		s.observe("apply_error")
		return nil, err
	}

	s.observe("confirmed")
	s.sendConfirmationEmail(ctx, confirmed)
	return orders.NewOrderView(confirmed), nil
}

// applyConfirmation flips the payment fields under version protection. A
// lost race is resolved by reloading: if someone else confirmed, that
// result stands.
func (s *service) applyConfirmation(ctx context.Context, order *models.Order, paymentRef string) (*models.Order, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		if order.IsPaid {
			return order, nil
		}

		now := time.Now().UTC()
		updates := map[string]any{
			"is_paid":           true,
			"paid_at":           now,
			"payment_status":    enums.PaymentStatusCompleted,
			"payment_reference": paymentRef,
		}
		if order.Status == enums.OrderStatusAwaitingPayment {
			updates["status"] = enums.OrderStatusPending
		}

		ok, err := s.repo.UpdateOrderCAS(ctx, order.ID, order.Version, updates)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply payment confirmation")
		}
		if ok {
			return s.loadOrder(ctx, order.ID)
		}

		reloaded, err := s.loadOrder(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		order = reloaded
	}
	return nil, pkgerrors.New(pkgerrors.CodeConflict, "order is being updated concurrently, retry confirmation")
}

// markPaymentFailed records a definitive provider failure. Losing the
// version race here is fine, the winning writer had fresher state.
func (s *service) markPaymentFailed(ctx context.Context, order *models.Order) {
	if order.PaymentStatus == enums.PaymentStatusFailed {
		return
	}
	ok, err := s.repo.UpdateOrderCAS(ctx, order.ID, order.Version, map[string]any{
		"payment_status": enums.PaymentStatusFailed,
	})
	if err != nil {
		s.logg.Error(ctx, "recording failed payment status", err)
		return
	}
	if !ok {
		s.logg.Warn(ctx, "skipped failed-payment write, order changed concurrently")
	}
}

func (s *service) sendConfirmationEmail(ctx context.Context, order *models.Order) {
	if s.mail == nil {
		return
	}
	err := s.mail.Send(ctx, mailer.TemplateOrderConfirmation, order.CustomerEmail, map[string]any{
		"order_number": order.OrderNumber,
		"total_amount": order.FinalAmount.StringFixed(2),
	})
	if err != nil {
		s.logg.Error(ctx, "sending order confirmation email", err)
	}
}

func (s *service) loadOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) observe(result string) {
	s.metrics.ObserveConfirmation(result)
}
