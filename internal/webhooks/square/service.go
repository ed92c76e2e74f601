package squarewebhook

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cmor03/keepsake-sub000/internal/orders"
	pkgerrors "github.com/cmor03/keepsake-sub000/pkg/errors"
	"github.com/cmor03/keepsake-sub000/pkg/logger"
)

// EventScope namespaces idempotency keys for Square webhook deliveries.
const EventScope = "square-webhook"

type paymentConfirmer interface {
	Confirm(ctx context.Context, orderID uuid.UUID, paymentRef string) (*orders.OrderView, error)
}

type ServiceParams struct {
	Repo      orders.Repository
	Confirmer paymentConfirmer
	Guard     *IdempotencyGuard
	Logger    *logger.Logger
}

// Service turns Square payment events into confirmation attempts. It is the
// second confirmation path next to the customer-initiated endpoint; both
// converge on the same idempotent Confirm.
type Service struct {
	repo      orders.Repository
	confirmer paymentConfirmer
	guard     *IdempotencyGuard
	logg      *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repo required")
	}
	if params.Confirmer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment confirmer required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		repo:      params.Repo,
		confirmer: params.Confirmer,
		guard:     params.Guard,
		logg:      params.Logger,
	}, nil
}

type Event struct {
	EventID string    `json:"event_id"`
	Type    string    `json:"type"`
	Data    EventData `json:"data"`
}

type EventData struct {
	Type   string      `json:"type"`
	ID     string      `json:"id"`
	Object EventObject `json:"object"`
}

type EventObject struct {
	Payment *PaymentPayload `json:"payment"`
}

// PaymentPayload is the slice of Square's payment object the webhook needs.
// ReferenceID carries the order id (or order number) set at checkout.
type PaymentPayload struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ReferenceID string `json:"reference_id"`
}

// HandleEvent processes a verified Square payment event.
func (s *Service) HandleEvent(ctx context.Context, event *Event) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "square event required")
	}

	switch strings.ToLower(event.Type) {
	case "payment.created", "payment.updated":
	default:
		return nil
	}

	payment := event.Data.Object.Payment
	if payment == nil || payment.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment payload missing")
	}

	duplicate, err := s.guard.CheckAndMark(ctx, event.EventID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check webhook idempotency")
	}
	if duplicate {
		s.logg.Info(s.logg.WithField(ctx, "event_id", event.EventID), "skipping duplicate square event")
		return nil
	}

	if err := s.confirmFromPayment(ctx, payment); err != nil {
		// Release the mark so Square's redelivery gets another attempt.
		if delErr := s.guard.Delete(ctx, event.EventID); delErr != nil {
			s.logg.Error(ctx, "releasing webhook idempotency mark", delErr)
		}
		return err
	}
	return nil
}

func (s *Service) confirmFromPayment(ctx context.Context, payment *PaymentPayload) error {
	orderID, err := s.resolveOrderID(ctx, payment.ReferenceID)
	if err != nil {
		return err
	}

	_, err = s.confirmer.Confirm(ctx, orderID, payment.ID)
	if err != nil {
		domainErr := pkgerrors.As(err)
		// A pending or declined payment is a fact about the payment, not a
		// delivery failure; swallow it so Square stops retrying.
		if domainErr != nil && domainErr.Code() == pkgerrors.CodePaymentRequired {
			s.logg.Info(s.logg.WithOrderID(ctx, orderID.String()), "square event for unconfirmed payment")
			return nil
		}
		return err
	}
	return nil
}

// resolveOrderID accepts either the order uuid or the public order number.
func (s *Service) resolveOrderID(ctx context.Context, reference string) (uuid.UUID, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "payment has no order reference")
	}

	if id, err := uuid.Parse(reference); err == nil {
		return id, nil
	}

	order, err := s.repo.FindByNumber(ctx, reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, pkgerrors.New(pkgerrors.CodeNotFound, "no order matches payment reference")
		}
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve order by number")
	}
	return order.ID, nil
}
