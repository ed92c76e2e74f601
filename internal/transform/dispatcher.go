package transform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/cmor03/keepsake-sub000/internal/orders"
	"github.com/cmor03/keepsake-sub000/pkg/db/models"
	"github.com/cmor03/keepsake-sub000/pkg/enums"
	pkgerrors "github.com/cmor03/keepsake-sub000/pkg/errors"
	"github.com/cmor03/keepsake-sub000/pkg/logger"
	"github.com/cmor03/keepsake-sub000/pkg/metrics"
)

const publishTimeout = 15 * time.Second

// PublishResult resolves to the server-assigned message id.
type PublishResult interface {
	Get(ctx context.Context) (string, error)
}

// Publisher is the transport the dispatcher publishes jobs through.
type Publisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) PublishResult
}

// NewGCPPublisher adapts a Pub/Sub publisher to the dispatcher's interface.
func NewGCPPublisher(p *pubsub.Publisher) Publisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{publisher: p}
}

type gcpPublisher struct {
	publisher *pubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *pubsub.Message) PublishResult {
	if p == nil || p.publisher == nil {
		return nil
	}
	return p.publisher.Publish(ctx, msg)
}

// DispatchSummary reports a retransform fan-out.
type DispatchSummary struct {
	OrderID    uuid.UUID `json:"order_id"`
	Dispatched int       `json:"dispatched"`
	Skipped    int       `json:"skipped"`
}

// Dispatcher publishes one transformation job per image. Publishing is
// fire-and-forget from the caller's perspective: a job that never lands is
// recoverable through the admin retransform endpoint.
type Dispatcher struct {
	repo    orders.Repository
	pub     Publisher
	logg    *logger.Logger
	metrics *metrics.TransformMetrics
}

// NewDispatcher wires the dispatcher's dependencies.
func NewDispatcher(repo orders.Repository, pub Publisher, logg *logger.Logger, m *metrics.TransformMetrics) (*Dispatcher, error) {
	if repo == nil {
		return nil, errors.New("orders repository is required")
	}
	if pub == nil {
		return nil, errors.New("job publisher is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Dispatcher{repo: repo, pub: pub, logg: logg, metrics: m}, nil
}

// DispatchImages publishes a job for each image id. It is called from upload
// intake right after the originals land in storage.
func (d *Dispatcher) DispatchImages(ctx context.Context, orderID uuid.UUID, imageIDs []uuid.UUID) (int, error) {
	if orderID == uuid.Nil || len(imageIDs) == 0 {
		return 0, nil
	}
	ctx = d.logg.WithOrderID(ctx, orderID.String())

	var errs error
	published := 0
	for _, imageID := range imageIDs {
		if err := d.publishJob(ctx, orderID, imageID, TriggerUpload); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("image %s: %w", imageID, err))
			continue
		}
		published++
	}

	d.metrics.ObserveDispatch(TriggerUpload, published)
	return published, errs
}

// DispatchOrder re-publishes jobs for an order's images, used by the admin
// retransform endpoint. Without a filter only unfinished work is re-queued:
// completed images stay completed and mid-flight images keep their claim. A
// filter targets exactly that status, so re-doing completed images or
// reclaiming stuck ones takes an explicit operator choice.
func (d *Dispatcher) DispatchOrder(ctx context.Context, orderID uuid.UUID, filter *enums.ImageStatus) (*DispatchSummary, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	ctx = d.logg.WithOrderID(ctx, orderID.String())

	order, err := d.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if !order.IsPaid {
		return nil, pkgerrors.New(pkgerrors.CodePaymentRequired, "order has no confirmed payment")
	}

	summary := &DispatchSummary{OrderID: order.ID}
	eligible := make([]models.Image, 0, len(order.Images))
	for _, image := range order.Images {
		if eligibleForRetransform(image, filter) {
			eligible = append(eligible, image)
			continue
		}
		summary.Skipped++
	}
	if len(eligible) == 0 {
		return summary, nil
	}

	// Reset the replayed images to pending first so the reopened order is
	// not instantly completable by a straggling handler. Claiming from the
	// status each image was selected in drops any image a handler raced us
	// on since the read.
	reset := eligible[:0]
	for _, image := range eligible {
		ok, err := d.repo.ClaimImage(ctx, image.ID, []enums.ImageStatus{image.Status}, enums.ImageStatusPending)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reset image for retransform")
		}
		if !ok {
			summary.Skipped++
			continue
		}
		reset = append(reset, image)
	}
	eligible = reset
	if len(eligible) == 0 {
		return summary, nil
	}

	// Reopen before publishing so the last finishing handler can complete
	// the order (and claim the notification) again.
	if order.Status != enums.OrderStatusProcessing || order.NotificationSent {
		ok, err := d.repo.UpdateOrderCAS(ctx, order.ID, order.Version, map[string]any{
			"status":            enums.OrderStatusProcessing,
			"notification_sent": false,
		})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reopen order for processing")
		}
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently, retry retransform")
		}
	}

	var errs error
	for _, image := range eligible {
		if err := d.publishJob(ctx, order.ID, image.ID, TriggerRetransform); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("image %s: %w", image.ID, err))
			summary.Skipped++
			continue
		}
		summary.Dispatched++
	}

	d.metrics.ObserveDispatch(TriggerRetransform, summary.Dispatched)
	if errs != nil {
		d.logg.Error(ctx, "retransform dispatch incomplete", errs)
		return summary, pkgerrors.Wrap(pkgerrors.CodeDependency, errs, "some jobs failed to publish")
	}
	return summary, nil
}

func eligibleForRetransform(image models.Image, filter *enums.ImageStatus) bool {
	if image.OriginalKey == nil || *image.OriginalKey == "" {
		return false
	}
	if filter != nil {
		return image.Status == *filter
	}
	// The default selection never re-does finished work and never steals a
	// live claim.
	return image.Status != enums.ImageStatusProcessing &&
		image.Status != enums.ImageStatusCompleted
}

func (d *Dispatcher) publishJob(ctx context.Context, orderID, imageID uuid.UUID, trigger string) error {
	payload, err := json.Marshal(Job{OrderID: orderID, ImageID: imageID})
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	msg := &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			attrOrderID: orderID.String(),
			attrImageID: imageID.String(),
			attrTrigger: trigger,
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	result := d.pub.Publish(publishCtx, msg)
	if result == nil {
		return errors.New("publisher returned nil result")
	}
	if _, err := result.Get(publishCtx); err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}
