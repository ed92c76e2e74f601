package transform

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cmor03/keepsake-sub000/internal/orders"
	"github.com/cmor03/keepsake-sub000/internal/uploads"
	"github.com/cmor03/keepsake-sub000/pkg/enums"
	"github.com/cmor03/keepsake-sub000/pkg/logger"
	"github.com/cmor03/keepsake-sub000/pkg/mailer"
	"github.com/cmor03/keepsake-sub000/pkg/metrics"
	"github.com/cmor03/keepsake-sub000/pkg/storage/gcs"
	"github.com/cmor03/keepsake-sub000/pkg/transformer"
)

// Consumer executes transformation jobs. Each job drives a single image
// through claim, download, transform, upload, and record, then checks
// whether its order just finished.
type Consumer struct {
	repo         orders.Repository
	store        gcs.ObjectStore
	transformer  transformer.Transformer
	mail         mailer.Sender
	subscription *pubsub.Subscriber
	logg         *logger.Logger
	metrics      *metrics.TransformMetrics
	now          func() time.Time
}

// NewConsumer wires the job handler's dependencies.
func NewConsumer(repo orders.Repository, store gcs.ObjectStore, t transformer.Transformer, mail mailer.Sender, subscription *pubsub.Subscriber, logg *logger.Logger, m *metrics.TransformMetrics) (*Consumer, error) {
	if repo == nil {
		return nil, errors.New("orders repository is required")
	}
	if store == nil {
		return nil, errors.New("object store is required")
	}
	if t == nil {
		return nil, errors.New("transformer is required")
	}
	if subscription == nil {
		return nil, errors.New("transform subscription is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{
		repo:         repo,
		store:        store,
		transformer:  t,
		mail:         mail,
		subscription: subscription,
		logg:         logg,
		metrics:      m,
		now:          time.Now,
	}, nil
}

// Run processes jobs until the context is canceled or the subscription errors.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	var job Job
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		logCtx := c.logg.WithField(ctx, "message_id", msg.ID)
		c.logg.Error(logCtx, "failed to unmarshal transform job", err)
		return processResult{ack: true}
	}
	if job.OrderID == uuid.Nil || job.ImageID == uuid.Nil {
		logCtx := c.logg.WithField(ctx, "message_id", msg.ID)
		c.logg.Warn(logCtx, "transform job missing identifiers")
		return processResult{ack: true}
	}

	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"order_id":   job.OrderID.String(),
		"image_id":   job.ImageID.String(),
	})

	image, err := c.repo.FindImageByID(logCtx, job.ImageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.logg.Warn(logCtx, "image not found for transform job")
			return processResult{ack: true}
		}
		return c.handleDBError(logCtx, err)
	}
	if image.OrderID != job.OrderID {
		c.logg.Warn(logCtx, "job order id does not match image row")
		return processResult{ack: true}
	}
	if image.OriginalKey == nil || *image.OriginalKey == "" {
		c.logg.Warn(logCtx, "image has no uploaded original")
		return processResult{ack: true}
	}

	claimed, err := c.repo.ClaimImage(logCtx, image.ID,
		[]enums.ImageStatus{enums.ImageStatusPending, enums.ImageStatusFailed},
		enums.ImageStatusProcessing)
	if err != nil {
		return c.handleDBError(logCtx, err)
	}
	if !claimed {
		// Another handler owns it, or it already reached a terminal state.
		// A terminal image can be the leftover of a worker that crashed
		// between recording it and checking the order, so the order check
		// still runs before the ack.
		c.logg.Info(logCtx, "image claim lost, skipping transform")
		c.finalize(logCtx, job.OrderID)
		return processResult{ack: true}
	}

	// From here on the claim is ours. Failures are recorded on the image
	// and the message acked; a redelivery could not reclaim it anyway.
	start := c.now()
	outcome := c.runJob(logCtx, job, *image.OriginalKey)
	c.metrics.ObserveJob(outcome, c.now().Sub(start))

	c.finalize(logCtx, job.OrderID)
	return processResult{ack: true}
}

// runJob performs the transformation and records the image's terminal state.
func (c *Consumer) runJob(ctx context.Context, job Job, originalKey string) string {
	original, err := c.store.Download(ctx, originalKey)
	if err != nil {
		c.logg.Error(ctx, "downloading original image", err)
		return c.recordFailure(ctx, job.ImageID)
	}

	transformed, err := c.transformer.Transform(ctx, original, "application/octet-stream")
	if err != nil {
		c.logg.Error(ctx, "transforming image", err)
		return c.recordFailure(ctx, job.ImageID)
	}

	key := uploads.TransformedKey(job.OrderID, job.ImageID)
	if err := c.store.Upload(ctx, key, "application/octet-stream", transformed); err != nil {
		c.logg.Error(ctx, "storing transformed image", err)
		return c.recordFailure(ctx, job.ImageID)
	}

	if err := c.repo.CompleteImage(ctx, job.ImageID, key); err != nil {
		c.logg.Error(ctx, "recording completed image", err)
		return "record_error"
	}

	c.logg.Info(ctx, "image transformed")
	return "completed"
}

func (c *Consumer) recordFailure(ctx context.Context, imageID uuid.UUID) string {
	if err := c.repo.FailImage(ctx, imageID); err != nil {
		c.logg.Error(ctx, "recording failed image", err)
		return "record_error"
	}
	return "failed"
}

// finalize completes the order when this job was the last one standing. The
// conditional completion claims the notification, so concurrent finishers
// send it exactly once.
func (c *Consumer) finalize(ctx context.Context, orderID uuid.UUID) {
	order, err := c.repo.FindByID(ctx, orderID)
	if err != nil {
		c.logg.Error(ctx, "loading order for finalization", err)
		return
	}
	if order.Status != enums.OrderStatusProcessing || !order.AllImagesTerminal() {
		return
	}

	won, err := c.repo.CompleteOrder(ctx, order.ID)
	if err != nil {
		c.logg.Error(ctx, "completing order", err)
		return
	}
	if !won {
		return
	}

	c.logg.Info(ctx, "order completed")
	if c.mail == nil {
		return
	}
	completed := 0
	for _, img := range order.Images {
		if img.Status == enums.ImageStatusCompleted {
			completed++
		}
	}
	err = c.mail.Send(ctx, mailer.TemplateOrderCompleted, order.CustomerEmail, map[string]any{
		"order_number":     order.OrderNumber,
		"images_total":     len(order.Images),
		"images_completed": completed,
	})
	if err != nil {
		c.logg.Error(ctx, "sending order completion email", err)
	}
}

func (c *Consumer) handleDBError(ctx context.Context, err error) processResult {
	c.logg.Error(ctx, "transform job db error", err)
	if isTransientDBError(err) {
		return processResult{nack: true}
	}
	return processResult{ack: true}
}

func isTransientDBError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
