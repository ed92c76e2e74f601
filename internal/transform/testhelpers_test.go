package transform

import (
	"context"
	"io"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cmor03/keepsake-sub000/pkg/db/models"
	"github.com/cmor03/keepsake-sub000/pkg/enums"
	"github.com/cmor03/keepsake-sub000/pkg/logger"
)

func setupTransformTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	ordersTable := `
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  order_number TEXT NOT NULL UNIQUE,
  status TEXT NOT NULL DEFAULT 'awaiting_payment',
  payment_status TEXT NOT NULL DEFAULT 'awaiting_payment',
  is_paid INTEGER NOT NULL DEFAULT 0,
  paid_at DATETIME,
  payment_reference TEXT,
  total_amount TEXT NOT NULL DEFAULT '0',
  final_amount TEXT NOT NULL DEFAULT '0',
  customer_email TEXT NOT NULL,
  notification_sent INTEGER NOT NULL DEFAULT 0,
  version INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`
	imagesTable := `
CREATE TABLE IF NOT EXISTS images (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  name TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  original_key TEXT,
  transformed_key TEXT,
  date_uploaded DATETIME,
  date_transformed DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(ordersTable).Error)
	require.NoError(t, db.Exec(imagesTable).Error)
	return db
}

func transformTestLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "transform-test", Output: io.Discard})
}

type seededImage struct {
	name        string
	status      enums.ImageStatus
	originalKey *string
}

func uploaded(name string, status enums.ImageStatus) seededImage {
	key := "orders/seed/original/" + name
	return seededImage{name: name, status: status, originalKey: &key}
}

func seedProcessingOrder(t *testing.T, db *gorm.DB, images ...seededImage) *models.Order {
	t.Helper()
	rows := make([]models.Image, 0, len(images))
	for _, img := range images {
		rows = append(rows, models.Image{
			ID:          uuid.New(),
			Name:        img.name,
			Status:      img.status,
			OriginalKey: img.originalKey,
		})
	}
	order := &models.Order{
		ID:            uuid.New(),
		OrderNumber:   "KS-" + uuid.NewString()[:8],
		Status:        enums.OrderStatusProcessing,
		PaymentStatus: enums.PaymentStatusCompleted,
		IsPaid:        true,
		TotalAmount:   decimal.NewFromInt(15),
		FinalAmount:   decimal.NewFromInt(15),
		CustomerEmail: "customer@example.com",
		Images:        rows,
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

type publishedJob struct {
	data  []byte
	attrs map[string]string
}

type fakePublisher struct {
	published []publishedJob
	err       error
}

type fakePublishResult struct {
	id  string
	err error
}

func (r fakePublishResult) Get(ctx context.Context) (string, error) {
	return r.id, r.err
}

func (p *fakePublisher) Publish(ctx context.Context, msg *pubsub.Message) PublishResult {
	if p.err != nil {
		return fakePublishResult{err: p.err}
	}
	p.published = append(p.published, publishedJob{data: msg.Data, attrs: msg.Attributes})
	return fakePublishResult{id: "m1"}
}
