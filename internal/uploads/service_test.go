package uploads

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cmor03/keepsake-sub000/internal/orders"
	"github.com/cmor03/keepsake-sub000/pkg/db/models"
	"github.com/cmor03/keepsake-sub000/pkg/enums"
	pkgerrors "github.com/cmor03/keepsake-sub000/pkg/errors"
	"github.com/cmor03/keepsake-sub000/pkg/logger"
)

func setupUploadsTestDB(t *testing.T) *gorm.DB {
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

type fakeStore struct {
	objects map[string][]byte
	fail    map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, fail: map[string]error{}}
}

func (s *fakeStore) Upload(ctx context.Context, key, contentType string, data []byte) error {
	if err, ok := s.fail[key]; ok {
		return err
	}
	s.objects[key] = data
	return nil
}

func (s *fakeStore) Download(ctx context.Context, key string) ([]byte, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, assert.AnError
	}
	return data, nil
}

type fakeDispatcher struct {
	calls [][]uuid.UUID
	err   error
}

func (d *fakeDispatcher) DispatchImages(ctx context.Context, orderID uuid.UUID, imageIDs []uuid.UUID) (int, error) {
	d.calls = append(d.calls, imageIDs)
	if d.err != nil {
		return 0, d.err
	}
	return len(imageIDs), nil
}

func uploadsTestLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "uploads-test", Output: io.Discard})
}

func seedPaidOrder(t *testing.T, db *gorm.DB, names ...string) *models.Order {
	t.Helper()
	images := make([]models.Image, 0, len(names))
	for _, name := range names {
		images = append(images, models.Image{ID: uuid.New(), Name: name, Status: enums.ImageStatusPending})
	}
	order := &models.Order{
		ID:            uuid.New(),
		OrderNumber:   "KS-" + uuid.NewString()[:8],
		Status:        enums.OrderStatusPending,
		PaymentStatus: enums.PaymentStatusCompleted,
		IsPaid:        true,
		TotalAmount:   decimal.NewFromInt(10),
		FinalAmount:   decimal.NewFromInt(10),
		CustomerEmail: "customer@example.com",
		Images:        images,
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

func newUploadsService(t *testing.T, repo orders.Repository, store *fakeStore, dispatcher *fakeDispatcher) Service {
	t.Helper()
	svc, err := NewService(repo, store, dispatcher, nil, uploadsTestLogger(), 1, 10)
	require.NoError(t, err)
	return svc
}

func TestSubmitFilesMatchesAndDispatches(t *testing.T) {
	db := setupUploadsTestDB(t)
	repo := orders.NewRepository(db)
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	svc := newUploadsService(t, repo, store, dispatcher)

	order := seedPaidOrder(t, db, "front.jpg", "back.jpg")

	result, err := svc.SubmitFiles(context.Background(), order.ID, []File{
		{Name: "front.jpg", ContentType: "image/jpeg", Data: []byte("front")},
		{Name: "back.jpg", ContentType: "image/jpeg", Data: []byte("back")},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"front.jpg", "back.jpg"}, result.Accepted)
	assert.Empty(t, result.Rejected)
	assert.Equal(t, 2, result.Dispatched)
	require.Len(t, dispatcher.calls, 1)
	assert.Len(t, store.objects, 2)

	stored, err := repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusProcessing, stored.Status)
	for _, img := range stored.Images {
		require.NotNil(t, img.OriginalKey)
		assert.NotNil(t, img.DateUploaded)
	}
}

func TestSubmitFilesPartialErrors(t *testing.T) {
	db := setupUploadsTestDB(t)
	repo := orders.NewRepository(db)
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	svc := newUploadsService(t, repo, store, dispatcher)

	order := seedPaidOrder(t, db, "front.jpg")

	result, err := svc.SubmitFiles(context.Background(), order.ID, []File{
		{Name: "front.jpg", ContentType: "image/jpeg", Data: []byte("front")},
		{Name: "stranger.jpg", ContentType: "image/jpeg", Data: []byte("nope")},
		{Name: "empty.jpg", ContentType: "image/jpeg"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"front.jpg"}, result.Accepted)
	assert.Len(t, result.Rejected, 2)
	assert.Equal(t, 1, result.Dispatched)
}

func TestSubmitFilesAllRejected(t *testing.T) {
	db := setupUploadsTestDB(t)
	repo := orders.NewRepository(db)
	svc := newUploadsService(t, repo, newFakeStore(), &fakeDispatcher{})

	order := seedPaidOrder(t, db, "front.jpg")

	_, err := svc.SubmitFiles(context.Background(), order.ID, []File{
		{Name: "stranger.jpg", ContentType: "image/jpeg", Data: []byte("nope")},
	})
	require.Error(t, err)
	domainErr := pkgerrors.As(err)
	require.NotNil(t, domainErr)
	assert.Equal(t, pkgerrors.CodeValidation, domainErr.Code())

	stored, err := repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, stored.Status, "order must not move to processing")
}

func TestSubmitFilesUnpaidOrderRejected(t *testing.T) {
	db := setupUploadsTestDB(t)
	repo := orders.NewRepository(db)
	svc := newUploadsService(t, repo, newFakeStore(), &fakeDispatcher{})

	order := &models.Order{
		ID:            uuid.New(),
		OrderNumber:   "KS-UNPAID01",
		Status:        enums.OrderStatusAwaitingPayment,
		PaymentStatus: enums.PaymentStatusAwaitingPayment,
		TotalAmount:   decimal.NewFromInt(10),
		FinalAmount:   decimal.NewFromInt(10),
		CustomerEmail: "customer@example.com",
		Images:        []models.Image{{ID: uuid.New(), Name: "front.jpg", Status: enums.ImageStatusPending}},
	}
	require.NoError(t, db.Create(order).Error)

	_, err := svc.SubmitFiles(context.Background(), order.ID, []File{
		{Name: "front.jpg", ContentType: "image/jpeg", Data: []byte("front")},
	})
	require.Error(t, err)
	domainErr := pkgerrors.As(err)
	require.NotNil(t, domainErr)
	assert.Equal(t, pkgerrors.CodePaymentRequired, domainErr.Code())
}

func TestSubmitFilesRespectsSizeLimit(t *testing.T) {
	db := setupUploadsTestDB(t)
	repo := orders.NewRepository(db)
	svc := newUploadsService(t, repo, newFakeStore(), &fakeDispatcher{})

	order := seedPaidOrder(t, db, "big.jpg")

	huge := make([]byte, 2*1024*1024)
	_, err := svc.SubmitFiles(context.Background(), order.ID, []File{
		{Name: "big.jpg", ContentType: "image/jpeg", Data: huge},
	})
	require.Error(t, err)
}

func TestSubmitFilesReuploadFailedImageResetsToPending(t *testing.T) {
	db := setupUploadsTestDB(t)
	repo := orders.NewRepository(db)
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	svc := newUploadsService(t, repo, store, dispatcher)

	order := seedPaidOrder(t, db, "retry.jpg")
	require.NoError(t, repo.FailImage(context.Background(), order.Images[0].ID))

	result, err := svc.SubmitFiles(context.Background(), order.ID, []File{
		{Name: "retry.jpg", ContentType: "image/jpeg", Data: []byte("retry")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"retry.jpg"}, result.Accepted)

	image, err := repo.FindImageByID(context.Background(), order.Images[0].ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ImageStatusPending, image.Status)
}

func TestSubmitFilesDispatchFailureDoesNotFailSubmission(t *testing.T) {
	db := setupUploadsTestDB(t)
	repo := orders.NewRepository(db)
	store := newFakeStore()
	dispatcher := &fakeDispatcher{err: assert.AnError}
	svc := newUploadsService(t, repo, store, dispatcher)

	order := seedPaidOrder(t, db, "front.jpg")

	result, err := svc.SubmitFiles(context.Background(), order.ID, []File{
		{Name: "front.jpg", ContentType: "image/jpeg", Data: []byte("front")},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Dispatched)

	stored, err := repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusProcessing, stored.Status)
}
