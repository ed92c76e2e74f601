package transform

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmor03/keepsake-sub000/internal/orders"
	"github.com/cmor03/keepsake-sub000/pkg/enums"
)

type fakeObjectStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	downErr   error
	uploadErr error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: map[string][]byte{}}
}

func (s *fakeObjectStore) Upload(ctx context.Context, key, contentType string, data []byte) error {
	if s.uploadErr != nil {
		return s.uploadErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *fakeObjectStore) Download(ctx context.Context, key string) ([]byte, error) {
	if s.downErr != nil {
		return nil, s.downErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if data, ok := s.objects[key]; ok {
		return data, nil
	}
	return []byte("original-bytes"), nil
}

type fakeTransformer struct {
	err   error
	calls int
}

func (f *fakeTransformer) Transform(ctx context.Context, image []byte, contentType string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]byte("transformed-"), image...), nil
}

type captureMailer struct {
	mu    sync.Mutex
	sends []string
}

func (m *captureMailer) Send(ctx context.Context, template, recipient string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, template)
	return nil
}

func jobMessage(t *testing.T, orderID, imageID uuid.UUID) *pubsub.Message {
	t.Helper()
	data, err := json.Marshal(Job{OrderID: orderID, ImageID: imageID})
	require.NoError(t, err)
	return &pubsub.Message{ID: "m1", Data: data}
}

func newTestConsumer(t *testing.T, repo orders.Repository, store *fakeObjectStore, tr *fakeTransformer, mail *captureMailer) *Consumer {
	t.Helper()
	c, err := NewConsumer(repo, store, tr, mail, &pubsub.Subscriber{}, transformTestLogger(), nil)
	require.NoError(t, err)
	return c
}

func TestConsumerCompletesImageAndOrder(t *testing.T) {
	db := setupTransformTestDB(t)
	repo := orders.NewRepository(db)
	store := newFakeObjectStore()
	tr := &fakeTransformer{}
	mail := &captureMailer{}
	c := newTestConsumer(t, repo, store, tr, mail)

	order := seedProcessingOrder(t, db, uploaded("only.jpg", enums.ImageStatusPending))
	image := order.Images[0]

	result := c.process(context.Background(), jobMessage(t, order.ID, image.ID))
	assert.True(t, result.ack)
	assert.Equal(t, 1, tr.calls)

	stored, err := repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCompleted, stored.Status)
	assert.True(t, stored.NotificationSent)
	require.Len(t, stored.Images, 1)
	assert.Equal(t, enums.ImageStatusCompleted, stored.Images[0].Status)
	require.NotNil(t, stored.Images[0].TransformedKey)
	assert.Contains(t, store.objects, *stored.Images[0].TransformedKey)
	assert.Equal(t, []string{"order-completed"}, mail.sends)
}

func TestConsumerLastFinisherSendsSingleNotification(t *testing.T) {
	db := setupTransformTestDB(t)
	repo := orders.NewRepository(db)
	store := newFakeObjectStore()
	tr := &fakeTransformer{}
	mail := &captureMailer{}
	c := newTestConsumer(t, repo, store, tr, mail)

	order := seedProcessingOrder(t, db,
		uploaded("a.jpg", enums.ImageStatusPending),
		uploaded("b.jpg", enums.ImageStatusPending))
	ctx := context.Background()

	result := c.process(ctx, jobMessage(t, order.ID, order.Images[0].ID))
	assert.True(t, result.ack)

	mid, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusProcessing, mid.Status, "order must stay open until the last image lands")
	assert.Empty(t, mail.sends)

	result = c.process(ctx, jobMessage(t, order.ID, order.Images[1].ID))
	assert.True(t, result.ack)

	done, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCompleted, done.Status)
	assert.Equal(t, []string{"order-completed"}, mail.sends, "exactly one completion email")
}

func TestConsumerFailedTransformStillFinalizesOrder(t *testing.T) {
	db := setupTransformTestDB(t)
	repo := orders.NewRepository(db)
	store := newFakeObjectStore()
	tr := &fakeTransformer{err: assert.AnError}
	mail := &captureMailer{}
	c := newTestConsumer(t, repo, store, tr, mail)

	order := seedProcessingOrder(t, db, uploaded("bad.jpg", enums.ImageStatusPending))

	result := c.process(context.Background(), jobMessage(t, order.ID, order.Images[0].ID))
	assert.True(t, result.ack)

	stored, err := repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, stored.Images, 1)
	assert.Equal(t, enums.ImageStatusFailed, stored.Images[0].Status)
	// A failed image is terminal, so the order still completes.
	assert.Equal(t, enums.OrderStatusCompleted, stored.Status)
	assert.Equal(t, []string{"order-completed"}, mail.sends)
}

func TestConsumerDuplicateDeliveryLosesClaim(t *testing.T) {
	db := setupTransformTestDB(t)
	repo := orders.NewRepository(db)
	store := newFakeObjectStore()
	tr := &fakeTransformer{}
	mail := &captureMailer{}
	c := newTestConsumer(t, repo, store, tr, mail)

	order := seedProcessingOrder(t, db, uploaded("dup.jpg", enums.ImageStatusProcessing))

	result := c.process(context.Background(), jobMessage(t, order.ID, order.Images[0].ID))
	assert.True(t, result.ack)
	assert.Equal(t, 0, tr.calls, "a lost claim must not transform")
}

func TestConsumerRedeliveredTerminalImageFinalizesOrder(t *testing.T) {
	db := setupTransformTestDB(t)
	repo := orders.NewRepository(db)
	store := newFakeObjectStore()
	tr := &fakeTransformer{}
	mail := &captureMailer{}
	c := newTestConsumer(t, repo, store, tr, mail)

	// The image landed but the worker died before the order check. The
	// redelivered job cannot reclaim the image, yet the order must still
	// be closed out.
	order := seedProcessingOrder(t, db, uploaded("done.jpg", enums.ImageStatusCompleted))

	result := c.process(context.Background(), jobMessage(t, order.ID, order.Images[0].ID))
	assert.True(t, result.ack)
	assert.Equal(t, 0, tr.calls)

	stored, err := repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCompleted, stored.Status)
	assert.True(t, stored.NotificationSent)
	assert.Equal(t, []string{"order-completed"}, mail.sends)
}

func TestConsumerSkipsImageWithoutOriginal(t *testing.T) {
	db := setupTransformTestDB(t)
	repo := orders.NewRepository(db)
	store := newFakeObjectStore()
	tr := &fakeTransformer{}
	c := newTestConsumer(t, repo, store, tr, &captureMailer{})

	order := seedProcessingOrder(t, db, seededImage{name: "ghost.jpg", status: enums.ImageStatusPending})

	result := c.process(context.Background(), jobMessage(t, order.ID, order.Images[0].ID))
	assert.True(t, result.ack)
	assert.Equal(t, 0, tr.calls)

	image, err := repo.FindImageByID(context.Background(), order.Images[0].ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ImageStatusPending, image.Status)
}

func TestConsumerAcksMalformedPayload(t *testing.T) {
	db := setupTransformTestDB(t)
	repo := orders.NewRepository(db)
	c := newTestConsumer(t, repo, newFakeObjectStore(), &fakeTransformer{}, &captureMailer{})

	result := c.process(context.Background(), &pubsub.Message{ID: "m1", Data: []byte("{not json")})
	assert.True(t, result.ack)
	assert.False(t, result.nack)
}

func TestConsumerAcksUnknownImage(t *testing.T) {
	db := setupTransformTestDB(t)
	repo := orders.NewRepository(db)
	c := newTestConsumer(t, repo, newFakeObjectStore(), &fakeTransformer{}, &captureMailer{})

	result := c.process(context.Background(), jobMessage(t, uuid.New(), uuid.New()))
	assert.True(t, result.ack)
}

func TestConsumerMismatchedOrderIsIgnored(t *testing.T) {
	db := setupTransformTestDB(t)
	repo := orders.NewRepository(db)
	tr := &fakeTransformer{}
	c := newTestConsumer(t, repo, newFakeObjectStore(), tr, &captureMailer{})

	order := seedProcessingOrder(t, db, uploaded("a.jpg", enums.ImageStatusPending))

	result := c.process(context.Background(), jobMessage(t, uuid.New(), order.Images[0].ID))
	assert.True(t, result.ack)
	assert.Equal(t, 0, tr.calls)
}
