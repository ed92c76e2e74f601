package uploads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/cmor03/keepsake-sub000/internal/orders"
	"github.com/cmor03/keepsake-sub000/pkg/db/models"
	"github.com/cmor03/keepsake-sub000/pkg/enums"
	pkgerrors "github.com/cmor03/keepsake-sub000/pkg/errors"
	"github.com/cmor03/keepsake-sub000/pkg/logger"
	"github.com/cmor03/keepsake-sub000/pkg/storage/gcs"
)

// File is one multipart part the customer submitted.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// FileError records why a single file was rejected while others proceeded.
type FileError struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Result summarizes a submission. Accepted and Rejected partition the
// submitted files; the order keeps whatever progress was made.
type Result struct {
	OrderID    uuid.UUID   `json:"order_id"`
	Accepted   []string    `json:"accepted"`
	Rejected   []FileError `json:"rejected"`
	Dispatched int         `json:"dispatched"`
}

// Dispatcher publishes transformation jobs for uploaded images.
type Dispatcher interface {
	DispatchImages(ctx context.Context, orderID uuid.UUID, imageIDs []uuid.UUID) (int, error)
}

// Confirmer resolves payment state when the order is not yet marked paid.
type Confirmer interface {
	Confirm(ctx context.Context, orderID uuid.UUID, paymentRef string) (*orders.OrderView, error)
}

// Service accepts customer uploads, matches them to declared images, and
// hands the matched set to the dispatcher.
type Service interface {
	SubmitFiles(ctx context.Context, orderID uuid.UUID, files []File) (*Result, error)
}

type service struct {
	repo       orders.Repository
	store      gcs.ObjectStore
	dispatcher Dispatcher
	confirmer  Confirmer
	logg       *logger.Logger
	maxBytes   int64
	maxFiles   int
}

// NewService builds the upload intake service.
func NewService(repo orders.Repository, store gcs.ObjectStore, dispatcher Dispatcher, confirmer Confirmer, logg *logger.Logger, maxUploadMB, maxFileCount int) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if store == nil {
		return nil, fmt.Errorf("object store required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if maxUploadMB <= 0 {
		maxUploadMB = 25
	}
	if maxFileCount <= 0 {
		maxFileCount = 50
	}
	return &service{
		repo:       repo,
		store:      store,
		dispatcher: dispatcher,
		confirmer:  confirmer,
		logg:       logg,
		maxBytes:   int64(maxUploadMB) * 1024 * 1024,
		maxFiles:   maxFileCount,
	}, nil
}

func (s *service) SubmitFiles(ctx context.Context, orderID uuid.UUID, files []File) (*Result, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if len(files) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no files submitted")
	}
	if len(files) > s.maxFiles {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("cannot submit more than %d files at once", s.maxFiles))
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	order, err = s.requirePaid(ctx, order)
	if err != nil {
		return nil, err
	}
	if order.Status == enums.OrderStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is already completed")
	}

	byName := make(map[string]*models.Image, len(order.Images))
	for i := range order.Images {
		byName[order.Images[i].Name] = &order.Images[i]
	}

	result := &Result{OrderID: order.ID}
	var fileErrs error
	var uploadedIDs []uuid.UUID

	for _, file := range files {
		name := strings.TrimSpace(file.Name)
		if err := s.acceptFile(ctx, order, byName, file, name); err != nil {
			result.Rejected = append(result.Rejected, FileError{Name: name, Reason: err.Error()})
			fileErrs = multierr.Append(fileErrs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		result.Accepted = append(result.Accepted, name)
		uploadedIDs = append(uploadedIDs, byName[name].ID)
	}

	if fileErrs != nil {
		s.logg.Warn(ctx, fmt.Sprintf("upload intake rejected %d of %d files: %v",
			len(result.Rejected), len(files), fileErrs))
	}
	if len(result.Accepted) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no files were accepted").
			WithDetails(result.Rejected)
	}

	// Move the order into processing before fanning out; the transition is
	// conditional so only the first batch flips it.
	if _, err := s.repo.TransitionOrderStatus(ctx, order.ID, enums.OrderStatusPending, enums.OrderStatusProcessing); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order processing")
	}

	dispatched, err := s.dispatcher.DispatchImages(ctx, order.ID, uploadedIDs)
	if err != nil {
		// Uploads are durable at this point. Dispatch can be replayed via
		// the admin retransform endpoint, so surface but do not unwind.
		s.logg.Error(ctx, "dispatching transformation jobs", err)
	}
	result.Dispatched = dispatched

	return result, nil
}

// requirePaid enforces the paid gate, falling back to the provider when a
// payment reference exists but the confirmation never landed.
func (s *service) requirePaid(ctx context.Context, order *models.Order) (*models.Order, error) {
	if order.IsPaid {
		return order, nil
	}
	if s.confirmer != nil && order.PaymentReference != nil && *order.PaymentReference != "" {
		if _, err := s.confirmer.Confirm(ctx, order.ID, *order.PaymentReference); err == nil {
			reloaded, loadErr := s.repo.FindByID(ctx, order.ID)
			if loadErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, loadErr, "reload order")
			}
			if reloaded.IsPaid {
				return reloaded, nil
			}
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodePaymentRequired, "order must be paid before uploading images")
}

// acceptFile validates one file against its declared image and stores it.
func (s *service) acceptFile(ctx context.Context, order *models.Order, byName map[string]*models.Image, file File, name string) error {
	if name == "" {
		return fmt.Errorf("file name is empty")
	}
	image, ok := byName[name]
	if !ok {
		return fmt.Errorf("no declared image matches this file name")
	}
	if len(file.Data) == 0 {
		return fmt.Errorf("file is empty")
	}
	if int64(len(file.Data)) > s.maxBytes {
		return fmt.Errorf("file exceeds the %d byte limit", s.maxBytes)
	}
	switch image.Status {
	case enums.ImageStatusProcessing:
		return fmt.Errorf("image is currently being transformed")
	case enums.ImageStatusCompleted:
		return fmt.Errorf("image is already transformed")
	}

	key := originalKey(order.ID, image.ID)
	if err := s.store.Upload(ctx, key, file.ContentType, file.Data); err != nil {
		return fmt.Errorf("storing file: %w", err)
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"original_key":  key,
		"date_uploaded": now,
		"updated_at":    now,
	}
	// A re-upload of a failed image goes back to pending for re-dispatch.
	if image.Status == enums.ImageStatusFailed {
		updates["status"] = enums.ImageStatusPending
	}
	if err := s.repo.UpdateImage(ctx, image.ID, updates); err != nil {
		return fmt.Errorf("recording upload: %w", err)
	}
	return nil
}

func originalKey(orderID, imageID uuid.UUID) string {
	return fmt.Sprintf("orders/%s/original/%s", orderID, imageID)
}

// TransformedKey is the storage location for a finished artifact.
func TransformedKey(orderID, imageID uuid.UUID) string {
	return fmt.Sprintf("orders/%s/transformed/%s", orderID, imageID)
}
