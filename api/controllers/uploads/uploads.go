package uploads

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cmor03/keepsake-sub000/api/responses"
	internaluploads "github.com/cmor03/keepsake-sub000/internal/uploads"
	"github.com/cmor03/keepsake-sub000/pkg/config"
	pkgerrors "github.com/cmor03/keepsake-sub000/pkg/errors"
	"github.com/cmor03/keepsake-sub000/pkg/logger"
)

// formFieldName is the multipart field customers attach their images to.
const formFieldName = "files"

// Submit accepts a multipart batch of images for a paid order. Per-file
// failures are reported in the result body; the batch only errors as a whole
// when nothing could be accepted.
func Submit(svc internaluploads.Service, cfg config.UploadsConfig, logg *logger.Logger) http.HandlerFunc {
	maxUploadMB := cfg.MaxUploadMB
	if maxUploadMB <= 0 {
		maxUploadMB = 25
	}
	maxFileCount := cfg.MaxFileCount
	if maxFileCount <= 0 {
		maxFileCount = 30
	}
	// Budget for the whole form, not one file; the service enforces
	// per-file limits again.
	maxFormBytes := int64(maxUploadMB) * 1024 * 1024 * int64(maxFileCount)

	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "uploads service unavailable"))
			return
		}

		raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
		if raw == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "order id is required"))
			return
		}
		orderID, err := uuid.Parse(raw)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id"))
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid multipart body"))
			return
		}
		defer func() {
			_ = r.MultipartForm.RemoveAll()
		}()

		headers := r.MultipartForm.File[formFieldName]
		if len(headers) == 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "no files submitted"))
			return
		}

		files := make([]internaluploads.File, 0, len(headers))
		for _, header := range headers {
			part, openErr := header.Open()
			if openErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, openErr, "read uploaded file"))
				return
			}
			data, readErr := io.ReadAll(part)
			_ = part.Close()
			if readErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, readErr, "read uploaded file"))
				return
			}
			files = append(files, internaluploads.File{
				Name:        header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Data:        data,
			})
		}

		result, err := svc.SubmitFiles(r.Context(), orderID, files)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}
