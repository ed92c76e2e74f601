package admin

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cmor03/keepsake-sub000/api/responses"
	"github.com/cmor03/keepsake-sub000/internal/transform"
	"github.com/cmor03/keepsake-sub000/pkg/enums"
	pkgerrors "github.com/cmor03/keepsake-sub000/pkg/errors"
	"github.com/cmor03/keepsake-sub000/pkg/logger"
)

// Retransformer re-runs transformation for an order's images.
type Retransformer interface {
	DispatchOrder(ctx context.Context, orderID uuid.UUID, filter *enums.ImageStatus) (*transform.DispatchSummary, error)
}

// Retransform re-dispatches an order's unfinished images. An optional
// ?status= filter targets images currently in that state instead:
// status=processing recovers jobs stranded by a crashed worker, and
// status=completed forces a re-do of finished images.
func Retransform(dispatcher Retransformer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if dispatcher == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dispatcher unavailable"))
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

		var filter *enums.ImageStatus
		if rawStatus := strings.TrimSpace(r.URL.Query().Get("status")); rawStatus != "" {
			status, parseErr := enums.ParseImageStatus(rawStatus)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid status filter"))
				return
			}
			filter = &status
		}

		summary, err := dispatcher.DispatchOrder(r.Context(), orderID, filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusAccepted, summary)
	}
}
