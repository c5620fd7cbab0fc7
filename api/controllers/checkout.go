package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/keymartlabs/keymart-backend/api/middleware"
	"github.com/keymartlabs/keymart-backend/api/responses"
	checkoutsvc "github.com/keymartlabs/keymart-backend/internal/checkout"
	pkgerrors "github.com/keymartlabs/keymart-backend/pkg/errors"
	"github.com/keymartlabs/keymart-backend/pkg/logger"
)

// CheckoutCommit converts a pending checkout session into an order. The
// route carries the session id; the buyer identity, when present, comes
// from the gateway headers so guests can commit too.
func CheckoutCommit(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid checkout session id"))
			return
		}

		var buyerID *uuid.UUID
		if raw := middleware.UserIDFromContext(r.Context()); raw != "" {
			parsed, parseErr := uuid.Parse(raw)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid user identity"))
				return
			}
			buyerID = &parsed
		}

		order, err := svc.Commit(r.Context(), checkoutsvc.CommitInput{
			SessionID: sessionID,
			BuyerID:   buyerID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newOrderResponse(order))
	}
}
