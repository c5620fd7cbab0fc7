package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/keymartlabs/keymart-backend/api/responses"
	paypalwebhook "github.com/keymartlabs/keymart-backend/internal/webhooks/paypal"
	pkgerrors "github.com/keymartlabs/keymart-backend/pkg/errors"
	"github.com/keymartlabs/keymart-backend/pkg/logger"
)

const maxWebhookBody = 1 << 20

// signatureVerifier checks a webhook request against the configured
// webhook id. The request body must be readable again after the check.
type signatureVerifier interface {
	VerifyWebhookSignature(ctx context.Context, req *http.Request) (bool, error)
}

// PayPal receives processor webhook notifications. Signature failures
// are rejected before any side effect; handler errors after a verified
// signature are logged and surfaced so the processor retries delivery.
func PayPal(verifier signatureVerifier, svc *paypalwebhook.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if verifier == nil || svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook handler unavailable"))
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)

		valid, err := verifier.VerifyWebhookSignature(r.Context(), r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "webhook signature verification failed"))
			return
		}
		if !valid {
			logg.Warn(r.Context(), "rejecting webhook with invalid signature")
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature"))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unreadable webhook body"))
			return
		}

		var event paypalwebhook.Event
		if err := json.Unmarshal(body, &event); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook payload"))
			return
		}

		if err := svc.HandleEvent(r.Context(), &event); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, nil)
	}
}
