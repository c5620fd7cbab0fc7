package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/keymartlabs/keymart-backend/api/middleware"
	"github.com/keymartlabs/keymart-backend/api/responses"
	"github.com/keymartlabs/keymart-backend/api/validators"
	"github.com/keymartlabs/keymart-backend/internal/refunds"
	"github.com/keymartlabs/keymart-backend/pkg/db/models"
	"github.com/keymartlabs/keymart-backend/pkg/enums"
	pkgerrors "github.com/keymartlabs/keymart-backend/pkg/errors"
	"github.com/keymartlabs/keymart-backend/pkg/logger"
)

type createRefundRequest struct {
	OrderLineID string   `json:"order_line_id" validate:"required,uuid4"`
	Qty         int      `json:"qty" validate:"required,min=1"`
	KeyIDs      []string `json:"key_ids" validate:"omitempty,dive,uuid4"`
	Method      string   `json:"method" validate:"required,oneof=wallet original_payment"`
	Reason      string   `json:"reason" validate:"required,min=10,max=2000"`
	Evidence    *string  `json:"evidence" validate:"omitempty,max=10000"`
}

type refundDecisionRequest struct {
	Notes *string `json:"notes" validate:"omitempty,max=2000"`
}

type refundEventResponse struct {
	Action     string    `json:"action"`
	PrevStatus string    `json:"prev_status"`
	NewStatus  string    `json:"new_status"`
	Notes      *string   `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type refundResponse struct {
	ID           uuid.UUID             `json:"id"`
	OrderID      uuid.UUID             `json:"order_id"`
	OrderLineID  uuid.UUID             `json:"order_line_id"`
	Method       string                `json:"method"`
	Qty          int                   `json:"qty"`
	Reason       string                `json:"reason"`
	Status       string                `json:"status"`
	RefundAmount string                `json:"refund_amount"`
	ResolvedAt   *time.Time            `json:"resolved_at,omitempty"`
	Events       []refundEventResponse `json:"events,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
}

func newRefundResponse(req *models.RefundRequest) refundResponse {
	resp := refundResponse{
		ID:           req.ID,
		OrderID:      req.OrderID,
		OrderLineID:  req.OrderLineID,
		Method:       req.Method.String(),
		Qty:          req.Qty,
		Reason:       req.Reason,
		Status:       req.Status.String(),
		RefundAmount: req.RefundAmount.StringFixed(2),
		ResolvedAt:   req.ResolvedAt,
		CreatedAt:    req.CreatedAt,
	}
	for _, event := range req.Events {
		resp.Events = append(resp.Events, refundEventResponse{
			Action:     event.Action,
			PrevStatus: event.PrevStatus.String(),
			NewStatus:  event.NewStatus.String(),
			Notes:      event.Notes,
			CreatedAt:  event.CreatedAt,
		})
	}
	return resp
}

// RefundCreate opens a refund request against one order line. The buyer
// comes from the gateway identity; guests cannot dispute.
func RefundCreate(svc refunds.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refunds service unavailable"))
			return
		}

		buyerID, err := actorUUID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body createRefundRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		lineID, err := uuid.Parse(body.OrderLineID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid order line id"))
			return
		}

		keyIDs := make([]uuid.UUID, 0, len(body.KeyIDs))
		for _, raw := range body.KeyIDs {
			keyID, parseErr := uuid.Parse(raw)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid key id").WithDetails(map[string]any{"key_id": raw}))
				return
			}
			keyIDs = append(keyIDs, keyID)
		}

		method, err := enums.ParseRefundMethod(body.Method)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid refund method"))
			return
		}

		req, err := svc.Create(r.Context(), refunds.CreateInput{
			BuyerID:     buyerID,
			OrderLineID: lineID,
			Qty:         body.Qty,
			KeyIDs:      keyIDs,
			Method:      method,
			Reason:      validators.SanitizeString(body.Reason, 2000),
			Evidence:    body.Evidence,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newRefundResponse(req))
	}
}

// RefundDetail returns one refund request with its audit trail.
func RefundDetail(svc refunds.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refunds service unavailable"))
			return
		}

		requestID, err := uuid.Parse(chi.URLParam(r, "requestID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid refund request id"))
			return
		}

		req, err := svc.Get(r.Context(), requestID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if !actorMayReadRefund(r, req) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "refund request not found"))
			return
		}

		responses.WriteSuccess(w, newRefundResponse(req))
	}
}

// RefundDecision dispatches one admin action on an open request. The
// action picks the service transition; routes bind one action each.
func RefundDecision(svc refunds.Service, action string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refunds service unavailable"))
			return
		}

		actorID, err := actorUUID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		requestID, err := uuid.Parse(chi.URLParam(r, "requestID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid refund request id"))
			return
		}

		var body refundDecisionRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &body); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		input := refunds.DecisionInput{
			RequestID: requestID,
			ActorID:   actorID,
			Notes:     body.Notes,
		}

		var req *models.RefundRequest
		switch action {
		case refunds.ActionReviewed:
			req, err = svc.Review(r.Context(), input)
		case refunds.ActionApproved:
			req, err = svc.Approve(r.Context(), input)
		case refunds.ActionRejected:
			req, err = svc.Reject(r.Context(), input)
		case refunds.ActionRetried:
			req, err = svc.Retry(r.Context(), input)
		default:
			err = pkgerrors.New(pkgerrors.CodeInternal, "unknown refund action")
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newRefundResponse(req))
	}
}

func actorUUID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid user identity")
	}
	return id, nil
}

func actorMayReadRefund(r *http.Request, req *models.RefundRequest) bool {
	if middleware.RoleFromContext(r.Context()) == "admin" {
		return true
	}
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return false
	}
	actorID, err := uuid.Parse(raw)
	if err != nil {
		return false
	}
	return actorID == req.BuyerID
}
