package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/keymartlabs/keymart-backend/api/middleware"
	"github.com/keymartlabs/keymart-backend/api/responses"
	"github.com/keymartlabs/keymart-backend/internal/orders"
	"github.com/keymartlabs/keymart-backend/pkg/db/models"
	"github.com/keymartlabs/keymart-backend/pkg/enums"
	pkgerrors "github.com/keymartlabs/keymart-backend/pkg/errors"
	"github.com/keymartlabs/keymart-backend/pkg/logger"
)

// OrderDetail returns a buyer's order with its lines and assigned keys.
func OrderDetail(repo orders.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders repository unavailable"))
			return
		}

		orderNumber := chi.URLParam(r, "orderNumber")
		if orderNumber == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "order number required"))
			return
		}

		order, err := repo.FindByOrderNumber(r.Context(), orderNumber)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))
				return
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if !actorMayReadOrder(r, order) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))
			return
		}

		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// actorMayReadOrder hides other buyers' orders. Admins read everything;
// guest orders have no owner to check.
func actorMayReadOrder(r *http.Request, order *models.Order) bool {
	if middleware.RoleFromContext(r.Context()) == "admin" {
		return true
	}
	if order.BuyerID == nil {
		return true
	}
	actorID, err := uuid.Parse(middleware.UserIDFromContext(r.Context()))
	if err != nil {
		return false
	}
	return actorID == *order.BuyerID
}

type orderResponse struct {
	OrderID       uuid.UUID           `json:"order_id"`
	OrderNumber   string              `json:"order_number"`
	Currency      string              `json:"currency"`
	Subtotal      decimal.Decimal     `json:"subtotal"`
	DiscountTotal decimal.Decimal     `json:"discount_total"`
	HandlingFee   decimal.Decimal     `json:"handling_fee"`
	TotalPaid     decimal.Decimal     `json:"total_paid"`
	RefundedTotal decimal.Decimal     `json:"refunded_total"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	Status        enums.OrderStatus   `json:"status"`
	RefundStatus  enums.RefundStatus  `json:"refund_status"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
	Lines         []orderLineResponse `json:"lines"`
	CreatedAt     time.Time           `json:"created_at"`
}

type orderLineResponse struct {
	LineID       uuid.UUID          `json:"line_id"`
	ProductID    uuid.UUID          `json:"product_id"`
	Name         string             `json:"name"`
	Qty          int                `json:"qty"`
	UnitPrice    decimal.Decimal    `json:"unit_price"`
	LineTotal    decimal.Decimal    `json:"line_total"`
	RefundedQty  int                `json:"refunded_qty"`
	RefundStatus enums.RefundStatus `json:"refund_status"`
	Keys         []keyResponse      `json:"keys"`
}

type keyResponse struct {
	KeyID  uuid.UUID              `json:"key_id"`
	Code   string                 `json:"code"`
	Status enums.LicenseKeyStatus `json:"status"`
}

func newOrderResponse(order *models.Order) orderResponse {
	lines := make([]orderLineResponse, 0, len(order.Lines))
	for _, line := range order.Lines {
		keys := make([]keyResponse, 0, len(line.Keys))
		for _, key := range line.Keys {
			keys = append(keys, keyResponse{KeyID: key.ID, Code: key.Code, Status: key.Status})
		}
		lines = append(lines, orderLineResponse{
			LineID:       line.ID,
			ProductID:    line.ProductID,
			Name:         line.Name,
			Qty:          line.Qty,
			UnitPrice:    line.UnitPrice,
			LineTotal:    line.LineTotal,
			RefundedQty:  line.RefundedQty,
			RefundStatus: line.RefundStatus,
			Keys:         keys,
		})
	}
	return orderResponse{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Currency:      string(order.Currency),
		Subtotal:      order.Subtotal,
		DiscountTotal: order.DiscountTotal,
		HandlingFee:   order.HandlingFee,
		TotalPaid:     order.TotalPaid,
		RefundedTotal: order.RefundedTotal,
		PaymentStatus: order.PaymentStatus,
		Status:        order.Status,
		RefundStatus:  order.RefundStatus,
		CompletedAt:   order.CompletedAt,
		Lines:         lines,
		CreatedAt:     order.CreatedAt,
	}
}
