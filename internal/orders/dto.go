package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/keymartlabs/keymart-backend/pkg/db/models"
	"github.com/keymartlabs/keymart-backend/pkg/enums"
)

// OrderLineView exposes a frozen line item plus the keys delivered for it.
type OrderLineView struct {
	ID             uuid.UUID          `json:"id"`
	ProductID      uuid.UUID          `json:"product_id"`
	SellerID       uuid.UUID          `json:"seller_id"`
	Name           string             `json:"name"`
	Qty            int                `json:"qty"`
	UnitPrice      string             `json:"unit_price"`
	LineTotal      string             `json:"line_total"`
	RefundedQty    int                `json:"refunded_qty"`
	RefundedAmount string             `json:"refunded_amount"`
	RefundStatus   enums.RefundStatus `json:"refund_status"`
	Keys           []string           `json:"keys,omitempty"`
}

// OrderView is the buyer-facing order detail.
type OrderView struct {
	ID            uuid.UUID           `json:"id"`
	OrderNumber   string              `json:"order_number"`
	Currency      enums.Currency      `json:"currency"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	Subtotal      string              `json:"subtotal"`
	DiscountTotal string              `json:"discount_total"`
	HandlingFee   string              `json:"handling_fee"`
	TotalPaid     string              `json:"total_paid"`
	RefundedTotal string              `json:"refunded_total"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	Status        enums.OrderStatus   `json:"status"`
	RefundStatus  enums.RefundStatus  `json:"refund_status"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	Lines         []OrderLineView     `json:"lines"`
}

// OrderSummary is the compact shape returned by the buyer order list.
type OrderSummary struct {
	OrderNumber   string              `json:"order_number"`
	CreatedAt     time.Time           `json:"created_at"`
	TotalPaid     string              `json:"total_paid"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	Status        enums.OrderStatus   `json:"status"`
}

func toOrderView(order *models.Order) *OrderView {
	view := &OrderView{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		Currency:      order.Currency,
		PaymentMethod: order.PaymentMethod,
		Subtotal:      order.Subtotal.StringFixed(2),
		DiscountTotal: order.DiscountTotal.StringFixed(2),
		HandlingFee:   order.HandlingFee.StringFixed(2),
		TotalPaid:     order.TotalPaid.StringFixed(2),
		RefundedTotal: order.RefundedTotal.StringFixed(2),
		PaymentStatus: order.PaymentStatus,
		Status:        order.Status,
		RefundStatus:  order.RefundStatus,
		CompletedAt:   order.CompletedAt,
		CreatedAt:     order.CreatedAt,
		Lines:         make([]OrderLineView, 0, len(order.Lines)),
	}
	delivered := order.PaymentStatus == enums.PaymentStatusPaid || order.PaymentStatus == enums.PaymentStatusRefunded
	for _, line := range order.Lines {
		lineView := OrderLineView{
			ID:             line.ID,
			ProductID:      line.ProductID,
			SellerID:       line.SellerID,
			Name:           line.Name,
			Qty:            line.Qty,
			UnitPrice:      line.UnitPrice.StringFixed(2),
			LineTotal:      line.LineTotal.StringFixed(2),
			RefundedQty:    line.RefundedQty,
			RefundedAmount: line.RefundedAmount.StringFixed(2),
			RefundStatus:   line.RefundStatus,
		}
		// Key material is only revealed once payment landed. Refunded keys
		// stay visible so buyers can see what was invalidated.
		if delivered {
			for _, key := range line.Keys {
				lineView.Keys = append(lineView.Keys, key.Code)
			}
		}
		view.Lines = append(view.Lines, lineView)
	}
	return view
}

func toOrderSummary(order models.Order) OrderSummary {
	return OrderSummary{
		OrderNumber:   order.OrderNumber,
		CreatedAt:     order.CreatedAt,
		TotalPaid:     order.TotalPaid.StringFixed(2),
		PaymentStatus: order.PaymentStatus,
		Status:        order.Status,
	}
}
