package revenue

import (
	"github.com/shopspring/decimal"

	pkgerrors "github.com/keymartlabs/keymart-backend/pkg/errors"
)

// ReversalInput scales a stored line split down to a refunded unit subset.
// The stored figures come from the order line as frozen at commit time; the
// platform rate is deliberately absent so later rate changes cannot drift
// the reversal.
type ReversalInput struct {
	Qty              int
	RefundQty        int
	LineTotal        decimal.Decimal
	CommissionAmount decimal.Decimal
	SellerEarning    decimal.Decimal
}

// ReversalResult is the money to unwind for a refund.
type ReversalResult struct {
	RefundAmount          decimal.Decimal
	CommissionReversed    decimal.Decimal
	SellerEarningReversed decimal.Decimal
}

// Reverse computes the refund split. A full-line refund returns the stored
// figures exactly; a partial refund scales proportionally, with the seller
// share taking the rounding remainder so the pieces always sum to the
// refund amount.
func Reverse(in ReversalInput) (*ReversalResult, error) {
	if in.Qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "line quantity must be positive")
	}
	if in.RefundQty <= 0 || in.RefundQty > in.Qty {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund quantity out of range")
	}

	if in.RefundQty == in.Qty {
		return &ReversalResult{
			RefundAmount:          in.LineTotal,
			CommissionReversed:    in.CommissionAmount,
			SellerEarningReversed: in.SellerEarning,
		}, nil
	}

	ratio := decimal.NewFromInt(int64(in.RefundQty)).Div(decimal.NewFromInt(int64(in.Qty)))
	refund := round2(in.LineTotal.Mul(ratio))
	commission := round2(in.CommissionAmount.Mul(ratio))
	seller := refund.Sub(commission)
	if seller.LessThan(zero) {
		seller = zero
		commission = refund
	}
	return &ReversalResult{
		RefundAmount:          refund,
		CommissionReversed:    commission,
		SellerEarningReversed: seller,
	}, nil
}
