package revenue

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/keymartlabs/keymart-backend/pkg/errors"
)

var (
	zero = decimal.Zero
	one  = decimal.NewFromInt(1)
)

// LineInput is one product line entering the split computation.
type LineInput struct {
	ProductID uuid.UUID
	SellerID  uuid.UUID
	UnitPrice decimal.Decimal
	Qty       int
	// SurchargeRate is an optional per-line rate added on top of the
	// platform commission rate. Zero means none.
	SurchargeRate decimal.Decimal
}

// LineResult carries the per-line money split. These figures are frozen on
// the order line at commit time and reused verbatim for refund reversal.
type LineResult struct {
	ProductID        uuid.UUID
	SellerID         uuid.UUID
	Qty              int
	UnitPrice        decimal.Decimal
	LineTotal        decimal.Decimal
	CommissionRate   decimal.Decimal
	CommissionAmount decimal.Decimal
	SellerEarning    decimal.Decimal
}

// Input is a full order-level computation request.
type Input struct {
	Lines          []LineInput
	CommissionRate decimal.Decimal
	HandlingFee    decimal.Decimal
	DiscountTotal  decimal.Decimal
}

// Result is the order-level split. Aggregates are sums of the independently
// rounded line figures, so they reconcile to the cent.
type Result struct {
	Lines              []LineResult
	Subtotal           decimal.Decimal
	DiscountTotal      decimal.Decimal
	HandlingFee        decimal.Decimal
	CommissionTotal    decimal.Decimal
	SellerEarningTotal decimal.Decimal
	AdminEarningTotal  decimal.Decimal
	GrandTotal         decimal.Decimal
}

// round2 rounds half away from zero to 2 decimal places. All amounts in the
// system are non-negative at this layer, so this is round-half-up.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Calculate computes the commission split for an order. Every intermediate
// amount is rounded to 2 decimals before aggregation.
func Calculate(in Input) (*Result, error) {
	if len(in.Lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one line is required")
	}
	if in.CommissionRate.LessThan(zero) || in.CommissionRate.GreaterThan(one) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "commission rate must be within [0,1]")
	}
	if in.HandlingFee.LessThan(zero) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "handling fee must not be negative")
	}
	if in.DiscountTotal.LessThan(zero) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "discount must not be negative")
	}

	result := &Result{
		Lines:              make([]LineResult, 0, len(in.Lines)),
		Subtotal:           zero,
		DiscountTotal:      round2(in.DiscountTotal),
		HandlingFee:        round2(in.HandlingFee),
		CommissionTotal:    zero,
		SellerEarningTotal: zero,
	}

	for _, line := range in.Lines {
		if line.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "line quantity must be positive")
		}
		if line.UnitPrice.LessThan(zero) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "unit price must not be negative")
		}
		if line.SurchargeRate.LessThan(zero) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "surcharge rate must not be negative")
		}

		rate := in.CommissionRate.Add(line.SurchargeRate)
		if rate.GreaterThan(one) {
			rate = one
		}

		lineTotal := round2(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Qty))))
		commission := round2(lineTotal.Mul(rate))
		earning := lineTotal.Sub(commission)
		if earning.LessThan(zero) {
			earning = zero
		}

		result.Lines = append(result.Lines, LineResult{
			ProductID:        line.ProductID,
			SellerID:         line.SellerID,
			Qty:              line.Qty,
			UnitPrice:        line.UnitPrice,
			LineTotal:        lineTotal,
			CommissionRate:   rate,
			CommissionAmount: commission,
			SellerEarning:    earning,
		})
		result.Subtotal = result.Subtotal.Add(lineTotal)
		result.CommissionTotal = result.CommissionTotal.Add(commission)
		result.SellerEarningTotal = result.SellerEarningTotal.Add(earning)
	}

	result.AdminEarningTotal = result.CommissionTotal.Add(result.HandlingFee)
	result.GrandTotal = result.Subtotal.Sub(result.DiscountTotal).Add(result.HandlingFee)
	if result.GrandTotal.LessThan(zero) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "discount exceeds order total")
	}
	return result, nil
}

// SellerSplit is the per-seller aggregate used to build escrow records.
type SellerSplit struct {
	SellerID         uuid.UUID
	GrossAmount      decimal.Decimal
	CommissionAmount decimal.Decimal
	NetAmount        decimal.Decimal
}

// SplitBySeller folds line results into one gross/commission/net triple per
// seller, preserving first-seen seller order.
func SplitBySeller(lines []LineResult) []SellerSplit {
	index := make(map[uuid.UUID]int, len(lines))
	splits := make([]SellerSplit, 0, len(lines))
	for _, line := range lines {
		i, ok := index[line.SellerID]
		if !ok {
			index[line.SellerID] = len(splits)
			splits = append(splits, SellerSplit{SellerID: line.SellerID})
			i = len(splits) - 1
		}
		splits[i].GrossAmount = splits[i].GrossAmount.Add(line.LineTotal)
		splits[i].CommissionAmount = splits[i].CommissionAmount.Add(line.CommissionAmount)
		splits[i].NetAmount = splits[i].NetAmount.Add(line.SellerEarning)
	}
	return splits
}
