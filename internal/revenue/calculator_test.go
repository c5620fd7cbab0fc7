package revenue

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/keymartlabs/keymart-backend/pkg/errors"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestCalculate_SingleLineTenPercent(t *testing.T) {
	sellerID := uuid.New()
	result, err := Calculate(Input{
		Lines: []LineInput{
			{ProductID: uuid.New(), SellerID: sellerID, UnitPrice: dec("100.00"), Qty: 1},
		},
		CommissionRate: dec("0.10"),
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if !result.Subtotal.Equal(dec("100.00")) {
		t.Fatalf("subtotal = %s", result.Subtotal)
	}
	if !result.CommissionTotal.Equal(dec("10.00")) {
		t.Fatalf("commission = %s", result.CommissionTotal)
	}
	if !result.SellerEarningTotal.Equal(dec("90.00")) {
		t.Fatalf("seller earning = %s", result.SellerEarningTotal)
	}
	if !result.GrandTotal.Equal(dec("100.00")) {
		t.Fatalf("grand total = %s", result.GrandTotal)
	}
}

func TestCalculate_RoundsEachLineBeforeAggregating(t *testing.T) {
	// 3 x 3.33 = 9.99; 10% commission = 0.999 -> 1.00 per line.
	result, err := Calculate(Input{
		Lines: []LineInput{
			{ProductID: uuid.New(), SellerID: uuid.New(), UnitPrice: dec("3.33"), Qty: 3},
			{ProductID: uuid.New(), SellerID: uuid.New(), UnitPrice: dec("3.33"), Qty: 3},
		},
		CommissionRate: dec("0.10"),
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if !result.CommissionTotal.Equal(dec("2.00")) {
		t.Fatalf("commission = %s, want 2.00", result.CommissionTotal)
	}
	for _, line := range result.Lines {
		if !line.CommissionAmount.Equal(dec("1.00")) {
			t.Fatalf("line commission = %s, want 1.00", line.CommissionAmount)
		}
		if !line.SellerEarning.Equal(dec("8.99")) {
			t.Fatalf("line seller earning = %s, want 8.99", line.SellerEarning)
		}
	}
}

func TestCalculate_SplitReconcilesToTotalPaid(t *testing.T) {
	result, err := Calculate(Input{
		Lines: []LineInput{
			{ProductID: uuid.New(), SellerID: uuid.New(), UnitPrice: dec("19.99"), Qty: 2},
			{ProductID: uuid.New(), SellerID: uuid.New(), UnitPrice: dec("4.49"), Qty: 3},
			{ProductID: uuid.New(), SellerID: uuid.New(), UnitPrice: dec("0.99"), Qty: 7},
		},
		CommissionRate: dec("0.10"),
		HandlingFee:    dec("1.50"),
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	sum := result.SellerEarningTotal.Add(result.CommissionTotal).Add(result.HandlingFee)
	if !sum.Equal(result.GrandTotal) {
		t.Fatalf("seller+commission+fee = %s, total = %s", sum, result.GrandTotal)
	}
}

func TestCalculate_SurchargeRateAddsToCommission(t *testing.T) {
	result, err := Calculate(Input{
		Lines: []LineInput{
			{ProductID: uuid.New(), SellerID: uuid.New(), UnitPrice: dec("50.00"), Qty: 1, SurchargeRate: dec("0.05")},
		},
		CommissionRate: dec("0.10"),
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if !result.CommissionTotal.Equal(dec("7.50")) {
		t.Fatalf("commission = %s, want 7.50", result.CommissionTotal)
	}
}

func TestCalculate_SellerEarningClampedAtZero(t *testing.T) {
	result, err := Calculate(Input{
		Lines: []LineInput{
			{ProductID: uuid.New(), SellerID: uuid.New(), UnitPrice: dec("10.00"), Qty: 1, SurchargeRate: dec("2.00")},
		},
		CommissionRate: dec("0.10"),
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if !result.SellerEarningTotal.Equal(dec("0.00")) {
		t.Fatalf("seller earning = %s, want 0", result.SellerEarningTotal)
	}
}

func TestCalculate_RejectsBadInput(t *testing.T) {
	cases := []struct {
		name  string
		input Input
	}{
		{"no lines", Input{CommissionRate: dec("0.10")}},
		{"rate above one", Input{
			Lines:          []LineInput{{UnitPrice: dec("1.00"), Qty: 1}},
			CommissionRate: dec("1.50"),
		}},
		{"negative rate", Input{
			Lines:          []LineInput{{UnitPrice: dec("1.00"), Qty: 1}},
			CommissionRate: dec("-0.10"),
		}},
		{"zero qty", Input{
			Lines:          []LineInput{{UnitPrice: dec("1.00"), Qty: 0}},
			CommissionRate: dec("0.10"),
		}},
		{"negative price", Input{
			Lines:          []LineInput{{UnitPrice: dec("-1.00"), Qty: 1}},
			CommissionRate: dec("0.10"),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Calculate(tc.input)
			if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestSplitBySeller(t *testing.T) {
	sellerA := uuid.New()
	sellerB := uuid.New()
	result, err := Calculate(Input{
		Lines: []LineInput{
			{ProductID: uuid.New(), SellerID: sellerA, UnitPrice: dec("30.00"), Qty: 1},
			{ProductID: uuid.New(), SellerID: sellerB, UnitPrice: dec("20.00"), Qty: 1},
			{ProductID: uuid.New(), SellerID: sellerA, UnitPrice: dec("10.00"), Qty: 2},
		},
		CommissionRate: dec("0.10"),
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	splits := SplitBySeller(result.Lines)
	if len(splits) != 2 {
		t.Fatalf("expected 2 splits, got %d", len(splits))
	}
	if splits[0].SellerID != sellerA {
		t.Fatalf("expected first-seen seller order")
	}
	if !splits[0].GrossAmount.Equal(dec("50.00")) {
		t.Fatalf("seller A gross = %s", splits[0].GrossAmount)
	}
	if !splits[0].NetAmount.Equal(splits[0].GrossAmount.Sub(splits[0].CommissionAmount)) {
		t.Fatalf("net != gross - commission")
	}
	if !splits[1].GrossAmount.Equal(dec("20.00")) {
		t.Fatalf("seller B gross = %s", splits[1].GrossAmount)
	}
}
