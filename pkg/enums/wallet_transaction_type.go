package enums

import "fmt"

// WalletTransactionType classifies append-only money movements.
type WalletTransactionType string

const (
	WalletTransactionTypePayment        WalletTransactionType = "payment"
	WalletTransactionTypeWalletDebit    WalletTransactionType = "wallet_debit"
	WalletTransactionTypeRefundCredit   WalletTransactionType = "refund_credit"
	WalletTransactionTypePayoutReversal WalletTransactionType = "payout_reversal"
	WalletTransactionTypeAdjustment     WalletTransactionType = "adjustment"
)

var validWalletTransactionTypes = []WalletTransactionType{
	WalletTransactionTypePayment,
	WalletTransactionTypeWalletDebit,
	WalletTransactionTypeRefundCredit,
	WalletTransactionTypePayoutReversal,
	WalletTransactionTypeAdjustment,
}

// String implements fmt.Stringer.
func (w WalletTransactionType) String() string {
	return string(w)
}

// IsValid reports whether the value is a known WalletTransactionType.
func (w WalletTransactionType) IsValid() bool {
	for _, candidate := range validWalletTransactionTypes {
		if candidate == w {
			return true
		}
	}
	return false
}

// ParseWalletTransactionType converts raw input into a WalletTransactionType.
func ParseWalletTransactionType(value string) (WalletTransactionType, error) {
	for _, candidate := range validWalletTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid wallet transaction type %q", value)
}
