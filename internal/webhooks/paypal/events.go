package paypalwebhook

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/keymartlabs/keymart-backend/pkg/errors"
)

// Event is the PayPal webhook envelope. The resource payload is decoded per
// event type; unknown event types keep it raw and untouched.
type Event struct {
	ID         string          `json:"id"`
	EventType  string          `json:"event_type"`
	CreateTime time.Time       `json:"create_time"`
	Resource   json.RawMessage `json:"resource"`
}

// Handled event types. Everything else is acknowledged without processing.
const (
	eventCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
	eventCaptureRefunded  = "PAYMENT.CAPTURE.REFUNDED"
	eventCaptureReversed  = "PAYMENT.CAPTURE.REVERSED"
	eventDisputeCreated   = "CUSTOMER.DISPUTE.CREATED"
	eventPayoutSucceeded  = "PAYMENT.PAYOUTS-ITEM.SUCCEEDED"
	eventPayoutFailed     = "PAYMENT.PAYOUTS-ITEM.FAILED"
	eventPayoutBlocked    = "PAYMENT.PAYOUTS-ITEM.BLOCKED"
	eventPayoutReturned   = "PAYMENT.PAYOUTS-ITEM.RETURNED"
)

type amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

func (a amount) decimal() (decimal.Decimal, error) {
	if a.Value == "" {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "amount value missing")
	}
	value, err := decimal.NewFromString(a.Value)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parsing amount value")
	}
	return value, nil
}

// captureResource is a PAYMENT.CAPTURE.* resource.
type captureResource struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	Amount            amount `json:"amount"`
	InvoiceID         string `json:"invoice_id"`
	SupplementaryData *struct {
		RelatedIDs *struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
}

func (c captureResource) relatedOrderID() string {
	if c.SupplementaryData == nil || c.SupplementaryData.RelatedIDs == nil {
		return ""
	}
	return c.SupplementaryData.RelatedIDs.OrderID
}

// refundResource is a PAYMENT.CAPTURE.REFUNDED resource. The refunded
// capture is resolved through the up link.
type refundResource struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount amount `json:"amount"`
	Links  []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

// captureID extracts the capture identifier from the resource's up link
// (".../v2/payments/captures/<id>").
func (r refundResource) captureID() string {
	for _, link := range r.Links {
		if link.Rel != "up" {
			continue
		}
		parts := strings.Split(strings.TrimRight(link.Href, "/"), "/")
		if len(parts) > 0 {
			return parts[len(parts)-1]
		}
	}
	return ""
}

// disputeResource is a CUSTOMER.DISPUTE.* resource.
type disputeResource struct {
	DisputeID            string `json:"dispute_id"`
	Reason               string `json:"reason"`
	DisputedTransactions []struct {
		SellerTransactionID string `json:"seller_transaction_id"`
	} `json:"disputed_transactions"`
}

// payoutItemResource is a PAYMENT.PAYOUTS-ITEM.* resource. SenderItemID
// carries the escrow record id chosen at disbursement time.
type payoutItemResource struct {
	PayoutItemID      string `json:"payout_item_id"`
	TransactionStatus string `json:"transaction_status"`
	PayoutItem        struct {
		SenderItemID string `json:"sender_item_id"`
	} `json:"payout_item"`
	PayoutBatchID string `json:"payout_batch_id"`
	Errors        *struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"errors"`
}

// decodeResource unmarshals the envelope's resource into the per-type
// struct the handler expects.
func (e *Event) decodeResource(v any) error {
	if len(e.Resource) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "event resource missing")
	}
	if err := json.Unmarshal(e.Resource, v); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decoding event resource")
	}
	return nil
}
