package paypal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/plutov/paypal/v4"
	"github.com/shopspring/decimal"

	"github.com/keymartlabs/keymart-backend/pkg/config"
	"github.com/keymartlabs/keymart-backend/pkg/logger"
)

// Processor status strings returned by the orders and payouts APIs.
const (
	OrderStatusApproved  = "APPROVED"
	OrderStatusCompleted = "COMPLETED"
	CaptureCompleted     = "COMPLETED"
)

// OrderDetails is the subset of a processor order the settlement flow reads.
// CaptureID is set when the order already carries a capture, which is how a
// retried checkout discovers that an earlier capture attempt landed.
type OrderDetails struct {
	ID        string
	Status    string
	Amount    decimal.Decimal
	Currency  string
	CaptureID string
}

// CaptureResult reports the outcome of capturing an approved order.
type CaptureResult struct {
	OrderID   string
	CaptureID string
	Status    string
	Amount    decimal.Decimal
	Currency  string
}

// PayoutRequest describes a single-item disbursement batch. BatchID is
// caller-chosen and acts as the processor-side idempotency key.
type PayoutRequest struct {
	BatchID  string
	ItemID   string
	Receiver string
	Amount   decimal.Decimal
	Currency string
	Note     string
}

// PayoutResult carries the processor identifiers of a submitted batch.
type PayoutResult struct {
	BatchID     string
	BatchStatus string
	ItemID      string
}

// Client wraps the PayPal REST client with settlement-shaped operations.
type Client struct {
	pp  *paypal.Client
	cfg config.PayPalConfig
}

// New builds an authenticated client against the configured environment.
func New(ctx context.Context, cfg config.PayPalConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errors.New("paypal credentials are required")
	}
	base := paypal.APIBaseSandBox
	if strings.EqualFold(cfg.Env, "live") {
		base = paypal.APIBaseLive
	}
	pp, err := paypal.NewClient(cfg.ClientID, cfg.ClientSecret, base)
	if err != nil {
		return nil, fmt.Errorf("creating paypal client: %w", err)
	}
	if _, err := pp.GetAccessToken(ctx); err != nil {
		return nil, fmt.Errorf("paypal access token: %w", err)
	}
	if logg != nil {
		logg.Info(ctx, "paypal client initialized")
	}
	return &Client{pp: pp, cfg: cfg}, nil
}

// GetOrder fetches the current processor-side state of an order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*OrderDetails, error) {
	order, err := c.pp.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	details := &OrderDetails{ID: order.ID, Status: order.Status}
	if len(order.PurchaseUnits) > 0 {
		unit := order.PurchaseUnits[0]
		if unit.Amount != nil {
			amt, err := decimal.NewFromString(unit.Amount.Value)
			if err != nil {
				return nil, fmt.Errorf("parse order amount %q: %w", unit.Amount.Value, err)
			}
			details.Amount = amt
			details.Currency = unit.Amount.Currency
		}
		if unit.Payments != nil && len(unit.Payments.Captures) > 0 {
			captured := unit.Payments.Captures[0]
			details.CaptureID = captured.ID
			if captured.Amount != nil {
				amt, err := decimal.NewFromString(captured.Amount.Value)
				if err != nil {
					return nil, fmt.Errorf("parse capture amount %q: %w", captured.Amount.Value, err)
				}
				details.Amount = amt
				details.Currency = captured.Amount.Currency
			}
		}
	}
	return details, nil
}

// CaptureOrder captures an approved order and returns the capture identifiers.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*CaptureResult, error) {
	capture, err := c.pp.CaptureOrder(ctx, orderID, paypal.CaptureOrderRequest{})
	if err != nil {
		return nil, fmt.Errorf("capture order %s: %w", orderID, err)
	}
	result := &CaptureResult{OrderID: capture.ID, Status: capture.Status}
	for _, unit := range capture.PurchaseUnits {
		if unit.Payments == nil || len(unit.Payments.Captures) == 0 {
			continue
		}
		captured := unit.Payments.Captures[0]
		result.CaptureID = captured.ID
		if captured.Amount != nil {
			amt, err := decimal.NewFromString(captured.Amount.Value)
			if err != nil {
				return nil, fmt.Errorf("parse capture amount %q: %w", captured.Amount.Value, err)
			}
			result.Amount = amt
			result.Currency = captured.Amount.Currency
		}
		break
	}
	return result, nil
}

// SendPayout submits a single-item payout batch.
func (c *Client) SendPayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	if strings.TrimSpace(req.BatchID) == "" {
		return nil, errors.New("payout batch id is required")
	}
	if strings.TrimSpace(req.Receiver) == "" {
		return nil, errors.New("payout receiver is required")
	}
	payout := paypal.Payout{
		SenderBatchHeader: &paypal.SenderBatchHeader{
			SenderBatchID: req.BatchID,
			EmailSubject:  "You have a payout",
		},
		Items: []paypal.PayoutItem{
			{
				RecipientType: "EMAIL",
				Receiver:      req.Receiver,
				Amount: &paypal.AmountPayout{
					Currency: req.Currency,
					Value:    req.Amount.StringFixed(2),
				},
				Note:         req.Note,
				SenderItemID: req.ItemID,
			},
		},
	}
	resp, err := c.pp.CreatePayout(ctx, payout)
	if err != nil {
		return nil, fmt.Errorf("create payout %s: %w", req.BatchID, err)
	}
	result := &PayoutResult{}
	if resp.BatchHeader != nil {
		result.BatchID = resp.BatchHeader.PayoutBatchID
		result.BatchStatus = resp.BatchHeader.BatchStatus
	}
	if len(resp.Items) > 0 {
		result.ItemID = resp.Items[0].PayoutItemID
	}
	return result, nil
}

// RefundCapture asks the processor to return money to the original payment
// method. Partial amounts are supported.
func (c *Client) RefundCapture(ctx context.Context, captureID string, amount decimal.Decimal, currency string) (string, error) {
	if strings.TrimSpace(captureID) == "" {
		return "", errors.New("capture id is required")
	}
	resp, err := c.pp.RefundCapture(ctx, captureID, paypal.RefundCaptureRequest{
		Amount: &paypal.Money{
			Currency: currency,
			Value:    amount.StringFixed(2),
		},
	})
	if err != nil {
		return "", fmt.Errorf("refund capture %s: %w", captureID, err)
	}
	return resp.ID, nil
}

// VerifyWebhookSignature checks the transmission headers of an incoming
// webhook request against the configured webhook id.
func (c *Client) VerifyWebhookSignature(ctx context.Context, req *http.Request) (bool, error) {
	if strings.TrimSpace(c.cfg.WebhookID) == "" {
		return false, errors.New("paypal webhook id not configured")
	}
	resp, err := c.pp.VerifyWebhookSignature(ctx, req, c.cfg.WebhookID)
	if err != nil {
		return false, fmt.Errorf("verify webhook signature: %w", err)
	}
	return strings.EqualFold(resp.VerificationStatus, "SUCCESS"), nil
}
