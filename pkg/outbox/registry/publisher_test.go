package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/keymartlabs/keymart-backend/pkg/config"
	"github.com/keymartlabs/keymart-backend/pkg/db/models"
	"github.com/keymartlabs/keymart-backend/pkg/enums"
	"github.com/keymartlabs/keymart-backend/pkg/outbox"
	"github.com/keymartlabs/keymart-backend/pkg/outbox/payloads"
)

func testRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{
		SettlementTopic:   "km-settlement-events",
		NotificationTopic: "km-notification-events",
	})
	if err != nil {
		t.Fatalf("NewEventRegistry: %v", err)
	}
	return reg
}

func envelopeJSON(t *testing.T, data interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	env := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now(),
		Data:       raw,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

func TestResolve_PayoutReleased(t *testing.T) {
	reg := testRegistry(t)
	escrowID := uuid.New()
	row := models.OutboxEvent{
		EventType:     enums.EventPayoutReleased,
		AggregateType: enums.AggregatePayout,
		AggregateID:   escrowID,
		Payload: envelopeJSON(t, payloads.PayoutReleasedEvent{
			EscrowID:            escrowID,
			OrderID:             uuid.New(),
			SellerID:            uuid.New(),
			DisbursementBatchID: "batch-1",
		}),
	}

	resolved, err := reg.Resolve(row)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Descriptor.Topic != "km-settlement-events" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}
	payload, ok := resolved.Payload.(*payloads.PayoutReleasedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.EscrowID != escrowID {
		t.Fatalf("unexpected escrow id %s", payload.EscrowID)
	}
}

func TestResolve_LowStockRoutesToNotificationTopic(t *testing.T) {
	reg := testRegistry(t)
	row := models.OutboxEvent{
		EventType:     enums.EventInventoryLowStock,
		AggregateType: enums.AggregateProduct,
		AggregateID:   uuid.New(),
		Payload: envelopeJSON(t, payloads.InventoryLowStockEvent{
			ProductID: uuid.New(),
			SellerID:  uuid.New(),
			Available: 3,
			Threshold: 5,
		}),
	}

	resolved, err := reg.Resolve(row)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Descriptor.Topic != "km-notification-events" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}
}

func TestResolve_UnsupportedEventType(t *testing.T) {
	reg := testRegistry(t)
	row := models.OutboxEvent{
		EventType:     enums.OutboxEventType("order.shipped"),
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       envelopeJSON(t, map[string]string{}),
	}

	_, err := reg.Resolve(row)
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected NonRetryableError, got %v", err)
	}
}

func TestResolve_AggregateMismatch(t *testing.T) {
	reg := testRegistry(t)
	row := models.OutboxEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregatePayout,
		AggregateID:   uuid.New(),
		Payload:       envelopeJSON(t, payloads.OrderPaidEvent{}),
	}

	_, err := reg.Resolve(row)
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected NonRetryableError, got %v", err)
	}
}

func TestResolve_EmptyPayload(t *testing.T) {
	reg := testRegistry(t)
	env, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now(),
		Data:       json.RawMessage("null"),
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	row := models.OutboxEvent{
		EventType:     enums.EventRefundCompleted,
		AggregateType: enums.AggregateRefund,
		AggregateID:   uuid.New(),
		Payload:       env,
	}

	_, err = reg.Resolve(row)
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected NonRetryableError, got %v", err)
	}
}
