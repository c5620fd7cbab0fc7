package enums

// OutboxEventType identifies domain events written to the outbox.
type OutboxEventType string

const (
	EventOrderPaid         OutboxEventType = "order.paid"
	EventOrderReconciled   OutboxEventType = "order.reconciled"
	EventPayoutScheduled   OutboxEventType = "payout.scheduled"
	EventPayoutReleased    OutboxEventType = "payout.released"
	EventPayoutBlocked     OutboxEventType = "payout.blocked"
	EventPayoutFailed      OutboxEventType = "payout.failed"
	EventRefundRequested   OutboxEventType = "refund.requested"
	EventRefundCompleted   OutboxEventType = "refund.completed"
	EventRefundOnHold      OutboxEventType = "refund.on_hold"
	EventRefundRejected    OutboxEventType = "refund.rejected"
	EventInventoryLowStock OutboxEventType = "inventory.low_stock"
)

// OutboxAggregateType identifies the entity an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder   OutboxAggregateType = "order"
	AggregatePayout  OutboxAggregateType = "payout"
	AggregateRefund  OutboxAggregateType = "refund"
	AggregateProduct OutboxAggregateType = "product"
)
