package domain

import "time"

// OrderEventType names messages published on the order events topic.
type OrderEventType string

const (
	OrderEventCreated                OrderEventType = "order.created"
	OrderEventPaid                   OrderEventType = "order.paid"
	OrderEventPaymentFailed          OrderEventType = "order.payment_failed"
	OrderEventAbandoned              OrderEventType = "order.abandoned"
	OrderEventReconciliationRequired OrderEventType = "order.reconciliation_required"
)

// OrderEvent is the payload published for each order lifecycle change.
type OrderEvent struct {
	ID            string         `json:"id"`
	Type          OrderEventType `json:"type"`
	OrderID       string         `json:"orderId"`
	OrderNumber   string         `json:"orderNumber"`
	UserID        string         `json:"userId"`
	Status        OrderStatus    `json:"status"`
	PaymentStatus PaymentStatus  `json:"paymentStatus"`
	Total         int64          `json:"total"`
	Currency      string         `json:"currency"`
	Reason        string         `json:"reason,omitempty"`
	Source        string         `json:"source,omitempty"`
	OccurredAt    time.Time      `json:"occurredAt"`
}
