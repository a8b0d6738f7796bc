package services

import (
	"context"
	"time"

	domain "github.com/shivaydv/vyomtics-sub001/internal/domain"
	"github.com/shivaydv/vyomtics-sub001/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order            = domain.Order
	OrderItem        = domain.OrderItem
	OrderTotals      = domain.OrderTotals
	OrderStatus      = domain.OrderStatus
	PaymentStatus    = domain.PaymentStatus
	PricingBreakdown = domain.PricingBreakdown
	OrderEvent       = domain.OrderEvent
)

// Logger is the structured logging adapter injected into services.
type Logger func(ctx context.Context, event string, fields map[string]any)

// OrderNumberAllocator produces human-readable, collision-free order numbers.
type OrderNumberAllocator interface {
	Allocate(ctx context.Context) (string, error)
}

// CheckoutService prices a cart, opens the processor order and persists the pending order.
type CheckoutService interface {
	Initiate(ctx context.Context, cmd InitiateCheckoutCommand) (CheckoutResult, error)
}

// OrderStateMachine applies the guarded payment transitions of an order.
type OrderStateMachine interface {
	MarkSucceeded(ctx context.Context, cmd SuccessCommand) (TransitionResult, error)
	MarkFailed(ctx context.Context, cmd FailureCommand) (TransitionResult, error)
	Abandon(ctx context.Context, cmd AbandonCommand) (Order, error)
}

// ReconciliationService is the entry point for payment outcomes reported by the client or the processor.
type ReconciliationService interface {
	ConfirmClientPayment(ctx context.Context, cmd ConfirmPaymentCommand) (ConfirmPaymentResult, error)
	HandleWebhook(ctx context.Context, cmd WebhookCommand) (WebhookResult, error)
}

// OrderQueryService serves read-only order views.
type OrderQueryService interface {
	GetOrder(ctx context.Context, userID, orderID string) (Order, error)
	ListStalePending(ctx context.Context, query StaleOrdersQuery) (domain.CursorPage[Order], error)
}

// OrderEventPublisher delivers order lifecycle events to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error)
}

// ViewInvalidator asks caches and rendered views to refresh the given paths.
type ViewInvalidator interface {
	InvalidateViews(ctx context.Context, paths []string) error
}

// SignatureVerifier checks processor signatures.
type SignatureVerifier interface {
	VerifyPayment(processorOrderID, paymentID, signature string) bool
	VerifyWebhook(body []byte, signature string) bool
}

// WebhookArchiver stores raw webhook payloads for audit and replay.
type WebhookArchiver interface {
	ArchiveWebhook(ctx context.Context, provider, eventID string, payload []byte, verified bool) (string, error)
}

// PaymentProcessor opens processor-side payment orders.
type PaymentProcessor = payments.Processor

// CheckoutItem is a cart line as submitted by the client.
type CheckoutItem struct {
	ProductID string
	Variant   string
	UnitPrice int64
	Quantity  int
}

// InitiateCheckoutCommand starts a checkout for the authenticated user.
type InitiateCheckoutCommand struct {
	UserID     string
	Items      []CheckoutItem
	CouponCode string
	Currency   string
}

// CheckoutResult returns the pending order and what the client needs to pay it.
type CheckoutResult struct {
	Order            Order
	Pricing          PricingBreakdown
	ProcessorOrderID string
	Provider         string
	ClientSecret     string
}

// TransitionOutcome reports what a state machine call did.
type TransitionOutcome string

const (
	// OutcomeApplied means the transition was newly applied.
	OutcomeApplied TransitionOutcome = "applied"
	// OutcomeAlreadyApplied means the order already was in the requested terminal state.
	OutcomeAlreadyApplied TransitionOutcome = "already_applied"
	// OutcomeRejected means the order is in the opposite terminal state; nothing was written.
	OutcomeRejected TransitionOutcome = "rejected"
)

// TransitionResult carries the outcome and the order as persisted afterwards.
type TransitionResult struct {
	Outcome TransitionOutcome
	Order   Order
}

// SuccessCommand records a verified capture. Exactly one of OrderID and ProcessorOrderID identifies the order.
type SuccessCommand struct {
	OrderID          string
	ProcessorOrderID string
	PaymentID        string
	Method           string
	Metadata         map[string]any
	Source           string
}

// FailureCommand records a failed or unverifiable payment.
type FailureCommand struct {
	OrderID          string
	ProcessorOrderID string
	Reason           string
	Metadata         map[string]any
	Source           string
}

// AbandonCommand deletes a never-paid order on behalf of its owner.
type AbandonCommand struct {
	OrderID string
	UserID  string
}

// ConfirmPaymentCommand carries the client's post-payment confirmation.
type ConfirmPaymentCommand struct {
	UserID             string
	OrderID            string
	ProcessorOrderID   string
	ProcessorPaymentID string
	Signature          string
}

// ConfirmPaymentResult reports the reconciled order and whether the signature verified.
type ConfirmPaymentResult struct {
	Order    Order
	Outcome  TransitionOutcome
	Verified bool
}

// WebhookCommand carries a raw processor webhook.
type WebhookCommand struct {
	Body      []byte
	Signature string
}

// WebhookResult summarises how a webhook was handled.
type WebhookResult struct {
	EventID string
	Type    string
	Outcome TransitionOutcome
	Ignored bool
}

// StaleOrdersQuery lists orders still awaiting payment.
type StaleOrdersQuery struct {
	OlderThan time.Duration
	PageSize  int
	PageToken string
}
