package payments

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
)

// ErrMalformedWebhook is returned when a verified webhook body cannot be decoded.
var ErrMalformedWebhook = errors.New("payments: malformed webhook payload")

// WebhookKind classifies a webhook by the order transition it requests.
type WebhookKind string

const (
	// WebhookPaymentSucceeded requests the success transition.
	WebhookPaymentSucceeded WebhookKind = "payment_succeeded"
	// WebhookPaymentFailed requests the failure transition.
	WebhookPaymentFailed WebhookKind = "payment_failed"
	// WebhookIgnored carries an event type that does not affect orders.
	WebhookIgnored WebhookKind = "ignored"
)

// Webhook event types recognised by ParseWebhookEvent.
const (
	EventPaymentCaptured     = "payment.captured"
	EventOrderPaid           = "order.paid"
	EventPaymentFailed       = "payment.failed"
	EventIntentSucceeded     = "payment_intent.succeeded"
	EventIntentPaymentFailed = "payment_intent.payment_failed"
)

// WebhookEvent is the processor-neutral view of a payment webhook.
type WebhookEvent struct {
	ID               string
	Type             string
	Kind             WebhookKind
	ProcessorOrderID string
	PaymentID        string
	Method           string
	Amount           int64
	Currency         string
	ErrorCode        string
	ErrorDescription string
	CreatedAt        time.Time
}

// FailureContext returns the processor error details suitable for order payment metadata.
func (e WebhookEvent) FailureContext() map[string]any {
	out := map[string]any{"webhookEvent": e.Type}
	if e.ID != "" {
		out["webhookEventId"] = e.ID
	}
	if e.PaymentID != "" {
		out["paymentId"] = e.PaymentID
	}
	if e.ErrorCode != "" {
		out["errorCode"] = e.ErrorCode
	}
	if e.ErrorDescription != "" {
		out["errorDescription"] = e.ErrorDescription
	}
	return out
}

type envelope struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Type      string          `json:"type"`
	CreatedAt int64           `json:"created_at"`
	Payload   envelopePayload `json:"payload"`
}

type envelopePayload struct {
	Payment *struct {
		Entity paymentEntity `json:"entity"`
	} `json:"payment"`
	Order *struct {
		Entity struct {
			ID string `json:"id"`
		} `json:"entity"`
	} `json:"order"`
}

type paymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Method           string `json:"method"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
	CreatedAt        int64  `json:"created_at"`
}

// ParseWebhookEvent decodes a verified webhook body. Both the payment/order entity envelope and
// Stripe PaymentIntent events are understood. Success events must name the captured payment. Bodies without an event id get a stable id derived
// from their content so archives and logs stay addressable.
func ParseWebhookEvent(body []byte) (WebhookEvent, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}

	var (
		event WebhookEvent
		err   error
	)
	switch {
	case env.Event != "":
		event = parseEntityEnvelope(env)
	case env.Type != "":
		event, err = parseStripeEvent(body)
	default:
		return WebhookEvent{}, fmt.Errorf("%w: missing event type", ErrMalformedWebhook)
	}
	if err != nil {
		return WebhookEvent{}, err
	}
	if event.ID == "" {
		sum := sha256.Sum256(body)
		event.ID = "wh_" + hex.EncodeToString(sum[:12])
	}
	if event.Kind != WebhookIgnored && event.ProcessorOrderID == "" {
		return WebhookEvent{}, fmt.Errorf("%w: %s without processor order id", ErrMalformedWebhook, event.Type)
	}
	// A success without the captured payment cannot be recorded; the order is left for the client
	// confirmation or a later complete delivery.
	if event.Kind == WebhookPaymentSucceeded && strings.TrimSpace(event.PaymentID) == "" {
		return WebhookEvent{}, fmt.Errorf("%w: %s without payment id", ErrMalformedWebhook, event.Type)
	}
	return event, nil
}

func parseEntityEnvelope(env envelope) WebhookEvent {
	event := WebhookEvent{ID: strings.TrimSpace(env.ID), Type: env.Event, Kind: kindFor(env.Event)}
	if env.CreatedAt > 0 {
		event.CreatedAt = time.Unix(env.CreatedAt, 0).UTC()
	}
	if env.Payload.Payment != nil {
		p := env.Payload.Payment.Entity
		event.PaymentID = p.ID
		event.ProcessorOrderID = p.OrderID
		event.Method = p.Method
		event.Amount = p.Amount
		event.Currency = strings.ToUpper(p.Currency)
		event.ErrorCode = p.ErrorCode
		event.ErrorDescription = p.ErrorDescription
	}
	if event.ProcessorOrderID == "" && env.Payload.Order != nil {
		event.ProcessorOrderID = env.Payload.Order.Entity.ID
	}
	return event
}

func parseStripeEvent(body []byte) (WebhookEvent, error) {
	var evt stripe.Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	event := WebhookEvent{ID: evt.ID, Type: string(evt.Type), Kind: kindFor(string(evt.Type))}
	if evt.Created > 0 {
		event.CreatedAt = time.Unix(evt.Created, 0).UTC()
	}
	if event.Kind == WebhookIgnored {
		return event, nil
	}
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return WebhookEvent{}, fmt.Errorf("%w: %s without data object", ErrMalformedWebhook, evt.Type)
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: decode payment intent: %v", ErrMalformedWebhook, err)
	}
	event.ProcessorOrderID = intent.ID
	event.Amount = intent.Amount
	event.Currency = strings.ToUpper(string(intent.Currency))
	event.PaymentID = intent.ID
	if intent.LatestCharge != nil && intent.LatestCharge.ID != "" {
		event.PaymentID = intent.LatestCharge.ID
	}
	if len(intent.PaymentMethodTypes) > 0 {
		event.Method = intent.PaymentMethodTypes[0]
	}
	if perr := intent.LastPaymentError; perr != nil {
		event.ErrorCode = string(perr.Code)
		event.ErrorDescription = perr.Msg
	}
	return event, nil
}

func kindFor(eventType string) WebhookKind {
	switch eventType {
	case EventPaymentCaptured, EventOrderPaid, EventIntentSucceeded:
		return WebhookPaymentSucceeded
	case EventPaymentFailed, EventIntentPaymentFailed:
		return WebhookPaymentFailed
	default:
		return WebhookIgnored
	}
}
