package payments

import (
	"errors"
	"strings"
	"testing"
)

func TestParseWebhookEventEntityEnvelope(t *testing.T) {
	body := []byte(`{
		"id": "evt_100",
		"event": "payment.captured",
		"created_at": 1700000000,
		"payload": {"payment": {"entity": {"id": "pay_1", "order_id": "order_9", "method": "upi", "amount": 80000, "currency": "inr"}}}
	}`)
	event, err := ParseWebhookEvent(body)
	if err != nil {
		t.Fatalf("ParseWebhookEvent: %v", err)
	}
	if event.Kind != WebhookPaymentSucceeded || event.ProcessorOrderID != "order_9" || event.PaymentID != "pay_1" {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.Method != "upi" || event.Currency != "INR" || event.Amount != 80000 {
		t.Fatalf("unexpected payment details %+v", event)
	}
	if event.CreatedAt.Unix() != 1700000000 {
		t.Fatalf("unexpected created at %s", event.CreatedAt)
	}
}

func TestParseWebhookEventFailureCarriesErrorContext(t *testing.T) {
	body := []byte(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_2","order_id":"order_3","error_code":"BAD_REQUEST_ERROR","error_description":"card declined"}}}}`)
	event, err := ParseWebhookEvent(body)
	if err != nil {
		t.Fatalf("ParseWebhookEvent: %v", err)
	}
	if event.Kind != WebhookPaymentFailed {
		t.Fatalf("expected failure kind, got %s", event.Kind)
	}
	if !strings.HasPrefix(event.ID, "wh_") {
		t.Fatalf("expected derived id, got %q", event.ID)
	}
	again, _ := ParseWebhookEvent(body)
	if again.ID != event.ID {
		t.Fatalf("derived id must be stable: %s vs %s", again.ID, event.ID)
	}
	ctx := event.FailureContext()
	if ctx["errorCode"] != "BAD_REQUEST_ERROR" || ctx["errorDescription"] != "card declined" || ctx["paymentId"] != "pay_2" {
		t.Fatalf("unexpected failure context %+v", ctx)
	}
}

func TestParseWebhookEventOrderPaidUsesOrderEntity(t *testing.T) {
	body := []byte(`{"event":"order.paid","payload":{"payment":{"entity":{"id":"pay_7"}},"order":{"entity":{"id":"order_5"}}}}`)
	event, err := ParseWebhookEvent(body)
	if err != nil {
		t.Fatalf("ParseWebhookEvent: %v", err)
	}
	if event.Kind != WebhookPaymentSucceeded || event.ProcessorOrderID != "order_5" || event.PaymentID != "pay_7" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestParseWebhookEventStripeIntent(t *testing.T) {
	body := []byte(`{
		"id": "evt_stripe",
		"object": "event",
		"type": "payment_intent.payment_failed",
		"created": 1700000100,
		"data": {"object": {
			"id": "pi_123",
			"object": "payment_intent",
			"amount": 32000,
			"currency": "inr",
			"latest_charge": "ch_9",
			"payment_method_types": ["card"],
			"last_payment_error": {"code": "card_declined", "message": "Your card was declined."}
		}}
	}`)
	event, err := ParseWebhookEvent(body)
	if err != nil {
		t.Fatalf("ParseWebhookEvent: %v", err)
	}
	if event.ID != "evt_stripe" || event.Kind != WebhookPaymentFailed {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.ProcessorOrderID != "pi_123" || event.PaymentID != "ch_9" || event.Method != "card" {
		t.Fatalf("unexpected intent mapping %+v", event)
	}
	if event.ErrorCode != "card_declined" || event.ErrorDescription != "Your card was declined." {
		t.Fatalf("unexpected error mapping %+v", event)
	}
}

func TestParseWebhookEventIgnoresUnknownTypes(t *testing.T) {
	event, err := ParseWebhookEvent([]byte(`{"event":"refund.created","payload":{}}`))
	if err != nil {
		t.Fatalf("ParseWebhookEvent: %v", err)
	}
	if event.Kind != WebhookIgnored {
		t.Fatalf("expected ignored, got %s", event.Kind)
	}
}

func TestParseWebhookEventRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":             `{"event":`,
		"no type":              `{"payload":{}}`,
		"no order id":          `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1"}}}}`,
		"paid without payment": `{"event":"order.paid","payload":{"order":{"entity":{"id":"order_5"}}}}`,
		"stripe no data":       `{"id":"evt_1","type":"payment_intent.succeeded"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseWebhookEvent([]byte(body)); !errors.Is(err, ErrMalformedWebhook) {
				t.Fatalf("expected ErrMalformedWebhook, got %v", err)
			}
		})
	}
}
