package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	domain "github.com/shivaydv/vyomtics-sub001/internal/domain"
)

func webhookBody(event, processorOrderID, paymentID string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_%s_%s","event":%q,"payload":{"payment":{"entity":{"id":%q,"order_id":%q,"method":"card","error_code":"BAD_REQUEST_ERROR","error_description":"Payment <i>declined</i>"}}}}`,
		event, paymentID, event, paymentID, processorOrderID))
}

func TestConfirmClientPaymentVerified(t *testing.T) {
	f := newFixture(t)
	order := f.initiate(t, "user-1", []CheckoutItem{{ProductID: "ghee-500", Variant: "500g", UnitPrice: 400, Quantity: 2}}, "").Order

	result, err := f.reconcile.ConfirmClientPayment(context.Background(), ConfirmPaymentCommand{
		UserID:             "user-1",
		OrderID:            order.ID,
		ProcessorOrderID:   order.ProcessorOrderID,
		ProcessorPaymentID: "pay_1",
		Signature:          paymentSignature(order.ProcessorOrderID, "pay_1"),
	})
	if err != nil {
		t.Fatalf("ConfirmClientPayment: %v", err)
	}
	if !result.Verified || result.Outcome != OutcomeApplied || result.Order.PaymentStatus != domain.PaymentStatusSuccess {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Order.ProcessorPaymentID == nil || *result.Order.ProcessorPaymentID != "pay_1" {
		t.Fatalf("expected payment id stored, got %v", result.Order.ProcessorPaymentID)
	}
}

func TestConfirmClientPaymentBadSignatureFailsOrder(t *testing.T) {
	f := newFixture(t)
	order := f.initiate(t, "user-1", []CheckoutItem{{ProductID: "ghee-500", Variant: "500g", UnitPrice: 400, Quantity: 1}}, "").Order

	result, err := f.reconcile.ConfirmClientPayment(context.Background(), ConfirmPaymentCommand{
		UserID:             "user-1",
		OrderID:            order.ID,
		ProcessorOrderID:   order.ProcessorOrderID,
		ProcessorPaymentID: "pay_1",
		Signature:          paymentSignature("pay_1", order.ProcessorOrderID),
	})
	if err != nil {
		t.Fatalf("ConfirmClientPayment: %v", err)
	}
	if result.Verified || result.Order.PaymentStatus != domain.PaymentStatusFailed {
		t.Fatalf("expected failed unverified order, got %+v", result)
	}
	if result.Order.PaymentMetadata["failureReason"] != reasonSignatureFailed {
		t.Fatalf("unexpected failure metadata %+v", result.Order.PaymentMetadata)
	}
	if stock := f.stock(t, "ghee-500"); stock != 10 {
		t.Fatalf("stock must not change, got %d", stock)
	}
}

func TestConfirmClientPaymentOwnershipAndCorrelation(t *testing.T) {
	f := newFixture(t)
	order := f.initiate(t, "user-1", []CheckoutItem{{ProductID: "ghee-500", Variant: "500g", UnitPrice: 400, Quantity: 1}}, "").Order
	sig := paymentSignature(order.ProcessorOrderID, "pay_1")

	_, err := f.reconcile.ConfirmClientPayment(context.Background(), ConfirmPaymentCommand{
		UserID: "intruder", OrderID: order.ID, ProcessorOrderID: order.ProcessorOrderID, ProcessorPaymentID: "pay_1", Signature: sig,
	})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found for another user, got %v", err)
	}

	_, err = f.reconcile.ConfirmClientPayment(context.Background(), ConfirmPaymentCommand{
		UserID: "user-1", OrderID: order.ID, ProcessorOrderID: "pi_other", ProcessorPaymentID: "pay_1", Signature: paymentSignature("pi_other", "pay_1"),
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for mismatched processor order, got %v", err)
	}
	if stored := f.order(t, order.ID); !stored.IsAwaitingPayment() {
		t.Fatalf("order must be untouched, got %+v", stored)
	}
}

func TestConfirmClientPaymentInsufficientStockFallsBackToFailed(t *testing.T) {
	f := newFixture(t)
	order := f.initiate(t, "user-1", []CheckoutItem{{ProductID: "honey-250", Variant: "250g", UnitPrice: 150, Quantity: 5}}, "").Order
	f.store.PutProduct(domain.Product{ID: "honey-250", Name: "Raw Honey", Stock: 2, Variants: []domain.ProductVariant{{Label: "250g", Price: 150}}})

	_, err := f.reconcile.ConfirmClientPayment(context.Background(), ConfirmPaymentCommand{
		UserID:             "user-1",
		OrderID:            order.ID,
		ProcessorOrderID:   order.ProcessorOrderID,
		ProcessorPaymentID: "pay_1",
		Signature:          paymentSignature(order.ProcessorOrderID, "pay_1"),
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	stored := f.order(t, order.ID)
	if stored.PaymentStatus != domain.PaymentStatusFailed || stored.PaymentMetadata["failureReason"] != "insufficient_stock" {
		t.Fatalf("expected fallback failure, got %+v", stored)
	}
	if stored.PaymentMetadata["available"] != 2 {
		t.Fatalf("expected available stock recorded, got %+v", stored.PaymentMetadata)
	}
}

func TestConfirmClientPaymentRemovedProductFailsAsNotFound(t *testing.T) {
	f := newFixture(t)
	order := f.initiate(t, "user-1", []CheckoutItem{{ProductID: "honey-250", Variant: "250g", UnitPrice: 150, Quantity: 1}}, "").Order
	f.store.RemoveProduct("honey-250")

	_, err := f.reconcile.ConfirmClientPayment(context.Background(), ConfirmPaymentCommand{
		UserID:             "user-1",
		OrderID:            order.ID,
		ProcessorOrderID:   order.ProcessorOrderID,
		ProcessorPaymentID: "pay_1",
		Signature:          paymentSignature(order.ProcessorOrderID, "pay_1"),
	})
	var missingErr *ProductMissingError
	if !errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrInsufficientStock) || !errors.As(err, &missingErr) || missingErr.ProductID != "honey-250" {
		t.Fatalf("expected product not found, got %v", err)
	}
	stored := f.order(t, order.ID)
	if stored.PaymentStatus != domain.PaymentStatusFailed || stored.PaymentMetadata["failureReason"] != "product_missing" {
		t.Fatalf("expected fallback failure, got %+v", stored)
	}
	if stored.PaymentMetadata["productId"] != "honey-250" {
		t.Fatalf("expected product recorded, got %+v", stored.PaymentMetadata)
	}
}

func TestHandleWebhookRejectsInvalidSignature(t *testing.T) {
	f := newFixture(t)
	order := f.initiate(t, "user-1", []CheckoutItem{{ProductID: "ghee-500", Variant: "500g", UnitPrice: 400, Quantity: 1}}, "").Order
	body := webhookBody("payment.captured", order.ProcessorOrderID, "pay_1")

	_, err := f.reconcile.HandleWebhook(context.Background(), WebhookCommand{Body: body, Signature: paymentSignature(order.ProcessorOrderID, "pay_1")})
	if !errors.Is(err, ErrWebhookSignatureInvalid) {
		t.Fatalf("expected ErrWebhookSignatureInvalid, got %v", err)
	}
	if stored := f.order(t, order.ID); !stored.IsAwaitingPayment() {
		t.Fatalf("unverified webhook must not change the order, got %+v", stored)
	}
	if len(f.archive.eventIDs) != 0 {
		t.Fatal("unverified payloads are not archived")
	}
}

func TestHandleWebhookCapturedMarksPaidAndArchives(t *testing.T) {
	f := newFixture(t)
	order := f.initiate(t, "user-1", []CheckoutItem{{ProductID: "ghee-500", Variant: "500g", UnitPrice: 400, Quantity: 1}}, "").Order
	body := webhookBody("payment.captured", order.ProcessorOrderID, "pay_9")

	result, err := f.reconcile.HandleWebhook(context.Background(), WebhookCommand{Body: body, Signature: webhookSignature(body)})
	if err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if result.Outcome != OutcomeApplied || result.EventID != "evt_payment.captured_pay_9" {
		t.Fatalf("unexpected result %+v", result)
	}
	stored := f.order(t, order.ID)
	if stored.PaymentStatus != domain.PaymentStatusSuccess || stored.PaymentMethod == nil || *stored.PaymentMethod != "card" {
		t.Fatalf("unexpected stored order %+v", stored)
	}
	if len(f.archive.eventIDs) != 1 || f.archive.eventIDs[0] != result.EventID {
		t.Fatalf("expected payload archived, got %v", f.archive.eventIDs)
	}

	replay, err := f.reconcile.HandleWebhook(context.Background(), WebhookCommand{Body: body, Signature: webhookSignature(body)})
	if err != nil || replay.Outcome != OutcomeAlreadyApplied {
		t.Fatalf("expected replay to be a no-op, got %+v %v", replay, err)
	}
	if stock := f.stock(t, "ghee-500"); stock != 9 {
		t.Fatalf("expected single deduction, got %d", stock)
	}
}

func TestScenarioCFailedWebhookAfterClientSuccess(t *testing.T) {
	f := newFixture(t)
	order := f.initiate(t, "user-1", []CheckoutItem{{ProductID: "ghee-500", Variant: "500g", UnitPrice: 400, Quantity: 2}}, "SAVE10").Order
	if _, err := f.reconcile.ConfirmClientPayment(context.Background(), ConfirmPaymentCommand{
		UserID:             "user-1",
		OrderID:            order.ID,
		ProcessorOrderID:   order.ProcessorOrderID,
		ProcessorPaymentID: "pay_1",
		Signature:          paymentSignature(order.ProcessorOrderID, "pay_1"),
	}); err != nil {
		t.Fatalf("ConfirmClientPayment: %v", err)
	}
	before := f.order(t, order.ID)
	couponBefore, _ := f.store.Coupon("c-save10")

	body := webhookBody("payment.failed", order.ProcessorOrderID, "pay_1")
	result, err := f.reconcile.HandleWebhook(context.Background(), WebhookCommand{Body: body, Signature: webhookSignature(body)})
	if err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if result.Outcome != OutcomeRejected {
		t.Fatalf("expected rejection, got %s", result.Outcome)
	}
	after := f.order(t, order.ID)
	if after.PaymentStatus != domain.PaymentStatusSuccess || after.Status != before.Status || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("order must be unchanged, before %+v after %+v", before, after)
	}
	if stock := f.stock(t, "ghee-500"); stock != 8 {
		t.Fatalf("stock must stay at 8, got %d", stock)
	}
	if couponAfter, _ := f.store.Coupon("c-save10"); couponAfter.TotalUsed != couponBefore.TotalUsed {
		t.Fatalf("coupon ledger must not change, %d vs %d", couponAfter.TotalUsed, couponBefore.TotalUsed)
	}
}

func TestHandleWebhookFailureStoresSanitisedProcessorError(t *testing.T) {
	f := newFixture(t)
	order := f.initiate(t, "user-1", []CheckoutItem{{ProductID: "ghee-500", Variant: "500g", UnitPrice: 400, Quantity: 1}}, "").Order
	body := webhookBody("payment.failed", order.ProcessorOrderID, "pay_2")

	result, err := f.reconcile.HandleWebhook(context.Background(), WebhookCommand{Body: body, Signature: webhookSignature(body)})
	if err != nil || result.Outcome != OutcomeApplied {
		t.Fatalf("expected applied failure, got %+v %v", result, err)
	}
	meta := f.order(t, order.ID).PaymentMetadata
	if meta["failureReason"] != "Payment declined" || meta["errorCode"] != "BAD_REQUEST_ERROR" {
		t.Fatalf("unexpected metadata %+v", meta)
	}
}

func TestHandleWebhookIgnoresUnknownEvents(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"id":"evt_refund","event":"refund.processed","payload":{}}`)
	result, err := f.reconcile.HandleWebhook(context.Background(), WebhookCommand{Body: body, Signature: webhookSignature(body)})
	if err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if !result.Ignored || !f.logs.has("payments.webhook_ignored") {
		t.Fatalf("expected ignored event, got %+v", result)
	}
}

func TestHandleWebhookMalformedBody(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1"}}}}`)
	if _, err := f.reconcile.HandleWebhook(context.Background(), WebhookCommand{Body: body, Signature: webhookSignature(body)}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestHandleWebhookUnknownProcessorOrder(t *testing.T) {
	f := newFixture(t)
	body := webhookBody("payment.captured", "pi_unknown", "pay_1")
	_, err := f.reconcile.HandleWebhook(context.Background(), WebhookCommand{Body: body, Signature: webhookSignature(body)})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestHandleWebhookPaidWithoutPaymentLeavesOrderPending(t *testing.T) {
	f := newFixture(t)
	order := f.initiate(t, "user-1", []CheckoutItem{{ProductID: "ghee-500", Variant: "500g", UnitPrice: 400, Quantity: 1}}, "").Order
	body := []byte(fmt.Sprintf(`{"id":"evt_1","event":"order.paid","payload":{"order":{"entity":{"id":%q}}}}`, order.ProcessorOrderID))

	_, err := f.reconcile.HandleWebhook(context.Background(), WebhookCommand{Body: body, Signature: webhookSignature(body)})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if stored := f.order(t, order.ID); !stored.IsAwaitingPayment() {
		t.Fatalf("order must stay pending, got %+v", stored)
	}

	result, err := f.reconcile.ConfirmClientPayment(context.Background(), ConfirmPaymentCommand{
		UserID:             "user-1",
		OrderID:            order.ID,
		ProcessorOrderID:   order.ProcessorOrderID,
		ProcessorPaymentID: "pay_1",
		Signature:          paymentSignature(order.ProcessorOrderID, "pay_1"),
	})
	if err != nil || result.Outcome != OutcomeApplied || result.Order.PaymentStatus != domain.PaymentStatusSuccess {
		t.Fatalf("expected the later confirmation to apply, got %+v %v", result, err)
	}
}

func TestSuccessWithoutPaymentIDDoesNotFailOrder(t *testing.T) {
	f := newFixture(t)
	order := f.initiate(t, "user-1", []CheckoutItem{{ProductID: "ghee-500", Variant: "500g", UnitPrice: 400, Quantity: 1}}, "").Order
	svc := f.reconcile.(*reconciliationService)

	_, err := f.machine.MarkSucceeded(context.Background(), SuccessCommand{ProcessorOrderID: order.ProcessorOrderID, Source: sourceWebhook})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	svc.failAfterSuccessError(context.Background(), FailureCommand{ProcessorOrderID: order.ProcessorOrderID, Source: sourceWebhook}, err)

	if stored := f.order(t, order.ID); !stored.IsAwaitingPayment() {
		t.Fatalf("rejected input must not fail the order, got %+v", stored)
	}
}
