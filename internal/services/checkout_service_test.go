package services

import (
	"context"
	"errors"
	"reflect"
	"testing"

	domain "github.com/shivaydv/vyomtics-sub001/internal/domain"
)

func TestCheckoutScenarioAFreeShipping(t *testing.T) {
	f := newFixture(t)
	result := f.initiate(t, "user-1", []CheckoutItem{{ProductID: "ghee-500", Variant: "500g", UnitPrice: 400, Quantity: 2}}, "")

	order := result.Order
	if order.Totals != (domain.OrderTotals{Subtotal: 800, Discount: 0, Shipping: 0, Total: 800}) {
		t.Fatalf("unexpected totals %+v", order.Totals)
	}
	if order.OrderNumber != "ORD-20250301-001" || !order.IsAwaitingPayment() {
		t.Fatalf("unexpected order %+v", order)
	}
	if result.ProcessorOrderID != "pi_1" || order.ProcessorOrderID != "pi_1" || result.ClientSecret == "" {
		t.Fatalf("unexpected processor wiring %+v", result)
	}

	req := f.processor.requests[0]
	if req.Amount != 800 || req.Currency != "INR" || req.Receipt != "ORD-20250301-001" {
		t.Fatalf("unexpected processor request %+v", req)
	}
	wantMeta := map[string]string{"orderId": order.ID, "orderNumber": order.OrderNumber, "userId": "user-1"}
	if !reflect.DeepEqual(req.Metadata, wantMeta) {
		t.Fatalf("unexpected processor metadata %+v", req.Metadata)
	}
	if req.IdempotencyKey != "checkout:"+order.ID {
		t.Fatalf("unexpected idempotency key %q", req.IdempotencyKey)
	}
	if got := f.events.types(); len(got) != 1 || got[0] != domain.OrderEventCreated {
		t.Fatalf("expected order.created, got %v", got)
	}

	paid, err := f.machine.MarkSucceeded(context.Background(), SuccessCommand{OrderID: order.ID, PaymentID: "pay_1"})
	if err != nil {
		t.Fatalf("MarkSucceeded: %v", err)
	}
	if paid.Outcome != OutcomeApplied || paid.Order.Status != domain.OrderStatusProcessing {
		t.Fatalf("unexpected transition %+v", paid)
	}
	if stock := f.stock(t, "ghee-500"); stock != 8 {
		t.Fatalf("expected stock 8, got %d", stock)
	}
	if coupon, _ := f.store.Coupon("c-save10"); coupon.TotalUsed != 0 {
		t.Fatalf("coupon ledger must stay untouched, got %d", coupon.TotalUsed)
	}
}

func TestCheckoutScenarioBCouponBelowThreshold(t *testing.T) {
	f := newFixture(t)
	result := f.initiate(t, "user-1", []CheckoutItem{{ProductID: "honey-250", Variant: "250g", UnitPrice: 150, Quantity: 2}}, " save10 ")

	want := domain.OrderTotals{Subtotal: 300, Discount: 30, Shipping: 50, Total: 320}
	if result.Order.Totals != want {
		t.Fatalf("expected %+v, got %+v", want, result.Order.Totals)
	}
	if result.Order.CouponCode == nil || *result.Order.CouponCode != "SAVE10" {
		t.Fatalf("expected normalised coupon code, got %v", result.Order.CouponCode)
	}
	if result.Pricing.Coupon == nil || result.Pricing.Coupon.Amount != 30 {
		t.Fatalf("unexpected pricing %+v", result.Pricing)
	}

	if _, err := f.machine.MarkSucceeded(context.Background(), SuccessCommand{OrderID: result.Order.ID, PaymentID: "pay_1"}); err != nil {
		t.Fatalf("MarkSucceeded: %v", err)
	}
	coupon, _ := f.store.Coupon("c-save10")
	usage, ok := f.store.Usage("c-save10", "user-1")
	if coupon.TotalUsed != 1 || !ok || usage.UsedCount != 1 {
		t.Fatalf("expected one redemption, got total=%d usage=%+v", coupon.TotalUsed, usage)
	}
}

func TestCheckoutRejectsBusinessRuleViolationsWithoutPersisting(t *testing.T) {
	cases := map[string]struct {
		items  []CheckoutItem
		coupon string
		is     error
	}{
		"price mismatch": {
			items: []CheckoutItem{{ProductID: "ghee-500", Variant: "500g", UnitPrice: 350, Quantity: 1}},
			is:    ErrPriceMismatch,
		},
		"aggregated quantity exceeds stock": {
			items: []CheckoutItem{
				{ProductID: "honey-250", Variant: "250g", UnitPrice: 150, Quantity: 3},
				{ProductID: "honey-250", Variant: "250g", UnitPrice: 150, Quantity: 3},
			},
			is: ErrInsufficientStock,
		},
		"unknown product": {
			items: []CheckoutItem{{ProductID: "missing", Variant: "1kg", UnitPrice: 10, Quantity: 1}},
			is:    ErrOrderNotFound,
		},
		"unknown variant": {
			items: []CheckoutItem{{ProductID: "ghee-500", Variant: "1kg", UnitPrice: 400, Quantity: 1}},
			is:    ErrOrderNotFound,
		},
		"unknown coupon": {
			items:  []CheckoutItem{{ProductID: "ghee-500", Variant: "500g", UnitPrice: 400, Quantity: 1}},
			coupon: "NOPE",
			is:     ErrCouponInvalid,
		},
		"no items": {is: ErrOrderInvalidInput},
		"zero quantity": {
			items: []CheckoutItem{{ProductID: "ghee-500", Variant: "500g", UnitPrice: 400, Quantity: 0}},
			is:    ErrOrderInvalidInput,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.checkout.Initiate(context.Background(), InitiateCheckoutCommand{UserID: "user-1", Items: tc.items, CouponCode: tc.coupon})
			if !errors.Is(err, tc.is) {
				t.Fatalf("expected %v, got %v", tc.is, err)
			}
			if f.store.OrderCount() != 0 || len(f.processor.requests) != 0 || len(f.events.types()) != 0 {
				t.Fatalf("nothing may be persisted or sent on %s", name)
			}
		})
	}
}

func TestCheckoutRejectsCouponCoveringWholeOrder(t *testing.T) {
	f := newFixture(t)
	f.store.SetShipping(&domain.ShippingConfig{})
	f.store.PutCoupon(domain.Coupon{ID: "c-flat", Code: "FLAT2000", DiscountType: domain.DiscountTypeFlat, Value: 2000, Active: true})

	_, err := f.checkout.Initiate(context.Background(), InitiateCheckoutCommand{
		UserID:     "user-1",
		Items:      []CheckoutItem{{ProductID: "ghee-500", Variant: "500g", UnitPrice: 400, Quantity: 1}},
		CouponCode: "FLAT2000",
	})
	var couponErr *CouponInvalidError
	if !errors.As(err, &couponErr) || couponErr.Code != CouponReasonZeroTotal {
		t.Fatalf("expected zero total coupon error, got %v", err)
	}
	if f.store.OrderCount() != 0 || len(f.processor.requests) != 0 {
		t.Fatal("nothing may be persisted or sent")
	}
}

func TestCheckoutInsufficientStockSurfacesAvailable(t *testing.T) {
	f := newFixture(t)
	_, err := f.checkout.Initiate(context.Background(), InitiateCheckoutCommand{
		UserID: "user-1",
		Items:  []CheckoutItem{{ProductID: "honey-250", Variant: "250g", UnitPrice: 150, Quantity: 6}},
	})
	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) || stockErr.Available != 5 || stockErr.Requested != 6 {
		t.Fatalf("expected available 5, got %v", err)
	}
}

func TestCheckoutPerUserCouponLimit(t *testing.T) {
	f := newFixture(t)
	f.store.PutCoupon(domain.Coupon{ID: "c-once", Code: "ONCE", DiscountType: domain.DiscountTypeFlat, Value: 20, Active: true, PerUserLimit: int64Ptr(1)})
	f.store.PutCouponUsage(domain.CouponUsage{CouponID: "c-once", UserID: "user-1", UsedCount: 1})

	_, err := f.checkout.Initiate(context.Background(), InitiateCheckoutCommand{
		UserID:     "user-1",
		Items:      []CheckoutItem{{ProductID: "ghee-500", Variant: "500g", UnitPrice: 400, Quantity: 1}},
		CouponCode: "once",
	})
	var couponErr *CouponInvalidError
	if !errors.As(err, &couponErr) || couponErr.Code != CouponReasonPerUserLimit {
		t.Fatalf("expected per-user limit, got %v", err)
	}

	other := f.initiate(t, "user-2", []CheckoutItem{{ProductID: "ghee-500", Variant: "500g", UnitPrice: 400, Quantity: 1}}, "ONCE")
	if other.Order.Totals.Discount != 20 {
		t.Fatalf("another user may redeem, got %+v", other.Order.Totals)
	}
}

func TestCheckoutProcessorFailureLeavesNoOrder(t *testing.T) {
	f := newFixture(t)
	f.processor.err = errors.New("processor down")
	_, err := f.checkout.Initiate(context.Background(), InitiateCheckoutCommand{
		UserID: "user-1",
		Items:  []CheckoutItem{{ProductID: "ghee-500", Variant: "500g", UnitPrice: 400, Quantity: 1}},
	})
	if !errors.Is(err, ErrOrderUnavailable) {
		t.Fatalf("expected ErrOrderUnavailable, got %v", err)
	}
	if f.store.OrderCount() != 0 {
		t.Fatal("order must not be persisted without a processor order")
	}
	if !f.logs.has("checkout.processor_failed") {
		t.Fatal("expected processor failure to be logged")
	}
}

func TestCheckoutFallsBackToDefaultShipping(t *testing.T) {
	f := newFixture(t)
	f.store.SetShipping(nil)
	result := f.initiate(t, "user-1", []CheckoutItem{{ProductID: "honey-250", Variant: "250g", UnitPrice: 150, Quantity: 1}}, "")
	if result.Order.Totals.Shipping != 0 || result.Order.Totals.Total != 150 {
		t.Fatalf("expected no shipping without config, got %+v", result.Order.Totals)
	}
}
