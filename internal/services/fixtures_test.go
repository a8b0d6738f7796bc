package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	domain "github.com/shivaydv/vyomtics-sub001/internal/domain"
	"github.com/shivaydv/vyomtics-sub001/internal/payments"
	"github.com/shivaydv/vyomtics-sub001/internal/repositories/memory"
)

const (
	testKeySecret     = "key_secret"
	testWebhookSecret = "whsec_test"
)

type stubProcessor struct {
	mu       sync.Mutex
	requests []payments.CreateOrderRequest
	err      error
}

func (s *stubProcessor) CreateOrder(_ context.Context, req payments.CreateOrderRequest) (payments.ProcessorOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return payments.ProcessorOrder{}, s.err
	}
	return payments.ProcessorOrder{
		ID:           fmt.Sprintf("pi_%d", len(s.requests)),
		Provider:     "stripe",
		ClientSecret: fmt.Sprintf("pi_%d_secret", len(s.requests)),
		Amount:       req.Amount,
		Currency:     req.Currency,
		Status:       payments.StatusPending,
	}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OrderEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event domain.OrderEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return "msg-" + event.ID, p.err
}

func (p *recordingPublisher) types() []domain.OrderEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.OrderEventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingViews struct {
	mu    sync.Mutex
	paths [][]string
}

func (v *recordingViews) InvalidateViews(_ context.Context, paths []string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.paths = append(v.paths, paths)
	return nil
}

type recordingArchive struct {
	mu       sync.Mutex
	eventIDs []string
}

func (a *recordingArchive) ArchiveWebhook(_ context.Context, provider, eventID string, _ []byte, _ bool) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.eventIDs = append(a.eventIDs, eventID)
	return "webhooks/" + provider + "/" + eventID + ".json", nil
}

type logEntry struct {
	event  string
	fields map[string]any
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) log(_ context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{event: event, fields: fields})
}

func (l *recordingLogger) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.event == event {
			return true
		}
	}
	return false
}

func inline(fn func()) { fn() }

func int64Ptr(v int64) *int64 { return &v }

type fixture struct {
	now       time.Time
	store     *memory.Store
	processor *stubProcessor
	events    *recordingPublisher
	views     *recordingViews
	archive   *recordingArchive
	logs      *recordingLogger
	checkout  CheckoutService
	machine   OrderStateMachine
	reconcile ReconciliationService
	queries   OrderQueryService
}

// newFixture wires every service over the in-memory backend. Products:
//
//	ghee-500   "500g" 400, stock 10
//	honey-250  "250g" 150, stock 5
//
// Shipping: flat 50, free from 500. Coupon SAVE10 is 10% without cap.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := memory.NewStore().WithClock(clock)
	store.PutProduct(domain.Product{ID: "ghee-500", Name: "A2 Ghee", Stock: 10, Variants: []domain.ProductVariant{{Label: "500g", Price: 400}}})
	store.PutProduct(domain.Product{ID: "honey-250", Name: "Raw Honey", Stock: 5, Variants: []domain.ProductVariant{{Label: "250g", Price: 150}}})
	store.SetShipping(&domain.ShippingConfig{FlatCharge: int64Ptr(50), FreeShippingThreshold: int64Ptr(500)})
	store.PutCoupon(domain.Coupon{ID: "c-save10", Code: "SAVE10", DiscountType: domain.DiscountTypePercentage, Value: 10, Active: true})

	f := &fixture{
		now:       now,
		store:     store,
		processor: &stubProcessor{},
		events:    &recordingPublisher{},
		views:     &recordingViews{},
		archive:   &recordingArchive{},
		logs:      &recordingLogger{},
	}

	var seq, eventSeq int
	idGen := func() string {
		seq++
		return fmt.Sprintf("01TEST%04d", seq)
	}
	eventIDGen := func() string {
		eventSeq++
		return fmt.Sprintf("evt_%04d", eventSeq)
	}

	numbers, err := NewOrderNumberAllocator(OrderNumberAllocatorDeps{Counters: store.Counters(), Clock: clock})
	if err != nil {
		t.Fatalf("NewOrderNumberAllocator: %v", err)
	}
	f.checkout, err = NewCheckoutService(CheckoutServiceDeps{
		Orders:           store.Orders(),
		Products:         store.Products(),
		Coupons:          store.Coupons(),
		CouponUsage:      store.CouponUsage(),
		Shipping:         store.Shipping(),
		OrderNumbers:     numbers,
		Processor:        f.processor,
		Events:           f.events,
		Views:            f.views,
		Clock:            clock,
		Logger:           f.logs.log,
		IDGenerator:      idGen,
		EventIDGenerator: eventIDGen,
		Spawn:            inline,
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	f.machine, err = NewOrderStateMachine(OrderStateMachineDeps{
		Orders:           store.Orders(),
		Ledger:           store.Ledger(),
		Events:           f.events,
		Views:            f.views,
		Clock:            clock,
		Logger:           f.logs.log,
		EventIDGenerator: eventIDGen,
		Spawn:            inline,
	})
	if err != nil {
		t.Fatalf("NewOrderStateMachine: %v", err)
	}
	f.reconcile, err = NewReconciliationService(ReconciliationServiceDeps{
		Orders:       store.Orders(),
		StateMachine: f.machine,
		Verifier:     payments.NewSignatureVerifier(testKeySecret, testWebhookSecret),
		Archive:      f.archive,
		Logger:       f.logs.log,
		Spawn:        inline,
	})
	if err != nil {
		t.Fatalf("NewReconciliationService: %v", err)
	}
	f.queries, err = NewOrderQueryService(OrderQueryServiceDeps{Orders: store.Orders(), Clock: clock})
	if err != nil {
		t.Fatalf("NewOrderQueryService: %v", err)
	}
	return f
}

func (f *fixture) initiate(t *testing.T, userID string, items []CheckoutItem, coupon string) CheckoutResult {
	t.Helper()
	result, err := f.checkout.Initiate(context.Background(), InitiateCheckoutCommand{UserID: userID, Items: items, CouponCode: coupon})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	return result
}

func (f *fixture) order(t *testing.T, id string) domain.Order {
	t.Helper()
	order, err := f.store.Orders().FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindByID(%s): %v", id, err)
	}
	return order
}

func (f *fixture) stock(t *testing.T, productID string) int {
	t.Helper()
	product, ok := f.store.Product(productID)
	if !ok {
		t.Fatalf("product %s missing", productID)
	}
	return product.Stock
}

func paymentSignature(processorOrderID, paymentID string) string {
	return payments.Sign([]byte(testKeySecret), []byte(processorOrderID+"|"+paymentID))
}

func webhookSignature(body []byte) string {
	return payments.Sign([]byte(testWebhookSecret), body)
}
