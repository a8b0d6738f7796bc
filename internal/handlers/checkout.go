package handlers

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shivaydv/vyomtics-sub001/internal/platform/auth"
	"github.com/shivaydv/vyomtics-sub001/internal/platform/httpx"
	"github.com/shivaydv/vyomtics-sub001/internal/platform/idempotency"
	"github.com/shivaydv/vyomtics-sub001/internal/services"
)

const maxCheckoutRequestBody = 32 * 1024

// CheckoutHandlers exposes the customer side of the order lifecycle: initiation, client
// confirmation and abandonment.
type CheckoutHandlers struct {
	authn          *auth.Authenticator
	checkout       services.CheckoutService
	reconciliation services.ReconciliationService
	machine        services.OrderStateMachine
	limiter        rateLimiter
	replay         func(http.Handler) http.Handler
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutRateLimit caps order initiations per user. A non-positive limit disables it.
func WithCheckoutRateLimit(limit int, window time.Duration, clock func() time.Time) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, clock)
	}
}

// WithCheckoutIdempotency replays the stored initiation response when a client retries with the
// same Idempotency-Key.
func WithCheckoutIdempotency(store idempotency.Store, ttl time.Duration) CheckoutOption {
	return func(h *CheckoutHandlers) {
		if store != nil {
			h.replay = idempotency.Middleware(store, idempotency.WithTTL(ttl))
		}
	}
}

// NewCheckoutHandlers wires checkout endpoints to their services.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, reconciliation services.ReconciliationService, machine services.OrderStateMachine, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		authn:          authn,
		checkout:       checkout,
		reconciliation: reconciliation,
		machine:        machine,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

func (h *CheckoutHandlers) allow(uid string) (bool, time.Duration) {
	if h.limiter == nil {
		return true, 0
	}
	return h.limiter.Allow(uid)
}

// Routes registers the /checkout endpoints.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = r.With(h.authn.RequireFirebaseAuth())
	}
	if h.replay != nil {
		group.With(h.replay).Post("/orders", h.initiate)
	} else {
		group.Post("/orders", h.initiate)
	}
	group.Post("/confirm", h.confirm)
	group.Post("/abandon", h.abandon)
}

type checkoutItemRequest struct {
	ProductID string `json:"productId"`
	Variant   string `json:"variant"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
}

type initiateCheckoutRequest struct {
	Items      []checkoutItemRequest `json:"items"`
	CouponCode string                `json:"couponCode"`
	Currency   string                `json:"currency"`
}

type discountPayload struct {
	Code   string `json:"code"`
	Type   string `json:"type"`
	Amount int64  `json:"amount"`
	Capped bool   `json:"capped"`
}

type pricingPayload struct {
	Currency string           `json:"currency"`
	Subtotal int64            `json:"subtotal"`
	Discount int64            `json:"discount"`
	Shipping int64            `json:"shipping"`
	Total    int64            `json:"total"`
	Coupon   *discountPayload `json:"coupon,omitempty"`
}

type processorPayload struct {
	Provider     string `json:"provider"`
	OrderID      string `json:"orderId"`
	ClientSecret string `json:"clientSecret,omitempty"`
}

type initiateCheckoutResponse struct {
	Order     orderPayload     `json:"order"`
	Pricing   pricingPayload   `json:"pricing"`
	Processor processorPayload `json:"processor"`
}

type confirmPaymentRequest struct {
	OrderID            string `json:"orderId"`
	ProcessorOrderID   string `json:"processorOrderId"`
	ProcessorPaymentID string `json:"processorPaymentId"`
	Signature          string `json:"signature"`
}

type confirmPaymentResponse struct {
	Order    orderPayload `json:"order"`
	Outcome  string       `json:"outcome"`
	Verified bool         `json:"verified"`
}

type abandonRequest struct {
	OrderID string `json:"orderId"`
}

type abandonResponse struct {
	OrderID string `json:"orderId"`
	Deleted bool   `json:"deleted"`
}

func (h *CheckoutHandlers) initiate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if allowed, retryAfter := h.allow(identity.UID); !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts; retry later", http.StatusTooManyRequests))
		return
	}

	var req initiateCheckoutRequest
	if !decodeJSONBody(w, r, maxCheckoutRequestBody, &req) {
		return
	}

	items := make([]services.CheckoutItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.CheckoutItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Variant:   strings.TrimSpace(item.Variant),
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}

	result, err := h.checkout.Initiate(ctx, services.InitiateCheckoutCommand{
		UserID:     identity.UID,
		Items:      items,
		CouponCode: req.CouponCode,
		Currency:   req.Currency,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	resp := initiateCheckoutResponse{
		Order: buildOrderPayload(result.Order),
		Pricing: pricingPayload{
			Currency: result.Pricing.Currency,
			Subtotal: result.Pricing.Subtotal,
			Discount: result.Pricing.Discount,
			Shipping: result.Pricing.Shipping,
			Total:    result.Pricing.Total,
		},
		Processor: processorPayload{
			Provider:     result.Provider,
			OrderID:      result.ProcessorOrderID,
			ClientSecret: result.ClientSecret,
		},
	}
	if coupon := result.Pricing.Coupon; coupon != nil {
		resp.Pricing.Coupon = &discountPayload{
			Code:   coupon.Code,
			Type:   string(coupon.Type),
			Amount: coupon.Amount,
			Capped: coupon.Capped,
		}
	}
	writeJSONResponse(w, http.StatusCreated, resp)
}

func (h *CheckoutHandlers) confirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciliation == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "reconciliation service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req confirmPaymentRequest
	if !decodeJSONBody(w, r, maxCheckoutRequestBody, &req) {
		return
	}

	result, err := h.reconciliation.ConfirmClientPayment(ctx, services.ConfirmPaymentCommand{
		UserID:             identity.UID,
		OrderID:            strings.TrimSpace(req.OrderID),
		ProcessorOrderID:   strings.TrimSpace(req.ProcessorOrderID),
		ProcessorPaymentID: strings.TrimSpace(req.ProcessorPaymentID),
		Signature:          strings.TrimSpace(req.Signature),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	if !result.Verified {
		// The order was failed; the client must not treat this as a successful payment.
		httpx.WriteError(ctx, w, httpx.NewError("payment_verification_failed", "payment signature could not be verified", http.StatusPaymentRequired).
			WithDetails(map[string]any{"orderId": result.Order.ID, "outcome": string(result.Outcome)}))
		return
	}
	writeJSONResponse(w, http.StatusOK, confirmPaymentResponse{
		Order:    buildOrderPayload(result.Order),
		Outcome:  string(result.Outcome),
		Verified: true,
	})
}

func (h *CheckoutHandlers) abandon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.machine == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req abandonRequest
	if !decodeJSONBody(w, r, maxCheckoutRequestBody, &req) {
		return
	}

	order, err := h.machine.Abandon(ctx, services.AbandonCommand{
		OrderID: strings.TrimSpace(req.OrderID),
		UserID:  identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, abandonResponse{OrderID: order.ID, Deleted: true})
}
