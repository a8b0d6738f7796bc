package handlers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/shivaydv/vyomtics-sub001/internal/domain"
	"github.com/shivaydv/vyomtics-sub001/internal/platform/idempotency"
	"github.com/shivaydv/vyomtics-sub001/internal/services"
)

func TestCheckoutInitiateCreatesOrder(t *testing.T) {
	var captured services.InitiateCheckoutCommand
	svc := &stubCheckoutService{initiate: func(_ context.Context, cmd services.InitiateCheckoutCommand) (services.CheckoutResult, error) {
		captured = cmd
		return services.CheckoutResult{
			Order: sampleOrder(),
			Pricing: domain.PricingBreakdown{
				Currency: "INR", Subtotal: 800, Total: 800,
				Coupon: &domain.DiscountBreakdown{Code: "SAVE10", Type: domain.DiscountTypePercentage, Amount: 0},
			},
			ProcessorOrderID: "pi_1",
			Provider:         "stripe",
			ClientSecret:     "pi_1_secret",
		}, nil
	}}
	h := NewCheckoutHandlers(testAuthenticator(), svc, nil, nil)

	rr := doJSON(t, routerWith(h.Routes), http.MethodPost, "/orders", "user-1", map[string]any{
		"items":      []map[string]any{{"productId": " ghee-500 ", "variant": "500g", "unitPrice": 400, "quantity": 2}},
		"couponCode": "save10",
	})

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "user-1", captured.UserID)
	require.Len(t, captured.Items, 1)
	assert.Equal(t, "ghee-500", captured.Items[0].ProductID)
	assert.Equal(t, "save10", captured.CouponCode)

	body := decodeBody(t, rr)
	order := body["order"].(map[string]any)
	assert.Equal(t, "ORD-20250301-001", order["orderNumber"])
	assert.Equal(t, "PENDING", order["paymentStatus"])
	assert.NotContains(t, order, "paymentMetadata")
	processor := body["processor"].(map[string]any)
	assert.Equal(t, "pi_1_secret", processor["clientSecret"])
	pricing := body["pricing"].(map[string]any)
	assert.EqualValues(t, 800, pricing["total"])
	assert.Equal(t, "PERCENTAGE", pricing["coupon"].(map[string]any)["type"])
}

func TestCheckoutInitiateErrorMapping(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
		code   string
		check  func(t *testing.T, body map[string]any)
	}{
		"insufficient stock": {
			err:    &services.InsufficientStockError{ProductID: "honey-250", Requested: 6, Available: 5},
			status: http.StatusConflict,
			code:   "insufficient_stock",
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "honey-250", body["productId"])
				assert.EqualValues(t, 5, body["available"])
			},
		},
		"price mismatch": {
			err:    &services.PriceMismatchError{ProductID: "ghee-500", Variant: "500g", Submitted: 1, Expected: 400},
			status: http.StatusConflict,
			code:   "price_mismatch",
			check: func(t *testing.T, body map[string]any) {
				assert.EqualValues(t, 400, body["expectedPrice"])
			},
		},
		"coupon invalid": {
			err:    &services.CouponInvalidError{Code: services.CouponReasonExpired, Reason: "coupon SAVE10 expired"},
			status: http.StatusUnprocessableEntity,
			code:   "coupon_invalid",
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, services.CouponReasonExpired, body["reason"])
			},
		},
		"invalid input":   {err: fmt.Errorf("%w: items required", services.ErrOrderInvalidInput), status: http.StatusBadRequest, code: "invalid_request"},
		"unknown product": {err: fmt.Errorf("%w: product x", services.ErrOrderNotFound), status: http.StatusNotFound, code: "order_not_found"},
		"backend down":    {err: fmt.Errorf("%w: insert", services.ErrOrderUnavailable), status: http.StatusServiceUnavailable, code: "order_unavailable"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &stubCheckoutService{initiate: func(context.Context, services.InitiateCheckoutCommand) (services.CheckoutResult, error) {
				return services.CheckoutResult{}, tc.err
			}}
			h := NewCheckoutHandlers(testAuthenticator(), svc, nil, nil)
			rr := doJSON(t, routerWith(h.Routes), http.MethodPost, "/orders", "user-1", map[string]any{"items": []any{}})

			require.Equal(t, tc.status, rr.Code, rr.Body.String())
			body := decodeBody(t, rr)
			assert.Equal(t, tc.code, body["error"])
			if tc.check != nil {
				tc.check(t, body)
			}
		})
	}
}

func TestCheckoutRequiresAuthentication(t *testing.T) {
	svc := &stubCheckoutService{}
	h := NewCheckoutHandlers(testAuthenticator(), svc, nil, nil)

	rr := doJSON(t, routerWith(h.Routes), http.MethodPost, "/orders", "", map[string]any{})

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Zero(t, svc.calls)
}

func TestCheckoutRejectsBadBodies(t *testing.T) {
	svc := &stubCheckoutService{}
	h := NewCheckoutHandlers(testAuthenticator(), svc, nil, nil)
	router := routerWith(h.Routes)

	rr := doJSON(t, router, http.MethodPost, "/orders", "user-1", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, router, http.MethodPost, "/orders", "user-1", "not an object")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	huge := make([]map[string]any, 0, 2000)
	for i := 0; i < 2000; i++ {
		huge = append(huge, map[string]any{"productId": fmt.Sprintf("product-%05d", i), "variant": "500g", "unitPrice": 1, "quantity": 1})
	}
	rr = doJSON(t, router, http.MethodPost, "/orders", "user-1", map[string]any{"items": huge})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Zero(t, svc.calls)
}

func TestCheckoutRateLimitPerUser(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := &stubCheckoutService{initiate: func(context.Context, services.InitiateCheckoutCommand) (services.CheckoutResult, error) {
		return services.CheckoutResult{Order: sampleOrder()}, nil
	}}
	h := NewCheckoutHandlers(testAuthenticator(), svc, nil, nil, WithCheckoutRateLimit(2, time.Minute, func() time.Time { return now }))
	router := routerWith(h.Routes)
	body := map[string]any{"items": []any{}}

	assert.Equal(t, http.StatusCreated, doJSON(t, router, http.MethodPost, "/orders", "user-1", body).Code)
	assert.Equal(t, http.StatusCreated, doJSON(t, router, http.MethodPost, "/orders", "user-1", body).Code)
	limited := doJSON(t, router, http.MethodPost, "/orders", "user-1", body)
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "60", limited.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusCreated, doJSON(t, router, http.MethodPost, "/orders", "user-2", body).Code)

	now = now.Add(time.Minute)
	assert.Equal(t, http.StatusCreated, doJSON(t, router, http.MethodPost, "/orders", "user-1", body).Code)
	assert.Equal(t, 4, svc.calls)
}

func TestCheckoutInitiateReplaysIdempotentRetry(t *testing.T) {
	svc := &stubCheckoutService{initiate: func(context.Context, services.InitiateCheckoutCommand) (services.CheckoutResult, error) {
		return services.CheckoutResult{Order: sampleOrder()}, nil
	}}
	h := NewCheckoutHandlers(testAuthenticator(), svc, nil, nil, WithCheckoutIdempotency(idempotency.NewMemoryStore(), time.Hour))
	router := routerWith(h.Routes)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(`{"items":[]}`))
		req.Header.Set("Authorization", "Bearer user-1")
		req.Header.Set(idempotency.HeaderName, "cart-42")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	first := send()
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := send()
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("X-Idempotent-Replay"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, svc.calls)

	// Without a key every request reaches the service.
	assert.Equal(t, http.StatusCreated, doJSON(t, router, http.MethodPost, "/orders", "user-1", map[string]any{"items": []any{}}).Code)
	assert.Equal(t, 2, svc.calls)
}

func TestCheckoutConfirm(t *testing.T) {
	t.Run("verified", func(t *testing.T) {
		var captured services.ConfirmPaymentCommand
		recon := &stubReconciliationService{confirm: func(_ context.Context, cmd services.ConfirmPaymentCommand) (services.ConfirmPaymentResult, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusProcessing
			order.PaymentStatus = domain.PaymentStatusSuccess
			return services.ConfirmPaymentResult{Order: order, Outcome: services.OutcomeApplied, Verified: true}, nil
		}}
		h := NewCheckoutHandlers(testAuthenticator(), nil, recon, nil)

		rr := doJSON(t, routerWith(h.Routes), http.MethodPost, "/confirm", "user-1", map[string]any{
			"orderId": "ord_1", "processorOrderId": "pi_1", "processorPaymentId": "pay_1", "signature": "abc",
		})

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, services.ConfirmPaymentCommand{
			UserID: "user-1", OrderID: "ord_1", ProcessorOrderID: "pi_1", ProcessorPaymentID: "pay_1", Signature: "abc",
		}, captured)
		body := decodeBody(t, rr)
		assert.Equal(t, "applied", body["outcome"])
		assert.Equal(t, "SUCCESS", body["order"].(map[string]any)["paymentStatus"])
	})

	t.Run("signature rejected", func(t *testing.T) {
		recon := &stubReconciliationService{confirm: func(context.Context, services.ConfirmPaymentCommand) (services.ConfirmPaymentResult, error) {
			order := sampleOrder()
			order.Status = domain.OrderStatusFailed
			order.PaymentStatus = domain.PaymentStatusFailed
			return services.ConfirmPaymentResult{Order: order, Outcome: services.OutcomeApplied}, nil
		}}
		h := NewCheckoutHandlers(testAuthenticator(), nil, recon, nil)

		rr := doJSON(t, routerWith(h.Routes), http.MethodPost, "/confirm", "user-1", map[string]any{"orderId": "ord_1"})

		require.Equal(t, http.StatusPaymentRequired, rr.Code)
		body := decodeBody(t, rr)
		assert.Equal(t, "payment_verification_failed", body["error"])
		assert.Equal(t, "ord_1", body["orderId"])
	})
}

func TestCheckoutAbandon(t *testing.T) {
	t.Run("deleted", func(t *testing.T) {
		machine := &stubStateMachine{abandon: func(_ context.Context, cmd services.AbandonCommand) (services.Order, error) {
			assert.Equal(t, services.AbandonCommand{OrderID: "ord_1", UserID: "user-1"}, cmd)
			return sampleOrder(), nil
		}}
		h := NewCheckoutHandlers(testAuthenticator(), nil, nil, machine)

		rr := doJSON(t, routerWith(h.Routes), http.MethodPost, "/abandon", "user-1", map[string]any{"orderId": "ord_1"})

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, true, decodeBody(t, rr)["deleted"])
	})

	t.Run("already paid", func(t *testing.T) {
		machine := &stubStateMachine{abandon: func(context.Context, services.AbandonCommand) (services.Order, error) {
			return services.Order{}, &services.NotAbandonableError{Status: domain.OrderStatusProcessing, PaymentStatus: domain.PaymentStatusSuccess}
		}}
		h := NewCheckoutHandlers(testAuthenticator(), nil, nil, machine)

		rr := doJSON(t, routerWith(h.Routes), http.MethodPost, "/abandon", "user-1", map[string]any{"orderId": "ord_1"})

		require.Equal(t, http.StatusConflict, rr.Code)
		body := decodeBody(t, rr)
		assert.Equal(t, "order_not_abandonable", body["error"])
		assert.Equal(t, "SUCCESS", body["paymentStatus"])
	})
}
