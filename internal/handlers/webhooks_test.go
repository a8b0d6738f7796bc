package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shivaydv/vyomtics-sub001/internal/services"
)

func postWebhook(t *testing.T, h *WebhookHandlers, body, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Test-Signature", signature)
	}
	rr := httptest.NewRecorder()
	routerWith(h.Routes).ServeHTTP(rr, req)
	return rr
}

func TestWebhookPassesRawBodyAndSignature(t *testing.T) {
	raw := `{"event":"payment.captured",  "payload":{}}`
	var captured services.WebhookCommand
	recon := &stubReconciliationService{webhook: func(_ context.Context, cmd services.WebhookCommand) (services.WebhookResult, error) {
		captured = cmd
		return services.WebhookResult{EventID: "evt_1", Type: "payment.captured", Outcome: services.OutcomeApplied}, nil
	}}
	h := NewWebhookHandlers(recon, "X-Test-Signature", 1024)

	rr := postWebhook(t, h, raw, "sig-1")

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, raw, string(captured.Body), "body must reach the verifier byte for byte")
	assert.Equal(t, "sig-1", captured.Signature)
	body := decodeBody(t, rr)
	assert.Equal(t, "processed", body["status"])
	assert.Equal(t, "applied", body["outcome"])
}

func TestWebhookIgnoredEventIsAcknowledged(t *testing.T) {
	recon := &stubReconciliationService{webhook: func(context.Context, services.WebhookCommand) (services.WebhookResult, error) {
		return services.WebhookResult{EventID: "evt_2", Type: "refund.created", Ignored: true}, nil
	}}
	rr := postWebhook(t, NewWebhookHandlers(recon, "X-Test-Signature", 0), `{"event":"refund.created"}`, "sig")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ignored", decodeBody(t, rr)["status"])
}

func TestWebhookErrorResponses(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
		field  string
		value  string
	}{
		"bad signature":      {err: services.ErrWebhookSignatureInvalid, status: http.StatusUnauthorized, field: "error", value: "invalid_signature"},
		"malformed":          {err: fmt.Errorf("%w: no order id", services.ErrOrderInvalidInput), status: http.StatusBadRequest, field: "error", value: "invalid_request"},
		"unknown order":      {err: fmt.Errorf("%w: resolve", services.ErrOrderNotFound), status: http.StatusOK, field: "status", value: "order_not_found"},
		"insufficient stock": {err: &services.InsufficientStockError{ProductID: "p", Requested: 2, Available: 1}, status: http.StatusOK, field: "status", value: "insufficient_stock"},
		"backend down":       {err: fmt.Errorf("%w: tx", services.ErrOrderUnavailable), status: http.StatusServiceUnavailable, field: "error", value: "webhook_unavailable"},
		"deadline":           {err: context.DeadlineExceeded, status: http.StatusServiceUnavailable, field: "error", value: "webhook_unavailable"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			recon := &stubReconciliationService{webhook: func(context.Context, services.WebhookCommand) (services.WebhookResult, error) {
				return services.WebhookResult{EventID: "evt_3"}, tc.err
			}}
			rr := postWebhook(t, NewWebhookHandlers(recon, "X-Test-Signature", 0), `{"event":"payment.captured"}`, "sig")

			require.Equal(t, tc.status, rr.Code, rr.Body.String())
			assert.Equal(t, tc.value, decodeBody(t, rr)[tc.field])
		})
	}
}

func TestWebhookBodyLimit(t *testing.T) {
	called := false
	recon := &stubReconciliationService{webhook: func(context.Context, services.WebhookCommand) (services.WebhookResult, error) {
		called = true
		return services.WebhookResult{}, nil
	}}
	h := NewWebhookHandlers(recon, "X-Test-Signature", 16)

	rr := postWebhook(t, h, strings.Repeat("x", 17), "sig")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)

	rr = postWebhook(t, h, "   ", "sig")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.False(t, called)
}

func TestWebhookDefaultSignatureHeader(t *testing.T) {
	var signature string
	recon := &stubReconciliationService{webhook: func(_ context.Context, cmd services.WebhookCommand) (services.WebhookResult, error) {
		signature = cmd.Signature
		return services.WebhookResult{}, nil
	}}
	h := NewWebhookHandlers(recon, " ", 0)

	req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(`{}`))
	req.Header.Set(defaultWebhookSignatureHeader, "abc")
	rr := httptest.NewRecorder()
	routerWith(h.Routes).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "abc", signature)
}
