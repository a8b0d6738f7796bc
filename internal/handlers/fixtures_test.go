package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	domain "github.com/shivaydv/vyomtics-sub001/internal/domain"
	"github.com/shivaydv/vyomtics-sub001/internal/platform/auth"
	"github.com/shivaydv/vyomtics-sub001/internal/services"
)

type stubTokenVerifier struct{}

// VerifyIDToken treats the bearer token as the user id.
func (stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	return &firebaseauth.Token{UID: idToken, Claims: map[string]interface{}{}}, nil
}

type stubCheckoutService struct {
	initiate func(context.Context, services.InitiateCheckoutCommand) (services.CheckoutResult, error)
	calls    int
}

func (s *stubCheckoutService) Initiate(ctx context.Context, cmd services.InitiateCheckoutCommand) (services.CheckoutResult, error) {
	s.calls++
	return s.initiate(ctx, cmd)
}

type stubReconciliationService struct {
	confirm func(context.Context, services.ConfirmPaymentCommand) (services.ConfirmPaymentResult, error)
	webhook func(context.Context, services.WebhookCommand) (services.WebhookResult, error)
}

func (s *stubReconciliationService) ConfirmClientPayment(ctx context.Context, cmd services.ConfirmPaymentCommand) (services.ConfirmPaymentResult, error) {
	return s.confirm(ctx, cmd)
}

func (s *stubReconciliationService) HandleWebhook(ctx context.Context, cmd services.WebhookCommand) (services.WebhookResult, error) {
	return s.webhook(ctx, cmd)
}

type stubStateMachine struct {
	abandon func(context.Context, services.AbandonCommand) (services.Order, error)
}

func (s *stubStateMachine) MarkSucceeded(context.Context, services.SuccessCommand) (services.TransitionResult, error) {
	return services.TransitionResult{}, nil
}

func (s *stubStateMachine) MarkFailed(context.Context, services.FailureCommand) (services.TransitionResult, error) {
	return services.TransitionResult{}, nil
}

func (s *stubStateMachine) Abandon(ctx context.Context, cmd services.AbandonCommand) (services.Order, error) {
	return s.abandon(ctx, cmd)
}

type stubOrderQueryService struct {
	get   func(context.Context, string, string) (services.Order, error)
	stale func(context.Context, services.StaleOrdersQuery) (domain.CursorPage[services.Order], error)
}

func (s *stubOrderQueryService) GetOrder(ctx context.Context, userID, orderID string) (services.Order, error) {
	return s.get(ctx, userID, orderID)
}

func (s *stubOrderQueryService) ListStalePending(ctx context.Context, query services.StaleOrdersQuery) (domain.CursorPage[services.Order], error) {
	return s.stale(ctx, query)
}

func testAuthenticator() *auth.Authenticator {
	return auth.NewAuthenticator(stubTokenVerifier{})
}

func routerWith(register func(chi.Router)) http.Handler {
	r := chi.NewRouter()
	register(r)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path, uid string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if uid != "" {
		req.Header.Set("Authorization", "Bearer "+uid)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body
}

func sampleOrder() services.Order {
	coupon := "SAVE10"
	return services.Order{
		ID:            "ord_1",
		OrderNumber:   "ORD-20250301-001",
		UserID:        "user-1",
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		Currency:      "INR",
		Totals:        services.OrderTotals{Subtotal: 800, Total: 800},
		CouponCode:    &coupon,
		Items: []services.OrderItem{
			{ProductID: "ghee-500", ProductName: "Ghee", Variant: "500g", UnitPrice: 400, Quantity: 2},
		},
		ProcessorOrderID: "pi_1",
	}
}
