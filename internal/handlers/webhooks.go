package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/shivaydv/vyomtics-sub001/internal/platform/httpx"
	"github.com/shivaydv/vyomtics-sub001/internal/platform/observability"
	"github.com/shivaydv/vyomtics-sub001/internal/services"
)

const defaultWebhookSignatureHeader = "X-Payment-Signature"

// WebhookHandlers receives processor callbacks. The body is read raw so the signature covers
// exactly the bytes that were sent.
type WebhookHandlers struct {
	reconciliation  services.ReconciliationService
	signatureHeader string
	bodyLimit       int64
}

// NewWebhookHandlers constructs webhook handlers. Empty header and non-positive limit use defaults.
func NewWebhookHandlers(reconciliation services.ReconciliationService, signatureHeader string, bodyLimit int64) *WebhookHandlers {
	header := strings.TrimSpace(signatureHeader)
	if header == "" {
		header = defaultWebhookSignatureHeader
	}
	return &WebhookHandlers{
		reconciliation:  reconciliation,
		signatureHeader: header,
		bodyLimit:       bodyLimit,
	}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments", h.handlePayment)
}

type webhookAckResponse struct {
	Status  string `json:"status"`
	EventID string `json:"eventId,omitempty"`
	Outcome string `json:"outcome,omitempty"`
}

func (h *WebhookHandlers) handlePayment(w http.ResponseWriter, r *http.Request) {
	ctx, span := observability.StartSpan(r.Context(), "payments.webhook")
	var spanErr error
	defer func() { observability.EndSpan(span, spanErr) }()

	if h.reconciliation == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, h.bodyLimit)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	result, err := h.reconciliation.HandleWebhook(ctx, services.WebhookCommand{
		Body:      body,
		Signature: r.Header.Get(h.signatureHeader),
	})
	span.SetAttributes(
		attribute.String("webhook.event_id", result.EventID),
		attribute.String("webhook.event_type", result.Type),
		attribute.String("webhook.outcome", string(result.Outcome)),
	)
	if err != nil {
		spanErr = err
		h.writeWebhookError(ctx, w, result, err)
		return
	}

	status := "processed"
	if result.Ignored {
		status = "ignored"
	}
	writeJSONResponse(w, http.StatusOK, webhookAckResponse{
		Status:  status,
		EventID: result.EventID,
		Outcome: string(result.Outcome),
	})
}

// writeWebhookError decides between acknowledging and asking the processor to redeliver.
// Errors a retry cannot fix are acknowledged with 200 so the processor stops retrying.
func (h *WebhookHandlers) writeWebhookError(ctx context.Context, w http.ResponseWriter, result services.WebhookResult, err error) {
	logger := observability.FromContext(ctx)
	switch {
	case errors.Is(err, services.ErrWebhookSignatureInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusUnauthorized))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "webhook payload is malformed", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		logger.Warn("payments.webhook.order_unknown_acked", zap.String("eventId", result.EventID), zap.Error(err))
		writeJSONResponse(w, http.StatusOK, webhookAckResponse{Status: "order_not_found", EventID: result.EventID})
	case errors.Is(err, services.ErrInsufficientStock):
		logger.Error("payments.webhook.stock_conflict_acked", zap.String("eventId", result.EventID), zap.Error(err))
		writeJSONResponse(w, http.StatusOK, webhookAckResponse{Status: "insufficient_stock", EventID: result.EventID})
	default:
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook could not be processed; retry later", http.StatusServiceUnavailable))
	}
}
