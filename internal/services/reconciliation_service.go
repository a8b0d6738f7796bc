package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shivaydv/vyomtics-sub001/internal/payments"
	"github.com/shivaydv/vyomtics-sub001/internal/platform/requestctx"
	"github.com/shivaydv/vyomtics-sub001/internal/repositories"
)

const (
	sourceClientConfirmation = "client_confirmation"
	sourceWebhook            = "webhook"

	reasonSignatureFailed = "signature_verification_failed"
)

// ReconciliationServiceDeps wires the collaborators of the reconciliation entry points.
type ReconciliationServiceDeps struct {
	Orders       repositories.OrderRepository
	StateMachine OrderStateMachine
	Verifier     SignatureVerifier
	// Archive is optional; when set, verified webhook bodies are stored after parsing.
	Archive  WebhookArchiver
	Provider string
	Logger   Logger
	Spawn    func(func())
}

type reconciliationService struct {
	orders   repositories.OrderRepository
	machine  OrderStateMachine
	verifier SignatureVerifier
	archive  WebhookArchiver
	provider string
	logger   Logger
	spawn    func(func())
}

// NewReconciliationService constructs the reconciliation service validating required dependencies.
func NewReconciliationService(deps ReconciliationServiceDeps) (ReconciliationService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("reconciliation service: order repository is required")
	case deps.StateMachine == nil:
		return nil, errors.New("reconciliation service: state machine is required")
	case deps.Verifier == nil:
		return nil, errors.New("reconciliation service: signature verifier is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	spawn := deps.Spawn
	if spawn == nil {
		spawn = func(fn func()) { go fn() }
	}
	provider := strings.TrimSpace(deps.Provider)
	if provider == "" {
		provider = "stripe"
	}
	return &reconciliationService{
		orders:   deps.Orders,
		machine:  deps.StateMachine,
		verifier: deps.Verifier,
		archive:  deps.Archive,
		provider: provider,
		logger:   logger,
		spawn:    spawn,
	}, nil
}

// ConfirmClientPayment reconciles the signed confirmation the client received from the processor.
// An invalid signature fails the order; a valid one marks it paid.
func (s *reconciliationService) ConfirmClientPayment(ctx context.Context, cmd ConfirmPaymentCommand) (ConfirmPaymentResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	orderID := strings.TrimSpace(cmd.OrderID)
	processorOrderID := strings.TrimSpace(cmd.ProcessorOrderID)
	paymentID := strings.TrimSpace(cmd.ProcessorPaymentID)
	if userID == "" || orderID == "" || processorOrderID == "" || paymentID == "" {
		return ConfirmPaymentResult{}, fmt.Errorf("%w: order, processor order and payment ids are required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return ConfirmPaymentResult{}, translateRepoError("load order", err)
	}
	if order.UserID != userID {
		return ConfirmPaymentResult{}, fmt.Errorf("%w: load order", ErrOrderNotFound)
	}
	if order.ProcessorOrderID != processorOrderID {
		s.logger(ctx, "payments.confirm.processor_order_rejected", map[string]any{
			"orderId":          orderID,
			"processorOrderId": processorOrderID,
		})
		return ConfirmPaymentResult{}, fmt.Errorf("%w: processor order id does not match the order", ErrOrderInvalidInput)
	}

	if !s.verifier.VerifyPayment(processorOrderID, paymentID, strings.TrimSpace(cmd.Signature)) {
		s.logger(ctx, "payments.confirm.signature_rejected", map[string]any{
			"orderId":   orderID,
			"paymentId": paymentID,
		})
		result, err := s.machine.MarkFailed(ctx, FailureCommand{
			OrderID:  orderID,
			Reason:   reasonSignatureFailed,
			Metadata: map[string]any{"paymentId": paymentID},
			Source:   sourceClientConfirmation,
		})
		if err != nil {
			return ConfirmPaymentResult{}, err
		}
		return ConfirmPaymentResult{Order: result.Order, Outcome: result.Outcome, Verified: false}, nil
	}

	result, err := s.machine.MarkSucceeded(ctx, SuccessCommand{
		OrderID:   orderID,
		PaymentID: paymentID,
		Metadata:  map[string]any{"verifiedBy": "client_signature", "processorOrderId": processorOrderID},
		Source:    sourceClientConfirmation,
	})
	if err != nil {
		s.failAfterSuccessError(ctx, FailureCommand{OrderID: orderID, Metadata: map[string]any{"paymentId": paymentID}, Source: sourceClientConfirmation}, err)
		return ConfirmPaymentResult{}, err
	}
	return ConfirmPaymentResult{Order: result.Order, Outcome: result.Outcome, Verified: true}, nil
}

// HandleWebhook verifies and applies a processor webhook. The body is verified before it is
// parsed; an unverified body never identifies an order.
func (s *reconciliationService) HandleWebhook(ctx context.Context, cmd WebhookCommand) (WebhookResult, error) {
	if !s.verifier.VerifyWebhook(cmd.Body, strings.TrimSpace(cmd.Signature)) {
		s.logger(ctx, "payments.webhook.signature_rejected", map[string]any{
			"bodyBytes": len(cmd.Body),
		})
		return WebhookResult{}, ErrWebhookSignatureInvalid
	}

	event, err := payments.ParseWebhookEvent(cmd.Body)
	if err != nil {
		s.logger(ctx, "payments.webhook.parse_failed", map[string]any{"error": err.Error()})
		return WebhookResult{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	s.archivePayload(ctx, event.ID, cmd.Body)

	result := WebhookResult{EventID: event.ID, Type: event.Type}
	fields := map[string]any{
		"eventId":          event.ID,
		"eventType":        event.Type,
		"processorOrderId": event.ProcessorOrderID,
		"paymentId":        event.PaymentID,
	}

	switch event.Kind {
	case payments.WebhookPaymentSucceeded:
		metadata := map[string]any{"webhookEventId": event.ID, "webhookEvent": event.Type}
		if event.Amount > 0 {
			metadata["amount"] = event.Amount
			metadata["currency"] = event.Currency
		}
		transition, err := s.machine.MarkSucceeded(ctx, SuccessCommand{
			ProcessorOrderID: event.ProcessorOrderID,
			PaymentID:        event.PaymentID,
			Method:           event.Method,
			Metadata:         metadata,
			Source:           sourceWebhook,
		})
		if err != nil {
			s.failAfterSuccessError(ctx, FailureCommand{ProcessorOrderID: event.ProcessorOrderID, Metadata: event.FailureContext(), Source: sourceWebhook}, err)
			return result, err
		}
		result.Outcome = transition.Outcome
	case payments.WebhookPaymentFailed:
		transition, err := s.machine.MarkFailed(ctx, FailureCommand{
			ProcessorOrderID: event.ProcessorOrderID,
			Reason:           failureReason(event),
			Metadata:         event.FailureContext(),
			Source:           sourceWebhook,
		})
		if err != nil {
			fields["error"] = err.Error()
			s.logger(ctx, "payments.webhook.failure_apply_failed", fields)
			return result, err
		}
		result.Outcome = transition.Outcome
	default:
		result.Ignored = true
		s.logger(ctx, "payments.webhook_ignored", fields)
		return result, nil
	}

	fields["outcome"] = string(result.Outcome)
	s.logger(ctx, "payments.webhook.processed", fields)
	return result, nil
}

// failAfterSuccessError records a failed payment after the success transition errored inside the
// ledger. Transient backend errors and rejected input are left alone so a retried confirmation can
// still apply the success.
func (s *reconciliationService) failAfterSuccessError(ctx context.Context, cmd FailureCommand, cause error) {
	if retainsPending(cause) {
		s.logger(ctx, "payments.success_apply_failed", map[string]any{
			"orderId":          cmd.OrderID,
			"processorOrderId": cmd.ProcessorOrderID,
			"source":           cmd.Source,
			"error":            cause.Error(),
		})
		return
	}

	cmd.Reason = cause.Error()
	if cmd.Metadata == nil {
		cmd.Metadata = map[string]any{}
	}
	var (
		stockErr   *InsufficientStockError
		missingErr *ProductMissingError
	)
	switch {
	case errors.As(cause, &stockErr):
		cmd.Reason = "insufficient_stock"
		cmd.Metadata["productId"] = stockErr.ProductID
		cmd.Metadata["requested"] = stockErr.Requested
		cmd.Metadata["available"] = stockErr.Available
	case errors.As(cause, &missingErr):
		cmd.Reason = "product_missing"
		cmd.Metadata["productId"] = missingErr.ProductID
	}

	// Money may already be captured; the failed order needs manual follow-up.
	s.logger(ctx, "payments.success_apply_failed", map[string]any{
		"orderId":          cmd.OrderID,
		"processorOrderId": cmd.ProcessorOrderID,
		"source":           cmd.Source,
		"error":            cause.Error(),
	})
	if _, err := s.machine.MarkFailed(ctx, cmd); err != nil {
		s.logger(ctx, "payments.fallback_failure_failed", map[string]any{
			"orderId":          cmd.OrderID,
			"processorOrderId": cmd.ProcessorOrderID,
			"error":            err.Error(),
		})
	}
}

// retainsPending reports whether a success error leaves the order untouched. A product removed from
// the catalog cannot recover on retry and is failed like a stock shortfall.
func retainsPending(cause error) bool {
	var missingErr *ProductMissingError
	if errors.As(cause, &missingErr) {
		return false
	}
	return errors.Is(cause, ErrOrderUnavailable) || errors.Is(cause, ErrOrderNotFound) ||
		errors.Is(cause, ErrOrderInvalidInput) ||
		errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded)
}

func (s *reconciliationService) archivePayload(ctx context.Context, eventID string, body []byte) {
	if s.archive == nil {
		return
	}
	payload := append([]byte(nil), body...)
	detached := requestctx.Detached(ctx)
	s.spawn(func() {
		path, err := s.archive.ArchiveWebhook(detached, s.provider, eventID, payload, true)
		if err != nil {
			s.logger(detached, "payments.webhook.archive_failed", map[string]any{
				"eventId": eventID,
				"error":   err.Error(),
			})
			return
		}
		s.logger(detached, "payments.webhook.archived", map[string]any{"eventId": eventID, "path": path})
	})
}

func failureReason(event payments.WebhookEvent) string {
	switch {
	case event.ErrorDescription != "":
		return event.ErrorDescription
	case event.ErrorCode != "":
		return event.ErrorCode
	default:
		return "payment_failed"
	}
}
