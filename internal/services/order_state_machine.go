package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/shivaydv/vyomtics-sub001/internal/domain"
	"github.com/shivaydv/vyomtics-sub001/internal/platform/textutil"
	"github.com/shivaydv/vyomtics-sub001/internal/repositories"
)

// OrderStateMachineDeps wires the collaborators of the order state machine.
type OrderStateMachineDeps struct {
	Orders repositories.OrderRepository
	Ledger repositories.OrderLedger
	Events OrderEventPublisher
	Views  ViewInvalidator
	Clock  func() time.Time
	Logger Logger
	// EventIDGenerator produces order event ids; defaults to a ULID.
	EventIDGenerator func() string
	// Spawn runs detached work; defaults to a goroutine.
	Spawn func(func())
}

type orderStateMachine struct {
	orders   repositories.OrderRepository
	ledger   repositories.OrderLedger
	notifier orderNotifier
	now      func() time.Time
	logger   Logger
}

// NewOrderStateMachine constructs the state machine validating required dependencies.
func NewOrderStateMachine(deps OrderStateMachineDeps) (OrderStateMachine, error) {
	if deps.Orders == nil {
		return nil, errors.New("order state machine: order repository is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("order state machine: ledger is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	now := func() time.Time { return clock().UTC() }
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderStateMachine{
		orders:   deps.Orders,
		ledger:   deps.Ledger,
		notifier: newOrderNotifier(deps.Events, deps.Views, logger, now, deps.EventIDGenerator, deps.Spawn),
		now:      now,
		logger:   logger,
	}, nil
}

func (m *orderStateMachine) MarkSucceeded(ctx context.Context, cmd SuccessCommand) (TransitionResult, error) {
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if paymentID == "" {
		return TransitionResult{}, fmt.Errorf("%w: payment id is required", ErrOrderInvalidInput)
	}
	orderID, err := m.resolveOrderID(ctx, cmd.OrderID, cmd.ProcessorOrderID)
	if err != nil {
		return TransitionResult{}, err
	}

	var method *string
	if trimmed := strings.TrimSpace(cmd.Method); trimmed != "" {
		method = &trimmed
	}
	result, err := m.ledger.ApplyPaymentSuccess(ctx, repositories.PaymentSuccess{
		OrderID:   orderID,
		PaymentID: paymentID,
		Method:    method,
		Metadata:  cmd.Metadata,
		PaidAt:    m.now(),
	})
	if err != nil {
		m.logger(ctx, "orders.payment_success.apply_failed", map[string]any{
			"orderId":   orderID,
			"paymentId": paymentID,
			"source":    cmd.Source,
			"error":     err.Error(),
		})
		return TransitionResult{}, translateRepoError("mark succeeded", err)
	}

	switch result.Outcome {
	case repositories.LedgerApplied:
		m.logger(ctx, "orders.payment_success.applied", map[string]any{
			"orderId":     orderID,
			"orderNumber": result.Order.OrderNumber,
			"paymentId":   paymentID,
			"source":      cmd.Source,
		})
		m.notifier.publish(ctx, domain.OrderEventPaid, result.Order, "", cmd.Source)
		m.notifier.invalidate(ctx, result.Order, true)
		return TransitionResult{Outcome: OutcomeApplied, Order: result.Order}, nil
	case repositories.LedgerAlreadyApplied:
		m.logger(ctx, "orders.payment_success_skipped", map[string]any{
			"orderId":   orderID,
			"paymentId": paymentID,
			"source":    cmd.Source,
		})
		return TransitionResult{Outcome: OutcomeAlreadyApplied, Order: result.Order}, nil
	default:
		// A verified capture for a failed order: money may have moved. Left for manual follow-up.
		m.logger(ctx, "orders.reconciliation_required", map[string]any{
			"orderId":       orderID,
			"paymentId":     paymentID,
			"paymentStatus": string(result.Order.PaymentStatus),
			"source":        cmd.Source,
		})
		m.notifier.publish(ctx, domain.OrderEventReconciliationRequired, result.Order, "payment_succeeded_after_failure", cmd.Source)
		return TransitionResult{Outcome: OutcomeRejected, Order: result.Order}, nil
	}
}

func (m *orderStateMachine) MarkFailed(ctx context.Context, cmd FailureCommand) (TransitionResult, error) {
	orderID, err := m.resolveOrderID(ctx, cmd.OrderID, cmd.ProcessorOrderID)
	if err != nil {
		return TransitionResult{}, err
	}

	reason := textutil.SanitizeText(cmd.Reason)
	metadata := sanitizeMetadata(cmd.Metadata)
	if reason != "" {
		metadata["failureReason"] = reason
	}
	if cmd.Source != "" {
		metadata["failureSource"] = cmd.Source
	}

	result, err := m.ledger.ApplyPaymentFailure(ctx, repositories.PaymentFailure{
		OrderID:  orderID,
		Metadata: metadata,
		FailedAt: m.now(),
	})
	if err != nil {
		m.logger(ctx, "orders.payment_failure.apply_failed", map[string]any{
			"orderId": orderID,
			"source":  cmd.Source,
			"error":   err.Error(),
		})
		return TransitionResult{}, translateRepoError("mark failed", err)
	}

	switch result.Outcome {
	case repositories.LedgerApplied:
		m.logger(ctx, "orders.payment_failure.applied", map[string]any{
			"orderId": orderID,
			"reason":  reason,
			"source":  cmd.Source,
		})
		m.notifier.publish(ctx, domain.OrderEventPaymentFailed, result.Order, reason, cmd.Source)
		m.notifier.invalidate(ctx, result.Order, false)
		return TransitionResult{Outcome: OutcomeApplied, Order: result.Order}, nil
	case repositories.LedgerAlreadyApplied:
		return TransitionResult{Outcome: OutcomeAlreadyApplied, Order: result.Order}, nil
	default:
		m.logger(ctx, "orders.payment_failure_rejected", map[string]any{
			"orderId":       orderID,
			"paymentStatus": string(result.Order.PaymentStatus),
			"reason":        reason,
			"source":        cmd.Source,
		})
		return TransitionResult{Outcome: OutcomeRejected, Order: result.Order}, nil
	}
}

func (m *orderStateMachine) Abandon(ctx context.Context, cmd AbandonCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	userID := strings.TrimSpace(cmd.UserID)
	if orderID == "" || userID == "" {
		return Order{}, fmt.Errorf("%w: order id and user id are required", ErrOrderInvalidInput)
	}

	result, err := m.ledger.DeletePending(ctx, orderID, userID)
	if err != nil {
		return Order{}, translateRepoError("abandon", err)
	}
	if result.Outcome != repositories.LedgerApplied {
		m.logger(ctx, "orders.abandon_rejected", map[string]any{
			"orderId":       orderID,
			"status":        string(result.Order.Status),
			"paymentStatus": string(result.Order.PaymentStatus),
		})
		return Order{}, &NotAbandonableError{Status: result.Order.Status, PaymentStatus: result.Order.PaymentStatus}
	}

	m.logger(ctx, "orders.abandon.deleted", map[string]any{
		"orderId":     orderID,
		"orderNumber": result.Order.OrderNumber,
	})
	m.notifier.publish(ctx, domain.OrderEventAbandoned, result.Order, "abandoned_by_customer", "customer")
	m.notifier.invalidate(ctx, result.Order, false)
	return result.Order, nil
}

func (m *orderStateMachine) resolveOrderID(ctx context.Context, orderID, processorOrderID string) (string, error) {
	if id := strings.TrimSpace(orderID); id != "" {
		return id, nil
	}
	processorOrderID = strings.TrimSpace(processorOrderID)
	if processorOrderID == "" {
		return "", fmt.Errorf("%w: order id or processor order id is required", ErrOrderInvalidInput)
	}
	order, err := m.orders.FindByProcessorOrderID(ctx, processorOrderID)
	if err != nil {
		return "", translateRepoError("resolve processor order", err)
	}
	return order.ID, nil
}

// sanitizeMetadata copies metadata, stripping markup from string values supplied by processors.
func sanitizeMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+2)
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = textutil.SanitizeText(s)
			continue
		}
		out[k] = v
	}
	return out
}
