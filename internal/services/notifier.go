package services

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/shivaydv/vyomtics-sub001/internal/domain"
	"github.com/shivaydv/vyomtics-sub001/internal/platform/requestctx"
)

// orderNotifier publishes lifecycle events and refreshes cached views. Neither may fail the
// transition that triggered it; failures are logged.
type orderNotifier struct {
	events OrderEventPublisher
	views  ViewInvalidator
	logger Logger
	now    func() time.Time
	newID  func() string
	spawn  func(func())
}

func newOrderNotifier(events OrderEventPublisher, views ViewInvalidator, logger Logger, now func() time.Time, idGen func() string, spawn func(func())) orderNotifier {
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	if spawn == nil {
		spawn = func(fn func()) { go fn() }
	}
	return orderNotifier{events: events, views: views, logger: logger, now: now, newID: idGen, spawn: spawn}
}

func (n orderNotifier) publish(ctx context.Context, eventType domain.OrderEventType, order Order, reason, source string) {
	if n.events == nil {
		return
	}
	event := domain.OrderEvent{
		ID:            n.newID(),
		Type:          eventType,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		Total:         order.Totals.Total,
		Currency:      order.Currency,
		Reason:        reason,
		Source:        source,
		OccurredAt:    n.now(),
	}
	if _, err := n.events.PublishOrderEvent(ctx, event); err != nil {
		n.logger(ctx, "orders.event.publish_failed", map[string]any{
			"orderId":   order.ID,
			"eventType": string(eventType),
			"error":     err.Error(),
		})
	}
}

// invalidate schedules view invalidation detached from the request lifetime.
func (n orderNotifier) invalidate(ctx context.Context, order Order, includeProducts bool) {
	if n.views == nil {
		return
	}
	paths := orderViewPaths(order, includeProducts)
	detached := requestctx.Detached(ctx)
	n.spawn(func() {
		if err := n.views.InvalidateViews(detached, paths); err != nil {
			n.logger(detached, "orders.views.invalidate_failed", map[string]any{
				"orderId": order.ID,
				"paths":   paths,
				"error":   err.Error(),
			})
		}
	})
}

func orderViewPaths(order Order, includeProducts bool) []string {
	paths := []string{"orders/" + order.ID}
	if uid := strings.TrimSpace(order.UserID); uid != "" {
		paths = append(paths, "orders/user/"+uid)
	}
	if includeProducts {
		for _, req := range domain.StockRequirements(order.Items) {
			paths = append(paths, "products/"+req.ProductID)
		}
	}
	return paths
}
