package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/pubsub"

	domain "github.com/shivaydv/vyomtics-sub001/internal/domain"
)

// OrderEventPublisher publishes order lifecycle events. Messages carry the order id as ordering
// key so subscribers observe created -> paid/failed in order.
type OrderEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewOrderEventPublisher wraps topic and enables message ordering on it.
func NewOrderEventPublisher(topic *pubsub.Topic) (*OrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("order event publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &OrderEventPublisher{topic: topic, marshal: json.Marshal}, nil
}

// PublishOrderEvent blocks until Pub/Sub acknowledges the message and returns its server id.
func (p *OrderEventPublisher) PublishOrderEvent(ctx context.Context, event domain.OrderEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("order event publisher: not initialised")
	}
	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string, 4)
	setAttr(attrs, "eventId", event.ID)
	setAttr(attrs, "eventType", string(event.Type))
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "paymentStatus", string(event.PaymentStatus))

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: event.OrderID,
	})
	id, err := result.Get(ctx)
	if err != nil {
		// A failed publish pauses the ordering key until resumed.
		p.topic.ResumePublish(event.OrderID)
		return "", fmt.Errorf("publish order event %s: %w", event.Type, err)
	}
	return id, nil
}

// ViewInvalidator asks downstream caches (storefront SSR, CDN) to drop stale views such as
// "orders/<id>" or "products/<id>".
type ViewInvalidator struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

type invalidationMessage struct {
	Paths []string `json:"paths"`
}

// NewViewInvalidator wraps topic.
func NewViewInvalidator(topic *pubsub.Topic) (*ViewInvalidator, error) {
	if topic == nil {
		return nil, errors.New("view invalidator: topic is required")
	}
	return &ViewInvalidator{topic: topic, marshal: json.Marshal}, nil
}

// InvalidateViews publishes one message naming every path, deduplicated and sorted.
func (v *ViewInvalidator) InvalidateViews(ctx context.Context, paths []string) error {
	if v == nil || v.topic == nil {
		return errors.New("view invalidator: not initialised")
	}
	seen := make(map[string]struct{}, len(paths))
	unique := make([]string, 0, len(paths))
	for _, path := range paths {
		path = strings.Trim(strings.TrimSpace(path), "/")
		if path == "" {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		unique = append(unique, path)
	}
	if len(unique) == 0 {
		return nil
	}
	sort.Strings(unique)

	data, err := v.marshal(invalidationMessage{Paths: unique})
	if err != nil {
		return fmt.Errorf("marshal invalidation: %w", err)
	}
	if _, err := v.topic.Publish(ctx, &pubsub.Message{Data: data}).Get(ctx); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
