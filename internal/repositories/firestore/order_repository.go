package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/shivaydv/vyomtics-sub001/internal/domain"
	pfirestore "github.com/shivaydv/vyomtics-sub001/internal/platform/firestore"
	"github.com/shivaydv/vyomtics-sub001/internal/platform/pagination"
	"github.com/shivaydv/vyomtics-sub001/internal/repositories"
)

// OrderRepository stores orders under /orders/{orderId}.
type OrderRepository struct {
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{provider: provider}, nil
}

func (r *OrderRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(ordersCollection), nil
}

// Insert creates the order document; an existing id is reported as a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	if _, err := coll.Doc(id).Create(ctx, encodeOrder(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, repositories.NewNotFoundError("orders.get", "order")
	}
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	snap, err := coll.Doc(id).Get(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.get", err)
	}
	order, err := decodeOrderSnapshot(snap)
	if err != nil {
		return domain.Order{}, fmt.Errorf("firestore orders decode %s: %w", id, err)
	}
	return order, nil
}

// FindByProcessorOrderID resolves the order created for a processor-side order.
func (r *OrderRepository) FindByProcessorOrderID(ctx context.Context, processorOrderID string) (domain.Order, error) {
	processorOrderID = strings.TrimSpace(processorOrderID)
	if processorOrderID == "" {
		return domain.Order{}, repositories.NewNotFoundError("orders.find_by_processor", "order")
	}
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	iter := coll.Where("processorOrderId", "==", processorOrderID).Limit(1).Documents(ctx)
	defer iter.Stop()
	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.Order{}, repositories.NewNotFoundError("orders.find_by_processor", "order")
	}
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.find_by_processor", err)
	}
	return decodeOrderSnapshot(snap)
}

// ListStalePending pages through orders still awaiting payment, oldest first.
func (r *OrderRepository) ListStalePending(ctx context.Context, filter repositories.StaleOrderFilter) (domain.CursorPage[domain.Order], error) {
	limit := filter.PageSize
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}
	cursor, err := pagination.DecodeToken(filter.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	q := coll.Where("status", "==", string(domain.OrderStatusPending)).
		Where("paymentStatus", "==", string(domain.PaymentStatusPending)).
		Where("createdAt", "<", filter.CreatedBefore.UTC()).
		OrderBy("createdAt", firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc)
	if !cursor.IsZero() {
		q = q.StartAfter(cursor.CreatedAt, cursor.ID)
	}
	q = q.Limit(limit + 1)

	iter := q.Documents(ctx)
	defer iter.Stop()
	orders := make([]domain.Order, 0, limit+1)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list_stale", err)
		}
		order, err := decodeOrderSnapshot(snap)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("firestore orders decode %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, order)
	}
	return pageOrders(orders, limit)
}

func pageOrders(orders []domain.Order, limit int) (domain.CursorPage[domain.Order], error) {
	page := domain.CursorPage[domain.Order]{Items: orders}
	if len(orders) > limit {
		page.Items = orders[:limit]
		last := page.Items[limit-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}
