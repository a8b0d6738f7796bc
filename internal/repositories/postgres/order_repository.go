package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	domain "github.com/shivaydv/vyomtics-sub001/internal/domain"
	"github.com/shivaydv/vyomtics-sub001/internal/platform/pagination"
	"github.com/shivaydv/vyomtics-sub001/internal/repositories"
)

// OrderRepository stores orders in the orders table.
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository constructs a Postgres-backed order repository.
func NewOrderRepository(db *sql.DB) (*OrderRepository, error) {
	if db == nil {
		return nil, errors.New("order repository requires db")
	}
	return &OrderRepository{db: db}, nil
}

// Insert creates the order row. Duplicate ids, order numbers or processor ids are conflicts.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	items, err := encodeItems(order.Items)
	if err != nil {
		return err
	}
	metadata, err := encodeMetadata(order.PaymentMetadata)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		order.ID, order.OrderNumber, order.UserID, string(order.Status), string(order.PaymentStatus), order.Currency,
		order.Totals.Subtotal, order.Totals.Discount, order.Totals.Shipping, order.Totals.Total,
		order.CouponCode, items, order.ProcessorOrderID, order.ProcessorPaymentID, order.PaymentMethod, metadata,
		order.CreatedAt.UTC(), order.UpdatedAt.UTC(), order.PaidAt, order.FailedAt,
	)
	return mapError("orders.insert", err)
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return findOrder(ctx, r.db, "orders.get", strings.TrimSpace(orderID))
}

// FindByProcessorOrderID resolves the order created for a processor-side order.
func (r *OrderRepository) FindByProcessorOrderID(ctx context.Context, processorOrderID string) (domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE processor_order_id = $1`, strings.TrimSpace(processorOrderID))
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, repositories.NewNotFoundError("orders.find_by_processor", "order")
	}
	if err != nil {
		return domain.Order{}, mapError("orders.find_by_processor", err)
	}
	return order, nil
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

	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE status = 'PENDING' AND payment_status = 'PENDING' AND created_at < $1`
	args := []any{filter.CreatedBefore.UTC()}
	if !cursor.IsZero() {
		query += ` AND (created_at, id) > ($2, $3)`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	args = append(args, limit+1)
	query += ` ORDER BY created_at, id LIMIT $` + itoa(len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, mapError("orders.list_stale", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, limit+1)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, mapError("orders.list_stale", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.Order]{}, mapError("orders.list_stale", err)
	}

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
