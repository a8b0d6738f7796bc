package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domain "github.com/shivaydv/vyomtics-sub001/internal/domain"
	ppostgres "github.com/shivaydv/vyomtics-sub001/internal/platform/postgres"
	"github.com/shivaydv/vyomtics-sub001/internal/repositories"
)

const orderColumns = `id, order_number, user_id, status, payment_status, currency,
	subtotal, discount, shipping, total, coupon_code, items, processor_order_id,
	processor_payment_id, payment_method, payment_metadata, created_at, updated_at, paid_at, failed_at`

type orderItemRow struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Variant     string `json:"variant"`
	UnitPrice   int64  `json:"unitPrice"`
	Quantity    int    `json:"quantity"`
}

type variantRow struct {
	Label string `json:"label"`
	Price int64  `json:"price"`
}

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order         domain.Order
		status        string
		paymentStatus string
		couponCode    sql.NullString
		itemsJSON     []byte
		paymentID     sql.NullString
		paymentMethod sql.NullString
		metadataJSON  []byte
		paidAt        sql.NullTime
		failedAt      sql.NullTime
	)
	err := row.Scan(
		&order.ID, &order.OrderNumber, &order.UserID, &status, &paymentStatus, &order.Currency,
		&order.Totals.Subtotal, &order.Totals.Discount, &order.Totals.Shipping, &order.Totals.Total,
		&couponCode, &itemsJSON, &order.ProcessorOrderID, &paymentID, &paymentMethod, &metadataJSON,
		&order.CreatedAt, &order.UpdatedAt, &paidAt, &failedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.PaymentStatus = domain.PaymentStatus(paymentStatus)
	order.CouponCode = nullStringPtr(couponCode)
	order.ProcessorPaymentID = nullStringPtr(paymentID)
	order.PaymentMethod = nullStringPtr(paymentMethod)
	order.PaidAt = nullTimePtr(paidAt)
	order.FailedAt = nullTimePtr(failedAt)

	var items []orderItemRow
	if err := json.Unmarshal(itemsJSON, &items); err != nil {
		return domain.Order{}, fmt.Errorf("decode order items: %w", err)
	}
	order.Items = make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		order.Items = append(order.Items, domain.OrderItem(item))
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &order.PaymentMetadata); err != nil {
			return domain.Order{}, fmt.Errorf("decode payment metadata: %w", err)
		}
	}
	return order, nil
}

// JSONB parameters are sent as strings; lib/pq would encode []byte as bytea.
func encodeItems(items []domain.OrderItem) (string, error) {
	rows := make([]orderItemRow, 0, len(items))
	for _, item := range items {
		rows = append(rows, orderItemRow(item))
	}
	data, err := json.Marshal(rows)
	return string(data), err
}

func encodeMetadata(metadata map[string]any) (any, error) {
	if metadata == nil {
		return nil, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func findOrder(ctx context.Context, q queryer, op, orderID string) (domain.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, repositories.NewNotFoundError(op, "order")
	}
	if err != nil {
		return domain.Order{}, mapError(op, err)
	}
	return order, nil
}

// mapError classifies lib/pq failures. Ledger and store errors raised inside transactions pass
// through unchanged.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var ledgerErr *repositories.LedgerError
	var storeErr *repositories.StoreError
	if errors.As(err, &ledgerErr) || errors.As(err, &storeErr) {
		return err
	}
	switch {
	case ppostgres.IsUniqueViolation(err):
		return repositories.NewConflictError(op, err)
	case ppostgres.IsTransient(err):
		return &repositories.StoreError{Op: op, Err: err, Unavailable: true}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullInt64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
