package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	domain "github.com/shivaydv/vyomtics-sub001/internal/domain"
	ppostgres "github.com/shivaydv/vyomtics-sub001/internal/platform/postgres"
	"github.com/shivaydv/vyomtics-sub001/internal/repositories"
)

// Ledger implements repositories.OrderLedger with conditional updates. The order row's
// payment_status = 'PENDING' predicate is the guard: the first transaction to update it holds
// the row lock and every concurrent one re-evaluates the predicate and matches zero rows.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// NewLedger constructs a Postgres ledger.
func NewLedger(db *sql.DB) (*Ledger, error) {
	if db == nil {
		return nil, errors.New("ledger requires db")
	}
	return &Ledger{db: db, now: time.Now}, nil
}

// ApplyPaymentSuccess marks the order paid, deducts stock and records coupon usage.
func (l *Ledger) ApplyPaymentSuccess(ctx context.Context, payment repositories.PaymentSuccess) (repositories.LedgerResult, error) {
	orderID := strings.TrimSpace(payment.OrderID)
	paidAt := payment.PaidAt.UTC()
	if paidAt.IsZero() {
		paidAt = l.now().UTC()
	}
	metadata, err := encodeMetadata(payment.Metadata)
	if err != nil {
		return repositories.LedgerResult{}, err
	}

	var result repositories.LedgerResult
	err = ppostgres.InTx(ctx, l.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `UPDATE orders SET status = $2, payment_status = $3,
				processor_payment_id = $4, payment_method = $5, payment_metadata = $6, paid_at = $7, updated_at = $7
			WHERE id = $1 AND payment_status = 'PENDING'
			RETURNING `+orderColumns,
			orderID, string(domain.OrderStatusProcessing), string(domain.PaymentStatusSuccess),
			nullIfEmpty(payment.PaymentID), payment.Method, metadata, paidAt)
		order, err := scanOrder(row)
		if errors.Is(err, sql.ErrNoRows) {
			current, err := findOrder(ctx, tx, "ledger.success", orderID)
			if err != nil {
				return err
			}
			result = repositories.LedgerResult{Outcome: repositories.LedgerConflict, Order: current}
			if current.PaymentStatus == domain.PaymentStatusSuccess {
				result.Outcome = repositories.LedgerAlreadyApplied
			}
			return nil
		}
		if err != nil {
			return err
		}

		for _, req := range domain.StockRequirements(order.Items) {
			res, err := tx.ExecContext(ctx, `UPDATE products SET stock = stock - $2, updated_at = $3
				WHERE id = $1 AND stock >= $2`, req.ProductID, req.Quantity, paidAt)
			if err != nil {
				return err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if affected == 0 {
				return stockShortfall(ctx, tx, req)
			}
		}

		if order.CouponCode != nil && *order.CouponCode != "" {
			var couponID string
			err := tx.QueryRowContext(ctx, `UPDATE coupons SET total_used = total_used + 1, updated_at = $2
				WHERE code = $1 RETURNING id`, *order.CouponCode, paidAt).Scan(&couponID)
			switch {
			case errors.Is(err, sql.ErrNoRows):
			case err != nil:
				return err
			default:
				if _, err := tx.ExecContext(ctx, `INSERT INTO coupon_usage (coupon_id, user_id, used_count, last_used_at)
					VALUES ($1, $2, 1, $3)
					ON CONFLICT (coupon_id, user_id) DO UPDATE SET used_count = coupon_usage.used_count + 1,
						last_used_at = EXCLUDED.last_used_at`, couponID, order.UserID, paidAt); err != nil {
					return err
				}
			}
		}

		result = repositories.LedgerResult{Outcome: repositories.LedgerApplied, Order: order}
		return nil
	})
	if err != nil {
		return repositories.LedgerResult{}, mapError("ledger.success", err)
	}
	return result, nil
}

func stockShortfall(ctx context.Context, tx *sql.Tx, req domain.StockRequirement) error {
	var available int
	err := tx.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, req.ProductID).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return &repositories.LedgerError{
			Op:        "ledger.success",
			Code:      repositories.LedgerErrorProductMissing,
			ProductID: req.ProductID,
			Requested: req.Quantity,
		}
	}
	if err != nil {
		return err
	}
	return repositories.NewInsufficientStockError("ledger.success", req.ProductID, req.Quantity, available)
}

// ApplyPaymentFailure marks a pending order failed, merging metadata into the stored value.
func (l *Ledger) ApplyPaymentFailure(ctx context.Context, failure repositories.PaymentFailure) (repositories.LedgerResult, error) {
	orderID := strings.TrimSpace(failure.OrderID)
	failedAt := failure.FailedAt.UTC()
	if failedAt.IsZero() {
		failedAt = l.now().UTC()
	}
	metadata, err := encodeMetadata(failure.Metadata)
	if err != nil {
		return repositories.LedgerResult{}, err
	}

	var result repositories.LedgerResult
	err = ppostgres.InTx(ctx, l.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `UPDATE orders SET status = $2, payment_status = $3,
				payment_metadata = COALESCE(payment_metadata, '{}'::jsonb) || COALESCE($4::jsonb, '{}'::jsonb),
				failed_at = $5, updated_at = $5
			WHERE id = $1 AND payment_status = 'PENDING'
			RETURNING `+orderColumns,
			orderID, string(domain.OrderStatusFailed), string(domain.PaymentStatusFailed), metadata, failedAt)
		order, err := scanOrder(row)
		if errors.Is(err, sql.ErrNoRows) {
			current, err := findOrder(ctx, tx, "ledger.failure", orderID)
			if err != nil {
				return err
			}
			result = repositories.LedgerResult{Outcome: repositories.LedgerConflict, Order: current}
			if current.PaymentStatus == domain.PaymentStatusFailed {
				result.Outcome = repositories.LedgerAlreadyApplied
			}
			return nil
		}
		if err != nil {
			return err
		}
		result = repositories.LedgerResult{Outcome: repositories.LedgerApplied, Order: order}
		return nil
	})
	if err != nil {
		return repositories.LedgerResult{}, mapError("ledger.failure", err)
	}
	return result, nil
}

// DeletePending removes an order owned by userID that is still awaiting payment.
func (l *Ledger) DeletePending(ctx context.Context, orderID, userID string) (repositories.LedgerResult, error) {
	orderID = strings.TrimSpace(orderID)

	var result repositories.LedgerResult
	err := ppostgres.InTx(ctx, l.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `DELETE FROM orders
			WHERE id = $1 AND user_id = $2 AND status = 'PENDING' AND payment_status = 'PENDING'
			RETURNING `+orderColumns, orderID, userID)
		order, err := scanOrder(row)
		if errors.Is(err, sql.ErrNoRows) {
			current, err := findOrder(ctx, tx, "ledger.delete", orderID)
			if err != nil {
				return err
			}
			if current.UserID != userID {
				return repositories.NewNotFoundError("ledger.delete", "order")
			}
			result = repositories.LedgerResult{Outcome: repositories.LedgerConflict, Order: current}
			return nil
		}
		if err != nil {
			return err
		}
		result = repositories.LedgerResult{Outcome: repositories.LedgerApplied, Order: order}
		return nil
	})
	if err != nil {
		return repositories.LedgerResult{}, mapError("ledger.delete", err)
	}
	return result, nil
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
