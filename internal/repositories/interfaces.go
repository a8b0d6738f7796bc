package repositories

import (
	"context"
	"time"

	domain "github.com/shivaydv/vyomtics-sub001/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
// Each storage backend (Firestore, Postgres, memory) provides one.
type Registry interface {
	Close(ctx context.Context) error
	Ping(ctx context.Context) error

	Orders() OrderRepository
	Products() ProductRepository
	Coupons() CouponRepository
	CouponUsage() CouponUsageRepository
	Shipping() ShippingConfigRepository
	Counters() CounterRepository
	Ledger() OrderLedger
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists order aggregates. Payment-status transitions go through OrderLedger.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByProcessorOrderID(ctx context.Context, processorOrderID string) (domain.Order, error)
	ListStalePending(ctx context.Context, filter StaleOrderFilter) (domain.CursorPage[domain.Order], error)
}

// StaleOrderFilter selects orders still awaiting payment that were created before CreatedBefore.
type StaleOrderFilter struct {
	CreatedBefore time.Time
	PageSize      int
	PageToken     string
}

// ProductRepository reads the stock projection of catalog products.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
}

// CouponRepository looks up coupons by their normalised code.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
}

// CouponUsageRepository reads per-user redemption counters. A missing record is reported as
// not found and means the user never redeemed the coupon.
type CouponUsageRepository interface {
	Find(ctx context.Context, couponID, userID string) (domain.CouponUsage, error)
}

// ShippingConfigRepository reads the store-wide shipping rules.
type ShippingConfigRepository interface {
	Get(ctx context.Context) (domain.ShippingConfig, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// LedgerOutcome reports what a ledger operation did.
type LedgerOutcome string

const (
	// LedgerApplied means the guarded write was committed.
	LedgerApplied LedgerOutcome = "applied"
	// LedgerAlreadyApplied means the order already carried the requested terminal state.
	LedgerAlreadyApplied LedgerOutcome = "already_applied"
	// LedgerConflict means the order is in a state that forbids the write; nothing was changed.
	LedgerConflict LedgerOutcome = "conflict"
)

// LedgerResult carries the outcome and the order as it is after the operation.
type LedgerResult struct {
	Outcome LedgerOutcome
	Order   domain.Order
}

// PaymentSuccess describes a verified capture.
type PaymentSuccess struct {
	OrderID   string
	PaymentID string
	Method    *string
	Metadata  map[string]any
	PaidAt    time.Time
}

// PaymentFailure describes a failed or unverifiable payment. Metadata is merged into the
// order's existing payment metadata.
type PaymentFailure struct {
	OrderID  string
	Metadata map[string]any
	FailedAt time.Time
}

// OrderLedger performs the guarded, atomic order transitions. Every method reads the current
// payment status and writes in the same transaction so concurrent callers cannot both apply.
type OrderLedger interface {
	// ApplyPaymentSuccess marks a pending order paid, deducts stock for every item and counts
	// coupon usage. Insufficient stock aborts with *LedgerError and nothing is written.
	ApplyPaymentSuccess(ctx context.Context, payment PaymentSuccess) (LedgerResult, error)
	// ApplyPaymentFailure marks a pending order failed.
	ApplyPaymentFailure(ctx context.Context, failure PaymentFailure) (LedgerResult, error)
	// DeletePending removes an order owned by userID while it is still awaiting payment. An
	// order owned by someone else is reported as not found.
	DeletePending(ctx context.Context, orderID, userID string) (LedgerResult, error)
}
