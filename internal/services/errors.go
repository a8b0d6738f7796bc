package services

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/shivaydv/vyomtics-sub001/internal/domain"
	"github.com/shivaydv/vyomtics-sub001/internal/repositories"
)

var (
	// ErrOrderInvalidInput indicates the caller supplied invalid parameters.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order, or a product it references, does not exist for the caller.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderNotAbandonable indicates the order left its initial state and cannot be deleted.
	ErrOrderNotAbandonable = errors.New("order: not abandonable")
	// ErrInsufficientStock indicates stock cannot cover the ordered quantity.
	ErrInsufficientStock = errors.New("order: insufficient stock")
	// ErrPriceMismatch indicates the client-submitted price differs from the catalog price.
	ErrPriceMismatch = errors.New("checkout: price mismatch")
	// ErrCouponInvalid indicates the coupon cannot be applied to this checkout.
	ErrCouponInvalid = errors.New("checkout: coupon invalid")
	// ErrOrderUnavailable indicates a dependency failed; callers may retry.
	ErrOrderUnavailable = errors.New("order: unavailable")
	// ErrWebhookSignatureInvalid indicates the webhook body failed signature verification.
	ErrWebhookSignatureInvalid = errors.New("webhook: signature invalid")
)

// InsufficientStockError reports the product that ran short.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%s: product %s requested %d available %d", ErrInsufficientStock, e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// ProductMissingError reports an ordered product that no longer exists when payment is applied.
type ProductMissingError struct {
	ProductID string
}

func (e *ProductMissingError) Error() string {
	return fmt.Sprintf("%s: product %s", ErrOrderNotFound, e.ProductID)
}

func (e *ProductMissingError) Unwrap() error { return ErrOrderNotFound }

// PriceMismatchError reports the authoritative price the client should have submitted.
type PriceMismatchError struct {
	ProductID string
	Variant   string
	Submitted int64
	Expected  int64
}

func (e *PriceMismatchError) Error() string {
	return fmt.Sprintf("%s: product %s variant %s submitted %d expected %d", ErrPriceMismatch, e.ProductID, e.Variant, e.Submitted, e.Expected)
}

func (e *PriceMismatchError) Unwrap() error { return ErrPriceMismatch }

// CouponInvalidError carries a machine-readable reason.
type CouponInvalidError struct {
	Code   string
	Reason string
}

func (e *CouponInvalidError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", ErrCouponInvalid, e.Code, e.Reason)
}

func (e *CouponInvalidError) Unwrap() error { return ErrCouponInvalid }

// NotAbandonableError reports the state that prevented deletion.
type NotAbandonableError struct {
	Status        domain.OrderStatus
	PaymentStatus domain.PaymentStatus
}

func (e *NotAbandonableError) Error() string {
	return fmt.Sprintf("%s: status %s payment %s", ErrOrderNotAbandonable, e.Status, e.PaymentStatus)
}

func (e *NotAbandonableError) Unwrap() error { return ErrOrderNotAbandonable }

// translateRepoError maps persistence failures onto the service sentinels.
func translateRepoError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var ledgerErr *repositories.LedgerError
	if errors.As(err, &ledgerErr) {
		switch ledgerErr.Code {
		case repositories.LedgerErrorProductMissing:
			return &ProductMissingError{ProductID: ledgerErr.ProductID}
		case repositories.LedgerErrorInsufficientStock:
			return &InsufficientStockError{
				ProductID: ledgerErr.ProductID,
				Requested: ledgerErr.Requested,
				Available: ledgerErr.Available,
			}
		}
		return fmt.Errorf("%w: %s: %v", ErrOrderUnavailable, op, err)
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s", ErrOrderNotFound, op)
		case repoErr.IsConflict(), repoErr.IsUnavailable():
			return fmt.Errorf("%w: %s: %v", ErrOrderUnavailable, op, err)
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrOrderUnavailable, op, err)
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
