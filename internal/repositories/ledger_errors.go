package repositories

import "fmt"

// LedgerErrorCode enumerates business failures raised inside ledger transactions.
type LedgerErrorCode string

const (
	// LedgerErrorInsufficientStock indicates a product no longer has enough stock for the order.
	LedgerErrorInsufficientStock LedgerErrorCode = "ledger_insufficient_stock"
	// LedgerErrorProductMissing indicates an ordered product no longer exists.
	LedgerErrorProductMissing LedgerErrorCode = "ledger_product_missing"
)

// LedgerError aborts a ledger transaction. Nothing the transaction touched is persisted.
type LedgerError struct {
	Op        string
	Code      LedgerErrorCode
	ProductID string
	Requested int
	Available int
}

// Error implements the error interface.
func (e *LedgerError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: product %s requested %d available %d", e.Code, e.ProductID, e.Requested, e.Available)
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// NewInsufficientStockError constructs the error raised when stock cannot cover requested.
func NewInsufficientStockError(op, productID string, requested, available int) *LedgerError {
	return &LedgerError{
		Op:        op,
		Code:      LedgerErrorInsufficientStock,
		ProductID: productID,
		Requested: requested,
		Available: available,
	}
}

// StoreError is the RepositoryError used by the SQL and in-memory backends.
type StoreError struct {
	Op          string
	Err         error
	NotFound    bool
	Conflict    bool
	Unavailable bool
}

func (e *StoreError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsNotFound reports a missing record.
func (e *StoreError) IsNotFound() bool { return e != nil && e.NotFound }

// IsConflict reports a uniqueness or state conflict.
func (e *StoreError) IsConflict() bool { return e != nil && e.Conflict }

// IsUnavailable reports a transient backend outage.
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Unavailable }

// NewNotFoundError reports that what could not be found.
func NewNotFoundError(op, what string) *StoreError {
	return &StoreError{Op: op, Err: fmt.Errorf("%s not found", what), NotFound: true}
}

// NewConflictError reports a uniqueness conflict.
func NewConflictError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err, Conflict: true}
}

// MergeMetadata returns a copy of base with every key of extra applied on top.
func MergeMetadata(base, extra map[string]any) map[string]any {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
