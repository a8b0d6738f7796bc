package domain

import (
	"time"
)

// OrderStatus enumerates lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates checkout was initiated and no payment outcome is known yet.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusProcessing indicates payment succeeded and the order awaits fulfilment.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusFailed indicates the payment attempt failed or could not be verified.
	OrderStatusFailed OrderStatus = "FAILED"
	// OrderStatusShipped indicates the order has been handed to a carrier.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled indicates the order was cancelled by staff.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// PaymentStatus is the authoritative guard field for payment reconciliation.
type PaymentStatus string

const (
	// PaymentStatusPending indicates no terminal payment outcome has been recorded.
	PaymentStatusPending PaymentStatus = "PENDING"
	// PaymentStatusSuccess indicates the processor reported a verified capture.
	PaymentStatusSuccess PaymentStatus = "SUCCESS"
	// PaymentStatusFailed indicates the payment failed or its verification failed.
	PaymentStatusFailed PaymentStatus = "FAILED"
)

// Order is the aggregate root of the reconciliation workflow.
type Order struct {
	ID                 string
	OrderNumber        string
	UserID             string
	Status             OrderStatus
	PaymentStatus      PaymentStatus
	Currency           string
	Totals             OrderTotals
	CouponCode         *string
	Items              []OrderItem
	ProcessorOrderID   string
	ProcessorPaymentID *string
	PaymentMethod      *string
	PaymentMetadata    map[string]any
	CreatedAt          time.Time
	UpdatedAt          time.Time
	PaidAt             *time.Time
	FailedAt           *time.Time
}

// IsAwaitingPayment reports whether the order is still in its initial state.
func (o Order) IsAwaitingPayment() bool {
	return o.Status == OrderStatusPending && o.PaymentStatus == PaymentStatusPending
}

// OrderTotals holds monetary fields in the smallest currency unit.
type OrderTotals struct {
	Subtotal int64
	Discount int64
	Shipping int64
	Total    int64
}

// OrderItem snapshots a purchased product variant at initiation time.
type OrderItem struct {
	ProductID   string
	ProductName string
	Variant     string
	UnitPrice   int64
	Quantity    int
}

// LineTotal returns UnitPrice multiplied by Quantity.
func (i OrderItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// StockRequirements aggregates ordered quantities per product.
func StockRequirements(items []OrderItem) []StockRequirement {
	index := make(map[string]int, len(items))
	out := make([]StockRequirement, 0, len(items))
	for _, item := range items {
		if pos, ok := index[item.ProductID]; ok {
			out[pos].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(out)
		out = append(out, StockRequirement{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return out
}

// StockRequirement is a (product, quantity) pair consumed by stock deduction.
type StockRequirement struct {
	ProductID string
	Quantity  int
}

// DiscountType enumerates supported coupon discount kinds.
type DiscountType string

const (
	// DiscountTypePercentage discounts a percentage of the subtotal, optionally capped.
	DiscountTypePercentage DiscountType = "PERCENTAGE"
	// DiscountTypeFlat discounts a fixed amount.
	DiscountTypeFlat DiscountType = "FLAT"
)

// Coupon is a discount rule keyed by a unique uppercase code.
type Coupon struct {
	ID               string
	Code             string
	DiscountType     DiscountType
	Value            int64
	MinOrderValue    *int64
	MaxDiscount      *int64
	ExpiresAt        *time.Time
	GlobalUsageLimit *int64
	PerUserLimit     *int64
	TotalUsed        int64
	Active           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CouponUsage counts how often a user redeemed a coupon.
type CouponUsage struct {
	CouponID   string
	UserID     string
	UsedCount  int64
	LastUsedAt time.Time
}

// Product is the stock-relevant projection of a catalog product.
type Product struct {
	ID        string
	Name      string
	Stock     int
	Variants  []ProductVariant
	UpdatedAt time.Time
}

// Variant returns the variant matching label.
func (p Product) Variant(label string) (ProductVariant, bool) {
	for _, v := range p.Variants {
		if v.Label == label {
			return v, true
		}
	}
	return ProductVariant{}, false
}

// ProductVariant carries the authoritative price for a product option such as weight or size.
type ProductVariant struct {
	Label string
	Price int64
}

// ShippingConfig controls shipping charges. Nil fields disable the corresponding rule.
type ShippingConfig struct {
	FlatCharge            *int64
	FreeShippingThreshold *int64
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
