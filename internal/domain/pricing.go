package domain

// PricingBreakdown captures the monetary results of pricing a checkout.
type PricingBreakdown struct {
	Currency string
	Subtotal int64
	Discount int64
	Shipping int64
	Total    int64
	Coupon   *DiscountBreakdown
}

// DiscountBreakdown describes the coupon adjustment applied to the checkout.
type DiscountBreakdown struct {
	Code   string
	Type   DiscountType
	Amount int64
	Capped bool
}
