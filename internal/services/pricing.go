package services

import (
	"time"

	domain "github.com/shivaydv/vyomtics-sub001/internal/domain"
)

// Coupon rejection codes surfaced in CouponInvalidError.Code.
const (
	CouponReasonNotFound      = "coupon_not_found"
	CouponReasonInactive      = "coupon_inactive"
	CouponReasonExpired       = "coupon_expired"
	CouponReasonMinOrderValue = "coupon_min_order_value"
	CouponReasonGlobalLimit   = "coupon_usage_limit_reached"
	CouponReasonPerUserLimit  = "coupon_user_limit_reached"
	CouponReasonUnsupported   = "coupon_unsupported_type"
	// CouponReasonZeroTotal rejects coupons that leave nothing to charge; processors refuse zero amounts.
	CouponReasonZeroTotal = "coupon_zero_total"
)

// validateCoupon applies the initiation-time coupon rules. usedByUser is the caller's redemption
// count, zero when no usage record exists. Limits are not re-checked when the payment succeeds.
func validateCoupon(coupon domain.Coupon, usedByUser int64, subtotal int64, now time.Time) error {
	switch {
	case !coupon.Active:
		return &CouponInvalidError{Code: CouponReasonInactive, Reason: "coupon is not active"}
	case coupon.ExpiresAt != nil && now.After(*coupon.ExpiresAt):
		return &CouponInvalidError{Code: CouponReasonExpired, Reason: "coupon has expired"}
	case coupon.MinOrderValue != nil && subtotal < *coupon.MinOrderValue:
		return &CouponInvalidError{Code: CouponReasonMinOrderValue, Reason: "order subtotal is below the coupon minimum"}
	case coupon.GlobalUsageLimit != nil && coupon.TotalUsed >= *coupon.GlobalUsageLimit:
		return &CouponInvalidError{Code: CouponReasonGlobalLimit, Reason: "coupon usage limit reached"}
	case coupon.PerUserLimit != nil && usedByUser >= *coupon.PerUserLimit:
		return &CouponInvalidError{Code: CouponReasonPerUserLimit, Reason: "coupon already used the maximum number of times"}
	}
	switch coupon.DiscountType {
	case domain.DiscountTypePercentage, domain.DiscountTypeFlat:
		return nil
	default:
		return &CouponInvalidError{Code: CouponReasonUnsupported, Reason: "coupon discount type is not supported"}
	}
}

// computeDiscount returns the coupon discount clamped to [0, subtotal] and whether MaxDiscount capped it.
func computeDiscount(coupon domain.Coupon, subtotal int64) (int64, bool) {
	var discount int64
	capped := false
	switch coupon.DiscountType {
	case domain.DiscountTypePercentage:
		discount = subtotal * coupon.Value / 100
		if coupon.MaxDiscount != nil && discount > *coupon.MaxDiscount {
			discount = *coupon.MaxDiscount
			capped = true
		}
	case domain.DiscountTypeFlat:
		discount = coupon.Value
	}
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	return discount, capped
}

// computeShipping charges the flat rate unless the discounted subtotal reaches the free threshold.
func computeShipping(cfg domain.ShippingConfig, discountedSubtotal int64) int64 {
	if cfg.FlatCharge == nil {
		return 0
	}
	if cfg.FreeShippingThreshold != nil && discountedSubtotal >= *cfg.FreeShippingThreshold {
		return 0
	}
	return *cfg.FlatCharge
}

// priceCheckout combines subtotal, optional coupon and shipping into the order totals.
func priceCheckout(currency string, subtotal int64, coupon *domain.Coupon, shipping domain.ShippingConfig) domain.PricingBreakdown {
	breakdown := domain.PricingBreakdown{Currency: currency, Subtotal: subtotal}
	if coupon != nil {
		amount, capped := computeDiscount(*coupon, subtotal)
		breakdown.Discount = amount
		breakdown.Coupon = &domain.DiscountBreakdown{
			Code:   coupon.Code,
			Type:   coupon.DiscountType,
			Amount: amount,
			Capped: capped,
		}
	}
	breakdown.Shipping = computeShipping(shipping, subtotal-breakdown.Discount)
	breakdown.Total = subtotal - breakdown.Discount + breakdown.Shipping
	return breakdown
}
