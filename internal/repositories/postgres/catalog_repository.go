package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	domain "github.com/shivaydv/vyomtics-sub001/internal/domain"
	"github.com/shivaydv/vyomtics-sub001/internal/repositories"
)

// CatalogRepository reads products, coupons, coupon usage and shipping configuration.
type CatalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository constructs a Postgres-backed catalog repository.
func NewCatalogRepository(db *sql.DB) (*CatalogRepository, error) {
	if db == nil {
		return nil, errors.New("catalog repository requires db")
	}
	return &CatalogRepository{db: db}, nil
}

// FindByID loads the stock projection of a product.
func (r *CatalogRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	var (
		product      domain.Product
		variantsJSON []byte
	)
	err := r.db.QueryRowContext(ctx, `SELECT id, name, stock, variants, updated_at FROM products WHERE id = $1`, productID).
		Scan(&product.ID, &product.Name, &product.Stock, &variantsJSON, &product.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, repositories.NewNotFoundError("products.get", "product")
	}
	if err != nil {
		return domain.Product{}, mapError("products.get", err)
	}
	var variants []variantRow
	if err := json.Unmarshal(variantsJSON, &variants); err != nil {
		return domain.Product{}, fmt.Errorf("decode variants for %s: %w", productID, err)
	}
	for _, v := range variants {
		product.Variants = append(product.Variants, domain.ProductVariant(v))
	}
	return product, nil
}

// FindByCode looks up a coupon by its normalised code.
func (r *CatalogRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	var (
		coupon       domain.Coupon
		discountType string
		minOrder     sql.NullInt64
		maxDiscount  sql.NullInt64
		expiresAt    sql.NullTime
		globalLimit  sql.NullInt64
		perUserLimit sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `SELECT id, code, discount_type, value, min_order_value, max_discount,
			expires_at, global_usage_limit, per_user_limit, total_used, active, created_at, updated_at
		FROM coupons WHERE code = $1`, code).Scan(
		&coupon.ID, &coupon.Code, &discountType, &coupon.Value, &minOrder, &maxDiscount,
		&expiresAt, &globalLimit, &perUserLimit, &coupon.TotalUsed, &coupon.Active, &coupon.CreatedAt, &coupon.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Coupon{}, repositories.NewNotFoundError("coupons.find", "coupon")
	}
	if err != nil {
		return domain.Coupon{}, mapError("coupons.find", err)
	}
	coupon.DiscountType = domain.DiscountType(discountType)
	coupon.MinOrderValue = nullInt64Ptr(minOrder)
	coupon.MaxDiscount = nullInt64Ptr(maxDiscount)
	coupon.ExpiresAt = nullTimePtr(expiresAt)
	coupon.GlobalUsageLimit = nullInt64Ptr(globalLimit)
	coupon.PerUserLimit = nullInt64Ptr(perUserLimit)
	return coupon, nil
}

// Find returns the redemption counter for a coupon and user.
func (r *CatalogRepository) Find(ctx context.Context, couponID, userID string) (domain.CouponUsage, error) {
	usage := domain.CouponUsage{CouponID: couponID, UserID: userID}
	err := r.db.QueryRowContext(ctx, `SELECT used_count, last_used_at FROM coupon_usage WHERE coupon_id = $1 AND user_id = $2`,
		couponID, userID).Scan(&usage.UsedCount, &usage.LastUsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CouponUsage{}, repositories.NewNotFoundError("coupon_usage.get", "coupon usage")
	}
	if err != nil {
		return domain.CouponUsage{}, mapError("coupon_usage.get", err)
	}
	return usage, nil
}

// Get reads the single shipping_config row.
func (r *CatalogRepository) Get(ctx context.Context) (domain.ShippingConfig, error) {
	var flat, threshold sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT flat_charge, free_shipping_threshold FROM shipping_config WHERE id = 1`).
		Scan(&flat, &threshold)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ShippingConfig{}, repositories.NewNotFoundError("config.shipping", "shipping config")
	}
	if err != nil {
		return domain.ShippingConfig{}, mapError("config.shipping", err)
	}
	return domain.ShippingConfig{
		FlatCharge:            nullInt64Ptr(flat),
		FreeShippingThreshold: nullInt64Ptr(threshold),
	}, nil
}

func itoa(n int) string { return strconv.Itoa(n) }
