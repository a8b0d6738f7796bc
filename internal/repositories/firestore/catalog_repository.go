package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/iterator"

	domain "github.com/shivaydv/vyomtics-sub001/internal/domain"
	pfirestore "github.com/shivaydv/vyomtics-sub001/internal/platform/firestore"
	"github.com/shivaydv/vyomtics-sub001/internal/repositories"
)

// CatalogRepository reads products, coupons, coupon usage and shipping configuration. It
// implements ProductRepository, CouponRepository, CouponUsageRepository and
// ShippingConfigRepository.
type CatalogRepository struct {
	provider *pfirestore.Provider
}

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{provider: provider}, nil
}

// FindByID loads the stock projection of a product.
func (r *CatalogRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, repositories.NewNotFoundError("products.get", "product")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	snap, err := client.Collection(productsCollection).Doc(id).Get(ctx)
	if err != nil {
		return domain.Product{}, pfirestore.WrapError("products.get", err)
	}
	var doc productDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Product{}, fmt.Errorf("firestore products decode %s: %w", id, err)
	}
	return decodeProduct(id, doc), nil
}

// FindByCode looks up a coupon by its normalised code.
func (r *CatalogRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Coupon{}, repositories.NewNotFoundError("coupons.find", "coupon")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Coupon{}, err
	}
	iter := client.Collection(couponsCollection).Where("code", "==", code).Limit(1).Documents(ctx)
	defer iter.Stop()
	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.Coupon{}, repositories.NewNotFoundError("coupons.find", "coupon")
	}
	if err != nil {
		return domain.Coupon{}, pfirestore.WrapError("coupons.find", err)
	}
	var doc couponDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Coupon{}, fmt.Errorf("firestore coupons decode %s: %w", snap.Ref.ID, err)
	}
	return decodeCoupon(snap.Ref.ID, doc), nil
}

// Find returns the redemption counter for a coupon and user.
func (r *CatalogRepository) Find(ctx context.Context, couponID, userID string) (domain.CouponUsage, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CouponUsage{}, err
	}
	snap, err := client.Collection(couponUsageCollection).Doc(couponUsageID(couponID, userID)).Get(ctx)
	if err != nil {
		return domain.CouponUsage{}, pfirestore.WrapError("coupon_usage.get", err)
	}
	var doc couponUsageDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.CouponUsage{}, fmt.Errorf("firestore coupon usage decode: %w", err)
	}
	return domain.CouponUsage{
		CouponID:   doc.CouponID,
		UserID:     doc.UserID,
		UsedCount:  doc.UsedCount,
		LastUsedAt: doc.LastUsedAt,
	}, nil
}

// Get reads /config/shipping.
func (r *CatalogRepository) Get(ctx context.Context) (domain.ShippingConfig, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.ShippingConfig{}, err
	}
	snap, err := client.Collection(configCollection).Doc(shippingConfigDocument).Get(ctx)
	if err != nil {
		return domain.ShippingConfig{}, pfirestore.WrapError("config.shipping", err)
	}
	var doc shippingDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.ShippingConfig{}, fmt.Errorf("firestore shipping decode: %w", err)
	}
	return domain.ShippingConfig{
		FlatCharge:            doc.FlatCharge,
		FreeShippingThreshold: doc.FreeShippingThreshold,
	}, nil
}
