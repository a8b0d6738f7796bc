package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/shivaydv/vyomtics-sub001/internal/domain"
	"github.com/shivaydv/vyomtics-sub001/internal/platform/pagination"
	"github.com/shivaydv/vyomtics-sub001/internal/repositories"
)

// Store keeps every record in process memory behind one mutex, which makes each ledger
// operation trivially atomic. It backs local development and tests.
type Store struct {
	mu       sync.Mutex
	orders   map[string]domain.Order
	products map[string]domain.Product
	coupons  map[string]domain.Coupon
	usage    map[string]domain.CouponUsage
	counters map[string]int64
	shipping *domain.ShippingConfig
	now      func() time.Time
}

var _ repositories.Registry = (*Store)(nil)

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		orders:   make(map[string]domain.Order),
		products: make(map[string]domain.Product),
		coupons:  make(map[string]domain.Coupon),
		usage:    make(map[string]domain.CouponUsage),
		counters: make(map[string]int64),
		now:      time.Now,
	}
}

// WithClock overrides the clock used for ledger timestamps.
func (s *Store) WithClock(clock func() time.Time) *Store {
	if clock != nil {
		s.now = clock
	}
	return s
}

func (s *Store) Close(context.Context) error { return nil }
func (s *Store) Ping(context.Context) error  { return nil }

func (s *Store) Orders() repositories.OrderRepository            { return orderRepo{s} }
func (s *Store) Products() repositories.ProductRepository        { return catalogRepo{s} }
func (s *Store) Coupons() repositories.CouponRepository          { return catalogRepo{s} }
func (s *Store) CouponUsage() repositories.CouponUsageRepository { return catalogRepo{s} }
func (s *Store) Shipping() repositories.ShippingConfigRepository { return catalogRepo{s} }
func (s *Store) Counters() repositories.CounterRepository        { return counterRepo{s} }
func (s *Store) Ledger() repositories.OrderLedger                { return ledger{s} }

// PutProduct inserts or replaces a product.
func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	product.Variants = append([]domain.ProductVariant(nil), product.Variants...)
	s.products[product.ID] = product
}

// RemoveProduct deletes a product from the catalog.
func (s *Store) RemoveProduct(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, id)
}

// PutCoupon inserts or replaces a coupon.
func (s *Store) PutCoupon(coupon domain.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coupons[coupon.ID] = coupon
}

// PutCouponUsage inserts or replaces a usage record.
func (s *Store) PutCouponUsage(usage domain.CouponUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[usageKey(usage.CouponID, usage.UserID)] = usage
}

// SetShipping stores the shipping configuration; nil removes it.
func (s *Store) SetShipping(cfg *domain.ShippingConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shipping = cfg
}

// Product returns the current state of a product.
func (s *Store) Product(id string) (domain.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	return p, ok
}

// Coupon returns the current state of a coupon.
func (s *Store) Coupon(id string) (domain.Coupon, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[id]
	return c, ok
}

// Usage returns the current usage record for a coupon and user.
func (s *Store) Usage(couponID, userID string) (domain.CouponUsage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.usage[usageKey(couponID, userID)]
	return u, ok
}

// OrderCount reports how many orders exist.
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func usageKey(couponID, userID string) string {
	return couponID + "\x00" + userID
}

func (s *Store) couponByCodeLocked(code string) (domain.Coupon, bool) {
	for _, c := range s.coupons {
		if c.Code == code {
			return c, true
		}
	}
	return domain.Coupon{}, false
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = append([]domain.OrderItem(nil), order.Items...)
	if order.PaymentMetadata != nil {
		order.PaymentMetadata = repositories.MergeMetadata(order.PaymentMetadata, nil)
	}
	return order
}

type orderRepo struct{ s *Store }

func (r orderRepo) Insert(_ context.Context, order domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if strings.TrimSpace(order.ID) == "" {
		return repositories.NewConflictError("orders.insert", errors.New("order id is required"))
	}
	if _, exists := r.s.orders[order.ID]; exists {
		return repositories.NewConflictError("orders.insert", errors.New("order already exists"))
	}
	for _, existing := range r.s.orders {
		if existing.ProcessorOrderID != "" && existing.ProcessorOrderID == order.ProcessorOrderID {
			return repositories.NewConflictError("orders.insert", errors.New("processor order id already used"))
		}
	}
	r.s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r orderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order, ok := r.s.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("orders.get", "order")
	}
	return cloneOrder(order), nil
}

func (r orderRepo) FindByProcessorOrderID(_ context.Context, processorOrderID string) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, order := range r.s.orders {
		if processorOrderID != "" && order.ProcessorOrderID == processorOrderID {
			return cloneOrder(order), nil
		}
	}
	return domain.Order{}, repositories.NewNotFoundError("orders.find_by_processor", "order")
}

func (r orderRepo) ListStalePending(_ context.Context, filter repositories.StaleOrderFilter) (domain.CursorPage[domain.Order], error) {
	limit := filter.PageSize
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}
	cursor, err := pagination.DecodeToken(filter.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	r.s.mu.Lock()
	matches := make([]domain.Order, 0)
	for _, order := range r.s.orders {
		if !order.IsAwaitingPayment() || !order.CreatedAt.Before(filter.CreatedBefore) {
			continue
		}
		if !cursor.After(order.CreatedAt, order.ID) {
			continue
		}
		matches = append(matches, cloneOrder(order))
	}
	r.s.mu.Unlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})

	page := domain.CursorPage[domain.Order]{Items: matches}
	if len(matches) > limit {
		page.Items = matches[:limit]
		last := page.Items[limit-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

type catalogRepo struct{ s *Store }

func (r catalogRepo) FindByID(_ context.Context, productID string) (domain.Product, error) {
	product, ok := r.s.Product(productID)
	if !ok {
		return domain.Product{}, repositories.NewNotFoundError("products.get", "product")
	}
	return product, nil
}

func (r catalogRepo) FindByCode(_ context.Context, code string) (domain.Coupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	coupon, ok := r.s.couponByCodeLocked(code)
	if !ok {
		return domain.Coupon{}, repositories.NewNotFoundError("coupons.find", "coupon")
	}
	return coupon, nil
}

func (r catalogRepo) Find(_ context.Context, couponID, userID string) (domain.CouponUsage, error) {
	usage, ok := r.s.Usage(couponID, userID)
	if !ok {
		return domain.CouponUsage{}, repositories.NewNotFoundError("coupon_usage.get", "coupon usage")
	}
	return usage, nil
}

func (r catalogRepo) Get(context.Context) (domain.ShippingConfig, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.shipping == nil {
		return domain.ShippingConfig{}, repositories.NewNotFoundError("config.shipping", "shipping config")
	}
	return *r.s.shipping, nil
}

type counterRepo struct{ s *Store }

func (r counterRepo) Next(_ context.Context, counterID string, step int64) (int64, error) {
	if strings.TrimSpace(counterID) == "" || step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, counterID, "invalid counter request", nil)
	}
	if step == 0 {
		step = 1
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.counters[counterID] += step
	return r.s.counters[counterID], nil
}
