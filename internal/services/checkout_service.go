package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/shivaydv/vyomtics-sub001/internal/domain"
	"github.com/shivaydv/vyomtics-sub001/internal/payments"
	"github.com/shivaydv/vyomtics-sub001/internal/platform/textutil"
	"github.com/shivaydv/vyomtics-sub001/internal/repositories"
)

const defaultCheckoutCurrency = "INR"

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Orders          repositories.OrderRepository
	Products        repositories.ProductRepository
	Coupons         repositories.CouponRepository
	CouponUsage     repositories.CouponUsageRepository
	Shipping        repositories.ShippingConfigRepository
	OrderNumbers    OrderNumberAllocator
	Processor       PaymentProcessor
	Events          OrderEventPublisher
	Views           ViewInvalidator
	DefaultShipping domain.ShippingConfig
	DefaultCurrency string
	Clock           func() time.Time
	Logger          Logger
	// IDGenerator produces order ids; EventIDGenerator produces order event ids.
	IDGenerator      func() string
	EventIDGenerator func() string
	Spawn            func(func())
}

type checkoutService struct {
	orders          repositories.OrderRepository
	products        repositories.ProductRepository
	coupons         repositories.CouponRepository
	usage           repositories.CouponUsageRepository
	shipping        repositories.ShippingConfigRepository
	orderNumbers    OrderNumberAllocator
	processor       PaymentProcessor
	notifier        orderNotifier
	defaultShipping domain.ShippingConfig
	defaultCurrency string
	now             func() time.Time
	logger          Logger
	newID           func() string
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("checkout service: order repository is required")
	case deps.Products == nil:
		return nil, errors.New("checkout service: product repository is required")
	case deps.Coupons == nil || deps.CouponUsage == nil:
		return nil, errors.New("checkout service: coupon repositories are required")
	case deps.OrderNumbers == nil:
		return nil, errors.New("checkout service: order number allocator is required")
	case deps.Processor == nil:
		return nil, errors.New("checkout service: payment processor is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	now := func() time.Time { return clock().UTC() }
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return "ord_" + ulid.Make().String() }
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = defaultCheckoutCurrency
	}

	return &checkoutService{
		orders:          deps.Orders,
		products:        deps.Products,
		coupons:         deps.Coupons,
		usage:           deps.CouponUsage,
		shipping:        deps.Shipping,
		orderNumbers:    deps.OrderNumbers,
		processor:       deps.Processor,
		notifier:        newOrderNotifier(deps.Events, deps.Views, logger, now, deps.EventIDGenerator, deps.Spawn),
		defaultShipping: deps.DefaultShipping,
		defaultCurrency: currency,
		now:             now,
		logger:          logger,
		newID:           idGen,
	}, nil
}

// Initiate validates the cart against the catalog, prices it, opens the processor order and
// persists the order as PENDING. Nothing is written when a business rule fails.
func (s *checkoutService) Initiate(ctx context.Context, cmd InitiateCheckoutCommand) (CheckoutResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CheckoutResult{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if err := validateCheckoutItems(cmd.Items); err != nil {
		return CheckoutResult{}, err
	}
	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}
	now := s.now()

	items, err := s.resolveItems(ctx, cmd.Items)
	if err != nil {
		return CheckoutResult{}, err
	}
	var subtotal int64
	for _, item := range items {
		subtotal += item.LineTotal()
	}

	coupon, err := s.resolveCoupon(ctx, cmd.CouponCode, userID, subtotal, now)
	if err != nil {
		return CheckoutResult{}, err
	}
	shipping, err := s.shippingConfig(ctx)
	if err != nil {
		return CheckoutResult{}, err
	}

	pricing := priceCheckout(currency, subtotal, coupon, shipping)
	if pricing.Total <= 0 {
		if coupon != nil {
			return CheckoutResult{}, &CouponInvalidError{Code: CouponReasonZeroTotal, Reason: "coupon leaves nothing to charge"}
		}
		return CheckoutResult{}, fmt.Errorf("%w: order total must be positive", ErrOrderInvalidInput)
	}

	orderNumber, err := s.orderNumbers.Allocate(ctx)
	if err != nil {
		s.logger(ctx, "checkout.order_number_failed", map[string]any{
			"userId": userID,
			"error":  err.Error(),
		})
		return CheckoutResult{}, err
	}
	orderID := s.newID()

	processorOrder, err := s.processor.CreateOrder(ctx, payments.CreateOrderRequest{
		Amount:   pricing.Total,
		Currency: currency,
		Receipt:  orderNumber,
		Metadata: textutil.CompactMetadata(map[string]string{
			"orderId":     orderID,
			"orderNumber": orderNumber,
			"userId":      userID,
		}),
		IdempotencyKey: "checkout:" + orderID,
	})
	if err != nil {
		s.logger(ctx, "checkout.processor_failed", map[string]any{
			"orderId":     orderID,
			"orderNumber": orderNumber,
			"amount":      pricing.Total,
			"error":       err.Error(),
		})
		return CheckoutResult{}, fmt.Errorf("%w: create processor order: %v", ErrOrderUnavailable, err)
	}

	order := domain.Order{
		ID:               orderID,
		OrderNumber:      orderNumber,
		UserID:           userID,
		Status:           domain.OrderStatusPending,
		PaymentStatus:    domain.PaymentStatusPending,
		Currency:         currency,
		Totals:           OrderTotals{Subtotal: pricing.Subtotal, Discount: pricing.Discount, Shipping: pricing.Shipping, Total: pricing.Total},
		Items:            items,
		ProcessorOrderID: processorOrder.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if coupon != nil {
		code := coupon.Code
		order.CouponCode = &code
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		// The processor order is left unpaid and expires on the processor side.
		s.logger(ctx, "checkout.persist_failed", map[string]any{
			"orderId":          orderID,
			"processorOrderId": processorOrder.ID,
			"error":            err.Error(),
		})
		return CheckoutResult{}, translateRepoError("insert order", err)
	}

	s.logger(ctx, "checkout.order_created", map[string]any{
		"orderId":          orderID,
		"orderNumber":      orderNumber,
		"processorOrderId": processorOrder.ID,
		"total":            pricing.Total,
		"currency":         currency,
	})
	s.notifier.publish(ctx, domain.OrderEventCreated, order, "", "checkout")
	s.notifier.invalidate(ctx, order, false)

	return CheckoutResult{
		Order:            order,
		Pricing:          pricing,
		ProcessorOrderID: processorOrder.ID,
		Provider:         processorOrder.Provider,
		ClientSecret:     processorOrder.ClientSecret,
	}, nil
}

func validateCheckoutItems(items []CheckoutItem) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	for i, item := range items {
		switch {
		case strings.TrimSpace(item.ProductID) == "":
			return fmt.Errorf("%w: items[%d]: product id is required", ErrOrderInvalidInput, i)
		case strings.TrimSpace(item.Variant) == "":
			return fmt.Errorf("%w: items[%d]: variant is required", ErrOrderInvalidInput, i)
		case item.Quantity <= 0:
			return fmt.Errorf("%w: items[%d]: quantity must be positive", ErrOrderInvalidInput, i)
		case item.UnitPrice < 0:
			return fmt.Errorf("%w: items[%d]: unit price must not be negative", ErrOrderInvalidInput, i)
		}
	}
	return nil
}

// resolveItems checks each line against the catalog and snapshots it. Stock is checked per
// product on the aggregated quantity.
func (s *checkoutService) resolveItems(ctx context.Context, lines []CheckoutItem) ([]OrderItem, error) {
	products := make(map[string]domain.Product, len(lines))
	items := make([]OrderItem, 0, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		product, ok := products[productID]
		if !ok {
			loaded, err := s.products.FindByID(ctx, productID)
			if err != nil {
				if isNotFound(err) {
					return nil, fmt.Errorf("%w: product %s", ErrOrderNotFound, productID)
				}
				return nil, translateRepoError("load product", err)
			}
			product = loaded
			products[productID] = product
		}

		variantLabel := strings.TrimSpace(line.Variant)
		variant, ok := product.Variant(variantLabel)
		if !ok {
			return nil, fmt.Errorf("%w: product %s variant %s", ErrOrderNotFound, productID, variantLabel)
		}
		if variant.Price != line.UnitPrice {
			return nil, &PriceMismatchError{ProductID: productID, Variant: variantLabel, Submitted: line.UnitPrice, Expected: variant.Price}
		}
		items = append(items, OrderItem{
			ProductID:   productID,
			ProductName: product.Name,
			Variant:     variantLabel,
			UnitPrice:   variant.Price,
			Quantity:    line.Quantity,
		})
	}

	for _, req := range domain.StockRequirements(items) {
		if available := products[req.ProductID].Stock; req.Quantity > available {
			return nil, &InsufficientStockError{ProductID: req.ProductID, Requested: req.Quantity, Available: available}
		}
	}
	return items, nil
}

func (s *checkoutService) resolveCoupon(ctx context.Context, rawCode, userID string, subtotal int64, now time.Time) (*domain.Coupon, error) {
	code := textutil.NormalizeCode(rawCode)
	if code == "" {
		return nil, nil
	}
	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		if isNotFound(err) {
			return nil, &CouponInvalidError{Code: CouponReasonNotFound, Reason: "coupon " + code + " does not exist"}
		}
		return nil, translateRepoError("load coupon", err)
	}

	var used int64
	usage, err := s.usage.Find(ctx, coupon.ID, userID)
	switch {
	case err == nil:
		used = usage.UsedCount
	case isNotFound(err):
	default:
		return nil, translateRepoError("load coupon usage", err)
	}

	if err := validateCoupon(coupon, used, subtotal, now); err != nil {
		return nil, err
	}
	return &coupon, nil
}

// shippingConfig reads the stored shipping rules, falling back to the configured defaults when
// none are stored.
func (s *checkoutService) shippingConfig(ctx context.Context) (domain.ShippingConfig, error) {
	if s.shipping == nil {
		return s.defaultShipping, nil
	}
	cfg, err := s.shipping.Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return s.defaultShipping, nil
		}
		return domain.ShippingConfig{}, translateRepoError("load shipping config", err)
	}
	return cfg, nil
}
