package firestore

import (
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/shivaydv/vyomtics-sub001/internal/domain"
)

const (
	ordersCollection       = "orders"
	productsCollection     = "products"
	couponsCollection      = "coupons"
	couponUsageCollection  = "couponUsage"
	countersCollection     = "counters"
	configCollection       = "config"
	shippingConfigDocument = "shipping"
)

type orderDocument struct {
	OrderNumber        string              `firestore:"orderNumber"`
	UserID             string              `firestore:"userId"`
	Status             string              `firestore:"status"`
	PaymentStatus      string              `firestore:"paymentStatus"`
	Currency           string              `firestore:"currency"`
	Totals             orderTotalsDocument `firestore:"totals"`
	CouponCode         *string             `firestore:"couponCode"`
	Items              []orderItemDocument `firestore:"items"`
	ProcessorOrderID   string              `firestore:"processorOrderId"`
	ProcessorPaymentID *string             `firestore:"processorPaymentId"`
	PaymentMethod      *string             `firestore:"paymentMethod"`
	PaymentMetadata    map[string]any      `firestore:"paymentMetadata,omitempty"`
	CreatedAt          time.Time           `firestore:"createdAt"`
	UpdatedAt          time.Time           `firestore:"updatedAt"`
	PaidAt             *time.Time          `firestore:"paidAt"`
	FailedAt           *time.Time          `firestore:"failedAt"`
}

type orderTotalsDocument struct {
	Subtotal int64 `firestore:"subtotal"`
	Discount int64 `firestore:"discount"`
	Shipping int64 `firestore:"shipping"`
	Total    int64 `firestore:"total"`
}

type orderItemDocument struct {
	ProductID   string `firestore:"productId"`
	ProductName string `firestore:"productName"`
	Variant     string `firestore:"variant"`
	UnitPrice   int64  `firestore:"unitPrice"`
	Quantity    int64  `firestore:"quantity"`
}

type productDocument struct {
	Name      string            `firestore:"name"`
	Stock     int64             `firestore:"stock"`
	Variants  []variantDocument `firestore:"variants"`
	UpdatedAt time.Time         `firestore:"updatedAt"`
}

type variantDocument struct {
	Label string `firestore:"label"`
	Price int64  `firestore:"price"`
}

type couponDocument struct {
	Code             string     `firestore:"code"`
	DiscountType     string     `firestore:"discountType"`
	Value            int64      `firestore:"value"`
	MinOrderValue    *int64     `firestore:"minOrderValue"`
	MaxDiscount      *int64     `firestore:"maxDiscount"`
	ExpiresAt        *time.Time `firestore:"expiresAt"`
	GlobalUsageLimit *int64     `firestore:"globalUsageLimit"`
	PerUserLimit     *int64     `firestore:"perUserLimit"`
	TotalUsed        int64      `firestore:"totalUsed"`
	Active           bool       `firestore:"active"`
	CreatedAt        time.Time  `firestore:"createdAt"`
	UpdatedAt        time.Time  `firestore:"updatedAt"`
}

type couponUsageDocument struct {
	CouponID   string    `firestore:"couponId"`
	UserID     string    `firestore:"userId"`
	UsedCount  int64     `firestore:"usedCount"`
	LastUsedAt time.Time `firestore:"lastUsedAt"`
}

type shippingDocument struct {
	FlatCharge            *int64 `firestore:"flatCharge"`
	FreeShippingThreshold *int64 `firestore:"freeShippingThreshold"`
}

// couponUsageID keys usage documents by coupon and user so the ledger can address them
// directly inside a transaction.
func couponUsageID(couponID, userID string) string {
	return couponID + "_" + userID
}

func encodeOrder(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Variant:     item.Variant,
			UnitPrice:   item.UnitPrice,
			Quantity:    int64(item.Quantity),
		})
	}
	return orderDocument{
		OrderNumber:        order.OrderNumber,
		UserID:             order.UserID,
		Status:             string(order.Status),
		PaymentStatus:      string(order.PaymentStatus),
		Currency:           order.Currency,
		Totals:             orderTotalsDocument(order.Totals),
		CouponCode:         order.CouponCode,
		Items:              items,
		ProcessorOrderID:   order.ProcessorOrderID,
		ProcessorPaymentID: order.ProcessorPaymentID,
		PaymentMethod:      order.PaymentMethod,
		PaymentMetadata:    order.PaymentMetadata,
		CreatedAt:          order.CreatedAt.UTC(),
		UpdatedAt:          order.UpdatedAt.UTC(),
		PaidAt:             utcPtr(order.PaidAt),
		FailedAt:           utcPtr(order.FailedAt),
	}
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	items := make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Variant:     item.Variant,
			UnitPrice:   item.UnitPrice,
			Quantity:    int(item.Quantity),
		})
	}
	return domain.Order{
		ID:                 id,
		OrderNumber:        doc.OrderNumber,
		UserID:             doc.UserID,
		Status:             domain.OrderStatus(doc.Status),
		PaymentStatus:      domain.PaymentStatus(doc.PaymentStatus),
		Currency:           doc.Currency,
		Totals:             domain.OrderTotals(doc.Totals),
		CouponCode:         doc.CouponCode,
		Items:              items,
		ProcessorOrderID:   doc.ProcessorOrderID,
		ProcessorPaymentID: doc.ProcessorPaymentID,
		PaymentMethod:      doc.PaymentMethod,
		PaymentMetadata:    doc.PaymentMetadata,
		CreatedAt:          doc.CreatedAt,
		UpdatedAt:          doc.UpdatedAt,
		PaidAt:             doc.PaidAt,
		FailedAt:           doc.FailedAt,
	}
}

func decodeOrderSnapshot(snap *firestore.DocumentSnapshot) (domain.Order, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(snap.Ref.ID, doc), nil
}

func decodeProduct(id string, doc productDocument) domain.Product {
	variants := make([]domain.ProductVariant, 0, len(doc.Variants))
	for _, v := range doc.Variants {
		variants = append(variants, domain.ProductVariant{Label: v.Label, Price: v.Price})
	}
	return domain.Product{
		ID:        id,
		Name:      doc.Name,
		Stock:     int(doc.Stock),
		Variants:  variants,
		UpdatedAt: doc.UpdatedAt,
	}
}

func decodeCoupon(id string, doc couponDocument) domain.Coupon {
	return domain.Coupon{
		ID:               id,
		Code:             doc.Code,
		DiscountType:     domain.DiscountType(doc.DiscountType),
		Value:            doc.Value,
		MinOrderValue:    doc.MinOrderValue,
		MaxDiscount:      doc.MaxDiscount,
		ExpiresAt:        doc.ExpiresAt,
		GlobalUsageLimit: doc.GlobalUsageLimit,
		PerUserLimit:     doc.PerUserLimit,
		TotalUsed:        doc.TotalUsed,
		Active:           doc.Active,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
