package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/shivaydv/vyomtics-sub001/internal/domain"
	pfirestore "github.com/shivaydv/vyomtics-sub001/internal/platform/firestore"
	"github.com/shivaydv/vyomtics-sub001/internal/repositories"
)

// Ledger implements repositories.OrderLedger with Firestore transactions. Every transaction
// reads the order, products and coupon documents before issuing any write; Firestore retries
// the whole function when a concurrent commit touched one of them.
type Ledger struct {
	provider *pfirestore.Provider
	now      func() time.Time
}

// NewLedger constructs a Firestore ledger.
func NewLedger(provider *pfirestore.Provider) (*Ledger, error) {
	if provider == nil {
		return nil, errors.New("ledger requires firestore provider")
	}
	return &Ledger{provider: provider, now: time.Now}, nil
}

type stockRead struct {
	ref       *firestore.DocumentRef
	available int64
	requested int64
}

// ApplyPaymentSuccess marks the order paid, deducts stock and records coupon usage.
func (l *Ledger) ApplyPaymentSuccess(ctx context.Context, payment repositories.PaymentSuccess) (repositories.LedgerResult, error) {
	orderID := strings.TrimSpace(payment.OrderID)
	if orderID == "" {
		return repositories.LedgerResult{}, repositories.NewNotFoundError("ledger.success", "order")
	}
	client, err := l.provider.Client(ctx)
	if err != nil {
		return repositories.LedgerResult{}, err
	}
	orderRef := client.Collection(ordersCollection).Doc(orderID)
	paidAt := payment.PaidAt.UTC()
	if paidAt.IsZero() {
		paidAt = l.now().UTC()
	}

	var result repositories.LedgerResult
	err = l.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = repositories.LedgerResult{}

		order, err := getOrderInTx(tx, orderRef, "ledger.success")
		if err != nil {
			return err
		}
		switch order.PaymentStatus {
		case domain.PaymentStatusSuccess:
			result = repositories.LedgerResult{Outcome: repositories.LedgerAlreadyApplied, Order: order}
			return nil
		case domain.PaymentStatusFailed:
			result = repositories.LedgerResult{Outcome: repositories.LedgerConflict, Order: order}
			return nil
		}

		stocks := make([]stockRead, 0, len(order.Items))
		for _, req := range domain.StockRequirements(order.Items) {
			ref := client.Collection(productsCollection).Doc(req.ProductID)
			snap, err := tx.Get(ref)
			if err != nil {
				if pfirestore.IsNotFound(err) {
					return &repositories.LedgerError{
						Op:        "ledger.success",
						Code:      repositories.LedgerErrorProductMissing,
						ProductID: req.ProductID,
						Requested: req.Quantity,
					}
				}
				return err
			}
			var product productDocument
			if err := snap.DataTo(&product); err != nil {
				return fmt.Errorf("firestore products decode %s: %w", req.ProductID, err)
			}
			if product.Stock < int64(req.Quantity) {
				return repositories.NewInsufficientStockError("ledger.success", req.ProductID, req.Quantity, int(product.Stock))
			}
			stocks = append(stocks, stockRead{ref: ref, available: product.Stock, requested: int64(req.Quantity)})
		}

		var (
			couponRef   *firestore.DocumentRef
			usageRef    *firestore.DocumentRef
			usageExists bool
		)
		if order.CouponCode != nil && *order.CouponCode != "" {
			query := client.Collection(couponsCollection).Where("code", "==", *order.CouponCode).Limit(1)
			docs, err := tx.Documents(query).GetAll()
			if err != nil {
				return err
			}
			if len(docs) > 0 {
				couponRef = docs[0].Ref
				usageRef = client.Collection(couponUsageCollection).Doc(couponUsageID(couponRef.ID, order.UserID))
				if _, err := tx.Get(usageRef); err == nil {
					usageExists = true
				} else if !pfirestore.IsNotFound(err) {
					return err
				}
			}
		}

		// Writes start here.
		order.Status = domain.OrderStatusProcessing
		order.PaymentStatus = domain.PaymentStatusSuccess
		order.ProcessorPaymentID = stringPtr(payment.PaymentID)
		order.PaymentMethod = payment.Method
		order.PaymentMetadata = payment.Metadata
		order.PaidAt = &paidAt
		order.UpdatedAt = paidAt
		if err := tx.Update(orderRef, []firestore.Update{
			{Path: "status", Value: string(order.Status)},
			{Path: "paymentStatus", Value: string(order.PaymentStatus)},
			{Path: "processorPaymentId", Value: payment.PaymentID},
			{Path: "paymentMethod", Value: payment.Method},
			{Path: "paymentMetadata", Value: payment.Metadata},
			{Path: "paidAt", Value: paidAt},
			{Path: "updatedAt", Value: paidAt},
		}); err != nil {
			return err
		}

		for _, stock := range stocks {
			if err := tx.Update(stock.ref, []firestore.Update{
				{Path: "stock", Value: stock.available - stock.requested},
				{Path: "updatedAt", Value: paidAt},
			}); err != nil {
				return err
			}
		}

		if couponRef != nil {
			if err := tx.Update(couponRef, []firestore.Update{
				{Path: "totalUsed", Value: firestore.Increment(1)},
				{Path: "updatedAt", Value: paidAt},
			}); err != nil {
				return err
			}
			if usageExists {
				err = tx.Update(usageRef, []firestore.Update{
					{Path: "usedCount", Value: firestore.Increment(1)},
					{Path: "lastUsedAt", Value: paidAt},
				})
			} else {
				err = tx.Create(usageRef, couponUsageDocument{
					CouponID:   couponRef.ID,
					UserID:     order.UserID,
					UsedCount:  1,
					LastUsedAt: paidAt,
				})
			}
			if err != nil {
				return err
			}
		}

		result = repositories.LedgerResult{Outcome: repositories.LedgerApplied, Order: order}
		return nil
	})
	if err != nil {
		return repositories.LedgerResult{}, err
	}
	return result, nil
}

// ApplyPaymentFailure marks a pending order failed.
func (l *Ledger) ApplyPaymentFailure(ctx context.Context, failure repositories.PaymentFailure) (repositories.LedgerResult, error) {
	orderID := strings.TrimSpace(failure.OrderID)
	if orderID == "" {
		return repositories.LedgerResult{}, repositories.NewNotFoundError("ledger.failure", "order")
	}
	client, err := l.provider.Client(ctx)
	if err != nil {
		return repositories.LedgerResult{}, err
	}
	orderRef := client.Collection(ordersCollection).Doc(orderID)
	failedAt := failure.FailedAt.UTC()
	if failedAt.IsZero() {
		failedAt = l.now().UTC()
	}

	var result repositories.LedgerResult
	err = l.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = repositories.LedgerResult{}

		order, err := getOrderInTx(tx, orderRef, "ledger.failure")
		if err != nil {
			return err
		}
		switch order.PaymentStatus {
		case domain.PaymentStatusFailed:
			result = repositories.LedgerResult{Outcome: repositories.LedgerAlreadyApplied, Order: order}
			return nil
		case domain.PaymentStatusSuccess:
			result = repositories.LedgerResult{Outcome: repositories.LedgerConflict, Order: order}
			return nil
		}

		order.Status = domain.OrderStatusFailed
		order.PaymentStatus = domain.PaymentStatusFailed
		order.PaymentMetadata = repositories.MergeMetadata(order.PaymentMetadata, failure.Metadata)
		order.FailedAt = &failedAt
		order.UpdatedAt = failedAt
		if err := tx.Update(orderRef, []firestore.Update{
			{Path: "status", Value: string(order.Status)},
			{Path: "paymentStatus", Value: string(order.PaymentStatus)},
			{Path: "paymentMetadata", Value: order.PaymentMetadata},
			{Path: "failedAt", Value: failedAt},
			{Path: "updatedAt", Value: failedAt},
		}); err != nil {
			return err
		}
		result = repositories.LedgerResult{Outcome: repositories.LedgerApplied, Order: order}
		return nil
	})
	if err != nil {
		return repositories.LedgerResult{}, err
	}
	return result, nil
}

// DeletePending removes an order owned by userID that is still awaiting payment.
func (l *Ledger) DeletePending(ctx context.Context, orderID, userID string) (repositories.LedgerResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return repositories.LedgerResult{}, repositories.NewNotFoundError("ledger.delete", "order")
	}
	client, err := l.provider.Client(ctx)
	if err != nil {
		return repositories.LedgerResult{}, err
	}
	orderRef := client.Collection(ordersCollection).Doc(orderID)

	var result repositories.LedgerResult
	err = l.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = repositories.LedgerResult{}

		order, err := getOrderInTx(tx, orderRef, "ledger.delete")
		if err != nil {
			return err
		}
		if order.UserID != userID {
			return repositories.NewNotFoundError("ledger.delete", "order")
		}
		if !order.IsAwaitingPayment() {
			result = repositories.LedgerResult{Outcome: repositories.LedgerConflict, Order: order}
			return nil
		}
		if err := tx.Delete(orderRef, firestore.Exists); err != nil {
			return err
		}
		result = repositories.LedgerResult{Outcome: repositories.LedgerApplied, Order: order}
		return nil
	})
	if err != nil {
		return repositories.LedgerResult{}, err
	}
	return result, nil
}

func getOrderInTx(tx *firestore.Transaction, ref *firestore.DocumentRef, op string) (domain.Order, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if pfirestore.IsNotFound(err) {
			return domain.Order{}, repositories.NewNotFoundError(op, "order")
		}
		return domain.Order{}, err
	}
	order, err := decodeOrderSnapshot(snap)
	if err != nil {
		return domain.Order{}, fmt.Errorf("firestore orders decode %s: %w", ref.ID, err)
	}
	return order, nil
}

func stringPtr(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}
