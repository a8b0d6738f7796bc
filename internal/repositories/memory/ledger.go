package memory

import (
	"context"

	domain "github.com/shivaydv/vyomtics-sub001/internal/domain"
	"github.com/shivaydv/vyomtics-sub001/internal/repositories"
)

type ledger struct{ s *Store }

func (l ledger) ApplyPaymentSuccess(_ context.Context, payment repositories.PaymentSuccess) (repositories.LedgerResult, error) {
	s := l.s
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[payment.OrderID]
	if !ok {
		return repositories.LedgerResult{}, repositories.NewNotFoundError("ledger.success", "order")
	}
	switch order.PaymentStatus {
	case domain.PaymentStatusSuccess:
		return repositories.LedgerResult{Outcome: repositories.LedgerAlreadyApplied, Order: cloneOrder(order)}, nil
	case domain.PaymentStatusFailed:
		return repositories.LedgerResult{Outcome: repositories.LedgerConflict, Order: cloneOrder(order)}, nil
	}

	// Validate every requirement before mutating anything.
	reqs := domain.StockRequirements(order.Items)
	for _, req := range reqs {
		product, ok := s.products[req.ProductID]
		if !ok {
			return repositories.LedgerResult{}, &repositories.LedgerError{
				Op:        "ledger.success",
				Code:      repositories.LedgerErrorProductMissing,
				ProductID: req.ProductID,
				Requested: req.Quantity,
			}
		}
		if product.Stock < req.Quantity {
			return repositories.LedgerResult{}, repositories.NewInsufficientStockError("ledger.success", req.ProductID, req.Quantity, product.Stock)
		}
	}

	paidAt := payment.PaidAt.UTC()
	if paidAt.IsZero() {
		paidAt = s.now().UTC()
	}
	for _, req := range reqs {
		product := s.products[req.ProductID]
		product.Stock -= req.Quantity
		product.UpdatedAt = paidAt
		s.products[req.ProductID] = product
	}

	if order.CouponCode != nil && *order.CouponCode != "" {
		if coupon, ok := s.couponByCodeLocked(*order.CouponCode); ok {
			coupon.TotalUsed++
			coupon.UpdatedAt = paidAt
			s.coupons[coupon.ID] = coupon

			key := usageKey(coupon.ID, order.UserID)
			usage, ok := s.usage[key]
			if !ok {
				usage = domain.CouponUsage{CouponID: coupon.ID, UserID: order.UserID}
			}
			usage.UsedCount++
			usage.LastUsedAt = paidAt
			s.usage[key] = usage
		}
	}

	order.Status = domain.OrderStatusProcessing
	order.PaymentStatus = domain.PaymentStatusSuccess
	if payment.PaymentID != "" {
		id := payment.PaymentID
		order.ProcessorPaymentID = &id
	}
	order.PaymentMethod = payment.Method
	order.PaymentMetadata = repositories.MergeMetadata(payment.Metadata, nil)
	order.PaidAt = &paidAt
	order.UpdatedAt = paidAt
	s.orders[order.ID] = order
	return repositories.LedgerResult{Outcome: repositories.LedgerApplied, Order: cloneOrder(order)}, nil
}

func (l ledger) ApplyPaymentFailure(_ context.Context, failure repositories.PaymentFailure) (repositories.LedgerResult, error) {
	s := l.s
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[failure.OrderID]
	if !ok {
		return repositories.LedgerResult{}, repositories.NewNotFoundError("ledger.failure", "order")
	}
	switch order.PaymentStatus {
	case domain.PaymentStatusFailed:
		return repositories.LedgerResult{Outcome: repositories.LedgerAlreadyApplied, Order: cloneOrder(order)}, nil
	case domain.PaymentStatusSuccess:
		return repositories.LedgerResult{Outcome: repositories.LedgerConflict, Order: cloneOrder(order)}, nil
	}

	failedAt := failure.FailedAt.UTC()
	if failedAt.IsZero() {
		failedAt = s.now().UTC()
	}
	order.Status = domain.OrderStatusFailed
	order.PaymentStatus = domain.PaymentStatusFailed
	order.PaymentMetadata = repositories.MergeMetadata(order.PaymentMetadata, failure.Metadata)
	order.FailedAt = &failedAt
	order.UpdatedAt = failedAt
	s.orders[order.ID] = order
	return repositories.LedgerResult{Outcome: repositories.LedgerApplied, Order: cloneOrder(order)}, nil
}

func (l ledger) DeletePending(_ context.Context, orderID, userID string) (repositories.LedgerResult, error) {
	s := l.s
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok || order.UserID != userID {
		return repositories.LedgerResult{}, repositories.NewNotFoundError("ledger.delete", "order")
	}
	if !order.IsAwaitingPayment() {
		return repositories.LedgerResult{Outcome: repositories.LedgerConflict, Order: cloneOrder(order)}, nil
	}
	delete(s.orders, orderID)
	return repositories.LedgerResult{Outcome: repositories.LedgerApplied, Order: cloneOrder(order)}, nil
}
