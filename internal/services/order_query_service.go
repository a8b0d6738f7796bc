package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/shivaydv/vyomtics-sub001/internal/domain"
	"github.com/shivaydv/vyomtics-sub001/internal/platform/pagination"
	"github.com/shivaydv/vyomtics-sub001/internal/repositories"
)

// OrderQueryServiceDeps wires the order read paths.
type OrderQueryServiceDeps struct {
	Orders repositories.OrderRepository
	Clock  func() time.Time
	// StaleAfter is the default age after which a pending order counts as stale.
	StaleAfter time.Duration
}

type orderQueryService struct {
	orders     repositories.OrderRepository
	now        func() time.Time
	staleAfter time.Duration
}

// NewOrderQueryService constructs the read service.
func NewOrderQueryService(deps OrderQueryServiceDeps) (OrderQueryService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order query service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	staleAfter := deps.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	return &orderQueryService{
		orders:     deps.Orders,
		now:        func() time.Time { return clock().UTC() },
		staleAfter: staleAfter,
	}, nil
}

// GetOrder returns the order when it belongs to userID. Failed orders remain visible.
func (s *orderQueryService) GetOrder(ctx context.Context, userID, orderID string) (Order, error) {
	userID = strings.TrimSpace(userID)
	orderID = strings.TrimSpace(orderID)
	if userID == "" || orderID == "" {
		return Order{}, fmt.Errorf("%w: user id and order id are required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, translateRepoError("get order", err)
	}
	if order.UserID != userID {
		return Order{}, fmt.Errorf("%w: get order", ErrOrderNotFound)
	}
	return order, nil
}

// ListStalePending pages through orders still awaiting payment past the stale window, oldest first.
func (s *orderQueryService) ListStalePending(ctx context.Context, query StaleOrdersQuery) (domain.CursorPage[Order], error) {
	olderThan := query.OlderThan
	if olderThan < 0 {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: olderThan must not be negative", ErrOrderInvalidInput)
	}
	if olderThan == 0 {
		olderThan = s.staleAfter
	}
	if _, err := pagination.DecodeToken(query.PageToken); err != nil {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	page, err := s.orders.ListStalePending(ctx, repositories.StaleOrderFilter{
		CreatedBefore: s.now().Add(-olderThan),
		PageSize:      query.PageSize,
		PageToken:     query.PageToken,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, translateRepoError("list stale orders", err)
	}
	return page, nil
}
