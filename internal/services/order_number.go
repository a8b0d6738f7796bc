package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shivaydv/vyomtics-sub001/internal/repositories"
)

const orderNumberCounterScope = "orders"

// OrderNumberAllocatorDeps bundles collaborators required by the allocator.
type OrderNumberAllocatorDeps struct {
	Counters repositories.CounterRepository
	Clock    func() time.Time
}

type orderNumberAllocator struct {
	counters repositories.CounterRepository
	clock    func() time.Time
}

// NewOrderNumberAllocator constructs an allocator backed by the daily counter orders:YYYYMMDD.
func NewOrderNumberAllocator(deps OrderNumberAllocatorDeps) (OrderNumberAllocator, error) {
	if deps.Counters == nil {
		return nil, errors.New("order number allocator: counter repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &orderNumberAllocator{
		counters: deps.Counters,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// Allocate returns ORD-<YYYYMMDD>-<NNN>. Counter failures fail the allocation.
func (a *orderNumberAllocator) Allocate(ctx context.Context) (string, error) {
	day := a.clock().Format("20060102")
	seq, err := a.counters.Next(ctx, orderNumberCounterScope+":"+day, 1)
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) && counterErr.Code == repositories.CounterErrorInvalidInput {
			return "", fmt.Errorf("%w: %s", ErrOrderInvalidInput, counterErr.Message)
		}
		return "", fmt.Errorf("%w: allocate order number: %v", ErrOrderUnavailable, err)
	}
	return fmt.Sprintf("ORD-%s-%03d", day, seq), nil
}
