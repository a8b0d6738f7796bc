package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shivaydv/vyomtics-sub001/internal/repositories"
	"github.com/shivaydv/vyomtics-sub001/internal/repositories/memory"
)

type failingCounters struct{ err error }

func (f failingCounters) Next(context.Context, string, int64) (int64, error) { return 0, f.err }

func TestOrderNumberAllocatorSequential(t *testing.T) {
	now := time.Date(2025, time.March, 1, 23, 59, 0, 0, time.FixedZone("IST", 5*3600+1800))
	store := memory.NewStore()
	allocator, err := NewOrderNumberAllocator(OrderNumberAllocatorDeps{Counters: store.Counters(), Clock: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("NewOrderNumberAllocator: %v", err)
	}

	want := []string{"ORD-20250301-001", "ORD-20250301-002", "ORD-20250301-003"}
	for i, expected := range want {
		got, err := allocator.Allocate(context.Background())
		if err != nil {
			t.Fatalf("Allocate #%d: %v", i, err)
		}
		if got != expected {
			t.Fatalf("expected %s, got %s", expected, got)
		}
	}

	now = now.Add(24 * time.Hour)
	got, err := allocator.Allocate(context.Background())
	if err != nil {
		t.Fatalf("Allocate next day: %v", err)
	}
	if got != "ORD-20250302-001" {
		t.Fatalf("expected the sequence to restart per day, got %s", got)
	}
}

func TestOrderNumberAllocatorWidensPastThreeDigits(t *testing.T) {
	store := memory.NewStore()
	clock := func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) }
	if _, err := store.Counters().Next(context.Background(), "orders:20250301", 999); err != nil {
		t.Fatalf("seed counter: %v", err)
	}
	allocator, _ := NewOrderNumberAllocator(OrderNumberAllocatorDeps{Counters: store.Counters(), Clock: clock})
	got, err := allocator.Allocate(context.Background())
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if got != "ORD-20250301-1000" {
		t.Fatalf("unexpected number %s", got)
	}
}

func TestOrderNumberAllocatorFailsWithoutCounter(t *testing.T) {
	allocator, _ := NewOrderNumberAllocator(OrderNumberAllocatorDeps{
		Counters: failingCounters{err: repositories.NewCounterError(repositories.CounterErrorUnavailable, "orders:20250301", "backend down", nil)},
	})
	if _, err := allocator.Allocate(context.Background()); !errors.Is(err, ErrOrderUnavailable) {
		t.Fatalf("expected ErrOrderUnavailable, got %v", err)
	}

	if _, err := NewOrderNumberAllocator(OrderNumberAllocatorDeps{}); err == nil {
		t.Fatal("expected error without counters")
	}
}
