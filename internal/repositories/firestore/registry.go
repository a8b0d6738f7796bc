package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/shivaydv/vyomtics-sub001/internal/platform/firestore"
	"github.com/shivaydv/vyomtics-sub001/internal/repositories"
)

// Registry wires every Firestore repository around one shared Provider.
type Registry struct {
	provider *pfirestore.Provider
	orders   *OrderRepository
	catalog  *CatalogRepository
	counters *CounterRepository
	ledger   *Ledger
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the Firestore-backed repository registry.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	catalog, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}
	ledger, err := NewLedger(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{provider: provider, orders: orders, catalog: catalog, counters: counters, ledger: ledger}, nil
}

// Provider exposes the shared client provider for stores that live beside the ledger.
func (r *Registry) Provider() *pfirestore.Provider { return r.provider }

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }
func (r *Registry) Ping(ctx context.Context) error  { return r.provider.Ping(ctx) }

func (r *Registry) Orders() repositories.OrderRepository            { return r.orders }
func (r *Registry) Products() repositories.ProductRepository        { return r.catalog }
func (r *Registry) Coupons() repositories.CouponRepository          { return r.catalog }
func (r *Registry) CouponUsage() repositories.CouponUsageRepository { return r.catalog }
func (r *Registry) Shipping() repositories.ShippingConfigRepository { return r.catalog }
func (r *Registry) Counters() repositories.CounterRepository        { return r.counters }
func (r *Registry) Ledger() repositories.OrderLedger                { return r.ledger }
