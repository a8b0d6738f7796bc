package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shivaydv/vyomtics-sub001/internal/repositories"
)

// Registry wires every Postgres repository around one connection pool.
type Registry struct {
	db       *sql.DB
	orders   *OrderRepository
	catalog  *CatalogRepository
	counters *CounterRepository
	ledger   *Ledger
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the Postgres-backed repository registry. The pool is closed by Close.
func NewRegistry(db *sql.DB) (*Registry, error) {
	if db == nil {
		return nil, errors.New("postgres registry requires db")
	}
	orders, _ := NewOrderRepository(db)
	catalog, _ := NewCatalogRepository(db)
	counters, _ := NewCounterRepository(db)
	ledger, _ := NewLedger(db)
	return &Registry{db: db, orders: orders, catalog: catalog, counters: counters, ledger: ledger}, nil
}

// DB exposes the pool for stores that live beside the ledger.
func (r *Registry) DB() *sql.DB { return r.db }

func (r *Registry) Close(context.Context) error    { return r.db.Close() }
func (r *Registry) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *Registry) Orders() repositories.OrderRepository            { return r.orders }
func (r *Registry) Products() repositories.ProductRepository        { return r.catalog }
func (r *Registry) Coupons() repositories.CouponRepository          { return r.catalog }
func (r *Registry) CouponUsage() repositories.CouponUsageRepository { return r.catalog }
func (r *Registry) Shipping() repositories.ShippingConfigRepository { return r.catalog }
func (r *Registry) Counters() repositories.CounterRepository        { return r.counters }
func (r *Registry) Ledger() repositories.OrderLedger                { return r.ledger }
