package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	domain "github.com/shivaydv/vyomtics-sub001/internal/domain"
	"github.com/shivaydv/vyomtics-sub001/internal/payments"
	"github.com/shivaydv/vyomtics-sub001/internal/platform/config"
	pfirestore "github.com/shivaydv/vyomtics-sub001/internal/platform/firestore"
	"github.com/shivaydv/vyomtics-sub001/internal/platform/idempotency"
	"github.com/shivaydv/vyomtics-sub001/internal/platform/observability"
	ppostgres "github.com/shivaydv/vyomtics-sub001/internal/platform/postgres"
	"github.com/shivaydv/vyomtics-sub001/internal/repositories"
	firestoreRepo "github.com/shivaydv/vyomtics-sub001/internal/repositories/firestore"
	"github.com/shivaydv/vyomtics-sub001/internal/repositories/memory"
	postgresRepo "github.com/shivaydv/vyomtics-sub001/internal/repositories/postgres"
	"github.com/shivaydv/vyomtics-sub001/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	OrderNumbers   services.OrderNumberAllocator
	Checkout       services.CheckoutService
	StateMachine   services.OrderStateMachine
	Reconciliation services.ReconciliationService
	Queries        services.OrderQueryService
}

// Infrastructure carries the external collaborators built by the caller. Events, Views and
// Archive are optional; Processor is required.
type Infrastructure struct {
	Registry  repositories.Registry
	Processor services.PaymentProcessor
	Events    services.OrderEventPublisher
	Views     services.ViewInvalidator
	Archive   services.WebhookArchiver
	Logger    *zap.Logger
	Clock     func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Verifier     *payments.SignatureVerifier
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring passes the registry
// returned by OpenRegistry; tests can supply the in-memory store.
func NewContainer(ctx context.Context, cfg config.Config, infra Infrastructure) (*Container, error) {
	if infra.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}
	if infra.Processor == nil {
		return nil, errors.New("payment processor is required")
	}

	verifier := payments.NewSignatureVerifier(cfg.Payments.KeySecret, cfg.Payments.WebhookSecret)
	svc, err := buildServices(ctx, cfg, infra, verifier)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: infra.Registry,
		Verifier:     verifier,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, cfg config.Config, infra Infrastructure, verifier *payments.SignatureVerifier) (Services, error) {
	logger := infra.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}
	reg := infra.Registry

	var svc Services
	var err error

	svc.OrderNumbers, err = services.NewOrderNumberAllocator(services.OrderNumberAllocatorDeps{
		Counters: reg.Counters(),
		Clock:    clock,
	})
	if err != nil {
		return svc, fmt.Errorf("order number allocator: %w", err)
	}

	svc.StateMachine, err = services.NewOrderStateMachine(services.OrderStateMachineDeps{
		Orders: reg.Orders(),
		Ledger: reg.Ledger(),
		Events: infra.Events,
		Views:  infra.Views,
		Clock:  clock,
		Logger: observability.EventLogger(logger.Named("orders")),
	})
	if err != nil {
		return svc, fmt.Errorf("order state machine: %w", err)
	}

	svc.Checkout, err = services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:          reg.Orders(),
		Products:        reg.Products(),
		Coupons:         reg.Coupons(),
		CouponUsage:     reg.CouponUsage(),
		Shipping:        reg.Shipping(),
		OrderNumbers:    svc.OrderNumbers,
		Processor:       infra.Processor,
		Events:          infra.Events,
		Views:           infra.Views,
		DefaultShipping: domain.ShippingConfig{FlatCharge: cfg.Shipping.FlatCharge, FreeShippingThreshold: cfg.Shipping.FreeShippingThreshold},
		DefaultCurrency: cfg.Payments.Currency,
		Clock:           clock,
		Logger:          observability.EventLogger(logger.Named("checkout")),
	})
	if err != nil {
		return svc, fmt.Errorf("checkout service: %w", err)
	}

	svc.Reconciliation, err = services.NewReconciliationService(services.ReconciliationServiceDeps{
		Orders:       reg.Orders(),
		StateMachine: svc.StateMachine,
		Verifier:     verifier,
		Archive:      infra.Archive,
		Logger:       observability.EventLogger(logger.Named("payments")),
	})
	if err != nil {
		return svc, fmt.Errorf("reconciliation service: %w", err)
	}

	svc.Queries, err = services.NewOrderQueryService(services.OrderQueryServiceDeps{
		Orders:     reg.Orders(),
		Clock:      clock,
		StaleAfter: cfg.Orders.StaleAfter,
	})
	if err != nil {
		return svc, fmt.Errorf("order query service: %w", err)
	}
	return svc, nil
}

// OpenRegistry selects the ledger backend named by cfg.Ledger.Backend.
func OpenRegistry(ctx context.Context, cfg config.Config, opts ...pfirestore.ProviderOption) (repositories.Registry, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Ledger.Backend)) {
	case config.LedgerBackendMemory:
		return memory.NewStore(), nil
	case config.LedgerBackendPostgres:
		db, err := ppostgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := ppostgres.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure postgres schema: %w", err)
		}
		reg, err := postgresRepo.NewRegistry(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return reg, nil
	case config.LedgerBackendFirestore, "":
		provider := pfirestore.NewProvider(cfg.Firestore, opts...)
		reg, err := firestoreRepo.NewRegistry(provider)
		if err != nil {
			_ = provider.Close(ctx)
			return nil, err
		}
		return reg, nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}
}

// OpenReplayStore returns the checkout replay store that shares reg's backend.
func OpenReplayStore(reg repositories.Registry) (idempotency.Store, error) {
	switch r := reg.(type) {
	case *firestoreRepo.Registry:
		return idempotency.NewFirestoreStore(r.Provider())
	case *postgresRepo.Registry:
		return idempotency.NewPostgresStore(r.DB())
	case *memory.Store:
		return idempotency.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("no replay store for registry %T", reg)
	}
}
