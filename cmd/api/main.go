package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/shivaydv/vyomtics-sub001/internal/di"
	"github.com/shivaydv/vyomtics-sub001/internal/handlers"
	"github.com/shivaydv/vyomtics-sub001/internal/payments"
	"github.com/shivaydv/vyomtics-sub001/internal/platform/auth"
	"github.com/shivaydv/vyomtics-sub001/internal/platform/config"
	"github.com/shivaydv/vyomtics-sub001/internal/platform/jobs"
	"github.com/shivaydv/vyomtics-sub001/internal/platform/observability"
	"github.com/shivaydv/vyomtics-sub001/internal/platform/secrets"
	platformstorage "github.com/shivaydv/vyomtics-sub001/internal/platform/storage"
	"github.com/shivaydv/vyomtics-sub001/internal/repositories"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	registry, err := di.OpenRegistry(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to open ledger backend", zap.Error(err), zap.String("backend", cfg.Ledger.Backend))
	}

	replays, err := di.OpenReplayStore(registry)
	if err != nil {
		logger.Fatal("failed to open checkout replay store", zap.Error(err))
	}

	infra := di.Infrastructure{
		Registry: registry,
		Logger:   logger,
		Clock:    time.Now,
	}
	probes := []repositories.DependencyProbe{{Name: "ledger:" + cfg.Ledger.Backend, Check: registry.Ping}}

	var (
		pubsubClient *pubsub.Client
		topics       []*pubsub.Topic
	)
	if projectID := strings.TrimSpace(cfg.PubSub.ProjectID); projectID != "" {
		pubsubClient, err = pubsub.NewClient(ctx, projectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		eventsTopic := pubsubClient.Topic(cfg.PubSub.OrderEventsTopic)
		topics = append(topics, eventsTopic)
		publisher, err := jobs.NewOrderEventPublisher(eventsTopic)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
		infra.Events = publisher
		probes = append(probes, topicProbe("pubsub:"+cfg.PubSub.OrderEventsTopic, eventsTopic))

		if name := strings.TrimSpace(cfg.PubSub.InvalidationTopic); name != "" {
			invalidationTopic := pubsubClient.Topic(name)
			topics = append(topics, invalidationTopic)
			invalidator, err := jobs.NewViewInvalidator(invalidationTopic)
			if err != nil {
				logger.Fatal("failed to initialise view invalidator", zap.Error(err))
			}
			infra.Views = invalidator
		}
	} else {
		logger.Warn("pubsub project not configured; order events are not published")
	}

	var storageClient *cloudstorage.Client
	if bucket := strings.TrimSpace(cfg.Storage.WebhookArchiveBucket); bucket != "" {
		storageClient, err = cloudstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		writer, err := platformstorage.NewGCSObjectWriter(storageClient)
		if err != nil {
			logger.Fatal("failed to initialise storage writer", zap.Error(err))
		}
		archive, err := platformstorage.NewWebhookArchive(writer, bucket)
		if err != nil {
			logger.Fatal("failed to initialise webhook archive", zap.Error(err))
		}
		infra.Archive = archive
	}

	paymentsLogger := observability.EventLogger(logger.Named("stripe"))
	processor, err := payments.NewStripeProcessor(payments.StripeProcessorConfig{
		APIKey: cfg.Payments.StripeAPIKey,
		Logger: paymentsLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe processor", zap.Error(err))
	}
	infra.Processor = processor

	container, err := di.NewContainer(ctx, cfg, infra)
	if err != nil {
		logger.Fatal("failed to build service container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("ledger backend close error", zap.Error(err))
		}
		for _, topic := range topics {
			topic.Stop()
		}
		if pubsubClient != nil {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}
		if storageClient != nil {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}
	}()

	probes = append(probes, secretManagerProbe(fetcher))
	prober, err := repositories.NewReadinessProber(probes, time.Now)
	if err != nil {
		logger.Fatal("failed to initialise readiness prober", zap.Error(err))
	}

	var firebaseOpts []auth.FirebaseOption
	if cfg.Firebase.CheckRevoked {
		firebaseOpts = append(firebaseOpts, auth.WithRevocationCheck())
	}
	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, firebaseOpts...)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	svc := container.Services
	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, svc.Checkout, svc.Reconciliation, svc.StateMachine,
		handlers.WithCheckoutRateLimit(cfg.Orders.CheckoutRateLimit, cfg.Orders.CheckoutRateWindow, time.Now),
		handlers.WithCheckoutIdempotency(replays, cfg.Orders.IdempotencyTTL),
	)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Queries)
	webhookHandlers := handlers.NewWebhookHandlers(svc.Reconciliation, cfg.Payments.SignatureHeader, cfg.Payments.WebhookBodyLimit)
	internalHandlers := handlers.NewInternalHandlers(svc.Queries)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthProber(prober),
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithWebhookMiddlewares(handlers.WebhookRateLimit(cfg.Payments.WebhookRateLimit, cfg.Payments.WebhookRateWindow, time.Now)),
		handlers.WithInternalRoutes(internalHandlers.Routes),
		handlers.WithInternalMiddlewares(buildOIDCMiddleware(logger.Named("auth"), cfg)),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("orders api listening", zap.String("ledger", cfg.Ledger.Backend), zap.String("version", buildInfo.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func topicProbe(name string, topic *pubsub.Topic) repositories.DependencyProbe {
	return repositories.DependencyProbe{
		Name:    name,
		Timeout: 2 * time.Second,
		Check: func(ctx context.Context) error {
			ok, err := topic.Exists(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("topic does not exist")
			}
			return nil
		},
	}
}

func secretManagerProbe(fetcher *secrets.Fetcher) repositories.DependencyProbe {
	return repositories.DependencyProbe{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			return fetcher.Ping(ctx, "secret://api-healthz")
		},
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	jwksURL := strings.TrimSpace(cfg.Security.OIDC.JWKSURL)
	if jwksURL == "" {
		logger.Warn("auth: OIDC JWKS url not configured; internal routes will reject requests")
		return denyAll
	}

	cache := auth.NewJWKSCache(jwksURL)
	validator := auth.NewOIDCValidator(cache, logger)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}

	return validator.RequireOIDC(audience, issuers)
}

func denyAll(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projects := parseKeyValueList(lookup("API_SECRET_PROJECT_IDS"), strings.ToLower); len(projects) > 0 {
		opts = append(opts, secrets.WithProjectMap(projects))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if pins := secretVersionPins(lookup("API_SECRET_VERSION_PINS")); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets startup must resolve. The Postgres DSN is only needed
// when Postgres backs the ledger.
func requiredSecretNames(env map[string]string) []string {
	required := []string{
		"Payments.StripeAPIKey",
		"Payments.KeySecret",
		"Payments.WebhookSecret",
	}
	if env != nil && strings.EqualFold(strings.TrimSpace(env["API_LEDGER_BACKEND"]), config.LedgerBackendPostgres) {
		required = append(required, "Postgres.DSN")
	}
	sort.Strings(required)
	return required
}

// secretVersionPins parses "name=version" pairs, normalising names to secret:// references.
func secretVersionPins(raw string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range parseKeyValueList(raw, nil) {
		var prefix string
		if idx := strings.Index(ref, ":"); idx > 0 {
			schemeSplit := strings.Index(ref, "://")
			if schemeSplit == -1 || idx < schemeSplit {
				prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
				ref = strings.TrimSpace(ref[idx+1:])
			}
		}
		switch {
		case strings.HasPrefix(ref, "sm://"):
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		case !strings.HasPrefix(ref, "secret://"):
			ref = "secret://" + ref
		}
		pins[prefix+ref] = version
	}
	return pins
}

func parseKeyValueList(raw string, normaliseKey func(string) string) map[string]string {
	result := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if normaliseKey != nil {
			key = normaliseKey(key)
		}
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}
