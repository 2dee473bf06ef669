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
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/homebitez/api/internal/di"
	"github.com/homebitez/api/internal/handlers"
	"github.com/homebitez/api/internal/payments"
	"github.com/homebitez/api/internal/platform/auth"
	"github.com/homebitez/api/internal/platform/config"
	pfirestore "github.com/homebitez/api/internal/platform/firestore"
	"github.com/homebitez/api/internal/platform/idempotency"
	"github.com/homebitez/api/internal/platform/jobs"
	"github.com/homebitez/api/internal/platform/observability"
	ppostgres "github.com/homebitez/api/internal/platform/postgres"
	"github.com/homebitez/api/internal/platform/requestctx"
	"github.com/homebitez/api/internal/platform/secrets"
	platformstorage "github.com/homebitez/api/internal/platform/storage"
	"github.com/homebitez/api/internal/repositories"
	firestoreRepo "github.com/homebitez/api/internal/repositories/firestore"
	postgresRepo "github.com/homebitez/api/internal/repositories/postgres"
	"github.com/homebitez/api/internal/services"
)

const (
	firestoreDialTimeout = 10 * time.Second
	tokenVerifyTimeout   = 5 * time.Second
	jwksFetchTimeout     = 5 * time.Second
	healthCheckTimeout   = 2 * time.Second
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
	ctx = requestctx.WithLogger(ctx, logger)

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
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg)

	db, err := ppostgres.Open(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	if cfg.Postgres.MigrateOnStart {
		applied, err := ppostgres.Migrate(ctx, db, postgresRepo.Migrations(), observability.EventLogger(logger.Named("migrate")))
		if err != nil {
			logger.Fatal("failed to apply migrations", zap.Error(err))
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", zap.Ints("versions", applied))
		}
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore, append(firestoreClientOptions(cfg), pfirestore.WithDialTimeout(firestoreDialTimeout))...)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	storageClient, err := cloudstorage.NewClient(ctx)
	if err != nil {
		logger.Fatal("failed to initialise storage client", zap.Error(err))
	}
	defer func() {
		if err := storageClient.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}()

	var receipts services.ReceiptArchive
	if bucket := strings.TrimSpace(cfg.Storage.ReceiptsBucket); bucket != "" {
		archive, err := platformstorage.NewReceiptArchive(storageClient, bucket)
		if err != nil {
			logger.Fatal("failed to initialise receipt archive", zap.Error(err))
		}
		receipts = archive
	} else {
		logger.Warn("receipts bucket not configured; receipts will not be archived")
	}

	events, stopEvents := newEventPublisher(ctx, logger, cfg)
	defer stopEvents()

	var metrics services.CheckoutMetrics
	if checkoutMetrics, err := observability.NewCheckoutMetrics(); err != nil {
		logger.Warn("checkout metrics unavailable", zap.Error(err))
	} else {
		metrics = checkoutMetrics
	}

	healthRepo, err := newHealthRepository(db, firestoreProvider, fetcher, storageClient, cfg)
	if err != nil {
		logger.Warn("health: dependency checks unavailable", zap.Error(err))
	}

	registry, err := di.NewStoreRegistry(ctx, di.StoreDeps{
		DB:        db,
		Firestore: firestoreProvider,
		Health:    healthRepo,
		Clock:     time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, registry, di.Infrastructure{
		Providers: buildPaymentProviders(logger, cfg),
		Events:    events,
		Receipts:  receipts,
		Metrics:   metrics,
		Build:     buildInfo,
		Logger:    logger,
		Clock:     time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()
	svc := container.Services

	idempotencyStore, err := idempotency.NewPostgresStore(db)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupLogger := logger.Named("idempotency")
	cleaner := idempotency.Cleaner{
		Store:     idempotencyStore,
		Interval:  cfg.Idempotency.CleanupInterval,
		BatchSize: cfg.Idempotency.CleanupBatchSize,
		OnSweep: func(removed int, err error) {
			if err != nil {
				cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
				return
			}
			if removed > 0 {
				cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		},
	}
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		cleaner.Run(cleanupCtx)
	}()

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(
		firebaseVerifier,
		auth.WithOwnerUIDs(cfg.Security.OwnerUIDs),
		auth.WithVerificationTimeout(tokenVerifyTimeout),
	)

	oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg)
	hmacValidator := buildHMACValidator(cfg)

	cartHandlers := handlers.NewCartHandlers(authenticator, svc.Cart)
	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, svc.Checkout,
		handlers.WithNETSStreamTimeout(cfg.PSP.NETS.StreamTimeout),
		handlers.WithEnabledMethods(cfg.Checkout.MethodEnabled),
	)
	meHandlers := handlers.NewMeHandlers(authenticator, handlers.MeServices{
		Orders:   svc.Orders,
		Wallet:   svc.Wallet,
		Loyalty:  svc.Loyalty,
		Paylater: svc.Paylater,
		Refunds:  svc.Refunds,
	})
	ownerHandlers := handlers.NewOwnerHandlers(authenticator, handlers.OwnerServices{
		Orders:    svc.Orders,
		Refunds:   svc.Refunds,
		Inventory: svc.Inventory,
	})

	webhookOpts := []handlers.WebhookOption{handlers.WithStripeWebhookSecret(cfg.PSP.Stripe.WebhookSecret)}
	if hmacValidator != nil {
		webhookOpts = append(webhookOpts, handlers.WithNETSWebhookGuard(hmacValidator.RequireHMAC("nets")))
	} else {
		logger.Warn("auth: nets webhook secret not configured; notifications are unsigned")
	}
	webhookHandlers := handlers.NewWebhookHandlers(svc.Checkout, webhookOpts...)
	internalHandlers := handlers.NewInternalHandlers(svc.Paylater, handlers.WithReminderWindow(cfg.Checkout.ReminderWindow))

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
		idempotencyMiddleware,
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
		handlers.WithHealthStartedAt(startedAt),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithMeRoutes(meHandlers.Routes),
		handlers.WithOwnerRoutes(ownerHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	router := handlers.NewRouter(opts...)
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
		serverLogger.Info("homebitez api listening",
			zap.String("version", buildInfo.Version),
			zap.String("environment", buildInfo.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		Environment: environment,
	}
}

func firestoreClientOptions(cfg config.Config) []pfirestore.ProviderOption {
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" && cfg.Firestore.EmulatorHost == "" {
		return []pfirestore.ProviderOption{pfirestore.WithClientOptions(option.WithCredentialsFile(file))}
	}
	return nil
}

// newEventPublisher returns a nil publisher when no topic is configured.
func newEventPublisher(ctx context.Context, logger *zap.Logger, cfg config.Config) (services.EventPublisher, func()) {
	topicName := strings.TrimSpace(cfg.Events.Topic)
	projectID := strings.TrimSpace(cfg.Events.ProjectID)
	if topicName == "" || projectID == "" {
		logger.Warn("events topic not configured; domain events are dropped")
		return nil, func() {}
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		logger.Warn("pubsub client unavailable; domain events are dropped", zap.Error(err))
		return nil, func() {}
	}
	topic := client.Topic(topicName)
	publisher, err := jobs.NewPubSubEventPublisher(topic)
	if err != nil {
		_ = client.Close()
		logger.Warn("event publisher unavailable", zap.Error(err))
		return nil, func() {}
	}
	return publisher, func() {
		topic.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
}

func buildPaymentProviders(logger *zap.Logger, cfg config.Config) []payments.Provider {
	paymentsLogger := payments.Logger(observability.EventLogger(logger.Named("payments")))
	var providers []payments.Provider

	if strings.TrimSpace(cfg.PSP.Stripe.SecretKey) != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:    cfg.PSP.Stripe.SecretKey,
			AccountID: cfg.PSP.Stripe.AccountID,
			Logger:    paymentsLogger,
			Clock:     time.Now,
		})
		if err != nil {
			logger.Fatal("failed to initialise stripe payment provider", zap.Error(err))
		}
		providers = append(providers, stripeProvider)
	} else {
		logger.Warn("stripe not configured; card payments disabled")
	}

	if strings.TrimSpace(cfg.PSP.PayPal.ClientID) != "" {
		paypalProvider, err := payments.NewPayPalProvider(payments.PayPalProviderConfig{
			BaseURL:      cfg.PSP.PayPal.BaseURL,
			ClientID:     cfg.PSP.PayPal.ClientID,
			ClientSecret: cfg.PSP.PayPal.ClientSecret,
			Logger:       paymentsLogger,
		})
		if err != nil {
			logger.Fatal("failed to initialise paypal payment provider", zap.Error(err))
		}
		providers = append(providers, paypalProvider)
	} else {
		logger.Warn("paypal not configured; paypal payments disabled")
	}

	if strings.TrimSpace(cfg.PSP.NETS.APIKey) != "" {
		netsProvider, err := payments.NewNETSProvider(payments.NETSProviderConfig{
			BaseURL:   cfg.PSP.NETS.BaseURL,
			APIKey:    cfg.PSP.NETS.APIKey,
			ProjectID: cfg.PSP.NETS.ProjectID,
			SecretKey: cfg.PSP.NETS.SecretKey,
			Logger:    paymentsLogger,
		})
		if err != nil {
			logger.Fatal("failed to initialise nets payment provider", zap.Error(err))
		}
		providers = append(providers, netsProvider)
	} else {
		logger.Warn("nets not configured; qr payments disabled")
	}
	return providers
}

func newHealthRepository(db *ppostgres.DB, provider *pfirestore.Provider, fetcher *secrets.Fetcher, storage *cloudstorage.Client, cfg config.Config) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 4)
	if db != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "postgres",
			Timeout: time.Second,
			Check:   db.Ping,
		})
	}
	if provider != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				return provider.Ping(ctx, firestoreRepo.SessionCollection)
			},
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:     "secretManager",
			Timeout:  time.Second,
			Optional: true,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if bucket := strings.TrimSpace(cfg.Storage.ReceiptsBucket); storage != nil && bucket != "" {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "receiptsBucket",
			Timeout:  time.Second,
			Optional: true,
			Check: func(ctx context.Context) error {
				_, err := storage.Bucket(bucket).Attrs(ctx)
				return err
			},
		})
	}
	return repositories.NewDependencyHealthRepository(checks, repositories.WithDependencyTimeout(healthCheckTimeout))
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSHTTPClient(&http.Client{Timeout: jwksFetchTimeout}))
	validator := auth.NewOIDCValidator(cache)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func buildHMACValidator(cfg config.Config) *auth.HMACValidator {
	secrets := make(map[string]string)
	for key, value := range cfg.Security.HMAC.Secrets {
		if strings.TrimSpace(value) == "" {
			continue
		}
		secrets[strings.ToLower(key)] = value
	}
	if _, ok := secrets["nets"]; !ok && strings.TrimSpace(cfg.PSP.NETS.SecretKey) != "" {
		secrets["nets"] = cfg.PSP.NETS.SecretKey
	}
	if len(secrets) == 0 {
		return nil
	}
	return auth.NewHMACValidator(secrets,
		auth.WithHMACHeaders(cfg.Security.HMAC.SignatureHeader, cfg.Security.HMAC.TimestampHeader),
		auth.WithHMACClockSkew(cfg.Security.HMAC.ClockSkew),
	)
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

	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

func requiredSecretNames(env map[string]string) []string {
	required := []string{"Postgres.DSN"}
	if env != nil {
		if strings.TrimSpace(env["API_STRIPE_SECRET_KEY"]) != "" {
			required = append(required, "PSP.Stripe.WebhookSecret")
		}
		if strings.TrimSpace(env["API_PAYPAL_CLIENT_ID"]) != "" {
			required = append(required, "PSP.PayPal.ClientSecret")
		}
		if strings.TrimSpace(env["API_NETS_PROJECT_ID"]) != "" {
			required = append(required, "PSP.NETS.APIKey")
		}
		for _, key := range parseHMACSecretKeys(env["API_SECURITY_HMAC_SECRETS"]) {
			required = append(required, fmt.Sprintf("Security.HMAC.Secrets[%s]", key))
		}
	}
	return uniqueStrings(required)
}

func parseHMACSecretKeys(raw string) []string {
	var keys []string
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		if key == "" || strings.TrimSpace(parts[1]) == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}
