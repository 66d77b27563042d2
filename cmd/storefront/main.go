package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/xdignya776/shoptrae/internal/catalog"
	"github.com/xdignya776/shoptrae/internal/copywriter"
	"github.com/xdignya776/shoptrae/internal/gateway"
	"github.com/xdignya776/shoptrae/internal/handlers"
	"github.com/xdignya776/shoptrae/internal/platform/config"
	"github.com/xdignya776/shoptrae/internal/platform/idempotency"
	"github.com/xdignya776/shoptrae/internal/platform/observability"
	"github.com/xdignya776/shoptrae/internal/platform/secrets"
	"github.com/xdignya776/shoptrae/internal/session"
	"github.com/xdignya776/shoptrae/internal/wishlist"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("storefront")
	ctx = observability.WithLogger(ctx, logger)

	resolver, err := newSecretResolver(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret resolver", zap.Error(err))
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(resolver),
		config.WithRequiredSecrets(requiredSecretNames()...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	client, err := gateway.New(gateway.Options{
		Endpoint: cfg.Gateway.Endpoint,
		Timeout:  cfg.Gateway.Timeout,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("failed to initialise commerce gateway", zap.Error(err))
	}

	// The catalog is shared across visitors and reads through the root client; carts get their own.
	products := catalog.NewCache(catalog.CacheDeps{
		Gateway:  client,
		PageSize: cfg.Gateway.ProductPageSize,
		Logger:   logger,
	})
	loaded := products.Load(ctx)
	logger.Info("catalog loaded", zap.Int("products", len(loaded)), zap.String("source", string(products.Source())))

	storage, closeStorage, err := openWishlistStorage(ctx, cfg.Wishlist)
	if err != nil {
		logger.Fatal("failed to open wishlist storage", zap.Error(err))
	}
	defer closeStorage()

	registry, err := session.NewRegistry(session.RegistryDeps{
		NewGateway: func() (session.Gateway, error) { return client.NewSession() },
		Storage:    storage,
		Logger:     logger,
		IdleTTL:    cfg.Session.IdleTTL,
	})
	if err != nil {
		logger.Fatal("failed to initialise visitor registry", zap.Error(err))
	}

	codec, err := session.NewCodec(session.CookieOptions{
		Name:       cfg.Session.CookieName,
		SigningKey: cfg.Session.SigningKey,
		Secure:     cfg.Session.Secure,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("failed to initialise session cookies", zap.Error(err))
	}

	writer := copywriter.NewWriter(copywriter.WriterDeps{Model: newCopyModel(ctx, logger, cfg.Copy), Logger: logger})

	display := handlers.Display{Currency: cfg.Storefront.Currency, Locale: cfg.Storefront.Locale}
	catalogHandlers := handlers.NewCatalogHandlers(products, writer, display)
	cartHandlers := handlers.NewCartHandlers(registry, products, display)
	wishlistHandlers := handlers.NewWishlistHandlers(registry, products, display)
	checkoutHandlers := handlers.NewCheckoutHandlers(registry, display)

	projectID := cfg.Observability.ProjectID
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthCatalog(products),
		handlers.WithHealthEnvironment(cfg.Environment),
	)

	idempotencyStore := idempotency.NewMemoryStore()

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithVisitorMiddlewares(codec.Middleware),
		handlers.WithCatalogRoutes(catalogHandlers.Routes),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithWishlistRoutes(wishlistHandlers.Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithCheckoutMiddlewares(idempotency.Middleware(idempotencyStore, idempotency.WithLogger(logger.Named("idempotency")))),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		registry.RunJanitor(janitorCtx, cfg.Session.JanitorInterval)
	}()
	go runIdempotencyCleanup(janitorCtx, idempotencyStore, cfg.Session.JanitorInterval, logger.Named("idempotency"))

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront listening", zap.String("environment", cfg.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	stopJanitor()
	<-janitorDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	registry.Close()
}

func newSecretResolver(ctx context.Context, logger *zap.Logger) (*secrets.Resolver, error) {
	fallback := strings.TrimSpace(os.Getenv("STOREFRONT_SECRETS_FALLBACK_FILE"))
	if fallback == "" {
		fallback = ".secrets.local"
	}
	opts := secrets.Options{
		ProjectID: strings.TrimSpace(os.Getenv("STOREFRONT_SECRETS_PROJECT_ID")),
		LocalFile: fallback,
		Logger:    logger,
	}
	if credentials := strings.TrimSpace(os.Getenv("STOREFRONT_SECRETS_CREDENTIALS_FILE")); credentials != "" {
		opts.ClientOptions = append(opts.ClientOptions, option.WithCredentialsFile(credentials))
	}
	return secrets.NewResolver(ctx, opts)
}

func requiredSecretNames() []string {
	if strings.EqualFold(strings.TrimSpace(os.Getenv("STOREFRONT_ENV")), "prod") {
		return []string{"Session.SigningKey"}
	}
	return nil
}

func openWishlistStorage(ctx context.Context, cfg config.WishlistConfig) (wishlist.Storage, func(), error) {
	if cfg.Driver == "memory" {
		return wishlist.NewMemoryStorage(), func() {}, nil
	}
	store, err := wishlist.OpenSQLite(ctx, cfg.Path)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

func newCopyModel(ctx context.Context, logger *zap.Logger, cfg config.CopyConfig) copywriter.Model {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil
	}
	model, err := copywriter.NewGenAIModel(ctx, cfg.APIKey, cfg.Model)
	if err != nil {
		logger.Warn("generative model unavailable, using default copy", zap.Error(err))
		return nil
	}
	return model
}

func runIdempotencyCleanup(ctx context.Context, store idempotency.Store, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := store.CleanupExpired(ctx, now.UTC())
			if err != nil {
				logger.Warn("idempotency cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Debug("idempotency records expired", zap.Int("removed", removed))
			}
		}
	}
}
