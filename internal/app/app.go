package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/farmcart/farmcart/internal/cache"
	"github.com/farmcart/farmcart/internal/domain/cart"
	"github.com/farmcart/farmcart/internal/domain/checkout"
	"github.com/farmcart/farmcart/internal/domain/discount"
	"github.com/farmcart/farmcart/internal/domain/payment"
	"github.com/farmcart/farmcart/internal/handler"
	"github.com/farmcart/farmcart/internal/repository"
	"github.com/farmcart/farmcart/pkg/health"
	"github.com/farmcart/farmcart/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the checkout
// recovery loop, and handles graceful shutdown. It is the single wiring
// point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second))

	// Repositories.
	productRepo := repository.NewProductRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	discountRepo := repository.NewDiscountRepository(pool)

	var cartRepo cart.Repository = repository.NewCartRepository(pool)

	// Redis cart cache, when configured.
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return errors.Wrap(err, "parse redis URL")
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()

		healthSvc.AddReadinessCheck("redis", 5*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		cartRepo = cache.NewCachedCartRepository(cartRepo, cache.NewCartCache(rdb), lg)
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Discount registry: built-in codes plus any active rules in the store.
	registry, err := loadRegistry(ctx, discountRepo, lg)
	if err != nil {
		return errors.Wrap(err, "load discount registry")
	}

	// Domain services.
	sessions := cart.NewSessions(cartRepo, registry, lg)
	defer sessions.Close()

	gateway := payment.NewDevGateway(cfg.Payment.CaptureDelay, cfg.Payment.CaptureDeadline)
	coordinator := checkout.NewCoordinator(gateway, orderRepo, cartRepo, cfg.Payment.Currency, lg)

	recovery := checkout.NewRecovery(orderRepo, coordinator, cfg.Payment.RecoveryInterval, lg)
	go recovery.Run(ctx)

	// HTTP handlers.
	h := handler.New(
		handler.Config{WebhookSecret: cfg.Payment.WebhookSecret},
		sessions,
		productRepo,
		orderRepo,
		registry,
		coordinator,
		lg,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.Instrument("farmcart-api", m),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// loadRegistry merges the built-in discount codes with active rules from the
// store. The merged registry is fixed for the process lifetime.
func loadRegistry(ctx context.Context, repo discount.Repository, lg *zap.Logger) (*discount.Registry, error) {
	stored, err := repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	rules := append(discount.DefaultRules(), stored...)
	lg.Info("Discount registry loaded",
		zap.Int("builtin", len(rules)-len(stored)),
		zap.Int("stored", len(stored)),
	)
	return discount.NewRegistry(rules...), nil
}
