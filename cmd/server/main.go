package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/reelgauge/reelgauge/internal"
	"github.com/reelgauge/reelgauge/internal/billing"
	"github.com/reelgauge/reelgauge/internal/handler"
	"github.com/reelgauge/reelgauge/internal/middleware"
	"github.com/reelgauge/reelgauge/internal/ratelimit"
	"github.com/reelgauge/reelgauge/internal/repository"
	"github.com/reelgauge/reelgauge/internal/service"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize storage
	var store repository.Store
	switch cfg.StoreBackend {
	case "postgres":
		db, err := sql.Open("pgx", cfg.DatabaseUrl)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()

		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}

		if err := internal.RunMigrations(db); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		logger.Info("Database ready")

		store = repository.NewPostgresStore(db)
	case "memory":
		logger.Warn("Using in-memory store; state will not survive restarts")
		store = repository.NewMemoryStore()
	}

	// Rate limiters: one shared window store, one limiter per operation class
	windows := ratelimit.NewStore(logger)
	defer windows.Close()

	inferenceLimiter := ratelimit.NewLimiter(windows, "analysis", cfg.InferenceLimit, cfg.InferenceWindow)
	reviewLimiter := ratelimit.NewLimiter(windows, "review", cfg.ReviewLimit, cfg.ReviewWindow)
	apiLimiter := ratelimit.NewLimiter(windows, "api", cfg.APILimit, cfg.APIWindow)

	// Billing
	billingService := billing.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret, billing.PriceConfig{
		ProMonthlyPriceID:       cfg.StripeProMonthlyPriceID,
		ProYearlyPriceID:        cfg.StripeProYearlyPriceID,
		UnlimitedMonthlyPriceID: cfg.StripeUnlimitedMonthlyPriceID,
		UnlimitedYearlyPriceID:  cfg.StripeUnlimitedYearlyPriceID,
	})

	// Services
	entitlementService := service.NewEntitlementService(store, logger)
	accountService := service.NewAccountService(store, entitlementService, logger)
	ledgerService := service.NewLedgerService(store, cfg.CommissionRate, logger)
	ingestService := service.NewIngestService(accountService, ledgerService, billingService, logger)

	// Handlers
	admissionHandler := handler.NewAdmissionHandler(entitlementService, inferenceLimiter, logger)
	accountHandler := handler.NewAccountHandler(accountService, entitlementService, reviewLimiter, logger)
	affiliateHandler := handler.NewAffiliateHandler(ledgerService, logger)
	webhookHandler := handler.NewWebhookHandler(billingService, ingestService, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Metrics (basic auth when configured)
	metricsAuth := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	// Webhook intake (public; authenticated by signature)
	webhookHandler.RegisterRoutes(mux)

	// API routes behind the generic limiter
	apiMux := http.NewServeMux()
	admissionHandler.RegisterRoutes(apiMux)
	accountHandler.RegisterRoutes(apiMux)
	affiliateHandler.RegisterRoutes(apiMux)

	apiLimit := middleware.NewRateLimitMiddleware(apiLimiter, logger)
	mux.Handle("/api/", apiLimit.Limit(apiMux))

	// Outer middleware chain
	chain := middleware.Stack(
		middleware.MetricsMiddleware,
		middleware.NewRequestLoggingMiddleware(logger).Handler,
	)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: chain(mux),
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env, "store", cfg.StoreBackend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
