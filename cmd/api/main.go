package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cpay-gateway/config"
	httpHandler "cpay-gateway/internal/adapter/http/handler"
	"cpay-gateway/internal/adapter/http/middleware"
	memStorage "cpay-gateway/internal/adapter/storage/memory"
	pgStorage "cpay-gateway/internal/adapter/storage/postgres"
	redisStorage "cpay-gateway/internal/adapter/storage/redis"
	"cpay-gateway/internal/core/ports"
	"cpay-gateway/internal/obs"
	"cpay-gateway/internal/service"
	"cpay-gateway/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("store", cfg.Store.Driver).
		Msg("Starting cPay gateway")

	ctx := context.Background()

	// Tracing
	if cfg.Tracing.Enabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			Endpoint:      cfg.Tracing.Endpoint,
			SamplingRatio: cfg.Tracing.SamplingRatio,
			Environment:   cfg.Tracing.Environment,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracing")
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
		log.Info().Str("endpoint", cfg.Tracing.Endpoint).Msg("Tracing enabled")
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := obs.NewHTTPMetrics(reg)
	domainMetrics := obs.NewDomainMetrics(reg)

	// Session store
	var (
		repo     ports.SessionRepository
		locker   ports.SessionLocker
		checkers []ports.HealthChecker
	)
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()
		log.Info().Msg("PostgreSQL connected")

		if cfg.Store.AutoMigrate {
			if err := pgStorage.EnsureSchema(ctx, pool); err != nil {
				log.Fatal().Err(err).Msg("Failed to prepare session schema")
			}
		}

		encSvc, err := service.NewAESEncryptionService(cfg.Store.EncryptionKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize encryption service")
		}
		repo = pgStorage.NewSessionRepo(pool, encSvc)
		checkers = append(checkers, pgStorage.NewHealthCheck(pool))
	default:
		repo = memStorage.NewSessionRepo()
		locker = memStorage.NewKeyLocker()
		log.Warn().Msg("Using in-memory session store; sessions are lost on restart")
	}

	sigSvc := service.NewHMACSignatureService()
	tokenSvc := service.NewJWTTokenService(cfg.Auth.JWTSecret, cfg.Auth.Expiry, cfg.Auth.Issuer)

	deps := httpHandler.RouterDeps{
		SigSvc:        sigSvc,
		TokenSvc:      tokenSvc,
		IdemTTL:       cfg.Redis.IdempotencyTTL,
		HTTPMetrics:   httpMetrics,
		MetricsGather: reg,
		HMACSecret:    cfg.Auth.HMACSecret,
		JWTEnabled:    cfg.Auth.JWTSecret != "",
		Mode:          cfg.Server.Mode,
		Logger:        log,
		RateLimit: middleware.RateLimitRule{
			Limit:  cfg.RateLimit.Requests,
			Window: cfg.RateLimit.Window,
		},
	}

	// Redis: per-session lock, replay protection, idempotency, rate limiting
	if cfg.Redis.Enabled {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		log.Info().Msg("Redis connected")

		locker = redisStorage.NewSessionLock(rdb, cfg.Redis.LockTTL, logger.WithComponent(log, "lock"))
		deps.NonceStore = redisStorage.NewNonceStore(rdb)
		deps.IdemCache = redisStorage.NewIdempotencyCache(rdb)
		deps.RateLimitStore = redisStorage.NewRateLimitStore(rdb)
		checkers = append(checkers, redisStorage.NewHealthCheck(rdb))
	}
	deps.HealthCheckers = checkers

	// Gateway protocol
	converter := service.NewStaticCurrencyConverter()
	checksum := service.NewMD5ChecksumService(cfg.Gateway.ChecksumKey)
	encoder := service.NewCPayParamEncoder(service.GatewayOptions{
		MerchantName: cfg.Gateway.MerchantName,
		MerchantID:   cfg.Gateway.MerchantID,
		BackendURL:   cfg.Gateway.BackendURL,
		ShopOKURL:    cfg.Gateway.PaymentOKURL,
		ShopFailURL:  cfg.Gateway.PaymentFailURL,
		DetailsLabel: cfg.Gateway.DetailsLabel,
	})

	var capture ports.CaptureExecutor
	if cfg.Capture.WebhookURL != "" {
		capture = service.NewHTTPCaptureNotifier(
			cfg.Capture.WebhookURL,
			cfg.Capture.SigningSecret,
			sigSvc,
			converter,
			service.NewHTTPClient(cfg.Capture.Timeout),
			domainMetrics,
			logger.WithComponent(log, "capture"),
		)
		log.Info().Str("url", cfg.Capture.WebhookURL).Msg("Capture notifications enabled")
	}

	sessionSvc := service.NewSessionService(repo, locker, converter, encoder, checksum, capture, cfg.Gateway.URL, domainMetrics, logger.WithComponent(log, "session"))
	deps.SessionSvc = sessionSvc
	deps.SuccessFallback = cfg.Gateway.SuccessFallback()
	deps.FailFallback = cfg.Gateway.FailFallback()
	deps.Reconciler = service.NewCallbackReconciler(sessionSvc, checksum, service.CallbackOptions{
		SuccessFallback: cfg.Gateway.SuccessFallback(),
		FailFallback:    cfg.Gateway.FailFallback(),
		RequireChecksum: cfg.Gateway.RequireCallbackChecksum,
	}, domainMetrics, logger.WithComponent(log, "callback"))

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(deps)

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(router, "cpay-gateway"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
