package handler

import (
	"time"

	"cpay-gateway/internal/adapter/http/middleware"
	"cpay-gateway/internal/core/ports"
	"cpay-gateway/internal/obs"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	SessionSvc     ports.SessionService
	Reconciler     ports.CallbackReconciler
	SigSvc         ports.SignatureService
	TokenSvc       ports.TokenService
	NonceStore     ports.NonceStore       // nil = no replay protection
	IdemCache      ports.IdempotencyCache // nil = Idempotency-Key ignored
	IdemTTL        time.Duration
	RateLimitStore middleware.RateLimitStore // nil = rate limiting disabled
	RateLimit      middleware.RateLimitRule
	HealthCheckers []ports.HealthChecker
	HTTPMetrics    *obs.HTTPMetrics    // nil = no request metrics
	MetricsGather  prometheus.Gatherer // nil = /metrics not served
	HMACSecret     string              // set = HMAC auth on the session API
	JWTEnabled     bool                // bearer auth when HMACSecret is empty
	Mode           string
	Logger         zerolog.Logger

	// Redirect targets for callbacks that panic.
	SuccessFallback string
	FailFallback    string
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Mode != "" {
		gin.SetMode(deps.Mode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.Metrics(deps.HTTPMetrics))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep: pings the session store and Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	if deps.MetricsGather != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.MetricsGather, promhttp.HandlerOpts{})))
	}

	// --- Gateway callbacks (browser posts, never authenticated or limited) ---
	callbackHandler := NewCallbackHandler(deps.Reconciler, deps.Logger)
	cpay := r.Group("/api/cpay")
	{
		cpay.POST("/success", middleware.CallbackRecovery(deps.SuccessFallback, deps.Logger), callbackHandler.Success)
		cpay.POST("/fail", middleware.CallbackRecovery(deps.FailFallback, deps.Logger), callbackHandler.Fail)
	}

	// --- Session API (host platform) ---
	var guards []gin.HandlerFunc
	switch {
	case deps.HMACSecret != "":
		guards = append(guards, middleware.HMACAuth(deps.HMACSecret, deps.SigSvc, deps.NonceStore, deps.Logger))
	case deps.JWTEnabled && deps.TokenSvc != nil:
		guards = append(guards, middleware.JWTAuth(deps.TokenSvc, deps.Logger))
	default:
		deps.Logger.Warn().Msg("session API is running without authentication")
	}
	if deps.RateLimitStore != nil && deps.RateLimit.Limit > 0 {
		guards = append(guards, middleware.RateLimiter(deps.RateLimitStore, "sessions", deps.RateLimit, deps.Logger))
	}

	sessionHandler := NewSessionHandler(deps.SessionSvc, deps.IdemCache, deps.IdemTTL, deps.Logger)
	sessions := r.Group("/api/v1/sessions", guards...)
	{
		sessions.POST("", sessionHandler.Initiate)
		sessions.GET("/:id", sessionHandler.GetStatus)
		sessions.GET("/:id/payload", sessionHandler.RetrievePayload)
		sessions.POST("/:id/authorize", sessionHandler.Authorize)
		sessions.POST("/:id/capture", sessionHandler.Capture)
		sessions.POST("/:id/cancel", sessionHandler.Cancel)
		sessions.POST("/:id/refund", sessionHandler.Refund)
		sessions.DELETE("/:id", sessionHandler.Delete)
	}

	return r
}
