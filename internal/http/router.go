// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging, panic recovery, metrics, CORS,
// security headers, idempotency, and rate limiting.
//
// Middleware ordering is safe by default: RequestID before logging before
// recovery, idempotency before the rate limiter so replays bypass limiting.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/AishaRafeeq/go-token-backend/internal/config"
	"github.com/AishaRafeeq/go-token-backend/internal/http/handlers"
	"github.com/AishaRafeeq/go-token-backend/internal/http/middleware"
	"github.com/AishaRafeeq/go-token-backend/internal/observability"
	"github.com/AishaRafeeq/go-token-backend/internal/repo"
	"github.com/AishaRafeeq/go-token-backend/internal/services"
)

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and
// rate limiting, CORS and security headers, health and metrics endpoints,
// and then mounts the versioned public API under cfg.APIBasePath.
//
// Middleware order:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Actor identity: copy X-Actor-ID into context for logs and limits
//  4. Logger: structured access logs
//  5. Recovery: capture panics after logger
//  6. Body size limiter
//  7. Metrics
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per actor/IP, bypass on replay)
//  10. CORS and security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Acting identity: trust upstream auth when present, else the header
	r.Use(func(c *gin.Context) {
		if _, ok := c.Get("actorID"); !ok {
			if h := c.GetHeader("X-Actor-ID"); h != "" {
				c.Set("actorID", h)
			}
		}
		c.Next()
	})

	// 4) Structured access logging
	r.Use(middleware.Logger())

	// 5) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 6) Global body size limit (1 MiB; payloads here are small JSON)
	r.Use(limitBody(1 << 20))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, actorID, key string, now time.Time) (bool, error) {
			return repo.IdempotencyKeyExists(ctx, db, actorID, key, now)
		},
	))

	// 9) Token-bucket rate limiter per actor/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByActorOrIP())
	r.Use(rl.Handler())

	// 10) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{
		"Origin", "Content-Type", "Accept", "Authorization",
		"X-Actor-ID", middleware.HeaderIdempotencyKey,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist.
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← db/config; all queue mutations share
	// one lock registry so per-category serialization holds process-wide.
	locks := services.NewCategoryLocks()
	events := observability.MetricsPublisher{
		Next: services.LogPublisher{Log: log.With().Str("component", "events").Logger()},
	}

	tokenSvc := services.NewTokenService(db, cfg.QR, locks)
	tokenSvc.Events = events
	tokenSvc.LockWait = cfg.LockWait

	queueSvc := services.NewQueueService(db, locks)
	queueSvc.Events = events
	queueSvc.LockWait = cfg.LockWait

	verifySvc := services.NewVerificationService(db)
	verifySvc.Events = events

	h := handlers.New(db, tokenSvc, queueSvc, verifySvc)
	h.IdempotencyTTL = cfg.IdempotencyTTL

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Tokens
		api.POST("/tokens", h.IssueToken)
		api.POST("/tokens/manual", h.CreateManualToken)
		api.GET("/tokens", h.ListTokens)
		api.GET("/tokens/:token_id", h.GetToken)
		api.POST("/tokens/:token_id/complete", h.CompleteToken)
		api.DELETE("/tokens/:token_id", h.DeleteToken)

		// Queues
		api.POST("/queues/call-next", h.CallNext)
		api.POST("/queues/emergency", h.Emergency)
		api.GET("/queues/live", h.LiveQueue)

		// Scans and artifacts
		api.POST("/scans", h.CreateScan)
		api.GET("/scans", h.ListScans)
		api.GET("/qrcodes/:qr_id/image", h.QRImage)

		// Categories
		api.POST("/categories", h.CreateCategory)
		api.GET("/categories", h.ListCategories)
		api.GET("/categories/:category_id", h.GetCategory)

		// Reports
		api.GET("/reports/overview", h.QueueOverview)
		api.GET("/reports/categories", h.CategorySummary)
	}
}

// limitBody caps the request body size for all endpoints using
// http.MaxBytesReader; oversized bodies error on read downstream.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
