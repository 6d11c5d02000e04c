// Package httpapi wires the worker's ops HTTP surface (Gin) to the admin
// service, the scheduler, and the shared middleware: tracing, correlation
// IDs, redacted access logs, panic recovery, metrics, CORS, security headers,
// bearer auth and rate limiting.
//
// The surface is small: liveness/readiness probes, Prometheus /metrics, an
// optional Swagger UI, and the versioned operator API under API_BASE_PATH.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/flymate-worker/docs"
	"github.com/tbourn/flymate-worker/internal/config"
	"github.com/tbourn/flymate-worker/internal/domain"
	"github.com/tbourn/flymate-worker/internal/http/handlers"
	"github.com/tbourn/flymate-worker/internal/http/middleware"
	"github.com/tbourn/flymate-worker/internal/repo"
	"github.com/tbourn/flymate-worker/internal/services"
)

// adminRepoShim adapts the repository free functions to services.AdminRepo.
type adminRepoShim struct{}

// ListNeedsAttention proxies repo.ListNeedsAttention.
func (adminRepoShim) ListNeedsAttention(ctx context.Context, db *gorm.DB, limit int) ([]domain.Subscription, error) {
	return repo.ListNeedsAttention(ctx, db, limit)
}

// ResetAttention proxies repo.ResetAttention.
func (adminRepoShim) ResetAttention(ctx context.Context, db *gorm.DB, id int64) error {
	return repo.ResetAttention(ctx, db, id)
}

// CollectStats proxies repo.CollectStats.
func (adminRepoShim) CollectStats(ctx context.Context, db *gorm.DB, now time.Time) (domain.SubscriptionStats, error) {
	return repo.CollectStats(ctx, db, now)
}

// readyTimeout bounds the database ping behind /ready.
const readyTimeout = 2 * time.Second

// RegisterRoutes attaches middleware and endpoints to r. sweeper may be nil
// (the /sweep endpoint then answers 404).
//
// Middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. RedactingLogger
//  4. Recovery
//  5. Body size limit
//  6. Metrics
//  7. CORS and security headers
//
// The operator group adds gzip, BearerAuth and the rate limiter, in that
// order, so the limiter keys authenticated callers by operator.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, sweeper handlers.Sweeper, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-Telegram-Bot-Api-Secret-Token"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(64 << 10))
	r.Use(middleware.Metrics())

	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization"}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:     cfg.Security.EnableHSTS,
		HSTSMaxAge:     cfg.Security.HSTSMaxAge,
		NoStore:        true,
		EnablePolicy:   true,
		StaticPrefixes: []string{"/swagger/"},
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Probes and metrics stay unauthenticated for the orchestrator/scraper.
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/ready", readiness(db))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiBase := cfg.APIBasePath
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = apiBase
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	adminSvc := services.NewAdminService(db, adminRepoShim{})
	h := handlers.New(adminSvc, sweeper)

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByOperatorOrIP())

	api := groupWithPrefix(r, apiBase)
	api.Use(gzip.Gzip(gzip.DefaultCompression))
	api.Use(middleware.BearerAuth(cfg.OpsToken))
	api.Use(rl.Handler())
	{
		api.GET("/subscriptions/attention", h.ListAttention)
		api.POST("/subscriptions/:id/reset", h.ResetSubscription)
		api.GET("/stats", h.Stats)
		api.POST("/sweep", h.Sweep)
	}
}

// readiness reports 200 when the database answers a ping, 503 otherwise.
func readiness(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db == nil {
			handlers.Fail(c, http.StatusServiceUnavailable, handlers.ErrCodeInternal, "database not configured")
			return
		}
		sqlDB, err := db.DB()
		if err == nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
			defer cancel()
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("readiness ping failed")
			handlers.Fail(c, http.StatusServiceUnavailable, handlers.ErrCodeInternal, "database unavailable")
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// limitBody caps request bodies at maxBytes using http.MaxBytesReader.
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
