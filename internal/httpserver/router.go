package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mailtriage/internal/handler"
	"mailtriage/pkg/logger"
	"mailtriage/pkg/metrics"
	"mailtriage/pkg/otel"
	"mailtriage/pkg/trace"
)

type Router struct {
	Engine *gin.Engine
}

// Deps are optional except the handlers; a nil pool or redis client skips that readiness check,
// a nil admin handler leaves /admin unregistered.
type Deps struct {
	EmailHandler  *handler.EmailHandler
	PromptHandler *handler.PromptHandler
	AdminHandler  *handler.AdminHandler
	JWTSecret     string
	DB            *pgxpool.Pool
	Redis         *redis.Client
	Logger        *zap.Logger
}

func NewRouter(d Deps) *Router {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(trace.Middleware())
	r.Use(otel.GinMiddleware())
	r.Use(logger.GinLogger(d.Logger))
	r.Use(metrics.GinMiddleware())

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/health", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		if d.DB != nil {
			if err := d.DB.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready", "error": err.Error()})
				return
			}
		}
		if d.Redis != nil {
			if err := d.Redis.Ping(ctx).Err(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "redis_not_ready", "error": err.Error()})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	if d.JWTSecret != "" {
		api.Use(AuthMiddleware(d.JWTSecret))
	}
	{
		api.GET("/emails", d.EmailHandler.ListEmails)
		api.POST("/emails", d.EmailHandler.CreateEmail)
		api.POST("/emails/ingest", d.EmailHandler.Ingest)
		api.POST("/emails/reanalyze", d.EmailHandler.Reanalyze)
		api.GET("/emails/:id", d.EmailHandler.GetEmail)
		api.POST("/emails/:id/analyze", d.EmailHandler.Analyze)
		api.POST("/emails/:id/generate-draft", d.EmailHandler.GenerateDraft)
		api.POST("/emails/:id/regenerate-draft", d.EmailHandler.RegenerateDraft)
		api.POST("/emails/:id/chat", d.EmailHandler.Chat)
		api.GET("/emails/:id/suggestions", d.EmailHandler.Suggestions)

		api.GET("/prompts", d.PromptHandler.ListPrompts)
		api.POST("/prompts/update", d.PromptHandler.UpdatePrompts)
	}

	if d.AdminHandler != nil {
		admin := r.Group("/admin")
		if d.JWTSecret != "" {
			admin.Use(AuthMiddleware(d.JWTSecret))
		}
		admin.POST("/outbox/replay", d.AdminHandler.ReplayOutboxEvent)
		admin.POST("/outbox/replay-failed", d.AdminHandler.ReplayFailedEvents)
	}

	return &Router{Engine: r}
}
