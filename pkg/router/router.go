package router

import (
	"net/http"
	"strings"
	"time"

	"claw-companion/backend/internal/api"
	"claw-companion/backend/internal/ws"
	"claw-companion/backend/pkg/config"
	"claw-companion/backend/pkg/di"
	"claw-companion/backend/pkg/errors"
	"claw-companion/backend/pkg/logger"
	"claw-companion/backend/pkg/middleware"
	"claw-companion/backend/shared/observability"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Router is the main router for the application
type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
	Config    *config.Config

	limiter  *middleware.RateLimiter
	timeline *api.TimelineHandler
}

// New creates a new router with the given container
func New(container *di.Container) *Router {
	logger.SetGlobal(container.Logger)
	api.RegisterErrorMappers()

	cfg := container.Config
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Request ID first so the logger middleware and every handler see it
	engine.Use(middleware.RequestIDMiddleware())
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(corsMiddleware(cfg.Security.AllowedOrigins))
	engine.Use(bodyLimit(cfg.Security.MaxBodySize))

	opts := middleware.DefaultRateLimiterOptions()
	if cfg.Security.RateLimit > 0 {
		opts.Limit = rate.Limit(cfg.Security.RateLimit)
		opts.Burst = cfg.Security.RateLimitBurst
	}
	opts.KeyFunc = middleware.SubjectOrIP

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
		Config:    cfg,
		limiter:   middleware.NewRateLimiter(container.Logger, opts),
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	r.setupHealthRoutes()

	if r.Config.Features.EnableOpenAPI {
		r.AddOpenAPIValidation(r.Config.Features.OpenAPISchemaPath)
	}

	jwtAuth := middleware.JWTAuthMiddleware(r.Container.JWTService, r.Logger)

	timelineOpts := api.TimelineOptions{Submitter: r.Container.Remote}
	if r.Container.Hub != nil {
		timelineOpts.Publisher = r.Container.Hub
	}
	r.timeline = api.NewTimelineHandler(r.Container.Timeline, timelineOpts, r.Logger)

	// Manual sync triggers share one bucket across callers
	syncHandler := api.NewSyncHandler(r.Container.Engine, rate.Every(2*time.Second), 3)
	integrityHandler := api.NewIntegrityHandler(r.Container.Reports, r.Container.Gate)
	documentHandler := api.NewDocumentHandler(r.Container.Editor)

	v1 := r.Engine.Group("/api/v1")
	v1.Use(jwtAuth, r.limiter.Middleware())
	{
		r.timeline.RegisterRoutes(v1)
		syncHandler.RegisterRoutes(v1)
		integrityHandler.RegisterRoutes(v1)
		documentHandler.RegisterRoutes(v1)
	}

	if r.Container.Hub != nil {
		r.Engine.GET("/ws", jwtAuth, func(c *gin.Context) {
			ws.ServeWs(r.Container.Hub, c)
		})
	}
}

// Close stops background work started by the handlers
func (r *Router) Close() {
	r.limiter.Stop()
	if r.timeline != nil {
		r.timeline.Wait()
	}
}

func (r *Router) metricsHandler() gin.HandlerFunc {
	return gin.WrapH(observability.Handler(r.Container.Metrics.Registry))
}

// corsMiddleware allows the configured origins, plus the websocket upgrade headers
func corsMiddleware(allowed []string) gin.HandlerFunc {
	allowAll := len(allowed) == 0
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
		}
		set[o] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		h := c.Writer.Header()
		switch {
		case origin == "":
		case allowAll:
			h.Set("Access-Control-Allow-Origin", origin)
		default:
			if _, ok := set[origin]; ok {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
		}

		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Accept-Encoding, Authorization, Origin, Upgrade, Connection, Cache-Control, X-Request-ID")
		h.Set("Access-Control-Expose-Headers", "Upgrade, Connection, X-Request-ID, Retry-After")
		h.Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func bodyLimit(max int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if max > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		}
		c.Next()
	}
}
