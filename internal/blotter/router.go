package blotter

import (
	"context"
	"log/slog"
	"time"

	"github.com/dyluth/bingo/internal/engine"
	"github.com/dyluth/bingo/internal/identity"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const (
	callerKey   = "bingo_caller"
	serviceName = "bingo"
)

// RouterConfig holds the collaborators the router needs besides the engine.
type RouterConfig struct {
	Resolver   identity.Resolver
	Authorizer identity.Authorizer
	Gatherer   prometheus.Gatherer // nil disables /metrics
	Logger     *slog.Logger
	Timeout    time.Duration // Deadline for each blotter request, 0 = none
}

// NewRouter builds the gin engine serving the blotter, health and metrics
// endpoints.
func NewRouter(eng Engine, cfg RouterConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Resolver == nil {
		cfg.Resolver = identity.NewCookieResolver("", identity.DefaultCookieMaxAge, false)
	}
	if cfg.Authorizer == nil {
		cfg.Authorizer = identity.NewTokenAuthorizer("", nil)
	}

	h := NewHandler(eng, cfg.Logger)

	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware(serviceName), requestLogger(cfg.Logger))

	r.GET("/healthz", h.Health)
	if cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	b := r.Group("/blotter", timeoutMiddleware(cfg.Timeout), callerMiddleware(cfg.Resolver, cfg.Authorizer))
	b.POST("/ab_test", h.ABTest)
	b.GET("/ab_test", h.ABTest)
	b.POST("/bingo", h.Bingo)

	return r
}

// callerMiddleware resolves the identity and control privilege once per
// request and stores them on the context.
func callerMiddleware(resolver identity.Resolver, authorizer identity.Authorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(callerKey, engine.Caller{
			Identity:   resolver.Resolve(c.Writer, c.Request),
			CanControl: authorizer.CanControl(c.Request),
		})
		c.Next()
	}
}

// timeoutMiddleware bounds the store round trips of a request.
func timeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if timeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func callerFrom(c *gin.Context) engine.Caller {
	if v, ok := c.Get(callerKey); ok {
		if caller, ok := v.(engine.Caller); ok {
			return caller
		}
	}
	return engine.Caller{}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	logger = logger.With("component", "http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}
