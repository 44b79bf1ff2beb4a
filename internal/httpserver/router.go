package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"staffplanner/internal/handler"
	"staffplanner/pkg/otel"
	"staffplanner/pkg/trace"
)

// ReadinessCheck reports whether one dependency can serve traffic.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type RouterDeps struct {
	Planner   *handler.PlannerHandler
	Admin     *handler.AdminHandler // nil without the postgres driver
	Readiness []ReadinessCheck
	Logger    *zap.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(TraceMiddleware())
	r.Use(otel.GinMiddleware())
	r.Use(RequestLogger(deps.Logger))

	// Health endpoints
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		for _, rc := range deps.Readiness {
			if err := rc.Check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": rc.Name + "_not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	p := deps.Planner
	r.POST("/allocations", p.CreateAllocation)
	r.PATCH("/allocations/:id", p.UpdateAllocation)
	r.DELETE("/allocations/:id", p.RemoveAllocation)

	r.POST("/conflicts/check", p.CheckConflicts)
	r.POST("/conflicts/auto-resolve", p.AutoResolve)
	r.POST("/conflicts/:id/resolve", p.ResolveConflict)
	r.GET("/conflicts/:id/resolutions", p.ResolutionHistory)

	r.POST("/capacity/validate", p.ValidateCapacity)
	r.PUT("/employees/:id/capacity/:date", p.SetCapacity)
	r.GET("/utilization", p.Utilization)

	if deps.Admin != nil {
		admin := r.Group("/admin")
		admin.GET("/outbox/failed", deps.Admin.ListFailedEvents)
		admin.POST("/outbox/replay", deps.Admin.ReplayFailedEvents)
	}

	return r
}

// TraceMiddleware reuses the caller's X-Trace-ID or generates one, and echoes it back.
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(trace.HeaderName())
		if traceID == "" {
			traceID = trace.GenerateTraceID()
		}
		c.Request = c.Request.WithContext(trace.WithContext(c.Request.Context(), traceID))
		c.Header(trace.HeaderName(), traceID)
		c.Next()
	}
}

// RequestLogger 请求日志中间件
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		if path == "/healthz" || path == "/metrics" {
			return
		}
		logger.Info("HTTP Request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("trace_id", trace.FromContext(c.Request.Context())),
		)
	}
}
