// Package httpserver is the internal operational HTTP surface
// (SPEC_FULL.md §7): liveness/readiness probes, the Prometheus scrape
// endpoint, and a read-only stats summary. It carries none of the
// teacher's job/schedule CRUD admin routes — those, along with their auth
// middleware, are out of scope (see DESIGN.md) — but keeps the teacher's
// choice of gin for routing, the same way Geocoder89-event-hub's worker
// package exposes its own health endpoints on a dedicated gin.Engine
// rather than reusing the public API router.
package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/stufio-com/eventsched/internal/health"
	"github.com/stufio-com/eventsched/internal/infrastructure/postgres"
	"github.com/stufio-com/eventsched/internal/metrics"
)

// StatsWindow is how far back /stats summarizes analytics rows.
const StatsWindow = 24 * time.Hour

// Summarizer is the narrow slice of AnalyticsRepository /stats needs.
type Summarizer interface {
	Summarize(ctx context.Context, since time.Time) (*postgres.Summary, error)
}

// New builds the gin.Engine serving /healthz, /readyz, /metrics, and
// /stats. reg is the same registry passed to metrics.Register and
// health.NewChecker so every collector lines up on one scrape.
func New(checker *health.Checker, reg *prometheus.Registry, analytics Summarizer, logger *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, checker.Liveness(c.Request.Context()))
	})

	r.GET("/readyz", func(c *gin.Context) {
		result := checker.Readiness(c.Request.Context())
		status := http.StatusOK
		if result.Status != "up" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, result)
	})

	r.GET("/metrics", gin.WrapH(metrics.Handler(reg)))

	r.GET("/stats", func(c *gin.Context) {
		since := time.Now().UTC().Add(-StatsWindow)
		summary, err := analytics.Summarize(c.Request.Context(), since)
		if err != nil {
			logger.ErrorContext(c.Request.Context(), "summarize analytics failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "summary unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"since":           since,
			"result_counts":   summary.ResultCounts,
			"avg_c_queue_ms":  summary.AvgCQueueMS,
			"avg_k_queue_ms":  summary.AvgKQueueMS,
			"avg_total_ms":    summary.AvgTotalMS,
		})
	})

	return r
}
