// Package metrics exposes the engine's Prometheus surface (SPEC_FULL.md §7):
// package-level counters/gauges updated inline by the scheduler workers (the
// teacher's style in the original internal/metrics/metrics.go), plus a
// GaugeCollector that queries the tier stores live on every scrape for
// figures that only make sense as a point-in-time snapshot (C-tier counts by
// status, K-tier queue depth, dispatcher lag). The claim-lock holder count
// is the inline ClaimLockHeld gauge.
package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stufio-com/eventsched/internal/domain"
	"github.com/stufio-com/eventsched/internal/tier"
)

var (
	CronTicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "eventsched",
		Name:      "cron_ticks_total",
		Help:      "Total CronGenerator ticks run.",
	})

	EventsGeneratedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "eventsched",
		Name:      "events_generated_total",
		Help:      "Total DelayedEvent rows produced by the CronGenerator.",
	})

	PromotionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "eventsched",
		Name:      "promotions_total",
		Help:      "Total C-to-K promotions performed.",
	})

	DispatchedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventsched",
		Name:      "dispatched_total",
		Help:      "Total dispatch attempts, by terminal result.",
	}, []string{"result"})

	ClaimLockHeld = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "eventsched",
		Name:      "claim_locks_held",
		Help:      "Number of K-tier claim locks this replica currently holds.",
	})

	CronLastTickTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "eventsched",
		Name:      "cron_last_tick_timestamp_seconds",
		Help:      "Unix timestamp of the CronGenerator's last completed tick.",
	})

	JanitorCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "eventsched",
		Name:      "janitor_cycle_duration_seconds",
		Help:      "Time taken for one janitor sweep cycle.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Register registers every package-level collector against reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		CronTicksTotal,
		EventsGeneratedTotal,
		PromotionsTotal,
		DispatchedTotal,
		ClaimLockHeld,
		CronLastTickTimestamp,
		JanitorCycleDuration,
	)
}

// GaugeCollector implements prometheus.Collector, querying live tier state
// on every scrape instead of caching a snapshot — per-tier counts by status
// and dispatcher lag are cheap single queries against the narrow tier
// interfaces, so there's no need for a background poller duplicating that
// work between scrapes.
type GaugeCollector struct {
	c tier.CStore
	k tier.KStore

	logger *slog.Logger

	cCountDesc *prometheus.Desc
	kDepthDesc *prometheus.Desc
	lagDesc    *prometheus.Desc
}

func NewGaugeCollector(c tier.CStore, k tier.KStore, logger *slog.Logger) *GaugeCollector {
	return &GaugeCollector{
		c:      c,
		k:      k,
		logger: logger.With("component", "metrics_collector"),
		cCountDesc: prometheus.NewDesc(
			"eventsched_c_tier_events", "Number of C-tier rows by status.",
			[]string{"status"}, nil,
		),
		kDepthDesc: prometheus.NewDesc(
			"eventsched_k_tier_queue_depth", "Number of K-tier index entries due at or before now.",
			nil, nil,
		),
		lagDesc: prometheus.NewDesc(
			"eventsched_dispatcher_lag_seconds", "Median seconds past due among sampled pending K-tier events.",
			nil, nil,
		),
	}
}

func (g *GaugeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- g.cCountDesc
	ch <- g.kDepthDesc
	ch <- g.lagDesc
}

func (g *GaugeCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if counts, err := g.c.CountByStatus(ctx); err != nil {
		g.logger.Warn("collect C-tier counts failed", "error", err)
	} else {
		for status, n := range counts {
			ch <- prometheus.MustNewConstMetric(g.cCountDesc, prometheus.GaugeValue, float64(n), string(status))
		}
	}

	now := time.Now().UTC()
	nowScore := float64(now.Unix())

	if depth, err := g.k.IndexCount(ctx, math.Inf(-1), nowScore); err != nil {
		g.logger.Warn("collect K-tier depth failed", "error", err)
	} else {
		ch <- prometheus.MustNewConstMetric(g.kDepthDesc, prometheus.GaugeValue, float64(depth))
	}

	if lag, ok := g.dispatcherLag(ctx, now, nowScore); ok {
		ch <- prometheus.MustNewConstMetric(g.lagDesc, prometheus.GaugeValue, lag)
	}
}

// dispatcherLag samples up to 200 due-and-pending K entries and returns the
// median of (now - scheduled_at) across them, per SPEC_FULL.md §7.
func (g *GaugeCollector) dispatcherLag(ctx context.Context, now time.Time, nowScore float64) (float64, bool) {
	ids, err := g.k.IndexRangeByScore(ctx, math.Inf(-1), nowScore, 200)
	if err != nil || len(ids) == 0 {
		return 0, false
	}

	var lags []float64
	for _, id := range ids {
		blob, err := g.k.GetValue(ctx, id)
		if err != nil {
			continue
		}
		var ev domain.HotEvent
		if err := json.Unmarshal(blob, &ev); err != nil {
			continue
		}
		lags = append(lags, now.Sub(ev.ScheduledAt).Seconds())
	}
	if len(lags) == 0 {
		return 0, false
	}

	sort.Float64s(lags)
	return lags[len(lags)/2], true
}

// Handler returns the promhttp handler serving every collector registered
// against reg (the same registry passed to Register and NewGaugeCollector's
// caller).
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
