package gateway

import (
	"sync/atomic"

	"github.com/mintya/autoproxy/internal/proxy"
	"github.com/prometheus/client_golang/prometheus"
)

// requestCounters tracks gateway-level outcome counts using atomic
// operations for lock-free concurrency, independent of any per-request
// logging (spec.md §1's non-goal: no persistent per-request log — these
// are aggregate counters only).
type requestCounters struct {
	forwarded atomic.Int64
	failedOut atomic.Int64 // synthesized 502s, pool exhausted
}

// collector implements prometheus.Collector, sampling the live Registry
// on every scrape rather than mirroring its state into a second set of
// gauges that could drift.
type collector struct {
	registry *proxy.Registry
	counters *requestCounters

	scoreDesc     *prometheus.Desc
	windowDesc    *prometheus.Desc
	preferredDesc *prometheus.Desc
	forwardedDesc *prometheus.Desc
	exhaustedDesc *prometheus.Desc
}

func newCollector(registry *proxy.Registry, counters *requestCounters) *collector {
	return &collector{
		registry: registry,
		counters: counters,
		scoreDesc: prometheus.NewDesc(
			"autoproxy_provider_score", "Current health score (0-100) per provider.",
			[]string{"provider"}, nil),
		windowDesc: prometheus.NewDesc(
			"autoproxy_provider_window_count", "Admitted requests in the current 60s rate window.",
			[]string{"provider"}, nil),
		preferredDesc: prometheus.NewDesc(
			"autoproxy_provider_preferred", "1 if this provider is currently preferred, else 0.",
			[]string{"provider"}, nil),
		forwardedDesc: prometheus.NewDesc(
			"autoproxy_requests_forwarded_total", "Requests that received a non-synthetic response.", nil, nil),
		exhaustedDesc: prometheus.NewDesc(
			"autoproxy_requests_exhausted_total", "Requests for which every candidate failed (synthesized 502).", nil, nil),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.scoreDesc
	ch <- c.windowDesc
	ch <- c.preferredDesc
	ch <- c.forwardedDesc
	ch <- c.exhaustedDesc
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.registry.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.scoreDesc, prometheus.GaugeValue, float64(s.Score), s.Name)
		ch <- prometheus.MustNewConstMetric(c.windowDesc, prometheus.GaugeValue, float64(s.WindowCount), s.Name)
		preferred := 0.0
		if s.Preferred {
			preferred = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.preferredDesc, prometheus.GaugeValue, preferred, s.Name)
	}
	ch <- prometheus.MustNewConstMetric(c.forwardedDesc, prometheus.CounterValue, float64(c.counters.forwarded.Load()))
	ch <- prometheus.MustNewConstMetric(c.exhaustedDesc, prometheus.CounterValue, float64(c.counters.failedOut.Load()))
}
