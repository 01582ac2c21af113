// Package metrics exposes Prometheus counters and histograms for proxied
// requests, upstream latency and token refreshes.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "codex_proxy"

// Collector holds the proxy's metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	requests         *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	tokenRefreshes   *prometheus.CounterVec
	streamErrors     prometheus.Counter
	chunks           prometheus.Counter
}

// New creates a collector with Go runtime and process metrics registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Proxied chat completion requests by mode and response status.",
		}, []string{"mode", "status"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_seconds",
			Help:      "Time from sending the upstream request to the end of its stream.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"mode"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_total",
			Help:      "Access token refresh attempts by result.",
		}, []string{"result"}),
		streamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_errors_total",
			Help:      "Upstream streams that ended with a read error.",
		}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Chat completion chunks produced from upstream events.",
		}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.requests,
		c.upstreamDuration,
		c.tokenRefreshes,
		c.streamErrors,
		c.chunks,
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one proxied request.
func (c *Collector) ObserveRequest(stream bool, status int) {
	c.requests.WithLabelValues(mode(stream), strconv.Itoa(status)).Inc()
}

// ObserveUpstream records an upstream round trip and what the transcoder made
// of it.
func (c *Collector) ObserveUpstream(stream bool, d time.Duration, chunks int, streamErr error) {
	c.upstreamDuration.WithLabelValues(mode(stream)).Observe(d.Seconds())
	c.chunks.Add(float64(chunks))
	if streamErr != nil {
		c.streamErrors.Inc()
	}
}

// ObserveRefresh records a token refresh outcome.
func (c *Collector) ObserveRefresh(err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.tokenRefreshes.WithLabelValues(result).Inc()
}

func mode(stream bool) string {
	if stream {
		return "stream"
	}
	return "json"
}
