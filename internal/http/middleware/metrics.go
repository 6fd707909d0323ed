package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// unmatchedRoute labels requests that hit no registered route.
const unmatchedRoute = "unmatched"

// Collectors exported on /metrics. Route labels come from c.FullPath() so the
// series set is bounded by the route table.
var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status.",
		},
		[]string{"method", "path", "status"},
	)

	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds by method and route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Requests currently being served.",
		},
	)

	// Upper buckets cover PDF streams.
	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "HTTP response body size in bytes by method and route.",
			Buckets: []float64{256, 1 << 10, 4 << 10, 16 << 10, 64 << 10, 256 << 10, 1 << 20, 8 << 20, 32 << 20, 64 << 20},
		},
		[]string{"method", "path"},
	)

	// outcome is allowed, denied, or error (store failure, request admitted).
	rateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Window rate limiter decisions by policy and outcome.",
		},
		[]string{"policy", "outcome"},
	)

	// event is hit, miss, store, bypass, invalidate or error.
	cacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "response_cache_events_total",
			Help: "Response cache events by resource family.",
		},
		[]string{"family", "event"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize, rateLimitDecisions, cacheEvents)
}

// Metrics records request count, latency, in-flight gauge and response size
// for every request. Mount it before the error responder so rendered error
// statuses are counted.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		httpInflight.Inc()
		start := time.Now()

		c.Next()

		httpInflight.Dec()
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		method := c.Request.Method
		httpReqs.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpLat.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		// Size is -1 when nothing was written or the connection was hijacked.
		if n := c.Writer.Size(); n >= 0 {
			httpRespSize.WithLabelValues(method, route).Observe(float64(n))
		}
	}
}
