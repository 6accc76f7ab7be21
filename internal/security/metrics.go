package security

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "chat_service"

// Collectors stay nil until InitMetrics runs; every recorder checks for that.
var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	StoreLatency *prometheus.HistogramVec

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	DBPoolOpenConnections prometheus.Gauge
	DBPoolMaxConnections  prometheus.Gauge

	// GatewayConnections is the number of websocket connections held by this instance.
	GatewayConnections prometheus.Gauge
	// BroadcastEventsTotal is labelled by event name and outcome (delivered, dropped, failed).
	BroadcastEventsTotal *prometheus.CounterVec
	MessagesSentTotal    prometheus.Counter
	NotificationsTotal   *prometheus.CounterVec
)

var labelKeyPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels turns "k1=v1,k2=v2" into constant labels. Environment
// references are expanded first, so values cannot contain commas.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = strings.TrimSpace(os.Expand(s, os.Getenv))
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok {
			return nil, fmt.Errorf("metrics label %q: want key=value", pair)
		}
		if !labelKeyPattern.MatchString(key) {
			return nil, fmt.Errorf("metrics label key %q is not a valid prometheus label name", key)
		}
		labels[key] = value
	}
	return labels, nil
}

var metricsOnce sync.Once

// InitMetrics registers the service collectors on the default registry, tagged with
// constLabels. Only the first call has any effect.
func InitMetrics(constLabels prometheus.Labels) {
	metricsOnce.Do(func() {
		registerMetrics(promauto.With(prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)))
	})
}

func registerMetrics(f promauto.Factory) {
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{Namespace: metricsNamespace, Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{Namespace: metricsNamespace, Name: name, Help: help})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: metricsNamespace, Name: name, Help: help}, labels)
	}
	histogramVec := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Name: name, Help: help, Buckets: prometheus.DefBuckets,
		}, labels)
	}

	httpRequestsTotal = counterVec("requests_total", "HTTP requests by method, route and status", "method", "route", "status")
	httpRequestDuration = histogramVec("request_duration_seconds", "HTTP request latency by method and route", "method", "route")
	StoreLatency = histogramVec("store_latency_seconds", "Chat store operation latency", "operation")

	CacheHitsTotal = counter("cache_hits_total", "Summary cache hits")
	CacheMissesTotal = counter("cache_misses_total", "Summary cache misses")
	DBPoolOpenConnections = gauge("db_pool_open_connections", "Open database connections")
	DBPoolMaxConnections = gauge("db_pool_max_connections", "Configured database connection ceiling")

	GatewayConnections = gauge("gateway_connections", "Live websocket connections")
	BroadcastEventsTotal = counterVec("broadcast_events_total", "Real-time events fanned out to connections", "event", "outcome")
	MessagesSentTotal = counter("messages_sent_total", "Messages persisted")
	NotificationsTotal = counterVec("notifications_total", "Notification outbox transitions", "outcome")
}

// ObserveBroadcast records one fan-out outcome.
func ObserveBroadcast(event, outcome string) {
	if BroadcastEventsTotal != nil {
		BroadcastEventsTotal.WithLabelValues(event, outcome).Inc()
	}
}

// ObserveNotification records one notification outcome.
func ObserveNotification(outcome string) {
	if NotificationsTotal != nil {
		NotificationsTotal.WithLabelValues(outcome).Inc()
	}
}

// MetricsMiddleware records request counts and latency. The route label is the matched
// gin route template, never the raw path.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
