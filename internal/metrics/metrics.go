// Package metrics exposes Prometheus collectors for checkout sessions, chat relays, and HTTP traffic.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leotyps/jkt48connect/pkg/chat"
	"github.com/leotyps/jkt48connect/pkg/checkout"
)

const (
	namespace = "jkt48connect"

	relayResultCancelled = "cancelled"
	relayResultClosed    = "closed"
	relayResultError     = "error"
)

// Collector owns a private registry so tests and multiple servers never collide.
type Collector struct {
	registry *prometheus.Registry

	transitions         *prometheus.CounterVec
	fulfillmentFailures *prometheus.CounterVec
	chatMessages        *prometheus.CounterVec
	relayStops          *prometheus.CounterVec
	reconnects          *prometheus.CounterVec
	pollErrors          *prometheus.CounterVec
	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)
	return &Collector{
		registry: registry,
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_transitions_total",
			Help:      "Checkout session transitions by purchase kind and target status",
		}, []string{"kind", "status"}),
		fulfillmentFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_failures_total",
			Help:      "Failed checkout sessions by purchase kind and failure kind",
		}, []string{"kind", "failure"}),
		chatMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_messages_total",
			Help:      "Chat messages relayed by provider",
		}, []string{"provider"}),
		relayStops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_relay_stops_total",
			Help:      "Chat relay exits by provider and result",
		}, []string{"provider", "result"}),
		reconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_reconnects_total",
			Help:      "Chat reconnect attempts by provider",
		}, []string{"provider"}),
		pollErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_poll_errors_total",
			Help:      "Failed chat polls by provider",
		}, []string{"provider"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry exposes the underlying registry.
func (collector *Collector) Registry() *prometheus.Registry {
	return collector.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (collector *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(collector.registry, promhttp.HandlerOpts{Registry: collector.registry})
}

// LogTransition implements checkout.TransitionLogger.
func (collector *Collector) LogTransition(_ context.Context, entry checkout.TransitionLog) {
	kind := entry.Kind.String()
	collector.transitions.WithLabelValues(kind, entry.To.String()).Inc()
	if entry.To == checkout.StatusFailed && entry.Failure != nil {
		collector.fulfillmentFailures.WithLabelValues(kind, string(entry.Failure.Kind)).Inc()
	}
}

// MessagesReceived implements chat.Observer.
func (collector *Collector) MessagesReceived(provider chat.Provider, _ string, count int) {
	collector.chatMessages.WithLabelValues(provider.String()).Add(float64(count))
}

// RelayStopped implements chat.Observer.
func (collector *Collector) RelayStopped(provider chat.Provider, _ string, err error) {
	result := relayResultClosed
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		result = relayResultCancelled
	default:
		result = relayResultError
	}
	collector.relayStops.WithLabelValues(provider.String(), result).Inc()
}

// ReconnectHook returns a callback counting reconnect attempts for provider.
func (collector *Collector) ReconnectHook(provider chat.Provider) func(attempt int, delay time.Duration, code int) {
	counter := collector.reconnects.WithLabelValues(provider.String())
	return func(int, time.Duration, int) {
		counter.Inc()
	}
}

// PollErrorHook returns a callback counting failed polls for provider.
func (collector *Collector) PollErrorHook(provider chat.Provider) func(err error) {
	counter := collector.pollErrors.WithLabelValues(provider.String())
	return func(error) {
		counter.Inc()
	}
}

// Middleware records request counts and latency keyed by the matched route.
func (collector *Collector) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := ctx.Request.Method
		collector.httpRequests.WithLabelValues(method, route, strconv.Itoa(ctx.Writer.Status())).Inc()
		collector.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
