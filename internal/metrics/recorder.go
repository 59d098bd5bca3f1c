package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agora"

// Recorder owns the service collectors. A nil Recorder discards observations.
type Recorder struct {
	registry             *prometheus.Registry
	interactions         *prometheus.CounterVec
	reconcileFailures    *prometheus.CounterVec
	notificationFailures *prometheus.CounterVec
	requestDuration      *prometheus.HistogramVec
}

// NewRecorder registers the collectors on a private registry.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	recorder := &Recorder{
		registry: registry,
		interactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interactions_total",
			Help:      "Interaction gateway operations by outcome.",
		}, []string{"operation", "outcome"}),
		reconcileFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_reconcile_failures_total",
			Help:      "Counter reconciliations that failed after a successful mutation.",
		}, []string{"counter"}),
		notificationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Notifications dropped by stage.",
		}, []string{"stage"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		recorder.interactions,
		recorder.reconcileFailures,
		recorder.notificationFailures,
		recorder.requestDuration,
	)
	return recorder
}

// ObserveInteraction counts one gateway operation; outcome is "ok" or an error kind.
func (r *Recorder) ObserveInteraction(operation, outcome string) {
	if r == nil {
		return
	}
	r.interactions.WithLabelValues(operation, outcome).Inc()
}

func (r *Recorder) ReconcileFailed(counter string) {
	if r == nil {
		return
	}
	r.reconcileFailures.WithLabelValues(counter).Inc()
}

func (r *Recorder) NotificationFailed(stage string) {
	if r == nil {
		return
	}
	r.notificationFailures.WithLabelValues(stage).Inc()
}

func (r *Recorder) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// Handler exposes the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}
