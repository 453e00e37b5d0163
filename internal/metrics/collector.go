// Package metrics exposes Prometheus instrumentation for the agent loop.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the palmtree metric families. All methods are safe on a nil
// receiver so components can run uninstrumented in tests.
type Collector struct {
	registry *prometheus.Registry

	tasksTotal        *prometheus.CounterVec
	taskSteps         prometheus.Histogram
	actionsTotal      *prometheus.CounterVec
	actionDuration    *prometheus.HistogramVec
	inferenceTotal    *prometheus.CounterVec
	inferenceDuration prometheus.Histogram
	inferenceRetries  prometheus.Counter
	sessionStates     *prometheus.CounterVec
	httpRequestsTotal *prometheus.CounterVec
}

// NewCollector registers all metric families on a private registry.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		tasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Tasks that reached a terminal status.",
		}, []string{"status", "reason"}),
		taskSteps: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_steps",
			Help:      "Steps consumed by terminal tasks.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34, 55},
		}),
		actionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Browser actions dispatched, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		actionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Browser action latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"kind"}),
		inferenceTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_requests_total",
			Help:      "Inference attempts, by outcome.",
		}, []string{"outcome"}),
		inferenceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Latency of successful inference calls.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		inferenceRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_retries_total",
			Help:      "Inference attempts that were retried.",
		}),
		sessionStates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "browser_session_transitions_total",
			Help:      "Browser session state transitions, by target state.",
		}, []string{"state"}),
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests, by route and status code.",
		}, []string{"method", "route", "status"}),
	}
}

// RecordTask counts a terminal task.
func (c *Collector) RecordTask(status, reason string, steps int) {
	if c == nil {
		return
	}
	c.tasksTotal.WithLabelValues(status, reason).Inc()
	c.taskSteps.Observe(float64(steps))
}

// RecordAction counts one dispatched browser action.
func (c *Collector) RecordAction(kind, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.actionsTotal.WithLabelValues(kind, outcome).Inc()
	c.actionDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordInference counts one inference attempt.
func (c *Collector) RecordInference(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.inferenceTotal.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		c.inferenceDuration.Observe(d.Seconds())
	}
}

// RecordInferenceRetry counts one retried inference attempt.
func (c *Collector) RecordInferenceRetry() {
	if c == nil {
		return
	}
	c.inferenceRetries.Inc()
}

// RecordSessionState counts a session state transition.
func (c *Collector) RecordSessionState(state string) {
	if c == nil {
		return
	}
	c.sessionStates.WithLabelValues(state).Inc()
}

// RecordHTTPRequest counts one API request.
func (c *Collector) RecordHTTPRequest(method, route string, status int) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
