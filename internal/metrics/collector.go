// Package metrics exports engine activity as Prometheus metrics. The
// collector is fed by the engine's event stream and reads breaker state on
// scrape.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jaqedu/jaqflow/internal/resilience"
	"github.com/jaqedu/jaqflow/pkg/schema"
)

// Config holds collector settings.
type Config struct {
	Namespace string    `yaml:"namespace" json:"namespace"`
	Buckets   []float64 `yaml:"buckets" json:"buckets,omitempty"`
}

// DefaultConfig returns the default collector configuration.
func DefaultConfig() Config {
	return Config{Namespace: "jaqflow", Buckets: prometheus.DefBuckets}
}

// Collector holds the engine's Prometheus metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	executions        *prometheus.CounterVec
	duration          *prometheus.HistogramVec
	stepsPerRun       *prometheus.HistogramVec
	stepTimeouts      *prometheus.CounterVec
	breakerTransition *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// NewCollector creates a Collector with its own registry.
func NewCollector(cfg Config) *Collector {
	if cfg.Namespace == "" {
		cfg.Namespace = "jaqflow"
	}
	if len(cfg.Buckets) == 0 {
		cfg.Buckets = prometheus.DefBuckets
	}
	ns := cfg.Namespace
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "workflow_executions_total",
			Help:      "Workflow runs by outcome (started, completed, failed, error).",
		}, []string{"workflow_id", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "workflow_duration_seconds",
			Help:      "Duration of completed workflow runs.",
			Buckets:   cfg.Buckets,
		}, []string{"workflow_id"}),
		stepsPerRun: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "workflow_steps",
			Help:      "Steps executed per completed run.",
			Buckets:   prometheus.LinearBuckets(1, 2, 10),
		}, []string{"workflow_id"}),
		stepTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "step_timeouts_total",
			Help:      "Steps that exceeded their execution timeout.",
		}, []string{"workflow_id", "step_id"}),
		breakerTransition: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Circuit breaker state transitions.",
		}, []string{"name", "to"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "http_requests_total",
			Help:      "HTTP API requests.",
		}, []string{"method", "route", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP API request latency.",
			Buckets:   cfg.Buckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(c.executions, c.duration, c.stepsPerRun, c.stepTimeouts,
		c.breakerTransition, c.httpRequests, c.httpDuration)
	return c
}

// Registry exposes the underlying registry for additional collectors.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Emit updates metrics from an engine event. It never blocks.
func (c *Collector) Emit(_ context.Context, event string, payload map[string]any) {
	wf, _ := payload["workflowId"].(string)

	switch event {
	case schema.EventExecutionStarted:
		c.executions.WithLabelValues(wf, "started").Inc()
	case schema.EventExecutionCompleted:
		c.executions.WithLabelValues(wf, "completed").Inc()
	case schema.EventExecutionFailed:
		c.executions.WithLabelValues(wf, "failed").Inc()
	case schema.EventExecutionError:
		c.executions.WithLabelValues(wf, "error").Inc()
	case schema.EventStepTimeout:
		step, _ := payload["stepId"].(string)
		c.stepTimeouts.WithLabelValues(wf, step).Inc()
	case schema.EventMetricsCollected:
		var m schema.ExecutionMetrics
		switch v := payload["metrics"].(type) {
		case schema.ExecutionMetrics:
			m = v
		case *schema.ExecutionMetrics:
			if v == nil {
				return
			}
			m = *v
		default:
			return
		}
		c.duration.WithLabelValues(wf).Observe(float64(m.TotalExecutionTime) / 1000)
		c.stepsPerRun.WithLabelValues(wf).Observe(float64(m.StepCount))
	case schema.EventBreakerStateChange:
		name, _ := payload["name"].(string)
		to, _ := payload["to"].(string)
		c.breakerTransition.WithLabelValues(name, to).Inc()
	}
}

// ObserveHTTP records one API request.
func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// WatchBreakers exports the live state of every breaker in reg on each scrape.
func (c *Collector) WatchBreakers(reg *resilience.Registry, namespace string) error {
	if namespace == "" {
		namespace = "jaqflow"
	}
	return c.registry.Register(newBreakerCollector(reg, namespace))
}

// WatchGauge exports fn as a gauge evaluated on each scrape.
func (c *Collector) WatchGauge(namespace, name, help string, fn func() float64) error {
	return c.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}
