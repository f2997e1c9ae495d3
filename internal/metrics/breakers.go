package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jaqedu/jaqflow/internal/resilience"
)

// breakerCollector reads breaker metrics from a registry at scrape time, so
// breakers created after startup are picked up.
type breakerCollector struct {
	reg      *resilience.Registry
	state    *prometheus.Desc
	requests *prometheus.Desc
	failures *prometheus.Desc
	rate     *prometheus.Desc
}

func newBreakerCollector(reg *resilience.Registry, ns string) *breakerCollector {
	return &breakerCollector{
		reg: reg,
		state: prometheus.NewDesc(prometheus.BuildFQName(ns, "circuit_breaker", "state"),
			"Breaker state: 0 closed, 1 open, 2 half-open.", []string{"name"}, nil),
		requests: prometheus.NewDesc(prometheus.BuildFQName(ns, "circuit_breaker", "requests"),
			"Calls counted in the current monitoring window.", []string{"name"}, nil),
		failures: prometheus.NewDesc(prometheus.BuildFQName(ns, "circuit_breaker", "failures"),
			"Failures counted in the current monitoring window.", []string{"name"}, nil),
		rate: prometheus.NewDesc(prometheus.BuildFQName(ns, "circuit_breaker", "failure_rate"),
			"Failure rate in the current monitoring window.", []string{"name"}, nil),
	}
}

func (b *breakerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- b.state
	ch <- b.requests
	ch <- b.failures
	ch <- b.rate
}

func (b *breakerCollector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range b.reg.Snapshot() {
		ch <- prometheus.MustNewConstMetric(b.state, prometheus.GaugeValue, float64(m.State), m.Name)
		ch <- prometheus.MustNewConstMetric(b.requests, prometheus.GaugeValue, float64(m.TotalRequests), m.Name)
		ch <- prometheus.MustNewConstMetric(b.failures, prometheus.GaugeValue, float64(m.FailureCount), m.Name)
		ch <- prometheus.MustNewConstMetric(b.rate, prometheus.GaugeValue, m.FailureRate, m.Name)
	}
}
