package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Collector struct {
	candidatesFetched prometheus.Counter
	invalidCandidates prometheus.Counter

	probesTotal   *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec

	workingProxies prometheus.Gauge
	failedProxies  prometheus.Gauge

	apiRequests *prometheus.CounterVec
	apiDuration *prometheus.HistogramVec
}

func NewCollector(namespace string) *Collector {
	return &Collector{
		candidatesFetched: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "candidates_fetched_total",
				Help:      "Total number of candidate proxies fetched from the listing source",
			},
		),
		invalidCandidates: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "candidates_invalid_total",
				Help:      "Total number of candidates dropped before scheduling",
			},
		),
		probesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probes_total",
				Help:      "Total number of probes by protocol and result",
			},
			[]string{"protocol", "result"},
		),
		probeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_duration_seconds",
				Help:      "Successful probe round-trip duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"protocol"},
		),
		workingProxies: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "working_proxies",
				Help:      "Number of working proxies in the latest run",
			},
		),
		failedProxies: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "failed_proxies",
				Help:      "Number of failed proxies in the latest run",
			},
		),
		apiRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		apiDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
	}
}

func (c *Collector) RecordCandidates(n int) {
	c.candidatesFetched.Add(float64(n))
}

func (c *Collector) RecordInvalidCandidate() {
	c.invalidCandidates.Inc()
}

func (c *Collector) RecordProbe(protocol string, success bool, seconds float64) {
	result := "failure"
	if success {
		result = "success"
		c.probeDuration.WithLabelValues(protocol).Observe(seconds)
	}
	c.probesTotal.WithLabelValues(protocol, result).Inc()
}

func (c *Collector) SetRunTotals(working, failed int) {
	c.workingProxies.Set(float64(working))
	c.failedProxies.Set(float64(failed))
}

func (c *Collector) RecordAPIRequest(method, endpoint, status string) {
	c.apiRequests.WithLabelValues(method, endpoint, status).Inc()
}

func (c *Collector) RecordAPIDuration(method, endpoint string, seconds float64) {
	c.apiDuration.WithLabelValues(method, endpoint).Observe(seconds)
}
