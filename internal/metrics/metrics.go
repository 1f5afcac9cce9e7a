package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector groups the harvester's prometheus instruments. A nil *Collector
// is valid and records nothing.
type Collector struct {
	probesTotal      *prometheus.CounterVec
	proxiesFetched   *prometheus.CounterVec
	sessionsTotal    *prometheus.CounterVec
	sessionDuration  prometheus.Histogram
	recordsExtracted prometheus.Counter
	activeSessions   prometheus.Gauge
	jobsTotal        *prometheus.CounterVec
}

func NewCollector(reg prometheus.Registerer, namespace string) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		probesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "proxy_probes_total",
				Help:      "Total number of proxy reachability probes",
			},
			[]string{"result"},
		),
		proxiesFetched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "proxies_fetched_total",
				Help:      "Total number of proxy candidates fetched per origin",
			},
			[]string{"origin"},
		),
		sessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Total number of scrape sessions by terminal status",
			},
			[]string{"status"},
		),
		sessionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Scrape session duration in seconds",
				Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
			},
		),
		recordsExtracted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_extracted_total",
				Help:      "Total number of records accepted by sessions",
			},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Current number of running scrape sessions",
			},
		),
		jobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Total number of harvesting jobs by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (c *Collector) RecordProbe(accepted bool) {
	if c == nil {
		return
	}
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	c.probesTotal.WithLabelValues(result).Inc()
}

func (c *Collector) RecordProxiesFetched(origin string, count int) {
	if c == nil {
		return
	}
	c.proxiesFetched.WithLabelValues(origin).Add(float64(count))
}

func (c *Collector) RecordSession(status string, seconds float64, records int) {
	if c == nil {
		return
	}
	c.sessionsTotal.WithLabelValues(status).Inc()
	c.sessionDuration.Observe(seconds)
	c.recordsExtracted.Add(float64(records))
}

func (c *Collector) SetActiveSessions(n int) {
	if c == nil {
		return
	}
	c.activeSessions.Set(float64(n))
}

func (c *Collector) RecordJob(outcome string) {
	if c == nil {
		return
	}
	c.jobsTotal.WithLabelValues(outcome).Inc()
}
