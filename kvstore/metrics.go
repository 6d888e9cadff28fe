package kvstore

import (
	"github.com/prometheus/client_golang/prometheus"
)

type storeMetrics struct {
	appends            prometheus.Counter
	appendFailures     prometheus.Counter
	compactions        prometheus.Counter
	compactionDuration prometheus.Summary
	liveKeys           prometheus.Gauge
	logRecords         prometheus.Gauge
	logSize            prometheus.Gauge

	registerer prometheus.Registerer
}

func newStoreMetrics() *storeMetrics {
	m := &storeMetrics{}

	m.appends = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "appends_total",
		Help: "Total number of records appended to the log.",
	})

	m.appendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "append_failures_total",
		Help: "Total number of log appends that failed.",
	})

	m.compactions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "compactions_total",
		Help: "Total number of log rewrites.",
	})

	m.compactionDuration = prometheus.NewSummary(prometheus.SummaryOpts{
		Name:       "compaction_duration_seconds",
		Help:       "Duration of log rewrites.",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	})

	m.liveKeys = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "live_keys",
		Help: "Number of keys in the index.",
	})

	m.logRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "log_records",
		Help: "Number of records in the log since the last rewrite.",
	})

	m.logSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "log_size_bytes",
		Help: "Size of the log file.",
	})

	return m
}

func (m *storeMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.appends,
		m.appendFailures,
		m.compactions,
		m.compactionDuration,
		m.liveKeys,
		m.logRecords,
		m.logSize,
	}
}

// register registers all metrics with "kvstore_" prefix. No-op if r is nil
func (m *storeMetrics) register(r prometheus.Registerer) error {
	if r == nil {
		return nil
	}
	r = prometheus.WrapRegistererWithPrefix("kvstore_", r)
	var done []prometheus.Collector
	for _, c := range m.collectors() {
		if err := r.Register(c); err != nil {
			for _, d := range done {
				r.Unregister(d)
			}
			return err
		}
		done = append(done, c)
	}
	m.registerer = r
	return nil
}

func (m *storeMetrics) unregister() {
	if m.registerer == nil {
		return
	}
	for _, c := range m.collectors() {
		m.registerer.Unregister(c)
	}
	m.registerer = nil
}

func (m *storeMetrics) update(s *Store) {
	m.liveKeys.Set(float64(len(s.index)))
	m.logRecords.Set(float64(s.recs))
	m.logSize.Set(float64(s.size))
}
