package audit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the trail's Prometheus metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	EntriesRecorded   *prometheus.CounterVec
	UpdatesSuppressed prometheus.Counter
	EntriesRejected   prometheus.Counter
	EntriesPruned     prometheus.Counter

	PersistTotal    *prometheus.CounterVec
	PersistFailures *prometheus.CounterVec
	PersistDuration prometheus.Histogram
	CorruptReads    prometheus.Counter

	EntriesInMemory  prometheus.Gauge
	EntriesPersisted prometheus.Gauge
	TrailState       prometheus.Gauge

	QueryCacheRequests *prometheus.CounterVec
}

// NewMetrics creates the audit metrics and registers them with registerer
// when it is not nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		EntriesRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "isotrack_audit_entries_recorded_total",
				Help: "Total number of audit entries recorded",
			},
			[]string{"action", "entity_type"},
		),
		UpdatesSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "isotrack_audit_updates_suppressed_total",
			Help: "Total number of updates not recorded because nothing changed",
		}),
		EntriesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "isotrack_audit_entries_rejected_total",
			Help: "Total number of entries rejected for an unknown action or entity type",
		}),
		EntriesPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "isotrack_audit_entries_pruned_total",
			Help: "Total number of entries removed by retention pruning",
		}),
		PersistTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "isotrack_audit_persist_total",
				Help: "Total number of persistence attempts by outcome (full, half, cleared)",
			},
			[]string{"outcome"},
		),
		PersistFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "isotrack_audit_persist_failures_total",
				Help: "Total number of failed payload writes by kind (capacity, other)",
			},
			[]string{"kind"},
		),
		PersistDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "isotrack_audit_persist_duration_seconds",
			Help:    "Time spent persisting the audit log, including fallbacks",
			Buckets: prometheus.DefBuckets,
		}),
		CorruptReads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "isotrack_audit_corrupt_reads_total",
			Help: "Total number of unreadable persisted payloads replaced by an empty log",
		}),
		EntriesInMemory: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "isotrack_audit_entries_in_memory",
			Help: "Number of entries held in memory",
		}),
		EntriesPersisted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "isotrack_audit_entries_persisted",
			Help: "Number of entries in the last successfully persisted payload",
		}),
		TrailState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "isotrack_audit_trail_state",
			Help: "Persistence state (0 uninitialized, 1 loaded, 2 degraded_half, 3 degraded_empty)",
		}),
		QueryCacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "isotrack_audit_query_cache_requests_total",
				Help: "Entity query cache lookups by result (hit, miss)",
			},
			[]string{"result"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.EntriesRecorded,
			m.UpdatesSuppressed,
			m.EntriesRejected,
			m.EntriesPruned,
			m.PersistTotal,
			m.PersistFailures,
			m.PersistDuration,
			m.CorruptReads,
			m.EntriesInMemory,
			m.EntriesPersisted,
			m.TrailState,
			m.QueryCacheRequests,
		)
	}

	return m
}

func (m *Metrics) recordEntry(entry Entry) {
	if m == nil {
		return
	}
	m.EntriesRecorded.WithLabelValues(string(entry.Action), string(entry.EntityType)).Inc()
}

func (m *Metrics) recordSuppressed() {
	if m == nil {
		return
	}
	m.UpdatesSuppressed.Inc()
}

func (m *Metrics) recordRejected() {
	if m == nil {
		return
	}
	m.EntriesRejected.Inc()
}

func (m *Metrics) recordPruned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EntriesPruned.Add(float64(n))
}

func (m *Metrics) recordPersist(event persistEvent, duration time.Duration) {
	if m == nil {
		return
	}
	m.PersistTotal.WithLabelValues(event.String()).Inc()
	m.PersistDuration.Observe(duration.Seconds())
}

func (m *Metrics) recordPersistFailure(kind string) {
	if m == nil {
		return
	}
	m.PersistFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) recordCorruptRead() {
	if m == nil {
		return
	}
	m.CorruptReads.Inc()
}

func (m *Metrics) recordCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.QueryCacheRequests.WithLabelValues("hit").Inc()
		return
	}
	m.QueryCacheRequests.WithLabelValues("miss").Inc()
}

func (m *Metrics) setSizes(state State, inMemory, persisted int) {
	if m == nil {
		return
	}
	m.TrailState.Set(float64(state))
	m.EntriesInMemory.Set(float64(inMemory))
	m.EntriesPersisted.Set(float64(persisted))
}
