package metrics

import "github.com/prometheus/client_golang/prometheus"

// SyncMetrics exposes counters/histograms for PMS sync runs.
type SyncMetrics struct {
	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	recordsUpserted *prometheus.CounterVec
	issuesTotal     *prometheus.CounterVec
}

func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	m := &SyncMetrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicsync",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total sync runs by PMS and final status",
		}, []string{"pms_type", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinicsync",
			Subsystem: "sync",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a full sync run",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"pms_type"}),
		recordsUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicsync",
			Subsystem: "sync",
			Name:      "records_upserted_total",
			Help:      "Records written per entity kind",
		}, []string{"pms_type", "entity"}),
		issuesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicsync",
			Subsystem: "sync",
			Name:      "issues_total",
			Help:      "Per-record issues accumulated during runs",
		}, []string{"pms_type"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.runsTotal, m.runDuration, m.recordsUpserted, m.issuesTotal)
	return m
}

func (m *SyncMetrics) ObserveRun(pmsType, status string, seconds float64) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(pmsType, status).Inc()
	m.runDuration.WithLabelValues(pmsType).Observe(seconds)
}

func (m *SyncMetrics) AddUpserted(pmsType, entity string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsUpserted.WithLabelValues(pmsType, entity).Add(float64(n))
}

func (m *SyncMetrics) AddIssues(pmsType string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.issuesTotal.WithLabelValues(pmsType).Add(float64(n))
}
