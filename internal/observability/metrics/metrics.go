package metrics

import "github.com/prometheus/client_golang/prometheus"

// ChartMetrics exposes counters/histograms for chart flows.
type ChartMetrics struct {
	loadsTotal    *prometheus.CounterVec
	editsTotal    *prometheus.CounterVec
	savesTotal    *prometheus.CounterVec
	exportsTotal  *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
}

func NewChartMetrics(reg prometheus.Registerer) *ChartMetrics {
	m := &ChartMetrics{
		loadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "chart",
			Name:      "loads_total",
			Help:      "Chart loads by outcome (stored, created, fallback)",
		}, []string{"result"}),
		editsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "chart",
			Name:      "edits_total",
			Help:      "Condition edits applied to charts",
		}, []string{"scope", "status"}),
		savesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "chart",
			Name:      "saves_total",
			Help:      "Chart saves by outcome",
		}, []string{"status", "forced"}),
		exportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "chart",
			Name:      "exports_total",
			Help:      "Chart exports by format and outcome",
		}, []string{"format", "status"}),
		exportLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dental",
			Subsystem: "chart",
			Name:      "export_latency_seconds",
			Help:      "Time spent rendering and encoding chart exports",
			Buckets:   prometheus.DefBuckets,
		}, []string{"format"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.loadsTotal, m.editsTotal, m.savesTotal, m.exportsTotal, m.exportLatency)
	return m
}

func (m *ChartMetrics) ObserveLoad(result string) {
	if m == nil {
		return
	}
	m.loadsTotal.WithLabelValues(result).Inc()
}

func (m *ChartMetrics) ObserveEdit(scope, status string) {
	if m == nil {
		return
	}
	m.editsTotal.WithLabelValues(scope, status).Inc()
}

func (m *ChartMetrics) ObserveSave(status string, forced bool) {
	if m == nil {
		return
	}
	label := "false"
	if forced {
		label = "true"
	}
	m.savesTotal.WithLabelValues(status, label).Inc()
}

func (m *ChartMetrics) ObserveExport(format, status string, seconds float64) {
	if m == nil {
		return
	}
	m.exportsTotal.WithLabelValues(format, status).Inc()
	m.exportLatency.WithLabelValues(format).Observe(seconds)
}

// SchedulerMetrics tracks periodic clinic task runs.
type SchedulerMetrics struct {
	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
}

func NewSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	m := &SchedulerMetrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "scheduler",
			Name:      "task_runs_total",
			Help:      "Scheduled task runs by outcome",
		}, []string{"task", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dental",
			Subsystem: "scheduler",
			Name:      "task_duration_seconds",
			Help:      "Duration of scheduled task runs",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.runsTotal, m.runDuration)
	return m
}

func (m *SchedulerMetrics) ObserveRun(task, status string, seconds float64) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(task, status).Inc()
	m.runDuration.WithLabelValues(task).Observe(seconds)
}
