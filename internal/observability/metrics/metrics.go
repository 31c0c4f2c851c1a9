package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters/histograms for the hold/confirm/cancel
// core.
type SchedulingMetrics struct {
	holdsAcquired     prometheus.Counter
	conflictsTotal    *prometheus.CounterVec
	confirmsTotal     *prometheus.CounterVec
	cancelsTotal      *prometheus.CounterVec
	idempotentReplays prometheus.Counter
	orchestrationRuns *prometheus.CounterVec
	requestLatency    *prometheus.HistogramVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		holdsAcquired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "allincompassing",
			Subsystem: "scheduling",
			Name:      "holds_acquired_total",
			Help:      "Total holds successfully acquired",
		}),
		conflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "allincompassing",
			Subsystem: "scheduling",
			Name:      "conflicts_total",
			Help:      "Scheduling conflicts by code",
		}, []string{"code"}),
		confirmsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "allincompassing",
			Subsystem: "scheduling",
			Name:      "confirms_total",
			Help:      "Hold confirmations by outcome",
		}, []string{"status"}),
		cancelsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "allincompassing",
			Subsystem: "scheduling",
			Name:      "cancels_total",
			Help:      "Cancellations by kind (hold_release, session)",
		}, []string{"kind"}),
		idempotentReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "allincompassing",
			Subsystem: "scheduling",
			Name:      "idempotent_replays_total",
			Help:      "Requests served from the idempotency store",
		}),
		orchestrationRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "allincompassing",
			Subsystem: "scheduling",
			Name:      "orchestration_runs_total",
			Help:      "Delegation runs by status",
		}, []string{"workflow", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "allincompassing",
			Subsystem: "scheduling",
			Name:      "request_latency_seconds",
			Help:      "Latency of scheduling endpoints",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.holdsAcquired,
		m.conflictsTotal,
		m.confirmsTotal,
		m.cancelsTotal,
		m.idempotentReplays,
		m.orchestrationRuns,
		m.requestLatency,
	)
	return m
}

func (m *SchedulingMetrics) ObserveHoldAcquired() {
	if m == nil {
		return
	}
	m.holdsAcquired.Inc()
}

func (m *SchedulingMetrics) ObserveConflict(code string) {
	if m == nil {
		return
	}
	m.conflictsTotal.WithLabelValues(code).Inc()
}

func (m *SchedulingMetrics) ObserveConfirm(status string) {
	if m == nil {
		return
	}
	m.confirmsTotal.WithLabelValues(status).Inc()
}

func (m *SchedulingMetrics) ObserveCancel(kind string) {
	if m == nil {
		return
	}
	m.cancelsTotal.WithLabelValues(kind).Inc()
}

func (m *SchedulingMetrics) ObserveIdempotentReplay() {
	if m == nil {
		return
	}
	m.idempotentReplays.Inc()
}

func (m *SchedulingMetrics) ObserveOrchestrationRun(workflow, status string) {
	if m == nil {
		return
	}
	m.orchestrationRuns.WithLabelValues(workflow, status).Inc()
}

func (m *SchedulingMetrics) ObserveRequestLatency(endpoint string, seconds float64) {
	if m == nil {
		return
	}
	m.requestLatency.WithLabelValues(endpoint).Observe(seconds)
}
