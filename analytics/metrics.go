package analytics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cast"
)

var _ DataCollector = new(MetricsCollector)

var stepDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// MetricsCollector turns lifecycle events into Prometheus metrics.
type MetricsCollector struct {
	EventsTotal       *prometheus.CounterVec
	RunsFinishedTotal *prometheus.CounterVec
	StepDuration      *prometheus.HistogramVec
	PendingApprovals  prometheus.Gauge
	ApprovalsAnswered *prometheus.CounterVec
}

func NewMetricsCollector(reg prometheus.Registerer) *MetricsCollector {
	m := &MetricsCollector{
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stepflow_events_total",
			Help: "Lifecycle events emitted, by type.",
		}, []string{"type"}),
		RunsFinishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stepflow_runs_finished_total",
			Help: "Runs that reached a terminal status.",
		}, []string{"workflow", "status"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stepflow_step_duration_seconds",
			Help:    "Step execution time in seconds.",
			Buckets: stepDurationBuckets,
		}, []string{"workflow", "status"}),
		PendingApprovals: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stepflow_pending_approvals",
			Help: "Approvals requested and not yet answered by this process.",
		}),
		ApprovalsAnswered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stepflow_approvals_answered_total",
			Help: "Approval answers, by outcome.",
		}, []string{"approved"}),
	}
	reg.MustRegister(m.EventsTotal, m.RunsFinishedTotal, m.StepDuration, m.PendingApprovals, m.ApprovalsAnswered)
	return m
}

func (m *MetricsCollector) Collect(event Event) error {
	m.EventsTotal.WithLabelValues(string(event.Type)).Inc()
	switch event.Type {
	case WORKFLOW_COMPLETED:
		m.RunsFinishedTotal.WithLabelValues(event.WorkflowId, "completed").Inc()
	case WORKFLOW_FAILED:
		m.RunsFinishedTotal.WithLabelValues(event.WorkflowId, "failed").Inc()
	case WORKFLOW_CANCELLED:
		m.RunsFinishedTotal.WithLabelValues(event.WorkflowId, "cancelled").Inc()
	case STEP_COMPLETED, STEP_FAILED, STEP_SKIPPED:
		if ms, ok := event.Data["durationMs"]; ok {
			m.StepDuration.WithLabelValues(event.WorkflowId, string(event.Type)).Observe(cast.ToFloat64(ms) / 1000)
		}
	case APPROVAL_REQUESTED:
		m.PendingApprovals.Inc()
	case APPROVAL_RECEIVED:
		m.PendingApprovals.Dec()
		m.ApprovalsAnswered.WithLabelValues(cast.ToString(event.Data["approved"])).Inc()
	}
	return nil
}
