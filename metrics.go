package contracts

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "contracts"

// Metrics instruments pipeline runs and model calls. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// RunsTotal counts pipeline runs.
	// Labels: result (ok, invalid, error)
	RunsTotal *prometheus.CounterVec

	// RunDuration tracks end-to-end run time.
	RunDuration prometheus.Histogram

	// ModelCallsTotal counts chat calls to the inference service.
	// Labels: result (success, error)
	ModelCallsTotal *prometheus.CounterVec

	// ModelCallDuration tracks the latency of chat calls.
	ModelCallDuration prometheus.Histogram

	// RecoveredOutputsTotal counts model answers that needed JSON recovery.
	// Labels: stage (fenced, balanced, greedy, none)
	RecoveredOutputsTotal *prometheus.CounterVec

	// ValidationErrorsTotal counts schema violations in final records.
	ValidationErrorsTotal prometheus.Counter

	// WarningsTotal counts advisory warnings.
	// Labels: code
	WarningsTotal *prometheus.CounterVec
}

// NewMetrics registers the pipeline collectors on reg. Use a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "pipeline",
				Name:      "runs_total",
				Help:      "Total number of extraction runs by result",
			},
			[]string{"result"},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "pipeline",
				Name:      "run_duration_seconds",
				Help:      "Duration of extraction runs in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 15),
			},
		),
		ModelCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "model",
				Name:      "calls_total",
				Help:      "Total number of inference calls by result",
			},
			[]string{"result"},
		),
		ModelCallDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "model",
				Name:      "call_duration_seconds",
				Help:      "Duration of inference calls in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
			},
		),
		RecoveredOutputsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "model",
				Name:      "recovered_outputs_total",
				Help:      "Model answers that were not plain JSON, by recovery stage",
			},
			[]string{"stage"},
		),
		ValidationErrorsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "pipeline",
				Name:      "validation_errors_total",
				Help:      "Total number of schema violations in extracted records",
			},
		),
		WarningsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "pipeline",
				Name:      "warnings_total",
				Help:      "Total number of advisory warnings by code",
			},
			[]string{"code"},
		),
	}
}

func (m *Metrics) observeCall(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.ModelCallDuration.Observe(d.Seconds())
	if err != nil {
		m.ModelCallsTotal.WithLabelValues("error").Inc()
		return
	}
	m.ModelCallsTotal.WithLabelValues("success").Inc()
}

func (m *Metrics) observeRecovery(stage string) {
	if m == nil {
		return
	}
	m.RecoveredOutputsTotal.WithLabelValues(stage).Inc()
}

// observeRun records a finished run. A nil result means the run failed.
func (m *Metrics) observeRun(d time.Duration, res *Result) {
	if m == nil {
		return
	}
	m.RunDuration.Observe(d.Seconds())
	switch {
	case res == nil:
		m.RunsTotal.WithLabelValues("error").Inc()
		return
	case len(res.Errors) > 0:
		m.RunsTotal.WithLabelValues("invalid").Inc()
	default:
		m.RunsTotal.WithLabelValues("ok").Inc()
	}
	m.ValidationErrorsTotal.Add(float64(len(res.Errors)))
	for _, w := range res.Warnings {
		m.WarningsTotal.WithLabelValues(w.Code).Inc()
	}
}
