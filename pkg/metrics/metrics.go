package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type IMetrics interface {
	ObserveStage(source, stage string, d time.Duration)
	RecordOutcome(source string, exists, defected bool)
	RecordFailure(source, stage, kind string)
	Handler() http.Handler
}

// PipelineMetrics holds the inspection pipeline collectors.
type PipelineMetrics struct {
	registry *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	outcomesTotal *prometheus.CounterVec
	failuresTotal *prometheus.CounterVec
}

// New registers pipeline and process collectors on a dedicated registry.
func New() (*PipelineMetrics, error) {
	registry := prometheus.NewRegistry()

	m := &PipelineMetrics{
		registry: registry,
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "cap_pipeline_stage_duration_seconds",
				Help: "Time spent in each inspection pipeline stage",
				// 5ms to ~20s
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"source", "stage"},
		),
		outcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cap_detections_total",
				Help: "Total number of persisted inspections by verdict",
			},
			[]string{"source", "exists", "defected"},
		),
		failuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cap_pipeline_failures_total",
				Help: "Total number of inspections that ended in the failed state",
			},
			[]string{"source", "stage", "kind"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.stageDuration,
		m.outcomesTotal,
		m.failuresTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *PipelineMetrics) ObserveStage(source, stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(source, stage).Observe(d.Seconds())
}

func (m *PipelineMetrics) RecordOutcome(source string, exists, defected bool) {
	m.outcomesTotal.WithLabelValues(source, boolLabel(exists), boolLabel(defected)).Inc()
}

func (m *PipelineMetrics) RecordFailure(source, stage, kind string) {
	m.failuresTotal.WithLabelValues(source, stage, kind).Inc()
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
