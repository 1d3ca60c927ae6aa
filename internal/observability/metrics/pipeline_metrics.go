package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config carries the constant labels stamped onto every metric.
type Config struct {
	ServiceName string
	Environment string
}

type PipelineMetrics struct {
	stageDuration     *prometheus.HistogramVec
	stageErrors       *prometheus.CounterVec
	sourceRecords     *prometheus.CounterVec
	sourceFailures    *prometheus.CounterVec
	recordsRejected   *prometheus.CounterVec
	snapshotsUpserted prometheus.Counter
	anomalyAlerts     *prometheus.CounterVec
	forecastFallbacks *prometheus.CounterVec
}

var (
	pipelineMetricsOnce sync.Once
	pipelineMetrics     *PipelineMetrics
)

func Pipeline() *PipelineMetrics {
	return PipelineWithConfig(Config{})
}

func PipelineWithConfig(cfg Config) *PipelineMetrics {
	pipelineMetricsOnce.Do(func() {
		pipelineMetrics = newPipelineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return pipelineMetrics
}

func ResetPipelineMetricsForTest() {
	pipelineMetricsOnce = sync.Once{}
	pipelineMetrics = nil
}

func newPipelineMetrics(registerer prometheus.Registerer, cfg Config) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "aimeter"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}

	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:        "aimeter_pipeline_stage_duration_seconds",
			Help:        "Wall time spent per pipeline stage.",
			Buckets:     []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
			ConstLabels: constLabels,
		},
		[]string{"stage"},
	)

	stageErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "aimeter_pipeline_stage_errors_total",
			Help:        "Stage failures, including soft failures that did not abort the run.",
			ConstLabels: constLabels,
		},
		[]string{"stage"},
	)

	sourceRecords := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "aimeter_source_records_total",
			Help:        "Normalized usage records produced per source adapter.",
			ConstLabels: constLabels,
		},
		[]string{"service_type"},
	)

	sourceFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "aimeter_source_failures_total",
			Help:        "Adapter reads that failed closed and contributed zero records.",
			ConstLabels: constLabels,
		},
		[]string{"service_type"},
	)

	recordsRejected := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "aimeter_records_rejected_total",
			Help:        "Usage records dropped by validation.",
			ConstLabels: constLabels,
		},
		[]string{"service_type", "reason"},
	)

	snapshotsUpserted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name:        "aimeter_snapshots_upserted_total",
			Help:        "Snapshot rows merged into the historical store.",
			ConstLabels: constLabels,
		},
	)

	anomalyAlerts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "aimeter_anomaly_alerts_total",
			Help:        "Anomaly evaluations by alert level.",
			ConstLabels: constLabels,
		},
		[]string{"alert_level"},
	)

	forecastFallbacks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "aimeter_forecast_fallbacks_total",
			Help:        "Forecast requests that returned the typed empty series.",
			ConstLabels: constLabels,
		},
		[]string{"reason"},
	)

	for _, collector := range []prometheus.Collector{
		stageDuration,
		stageErrors,
		sourceRecords,
		sourceFailures,
		recordsRejected,
		snapshotsUpserted,
		anomalyAlerts,
		forecastFallbacks,
	} {
		if err := registerer.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}

	return &PipelineMetrics{
		stageDuration:     stageDuration,
		stageErrors:       stageErrors,
		sourceRecords:     sourceRecords,
		sourceFailures:    sourceFailures,
		recordsRejected:   recordsRejected,
		snapshotsUpserted: snapshotsUpserted,
		anomalyAlerts:     anomalyAlerts,
		forecastFallbacks: forecastFallbacks,
	}
}

func (m *PipelineMetrics) ObserveStageDuration(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *PipelineMetrics) IncStageError(stage string) {
	if m == nil {
		return
	}
	m.stageErrors.WithLabelValues(stage).Inc()
}

func (m *PipelineMetrics) AddSourceRecords(serviceType string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sourceRecords.WithLabelValues(serviceType).Add(float64(n))
}

func (m *PipelineMetrics) IncSourceFailure(serviceType string) {
	if m == nil {
		return
	}
	m.sourceFailures.WithLabelValues(serviceType).Inc()
}

func (m *PipelineMetrics) IncRecordRejected(serviceType, reason string) {
	if m == nil {
		return
	}
	m.recordsRejected.WithLabelValues(serviceType, reason).Inc()
}

func (m *PipelineMetrics) AddSnapshotsUpserted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.snapshotsUpserted.Add(float64(n))
}

func (m *PipelineMetrics) IncAnomalyAlert(level string) {
	if m == nil {
		return
	}
	m.anomalyAlerts.WithLabelValues(level).Inc()
}

func (m *PipelineMetrics) IncForecastFallback(reason string) {
	if m == nil {
		return
	}
	m.forecastFallbacks.WithLabelValues(reason).Inc()
}
