package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	PipelineErrorReasonDeadlineExceeded = "deadline_exceeded"
	PipelineErrorReasonDB               = "db"
	PipelineErrorReasonUnknown          = "unknown"
)

// Config carries the constant labels applied to all pipeline metrics.
type Config struct {
	ServiceName string
	Environment string
}

// PipelineMetrics captures aggregation pipeline health signals: batch
// layer runs and streaming ingest flushes.
type PipelineMetrics struct {
	layerRuns     *prometheus.CounterVec
	layerDuration *prometheus.HistogramVec
	layerTimeouts *prometheus.CounterVec
	layerErrors   *prometheus.CounterVec
	rowsWritten   *prometheus.CounterVec
	runLoopLag    prometheus.Observer

	ingestMessages *prometheus.CounterVec
	ingestSkipped  *prometheus.CounterVec
	flushDuration  prometheus.Observer
}

var (
	pipelineMetricsOnce sync.Once
	pipelineMetrics     *PipelineMetrics
)

// Pipeline returns the singleton pipeline metrics registry.
func Pipeline() *PipelineMetrics {
	return PipelineWithConfig(Config{})
}

// PipelineWithConfig returns the singleton pipeline metrics registry using
// config labels.
func PipelineWithConfig(cfg Config) *PipelineMetrics {
	pipelineMetricsOnce.Do(func() {
		pipelineMetrics = newPipelineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return pipelineMetrics
}

// ResetPipelineMetricsForTest resets the pipeline metrics singleton.
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
		serviceName = "cdrflow"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	layerRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "cdrflow_layer_runs_total",
		Help:        "Batch layer passes by layer name.",
		ConstLabels: constLabels,
	}, []string{"layer"})
	layerDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "cdrflow_layer_duration_seconds",
		Help:        "Batch layer pass latency.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		ConstLabels: constLabels,
	}, []string{"layer"})
	layerTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "cdrflow_layer_timeouts_total",
		Help:        "Batch layer passes cancelled by timeout.",
		ConstLabels: constLabels,
	}, []string{"layer"})
	layerErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "cdrflow_layer_errors_total",
		Help:        "Batch layer errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"layer", "reason"})
	rowsWritten := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "cdrflow_rows_written_total",
		Help:        "Rollup rows written per layer.",
		ConstLabels: constLabels,
	}, []string{"layer"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "cdrflow_runloop_lag_seconds",
		Help:        "Batch run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		ConstLabels: constLabels,
	})

	ingestMessages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "cdrflow_ingest_messages_total",
		Help:        "Stream messages consumed by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	ingestSkipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "cdrflow_ingest_skipped_total",
		Help:        "Stream messages skipped by reason.",
		ConstLabels: constLabels,
	}, []string{"reason"})
	flushDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "cdrflow_ingest_flush_duration_seconds",
		Help:        "Streaming batch flush latency.",
		Buckets:     []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		ConstLabels: constLabels,
	})

	collectors := []prometheus.Collector{
		layerRuns, layerDuration, layerTimeouts, layerErrors, rowsWritten,
		runLoopLag, ingestMessages, ingestSkipped, flushDuration,
	}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				panic(err)
			}
		}
	}

	return &PipelineMetrics{
		layerRuns:      layerRuns,
		layerDuration:  layerDuration,
		layerTimeouts:  layerTimeouts,
		layerErrors:    layerErrors,
		rowsWritten:    rowsWritten,
		runLoopLag:     runLoopLag,
		ingestMessages: ingestMessages,
		ingestSkipped:  ingestSkipped,
		flushDuration:  flushDuration,
	}
}

func (m *PipelineMetrics) IncLayerRun(layer string) {
	if m == nil {
		return
	}
	m.layerRuns.WithLabelValues(layer).Inc()
}

func (m *PipelineMetrics) ObserveLayerDuration(layer string, d time.Duration) {
	if m == nil {
		return
	}
	m.layerDuration.WithLabelValues(layer).Observe(d.Seconds())
}

func (m *PipelineMetrics) IncLayerTimeout(layer string) {
	if m == nil {
		return
	}
	m.layerTimeouts.WithLabelValues(layer).Inc()
}

func (m *PipelineMetrics) IncLayerError(layer string, err error) {
	if m == nil {
		return
	}
	m.layerErrors.WithLabelValues(layer, classifyError(err)).Inc()
}

func (m *PipelineMetrics) AddRowsWritten(layer string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rowsWritten.WithLabelValues(layer).Add(float64(n))
}

func (m *PipelineMetrics) ObserveRunLoopLag(d time.Duration) {
	if m == nil {
		return
	}
	m.runLoopLag.Observe(d.Seconds())
}

func (m *PipelineMetrics) IncIngestMessage(outcome string) {
	if m == nil {
		return
	}
	m.ingestMessages.WithLabelValues(outcome).Inc()
}

func (m *PipelineMetrics) IncIngestSkipped(reason string) {
	if m == nil {
		return
	}
	m.ingestSkipped.WithLabelValues(reason).Inc()
}

func (m *PipelineMetrics) ObserveFlushDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.flushDuration.Observe(d.Seconds())
}

func classifyError(err error) string {
	switch {
	case err == nil:
		return PipelineErrorReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return PipelineErrorReasonDeadlineExceeded
	case strings.Contains(err.Error(), "SQLSTATE"),
		strings.Contains(err.Error(), "database"),
		strings.Contains(err.Error(), "sql"):
		return PipelineErrorReasonDB
	default:
		return PipelineErrorReasonUnknown
	}
}
