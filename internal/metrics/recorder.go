// Package metrics exposes load and existence-pass statistics to Prometheus.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/dagu-org/rangeload/internal/core"
	"github.com/dagu-org/rangeload/internal/loader"
	"github.com/dagu-org/rangeload/internal/rangesched"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rangeload"

// Load outcomes used as the "outcome" label.
const (
	OutcomeLoaded    = "loaded"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

var (
	_ loader.Observer         = (*Recorder)(nil)
	_ rangesched.PassObserver = (*Recorder)(nil)
)

// Recorder holds the Prometheus metrics of a process. A nil *Recorder
// records nothing.
type Recorder struct {
	loads         *prometheus.CounterVec
	rowsLoaded    *prometheus.CounterVec
	loadDuration  *prometheus.HistogramVec
	failures      *prometheus.CounterVec
	missing       *prometheus.GaugeVec
	passes        *prometheus.CounterVec
	passDuration  *prometheus.HistogramVec
	lastCompleted *prometheus.GaugeVec
}

// NewRecorder creates the metrics and registers them with registry.
func NewRecorder(registry prometheus.Registerer) *Recorder {
	r := &Recorder{
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loads_total",
			Help:      "Number of finished load runs by outcome",
		}, []string{"family", "table", "outcome"}),
		rowsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_loaded_total",
			Help:      "Number of rows committed to target tables",
		}, []string{"family", "table"}),
		loadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "load_duration_seconds",
			Help:      "Duration of load runs",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 300},
		}, []string{"family", "table"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_failures_total",
			Help:      "Number of failed load runs by error class",
		}, []string{"family", "table", "class"}),
		missing: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "missing_instances",
			Help:      "Instances without a marker at the last existence pass",
		}, []string{"family", "table"}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "existence_passes_total",
			Help:      "Number of existence passes by result",
		}, []string{"family", "table", "result"}),
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "existence_pass_duration_seconds",
			Help:      "Duration of existence passes",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 5},
		}, []string{"family", "table"}),
		lastCompleted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_completed_timestamp_seconds",
			Help:      "Unix time of the last committed load",
		}, []string{"family", "table"}),
	}

	registry.MustRegister(
		r.loads,
		r.rowsLoaded,
		r.loadDuration,
		r.failures,
		r.missing,
		r.passes,
		r.passDuration,
		r.lastCompleted,
	)
	return r
}

// ObserveLoad implements loader.Observer.
func (r *Recorder) ObserveLoad(family, table string, result *loader.Result, err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.loads.WithLabelValues(family, table, OutcomeFailed).Inc()
		r.failures.WithLabelValues(family, table, ErrorClass(err)).Inc()
		return
	}
	if result == nil {
		return
	}
	r.loadDuration.WithLabelValues(family, table).Observe(result.Duration().Seconds())
	if result.Duplicate {
		r.loads.WithLabelValues(family, table, OutcomeDuplicate).Inc()
		return
	}
	r.loads.WithLabelValues(family, table, OutcomeLoaded).Inc()
	r.rowsLoaded.WithLabelValues(family, table).Add(float64(result.RowsLoaded))
	r.lastCompleted.WithLabelValues(family, table).Set(float64(result.FinishedAt.Unix()))
}

// ObservePass implements rangesched.PassObserver.
func (r *Recorder) ObservePass(family, table string, _, missing int, elapsed time.Duration, err error) {
	if r == nil {
		return
	}
	r.passDuration.WithLabelValues(family, table).Observe(elapsed.Seconds())
	if err != nil {
		r.passes.WithLabelValues(family, table, "error").Inc()
		return
	}
	r.passes.WithLabelValues(family, table, "ok").Inc()
	r.missing.WithLabelValues(family, table).Set(float64(missing))
}

// ErrorClass maps err to a low-cardinality label value.
func ErrorClass(err error) string {
	switch {
	case errors.Is(err, core.ErrConnection):
		return "connection"
	case errors.Is(err, core.ErrConflict):
		return "conflict"
	case errors.Is(err, core.ErrSource):
		return "source"
	case errors.Is(err, core.ErrSchema):
		return "schema"
	case errors.Is(err, core.ErrInvalidConfig):
		return "config"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
