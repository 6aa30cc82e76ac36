// Package metrics exports upload metrics to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kodo"

// Upload methods.
const (
	MethodForm      = "form"
	MethodResumable = "resumable"
)

// Failover reasons.
const (
	FailoverHost   = "host"
	FailoverRegion = "region"
)

// Metrics records upload attempts, failovers and batch jobs.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	attempts  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	bytes     prometheus.Counter
	failovers *prometheus.CounterVec
	batchJobs *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg, reusing collectors registered before.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{}
	var err error
	if m.attempts, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upload_attempts_total",
		Help:      "Upload requests by method and outcome.",
	}, []string{"method", "outcome"})); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upload_duration_seconds",
		Help:      "Latency of upload attempts.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})); err != nil {
		return nil, err
	}
	if m.bytes, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploaded_bytes_total",
		Help:      "Payload size successfully uploaded.",
	})); err != nil {
		return nil, err
	}
	if m.failovers, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upload_failovers_total",
		Help:      "Switches to another upload host or region.",
	}, []string{"reason"})); err != nil {
		return nil, err
	}
	if m.batchJobs, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batch_jobs_total",
		Help:      "Completed batch jobs by outcome.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	return m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register collector: %w", err)
	}
	return c, nil
}

// ObserveUpload records one upload attempt. size is only counted for successful attempts.
func (m *Metrics) ObserveUpload(method string, d time.Duration, size int64, err error) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(method).Observe(d.Seconds())
	m.attempts.WithLabelValues(method, outcome(err)).Inc()
	if err == nil {
		m.bytes.Add(float64(size))
	}
}

// Failover ...
func (m *Metrics) Failover(reason string) {
	if m == nil {
		return
	}
	m.failovers.WithLabelValues(reason).Inc()
}

// BatchJobDone ...
func (m *Metrics) BatchJobDone(err error) {
	if m == nil {
		return
	}
	m.batchJobs.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
