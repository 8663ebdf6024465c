// Package metrics records circulation operation outcomes.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives operation outcomes.
type Recorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
	ReservationsExpired(ctx context.Context, n int)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Observe(context.Context, string, bool, time.Duration) {}
func (Nop) ReservationsExpired(context.Context, int)             {}

// Prometheus exports operation counters and latency histograms.
type Prometheus struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	expired    prometheus.Counter
}

// NewPrometheus creates a recorder with its own registry, including the Go
// runtime and process collectors.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "knjiznica",
			Name:      "operations_total",
			Help:      "Circulation operations by name and result.",
		}, []string{"operation", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "knjiznica",
			Name:      "operation_duration_seconds",
			Help:      "Circulation operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "knjiznica",
			Name:      "reservations_expired_total",
			Help:      "Reservations moved to expired by the sweeper.",
		}),
	}
	p.registry.MustRegister(
		p.operations,
		p.latency,
		p.expired,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

// Observe records a service operation outcome.
func (p *Prometheus) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	result := "error"
	if success {
		result = "success"
	}
	p.operations.WithLabelValues(operation, result).Inc()
	p.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// ReservationsExpired counts reservations expired by a sweep.
func (p *Prometheus) ReservationsExpired(_ context.Context, n int) {
	if n > 0 {
		p.expired.Add(float64(n))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
