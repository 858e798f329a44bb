package progress

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes session progress on a private Prometheus registry.
type Metrics struct {
	registry    *prometheus.Registry
	tasks       *prometheus.GaugeVec
	sessionCost prometheus.Gauge
	turnsTotal  prometheus.Counter
	checkpoints *prometheus.CounterVec
	denials     *prometheus.CounterVec
}

// NewMetrics registers the autocoder metrics on a new registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		tasks: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "autocoder_tasks",
				Help: "Number of tasks by status",
			},
			[]string{"status"},
		),
		sessionCost: f.NewGauge(prometheus.GaugeOpts{
			Name: "autocoder_session_cost_usd",
			Help: "Accumulated cost of the current session in USD",
		}),
		turnsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "autocoder_turns_total",
			Help: "Total number of backend turns taken in this process",
		}),
		checkpoints: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autocoder_checkpoints_total",
				Help: "Checkpoints fired by trigger and resolution",
			},
			[]string{"trigger", "resolution"},
		),
		denials: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autocoder_security_denials_total",
				Help: "Commands denied by the security validator by reason",
			},
			[]string{"reason"},
		),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetCounters updates the task gauges.
func (m *Metrics) SetCounters(c Counters) {
	m.tasks.WithLabelValues("done").Set(float64(c.Done))
	m.tasks.WithLabelValues("in_progress").Set(float64(c.Active))
	m.tasks.WithLabelValues("blocked").Set(float64(c.Blocked))
	m.tasks.WithLabelValues("todo").Set(float64(c.NotStarted))
}

// Observer adapts Metrics for Tracker.Subscribe.
func (m *Metrics) Observer() func(Event, Counters) {
	return func(_ Event, c Counters) {
		m.SetCounters(c)
	}
}

// SetSessionCost records the session's accumulated cost.
func (m *Metrics) SetSessionCost(usd float64) {
	m.sessionCost.Set(usd)
}

// AddTurns counts backend turns.
func (m *Metrics) AddTurns(n int) {
	if n > 0 {
		m.turnsTotal.Add(float64(n))
	}
}

// ObserveCheckpoint counts a resolved checkpoint.
func (m *Metrics) ObserveCheckpoint(trigger, resolution string) {
	m.checkpoints.WithLabelValues(trigger, resolution).Inc()
}

// ObserveDenial counts a security denial.
func (m *Metrics) ObserveDenial(reason string) {
	m.denials.WithLabelValues(reason).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
