package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"storyforge/internal/logging"
	"storyforge/internal/stages"
)

const namespace = "storyforge"

// Selection results recorded by ObserveSelection.
const (
	ResultClaimed  = "claimed"
	ResultEmpty    = "empty"
	ResultConflict = "conflict"
	ResultError    = "error"
)

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	selections     *prometheus.CounterVec
	reclaimed      *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	revisions      *prometheus.CounterVec
	handlerRuns    *prometheus.CounterVec
	handlerSeconds *prometheus.HistogramVec
	storiesByStage *prometheus.GaugeVec
}

// New builds a Metrics with its own registry, including Go runtime and
// process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		selections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "selections_total",
				Help:      "Work selection attempts by stage and result.",
			},
			[]string{"stage", "result"},
		),
		reclaimed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "claims_reclaimed_total",
				Help:      "Expired claims returned to their stage.",
			},
			[]string{"stage"},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Stage transitions by source stage and outcome.",
			},
			[]string{"from", "outcome"},
		),
		revisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "revisions_total",
				Help:      "Revisions written by content kind.",
			},
			[]string{"kind"},
		),
		handlerRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_runs_total",
				Help:      "Stage handler runs by stage and status.",
			},
			[]string{"stage", "status"},
		),
		handlerSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Time spent inside stage handlers.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
			},
			[]string{"stage"},
		),
		storiesByStage: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stories",
				Help:      "Stories currently stored at each stage, claimed ones under their marker.",
			},
			[]string{"stage"},
		),
	}
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveSelection counts one ClaimNext or NextForStage call.
func (m *Metrics) ObserveSelection(stage stages.Stage, result string) {
	if m == nil {
		return
	}
	m.selections.WithLabelValues(string(stage), result).Inc()
}

// ObserveReclaimed counts expired claims recovered at stage.
func (m *Metrics) ObserveReclaimed(stage stages.Stage, count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.reclaimed.WithLabelValues(string(stage)).Add(float64(count))
}

// ObserveTransition counts one applied step.
func (m *Metrics) ObserveTransition(step stages.Step) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(step.From()), string(step.Outcome())).Inc()
}

// ObserveRevision counts one revision written.
func (m *Metrics) ObserveRevision(kind stages.Kind) {
	if m == nil {
		return
	}
	m.revisions.WithLabelValues(string(kind)).Inc()
}

// ObserveStageRun records a handler run and its duration.
func (m *Metrics) ObserveStageRun(stage stages.Stage, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.handlerRuns.WithLabelValues(string(stage), status).Inc()
	m.handlerSeconds.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
}

// SetStoryCounts replaces the per-stage gauge with counts.
func (m *Metrics) SetStoryCounts(counts map[stages.Stage]int) {
	if m == nil {
		return
	}
	m.storiesByStage.Reset()
	for stage, count := range counts {
		m.storiesByStage.WithLabelValues(string(stage)).Set(float64(count))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on bind until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, bind string, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", logging.String("bind", listener.Addr().String()))
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
