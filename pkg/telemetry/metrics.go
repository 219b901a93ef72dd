package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openfroyo/installengine/pkg/engine"
)

// Metrics collects Prometheus metrics for install runs. It implements
// engine.Observer and is safe for concurrent use. A disabled Metrics
// discards every measurement.
type Metrics struct {
	config MetricsConfig

	actionsDispatched *prometheus.CounterVec
	actionDuration    *prometheus.HistogramVec
	actionsDeferred   *prometheus.CounterVec
	actionsSkipped    *prometheus.CounterVec
	actionsNotFound   *prometheus.CounterVec

	featureStates   *prometheus.CounterVec
	componentStates *prometheus.CounterVec
	resolutions     *prometheus.CounterVec

	outcomes    *prometheus.CounterVec
	scriptDepth *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector on a private registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.ActionBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		actionsDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_dispatched_total",
				Help:      "Total number of action handlers run immediately",
			},
			[]string{"action", "code"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_duration_seconds",
				Help:      "Duration of action handlers in seconds",
				Buckets:   buckets,
			},
			[]string{"action"},
		),
		actionsDeferred: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_deferred_total",
				Help:      "Total number of actions recorded into a script",
			},
			[]string{"script"},
		),
		actionsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_skipped_total",
				Help:      "Total number of sequence rows skipped by their condition",
			},
			[]string{"table"},
		),
		actionsNotFound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_not_found_total",
				Help:      "Total number of actions no runner could handle",
			},
			[]string{"action"},
		),
		featureStates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feature_states_total",
				Help:      "Resolved feature actions by state",
			},
			[]string{"state"},
		),
		componentStates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "component_states_total",
				Help:      "Resolved component actions by state",
			},
			[]string{"state"},
		),
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Total number of state resolutions by selection mode",
			},
			[]string{"mode"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outcomes_total",
				Help:      "Terminal install outcomes",
			},
			[]string{"outcome"},
		),
		scriptDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "script_depth",
				Help:      "Number of operations recorded into each script since the last flush",
			},
			[]string{"script"},
		),
	}

	registry.MustRegister(
		m.actionsDispatched,
		m.actionDuration,
		m.actionsDeferred,
		m.actionsSkipped,
		m.actionsNotFound,
		m.featureStates,
		m.componentStates,
		m.resolutions,
		m.outcomes,
		m.scriptDepth,
	)

	return m, nil
}

// ActionDispatched implements engine.Observer.
func (m *Metrics) ActionDispatched(action string, duration time.Duration, code engine.Code) {
	if m.registry == nil {
		return
	}
	m.actionsDispatched.WithLabelValues(action, code.String()).Inc()
	m.actionDuration.WithLabelValues(action).Observe(duration.Seconds())

	switch action {
	case "InstallExecute", "InstallExecuteAgain":
		m.scriptDepth.WithLabelValues(string(engine.ScriptInstall)).Set(0)
	case "InstallFinalize":
		m.scriptDepth.WithLabelValues(string(engine.ScriptInstall)).Set(0)
		m.scriptDepth.WithLabelValues(string(engine.ScriptCommit)).Set(0)
	}
}

// ActionDeferred implements engine.Observer.
func (m *Metrics) ActionDeferred(_ string, kind engine.ScriptKind) {
	if m.registry == nil {
		return
	}
	m.actionsDeferred.WithLabelValues(string(kind)).Inc()
	m.scriptDepth.WithLabelValues(string(kind)).Inc()
}

// ActionSkipped implements engine.Observer.
func (m *Metrics) ActionSkipped(table engine.TableKind, _ string) {
	if m.registry == nil {
		return
	}
	m.actionsSkipped.WithLabelValues(string(table)).Inc()
}

// ActionNotFound implements engine.Observer.
func (m *Metrics) ActionNotFound(action string) {
	if m.registry == nil {
		return
	}
	m.actionsNotFound.WithLabelValues(action).Inc()
}

// StatesResolved implements engine.Observer.
func (m *Metrics) StatesResolved(res *engine.Resolution) {
	if m.registry == nil || res == nil {
		return
	}
	mode := "level"
	if res.OverrideMode {
		mode = "override"
	}
	m.resolutions.WithLabelValues(mode).Inc()
	for _, state := range res.Features {
		m.featureStates.WithLabelValues(string(state)).Inc()
	}
	for _, comp := range res.Components {
		m.componentStates.WithLabelValues(string(comp.Action)).Inc()
	}
}

// OutcomeReached implements engine.Observer.
func (m *Metrics) OutcomeReached(outcome engine.Outcome) {
	if m.registry == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome.String()).Inc()
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// MetricsServer serves the metrics endpoint until it is shut down.
type MetricsServer struct {
	server   *http.Server
	listener net.Listener
	errc     chan error
}

// StartMetricsServer listens on the configured address and serves metrics
// in the background. It returns nil when metrics are disabled or no listen
// address is configured.
func (m *Metrics) StartMetricsServer() (*MetricsServer, error) {
	if m.registry == nil || m.config.ListenAddress == "" {
		return nil, nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	listener, err := net.Listen("tcp", m.config.ListenAddress)
	if err != nil {
		return nil, err
	}

	s := &MetricsServer{
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: listener,
		errc:     make(chan error, 1),
	}
	go func() {
		err := s.server.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.errc <- err
	}()

	return s, nil
}

// Addr returns the address the server listens on.
func (s *MetricsServer) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown stops the server and returns any serve error.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	return <-s.errc
}

var _ engine.Observer = (*Metrics)(nil)
