package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/openfroyo/installengine/pkg/engine"
	"github.com/openfroyo/installengine/pkg/props"
)

type staticConditions map[string]bool

func (c staticConditions) Evaluate(_ context.Context, condition string, _ *engine.Package) (bool, error) {
	if v, ok := c[condition]; ok {
		return v, nil
	}
	return true, nil
}

// collector gathers delivered events.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) add(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := NewMetrics(DefaultConfig().Metrics)
	require.NoError(t, err)
	return m
}

func newTestTelemetry(t *testing.T, exporter *tracetest.InMemoryExporter) (*Telemetry, *collector) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Events.EnableAsync = false
	cfg.Tracing.Enabled = true

	tracer, err := newTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, exporter)
	require.NoError(t, err)
	events, err := NewEventPublisher(cfg.Events)
	require.NoError(t, err)
	c := &collector{}
	events.Subscribe(c.add, nil)

	return &Telemetry{
		Logger:  NewWriterLogger(io.Discard, cfg.Logging),
		Tracer:  tracer,
		Metrics: newTestMetrics(t),
		Events:  events,
		Config:  cfg,
	}, c
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "default", modify: func(*Config) {}},
		{name: "unattended", modify: func(c *Config) { *c = *UnattendedConfig() }},
		{name: "otlp with endpoint", modify: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Endpoint = "collector:4317"
		}},
		{name: "stdout", modify: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "stdout"
		}},
		{name: "missing service name", modify: func(c *Config) { c.ServiceName = "" }, wantErr: "service name is required"},
		{name: "bad level", modify: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "invalid log level: loud"},
		{name: "panic level", modify: func(c *Config) { c.Logging.Level = "panic" }, wantErr: "invalid log level: panic"},
		{name: "bad format", modify: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "invalid log format"},
		{name: "bad exporter", modify: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "jaeger"
		}, wantErr: "invalid trace exporter: jaeger"},
		{name: "otlp without endpoint", modify: func(c *Config) { c.Tracing.Enabled = true }, wantErr: "trace endpoint is required"},
		{name: "sampling rate", modify: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: "sampling rate"},
		{name: "buffer size", modify: func(c *Config) { c.Events.BufferSize = 0 }, wantErr: "buffer size must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LoggingConfig{Level: "debug", Format: "json"})

	logger.NewComponentLogger("installer").
		WithRunID("run-1").
		WithProduct("Widget", "2.1.0").
		WithAction("InstallFiles").
		Info("Copying files")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "installer", line["component"])
	assert.Equal(t, "run-1", line["run_id"])
	assert.Equal(t, "Widget", line["product"])
	assert.Equal(t, "2.1.0", line["product_version"])
	assert.Equal(t, "InstallFiles", line["action"])
	assert.Equal(t, "Copying files", line["message"])
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LoggingConfig{Level: "warn", Format: "json"})
	logger.Info("hidden")
	assert.Zero(t, buf.Len())
	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestLoggerFromContext(t *testing.T) {
	logger := NewWriterLogger(io.Discard, LoggingConfig{Level: "info", Format: "json"})
	ctx := logger.WithContext(context.Background())
	assert.Same(t, logger, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestMetricsObserveSession(t *testing.T) {
	m := newTestMetrics(t)

	tables := map[engine.TableKind][]engine.SequenceEntry{
		engine.TableExecute: {
			{Action: "CostInitialize", Sequence: 10},
			{Action: "InstallInitialize", Sequence: 20},
			{Action: "InstallFiles", Sequence: 30},
			{Action: "LegacyCleanup", Sequence: 40, Condition: "Legacy"},
			{Action: "Missing", Sequence: 50},
		},
	}
	handlers := map[string]engine.Handler{
		"CostInitialize": engine.HandlerFunc(func(ctx context.Context, s *engine.Session) error {
			s.ResolveStates(ctx)
			return nil
		}),
		"InstallInitialize": engine.HandlerFunc(func(_ context.Context, s *engine.Session) error {
			s.Package().Script.StartRecording()
			return nil
		}),
		"InstallFiles":  engine.HandlerFunc(func(context.Context, *engine.Session) error { return nil }),
		"LegacyCleanup": engine.HandlerFunc(func(context.Context, *engine.Session) error { return nil }),
	}

	pkg, err := engine.NewPackage(engine.Product{Name: "Widget"}, props.New(), nil, nil)
	require.NoError(t, err)
	eng := engine.New(engine.NewRegistry(handlers), engine.NewMemoryReader(tables),
		staticConditions{"Legacy": false}, engine.WithObserver(m))
	session := eng.NewSession(pkg)

	require.NoError(t, session.RunSequence(context.Background(), engine.TableExecute, false))
	require.NoError(t, session.RunOutcome(context.Background(), nil))

	success := engine.CodeSuccess.String()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actionsDispatched.WithLabelValues("CostInitialize", success)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actionsDispatched.WithLabelValues("InstallInitialize", success)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actionsDeferred.WithLabelValues(string(engine.ScriptInstall))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scriptDepth.WithLabelValues(string(engine.ScriptInstall))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actionsSkipped.WithLabelValues(string(engine.TableExecute))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolutions.WithLabelValues("level")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actionsNotFound.WithLabelValues("Missing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues(engine.OutcomeSuccess.String())))
}

func TestMetricsScriptDepthResets(t *testing.T) {
	m := newTestMetrics(t)

	m.ActionDeferred("InstallFiles", engine.ScriptInstall)
	m.ActionDeferred("WriteRegistryValues", engine.ScriptInstall)
	m.ActionDeferred("Cleanup", engine.ScriptCommit)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.scriptDepth.WithLabelValues("install")))

	m.ActionDispatched("InstallExecute", time.Millisecond, engine.CodeSuccess)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.scriptDepth.WithLabelValues("install")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scriptDepth.WithLabelValues("commit")))

	m.ActionDispatched("InstallFinalize", time.Millisecond, engine.CodeSuccess)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.scriptDepth.WithLabelValues("commit")))
}

func TestMetricsStatesResolved(t *testing.T) {
	m := newTestMetrics(t)
	m.StatesResolved(&engine.Resolution{
		OverrideMode: true,
		Features: map[string]engine.InstallState{
			"Core": engine.StateLocal,
			"Docs": engine.StateLocal,
			"Old":  engine.StateAbsent,
		},
		Components: map[string]engine.ComponentResolution{
			"Main": {Action: engine.StateLocal},
		},
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolutions.WithLabelValues("override")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.featureStates.WithLabelValues(string(engine.StateLocal))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.featureStates.WithLabelValues(string(engine.StateAbsent))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.componentStates.WithLabelValues(string(engine.StateLocal))))
}

func TestMetricsDisabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		m.ActionDispatched("A", time.Second, engine.CodeSuccess)
		m.ActionDeferred("A", engine.ScriptInstall)
		m.ActionSkipped(engine.TableUI, "A")
		m.ActionNotFound("A")
		m.StatesResolved(&engine.Resolution{})
		m.OutcomeReached(engine.OutcomeFailure)
	})
	assert.Nil(t, m.Registry())

	server, err := m.StartMetricsServer()
	require.NoError(t, err)
	assert.Nil(t, server)
}

func TestMetricsServer(t *testing.T) {
	cfg := DefaultConfig().Metrics
	cfg.ListenAddress = "127.0.0.1:0"
	m, err := NewMetrics(cfg)
	require.NoError(t, err)
	m.OutcomeReached(engine.OutcomeSuccess)

	server, err := m.StartMetricsServer()
	require.NoError(t, err)
	require.NotNil(t, server)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, server.Shutdown(ctx))
	}()

	resp, err := http.Get("http://" + server.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `froyo_install_outcomes_total{outcome="success"} 1`)
}

func TestEventPublisherSync(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 10})
	require.NoError(t, err)

	all, errorsOnly := &collector{}, &collector{}
	ep.Subscribe(all.add, nil)
	ep.Subscribe(errorsOnly.add, FilterByLevel(EventLevelError))

	require.NoError(t, ep.PublishRunStarted("run-1", "Widget", "2.1.0"))
	require.NoError(t, ep.PublishPolicyViolation("run-1", "permanent-components", "Main", "cannot remove"))

	assert.Equal(t, []string{EventTypeRunStarted, EventTypePolicyViolation}, all.types())
	assert.Equal(t, []string{EventTypePolicyViolation}, errorsOnly.types())
	assert.NotEmpty(t, all.events[0].ID)
	assert.False(t, all.events[0].Timestamp.IsZero())
}

func TestEventPublisherAsyncDrainsOnShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 100, MaxBatchSize: 10, EnableAsync: true})
	require.NoError(t, err)
	c := &collector{}
	ep.Subscribe(c.add, nil)
	ep.AddFilter(FilterByRunID("run-1"))

	for _, run := range []string{"run-1", "run-2", "run-1"} {
		require.NoError(t, ep.PublishRunStarted(run, "Widget", "1"))
	}
	require.NoError(t, ep.Shutdown(context.Background()))

	assert.Len(t, c.types(), 2)
	assert.ErrorIs(t, ep.PublishRunStarted("run-1", "Widget", "1"), ErrPublisherStopped)
}

func TestEventPublisherDisabled(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{})
	require.NoError(t, err)
	assert.NoError(t, ep.Publish(Event{Type: EventTypeRunStarted}))
	assert.NoError(t, ep.Shutdown(context.Background()))
}

func TestPublishRunCompletedOutcomes(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 1})
	require.NoError(t, err)
	c := &collector{}
	ep.Subscribe(c.add, nil)

	require.NoError(t, ep.PublishRunCompleted("r", engine.OutcomeSuccess, time.Second, nil))
	require.NoError(t, ep.PublishRunCompleted("r", engine.OutcomeUserExit, time.Second, engine.ErrUserExit))
	require.NoError(t, ep.PublishRunCompleted("r", engine.OutcomeFailure, time.Second, errors.New("disk full")))

	require.Len(t, c.events, 3)
	assert.Equal(t, EventLevelInfo, c.events[0].Level)
	assert.Equal(t, EventTypeRunCompleted, c.events[1].Type)
	assert.Equal(t, EventLevelWarning, c.events[1].Level)
	assert.Equal(t, EventTypeRunFailed, c.events[2].Type)
	assert.Equal(t, "disk full", c.events[2].Data["error"])
}

func TestEventNotifier(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 1})
	require.NoError(t, err)
	c := &collector{}
	ep.Subscribe(c.add, nil)

	n := NewEventNotifier(ep, "run-9", nil)
	ctx := context.Background()
	n.ActionStarted(ctx, "InstallFiles")
	n.ActionFinished(ctx, "InstallFiles", nil)
	n.ActionFinished(ctx, "RemoveFiles", engine.NewError(engine.CodeInstallFailure, "locked", nil))

	assert.Equal(t, []string{EventTypeActionStarted, EventTypeActionFinished, EventTypeActionFailed}, c.types())
	assert.Equal(t, "run-9", c.events[0].RunID)
	assert.Equal(t, "RemoveFiles", c.events[2].Action)
	assert.Equal(t, int(engine.CodeInstallFailure), c.events[2].Data["code"])
}

func TestRunLifecycle(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tel, c := newTestTelemetry(t, exporter)

	ctx, run := tel.StartRun(context.Background(), "run-7", engine.Product{Name: "Widget", Version: "2.1.0"})
	assert.NotEmpty(t, TraceID(ctx))

	tables := map[engine.TableKind][]engine.SequenceEntry{
		engine.TableExecute: {{Action: "InstallFiles", Sequence: 10}},
	}
	handlers := map[string]engine.Handler{
		"InstallFiles": engine.HandlerFunc(func(context.Context, *engine.Session) error { return nil }),
	}
	pkg, err := engine.NewPackage(engine.Product{Name: "Widget"}, props.New(), nil, nil)
	require.NoError(t, err)
	eng := engine.New(engine.NewRegistry(handlers), engine.NewMemoryReader(tables), staticConditions{}, run.EngineOptions()...)
	require.NoError(t, eng.NewSession(pkg).RunSequence(ctx, engine.TableExecute, false))

	assert.Equal(t, engine.OutcomeSuccess, run.End(nil))
	require.NoError(t, tel.Tracer.ForceFlush(context.Background()))

	assert.Equal(t, []string{
		EventTypeRunStarted,
		EventTypeActionStarted,
		EventTypeActionFinished,
		EventTypeRunCompleted,
	}, c.types())

	names := map[string]bool{}
	for _, span := range exporter.GetSpans() {
		names[span.Name] = true
	}
	assert.True(t, names["install.run"])
	assert.True(t, names["action.InstallFiles"])

	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestDisabledTracer(t *testing.T) {
	tracer, err := NewTracer(TracingConfig{}, "svc", "1")
	require.NoError(t, err)
	ctx, span := tracer.Start(context.Background(), "noop")
	span.End()
	assert.Empty(t, TraceID(ctx))
	assert.NoError(t, tracer.Shutdown(context.Background()))
}
