package telemetry

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Config is the telemetry setup of one froyo-install process.
type Config struct {
	// ServiceName and ServiceVersion identify the installer in traces.
	ServiceName    string
	ServiceVersion string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures the run log.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error or fatal.
	Level string

	// Format is console for people and json for log collectors.
	Format string

	// Output is stdout, stderr or a log file path. Install summaries go to
	// stdout, so logs default to stderr.
	Output string

	// TimeFormat is rfc3339, unix or unixms.
	TimeFormat string
}

// TracingConfig configures per-action spans.
type TracingConfig struct {
	Enabled bool

	// Exporter is otlp or stdout.
	Exporter string

	// Endpoint is the OTLP collector address, e.g. "localhost:4317".
	Endpoint string

	// Insecure dials the collector without TLS.
	Insecure bool

	// SamplingRate is the fraction of runs traced, from 0 to 1.
	SamplingRate float64

	// ExportTimeout bounds each span export. A run flushes its spans on exit.
	ExportTimeout time.Duration
}

// MetricsConfig configures action and outcome metrics.
type MetricsConfig struct {
	Enabled bool

	// ListenAddress serves /metrics while the install runs. An empty
	// address collects metrics without serving them.
	ListenAddress string

	// Path is the HTTP path for metrics.
	Path string

	// Namespace prefixes every metric name.
	Namespace string

	// ActionBuckets are the action duration buckets in seconds. Built-in
	// actions take microseconds and custom actions can take minutes.
	ActionBuckets []float64
}

// EventsConfig configures run event delivery.
type EventsConfig struct {
	Enabled bool

	// BufferSize is the number of events queued before Publish fails.
	BufferSize int

	// MaxBatchSize caps the events delivered per wakeup when async.
	MaxBatchSize int

	// EnableAsync delivers events on a background goroutine. Order is kept
	// either way.
	EnableAsync bool
}

// DefaultConfig returns the configuration for an attended install: console
// logs on stderr, metrics collected but not served, tracing off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "froyo-install",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:      "otlp",
			Insecure:      true,
			SamplingRate:  1.0,
			ExportTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			Path:          "/metrics",
			Namespace:     "froyo_install",
			ActionBuckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0, 300.0},
		},
		Events: EventsConfig{
			Enabled:      true,
			BufferSize:   1000,
			MaxBatchSize: 100,
			EnableAsync:  true,
		},
	}
}

// UnattendedConfig returns the configuration for scripted installs whose
// output is parsed: JSON logs with millisecond timestamps.
func UnattendedConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logging.Format = "json"
	cfg.Logging.TimeFormat = "unixms"
	return cfg
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	if lvl, err := zerolog.ParseLevel(c.Logging.Level); err != nil || lvl < zerolog.TraceLevel || lvl > zerolog.FatalLevel {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "otlp":
			if c.Tracing.Endpoint == "" {
				return fmt.Errorf("trace endpoint is required for the otlp exporter")
			}
		case "stdout":
		default:
			return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
		}
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}

	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		return fmt.Errorf("metrics namespace is required when metrics are enabled")
	}

	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got: %d", c.Events.BufferSize)
	}

	return nil
}
