package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/installengine/pkg/actions"
	"github.com/openfroyo/installengine/pkg/definition"
	"github.com/openfroyo/installengine/pkg/media"
	"github.com/openfroyo/installengine/pkg/policy"
	"github.com/openfroyo/installengine/pkg/stores"
	"github.com/openfroyo/installengine/pkg/telemetry"
)

// parseProperties parses NAME=VALUE pairs.
func parseProperties(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid property %q, expected NAME=VALUE", pair)
		}
		out[name] = value
	}
	return out, nil
}

// newTelemetry builds the telemetry stack from the global flags.
func newTelemetry() (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	if jsonOutput {
		cfg = telemetry.UnattendedConfig()
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	cfg.Metrics.ListenAddress = metricsAddr
	if traceExporter != "" && traceExporter != "none" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = traceExporter
		cfg.Tracing.Endpoint = traceEndpoint
	}

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if err := tel.StartMetricsServer(); err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}
	return tel, nil
}

// openStore opens and migrates the SQLite store at the --db path.
func openStore(ctx context.Context, logger zerolog.Logger) (*stores.SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// openMedia opens the definition's source media. A relative local path is
// taken relative to the definition file. It returns nil when the definition
// names no media.
func openMedia(ctx context.Context, def *definition.Definition, logger zerolog.Logger) (media.Source, error) {
	if def.Media == nil {
		return nil, nil
	}

	cfg := *def.Media
	if (cfg.Type == "" || cfg.Type == media.TypeLocal) && !filepath.IsAbs(cfg.Path) && def.Source != "" {
		cfg.Path = filepath.Join(baseDir(def), cfg.Path)
	}

	src, err := media.Open(ctx, &cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open source media: %w", err)
	}
	return src, nil
}

// newPolicyEngine creates a policy engine with the builtin policies plus
// those found under paths.
func newPolicyEngine(ctx context.Context, paths []string, logger zerolog.Logger) (*policy.Engine, error) {
	pe, err := policy.NewEngine(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if len(paths) > 0 {
		if err := pe.LoadPolicies(ctx, paths); err != nil {
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
	}
	return pe, nil
}

// builtinConfig wires the built-in actions for def.
func builtinConfig(def *definition.Definition, src media.Source, validator actions.Validator, ledger *actions.Ledger) actions.Config {
	cfg := actions.Config{
		Ledger:           ledger,
		LaunchConditions: def.LaunchConditions,
	}
	if src != nil {
		cfg.Media = src
	}
	if validator != nil {
		cfg.Validator = validator
	}
	return cfg
}

// baseDir is the directory relative paths in def are resolved against.
func baseDir(def *definition.Definition) string {
	if def.Source == "" {
		return "."
	}
	return filepath.Dir(def.Source)
}
