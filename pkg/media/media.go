// Package media resolves payload files against the installation source.
//
// A Source answers whether a file can be used in place from the source
// (run-from-source) or has to be copied to the machine. FileCost consults it
// for every component file; a file that is compressed or missing from the
// source forces its component to install locally.
package media

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/installengine/pkg/engine"
)

// Source is an installation source.
type Source interface {
	// Streamable reports whether file can be used from the source in place.
	Streamable(ctx context.Context, file engine.File) bool

	// Close releases any connection held by the source.
	Close() error
}

// Error represents an error from a source.
type Error struct {
	// Op is the operation that failed (e.g., "connect", "sftp-init")
	Op string

	// Err is the underlying error
	Err error
}

func (e *Error) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Open opens the source described by cfg.
func Open(ctx context.Context, cfg *Config, logger zerolog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid media config: %w", err)
	}

	logger = logger.With().Str("component", "media").Str("type", string(cfg.kind())).Logger()

	switch cfg.kind() {
	case TypeSFTP:
		return DialSFTP(ctx, cfg, logger)
	default:
		return NewLocalSource(cfg.Path, logger), nil
	}
}

// sourcePath returns the slash-separated path of file relative to the source
// root, or false when it would escape the root.
func sourcePath(file engine.File) (string, bool) {
	p := file.Source
	if p == "" {
		p = file.Name
	}
	p = path.Clean(strings.ReplaceAll(p, `\`, "/"))
	if p == "." || path.IsAbs(p) || p == ".." || strings.HasPrefix(p, "../") {
		return "", false
	}
	return p, true
}
