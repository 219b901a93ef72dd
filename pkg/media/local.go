package media

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/openfroyo/installengine/pkg/engine"
)

// LocalSource is a source directory on the installing machine.
type LocalSource struct {
	root   string
	logger zerolog.Logger
}

// NewLocalSource creates a source rooted at dir.
func NewLocalSource(dir string, logger zerolog.Logger) *LocalSource {
	return &LocalSource{root: dir, logger: logger}
}

// Streamable reports whether file is an uncompressed regular file under the root.
func (s *LocalSource) Streamable(_ context.Context, file engine.File) bool {
	if file.Compressed {
		return false
	}
	rel, ok := sourcePath(file)
	if !ok {
		s.logger.Warn().Str("file", file.Name).Str("source", file.Source).Msg("Source path escapes media root")
		return false
	}

	info, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(rel)))
	if err != nil {
		s.logger.Debug().Err(err).Str("file", file.Name).Msg("File not available on source")
		return false
	}
	return info.Mode().IsRegular()
}

// Close is a no-op.
func (s *LocalSource) Close() error {
	return nil
}
