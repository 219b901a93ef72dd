package media

import (
	"context"
	"fmt"
	"net"
	"path"
	"sync"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/openfroyo/installengine/pkg/engine"
)

// SFTPSource is a source directory on a remote host. Stat results are cached
// for the lifetime of the source.
type SFTPSource struct {
	root   string
	logger zerolog.Logger

	ssh  *ssh.Client
	sftp *sftp.Client

	mu    sync.Mutex
	cache map[string]bool
}

// DialSFTP connects to the host in cfg and opens an SFTP session.
func DialSFTP(ctx context.Context, cfg *Config, logger zerolog.Logger) (*SFTPSource, error) {
	clientConfig, err := cfg.BuildSSHClientConfig()
	if err != nil {
		return nil, &Error{Op: "connect", Err: err}
	}

	address := cfg.Address()
	logger.Debug().Str("address", address).Msg("Establishing SSH connection")

	dialer := net.Dialer{Timeout: clientConfig.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &Error{Op: "connect", Err: err}
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, address, clientConfig)
	if err != nil {
		_ = conn.Close()
		return nil, &Error{Op: "connect", Err: err}
	}
	client := ssh.NewClient(c, chans, reqs)

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		return nil, &Error{Op: "sftp-init", Err: fmt.Errorf("failed to create SFTP client: %w", err)}
	}

	logger.Info().Str("address", address).Str("root", cfg.Path).Msg("SFTP source opened")

	return &SFTPSource{
		root:   cfg.Path,
		logger: logger,
		ssh:    client,
		sftp:   sftpClient,
		cache:  make(map[string]bool),
	}, nil
}

// Streamable reports whether file is an uncompressed regular file under the
// remote root.
func (s *SFTPSource) Streamable(ctx context.Context, file engine.File) bool {
	if file.Compressed {
		return false
	}
	rel, ok := sourcePath(file)
	if !ok {
		s.logger.Warn().Str("file", file.Name).Str("source", file.Source).Msg("Source path escapes media root")
		return false
	}
	if ctx.Err() != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ok, cached := s.cache[rel]; cached {
		return ok
	}

	info, err := s.sftp.Stat(path.Join(s.root, rel))
	streamable := err == nil && info.Mode().IsRegular()
	if err != nil {
		s.logger.Debug().Err(err).Str("file", file.Name).Msg("File not available on source")
	}
	s.cache[rel] = streamable
	return streamable
}

// Close closes the SFTP session and the SSH connection.
func (s *SFTPSource) Close() error {
	sftpErr := s.sftp.Close()
	if err := s.ssh.Close(); err != nil {
		return err
	}
	return sftpErr
}
