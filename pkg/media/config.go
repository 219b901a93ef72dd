package media

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Type selects where the installation source lives.
type Type string

const (
	// TypeLocal is a directory on the installing machine.
	TypeLocal Type = "local"

	// TypeSFTP is a directory on a remote host reached over SFTP.
	TypeSFTP Type = "sftp"
)

// AuthMethod represents the type of SSH authentication.
type AuthMethod string

const (
	// AuthMethodPassword uses password authentication
	AuthMethodPassword AuthMethod = "password"

	// AuthMethodKey uses private key authentication
	AuthMethodKey AuthMethod = "key"
)

// Config describes the installation source.
type Config struct {
	// Type is local or sftp (default: local)
	Type Type `json:"type,omitempty" yaml:"type,omitempty" validate:"omitempty,oneof=local sftp"`

	// Path is the root directory holding the payload files
	Path string `json:"path" yaml:"path" validate:"required"`

	// Host is the remote hostname or IP address (sftp only)
	Host string `json:"host,omitempty" yaml:"host,omitempty" validate:"required_if=Type sftp"`

	// Port is the SSH port (default: 22)
	Port int `json:"port,omitempty" yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`

	// User is the SSH username
	User string `json:"user,omitempty" yaml:"user,omitempty" validate:"required_if=Type sftp"`

	// AuthMethod specifies which authentication method to use
	AuthMethod AuthMethod `json:"auth_method,omitempty" yaml:"auth_method,omitempty" validate:"omitempty,oneof=password key"`

	// Password for password-based authentication
	Password string `json:"password,omitempty" yaml:"password,omitempty"`

	// PrivateKeyPath is the path to the private key file
	PrivateKeyPath string `json:"private_key_path,omitempty" yaml:"private_key_path,omitempty"`

	// KnownHostsPath is the path to the known_hosts file.
	// Unknown hosts are rejected unless InsecureIgnoreHostKey is set.
	KnownHostsPath string `json:"known_hosts_path,omitempty" yaml:"known_hosts_path,omitempty"`

	// InsecureIgnoreHostKey disables host key verification
	InsecureIgnoreHostKey bool `json:"insecure_ignore_host_key,omitempty" yaml:"insecure_ignore_host_key,omitempty"`

	// ConnectTimeoutSeconds bounds the SSH handshake (default: 30)
	ConnectTimeoutSeconds int `json:"connect_timeout_seconds,omitempty" yaml:"connect_timeout_seconds,omitempty" validate:"omitempty,min=1"`
}

// LocalConfig returns a Config for a local source directory.
func LocalConfig(path string) *Config {
	return &Config{Type: TypeLocal, Path: path}
}

// SFTPConfig returns a Config for a remote source with sensible defaults.
func SFTPConfig(host, user, path string) *Config {
	return &Config{
		Type:                  TypeSFTP,
		Path:                  path,
		Host:                  host,
		Port:                  22,
		User:                  user,
		AuthMethod:            AuthMethodKey,
		KnownHostsPath:        filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		ConnectTimeoutSeconds: 30,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("path is required")
	}

	switch c.kind() {
	case TypeLocal:
		return nil
	case TypeSFTP:
	default:
		return fmt.Errorf("unsupported media type: %s", c.Type)
	}

	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.port() <= 0 || c.port() > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}

	switch c.authMethod() {
	case AuthMethodPassword:
		if c.Password == "" {
			return fmt.Errorf("password is required for password authentication")
		}
	case AuthMethodKey:
		if c.PrivateKeyPath == "" {
			return fmt.Errorf("private key path is required for key authentication")
		}
		if _, err := os.Stat(c.PrivateKeyPath); os.IsNotExist(err) {
			return fmt.Errorf("private key file not found: %s", c.PrivateKeyPath)
		}
	default:
		return fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	if !c.InsecureIgnoreHostKey && c.KnownHostsPath == "" {
		return fmt.Errorf("known hosts path is required unless host key checking is disabled")
	}

	return nil
}

// BuildSSHClientConfig creates an ssh.ClientConfig from the Config.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	switch c.authMethod() {
	case AuthMethodPassword:
		authMethods = append(authMethods, ssh.Password(c.Password))
		authMethods = append(authMethods, ssh.KeyboardInteractive(
			func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = c.Password
				}
				return answers, nil
			},
		))

	case AuthMethodKey:
		keyBytes, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))

	default:
		return nil, fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	var hostKeyCallback ssh.HostKeyCallback
	if c.InsecureIgnoreHostKey {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		var err error
		hostKeyCallback, err = knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.connectTimeout(),
	}, nil
}

// Address returns the formatted SSH address (host:port).
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.port())
}

func (c *Config) kind() Type {
	if c.Type == "" {
		return TypeLocal
	}
	return c.Type
}

func (c *Config) port() int {
	if c.Port == 0 {
		return 22
	}
	return c.Port
}

func (c *Config) authMethod() AuthMethod {
	if c.AuthMethod == "" {
		return AuthMethodKey
	}
	return c.AuthMethod
}

func (c *Config) connectTimeout() time.Duration {
	if c.ConnectTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}
