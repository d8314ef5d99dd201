package ssh

import (
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod represents the type of SSH authentication.
type AuthMethod string

const (
	// AuthMethodPassword uses password authentication
	AuthMethodPassword AuthMethod = "password"

	// AuthMethodKey uses private key authentication
	AuthMethodKey AuthMethod = "key"

	// AuthMethodAgent uses the agent listening on SSH_AUTH_SOCK
	AuthMethodAgent AuthMethod = "agent"
)

// DefaultSFTPServer is where Debian, Ubuntu and Arch install the OpenSSH
// SFTP server binary.
const DefaultSFTPServer = "/usr/lib/openssh/sftp-server"

// Config holds SSH connection configuration.
type Config struct {
	// Host is the remote hostname or IP address
	Host string

	// Port is the SSH port (default: 22)
	Port int

	// User is the SSH username
	User string

	// AuthMethod specifies which authentication method to use
	AuthMethod AuthMethod

	// Password for password-based authentication
	Password string

	// PrivateKeyPath is the path to the private key file
	PrivateKeyPath string

	// PrivateKeyPassphrase is the passphrase for encrypted private keys
	PrivateKeyPassphrase string

	// KnownHostsPath is the path to the known_hosts file
	KnownHostsPath string

	// StrictHostKeyChecking rejects hosts missing from KnownHostsPath.
	// When false any host key is accepted.
	StrictHostKeyChecking bool

	// ConnectionTimeout is the timeout for establishing a connection
	ConnectionTimeout time.Duration

	// KeepAliveInterval is the interval for sending keep-alive messages
	// Set to 0 to disable keep-alive
	KeepAliveInterval time.Duration

	// MaxKeepAliveRetries is the maximum number of keep-alive retries before giving up
	MaxKeepAliveRetries int

	// Sudo wraps commands in `sudo -n` and starts SFTPServer through sudo.
	Sudo bool

	// SFTPServer is the remote sftp-server binary used when Sudo is set.
	SFTPServer string

	// ProxyHost is the hostname of a jump host (optional). The jump host
	// is authenticated the same way as the target.
	ProxyHost string

	// ProxyPort is the port of the proxy host
	ProxyPort int

	// ProxyUser is the username for the proxy host
	ProxyUser string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(host string, user string) *Config {
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		AuthMethod:            AuthMethodKey,
		KnownHostsPath:        filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		StrictHostKeyChecking: true,
		ConnectionTimeout:     30 * time.Second,
		KeepAliveInterval:     30 * time.Second,
		MaxKeepAliveRetries:   3,
		Sudo:                  user != "root",
		SFTPServer:            DefaultSFTPServer,
		ProxyPort:             22,
	}
}

// ParseURL builds a Config from ssh://[user[:password]@]host[:port][?query].
// The user defaults to $USER. Recognised query parameters:
//
//	identity=PATH      private key, selects key authentication
//	known_hosts=PATH   known_hosts file
//	insecure=true      accept any host key
//	sudo=true|false    override the root/non-root default
//	sftp_server=PATH   remote sftp-server binary for sudo mode
//	jump=[user@]host[:port]
//
// Without identity or password, the agent is used when SSH_AUTH_SOCK is set.
func ParseURL(raw string) (*Config, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid ssh target: %w", err)
	}
	if u.Scheme != "ssh" {
		return nil, fmt.Errorf("invalid ssh target %q: scheme must be ssh", raw)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("invalid ssh target %q: host is required", raw)
	}

	user := os.Getenv("USER")
	if u.User != nil && u.User.Username() != "" {
		user = u.User.Username()
	}

	cfg := DefaultConfig(u.Hostname(), user)
	if p := u.Port(); p != "" {
		if cfg.Port, err = strconv.Atoi(p); err != nil {
			return nil, fmt.Errorf("invalid ssh target %q: bad port %q", raw, p)
		}
	}

	q := u.Query()
	switch {
	case u.User != nil && hasPassword(u.User):
		cfg.AuthMethod = AuthMethodPassword
		cfg.Password, _ = u.User.Password()
	case q.Get("identity") != "":
		cfg.AuthMethod = AuthMethodKey
		cfg.PrivateKeyPath = q.Get("identity")
	case os.Getenv("SSH_AUTH_SOCK") != "":
		cfg.AuthMethod = AuthMethodAgent
	}

	if v := q.Get("known_hosts"); v != "" {
		cfg.KnownHostsPath = v
	}
	if v := q.Get("insecure"); v != "" {
		insecure, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid ssh target %q: insecure=%q", raw, v)
		}
		cfg.StrictHostKeyChecking = !insecure
	}
	if v := q.Get("sudo"); v != "" {
		if cfg.Sudo, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("invalid ssh target %q: sudo=%q", raw, v)
		}
	}
	if v := q.Get("sftp_server"); v != "" {
		cfg.SFTPServer = v
	}
	if v := q.Get("jump"); v != "" {
		jump, err := url.Parse("ssh://" + v)
		if err != nil || jump.Hostname() == "" {
			return nil, fmt.Errorf("invalid ssh target %q: bad jump host %q", raw, v)
		}
		cfg.ProxyHost = jump.Hostname()
		cfg.ProxyUser = user
		if jump.User != nil && jump.User.Username() != "" {
			cfg.ProxyUser = jump.User.Username()
		}
		if p := jump.Port(); p != "" {
			if cfg.ProxyPort, err = strconv.Atoi(p); err != nil {
				return nil, fmt.Errorf("invalid ssh target %q: bad jump port %q", raw, p)
			}
		}
	}

	return cfg, nil
}

func hasPassword(u *url.Userinfo) bool {
	_, ok := u.Password()
	return ok
}

// Validate checks if the configuration is valid. With key authentication
// and no PrivateKeyPath, the usual ~/.ssh identities are tried.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.User == "" {
		return fmt.Errorf("user is required")
	}

	switch c.AuthMethod {
	case AuthMethodPassword:
		if c.Password == "" {
			return fmt.Errorf("password is required for password authentication")
		}
	case AuthMethodKey:
		if c.PrivateKeyPath == "" {
			homeDir := os.Getenv("HOME")
			defaultKeys := []string{
				filepath.Join(homeDir, ".ssh", "id_ed25519"),
				filepath.Join(homeDir, ".ssh", "id_rsa"),
				filepath.Join(homeDir, ".ssh", "id_ecdsa"),
			}
			for _, keyPath := range defaultKeys {
				if _, err := os.Stat(keyPath); err == nil {
					c.PrivateKeyPath = keyPath
					break
				}
			}
			if c.PrivateKeyPath == "" {
				return fmt.Errorf("private key path is required for key authentication and no default key found")
			}
		}
		if _, err := os.Stat(c.PrivateKeyPath); os.IsNotExist(err) {
			return fmt.Errorf("private key file not found: %s", c.PrivateKeyPath)
		}
	case AuthMethodAgent:
		if os.Getenv("SSH_AUTH_SOCK") == "" {
			return fmt.Errorf("agent authentication requires SSH_AUTH_SOCK")
		}
	default:
		return fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection timeout must be positive")
	}

	if c.Sudo && c.SFTPServer == "" {
		return fmt.Errorf("sftp server path is required in sudo mode")
	}

	if c.ProxyHost != "" {
		if c.ProxyPort <= 0 || c.ProxyPort > 65535 {
			return fmt.Errorf("invalid proxy port: %d", c.ProxyPort)
		}
		if c.ProxyUser == "" {
			return fmt.Errorf("proxy user is required when proxy host is specified")
		}
	}

	return nil
}

// BuildSSHClientConfig creates an ssh.ClientConfig from the Config. With
// agent authentication the returned closer owns the agent connection and
// must be closed once the SSH connection is no longer needed; otherwise it
// is nil.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, io.Closer, error) {
	return c.clientConfigFor(c.User)
}

func (c *Config) clientConfigFor(user string) (*ssh.ClientConfig, io.Closer, error) {
	var authMethods []ssh.AuthMethod
	var closer io.Closer

	switch c.AuthMethod {
	case AuthMethodPassword:
		authMethods = append(authMethods, ssh.Password(c.Password))

		// Many servers only offer keyboard-interactive for the password prompt.
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
			return nil, nil, fmt.Errorf("failed to read private key: %w", err)
		}

		var signer ssh.Signer
		if c.PrivateKeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(c.PrivateKeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyBytes)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse private key: %w", err)
		}

		authMethods = append(authMethods, ssh.PublicKeys(signer))

	case AuthMethodAgent:
		conn, err := net.Dial("unix", os.Getenv("SSH_AUTH_SOCK"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to ssh agent: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		closer = conn

	default:
		return nil, nil, fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	var hostKeyCallback ssh.HostKeyCallback
	if c.StrictHostKeyChecking {
		var err error
		hostKeyCallback, err = knownhosts.New(c.KnownHostsPath)
		if err != nil {
			if closer != nil {
				_ = closer.Close()
			}
			return nil, nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	} else {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	clientConfig := &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectionTimeout,
	}

	return clientConfig, closer, nil
}

// Address returns the formatted SSH address (host:port).
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ProxyAddress returns the formatted proxy address (host:port).
func (c *Config) ProxyAddress() string {
	if c.ProxyHost == "" {
		return ""
	}
	return net.JoinHostPort(c.ProxyHost, strconv.Itoa(c.ProxyPort))
}

// IsProxyEnabled returns true if a jump host is configured.
func (c *Config) IsProxyEnabled() bool {
	return c.ProxyHost != ""
}

// String renders the target as user@host:port.
func (c *Config) String() string {
	return c.User + "@" + c.Address()
}
