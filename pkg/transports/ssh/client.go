package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "exec", "sftp")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}

// ErrNotConnected is returned by operations on a closed client.
var ErrNotConnected = errors.New("not connected")

// Client owns one SSH connection, optionally tunnelled through a jump host.
type Client struct {
	config *Config
	logger zerolog.Logger

	connMu      sync.RWMutex
	client      *ssh.Client
	closers     []io.Closer
	connectedAt time.Time
	lastUsedAt  time.Time
	stop        chan struct{}
}

// NewClient validates config and returns an unconnected client.
func NewClient(config *Config, logger zerolog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Client{
		config: config,
		logger: logger.With().Str("component", "ssh").Str("target", config.String()).Logger(),
	}, nil
}

// Connect establishes the SSH connection. Connecting an already connected
// client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.client != nil {
		return nil
	}

	clientConfig, closer, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}
	if closer != nil {
		c.closers = append(c.closers, closer)
	}

	var client *ssh.Client
	if c.config.IsProxyEnabled() {
		client, err = c.connectViaProxy(ctx, clientConfig)
	} else {
		client, err = c.connectDirect(ctx, clientConfig)
	}
	if err != nil {
		c.closeAll()
		return err
	}

	c.client = client
	c.connectedAt = time.Now()
	c.lastUsedAt = c.connectedAt
	c.stop = make(chan struct{})

	if c.config.KeepAliveInterval > 0 {
		go c.keepAlive(client, c.stop)
	}

	c.logger.Info().Msg("SSH connection established")
	return nil
}

// dial opens a TCP connection honoring ctx and performs the SSH handshake.
func dial(ctx context.Context, dialer func(ctx context.Context, network, addr string) (net.Conn, error), address string, clientConfig *ssh.ClientConfig) (*ssh.Client, error) {
	conn, err := dialer(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	// The handshake itself does not watch ctx.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if clientConfig.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(clientConfig.Timeout))
	}

	ncc, chans, reqs, err := ssh.NewClientConn(conn, address, clientConfig)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(ncc, chans, reqs), nil
}

// connectDirect establishes a direct SSH connection.
func (c *Client) connectDirect(ctx context.Context, clientConfig *ssh.ClientConfig) (*ssh.Client, error) {
	address := c.config.Address()
	c.logger.Debug().Str("address", address).Msg("establishing SSH connection")

	d := &net.Dialer{Timeout: c.config.ConnectionTimeout}
	client, err := dial(ctx, d.DialContext, address, clientConfig)
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err, IsTemporary: !isAuthError(err), IsAuthError: isAuthError(err)}
	}
	return client, nil
}

// connectViaProxy establishes an SSH connection through a jump host.
func (c *Client) connectViaProxy(ctx context.Context, targetConfig *ssh.ClientConfig) (*ssh.Client, error) {
	proxyConfig, closer, err := c.config.clientConfigFor(c.config.ProxyUser)
	if err != nil {
		return nil, &TransportError{Op: "connect-proxy", Err: err, IsAuthError: true}
	}
	if closer != nil {
		c.closers = append(c.closers, closer)
	}

	c.logger.Debug().Str("proxy", c.config.ProxyAddress()).Msg("connecting to proxy host")

	d := &net.Dialer{Timeout: c.config.ConnectionTimeout}
	proxyClient, err := dial(ctx, d.DialContext, c.config.ProxyAddress(), proxyConfig)
	if err != nil {
		return nil, &TransportError{Op: "connect-proxy", Err: err, IsTemporary: !isAuthError(err), IsAuthError: isAuthError(err)}
	}

	targetAddress := c.config.Address()
	c.logger.Debug().Str("address", targetAddress).Msg("connecting to target through proxy")

	client, err := dial(ctx, proxyClient.DialContext, targetAddress, targetConfig)
	if err != nil {
		_ = proxyClient.Close()
		return nil, &TransportError{Op: "connect-via-proxy", Err: err, IsTemporary: !isAuthError(err), IsAuthError: isAuthError(err)}
	}

	c.closers = append(c.closers, proxyClient)
	return client, nil
}

// isAuthError recognises the client handshake's authentication failure,
// which x/crypto/ssh only reports as text.
func isAuthError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unable to authenticate")
}

// Close closes the SSH connection, the jump host connection and any agent
// connection.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.client == nil {
		return nil
	}

	c.logger.Debug().Msg("closing SSH connection")
	close(c.stop)

	err := c.client.Close()
	c.client = nil
	c.closeAll()

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return &TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

func (c *Client) closeAll() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i].Close()
	}
	c.closers = nil
}

// IsConnected returns true if the client has an open connection.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.client != nil
}

// HealthCheck runs `true` on the remote host.
func (c *Client) HealthCheck(ctx context.Context) error {
	client, err := c.getClient()
	if err != nil {
		return err
	}

	session, err := client.NewSession()
	if err != nil {
		return &TransportError{Op: "healthcheck", Err: err, IsTemporary: true}
	}
	defer session.Close()

	if err := session.Run("true"); err != nil {
		return &TransportError{Op: "healthcheck", Err: err, IsTemporary: true}
	}

	return nil
}

// keepAlive sends periodic keep-alive requests until stop is closed or too
// many requests in a row fail.
func (c *Client) keepAlive(client *ssh.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	retries := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			retries++
			c.logger.Warn().Err(err).Int("retries", retries).Msg("keep-alive failed")
			if retries >= c.config.MaxKeepAliveRetries {
				c.logger.Error().Msg("keep-alive failed too many times, connection may be dead")
				return
			}
			continue
		}
		retries = 0
	}
}

// getClient returns the underlying SSH client.
func (c *Client) getClient() (*ssh.Client, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.client == nil {
		return nil, &TransportError{Op: "get-client", Err: ErrNotConnected}
	}

	c.lastUsedAt = time.Now()
	return c.client, nil
}

// ConnectionInfo contains details about an active SSH connection.
type ConnectionInfo struct {
	Host         string
	Port         int
	User         string
	ConnectedAt  time.Time
	LastActivity time.Time
	ViaProxy     bool
}

// GetConnectionInfo returns information about the current connection.
func (c *Client) GetConnectionInfo() ConnectionInfo {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	return ConnectionInfo{
		Host:         c.config.Host,
		Port:         c.config.Port,
		User:         c.config.User,
		ConnectedAt:  c.connectedAt,
		LastActivity: c.lastUsedAt,
		ViaProxy:     c.config.IsProxyEnabled(),
	}
}
