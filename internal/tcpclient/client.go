// Package tcpclient implements a single dialed connection wrapping the
// framing engine in internal/framing, with an event registry that
// generalizes the rest of this module's progress/logging style of
// explicit, named callbacks (internal/events).
package tcpclient

import (
	"context"
	"crypto/x509"
	"io"
	"log/slog"
	"net"
	"sync"

	"netkit/internal/errors"
	"netkit/internal/events"
	"netkit/internal/framing"
	"netkit/internal/keyedmutex"
	"netkit/internal/logging"
	"netkit/internal/network"
	"netkit/internal/tlsutil"
)

// Client owns an address, a buffer size, and one ConnectionInfo at a time.
// Reconnecting after a disconnect rebuilds the ConnectionInfo rather than
// mutating the defunct one.
type Client struct {
	Address            string
	BufferSize         int
	SslTargetHost      string
	IsLengthInOneFrame bool
	TLSHook            tlsutil.ValidationHook

	mu               sync.Mutex
	conn             *framing.ConnectionInfo
	lastConnectError error
	writeMutex       *keyedmutex.KeyedMutex

	OnConnected              events.Registry[net.Conn]
	OnReceivedFragment       events.Registry[*framing.Fragment]
	OnReceivedFull           events.Registry[[]byte]
	OnDisconnected           events.Registry[error]
	OnReceiveError           events.Registry[error]
	OnSslError               events.Registry[error]
	OnSslValidationRequested events.Registry[tlsutil.Decision]
}

// New builds a Client targeting address, with payload buffer size
// bufferSize.
func New(address string, bufferSize int) *Client {
	return &Client{
		Address:    address,
		BufferSize: bufferSize,
		writeMutex: keyedmutex.New(),
	}
}

// LastConnectError returns the cause of the most recent failed connect().
func (c *Client) LastConnectError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastConnectError
}

// Connection returns the client's current ConnectionInfo, or nil if not
// connected.
func (c *Client) Connection() *framing.ConnectionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Connect dials the configured address, optionally upgrades to TLS, then
// starts the receive loop on its own goroutine. Returns false (with
// LastConnectError set) on a failed dial.
func (c *Client) Connect(ctx context.Context) bool {
	var dialer net.Dialer
	netConn, err := dialer.DialContext(ctx, "tcp", c.Address)
	if err != nil {
		dialErr := errors.NewDialError(c.Address, err)
		c.mu.Lock()
		c.lastConnectError = dialErr
		c.mu.Unlock()
		return false
	}

	if err := network.OptimizeTCPConnection(netConn); err != nil {
		slog.Warn("tcp optimization failed", "address", c.Address, "error", err)
	}

	ci := framing.New(netConn, c.BufferSize, false, c.writeMutex, netConn)
	ci.IsLengthInOneFrame = c.IsLengthInOneFrame

	if c.SslTargetHost != "" {
		hook := func(raw [][]byte, parsed []*x509.Certificate) tlsutil.Decision {
			decision := tlsutil.Defer
			if c.TLSHook != nil {
				decision = c.TLSHook(raw, parsed)
			}
			c.OnSslValidationRequested.Emit(decision)
			return decision
		}
		if err := ci.UpgradeClientTLS(ctx, c.SslTargetHost, hook); err != nil {
			c.OnSslError.Emit(err)
			netConn.Close()
			c.mu.Lock()
			c.lastConnectError = err
			c.mu.Unlock()
			return false
		}
	}

	c.mu.Lock()
	c.conn = ci
	c.lastConnectError = nil
	c.mu.Unlock()

	c.OnConnected.Emit(netConn)

	go ci.Receive(context.Background(), true, framing.Handlers{
		OnFragment:     func(f *framing.Fragment) { c.OnReceivedFragment.Emit(f) },
		OnFullPacket:   func(data []byte, tag any) { c.OnReceivedFull.Emit(data) },
		OnDisconnected: func(err error) { c.handleDisconnected(ci, err) },
		OnReceiveError: func(err error) { c.OnReceiveError.Emit(err) },
	})

	return true
}

func (c *Client) handleDisconnected(ci *framing.ConnectionInfo, err error) {
	c.mu.Lock()
	if c.conn == ci {
		c.conn = nil
	}
	c.mu.Unlock()
	logging.LogError(err, "tcpclient")
	c.OnDisconnected.Emit(err)
}

// Disconnect delegates to the underlying ConnectionInfo. Idempotent; a
// no-op when not connected.
func (c *Client) Disconnect() error {
	ci := c.Connection()
	if ci == nil {
		return nil
	}
	return ci.Disconnect()
}

// Send delegates to the underlying ConnectionInfo.
func (c *Client) Send(data []byte, lengthPrefixed bool) error {
	ci := c.Connection()
	if ci == nil {
		return errors.NewReceiveError(net.ErrClosed)
	}
	return ci.Send(data, lengthPrefixed)
}

// SendFile delegates to the underlying ConnectionInfo. The peer must have
// set readNextAsLong before the frame arrives.
func (c *Client) SendFile(r io.Reader, size int64, preBuffer, postBuffer []byte, preBufferIsBeforeLength bool) error {
	ci := c.Connection()
	if ci == nil {
		return errors.NewReceiveError(net.ErrClosed)
	}
	return ci.SendFile(r, size, preBuffer, postBuffer, preBufferIsBeforeLength)
}
