// Package udp implements a single datagram socket with an idempotent
// listen/enable toggle and a received(datagram) event, grounded on the
// same events.Registry callback style used by internal/tcpclient and
// internal/tcpserver.
package udp

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	netkiterrors "netkit/internal/errors"
	"netkit/internal/events"
	"netkit/internal/logging"
)

// Datagram bundles a received payload with its sender.
type Datagram struct {
	Data []byte
	From net.Addr
}

// Handler owns one datagram socket bound to LocalAddr.
type Handler struct {
	LocalAddr  string
	BufferSize int

	mu        sync.Mutex
	conn      *net.UDPConn
	listening atomic.Bool
	stop      chan struct{}

	OnReceived     events.Registry[Datagram]
	OnReceiveError events.Registry[error]
}

// New builds a Handler bound to localAddr.
func New(localAddr string, bufferSize int) *Handler {
	if bufferSize <= 0 {
		bufferSize = 65535
	}
	return &Handler{LocalAddr: localAddr, BufferSize: bufferSize}
}

// Listen toggles the receive loop. Enabling when already enabled, or
// disabling when already disabled, is a no-op. Disabling disposes the
// socket; a later enable opens a fresh one on the same endpoint.
func (h *Handler) Listen(enable bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if enable == h.listening.Load() {
		return nil
	}

	if !enable {
		h.listening.Store(false)
		close(h.stop)
		return h.conn.Close()
	}

	addr, err := net.ResolveUDPAddr("udp", h.LocalAddr)
	if err != nil {
		return netkiterrors.NewDialError(h.LocalAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return netkiterrors.NewDialError(h.LocalAddr, err)
	}

	h.conn = conn
	h.stop = make(chan struct{})
	h.listening.Store(true)

	go h.receiveLoop(conn, h.stop)
	return nil
}

// Send writes one datagram to to. Truncation semantics follow the
// transport.
func (h *Handler) Send(data []byte, to net.Addr) (int, error) {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return 0, netkiterrors.NewReceiveError(net.ErrClosed)
	}
	udpAddr, ok := to.(*net.UDPAddr)
	if !ok {
		resolved, err := net.ResolveUDPAddr("udp", to.String())
		if err != nil {
			return 0, netkiterrors.NewDialError(to.String(), err)
		}
		udpAddr = resolved
	}
	return conn.WriteToUDP(data, udpAddr)
}

func (h *Handler) receiveLoop(conn *net.UDPConn, stop chan struct{}) {
	buf := make([]byte, h.BufferSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-stop:
				// socket disposed: expected, not an error.
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logging.LogError(netkiterrors.NewReceiveError(err), "udp")
			h.OnReceiveError.Emit(err)
			h.mu.Lock()
			h.listening.Store(false)
			h.mu.Unlock()
			return
		}
		h.OnReceived.Emit(Datagram{Data: append([]byte{}, buf[:n]...), From: addr})
	}
}

// IsListening reports whether the receive loop is currently active.
func (h *Handler) IsListening() bool { return h.listening.Load() }
