// Package tcpserver implements a listener owning a concurrent map of
// transport to framing.ConnectionInfo, a max-clients cap enforced at
// accept time, and broadcast sends that fan out with independent
// per-connection write ordering.
package tcpserver

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"

	"netkit/internal/errors"
	"netkit/internal/events"
	"netkit/internal/framing"
	"netkit/internal/keyedmutex"
	"netkit/internal/logging"
	"netkit/internal/network"
	"netkit/internal/tlsutil"
)

// Server owns a listener, a concurrent client map, and a max-clients cap.
type Server struct {
	Address            string
	BufferSize         int
	MaxClients         int
	IsLengthInOneFrame bool
	CertSupplier       tlsutil.CertificateSupplier

	mu        sync.Mutex
	listener  net.Listener
	listening atomic.Bool

	clients    sync.Map // net.Conn -> *framing.ConnectionInfo
	clientCnt  atomic.Int64
	writeMutex *keyedmutex.KeyedMutex

	OnConnected         events.Registry[*framing.ConnectionInfo]
	OnDisconnected      events.Registry[*framing.ConnectionInfo]
	OnReceivedFragment  events.Registry[*framing.Fragment]
	OnReceivedFull      events.Registry[ReceivedFull]
	OnReceiveError      events.Registry[error]
	OnSslError          events.Registry[error]
	OnMaxClientsReached events.Registry[*framing.ConnectionInfo]
}

// ReceivedFull bundles a completed whole-packet delivery with the
// connection it arrived on, since server-side listeners need to know
// which client sent it.
type ReceivedFull struct {
	Conn *framing.ConnectionInfo
	Data []byte
}

// New builds a Server listening on address with the given payload buffer
// size and client cap.
func New(address string, bufferSize, maxClients int) *Server {
	return &Server{
		Address:    address,
		BufferSize: bufferSize,
		MaxClients: maxClients,
		writeMutex: keyedmutex.New(),
	}
}

// Start is idempotent: it opens the listener and begins the accept loop
// exactly once.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.listening.Load() {
		s.mu.Unlock()
		return nil
	}
	ln, err := net.Listen("tcp", s.Address)
	if err != nil {
		s.mu.Unlock()
		return errors.NewDialError(s.Address, err)
	}
	s.listener = ln
	s.listening.Store(true)
	s.mu.Unlock()

	go s.acceptLoop(ctx)
	return nil
}

// Stop closes the listener. Outstanding receive loops terminate as their
// streams close.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.listening.Load() {
		return nil
	}
	s.listening.Store(false)
	return s.listener.Close()
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.listening.Load() {
				slog.Warn("accept failed, stopping accept loop", "address", s.Address, "error", err)
			}
			return
		}
		s.handleAccept(ctx, conn)
	}
}

// handleAccept enforces the max-clients cap by reserving a slot in the
// client count with a compare-and-swap before inserting, so the check and
// the increment cannot race.
func (s *Server) handleAccept(ctx context.Context, conn net.Conn) {
	if err := network.OptimizeTCPConnection(conn); err != nil {
		slog.Warn("tcp optimization failed", "remote", conn.RemoteAddr(), "error", err)
	}

	ci := framing.New(conn, s.BufferSize, true, s.writeMutex, conn)
	ci.IsLengthInOneFrame = s.IsLengthInOneFrame

	if !s.tryRegister(conn, ci) {
		s.OnMaxClientsReached.Emit(ci)
		conn.Close()
		return
	}

	if s.CertSupplier != nil {
		if err := ci.UpgradeServerTLS(ctx, s.CertSupplier); err != nil {
			s.OnSslError.Emit(err)
			s.unregister(conn)
			conn.Close()
			return
		}
	}

	s.OnConnected.Emit(ci)

	go ci.Receive(context.Background(), true, framing.Handlers{
		OnFragment: func(f *framing.Fragment) { s.OnReceivedFragment.Emit(f) },
		OnFullPacket: func(data []byte, tag any) {
			s.OnReceivedFull.Emit(ReceivedFull{Conn: ci, Data: data})
		},
		OnDisconnected: func(err error) { s.handleDisconnected(conn, ci, err) },
		OnReceiveError: func(err error) { s.OnReceiveError.Emit(err) },
	})
}

// tryRegister inserts ci into the client map if doing so would not exceed
// MaxClients, returning whether the insertion happened.
func (s *Server) tryRegister(conn net.Conn, ci *framing.ConnectionInfo) bool {
	if s.MaxClients > 0 {
		for {
			cur := s.clientCnt.Load()
			if cur >= int64(s.MaxClients) {
				return false
			}
			if s.clientCnt.CompareAndSwap(cur, cur+1) {
				break
			}
		}
	} else {
		s.clientCnt.Add(1)
	}

	if _, loaded := s.clients.LoadOrStore(conn, ci); loaded {
		// Duplicate transport handle: should not happen, but roll back.
		s.clientCnt.Add(-1)
		return false
	}
	return true
}

func (s *Server) unregister(conn net.Conn) {
	if _, ok := s.clients.LoadAndDelete(conn); ok {
		s.clientCnt.Add(-1)
	}
}

func (s *Server) handleDisconnected(conn net.Conn, ci *framing.ConnectionInfo, err error) {
	s.unregister(conn)
	logging.LogError(err, "tcpserver")
	s.OnDisconnected.Emit(ci)
}

// ClientCount returns the current number of registered clients.
func (s *Server) ClientCount() int64 { return s.clientCnt.Load() }

// Clients returns a snapshot of the currently registered connections.
func (s *Server) Clients() []*framing.ConnectionInfo {
	out := make([]*framing.ConnectionInfo, 0, s.clientCnt.Load())
	s.clients.Range(func(_, v any) bool {
		out = append(out, v.(*framing.ConnectionInfo))
		return true
	})
	return out
}

// Send writes to a single client.
func (s *Server) Send(client *framing.ConnectionInfo, data []byte, lengthPrefixed bool) error {
	return client.Send(data, lengthPrefixed)
}

// SendFile streams a file to a single client.
func (s *Server) SendFile(client *framing.ConnectionInfo, r io.Reader, size int64, preBuffer, postBuffer []byte, preBufferIsBeforeLength bool) error {
	return client.SendFile(r, size, preBuffer, postBuffer, preBufferIsBeforeLength)
}

// SendAll broadcasts to every registered client. Broadcast offers no
// cross-connection ordering: each client's write mutex serializes its
// own stream independently. Per-connection failures are
// aggregated with hashicorp/go-multierror rather than aborting the
// broadcast.
func (s *Server) SendAll(data []byte, lengthPrefixed bool) error {
	var result *multierror.Error
	for _, c := range s.Clients() {
		if err := c.Send(data, lengthPrefixed); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// SendAllFile broadcasts a file to every registered client. When r is an
// io.Seeker it is rewound to its starting offset before each client's
// send, so every client gets the same bytes; a reader that cannot seek is
// consumed by the first client, and later clients' sends fail once it is
// exhausted.
func (s *Server) SendAllFile(r io.Reader, size int64, preBuffer, postBuffer []byte, preBufferIsBeforeLength bool) error {
	var result *multierror.Error
	seeker, canSeek := r.(io.Seeker)
	var start int64
	if canSeek {
		start, _ = seeker.Seek(0, io.SeekCurrent)
	}
	for _, c := range s.Clients() {
		if canSeek {
			if _, err := seeker.Seek(start, io.SeekStart); err != nil {
				result = multierror.Append(result, err)
				continue
			}
		}
		if err := c.SendFile(r, size, preBuffer, postBuffer, preBufferIsBeforeLength); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// DisconnectClient disconnects a single registered client.
func (s *Server) DisconnectClient(client *framing.ConnectionInfo) error {
	return client.Disconnect()
}

// DisconnectAll disconnects every registered client.
func (s *Server) DisconnectAll() error {
	var result *multierror.Error
	for _, c := range s.Clients() {
		if err := c.Disconnect(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
