// Package framing implements the length-prefixed TCP framing engine:
// the Fragment state machine and the ConnectionInfo that owns a live
// stream, parses frames off it, and serializes writes onto it.
package framing

import (
	"context"
	"crypto/tls"
	"io"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"netkit/internal/errors"
	"netkit/internal/keyedmutex"
	"netkit/internal/tlsutil"
)

type state int

const (
	stateHeader state = iota
	statePayload
)

// Handlers bundles the callbacks the receive loop invokes. Fragment
// callbacks for one connection never overlap and whole-packet callbacks
// are delivered strictly after the fragment callback that completed them,
// because both are invoked synchronously from the same read-loop
// goroutine.
type Handlers struct {
	OnFragment     func(*Fragment)
	OnFullPacket   func(data []byte, tag any)
	OnDisconnected func(err error)
	OnReceiveError func(err error)
}

// ConnectionInfo owns one live stream end-to-end: the raw or TLS-wrapped
// net.Conn, the single recycled Fragment, the write-serialization key,
// and the optional idle timer.
type ConnectionInfo struct {
	conn net.Conn
	buf  []byte

	fragment Fragment

	IsServer bool

	// Exported because callers set them directly as part of the
	// send/receive contract (e.g. a file receiver must set ReadNextAsLong
	// before the frame's first byte arrives).
	EnableSsl          bool
	IsLengthInOneFrame bool
	ReadNextAsLong     bool

	readNextNotBuffered bool
	pendingNotBuffered  bool

	sslTargetHost string

	// Tag is copied onto the Fragment at the start of every packet, so
	// owners (e.g. the single-instance coordinator) can stash per-
	// connection state that rides along with delivery callbacks.
	Tag any

	writeMu  *keyedmutex.KeyedMutex
	writeKey any

	idleTimeout time.Duration
	idleTimer   *time.Timer
	idleGen     atomic.Uint64
	idleMu      sync.Mutex

	state      state
	headerSize int
	headerBuf  [HeaderSize64]byte
	headerPos  int

	closed           atomic.Bool
	disconnectedOnce sync.Once
}

// New wraps conn in a ConnectionInfo. bufferSize is the application
// payload buffer size; the underlying read buffer is sized bufferSize+8.
// Header bytes split across reads are staged in a separate header buffer,
// so each read fills the whole read buffer. mutex is the
// shared KeyedMutex the owner (Client or Server) uses to serialize writes
// across all of its connections; writeKey should be unique per connection
// (Client/Server pass the connection's own net.Conn).
func New(conn net.Conn, bufferSize int, isServer bool, mutex *keyedmutex.KeyedMutex, writeKey any) *ConnectionInfo {
	ci := &ConnectionInfo{
		conn:     conn,
		buf:      make([]byte, bufferSize+8),
		IsServer: isServer,
		writeMu:  mutex,
		writeKey: writeKey,
	}
	return ci
}

// Conn returns the underlying (possibly TLS-wrapped) connection.
func (ci *ConnectionInfo) Conn() net.Conn { return ci.conn }

// UpgradeServerTLS performs the server-side TLS handshake using the
// supplied certificate.
func (ci *ConnectionInfo) UpgradeServerTLS(ctx context.Context, supplier tlsutil.CertificateSupplier) error {
	cfg, err := tlsutil.ServerConfig(supplier)
	if err != nil {
		return err
	}
	tlsConn := tls.Server(ci.conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return errors.NewTlsError("server_handshake", err)
	}
	ci.conn = tlsConn
	return nil
}

// UpgradeClientTLS performs the client-side TLS handshake against
// targetHost, applying hook ahead of the default chain policy.
func (ci *ConnectionInfo) UpgradeClientTLS(ctx context.Context, targetHost string, hook tlsutil.ValidationHook) error {
	ci.sslTargetHost = targetHost
	cfg := tlsutil.ClientConfig(targetHost, hook)
	tlsConn := tls.Client(ci.conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return errors.NewTlsError("client_handshake", err)
	}
	ci.conn = tlsConn
	return nil
}

// SetReadNextNotBuffered arms the sticky one-shot flag: the next packet
// to START will not be appended to the whole-packet
// accumulator, even if the owner otherwise requested whole-packet
// delivery. The flag is consumed (reset) the moment that next packet
// starts, whether or not this one ever completes.
func (ci *ConnectionInfo) SetReadNextNotBuffered() {
	ci.readNextNotBuffered = true
}

// SetIdleTimeout arms, rearms, or disables the idle timer. A value <= 0
// disables and disposes any existing timer.
func (ci *ConnectionInfo) SetIdleTimeout(d time.Duration) {
	ci.idleMu.Lock()
	defer ci.idleMu.Unlock()

	ci.idleTimeout = d
	if d <= 0 {
		if ci.idleTimer != nil {
			ci.idleTimer.Stop()
			ci.idleTimer = nil
		}
		return
	}
	ci.rearmIdleLocked()
}

func (ci *ConnectionInfo) rearmIdleLocked() {
	if ci.idleTimeout <= 0 {
		return
	}
	gen := ci.idleGen.Add(1)
	if ci.idleTimer != nil {
		ci.idleTimer.Stop()
	}
	ci.idleTimer = time.AfterFunc(ci.idleTimeout, func() { ci.fireIdle(gen) })
}

func (ci *ConnectionInfo) rearmIdle() {
	ci.idleMu.Lock()
	defer ci.idleMu.Unlock()
	ci.rearmIdleLocked()
}

// fireIdle disconnects the connection unless a later read has already
// superseded this particular timer's generation — the mitigation for the
// timer stop/fire race.
func (ci *ConnectionInfo) fireIdle(gen uint64) {
	if ci.idleGen.Load() != gen {
		return
	}
	ci.Disconnect()
}

// Lock/Unlock serialize writes on this connection through the shared
// KeyedMutex: a single Send or SendFile call's bytes can never interleave
// with another sender's frame on the same connection.
func (ci *ConnectionInfo) Lock()   { ci.writeMu.Lock(ci.writeKey) }
func (ci *ConnectionInfo) Unlock() { ci.writeMu.Unlock(ci.writeKey) }

// Send writes data as a single frame. When lengthPrefixed is true and
// IsLengthInOneFrame is true, header and payload are coalesced into one
// write; when IsLengthInOneFrame is false they are two separate writes.
// Either way the whole call is atomic with respect to other senders on
// this connection.
func (ci *ConnectionInfo) Send(data []byte, lengthPrefixed bool) error {
	ci.Lock()
	defer ci.Unlock()

	if !lengthPrefixed {
		_, err := ci.conn.Write(data)
		return err
	}

	if ci.IsLengthInOneFrame {
		out := make([]byte, HeaderSize32+len(data))
		encodeHeader(out, uint64(len(data)), HeaderSize32)
		copy(out[HeaderSize32:], data)
		_, err := ci.conn.Write(out)
		return err
	}

	var hdr [HeaderSize32]byte
	encodeHeader(hdr[:], uint64(len(data)), HeaderSize32)
	if _, err := ci.conn.Write(hdr[:]); err != nil {
		return err
	}
	_, err := ci.conn.Write(data)
	return err
}

// SendFile streams size bytes from r as a length-prefixed file frame: an
// 8-byte header, with an optional preBuffer placed either before the
// header or between the header and the file body, and an optional
// postBuffer appended after it. The reader on the other end must have
// set ReadNextAsLong before this frame's first byte arrives.
func (ci *ConnectionInfo) SendFile(r io.Reader, size int64, preBuffer, postBuffer []byte, preBufferIsBeforeLength bool) error {
	ci.Lock()
	defer ci.Unlock()

	if preBufferIsBeforeLength && len(preBuffer) > 0 {
		if _, err := ci.conn.Write(preBuffer); err != nil {
			return err
		}
	}

	var hdr [HeaderSize64]byte
	encodeHeader(hdr[:], uint64(size), HeaderSize64)
	if _, err := ci.conn.Write(hdr[:]); err != nil {
		return err
	}

	if !preBufferIsBeforeLength && len(preBuffer) > 0 {
		if _, err := ci.conn.Write(preBuffer); err != nil {
			return err
		}
	}

	if _, err := io.CopyN(ci.conn, r, size); err != nil {
		return err
	}

	if len(postBuffer) > 0 {
		if _, err := ci.conn.Write(postBuffer); err != nil {
			return err
		}
	}
	return nil
}

// Disconnect issues a send-side shutdown and lets the receive loop
// observe end-of-stream naturally. Idempotent.
func (ci *ConnectionInfo) Disconnect() error {
	if ci.closed.Swap(true) {
		return nil
	}
	if cw, ok := ci.conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return ci.conn.Close()
}

func (ci *ConnectionInfo) cleanup() {
	ci.idleMu.Lock()
	if ci.idleTimer != nil {
		ci.idleTimer.Stop()
		ci.idleTimer = nil
	}
	ci.idleMu.Unlock()
	ci.conn.Close()
}

// Receive runs the fragment/whole-packet state machine against this
// connection's stream until it disconnects or ctx is cancelled. It is
// meant to be called on its own goroutine; it blocks for the life of the
// connection and reports disconnection exactly once via h.OnDisconnected.
func (ci *ConnectionInfo) Receive(ctx context.Context, wantWhole bool, h Handlers) {
	ci.startHeader()

	var finalErr error
	for {
		if ctx.Err() != nil {
			finalErr = ctx.Err()
			break
		}

		n, err := ci.conn.Read(ci.buf)
		if n > 0 {
			ci.rearmIdle()
			if ferr := ci.feed(n, wantWhole, h); ferr != nil {
				finalErr = ferr
				if h.OnReceiveError != nil {
					h.OnReceiveError(ferr)
				}
				break
			}
		}
		if err != nil {
			if err != io.EOF && !ci.closed.Load() {
				recvErr := errors.NewReceiveError(err)
				if h.OnReceiveError != nil {
					h.OnReceiveError(recvErr)
				}
				finalErr = recvErr
			}
			break
		}
	}

	ci.cleanup()
	ci.disconnectedOnce.Do(func() {
		if h.OnDisconnected != nil {
			h.OnDisconnected(finalErr)
		}
	})
}

func (ci *ConnectionInfo) startHeader() {
	ci.headerSize = HeaderSize32
	if ci.ReadNextAsLong {
		ci.headerSize = HeaderSize64
	}
	ci.headerPos = 0
	ci.pendingNotBuffered = ci.readNextNotBuffered
	ci.readNextNotBuffered = false
	ci.state = stateHeader
	ci.fragment.FullLength = -1
	ci.fragment.LengthFound = false
	ci.fragment.Completed = false
}

// feed processes the n bytes freshly read into ci.buf, driving the
// fragment/header receive state machine.
func (ci *ConnectionInfo) feed(n int, wantWhole bool, h Handlers) error {
	pos := 0
	for pos < n {
		switch ci.state {
		case stateHeader:
			if ci.headerPos == 0 {
				ci.headerSize = HeaderSize32
				if ci.ReadNextAsLong {
					ci.headerSize = HeaderSize64
				}
			}
			need := ci.headerSize - ci.headerPos
			take := min(need, n-pos)
			copy(ci.headerBuf[ci.headerPos:], ci.buf[pos:pos+take])
			ci.headerPos += take
			pos += take

			if ci.headerPos < ci.headerSize {
				continue
			}

			ci.ReadNextAsLong = false
			length := decodeHeader(ci.headerBuf[:ci.headerSize], ci.headerSize)
			if length > uint64(math.MaxInt64) {
				return errors.NewFramingError("header decoded to an out-of-range length")
			}

			ci.fragment.Data = ci.buf
			ci.fragment.Tag = ci.Tag
			ci.fragment.reset(int64(length), ci.pendingNotBuffered)

			if length == 0 {
				ci.fragment.Completed = true
				if wantWhole && !ci.fragment.notBuffered && h.OnFullPacket != nil {
					h.OnFullPacket([]byte{}, ci.fragment.Tag)
				}
				ci.startHeader()
				continue
			}
			ci.state = statePayload

		case statePayload:
			avail := ci.fragment.FullLength - ci.fragment.CumulativeReadCount
			if avail <= 0 {
				return errors.NewFramingError("payload exceeds its declared length")
			}
			take := int64(n - pos)
			if take > avail {
				take = avail
			}

			ci.fragment.CurrentOffset = pos
			ci.fragment.CurrentReadCount = int(take)
			ci.fragment.CumulativeReadCount += take
			pos += int(take)

			completed := ci.fragment.CumulativeReadCount == ci.fragment.FullLength
			ci.fragment.Completed = completed

			if wantWhole && !ci.fragment.notBuffered {
				ci.fragment.Accumulator = append(ci.fragment.Accumulator, ci.fragment.window()...)
			}
			if h.OnFragment != nil {
				h.OnFragment(&ci.fragment)
			}

			if completed {
				if wantWhole && !ci.fragment.notBuffered && h.OnFullPacket != nil {
					h.OnFullPacket(ci.fragment.Accumulator, ci.fragment.Tag)
				}
				ci.fragment.Accumulator = nil
				ci.startHeader()
			}
		}
	}
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
