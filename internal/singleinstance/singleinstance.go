// Package singleinstance implements a loopback probe that decides whether
// this process is the sole instance, and if not, hands its argument vector
// to whichever instance got there first. The wire protocol is a 32-bit
// length-prefixed payload carrying a little-endian argument count,
// followed by that many length-prefixed UTF-16LE strings.
package singleinstance

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"
	"unicode/utf16"

	"netkit/internal/events"
	"netkit/internal/framing"
	"netkit/internal/tcpclient"
	"netkit/internal/tcpserver"
)

// InstanceInfo tracks one peer's in-progress argument delivery: the count
// decoded from the first message, and the strings collected so far.
type InstanceInfo struct {
	ExpectedArgCount int
	ReceivedArgs     []string
}

// Coordinator owns the probe client and, if this process turns out to be
// the sole instance, the listening server.
type Coordinator struct {
	Port        int
	TryTimeout  time.Duration
	ReadTimeout time.Duration

	isSingle bool

	client *tcpclient.Client
	server *tcpserver.Server

	mu    sync.Mutex
	infos map[*framing.ConnectionInfo]*InstanceInfo

	OnArgumentsReceived events.Registry[[]string]
}

// New probes loopback:port for an existing instance within tryTimeout. If
// none answers, it becomes the single instance and starts listening;
// otherwise it sends args to whoever is already listening and returns
// isSingle=false.
func New(ctx context.Context, port int, tryTimeout, readTimeout time.Duration, args []string) (*Coordinator, error) {
	c := &Coordinator{
		Port:        port,
		TryTimeout:  tryTimeout,
		ReadTimeout: readTimeout,
		infos:       make(map[*framing.ConnectionInfo]*InstanceInfo),
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	c.client = tcpclient.New(addr, 4096)

	connectCtx, cancel := context.WithTimeout(ctx, tryTimeout)
	defer cancel()

	connected := c.connectWithDeadline(connectCtx)
	c.isSingle = !connected

	if c.isSingle {
		c.server = tcpserver.New(addr, 4096, 0)
		c.wireServer()
		if err := c.server.Start(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}

	if err := c.sendArgs(args); err != nil {
		return nil, err
	}
	c.client.Disconnect()
	return c, nil
}

func (c *Coordinator) connectWithDeadline(ctx context.Context) bool {
	done := make(chan bool, 1)
	go func() { done <- c.client.Connect(ctx) }()

	select {
	case ok := <-done:
		return ok
	case <-ctx.Done():
		return false
	}
}

// IsSingle reports whether this process is the sole instance.
func (c *Coordinator) IsSingle() bool { return c.isSingle }

func (c *Coordinator) wireServer() {
	c.server.OnConnected.Add(func(ci *framing.ConnectionInfo) {
		c.mu.Lock()
		c.infos[ci] = &InstanceInfo{ExpectedArgCount: -1}
		c.mu.Unlock()
		if c.ReadTimeout > 0 {
			ci.SetIdleTimeout(c.ReadTimeout)
		}
	})

	c.server.OnReceivedFull.Add(func(full tcpserver.ReceivedFull) {
		c.handleMessage(full.Conn, full.Data)
	})

	c.server.OnDisconnected.Add(func(ci *framing.ConnectionInfo) {
		c.mu.Lock()
		delete(c.infos, ci)
		c.mu.Unlock()
	})
}

func (c *Coordinator) handleMessage(ci *framing.ConnectionInfo, data []byte) {
	c.mu.Lock()
	info, ok := c.infos[ci]
	c.mu.Unlock()
	if !ok {
		return
	}

	if info.ExpectedArgCount < 0 {
		if len(data) != 4 {
			return
		}
		info.ExpectedArgCount = int(binary.LittleEndian.Uint32(data))
		if info.ExpectedArgCount == 0 {
			c.finish(ci, info)
		}
		return
	}

	info.ReceivedArgs = append(info.ReceivedArgs, decodeUTF16LE(data))
	if len(info.ReceivedArgs) >= info.ExpectedArgCount {
		c.finish(ci, info)
	}
}

func (c *Coordinator) finish(ci *framing.ConnectionInfo, info *InstanceInfo) {
	c.OnArgumentsReceived.Emit(info.ReceivedArgs)
	ci.Disconnect()
}

func (c *Coordinator) sendArgs(args []string) error {
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(args)))
	if err := c.client.Send(countBuf[:], true); err != nil {
		return err
	}
	for _, a := range args {
		if err := c.client.Send(encodeUTF16LE(a), true); err != nil {
			return err
		}
	}
	return nil
}

// Close tears down whichever side of the coordinator is active.
func (c *Coordinator) Close() error {
	if c.server != nil {
		return c.server.Stop()
	}
	return c.client.Disconnect()
}

func encodeUTF16LE(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(out[i*2:], u)
	}
	return out
}

func decodeUTF16LE(b []byte) string {
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(units))
}
