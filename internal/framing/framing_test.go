package framing

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"netkit/internal/keyedmutex"
)

func pipePair() (net.Conn, net.Conn) {
	return net.Pipe()
}

func newPair(bufferSize int) (*ConnectionInfo, *ConnectionInfo) {
	a, b := pipePair()
	mutex := keyedmutex.New()
	ca := New(a, bufferSize, false, mutex, a)
	cb := New(b, bufferSize, true, mutex, b)
	return ca, cb
}

func TestSendReceiveRoundTrip(t *testing.T) {
	sender, receiver := newPair(64)

	var got []byte
	done := make(chan struct{})
	go receiver.Receive(context.Background(), true, Handlers{
		OnFullPacket: func(data []byte, tag any) {
			got = append([]byte{}, data...)
			close(done)
		},
	})

	require.NoError(t, sender.Send([]byte("hello world"), true))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for whole-packet delivery")
	}
	require.Equal(t, "hello world", string(got))
}

func TestHeaderSpanningSeveralReads(t *testing.T) {
	serverSide, clientSide := pipePair()
	mutex := keyedmutex.New()
	receiver := New(serverSide, 64, true, mutex, serverSide)

	payload := []byte("split-header-payload")
	frame := make([]byte, HeaderSize32+len(payload))
	encodeHeader(frame, uint64(len(payload)), HeaderSize32)
	copy(frame[HeaderSize32:], payload)

	done := make(chan []byte, 1)
	go receiver.Receive(context.Background(), true, Handlers{
		OnFullPacket: func(data []byte, tag any) { done <- append([]byte{}, data...) },
	})

	go func() {
		// Write the header byte-by-byte across separate writes so the
		// reader must reassemble it across multiple Read calls, then the
		// payload in one shot.
		for i := 0; i < HeaderSize32; i++ {
			clientSide.Write(frame[i : i+1])
		}
		clientSide.Write(frame[HeaderSize32:])
	}()

	select {
	case got := <-done:
		require.Equal(t, payload, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for header-spanning delivery")
	}
}

func TestTwoPacketsInOneRead(t *testing.T) {
	serverSide, clientSide := pipePair()
	mutex := keyedmutex.New()
	receiver := New(serverSide, 256, true, mutex, serverSide)

	var buf bytes.Buffer
	for _, s := range []string{"first", "second"} {
		var hdr [HeaderSize32]byte
		encodeHeader(hdr[:], uint64(len(s)), HeaderSize32)
		buf.Write(hdr[:])
		buf.WriteString(s)
	}

	var mu sync.Mutex
	var received []string
	done := make(chan struct{})
	go receiver.Receive(context.Background(), true, Handlers{
		OnFullPacket: func(data []byte, tag any) {
			mu.Lock()
			received = append(received, string(data))
			if len(received) == 2 {
				close(done)
			}
			mu.Unlock()
		},
	})

	go clientSide.Write(buf.Bytes())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for both packets")
	}
	require.Equal(t, []string{"first", "second"}, received)
}

func TestSendFileUsesLongHeader(t *testing.T) {
	sender, receiver := newPair(64)
	receiver.ReadNextAsLong = true

	content := bytes.Repeat([]byte("x"), 130)
	done := make(chan []byte, 1)
	go receiver.Receive(context.Background(), true, Handlers{
		OnFullPacket: func(data []byte, tag any) { done <- append([]byte{}, data...) },
	})

	require.NoError(t, sender.SendFile(bytes.NewReader(content), int64(len(content)), nil, nil, false))

	select {
	case got := <-done:
		require.Equal(t, content, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for file delivery")
	}
}

func TestFragmentCallbackNeverSeesHeaderBytes(t *testing.T) {
	sender, receiver := newPair(8)

	var windows [][]byte
	var mu sync.Mutex
	done := make(chan struct{})
	go receiver.Receive(context.Background(), false, Handlers{
		OnFragment: func(f *Fragment) {
			mu.Lock()
			windows = append(windows, append([]byte{}, f.Data[f.CurrentOffset:f.CurrentOffset+f.CurrentReadCount]...))
			if f.Completed {
				close(done)
			}
			mu.Unlock()
		},
	})

	payload := bytes.Repeat([]byte("y"), 20)
	require.NoError(t, sender.Send(payload, true))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fragments")
	}

	var all []byte
	for _, w := range windows {
		all = append(all, w...)
	}
	require.Equal(t, payload, all)
}

func TestZeroLengthPacketCompletesImmediately(t *testing.T) {
	sender, receiver := newPair(32)

	done := make(chan []byte, 1)
	go receiver.Receive(context.Background(), true, Handlers{
		OnFullPacket: func(data []byte, tag any) { done <- data },
	})

	require.NoError(t, sender.Send([]byte{}, true))

	select {
	case got := <-done:
		require.Empty(t, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for zero-length delivery")
	}
}

func TestDisconnectReportedOnce(t *testing.T) {
	sender, receiver := newPair(32)

	var calls int
	var mu sync.Mutex
	done := make(chan struct{})
	go receiver.Receive(context.Background(), true, Handlers{
		OnDisconnected: func(err error) {
			mu.Lock()
			calls++
			mu.Unlock()
			close(done)
		},
	})

	sender.conn.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, calls)
}
