package udp

import (
	"net"
	"testing"
	"time"
)

func TestSendReceiveRoundTrip(t *testing.T) {
	server := New("127.0.0.1:0", 0)
	if err := server.Listen(true); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer server.Listen(false)

	received := make(chan Datagram, 1)
	server.OnReceived.Add(func(d Datagram) { received <- d })

	serverAddr := server.conn.LocalAddr()

	client := New("127.0.0.1:0", 0)
	if err := client.Listen(true); err != nil {
		t.Fatalf("client Listen: %v", err)
	}
	defer client.Listen(false)

	if _, err := client.Send([]byte("ping"), serverAddr); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case d := <-received:
		if string(d.Data) != "ping" {
			t.Fatalf("got %q, want %q", d.Data, "ping")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for datagram")
	}
}

func TestListenIsIdempotent(t *testing.T) {
	h := New("127.0.0.1:0", 0)

	if err := h.Listen(true); err != nil {
		t.Fatalf("first enable: %v", err)
	}
	conn := h.conn

	if err := h.Listen(true); err != nil {
		t.Fatalf("second enable (no-op): %v", err)
	}
	if h.conn != conn {
		t.Fatal("enabling while already listening should not reopen the socket")
	}

	if !h.IsListening() {
		t.Fatal("expected IsListening to be true")
	}

	if err := h.Listen(false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if h.IsListening() {
		t.Fatal("expected IsListening to be false after disable")
	}

	if err := h.Listen(false); err != nil {
		t.Fatalf("second disable (no-op): %v", err)
	}
}

func TestListenReopensAfterDispose(t *testing.T) {
	h := New("127.0.0.1:0", 0)

	if err := h.Listen(true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	addr := h.conn.LocalAddr().(*net.UDPAddr)
	h.LocalAddr = addr.String()

	if err := h.Listen(false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if err := h.Listen(true); err != nil {
		t.Fatalf("re-enable: %v", err)
	}
	defer h.Listen(false)

	if !h.IsListening() {
		t.Fatal("expected IsListening to be true after reopen")
	}
}
