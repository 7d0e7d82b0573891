package singleinstance

import (
	"net"
	"testing"

	"netkit/internal/framing"
	"netkit/internal/keyedmutex"
)

func TestEncodeDecodeUTF16LERoundTrip(t *testing.T) {
	cases := []string{"", "hello", "héllo wörld", "日本語", "C:\\Users\\test\\file.txt"}
	for _, s := range cases {
		got := decodeUTF16LE(encodeUTF16LE(s))
		if got != s {
			t.Fatalf("round trip mismatch: got %q want %q", got, s)
		}
	}
}

func TestEncodeUTF16LEIsTwoBytesPerUnit(t *testing.T) {
	// "AB" encodes to two UTF-16 code units, 4 bytes total, little-endian.
	got := encodeUTF16LE("AB")
	want := []byte{'A', 0x00, 'B', 0x00}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %#x want %#x", i, got[i], want[i])
		}
	}
}

func TestHandleMessageFiresOnlyAfterExpectedArgCount(t *testing.T) {
	server, _ := net.Pipe()
	defer server.Close()

	ci := framing.New(server, 4096, true, keyedmutex.New(), server)

	c := &Coordinator{infos: make(map[*framing.ConnectionInfo]*InstanceInfo)}
	c.infos[ci] = &InstanceInfo{ExpectedArgCount: -1}

	var countBuf [4]byte
	countBuf[0] = 2
	c.handleMessage(ci, countBuf[:])

	info := c.infos[ci]
	if info.ExpectedArgCount != 2 {
		t.Fatalf("ExpectedArgCount = %d, want 2", info.ExpectedArgCount)
	}

	var fired [][]string
	c.OnArgumentsReceived.Add(func(args []string) { fired = append(fired, args) })

	c.handleMessage(ci, encodeUTF16LE("first"))
	if len(fired) != 0 {
		t.Fatalf("fired before all args received: %v", fired)
	}

	c.handleMessage(ci, encodeUTF16LE("second"))
	if len(fired) != 1 {
		t.Fatalf("expected exactly one fire, got %d", len(fired))
	}
	if got := fired[0]; len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("unexpected args: %v", got)
	}
}

func TestHandleMessageZeroArgCountFiresImmediately(t *testing.T) {
	server, _ := net.Pipe()
	defer server.Close()

	ci := framing.New(server, 4096, true, keyedmutex.New(), server)

	c := &Coordinator{infos: make(map[*framing.ConnectionInfo]*InstanceInfo)}
	c.infos[ci] = &InstanceInfo{ExpectedArgCount: -1}

	var fired bool
	c.OnArgumentsReceived.Add(func(args []string) { fired = true })

	var countBuf [4]byte
	c.handleMessage(ci, countBuf[:])

	if !fired {
		t.Fatal("expected OnArgumentsReceived to fire for a zero-argument message")
	}
}
