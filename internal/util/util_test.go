package util

import (
	"bytes"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"
)

func TestFormatBytesFixedWidth(t *testing.T) {
	for _, b := range []float64{0, 99, 100, 1536, 5 * 1024 * 1024, 98.9 * 1024 * 1024 * 1024} {
		if got := formatBytes(b); len(got) != 8 {
			t.Errorf("formatBytes(%v) = %q, want 8 chars", b, got)
		}
	}
}

func TestFormatStats(t *testing.T) {
	got := formatStats(snapshot{sent: 3, recv: 4, bytesRecv: 2048, resends: 1, integrity: 2, messages: 1}, time.Second)
	for _, want := range []string{"Pkts: 3↑ 4↓", "Resends: 1", "CRC fails: 2", "Msgs: 1", " 2.0 KiB/s"} {
		if !strings.Contains(got, want) {
			t.Errorf("formatStats = %q, missing %q", got, want)
		}
	}
}

func TestSnapshotDelta(t *testing.T) {
	prev := snapshot{sent: 1, bytesSent: 10}
	cur := snapshot{sent: 4, bytesSent: 50}
	if d := cur.delta(prev); d.sent != 3 || d.bytesSent != 40 {
		t.Fatalf("delta = %+v", d)
	}
}

func TestPeerID(t *testing.T) {
	a := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8080}
	b := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8081}
	if PeerID(a) != PeerID(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8080}) {
		t.Error("PeerID not stable for equal addresses")
	}
	if PeerID(a) == PeerID(b) {
		t.Error("PeerID collides for different ports")
	}
	if PeerID(nil) != 0 {
		t.Error("PeerID(nil) != 0")
	}
}

func TestForPeerTagsLines(t *testing.T) {
	var buf bytes.Buffer
	SetLogOutput(&buf)
	defer SetLogOutput(nil)

	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8080}
	ForPeer(addr).Info("client connected")
	LogInfo("untagged")

	out := buf.String()
	if !strings.Contains(out, "client connected") || !strings.Contains(out, fmt.Sprintf("%08x", PeerID(addr))) {
		t.Errorf("tagged line missing message or peer id: %q", out)
	}
	if lines := strings.Count(strings.TrimSpace(out), "\n") + 1; lines != 2 {
		t.Errorf("got %d lines, want 2: %q", lines, out)
	}
}
