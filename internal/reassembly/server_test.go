package reassembly_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/1ureka/rmsg/internal/config"
	"github.com/1ureka/rmsg/internal/fragment"
	"github.com/1ureka/rmsg/internal/protocol"
	"github.com/1ureka/rmsg/internal/reassembly"
	"github.com/1ureka/rmsg/internal/transport"
	"github.com/1ureka/rmsg/internal/util"
)

func testProtocol() config.Protocol {
	p := config.DefaultProtocol()
	p.ReceiveTimeout = config.Duration{Duration: 100 * time.Millisecond}
	return p
}

// serve runs a Server on conn and returns a channel that yields its error
// once Serve returns. out must not be read before that.
func serve(t *testing.T, conn transport.Conn, cfg config.Protocol, out io.Writer) (<-chan error, *atomic.Int32) {
	t.Helper()
	var messages atomic.Int32
	srv := reassembly.NewServer(conn, cfg)
	srv.OnMessage = func(net.Addr, int) { messages.Add(1) }

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(context.Background(), out) }()
	return errCh, &messages
}

func wait(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

// exchange sends pkt from the raw client end and returns the decoded reply.
func exchange(t *testing.T, conn *transport.PipeConn, pkt *protocol.Packet) *protocol.Packet {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := conn.SendTo(ctx, protocol.Encode(pkt), nil); err != nil {
		t.Fatalf("send %s: %v", pkt, err)
	}
	buf := make([]byte, protocol.HeaderSize+protocol.PayloadCapacity)
	n, _, err := conn.ReceiveFrom(ctx, buf)
	if err != nil {
		t.Fatalf("reply to %s: %v", pkt, err)
	}
	reply, err := protocol.Decode(buf[:n])
	if err != nil {
		t.Fatalf("decode reply to %s: %v", pkt, err)
	}
	return reply
}

func TestServeHello(t *testing.T) {
	client, server := transport.Pipe()
	defer client.Close()

	var out bytes.Buffer
	errCh, messages := serve(t, server, testProtocol(), &out)

	steps := []struct {
		pkt   *protocol.Packet
		reply protocol.Kind
	}{
		{protocol.NewControl(protocol.KindConnectionInit, 1), protocol.KindAck},
		{protocol.NewData(1, []byte("hello")), protocol.KindAck},
		{protocol.NewControl(protocol.KindEndOfStream, protocol.SeqEndOfStream), protocol.KindAck},
	}
	for _, step := range steps {
		reply := exchange(t, client, step.pkt)
		if reply.Kind != step.reply || reply.Seq != step.pkt.Seq {
			t.Fatalf("reply to %s = %s, want %s seq %d", step.pkt, reply, step.reply, step.pkt.Seq)
		}
	}

	if _, err := client.SendTo(context.Background(), nil, nil); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := wait(t, errCh); err != nil {
		t.Fatalf("Serve returned %v", err)
	}
	if out.String() != "hello" {
		t.Errorf("output = %q, want %q", out.String(), "hello")
	}
	if messages.Load() != 1 {
		t.Errorf("OnMessage called %d times, want 1", messages.Load())
	}
}

func TestServeRejectsCorruptedFragment(t *testing.T) {
	client, server := transport.Pipe()
	defer client.Close()

	var out bytes.Buffer
	errCh, _ := serve(t, server, testProtocol(), &out)

	exchange(t, client, protocol.NewControl(protocol.KindConnectionInit, 1))
	bad := protocol.NewData(1, []byte("test"))
	bad.Checksum++
	for i := 0; i < 3; i++ {
		reply := exchange(t, client, bad)
		if reply.Kind == protocol.KindAck {
			t.Fatalf("corrupted fragment acknowledged on attempt %d", i+1)
		}
	}

	client.Close()
	if err := wait(t, errCh); err != nil {
		t.Fatalf("Serve returned %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("corrupted payload surfaced: %q", out.String())
	}
}

func TestServeTruncatedDatagram(t *testing.T) {
	client, server := transport.Pipe()
	defer client.Close()

	errCh, _ := serve(t, server, testProtocol(), io.Discard)
	if _, err := client.SendTo(context.Background(), []byte{1, 2, 3}, nil); err != nil {
		t.Fatal(err)
	}
	err := wait(t, errCh)
	if !errors.Is(err, protocol.ErrTruncated) || !errors.Is(err, protocol.ErrTransport) {
		t.Errorf("Serve returned %v, want truncated transport error", err)
	}
}

func TestServeIdleTimeout(t *testing.T) {
	client, server := transport.Pipe()
	defer client.Close()

	cfg := testProtocol()
	cfg.IdleTimeout = config.Duration{Duration: 50 * time.Millisecond}
	errCh, _ := serve(t, server, cfg, io.Discard)

	if err := wait(t, errCh); !errors.Is(err, protocol.ErrTimeout) {
		t.Errorf("Serve returned %v, want ErrTimeout", err)
	}
}

func TestServeContextCanceled(t *testing.T) {
	client, server := transport.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- reassembly.NewServer(server, testProtocol()).Serve(ctx, io.Discard) }()
	cancel()

	if err := wait(t, errCh); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve returned %v, want context.Canceled", err)
	}
}

// roundTrip sends every message through a fragment.Client and returns what
// the server surfaced.
func roundTrip(t *testing.T, cfg config.Protocol, opts []transport.PipeOption, msgs ...[]byte) []byte {
	t.Helper()
	client, server := transport.Pipe(opts...)
	defer client.Close()

	var out bytes.Buffer
	errCh, messages := serve(t, server, cfg, &out)

	ctx := context.Background()
	c := fragment.New(client, cfg)
	s, err := c.Connect(ctx, server.LocalAddr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	for i, msg := range msgs {
		if err := c.Send(ctx, s, msg); err != nil {
			t.Fatalf("send message %d (%d bytes): %v", i, len(msg), err)
		}
		if s.Seq != 1 {
			t.Errorf("session seq after message %d = %d, want 1", i, s.Seq)
		}
	}
	if err := c.Disconnect(ctx, s); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := wait(t, errCh); err != nil {
		t.Fatalf("Serve returned %v", err)
	}
	if int(messages.Load()) != len(msgs) {
		t.Errorf("OnMessage called %d times, want %d", messages.Load(), len(msgs))
	}
	return out.Bytes()
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + i%26)
	}
	return b
}

func TestRoundTrip(t *testing.T) {
	util.SetLogOutput(io.Discard)
	defer util.SetLogOutput(nil)

	for _, n := range []int{1, 5, 510, 511, 512, 1022, 1023, 99999} {
		msg := pattern(n)
		got := roundTrip(t, testProtocol(), nil, msg)
		if !bytes.Equal(got, msg) {
			t.Errorf("%d bytes: output differs (got %d bytes)", n, len(got))
		}
	}
}

func TestRoundTripSeveralMessages(t *testing.T) {
	msgs := [][]byte{[]byte("first"), pattern(1500), []byte("third")}
	got := roundTrip(t, testProtocol(), nil, msgs...)
	want := bytes.Join(msgs, nil)
	if !bytes.Equal(got, want) {
		t.Errorf("output = %d bytes, want %d", len(got), len(want))
	}
}

func TestRoundTripWithCorruption(t *testing.T) {
	util.SetLogOutput(io.Discard)
	defer util.SetLogOutput(nil)

	var sent atomic.Int32
	flip := func(b []byte) ([]byte, bool) {
		if len(b) > protocol.HeaderSize && sent.Add(1)%3 == 0 {
			b[protocol.HeaderSize] ^= 0x01
		}
		return b, true
	}

	msg := pattern(4000)
	got := roundTrip(t, testProtocol(), []transport.PipeOption{transport.WithFault(flip)}, msg)
	if !bytes.Equal(got, msg) {
		t.Errorf("output differs (got %d bytes, want %d)", len(got), len(msg))
	}
}

func TestRoundTripWithLoss(t *testing.T) {
	util.SetLogOutput(io.Discard)
	defer util.SetLogOutput(nil)

	cfg := testProtocol()
	cfg.ReceiveTimeout = config.Duration{Duration: 30 * time.Millisecond}

	// Data and EndOfStream are dropped on the way out; Acks after the
	// connection handshake are dropped on the way back.
	var out, back atomic.Int32
	dropData := func(b []byte) ([]byte, bool) {
		if len(b) < protocol.HeaderSize || protocol.Kind(b[protocol.HeaderSize-1]) == protocol.KindConnectionInit {
			return b, true
		}
		return b, out.Add(1)%4 != 0
	}
	dropAcks := func(b []byte) ([]byte, bool) {
		return b, back.Add(1)%5 != 0
	}

	msg := pattern(3000)
	got := roundTrip(t, cfg, []transport.PipeOption{
		transport.WithFault(dropData),
		transport.WithReplyFault(dropAcks),
	}, msg)
	if !bytes.Equal(got, msg) {
		t.Errorf("output differs (got %d bytes, want %d)", len(got), len(msg))
	}
}

func TestProbeIsRejected(t *testing.T) {
	util.SetLogOutput(io.Discard)
	defer util.SetLogOutput(nil)

	client, server := transport.Pipe()
	defer client.Close()

	var out bytes.Buffer
	errCh, _ := serve(t, server, testProtocol(), &out)

	ctx := context.Background()
	c := fragment.New(client, testProtocol())
	s, err := c.Connect(ctx, server.LocalAddr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	res, err := fragment.Probe(ctx, c, s, []byte("test"))
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !res.Rejected {
		t.Errorf("probe accepted: %+v", res)
	}
	if res.Attempts != fragment.ProbeAttempts || res.LastReply != protocol.KindResendRequest {
		t.Errorf("probe result = %+v", res)
	}

	// A clean message afterwards still goes through.
	if err := c.Send(ctx, s, []byte("ok")); err != nil {
		t.Fatalf("send after probe: %v", err)
	}
	if err := c.Disconnect(ctx, s); err != nil {
		t.Fatal(err)
	}
	if err := wait(t, errCh); err != nil {
		t.Fatalf("Serve returned %v", err)
	}
	if out.String() != "ok" {
		t.Errorf("output = %q, want %q", out.String(), "ok")
	}
}
