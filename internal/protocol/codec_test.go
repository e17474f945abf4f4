package protocol_test

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/1ureka/rmsg/internal/protocol"
)

// TestEncodeDecodeRoundTrip verifies that encoding and decoding are inverse
// operations for every packet kind.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		pkt  *protocol.Packet
	}{
		{"Ack", protocol.NewControl(protocol.KindAck, 3)},
		{"ResendRequest", protocol.NewControl(protocol.KindResendRequest, 7)},
		{"IntegrityError", protocol.NewControl(protocol.KindIntegrityError, 9)},
		{"ConnectionInit", protocol.NewControl(protocol.KindConnectionInit, 1)},
		{"EndOfStream", protocol.NewControl(protocol.KindEndOfStream, protocol.SeqEndOfStream)},
		{"Data small", protocol.NewData(1, []byte("hello world"))},
		{"Data single byte", protocol.NewData(42, []byte{0x00})},
		{"Data full capacity", protocol.NewData(196, make([]byte, protocol.PayloadCapacity))},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			decoded, err := protocol.Decode(protocol.Encode(tc.pkt))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if decoded.Kind != tc.pkt.Kind {
				t.Errorf("Kind mismatch: got %s, want %s", decoded.Kind, tc.pkt.Kind)
			}
			if decoded.Seq != tc.pkt.Seq {
				t.Errorf("Seq mismatch: got %d, want %d", decoded.Seq, tc.pkt.Seq)
			}
			if decoded.Checksum != tc.pkt.Checksum {
				t.Errorf("Checksum mismatch: got %08x, want %08x", decoded.Checksum, tc.pkt.Checksum)
			}
			if !bytes.Equal(decoded.Payload, tc.pkt.Payload) {
				t.Errorf("Payload mismatch: got %d bytes, want %d", len(decoded.Payload), len(tc.pkt.Payload))
			}
			if !decoded.Verify() {
				t.Error("decoded packet failed checksum verification")
			}
		})
	}
}

// TestEncodeLayout pins the header byte layout (network byte order).
func TestEncodeLayout(t *testing.T) {
	pkt := &protocol.Packet{Checksum: 0x01020304, Seq: 0x0506, Kind: protocol.KindData, Payload: []byte("xy")}
	got := protocol.Encode(pkt)
	want := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 10, 'x', 'y'}
	if !bytes.Equal(got, want) {
		t.Fatalf("Encode = % x, want % x", got, want)
	}
}

// TestEncodeControlIsHeaderOnly verifies that control packets never carry a
// payload on the wire, even when one is set in memory.
func TestEncodeControlIsHeaderOnly(t *testing.T) {
	pkt := &protocol.Packet{Seq: 1, Kind: protocol.KindAck, Payload: []byte("ignored")}
	if n := len(protocol.Encode(pkt)); n != protocol.HeaderSize {
		t.Fatalf("encoded control size = %d, want %d", n, protocol.HeaderSize)
	}
}

// TestDecodeTooShort verifies that short datagrams are reported as
// transport-class truncation errors.
func TestDecodeTooShort(t *testing.T) {
	for _, size := range []int{0, 1, protocol.HeaderSize - 1} {
		t.Run(fmt.Sprintf("%d bytes", size), func(t *testing.T) {
			_, err := protocol.Decode(make([]byte, size))
			if !errors.Is(err, protocol.ErrTruncated) {
				t.Fatalf("expected ErrTruncated, got %v", err)
			}
			if !errors.Is(err, protocol.ErrTransport) {
				t.Fatalf("expected truncation to be a transport error, got %v", err)
			}
		})
	}
}

func TestDecodeTooLarge(t *testing.T) {
	_, err := protocol.Decode(make([]byte, protocol.HeaderSize+protocol.PayloadCapacity+1))
	if !errors.Is(err, protocol.ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

// TestDecodeNegativeSequence verifies that the sequence is decoded as a
// signed 16-bit value.
func TestDecodeNegativeSequence(t *testing.T) {
	pkt := protocol.NewData(-2, []byte("a"))
	decoded, err := protocol.Decode(protocol.Encode(pkt))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Seq != -2 {
		t.Fatalf("Seq = %d, want -2", decoded.Seq)
	}
}

// TestDecodePreservesPayload verifies that the payload is copied and not
// aliased to the receive buffer.
func TestDecodePreservesPayload(t *testing.T) {
	encoded := protocol.Encode(protocol.NewData(10, []byte("original")))
	decoded, err := protocol.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	encoded[protocol.HeaderSize] = 0xFF

	if !bytes.Equal(decoded.Payload, []byte("original")) {
		t.Errorf("Payload was incorrectly aliased: got %q", decoded.Payload)
	}
}

func TestKindString(t *testing.T) {
	if got := protocol.KindEndOfStream.String(); got != "EOS" {
		t.Errorf("KindEndOfStream.String() = %q", got)
	}
	if got := protocol.Kind(99).String(); got != "UNKNOWN(99)" {
		t.Errorf("Kind(99).String() = %q", got)
	}
	if protocol.KindData.IsControl() || !protocol.KindAck.IsControl() {
		t.Error("IsControl misclassifies Data/Ack")
	}
}
