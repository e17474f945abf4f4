// Package protocol defines the packet format, checksum and error taxonomy
// shared by the client (fragmenter) and server (reassembler) roles.
package protocol

import (
	"fmt"
	"math"
)

// Kind discriminates the purpose of a packet.
type Kind uint8

// Packet kind codes as they appear on the wire.
const (
	KindAck            Kind = 0
	KindResendRequest  Kind = 1
	KindKeepalive      Kind = 2 // reserved, never sent
	KindIntegrityError Kind = 3
	KindConnectionInit Kind = 4
	KindData           Kind = 10
	KindEndOfStream    Kind = 16
)

// Header layout: Checksum(4) + Seq(2) + Kind(1).
const (
	offsetChecksum = 0
	offsetSeq      = offsetChecksum + 4
	offsetKind     = offsetSeq + 2
	HeaderSize     = offsetKind + 1
)

// PayloadCapacity is the largest payload a single datagram may carry
// (Ethernet II 1500 bytes minus IP/UDP/protocol overhead).
const PayloadCapacity = 1451

// SeqEndOfStream is the sentinel sequence carried by EndOfStream packets.
const SeqEndOfStream int16 = math.MaxInt16

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindAck:
		return "ACK"
	case KindResendRequest:
		return "RESEND"
	case KindKeepalive:
		return "KEEPALIVE"
	case KindIntegrityError:
		return "INTEGRITY_ERROR"
	case KindConnectionInit:
		return "INIT"
	case KindData:
		return "DATA"
	case KindEndOfStream:
		return "EOS"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
	}
}

// IsControl reports whether k is a payload-less control kind.
func (k Kind) IsControl() bool {
	return k != KindData
}

// Packet is the unit of exchange between client and server.
type Packet struct {
	Checksum uint32 // CRC-32 of Payload, zero for control packets
	Seq      int16  // fragment index, SeqEndOfStream, or the echoed sequence of a reply
	Kind     Kind
	Payload  []byte // only used for KindData
}

// NewData builds a sealed Data packet.
func NewData(seq int16, payload []byte) *Packet {
	pkt := &Packet{Seq: seq, Kind: KindData, Payload: payload}
	pkt.Seal()
	return pkt
}

// NewControl builds a header-only packet of the given kind.
func NewControl(kind Kind, seq int16) *Packet {
	return &Packet{Seq: seq, Kind: kind}
}

// Seal recomputes the checksum over the current payload.
func (p *Packet) Seal() {
	p.Checksum = PayloadChecksum(p.Payload)
}

// Verify reports whether the declared checksum matches the payload.
func (p *Packet) Verify() bool {
	return p.Checksum == PayloadChecksum(p.Payload)
}

func (p *Packet) String() string {
	if p.Kind == KindData {
		return fmt.Sprintf("Packet{%s seq:%d len:%d crc:%08x}", p.Kind, p.Seq, len(p.Payload), p.Checksum)
	}
	return fmt.Sprintf("Packet{%s seq:%d}", p.Kind, p.Seq)
}
