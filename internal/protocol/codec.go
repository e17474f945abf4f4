package protocol

import (
	"encoding/binary"
	"fmt"
)

// Encode serializes a Packet into its on-wire form. Control packets are
// always header-only; Data packets carry exactly len(Payload) extra bytes.
func Encode(pkt *Packet) []byte {
	size := HeaderSize
	if !pkt.Kind.IsControl() {
		size += len(pkt.Payload)
	}
	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf[offsetChecksum:], pkt.Checksum)
	binary.BigEndian.PutUint16(buf[offsetSeq:], uint16(pkt.Seq))
	buf[offsetKind] = byte(pkt.Kind)
	if size > HeaderSize {
		copy(buf[HeaderSize:], pkt.Payload)
	}
	return buf
}

// Decode deserializes a received datagram. The payload is a copy of every
// byte following the header, so the caller may reuse its receive buffer.
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes (need at least %d)", ErrTruncated, len(data), HeaderSize)
	}
	if len(data)-HeaderSize > PayloadCapacity {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(data)-HeaderSize)
	}
	pkt := &Packet{
		Checksum: binary.BigEndian.Uint32(data[offsetChecksum:]),
		Seq:      int16(binary.BigEndian.Uint16(data[offsetSeq:])),
		Kind:     Kind(data[offsetKind]),
	}
	if len(data) > HeaderSize {
		pkt.Payload = make([]byte, len(data)-HeaderSize)
		copy(pkt.Payload, data[HeaderSize:])
	}
	return pkt, nil
}
