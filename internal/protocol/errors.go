package protocol

import (
	"errors"
	"fmt"
)

// Error classes. Callers wrap them with fmt.Errorf("...: %w") and match
// with errors.Is.
var (
	// ErrTransport is a fatal send/receive/bind failure.
	ErrTransport = errors.New("transport error")
	// ErrIntegrity is a checksum mismatch; recoverable by resending.
	ErrIntegrity = errors.New("integrity error")
	// ErrProtocolViolation is a reply of a kind the current state does not accept.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrSequenceAnomaly is a duplicate, stale or out-of-order sequence number.
	ErrSequenceAnomaly = errors.New("sequence anomaly")

	// ErrTruncated is a datagram shorter than the header. It is a transport
	// failure, not a protocol one.
	ErrTruncated = fmt.Errorf("%w: truncated datagram", ErrTransport)

	ErrPayloadTooLarge  = errors.New("payload exceeds capacity")
	ErrTimeout          = errors.New("no reply before timeout")
	ErrRetriesExhausted = errors.New("resend limit reached")
	ErrRejected         = errors.New("rejected by peer")
	ErrEmptyMessage     = errors.New("empty message")
	ErrMessageTooLarge  = errors.New("message too large")
)
