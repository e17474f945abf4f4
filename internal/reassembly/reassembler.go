// Package reassembly implements the server role: it validates incoming
// fragments, surfaces accepted payload bytes in order and answers every
// packet with the matching control reply.
package reassembly

import (
	"github.com/1ureka/rmsg/internal/protocol"
	"github.com/1ureka/rmsg/internal/util"
)

// Verdict classifies how a packet was handled.
type Verdict int

const (
	Ignored    Verdict = iota // no reply, nothing surfaced
	Accepted                  // Data surfaced and acknowledged
	Duplicate                 // Data already surfaced, acknowledged again
	Corrupted                 // checksum mismatch, resend requested
	OutOfOrder                // sequence gap, rejected with IntegrityError
	Connected                 // ConnectionInit acknowledged
	Completed                 // EndOfStream acknowledged
)

// Result is the outcome of feeding one packet to the Reassembler.
type Result struct {
	Verdict Verdict
	Reply   *protocol.Packet // nil when the packet gets no reply
	Deliver []byte           // payload to surface, nil when none
	Total   int              // bytes surfaced for the message, set on Completed
}

// Reassembler tracks the expected sequence of one incoming message. It is
// used by a single goroutine and needs no locking.
type Reassembler struct {
	expected int16
	received int  // bytes surfaced for the current message
	pending  bool // last Data fragment was answered with ResendRequest
	finished bool // EndOfStream seen and nothing accepted since
}

// New creates a reassembler expecting sequence 1.
func New() *Reassembler {
	return &Reassembler{expected: 1}
}

// Expected returns the sequence number of the next fragment to accept.
func (r *Reassembler) Expected() int16 {
	return r.expected
}

func (r *Reassembler) reset() {
	r.expected = 1
	r.received = 0
	r.pending = false
	r.finished = false
}

// Handle processes one decoded packet.
func (r *Reassembler) Handle(pkt *protocol.Packet) Result {
	switch pkt.Kind {
	case protocol.KindConnectionInit:
		r.reset()
		return Result{Verdict: Connected, Reply: protocol.NewControl(protocol.KindAck, pkt.Seq)}

	case protocol.KindData:
		return r.handleData(pkt)

	case protocol.KindEndOfStream:
		reply := protocol.NewControl(protocol.KindAck, pkt.Seq)
		if r.finished {
			// The Ack for the previous EndOfStream was lost.
			return Result{Verdict: Duplicate, Reply: reply}
		}
		if r.pending {
			util.LogWarning("end of stream while fragment %d was still unacknowledged", r.expected)
		}
		total := r.received
		r.reset()
		r.finished = true
		return Result{Verdict: Completed, Reply: reply, Total: total}

	default:
		// Keepalive is reserved; stray replies and unknown kinds are noise.
		util.LogDebug("ignoring %s", pkt)
		return Result{Verdict: Ignored}
	}
}

func (r *Reassembler) handleData(pkt *protocol.Packet) Result {
	if pkt.Seq <= 0 || len(pkt.Payload) == 0 {
		util.LogDebug("ignoring %s", pkt)
		return Result{Verdict: Ignored}
	}

	if !pkt.Verify() {
		util.Stats.AddIntegrityFailure()
		util.LogDebug("checksum mismatch on fragment %d (declared %08x, computed %08x): %v",
			pkt.Seq, pkt.Checksum, protocol.PayloadChecksum(pkt.Payload), protocol.ErrIntegrity)
		r.pending = true
		return Result{Verdict: Corrupted, Reply: protocol.NewControl(protocol.KindResendRequest, pkt.Seq)}
	}

	switch {
	case pkt.Seq < r.expected:
		// The Ack for this fragment was lost and the client resent it.
		util.LogDebug("duplicate fragment %d (expected %d): %v", pkt.Seq, r.expected, protocol.ErrSequenceAnomaly)
		return Result{Verdict: Duplicate, Reply: protocol.NewControl(protocol.KindAck, pkt.Seq)}

	case pkt.Seq > r.expected:
		util.LogWarning("fragment %d arrived while expecting %d: %v", pkt.Seq, r.expected, protocol.ErrSequenceAnomaly)
		return Result{Verdict: OutOfOrder, Reply: protocol.NewControl(protocol.KindIntegrityError, pkt.Seq)}
	}

	r.expected++
	r.received += len(pkt.Payload)
	r.pending = false
	r.finished = false
	return Result{Verdict: Accepted, Reply: protocol.NewControl(protocol.KindAck, pkt.Seq), Deliver: pkt.Payload}
}
