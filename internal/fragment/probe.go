package fragment

import (
	"context"
	"errors"
	"fmt"

	"github.com/1ureka/rmsg/internal/protocol"
)

// ProbeAttempts bounds how many times Probe sends its corrupted packet.
const ProbeAttempts = 5

// ProbeResult reports how the server handled a corrupted fragment.
type ProbeResult struct {
	Rejected  bool          // the server never acknowledged the packet
	Attempts  int           // datagrams sent
	LastReply protocol.Kind // kind of the last reply, valid when Replied
	Replied   bool
}

// Probe is a fault-injection entry point for exercising the server's
// integrity path. It sends payload as a Data packet whose checksum is
// deliberately wrong and keeps resending it while the replies are not Ack.
// An IntegrityError reply, ProbeAttempts non-Ack replies, or silence all
// count as a rejection. The session sequence is left untouched.
func Probe(ctx context.Context, c *Client, s *Session, payload []byte) (ProbeResult, error) {
	if len(payload) == 0 {
		return ProbeResult{}, protocol.ErrEmptyMessage
	}

	pkt := protocol.NewData(s.Seq, payload)
	pkt.Checksum++

	var res ProbeResult
	if err := c.transmit(ctx, s, pkt); err != nil {
		return res, err
	}
	res.Attempts = 1

	for {
		reply, err := c.await(ctx, s, pkt.Seq)
		switch {
		case errors.Is(err, protocol.ErrTimeout):
		case err != nil:
			return res, err
		default:
			res.Replied = true
			res.LastReply = reply.Kind
		}

		if res.Replied && res.LastReply == protocol.KindAck {
			s.log.Warning("server acknowledged a corrupted fragment")
			return res, nil
		}
		if res.Replied && res.LastReply == protocol.KindIntegrityError {
			break
		}
		if res.Attempts >= ProbeAttempts {
			break
		}

		if err := c.send(ctx, s, s.last); err != nil {
			return res, fmt.Errorf("probe: %w", err)
		}
		res.Attempts++
	}

	res.Rejected = true
	s.Resends = 0
	s.last = nil
	return res, nil
}
