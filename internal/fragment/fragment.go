// Package fragment implements the client role: it splits a message into
// bounded fragments and drives the send / acknowledge / resend loop for
// each of them over a transport.Conn.
package fragment

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/1ureka/rmsg/internal/config"
	"github.com/1ureka/rmsg/internal/protocol"
	"github.com/1ureka/rmsg/internal/transport"
	"github.com/1ureka/rmsg/internal/util"
)

// Client sends messages to one server. It holds no per-message state;
// everything that changes during a transfer lives in the Session.
type Client struct {
	conn transport.Conn
	cfg  config.Protocol
	buf  []byte
}

// New creates a Client over conn.
func New(conn transport.Conn, cfg config.Protocol) *Client {
	return &Client{
		conn: conn,
		cfg:  cfg,
		buf:  make([]byte, protocol.HeaderSize+protocol.PayloadCapacity),
	}
}

// Fragments splits msg into consecutive slices of at most size bytes. The
// slices alias msg.
func Fragments(msg []byte, size int) [][]byte {
	frags := make([][]byte, 0, config.Fragments(len(msg), size))
	for start := 0; start < len(msg); start += size {
		end := min(start+size, len(msg))
		frags = append(frags, msg[start:end])
	}
	return frags
}

// Connect sends ConnectionInit to peer and waits for the Ack. There is no
// retry in this phase: a timeout or any other reply is fatal.
func (c *Client) Connect(ctx context.Context, peer net.Addr) (*Session, error) {
	s := newSession(peer)
	init := protocol.NewControl(protocol.KindConnectionInit, 1)
	if err := c.transmit(ctx, s, init); err != nil {
		return nil, err
	}

	reply, err := c.await(ctx, s, init.Seq)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if reply.Kind != protocol.KindAck {
		s.log.Warning("unexpected %s reply to INIT", reply.Kind)
		return nil, fmt.Errorf("connect: %s reply: %w", reply.Kind, protocol.ErrProtocolViolation)
	}

	s.last = nil
	s.log.Debug("connected")
	return s, nil
}

// Send transfers msg as a sequence of Data fragments followed by an
// EndOfStream, waiting for each to be acknowledged.
func (c *Client) Send(ctx context.Context, s *Session, msg []byte) error {
	if len(msg) == 0 {
		return protocol.ErrEmptyMessage
	}
	if len(msg) > c.cfg.MaxMessageLen {
		return fmt.Errorf("%w: %d bytes (max %d)", protocol.ErrMessageTooLarge, len(msg), c.cfg.MaxMessageLen)
	}

	frags := Fragments(msg, c.cfg.FragmentSize)
	for _, frag := range frags {
		if err := c.exchange(ctx, s, protocol.NewData(s.Seq, frag)); err != nil {
			return err
		}
		s.log.Debug("fragment %d/%d acknowledged (%d bytes)", s.Seq, len(frags), len(frag))
		s.next()
	}

	if err := c.exchange(ctx, s, protocol.NewControl(protocol.KindEndOfStream, protocol.SeqEndOfStream)); err != nil {
		return err
	}
	s.rewind()
	util.Stats.AddMessage()
	s.log.Debug("end of stream acknowledged (%d bytes in %d fragments)", len(msg), len(frags))
	return nil
}

// Disconnect sends the zero-length datagram that ends the server's loop.
func (c *Client) Disconnect(ctx context.Context, s *Session) error {
	if _, err := c.conn.SendTo(ctx, nil, s.Peer); err != nil {
		return fmt.Errorf("disconnect: %w: %w", protocol.ErrTransport, err)
	}
	return nil
}

// exchange sends pkt and resends it until it is acknowledged, the server
// rejects it, or the resend ceiling is reached.
func (c *Client) exchange(ctx context.Context, s *Session, pkt *protocol.Packet) error {
	if err := c.transmit(ctx, s, pkt); err != nil {
		return err
	}

	for {
		reply, err := c.await(ctx, s, pkt.Seq)
		var cause error
		switch {
		case errors.Is(err, protocol.ErrTimeout):
			cause = protocol.ErrTimeout
		case err != nil:
			return err
		case reply.Kind == protocol.KindAck:
			s.Resends = 0
			return nil
		case reply.Kind == protocol.KindResendRequest:
			cause = protocol.ErrIntegrity
		case reply.Kind == protocol.KindIntegrityError:
			return fmt.Errorf("%s seq %d: %w", pkt.Kind, pkt.Seq, protocol.ErrRejected)
		default:
			s.log.Warning("unexpected %s reply to %s seq %d", reply.Kind, pkt.Kind, pkt.Seq)
			return fmt.Errorf("%s reply to %s seq %d: %w", reply.Kind, pkt.Kind, pkt.Seq, protocol.ErrProtocolViolation)
		}

		if s.Resends >= c.cfg.MaxResends {
			return fmt.Errorf("%s seq %d after %d resends: %w (%w)", pkt.Kind, pkt.Seq, s.Resends, protocol.ErrRetriesExhausted, cause)
		}
		s.Resends++
		util.Stats.AddResend()
		s.log.Debug("resending %s seq %d (%d/%d): %v", pkt.Kind, pkt.Seq, s.Resends, c.cfg.MaxResends, cause)
		if err := c.send(ctx, s, s.last); err != nil {
			return err
		}
	}
}

// transmit encodes pkt, records it as the in-flight packet and sends it.
func (c *Client) transmit(ctx context.Context, s *Session, pkt *protocol.Packet) error {
	s.last = protocol.Encode(pkt)
	s.Resends = 0
	return c.send(ctx, s, s.last)
}

func (c *Client) send(ctx context.Context, s *Session, b []byte) error {
	if _, err := c.conn.SendTo(ctx, b, s.Peer); err != nil {
		return fmt.Errorf("send: %w: %w", protocol.ErrTransport, err)
	}
	return nil
}

// await blocks for the reply to the in-flight packet with sequence seq.
// Replies echoing another sequence are stale and skipped; they do not
// extend the timeout.
func (c *Client) await(ctx context.Context, s *Session, seq int16) (*protocol.Packet, error) {
	rctx, cancel := context.WithTimeout(ctx, c.cfg.ReceiveTimeout.Duration)
	defer cancel()

	for {
		n, _, err := c.conn.ReceiveFrom(rctx, c.buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("seq %d: %w", seq, protocol.ErrTimeout)
			}
			return nil, fmt.Errorf("receive: %w: %w", protocol.ErrTransport, err)
		}

		reply, err := protocol.Decode(c.buf[:n])
		if err != nil {
			return nil, fmt.Errorf("receive: %w", err)
		}
		if reply.Seq != seq {
			s.log.Debug("stale %s for seq %d while waiting on %d: %v",
				reply.Kind, reply.Seq, seq, protocol.ErrSequenceAnomaly)
			continue
		}
		return reply, nil
	}
}
