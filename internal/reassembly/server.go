package reassembly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/1ureka/rmsg/internal/config"
	"github.com/1ureka/rmsg/internal/protocol"
	"github.com/1ureka/rmsg/internal/transport"
	"github.com/1ureka/rmsg/internal/util"
)

// Server runs the blocking receive loop of the server role.
type Server struct {
	conn transport.Conn
	cfg  config.Protocol

	// OnMessage, when set, is called after each EndOfStream is acknowledged.
	OnMessage func(peer net.Addr, total int)
}

// NewServer creates a Server over conn. The caller keeps ownership of conn
// and closes it after Serve returns.
func NewServer(conn transport.Conn, cfg config.Protocol) *Server {
	return &Server{conn: conn, cfg: cfg}
}

// Serve handles one packet at a time until the client disconnects with a
// zero-length datagram or the transport is closed (both return nil).
// Accepted payload bytes are written to w as soon as they are validated.
// Transport failures, truncated datagrams and write errors on w end the
// loop with an error.
func (s *Server) Serve(ctx context.Context, w io.Writer) error {
	r := New()
	// One spare byte so oversized datagrams are detected rather than cut.
	buf := make([]byte, protocol.HeaderSize+protocol.PayloadCapacity+1)

	var current net.Addr
	for {
		n, peer, err := s.receive(ctx, buf)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				util.LogInfo("transport closed, server stopped listening")
				return nil
			}
			return err
		}

		log := util.ForPeer(peer)
		if n == 0 {
			log.Info("client disconnected")
			return nil
		}

		pkt, err := protocol.Decode(buf[:n])
		if err != nil {
			if errors.Is(err, protocol.ErrPayloadTooLarge) {
				log.Warning("dropping datagram: %v", err)
				continue
			}
			return fmt.Errorf("peer %08x: %w", util.PeerID(peer), err)
		}

		res := r.Handle(pkt)
		if res.Verdict == Connected && (current == nil || current.String() != peer.String()) {
			log.Info("client connected from %s", peer)
			current = peer
		}

		if res.Deliver != nil {
			if _, err := w.Write(res.Deliver); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
		}

		if res.Reply != nil {
			if _, err := s.conn.SendTo(ctx, protocol.Encode(res.Reply), peer); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("peer %08x: reply %s: %w: %w", util.PeerID(peer), res.Reply.Kind, protocol.ErrTransport, err)
			}
			log.Debug("%s -> %s", pkt, res.Reply.Kind)
		}

		if res.Verdict == Completed {
			util.Stats.AddMessage()
			log.Debug("message complete (%d bytes)", res.Total)
			if s.OnMessage != nil {
				s.OnMessage(peer, res.Total)
			}
		}
	}
}

// receive reads one datagram, bounded by the idle timeout when configured.
func (s *Server) receive(ctx context.Context, buf []byte) (int, net.Addr, error) {
	rctx := ctx
	if idle := s.cfg.IdleTimeout.Duration; idle > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, idle)
		defer cancel()
	}

	n, peer, err := s.conn.ReceiveFrom(rctx, buf)
	if err == nil {
		return n, peer, nil
	}
	switch {
	case ctx.Err() != nil:
		return 0, nil, ctx.Err()
	case errors.Is(err, transport.ErrClosed):
		return 0, nil, err
	case errors.Is(err, context.DeadlineExceeded):
		return 0, nil, fmt.Errorf("idle for %s: %w", s.cfg.IdleTimeout.Duration, protocol.ErrTimeout)
	default:
		return 0, nil, fmt.Errorf("receive: %w: %w", protocol.ErrTransport, err)
	}
}
