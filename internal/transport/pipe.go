package transport

import (
	"context"
	"net"
	"sync"
)

// Fault inspects a datagram in flight and returns the datagram to deliver
// (possibly modified) and whether to deliver it at all.
type Fault func(b []byte) ([]byte, bool)

// PipeOption configures Pipe.
type PipeOption func(*PipeConn, *PipeConn)

// WithFault installs f on datagrams sent by the first end (client → server).
func WithFault(f Fault) PipeOption {
	return func(a, _ *PipeConn) { a.fault = f }
}

// WithReplyFault installs f on datagrams sent by the second end (server → client).
func WithReplyFault(f Fault) PipeOption {
	return func(_, b *PipeConn) { b.fault = f }
}

type datagram struct {
	data []byte
	from net.Addr
}

// PipeConn is one end of an in-memory datagram link created by Pipe.
type PipeConn struct {
	addr  net.Addr
	peer  *PipeConn
	inbox chan datagram
	fault Fault

	done      chan struct{} // shared by both ends
	closeOnce *sync.Once
}

// Pipe creates a linked pair of in-memory Conns. Datagrams are delivered in
// order unless a fault drops them. Closing either end closes both.
func Pipe(opts ...PipeOption) (client, server *PipeConn) {
	done := make(chan struct{})
	once := &sync.Once{}
	client = &PipeConn{
		addr:      peerAddr{network: "pipe", name: "pipe:client"},
		inbox:     make(chan datagram, inboxBufferSize),
		done:      done,
		closeOnce: once,
	}
	server = &PipeConn{
		addr:      peerAddr{network: "pipe", name: "pipe:server"},
		inbox:     make(chan datagram, inboxBufferSize),
		done:      done,
		closeOnce: once,
	}
	client.peer = server
	server.peer = client
	for _, opt := range opts {
		opt(client, server)
	}
	return client, server
}

// SendTo delivers a copy of b to the other end. addr is ignored.
func (p *PipeConn) SendTo(ctx context.Context, b []byte, _ net.Addr) (int, error) {
	select {
	case <-p.done:
		return 0, ErrClosed
	default:
	}

	data := append([]byte{}, b...)
	if p.fault != nil {
		var keep bool
		if data, keep = p.fault(data); !keep {
			return len(b), nil
		}
	}

	select {
	case p.peer.inbox <- datagram{data: data, from: p.addr}:
		return len(b), nil
	case <-p.done:
		return 0, ErrClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// ReceiveFrom returns the next datagram sent by the other end.
func (p *PipeConn) ReceiveFrom(ctx context.Context, buf []byte) (int, net.Addr, error) {
	select {
	case d := <-p.inbox:
		return copy(buf, d.data), d.from, nil
	case <-p.done:
		return 0, nil, ErrClosed
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (p *PipeConn) LocalAddr() net.Addr { return p.addr }

// Close closes both ends.
func (p *PipeConn) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}
