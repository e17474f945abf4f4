package transport

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/1ureka/rmsg/internal/util"
)

// UDP is a Conn over a single unconnected UDP socket.
type UDP struct {
	conn   *net.UDPConn
	remote *net.UDPAddr // non-nil for dialled sockets
	closed atomic.Bool
}

// ListenUDP binds a UDP socket to addr (e.g. ":8080").
func ListenUDP(addr string) (*UDP, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &UDP{conn: conn}, nil
}

// DialUDP opens an ephemeral UDP socket whose default peer is addr. The
// socket stays unconnected so replies are read with their source address.
func DialUDP(addr string) (*UDP, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &UDP{conn: conn, remote: raddr}, nil
}

// Peer returns the default peer of a dialled socket, nil otherwise.
func (u *UDP) Peer() net.Addr {
	if u.remote == nil {
		return nil
	}
	return u.remote
}

// SendTo writes b to addr, or to the dialled peer when addr is nil.
func (u *UDP) SendTo(ctx context.Context, b []byte, addr net.Addr) (int, error) {
	if u.closed.Load() {
		return 0, ErrClosed
	}
	if addr == nil {
		if u.remote == nil {
			return 0, fmt.Errorf("udp: no destination address")
		}
		addr = u.remote
	}
	// A context without a deadline clears the one left by an earlier call.
	deadline, _ := ctx.Deadline()
	if err := u.conn.SetWriteDeadline(deadline); err != nil {
		return 0, err
	}

	n, err := u.conn.WriteTo(b, addr)
	if err != nil {
		return n, ioError(ctx, err)
	}
	util.Stats.AddSent(n)
	return n, nil
}

// ReceiveFrom reads one datagram.
func (u *UDP) ReceiveFrom(ctx context.Context, buf []byte) (int, net.Addr, error) {
	if u.closed.Load() {
		return 0, nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	stop := watchContext(ctx, u.conn)
	n, addr, err := u.conn.ReadFromUDP(buf)
	stop()
	if err != nil {
		if u.closed.Load() {
			return 0, nil, ErrClosed
		}
		return 0, nil, ioError(ctx, err)
	}
	util.Stats.AddRecv(n)
	return n, addr, nil
}

func (u *UDP) LocalAddr() net.Addr { return u.conn.LocalAddr() }

// Close releases the socket. A blocked ReceiveFrom returns ErrClosed.
func (u *UDP) Close() error {
	if u.closed.Swap(true) {
		return nil
	}
	return u.conn.Close()
}
