// Package transport provides the datagram carriers the protocol runs on.
// Every carrier implements Conn: blocking, addressed send and receive of
// opaque byte buffers with no implicit retry. A zero-length datagram is a
// valid datagram and is delivered as such.
package transport

import (
	"context"
	"errors"
	"net"
	"os"
	"time"
)

// ErrClosed is returned by every carrier once it has been closed, locally
// or by the peer.
var ErrClosed = errors.New("transport closed")

// Conn is the send/receive primitive the protocol depends on.
type Conn interface {
	// SendTo transmits b as one datagram to addr. Connection-oriented
	// carriers ignore addr. The context bounds the call.
	SendTo(ctx context.Context, b []byte, addr net.Addr) (int, error)

	// ReceiveFrom blocks until one datagram arrives, copies it into buf and
	// returns its length and source. The context bounds the call.
	ReceiveFrom(ctx context.Context, buf []byte) (int, net.Addr, error)

	LocalAddr() net.Addr
	Close() error
}

// peerAddr is a net.Addr for carriers without a native address.
type peerAddr struct {
	network string
	name    string
}

func (a peerAddr) Network() string { return a.network }
func (a peerAddr) String() string  { return a.name }

// deadlineConn is the subset of net.Conn used by watchContext.
type deadlineConn interface {
	SetReadDeadline(t time.Time) error
}

// watchContext expires the read deadline of c as soon as ctx is done so a
// blocked read returns promptly. The returned stop function must be called
// once the read finishes.
func watchContext(ctx context.Context, c deadlineConn) (stop func()) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.SetReadDeadline(deadline)
	} else {
		_ = c.SetReadDeadline(time.Time{})
	}

	readDone := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			_ = c.SetReadDeadline(time.Now())
		case <-readDone:
		}
	}()
	return func() {
		close(readDone)
		<-exited
	}
}

// ioError maps a failed read or write to ctx.Err() when the context caused it.
func ioError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return context.DeadlineExceeded
	}
	if errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return err
}
