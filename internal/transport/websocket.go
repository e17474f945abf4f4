package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/rmsg/internal/util"
)

const inboxBufferSize = 64 // received datagrams waiting for ReceiveFrom

// WebSocket carries one datagram per binary WebSocket message. It talks to
// exactly one peer, so SendTo ignores its address argument.
//
// gorilla/websocket leaves a connection unusable after a read deadline
// expires, so a single reader goroutine owns ReadMessage and ReceiveFrom
// waits on its inbox instead.
type WebSocket struct {
	ws    *websocket.Conn
	inbox chan []byte

	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
	readErr   error
}

// NewWebSocket wraps an established WebSocket connection and starts its
// reader goroutine.
func NewWebSocket(ws *websocket.Conn) *WebSocket {
	w := &WebSocket{
		ws:    ws,
		inbox: make(chan []byte, inboxBufferSize),
		done:  make(chan struct{}),
	}
	go w.readLoop()
	return w
}

func (w *WebSocket) readLoop() {
	defer w.shutdown()
	for {
		typ, data, err := w.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.readErr = err
			}
			return
		}
		if typ != websocket.BinaryMessage {
			util.LogDebug("websocket: ignoring non-binary message (type %d)", typ)
			continue
		}
		select {
		case w.inbox <- data:
		case <-w.done:
			return
		default:
			util.LogWarning("websocket: inbox full, dropping datagram")
		}
	}
}

// SendTo writes b as one binary message.
func (w *WebSocket) SendTo(ctx context.Context, b []byte, _ net.Addr) (int, error) {
	select {
	case <-w.done:
		return 0, ErrClosed
	default:
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := w.ws.SetWriteDeadline(deadline); err != nil {
		return 0, err
	}
	if err := w.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, ioError(ctx, err)
	}
	util.Stats.AddSent(len(b))
	return len(b), nil
}

// ReceiveFrom returns the next binary message.
func (w *WebSocket) ReceiveFrom(ctx context.Context, buf []byte) (int, net.Addr, error) {
	select {
	case data := <-w.inbox:
		n := copy(buf, data)
		util.Stats.AddRecv(len(data))
		return n, w.ws.RemoteAddr(), nil
	case <-w.done:
		return 0, nil, ErrClosed
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (w *WebSocket) LocalAddr() net.Addr { return w.ws.LocalAddr() }

// Err returns the error that stopped the reader, if it was not a clean close.
func (w *WebSocket) Err() error {
	select {
	case <-w.done:
		return w.readErr
	default:
		return nil
	}
}

// Close sends a close frame and releases the connection.
func (w *WebSocket) Close() error {
	w.writeMu.Lock()
	_ = w.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	w.writeMu.Unlock()
	w.shutdown()
	return w.ws.Close()
}

func (w *WebSocket) shutdown() {
	w.closeOnce.Do(func() { close(w.done) })
}
