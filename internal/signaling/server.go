package signaling

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/rmsg/internal/util"
)

// Path is the HTTP path the WebSocket endpoint is served on.
const Path = "/ws"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server accepts a single PIN-authenticated WebSocket client.
type Server struct {
	pin      string
	listener net.Listener
	http     *http.Server
	connCh   chan *websocket.Conn
}

// Listen starts serving the WebSocket endpoint on addr (":0" picks a free
// port). An empty pin disables the PIN check.
func Listen(addr, pin string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start WS server: %w", err)
	}

	s := &Server{
		pin:      pin,
		listener: listener,
		connCh:   make(chan *websocket.Conn, 1),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(Path, s.handleWS)
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("WS server stopped: %v", err)
		}
	}()
	return s, nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Port returns the listening TCP port.
func (s *Server) Port() int {
	if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.pin != "" && r.URL.Query().Get("pin") != s.pin {
		util.LogWarning("rejected WS client %s: invalid PIN", r.RemoteAddr)
		http.Error(w, "Invalid PIN", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogDebug("WS upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	// Only accept the first client.
	select {
	case s.connCh <- conn:
		util.LogDebug("WS client %s accepted", r.RemoteAddr)
	default:
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "already connected"))
		conn.Close()
	}
}

// Accept blocks until a client connects or ctx is cancelled.
func (s *Server) Accept(ctx context.Context) (*websocket.Conn, error) {
	select {
	case conn := <-s.connCh:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting new connections. Connections already returned by
// Accept stay open.
func (s *Server) Close() error {
	return s.http.Close()
}

// Dial connects to a WebSocket URL such as ws://host:port/ws?pin=1234.
func Dial(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to WS server: %w (HTTP %s)", err, resp.Status)
		}
		return nil, fmt.Errorf("failed to connect to WS server: %w", err)
	}
	return conn, nil
}

// GeneratePIN returns a random numeric PIN of the specified length.
func GeneratePIN(length int) string {
	digits := make([]byte, length)
	for i := range digits {
		n, _ := rand.Int(rand.Reader, big.NewInt(10))
		digits[i] = byte('0') + byte(n.Int64())
	}
	return string(digits)
}
