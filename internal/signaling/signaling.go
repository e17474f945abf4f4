package signaling

import (
	"context"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/pterm/pterm"

	"github.com/1ureka/rmsg/internal/transport"
	"github.com/1ureka/rmsg/internal/util"
)

// ErrSignaling reports a rendezvous that ended before the DataChannel opened.
var ErrSignaling = errors.New("signaling failed")

// EstablishAsHost runs the host side of the WebRTC rendezvous:
//  1. Start a WS server on addr
//  2. Print the port and PIN
//  3. Wait for the client to connect (see AcceptDataChannel)
//  4. Return the DataChannel once it opens; the WS server is closed on
//     return
func EstablishAsHost(ctx context.Context, addr, pin string) (*transport.DataChannel, error) {
	srv, err := Listen(addr, pin)
	if err != nil {
		return nil, err
	}
	defer srv.Close()

	pterm.DefaultBox.WithTitle("WebSocket Signaling Server").Println(
		fmt.Sprintf("Port : %d\nPIN  : %s\nPath : %s", srv.Port(), pin, Path))

	return srv.AcceptDataChannel(ctx)
}

// AcceptDataChannel waits for a signaling client, sends it the SDP offer,
// trickles ICE candidates and returns the DataChannel once it opens. The
// client's WebSocket is closed on return.
func (s *Server) AcceptDataChannel(ctx context.Context) (*transport.DataChannel, error) {
	util.LogInfo("waiting for client...")
	wsConn, err := s.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for client: %w", err)
	}
	defer wsConn.Close()
	util.LogInfo("signaling client connected from %s", wsConn.RemoteAddr())

	return negotiate(ctx, wsConn, true)
}

// EstablishAsClient runs the client side of the WebRTC rendezvous against
// the host's WS URL and returns the DataChannel once it opens.
func EstablishAsClient(ctx context.Context, url string) (*transport.DataChannel, error) {
	util.LogInfo("connecting to host...")
	wsConn, err := Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	defer wsConn.Close()
	util.LogDebug("WS connected: %s", url)

	return negotiate(ctx, wsConn, false)
}

// negotiate exchanges SDP and ICE over wsConn until the DataChannel opens.
// The offerer is the host.
func negotiate(ctx context.Context, wsConn *websocket.Conn, offer bool) (*transport.DataChannel, error) {
	dc, err := transport.NewDataChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create DataChannel: %w", err)
	}

	s := &sender{conn: wsConn}
	r := &receiver{dc: dc, conn: wsConn, sender: s}
	dc.OnICECandidate(s.trickle)

	// Exits at the latest when the caller closes wsConn.
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- r.watch()
	}()

	if offer {
		if err := s.describe(dc, true); err != nil {
			dc.Close()
			return nil, fmt.Errorf("%w: send offer: %w", ErrSignaling, err)
		}
	}

	if err := awaitOpen(ctx, dc, r, watchErr); err != nil {
		dc.Close()
		return nil, err
	}

	s.finish()
	util.LogSuccess("WebRTC DataChannel established, closing WS")
	return dc, nil
}

// awaitOpen blocks until dc opens. The WebSocket ending is fatal only
// before the remote description is applied; afterwards ICE and DTLS go on
// without it and the wait ends when dc opens, fails or ctx is done.
func awaitOpen(ctx context.Context, dc *transport.DataChannel, r *receiver, watchErr <-chan error) error {
	for {
		select {
		case <-dc.Ready():
			return nil

		case err := <-watchErr:
			if !r.described.Load() {
				if err == nil {
					err = errors.New("peer closed the WebSocket before the SDP exchange")
				}
				return fmt.Errorf("%w: %w", ErrSignaling, err)
			}
			if err != nil {
				util.LogDebug("WS ended after SDP exchange: %v", err)
			}
			watchErr = nil

		case <-dc.Done():
			if err := ctx.Err(); err != nil {
				return err
			}
			return fmt.Errorf("%w: DataChannel closed (PeerConnection %s)", ErrSignaling, dc.ConnectionState())

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
