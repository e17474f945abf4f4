package signaling

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rmsg/internal/transport"
	"github.com/1ureka/rmsg/internal/util"
)

const writeTimeout = 5 * time.Second

// sender writes signaling messages. Candidates are trickled from pion
// callbacks while the SDP is sent from negotiate, and the WebSocket allows
// a single writer at a time.
type sender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *sender) send(msg message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(msg)
}

// describe creates the local offer (or answer), applies it to dc and sends
// it to the peer.
func (s *sender) describe(dc *transport.DataChannel, offer bool) error {
	create, kind := dc.CreateAnswer, msgAnswer
	if offer {
		create, kind = dc.CreateOffer, msgOffer
	}

	sdp, err := create()
	if err != nil {
		return fmt.Errorf("create %s: %w", kind, err)
	}
	if err := dc.SetLocalDescription(sdp); err != nil {
		return fmt.Errorf("apply local %s: %w", kind, err)
	}
	return s.send(descriptionMessage(sdp))
}

// trickle forwards a gathered ICE candidate. The nil candidate that ends
// gathering is not forwarded.
func (s *sender) trickle(c *webrtc.ICECandidate) {
	if c == nil {
		return
	}
	if err := s.send(candidateMessage(c)); err != nil {
		util.LogDebug("sending ICE candidate failed: %v", err)
	}
}

// finish tells the peer the local DataChannel is open and starts a normal
// WebSocket close. The peer may already be gone.
func (s *sender) finish() {
	if err := s.send(message{Type: msgOpen}); err != nil {
		util.LogDebug("WS already closed by peer: %v", err)
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
}
