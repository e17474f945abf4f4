package signaling

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rmsg/internal/transport"
	"github.com/1ureka/rmsg/internal/util"
)

// receiver applies the peer's signaling messages to the DataChannel.
type receiver struct {
	dc     *transport.DataChannel
	conn   *websocket.Conn
	sender *sender

	described atomic.Bool // remote description applied

	// Candidates that arrive before the remote description. Only touched
	// by the watch goroutine.
	early []webrtc.ICECandidateInit
}

// watch reads signaling messages until the peer reports its DataChannel
// open or closes the WebSocket normally (nil), or until the WebSocket
// fails.
func (r *receiver) watch() error {
	for {
		var msg message
		if err := r.conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read WS message: %w", err)
		}

		open, err := r.handle(msg)
		if err != nil || open {
			return err
		}
	}
}

func (r *receiver) handle(msg message) (open bool, err error) {
	switch msg.Type {
	case msgOffer, msgAnswer:
		if err := r.dc.SetRemoteDescription(msg.description()); err != nil {
			return false, fmt.Errorf("apply remote %s: %w", msg.Type, err)
		}
		r.described.Store(true)

		for _, c := range r.early {
			if err := r.dc.AddICECandidate(c); err != nil {
				return false, fmt.Errorf("add ICE candidate: %w", err)
			}
		}
		r.early = nil

		if msg.Type == msgOffer {
			return false, r.sender.describe(r.dc, false)
		}

	case msgCandidate:
		if msg.Candidate == nil {
			return false, errors.New("candidate message without a candidate")
		}
		if !r.described.Load() {
			r.early = append(r.early, *msg.Candidate)
			return false, nil
		}
		if err := r.dc.AddICECandidate(*msg.Candidate); err != nil {
			return false, fmt.Errorf("add ICE candidate: %w", err)
		}

	case msgOpen:
		util.LogDebug("peer DataChannel open")
		return true, nil

	default:
		util.LogDebug("ignoring signaling message of type %q", msg.Type)
	}
	return false, nil
}
