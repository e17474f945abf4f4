// Package signaling provides the PIN-protected WebSocket rendezvous used by
// the ws and webrtc transports, and the SDP/ICE exchange that turns it into
// a DataChannel.
package signaling

import "github.com/pion/webrtc/v4"

// messageType identifies a signaling message. Offers and answers reuse the
// SDP type names.
type messageType string

const (
	msgOffer     messageType = "offer"
	msgAnswer    messageType = "answer"
	msgCandidate messageType = "candidate"
	msgOpen      messageType = "open" // sender's DataChannel is open, WS about to close
)

// message is one JSON frame on the signaling WebSocket.
type message struct {
	Type      messageType              `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

func descriptionMessage(sdp webrtc.SessionDescription) message {
	return message{Type: messageType(sdp.Type.String()), SDP: sdp.SDP}
}

func candidateMessage(c *webrtc.ICECandidate) message {
	init := c.ToJSON()
	return message{Type: msgCandidate, Candidate: &init}
}

// description returns the SDP carried by an offer or answer.
func (m message) description() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(string(m.Type)), SDP: m.SDP}
}
