package fragment

import (
	"net"

	"github.com/1ureka/rmsg/internal/util"
)

// Session is the per-exchange state of one client: created by
// Client.Connect, advanced once per fragment round-trip and reset after
// each EndOfStream is acknowledged. It is owned by a single goroutine.
//
// After Send returns an error the server's view of the message is
// undefined; call Connect again before sending the next message.
type Session struct {
	Peer    net.Addr // server address replies are expected from
	Seq     int16    // sequence of the next Data fragment, 1-based
	Resends int      // resends of the in-flight packet

	last []byte // encoded in-flight packet, for retransmission
	log  util.Logger
}

func newSession(peer net.Addr) *Session {
	return &Session{Peer: peer, Seq: 1, log: util.ForPeer(peer)}
}

// next advances to the following fragment.
func (s *Session) next() {
	s.Seq++
	s.Resends = 0
}

// rewind makes the session ready for the next message.
func (s *Session) rewind() {
	s.Seq = 1
	s.Resends = 0
	s.last = nil
}
