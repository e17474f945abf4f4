package transport

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rmsg/internal/util"
)

// STUN servers for ICE candidate gathering. There is no TURN relay; the
// carrier only supports direct P2P connectivity.
var stunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// DataChannel wraps a single PeerConnection + DataChannel pair configured
// as an unreliable datagram carrier: ordered, but with zero SCTP
// retransmits, so lost messages stay lost and recovery is left to the
// protocol above.
//
// Its lifecycle is governed by the DataChannel state and the context passed
// at construction time. A PeerConnection that fails or closes shuts the
// carrier down as well, so Done also covers ICE failures during signaling.
type DataChannel struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	openSignal chan struct{}
	inbox      chan []byte
	addr       net.Addr

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
}

// NewDataChannel creates a PeerConnection and a pre-negotiated DataChannel.
// The caller performs signaling via the exposed methods (CreateOffer /
// CreateAnswer / …) and then uses it as a Conn once Ready fires.
func NewDataChannel(ctx context.Context) (*DataChannel, error) {
	// Loopback candidates let both ends run on one machine without a LAN.
	var se webrtc.SettingEngine
	se.SetIncludeLoopbackCandidate(true)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stunServers}},
	})
	if err != nil {
		return nil, err
	}

	ordered := true
	negotiated := true
	maxRetransmits := uint16(0)
	id := uint16(0)
	dc, err := pc.CreateDataChannel("rmsg", &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
		Negotiated:     &negotiated,
		ID:             &id,
	})
	if err != nil {
		pc.Close()
		return nil, err
	}

	tCtx, tCancel := context.WithCancel(ctx)

	t := &DataChannel{
		pc:         pc,
		dc:         dc,
		openSignal: make(chan struct{}),
		inbox:      make(chan []byte, inboxBufferSize),
		addr:       peerAddr{network: "webrtc", name: "datachannel:rmsg"},
		ctx:        tCtx,
		cancel:     tCancel,
		pcState:    webrtc.PeerConnectionStateNew,
	}

	// DC open gate.
	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() { close(t.openSignal) })
	})

	// DC close → cancel carrier context.
	dc.OnClose(func() {
		util.LogDebug("DataChannel closed")
		tCancel()
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		data := make([]byte, len(msg.Data))
		copy(data, msg.Data)
		select {
		case t.inbox <- data:
		default:
			util.LogWarning("datachannel: inbox full, dropping datagram")
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		t.mu.Lock()
		t.pcState = state
		t.mu.Unlock()

		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			tCancel()
		}
	})

	return t, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Ready returns a channel that is closed when the DataChannel is open.
func (t *DataChannel) Ready() <-chan struct{} {
	return t.openSignal
}

// Done returns a channel that is closed when the carrier is shut down:
// DataChannel closed, PeerConnection failed, or parent context cancelled.
func (t *DataChannel) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Close shuts down the DataChannel and PeerConnection.
func (t *DataChannel) Close() error {
	t.cancel()
	return errors.Join(t.dc.Close(), t.pc.Close())
}

// ConnectionState returns the last observed PeerConnection state.
func (t *DataChannel) ConnectionState() webrtc.PeerConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pcState
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (t *DataChannel) CreateOffer() (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (t *DataChannel) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (t *DataChannel) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (t *DataChannel) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. A nil candidate signals the end of gathering.
func (t *DataChannel) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	t.pc.OnICECandidate(fn)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (t *DataChannel) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

// ---------------------------------------------------------------------------
// Data
// ---------------------------------------------------------------------------

// SendTo sends b as one DataChannel message once the channel is open.
func (t *DataChannel) SendTo(ctx context.Context, b []byte, _ net.Addr) (int, error) {
	select {
	case <-t.openSignal:
	case <-t.ctx.Done():
		return 0, ErrClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	if err := t.dc.Send(b); err != nil {
		return 0, err
	}
	util.Stats.AddSent(len(b))
	return len(b), nil
}

// ReceiveFrom returns the next DataChannel message.
func (t *DataChannel) ReceiveFrom(ctx context.Context, buf []byte) (int, net.Addr, error) {
	select {
	case data := <-t.inbox:
		n := copy(buf, data)
		util.Stats.AddRecv(len(data))
		return n, t.addr, nil
	case <-t.ctx.Done():
		return 0, nil, ErrClosed
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (t *DataChannel) LocalAddr() net.Addr { return t.addr }
