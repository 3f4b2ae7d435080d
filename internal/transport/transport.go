// Package transport wraps one pion PeerConnection per remote participant,
// exposing the negotiation calls and a single health signal.
package transport

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/meshroom/internal/media"
	"github.com/1ureka/meshroom/internal/util"
)

// PeerConfig configures a new Peer.
type PeerConfig struct {
	ICEServers []webrtc.ICEServer
	Label      string // used in log lines, usually the remote participant id
}

// Peer is the negotiation handle of one link.
//
// Health follows both the ICE connection state and the peer connection
// state; once terminal it never changes again.
type Peer struct {
	pc    *webrtc.PeerConnection
	label string

	mu       sync.Mutex
	iceState webrtc.ICEConnectionState
	pcState  webrtc.PeerConnectionState
	health   Health
	onHealth func(Health)

	closeOnce sync.Once
	closeErr  error
}

// NewPeer creates the PeerConnection. Callbacks should be registered before
// the first description is applied.
func NewPeer(cfg PeerConfig) (*Peer, error) {
	pc, err := newPeerConnection(cfg.ICEServers)
	if err != nil {
		return nil, fmt.Errorf("failed to create PeerConnection: %w", err)
	}

	p := &Peer{
		pc:       pc,
		label:    cfg.Label,
		iceState: webrtc.ICEConnectionStateNew,
		pcState:  webrtc.PeerConnectionStateNew,
		health:   HealthPending,
	}

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		util.LogDebug("peer %s: ICE state %s", p.label, state)
		p.update(func() { p.iceState = state })
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("peer %s: connection state %s", p.label, state)
		p.update(func() { p.pcState = state })
	})

	return p, nil
}

func (p *Peer) update(apply func()) {
	p.mu.Lock()
	prev := p.health
	if prev.Terminal() {
		p.mu.Unlock()
		return
	}
	apply()
	next := deriveHealth(p.iceState, p.pcState)
	p.health = next
	fn := p.onHealth
	p.mu.Unlock()

	if next != prev && fn != nil {
		fn(next)
	}
}

// Health returns the current health.
func (p *Peer) Health() Health {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.health
}

// OnHealthChange registers fn for every health transition.
func (p *Peer) OnHealthChange(fn func(Health)) {
	p.mu.Lock()
	p.onHealth = fn
	p.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Negotiation
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer. Without local tracks the offer still
// requests remote audio and video.
func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	if len(p.pc.GetTransceivers()) == 0 {
		if err := recvTransceivers(p.pc); err != nil {
			return webrtc.SessionDescription{}, fmt.Errorf("failed to add transceivers: %w", err)
		}
	}
	return p.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (p *Peer) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (p *Peer) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(sdp)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

// OnICECandidate registers fn for every gathered local candidate. The end
// of gathering is not reported.
func (p *Peer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		fn(c.ToJSON())
	})
}

// ---------------------------------------------------------------------------
// Media
// ---------------------------------------------------------------------------

// AddTrack publishes a local track on this connection.
func (p *Peer) AddTrack(track webrtc.TrackLocal) error {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return err
	}

	// RTCP must be read for interceptors such as NACK to run.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

// OnTrack registers fn for every remote track.
func (p *Peer) OnTrack(fn func(media.RemoteTrack)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		util.LogDebug("peer %s: remote %s track %s (%s)", p.label, track.Kind(), track.ID(), track.Codec().MimeType)
		fn(media.RemoteTrack{
			Kind:     track.Kind(),
			ID:       track.ID(),
			StreamID: track.StreamID(),
			Track:    track,
		})
	})
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Close shuts down the PeerConnection. It is safe to call more than once.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.pc.Close()
	})
	return p.closeErr
}
