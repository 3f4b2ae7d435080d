package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/meshroom/internal/media"
)

func TestDeriveHealth(t *testing.T) {
	tests := []struct {
		name string
		ice  webrtc.ICEConnectionState
		pc   webrtc.PeerConnectionState
		want Health
	}{
		{"new", webrtc.ICEConnectionStateNew, webrtc.PeerConnectionStateNew, HealthPending},
		{"checking", webrtc.ICEConnectionStateChecking, webrtc.PeerConnectionStateConnecting, HealthPending},
		{"ice connected", webrtc.ICEConnectionStateConnected, webrtc.PeerConnectionStateConnecting, HealthUp},
		{"pc connected", webrtc.ICEConnectionStateCompleted, webrtc.PeerConnectionStateConnected, HealthUp},
		{"ice disconnected", webrtc.ICEConnectionStateDisconnected, webrtc.PeerConnectionStateConnected, HealthDisconnected},
		{"pc failed", webrtc.ICEConnectionStateConnected, webrtc.PeerConnectionStateFailed, HealthFailed},
		{"closed wins", webrtc.ICEConnectionStateFailed, webrtc.PeerConnectionStateClosed, HealthClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := deriveHealth(tt.ice, tt.pc)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want >= HealthDisconnected, got.Terminal())
		})
	}
}

func TestHealthIsStickyOnceTerminal(t *testing.T) {
	p, err := NewPeer(PeerConfig{Label: "test"})
	require.NoError(t, err)
	defer p.Close()

	var got []Health
	p.OnHealthChange(func(h Health) { got = append(got, h) })

	p.update(func() { p.iceState = webrtc.ICEConnectionStateConnected })
	p.update(func() { p.iceState = webrtc.ICEConnectionStateFailed })
	p.update(func() { p.iceState = webrtc.ICEConnectionStateConnected })

	assert.Equal(t, []Health{HealthUp, HealthFailed}, got)
	assert.Equal(t, HealthFailed, p.Health())
}

func TestOfferWithoutTracksRequestsMedia(t *testing.T) {
	p, err := NewPeer(PeerConfig{})
	require.NoError(t, err)
	defer p.Close()

	offer, err := p.CreateOffer()
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	assert.Contains(t, offer.SDP, "m=audio")
	assert.Contains(t, offer.SDP, "m=video")
}

func TestCloseIsIdempotent(t *testing.T) {
	p, err := NewPeer(PeerConfig{})
	require.NoError(t, err)
	assert.NoError(t, p.Close())
	assert.NoError(t, p.Close())
}

// TestPeersConnectOverLoopback negotiates two peers in-process, trickling
// candidates directly, and waits for a remote track on the answering side.
func TestPeersConnectOverLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping ICE negotiation in short mode")
	}

	offerer, err := NewPeer(PeerConfig{Label: "offerer"})
	require.NoError(t, err)
	defer offerer.Close()
	answerer, err := NewPeer(PeerConfig{Label: "answerer"})
	require.NoError(t, err)
	defer answerer.Close()

	local, err := media.StaticCapturer{NoVideo: true}.Capture(context.Background())
	require.NoError(t, err)
	require.NoError(t, offerer.AddTrack(local.Audio))

	toAnswerer := &trickle{dst: answerer}
	toOfferer := &trickle{dst: offerer}
	offerer.OnICECandidate(toAnswerer.add)
	answerer.OnICECandidate(toOfferer.add)

	tracks := make(chan media.RemoteTrack, 1)
	answerer.OnTrack(func(rt media.RemoteTrack) {
		select {
		case tracks <- rt:
		default:
		}
	})

	up := make(chan struct{})
	var upOnce sync.Once
	offerer.OnHealthChange(func(h Health) {
		if h == HealthUp {
			upOnce.Do(func() { close(up) })
		}
	})

	offer, err := offerer.CreateOffer()
	require.NoError(t, err)
	require.NoError(t, offerer.SetLocalDescription(offer))
	require.NoError(t, answerer.SetRemoteDescription(offer))
	toAnswerer.open()

	answer, err := answerer.CreateAnswer()
	require.NoError(t, err)
	require.NoError(t, answerer.SetLocalDescription(answer))
	require.NoError(t, offerer.SetRemoteDescription(answer))
	toOfferer.open()

	select {
	case <-up:
	case <-time.After(10 * time.Second):
		t.Fatal("offerer never reached HealthUp")
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = local.Audio.WriteSample(pionmedia.Sample{Data: []byte{0xf8, 0xff, 0xfe}, Duration: 20 * time.Millisecond})
			case <-stop:
				return
			}
		}
	}()

	select {
	case rt := <-tracks:
		assert.Equal(t, webrtc.RTPCodecTypeAudio, rt.Kind)
		assert.Equal(t, local.ID, rt.StreamID)
	case <-time.After(10 * time.Second):
		t.Fatal("answerer never received the remote track")
	}
}

// trickle holds candidates until the destination has a remote description.
type trickle struct {
	dst *Peer

	mu      sync.Mutex
	ready   bool
	pending []webrtc.ICECandidateInit
}

func (t *trickle) add(c webrtc.ICECandidateInit) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.ready {
		t.pending = append(t.pending, c)
		return
	}
	_ = t.dst.AddICECandidate(c)
}

func (t *trickle) open() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ready = true
	for _, c := range t.pending {
		_ = t.dst.AddICECandidate(c)
	}
	t.pending = nil
}
