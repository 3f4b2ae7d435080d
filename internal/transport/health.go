package transport

import "github.com/pion/webrtc/v4"

// Health is the liveness of a peer connection, folded from its ICE and
// peer connection states.
type Health int

const (
	HealthPending Health = iota
	HealthUp
	HealthDisconnected
	HealthFailed
	HealthClosed
)

func (h Health) String() string {
	switch h {
	case HealthPending:
		return "pending"
	case HealthUp:
		return "up"
	case HealthDisconnected:
		return "disconnected"
	case HealthFailed:
		return "failed"
	case HealthClosed:
		return "closed"
	}
	return "unknown"
}

// Terminal reports whether the connection must be torn down.
func (h Health) Terminal() bool {
	return h >= HealthDisconnected
}

// deriveHealth folds both state machines. Either one reporting a terminal
// state wins, the worst state first.
func deriveHealth(ice webrtc.ICEConnectionState, pc webrtc.PeerConnectionState) Health {
	switch {
	case ice == webrtc.ICEConnectionStateClosed || pc == webrtc.PeerConnectionStateClosed:
		return HealthClosed
	case ice == webrtc.ICEConnectionStateFailed || pc == webrtc.PeerConnectionStateFailed:
		return HealthFailed
	case ice == webrtc.ICEConnectionStateDisconnected || pc == webrtc.PeerConnectionStateDisconnected:
		return HealthDisconnected
	case pc == webrtc.PeerConnectionStateConnected,
		ice == webrtc.ICEConnectionStateConnected,
		ice == webrtc.ICEConnectionStateCompleted:
		return HealthUp
	}
	return HealthPending
}
