// Package mesh keeps one peer link per remote participant of a room: it
// decides who offers to whom, drives each link through negotiation and
// teardown, and publishes remote media to a registry.
package mesh

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/meshroom/internal/media"
	"github.com/1ureka/meshroom/internal/room"
	"github.com/1ureka/meshroom/internal/signaling"
	"github.com/1ureka/meshroom/internal/transport"
)

// Negotiator is the per-link negotiation handle. *transport.Peer implements
// it; callbacks may be invoked from any goroutine.
type Negotiator interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(webrtc.TrackLocal) error

	OnICECandidate(func(webrtc.ICECandidateInit))
	OnTrack(func(media.RemoteTrack))
	OnHealthChange(func(transport.Health))

	Close() error
}

// NegotiatorFactory creates the handle for a new link to remote.
type NegotiatorFactory func(remote room.ParticipantID) (Negotiator, error)

// Sender delivers outbound signaling messages, normally a *signaling.Channel.
type Sender interface {
	Send(signaling.Message) error
}

// MediaSource provides the shared local stream, normally a *media.Source.
type MediaSource interface {
	EnsureLocalStream(ctx context.Context) (*media.LocalStream, error)
}

var _ Negotiator = (*transport.Peer)(nil)
