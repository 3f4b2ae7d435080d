// Package session ties one participant's room visit together: it owns the
// signaling channel, the local media source and the mesh coordinator, and
// tears all of them down when the visit ends.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/1ureka/meshroom/internal/config"
	"github.com/1ureka/meshroom/internal/media"
	"github.com/1ureka/meshroom/internal/mesh"
	"github.com/1ureka/meshroom/internal/room"
	"github.com/1ureka/meshroom/internal/signaling"
	"github.com/1ureka/meshroom/internal/transport"
	"github.com/1ureka/meshroom/internal/util"
)

// ErrRelayLost is returned by Run when the relay connection ends while the
// session is still active.
var ErrRelayLost = errors.New("session: relay connection lost")

// Option customizes a Session.
type Option func(*options)

type options struct {
	capturer      media.Capturer
	newNegotiator mesh.NegotiatorFactory
}

// WithCapturer replaces the default static capturer.
func WithCapturer(c media.Capturer) Option {
	return func(o *options) { o.capturer = c }
}

// WithNegotiatorFactory replaces the pion-backed negotiator.
func WithNegotiatorFactory(f mesh.NegotiatorFactory) Option {
	return func(o *options) { o.newNegotiator = f }
}

// Session is one participant in one room.
type Session struct {
	relayURL string
	roomID   room.ID
	self     room.ParticipantID
	hosting  bool

	channel     *signaling.Channel
	source      *media.Source
	registry    *mesh.Registry
	coordinator *mesh.Coordinator
}

// New builds a session from cfg. When cfg names no room a fresh room id is
// generated and the participant hosts it.
func New(cfg config.Config, opts ...Option) *Session {
	o := options{capturer: media.StaticCapturer{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.newNegotiator == nil {
		o.newNegotiator = PeerFactory(cfg)
	}

	roomID := cfg.RoomID
	hosting := roomID == ""
	if hosting {
		roomID = room.NewID()
	}

	s := &Session{
		relayURL: cfg.RelayURL,
		roomID:   roomID,
		self:     cfg.UserID,
		hosting:  hosting,
		channel:  signaling.New(roomID, cfg.UserID, signaling.WithPingInterval(cfg.PingInterval)),
		source:   media.NewSource(o.capturer),
		registry: mesh.NewRegistry(),
	}
	s.coordinator = mesh.New(mesh.Config{
		Self:          s.self,
		RoomID:        roomID,
		Out:           s.channel,
		Media:         s.source,
		NewNegotiator: o.newNegotiator,
		Registry:      s.registry,
	})
	s.channel.OnMessage(s.coordinator.HandleMessage)
	return s
}

// PeerFactory returns a negotiator factory creating pion peers with the
// ICE servers of cfg.
func PeerFactory(cfg config.Config) mesh.NegotiatorFactory {
	return func(remote room.ParticipantID) (mesh.Negotiator, error) {
		p, err := transport.NewPeer(transport.PeerConfig{
			ICEServers: cfg.ICEServers,
			Label:      remote.String(),
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

func (s *Session) RoomID() room.ID                { return s.roomID }
func (s *Session) Self() room.ParticipantID       { return s.self }
func (s *Session) Hosting() bool                  { return s.hosting }
func (s *Session) Registry() *mesh.Registry       { return s.registry }
func (s *Session) Coordinator() *mesh.Coordinator { return s.coordinator }
func (s *Session) Source() *media.Source          { return s.source }

// Run joins the room and blocks until ctx is cancelled or the relay
// connection is lost. There is no reconnect: a lost relay ends the session
// with ErrRelayLost. Everything is torn down before Run returns.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loopDone := make(chan error, 1)
	go func() { loopDone <- s.coordinator.Run(ctx) }()

	util.LogInfo("Entering room %s as %s", s.roomID, s.self)

	var runErr error
	if err := s.channel.Connect(ctx, s.relayURL); err != nil {
		runErr = err
	} else {
		select {
		case <-ctx.Done():
		case <-s.channel.Done():
			if err := s.channel.Err(); err != nil {
				runErr = fmt.Errorf("%w: %v", ErrRelayLost, err)
			} else {
				runErr = ErrRelayLost
			}
		}
	}

	cancel()
	closeErr := errors.Join(<-loopDone, s.channel.Close())
	s.source.Release()
	util.LogInfo("Left room %s", s.roomID)

	return errors.Join(runErr, closeErr)
}
