package mesh

import (
	"context"
	"errors"
	"sync"

	"github.com/1ureka/meshroom/internal/media"
	"github.com/1ureka/meshroom/internal/room"
	"github.com/1ureka/meshroom/internal/signaling"
	"github.com/1ureka/meshroom/internal/transport"
	"github.com/1ureka/meshroom/internal/util"
)

const eventBufferSize = 64

var errNoNegotiatorFactory = errors.New("mesh: no negotiator factory configured")

// Config wires a Coordinator to its collaborators.
type Config struct {
	Self          room.ParticipantID
	RoomID        room.ID
	Out           Sender
	Media         MediaSource // optional; links proceed without local tracks
	NewNegotiator NegotiatorFactory
	Registry      *Registry // optional; a fresh registry is created when nil
}

// Coordinator owns the links of one room session.
//
// Every inbound message, track arrival and health change is an event handled
// on the Run goroutine, one at a time. Only that goroutine adds or removes
// links and registry entries.
type Coordinator struct {
	self          room.ParticipantID
	roomID        room.ID
	out           Sender
	media         MediaSource
	newNegotiator NegotiatorFactory
	registry      *Registry

	links *linkTable

	events    chan func(context.Context)
	stopped   chan struct{}
	startOnce sync.Once
}

func New(cfg Config) *Coordinator {
	reg := cfg.Registry
	if reg == nil {
		reg = NewRegistry()
	}
	return &Coordinator{
		self:          cfg.Self,
		roomID:        cfg.RoomID,
		out:           cfg.Out,
		media:         cfg.Media,
		newNegotiator: cfg.NewNegotiator,
		registry:      reg,
		links:         newLinkTable(),
		events:        make(chan func(context.Context), eventBufferSize),
		stopped:       make(chan struct{}),
	}
}

// Registry returns the remote media registry fed by this coordinator.
func (c *Coordinator) Registry() *Registry { return c.registry }

// Run processes events until ctx is cancelled, then closes every link. It
// must be called once.
func (c *Coordinator) Run(ctx context.Context) error {
	started := false
	c.startOnce.Do(func() { started = true })
	if !started {
		return errors.New("mesh: coordinator already running")
	}
	defer close(c.stopped)
	defer c.closeAll()

	for {
		select {
		case ev := <-c.events:
			ev(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// HandleMessage queues an inbound signaling message. It is safe to call
// from any goroutine and returns once the message is queued or the
// coordinator has stopped.
func (c *Coordinator) HandleMessage(msg signaling.Message) {
	c.post(func(ctx context.Context) { c.dispatch(ctx, msg) })
}

func (c *Coordinator) post(ev func(context.Context)) {
	select {
	case c.events <- ev:
	case <-c.stopped:
	}
}

// Link returns the live link to id, or nil.
func (c *Coordinator) Link(id room.ParticipantID) *Link {
	return c.links.get(id)
}

// Links returns the live links ordered by remote id.
func (c *Coordinator) Links() []*Link {
	return c.links.list()
}

// Roles returns the role of every live link.
func (c *Coordinator) Roles() map[room.ParticipantID]Role {
	out := make(map[room.ParticipantID]Role)
	for _, l := range c.links.list() {
		out[l.remote] = l.role
	}
	return out
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

func (c *Coordinator) dispatch(ctx context.Context, msg signaling.Message) {
	if msg.FromSelf(c.self) {
		util.LogDebug("Dropped self-originated %s", msg.Action)
		return
	}
	if target, ok := msg.Target(); ok && target != c.self {
		util.LogDebug("Dropped %s addressed to %s", msg.Action, target)
		return
	}
	if msg.RoomID != "" && c.roomID != "" && msg.RoomID != c.roomID {
		util.LogWith(util.LevelWarning, "Dropped message for another room", "action", msg.Action, "room", msg.RoomID)
		util.Stats.AddDropped()
		return
	}

	switch msg.Action {
	case signaling.ActionJoined:
		c.onJoined(ctx, msg.Clients)

	case signaling.ActionNewPeer:
		if sender, ok := c.remoteSender(msg); ok {
			c.ensureLink(ctx, sender, Responder)
		}

	case signaling.ActionOffer:
		sender, ok := c.remoteSender(msg)
		if !ok {
			return
		}
		desc, err := msg.SessionDescription()
		if err != nil {
			c.drop(msg, err.Error())
			return
		}
		if l := c.ensureLink(ctx, sender, Responder); l != nil {
			l.enqueue(op{kind: opRemoteOffer, desc: desc})
		}

	case signaling.ActionAnswer:
		sender, ok := c.remoteSender(msg)
		if !ok {
			return
		}
		desc, err := msg.SessionDescription()
		if err != nil {
			c.drop(msg, err.Error())
			return
		}
		l := c.links.get(sender)
		if l == nil {
			c.drop(msg, "no link")
			return
		}
		l.enqueue(op{kind: opRemoteAnswer, desc: desc})

	case signaling.ActionCandidate:
		sender, ok := c.remoteSender(msg)
		if !ok {
			return
		}
		cand, err := msg.Candidate()
		if err != nil {
			c.drop(msg, err.Error())
			return
		}
		l := c.links.get(sender)
		if l == nil {
			c.drop(msg, "no link")
			return
		}
		l.enqueue(op{kind: opRemoteCandidate, candidate: cand})

	default:
		util.LogDebug("Ignored %s from %s", msg.Action, msg.Sender())
	}
}

// remoteSender resolves the sender of msg, refusing our own id.
func (c *Coordinator) remoteSender(msg signaling.Message) (room.ParticipantID, bool) {
	sender := msg.Sender()
	if sender == c.self {
		util.LogDebug("Dropped %s resolving to self", msg.Action)
		return 0, false
	}
	return sender, true
}

func (c *Coordinator) drop(msg signaling.Message, reason string) {
	util.LogWith(util.LevelWarning, "Dropped signaling message", "action", msg.Action, "peer", msg.Sender(), "reason", reason)
	util.Stats.AddDropped()
}

// onJoined offers to every existing member. The newcomer always initiates,
// so two members never offer to each other at once.
func (c *Coordinator) onJoined(ctx context.Context, clients []room.ParticipantID) {
	c.localStream(ctx)

	for _, id := range clients {
		if id == c.self || c.links.get(id) != nil {
			continue
		}
		if l := c.ensureLink(ctx, id, Initiator); l != nil {
			l.enqueue(op{kind: opStartOffer})
		}
	}
}

// ---------------------------------------------------------------------------
// Link lifecycle
// ---------------------------------------------------------------------------

func (c *Coordinator) localStream(ctx context.Context) *media.LocalStream {
	if c.media == nil {
		return nil
	}
	stream, err := c.media.EnsureLocalStream(ctx)
	if err != nil {
		util.LogWarning("Continuing without local media: %v", err)
		return nil
	}
	return stream
}

// ensureLink returns the link to remote, creating it with role when absent.
// It returns nil when the link could not be created.
func (c *Coordinator) ensureLink(ctx context.Context, remote room.ParticipantID, role Role) *Link {
	if l := c.links.get(remote); l != nil {
		return l
	}
	if c.newNegotiator == nil {
		util.LogError("peer %s: %v", remote, errNoNegotiatorFactory)
		return nil
	}

	stream := c.localStream(ctx)

	neg, err := c.newNegotiator(remote)
	if err != nil {
		util.LogError("peer %s: failed to create negotiator: %v", remote, err)
		return nil
	}

	l := newLink(ctx, remote, role, neg, c.out)
	if err := c.links.add(l); err != nil {
		neg.Close()
		util.LogError("peer %s: %v", remote, err)
		return nil
	}
	c.registry.upsert(remote, Entry{Loading: true})
	util.Stats.AddLink()

	for _, track := range stream.Tracks() {
		if err := neg.AddTrack(track); err != nil {
			util.LogWarning("peer %s: failed to add local %s track: %v", remote, track.Kind(), err)
		}
	}

	neg.OnICECandidate(l.sendCandidate)
	neg.OnTrack(func(t media.RemoteTrack) {
		c.post(func(context.Context) { c.onTrack(l, t) })
	})
	neg.OnHealthChange(func(h transport.Health) {
		c.post(func(context.Context) { c.onHealth(l, h) })
	})

	go l.run()

	util.LogWith(util.LevelInfo, "Link created", "peer", remote, "role", role)
	return l
}

func (c *Coordinator) onTrack(l *Link, t media.RemoteTrack) {
	if c.links.get(l.remote) != l {
		return
	}

	if l.stream == nil {
		id := t.StreamID
		if id == "" {
			id = l.remote.String()
		}
		l.stream = media.NewRemoteStream(id)
	}
	if !l.stream.Add(t) {
		return
	}

	if l.advance(Connected) {
		util.LogSuccess("peer %s: connected (%s)", l.remote, t.Kind)
	}
	c.registry.upsert(l.remote, Entry{Stream: l.stream, Loading: false})
}

func (c *Coordinator) onHealth(l *Link, h transport.Health) {
	if c.links.get(l.remote) != l {
		return
	}
	l.setHealth(h)
	util.LogDebug("peer %s: health %s", l.remote, h)

	if !h.Terminal() {
		return
	}
	l.advance(Degraded)
	util.LogWarning("peer %s: %s, closing link", l.remote, h)
	c.teardown(l)
}

// teardown closes l and removes it together with its registry entry.
func (c *Coordinator) teardown(l *Link) {
	l.close()
	if c.links.remove(l) {
		c.registry.remove(l.remote)
		util.Stats.RemoveLink()
	}
}

func (c *Coordinator) closeAll() {
	for _, l := range c.links.list() {
		c.teardown(l)
	}
	if n := c.links.len(); n != 0 {
		util.LogWarning("%d links left after shutdown", n)
	}
}
