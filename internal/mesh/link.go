package mesh

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/meshroom/internal/media"
	"github.com/1ureka/meshroom/internal/room"
	"github.com/1ureka/meshroom/internal/signaling"
	"github.com/1ureka/meshroom/internal/transport"
	"github.com/1ureka/meshroom/internal/util"
)

const inboxBufferSize = 64 // per-link negotiation inbox capacity

type opKind int

const (
	opStartOffer opKind = iota
	opRemoteOffer
	opRemoteAnswer
	opRemoteCandidate
)

func (k opKind) String() string {
	switch k {
	case opStartOffer:
		return "offer"
	case opRemoteOffer:
		return "remote-offer"
	case opRemoteAnswer:
		return "remote-answer"
	}
	return "remote-candidate"
}

// op is one negotiation step queued on a link.
type op struct {
	kind      opKind
	desc      webrtc.SessionDescription
	candidate webrtc.ICECandidateInit
}

// Link is the connection to one remote participant.
//
// Negotiation steps run in arrival order on the link's own goroutine. Every
// step re-checks that the link is still live after each blocking call, so a
// link closed mid-negotiation neither sends nor changes state.
type Link struct {
	remote room.ParticipantID
	role   Role
	neg    Negotiator
	out    Sender

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	inbox chan op

	mu             sync.Mutex
	state          State
	health         transport.Health
	described      bool // our offer or answer went out
	heldCandidates []webrtc.ICECandidateInit

	stream *media.RemoteStream // owned by the coordinator loop
}

func newLink(parent context.Context, remote room.ParticipantID, role Role, neg Negotiator, out Sender) *Link {
	ctx, cancel := context.WithCancel(parent)
	return &Link{
		remote: remote,
		role:   role,
		neg:    neg,
		out:    out,
		ctx:    ctx,
		cancel: cancel,
		inbox:  make(chan op, inboxBufferSize),
		state:  Created,
		health: transport.HealthPending,
	}
}

func (l *Link) Remote() room.ParticipantID { return l.remote }
func (l *Link) Role() Role                 { return l.role }

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) Health() transport.Health {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.health
}

// advance moves the link to s if that is a forward transition.
func (l *Link) advance(s State) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s <= l.state {
		return false
	}
	l.state = s
	return true
}

func (l *Link) setHealth(h transport.Health) {
	l.mu.Lock()
	l.health = h
	l.mu.Unlock()
}

func (l *Link) live() bool {
	return l.ctx.Err() == nil
}

// enqueue hands a negotiation step to the worker. A full inbox drops the
// step, the same way an unroutable message is dropped.
func (l *Link) enqueue(o op) {
	if !l.live() {
		return
	}
	select {
	case l.inbox <- o:
	default:
		util.LogWith(util.LevelWarning, "Link inbox full, dropping negotiation step", "peer", l.remote, "step", o.kind)
		util.Stats.AddDropped()
	}
}

// run is the worker loop. It exits when the link closes.
func (l *Link) run() {
	for {
		select {
		case o := <-l.inbox:
			l.apply(o)
		case <-l.ctx.Done():
			return
		}
	}
}

func (l *Link) apply(o op) {
	switch o.kind {
	case opStartOffer:
		l.startOffer()
	case opRemoteOffer:
		l.acceptOffer(o.desc)
	case opRemoteAnswer:
		l.acceptAnswer(o.desc)
	case opRemoteCandidate:
		if err := l.neg.AddICECandidate(o.candidate); err != nil && l.live() {
			l.logFailure("add ICE candidate", err)
		}
	}
}

func (l *Link) startOffer() {
	offer, err := l.neg.CreateOffer()
	if !l.live() {
		return
	}
	if err != nil {
		l.logFailure("create offer", err)
		return
	}

	err = l.neg.SetLocalDescription(offer)
	if !l.live() {
		return
	}
	if err != nil {
		l.logFailure("set local offer", err)
		return
	}
	l.advance(Negotiating)

	l.sendDescription(signaling.NewOffer(l.remote, offer))
}

func (l *Link) acceptOffer(offer webrtc.SessionDescription) {
	err := l.neg.SetRemoteDescription(offer)
	if !l.live() {
		return
	}
	if err != nil {
		l.logFailure("apply remote offer", err)
		return
	}
	l.advance(Negotiating)

	answer, err := l.neg.CreateAnswer()
	if !l.live() {
		return
	}
	if err != nil {
		l.logFailure("create answer", err)
		return
	}

	err = l.neg.SetLocalDescription(answer)
	if !l.live() {
		return
	}
	if err != nil {
		l.logFailure("set local answer", err)
		return
	}

	l.sendDescription(signaling.NewAnswer(l.remote, answer))
}

func (l *Link) acceptAnswer(answer webrtc.SessionDescription) {
	err := l.neg.SetRemoteDescription(answer)
	if !l.live() {
		return
	}
	if err != nil {
		l.logFailure("apply remote answer", err)
		return
	}
	l.advance(Negotiating)
	util.LogDebug("peer %s: answer applied", l.remote)
}

// sendDescription sends our offer or answer, then any candidates gathered
// while it was being applied, so the remote never sees a candidate before
// the description it belongs to.
func (l *Link) sendDescription(msg signaling.Message) {
	l.mu.Lock()
	l.send(msg)
	held := l.heldCandidates
	l.heldCandidates = nil
	l.described = true
	l.mu.Unlock()

	for _, c := range held {
		l.sendCandidate(c)
	}
}

// sendCandidate forwards a locally gathered candidate while the link lives.
func (l *Link) sendCandidate(c webrtc.ICECandidateInit) {
	if !l.live() {
		return
	}
	l.mu.Lock()
	if !l.described {
		l.heldCandidates = append(l.heldCandidates, c)
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	l.send(signaling.NewCandidate(l.remote, c))
}

func (l *Link) send(msg signaling.Message) {
	if err := l.out.Send(msg); err != nil {
		util.LogWith(util.LevelWarning, "Failed to send signaling message", "peer", l.remote, "action", msg.Action, "error", err)
	}
}

func (l *Link) logFailure(step string, err error) {
	util.LogWith(util.LevelError, "Negotiation step failed", "peer", l.remote, "step", step, "state", l.State(), "error", err)
}

// close releases the negotiation handle exactly once and marks the link
// Closed. Steps still queued are discarded.
func (l *Link) close() {
	l.closeOnce.Do(func() {
		l.cancel()
		if err := l.neg.Close(); err != nil {
			util.LogWarning("peer %s: close negotiator: %v", l.remote, err)
		}
		l.advance(Closed)
	})
}
