package mesh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/meshroom/internal/media"
	"github.com/1ureka/meshroom/internal/room"
	"github.com/1ureka/meshroom/internal/signaling"
	"github.com/1ureka/meshroom/internal/transport"
)

// fakeNegotiator records every call. Gathering is simulated by emitting
// one local candidate from SetLocalDescription.
type fakeNegotiator struct {
	self, remote room.ParticipantID

	mu         sync.Mutex
	calls      []string
	tracks     []webrtc.TrackLocal
	candidates []webrtc.ICECandidateInit
	closed     bool
	onCand     func(webrtc.ICECandidateInit)
	onTrack    func(media.RemoteTrack)
	onHealth   func(transport.Health)

	failOffer   error
	blockRemote chan struct{} // SetRemoteDescription waits on it when set
	entered     chan struct{} // closed when SetRemoteDescription starts
}

func (f *fakeNegotiator) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeNegotiator) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeNegotiator) CreateOffer() (webrtc.SessionDescription, error) {
	f.record("create-offer")
	if f.failOffer != nil {
		return webrtc.SessionDescription{}, f.failOffer
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer %d->%d", f.self, f.remote)}, nil
}

func (f *fakeNegotiator) CreateAnswer() (webrtc.SessionDescription, error) {
	f.record("create-answer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer %d->%d", f.self, f.remote)}, nil
}

func (f *fakeNegotiator) SetLocalDescription(d webrtc.SessionDescription) error {
	f.record("set-local-" + d.Type.String())
	f.mu.Lock()
	fn := f.onCand
	f.mu.Unlock()
	if fn != nil {
		fn(webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:%d", f.self)})
	}
	return nil
}

func (f *fakeNegotiator) SetRemoteDescription(d webrtc.SessionDescription) error {
	if f.entered != nil {
		close(f.entered)
	}
	if f.blockRemote != nil {
		<-f.blockRemote
	}
	f.record("set-remote-" + d.Type.String())
	return nil
}

func (f *fakeNegotiator) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.record("add-candidate " + c.Candidate)
	f.mu.Lock()
	f.candidates = append(f.candidates, c)
	f.mu.Unlock()
	return nil
}

func (f *fakeNegotiator) AddTrack(t webrtc.TrackLocal) error {
	f.mu.Lock()
	f.tracks = append(f.tracks, t)
	f.mu.Unlock()
	return nil
}

func (f *fakeNegotiator) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	f.mu.Lock()
	f.onCand = fn
	f.mu.Unlock()
}

func (f *fakeNegotiator) OnTrack(fn func(media.RemoteTrack)) {
	f.mu.Lock()
	f.onTrack = fn
	f.mu.Unlock()
}

func (f *fakeNegotiator) OnHealthChange(fn func(transport.Health)) {
	f.mu.Lock()
	f.onHealth = fn
	f.mu.Unlock()
}

func (f *fakeNegotiator) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeNegotiator) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeNegotiator) trackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tracks)
}

// fireTrack simulates a remote track arriving on a pion goroutine.
func (f *fakeNegotiator) fireTrack(kind webrtc.RTPCodecType, id string) {
	f.mu.Lock()
	fn := f.onTrack
	f.mu.Unlock()
	fn(media.RemoteTrack{Kind: kind, ID: id, StreamID: fmt.Sprintf("stream-%d", f.remote)})
}

func (f *fakeNegotiator) fireHealth(h transport.Health) {
	f.mu.Lock()
	fn := f.onHealth
	f.mu.Unlock()
	fn(h)
}

// fakeFactory hands out fakeNegotiators and remembers all of them.
type fakeFactory struct {
	self room.ParticipantID
	err  error

	mu      sync.Mutex
	created map[room.ParticipantID][]*fakeNegotiator
	prepare func(*fakeNegotiator)
}

func (f *fakeFactory) New(remote room.ParticipantID) (Negotiator, error) {
	if f.err != nil {
		return nil, f.err
	}
	n := &fakeNegotiator{self: f.self, remote: remote}
	f.mu.Lock()
	if f.prepare != nil {
		f.prepare(n)
	}
	if f.created == nil {
		f.created = make(map[room.ParticipantID][]*fakeNegotiator)
	}
	f.created[remote] = append(f.created[remote], n)
	f.mu.Unlock()
	return n, nil
}

func (f *fakeFactory) latest(t *testing.T, remote room.ParticipantID) *fakeNegotiator {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.created[remote]
	require.NotEmpty(t, list, "no negotiator for %s", remote)
	return list[len(list)-1]
}

func (f *fakeFactory) count(remote room.ParticipantID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created[remote])
}

// fakeOut collects outbound messages as the channel would stamp them.
type fakeOut struct {
	self room.ParticipantID

	mu   sync.Mutex
	msgs []signaling.Message
	err  error
}

func (o *fakeOut) Send(msg signaling.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	self := o.self
	msg.UserID = self
	msg.SenderUserID = &self
	o.msgs = append(o.msgs, msg)
	return nil
}

func (o *fakeOut) all() []signaling.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]signaling.Message(nil), o.msgs...)
}

func (o *fakeOut) byAction(a signaling.Action) []signaling.Message {
	var out []signaling.Message
	for _, m := range o.all() {
		if m.Action == a {
			out = append(out, m)
		}
	}
	return out
}

type harness struct {
	c       *Coordinator
	out     *fakeOut
	factory *fakeFactory
	cancel  context.CancelFunc
	done    chan error
}

func newHarness(t *testing.T, self room.ParticipantID, src MediaSource) *harness {
	t.Helper()
	out := &fakeOut{self: self}
	factory := &fakeFactory{self: self}
	c := New(Config{
		Self:          self,
		RoomID:        "r1",
		Out:           out,
		Media:         src,
		NewNegotiator: factory.New,
	})

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{c: c, out: out, factory: factory, cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- c.Run(ctx) }()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	<-h.c.stopped
}

// sync waits until every event posted so far has been handled.
func (h *harness) sync(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	h.c.post(func(context.Context) { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not drain its events")
	}
}

func (h *harness) deliver(t *testing.T, msgs ...signaling.Message) {
	t.Helper()
	for _, m := range msgs {
		h.c.HandleMessage(m)
	}
	h.sync(t)
}

func ptr(id room.ParticipantID) *room.ParticipantID { return &id }

func joined(self room.ParticipantID, clients ...room.ParticipantID) signaling.Message {
	return signaling.Message{Action: signaling.ActionJoined, RoomID: "r1", UserID: self, Clients: clients}
}

func newPeer(from room.ParticipantID) signaling.Message {
	return signaling.Message{Action: signaling.ActionNewPeer, RoomID: "r1", UserID: from, SenderUserID: ptr(from)}
}

func remoteOffer(from, to room.ParticipantID) signaling.Message {
	m := signaling.NewOffer(to, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer %d->%d", from, to)})
	m.RoomID, m.UserID, m.SenderUserID = "r1", from, ptr(from)
	return m
}

func remoteAnswer(from, to room.ParticipantID) signaling.Message {
	m := signaling.NewAnswer(to, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer %d->%d", from, to)})
	m.RoomID, m.UserID, m.SenderUserID = "r1", from, ptr(from)
	return m
}

func remoteCandidate(from, to room.ParticipantID, cand string) signaling.Message {
	m := signaling.NewCandidate(to, webrtc.ICECandidateInit{Candidate: cand})
	m.RoomID, m.UserID, m.SenderUserID = "r1", from, ptr(from)
	return m
}

var errCaptureDenied = errors.New("permission denied")

type failingSource struct{}

func (failingSource) EnsureLocalStream(context.Context) (*media.LocalStream, error) {
	return nil, errCaptureDenied
}
