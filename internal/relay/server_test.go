package relay

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/meshroom/internal/room"
	"github.com/1ureka/meshroom/internal/signaling"
)

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(msg signaling.Message) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(msg))
}

func (c *client) join(roomID room.ID, id room.ParticipantID) signaling.Message {
	c.t.Helper()
	c.send(signaling.Message{Action: signaling.ActionJoin, RoomID: roomID, UserID: id})
	msg := c.next()
	require.Equal(c.t, signaling.ActionJoined, msg.Action)
	return msg
}

func (c *client) next() signaling.Message {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	msg, err := signaling.Parse(raw)
	require.NoError(c.t, err)
	return msg
}

func (c *client) silent(d time.Duration) {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(d))
	_, raw, err := c.conn.ReadMessage()
	assert.Error(c.t, err, "unexpected frame %s", raw)
}

func newRelay(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer()
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		s.Close()
	})
	return s, srv
}

func TestJoinAnnouncesMembership(t *testing.T) {
	s, srv := newRelay(t)

	host := dial(t, srv)
	first := host.join("r1", 1)
	assert.Empty(t, first.Clients)

	guest := dial(t, srv)
	joined := guest.join("r1", 2)
	assert.Equal(t, []room.ParticipantID{1}, joined.Clients)
	assert.Equal(t, room.ParticipantID(2), joined.UserID)

	announce := host.next()
	assert.Equal(t, signaling.ActionNewPeer, announce.Action)
	assert.Equal(t, room.ParticipantID(2), announce.Sender())

	assert.Equal(t, 1, s.Rooms())
	assert.Equal(t, 2, s.Members())
}

func TestTargetedNegotiationIsStamped(t *testing.T) {
	_, srv := newRelay(t)
	a := dial(t, srv)
	a.join("r1", 1)
	b := dial(t, srv)
	b.join("r1", 2)
	c := dial(t, srv)
	c.join("r1", 3)
	a.next() // new-peer 2
	a.next() // new-peer 3
	b.next() // new-peer 3

	offer := signaling.NewOffer(1, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	offer.RoomID, offer.UserID = "r1", 99 // a lying userID is overwritten
	c.send(offer)

	got := a.next()
	assert.Equal(t, signaling.ActionOffer, got.Action)
	assert.Equal(t, room.ParticipantID(3), got.Sender())
	assert.Equal(t, room.ParticipantID(3), got.UserID)
	b.silent(100 * time.Millisecond)
}

func TestUntargetedNegotiationIsBroadcast(t *testing.T) {
	_, srv := newRelay(t)
	a := dial(t, srv)
	a.join("r1", 1)
	b := dial(t, srv)
	b.join("r1", 2)
	a.next()

	cand := signaling.NewCandidate(0, webrtc.ICECandidateInit{Candidate: "candidate:1"})
	cand.TargetUserID = nil
	b.send(cand)

	got := a.next()
	assert.Equal(t, signaling.ActionCandidate, got.Action)
	assert.Equal(t, room.ParticipantID(2), got.Sender())
	b.silent(100 * time.Millisecond)
}

func TestRoomsAreIsolated(t *testing.T) {
	_, srv := newRelay(t)
	a := dial(t, srv)
	a.join("r1", 1)
	b := dial(t, srv)
	joined := b.join("r2", 2)
	assert.Empty(t, joined.Clients)

	b.send(signaling.NewOffer(1, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}))
	a.silent(100 * time.Millisecond)
}

func TestDuplicateParticipantIsRejected(t *testing.T) {
	s, srv := newRelay(t)
	a := dial(t, srv)
	a.join("r1", 1)

	dup := dial(t, srv)
	dup.send(signaling.Message{Action: signaling.ActionJoin, RoomID: "r1", UserID: 1})
	dup.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := dup.conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
	assert.Equal(t, 1, s.Members())
}

func TestDisconnectRemovesMemberAndEmptyRoom(t *testing.T) {
	s, srv := newRelay(t)
	a := dial(t, srv)
	a.join("r1", 1)
	b := dial(t, srv)
	b.join("r1", 2)

	b.conn.Close()
	assert.Eventually(t, func() bool { return s.Members() == 1 }, 2*time.Second, 10*time.Millisecond)

	a.conn.Close()
	assert.Eventually(t, func() bool { return s.Rooms() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestMalformedFramesAreIgnored(t *testing.T) {
	s, srv := newRelay(t)
	a := dial(t, srv)
	require.NoError(t, a.conn.WriteMessage(websocket.TextMessage, []byte(`nope`)))
	a.join("r1", 1)
	assert.Equal(t, 1, s.Members())
}
