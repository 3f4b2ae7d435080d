// Package relay is a development signaling relay: it tracks room membership
// and forwards negotiation messages between the participants of a room. It
// carries no media and performs no authentication.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/meshroom/internal/room"
	"github.com/1ureka/meshroom/internal/signaling"
	"github.com/1ureka/meshroom/internal/util"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server holds every room known to the relay.
type Server struct {
	mu    sync.Mutex
	rooms map[room.ID]map[room.ParticipantID]*member

	listener net.Listener
	http     *http.Server
}

func NewServer() *Server {
	return &Server{rooms: make(map[room.ID]map[room.ParticipantID]*member)}
}

// Handler serves the relay WebSocket on /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Start begins listening on addr (":0" picks a free port) and returns the
// bound address.
func (s *Server) Start(addr string) (string, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to start relay: %w", err)
	}
	s.listener = listener
	s.http = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("Relay stopped: %v", err)
		}
	}()

	return listener.Addr().String(), nil
}

// Close stops accepting connections and drops every member.
func (s *Server) Close() error {
	var err error
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		err = s.http.Shutdown(ctx)
	}

	s.mu.Lock()
	var all []*member
	for _, members := range s.rooms {
		for _, m := range members {
			all = append(all, m)
		}
	}
	s.mu.Unlock()
	for _, m := range all {
		m.conn.Close()
	}
	return err
}

// Rooms returns the number of non-empty rooms.
func (s *Server) Rooms() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

// Members returns the number of joined participants across all rooms.
func (s *Server) Members() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, members := range s.rooms {
		n += len(members)
	}
	return n
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogWarning("Relay upgrade failed: %v", err)
		return
	}

	m := newMember(s, conn)
	go m.writePump()
	go m.readPump()
}

// join registers m and returns the members that were already in the room.
func (s *Server) join(m *member, roomID room.ID, id room.ParticipantID) ([]*member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.rooms[roomID]
	if !ok {
		members = make(map[room.ParticipantID]*member)
		s.rooms[roomID] = members
		util.LogInfo("Room %s created", roomID)
	}
	if _, taken := members[id]; taken {
		return nil, fmt.Errorf("participant %s already in room %s", id, roomID)
	}

	existing := make([]*member, 0, len(members))
	for _, other := range members {
		existing = append(existing, other)
	}
	m.roomID, m.id, m.joined = roomID, id, true
	members[id] = m
	return existing, nil
}

func (s *Server) leave(m *member) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := s.rooms[m.roomID]
	if members[m.id] != m {
		return
	}
	delete(members, m.id)
	util.LogInfo("Participant %s left room %s", m.id, m.roomID)
	if len(members) == 0 {
		delete(s.rooms, m.roomID)
		util.LogInfo("Room %s removed", m.roomID)
	}
}

// peers returns every other member of m's room, or only target when set.
func (s *Server) peers(m *member, target *room.ParticipantID) []*member {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := s.rooms[m.roomID]
	if target != nil {
		if other, ok := members[*target]; ok && other != m {
			return []*member{other}
		}
		return nil
	}
	out := make([]*member, 0, len(members))
	for id, other := range members {
		if id != m.id {
			out = append(out, other)
		}
	}
	return out
}

// route handles one validated frame from m.
func (s *Server) route(m *member, msg signaling.Message) {
	switch msg.Action {
	case signaling.ActionJoin:
		s.onJoin(m, msg)

	case signaling.ActionOffer, signaling.ActionAnswer, signaling.ActionCandidate:
		if !m.joined {
			util.LogWarning("Relay: %s before join, dropped", msg.Action)
			return
		}
		id := m.id
		msg.RoomID, msg.UserID, msg.SenderUserID = m.roomID, id, &id

		targets := s.peers(m, msg.TargetUserID)
		if len(targets) == 0 && msg.TargetUserID != nil {
			util.LogWarning("Relay: %s for unknown participant %s in room %s", msg.Action, *msg.TargetUserID, m.roomID)
			return
		}
		for _, other := range targets {
			other.deliver(msg)
		}

	default:
		util.LogWarning("Relay: unexpected %s from client, dropped", msg.Action)
	}
}

func (s *Server) onJoin(m *member, msg signaling.Message) {
	if m.joined {
		util.LogWarning("Relay: participant %s joined twice, ignored", m.id)
		return
	}
	if msg.RoomID == "" {
		util.LogWarning("Relay: join without room id, dropped")
		return
	}

	existing, err := s.join(m, msg.RoomID, msg.UserID)
	if err != nil {
		util.LogWarning("Relay: %v", err)
		m.reject(err.Error())
		return
	}
	util.LogInfo("Participant %s joined room %s (%d already present)", msg.UserID, msg.RoomID, len(existing))

	clients := make([]room.ParticipantID, 0, len(existing))
	for _, other := range existing {
		clients = append(clients, other.id)
	}
	m.deliver(signaling.Message{
		Action:  signaling.ActionJoined,
		RoomID:  m.roomID,
		UserID:  m.id,
		Clients: clients,
	})

	id := m.id
	announce := signaling.Message{
		Action:       signaling.ActionNewPeer,
		RoomID:       m.roomID,
		UserID:       id,
		SenderUserID: &id,
	}
	for _, other := range existing {
		other.deliver(announce)
	}
}
