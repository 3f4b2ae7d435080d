package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/meshroom/internal/room"
	"github.com/1ureka/meshroom/internal/signaling"
	"github.com/1ureka/meshroom/internal/util"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
	maxFrameSize   = 1 << 20
)

// member is one WebSocket connection. Room fields are set by join and only
// read afterwards on the member's read goroutine.
type member struct {
	srv  *Server
	conn *websocket.Conn
	send chan []byte

	roomID room.ID
	id     room.ParticipantID
	joined bool

	closeOnce sync.Once
	closed    chan struct{}
}

func newMember(srv *Server, conn *websocket.Conn) *member {
	return &member{
		srv:    srv,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
	}
}

// deliver queues msg for the write pump, dropping it when the buffer is full.
func (m *member) deliver(msg signaling.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		util.LogError("Relay: failed to encode %s: %v", msg.Action, err)
		return
	}
	select {
	case m.send <- data:
	case <-m.closed:
	default:
		util.LogWarning("Relay: send buffer of %s full, dropped %s", m.id, msg.Action)
	}
}

// reject closes the connection with a policy violation.
func (m *member) reject(reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = m.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	m.shutdown()
}

func (m *member) shutdown() {
	m.closeOnce.Do(func() {
		close(m.closed)
		m.conn.Close()
	})
}

func (m *member) readPump() {
	defer func() {
		if m.joined {
			m.srv.leave(m)
		}
		m.shutdown()
	}()

	m.conn.SetReadLimit(maxFrameSize)
	m.conn.SetReadDeadline(time.Now().Add(pongWait))
	m.conn.SetPongHandler(func(string) error {
		return m.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	// A client ping is activity as well; reply and extend the deadline.
	m.conn.SetPingHandler(func(data string) error {
		m.conn.SetReadDeadline(time.Now().Add(pongWait))
		err := m.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	for {
		_, raw, err := m.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				util.LogWarning("Relay: read error from %s: %v", m.id, err)
			}
			return
		}

		msg, err := signaling.Parse(raw)
		if err != nil {
			util.LogWarning("Relay: %v", err)
			continue
		}
		m.srv.route(m, msg)
	}
}

func (m *member) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		m.shutdown()
	}()

	for {
		select {
		case data := <-m.send:
			m.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := m.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			m.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := m.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-m.closed:
			return
		}
	}
}
