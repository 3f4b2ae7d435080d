package signaling

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/meshroom/internal/util"
)

const writeWait = 10 * time.Second

// sender serializes outgoing frames to the WebSocket (private). Frames
// produced before the transport opens are held in queue.
type sender struct {
	ch *Channel

	mu     sync.Mutex
	conn   *websocket.Conn
	queue  [][]byte
	closed bool
}

// send stamps and writes msg, or appends it to the queue.
func (s *sender) send(msg Message) error {
	frame, err := s.encode(msg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.conn == nil {
		s.queue = append(s.queue, frame)
		s.mu.Unlock()
		util.Stats.AddQueued()
		return nil
	}
	err = s.write(frame)
	s.mu.Unlock()

	if err != nil {
		// shutdown takes mu, so the channel is stopped after unlocking.
		s.ch.terminate(err)
		return fmt.Errorf("failed to send %s: %w", msg.Action, err)
	}
	return nil
}

// open installs conn, writes first and then drains the queue in order.
func (s *sender) open(conn *websocket.Conn, first Message) error {
	frame, err := s.encode(first)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.conn != nil {
		return errAlreadyConnected
	}

	s.conn = conn
	if err := s.write(frame); err != nil {
		return fmt.Errorf("failed to send join: %w", err)
	}
	for len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]
		if err := s.write(next); err != nil {
			return fmt.Errorf("failed to flush queued frame: %w", err)
		}
	}
	s.queue = nil
	return nil
}

// shutdown drops the queue and closes the connection with a normal
// closure frame.
func (s *sender) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.queue = nil
	if s.conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		s.conn.Close()
	}
}

func (s *sender) queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *sender) encode(msg Message) ([]byte, error) {
	self := s.ch.self
	msg.RoomID = s.ch.roomID
	msg.UserID = self
	msg.SenderUserID = &self
	frame, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", msg.Action, err)
	}
	return frame, nil
}

// write must be called with mu held.
func (s *sender) write(frame []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return err
	}
	util.Stats.AddSent()
	return nil
}
