package signaling

import (
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/meshroom/internal/util"
)

const maxFrameSize = 1 << 20

// receiver reads frames from the relay and hands valid messages to the
// channel's handler (private).
type receiver struct {
	ch   *Channel
	conn *websocket.Conn
}

// watch runs until the connection fails or the channel is closed.
// Malformed frames are logged and skipped.
func (r *receiver) watch() {
	r.conn.SetReadLimit(maxFrameSize)
	if r.ch.pingInterval > 0 {
		wait := r.ch.pongWait()
		r.conn.SetReadDeadline(time.Now().Add(wait))
		r.conn.SetPongHandler(func(string) error {
			return r.conn.SetReadDeadline(time.Now().Add(wait))
		})
	}

	for {
		kind, raw, err := r.conn.ReadMessage()
		if err != nil {
			r.ch.terminate(readError(err))
			return
		}
		if kind != websocket.TextMessage {
			util.LogWarning("Dropped non-text frame from relay (type %d)", kind)
			util.Stats.AddDropped()
			continue
		}

		msg, err := Parse(raw)
		if err != nil {
			util.LogWith(util.LevelWarning, "Dropped malformed frame", "error", err, "size", len(raw))
			util.Stats.AddDropped()
			continue
		}
		util.Stats.AddRecv()

		if r.ch.handler != nil {
			r.ch.handler(msg)
		}
	}
}

func readError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return fmt.Errorf("relay closed the connection (%d %s): %w", ce.Code, ce.Text, ErrClosed)
	}
	return fmt.Errorf("failed to read from relay: %w", err)
}
