package signaling

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/meshroom/internal/room"
	"github.com/1ureka/meshroom/internal/util"
)

var (
	// ErrClosed is returned by operations on a channel after Close or
	// after the relay transport was lost.
	ErrClosed = errors.New("signaling: channel closed")

	errAlreadyConnected = errors.New("signaling: channel already connected")
)

// DefaultPingInterval is the keepalive period used when none is configured.
const DefaultPingInterval = 30 * time.Second

// Channel is a room-scoped message pipe to the relay. Messages sent before
// Connect are queued and flushed after the join frame; once the transport
// is lost the channel stays closed.
type Channel struct {
	roomID       room.ID
	self         room.ParticipantID
	pingInterval time.Duration

	handler func(Message)

	sender *sender

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// Option customizes a Channel.
type Option func(*Channel)

// WithPingInterval sets the keepalive period. Zero disables pings and
// read deadlines.
func WithPingInterval(d time.Duration) Option {
	return func(c *Channel) { c.pingInterval = d }
}

// New returns a channel for self in roomID. It does no I/O until Connect.
func New(roomID room.ID, self room.ParticipantID, opts ...Option) *Channel {
	c := &Channel{
		roomID:       roomID,
		self:         self,
		pingInterval: DefaultPingInterval,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.sender = &sender{ch: c}
	return c
}

// OnMessage registers the handler for valid inbound messages. It must be
// called before Connect; the handler runs on the read goroutine.
func (c *Channel) OnMessage(fn func(Message)) {
	c.handler = fn
}

// Connect dials the relay, writes the join frame, flushes the queue in
// FIFO order and starts reading.
func (c *Channel) Connect(ctx context.Context, url string) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	conn, err := dial(ctx, url)
	if err != nil {
		return err
	}

	join := Message{Action: ActionJoin}
	if err := c.sender.open(conn, join); err != nil {
		conn.Close()
		if errors.Is(err, ErrClosed) || errors.Is(err, errAlreadyConnected) {
			return err
		}
		c.terminate(err)
		return err
	}
	util.LogInfo("Joined room %s as %s via %s", c.roomID, c.self, url)

	r := &receiver{ch: c, conn: conn}
	go r.watch()
	if c.pingInterval > 0 {
		go c.keepalive(conn)
	}
	return nil
}

// Send stamps msg with the room and sender identity and writes it, or
// queues it while the transport is not open yet.
func (c *Channel) Send(msg Message) error {
	return c.sender.send(msg)
}

// Close releases the transport and discards queued messages. It is safe
// to call more than once.
func (c *Channel) Close() error {
	c.terminate(nil)
	return nil
}

// Done is closed when the channel stops, either by Close or because the
// relay transport was lost.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Err returns the transport error that stopped the channel, or nil.
func (c *Channel) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Queued returns the number of frames waiting for the transport.
func (c *Channel) Queued() int {
	return c.sender.queued()
}

// terminate records err, shuts the sender down and closes done. Readers
// that fail because shutdown closed the connection block on closeOnce and
// then see a no-op, so Close never reports a transport error.
func (c *Channel) terminate(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		if err != nil {
			util.LogError("Relay transport lost: %v", err)
		}
		c.sender.shutdown()
		close(c.done)
	})
}

// keepalive pings the relay until the channel stops. WriteControl may run
// concurrently with the sender's writes.
func (c *Channel) keepalive(conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(writeWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.terminate(err)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Channel) pongWait() time.Duration {
	return 2 * c.pingInterval
}
