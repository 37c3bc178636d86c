package realtime

import (
	"sync"
	"time"

	"optiroute/internal/domain"
	"optiroute/internal/domain/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Close code sent before dropping a connection whose credential was rejected.
const CloseUnauthorized = 4401

const (
	writeWait = 5 * time.Second
	pongWait  = 60 * time.Second
)

// Transport is the subset of *websocket.Conn the gateway relies on.
// WriteJSON and pings are only ever issued from the connection's writer goroutine.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Conn is one live connection. State only moves forward:
// connecting -> authenticated -> disconnected, or connecting -> disconnected.
type Conn struct {
	ID string

	transport Transport
	send      chan models.OutFrame
	done      chan struct{}

	mu       sync.Mutex
	state    State
	subject  domain.Subject
	channels map[string]struct{}
}

func newConn(t Transport, buffer int) *Conn {
	if buffer <= 0 {
		buffer = 1
	}
	return &Conn{
		ID:        uuid.NewString(),
		transport: t,
		send:      make(chan models.OutFrame, buffer),
		done:      make(chan struct{}),
		state:     StateConnecting,
		channels:  map[string]struct{}{},
	}
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subject returns the identity resolved at handshake.
func (c *Conn) Subject() (domain.Subject, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subject, c.state == StateAuthenticated
}

func (c *Conn) authenticate(s domain.Subject) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting {
		return false
	}
	c.state = StateAuthenticated
	c.subject = s
	return true
}

// disconnect moves the connection to its terminal state and returns the state
// it left along with the channels it had joined.
func (c *Conn) disconnect() (State, []string) {
	c.mu.Lock()
	prev := c.state
	if prev == StateDisconnected {
		c.mu.Unlock()
		return prev, nil
	}
	c.state = StateDisconnected
	joined := make([]string, 0, len(c.channels))
	for name := range c.channels {
		joined = append(joined, name)
	}
	c.channels = map[string]struct{}{}
	c.mu.Unlock()

	close(c.done)
	c.transport.Close()
	return prev, joined
}

func (c *Conn) join(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAuthenticated {
		return false
	}
	c.channels[channel] = struct{}{}
	return true
}

func (c *Conn) Joined(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[channel]
	return ok
}

// Send queues a frame without blocking. It reports false when the connection
// is gone or its buffer is full.
func (c *Conn) Send(f models.OutFrame) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

// keepAlive arms the read deadline and pushes it forward on every pong.
func (c *Conn) keepAlive(wait time.Duration) {
	_ = c.transport.SetReadDeadline(time.Now().Add(wait))
	c.transport.SetPongHandler(func(string) error {
		return c.transport.SetReadDeadline(time.Now().Add(wait))
	})
}

func (c *Conn) writeLoop(period time.Duration, onError func(error)) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case f := <-c.send:
			_ = c.transport.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.transport.WriteJSON(f); err != nil {
				onError(err)
				return
			}
		case <-ticker.C:
			if err := c.transport.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				onError(err)
				return
			}
		}
	}
}

func (c *Conn) reject(reason string) {
	msg := websocket.FormatCloseMessage(CloseUnauthorized, reason)
	_ = c.transport.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.disconnect()
}
