// Package client holds the terminal client's core: the connection manager
// that keeps one logical WebSocket to the relay alive, the conversation state
// machine that owns the display transcript, and the client configuration.
package client

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/stulentsev/jean/internal/protocol"
)

// State of the logical connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// StatusUpdate is one connection-state transition. Reason is set only for
// StateError.
type StatusUpdate struct {
	State  State
	Reason string
}

const (
	reconnectDelay   = 2 * time.Second
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

// Conn owns the single logical connection to the relay. Run drives the
// connect/serve/reconnect loop forever; there is no retry cutoff. A reconnect
// is a fresh session: nothing queued or in flight survives it.
type Conn struct {
	url    string
	logger *zap.Logger

	outbound chan protocol.ClientMessage
	chunks   chan protocol.StreamChunk
	statusCh chan StatusUpdate

	delay time.Duration // reconnect delay, fixed; tests shorten it

	mu     sync.Mutex
	status StatusUpdate
}

// NewConn creates a connection manager for the given ws:// URL.
func NewConn(url string, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conn{
		url:      url,
		logger:   logger,
		outbound: make(chan protocol.ClientMessage, 16),
		chunks:   make(chan protocol.StreamChunk, 64),
		statusCh: make(chan StatusUpdate, 16),
		delay:    reconnectDelay,
		status:   StatusUpdate{State: StateDisconnected},
	}
}

// Chunks delivers decoded inbound frames in arrival order.
func (c *Conn) Chunks() <-chan protocol.StreamChunk { return c.chunks }

// StatusUpdates delivers every connection-state transition.
func (c *Conn) StatusUpdates() <-chan StatusUpdate { return c.statusCh }

// Status returns the latest status snapshot.
func (c *Conn) Status() StatusUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Send enqueues a message for transmission without blocking. When the
// transport is down, or the queue is full, the message is dropped and logged;
// no outbound buffering across reconnects is guaranteed.
func (c *Conn) Send(msg protocol.ClientMessage) {
	if c.Status().State != StateConnected {
		c.logger.Warn("dropping message, not connected")
		return
	}
	select {
	case c.outbound <- msg:
	default:
		c.logger.Warn("dropping message, outbound queue full")
	}
}

// Run loops: connect, serve until failure, wait the fixed delay, retry. It
// returns when ctx is done. Chunk and status channels close on return.
func (c *Conn) Run(ctx context.Context) {
	defer close(c.chunks)
	defer close(c.statusCh)

	for {
		c.setStatus(StatusUpdate{State: StateConnecting})
		c.logger.Debug("connecting", zap.String("url", c.url))

		dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
		ws, _, err := dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				c.setStatus(StatusUpdate{State: StateDisconnected})
				return
			}
			c.logger.Warn("connect failed", zap.Error(err))
			c.setStatus(StatusUpdate{State: StateError, Reason: err.Error()})
		} else {
			c.logger.Debug("connected")
			c.setStatus(StatusUpdate{State: StateConnected})
			c.serve(ctx, ws)
			ws.Close()
		}

		c.setStatus(StatusUpdate{State: StateDisconnected})
		c.drainOutbound()

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.delay):
		}
	}
}

// serve pumps one live connection: a reader goroutine decodes inbound frames
// onto the chunk channel while this goroutine drains the outbound queue.
// Either side failing ends the session.
func (c *Conn) serve(ctx context.Context, ws *websocket.Conn) {
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					c.logger.Warn("read failed", zap.Error(err))
				}
				return
			}
			chunk, err := protocol.DecodeStreamChunk(data)
			if err != nil {
				// Frame-local failure: drop it, keep the connection.
				c.logger.Warn("dropping malformed chunk", zap.Error(err))
				continue
			}
			select {
			case c.chunks <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			<-readDone
			return
		case <-readDone:
			return
		case msg := <-c.outbound:
			data, err := protocol.EncodeClientMessage(msg)
			if err != nil {
				c.logger.Error("encode message failed", zap.Error(err))
				continue
			}
			ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("write failed", zap.Error(err))
				<-readDone
				return
			}
		}
	}
}

// drainOutbound discards anything enqueued but unsent when the connection
// died. The queue does not carry over into the next session.
func (c *Conn) drainOutbound() {
	for {
		select {
		case <-c.outbound:
			c.logger.Warn("dropping queued message after disconnect")
		default:
			return
		}
	}
}

func (c *Conn) setStatus(s StatusUpdate) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()

	select {
	case c.statusCh <- s:
	default:
		// A slow consumer loses intermediate transitions, never the snapshot.
	}
}
