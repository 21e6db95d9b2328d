package chat

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"chat-service/internal/middleware"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 10 * time.Second
	maxFrameSize   = 4096
	sendBufferSize = 256

	commandTimeout = 5 * time.Second
)

// Client is one live connection. Its ReadPump processes inbound commands
// strictly in arrival order, which is the per-sender ordering guarantee.
type Client struct {
	hub     *Hub
	router  *Router
	conn    *websocket.Conn
	send    chan []byte
	limiter *middleware.RateLimiter

	// username is set once on join, before the client is handed to the hub.
	username string
	joined   bool

	// ticketUser, when non-empty, pins the name this connection may join as.
	ticketUser string

	lastWarning time.Time

	// mu orders sends on the send channel against its close: the hub tears a
	// client down while its own goroutines may still be replying.
	mu     sync.Mutex
	closed bool
}

func NewClient(hub *Hub, router *Router, conn *websocket.Conn, limiter *middleware.RateLimiter) *Client {
	return &Client{
		hub:     hub,
		router:  router,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		limiter: limiter,
	}
}

// Username returns the name this connection joined under, or "" before join.
func (c *Client) Username() string {
	return c.username
}

// close releases the connection resources exactly once. Safe to call from
// the hub loop and from pump teardown concurrently.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	if c.conn != nil {
		c.conn.Close()
	}
}

// trySend queues payload without blocking. It reports false only when the
// buffer is full; a closed client swallows the payload, so a reply racing the
// hub's teardown is dropped instead of panicking on the closed channel.
func (c *Client) trySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// sendEvent queues an event on this connection only, bypassing the hub.
// Used for command replies (errors, history snapshots).
func (c *Client) sendEvent(ev *Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[CLIENT] Failed to encode %s event: %v", ev.Type, err)
		return
	}
	if !c.trySend(payload) {
		log.Printf("[CLIENT] Dropping %s event for %s: buffer full", ev.Type, c.username)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.hub.Unregister <- c
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				msg, ok := <-c.send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(msg)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister <- c
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[CLIENT] Unexpected close: %v", err)
			}
			break
		}

		if !c.limiter.Allow() {
			if time.Since(c.lastWarning) > 3*time.Second {
				c.sendEvent(&Event{Type: EvtError, Error: "rate limit exceeded"})
				c.lastWarning = time.Now()
			}
			continue
		}

		cmd := &Command{}
		if err := json.Unmarshal(raw, cmd); err != nil {
			c.sendEvent(&Event{Type: EvtError, Error: "malformed command"})
			continue
		}

		c.handle(cmd)
	}
}

// handle runs one command to completion before the next frame is read.
// A disconnect mid-command never cancels writes already issued: the context
// below is detached from the connection's lifetime.
func (c *Client) handle(cmd *Command) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch cmd.Type {
	case CmdJoin:
		c.handleJoin(ctx, cmd)

	case CmdSendPublic:
		if !c.joined {
			c.sendEvent(&Event{Type: EvtError, Error: "join before sending"})
			return
		}
		if err := c.router.SendPublic(ctx, c.username, cmd.Body, cmd.Room); err != nil {
			c.sendEvent(&Event{Type: EvtError, Error: err.Error()})
		}

	case CmdSendPrivate:
		if !c.joined {
			c.sendEvent(&Event{Type: EvtError, Error: "join before sending"})
			return
		}
		if _, err := c.router.SendPrivate(ctx, c.username, cmd.Recipient, cmd.Body); err != nil {
			c.sendEvent(&Event{Type: EvtError, Error: err.Error()})
		}

	case CmdDeleteMessage:
		if !c.joined {
			return
		}
		if err := c.router.DeleteMessage(ctx, cmd.ID, c.username); err != nil {
			c.sendEvent(&Event{Type: EvtError, Error: err.Error()})
		}

	case CmdClearAll:
		if !c.joined {
			return
		}
		if err := c.router.ClearAll(ctx); err != nil {
			c.sendEvent(&Event{Type: EvtError, Error: err.Error()})
		}

	default:
		c.sendEvent(&Event{Type: EvtError, Error: "unknown command type"})
	}
}

func (c *Client) handleJoin(ctx context.Context, cmd *Command) {
	username := strings.TrimSpace(cmd.Username)
	if username == "" {
		c.sendEvent(&Event{Type: EvtError, Error: "username is required"})
		return
	}
	if c.joined {
		c.sendEvent(&Event{Type: EvtError, Error: "already joined"})
		return
	}
	if c.ticketUser != "" && username != c.ticketUser {
		c.sendEvent(&Event{Type: EvtError, Error: "username does not match ticket"})
		return
	}

	c.username = username
	c.joined = true
	c.hub.Register <- c
	log.Printf("[CLIENT] %s joined the chat", username)

	// History snapshots go only to the joining connection. Failures here are
	// display gaps, not protocol errors; the client can refetch over REST.
	public, err := c.router.PublicHistory(ctx)
	if err != nil {
		log.Printf("[CLIENT] History snapshot failed for %s: %v", username, err)
	} else {
		c.sendEvent(&Event{Type: EvtHistory, Messages: public})
	}

	private, err := c.router.PrivateHistoryFor(ctx, username)
	if err != nil {
		log.Printf("[CLIENT] Private history snapshot failed for %s: %v", username, err)
	} else {
		c.sendEvent(&Event{Type: EvtPrivateHistory, Messages: private})
	}
}
