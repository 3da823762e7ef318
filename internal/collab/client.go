package collab

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/Realm-101/unbuilt-collab/internal/types"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client owns exactly one websocket for its lifetime. Inbound frames are
// decoded and routed to room operations; outbound delivery goes through a
// buffered send channel drained by the write pump.
type Client struct {
	conn      *websocket.Conn
	server    *CollabServer
	log       *log.Logger
	user      types.User
	sessionId string
	send      chan []byte
	routers   []Router

	stop        chan struct{}
	stopOnce    sync.Once
	cleanupOnce sync.Once
}

func NewClient(user types.User, sessionId string, conn *websocket.Conn, cs *CollabServer, l *log.Logger) *Client {
	return &Client{
		conn:      conn,
		server:    cs,
		log:       l,
		user:      user,
		sessionId: sessionId,
		send:      make(chan []byte, 256),
		routers:   cs.routers,
		stop:      make(chan struct{}),
	}
}

func (c *Client) User() types.User { return c.user }

func (c *Client) SessionId() string { return c.sessionId }

// Run sends the initial connected acknowledgment and starts the pumps.
func (c *Client) Run() {
	c.queueMessage(ConnectedMessage(c.user.Id))
	go c.Write()
	go c.Read()
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Printf("write exiting for session %q", c.sessionId)
	}()

	for {
		select {
		case raw, ok := <-c.send:
			if !ok {
				return
			}

			if !c.sendMessage(websocket.TextMessage, raw) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Printf("read exiting for session %q", c.sessionId)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		c.server.stats.Incr("MessagesReceived")

		msg, err := DecodeClientMessage(raw)
		if err != nil {
			c.log.Printf("decode message from user %d: %v", c.user.Id, err)
			c.queueMessage(ErrInvalidMessage())
			continue
		}

		c.dispatch(msg)
	}
}

// dispatch routes one decoded frame to the first router that handles its
// tag. A panic in a handler is confined to the frame; the receive loop
// keeps running.
func (c *Client) dispatch(msg *ClientMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Printf("panic handling %q message from user %d: %v", msg.Type, c.user.Id, r)
		}
	}()

	for _, rt := range c.routers {
		if rt.Handles(msg.Type) {
			rt.Handle(c, msg)
			return
		}
	}

	c.log.Printf("no router for message type %q", msg.Type)
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	raw, err := json.Marshal(msg)
	if err != nil {
		c.log.Println("failed to serialize message:", err)
		return false
	}

	return c.queueRaw(raw)
}

// queueRaw performs the per-send liveness check: a stopped client or a
// full buffer drops the frame rather than blocking the sender.
func (c *Client) queueRaw(raw []byte) bool {
	select {
	case <-c.stop:
		return false
	default:
	}

	select {
	case c.send <- raw:
		return true
	default:
		c.log.Printf("send buffer full for session %q, dropping message", c.sessionId)
		return false
	}
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// cleanup runs exactly once no matter how many times the transport
// signals close or error. It removes the user from every room whose
// participant entry still points at this connection.
func (c *Client) cleanup() {
	c.cleanupOnce.Do(func() {
		c.server.DeregisterClient(c)
		for _, room := range c.server.Registry().Snapshot() {
			if room.LeaveBySession(c.sessionId) {
				c.log.Printf("removed user %d from room %q on disconnect", c.user.Id, room.Id())
			}
		}
		c.stopClient()
	})
}
