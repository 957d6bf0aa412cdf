package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxFrameSize   = 4096
	sendBufferSize = 64
)

// Authorizer decides whether a user may join a topic. Typing indicators are
// checked against the conversation topic too.
type Authorizer interface {
	CanJoin(ctx context.Context, userID uuid.UUID, topic string) bool
}

// Frame is what a client sends over the socket.
type Frame struct {
	Action         string    `json:"action"`
	Topic          string    `json:"topic,omitempty"`
	ConversationID uuid.UUID `json:"conversation_id,omitempty"`
}

// Client is one websocket connection. It is a Subscriber whose outbound
// queue is drained by its own write loop.
type Client struct {
	conn   *websocket.Conn
	hub    *Hub
	auth   Authorizer
	userID uuid.UUID
	logger *zap.Logger

	send      chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, hub *Hub, auth Authorizer, userID uuid.UUID, logger *zap.Logger) *Client {
	return &Client{
		conn:   conn,
		hub:    hub,
		auth:   auth,
		userID: userID,
		logger: logger.With(zap.String("user_id", userID.String())),
		send:   make(chan Event, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// Deliver queues ev without blocking. A full queue drops the event.
func (c *Client) Deliver(ev Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// Serve runs the connection until the peer goes away or ctx ends. The
// client is always subscribed to its own user topic.
func (c *Client) Serve(ctx context.Context) {
	stop := context.AfterFunc(ctx, c.Close)
	defer stop()

	c.hub.Subscribe(UserTopic(c.userID), c)
	c.logger.Debug("websocket connected")

	go c.writeLoop()
	c.readLoop(ctx)

	c.hub.UnsubscribeAll(c)
	c.close()
	c.logger.Debug("websocket disconnected")
}

// Close tells the peer the server is going away and ends the connection.
// Serve returns once its read loop sees the closed socket.
func (c *Client) Close() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.close()
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) readLoop(ctx context.Context) {
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read", zap.Error(err))
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.reply("error", "malformed frame")
			continue
		}
		c.handle(ctx, f)
	}
}

func (c *Client) handle(ctx context.Context, f Frame) {
	switch f.Action {
	case "subscribe":
		if !c.auth.CanJoin(ctx, c.userID, f.Topic) {
			c.reply("error", "cannot subscribe to "+f.Topic)
			return
		}
		c.hub.Subscribe(f.Topic, c)
		c.reply("subscribed", f.Topic)
	case "unsubscribe":
		c.hub.Unsubscribe(f.Topic, c)
		c.reply("unsubscribed", f.Topic)
	case EventTyping, EventStopTyping:
		topic := ConversationTopic(f.ConversationID)
		if !c.auth.CanJoin(ctx, c.userID, topic) {
			return
		}
		c.hub.Publish(ctx, topic, Event{
			Type: f.Action,
			Data: map[string]string{
				"conversation_id": f.ConversationID.String(),
				"user_id":         c.userID.String(),
			},
		})
	default:
		c.reply("error", "unknown action "+f.Action)
	}
}

func (c *Client) reply(kind, detail string) {
	c.Deliver(Event{Type: kind, Data: map[string]string{"detail": detail}})
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case ev := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.logger.Debug("websocket write", zap.Error(err))
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
