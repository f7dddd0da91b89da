package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jwalitptl/roadside-api/pkg/auth"
	"github.com/jwalitptl/roadside-api/pkg/logger"
)

var ErrConnClosed = errors.New("connection closed")

type Config struct {
	// WriteWait bounds a single frame write.
	WriteWait time.Duration
	// PongWait is how long the peer may stay silent.
	PongWait time.Duration
	// PingPeriod must be less than PongWait.
	PingPeriod     time.Duration
	MaxMessageSize int64
	SendBuffer     int
	// ReplyTimeout bounds queueing a reply to a client frame.
	ReplyTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     64,
		ReplyTimeout:   time.Second,
	}
}

// Client is one websocket connection. It joins a room after the client sends
// a join frame carrying a valid token for the user it names.
type Client struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	// mu orders close against join so a closed client is never registered.
	mu       sync.Mutex
	closed   bool
	registry *Registry
	auth     auth.Authenticator
	cfg      Config
	logger   *logger.Logger
}

func NewClient(ws *websocket.Conn, registry *Registry, authenticator auth.Authenticator, cfg Config, log *logger.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		id:       id,
		ws:       ws,
		send:     make(chan []byte, cfg.SendBuffer),
		done:     make(chan struct{}),
		registry: registry,
		auth:     authenticator,
		cfg:      cfg,
		logger:   log.WithFields(map[string]interface{}{"connection_id": id}),
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) Send(ctx context.Context, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve runs the connection until the peer goes away or ctx is cancelled.
func (c *Client) Serve(ctx context.Context) {
	go c.writePump()

	stop := context.AfterFunc(ctx, c.close)
	defer stop()

	c.readPump(ctx)
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.registry.Leave(c.id)
	close(c.done)
}

// joinRoom registers the client under userID unless it has already closed.
func (c *Client) joinRoom(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.registry.Join(userID, c)
	return true
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.close()
		c.ws.Close()
	}()

	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket closed unexpectedly", "error", err.Error())
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reply(ctx, NewEnvelope(EventError, ErrorPayload{Message: "malformed frame"}))
			continue
		}

		switch msg.Event {
		case EventJoin:
			c.handleJoin(ctx, msg.Data)
		case EventLeave:
			userID, _ := c.registry.UserOf(c.id)
			c.registry.Leave(c.id)
			c.reply(ctx, NewEnvelope(EventLeftRoom, JoinedPayload{UserID: userID, ConnectionID: c.id}))
		default:
			c.reply(ctx, NewEnvelope(EventError, ErrorPayload{Message: "unknown event " + msg.Event}))
		}
	}
}

func (c *Client) handleJoin(ctx context.Context, data json.RawMessage) {
	var p JoinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.UserID == "" {
		c.reply(ctx, NewEnvelope(EventError, ErrorPayload{Message: "user_id is required"}))
		return
	}

	identity, err := c.auth.ValidateToken(ctx, p.Token)
	if err != nil {
		c.reply(ctx, NewEnvelope(EventError, ErrorPayload{Message: "invalid token"}))
		return
	}
	if identity.UserID != p.UserID {
		c.reply(ctx, NewEnvelope(EventError, ErrorPayload{Message: "token does not belong to user"}))
		return
	}

	if !c.joinRoom(p.UserID) {
		c.logger.Debug("connection closed during join", "user_id", p.UserID)
		return
	}
	c.logger.Debug("joined room", "user_id", p.UserID)
	c.reply(ctx, NewEnvelope(EventJoinedRoom, JoinedPayload{UserID: p.UserID, ConnectionID: c.id}))
}

func (c *Client) reply(ctx context.Context, env Envelope) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ReplyTimeout)
	defer cancel()
	if err := c.Send(ctx, env); err != nil {
		c.logger.Debug("reply dropped", "event", env.Event, "error", err.Error())
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}
