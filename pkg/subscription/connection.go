package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/timewave-computer/almanac-sub002/pkg/event"
)

const (
	outboundQueueSize = 64
	pongWait          = 60 * time.Second
	pingInterval      = 30 * time.Second
)

// Connection owns one WebSocket, its reader/writer goroutines, and the set
// of subscriptions it has active (spec.md §4.I).
type Connection struct {
	id     string
	ws     *websocket.Conn
	store  Store
	logger *log.Logger

	send chan []byte

	authenticator Authenticator

	mu            sync.Mutex
	subscriptions map[string]*Record
	authenticated bool
	user          string
	role          string

	lastPong time.Time
}

// NewConnection wraps an already-upgraded WebSocket as a managed
// connection with a fresh connection ID.
func NewConnection(ws *websocket.Conn, store Store, logger *log.Logger) *Connection {
	if logger == nil {
		logger = log.Default()
	}
	return &Connection{
		id:            uuid.NewString(),
		ws:            ws,
		store:         store,
		logger:        logger,
		send:          make(chan []byte, outboundQueueSize),
		subscriptions: make(map[string]*Record),
		lastPong:      time.Now(),
	}
}

// ID returns the connection's identifier, used as the durable
// subscription store's connection_id.
func (c *Connection) ID() string { return c.id }

// Run drives the connection until it closes: a writer goroutine drains the
// outbound queue and sends heartbeat pings, while the calling goroutine
// reads inbound frames. Run blocks until the connection ends.
func (c *Connection) Run(ctx context.Context) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop(connCtx)
	}()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.readLoop(connCtx)
	cancel()
	wg.Wait()
	c.deactivateAll(context.Background())
}

func (c *Connection) readLoop(ctx context.Context) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.sendError("", "INVALID_MESSAGE", "could not parse message")
			continue
		}
		c.handle(ctx, env)
	}
}

func (c *Connection) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkPongTimeout()
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func (c *Connection) checkPongTimeout() {
	c.mu.Lock()
	last := c.lastPong
	c.mu.Unlock()
	if time.Since(last) > pongWait {
		c.ws.Close()
	}
}

func (c *Connection) handle(ctx context.Context, env Envelope) {
	switch env.Type {
	case MsgSubscribe:
		var p SubscribePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.sendError("", "INVALID_SUBSCRIBE", err.Error())
			return
		}
		c.subscribe(ctx, p)
	case MsgUnsubscribe:
		var p UnsubscribePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.sendError("", "INVALID_UNSUBSCRIBE", err.Error())
			return
		}
		c.unsubscribe(ctx, p.ID)
	case MsgAuth:
		var p AuthPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.sendError("", "INVALID_AUTH", err.Error())
			return
		}
		c.authenticate(p)
	case MsgPing:
		c.enqueue(MsgPong, PongPayload{Timestamp: time.Now().Unix()})
	default:
		c.sendError("", "UNKNOWN_MESSAGE_TYPE", fmt.Sprintf("unrecognized type %q", env.Type))
	}
}

// Authenticator validates a bearer token and resolves the caller's
// identity, implemented by pkg/auth.
type Authenticator interface {
	ValidateToken(token string) (user, role string, err error)
}

// SetAuthenticator wires in-band token auth; without one, Auth messages
// always report unauthenticated.
func (c *Connection) SetAuthenticator(a Authenticator) { c.authenticator = a }

func (c *Connection) authenticate(p AuthPayload) {
	if c.authenticator == nil {
		c.enqueue(MsgAuthResponse, AuthResponsePayload{Authenticated: false})
		return
	}
	user, role, err := c.authenticator.ValidateToken(p.Token)
	if err != nil {
		c.enqueue(MsgAuthResponse, AuthResponsePayload{Authenticated: false})
		return
	}
	c.mu.Lock()
	c.authenticated = true
	c.user = user
	c.role = role
	c.mu.Unlock()
	c.enqueue(MsgAuthResponse, AuthResponsePayload{Authenticated: true, User: user, Role: role})
}

func (c *Connection) subscribe(ctx context.Context, p SubscribePayload) {
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	record := &Record{
		ID:           id,
		ConnectionID: c.id,
		Filters:      p.Filters,
		Limit:        p.Limit,
		Active:       true,
	}

	if c.store != nil {
		if err := c.store.SaveSubscription(ctx, record); err != nil {
			c.sendError(id, "SUBSCRIBE_FAILED", err.Error())
			return
		}
	}

	c.mu.Lock()
	c.subscriptions[id] = record
	c.mu.Unlock()
}

func (c *Connection) unsubscribe(ctx context.Context, id string) {
	c.mu.Lock()
	delete(c.subscriptions, id)
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.DeactivateSubscription(ctx, id); err != nil {
			c.logger.Printf("subscription: deactivate %s failed: %v", id, err)
		}
	}
}

func (c *Connection) deactivateAll(ctx context.Context) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.subscriptions))
	for id := range c.subscriptions {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.unsubscribe(ctx, id)
	}
}

// Deliver routes ev to every active subscription that matches it,
// incrementing each subscription's delivered count and auto-deactivating
// on reaching its limit. Returns false if the connection's outbound queue
// was full, signaling the caller to drop the connection rather than the
// event stream for other subscribers.
func (c *Connection) Deliver(ctx context.Context, ev event.Event) bool {
	c.mu.Lock()
	var matched []*Record
	for _, r := range c.subscriptions {
		if r.Matches(ev) {
			matched = append(matched, r)
		}
	}
	c.mu.Unlock()

	for _, r := range matched {
		msg, err := encode(MsgEvent, EventPayload{SubscriptionID: r.ID, Event: ev})
		if err != nil {
			continue
		}
		select {
		case c.send <- msg:
		default:
			return false
		}

		r.DeliveredCount++
		if c.store != nil {
			_ = c.store.UpdateSubscriptionCount(ctx, r.ID, r.DeliveredCount)
		}
		if r.Limit > 0 && r.DeliveredCount >= r.Limit {
			c.unsubscribe(ctx, r.ID)
		}
	}
	return true
}

func (c *Connection) sendError(id, code, message string) {
	c.enqueue(MsgError, ErrorPayload{ID: id, Error: message, Code: code})
}

func (c *Connection) enqueue(t MessageType, payload any) {
	msg, err := encode(t, payload)
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}
