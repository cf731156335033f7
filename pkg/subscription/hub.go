package subscription

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/timewave-computer/almanac-sub002/pkg/event"
	"github.com/timewave-computer/almanac-sub002/pkg/metrics"
)

// Hub tracks every live connection and fans incoming events out to
// whichever subscriptions match (spec.md §4.I).
type Hub struct {
	upgrader      websocket.Upgrader
	store         Store
	logger        *log.Logger
	authenticator Authenticator

	mu          sync.RWMutex
	connections map[string]*Connection
}

// NewHub constructs a Hub backed by store for subscription durability.
// auth may be nil, in which case in-band Auth frames always report
// unauthenticated.
func NewHub(store Store, auth Authenticator, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		upgrader:      websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(*http.Request) bool { return true }},
		store:         store,
		authenticator: auth,
		logger:        logger,
		connections:   make(map[string]*Connection),
	}
}

// ServeHTTP upgrades the request to a WebSocket and runs the connection
// until it closes, registering and deregistering it with the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("subscription: upgrade failed: %v", err)
		return
	}

	conn := NewConnection(ws, h.store, h.logger)
	if h.authenticator != nil {
		conn.SetAuthenticator(h.authenticator)
	}
	h.register(conn)
	defer h.deregister(conn)

	conn.Run(r.Context())
}

func (h *Hub) register(c *Connection) {
	h.mu.Lock()
	h.connections[c.ID()] = c
	n := len(h.connections)
	h.mu.Unlock()
	metrics.ActiveSubscriptions.Set(float64(n))
}

func (h *Hub) deregister(c *Connection) {
	h.mu.Lock()
	delete(h.connections, c.ID())
	n := len(h.connections)
	h.mu.Unlock()
	metrics.ActiveSubscriptions.Set(float64(n))
}

// Broadcast delivers ev to every connection's matching subscriptions.
// Connections whose outbound queue is full are dropped (backpressure
// drops the connection, not the event stream for other subscribers).
func (h *Hub) Broadcast(ctx context.Context, ev event.Event) {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if !c.Deliver(ctx, ev) {
			h.logger.Printf("subscription: dropping connection %s, outbound queue full", c.ID())
			c.ws.Close()
			h.deregister(c)
		}
	}
}

// ConnectionCount reports the number of live connections (the same count
// register and deregister write to pkg/metrics' active-subscription gauge).
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}
