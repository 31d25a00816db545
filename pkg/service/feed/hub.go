package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/m-mizutani/meshsim/pkg/model"
	"github.com/m-mizutani/meshsim/pkg/utils/logging"
	"nhooyr.io/websocket"
)

const (
	clientBuffer = 64
	writeTimeout = 5 * time.Second
)

type client struct {
	send chan []byte
}

// Hub streams every newly created message to connected websocket clients as
// JSON. Slow clients whose buffer is full are disconnected.
type Hub struct {
	origins []string

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates a Hub. origins are host patterns accepted in addition to the
// request's own host; see websocket.AcceptOptions.OriginPatterns.
func NewHub(origins ...string) *Hub {
	return &Hub{
		origins: origins,
		clients: make(map[*client]struct{}),
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish is a bus listener broadcasting msg to every client
func (h *Hub) Publish(msg *model.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Default().Warn("failed to marshal feed message", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			close(c.send)
			delete(h.clients, c)
		}
	}
}

func (h *Hub) register() *client {
	c := &client{send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
	}
}

// ServeHTTP upgrades the request and writes messages until the client goes
// away or falls behind
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := logging.From(r.Context())

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// the feed is one-way; CloseRead handles control frames and cancels ctx
	// when the client disconnects
	ctx := conn.CloseRead(r.Context())

	c := h.register()
	defer h.unregister(c)
	logger.Info("feed client connected", "clients", h.Clients())

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "client too slow")
				return
			}
			if err := write(ctx, conn, data); err != nil {
				logger.Debug("feed write failed", "error", err)
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
