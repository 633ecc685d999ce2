package livefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/septivank/raven-tracer/internal/raven"
	"go.uber.org/zap"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboards are served from other origins on the LAN
	},
}

// client serialises writes; gorilla connections allow one concurrent writer
type client struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *client) write(body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, body)
}

// Hub broadcasts readings to websocket clients and remembers the latest one
type Hub struct {
	serviceName string
	logger      *zap.Logger

	mu      sync.RWMutex
	clients map[*client]bool
	latest  []byte
}

// NewHub creates an empty hub
func NewHub(serviceName string, logger *zap.Logger) *Hub {
	return &Hub{
		serviceName: serviceName,
		logger:      logger,
		clients:     make(map[*client]bool),
	}
}

// Observe records r as the latest reading and pushes it to every client
func (h *Hub) Observe(_ context.Context, r raven.Reading) error {
	event, ok := raven.NewEvent(r)
	if !ok {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	h.mu.Lock()
	h.latest = body
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.write(body); err != nil {
			h.logger.Debug("dropping websocket client", zap.Error(err))
			h.remove(c)
		}
	}
	return nil
}

// Clients returns the number of connected websocket clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Latest returns the JSON of the most recent reading, or nil
func (h *Hub) Latest() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.conn.Close()
	}
}

// Handler serves /, /latest and /ws
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"service": h.serviceName,
			"status":  "running",
			"clients": h.Clients(),
		})
	})

	mux.HandleFunc("/latest", func(w http.ResponseWriter, r *http.Request) {
		latest := h.Latest()
		if latest == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "No readings available yet",
			})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(latest)
	})

	mux.HandleFunc("/ws", h.serveWS)

	return mux
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn}
	if latest := h.Latest(); latest != nil {
		if err := c.write(latest); err != nil {
			conn.Close()
			return
		}
	}
	h.add(c)

	// clients only listen; reading detects the disconnect
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
