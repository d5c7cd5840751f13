package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	subscriberSize = 64
)

// Hub broadcasts notifications to websocket subscribers of an organization.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*subscriber]struct{}
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

type subscriber struct {
	conn  *websocket.Conn
	orgID string
	send  chan []byte
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log.With().Str("component", "realtime").Logger(),
	}
}

// ServeHTTP upgrades the request and subscribes it to the organization
// named by the organization_id query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("organization_id")
	if orgID == "" {
		http.Error(w, "organization_id is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	sub := &subscriber{conn: conn, orgID: orgID, send: make(chan []byte, subscriberSize)}
	h.mu.Lock()
	h.clients[sub] = struct{}{}
	h.mu.Unlock()

	h.log.Debug().Str("organization_id", orgID).Msg("Subscriber connected")

	go h.writePump(sub)
	h.readPump(sub)
}

// readPump only watches for the peer going away.
func (h *Hub) readPump(sub *subscriber) {
	defer h.remove(sub)

	sub.conn.SetReadLimit(512)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = sub.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(sub)
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(sub)
				return
			}
		}
	}
}

// remove unregisters sub exactly once and closes its queue.
func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[sub]; !ok {
		return
	}
	delete(h.clients, sub)
	close(sub.send)
}

// Send queues n for every subscriber of its organization. Subscribers
// whose queue is full are disconnected and reported in the error.
func (h *Hub) Send(_ context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	var slow []*subscriber
	h.mu.RLock()
	for sub := range h.clients {
		if sub.orgID != n.OrganizationID {
			continue
		}
		select {
		case sub.send <- payload:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.remove(sub)
	}
	if len(slow) > 0 {
		return fmt.Errorf("dropped %d slow subscribers of %s", len(slow), n.OrganizationID)
	}
	return nil
}

// Subscribers returns the number of live subscribers of an organization.
func (h *Hub) Subscribers(orgID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for sub := range h.clients {
		if sub.orgID == orgID {
			n++
		}
	}
	return n
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.clients {
		delete(h.clients, sub)
		close(sub.send)
	}
}
