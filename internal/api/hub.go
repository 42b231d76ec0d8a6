package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/worldorder/internal/world"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 256
)

// Message is one frame on the event stream.
type Message struct {
	RunID string      `json:"run_id"`
	Event world.Event `json:"event"`
}

// Hub fans committed events out to websocket subscribers of each run.
// It implements engine.Sink.
type Hub struct {
	mu      sync.RWMutex
	clients map[*subscriber]struct{}
	max     int
}

type subscriber struct {
	hub   *Hub
	runID string
	conn  *websocket.Conn
	send  chan []byte
	once  sync.Once
}

// NewHub creates a hub accepting at most maxClients connections (0 = no limit).
func NewHub(maxClients int) *Hub {
	return &Hub{clients: make(map[*subscriber]struct{}), max: maxClients}
}

// Publish implements engine.Sink. Slow subscribers are dropped rather than
// allowed to block the tick.
func (h *Hub) Publish(runID string, e world.Event) {
	payload, err := json.Marshal(Message{RunID: runID, Event: e})
	if err != nil {
		slog.Error("stream marshal failed", "run", runID, "error", err)
		return
	}

	h.mu.RLock()
	var slow []*subscriber
	for s := range h.clients {
		if s.runID != runID {
			continue
		}
		select {
		case s.send <- payload:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		slog.Warn("dropping slow stream subscriber", "run", runID)
		h.unregister(s)
	}
}

// Subscribers returns the number of connected clients for runID.
func (h *Hub) Subscribers(runID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for s := range h.clients {
		if s.runID == runID {
			n++
		}
	}
	return n
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	all := make([]*subscriber, 0, len(h.clients))
	for s := range h.clients {
		all = append(all, s)
	}
	h.mu.Unlock()
	for _, s := range all {
		h.unregister(s)
	}
}

func (h *Hub) register(s *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.max > 0 && len(h.clients) >= h.max {
		return false
	}
	h.clients[s] = struct{}{}
	return true
}

func (h *Hub) unregister(s *subscriber) {
	h.mu.Lock()
	_, ok := h.clients[s]
	delete(h.clients, s)
	h.mu.Unlock()
	if ok {
		s.once.Do(func() { close(s.send) })
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// serve upgrades the request and streams runID's events until the client
// goes away.
func (h *Hub) serve(w http.ResponseWriter, r *http.Request, runID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "run", runID, "error", err)
		return
	}
	s := &subscriber{hub: h, runID: runID, conn: conn, send: make(chan []byte, sendBuffer)}
	if !h.register(s) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	slog.Debug("stream client connected", "run", runID)

	go s.writePump()
	go s.readPump()
}

// readPump discards inbound frames and watches for the close.
func (s *subscriber) readPump() {
	defer func() {
		s.hub.unregister(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("stream read error", "run", s.runID, "error", err)
			}
			return
		}
	}
}

func (s *subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
