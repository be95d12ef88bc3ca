package sync

import (
	"encoding/json"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 2 * time.Second

// Hub fans mapping events out to TCP and WebSocket subscribers. Every write
// happens under mu, so a subscriber never sees interleaved lines.
type Hub struct {
	mu        sync.Mutex
	clients   map[net.Conn]struct{}
	wsClients map[*websocket.Conn]struct{}
	logger    *slog.Logger
}

type Stats struct {
	TCPClients int `json:"tcp_clients"`
	WSClients  int `json:"ws_clients"`
}

type welcome struct {
	Type        string `json:"type"`
	Transport   string `json:"transport"`
	Subscribers int    `json:"subscribers"`
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:   make(map[net.Conn]struct{}),
		wsClients: make(map[*websocket.Conn]struct{}),
		logger:    logger,
	}
}

func encodeLine(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Add registers a TCP subscriber and greets it.
func (h *Hub) Add(conn net.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[conn] = struct{}{}
	b, _ := encodeLine(welcome{Type: "welcome", Transport: "tcp", Subscribers: h.countLocked()})
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(b); err != nil {
		delete(h.clients, conn)
		_ = conn.Close()
	}
}

func (h *Hub) Remove(conn net.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	_ = conn.Close()
}

// AddWS registers a WebSocket subscriber and greets it.
func (h *Hub) AddWS(ws *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.wsClients[ws] = struct{}{}
	b, _ := encodeLine(welcome{Type: "welcome", Transport: "websocket", Subscribers: h.countLocked()})
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
		delete(h.wsClients, ws)
		_ = ws.Close()
	}
}

func (h *Hub) RemoveWS(ws *websocket.Conn) {
	h.mu.Lock()
	delete(h.wsClients, ws)
	h.mu.Unlock()
	_ = ws.Close()
}

// BroadcastJSON writes v as one JSON line to every subscriber, dropping those
// whose write fails.
func (h *Hub) BroadcastJSON(v any) {
	b, err := encodeLine(v)
	if err != nil {
		h.logger.Error("encode event", "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	for c := range h.clients {
		_ = c.SetWriteDeadline(deadline)
		if _, err := c.Write(b); err != nil {
			h.logger.Debug("dropping tcp subscriber", "remote", c.RemoteAddr(), "err", err)
			_ = c.Close()
			delete(h.clients, c)
		}
	}

	for ws := range h.wsClients {
		_ = ws.SetWriteDeadline(deadline)
		if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
			h.logger.Debug("dropping ws subscriber", "remote", ws.RemoteAddr(), "err", err)
			_ = ws.Close()
			delete(h.wsClients, ws)
		}
	}
}

func (h *Hub) countLocked() int {
	return len(h.clients) + len(h.wsClients)
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		TCPClients: len(h.clients),
		WSClients:  len(h.wsClients),
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.Close()
		delete(h.clients, c)
	}
	for ws := range h.wsClients {
		_ = ws.Close()
		delete(h.wsClients, ws)
	}
}
