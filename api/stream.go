package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// StreamHub fans published snapshots and decision events out to
// websocket subscribers. A slow or dead subscriber is dropped rather
// than allowed to block the broadcast.
type StreamHub struct {
	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[*websocket.Conn]chan streamEvent
	logger   *logrus.Logger
}

type streamEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

func NewStreamHub(logger *logrus.Logger) *StreamHub {
	return &StreamHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]chan streamEvent),
		logger:  logger,
	}
}

// HandleSubscribe upgrades the connection and streams events until the
// client goes away.
func (h *StreamHub) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Stream upgrade failed")
		return
	}

	ch := make(chan streamEvent, 16)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	go h.writeLoop(conn, ch)
}

func (h *StreamHub) writeLoop(conn *websocket.Conn, ch chan streamEvent) {
	defer h.drop(conn)
	for event := range ch {
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
}

// Broadcast queues an event for every subscriber.
func (h *StreamHub) Broadcast(eventType string, payload interface{}) {
	event := streamEvent{Type: eventType, Payload: payload}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- event:
		default:
			// Subscriber can't keep up; disconnect it.
			delete(h.clients, conn)
			close(ch)
			conn.Close()
		}
	}
}

func (h *StreamHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(ch)
	}
	h.mu.Unlock()
	conn.Close()
}
