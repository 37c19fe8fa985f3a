package server

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/senas/internal/app"
	"github.com/ayusman/senas/internal/gesture"
)

const wsWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// gestureMessage is pushed to feed clients.
type gestureMessage struct {
	Label                  string  `json:"label"`
	Type                   string  `json:"type"`
	Confidence             float64 `json:"confidence"`
	DetectedAtEpochSeconds float64 `json:"detectedAtEpochSeconds"`
}

func newGestureMessage(e gesture.Event) gestureMessage {
	return gestureMessage{
		Label:                  e.Label,
		Type:                   string(e.Type),
		Confidence:             e.Confidence,
		DetectedAtEpochSeconds: epochSeconds(e.DetectedAt),
	}
}

// GestureFeed pushes every fresh stable gesture to WebSocket clients.
type GestureFeed struct {
	session *app.Session
	clients map[*websocket.Conn]bool
	mu      sync.RWMutex
}

// NewGestureFeed creates a feed over session.
func NewGestureFeed(session *app.Session) *GestureFeed {
	return &GestureFeed{
		session: session,
		clients: make(map[*websocket.Conn]bool),
	}
}

// Clients returns the number of connected clients.
func (h *GestureFeed) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *GestureFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := h.session.Subscribe()
	defer unsubscribe()

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	// The reader only detects disconnects.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if e, ok := h.session.LastGesture(); ok {
		if err := h.send(conn, e); err != nil {
			return
		}
	}

	for {
		select {
		case <-gone:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := h.send(conn, e); err != nil {
				return
			}
		}
	}
}

func (h *GestureFeed) send(conn *websocket.Conn, e gesture.Event) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(newGestureMessage(e))
}

// Close disconnects every client.
func (h *GestureFeed) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.clients {
		conn.Close()
	}
}
