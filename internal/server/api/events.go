package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ayusman/senas/internal/store"
)

// EventsHandler serves recorded gesture events.
//
//	GET /api/gestures/events?limit=N   newest first
//	GET /api/gestures/events/{id}      one event
//	GET /api/gestures/stats?since=24h  per-label counts
type EventsHandler struct {
	store *store.Store
}

// NewEventsHandler creates an EventsHandler over s.
func NewEventsHandler(s *store.Store) *EventsHandler {
	return &EventsHandler{store: s}
}

type listEventsResponse struct {
	Events []*store.GestureEvent `json:"events"`
	Count  int                   `json:"count"`
}

type statsResponse struct {
	Since  time.Time          `json:"since"`
	Labels []store.LabelCount `json:"labels"`
}

// ServeHTTP implements http.Handler.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/gestures/")
	switch {
	case path == "events":
		h.list(w, r)
	case path == "stats":
		h.stats(w, r)
	case strings.HasPrefix(path, "events/") && !strings.Contains(path[len("events/"):], "/"):
		h.get(w, path[len("events/"):])
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

func (h *EventsHandler) get(w http.ResponseWriter, id string) {
	if id == "" {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	e, err := h.store.Events().GetByID(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Event not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get event")
		return
	}

	writeJSON(w, http.StatusOK, e)
}

func (h *EventsHandler) list(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	events, err := h.store.Events().Recent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list events")
		return
	}

	writeJSON(w, http.StatusOK, listEventsResponse{Events: events, Count: len(events)})
}

func (h *EventsHandler) stats(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if raw := r.URL.Query().Get("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "since must be a positive duration")
			return
		}
		window = d
	}

	since := time.Now().Add(-window)
	counts, err := h.store.Events().CountByLabel(since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count events")
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{Since: since, Labels: counts})
}
