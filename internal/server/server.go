// Package server exposes the session over HTTP: the MJPEG stream, camera
// and model control, the gesture feed and the admin pages.
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/ayusman/senas/internal/app"
	"github.com/ayusman/senas/internal/server/api"
	"github.com/ayusman/senas/internal/training"
)

// Config holds the server configuration.
type Config struct {
	Session *app.Session
	// Trainer is optional; without it POST /model/train returns 503.
	Trainer *training.Runner
	// StaticDir, when set, is served at /.
	StaticDir string
	// Debug mounts the tsweb debugger and the SQL console under /debug/.
	Debug bool
}

// Server represents the HTTP server.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	feed   *GestureFeed
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	sess := s.config.Session
	if sess == nil {
		return
	}

	s.mux.Handle("/video-stream", NewStreamHandler(sess))
	s.mux.HandleFunc("/camera/open", s.handleCameraOpen)
	s.mux.HandleFunc("/camera/close", s.handleCameraClose)
	s.mux.HandleFunc("/gesture/last", s.handleGestureLast)
	s.mux.HandleFunc("/model/load", s.handleModelLoad)
	s.mux.HandleFunc("/model/train", s.handleModelTrain)
	s.mux.HandleFunc("/dataset/capture", s.handleDatasetCapture)
	s.mux.HandleFunc("/api/status", s.handleStatus)

	s.feed = NewGestureFeed(sess)
	s.mux.Handle("/gesture/ws", s.feed)

	s.mux.Handle("/api/models", api.NewModelsHandler(sess.Registry(), sess.Store()))
	if st := sess.Store(); st != nil {
		events := api.NewEventsHandler(st)
		s.mux.Handle("/api/gestures/", events)
	}

	if s.config.Debug {
		s.attachAdminRoutes()
	}

	if s.config.StaticDir != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(s.config.StaticDir)))
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close disconnects gesture feed clients.
func (s *Server) Close() {
	if s.feed != nil {
		s.feed.Close()
	}
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}

	writeJSON(w, http.StatusOK, response)
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("encode response: %v", err)
		}
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
