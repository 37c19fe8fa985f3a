package api

import (
	"errors"
	"net/http"

	"github.com/ayusman/senas/internal/classifier"
	"github.com/ayusman/senas/internal/store"
)

// ModelsHandler lists users with trained artifacts and the model load history.
type ModelsHandler struct {
	registry *classifier.Registry
	store    *store.Store
}

// NewModelsHandler creates a ModelsHandler. s may be nil.
func NewModelsHandler(registry *classifier.Registry, s *store.Store) *ModelsHandler {
	return &ModelsHandler{registry: registry, store: s}
}

type modelsResponse struct {
	Users  []string           `json:"users"`
	Active string             `json:"active,omitempty"`
	Loads  []*store.ModelLoad `json:"loads,omitempty"`
}

// ServeHTTP handles GET /api/models. With ?userId= the load history is
// narrowed to that user's most recent load.
func (h *ModelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	users, err := h.registry.Store().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list models")
		return
	}

	resp := modelsResponse{Users: users}
	if resp.Users == nil {
		resp.Users = []string{}
	}
	if a := h.registry.Active(); a != nil {
		resp.Active = a.UserID
	}

	if h.store != nil {
		limit, ok := parseLimit(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		loads, err := h.loads(r.URL.Query().Get("userId"), limit)
		if errors.Is(err, classifier.ErrInvalidUserID) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to list model loads")
			return
		}
		resp.Loads = loads
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *ModelsHandler) loads(userID string, limit int) ([]*store.ModelLoad, error) {
	if userID == "" {
		return h.store.ModelLoads().Recent(limit)
	}
	if err := classifier.ValidateUserID(userID); err != nil {
		return nil, err
	}
	l, err := h.store.ModelLoads().LastForUser(userID)
	if errors.Is(err, store.ErrNotFound) {
		return []*store.ModelLoad{}, nil
	}
	if err != nil {
		return nil, err
	}
	return []*store.ModelLoad{l}, nil
}
