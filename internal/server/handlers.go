package server

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/ayusman/senas/internal/app"
	"github.com/ayusman/senas/internal/capture"
	"github.com/ayusman/senas/internal/classifier"
	"github.com/ayusman/senas/internal/training"
)

type statusMessage struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// handleCameraOpen handles POST /camera/open.
func (s *Server) handleCameraOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	err := s.config.Session.OpenCamera()
	switch {
	case errors.Is(err, app.ErrModelNotLoaded):
		writeError(w, http.StatusServiceUnavailable, "Load a model before opening the camera")
	case errors.Is(err, capture.ErrOpenFailed):
		writeError(w, http.StatusInternalServerError, "Camera could not be opened")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, statusMessage{Status: "ok", Message: "Camera opened"})
	}
}

// handleCameraClose handles POST /camera/close. It always succeeds.
func (s *Server) handleCameraClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.config.Session.CloseCamera()
	writeJSON(w, http.StatusOK, statusMessage{Status: "ok", Message: "Camera closed"})
}

type lastGestureResponse struct {
	Label                  string   `json:"label"`
	DetectedAtEpochSeconds *float64 `json:"detectedAtEpochSeconds,omitempty"`
}

// handleGestureLast handles GET /gesture/last.
func (s *Server) handleGestureLast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	e, ok := s.config.Session.LastGesture()
	if !ok {
		writeJSON(w, http.StatusOK, lastGestureResponse{Label: "none"})
		return
	}

	at := epochSeconds(e.DetectedAt)
	writeJSON(w, http.StatusOK, lastGestureResponse{Label: e.Label, DetectedAtEpochSeconds: &at})
}

type modelLoadResponse struct {
	Status  string   `json:"status"`
	UserID  string   `json:"userId"`
	Classes int      `json:"classes"`
	Labels  []string `json:"labels"`
}

// handleModelLoad handles POST /model/load?userId=.
func (s *Server) handleModelLoad(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId query parameter is required")
		return
	}

	a, err := s.config.Session.LoadModel(userID)
	switch {
	case errors.Is(err, classifier.ErrInvalidUserID):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, classifier.ErrArtifactsNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, classifier.ErrInvalidArtifact):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		log.Printf("model load for %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "Failed to load model")
		return
	}

	writeJSON(w, http.StatusOK, modelLoadResponse{
		Status:  "ok",
		UserID:  a.UserID,
		Classes: a.Model.Classes(),
		Labels:  a.Labels.Labels(),
	})
}

// handleModelTrain handles POST /model/train?userId=. The job runs in the
// background and the new model is activated when AutoLoad is set.
func (s *Server) handleModelTrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId query parameter is required")
		return
	}
	if err := classifier.ValidateUserID(userID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	trainer := s.config.Trainer
	if trainer == nil {
		writeError(w, http.StatusServiceUnavailable, "Training is not configured")
		return
	}

	sess := s.config.Session
	job, err := trainer.Start(userID, func(j training.Job) {
		if j.State != training.StateSucceeded || !trainer.Config().AutoLoad {
			return
		}
		if _, err := sess.LoadModel(j.UserID); err != nil {
			log.Printf("load trained model for %s: %v", j.UserID, err)
		}
	})
	switch {
	case errors.Is(err, training.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, training.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

type statusResponse struct {
	app.Status
	Training *training.Job `json:"training,omitempty"`
}

// handleStatus handles GET /api/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := statusResponse{Status: s.config.Session.Status()}
	if s.config.Trainer != nil {
		if job, ok := s.config.Trainer.Status(); ok {
			resp.Training = &job
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type captureResponse struct {
	Status string `json:"status"`
	UserID string `json:"userId"`
	Label  string `json:"label"`
	Path   string `json:"path"`
}

// handleDatasetCapture handles POST /dataset/capture?userId=&label=. It saves
// one training image for label under the user's dataset directory.
func (s *Server) handleDatasetCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	userID := q.Get("userId")
	label := q.Get("label")
	if label == "" {
		label = q.Get("letter")
	}
	if userID == "" || label == "" {
		writeError(w, http.StatusBadRequest, "userId and label query parameters are required")
		return
	}

	path, err := s.config.Session.CaptureSample(userID, label)
	switch {
	case errors.Is(err, classifier.ErrInvalidUserID), errors.Is(err, app.ErrInvalidLabel):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrDatasetNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, capture.ErrOpenFailed):
		writeError(w, http.StatusInternalServerError, "Camera could not be opened")
	case err != nil:
		log.Printf("capture sample for %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "Failed to capture sample")
	default:
		label, _ = app.SampleLabel(label)
		writeJSON(w, http.StatusOK, captureResponse{Status: "ok", UserID: userID, Label: label, Path: path})
	}
}
