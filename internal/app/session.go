// Package app owns the camera, the active model and the gesture state for
// one running server, and produces the annotated frame stream.
package app

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/ayusman/senas/internal/capture"
	"github.com/ayusman/senas/internal/classifier"
	"github.com/ayusman/senas/internal/detector"
	"github.com/ayusman/senas/internal/gesture"
	"github.com/ayusman/senas/internal/store"
)

var (
	// ErrModelNotLoaded is returned when an operation needs an active model.
	ErrModelNotLoaded = errors.New("gesture model not loaded")
	// ErrCameraInactive is returned when a stream is requested while the camera is closed.
	ErrCameraInactive = errors.New("camera is not active")
	// ErrStreamBusy is returned when another stream already consumes the camera.
	ErrStreamBusy = errors.New("another stream is active")
)

// subscriberBuffer is the per-subscriber event backlog before events are dropped.
const subscriberBuffer = 16

// Config wires the session's collaborators.
type Config struct {
	Camera     capture.Camera
	Manager    capture.ManagerConfig
	Detector   detector.Detector
	Registry   *classifier.Registry
	Labels     gesture.LabelSets
	Stabilizer gesture.Config
	Pipeline   PipelineConfig
	// Store is optional; without it gesture events and model loads are not persisted.
	Store *store.Store
	// RequireModel refuses to open the camera or stream until a model is loaded.
	RequireModel bool
	// StreamWithoutModel lets /video-stream serve unrecognized frames while
	// no model is loaded. Ignored when RequireModel is set.
	StreamWithoutModel bool
	// DatasetDir receives training samples from CaptureSample.
	DatasetDir string
	// EventRetention prunes stored gesture events older than this. Zero keeps them.
	EventRetention time.Duration
	// PruneInterval is how often pruning runs; it defaults to an hour.
	PruneInterval time.Duration
}

// DefaultPruneInterval is how often old gesture events are deleted.
const DefaultPruneInterval = time.Hour

// Session holds all shared state: the camera manager, the active model
// registry and the stabilizer. Handlers and the watchdog receive it explicitly.
type Session struct {
	config     Config
	manager    *capture.Manager
	detector   detector.Detector
	registry   *classifier.Registry
	stabilizer *gesture.Stabilizer
	store      *store.Store

	streamMu sync.Mutex
	streamID string

	captureMu sync.Mutex

	subMu sync.Mutex
	subs  map[chan gesture.Event]struct{}

	cancel       context.CancelFunc
	shutdownOnce sync.Once

	now func() time.Time
}

// New validates config and builds a Session. The camera stays closed until OpenCamera.
func New(config Config) (*Session, error) {
	if config.Camera == nil {
		return nil, errors.New("app: camera is required")
	}
	if config.Detector == nil {
		return nil, errors.New("app: detector is required")
	}
	if config.Registry == nil {
		return nil, errors.New("app: model registry is required")
	}

	labels := config.Labels
	if s, d := labels.Len(); s == 0 && d == 0 {
		labels = gesture.DefaultLabelSets()
	}

	s := &Session{
		config:     config,
		manager:    capture.NewManager(config.Camera, config.Manager),
		detector:   config.Detector,
		registry:   config.Registry,
		stabilizer: gesture.NewStabilizer(config.Stabilizer, labels),
		store:      config.Store,
		subs:       make(map[chan gesture.Event]struct{}),
		now:        time.Now,
	}
	s.config.Pipeline = config.Pipeline.withDefaults()
	if s.config.PruneInterval <= 0 {
		s.config.PruneInterval = DefaultPruneInterval
	}

	if s.store != nil {
		s.registry.OnSwap(s.recordModelLoad)
	}

	return s, nil
}

// Start launches the idle watchdog and, with a store and a retention set,
// the event pruner. It returns immediately.
func (s *Session) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.manager.RunWatchdog(ctx)
	if s.store != nil && s.config.EventRetention > 0 {
		go s.runPruner(ctx)
	}
}

func (s *Session) runPruner(ctx context.Context) {
	ticker := time.NewTicker(s.config.PruneInterval)
	defer ticker.Stop()

	for {
		if _, err := s.PruneEvents(); err != nil {
			log.Printf("prune gesture events: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PruneEvents deletes stored gesture events older than EventRetention and
// returns how many were removed.
func (s *Session) PruneEvents() (int64, error) {
	if s.store == nil || s.config.EventRetention <= 0 {
		return 0, nil
	}
	n, err := s.store.Events().DeleteBefore(s.now().Add(-s.config.EventRetention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("pruned %d gesture events", n)
	}
	return n, nil
}

// Shutdown stops the watchdog and releases the camera and the detector. It
// is safe to call more than once.
func (s *Session) Shutdown() {
	s.shutdownOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.manager.Close()
		if err := s.detector.Close(); err != nil {
			log.Printf("detector close: %v", err)
		}

		s.subMu.Lock()
		for ch := range s.subs {
			close(ch)
			delete(s.subs, ch)
		}
		s.subMu.Unlock()
		log.Println("session shut down")
	})
}

// Manager returns the camera manager.
func (s *Session) Manager() *capture.Manager {
	return s.manager
}

// Registry returns the model registry.
func (s *Session) Registry() *classifier.Registry {
	return s.registry
}

// Stabilizer returns the gesture stabilizer.
func (s *Session) Stabilizer() *gesture.Stabilizer {
	return s.stabilizer
}

// Store returns the event store, or nil.
func (s *Session) Store() *store.Store {
	return s.store
}

// OpenCamera opens the camera, retrying within the manager's budget.
func (s *Session) OpenCamera() error {
	if s.config.RequireModel && !s.registry.Loaded() {
		return ErrModelNotLoaded
	}

	wasActive := s.manager.IsActive()
	if !s.manager.Open() {
		return capture.ErrOpenFailed
	}
	if !wasActive && s.stabilizer.Config().ResetOnOpen {
		s.stabilizer.Reset()
	}
	return nil
}

// CloseCamera releases the camera. Any running stream ends at its next iteration.
func (s *Session) CloseCamera() {
	s.manager.Close()
}

// CameraActive reports whether the camera is open.
func (s *Session) CameraActive() bool {
	return s.manager.IsActive()
}

// LoadModel activates userID's model. The previous model stays active on error.
func (s *Session) LoadModel(userID string) (*classifier.Active, error) {
	return s.registry.LoadUser(userID)
}

// LastGesture returns the last stable gesture if it is still valid.
func (s *Session) LastGesture() (gesture.Event, bool) {
	return s.stabilizer.LastGesture(s.now())
}

// Subscribe returns a channel receiving every fresh stable gesture and a
// function that unsubscribes. Slow subscribers miss events.
func (s *Session) Subscribe() (<-chan gesture.Event, func()) {
	ch := make(chan gesture.Event, subscriberBuffer)

	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
		})
	}
}

// publish persists and broadcasts a fresh gesture.
func (s *Session) publish(e gesture.Event) {
	if s.store != nil {
		userID := ""
		if a := s.registry.Active(); a != nil {
			userID = a.UserID
		}
		err := s.store.Events().Record(&store.GestureEvent{
			Label:      e.Label,
			Type:       string(e.Type),
			Confidence: e.Confidence,
			UserID:     userID,
			DetectedAt: e.DetectedAt,
		})
		if err != nil {
			log.Printf("record gesture %s: %v", e.Label, err)
		}
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (s *Session) recordModelLoad(a *classifier.Active) {
	err := s.store.ModelLoads().Record(&store.ModelLoad{
		UserID:     a.UserID,
		ModelPath:  a.Artifacts.ModelPath,
		LabelsPath: a.Artifacts.LabelsPath,
		Classes:    a.Model.Classes(),
		LoadedAt:   a.LoadedAt,
	})
	if err != nil {
		log.Printf("record model load for %s: %v", a.UserID, err)
	}
}

// Status is a point-in-time summary for the status endpoint and the tray.
type Status struct {
	CameraActive   bool      `json:"cameraActive"`
	CameraOpenedAt time.Time `json:"cameraOpenedAt,omitempty"`
	LastConsumedAt time.Time `json:"lastConsumedAt,omitempty"`
	ModelUser      string    `json:"modelUser,omitempty"`
	ModelLoadedAt  time.Time `json:"modelLoadedAt,omitempty"`
	Streaming      bool      `json:"streaming"`
	StreamID       string    `json:"streamId,omitempty"`
	LastGesture    string    `json:"lastGesture,omitempty"`
	// MovementRun is the stabilizer's current count of consecutive moving frames.
	MovementRun int `json:"movementRun"`
}

// Status returns the current session status.
func (s *Session) Status() Status {
	st := Status{
		CameraActive: s.manager.IsActive(),
	}
	if st.CameraActive {
		st.CameraOpenedAt = s.manager.OpenedAt()
		st.LastConsumedAt = s.manager.LastConsumedAt()
	}
	if a := s.registry.Active(); a != nil {
		st.ModelUser = a.UserID
		st.ModelLoadedAt = a.LoadedAt
	}

	s.streamMu.Lock()
	st.StreamID = s.streamID
	st.Streaming = s.streamID != ""
	s.streamMu.Unlock()

	if e, ok := s.LastGesture(); ok {
		st.LastGesture = e.Label
	}
	st.MovementRun = s.stabilizer.State().RunLength
	return st
}
