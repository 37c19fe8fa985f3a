package classifier

import (
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ayusman/senas/internal/detector"
)

// Result is the top class for one feature vector.
type Result struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Active is a loaded model together with its label map.
type Active struct {
	UserID    string
	Model     Model
	Labels    LabelMap
	Artifacts Artifacts
	LoadedAt  time.Time
}

// Registry holds the active model. Loads build a complete Active off to the
// side and publish it with a single pointer swap, so Classify sees either the
// old pair or the new pair.
type Registry struct {
	store  *ArtifactStore
	active atomic.Pointer[Active]

	// loadMu serializes loads so two concurrent reloads cannot publish out of order.
	loadMu sync.Mutex
	swapMu sync.Mutex

	hookMu sync.Mutex
	hooks  []func(*Active)
}

// NewRegistry creates an empty registry over store.
func NewRegistry(store *ArtifactStore) *Registry {
	return &Registry{store: store}
}

// Store returns the artifact store.
func (r *Registry) Store() *ArtifactStore {
	return r.store
}

// OnSwap registers fn to be called after each successful swap.
func (r *Registry) OnSwap(fn func(*Active)) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.hooks = append(r.hooks, fn)
}

// LoadUser resolves and loads userID's artifacts and makes them active. On
// any error the previously active model stays in place.
func (r *Registry) LoadUser(userID string) (*Active, error) {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	arts, err := r.store.Resolve(userID)
	if err != nil {
		return nil, err
	}
	model, labels, err := arts.Load()
	if err != nil {
		return nil, fmt.Errorf("load model for %q: %w", userID, err)
	}

	a := r.Swap(userID, model, labels, arts)
	log.Printf("model loaded for user %s (%d classes, %d labels)", userID, model.Classes(), len(labels))
	return a, nil
}

// Swap installs an already-built model. arts records where it came from and
// may be zero for models built in memory.
func (r *Registry) Swap(userID string, model Model, labels LabelMap, arts Artifacts) *Active {
	r.swapMu.Lock()
	defer r.swapMu.Unlock()

	a := &Active{
		UserID:    userID,
		Model:     model,
		Labels:    labels,
		Artifacts: arts,
		LoadedAt:  time.Now(),
	}
	r.publish(a)
	return a
}

func (r *Registry) publish(a *Active) {
	r.active.Store(a)

	r.hookMu.Lock()
	hooks := append([]func(*Active){}, r.hooks...)
	r.hookMu.Unlock()
	for _, fn := range hooks {
		fn(a)
	}
}

// Active returns the active model, or nil when none is loaded.
func (r *Registry) Active() *Active {
	return r.active.Load()
}

// Loaded reports whether a model is active.
func (r *Registry) Loaded() bool {
	return r.active.Load() != nil
}

// Classify returns the most likely label for v. It reports false when no
// model is loaded, v has the wrong length, prediction fails, every score is
// zero, or the winning index has no label.
func (r *Registry) Classify(v detector.FeatureVector) (Result, bool) {
	a := r.active.Load()
	if a == nil || !v.Valid() {
		return Result{}, false
	}
	return a.Classify(v)
}

// Classify runs the model and maps the top score to its label.
func (a *Active) Classify(v detector.FeatureVector) (Result, bool) {
	if len(v) != a.Model.InputSize() {
		return Result{}, false
	}

	scores, err := a.Model.Predict(v)
	if err != nil || len(scores) == 0 {
		return Result{}, false
	}

	best, nonZero := 0, false
	for i, s := range scores {
		if math.IsNaN(s) {
			return Result{}, false
		}
		if s != 0 {
			nonZero = true
		}
		if s > scores[best] {
			best = i
		}
	}
	if !nonZero {
		return Result{}, false
	}

	label, ok := a.Labels[best]
	if !ok {
		return Result{}, false
	}
	return Result{Label: label, Confidence: scores[best]}, true
}
