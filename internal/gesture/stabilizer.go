package gesture

import (
	"sync"
	"time"

	"github.com/ayusman/senas/internal/detector"
)

// Stabilizer defaults.
const (
	DefaultMovementThreshold = 0.02
	DefaultMovementFrames    = 5
	DefaultValidity          = 3 * time.Second
)

// Config tunes the stabilizer.
type Config struct {
	// MovementThreshold is the Euclidean distance between consecutive
	// feature vectors above which a frame counts as moving.
	MovementThreshold float64 `yaml:"movement_threshold"`
	// MovementFrames is how many consecutive moving frames a dynamic
	// gesture needs before it is accepted.
	MovementFrames int `yaml:"movement_frames"`
	// Validity is how long an accepted gesture stays readable.
	Validity time.Duration `yaml:"validity"`
	// ResetOnOpen clears the stabilizer whenever the camera is reopened.
	ResetOnOpen bool `yaml:"reset_on_open"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		MovementThreshold: DefaultMovementThreshold,
		MovementFrames:    DefaultMovementFrames,
		Validity:          DefaultValidity,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MovementThreshold <= 0 {
		c.MovementThreshold = d.MovementThreshold
	}
	if c.MovementFrames <= 0 {
		c.MovementFrames = d.MovementFrames
	}
	if c.Validity <= 0 {
		c.Validity = d.Validity
	}
	return c
}

// Event is an accepted gesture.
type Event struct {
	Label      string
	Type       Type
	Confidence float64
	DetectedAt time.Time
}

// Decision is the outcome of one observation.
type Decision struct {
	// Stable is set when the observation was accepted as a gesture.
	Stable bool
	// Fresh is set when a stable observation starts a new gesture: the
	// label changed or the previous gesture had already expired.
	Fresh bool
	// Moving is the current run of consecutive moving frames.
	Moving int
	// Distance from the previous vector, zero on the first observation.
	Distance float64
	Event    Event
}

// State is a snapshot of the stabilizer for status reporting.
type State struct {
	HasPrevious bool
	RunLength   int
	Last        Event
	HasLast     bool
}

// Stabilizer debounces per-frame classifications. Static labels are accepted
// while the hand is still; dynamic labels after MovementFrames consecutive
// moving frames.
type Stabilizer struct {
	config Config
	labels LabelSets

	mu        sync.Mutex
	previous  detector.FeatureVector
	runLength int
	last      Event
	hasLast   bool
}

// NewStabilizer creates a Stabilizer. Zero fields in config take their defaults.
func NewStabilizer(config Config, labels LabelSets) *Stabilizer {
	return &Stabilizer{
		config: config.withDefaults(),
		labels: labels,
	}
}

// Config returns the effective configuration.
func (s *Stabilizer) Config() Config {
	return s.config
}

// Labels returns the label sets used for classification types.
func (s *Stabilizer) Labels() LabelSets {
	return s.labels
}

// Observe feeds one classified feature vector. Vectors of the wrong length
// are ignored entirely and leave the state untouched.
func (s *Stabilizer) Observe(v detector.FeatureVector, label string, confidence float64, now time.Time) Decision {
	if !v.Valid() {
		return Decision{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var d Decision
	if s.previous != nil {
		d.Distance = v.Distance(s.previous)
		if d.Distance > s.config.MovementThreshold {
			s.runLength++
		} else {
			s.runLength = 0
		}
	}
	s.previous = v.Clone()
	d.Moving = s.runLength

	typ := s.labels.TypeOf(label)
	switch typ {
	case TypeStatic:
		d.Stable = s.runLength == 0
	case TypeDynamic:
		d.Stable = s.runLength >= s.config.MovementFrames
	}
	if !d.Stable {
		return d
	}

	d.Fresh = !s.hasLast || s.last.Label != label || !s.validLocked(now)
	s.last = Event{
		Label:      label,
		Type:       typ,
		Confidence: confidence,
		DetectedAt: now,
	}
	s.hasLast = true
	d.Event = s.last
	return d
}

// LastGesture returns the most recent accepted gesture if it is still valid at now.
func (s *Stabilizer) LastGesture(now time.Time) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasLast || !s.validLocked(now) {
		return Event{}, false
	}
	return s.last, true
}

func (s *Stabilizer) validLocked(now time.Time) bool {
	return now.Sub(s.last.DetectedAt) < s.config.Validity
}

// Reset clears the previous vector, the movement run and the last gesture.
func (s *Stabilizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.previous = nil
	s.runLength = 0
	s.last = Event{}
	s.hasLast = false
}

// State returns a snapshot of the internal state.
func (s *Stabilizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		HasPrevious: s.previous != nil,
		RunLength:   s.runLength,
		Last:        s.last,
		HasLast:     s.hasLast,
	}
}
