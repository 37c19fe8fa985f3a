package classifier

import (
	"fmt"
	"sync"
)

// StaticModel returns a fixed score vector for every input. It is used in
// tests and in demo mode without trained artifacts.
type StaticModel struct {
	mu     sync.Mutex
	scores []float64
	err    error
	size   int
	calls  int
}

// NewStaticModel creates a model with the given input size that always predicts scores.
func NewStaticModel(inputSize int, scores ...float64) *StaticModel {
	return &StaticModel{size: inputSize, scores: scores}
}

// SetScores changes the returned scores.
func (m *StaticModel) SetScores(scores ...float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores = scores
}

// SetError makes Predict fail with err.
func (m *StaticModel) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Predict was called.
func (m *StaticModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *StaticModel) Predict(features []float64) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(features) != m.size {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInputSize, len(features), m.size)
	}
	return append([]float64(nil), m.scores...), nil
}

func (m *StaticModel) InputSize() int {
	return m.size
}

func (m *StaticModel) Classes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.scores)
}
