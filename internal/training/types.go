// Package training runs the external model-training job for a user.
package training

import "time"

// Request is written to the trainer's stdin as JSON.
type Request struct {
	UserID     string `json:"userId"`
	DatasetDir string `json:"datasetDir"`
	OutputDir  string `json:"outputDir"`
}

// Response is read from the trainer's stdout as JSON.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Samples int    `json:"samples,omitempty"`
	Classes int    `json:"classes,omitempty"`
}

// State is the lifecycle state of a job.
type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Job describes one training run.
type Job struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	State      State     `json:"state"`
	Error      string    `json:"error,omitempty"`
	Message    string    `json:"message,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}
