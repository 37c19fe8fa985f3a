package training

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout bounds one training run.
const DefaultTimeout = 30 * time.Minute

var (
	// ErrBusy is returned when a job is already running.
	ErrBusy = errors.New("training already in progress")
	// ErrNotConfigured is returned when no trainer command is set.
	ErrNotConfigured = errors.New("no trainer command configured")
)

// Config describes the trainer process.
type Config struct {
	// Command is the trainer executable. Args are passed before the user id.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	// DatasetDir holds per-user captured samples: <DatasetDir>/<userID>/<label>/*.jpg.
	DatasetDir string        `yaml:"dataset_dir"`
	Timeout    time.Duration `yaml:"timeout"`
	// AutoLoad activates the new model once training succeeds.
	AutoLoad bool `yaml:"auto_load"`
}

// Runner executes the trainer with a JSON request on stdin and parses a
// JSON response from stdout. At most one job runs at a time.
type Runner struct {
	config    Config
	modelsDir string

	mu      sync.Mutex
	current *Job
	last    *Job
}

// NewRunner creates a Runner writing artifacts under modelsDir.
func NewRunner(config Config, modelsDir string) *Runner {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &Runner{config: config, modelsDir: modelsDir}
}

// Config returns the runner configuration.
func (r *Runner) Config() Config {
	return r.config
}

// Start launches a job for userID in the background. done, when non-nil, is
// called with the finished job.
func (r *Runner) Start(userID string, done func(Job)) (Job, error) {
	if r.config.Command == "" {
		return Job{}, ErrNotConfigured
	}

	r.mu.Lock()
	if r.current != nil {
		r.mu.Unlock()
		return Job{}, ErrBusy
	}
	job := &Job{
		ID:        uuid.NewString(),
		UserID:    userID,
		State:     StateRunning,
		StartedAt: time.Now(),
	}
	r.current = job
	snapshot := *job
	r.mu.Unlock()

	go func() {
		resp, err := r.Run(context.Background(), userID)

		r.mu.Lock()
		job.FinishedAt = time.Now()
		switch {
		case err != nil:
			job.State = StateFailed
			job.Error = err.Error()
		case !resp.Success:
			job.State = StateFailed
			job.Error = resp.Error
		default:
			job.State = StateSucceeded
			job.Message = resp.Message
		}
		r.current = nil
		r.last = job
		finished := *job
		r.mu.Unlock()

		log.Printf("training job %s for %s: %s", finished.ID, userID, finished.State)
		if done != nil {
			done(finished)
		}
	}()

	return snapshot, nil
}

// Status returns the running job, or the last finished one.
func (r *Runner) Status() (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		return *r.current, true
	}
	if r.last != nil {
		return *r.last, true
	}
	return Job{}, false
}

// Run executes the trainer synchronously for userID.
func (r *Runner) Run(ctx context.Context, userID string) (*Response, error) {
	if r.config.Command == "" {
		return nil, ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	args := append(append([]string{}, r.config.Args...), userID)
	cmd := exec.CommandContext(ctx, r.config.Command, args...)
	// Grandchildren holding stdout open must not outlive the deadline.
	cmd.WaitDelay = time.Second

	req := Request{
		UserID:     userID,
		DatasetDir: filepath.Join(r.config.DatasetDir, userID),
		OutputDir:  filepath.Join(r.modelsDir, userID),
	}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	cmd.Stdin = bytes.NewReader(reqJSON)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("trainer timeout after %s", r.config.Timeout)
	}
	if err != nil {
		if s := stderr.String(); s != "" {
			return nil, fmt.Errorf("trainer failed: %w, stderr: %s", err, s)
		}
		return nil, fmt.Errorf("trainer failed: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(lastLine(stdout.Bytes()), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse trainer response: %w, stdout: %s", err, stdout.String())
	}
	return &resp, nil
}

// lastLine returns the final non-empty line so trainers may print progress first.
func lastLine(b []byte) []byte {
	b = bytes.TrimSpace(b)
	if i := bytes.LastIndexByte(b, '\n'); i >= 0 {
		return b[i+1:]
	}
	return b
}
