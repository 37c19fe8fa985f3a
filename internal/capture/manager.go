package capture

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Resource manager defaults.
const (
	DefaultMaxOpenAttempts  = 5
	DefaultRetryBackoff     = 500 * time.Millisecond
	DefaultIdleTimeout      = 10 * time.Second
	DefaultWatchdogInterval = 5 * time.Second
)

// ErrOpenFailed is returned when the device could not be opened within the retry budget.
var ErrOpenFailed = errors.New("camera could not be opened")

// ManagerConfig controls device acquisition and idle eviction.
type ManagerConfig struct {
	MaxOpenAttempts  int           `yaml:"max_open_attempts"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	WatchdogInterval time.Duration `yaml:"watchdog_interval"`
}

// DefaultManagerConfig returns 5 attempts 500ms apart, a 10s idle timeout
// and a watchdog tick every 5s.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxOpenAttempts:  DefaultMaxOpenAttempts,
		RetryBackoff:     DefaultRetryBackoff,
		IdleTimeout:      DefaultIdleTimeout,
		WatchdogInterval: DefaultWatchdogInterval,
	}
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	d := DefaultManagerConfig()
	if c.MaxOpenAttempts <= 0 {
		c.MaxOpenAttempts = d.MaxOpenAttempts
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = d.WatchdogInterval
	}
	return c
}

// Manager owns exclusive access to one camera. Every other component reads
// frames and changes the device state only through it.
type Manager struct {
	camera Camera
	config ManagerConfig

	// opMu serializes Open and Close so a slow retry loop cannot interleave
	// with a release.
	opMu sync.Mutex

	mu             sync.Mutex
	active         bool
	openedAt       time.Time
	lastConsumedAt time.Time

	now func() time.Time
}

// NewManager wraps camera. Zero fields in config take their defaults.
func NewManager(camera Camera, config ManagerConfig) *Manager {
	return &Manager{
		camera: camera,
		config: config.withDefaults(),
		now:    time.Now,
	}
}

// Config returns the effective configuration.
func (m *Manager) Config() ManagerConfig {
	return m.config
}

// Open acquires the device, retrying up to MaxOpenAttempts times with
// RetryBackoff between failures. It is a no-op returning true when the
// camera is already active.
func (m *Manager) Open() bool {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.IsActive() {
		return true
	}

	for attempt := 1; attempt <= m.config.MaxOpenAttempts; attempt++ {
		err := m.camera.Open()
		if err == nil && m.camera.IsOpen() {
			now := m.now()
			m.mu.Lock()
			m.active = true
			m.openedAt = now
			m.lastConsumedAt = now
			m.mu.Unlock()
			log.Printf("camera opened on attempt %d", attempt)
			return true
		}
		if err == nil {
			err = ErrDeviceUnavailable
		}

		if attempt < m.config.MaxOpenAttempts {
			log.Printf("camera open attempt %d failed: %v; retrying", attempt, err)
			time.Sleep(m.config.RetryBackoff)
			continue
		}
		log.Printf("camera open failed after %d attempts: %v", attempt, err)
	}

	return false
}

// Close releases the device. Release errors are logged and otherwise ignored;
// the manager is inactive afterwards either way.
func (m *Manager) Close() {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	wasActive := m.active
	m.active = false
	m.mu.Unlock()

	m.release(wasActive)
}

// release closes the device. The caller holds opMu and has already marked
// the manager inactive.
func (m *Manager) release(wasActive bool) {
	if err := m.camera.Close(); err != nil {
		log.Printf("camera release: %v", err)
	}
	if wasActive {
		log.Println("camera released")
	}
}

// IsActive reports whether the camera is open. It performs no I/O.
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Touch records that a frame was delivered to a consumer.
func (m *Manager) Touch() {
	now := m.now()
	m.mu.Lock()
	m.lastConsumedAt = now
	m.mu.Unlock()
}

// LastConsumedAt returns the time of the last Touch (or of the last open).
func (m *Manager) LastConsumedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastConsumedAt
}

// OpenedAt returns when the camera was last opened.
func (m *Manager) OpenedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openedAt
}

// ReadFrame captures one frame. ErrCameraNotOpen means the stream should end;
// other errors are transient.
func (m *Manager) ReadFrame() (RawFrame, error) {
	if !m.IsActive() {
		return RawFrame{}, ErrCameraNotOpen
	}

	mat, err := m.camera.ReadFrame()
	if err != nil {
		return RawFrame{}, err
	}

	return RawFrame{Mat: mat, CapturedAt: m.now()}, nil
}

// CheckIdle closes the camera when it is active and nothing has consumed a
// frame for longer than IdleTimeout. It reports whether it closed the camera.
// The idle decision and the switch to inactive happen under one lock, so a
// Touch either lands first and keeps the camera open or finds it closed.
func (m *Manager) CheckIdle() bool {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	idle := m.active && m.now().Sub(m.lastConsumedAt) > m.config.IdleTimeout
	if idle {
		m.active = false
	}
	m.mu.Unlock()

	if !idle {
		return false
	}

	log.Println("no stream activity; closing camera")
	m.release(true)
	return true
}

// RunWatchdog calls CheckIdle every WatchdogInterval until ctx is done.
// The watchdog only ever closes the camera.
func (m *Manager) RunWatchdog(ctx context.Context) {
	ticker := time.NewTicker(m.config.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckIdle()
		}
	}
}
