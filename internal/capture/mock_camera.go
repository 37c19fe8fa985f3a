package capture

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// MockCamera plays back pre-recorded frames for testing.
// It can be scripted to fail a number of opens and to return read errors.
type MockCamera struct {
	frames  []*gocv.Mat
	index   int
	loop    bool
	mu      sync.Mutex
	running bool
	fps     int

	openFailures int
	openCalls    int
	closeCalls   int
	closeErr     error
	readErrs     []error
}

// NewMockCamera creates a MockCamera over frames. With loop set, playback
// restarts from the first frame instead of failing.
func NewMockCamera(frames []*gocv.Mat, loop bool) *MockCamera {
	return &MockCamera{
		frames: frames,
		loop:   loop,
		fps:    DefaultFPS,
	}
}

// FailOpens makes the next n calls to Open fail.
func (c *MockCamera) FailOpens(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openFailures = n
}

// SetCloseError makes Close report err after releasing.
func (c *MockCamera) SetCloseError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeErr = err
}

// QueueReadErrors makes the next reads return errs in order before frames resume.
func (c *MockCamera) QueueReadErrors(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readErrs = append(c.readErrs, errs...)
}

// OpenCalls returns how many times Open has been called.
func (c *MockCamera) OpenCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openCalls
}

// CloseCalls returns how many times Close has been called.
func (c *MockCamera) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

func (c *MockCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openCalls++
	if c.openFailures > 0 {
		c.openFailures--
		return ErrDeviceUnavailable
	}
	c.running = true
	c.index = 0
	return nil
}

func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
	c.running = false
	return c.closeErr
}

func (c *MockCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil, ErrCameraNotOpen
	}

	if len(c.readErrs) > 0 {
		err := c.readErrs[0]
		c.readErrs = c.readErrs[1:]
		return nil, err
	}

	if len(c.frames) == 0 {
		return nil, fmt.Errorf("no frames available")
	}

	if c.index >= len(c.frames) {
		if c.loop {
			c.index = 0
		} else {
			return nil, errors.New("no more frames")
		}
	}

	// Clone the frame so the original isn't modified
	frame := c.frames[c.index].Clone()
	c.index++

	return &frame, nil
}

func (c *MockCamera) SetFPS(fps int) {
	if fps <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fps = fps
}

func (c *MockCamera) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

func (c *MockCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// SetFrames replaces the frame sequence
func (c *MockCamera) SetFrames(frames []*gocv.Mat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = frames
	c.index = 0
}

// Reset restarts playback from the beginning
func (c *MockCamera) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = 0
}

// SolidFrame returns a rows x cols BGR frame filled with a mid-gray value.
// The caller owns the returned Mat.
func SolidFrame(rows, cols int) *gocv.Mat {
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(128, 128, 128, 0), rows, cols, gocv.MatTypeCV8UC3)
	return &mat
}
