package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/ayusman/senas/internal/capture"
	"github.com/ayusman/senas/internal/detector"
)

// ErrStreamClosed is returned by Next once the camera has been released.
var ErrStreamClosed = errors.New("frame stream closed")

// Pipeline defaults.
const (
	DefaultJPEGQuality       = 80
	DefaultCaptureRetryDelay = 10 * time.Millisecond
)

// PipelineConfig controls per-frame processing.
type PipelineConfig struct {
	// SquareCrop keeps the top-left min(h, w) square of the mirrored frame.
	SquareCrop bool `yaml:"square_crop"`
	// Overlay draws the detected hand skeleton on streamed frames.
	Overlay bool `yaml:"overlay"`
	// JPEGQuality is 1-100.
	JPEGQuality int `yaml:"jpeg_quality"`
	// CaptureRetryDelay is the pause after a failed or empty capture.
	CaptureRetryDelay time.Duration `yaml:"capture_retry_delay"`
}

// DefaultPipelineConfig crops to a square and draws the overlay.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		SquareCrop:        true,
		Overlay:           true,
		JPEGQuality:       DefaultJPEGQuality,
		CaptureRetryDelay: DefaultCaptureRetryDelay,
	}
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = DefaultJPEGQuality
	}
	if c.CaptureRetryDelay < 0 {
		c.CaptureRetryDelay = DefaultCaptureRetryDelay
	}
	return c
}

// FrameStream yields encoded frames for one client. It is not restartable:
// once Next returns an error the stream is finished.
type FrameStream struct {
	session *Session
	id      string

	closeOnce sync.Once
	done      bool
}

// NewFrameStream admits a new consumer. It fails with ErrCameraInactive,
// ErrModelNotLoaded or ErrStreamBusy. Without a model the stream is refused
// unless StreamWithoutModel is set.
func (s *Session) NewFrameStream() (*FrameStream, error) {
	if !s.manager.IsActive() {
		return nil, ErrCameraInactive
	}
	if !s.registry.Loaded() && (s.config.RequireModel || !s.config.StreamWithoutModel) {
		return nil, ErrModelNotLoaded
	}

	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	if s.streamID != "" {
		return nil, ErrStreamBusy
	}
	s.streamID = uuid.NewString()

	// Count admission as consumption so the watchdog does not race the first frame.
	s.manager.Touch()

	log.Printf("stream %s started", s.streamID)
	return &FrameStream{session: s, id: s.streamID}, nil
}

// ID identifies the stream in logs and status.
func (fs *FrameStream) ID() string {
	return fs.id
}

// Close releases the stream slot. It does not close the camera.
func (fs *FrameStream) Close() {
	fs.closeOnce.Do(func() {
		s := fs.session
		s.streamMu.Lock()
		if s.streamID == fs.id {
			s.streamID = ""
		}
		s.streamMu.Unlock()
		log.Printf("stream %s ended", fs.id)
	})
}

// Next blocks until the next frame is ready and returns it JPEG-encoded.
// It returns ctx.Err() on cancellation and ErrStreamClosed once the camera
// is no longer active. Capture glitches are skipped silently.
func (fs *FrameStream) Next(ctx context.Context) ([]byte, error) {
	if fs.done {
		return nil, ErrStreamClosed
	}
	s := fs.session

	for {
		if err := ctx.Err(); err != nil {
			fs.done = true
			return nil, err
		}
		if !s.manager.IsActive() {
			fs.done = true
			return nil, ErrStreamClosed
		}

		raw, err := s.manager.ReadFrame()
		if errors.Is(err, capture.ErrCameraNotOpen) {
			fs.done = true
			return nil, ErrStreamClosed
		}
		if err != nil || !raw.Valid() {
			raw.Close()
			if !sleepCtx(ctx, s.config.Pipeline.CaptureRetryDelay) {
				fs.done = true
				return nil, ctx.Err()
			}
			continue
		}

		buf, err := s.processFrame(raw)
		raw.Close()
		if err != nil {
			log.Printf("stream %s: %v", fs.id, err)
			continue
		}

		s.manager.Touch()
		return buf, nil
	}
}

// processFrame mirrors, crops, detects, classifies, overlays and encodes one frame.
func (s *Session) processFrame(raw capture.RawFrame) ([]byte, error) {
	cfg := s.config.Pipeline

	frame := gocv.NewMat()
	defer frame.Close()
	gocv.Flip(*raw.Mat, &frame, 1)

	if cfg.SquareCrop {
		side := min(frame.Rows(), frame.Cols())
		region := frame.Region(image.Rect(0, 0, side, side))
		square := region.Clone()
		region.Close()
		frame.Close()
		frame = square
	}

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(frame, &rgb, gocv.ColorBGRToRGB)

	hands, err := s.detector.Detect(&rgb)
	if err != nil {
		// The frame is still streamed without recognition.
		log.Printf("hand detection: %v", err)
		hands = nil
	}

	for _, hand := range hands {
		if cfg.Overlay {
			detector.DrawSkeleton(&frame, hand)
		}
		s.recognize(hand.Features(), raw.CapturedAt)
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, frame, []int{gocv.IMWriteJpegQuality, cfg.JPEGQuality})
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...), nil
}

// recognize classifies one hand and feeds the stabilizer. Vectors of the
// wrong length and frames without a classification are ignored.
func (s *Session) recognize(v detector.FeatureVector, at time.Time) {
	if !v.Valid() {
		return
	}
	res, ok := s.registry.Classify(v)
	if !ok {
		return
	}
	d := s.stabilizer.Observe(v, res.Label, res.Confidence, at)
	if d.Fresh {
		log.Printf("gesture %s (%s, %.2f)", d.Event.Label, d.Event.Type, d.Event.Confidence)
		s.publish(d.Event)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
