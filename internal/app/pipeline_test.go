package app

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/senas/internal/capture"
	"github.com/ayusman/senas/internal/detector"
)

func openStream(t *testing.T, r *testRig) *FrameStream {
	t.Helper()
	if err := r.session.OpenCamera(); err != nil {
		t.Fatalf("OpenCamera() error = %v", err)
	}
	stream, err := r.session.NewFrameStream()
	if err != nil {
		t.Fatalf("NewFrameStream() error = %v", err)
	}
	t.Cleanup(stream.Close)
	return stream
}

func decode(t *testing.T, buf []byte) gocv.Mat {
	t.Helper()
	if len(buf) < 2 || buf[0] != 0xFF || buf[1] != 0xD8 {
		t.Fatalf("frame is not a JPEG")
	}
	img, err := gocv.IMDecode(buf, gocv.IMReadColor)
	if err != nil {
		t.Fatalf("IMDecode() error = %v", err)
	}
	return img
}

func TestNewFrameStream_Admission(t *testing.T) {
	r := newRig(t, nil)

	if _, err := r.session.NewFrameStream(); !errors.Is(err, ErrCameraInactive) {
		t.Fatalf("NewFrameStream() on closed camera error = %v, want ErrCameraInactive", err)
	}

	first := openStream(t, r)
	if _, err := r.session.NewFrameStream(); !errors.Is(err, ErrStreamBusy) {
		t.Fatalf("second NewFrameStream() error = %v, want ErrStreamBusy", err)
	}

	first.Close()
	second, err := r.session.NewFrameStream()
	if err != nil {
		t.Fatalf("NewFrameStream() after close error = %v", err)
	}
	second.Close()
}

func TestNewFrameStream_RequiresModel(t *testing.T) {
	r := newRig(t, func(c *Config) { c.RequireModel = true })
	// Open the device directly; OpenCamera would refuse without a model.
	r.session.Manager().Open()

	if _, err := r.session.NewFrameStream(); !errors.Is(err, ErrModelNotLoaded) {
		t.Fatalf("NewFrameStream() error = %v, want ErrModelNotLoaded", err)
	}

	r.loadModel(1, 0, 0)
	stream, err := r.session.NewFrameStream()
	if err != nil {
		t.Fatalf("NewFrameStream() with model error = %v", err)
	}
	stream.Close()
}

func TestNewFrameStream_NeedsModelByDefault(t *testing.T) {
	r := newRig(t, func(c *Config) { c.StreamWithoutModel = false })
	if err := r.session.OpenCamera(); err != nil {
		t.Fatalf("OpenCamera() error = %v", err)
	}

	if _, err := r.session.NewFrameStream(); !errors.Is(err, ErrModelNotLoaded) {
		t.Fatalf("NewFrameStream() error = %v, want ErrModelNotLoaded", err)
	}

	r.loadModel(1, 0, 0)
	stream, err := r.session.NewFrameStream()
	if err != nil {
		t.Fatalf("NewFrameStream() with model error = %v", err)
	}
	stream.Close()
}

func TestFrameStream_YieldsSquareMirroredJPEG(t *testing.T) {
	tests := []struct {
		name       string
		squareCrop bool
		wantRows   int
		wantCols   int
	}{
		{"square crop", true, 48, 48},
		{"full frame", false, 48, 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, func(c *Config) { c.Pipeline.SquareCrop = tt.squareCrop })
			stream := openStream(t, r)

			buf, err := stream.Next(context.Background())
			if err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			img := decode(t, buf)
			defer img.Close()

			if img.Rows() != tt.wantRows || img.Cols() != tt.wantCols {
				t.Errorf("frame = %dx%d, want %dx%d", img.Rows(), img.Cols(), tt.wantRows, tt.wantCols)
			}
		})
	}
}

func TestFrameStream_Mirrors(t *testing.T) {
	r := newRig(t, func(c *Config) { c.Pipeline.SquareCrop = false })

	// Left half white, right half black.
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 40, 80, gocv.MatTypeCV8UC3)
	white := frame.Region(image.Rect(0, 0, 40, 40))
	white.SetTo(gocv.NewScalar(255, 255, 255, 0))
	white.Close()
	r.frames = append(r.frames, &frame)
	r.camera.SetFrames([]*gocv.Mat{&frame})

	stream := openStream(t, r)
	buf, err := stream.Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	img := decode(t, buf)
	defer img.Close()

	left := img.GetVecbAt(20, 10)
	right := img.GetVecbAt(20, 70)
	if left[0] > 50 || right[0] < 200 {
		t.Errorf("frame not mirrored: left=%v right=%v", left, right)
	}
}

func TestFrameStream_SkipsCaptureGlitches(t *testing.T) {
	r := newRig(t, nil)
	stream := openStream(t, r)
	r.camera.QueueReadErrors(errors.New("glitch"), errors.New("glitch"), errors.New("glitch"))

	if _, err := stream.Next(context.Background()); err != nil {
		t.Fatalf("Next() error = %v, want glitches skipped", err)
	}
}

func TestFrameStream_EndsWhenCameraCloses(t *testing.T) {
	r := newRig(t, nil)
	stream := openStream(t, r)

	if _, err := stream.Next(context.Background()); err != nil {
		t.Fatalf("Next() error = %v", err)
	}

	r.session.CloseCamera()

	if _, err := stream.Next(context.Background()); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("Next() after close error = %v, want ErrStreamClosed", err)
	}
	// Not restartable even if the camera comes back.
	r.session.OpenCamera()
	if _, err := stream.Next(context.Background()); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Next() on finished stream error = %v, want ErrStreamClosed", err)
	}
}

func TestFrameStream_Cancellation(t *testing.T) {
	r := newRig(t, nil)
	stream := openStream(t, r)

	// Reads keep failing so Next would loop forever without cancellation.
	errs := make([]error, 10000)
	for i := range errs {
		errs[i] = errors.New("glitch")
	}
	r.camera.QueueReadErrors(errs...)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := stream.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Next() error = %v, want DeadlineExceeded", err)
	}
}

func TestFrameStream_TouchesManager(t *testing.T) {
	r := newRig(t, nil)
	stream := openStream(t, r)

	r.session.manager.Touch()
	before := r.session.manager.LastConsumedAt()

	if _, err := stream.Next(context.Background()); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if after := r.session.manager.LastConsumedAt(); after.Before(before) {
		t.Errorf("LastConsumedAt went backwards: %v -> %v", before, after)
	}
}

func TestFrameStream_StreamsWithoutModel(t *testing.T) {
	r := newRig(t, nil)
	r.detector.SetHands([]detector.HandLandmarks{detector.ThumbsUpLandmarks()})
	stream := openStream(t, r)

	if _, err := stream.Next(context.Background()); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if _, ok := r.session.LastGesture(); ok {
		t.Error("no gesture expected without a model")
	}
}

func TestFrameStream_DetectionErrorStillStreams(t *testing.T) {
	r := newRig(t, nil)
	r.loadModel(1, 0, 0)
	r.detector.SetError(errors.New("extractor crashed"))
	stream := openStream(t, r)

	if _, err := stream.Next(context.Background()); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if r.model.Calls() != 0 {
		t.Error("classifier should not run without landmarks")
	}
}

func TestFrameStream_IgnoresMalformedHands(t *testing.T) {
	r := newRig(t, nil)
	r.loadModel(1, 0, 0)
	partial := detector.ThumbsUpLandmarks()
	partial.Points = partial.Points[:14]
	r.detector.SetHands([]detector.HandLandmarks{partial})
	stream := openStream(t, r)

	if _, err := stream.Next(context.Background()); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if r.model.Calls() != 0 {
		t.Error("classifier should not see a 42-value vector")
	}
	if st := r.session.Stabilizer().State(); st.HasPrevious {
		t.Error("stabilizer should be untouched")
	}
}

func TestFrameStream_StaticGesture(t *testing.T) {
	r := newRig(t, nil)
	r.loadModel(0.9, 0.05, 0.05)
	r.detector.SetHands([]detector.HandLandmarks{detector.ThumbsUpLandmarks()})
	events, unsubscribe := r.session.Subscribe()
	defer unsubscribe()
	stream := openStream(t, r)

	for i := 0; i < 3; i++ {
		if _, err := stream.Next(context.Background()); err != nil {
			t.Fatalf("Next() error = %v", err)
		}
	}

	got, ok := r.session.LastGesture()
	if !ok || got.Label != "A" {
		t.Fatalf("LastGesture() = %+v, %v; want A", got, ok)
	}

	select {
	case e := <-events:
		if e.Label != "A" {
			t.Errorf("published %q, want A", e.Label)
		}
	default:
		t.Fatal("no event published")
	}
	select {
	case e := <-events:
		t.Errorf("unexpected repeat event %+v", e)
	default:
	}
}

// movingDetector shifts the hand further on every call.
type movingDetector struct {
	mu   sync.Mutex
	step int
}

func (d *movingDetector) Detect(*gocv.Mat) ([]detector.HandLandmarks, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.step++
	return []detector.HandLandmarks{detector.Shifted(detector.OpenPalmLandmarks(), 0.05*float64(d.step), 0)}, nil
}

func (d *movingDetector) Close() error { return nil }

func TestFrameStream_DynamicGesture(t *testing.T) {
	r := newRig(t, func(c *Config) { c.Detector = &movingDetector{} })
	r.loadModel(0.05, 0.9, 0.05)
	stream := openStream(t, r)

	for i := 1; i <= 6; i++ {
		if _, err := stream.Next(context.Background()); err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		_, ok := r.session.LastGesture()
		// The first frame seeds the previous vector; stable from the 5th moving frame.
		want := i-1 >= 5
		if ok != want {
			t.Fatalf("frame %d: gesture present = %v, want %v", i, ok, want)
		}
	}

	got, _ := r.session.LastGesture()
	if got.Label != "J" {
		t.Errorf("LastGesture() = %q, want J", got.Label)
	}
}

func TestSession_WatchdogEndsStream(t *testing.T) {
	r := newRig(t, func(c *Config) {
		c.Manager.IdleTimeout = 30 * time.Millisecond
		c.Manager.WatchdogInterval = 5 * time.Millisecond
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.session.Start(ctx)
	stream := openStream(t, r)

	deadline := time.Now().Add(2 * time.Second)
	for r.session.CameraActive() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if r.session.CameraActive() {
		t.Fatal("watchdog did not close the unconsumed camera")
	}
	if _, err := stream.Next(context.Background()); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Next() error = %v, want ErrStreamClosed", err)
	}
}

var _ capture.Camera = (*capture.MockCamera)(nil)
