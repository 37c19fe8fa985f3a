package app

import (
	"errors"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gocv.io/x/gocv"

	"github.com/ayusman/senas/internal/capture"
	"github.com/ayusman/senas/internal/classifier"
)

// SampleSize is the side of the square training images written by CaptureSample.
const SampleSize = 224

var (
	// ErrInvalidLabel is returned for an empty or unsafe sample label.
	ErrInvalidLabel = errors.New("invalid label")
	// ErrDatasetNotConfigured is returned when no dataset directory is set.
	ErrDatasetNotConfigured = errors.New("dataset directory not configured")
	// ErrCaptureFailed is returned when no usable frame could be read or written.
	ErrCaptureFailed = errors.New("sample capture failed")
)

var labelPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_-]{0,31}$`)

// SampleLabel normalizes label to its directory form (upper case) and
// validates it.
func SampleLabel(label string) (string, error) {
	l := strings.ToUpper(strings.TrimSpace(label))
	if !labelPattern.MatchString(l) {
		return "", fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	return l, nil
}

// CaptureSample grabs one mirrored frame, scales it to SampleSize and saves it
// as <DatasetDir>/<userID>/<LABEL>/<LABEL>_<n>.jpg with the next free n. The
// camera is opened if needed and left open for the idle watchdog.
func (s *Session) CaptureSample(userID, label string) (string, error) {
	if err := classifier.ValidateUserID(userID); err != nil {
		return "", err
	}
	label, err := SampleLabel(label)
	if err != nil {
		return "", err
	}
	if s.config.DatasetDir == "" {
		return "", ErrDatasetNotConfigured
	}

	if !s.manager.Open() {
		return "", capture.ErrOpenFailed
	}

	raw, err := s.manager.ReadFrame()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	defer raw.Close()
	if !raw.Valid() {
		return "", fmt.Errorf("%w: empty frame", ErrCaptureFailed)
	}
	s.manager.Touch()

	mirrored := gocv.NewMat()
	defer mirrored.Close()
	gocv.Flip(*raw.Mat, &mirrored, 1)

	sample := gocv.NewMat()
	defer sample.Close()
	gocv.Resize(mirrored, &sample, image.Pt(SampleSize, SampleSize), 0, 0, gocv.InterpolationLinear)

	dir := filepath.Join(s.config.DatasetDir, userID, label)

	s.captureMu.Lock()
	defer s.captureMu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create sample dir: %w", err)
	}
	n, err := nextSampleNumber(dir, label)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%d.jpg", label, n))
	if !gocv.IMWrite(path, sample) {
		return "", fmt.Errorf("%w: write %s", ErrCaptureFailed, path)
	}

	log.Printf("sample saved: %s", path)
	return path, nil
}

// nextSampleNumber returns one past the highest n among <label>_<n>.jpg in dir.
func nextSampleNumber(dir, label string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read sample dir: %w", err)
	}

	prefix := label + "_"
	highest := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".jpg") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".jpg"))
		if err == nil && n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}
