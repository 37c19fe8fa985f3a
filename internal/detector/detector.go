// Package detector defines the hand landmark extractor used by the frame pipeline.
package detector

import "gocv.io/x/gocv"

// Detector locates hand keypoints in a video frame.
type Detector interface {
	// Detect analyzes an RGB frame and returns the landmarks of every detected hand.
	// Returns an empty slice if no hands are detected.
	Detect(frame *gocv.Mat) ([]HandLandmarks, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for hand detection.
type Config struct {
	// MaxHands is the maximum number of hands to detect.
	MaxHands int `yaml:"max_hands"`

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64 `yaml:"min_confidence"`

	// MinTrackingConf is the minimum tracking confidence threshold (0.0-1.0).
	MinTrackingConf float64 `yaml:"min_tracking_confidence"`

	// ScriptPath overrides the location of the landmark service script.
	ScriptPath string `yaml:"script_path"`

	// Python overrides the interpreter used to run the script.
	Python string `yaml:"python"`
}

// DefaultConfig returns the detection settings the recognizer was tuned with:
// a single hand and 0.8 detection/tracking confidence.
func DefaultConfig() Config {
	return Config{
		MaxHands:        1,
		MinConfidence:   0.8,
		MinTrackingConf: 0.8,
	}
}
