package detector

import "math"

// Hand landmark indices following MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist        = 0
	ThumbCMC     = 1
	ThumbMCP     = 2
	ThumbIP      = 3
	ThumbTip     = 4
	IndexMCP     = 5
	IndexPIP     = 6
	IndexDIP     = 7
	IndexTip     = 8
	MiddleMCP    = 9
	MiddlePIP    = 10
	MiddleDIP    = 11
	MiddleTip    = 12
	RingMCP      = 13
	RingPIP      = 14
	RingDIP      = 15
	RingTip      = 16
	PinkyMCP     = 17
	PinkyPIP     = 18
	PinkyDIP     = 19
	PinkyTip     = 20
	NumLandmarks = 21
)

// FeatureLength is the length of a flattened hand: 21 landmarks of x, y, z.
const FeatureLength = NumLandmarks * 3

// HandConnections lists the landmark pairs joined when drawing a hand skeleton.
var HandConnections = [][2]int{
	{Wrist, ThumbCMC}, {ThumbCMC, ThumbMCP}, {ThumbMCP, ThumbIP}, {ThumbIP, ThumbTip},
	{Wrist, IndexMCP}, {IndexMCP, IndexPIP}, {IndexPIP, IndexDIP}, {IndexDIP, IndexTip},
	{IndexMCP, MiddleMCP}, {MiddleMCP, MiddlePIP}, {MiddlePIP, MiddleDIP}, {MiddleDIP, MiddleTip},
	{MiddleMCP, RingMCP}, {RingMCP, RingPIP}, {RingPIP, RingDIP}, {RingDIP, RingTip},
	{RingMCP, PinkyMCP}, {Wrist, PinkyMCP}, {PinkyMCP, PinkyPIP}, {PinkyPIP, PinkyDIP}, {PinkyDIP, PinkyTip},
}

// Point3D represents a 3D point with x and y normalized to the image bounds.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// HandLandmarks holds the keypoints of one detected hand.
// A well-formed hand has exactly NumLandmarks points.
type HandLandmarks struct {
	Points     []Point3D `json:"points"`
	Handedness string    `json:"handedness"` // "Left" or "Right"
	Score      float64   `json:"score"`
}

// FeatureVector is a hand flattened to x0, y0, z0, x1, y1, z1, ...
type FeatureVector []float64

// Features flattens the hand landmarks in point order.
func (h HandLandmarks) Features() FeatureVector {
	v := make(FeatureVector, 0, len(h.Points)*3)
	for _, p := range h.Points {
		v = append(v, p.X, p.Y, p.Z)
	}
	return v
}

// Valid reports whether the vector has the length the classifier expects.
func (v FeatureVector) Valid() bool {
	return len(v) == FeatureLength
}

// Distance returns the Euclidean distance between two vectors of equal length.
// Vectors of different length are infinitely far apart.
func (v FeatureVector) Distance(other FeatureVector) float64 {
	if len(v) != len(other) {
		return math.Inf(1)
	}
	var sum float64
	for i := range v {
		d := v[i] - other[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Clone returns a copy of the vector.
func (v FeatureVector) Clone() FeatureVector {
	if v == nil {
		return nil
	}
	out := make(FeatureVector, len(v))
	copy(out, v)
	return out
}
