// Package classifier loads per-user gesture models and classifies hand
// feature vectors against the active one.
package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNoModel is returned when classification is requested before a model is loaded.
	ErrNoModel = errors.New("no gesture model loaded")
	// ErrArtifactsNotFound is returned when a user has no model or label file.
	ErrArtifactsNotFound = errors.New("model artifacts not found")
	// ErrInvalidArtifact is returned when an artifact exists but cannot be used.
	ErrInvalidArtifact = errors.New("invalid model artifact")
	// ErrInputSize is returned when a vector does not match the model input.
	ErrInputSize = errors.New("input size mismatch")
)

// Model maps a feature vector to a score per class index.
type Model interface {
	Predict(features []float64) ([]float64, error)
	InputSize() int
	Classes() int
}

// Activation names accepted in model files.
const (
	ActivationLinear  = "linear"
	ActivationReLU    = "relu"
	ActivationSigmoid = "sigmoid"
	ActivationTanh    = "tanh"
	ActivationSoftmax = "softmax"
)

// modelFile is the on-disk form of a DenseModel.
type modelFile struct {
	InputSize int         `json:"input_size"`
	Layers    []layerFile `json:"layers"`
}

type layerFile struct {
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	Activation string      `json:"activation"`
}

type denseLayer struct {
	weights    *mat.Dense // in x out
	bias       *mat.VecDense
	activation string
}

// DenseModel is a fully connected feed-forward network.
type DenseModel struct {
	inputSize int
	layers    []denseLayer
}

// ParseDenseModel validates and decodes a model file.
func ParseDenseModel(data []byte) (*DenseModel, error) {
	if err := validateDocument(modelSchema, "model", data); err != nil {
		return nil, err
	}

	var f modelFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: model: %v", ErrInvalidArtifact, err)
	}

	m := &DenseModel{inputSize: f.InputSize}
	in := f.InputSize
	for i, lf := range f.Layers {
		if len(lf.Weights) != in {
			return nil, fmt.Errorf("%w: layer %d has %d weight rows, want %d", ErrInvalidArtifact, i, len(lf.Weights), in)
		}
		out := len(lf.Bias)
		flat := make([]float64, 0, in*out)
		for r, row := range lf.Weights {
			if len(row) != out {
				return nil, fmt.Errorf("%w: layer %d row %d has %d weights, want %d", ErrInvalidArtifact, i, r, len(row), out)
			}
			flat = append(flat, row...)
		}
		act := lf.Activation
		if act == "" {
			act = ActivationLinear
		}
		m.layers = append(m.layers, denseLayer{
			weights:    mat.NewDense(in, out, flat),
			bias:       mat.NewVecDense(out, append([]float64(nil), lf.Bias...)),
			activation: act,
		})
		in = out
	}

	return m, nil
}

// InputSize returns the expected feature vector length.
func (m *DenseModel) InputSize() int {
	return m.inputSize
}

// Classes returns the width of the output layer.
func (m *DenseModel) Classes() int {
	return m.layers[len(m.layers)-1].bias.Len()
}

// Predict runs a forward pass.
func (m *DenseModel) Predict(features []float64) ([]float64, error) {
	if len(features) != m.inputSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInputSize, len(features), m.inputSize)
	}

	x := mat.NewVecDense(len(features), append([]float64(nil), features...))
	for _, l := range m.layers {
		y := mat.NewVecDense(l.bias.Len(), nil)
		y.MulVec(l.weights.T(), x)
		y.AddVec(y, l.bias)
		activate(l.activation, y.RawVector().Data)
		x = y
	}

	return append([]float64(nil), x.RawVector().Data...), nil
}

func activate(name string, v []float64) {
	switch name {
	case ActivationReLU:
		for i, x := range v {
			v[i] = math.Max(0, x)
		}
	case ActivationSigmoid:
		for i, x := range v {
			v[i] = 1 / (1 + math.Exp(-x))
		}
	case ActivationTanh:
		for i, x := range v {
			v[i] = math.Tanh(x)
		}
	case ActivationSoftmax:
		peak := math.Inf(-1)
		for _, x := range v {
			peak = math.Max(peak, x)
		}
		var sum float64
		for i, x := range v {
			v[i] = math.Exp(x - peak)
			sum += v[i]
		}
		for i := range v {
			v[i] /= sum
		}
	}
}
