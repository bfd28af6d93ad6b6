package preprocessing

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/housestack/core/model"
	"github.com/YuminosukeSato/housestack/pkg/errors"
)

// minScale is the smallest standard deviation used as a divisor; smaller
// (constant) columns are scaled by 1.
const minScale = 1e-8

var _ model.Transformer = (*StandardScaler)(nil)

// StandardScaler standardises each column to zero mean and unit variance
// using the population standard deviation, like scikit-learn's StandardScaler.
//
// A scaler may be fitted once. A second Fit returns ErrAlreadyFitted until
// Reset is called, so test and inference data can never refit the statistics.
//
//	scaler := preprocessing.NewStandardScaler(true, true)
//	XTrain, err := scaler.FitTransform(XTrain)
//	XTest, err := scaler.Transform(XTest)
type StandardScaler struct {
	state *model.StateManager

	withMean bool
	withStd  bool

	mean  []float64
	scale []float64
}

// NewStandardScaler returns an unfitted scaler.
func NewStandardScaler(withMean, withStd bool) *StandardScaler {
	return &StandardScaler{
		state:    model.NewStateManager(),
		withMean: withMean,
		withStd:  withStd,
	}
}

// NewStandardScalerDefault centres and scales.
func NewStandardScalerDefault() *StandardScaler {
	return NewStandardScaler(true, true)
}

// Fit computes per-column mean and population standard deviation.
func (s *StandardScaler) Fit(X mat.Matrix) error {
	if s.state.IsFitted() {
		return errors.Wrap(errors.ErrAlreadyFitted, "StandardScaler.Fit: call Reset before refitting")
	}
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("StandardScaler.Fit", "empty data", errors.ErrEmptyData)
	}
	if err := errors.CheckMatrix("StandardScaler.Fit", X, r, c, 0); err != nil {
		return err
	}

	s.mean = make([]float64, c)
	s.scale = make([]float64, c)
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, X)
		mean, std := stat.PopMeanStdDev(col, nil)
		if s.withMean {
			s.mean[j] = mean
		}
		s.scale[j] = 1
		if s.withStd && std >= minScale {
			s.scale[j] = std
		}
	}

	s.state.SetDimensions(c, r)
	s.state.SetFitted()
	return nil
}

// Transform applies (x - mean) / scale column-wise.
func (s *StandardScaler) Transform(X mat.Matrix) (mat.Matrix, error) {
	return s.apply("Transform", X, func(v float64, j int) float64 {
		return (v - s.mean[j]) / s.scale[j]
	})
}

// InverseTransform applies x*scale + mean column-wise.
func (s *StandardScaler) InverseTransform(X mat.Matrix) (mat.Matrix, error) {
	return s.apply("InverseTransform", X, func(v float64, j int) float64 {
		return v*s.scale[j] + s.mean[j]
	})
}

// FitTransform fits on X and returns X transformed.
func (s *StandardScaler) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

func (s *StandardScaler) apply(method string, X mat.Matrix, fn func(v float64, j int) float64) (mat.Matrix, error) {
	r, c := X.Dims()
	if err := s.state.RequireFeatures("StandardScaler", method, c); err != nil {
		return nil, err
	}
	result := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			result.Set(i, j, fn(X.At(i, j), j))
		}
	}
	return result, nil
}

// Reset discards the fitted statistics.
func (s *StandardScaler) Reset() {
	s.state.Reset()
	s.mean = nil
	s.scale = nil
}

// IsFitted reports whether Fit has completed.
func (s *StandardScaler) IsFitted() bool {
	return s.state.IsFitted()
}

// Means returns a copy of the fitted column means.
func (s *StandardScaler) Means() []float64 {
	return append([]float64(nil), s.mean...)
}

// Scales returns a copy of the fitted column scales.
func (s *StandardScaler) Scales() []float64 {
	return append([]float64(nil), s.scale...)
}

// GetParams returns the hyperparameters.
func (s *StandardScaler) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"with_mean": s.withMean,
		"with_std":  s.withStd,
	}
}

func (s *StandardScaler) String() string {
	if !s.state.IsFitted() {
		return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t)", s.withMean, s.withStd)
	}
	nFeatures, _ := s.state.GetDimensions()
	return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t, n_features=%d)",
		s.withMean, s.withStd, nFeatures)
}

type scalerSnapshot struct {
	State    model.State
	WithMean bool
	WithStd  bool
	Mean     []float64
	Scale    []float64
}

// GobEncode implements gob.GobEncoder.
func (s *StandardScaler) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(scalerSnapshot{
		State:    s.state.GetState(),
		WithMean: s.withMean,
		WithStd:  s.withStd,
		Mean:     s.mean,
		Scale:    s.scale,
	})
	return buf.Bytes(), errors.Wrap(err, "encode StandardScaler")
}

// GobDecode implements gob.GobDecoder.
func (s *StandardScaler) GobDecode(data []byte) error {
	var snap scalerSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return errors.Wrap(err, "decode StandardScaler")
	}
	s.state = model.NewStateManager()
	s.state.SetState(snap.State)
	s.withMean = snap.WithMean
	s.withStd = snap.WithStd
	s.mean = snap.Mean
	s.scale = snap.Scale
	return nil
}
