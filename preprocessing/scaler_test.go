package preprocessing

import (
	"bytes"
	"encoding/gob"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/housestack/pkg/errors"
)

func TestStandardScaler_FitTransform(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{
		1, 10,
		2, 10,
		3, 10,
		4, 10,
	})
	s := NewStandardScalerDefault()
	out, err := s.FitTransform(X)
	require.NoError(t, err)

	assert.InDeltaSlice(t, []float64{2.5, 10}, s.Means(), 1e-12)
	// population std of 1..4 is sqrt(1.25); the constant column is scaled by 1
	assert.InDeltaSlice(t, []float64{math.Sqrt(1.25), 1}, s.Scales(), 1e-12)

	for i := 0; i < 4; i++ {
		assert.InDelta(t, (float64(i+1)-2.5)/math.Sqrt(1.25), out.At(i, 0), 1e-12)
		assert.Equal(t, 0.0, out.At(i, 1))
	}
}

func TestStandardScaler_RoundTrip(t *testing.T) {
	X := mat.NewDense(5, 3, []float64{
		1200, 3, 47.51,
		2500, 4, 47.72,
		800, 2, 47.38,
		3100, 5, 47.66,
		1700, 3, 47.55,
	})
	s := NewStandardScalerDefault()
	require.NoError(t, s.Fit(X))

	probe := mat.NewDense(2, 3, []float64{
		0.3, -1.2, 2.0,
		-0.7, 0.0, 0.5,
	})
	inv, err := s.InverseTransform(probe)
	require.NoError(t, err)
	back, err := s.Transform(inv)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(probe, back, 1e-9))

	scaled, err := s.Transform(X)
	require.NoError(t, err)
	orig, err := s.InverseTransform(scaled)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(X, orig, 1e-9))
}

func TestStandardScaler_FitOnce(t *testing.T) {
	train := mat.NewDense(3, 1, []float64{1, 2, 3})
	test := mat.NewDense(2, 1, []float64{100, 200})

	s := NewStandardScalerDefault()
	require.NoError(t, s.Fit(train))
	before := s.Means()

	err := s.Fit(test)
	assert.True(t, errors.Is(err, errors.ErrAlreadyFitted))
	assert.Equal(t, before, s.Means())

	_, err = s.Transform(test)
	require.NoError(t, err)
	assert.Equal(t, before, s.Means(), "Transform must not refit")

	s.Reset()
	require.NoError(t, s.Fit(test))
	assert.Equal(t, []float64{150}, s.Means())
}

func TestStandardScaler_Errors(t *testing.T) {
	s := NewStandardScalerDefault()

	_, err := s.Transform(mat.NewDense(1, 2, nil))
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))

	require.NoError(t, s.Fit(mat.NewDense(2, 2, []float64{1, 2, 3, 4})))
	_, err = s.Transform(mat.NewDense(1, 3, nil))
	var de *errors.DimensionError
	assert.True(t, errors.As(err, &de))

	nan := NewStandardScalerDefault()
	err = nan.Fit(mat.NewDense(2, 1, []float64{1, math.NaN()}))
	var ni *errors.NumericalInstabilityError
	assert.True(t, errors.As(err, &ni))
}

func TestStandardScaler_Gob(t *testing.T) {
	s := NewStandardScalerDefault()
	require.NoError(t, s.Fit(mat.NewDense(3, 2, []float64{1, 4, 2, 5, 3, 9})))

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(s))

	restored := &StandardScaler{}
	require.NoError(t, gob.NewDecoder(&buf).Decode(restored))
	assert.True(t, restored.IsFitted())
	assert.Equal(t, s.Means(), restored.Means())
	assert.Equal(t, s.Scales(), restored.Scales())
}
