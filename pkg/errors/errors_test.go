package errors

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewModelError(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		kind    string
		err     error
		wantMsg string
	}{
		{
			name:    "with original error",
			op:      "Fit",
			kind:    "invalid input",
			err:     fmt.Errorf("test error"),
			wantMsg: "housestack: Fit: invalid input: test error",
		},
		{
			name:    "without original error",
			op:      "Predict",
			kind:    "not fitted",
			wantMsg: "housestack: Predict: not fitted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewModelError(tt.op, tt.kind, tt.err)
			assert.Equal(t, tt.wantMsg, err.Error())

			formatted := fmt.Sprintf("%+v", err)
			assert.True(t, strings.Contains(formatted, "errors_test.go"), "stack trace should reference the caller")

			var modelErr *ModelError
			assert.True(t, As(err, &modelErr))
		})
	}
}

func TestNewDimensionError(t *testing.T) {
	err := NewDimensionError("StandardScaler.Transform", 5, 3, 1)
	assert.Equal(t, "housestack: StandardScaler.Transform: dimension mismatch on axis 1 (features). Expected 5, got 3", err.Error())

	var dimErr *DimensionError
	require.True(t, As(err, &dimErr))
	assert.Equal(t, 5, dimErr.Expected)
	assert.Equal(t, 3, dimErr.Got)
}

func TestNewNotFittedError(t *testing.T) {
	err := NewNotFittedError("StackingClassifier", "Predict")
	assert.Contains(t, err.Error(), "StackingClassifier")
	assert.Contains(t, err.Error(), "Predict()")

	var nf *NotFittedError
	assert.True(t, As(err, &nf))
}

func TestNewMissingColumnError(t *testing.T) {
	err := NewMissingColumnError("HouseEncoder.TransformOne", "grade", "lat")
	assert.Equal(t, "housestack: HouseEncoder.TransformOne: missing required column(s): grade, lat", err.Error())

	var mc *MissingColumnError
	require.True(t, As(err, &mc))
	assert.Equal(t, []string{"grade", "lat"}, mc.Columns)
}

func TestNewSchemaMismatchError(t *testing.T) {
	err := NewSchemaMismatchError("AlignColumns", []string{"a", "b", "c"}, []string{"a"})
	assert.Contains(t, err.Error(), "expected 3 columns, got 1")

	var sm *SchemaMismatchError
	assert.True(t, As(err, &sm))
}

func TestNewDegenerateFoldError(t *testing.T) {
	before := NewDegenerateFoldError(-1, 5, "smallest class has 3 members")
	assert.Equal(t, "housestack: cannot build 5 folds: smallest class has 3 members", before.Error())

	during := NewDegenerateFoldError(2, 5, "training part lacks class 1")
	assert.Equal(t, "housestack: fold 2 of 5 is degenerate: training part lacks class 1", during.Error())

	var df *DegenerateFoldError
	require.True(t, As(during, &df))
	assert.Equal(t, 2, df.Fold)
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("cv", "must be at least 2", 1)
	assert.Equal(t, "housestack: validation failed for parameter 'cv': must be at least 2 (got: 1)", err.Error())
}

func TestWarn_RoutesToInstalledSink(t *testing.T) {
	var (
		mu       sync.Mutex
		received []error
	)
	SetZerologWarnFunc(func(w error) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, w)
	})
	defer SetZerologWarnFunc(nil)

	Warn(NewConvergenceWarning("LogisticRegression", 100, ""))

	require.Len(t, received, 1)
	assert.Contains(t, received[0].Error(), "LogisticRegression failed to converge after 100 iterations")
}

func TestWarn_FallsBackToHandler(t *testing.T) {
	var got error
	SetWarningHandler(func(w error) { got = w })
	defer SetWarningHandler(func(error) {})

	Warn(NewUndefinedMetricWarning("precision", "no predicted samples", 0))
	require.Error(t, got)
	assert.Equal(t, "'precision' is ill-defined and being set to 0.000000 due to no predicted samples.", got.Error())
}

func TestWrapAndIs(t *testing.T) {
	wrapped := Wrap(ErrEmptyData, "loading training split")
	assert.True(t, Is(wrapped, ErrEmptyData))
	assert.Contains(t, wrapped.Error(), "loading training split")

	wrappedf := Wrapf(ErrAlreadyFitted, "scaler %s", "features")
	assert.True(t, Is(wrappedf, ErrAlreadyFitted))
}

func TestNumericalHelpers(t *testing.T) {
	assert.Equal(t, 0.0, SafeDivide(1, 0))
	assert.Equal(t, 2.0, SafeDivide(4, 2))
	assert.Equal(t, 1.0, ClipValue(3, 0, 1))
	assert.Equal(t, 0.0, StabilizeExp(-1000))
	assert.False(t, StabilizeLog(0) < -40)

	assert.NoError(t, CheckScalar("loss", 0.3, 1))
	assert.Error(t, CheckScalar("loss", nan(), 1))
}

func nan() float64 {
	var zero float64
	return zero / zero
}
