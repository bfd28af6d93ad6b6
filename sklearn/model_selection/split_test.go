package model_selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/housestack/pkg/errors"
)

func checkPartition(t *testing.T, folds []CVFold, n int) {
	t.Helper()
	seen := make([]int, n)
	for f, fold := range folds {
		assert.Len(t, fold.TrainIndices, n-len(fold.TestIndices), "fold %d", f)
		inTest := make(map[int]bool, len(fold.TestIndices))
		for _, idx := range fold.TestIndices {
			inTest[idx] = true
			seen[idx]++
		}
		for _, idx := range fold.TrainIndices {
			assert.False(t, inTest[idx], "fold %d: index %d in both train and test", f, idx)
		}
		assert.IsNonDecreasing(t, fold.TestIndices)
		assert.IsNonDecreasing(t, fold.TrainIndices)
	}
	for idx, c := range seen {
		assert.Equal(t, 1, c, "index %d must be tested exactly once", idx)
	}
}

func TestKFold_Split(t *testing.T) {
	X := mat.NewDense(7, 1, nil)
	folds, err := NewKFold(3, false, 0).Split(X, nil)
	require.NoError(t, err)
	require.Len(t, folds, 3)

	assert.Equal(t, []int{0, 1, 2}, folds[0].TestIndices)
	assert.Equal(t, []int{3, 4}, folds[1].TestIndices)
	assert.Equal(t, []int{5, 6}, folds[2].TestIndices)
	checkPartition(t, folds, 7)

	shuffled, err := NewKFold(3, true, 42).Split(X, nil)
	require.NoError(t, err)
	checkPartition(t, shuffled, 7)
	again, _ := NewKFold(3, true, 42).Split(X, nil)
	assert.Equal(t, shuffled, again)

	_, err = NewKFold(10, false, 0).Split(X, nil)
	var dfe *errors.DegenerateFoldError
	assert.True(t, errors.As(err, &dfe))
}

func TestStratifiedKFold_Split(t *testing.T) {
	// 6 of class 0 followed by 4 of class 1
	y := mat.NewVecDense(10, []float64{0, 0, 0, 0, 0, 0, 1, 1, 1, 1})
	X := mat.NewDense(10, 2, nil)

	folds, err := NewStratifiedKFold(2, false, 0).Split(X, y)
	require.NoError(t, err)
	require.Len(t, folds, 2)
	checkPartition(t, folds, 10)

	assert.Equal(t, []int{0, 1, 2, 6, 7}, folds[0].TestIndices)
	assert.Equal(t, []int{3, 4, 5, 8, 9}, folds[1].TestIndices)

	for f, fold := range folds {
		classes := map[float64]int{}
		for _, idx := range fold.TrainIndices {
			classes[y.AtVec(idx)]++
		}
		assert.Len(t, classes, 2, "fold %d training part must contain both classes", f)
	}
}

func TestStratifiedKFold_TooFewMembers(t *testing.T) {
	y := mat.NewVecDense(6, []float64{0, 0, 0, 0, 1, 1})
	X := mat.NewDense(6, 1, nil)

	_, err := NewStratifiedKFold(3, false, 0).Split(X, y)
	var dfe *errors.DegenerateFoldError
	require.True(t, errors.As(err, &dfe), "got %v", err)
	assert.Equal(t, -1, dfe.Fold)
	assert.Equal(t, 3, dfe.NSplits)

	_, err = NewStratifiedKFold(2, false, 0).Split(X, mat.NewVecDense(5, nil))
	var de *errors.DimensionError
	assert.True(t, errors.As(err, &de))
}

func TestNewSplitters_DefaultSplits(t *testing.T) {
	assert.Equal(t, 5, NewKFold(1, false, 0).GetNSplits())
	assert.Equal(t, 5, NewStratifiedKFold(0, false, 0).GetNSplits())
	var _ Splitter = NewKFold(5, false, 0)
	var _ Splitter = NewStratifiedKFold(5, false, 0)
}

func TestTrainTestSplit_Stratified(t *testing.T) {
	y := make([]float64, 20)
	for i := 10; i < 20; i++ {
		y[i] = 1
	}

	train, test, err := TrainTestSplit(20, 0.2, y, 42)
	require.NoError(t, err)
	assert.Len(t, test, 4)
	assert.Len(t, train, 16)
	assert.IsIncreasing(t, train)
	assert.IsIncreasing(t, test)

	counts := map[float64]int{}
	for _, idx := range test {
		counts[y[idx]]++
	}
	assert.Equal(t, map[float64]int{0: 2, 1: 2}, counts)

	all := map[int]bool{}
	for _, idx := range append(append([]int(nil), train...), test...) {
		assert.False(t, all[idx], "index %d appears twice", idx)
		all[idx] = true
	}
	assert.Len(t, all, 20)

	train2, test2, err := TrainTestSplit(20, 0.2, y, 42)
	require.NoError(t, err)
	assert.Equal(t, train, train2)
	assert.Equal(t, test, test2)
}

func TestTrainTestSplit_Rounding(t *testing.T) {
	// 7 of class 0 and 3 of class 1; ceil(0.25*10) = 3 test samples
	y := []float64{0, 0, 0, 0, 0, 0, 0, 1, 1, 1}
	_, test, err := TrainTestSplit(10, 0.25, y, 1)
	require.NoError(t, err)
	require.Len(t, test, 3)

	// exact quotas 2.1 and 0.9: the larger remainder gets the extra seat
	counts := map[float64]int{}
	for _, idx := range test {
		counts[y[idx]]++
	}
	assert.Equal(t, 2, counts[0])
	assert.Equal(t, 1, counts[1])

	train, test, err := TrainTestSplit(10, 0.3, nil, 7)
	require.NoError(t, err)
	assert.Len(t, test, 3)
	assert.Len(t, train, 7)
}

func TestTrainTestSplit_Invalid(t *testing.T) {
	_, _, err := TrainTestSplit(10, 1.5, nil, 0)
	assert.Error(t, err)

	_, _, err = TrainTestSplit(10, 0.2, []float64{0, 1}, 0)
	assert.Error(t, err)

	_, _, err = TrainTestSplit(4, 0.2, []float64{1, 1, 1, 1}, 0)
	assert.True(t, errors.Is(err, errors.ErrSingleClass))
}

func TestSelectRows(t *testing.T) {
	X := mat.NewDense(3, 2, []float64{1, 2, 3, 4, 5, 6})
	got := SelectRows(X, []int{2, 0})
	assert.True(t, mat.Equal(mat.NewDense(2, 2, []float64{5, 6, 1, 2}), got))
}
