// Package model_selection provides cross-validation splitters and the
// stratified train/test split.
package model_selection

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/housestack/pkg/errors"
)

// Splitter produces cross-validation folds.
type Splitter interface {
	Split(X, y mat.Matrix) ([]CVFold, error)
	GetNSplits() int
}

// CVFold is one train/test partition of the sample indices. Both slices are
// sorted ascending.
type CVFold struct {
	TrainIndices []int
	TestIndices  []int
}

// KFold splits samples into NSplits consecutive folds.
type KFold struct {
	NSplits    int
	Shuffle    bool
	RandomSeed uint64
}

// NewKFold creates a k-fold splitter. nSplits < 2 falls back to 5.
func NewKFold(nSplits int, shuffle bool, randomSeed uint64) *KFold {
	if nSplits < 2 {
		nSplits = 5
	}
	return &KFold{NSplits: nSplits, Shuffle: shuffle, RandomSeed: randomSeed}
}

// GetNSplits returns the number of folds.
func (kf *KFold) GetNSplits() int {
	return kf.NSplits
}

// Split assigns the first n%NSplits folds one extra sample.
func (kf *KFold) Split(X, _ mat.Matrix) ([]CVFold, error) {
	nSamples, _ := X.Dims()
	if nSamples < kf.NSplits {
		return nil, errors.NewDegenerateFoldError(-1, kf.NSplits,
			fmt.Sprintf("n_splits=%d is greater than the number of samples %d", kf.NSplits, nSamples))
	}

	indices := arange(nSamples)
	if kf.Shuffle {
		newRand(kf.RandomSeed).Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	assignment := make([]int, nSamples)
	pos := 0
	for fold, size := range foldSizes(nSamples, kf.NSplits) {
		for _, idx := range indices[pos : pos+size] {
			assignment[idx] = fold
		}
		pos += size
	}
	return buildFolds(assignment, kf.NSplits), nil
}

// StratifiedKFold splits samples so every fold keeps the class proportions of
// y. Without Shuffle the split depends only on the order of y.
type StratifiedKFold struct {
	NSplits    int
	Shuffle    bool
	RandomSeed uint64
}

// NewStratifiedKFold creates a stratified k-fold splitter. nSplits < 2 falls back to 5.
func NewStratifiedKFold(nSplits int, shuffle bool, randomSeed uint64) *StratifiedKFold {
	if nSplits < 2 {
		nSplits = 5
	}
	return &StratifiedKFold{NSplits: nSplits, Shuffle: shuffle, RandomSeed: randomSeed}
}

// GetNSplits returns the number of folds.
func (skf *StratifiedKFold) GetNSplits() int {
	return skf.NSplits
}

// Split distributes each class over the folds in sorted label order. Within
// a class, fold i receives a contiguous run of its members, and the first
// count%NSplits folds get one extra. Every class must have at least NSplits
// members, otherwise some fold would miss it and the result is a
// DegenerateFoldError.
func (skf *StratifiedKFold) Split(X, y mat.Matrix) ([]CVFold, error) {
	nSamples, _ := X.Dims()
	yRows, _ := y.Dims()
	if nSamples != yRows {
		return nil, errors.NewDimensionError("StratifiedKFold.Split", nSamples, yRows, 0)
	}

	labels, groups := groupByClass(y)
	for _, label := range labels {
		if n := len(groups[label]); n < skf.NSplits {
			return nil, errors.NewDegenerateFoldError(-1, skf.NSplits,
				fmt.Sprintf("the least populated class %v has only %d members", label, n))
		}
	}

	rng := newRand(skf.RandomSeed)
	assignment := make([]int, nSamples)
	for _, label := range labels {
		members := groups[label]
		if skf.Shuffle {
			rng.Shuffle(len(members), func(i, j int) {
				members[i], members[j] = members[j], members[i]
			})
		}
		pos := 0
		for fold, size := range foldSizes(len(members), skf.NSplits) {
			for _, idx := range members[pos : pos+size] {
				assignment[idx] = fold
			}
			pos += size
		}
	}
	return buildFolds(assignment, skf.NSplits), nil
}

// TrainTestSplit returns the train and test indices of n samples. The test
// part has ceil(testSize*n) samples. When stratify is non-nil each class
// contributes to the test part in proportion to its size; fractional seats
// go to the classes with the largest remainders, lower label first on ties.
// Members are drawn with a PCG generator seeded by seed, so the split is a
// pure function of its arguments. Both slices are sorted ascending.
func TrainTestSplit(n int, testSize float64, stratify []float64, seed uint64) (train, test []int, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, errors.NewValidationError("test_size", "must be in (0, 1)", testSize)
	}
	if stratify != nil && len(stratify) != n {
		return nil, nil, errors.NewDimensionError("TrainTestSplit", n, len(stratify), 0)
	}
	nTest := int(math.Ceil(testSize * float64(n)))
	nTrain := n - nTest
	if nTest < 1 || nTrain < 1 {
		return nil, nil, errors.NewValidationError("test_size",
			fmt.Sprintf("leaves %d train and %d test samples of %d", nTrain, nTest, n), testSize)
	}

	rng := newRand(seed)
	if stratify == nil {
		perm := arange(n)
		rng.Shuffle(n, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
		test = append(test, perm[:nTest]...)
		train = append(train, perm[nTest:]...)
		sort.Ints(train)
		sort.Ints(test)
		return train, test, nil
	}

	y := mat.NewVecDense(n, append([]float64(nil), stratify...))
	labels, groups := groupByClass(y)
	if len(labels) < 2 {
		return nil, nil, errors.Wrap(errors.ErrSingleClass, "TrainTestSplit: stratify")
	}
	if nTest < len(labels) || nTrain < len(labels) {
		return nil, nil, errors.NewValidationError("test_size",
			fmt.Sprintf("each split needs at least %d samples to hold every class", len(labels)), testSize)
	}

	quota := allocate(labels, groups, nTest, n)
	for k, label := range labels {
		members := groups[label]
		rng.Shuffle(len(members), func(i, j int) {
			members[i], members[j] = members[j], members[i]
		})
		test = append(test, members[:quota[k]]...)
		train = append(train, members[quota[k]:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test, nil
}

// allocate splits total seats across classes by largest remainder.
func allocate(labels []float64, groups map[float64][]int, total, n int) []int {
	quota := make([]int, len(labels))
	remainders := make([]float64, len(labels))
	assigned := 0
	for k, label := range labels {
		exact := float64(total) * float64(len(groups[label])) / float64(n)
		quota[k] = int(math.Floor(exact))
		remainders[k] = exact - float64(quota[k])
		assigned += quota[k]
	}

	order := arange(len(labels))
	sort.SliceStable(order, func(a, b int) bool {
		return remainders[order[a]] > remainders[order[b]]
	})
	for i := 0; assigned < total; i = (i + 1) % len(order) {
		k := order[i]
		if quota[k] < len(groups[labels[k]]) {
			quota[k]++
			assigned++
		}
	}
	return quota
}

// SelectRows copies the given rows of X into a new matrix, in order.
func SelectRows(X mat.Matrix, indices []int) *mat.Dense {
	_, cols := X.Dims()
	if len(indices) == 0 {
		return &mat.Dense{}
	}
	out := mat.NewDense(len(indices), cols, nil)
	row := make([]float64, cols)
	for i, idx := range indices {
		mat.Row(row, idx, X)
		out.SetRow(i, row)
	}
	return out
}

func groupByClass(y mat.Matrix) ([]float64, map[float64][]int) {
	rows, _ := y.Dims()
	groups := make(map[float64][]int)
	for i := 0; i < rows; i++ {
		label := y.At(i, 0)
		groups[label] = append(groups[label], i)
	}
	labels := make([]float64, 0, len(groups))
	for label := range groups {
		labels = append(labels, label)
	}
	sort.Float64s(labels)
	return labels, groups
}

func foldSizes(n, nSplits int) []int {
	sizes := make([]int, nSplits)
	for i := range sizes {
		sizes[i] = n / nSplits
		if i < n%nSplits {
			sizes[i]++
		}
	}
	return sizes
}

func buildFolds(assignment []int, nSplits int) []CVFold {
	folds := make([]CVFold, nSplits)
	for idx, fold := range assignment {
		for f := range folds {
			if f == fold {
				folds[f].TestIndices = append(folds[f].TestIndices, idx)
			} else {
				folds[f].TrainIndices = append(folds[f].TrainIndices, idx)
			}
		}
	}
	return folds
}

func arange(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}
