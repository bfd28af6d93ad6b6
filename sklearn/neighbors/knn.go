// Package neighbors provides the k-nearest-neighbours classifier.
package neighbors

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/housestack/core/model"
	"github.com/YuminosukeSato/housestack/core/parallel"
	"github.com/YuminosukeSato/housestack/pkg/errors"
	"github.com/YuminosukeSato/housestack/pkg/log"
)

// parallelThreshold is the number of query rows above which prediction is
// spread across goroutines.
const parallelThreshold = 256

var (
	_ model.Classifier      = (*KNeighborsClassifier)(nil)
	_ model.Scorer          = (*KNeighborsClassifier)(nil)
	_ model.ParameterGetter = (*KNeighborsClassifier)(nil)
	_ model.ParameterSetter = (*KNeighborsClassifier)(nil)
)

// KNeighborsClassifier votes among the k training rows closest in Euclidean
// distance, with uniform weights.
//
// Neighbours are ordered by ascending distance; equal distances keep the
// lower training index. A tied vote goes to the lowest class. Probabilities
// are vote fractions over the sorted classes.
type KNeighborsClassifier struct {
	state *model.StateManager

	nNeighbors int
	nJobs      int

	xTrain   *mat.Dense
	yTrain   []int // class index per training row
	classes_ []int

	logger log.Logger
}

// Option configures a KNeighborsClassifier.
type Option func(*KNeighborsClassifier)

// WithNNeighbors sets k.
func WithNNeighbors(k int) Option {
	return func(knn *KNeighborsClassifier) { knn.nNeighbors = k }
}

// WithNJobs sets the number of goroutines used for large predictions;
// values <= 0 use every CPU.
func WithNJobs(n int) Option {
	return func(knn *KNeighborsClassifier) { knn.nJobs = n }
}

// NewKNeighborsClassifier returns an unfitted classifier with k = 5.
func NewKNeighborsClassifier(opts ...Option) *KNeighborsClassifier {
	knn := &KNeighborsClassifier{
		state:      model.NewStateManager(),
		nNeighbors: 5,
		logger:     log.GetLoggerWithName("neighbors.knn"),
	}
	for _, opt := range opts {
		opt(knn)
	}
	return knn
}

// Name implements model.Named.
func (knn *KNeighborsClassifier) Name() string { return "KNeighborsClassifier" }

// Fit memorises X and the n×1 label column y.
func (knn *KNeighborsClassifier) Fit(X, y mat.Matrix) error {
	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return errors.NewModelError("KNeighborsClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	if nSamples != yRows {
		return errors.NewDimensionError("KNeighborsClassifier.Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewDimensionError("KNeighborsClassifier.Fit", 1, yCols, 1)
	}
	if knn.nNeighbors < 1 {
		return errors.NewValidationError("n_neighbors", "must be at least 1", knn.nNeighbors)
	}
	if knn.nNeighbors > nSamples {
		return errors.NewValidationError("n_neighbors",
			fmt.Sprintf("cannot exceed the number of training samples %d", nSamples), knn.nNeighbors)
	}
	if err := errors.CheckMatrix("KNeighborsClassifier.Fit", X, nSamples, nFeatures, 0); err != nil {
		return err
	}

	knn.state.Reset()
	knn.xTrain = mat.DenseCopyOf(X)
	knn.classes_ = uniqueClasses(y)
	index := make(map[int]int, len(knn.classes_))
	for k, c := range knn.classes_ {
		index[c] = k
	}
	knn.yTrain = make([]int, nSamples)
	for i := range knn.yTrain {
		knn.yTrain[i] = index[int(y.At(i, 0))]
	}

	knn.state.SetDimensions(nFeatures, nSamples)
	knn.state.SetFitted()
	knn.logger.Debug("Model fitted",
		log.ModelNameKey, knn.Name(),
		log.OperationKey, log.OperationFit,
		log.SamplesKey, nSamples,
		log.FeaturesKey, nFeatures,
		"knn.k", knn.nNeighbors,
	)
	return nil
}

// KNeighbors returns the training indices of the k nearest neighbours of
// each row of X together with their distances, nearest first.
func (knn *KNeighborsClassifier) KNeighbors(X mat.Matrix) ([][]int, [][]float64, error) {
	nQuery, nFeatures := X.Dims()
	if err := knn.state.RequireFeatures(knn.Name(), "KNeighbors", nFeatures); err != nil {
		return nil, nil, err
	}
	indices := make([][]int, nQuery)
	distances := make([][]float64, nQuery)
	knn.eachRow(X, func(i int, row []float64) {
		indices[i], distances[i] = knn.nearest(row)
	})
	return indices, distances, nil
}

// PredictProba returns the neighbour vote fraction of each class.
func (knn *KNeighborsClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	nQuery, nFeatures := X.Dims()
	if err := knn.state.RequireFeatures(knn.Name(), "PredictProba", nFeatures); err != nil {
		return nil, err
	}
	nClasses := len(knn.classes_)
	probas := mat.NewDense(nQuery, nClasses, nil)
	knn.eachRow(X, func(i int, row []float64) {
		idx, _ := knn.nearest(row)
		votes := make([]float64, nClasses)
		for _, j := range idx {
			votes[knn.yTrain[j]]++
		}
		floats.Scale(1/float64(len(idx)), votes)
		// disjoint rows; safe to write concurrently
		probas.SetRow(i, votes)
	})
	return probas, nil
}

// Predict returns the majority class among the k nearest neighbours.
func (knn *KNeighborsClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	probas, err := knn.PredictProba(X)
	if err != nil {
		return nil, err
	}
	n, k := probas.Dims()
	out := mat.NewDense(n, 1, nil)
	row := make([]float64, k)
	for i := 0; i < n; i++ {
		mat.Row(row, i, probas)
		// MaxIdx returns the first maximum: the lowest class wins ties
		out.Set(i, 0, float64(knn.classes_[floats.MaxIdx(row)]))
	}
	return out, nil
}

// eachRow calls fn for every row of X, in parallel once X is large enough.
func (knn *KNeighborsClassifier) eachRow(X mat.Matrix, fn func(i int, row []float64)) {
	nQuery, nFeatures := X.Dims()
	work := func(start, end int) {
		row := make([]float64, nFeatures)
		for i := start; i < end; i++ {
			mat.Row(row, i, X)
			fn(i, row)
		}
	}
	parallel.ParallelizeWithThreshold(nQuery, parallelThreshold, knn.nJobs, work)
}

// nearest ranks every training row by distance to q and keeps the first k.
func (knn *KNeighborsClassifier) nearest(q []float64) ([]int, []float64) {
	nTrain, _ := knn.xTrain.Dims()
	order := make([]int, nTrain)
	dist := make([]float64, nTrain)
	for i := 0; i < nTrain; i++ {
		order[i] = i
		dist[i] = floats.Distance(q, knn.xTrain.RawRowView(i), 2)
	}
	sort.SliceStable(order, func(a, b int) bool {
		return dist[order[a]] < dist[order[b]]
	})

	k := knn.nNeighbors
	idx := append([]int(nil), order[:k]...)
	d := make([]float64, k)
	for i, j := range idx {
		d[i] = dist[j]
	}
	return idx, d
}

// Score returns the mean accuracy on X and y, or 0 when prediction fails.
func (knn *KNeighborsClassifier) Score(X, y mat.Matrix) float64 {
	predictions, err := knn.Predict(X)
	if err != nil {
		return 0
	}
	n, _ := predictions.Dims()
	yRows, _ := y.Dims()
	if n == 0 || n != yRows {
		return 0
	}
	correct := 0
	for i := 0; i < n; i++ {
		if predictions.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(n)
}

// Classes returns the sorted class labels seen during Fit.
func (knn *KNeighborsClassifier) Classes() []int {
	return append([]int(nil), knn.classes_...)
}

// IsFitted reports whether Fit has completed.
func (knn *KNeighborsClassifier) IsFitted() bool {
	return knn.state.IsFitted()
}

// Clone returns an unfitted copy with the same hyperparameters.
func (knn *KNeighborsClassifier) Clone() model.Classifier {
	return NewKNeighborsClassifier(WithNNeighbors(knn.nNeighbors), WithNJobs(knn.nJobs))
}

// GetParams returns the hyperparameters.
func (knn *KNeighborsClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_neighbors": knn.nNeighbors,
		"weights":     "uniform",
		"metric":      "euclidean",
		"n_jobs":      knn.nJobs,
	}
}

// SetParams sets hyperparameters by name.
func (knn *KNeighborsClassifier) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var ok bool
		switch key {
		case "n_neighbors":
			knn.nNeighbors, ok = value.(int)
		case "n_jobs":
			knn.nJobs, ok = value.(int)
		default:
			return errors.NewValidationError(key, "unknown parameter", value)
		}
		if !ok {
			return errors.NewValidationError(key, fmt.Sprintf("unexpected type %T", value), value)
		}
	}
	return nil
}

type knnSnapshot struct {
	State      model.State
	NNeighbors int
	NJobs      int
	Rows       int
	Cols       int
	XTrain     []float64
	YTrain     []int
	Classes    []int
}

// GobEncode implements gob.GobEncoder.
func (knn *KNeighborsClassifier) GobEncode() ([]byte, error) {
	snap := knnSnapshot{
		State:      knn.state.GetState(),
		NNeighbors: knn.nNeighbors,
		NJobs:      knn.nJobs,
		YTrain:     knn.yTrain,
		Classes:    knn.classes_,
	}
	if knn.xTrain != nil {
		snap.Rows, snap.Cols = knn.xTrain.Dims()
		snap.XTrain = mat.DenseCopyOf(knn.xTrain).RawMatrix().Data
	}
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(snap)
	return buf.Bytes(), errors.Wrap(err, "encode KNeighborsClassifier")
}

// GobDecode implements gob.GobDecoder.
func (knn *KNeighborsClassifier) GobDecode(data []byte) error {
	var snap knnSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return errors.Wrap(err, "decode KNeighborsClassifier")
	}
	*knn = *NewKNeighborsClassifier(WithNNeighbors(snap.NNeighbors), WithNJobs(snap.NJobs))
	knn.state.SetState(snap.State)
	if snap.Rows > 0 {
		knn.xTrain = mat.NewDense(snap.Rows, snap.Cols, snap.XTrain)
	}
	knn.yTrain = snap.YTrain
	knn.classes_ = snap.Classes
	return nil
}

func uniqueClasses(y mat.Matrix) []int {
	rows, _ := y.Dims()
	seen := make(map[int]struct{})
	for i := 0; i < rows; i++ {
		seen[int(y.At(i, 0))] = struct{}{}
	}
	classes := make([]int, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	sort.Ints(classes)
	return classes
}
