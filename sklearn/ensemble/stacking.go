// Package ensemble provides the stacking classifier.
package ensemble

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/housestack/core/model"
	"github.com/YuminosukeSato/housestack/core/parallel"
	"github.com/YuminosukeSato/housestack/pkg/errors"
	"github.com/YuminosukeSato/housestack/pkg/log"
	"github.com/YuminosukeSato/housestack/sklearn/linear_model"
	"github.com/YuminosukeSato/housestack/sklearn/model_selection"
)

// Stack methods select what a base estimator contributes to the meta-features.
const (
	StackPredictProba = "predict_proba"
	StackPredict      = "predict"
)

var (
	_ model.Classifier      = (*StackingClassifier)(nil)
	_ model.Scorer          = (*StackingClassifier)(nil)
	_ model.ParameterGetter = (*StackingClassifier)(nil)
)

// NamedEstimator is a base estimator with its display name.
type NamedEstimator struct {
	Name      string
	Estimator model.Classifier
}

// StackingClassifier combines base classifiers through a final estimator
// trained on their out-of-fold predictions.
//
// Fit splits the training data with a non-shuffled stratified K-fold. For
// every fold each base estimator is cloned, fitted on the other K-1 folds and
// asked for its prediction on the held-out fold, so no meta-feature is ever
// produced by a model that saw that row. The base estimators are then refit
// on the whole training set and the final estimator is fitted on the
// out-of-fold meta-features.
//
// With StackPredictProba a binary problem contributes p(class 1) per base
// estimator; more classes contribute one probability column per class. With
// StackPredict each estimator contributes its predicted label.
type StackingClassifier struct {
	state *model.StateManager

	estimators     []NamedEstimator
	finalEstimator model.Classifier
	cv             int
	splitter       model_selection.Splitter
	stackMethod    string
	nJobs          int

	fitted       []NamedEstimator
	final        model.Classifier
	metaFeatures *mat.Dense
	classes_     []int

	logger log.Logger
}

// Option configures a StackingClassifier.
type Option func(*StackingClassifier)

// WithCV sets the number of stratified folds.
func WithCV(k int) Option {
	return func(sc *StackingClassifier) { sc.cv = k }
}

// WithSplitter replaces the default unshuffled StratifiedKFold with s. The
// number of folds becomes s.GetNSplits(). A splitter is not gob-encoded; a
// decoded ensemble refits with stratified folds.
func WithSplitter(s model_selection.Splitter) Option {
	return func(sc *StackingClassifier) {
		sc.splitter = s
		if s != nil {
			sc.cv = s.GetNSplits()
		}
	}
}

// WithStackMethod sets StackPredictProba or StackPredict.
func WithStackMethod(method string) Option {
	return func(sc *StackingClassifier) { sc.stackMethod = method }
}

// WithNJobs bounds the number of estimators fitted concurrently. 1 fits
// sequentially; values <= 0 use every CPU. The result does not depend on it.
func WithNJobs(n int) Option {
	return func(sc *StackingClassifier) { sc.nJobs = n }
}

// WithFinalEstimator replaces the default LogisticRegression meta-learner.
func WithFinalEstimator(est model.Classifier) Option {
	return func(sc *StackingClassifier) { sc.finalEstimator = est }
}

// NewStackingClassifier returns an unfitted stacking ensemble with 5 folds
// and a LogisticRegression final estimator.
func NewStackingClassifier(estimators []NamedEstimator, opts ...Option) *StackingClassifier {
	sc := &StackingClassifier{
		state:          model.NewStateManager(),
		estimators:     append([]NamedEstimator(nil), estimators...),
		finalEstimator: linear_model.NewLogisticRegression(),
		cv:             5,
		stackMethod:    StackPredictProba,
		nJobs:          1,
		logger:         log.GetLoggerWithName("ensemble.stacking"),
	}
	for _, opt := range opts {
		opt(sc)
	}
	return sc
}

// Name implements model.Named.
func (sc *StackingClassifier) Name() string { return "StackingClassifier" }

func (sc *StackingClassifier) validate() error {
	if len(sc.estimators) == 0 {
		return errors.NewValidationError("estimators", "at least one base estimator is required", 0)
	}
	seen := make(map[string]bool, len(sc.estimators))
	for _, ne := range sc.estimators {
		if ne.Estimator == nil {
			return errors.NewValidationError("estimators", "nil estimator", ne.Name)
		}
		if seen[ne.Name] {
			return errors.NewValidationError("estimators", "duplicate estimator name", ne.Name)
		}
		seen[ne.Name] = true
	}
	if sc.finalEstimator == nil {
		return errors.NewValidationError("final_estimator", "must not be nil", nil)
	}
	if sc.cv < 2 {
		return errors.NewValidationError("cv", "must be at least 2", sc.cv)
	}
	if sc.stackMethod != StackPredictProba && sc.stackMethod != StackPredict {
		return errors.NewValidationError("stack_method", "must be 'predict_proba' or 'predict'", sc.stackMethod)
	}
	return nil
}

// Fit trains the base estimators out-of-fold, refits them on all of X and
// fits the final estimator on the out-of-fold meta-features.
func (sc *StackingClassifier) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "StackingClassifier.Fit")
	start := time.Now()

	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return errors.NewModelError("StackingClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	if nSamples != yRows {
		return errors.NewDimensionError("StackingClassifier.Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewDimensionError("StackingClassifier.Fit", 1, yCols, 1)
	}
	if err := sc.validate(); err != nil {
		return err
	}

	sc.state.Reset()
	classes := uniqueClasses(y)
	if len(classes) < 2 {
		return errors.Wrap(errors.ErrSingleClass, "StackingClassifier.Fit")
	}
	sc.classes_ = classes

	splitter := sc.splitter
	if splitter == nil {
		splitter = model_selection.NewStratifiedKFold(sc.cv, false, 0)
	}
	folds, err := splitter.Split(X, y)
	if err != nil {
		return err
	}
	for f, fold := range folds {
		if got := len(uniqueClasses(model_selection.SelectRows(y, fold.TrainIndices))); got != len(classes) {
			return errors.NewDegenerateFoldError(f, sc.cv,
				fmt.Sprintf("training part has %d of %d classes", got, len(classes)))
		}
	}

	width := sc.metaWidth()
	meta := mat.NewDense(nSamples, width*len(sc.estimators), nil)

	// one task per (fold, estimator); each writes only its fold's rows and its
	// estimator's columns
	nTasks := len(folds) * len(sc.estimators)
	err = parallel.ForEach(nTasks, sc.nJobs, func(task int) error {
		f, e := task/len(sc.estimators), task%len(sc.estimators)
		fold, ne := folds[f], sc.estimators[e]

		est := ne.Estimator.Clone()
		if err := est.Fit(model_selection.SelectRows(X, fold.TrainIndices),
			model_selection.SelectRows(y, fold.TrainIndices)); err != nil {
			return errors.Wrapf(err, "fold %d: fit %s", f, ne.Name)
		}
		cols, err := sc.predictMeta(est, model_selection.SelectRows(X, fold.TestIndices))
		if err != nil {
			return errors.Wrapf(err, "fold %d: predict %s", f, ne.Name)
		}
		for r, idx := range fold.TestIndices {
			for c := 0; c < width; c++ {
				meta.Set(idx, e*width+c, cols.At(r, c))
			}
		}
		sc.logger.Debug("Fold fitted",
			log.ModelNameKey, ne.Name,
			log.FoldKey, f,
			log.NSplitsKey, sc.cv,
			log.SamplesKey, len(fold.TrainIndices),
		)
		return nil
	})
	if err != nil {
		return err
	}

	fitted := make([]NamedEstimator, len(sc.estimators))
	err = parallel.ForEach(len(sc.estimators), sc.nJobs, func(e int) error {
		ne := sc.estimators[e]
		est := ne.Estimator.Clone()
		if err := est.Fit(X, y); err != nil {
			return errors.Wrapf(err, "refit %s", ne.Name)
		}
		fitted[e] = NamedEstimator{Name: ne.Name, Estimator: est}
		return nil
	})
	if err != nil {
		return err
	}

	final := sc.finalEstimator.Clone()
	if err := final.Fit(meta, y); err != nil {
		return errors.Wrap(err, "fit final estimator")
	}

	sc.fitted = fitted
	sc.final = final
	sc.metaFeatures = meta
	sc.state.SetDimensions(nFeatures, nSamples)
	sc.state.SetFitted()

	sc.logger.Info("Stacking ensemble fitted",
		log.ModelNameKey, sc.Name(),
		log.OperationKey, log.OperationFit,
		log.SamplesKey, nSamples,
		log.FeaturesKey, nFeatures,
		log.NSplitsKey, sc.cv,
		"ensemble.estimators", len(sc.estimators),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

// metaWidth is the number of meta-feature columns per base estimator.
func (sc *StackingClassifier) metaWidth() int {
	if sc.stackMethod == StackPredict || len(sc.classes_) == 2 {
		return 1
	}
	return len(sc.classes_)
}

// predictMeta returns the meta-feature columns of one fitted base estimator.
func (sc *StackingClassifier) predictMeta(est model.Classifier, X mat.Matrix) (mat.Matrix, error) {
	if sc.stackMethod == StackPredict {
		return est.Predict(X)
	}
	probas, err := est.PredictProba(X)
	if err != nil {
		return nil, err
	}
	probas, err = alignProba(probas, est.Classes(), sc.classes_)
	if err != nil {
		return nil, err
	}
	if len(sc.classes_) == 2 {
		n, _ := probas.Dims()
		return probas.(*mat.Dense).Slice(0, n, 1, 2), nil
	}
	return probas, nil
}

// alignProba reorders probability columns from the estimator's classes to the
// ensemble's classes. Classes the estimator never saw get probability 0.
func alignProba(probas mat.Matrix, from, to []int) (mat.Matrix, error) {
	n, k := probas.Dims()
	if k != len(from) {
		return nil, errors.NewDimensionError("alignProba", len(from), k, 1)
	}
	pos := make(map[int]int, len(from))
	for j, c := range from {
		pos[c] = j
	}
	out := mat.NewDense(n, len(to), nil)
	for j, c := range to {
		src, ok := pos[c]
		if !ok {
			continue
		}
		for i := 0; i < n; i++ {
			out.Set(i, j, probas.At(i, src))
		}
	}
	return out, nil
}

// Transform returns the meta-features the fitted base estimators produce for X.
func (sc *StackingClassifier) Transform(X mat.Matrix) (mat.Matrix, error) {
	n, nFeatures := X.Dims()
	if err := sc.state.RequireFeatures(sc.Name(), "Transform", nFeatures); err != nil {
		return nil, err
	}
	width := sc.metaWidth()
	meta := mat.NewDense(n, width*len(sc.fitted), nil)
	for e, ne := range sc.fitted {
		cols, err := sc.predictMeta(ne.Estimator, X)
		if err != nil {
			return nil, errors.Wrapf(err, "transform %s", ne.Name)
		}
		meta.Slice(0, n, e*width, (e+1)*width).(*mat.Dense).Copy(cols)
	}
	return meta, nil
}

// PredictProba returns the final estimator's class probabilities.
func (sc *StackingClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	meta, err := sc.Transform(X)
	if err != nil {
		return nil, err
	}
	return sc.final.PredictProba(meta)
}

// Predict returns the final estimator's labels.
func (sc *StackingClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	meta, err := sc.Transform(X)
	if err != nil {
		return nil, err
	}
	return sc.final.Predict(meta)
}

// Score returns the mean accuracy on X and y, or 0 when prediction fails.
func (sc *StackingClassifier) Score(X, y mat.Matrix) float64 {
	predictions, err := sc.Predict(X)
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

// MetaFeatures returns a copy of the out-of-fold meta-feature matrix of the
// last Fit, one row per training sample.
func (sc *StackingClassifier) MetaFeatures() *mat.Dense {
	if sc.metaFeatures == nil {
		return nil
	}
	return mat.DenseCopyOf(sc.metaFeatures)
}

// Estimators returns the base estimators refitted on the full training set.
func (sc *StackingClassifier) Estimators() []NamedEstimator {
	return append([]NamedEstimator(nil), sc.fitted...)
}

// FinalEstimator returns the fitted meta-learner.
func (sc *StackingClassifier) FinalEstimator() model.Classifier {
	return sc.final
}

// Classes returns the sorted class labels seen during Fit.
func (sc *StackingClassifier) Classes() []int {
	return append([]int(nil), sc.classes_...)
}

// IsFitted reports whether Fit has completed.
func (sc *StackingClassifier) IsFitted() bool {
	return sc.state.IsFitted()
}

// Clone returns an unfitted ensemble with cloned base and final estimators.
func (sc *StackingClassifier) Clone() model.Classifier {
	estimators := make([]NamedEstimator, len(sc.estimators))
	for i, ne := range sc.estimators {
		estimators[i] = NamedEstimator{Name: ne.Name, Estimator: ne.Estimator.Clone()}
	}
	return NewStackingClassifier(estimators,
		WithFinalEstimator(sc.finalEstimator.Clone()),
		WithCV(sc.cv),
		WithSplitter(sc.splitter),
		WithStackMethod(sc.stackMethod),
		WithNJobs(sc.nJobs),
	)
}

// GetParams returns the hyperparameters. Parameters of base estimators that
// expose them are included as "<name>__<param>".
func (sc *StackingClassifier) GetParams() map[string]interface{} {
	names := make([]string, len(sc.estimators))
	params := map[string]interface{}{
		"cv":           sc.cv,
		"stack_method": sc.stackMethod,
		"n_jobs":       sc.nJobs,
	}
	for i, ne := range sc.estimators {
		names[i] = ne.Name
		if pg, ok := ne.Estimator.(model.ParameterGetter); ok {
			for k, v := range pg.GetParams() {
				params[ne.Name+"__"+k] = v
			}
		}
	}
	params["estimators"] = names
	return params
}

type stackingSnapshot struct {
	State          model.State
	Names          []string
	Estimators     []model.Classifier
	Fitted         []model.Classifier
	FinalEstimator model.Classifier
	Final          model.Classifier
	CV             int
	StackMethod    string
	NJobs          int
	MetaRows       int
	MetaCols       int
	Meta           []float64
	Classes        []int
}

// GobEncode implements gob.GobEncoder. The concrete estimator types must be
// registered with gob.Register.
func (sc *StackingClassifier) GobEncode() ([]byte, error) {
	snap := stackingSnapshot{
		State:          sc.state.GetState(),
		FinalEstimator: sc.finalEstimator,
		Final:          sc.final,
		CV:             sc.cv,
		StackMethod:    sc.stackMethod,
		NJobs:          sc.nJobs,
		Classes:        sc.classes_,
	}
	for _, ne := range sc.estimators {
		snap.Names = append(snap.Names, ne.Name)
		snap.Estimators = append(snap.Estimators, ne.Estimator)
	}
	for _, ne := range sc.fitted {
		snap.Fitted = append(snap.Fitted, ne.Estimator)
	}
	if sc.metaFeatures != nil {
		snap.MetaRows, snap.MetaCols = sc.metaFeatures.Dims()
		snap.Meta = mat.DenseCopyOf(sc.metaFeatures).RawMatrix().Data
	}
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(snap)
	return buf.Bytes(), errors.Wrap(err, "encode StackingClassifier")
}

// GobDecode implements gob.GobDecoder.
func (sc *StackingClassifier) GobDecode(data []byte) error {
	var snap stackingSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return errors.Wrap(err, "decode StackingClassifier")
	}
	if len(snap.Names) != len(snap.Estimators) {
		return errors.NewDimensionError("StackingClassifier.GobDecode", len(snap.Names), len(snap.Estimators), 0)
	}
	estimators := make([]NamedEstimator, len(snap.Names))
	for i, name := range snap.Names {
		estimators[i] = NamedEstimator{Name: name, Estimator: snap.Estimators[i]}
	}
	*sc = *NewStackingClassifier(estimators,
		WithFinalEstimator(snap.FinalEstimator),
		WithCV(snap.CV),
		WithStackMethod(snap.StackMethod),
		WithNJobs(snap.NJobs),
	)
	sc.state.SetState(snap.State)
	if len(snap.Fitted) > 0 {
		if len(snap.Fitted) != len(snap.Names) {
			return errors.NewDimensionError("StackingClassifier.GobDecode", len(snap.Names), len(snap.Fitted), 0)
		}
		sc.fitted = make([]NamedEstimator, len(snap.Fitted))
		for i, est := range snap.Fitted {
			sc.fitted[i] = NamedEstimator{Name: snap.Names[i], Estimator: est}
		}
	}
	sc.final = snap.Final
	if snap.MetaRows > 0 {
		sc.metaFeatures = mat.NewDense(snap.MetaRows, snap.MetaCols, snap.Meta)
	}
	sc.classes_ = snap.Classes
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
