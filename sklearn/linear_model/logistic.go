// Package linear_model provides LogisticRegression, the linear base learner
// and default final estimator of the stacking ensemble.
package linear_model

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/housestack/core/model"
	"github.com/YuminosukeSato/housestack/pkg/errors"
	"github.com/YuminosukeSato/housestack/pkg/log"
)

var (
	_ model.Classifier      = (*LogisticRegression)(nil)
	_ model.Scorer          = (*LogisticRegression)(nil)
	_ model.ParameterGetter = (*LogisticRegression)(nil)
	_ model.ParameterSetter = (*LogisticRegression)(nil)
)

// LogisticRegression is an L2-regularised logistic regression classifier fitted
// by full-batch gradient descent. The objective matches scikit-learn's:
// mean log-loss + ||w||² / (2·C·n). Binary problems fit one weight vector;
// more classes are fitted one-vs-rest.
//
// The step size is 1/L for a Lipschitz bound L of the gradient, so every
// iteration decreases the objective. Fitting stops when the largest absolute
// gradient component drops below tol. Running out of iterations first emits a
// ConvergenceWarning and leaves the last iterate in place.
type LogisticRegression struct {
	state *model.StateManager

	// Hyperparameters
	penalty      string  // "l2" or "none"
	C            float64 // inverse regularisation strength
	fitIntercept bool
	maxIter      int
	tol          float64
	randomState  int64 // seeds the weight initialisation; < 0 starts from zero

	// Fitted parameters
	coef_      [][]float64 // 1×n_features for binary, n_classes×n_features otherwise
	intercept_ []float64
	classes_   []int
	nIter_     []int
	converged_ bool

	logger log.Logger
}

// LogisticRegressionOption is a functional option for LogisticRegression.
type LogisticRegressionOption func(*LogisticRegression)

// NewLogisticRegression returns an unfitted classifier with scikit-learn defaults
// (C=1, max_iter=100, tol=1e-4, l2 penalty).
func NewLogisticRegression(opts ...LogisticRegressionOption) *LogisticRegression {
	lr := &LogisticRegression{
		state:        model.NewStateManager(),
		penalty:      "l2",
		C:            1.0,
		fitIntercept: true,
		maxIter:      100,
		tol:          1e-4,
		randomState:  -1,
		logger:       log.GetLoggerWithName("linear_model.logistic"),
	}
	for _, opt := range opts {
		opt(lr)
	}
	return lr
}

// WithLRPenalty sets the regularisation type, "l2" or "none".
func WithLRPenalty(penalty string) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.penalty = penalty
	}
}

// WithLRC sets the inverse regularisation strength.
func WithLRC(c float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.C = c
	}
}

// WithLogisticFitIntercept sets whether to fit an intercept.
func WithLogisticFitIntercept(fit bool) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.fitIntercept = fit
	}
}

// WithLRMaxIter sets the iteration budget.
func WithLRMaxIter(maxIter int) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.maxIter = maxIter
	}
}

// WithLRTol sets the gradient tolerance.
func WithLRTol(tol float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.tol = tol
	}
}

// WithLRRandomState seeds the weight initialisation.
func WithLRRandomState(seed int64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.randomState = seed
	}
}

// Name implements model.Named.
func (lr *LogisticRegression) Name() string { return "LogisticRegression" }

// Fit trains the model. y is an n×1 column of integer class labels.
func (lr *LogisticRegression) Fit(X, y mat.Matrix) error {
	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return errors.NewModelError("LogisticRegression.Fit", "empty data", errors.ErrEmptyData)
	}
	if nSamples != yRows {
		return errors.NewDimensionError("LogisticRegression.Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewDimensionError("LogisticRegression.Fit", 1, yCols, 1)
	}
	if err := lr.validateParams(); err != nil {
		return err
	}

	classes := uniqueClasses(y)
	if len(classes) < 2 {
		return errors.NewModelError("LogisticRegression.Fit", "single class", errors.ErrSingleClass)
	}

	Xd := mat.DenseCopyOf(X)
	lr.state.Reset()
	lr.classes_ = classes

	nModels := len(classes)
	if nModels == 2 {
		nModels = 1
	}
	lr.initializeWeights(nModels, nFeatures)

	step := lr.stepSize(Xd)
	lr.converged_ = true
	for k := 0; k < nModels; k++ {
		positive := classes[len(classes)-1]
		if nModels > 1 {
			positive = classes[k]
		}
		target := make([]float64, nSamples)
		for i := range target {
			if int(y.At(i, 0)) == positive {
				target[i] = 1
			}
		}
		converged, err := lr.fitBinary(Xd, target, k, step)
		if err != nil {
			return errors.Wrapf(err, "LogisticRegression.Fit: class %d", positive)
		}
		lr.converged_ = lr.converged_ && converged
	}

	if !lr.converged_ {
		errors.Warn(errors.NewConvergenceWarning("LogisticRegression", lr.maxIter,
			"gradient descent did not reach tol; increase max_iter or scale the data"))
	}

	lr.state.SetDimensions(nFeatures, nSamples)
	lr.state.SetFitted()
	lr.logger.Debug("Model fitted",
		log.ModelNameKey, lr.Name(),
		log.OperationKey, log.OperationFit,
		log.SamplesKey, nSamples,
		log.FeaturesKey, nFeatures,
		log.IterationKey, lr.NIter(),
	)
	return nil
}

func (lr *LogisticRegression) validateParams() error {
	switch {
	case lr.penalty != "l2" && lr.penalty != "none":
		return errors.NewValidationError("penalty", "must be 'l2' or 'none'", lr.penalty)
	case lr.C <= 0:
		return errors.NewValidationError("C", "must be positive", lr.C)
	case lr.maxIter <= 0:
		return errors.NewValidationError("max_iter", "must be positive", lr.maxIter)
	case lr.tol < 0:
		return errors.NewValidationError("tol", "must be non-negative", lr.tol)
	}
	return nil
}

func (lr *LogisticRegression) initializeWeights(nModels, nFeatures int) {
	lr.coef_ = make([][]float64, nModels)
	lr.intercept_ = make([]float64, nModels)
	lr.nIter_ = make([]int, nModels)

	var rng *rand.Rand
	if lr.randomState >= 0 {
		rng = rand.New(rand.NewPCG(uint64(lr.randomState), 0x5851f42d4c957f2d))
	}
	for k := range lr.coef_ {
		lr.coef_[k] = make([]float64, nFeatures)
		if rng == nil {
			continue
		}
		for j := range lr.coef_[k] {
			lr.coef_[k][j] = rng.NormFloat64() * 0.01
		}
	}
}

// l2Strength returns the per-sample L2 coefficient 1/(C·n).
func (lr *LogisticRegression) l2Strength(nSamples int) float64 {
	if lr.penalty != "l2" {
		return 0
	}
	return 1 / (lr.C * float64(nSamples))
}

// stepSize returns 1/L with L = (||X||²_F/n + 1)/4 + 1/(C·n), an upper bound on
// the Lipschitz constant of the objective's gradient.
func (lr *LogisticRegression) stepSize(X *mat.Dense) float64 {
	n, _ := X.Dims()
	frob := mat.Norm(X, 2) // Frobenius
	L := (frob*frob/float64(n)+1)/4 + lr.l2Strength(n)
	return 1 / L
}

// fitBinary runs gradient descent for the weight vector k against a 0/1 target.
func (lr *LogisticRegression) fitBinary(X *mat.Dense, target []float64, k int, step float64) (bool, error) {
	n, d := X.Dims()
	w := mat.NewVecDense(d, lr.coef_[k])
	t := mat.NewVecDense(n, target)
	lambda := lr.l2Strength(n)

	z := mat.NewVecDense(n, nil)
	residual := mat.NewVecDense(n, nil)
	grad := mat.NewVecDense(d, nil)

	for iter := 0; iter < lr.maxIter; iter++ {
		z.MulVec(X, w)
		for i := 0; i < n; i++ {
			residual.SetVec(i, sigmoid(z.AtVec(i)+lr.intercept_[k])-t.AtVec(i))
		}

		grad.MulVec(X.T(), residual)
		grad.ScaleVec(1/float64(n), grad)
		if lambda > 0 {
			grad.AddScaledVec(grad, lambda, w)
		}
		gradIntercept := 0.0
		if lr.fitIntercept {
			gradIntercept = mat.Sum(residual) / float64(n)
		}

		maxGrad := math.Abs(gradIntercept)
		for j := 0; j < d; j++ {
			maxGrad = math.Max(maxGrad, math.Abs(grad.AtVec(j)))
		}
		if err := errors.CheckScalar("LogisticRegression.fitBinary", maxGrad, iter); err != nil {
			return false, err
		}
		if maxGrad < lr.tol {
			lr.nIter_[k] = iter
			return true, nil
		}

		w.AddScaledVec(w, -step, grad)
		lr.intercept_[k] -= step * gradIntercept
		lr.nIter_[k] = iter + 1
	}
	return false, nil
}

// decision returns the linear score of row for weight vector k.
func (lr *LogisticRegression) decision(row []float64, k int) float64 {
	return floats.Dot(row, lr.coef_[k]) + lr.intercept_[k]
}

// PredictProba returns an n×n_classes matrix of class probabilities. One-vs-rest
// probabilities are normalised to sum to one.
func (lr *LogisticRegression) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	nSamples, nFeatures := X.Dims()
	if err := lr.state.RequireFeatures(lr.Name(), "PredictProba", nFeatures); err != nil {
		return nil, err
	}

	nClasses := len(lr.classes_)
	probas := mat.NewDense(nSamples, nClasses, nil)
	row := make([]float64, nFeatures)
	for i := 0; i < nSamples; i++ {
		mat.Row(row, i, X)
		if nClasses == 2 {
			p1 := sigmoid(lr.decision(row, 0))
			probas.Set(i, 0, 1-p1)
			probas.Set(i, 1, p1)
			continue
		}
		ps := make([]float64, nClasses)
		for k := range ps {
			ps[k] = sigmoid(lr.decision(row, k))
		}
		sum := floats.Sum(ps)
		for k, p := range ps {
			probas.Set(i, k, errors.SafeDivide(p, sum))
		}
	}
	return probas, nil
}

// Predict returns the most probable class of every row. Equal probabilities
// go to the lower class, so a binary row needs p(class1) > 0.5 for class1.
func (lr *LogisticRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	probas, err := lr.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return argmaxClasses(probas, lr.classes_), nil
}

// DecisionFunction returns the linear score of each row for the positive class
// (binary) or for every class (one-vs-rest).
func (lr *LogisticRegression) DecisionFunction(X mat.Matrix) (mat.Matrix, error) {
	nSamples, nFeatures := X.Dims()
	if err := lr.state.RequireFeatures(lr.Name(), "DecisionFunction", nFeatures); err != nil {
		return nil, err
	}
	out := mat.NewDense(nSamples, len(lr.coef_), nil)
	row := make([]float64, nFeatures)
	for i := 0; i < nSamples; i++ {
		mat.Row(row, i, X)
		for k := range lr.coef_ {
			out.Set(i, k, lr.decision(row, k))
		}
	}
	return out, nil
}

// Score returns the mean accuracy on X and y, or 0 when prediction fails.
func (lr *LogisticRegression) Score(X, y mat.Matrix) float64 {
	predictions, err := lr.Predict(X)
	if err != nil {
		return 0.0
	}
	return accuracy(predictions, y)
}

// Classes returns the sorted class labels seen during Fit.
func (lr *LogisticRegression) Classes() []int {
	return append([]int(nil), lr.classes_...)
}

// IsFitted reports whether Fit has completed.
func (lr *LogisticRegression) IsFitted() bool {
	return lr.state.IsFitted()
}

// Clone returns an unfitted copy with the same hyperparameters.
func (lr *LogisticRegression) Clone() model.Classifier {
	return NewLogisticRegression(
		WithLRPenalty(lr.penalty),
		WithLRC(lr.C),
		WithLogisticFitIntercept(lr.fitIntercept),
		WithLRMaxIter(lr.maxIter),
		WithLRTol(lr.tol),
		WithLRRandomState(lr.randomState),
	)
}

// Coef returns a copy of the fitted weights, one row per fitted vector.
func (lr *LogisticRegression) Coef() [][]float64 {
	out := make([][]float64, len(lr.coef_))
	for k, c := range lr.coef_ {
		out[k] = append([]float64(nil), c...)
	}
	return out
}

// Intercept returns a copy of the fitted intercepts.
func (lr *LogisticRegression) Intercept() []float64 {
	return append([]float64(nil), lr.intercept_...)
}

// Weights exports a fitted binary model. features, when given, names each
// input column.
func (lr *LogisticRegression) Weights(features []string) (*model.ModelWeights, error) {
	if err := lr.state.RequireFitted(lr.Name(), "Weights"); err != nil {
		return nil, err
	}
	if len(lr.coef_) != 1 {
		return nil, errors.NewValueError("LogisticRegression.Weights",
			fmt.Sprintf("only binary models can be exported, got %d weight vectors", len(lr.coef_)))
	}
	if features != nil && len(features) != len(lr.coef_[0]) {
		return nil, errors.NewDimensionError("LogisticRegression.Weights", len(lr.coef_[0]), len(features), 1)
	}
	mw := &model.ModelWeights{
		ModelType:       lr.Name(),
		Version:         model.WeightsVersion,
		Coefficients:    append([]float64(nil), lr.coef_[0]...),
		Intercept:       lr.intercept_[0],
		Features:        append([]string(nil), features...),
		Hyperparameters: lr.GetParams(),
		Metadata: map[string]interface{}{
			"n_iter":    lr.NIter(),
			"converged": lr.converged_,
			"classes":   lr.Classes(),
		},
		IsFitted: true,
	}
	return mw, mw.Validate()
}

// NIter returns the largest iteration count over the fitted vectors.
func (lr *LogisticRegression) NIter() int {
	m := 0
	for _, n := range lr.nIter_ {
		if n > m {
			m = n
		}
	}
	return m
}

// Converged reports whether every fitted vector reached tol.
func (lr *LogisticRegression) Converged() bool {
	return lr.converged_
}

// GetParams returns the hyperparameters.
func (lr *LogisticRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"penalty":       lr.penalty,
		"C":             lr.C,
		"fit_intercept": lr.fitIntercept,
		"max_iter":      lr.maxIter,
		"tol":           lr.tol,
		"random_state":  lr.randomState,
	}
}

// SetParams sets hyperparameters by name.
func (lr *LogisticRegression) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var ok bool
		switch key {
		case "penalty":
			lr.penalty, ok = value.(string)
		case "C":
			lr.C, ok = value.(float64)
		case "fit_intercept":
			lr.fitIntercept, ok = value.(bool)
		case "max_iter":
			lr.maxIter, ok = value.(int)
		case "tol":
			lr.tol, ok = value.(float64)
		case "random_state":
			lr.randomState, ok = value.(int64)
		default:
			return errors.NewValidationError(key, "unknown parameter", value)
		}
		if !ok {
			return errors.NewValidationError(key, fmt.Sprintf("unexpected type %T", value), value)
		}
	}
	return nil
}

type logisticSnapshot struct {
	State        model.State
	Penalty      string
	C            float64
	FitIntercept bool
	MaxIter      int
	Tol          float64
	RandomState  int64
	Coef         [][]float64
	Intercept    []float64
	Classes      []int
	NIter        []int
	Converged    bool
}

// GobEncode implements gob.GobEncoder.
func (lr *LogisticRegression) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(logisticSnapshot{
		State:        lr.state.GetState(),
		Penalty:      lr.penalty,
		C:            lr.C,
		FitIntercept: lr.fitIntercept,
		MaxIter:      lr.maxIter,
		Tol:          lr.tol,
		RandomState:  lr.randomState,
		Coef:         lr.coef_,
		Intercept:    lr.intercept_,
		Classes:      lr.classes_,
		NIter:        lr.nIter_,
		Converged:    lr.converged_,
	})
	return buf.Bytes(), errors.Wrap(err, "encode LogisticRegression")
}

// GobDecode implements gob.GobDecoder.
func (lr *LogisticRegression) GobDecode(data []byte) error {
	var snap logisticSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return errors.Wrap(err, "decode LogisticRegression")
	}
	*lr = *NewLogisticRegression(
		WithLRPenalty(snap.Penalty),
		WithLRC(snap.C),
		WithLogisticFitIntercept(snap.FitIntercept),
		WithLRMaxIter(snap.MaxIter),
		WithLRTol(snap.Tol),
		WithLRRandomState(snap.RandomState),
	)
	lr.state.SetState(snap.State)
	lr.coef_ = snap.Coef
	lr.intercept_ = snap.Intercept
	lr.classes_ = snap.Classes
	lr.nIter_ = snap.NIter
	lr.converged_ = snap.Converged
	return nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1.0 / (1.0 + errors.StabilizeExp(-z))
	}
	ez := errors.StabilizeExp(z)
	return ez / (1.0 + ez)
}

// uniqueClasses returns the sorted distinct integer labels of a column vector.
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

// argmaxClasses maps each probability row to its class; ties go to the lower class.
func argmaxClasses(probas mat.Matrix, classes []int) *mat.Dense {
	n, k := probas.Dims()
	out := mat.NewDense(n, 1, nil)
	row := make([]float64, k)
	for i := 0; i < n; i++ {
		mat.Row(row, i, probas)
		out.Set(i, 0, float64(classes[floats.MaxIdx(row)]))
	}
	return out
}

func accuracy(predictions, y mat.Matrix) float64 {
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
