package model

import (
	"gonum.org/v1/gonum/mat"
)

// Classifier is the contract every learner in a stacking ensemble satisfies.
type Classifier interface {
	Fitter
	Predictor
	ProbaPredictor

	// Classes returns the sorted class labels seen during Fit.
	Classes() []int

	// Clone returns an unfitted copy with the same hyperparameters.
	Clone() Classifier

	// IsFitted reports whether Fit has completed successfully.
	IsFitted() bool
}

// Scorer is implemented by models that report mean accuracy. Invalid input
// scores 0.
type Scorer interface {
	Score(X, y mat.Matrix) float64
}

// ParameterGetter exposes hyperparameters for reporting.
type ParameterGetter interface {
	GetParams() map[string]interface{}
}

// ParameterSetter allows hyperparameters to be changed before Fit.
type ParameterSetter interface {
	SetParams(params map[string]interface{}) error
}

// Named is implemented by models with a stable display name.
type Named interface {
	Name() string
}
