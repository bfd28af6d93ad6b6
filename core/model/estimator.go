package model

import "gonum.org/v1/gonum/mat"

// Fitter is a model that learns from labelled data.
type Fitter interface {
	Fit(X, y mat.Matrix) error
}

// Predictor produces one prediction per input row as an n×1 matrix.
type Predictor interface {
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// ProbaPredictor produces an n×k matrix of class probabilities whose
// columns follow the order of Classes().
type ProbaPredictor interface {
	PredictProba(X mat.Matrix) (mat.Matrix, error)
}
