package model

import (
	"encoding/json"

	"github.com/YuminosukeSato/housestack/pkg/errors"
)

// WeightsVersion is the current ModelWeights layout.
const WeightsVersion = "1"

// ModelWeights is the JSON form of a fitted binary linear model: one
// coefficient per named input and an intercept.
type ModelWeights struct {
	// ModelType names the estimator, e.g. "LogisticRegression".
	ModelType string `json:"model_type"`

	// Version is the layout version, for compatibility checks.
	Version string `json:"version"`

	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`

	// Features names the input of each coefficient.
	Features []string `json:"features,omitempty"`

	Hyperparameters map[string]interface{} `json:"hyperparameters"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`

	IsFitted bool `json:"is_fitted"`
}

// ToJSON returns indented JSON.
func (mw *ModelWeights) ToJSON() ([]byte, error) {
	data, err := json.MarshalIndent(mw, "", "  ")
	return data, errors.Wrap(err, "marshal model weights")
}

// FromJSON replaces mw with the decoded weights and validates them.
func (mw *ModelWeights) FromJSON(data []byte) error {
	if err := json.Unmarshal(data, mw); err != nil {
		return errors.Wrap(err, "unmarshal model weights")
	}
	return mw.Validate()
}

// Validate checks the weights are self-consistent.
func (mw *ModelWeights) Validate() error {
	switch {
	case mw.ModelType == "":
		return errors.NewValidationError("model_type", "is required", mw.ModelType)
	case mw.Version != WeightsVersion:
		return errors.NewValidationError("version", "unsupported weights version", mw.Version)
	case !mw.IsFitted && len(mw.Coefficients) > 0:
		return errors.NewValidationError("coefficients", "unfitted model must not have coefficients", len(mw.Coefficients))
	case mw.IsFitted && len(mw.Coefficients) == 0:
		return errors.NewValidationError("coefficients", "fitted model must have coefficients", 0)
	case len(mw.Features) > 0 && len(mw.Features) != len(mw.Coefficients):
		return errors.NewDimensionError("ModelWeights.Validate", len(mw.Coefficients), len(mw.Features), 1)
	}
	return nil
}

// Weight returns the coefficient of the named feature.
func (mw *ModelWeights) Weight(feature string) (float64, bool) {
	for i, f := range mw.Features {
		if f == feature && i < len(mw.Coefficients) {
			return mw.Coefficients[i], true
		}
	}
	return 0, false
}

// Clone returns a deep copy. Map values are copied shallowly.
func (mw *ModelWeights) Clone() *ModelWeights {
	clone := &ModelWeights{
		ModelType:       mw.ModelType,
		Version:         mw.Version,
		Intercept:       mw.Intercept,
		IsFitted:        mw.IsFitted,
		Coefficients:    append([]float64(nil), mw.Coefficients...),
		Features:        append([]string(nil), mw.Features...),
		Hyperparameters: make(map[string]interface{}, len(mw.Hyperparameters)),
		Metadata:        make(map[string]interface{}, len(mw.Metadata)),
	}
	for k, v := range mw.Hyperparameters {
		clone.Hyperparameters[k] = v
	}
	for k, v := range mw.Metadata {
		clone.Metadata[k] = v
	}
	return clone
}
