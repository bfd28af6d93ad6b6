package pipeline

import (
	"github.com/YuminosukeSato/housestack/core/model"
	"github.com/YuminosukeSato/housestack/pkg/errors"
	"github.com/YuminosukeSato/housestack/sklearn/linear_model"
)

// MetaWeights exports the meta-learner: one coefficient per base model, the
// weight it puts on that model's p(AboveMedian).
func (b *Bundle) MetaWeights() (*model.ModelWeights, error) {
	lr, ok := b.Stacking.FinalEstimator().(*linear_model.LogisticRegression)
	if !ok {
		return nil, errors.NewValueError("Bundle.MetaWeights", "final estimator is not a LogisticRegression")
	}
	var names []string
	for _, ne := range b.Stacking.Estimators() {
		names = append(names, ne.Name)
	}
	mw, err := lr.Weights(names)
	if err != nil {
		return nil, err
	}
	mw.Metadata["run_id"] = b.RunID
	return mw, nil
}
