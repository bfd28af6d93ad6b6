// Package report ranks model accuracies and renders the batch training report.
package report

import (
	"sort"

	"github.com/YuminosukeSato/housestack/pkg/errors"
)

// ModelScore is a model's accuracy on the test split.
type ModelScore struct {
	Name     string  `json:"name"`
	Accuracy float64 `json:"accuracy"`
}

// Rank returns scores ordered by accuracy, highest first. Equal accuracies
// keep their input order.
func Rank(scores []ModelScore) []ModelScore {
	ranked := append([]ModelScore(nil), scores...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Accuracy > ranked[j].Accuracy
	})
	return ranked
}

// Comparison relates the stacking ensemble to its base models.
type Comparison struct {
	// BaseRanking ranks the base models alone.
	BaseRanking []ModelScore `json:"base_ranking"`
	// Ranking ranks the base models followed by the ensemble.
	Ranking  []ModelScore `json:"ranking"`
	BestBase ModelScore   `json:"best_base"`
	Stacking ModelScore   `json:"stacking"`
	MeanBase float64      `json:"mean_base_accuracy"`

	// ImprovementOverMean is stacking minus the mean base accuracy.
	ImprovementOverMean float64 `json:"improvement_over_mean"`
	// ImprovementOverBest is stacking minus the best base accuracy.
	ImprovementOverBest float64 `json:"improvement_over_best"`
}

// Compare ranks bases and the stacking model and computes the improvements.
func Compare(bases []ModelScore, stacking ModelScore) (*Comparison, error) {
	if len(bases) == 0 {
		return nil, errors.NewValueError("report.Compare", "no base model scores")
	}
	c := &Comparison{
		BaseRanking: Rank(bases),
		Ranking:     Rank(append(append([]ModelScore(nil), bases...), stacking)),
		Stacking:    stacking,
	}
	c.BestBase = c.BaseRanking[0]
	for _, b := range bases {
		c.MeanBase += b.Accuracy
	}
	c.MeanBase /= float64(len(bases))
	c.ImprovementOverMean = stacking.Accuracy - c.MeanBase
	c.ImprovementOverBest = stacking.Accuracy - c.BestBase.Accuracy
	return c, nil
}
