// Package pipeline trains, evaluates and serves the above-median stacking
// classifier end to end.
package pipeline

import (
	"encoding/gob"
	"io"
	"time"

	"github.com/YuminosukeSato/housestack/core/model"
	"github.com/YuminosukeSato/housestack/metrics"
	"github.com/YuminosukeSato/housestack/pkg/errors"
	"github.com/YuminosukeSato/housestack/preprocessing"
	"github.com/YuminosukeSato/housestack/report"
	"github.com/YuminosukeSato/housestack/sklearn/ensemble"
	"github.com/YuminosukeSato/housestack/sklearn/linear_model"
	"github.com/YuminosukeSato/housestack/sklearn/neighbors"
	"github.com/YuminosukeSato/housestack/sklearn/tree"
)

func init() {
	gob.Register(&linear_model.LogisticRegression{})
	gob.Register(&tree.DecisionTreeClassifier{})
	gob.Register(&neighbors.KNeighborsClassifier{})
}

// Display names of the models in reports.
const (
	NameLogistic = "Logistic Regression"
	NameTree     = "Decision Tree"
	NameKNN      = "K-Nearest Neighbors"
	NameStacking = "Stacking Ensemble"
)

// ModelEvaluation is one model's scores on the held-out split.
type ModelEvaluation struct {
	Name     string          `json:"name"`
	Accuracy float64         `json:"accuracy"`
	AUC      float64         `json:"auc"`
	LogLoss  float64         `json:"log_loss"`
	Report   *metrics.Report `json:"classification_report"`
	// Confusion has true labels as rows and predicted labels as columns.
	Confusion [][]int `json:"confusion_matrix"`
}

// Result converts the evaluation for the console report.
func (m ModelEvaluation) Result() report.ModelResult {
	return report.ModelResult{Name: m.Name, Accuracy: m.Accuracy, Report: m.Report}
}

// Evaluation holds the held-out scores of every model of a run.
type Evaluation struct {
	Bases      []ModelEvaluation  `json:"bases"`
	Stacking   ModelEvaluation    `json:"stacking"`
	Comparison *report.Comparison `json:"comparison"`
}

// Bundle is everything needed to predict: the fitted encoder, scaler and
// ensemble plus the label threshold. A Bundle is not modified after Train and
// may be shared between goroutines.
type Bundle struct {
	RunID     string
	CreatedAt time.Time
	Seed      uint64

	// MedianPrice is the training-split median; prices strictly above it are
	// labelled AboveMedian.
	MedianPrice float64
	TrainSize   int
	TestSize    int
	Folds       int

	Encoder  *preprocessing.HouseEncoder
	Scaler   *preprocessing.StandardScaler
	Stacking *ensemble.StackingClassifier

	Evaluation Evaluation
}

// Schema returns the feature columns the bundle expects.
func (b *Bundle) Schema() []string {
	return b.Encoder.Schema()
}

// Summary is the JSON-friendly description of a run.
type Summary struct {
	RunID       string     `json:"run_id"`
	CreatedAt   time.Time  `json:"created_at"`
	Seed        uint64     `json:"seed"`
	MedianPrice float64    `json:"median_price"`
	TrainSize   int        `json:"train_size"`
	TestSize    int        `json:"test_size"`
	Folds       int        `json:"cv_folds"`
	Features    int        `json:"features"`
	Evaluation  Evaluation `json:"evaluation"`
	// MetaWeights is nil when the final estimator cannot be exported.
	MetaWeights *model.ModelWeights `json:"meta_weights,omitempty"`
}

// Summary describes the run without the fitted models.
func (b *Bundle) Summary() Summary {
	weights, _ := b.MetaWeights()
	return Summary{
		RunID:       b.RunID,
		CreatedAt:   b.CreatedAt,
		Seed:        b.Seed,
		MedianPrice: b.MedianPrice,
		TrainSize:   b.TrainSize,
		TestSize:    b.TestSize,
		Folds:       b.Folds,
		Features:    len(b.Encoder.Schema()),
		Evaluation:  b.Evaluation,
		MetaWeights: weights,
	}
}

// WriteBundle gob-encodes b to w.
func WriteBundle(w io.Writer, b *Bundle) error {
	return model.SaveModelToWriter(b, w)
}

// ReadBundle decodes a bundle written by WriteBundle.
func ReadBundle(r io.Reader) (*Bundle, error) {
	var b Bundle
	if err := model.LoadModelFromReader(&b, r); err != nil {
		return nil, err
	}
	if err := b.complete(); err != nil {
		return nil, err
	}
	return &b, nil
}

// SaveBundle writes b to path.
func SaveBundle(b *Bundle, path string) error {
	return model.SaveModel(b, path)
}

// LoadBundle reads a bundle from path.
func LoadBundle(path string) (*Bundle, error) {
	var b Bundle
	if err := model.LoadModel(&b, path); err != nil {
		return nil, err
	}
	if err := b.complete(); err != nil {
		return nil, err
	}
	return &b, nil
}

func (b *Bundle) complete() error {
	if b.Encoder == nil || b.Scaler == nil || b.Stacking == nil || !b.Stacking.IsFitted() {
		return errors.NewValueError("pipeline.ReadBundle", "bundle is incomplete")
	}
	return nil
}
