package pipeline

import (
	"encoding/json"
	"io"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/housestack/dataset"
	"github.com/YuminosukeSato/housestack/pkg/errors"
)

// Prediction is the ensemble's answer for one house.
type Prediction struct {
	Label    int    `json:"label"`
	Category string `json:"category"`
	// Confidence is the probability of the predicted label.
	Confidence float64 `json:"confidence"`
	// Probabilities maps every category name to its probability.
	Probabilities map[string]float64 `json:"probabilities"`
}

// Ordered returns the category names and probabilities in label order.
func (p *Prediction) Ordered() ([]string, []float64) {
	names := make([]string, 0, len(dataset.TargetNames))
	probs := make([]float64, 0, len(dataset.TargetNames))
	for _, name := range dataset.TargetNames {
		if v, ok := p.Probabilities[name]; ok {
			names = append(names, name)
			probs = append(probs, v)
		}
	}
	return names, probs
}

// Predict classifies one house given its raw attributes keyed by CSV column
// name. Every attribute column must be present; id, date and price are
// ignored. Errors never modify the bundle.
func (b *Bundle) Predict(raw map[string]float64) (pred *Prediction, err error) {
	defer errors.Recover(&err, "Bundle.Predict")

	row, err := b.Encoder.TransformOne(raw)
	if err != nil {
		return nil, err
	}
	X, err := b.Scaler.Transform(mat.NewDense(1, len(row), row))
	if err != nil {
		return nil, err
	}
	proba, err := b.Stacking.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return newPrediction(b.Stacking.Classes(), mat.Row(nil, 0, proba)), nil
}

func newPrediction(classes []int, probs []float64) *Prediction {
	best := floats.MaxIdx(probs)
	label := classes[best]
	pred := &Prediction{
		Label:         label,
		Category:      categoryName(label),
		Confidence:    probs[best],
		Probabilities: make(map[string]float64, len(classes)),
	}
	for j, c := range classes {
		pred.Probabilities[categoryName(c)] = probs[j]
	}
	return pred
}

// DecodeAttributes reads a JSON object of raw house attributes keyed by column
// name. An attribute column whose value is null counts as missing; other null
// keys are dropped.
func DecodeAttributes(r io.Reader) (map[string]float64, error) {
	var values map[string]*float64
	if err := json.NewDecoder(r).Decode(&values); err != nil {
		return nil, errors.Wrap(err, "decode house attributes")
	}
	if values == nil {
		return nil, errors.NewValueError("pipeline.DecodeAttributes", "expected a JSON object")
	}
	raw := make(map[string]float64, len(values))
	for k, v := range values {
		if v != nil {
			raw[k] = *v
		}
	}
	var missing []string
	for _, col := range dataset.AttributeColumns {
		if v, ok := values[col]; ok && v == nil {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, errors.NewMissingColumnError("pipeline.DecodeAttributes", missing...)
	}
	return raw, nil
}

// PredictRecord classifies a parsed record.
func (b *Bundle) PredictRecord(r dataset.Record) (*Prediction, error) {
	return b.Predict(r.Attributes())
}

func categoryName(label int) string {
	if label >= 0 && label < len(dataset.TargetNames) {
		return dataset.TargetNames[label]
	}
	return "unknown"
}
