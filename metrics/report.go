package metrics

import (
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/housestack/pkg/errors"
)

// ClassReport is one row of a classification report.
type ClassReport struct {
	Name      string  `json:"name"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1_score"`
	Support   int     `json:"support"`
}

// Report is a per-class precision/recall/F1 summary with accuracy, macro and
// support-weighted averages.
type Report struct {
	Classes     []ClassReport `json:"classes"`
	Accuracy    float64       `json:"accuracy"`
	MacroAvg    ClassReport   `json:"macro_avg"`
	WeightedAvg ClassReport   `json:"weighted_avg"`
	Support     int           `json:"support"`
}

// ClassificationReport builds a Report for labels; targetNames, when given,
// must have one display name per label.
func ClassificationReport(yTrue, yPred *mat.VecDense, labels []int, targetNames []string) (*Report, error) {
	scores, err := PrecisionRecallFScore(yTrue, yPred, labels)
	if err != nil {
		return nil, errors.Wrap(err, "ClassificationReport")
	}
	if targetNames != nil && len(targetNames) != len(scores.Labels) {
		return nil, errors.NewDimensionError("ClassificationReport", len(scores.Labels), len(targetNames), 0)
	}
	acc, err := Accuracy(yTrue, yPred)
	if err != nil {
		return nil, errors.Wrap(err, "ClassificationReport")
	}

	k := len(scores.Labels)
	r := &Report{Classes: make([]ClassReport, k), Accuracy: acc}
	for c := 0; c < k; c++ {
		name := strconv.Itoa(scores.Labels[c])
		if targetNames != nil {
			name = targetNames[c]
		}
		r.Classes[c] = ClassReport{
			Name:      name,
			Precision: scores.Precision[c],
			Recall:    scores.Recall[c],
			F1:        scores.F1[c],
			Support:   scores.Support[c],
		}
		r.Support += scores.Support[c]
	}

	r.MacroAvg = ClassReport{Name: "macro avg", Support: r.Support}
	r.WeightedAvg = ClassReport{Name: "weighted avg", Support: r.Support}
	for _, cr := range r.Classes {
		r.MacroAvg.Precision += cr.Precision / float64(k)
		r.MacroAvg.Recall += cr.Recall / float64(k)
		r.MacroAvg.F1 += cr.F1 / float64(k)
		if r.Support > 0 {
			w := float64(cr.Support) / float64(r.Support)
			r.WeightedAvg.Precision += cr.Precision * w
			r.WeightedAvg.Recall += cr.Recall * w
			r.WeightedAvg.F1 += cr.F1 * w
		}
	}
	return r, nil
}

// String renders the report in scikit-learn's text layout with two digits.
func (r *Report) String() string {
	width := len("weighted avg")
	for _, c := range r.Classes {
		if len(c.Name) > width {
			width = len(c.Name)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%*s  %9s %9s %9s %9s\n\n", width, "", "precision", "recall", "f1-score", "support")
	row := func(c ClassReport) {
		fmt.Fprintf(&b, "%*s  %9.2f %9.2f %9.2f %9d\n", width, c.Name, c.Precision, c.Recall, c.F1, c.Support)
	}
	for _, c := range r.Classes {
		row(c)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%*s  %9s %9s %9.2f %9d\n", width, "accuracy", "", "", r.Accuracy, r.Support)
	row(r.MacroAvg)
	row(r.WeightedAvg)
	return b.String()
}
