// Package metrics implements classification metrics over gonum vectors.
package metrics

import (
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/housestack/pkg/errors"
)

// logLossEps clips probabilities away from 0 and 1.
const logLossEps = 1e-15

// AsVector copies the first column of m into a vector.
func AsVector(m mat.Matrix) *mat.VecDense {
	r, _ := m.Dims()
	v := mat.NewVecDense(r, nil)
	for i := 0; i < r; i++ {
		v.SetVec(i, m.At(i, 0))
	}
	return v
}

func checkPair(op string, yTrue, yPred *mat.VecDense) (int, error) {
	if yTrue == nil || yPred == nil || yTrue.Len() == 0 {
		return 0, errors.NewValueError(op, "empty vector")
	}
	n := yTrue.Len()
	if yPred.Len() != n {
		return 0, errors.NewDimensionError(op, n, yPred.Len(), 0)
	}
	return n, nil
}

func checkBinary(op string, y *mat.VecDense) error {
	for i := 0; i < y.Len(); i++ {
		if v := y.AtVec(i); v != 0 && v != 1 {
			return errors.NewValueError(op, "labels must be 0 or 1")
		}
	}
	return nil
}

// Accuracy returns the fraction of exactly matching labels.
func Accuracy(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("Accuracy", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	correct := 0
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == yPred.AtVec(i) {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

// ClassificationError returns 1 - Accuracy.
func ClassificationError(yTrue, yPred *mat.VecDense) (float64, error) {
	acc, err := Accuracy(yTrue, yPred)
	if err != nil {
		return 0, errors.Wrap(err, "ClassificationError")
	}
	return 1 - acc, nil
}

// Labels returns the sorted union of the labels in the given vectors.
func Labels(vs ...*mat.VecDense) []int {
	seen := make(map[int]struct{})
	for _, v := range vs {
		for i := 0; i < v.Len(); i++ {
			seen[int(v.AtVec(i))] = struct{}{}
		}
	}
	labels := make([]int, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sort.Ints(labels)
	return labels
}

// ConfusionMatrix counts samples with true label labels[i] predicted as
// labels[j] at (i, j). A nil labels uses the sorted union of both vectors.
// Samples whose labels are not listed are ignored.
func ConfusionMatrix(yTrue, yPred *mat.VecDense, labels []int) (*mat.Dense, error) {
	n, err := checkPair("ConfusionMatrix", yTrue, yPred)
	if err != nil {
		return nil, err
	}
	if labels == nil {
		labels = Labels(yTrue, yPred)
	}
	if len(labels) == 0 {
		return nil, errors.NewValueError("ConfusionMatrix", "no labels")
	}
	index := make(map[int]int, len(labels))
	for k, l := range labels {
		index[l] = k
	}
	cm := mat.NewDense(len(labels), len(labels), nil)
	for i := 0; i < n; i++ {
		r, okT := index[int(yTrue.AtVec(i))]
		c, okP := index[int(yPred.AtVec(i))]
		if okT && okP {
			cm.Set(r, c, cm.At(r, c)+1)
		}
	}
	return cm, nil
}

// ClassScores holds per-class precision, recall, F1 and support, indexed like
// Labels.
type ClassScores struct {
	Labels    []int
	Precision []float64
	Recall    []float64
	F1        []float64
	Support   []int
}

// PrecisionRecallFScore computes per-class scores. Precision with no
// predicted samples, recall with no true samples and F1 with both zero are
// set to 0 and reported through an UndefinedMetricWarning.
func PrecisionRecallFScore(yTrue, yPred *mat.VecDense, labels []int) (*ClassScores, error) {
	if labels == nil && yTrue != nil && yPred != nil {
		labels = Labels(yTrue, yPred)
	}
	cm, err := ConfusionMatrix(yTrue, yPred, labels)
	if err != nil {
		return nil, errors.Wrap(err, "PrecisionRecallFScore")
	}
	k := len(labels)
	s := &ClassScores{
		Labels:    append([]int(nil), labels...),
		Precision: make([]float64, k),
		Recall:    make([]float64, k),
		F1:        make([]float64, k),
		Support:   make([]int, k),
	}
	var noPred, noTrue bool
	for c := 0; c < k; c++ {
		tp := cm.At(c, c)
		predicted := mat.Sum(cm.ColView(c))
		actual := mat.Sum(cm.RowView(c))
		s.Support[c] = int(actual)

		if predicted > 0 {
			s.Precision[c] = tp / predicted
		} else {
			noPred = true
		}
		if actual > 0 {
			s.Recall[c] = tp / actual
		} else {
			noTrue = true
		}
		if sum := s.Precision[c] + s.Recall[c]; sum > 0 {
			s.F1[c] = 2 * s.Precision[c] * s.Recall[c] / sum
		}
	}
	if noPred {
		errors.Warn(errors.NewUndefinedMetricWarning("precision", "no predicted samples for a label", 0))
	}
	if noTrue {
		errors.Warn(errors.NewUndefinedMetricWarning("recall", "no true samples for a label", 0))
	}
	return s, nil
}

// AUC returns the area under the ROC curve of binary labels yTrue scored by
// yScore, computed from the Mann-Whitney U statistic with tied scores given
// their average rank. With a single class present the AUC is undefined: the
// result is 0.5 and an UndefinedMetricWarning is emitted.
func AUC(yTrue, yScore *mat.VecDense) (float64, error) {
	n, err := checkPair("AUC", yTrue, yScore)
	if err != nil {
		return 0, err
	}
	if err := checkBinary("AUC", yTrue); err != nil {
		return 0, err
	}

	nPos := 0
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == 1 {
			nPos++
		}
	}
	nNeg := n - nPos
	if nPos == 0 || nNeg == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("AUC", "only one class present in y_true", 0.5))
		return 0.5, nil
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return yScore.AtVec(order[a]) < yScore.AtVec(order[b])
	})

	// sum of 1-based average ranks of the positives
	rankSum := 0.0
	for i := 0; i < n; {
		j := i
		for j+1 < n && yScore.AtVec(order[j+1]) == yScore.AtVec(order[i]) {
			j++
		}
		avgRank := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			if yTrue.AtVec(order[k]) == 1 {
				rankSum += avgRank
			}
		}
		i = j + 1
	}
	u := rankSum - float64(nPos*(nPos+1))/2
	return u / float64(nPos*nNeg), nil
}

// AUCMatrix is AUC over the first column of each matrix.
func AUCMatrix(yTrue, yScore mat.Matrix) (float64, error) {
	if yTrue == nil || yScore == nil {
		return 0, errors.NewValueError("AUCMatrix", "nil matrix")
	}
	if r, c := yTrue.Dims(); r == 0 || c == 0 {
		return 0, errors.NewValueError("AUCMatrix", "empty matrix")
	}
	return AUC(AsVector(yTrue), AsVector(yScore))
}

// BinaryLogLoss returns the mean negative log-likelihood of binary labels
// under predicted probabilities of class 1, clipped to [eps, 1-eps].
func BinaryLogLoss(yTrue, yProb *mat.VecDense) (float64, error) {
	n, err := checkPair("BinaryLogLoss", yTrue, yProb)
	if err != nil {
		return 0, err
	}
	if err := checkBinary("BinaryLogLoss", yTrue); err != nil {
		return 0, err
	}
	loss := 0.0
	for i := 0; i < n; i++ {
		p := errors.ClipValue(yProb.AtVec(i), logLossEps, 1-logLossEps)
		if yTrue.AtVec(i) == 1 {
			loss -= errors.StabilizeLog(p)
		} else {
			loss -= errors.StabilizeLog(1 - p)
		}
	}
	return loss / float64(n), nil
}
