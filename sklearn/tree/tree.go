// Package tree provides a CART decision tree classifier.
package tree

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

// Node is one node of a fitted tree. Leaves have Feature == -1.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Impurity  float64
	NSamples  int
	// Value holds the class fractions of the training samples reaching the node.
	Value []float64
}

// IsLeaf reports whether the node has no children.
func (n Node) IsLeaf() bool { return n.Feature < 0 }

var (
	_ model.Classifier      = (*DecisionTreeClassifier)(nil)
	_ model.Scorer          = (*DecisionTreeClassifier)(nil)
	_ model.ParameterGetter = (*DecisionTreeClassifier)(nil)
	_ model.ParameterSetter = (*DecisionTreeClassifier)(nil)
)

// DecisionTreeClassifier is a greedy binary CART classifier.
//
// Every impure node with at least minSamplesSplit samples is split on the
// (feature, threshold) pair with the largest impurity decrease, where
// thresholds are midpoints between consecutive distinct feature values and
// both children keep at least minSamplesLeaf samples. Features are scanned in
// an order permuted by randomState; a later feature must strictly improve on
// the best split found so far, so ties keep the first feature examined.
type DecisionTreeClassifier struct {
	state *model.StateManager

	// Hyperparameters
	criterion       string // "gini" or "entropy"
	maxDepth        int    // -1 for unlimited
	minSamplesSplit int
	minSamplesLeaf  int
	randomState     int64 // < 0 scans features in column order

	// Fitted parameters
	nodes               []Node
	classes_            []int
	nClasses_           int
	nFeatures_          int
	featureImportances_ []float64

	logger log.Logger
}

// Option configures a DecisionTreeClassifier.
type Option func(*DecisionTreeClassifier)

// NewDecisionTreeClassifier returns an unfitted tree with scikit-learn defaults.
func NewDecisionTreeClassifier(opts ...Option) *DecisionTreeClassifier {
	dt := &DecisionTreeClassifier{
		state:           model.NewStateManager(),
		criterion:       "gini",
		maxDepth:        -1,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		randomState:     -1,
		logger:          log.GetLoggerWithName("tree.decision_tree"),
	}
	for _, opt := range opts {
		opt(dt)
	}
	return dt
}

// WithCriterion sets the impurity measure, "gini" or "entropy".
func WithCriterion(criterion string) Option {
	return func(dt *DecisionTreeClassifier) { dt.criterion = criterion }
}

// WithMaxDepth caps the depth of the tree; -1 means unlimited.
func WithMaxDepth(depth int) Option {
	return func(dt *DecisionTreeClassifier) { dt.maxDepth = depth }
}

// WithMinSamplesSplit sets the minimum samples required to split a node.
func WithMinSamplesSplit(n int) Option {
	return func(dt *DecisionTreeClassifier) { dt.minSamplesSplit = n }
}

// WithMinSamplesLeaf sets the minimum samples required in each leaf.
func WithMinSamplesLeaf(n int) Option {
	return func(dt *DecisionTreeClassifier) { dt.minSamplesLeaf = n }
}

// WithRandomState seeds the feature scan order.
func WithRandomState(seed int64) Option {
	return func(dt *DecisionTreeClassifier) { dt.randomState = seed }
}

// Name implements model.Named.
func (dt *DecisionTreeClassifier) Name() string { return "DecisionTreeClassifier" }

// Fit grows the tree on X and the n×1 label column y.
func (dt *DecisionTreeClassifier) Fit(X, y mat.Matrix) error {
	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return errors.NewModelError("DecisionTreeClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	if nSamples != yRows {
		return errors.NewDimensionError("DecisionTreeClassifier.Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewDimensionError("DecisionTreeClassifier.Fit", 1, yCols, 1)
	}
	if err := dt.validateParams(); err != nil {
		return err
	}

	dt.state.Reset()
	dt.classes_ = uniqueClasses(y)
	dt.nClasses_ = len(dt.classes_)
	dt.nFeatures_ = nFeatures

	classIndex := make(map[int]int, dt.nClasses_)
	for k, c := range dt.classes_ {
		classIndex[c] = k
	}
	cols := make([][]float64, nFeatures)
	for j := range cols {
		cols[j] = mat.Col(nil, j, X)
	}
	b := &builder{
		dt:      dt,
		cols:    cols,
		y:       make([]int, nSamples),
		order:   dt.featureOrder(nFeatures),
		gains:   make([]float64, nFeatures),
		nTotal:  float64(nSamples),
		indices: make([]int, nSamples),
	}
	for i := 0; i < nSamples; i++ {
		b.y[i] = classIndex[int(y.At(i, 0))]
		b.indices[i] = i
	}

	dt.nodes = dt.nodes[:0]
	b.grow(b.indices, 0)

	dt.featureImportances_ = b.gains
	if total := floats.Sum(b.gains); total > 0 {
		floats.Scale(1/total, dt.featureImportances_)
	}

	dt.state.SetDimensions(nFeatures, nSamples)
	dt.state.SetFitted()
	dt.logger.Debug("Model fitted",
		log.ModelNameKey, dt.Name(),
		log.OperationKey, log.OperationFit,
		log.SamplesKey, nSamples,
		log.FeaturesKey, nFeatures,
		"tree.depth", dt.GetDepth(),
		"tree.leaves", dt.GetNLeaves(),
	)
	return nil
}

func (dt *DecisionTreeClassifier) validateParams() error {
	switch {
	case dt.criterion != "gini" && dt.criterion != "entropy":
		return errors.NewValidationError("criterion", "must be 'gini' or 'entropy'", dt.criterion)
	case dt.maxDepth == 0 || dt.maxDepth < -1:
		return errors.NewValidationError("max_depth", "must be positive or -1", dt.maxDepth)
	case dt.minSamplesSplit < 2:
		return errors.NewValidationError("min_samples_split", "must be at least 2", dt.minSamplesSplit)
	case dt.minSamplesLeaf < 1:
		return errors.NewValidationError("min_samples_leaf", "must be at least 1", dt.minSamplesLeaf)
	}
	return nil
}

func (dt *DecisionTreeClassifier) featureOrder(nFeatures int) []int {
	order := make([]int, nFeatures)
	for j := range order {
		order[j] = j
	}
	if dt.randomState >= 0 {
		rng := rand.New(rand.NewPCG(uint64(dt.randomState), 0xda3e39cb94b95bdb))
		rng.Shuffle(nFeatures, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	return order
}

type builder struct {
	dt      *DecisionTreeClassifier
	cols    [][]float64 // column-major copy of X
	y       []int
	order   []int
	gains   []float64
	nTotal  float64
	indices []int
}

type split struct {
	feature   int
	threshold float64
	gain      float64
	nLeft     int
}

// grow appends the subtree for idx and returns its node index.
func (b *builder) grow(idx []int, depth int) int {
	dt := b.dt
	counts := b.counts(idx)
	impurity := dt.impurity(counts, len(idx))

	value := make([]float64, dt.nClasses_)
	for k, c := range counts {
		value[k] = float64(c) / float64(len(idx))
	}
	id := len(dt.nodes)
	dt.nodes = append(dt.nodes, Node{
		Feature:  -1,
		Left:     -1,
		Right:    -1,
		Impurity: impurity,
		NSamples: len(idx),
		Value:    value,
	})

	if impurity <= 0 ||
		len(idx) < dt.minSamplesSplit ||
		len(idx) < 2*dt.minSamplesLeaf ||
		(dt.maxDepth >= 0 && depth >= dt.maxDepth) {
		return id
	}

	best, ok := b.bestSplit(idx, counts, impurity)
	if !ok {
		return id
	}

	// left keeps x <= threshold; both sides preserve the order of idx
	left := make([]int, 0, best.nLeft)
	right := make([]int, 0, len(idx)-best.nLeft)
	for _, i := range idx {
		if b.cols[best.feature][i] <= best.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	b.gains[best.feature] += best.gain * float64(len(idx)) / b.nTotal

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	dt.nodes[id].Feature = best.feature
	dt.nodes[id].Threshold = best.threshold
	dt.nodes[id].Left = l
	dt.nodes[id].Right = r
	return id
}

func (b *builder) counts(idx []int) []int {
	counts := make([]int, b.dt.nClasses_)
	for _, i := range idx {
		counts[b.y[i]]++
	}
	return counts
}

// bestSplit scans features in b.order. Gains are the parent impurity minus the
// sample-weighted child impurities.
func (b *builder) bestSplit(idx []int, counts []int, parentImpurity float64) (split, bool) {
	dt := b.dt
	n := len(idx)
	best := split{gain: math.Inf(-1)}
	found := false

	sorted := make([]int, n)
	leftCounts := make([]int, dt.nClasses_)
	rightCounts := make([]int, dt.nClasses_)

	for _, f := range b.order {
		col := b.cols[f]
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, c int) bool {
			return col[sorted[a]] < col[sorted[c]]
		})
		for k := range leftCounts {
			leftCounts[k] = 0
			rightCounts[k] = counts[k]
		}

		for pos := 0; pos < n-1; pos++ {
			cls := b.y[sorted[pos]]
			leftCounts[cls]++
			rightCounts[cls]--

			nLeft := pos + 1
			nRight := n - nLeft
			if nLeft < dt.minSamplesLeaf || nRight < dt.minSamplesLeaf {
				continue
			}
			v, next := col[sorted[pos]], col[sorted[pos+1]]
			if v == next {
				continue
			}

			children := (float64(nLeft)*dt.impurity(leftCounts, nLeft) +
				float64(nRight)*dt.impurity(rightCounts, nRight)) / float64(n)
			gain := parentImpurity - children
			if gain > best.gain {
				threshold := v + (next-v)/2
				if threshold == next {
					// midpoint rounded up to next; keep next on the right
					threshold = v
				}
				best = split{feature: f, threshold: threshold, gain: gain, nLeft: nLeft}
				found = true
			}
		}
	}
	return best, found
}

func (dt *DecisionTreeClassifier) impurity(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	total := float64(n)
	switch dt.criterion {
	case "entropy":
		h := 0.0
		for _, c := range counts {
			if c > 0 {
				p := float64(c) / total
				h -= p * math.Log2(p)
			}
		}
		return h
	default:
		g := 1.0
		for _, c := range counts {
			p := float64(c) / total
			g -= p * p
		}
		return g
	}
}

// leaf returns the leaf reached by row.
func (dt *DecisionTreeClassifier) leaf(row []float64) Node {
	node := dt.nodes[0]
	for !node.IsLeaf() {
		if row[node.Feature] <= node.Threshold {
			node = dt.nodes[node.Left]
		} else {
			node = dt.nodes[node.Right]
		}
	}
	return node
}

// PredictProba returns the class fractions of the leaf each row falls into.
func (dt *DecisionTreeClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	nSamples, nFeatures := X.Dims()
	if err := dt.state.RequireFeatures(dt.Name(), "PredictProba", nFeatures); err != nil {
		return nil, err
	}
	probas := mat.NewDense(nSamples, dt.nClasses_, nil)
	row := make([]float64, nFeatures)
	for i := 0; i < nSamples; i++ {
		mat.Row(row, i, X)
		probas.SetRow(i, dt.leaf(row).Value)
	}
	return probas, nil
}

// Predict returns the majority class of each row's leaf; ties go to the lower class.
func (dt *DecisionTreeClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	probas, err := dt.PredictProba(X)
	if err != nil {
		return nil, err
	}
	n, k := probas.Dims()
	out := mat.NewDense(n, 1, nil)
	row := make([]float64, k)
	for i := 0; i < n; i++ {
		mat.Row(row, i, probas)
		out.Set(i, 0, float64(dt.classes_[floats.MaxIdx(row)]))
	}
	return out, nil
}

// Score returns the mean accuracy on X and y, or 0 when prediction fails.
func (dt *DecisionTreeClassifier) Score(X, y mat.Matrix) float64 {
	predictions, err := dt.Predict(X)
	if err != nil {
		return 0
	}
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

// GetFeatureImportances returns the normalised total impurity decrease per feature.
func (dt *DecisionTreeClassifier) GetFeatureImportances() []float64 {
	return append([]float64(nil), dt.featureImportances_...)
}

// GetDepth returns the length of the longest root-to-leaf path.
func (dt *DecisionTreeClassifier) GetDepth() int {
	if len(dt.nodes) == 0 {
		return 0
	}
	var depth func(id int) int
	depth = func(id int) int {
		n := dt.nodes[id]
		if n.IsLeaf() {
			return 0
		}
		l, r := depth(n.Left), depth(n.Right)
		if l > r {
			return l + 1
		}
		return r + 1
	}
	return depth(0)
}

// GetNLeaves returns the number of leaves.
func (dt *DecisionTreeClassifier) GetNLeaves() int {
	leaves := 0
	for _, n := range dt.nodes {
		if n.IsLeaf() {
			leaves++
		}
	}
	return leaves
}

// Nodes returns a copy of the fitted nodes; index 0 is the root.
func (dt *DecisionTreeClassifier) Nodes() []Node {
	return append([]Node(nil), dt.nodes...)
}

// Classes returns the sorted class labels seen during Fit.
func (dt *DecisionTreeClassifier) Classes() []int {
	return append([]int(nil), dt.classes_...)
}

// IsFitted reports whether Fit has completed.
func (dt *DecisionTreeClassifier) IsFitted() bool {
	return dt.state.IsFitted()
}

// Clone returns an unfitted copy with the same hyperparameters.
func (dt *DecisionTreeClassifier) Clone() model.Classifier {
	return NewDecisionTreeClassifier(
		WithCriterion(dt.criterion),
		WithMaxDepth(dt.maxDepth),
		WithMinSamplesSplit(dt.minSamplesSplit),
		WithMinSamplesLeaf(dt.minSamplesLeaf),
		WithRandomState(dt.randomState),
	)
}

// GetParams returns the hyperparameters.
func (dt *DecisionTreeClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"criterion":         dt.criterion,
		"max_depth":         dt.maxDepth,
		"min_samples_split": dt.minSamplesSplit,
		"min_samples_leaf":  dt.minSamplesLeaf,
		"random_state":      dt.randomState,
	}
}

// SetParams sets hyperparameters by name.
func (dt *DecisionTreeClassifier) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var ok bool
		switch key {
		case "criterion":
			dt.criterion, ok = value.(string)
		case "max_depth":
			dt.maxDepth, ok = value.(int)
		case "min_samples_split":
			dt.minSamplesSplit, ok = value.(int)
		case "min_samples_leaf":
			dt.minSamplesLeaf, ok = value.(int)
		case "random_state":
			dt.randomState, ok = value.(int64)
		default:
			return errors.NewValidationError(key, "unknown parameter", value)
		}
		if !ok {
			return errors.NewValidationError(key, fmt.Sprintf("unexpected type %T", value), value)
		}
	}
	return nil
}

type treeSnapshot struct {
	State              model.State
	Criterion          string
	MaxDepth           int
	MinSamplesSplit    int
	MinSamplesLeaf     int
	RandomState        int64
	Nodes              []Node
	Classes            []int
	NFeatures          int
	FeatureImportances []float64
}

// GobEncode implements gob.GobEncoder.
func (dt *DecisionTreeClassifier) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(treeSnapshot{
		State:              dt.state.GetState(),
		Criterion:          dt.criterion,
		MaxDepth:           dt.maxDepth,
		MinSamplesSplit:    dt.minSamplesSplit,
		MinSamplesLeaf:     dt.minSamplesLeaf,
		RandomState:        dt.randomState,
		Nodes:              dt.nodes,
		Classes:            dt.classes_,
		NFeatures:          dt.nFeatures_,
		FeatureImportances: dt.featureImportances_,
	})
	return buf.Bytes(), errors.Wrap(err, "encode DecisionTreeClassifier")
}

// GobDecode implements gob.GobDecoder.
func (dt *DecisionTreeClassifier) GobDecode(data []byte) error {
	var snap treeSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return errors.Wrap(err, "decode DecisionTreeClassifier")
	}
	*dt = *NewDecisionTreeClassifier(
		WithCriterion(snap.Criterion),
		WithMaxDepth(snap.MaxDepth),
		WithMinSamplesSplit(snap.MinSamplesSplit),
		WithMinSamplesLeaf(snap.MinSamplesLeaf),
		WithRandomState(snap.RandomState),
	)
	dt.state.SetState(snap.State)
	dt.nodes = snap.Nodes
	dt.classes_ = snap.Classes
	dt.nClasses_ = len(snap.Classes)
	dt.nFeatures_ = snap.NFeatures
	dt.featureImportances_ = snap.FeatureImportances
	return nil
}

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
