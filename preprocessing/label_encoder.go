package preprocessing

import (
	"sort"

	"github.com/YuminosukeSato/housestack/core/model"
	"github.com/YuminosukeSato/housestack/pkg/errors"
)

// LabelEncoder maps the distinct values seen in Fit, sorted ascending, to the
// codes 0..n-1.
type LabelEncoder struct {
	state   *model.StateManager
	classes []float64
	index   map[float64]int
}

// NewLabelEncoder returns an unfitted LabelEncoder.
func NewLabelEncoder() *LabelEncoder {
	return &LabelEncoder{state: model.NewStateManager()}
}

// Fit learns the sorted set of distinct values.
func (e *LabelEncoder) Fit(values []float64) error {
	if e.state.IsFitted() {
		return errors.Wrap(errors.ErrAlreadyFitted, "LabelEncoder.Fit")
	}
	if len(values) == 0 {
		return errors.NewModelError("LabelEncoder.Fit", "empty data", errors.ErrEmptyData)
	}
	e.setClasses(distinctSorted(values))
	e.state.SetDimensions(1, len(values))
	e.state.SetFitted()
	return nil
}

func (e *LabelEncoder) setClasses(classes []float64) {
	e.classes = classes
	e.index = make(map[float64]int, len(classes))
	for i, c := range classes {
		e.index[c] = i
	}
}

// Transform maps values to codes. A value not seen in Fit is a ValidationError.
func (e *LabelEncoder) Transform(values []float64) ([]float64, error) {
	if err := e.state.RequireFitted("LabelEncoder", "Transform"); err != nil {
		return nil, err
	}
	out := make([]float64, len(values))
	for i, v := range values {
		code, ok := e.index[v]
		if !ok {
			return nil, errors.NewValidationError("value", "previously unseen label", v)
		}
		out[i] = float64(code)
	}
	return out, nil
}

// InverseTransform maps codes back to the original values.
func (e *LabelEncoder) InverseTransform(codes []float64) ([]float64, error) {
	if err := e.state.RequireFitted("LabelEncoder", "InverseTransform"); err != nil {
		return nil, err
	}
	out := make([]float64, len(codes))
	for i, c := range codes {
		k := int(c)
		if float64(k) != c || k < 0 || k >= len(e.classes) {
			return nil, errors.NewValidationError("code", "out of range", c)
		}
		out[i] = e.classes[k]
	}
	return out, nil
}

// FitTransform fits and transforms values.
func (e *LabelEncoder) FitTransform(values []float64) ([]float64, error) {
	if err := e.Fit(values); err != nil {
		return nil, err
	}
	return e.Transform(values)
}

// Classes returns a copy of the learned values in code order.
func (e *LabelEncoder) Classes() []float64 {
	return append([]float64(nil), e.classes...)
}

func distinctSorted(values []float64) []float64 {
	seen := make(map[float64]struct{}, len(values))
	out := make([]float64, 0)
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Float64s(out)
	return out
}
