package preprocessing

import (
	"bytes"
	"encoding/gob"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/housestack/core/model"
	"github.com/YuminosukeSato/housestack/dataset"
	"github.com/YuminosukeSato/housestack/pkg/errors"
	"github.com/YuminosukeSato/housestack/pkg/log"
)

// CategoricalColumns are expanded into drop-first indicator columns.
var CategoricalColumns = []string{dataset.ColView, dataset.ColCondition, dataset.ColGrade}

// BaseColumns are the attributes copied into the feature vector as numbers,
// in CSV order. waterfront is label encoded.
var BaseColumns = func() []string {
	out := make([]string, 0, len(dataset.AttributeColumns))
	for _, c := range dataset.AttributeColumns {
		if !isCategorical(c) {
			out = append(out, c)
		}
	}
	return out
}()

// binaryDomain is always part of the waterfront mapping so a training split
// without waterfront houses still encodes them at inference.
var binaryDomain = []float64{0, 1}

func isCategorical(col string) bool {
	for _, c := range CategoricalColumns {
		if c == col {
			return true
		}
	}
	return false
}

// IndicatorName returns the column name of a one-hot level, e.g. "grade_7".
func IndicatorName(col string, level float64) string {
	return col + "_" + strconv.FormatFloat(level, 'f', -1, 64)
}

// IsIndicator reports whether name is a categorical indicator column.
func IsIndicator(name string) bool {
	for _, c := range CategoricalColumns {
		if strings.HasPrefix(name, c+"_") {
			return true
		}
	}
	return false
}

// HouseEncoder turns raw house attributes into a fixed-width feature vector.
//
// Fit learns the waterfront label mapping and, for view, condition and grade,
// the sorted levels present in the training records. The schema is the base
// columns followed by one indicator per level except the smallest (the
// reference level). Encoding is aligned to that schema: indicators the input
// does not produce are 0, columns outside the schema are dropped.
type HouseEncoder struct {
	state      *model.StateManager
	waterfront *LabelEncoder
	levels     map[string][]float64
	schema     []string
	logger     log.Logger
}

// NewHouseEncoder returns an unfitted encoder.
func NewHouseEncoder() *HouseEncoder {
	return &HouseEncoder{
		state:      model.NewStateManager(),
		waterfront: NewLabelEncoder(),
		logger:     log.GetLoggerWithName("preprocessing.encoder"),
	}
}

// Fit learns the mappings and freezes the schema.
func (e *HouseEncoder) Fit(records []dataset.Record) error {
	if e.state.IsFitted() {
		return errors.Wrap(errors.ErrAlreadyFitted, "HouseEncoder.Fit")
	}
	if len(records) == 0 {
		return errors.NewModelError("HouseEncoder.Fit", "empty data", errors.ErrEmptyData)
	}

	waterfront := make([]float64, 0, len(records)+len(binaryDomain))
	values := make(map[string][]float64, len(CategoricalColumns))
	for _, r := range records {
		attrs := r.Attributes()
		waterfront = append(waterfront, attrs[dataset.ColWaterfront])
		for _, c := range CategoricalColumns {
			values[c] = append(values[c], attrs[c])
		}
	}
	if err := e.waterfront.Fit(append(waterfront, binaryDomain...)); err != nil {
		return errors.Wrap(err, "HouseEncoder.Fit: waterfront")
	}

	e.levels = make(map[string][]float64, len(CategoricalColumns))
	schema := append([]string(nil), BaseColumns...)
	for _, c := range CategoricalColumns {
		levels := distinctSorted(values[c])
		e.levels[c] = levels
		for _, lvl := range levels[1:] {
			schema = append(schema, IndicatorName(c, lvl))
		}
	}
	e.schema = schema

	e.state.SetDimensions(len(schema), len(records))
	e.state.SetFitted()
	e.logger.Debug("Encoder fitted",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, len(records),
		log.FeaturesKey, len(schema),
	)
	return nil
}

// Schema returns a copy of the frozen column order.
func (e *HouseEncoder) Schema() []string {
	return append([]string(nil), e.schema...)
}

// Levels returns the training levels of a categorical column, reference first.
func (e *HouseEncoder) Levels(col string) []float64 {
	return append([]float64(nil), e.levels[col]...)
}

// IsFitted reports whether Fit has completed.
func (e *HouseEncoder) IsFitted() bool {
	return e.state.IsFitted()
}

// Transform encodes records into an n×len(Schema()) matrix.
func (e *HouseEncoder) Transform(records []dataset.Record) (*mat.Dense, error) {
	if err := e.state.RequireFitted("HouseEncoder", "Transform"); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.NewModelError("HouseEncoder.Transform", "empty data", errors.ErrEmptyData)
	}
	out := mat.NewDense(len(records), len(e.schema), nil)
	for i, r := range records {
		row, err := e.TransformOne(r.Attributes())
		if err != nil {
			return nil, errors.Wrapf(err, "record %s", r.ID)
		}
		out.SetRow(i, row)
	}
	return out, nil
}

// FitTransform fits on records and encodes them.
func (e *HouseEncoder) FitTransform(records []dataset.Record) (*mat.Dense, error) {
	if err := e.Fit(records); err != nil {
		return nil, err
	}
	return e.Transform(records)
}

// TransformOne encodes one raw attribute map. Every attribute in
// dataset.AttributeColumns must be present.
func (e *HouseEncoder) TransformOne(raw map[string]float64) ([]float64, error) {
	if err := e.state.RequireFitted("HouseEncoder", "TransformOne"); err != nil {
		return nil, err
	}
	var missing []string
	for _, c := range dataset.AttributeColumns {
		if _, ok := raw[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, errors.NewMissingColumnError("HouseEncoder.TransformOne", missing...)
	}

	names, values, err := e.encode(raw)
	if err != nil {
		return nil, err
	}
	return AlignColumns(names, values, e.schema)
}

// encode produces the unaligned columns of one input: every base column plus
// one indicator for the observed level of each categorical column.
func (e *HouseEncoder) encode(raw map[string]float64) ([]string, []float64, error) {
	names := make([]string, 0, len(BaseColumns)+len(CategoricalColumns))
	values := make([]float64, 0, cap(names))

	for _, c := range BaseColumns {
		v := raw[c]
		if c == dataset.ColWaterfront {
			code, err := e.waterfront.Transform([]float64{v})
			if err != nil {
				return nil, nil, errors.Wrap(err, "waterfront")
			}
			v = code[0]
		}
		names = append(names, c)
		values = append(values, v)
	}

	for _, c := range CategoricalColumns {
		v := raw[c]
		if !containsLevel(e.levels[c], v) {
			errors.Warn(errors.NewUnseenCategoryWarning(c, v))
		}
		names = append(names, IndicatorName(c, v))
		values = append(values, 1)
	}
	return names, values, nil
}

func containsLevel(levels []float64, v float64) bool {
	i := sort.SearchFloat64s(levels, v)
	return i < len(levels) && levels[i] == v
}

// AlignColumns projects named values onto schema. Schema indicator columns the
// input lacks are 0 and input columns outside the schema are dropped. A schema
// column that is not an indicator must be present; otherwise the result is a
// SchemaMismatchError.
func AlignColumns(names []string, values []float64, schema []string) ([]float64, error) {
	if len(names) != len(values) {
		return nil, errors.NewDimensionError("AlignColumns", len(names), len(values), 1)
	}
	byName := make(map[string]float64, len(names))
	for i, n := range names {
		byName[n] = values[i]
	}

	out := make([]float64, len(schema))
	for j, col := range schema {
		v, ok := byName[col]
		if !ok {
			if !IsIndicator(col) {
				return nil, errors.NewSchemaMismatchError("AlignColumns", schema, names)
			}
			continue
		}
		out[j] = v
	}
	return out, nil
}

type encoderSnapshot struct {
	State      model.State
	Waterfront []float64
	Levels     map[string][]float64
	Schema     []string
}

// GobEncode implements gob.GobEncoder.
func (e *HouseEncoder) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(encoderSnapshot{
		State:      e.state.GetState(),
		Waterfront: e.waterfront.Classes(),
		Levels:     e.levels,
		Schema:     e.schema,
	})
	return buf.Bytes(), errors.Wrap(err, "encode HouseEncoder")
}

// GobDecode implements gob.GobDecoder.
func (e *HouseEncoder) GobDecode(data []byte) error {
	var snap encoderSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return errors.Wrap(err, "decode HouseEncoder")
	}
	e.state = model.NewStateManager()
	e.state.SetState(snap.State)
	e.waterfront = NewLabelEncoder()
	if snap.State.Fitted {
		e.waterfront.setClasses(snap.Waterfront)
		e.waterfront.state.SetFitted()
	}
	e.levels = snap.Levels
	e.schema = snap.Schema
	e.logger = log.GetLoggerWithName("preprocessing.encoder")
	return nil
}
