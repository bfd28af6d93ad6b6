package pipeline

import (
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/housestack/config"
	"github.com/YuminosukeSato/housestack/core/model"
	"github.com/YuminosukeSato/housestack/dataset"
	"github.com/YuminosukeSato/housestack/metrics"
	"github.com/YuminosukeSato/housestack/pkg/errors"
	"github.com/YuminosukeSato/housestack/pkg/log"
	"github.com/YuminosukeSato/housestack/preprocessing"
	"github.com/YuminosukeSato/housestack/report"
	"github.com/YuminosukeSato/housestack/sklearn/ensemble"
	"github.com/YuminosukeSato/housestack/sklearn/linear_model"
	"github.com/YuminosukeSato/housestack/sklearn/model_selection"
	"github.com/YuminosukeSato/housestack/sklearn/neighbors"
	"github.com/YuminosukeSato/housestack/sklearn/tree"
)

// BaseEstimators returns the three unfitted base learners configured by cfg.
func BaseEstimators(cfg config.ModelConfig, seed uint64) []ensemble.NamedEstimator {
	return []ensemble.NamedEstimator{
		{Name: NameLogistic, Estimator: linear_model.NewLogisticRegression(
			linear_model.WithLRMaxIter(cfg.LogisticMaxIter),
			linear_model.WithLRRandomState(int64(seed)),
		)},
		{Name: NameTree, Estimator: tree.NewDecisionTreeClassifier(
			tree.WithMaxDepth(cfg.TreeMaxDepth),
			tree.WithRandomState(int64(seed)),
		)},
		{Name: NameKNN, Estimator: neighbors.NewKNeighborsClassifier(
			neighbors.WithNNeighbors(cfg.Neighbors),
		)},
	}
}

// Split is a labelled train/test partition of the records.
type Split struct {
	Train, Test   []dataset.Record
	YTrain, YTest []float64
	// Threshold is the median training price used for both label vectors.
	Threshold float64
}

// SplitRecords partitions records and labels them against the training median.
// Stratification uses labels from the full-data median, since the training
// median is only known after the split.
func SplitRecords(records []dataset.Record, cfg config.SplitConfig) (*Split, error) {
	var stratify []float64
	if cfg.Stratify {
		provisional, err := dataset.MedianPrice(records)
		if err != nil {
			return nil, err
		}
		stratify = dataset.Labels(records, provisional)
	}
	trainIdx, testIdx, err := model_selection.TrainTestSplit(len(records), cfg.TestSize, stratify, cfg.RandomSeed)
	if err != nil {
		return nil, err
	}

	s := &Split{Train: pick(records, trainIdx), Test: pick(records, testIdx)}
	if s.Threshold, err = dataset.MedianPrice(s.Train); err != nil {
		return nil, err
	}
	s.YTrain = dataset.Labels(s.Train, s.Threshold)
	s.YTest = dataset.Labels(s.Test, s.Threshold)
	return s, nil
}

func pick(records []dataset.Record, idx []int) []dataset.Record {
	out := make([]dataset.Record, len(idx))
	for i, j := range idx {
		out[i] = records[j]
	}
	return out
}

// Train splits, encodes, scales and fits the stacking ensemble, then scores
// every model on the held-out split.
func Train(records []dataset.Record, cfg config.Config) (*Bundle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.WithStack(errors.ErrEmptyData)
	}
	logger := log.GetLoggerWithName("pipeline")
	start := time.Now()

	split, err := SplitRecords(records, cfg.Split)
	if err != nil {
		return nil, errors.Wrap(err, "split records")
	}

	encoder := preprocessing.NewHouseEncoder()
	rawTrain, err := encoder.FitTransform(split.Train)
	if err != nil {
		return nil, errors.Wrap(err, "encode training records")
	}
	rawTest, err := encoder.Transform(split.Test)
	if err != nil {
		return nil, errors.Wrap(err, "encode test records")
	}

	scaler := preprocessing.NewStandardScalerDefault()
	XTrain, err := scaler.FitTransform(rawTrain)
	if err != nil {
		return nil, errors.Wrap(err, "scale training features")
	}
	XTest, err := scaler.Transform(rawTest)
	if err != nil {
		return nil, errors.Wrap(err, "scale test features")
	}

	yTrain := mat.NewDense(len(split.YTrain), 1, split.YTrain)
	opts := []ensemble.Option{
		ensemble.WithCV(cfg.Models.CVFolds),
		ensemble.WithNJobs(cfg.Models.NJobs),
		ensemble.WithFinalEstimator(linear_model.NewLogisticRegression(
			linear_model.WithLRMaxIter(cfg.Models.LogisticMaxIter),
			linear_model.WithLRRandomState(int64(cfg.Split.RandomSeed)),
		)),
	}
	if !cfg.Split.Stratify {
		// plain consecutive folds, matching the unstratified split
		opts = append(opts, ensemble.WithSplitter(model_selection.NewKFold(cfg.Models.CVFolds, false, 0)))
	}
	stacking := ensemble.NewStackingClassifier(BaseEstimators(cfg.Models, cfg.Split.RandomSeed), opts...)
	if err := stacking.Fit(XTrain, yTrain); err != nil {
		return nil, errors.Wrap(err, "fit stacking ensemble")
	}

	b := &Bundle{
		RunID:       uuid.NewString(),
		CreatedAt:   time.Now().UTC(),
		Seed:        cfg.Split.RandomSeed,
		MedianPrice: split.Threshold,
		TrainSize:   len(split.Train),
		TestSize:    len(split.Test),
		Folds:       cfg.Models.CVFolds,
		Encoder:     encoder,
		Scaler:      scaler,
		Stacking:    stacking,
	}

	yTest := mat.NewVecDense(len(split.YTest), split.YTest)
	for _, ne := range stacking.Estimators() {
		ev, err := evaluate(ne.Name, ne.Estimator, XTest, yTest)
		if err != nil {
			return nil, err
		}
		b.Evaluation.Bases = append(b.Evaluation.Bases, ev)
	}
	if b.Evaluation.Stacking, err = evaluate(NameStacking, stacking, XTest, yTest); err != nil {
		return nil, err
	}
	if b.Evaluation.Comparison, err = compare(b.Evaluation); err != nil {
		return nil, err
	}

	logger.Info("Training completed",
		log.RunIDKey, b.RunID,
		log.SamplesKey, len(records),
		log.FeaturesKey, len(encoder.Schema()),
		log.ThresholdKey, b.MedianPrice,
		log.AccuracyKey, b.Evaluation.Stacking.Accuracy,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return b, nil
}

// Evaluate scores the ensemble on labelled records using the bundle's
// threshold, encoder and scaler.
func (b *Bundle) Evaluate(records []dataset.Record) (ModelEvaluation, error) {
	if len(records) == 0 {
		return ModelEvaluation{}, errors.WithStack(errors.ErrEmptyData)
	}
	X, err := b.features(records)
	if err != nil {
		return ModelEvaluation{}, err
	}
	y := dataset.Labels(records, b.MedianPrice)
	return evaluate(NameStacking, b.Stacking, X, mat.NewVecDense(len(y), y))
}

// Batch assembles the console report of the run.
func (b *Bundle) Batch(records []dataset.Record, summary *dataset.Summary) report.Batch {
	batch := report.Batch{
		Records:  records,
		Summary:  summary,
		Stacking: b.Evaluation.Stacking.Result(),
		Folds:    b.Folds,
	}
	for _, ev := range b.Evaluation.Bases {
		batch.Bases = append(batch.Bases, ev.Result())
	}
	return batch
}

func (b *Bundle) features(records []dataset.Record) (mat.Matrix, error) {
	raw, err := b.Encoder.Transform(records)
	if err != nil {
		return nil, err
	}
	return b.Scaler.Transform(raw)
}

func evaluate(name string, clf model.Classifier, X mat.Matrix, yTrue *mat.VecDense) (ModelEvaluation, error) {
	ev := ModelEvaluation{Name: name}
	pred, err := clf.Predict(X)
	if err != nil {
		return ev, errors.Wrapf(err, "predict %s", name)
	}
	yPred := metrics.AsVector(pred)

	labels := []int{dataset.BelowMedian, dataset.AboveMedian}
	if ev.Accuracy, err = metrics.Accuracy(yTrue, yPred); err != nil {
		return ev, err
	}
	if ev.Report, err = metrics.ClassificationReport(yTrue, yPred, labels, dataset.TargetNames); err != nil {
		return ev, err
	}
	cm, err := metrics.ConfusionMatrix(yTrue, yPred, labels)
	if err != nil {
		return ev, err
	}
	ev.Confusion = make([][]int, len(labels))
	for i := range labels {
		ev.Confusion[i] = make([]int, len(labels))
		for j := range labels {
			ev.Confusion[i][j] = int(cm.At(i, j))
		}
	}

	proba, err := clf.PredictProba(X)
	if err != nil {
		return ev, errors.Wrapf(err, "predict probabilities %s", name)
	}
	p1, ok := positiveColumn(proba, clf.Classes())
	if ok {
		if ev.AUC, err = metrics.AUC(yTrue, p1); err != nil {
			return ev, err
		}
		if ev.LogLoss, err = metrics.BinaryLogLoss(yTrue, p1); err != nil {
			return ev, err
		}
	}
	return ev, nil
}

// positiveColumn returns p(AboveMedian) per row.
func positiveColumn(proba mat.Matrix, classes []int) (*mat.VecDense, bool) {
	for j, c := range classes {
		if c != dataset.AboveMedian {
			continue
		}
		n, _ := proba.Dims()
		out := mat.NewVecDense(n, nil)
		for i := 0; i < n; i++ {
			out.SetVec(i, proba.At(i, j))
		}
		return out, true
	}
	return nil, false
}

func compare(ev Evaluation) (*report.Comparison, error) {
	bases := make([]report.ModelScore, len(ev.Bases))
	for i, b := range ev.Bases {
		bases[i] = b.Result().Score()
	}
	return report.Compare(bases, ev.Stacking.Result().Score())
}
