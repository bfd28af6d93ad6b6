package log

// Model and operation context.
const (
	// ModelNameKey identifies the estimator type, e.g. "LogisticRegression".
	ModelNameKey = "model.name"

	// OperationKey is the ML operation: fit, predict, transform, score.
	OperationKey = "ml.operation"

	// ComponentKey is the package or subsystem emitting the record.
	ComponentKey = "ml.component"

	// PhaseKey is the lifecycle phase: training, validation, inference.
	PhaseKey = "ml.phase"

	// RunIDKey identifies one training run.
	RunIDKey = "run.id"
)

// Data shape.
const (
	SamplesKey  = "data.samples"
	FeaturesKey = "data.features"
	ClassesKey  = "data.classes"
	FoldKey     = "cv.fold"
	NSplitsKey  = "cv.n_splits"
)

// Performance and results.
const (
	DurationMsKey  = "perf.duration_ms"
	AccuracyKey    = "metrics.accuracy"
	LossKey        = "metrics.loss"
	IterationKey   = "training.iteration"
	ConfidenceKey  = "preds.confidence"
	ThresholdKey   = "preds.threshold"
	PredsKey       = "preds.count"
	RandomSeedKey  = "config.random_seed"
	StacktraceKey  = "error.stacktrace"
	ErrorTypeKey   = "error.type"
	SuggestionKey  = "error.suggestion"
	HyperParamsKey = "model.hyperparams"
)

// Standard values.
const (
	OperationFit          = "fit"
	OperationPredict      = "predict"
	OperationTransform    = "transform"
	OperationFitTransform = "fit_transform"
	OperationScore        = "score"

	PhaseTraining   = "training"
	PhaseValidation = "validation"
	PhaseTesting    = "testing"
	PhaseInference  = "inference"
)
