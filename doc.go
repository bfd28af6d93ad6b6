// Package housestack classifies King County house sales as above or below the
// median training price with a stacking ensemble.
//
// Three base classifiers (logistic regression, a decision tree and k-nearest
// neighbours) are trained on one-hot encoded, standardised house attributes.
// A logistic regression meta-model learns from their out-of-fold class
// probabilities, so no base model ever scores a row it was fitted on.
//
// # Quick Start
//
//	records, _, err := dataset.LoadCSV("kc_house_data.csv")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	bundle, err := pipeline.Train(records, config.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	pred, err := bundle.PredictRecord(records[0])
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(pred.Category, pred.Confidence)
//
// # Packages
//
//   - dataset: CSV loading, synthetic records and median labelling
//   - preprocessing: one-hot encoding, label encoding and standard scaling
//   - sklearn/linear_model, sklearn/tree, sklearn/neighbors: base classifiers
//   - sklearn/model_selection: stratified splits and k-fold cross-validation
//   - sklearn/ensemble: the stacking classifier
//   - metrics, report: evaluation, model ranking and the console report
//   - pipeline: training, bundles, single and batch prediction
//   - storage: bbolt-backed run history
//   - server, client, charts: the dashboard HTTP API, its client and PNG charts
//   - config: YAML, .env and environment configuration
//   - cmd/housestack: the command line entry point
//
// # Errors
//
// Failures are typed errors from pkg/errors (MissingColumnError,
// DimensionError, NotFittedError, DegenerateFoldError and friends) wrapped
// with stack traces; use errors.As to inspect them. Warnings such as unseen
// categorical levels are reported through pkg/log.
package housestack
