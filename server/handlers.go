package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/housestack/charts"
	"github.com/YuminosukeSato/housestack/dataset"
	"github.com/YuminosukeSato/housestack/pipeline"
	"github.com/YuminosukeSato/housestack/pkg/errors"
	"github.com/YuminosukeSato/housestack/pkg/log"
)

// maxBodyBytes bounds prediction request bodies.
const maxBodyBytes = 1 << 16

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// PerformanceResponse describes the serving ensemble and its held-out scores.
type PerformanceResponse struct {
	pipeline.Summary
	Accuracy float64 `json:"accuracy"`
}

// AboutResponse is the static description of the model.
type AboutResponse struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	BaseModels  []string `json:"base_models"`
	MetaModel   string   `json:"meta_model"`
	CVFolds     int      `json:"cv_folds"`
	Categories  []string `json:"categories"`
	MedianPrice float64  `json:"median_price"`
	Features    []string `json:"features"`
}

// HealthResponse reports liveness and the serving run.
type HealthResponse struct {
	Status string `json:"status"`
	RunID  string `json:"run_id"`
}

// RetrainResponse reports a finished retrain.
type RetrainResponse struct {
	RunID    string  `json:"run_id"`
	Accuracy float64 `json:"accuracy"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	raw, err := pipeline.DecodeAttributes(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.predictFailed(w, err)
		return
	}
	var pred *pipeline.Prediction
	err = errors.SafeExecute("server.predict", func() error {
		var perr error
		pred, perr = s.predict(raw)
		return perr
	})
	if err != nil {
		s.predictFailed(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

func (s *Server) handlePredictChart(w http.ResponseWriter, r *http.Request) {
	raw := make(map[string]float64, len(dataset.AttributeColumns))
	query := r.URL.Query()
	for _, col := range dataset.AttributeColumns {
		v := query.Get(col)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			s.predictFailed(w, errors.NewValidationError(col, "not a number", v))
			return
		}
		raw[col] = f
	}
	pred, err := s.predict(raw)
	if err != nil {
		s.predictFailed(w, err)
		return
	}
	names, probs := pred.Ordered()
	var buf bytes.Buffer
	if err := charts.ProbabilityBars(&buf, "Prediction: "+pred.Category, names, probs); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writePNG(w, buf.Bytes())
}

func (s *Server) predict(raw map[string]float64) (*pipeline.Prediction, error) {
	start := time.Now()
	pred, err := s.Bundle().Predict(raw)
	if err != nil {
		return nil, err
	}
	s.metrics.Predictions.Inc()
	s.metrics.Categories.WithLabelValues(pred.Category).Inc()
	s.metrics.PredictionLatency.Observe(time.Since(start).Seconds())
	return pred, nil
}

func (s *Server) predictFailed(w http.ResponseWriter, err error) {
	s.metrics.PredictionErrors.Inc()
	s.logger.Warn("Prediction rejected", err, log.PhaseKey, log.PhaseInference)
	writeError(w, http.StatusBadRequest, err)
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	b := s.Bundle()
	writeJSON(w, http.StatusOK, PerformanceResponse{
		Summary:  b.Summary(),
		Accuracy: b.Evaluation.Stacking.Accuracy,
	})
}

func (s *Server) handleConfusionChart(w http.ResponseWriter, r *http.Request) {
	cm := s.Bundle().Evaluation.Stacking.Confusion
	k := len(cm)
	if k == 0 {
		writeError(w, http.StatusNotFound, errors.New("no confusion matrix"))
		return
	}
	dense := mat.NewDense(k, k, nil)
	for i, row := range cm {
		for j, v := range row {
			dense.Set(i, j, float64(v))
		}
	}
	var buf bytes.Buffer
	if err := charts.ConfusionHeatmap(&buf, "Stacking Ensemble Confusion Matrix", dense, dataset.TargetNames[:k]); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writePNG(w, buf.Bytes())
}

func (s *Server) handleAbout(w http.ResponseWriter, r *http.Request) {
	b := s.Bundle()
	about := AboutResponse{
		Name: "King County house price stacking classifier",
		Description: "Predicts whether a house sells above or below the median training price. " +
			"Three base models are combined by a logistic regression meta-model trained on their " +
			"out-of-fold probabilities.",
		MetaModel:   pipeline.NameLogistic,
		CVFolds:     b.Folds,
		Categories:  dataset.TargetNames,
		MedianPrice: b.MedianPrice,
		Features:    b.Schema(),
	}
	for _, ne := range b.Stacking.Estimators() {
		about.BaseModels = append(about.BaseModels, ne.Name)
	}
	writeJSON(w, http.StatusOK, about)
}

func (s *Server) handleRetrain(w http.ResponseWriter, r *http.Request) {
	if s.trainer == nil {
		writeError(w, http.StatusNotImplemented, errors.New("retraining is not configured"))
		return
	}
	if !s.retrainMu.TryLock() {
		s.metrics.Retrains.WithLabelValues("conflict").Inc()
		writeError(w, http.StatusConflict, errors.New("a retrain is already running"))
		return
	}
	defer s.retrainMu.Unlock()

	b, err := s.trainer(r.Context())
	if err == nil && s.saver != nil {
		err = s.saver.Save(b)
	}
	if err != nil {
		s.metrics.Retrains.WithLabelValues("failed").Inc()
		s.logger.Error("Retrain failed", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.setBundle(b)
	s.metrics.Retrains.WithLabelValues("ok").Inc()
	s.logger.Info("Bundle swapped", log.RunIDKey, b.RunID, log.AccuracyKey, b.Evaluation.Stacking.Accuracy)
	writeJSON(w, http.StatusOK, RetrainResponse{RunID: b.RunID, Accuracy: b.Evaluation.Stacking.Accuracy})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", RunID: s.Bundle().RunID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
