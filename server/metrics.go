package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the dashboard's Prometheus instruments.
type Metrics struct {
	Predictions       prometheus.Counter
	PredictionErrors  prometheus.Counter
	PredictionLatency prometheus.Histogram
	Categories        *prometheus.CounterVec
	Retrains          *prometheus.CounterVec
	ModelAccuracy     prometheus.Gauge
	TrainingSamples   prometheus.Gauge
}

// NewMetrics registers the instruments with registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		Predictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "housestack_predictions_total",
			Help: "Total number of single-house predictions served",
		}),
		PredictionErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "housestack_prediction_errors_total",
			Help: "Total number of rejected prediction requests",
		}),
		PredictionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "housestack_prediction_latency_seconds",
			Help:    "Prediction latency in seconds",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		Categories: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "housestack_predicted_category_total",
			Help: "Predictions per category",
		}, []string{"category"}),
		Retrains: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "housestack_retrains_total",
			Help: "Retrain requests by outcome",
		}, []string{"outcome"}),
		ModelAccuracy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "housestack_model_accuracy",
			Help: "Held-out accuracy of the serving ensemble",
		}),
		TrainingSamples: factory.NewGauge(prometheus.GaugeOpts{
			Name: "housestack_training_samples",
			Help: "Training split size of the serving ensemble",
		}),
	}
}
