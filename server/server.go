// Package server exposes a trained bundle over HTTP: single-house prediction,
// model performance, charts, retraining and Prometheus metrics.
package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/YuminosukeSato/housestack/pipeline"
	"github.com/YuminosukeSato/housestack/pkg/errors"
	"github.com/YuminosukeSato/housestack/pkg/log"
)

// Trainer produces a new bundle for POST /api/retrain.
type Trainer func(ctx context.Context) (*pipeline.Bundle, error)

// Saver persists retrained bundles.
type Saver interface {
	Save(b *pipeline.Bundle) error
}

// Server serves one bundle at a time. Requests read the current bundle
// without locking; a retrain swaps it atomically on success.
type Server struct {
	bundle    atomic.Pointer[pipeline.Bundle]
	retrainMu sync.Mutex

	trainer  Trainer
	saver    Saver
	registry *prometheus.Registry
	metrics  *Metrics
	logger   log.Logger
	mux      *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithTrainer enables POST /api/retrain.
func WithTrainer(t Trainer) Option {
	return func(s *Server) { s.trainer = t }
}

// WithSaver stores every successfully retrained bundle.
func WithSaver(saver Saver) Option {
	return func(s *Server) { s.saver = saver }
}

// WithRegistry replaces the private Prometheus registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// New returns a Server serving b.
func New(b *pipeline.Bundle, opts ...Option) (*Server, error) {
	if b == nil {
		return nil, errors.NewValueError("server.New", "nil bundle")
	}
	s := &Server{logger: log.GetLoggerWithName("server")}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics = NewMetrics(s.registry)
	s.setBundle(b)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/predict", s.handlePredict)
	mux.HandleFunc("GET /api/predict/chart.png", s.handlePredictChart)
	mux.HandleFunc("GET /api/performance", s.handlePerformance)
	mux.HandleFunc("GET /api/performance/confusion.png", s.handleConfusionChart)
	mux.HandleFunc("GET /api/about", s.handleAbout)
	mux.HandleFunc("POST /api/retrain", s.handleRetrain)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.mux = mux
	return s, nil
}

// Bundle returns the bundle currently served.
func (s *Server) Bundle() *pipeline.Bundle {
	return s.bundle.Load()
}

func (s *Server) setBundle(b *pipeline.Bundle) {
	s.bundle.Store(b)
	s.metrics.ModelAccuracy.Set(b.Evaluation.Stacking.Accuracy)
	s.metrics.TrainingSamples.Set(float64(b.TrainSize))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)
	s.logger.Debug("Request served",
		"http.method", r.Method,
		"http.path", r.URL.Path,
		"http.status", rec.status,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Dashboard listening", "http.addr", addr, log.RunIDKey, s.Bundle().RunID)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return errors.Wrap(err, "serve")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
