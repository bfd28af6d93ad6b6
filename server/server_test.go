package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/housestack/config"
	"github.com/YuminosukeSato/housestack/dataset"
	"github.com/YuminosukeSato/housestack/pipeline"
)

var (
	trainOnce sync.Once
	shared    *pipeline.Bundle
	records   []dataset.Record
)

func bundle(t *testing.T) *pipeline.Bundle {
	t.Helper()
	trainOnce.Do(func() {
		records = dataset.Synthetic(20, 4)
		b, err := pipeline.Train(records, config.Default())
		require.NoError(t, err)
		shared = b
	})
	require.NotNil(t, shared)
	return shared
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := New(bundle(t), opts...)
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, ts
}

func postJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestPredict(t *testing.T) {
	_, ts := newTestServer(t)
	b := bundle(t)

	resp := postJSON(t, ts.URL+"/api/predict", records[0].Attributes())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[pipeline.Prediction](t, resp)

	want, err := b.PredictRecord(records[0])
	require.NoError(t, err)
	assert.Equal(t, want.Label, got.Label)
	assert.Equal(t, want.Category, got.Category)
	assert.InDelta(t, want.Confidence, got.Confidence, 1e-12)
}

func TestPredict_BadRequests(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/predict", "application/json", bytes.NewReader([]byte("{bad")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, decode[ErrorResponse](t, resp).Error)

	raw := records[0].Attributes()
	delete(raw, dataset.ColGrade)
	resp = postJSON(t, ts.URL+"/api/predict", raw)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode[ErrorResponse](t, resp).Error, dataset.ColGrade)

	withNull := map[string]any{}
	for k, v := range records[0].Attributes() {
		withNull[k] = v
	}
	withNull[dataset.ColBedrooms] = nil
	resp = postJSON(t, ts.URL+"/api/predict", withNull)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode[ErrorResponse](t, resp).Error, dataset.ColBedrooms)

	resp = get(t, ts.URL+"/api/predict")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestPredict_IncompleteBundleRecovers(t *testing.T) {
	bundle(t)
	srv, err := New(&pipeline.Bundle{RunID: "broken"})
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	resp := postJSON(t, ts.URL+"/api/predict", records[0].Attributes())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode[ErrorResponse](t, resp).Error, "panic")

	resp = get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPredictChart(t *testing.T) {
	_, ts := newTestServer(t)

	q := url.Values{}
	for col, v := range records[1].Attributes() {
		q.Set(col, strconv.FormatFloat(v, 'f', -1, 64))
	}
	resp := get(t, ts.URL+"/api/predict/chart.png?"+q.Encode())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(body, []byte("\x89PNG")))

	q.Set(dataset.ColBedrooms, "three")
	resp = get(t, ts.URL+"/api/predict/chart.png?"+q.Encode())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPerformanceAndAbout(t *testing.T) {
	_, ts := newTestServer(t)
	b := bundle(t)

	perf := decode[PerformanceResponse](t, get(t, ts.URL+"/api/performance"))
	assert.Equal(t, b.RunID, perf.RunID)
	assert.Equal(t, 16, perf.TrainSize)
	assert.Equal(t, 4, perf.TestSize)
	assert.Equal(t, b.MedianPrice, perf.MedianPrice)
	assert.Equal(t, b.Evaluation.Stacking.Accuracy, perf.Accuracy)
	assert.Len(t, perf.Evaluation.Bases, 3)
	assert.Len(t, perf.Evaluation.Stacking.Confusion, 2)

	resp := get(t, ts.URL+"/api/performance/confusion.png")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	about := decode[AboutResponse](t, get(t, ts.URL+"/api/about"))
	assert.Equal(t, []string{pipeline.NameLogistic, pipeline.NameTree, pipeline.NameKNN}, about.BaseModels)
	assert.Equal(t, dataset.TargetNames, about.Categories)
	assert.Equal(t, b.Schema(), about.Features)

	health := decode[HealthResponse](t, get(t, ts.URL+"/health"))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, b.RunID, health.RunID)
}

type recordingSaver struct {
	mu    sync.Mutex
	saved []string
}

func (r *recordingSaver) Save(b *pipeline.Bundle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, b.RunID)
	return nil
}

func TestRetrain_SwapsBundle(t *testing.T) {
	next, err := pipeline.Train(dataset.Synthetic(20, 8), config.Default())
	require.NoError(t, err)
	saver := &recordingSaver{}
	srv, ts := newTestServer(t,
		WithTrainer(func(context.Context) (*pipeline.Bundle, error) { return next, nil }),
		WithSaver(saver),
	)

	resp := postJSON(t, ts.URL+"/api/retrain", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, next.RunID, decode[RetrainResponse](t, resp).RunID)
	assert.Same(t, next, srv.Bundle())
	assert.Equal(t, []string{next.RunID}, saver.saved)

	health := decode[HealthResponse](t, get(t, ts.URL+"/health"))
	assert.Equal(t, next.RunID, health.RunID)
}

func TestRetrain_Conflict(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	b := bundle(t)
	srv, ts := newTestServer(t, WithTrainer(func(context.Context) (*pipeline.Bundle, error) {
		close(started)
		<-release
		return b, nil
	}))

	done := make(chan int)
	go func() {
		resp, err := http.Post(ts.URL+"/api/retrain", "application/json", nil)
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()

	<-started
	resp := postJSON(t, ts.URL+"/api/retrain", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	close(release)
	assert.Equal(t, http.StatusOK, <-done)
	assert.Same(t, b, srv.Bundle())
}

func TestRetrain_NotConfigured(t *testing.T) {
	_, ts := newTestServer(t)
	resp := postJSON(t, ts.URL+"/api/retrain", nil)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestMetrics(t *testing.T) {
	_, ts := newTestServer(t)
	postJSON(t, ts.URL+"/api/predict", records[2].Attributes())
	postJSON(t, ts.URL+"/api/predict", map[string]float64{})

	body, err := io.ReadAll(get(t, ts.URL+"/metrics").Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "housestack_predictions_total 1")
	assert.Contains(t, text, "housestack_prediction_errors_total 1")
	assert.Contains(t, text, "housestack_model_accuracy")
	assert.Contains(t, text, "housestack_training_samples 16")
}

func TestNew_NilBundle(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}
