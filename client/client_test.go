package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/housestack/config"
	"github.com/YuminosukeSato/housestack/dataset"
	"github.com/YuminosukeSato/housestack/pipeline"
	"github.com/YuminosukeSato/housestack/pkg/errors"
	"github.com/YuminosukeSato/housestack/server"
)

func TestClient_AgainstServer(t *testing.T) {
	records := dataset.Synthetic(20, 6)
	b, err := pipeline.Train(records, config.Default())
	require.NoError(t, err)
	srv, err := server.New(b)
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx := context.Background()
	c := New(ts.URL, WithTimeout(5*time.Second))

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.RunID, health.RunID)

	pred, err := c.Predict(ctx, records[3].Attributes())
	require.NoError(t, err)
	want, err := b.PredictRecord(records[3])
	require.NoError(t, err)
	assert.Equal(t, want.Category, pred.Category)

	perf, err := c.Performance(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.MedianPrice, perf.MedianPrice)
	assert.Equal(t, b.TestSize, perf.TestSize)

	_, err = c.Predict(ctx, map[string]float64{dataset.ColBedrooms: 3})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Contains(t, apiErr.Message, dataset.ColGrade)

	_, err = c.Retrain(ctx)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotImplemented, apiErr.Status)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","run_id":"r1"}`))
	}))
	defer ts.Close()

	c := New(ts.URL, WithRetries(3, time.Millisecond))
	health, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "r1", health.RunID)
	assert.Equal(t, int32(3), calls.Load())
}
