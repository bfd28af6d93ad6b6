package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/housestack/config"
	"github.com/YuminosukeSato/housestack/dataset"
	"github.com/YuminosukeSato/housestack/pipeline"
	"github.com/YuminosukeSato/housestack/pkg/errors"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func train(t *testing.T, seed uint64) *pipeline.Bundle {
	t.Helper()
	b, err := pipeline.Train(dataset.Synthetic(20, seed), config.Default())
	require.NoError(t, err)
	return b
}

func TestStore_SaveLoadLatest(t *testing.T) {
	s := openStore(t)

	_, err := s.Latest()
	assert.True(t, errors.Is(err, ErrNotFound))

	first, second := train(t, 1), train(t, 2)
	require.NoError(t, s.Save(first))
	require.NoError(t, s.Save(second))

	latest, err := s.Latest()
	require.NoError(t, err)
	assert.Equal(t, second.RunID, latest.RunID)

	loaded, err := s.Load(first.RunID)
	require.NoError(t, err)
	assert.Equal(t, first.Summary(), loaded.Summary())

	records := dataset.Synthetic(5, 99)
	for _, r := range records {
		want, err := first.PredictRecord(r)
		require.NoError(t, err)
		got, err := loaded.PredictRecord(r)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// re-saving keeps the original position
	require.NoError(t, s.Save(first))
	latest, err = s.Latest()
	require.NoError(t, err)
	assert.Equal(t, second.RunID, latest.RunID)

	_, err = s.Load("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_RunsAndDelete(t *testing.T) {
	s := openStore(t)
	a, b := train(t, 3), train(t, 4)
	require.NoError(t, s.Save(a))
	require.NoError(t, s.Save(b))

	runs, err := s.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, b.RunID, runs[0].RunID)
	assert.Equal(t, a.RunID, runs[1].RunID)
	assert.Equal(t, a.MedianPrice, runs[1].MedianPrice)
	assert.Equal(t, 16, runs[1].TrainSize)

	require.NoError(t, s.Delete(b.RunID))
	latest, err := s.Latest()
	require.NoError(t, err)
	assert.Equal(t, a.RunID, latest.RunID)
	assert.True(t, errors.Is(s.Delete(b.RunID), ErrNotFound))
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path)
	require.NoError(t, err)
	b := train(t, 5)
	require.NoError(t, s.Save(b))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	latest, err := s.Latest()
	require.NoError(t, err)
	assert.Equal(t, b.RunID, latest.RunID)
}

func TestStore_SaveRejectsMissingRunID(t *testing.T) {
	s := openStore(t)
	assert.Error(t, s.Save(&pipeline.Bundle{}))
	assert.Error(t, s.Save(nil))
}
