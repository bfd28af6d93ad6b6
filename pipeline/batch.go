package pipeline

import (
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/housestack/core/parallel"
	"github.com/YuminosukeSato/housestack/dataset"
	"github.com/YuminosukeSato/housestack/pkg/errors"
	"github.com/YuminosukeSato/housestack/pkg/log"
)

// DefaultChunkSize is the number of records encoded and scored together by
// PredictRecords.
const DefaultChunkSize = 512

// PredictRecords classifies records in chunks of chunkSize rows, scoring up to
// workers chunks at once (workers <= 0 uses every CPU). Results are in input
// order and do not depend on chunkSize or workers. The first failing chunk's
// error is returned.
func (b *Bundle) PredictRecords(records []dataset.Record, chunkSize, workers int) ([]Prediction, error) {
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	start := time.Now()
	out := make([]Prediction, len(records))
	nChunks := (len(records) + chunkSize - 1) / chunkSize
	classes := b.Stacking.Classes()

	err := parallel.ForEach(nChunks, workers, func(c int) error {
		lo := c * chunkSize
		hi := min(lo+chunkSize, len(records))
		X, err := b.features(records[lo:hi])
		if err != nil {
			return errors.Wrapf(err, "chunk %d", c)
		}
		proba, err := b.Stacking.PredictProba(X)
		if err != nil {
			return errors.Wrapf(err, "chunk %d", c)
		}
		for i := lo; i < hi; i++ {
			out[i] = *newPrediction(classes, mat.Row(nil, i-lo, proba))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.GetLoggerWithName("pipeline").Debug("Batch scored",
		log.PredsKey, len(records),
		"batch.chunks", nChunks,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return out, nil
}
