// Package storage keeps trained bundles and their run summaries in a BoltDB
// file.
package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"

	"github.com/YuminosukeSato/housestack/pipeline"
	"github.com/YuminosukeSato/housestack/pkg/errors"
	"github.com/YuminosukeSato/housestack/pkg/log"
)

const (
	bundlesBucket = "bundles" // run id -> gob bundle
	runsBucket    = "runs"    // run id -> JSON summary
	orderBucket   = "order"   // big-endian sequence -> run id
)

// ErrNotFound is returned for an unknown run id or an empty store.
var ErrNotFound = errors.New("run not found")

// Store is a BoltDB-backed run store. It is safe for concurrent use.
type Store struct {
	db     *bbolt.DB
	logger log.Logger
}

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open run store %s", path)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bundlesBucket, runsBucket, orderBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return errors.Wrapf(err, "create %s bucket", name)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, logger: log.GetLoggerWithName("storage")}, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save stores b under its run id. Saving an existing run id replaces it
// without changing its position in the run order.
func (s *Store) Save(b *pipeline.Bundle) error {
	if b == nil || b.RunID == "" {
		return errors.NewValueError("storage.Save", "bundle has no run id")
	}
	var buf bytes.Buffer
	if err := pipeline.WriteBundle(&buf, b); err != nil {
		return err
	}
	summary, err := json.Marshal(b.Summary())
	if err != nil {
		return errors.Wrap(err, "marshal run summary")
	}

	key := []byte(b.RunID)
	err = s.db.Update(func(tx *bbolt.Tx) error {
		bundles := tx.Bucket([]byte(bundlesBucket))
		existed := bundles.Get(key) != nil
		if err := bundles.Put(key, buf.Bytes()); err != nil {
			return err
		}
		if err := tx.Bucket([]byte(runsBucket)).Put(key, summary); err != nil {
			return err
		}
		if existed {
			return nil
		}
		order := tx.Bucket([]byte(orderBucket))
		seq, err := order.NextSequence()
		if err != nil {
			return err
		}
		return order.Put(itob(seq), key)
	})
	if err != nil {
		return errors.Wrapf(err, "save run %s", b.RunID)
	}
	s.logger.Info("Run saved", log.RunIDKey, b.RunID, "bytes", buf.Len())
	return nil
}

// Load returns the bundle of runID.
func (s *Store) Load(runID string) (*pipeline.Bundle, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(bundlesBucket)).Get([]byte(runID))
		if v == nil {
			return errors.Wrapf(ErrNotFound, "run %s", runID)
		}
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pipeline.ReadBundle(bytes.NewReader(data))
}

// Latest returns the most recently saved bundle.
func (s *Store) Latest() (*pipeline.Bundle, error) {
	var runID string
	err := s.db.View(func(tx *bbolt.Tx) error {
		_, v := tx.Bucket([]byte(orderBucket)).Cursor().Last()
		if v == nil {
			return errors.WithStack(ErrNotFound)
		}
		runID = string(v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Load(runID)
}

// Runs returns every run summary, newest first.
func (s *Store) Runs() ([]pipeline.Summary, error) {
	var out []pipeline.Summary
	err := s.db.View(func(tx *bbolt.Tx) error {
		runs := tx.Bucket([]byte(runsBucket))
		c := tx.Bucket([]byte(orderBucket)).Cursor()
		for k, id := c.Last(); k != nil; k, id = c.Prev() {
			var summary pipeline.Summary
			if err := json.Unmarshal(runs.Get(id), &summary); err != nil {
				return errors.Wrapf(err, "decode summary of run %s", id)
			}
			out = append(out, summary)
		}
		return nil
	})
	return out, err
}

// Delete removes runID. Deleting an unknown run is ErrNotFound.
func (s *Store) Delete(runID string) error {
	key := []byte(runID)
	return s.db.Update(func(tx *bbolt.Tx) error {
		bundles := tx.Bucket([]byte(bundlesBucket))
		if bundles.Get(key) == nil {
			return errors.Wrapf(ErrNotFound, "run %s", runID)
		}
		if err := bundles.Delete(key); err != nil {
			return err
		}
		if err := tx.Bucket([]byte(runsBucket)).Delete(key); err != nil {
			return err
		}
		order := tx.Bucket([]byte(orderBucket))
		c := order.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if bytes.Equal(v, key) {
				return c.Delete()
			}
		}
		return nil
	})
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
