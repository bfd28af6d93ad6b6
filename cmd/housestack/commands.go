package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/YuminosukeSato/housestack/client"
	"github.com/YuminosukeSato/housestack/config"
	"github.com/YuminosukeSato/housestack/dataset"
	"github.com/YuminosukeSato/housestack/pipeline"
	"github.com/YuminosukeSato/housestack/pkg/errors"
	"github.com/YuminosukeSato/housestack/report"
	"github.com/YuminosukeSato/housestack/server"
	"github.com/YuminosukeSato/housestack/storage"
)

// dataFlags registers the flags selecting training data.
func dataFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.Data.Path, "data", cfg.Data.Path, "house sales CSV")
	fs.IntVar(&cfg.Data.SyntheticRows, "synthetic", cfg.Data.SyntheticRows, "train on N generated records instead of the CSV")
	fs.StringVar(&cfg.Storage.Path, "store", cfg.Storage.Path, "run store file; empty disables it")
}

func loadRecords(cfg config.Config) ([]dataset.Record, *dataset.Summary, error) {
	if cfg.Data.SyntheticRows > 0 {
		records := dataset.Synthetic(cfg.Data.SyntheticRows, cfg.Split.RandomSeed)
		return records, &dataset.Summary{Columns: dataset.RequiredColumns, Rows: len(records), Invalid: map[string]int{}}, nil
	}
	return dataset.LoadCSV(cfg.Data.Path)
}

func withStore(cfg config.Config, fn func(*storage.Store) error) error {
	if cfg.Storage.Path == "" {
		return fn(nil)
	}
	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func runTrain(_ context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	dataFlags(fs, &cfg)
	out := fs.String("out", "", "also write the bundle to this file")
	quiet := fs.Bool("quiet", false, "skip the console report")
	fs.Parse(args)
	if err := cfg.Validate(); err != nil {
		return err
	}

	records, summary, err := loadRecords(cfg)
	if err != nil {
		return err
	}
	b, err := pipeline.Train(records, cfg)
	if err != nil {
		return err
	}
	if !*quiet {
		if err := report.NewConsole(os.Stdout).Render(b.Batch(records, summary)); err != nil {
			return err
		}
	}
	if *out != "" {
		if err := pipeline.SaveBundle(b, *out); err != nil {
			return err
		}
	}
	return withStore(cfg, func(s *storage.Store) error {
		if s == nil {
			return nil
		}
		return s.Save(b)
	})
}

func runServe(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	dataFlags(fs, &cfg)
	fs.StringVar(&cfg.Server.Addr, "addr", cfg.Server.Addr, "listen address")
	bundlePath := fs.String("bundle", "", "serve this bundle file instead of the latest stored run")
	fs.Parse(args)
	if err := cfg.Validate(); err != nil {
		return err
	}

	return withStore(cfg, func(store *storage.Store) error {
		b, err := initialBundle(cfg, store, *bundlePath)
		if err != nil {
			return err
		}
		opts := []server.Option{server.WithTrainer(func(context.Context) (*pipeline.Bundle, error) {
			records, _, err := loadRecords(cfg)
			if err != nil {
				return nil, err
			}
			return pipeline.Train(records, cfg)
		})}
		if store != nil {
			opts = append(opts, server.WithSaver(store))
		}
		srv, err := server.New(b, opts...)
		if err != nil {
			return err
		}
		return srv.ListenAndServe(ctx, cfg.Server.Addr, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)
	})
}

// initialBundle loads the bundle file, else the latest stored run, else
// trains a fresh one.
func initialBundle(cfg config.Config, store *storage.Store, path string) (*pipeline.Bundle, error) {
	if path != "" {
		return pipeline.LoadBundle(path)
	}
	if store != nil {
		b, err := store.Latest()
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}
	records, _, err := loadRecords(cfg)
	if err != nil {
		return nil, err
	}
	b, err := pipeline.Train(records, cfg)
	if err != nil {
		return nil, err
	}
	if store != nil {
		if err := store.Save(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func runPredict(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("predict", flag.ExitOnError)
	fs.StringVar(&cfg.Storage.Path, "store", cfg.Storage.Path, "run store file")
	bundlePath := fs.String("bundle", "", "bundle file; defaults to the latest stored run")
	remote := fs.String("remote", "", "dashboard base URL; predicts remotely when set")
	input := fs.String("input", "-", "JSON object of house attributes; - reads stdin")
	csvPath := fs.String("csv", "", "score every row of this house sales CSV instead of -input")
	chunk := fs.Int("chunk", pipeline.DefaultChunkSize, "rows scored together in -csv mode")
	fs.Parse(args)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if *csvPath != "" {
		if *remote != "" {
			return errors.New("-csv scores locally; drop -remote")
		}
		records, _, err := dataset.LoadCSV(*csvPath)
		if err != nil {
			return err
		}
		b, err := localBundle(cfg, *bundlePath)
		if err != nil {
			return err
		}
		preds, err := b.PredictRecords(records, *chunk, cfg.Models.NJobs)
		if err != nil {
			return err
		}
		type scored struct {
			ID string `json:"id"`
			pipeline.Prediction
		}
		out := make([]scored, len(preds))
		for i, p := range preds {
			out[i] = scored{ID: records[i].ID, Prediction: p}
		}
		return enc.Encode(out)
	}

	raw, err := readAttributes(*input)
	if err != nil {
		return err
	}

	var pred *pipeline.Prediction
	if *remote != "" {
		c := client.New(*remote, client.WithTimeout(30*time.Second), client.WithRetries(2, time.Second))
		pred, err = c.Predict(ctx, raw)
	} else {
		var b *pipeline.Bundle
		if b, err = localBundle(cfg, *bundlePath); err != nil {
			return err
		}
		pred, err = b.Predict(raw)
	}
	if err != nil {
		return err
	}
	return enc.Encode(pred)
}

// localBundle reads the bundle file at path, or the latest stored run when
// path is empty.
func localBundle(cfg config.Config, path string) (*pipeline.Bundle, error) {
	if path != "" {
		return pipeline.LoadBundle(path)
	}
	var b *pipeline.Bundle
	err := withStore(cfg, func(s *storage.Store) error {
		if s == nil {
			return errors.New("no bundle: pass -bundle or configure a store")
		}
		var err error
		b, err = s.Latest()
		return err
	})
	return b, err
}

func readAttributes(path string) (map[string]float64, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "open %s", path)
		}
		defer f.Close()
		r = f
	}
	return pipeline.DecodeAttributes(r)
}

func runRuns(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	fs.StringVar(&cfg.Storage.Path, "store", cfg.Storage.Path, "run store file")
	fs.Parse(args)
	if cfg.Storage.Path == "" {
		return errors.New("no run store configured")
	}

	return withStore(cfg, func(s *storage.Store) error {
		runs, err := s.Runs()
		if err != nil {
			return err
		}
		t := tablewriter.NewWriter(os.Stdout)
		t.SetHeader([]string{"run", "created", "median price", "train", "test", "accuracy"})
		t.SetAutoFormatHeaders(false)
		for _, r := range runs {
			t.Append([]string{
				r.RunID,
				r.CreatedAt.Format(time.RFC3339),
				strconv.FormatFloat(r.MedianPrice, 'f', 0, 64),
				strconv.Itoa(r.TrainSize),
				strconv.Itoa(r.TestSize),
				strconv.FormatFloat(r.Evaluation.Stacking.Accuracy, 'f', 4, 64),
			})
		}
		t.Render()
		return nil
	})
}
