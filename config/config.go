// Package config loads housestack settings from a YAML file, a .env file and
// HOUSESTACK_* environment variables, in increasing order of precedence.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/housestack/pkg/errors"
)

// EnvConfigPath names the variable holding the YAML config path.
const EnvConfigPath = "HOUSESTACK_CONFIG"

const envPrefix = "HOUSESTACK_"

// Config is the full application configuration.
type Config struct {
	Data    DataConfig    `yaml:"data"`
	Split   SplitConfig   `yaml:"split"`
	Models  ModelConfig   `yaml:"models"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

// DataConfig selects the training data.
type DataConfig struct {
	// Path is the house sales CSV.
	Path string `yaml:"path"`
	// SyntheticRows, when positive, replaces the CSV with generated records.
	SyntheticRows int `yaml:"syntheticRows"`
}

// SplitConfig controls the train/test split.
type SplitConfig struct {
	TestSize   float64 `yaml:"testSize"`
	RandomSeed uint64  `yaml:"randomSeed"`
	Stratify   bool    `yaml:"stratify"`
}

// ModelConfig holds the ensemble hyperparameters.
type ModelConfig struct {
	LogisticMaxIter int `yaml:"logisticMaxIter"`
	TreeMaxDepth    int `yaml:"treeMaxDepth"`
	Neighbors       int `yaml:"neighbors"`
	CVFolds         int `yaml:"cvFolds"`
	// NJobs bounds fold-level parallelism; 0 uses every CPU.
	NJobs int `yaml:"nJobs"`
}

// ServerConfig configures the HTTP dashboard.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// StorageConfig locates the run store.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LogConfig configures the zerolog provider.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the settings the batch report was tuned with.
func Default() Config {
	return Config{
		Data: DataConfig{Path: "kc_house_data.csv"},
		Split: SplitConfig{
			TestSize:   0.2,
			RandomSeed: 42,
			Stratify:   true,
		},
		Models: ModelConfig{
			LogisticMaxIter: 1000,
			TreeMaxDepth:    10,
			Neighbors:       5,
			CVFolds:         5,
		},
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
		Storage: StorageConfig{Path: "housestack.db"},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads .env if present, then the YAML file named by HOUSESTACK_CONFIG
// if set, then applies HOUSESTACK_* overrides and validates the result.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, errors.Wrap(err, "load .env")
	}

	cfg := Default()
	if path := os.Getenv(EnvConfigPath); path != "" {
		if err := cfg.readFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrap(err, "configuration validation failed")
	}
	return cfg, nil
}

// LoadFile reads path on top of the defaults without consulting the
// environment.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if err := cfg.readFile(path); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrap(err, "configuration validation failed")
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config file %s", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrapf(err, "parse config file %s", path)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var firstErr error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil && firstErr == nil {
				firstErr = errors.NewValidationError(envPrefix+key, "not an integer", v)
			}
			if err == nil {
				*dst = n
			}
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil && firstErr == nil {
				firstErr = errors.NewValidationError(envPrefix+key, "not a number", v)
			}
			if err == nil {
				*dst = f
			}
		}
	}

	str("DATA_PATH", &c.Data.Path)
	num("SYNTHETIC_ROWS", &c.Data.SyntheticRows)
	float("TEST_SIZE", &c.Split.TestSize)
	if v, ok := lookup("RANDOM_SEED"); ok {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return errors.NewValidationError(envPrefix+"RANDOM_SEED", "not an unsigned integer", v)
		}
		c.Split.RandomSeed = seed
	}
	if v, ok := lookup("STRATIFY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.NewValidationError(envPrefix+"STRATIFY", "not a boolean", v)
		}
		c.Split.Stratify = b
	}
	num("LOGISTIC_MAX_ITER", &c.Models.LogisticMaxIter)
	num("TREE_MAX_DEPTH", &c.Models.TreeMaxDepth)
	num("NEIGHBORS", &c.Models.Neighbors)
	num("CV_FOLDS", &c.Models.CVFolds)
	num("N_JOBS", &c.Models.NJobs)
	str("ADDR", &c.Server.Addr)
	str("STORAGE_PATH", &c.Storage.Path)
	str("LOG_LEVEL", &c.Log.Level)
	return firstErr
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Data.SyntheticRows < 0:
		return errors.NewValidationError("data.syntheticRows", "must be non-negative", c.Data.SyntheticRows)
	case c.Data.SyntheticRows == 0 && c.Data.Path == "":
		return errors.NewValidationError("data.path", "required when syntheticRows is 0", c.Data.Path)
	case c.Split.TestSize <= 0 || c.Split.TestSize >= 1:
		return errors.NewValidationError("split.testSize", "must be in (0, 1)", c.Split.TestSize)
	case c.Models.LogisticMaxIter < 1:
		return errors.NewValidationError("models.logisticMaxIter", "must be at least 1", c.Models.LogisticMaxIter)
	case c.Models.TreeMaxDepth == 0 || c.Models.TreeMaxDepth < -1:
		return errors.NewValidationError("models.treeMaxDepth", "must be positive or -1 for unlimited", c.Models.TreeMaxDepth)
	case c.Models.Neighbors < 1:
		return errors.NewValidationError("models.neighbors", "must be at least 1", c.Models.Neighbors)
	case c.Models.CVFolds < 2:
		return errors.NewValidationError("models.cvFolds", "must be at least 2", c.Models.CVFolds)
	case c.Models.NJobs < 0:
		return errors.NewValidationError("models.nJobs", "must be non-negative", c.Models.NJobs)
	case c.Server.Addr == "":
		return errors.NewValidationError("server.addr", "must not be empty", c.Server.Addr)
	}
	return nil
}
