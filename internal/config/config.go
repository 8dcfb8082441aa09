package config

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config captures the knobs for a training run. The hyperparameters proper
// (model_name, lr, params) are exposed through HParams.
type Config struct {
	ModelName string         `yaml:"model_name"`
	LR        float64        `yaml:"lr"`
	Params    map[string]any `yaml:"params"`

	TrainData   string `yaml:"train_data"`
	ValData     string `yaml:"val_data"`
	TestData    string `yaml:"test_data"`
	LabelColumn string `yaml:"label_column"`
	KeyColumn   string `yaml:"key_column"`

	Epochs     int   `yaml:"epochs"`
	MaxSteps   int   `yaml:"max_steps"`
	BatchSize  int   `yaml:"batch_size"`
	NumWorkers int   `yaml:"num_workers"`
	Seed       int64 `yaml:"seed"`
	Shuffle    bool  `yaml:"shuffle"`
	Repeat     bool  `yaml:"repeat"`
	LogEvery   int   `yaml:"log_every"`
	Progress   bool  `yaml:"progress"`

	CheckpointDir  string `yaml:"checkpoint_dir"`
	MetricsAddr    string `yaml:"metrics_addr"`
	PredictionsDir string `yaml:"predictions_dir"`
	TestInfo       string `yaml:"test_info"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	ModelName      string
	LR             float64
	TrainData      string
	ValData        string
	TestData       string
	Epochs         int
	MaxSteps       int
	BatchSize      int
	NumWorkers     int
	Seed           int64
	LogEvery       int
	Progress       bool
	CheckpointDir  string
	MetricsAddr    string
	PredictionsDir string
	TestInfo       string
	LogLevel       string
	LogFormat      string
}

// Load reads and validates a Config from YAML.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read decodes the YAML file at path without validating it, so overrides
// can still fill in required keys.
func Read(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a Config without validating it. Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrapf(ErrInvalid, "parse config: %v", err)
	}
	return cfg, nil
}

// ApplyOverrides updates c using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.ModelName != "" {
		c.ModelName = o.ModelName
	}
	if o.LR > 0 {
		c.LR = o.LR
	}
	if o.TrainData != "" {
		c.TrainData = o.TrainData
	}
	if o.ValData != "" {
		c.ValData = o.ValData
	}
	if o.TestData != "" {
		c.TestData = o.TestData
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.MaxSteps > 0 {
		c.MaxSteps = o.MaxSteps
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.Progress {
		c.Progress = true
	}
	if o.CheckpointDir != "" {
		c.CheckpointDir = o.CheckpointDir
	}
	if o.MetricsAddr != "" {
		c.MetricsAddr = o.MetricsAddr
	}
	if o.PredictionsDir != "" {
		c.PredictionsDir = o.PredictionsDir
	}
	if o.TestInfo != "" {
		c.TestInfo = o.TestInfo
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if o.LogFormat != "" {
		c.LogFormat = o.LogFormat
	}
}

// HParams returns the hyperparameter record described by the config.
func (c *Config) HParams() (HParams, error) {
	if c == nil {
		return HParams{}, errors.Wrap(ErrInvalid, "config is nil")
	}
	m := make(map[string]any, len(c.Params)+2)
	for k, v := range c.Params {
		m[k] = v
	}
	if c.ModelName != "" {
		m[KeyModelName] = c.ModelName
	}
	if c.LR != 0 {
		m[KeyLR] = c.LR
	}
	return ParseHParams(m)
}

// Validate verifies the config is runnable and fills defaults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.Wrap(ErrInvalid, "config is nil")
	}
	if _, err := c.HParams(); err != nil {
		return err
	}
	if c.TrainData == "" {
		return errors.Wrap(ErrInvalid, "train_data must be set")
	}
	if c.Epochs <= 0 {
		return errors.Wrapf(ErrInvalid, "epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.MaxSteps < 0 {
		return errors.Wrapf(ErrInvalid, "max_steps must be >= 0 (got %d)", c.MaxSteps)
	}
	if c.BatchSize <= 0 {
		return errors.Wrapf(ErrInvalid, "batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.NumWorkers <= 0 {
		c.NumWorkers = 1
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 50
	}
	if c.LabelColumn == "" {
		c.LabelColumn = "label"
	}
	if c.Repeat {
		if IsCSV(c.TrainData) {
			return errors.Wrap(ErrInvalid, "repeat requires shard train_data")
		}
		if c.MaxSteps == 0 {
			return errors.Wrap(ErrInvalid, "repeat requires max_steps > 0")
		}
	}
	if c.PredictionsDir != "" && c.TestData == "" {
		return errors.Wrap(ErrInvalid, "predictions_dir requires test_data")
	}
	return nil
}

// IsCSV reports whether a data path names a CSV table rather than a shard root.
func IsCSV(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".csv")
}
