// Package config loads training configuration from defaults, a YAML file and
// DEEPSERIES_* environment variables, in that order.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"
)

// Config is the complete configuration of a training run.
type Config struct {
	RootDir string     `yaml:"root_dir" env:"ROOT_DIR"`
	Seed    int64      `yaml:"seed" env:"SEED"`
	Data    DataConfig `yaml:"data" envPrefix:"DATA_"`
	Model   Model      `yaml:"model" envPrefix:"MODEL_"`
	Optim   Optim      `yaml:"optim" envPrefix:"OPTIM_"`
	Fit     Fit        `yaml:"fit" envPrefix:"FIT_"`
}

// DataConfig selects and windows the series.
type DataConfig struct {
	CSV           string  `yaml:"csv" env:"CSV"`
	Column        string  `yaml:"column" env:"COLUMN"`
	Synthetic     int     `yaml:"synthetic" env:"SYNTHETIC"` // length of the generated sine series when CSV is empty
	Period        float64 `yaml:"period" env:"PERIOD"`
	Noise         float64 `yaml:"noise" env:"NOISE"`
	ValidFraction float64 `yaml:"valid_fraction" env:"VALID_FRACTION"`
	BatchSize     int     `yaml:"batch_size" env:"BATCH_SIZE"`
	Standardize   bool    `yaml:"standardize" env:"STANDARDIZE"`
	Shuffle       bool    `yaml:"shuffle" env:"SHUFFLE"`
}

// Model sizes the forecaster.
type Model struct {
	Lookback int    `yaml:"lookback" env:"LOOKBACK"`
	Horizon  int    `yaml:"horizon" env:"HORIZON"`
	Loss     string `yaml:"loss" env:"LOSS"`
}

// Optim configures the optimizer and learning-rate schedule.
type Optim struct {
	Name        string  `yaml:"name" env:"NAME"`
	LR          float64 `yaml:"lr" env:"LR"`
	Momentum    float64 `yaml:"momentum" env:"MOMENTUM"`
	WeightDecay float64 `yaml:"weight_decay" env:"WEIGHT_DECAY"`
	Scheduler   string  `yaml:"scheduler" env:"SCHEDULER"`
	StepSize    int     `yaml:"step_size" env:"STEP_SIZE"`
	Gamma       float64 `yaml:"gamma" env:"GAMMA"`
}

// Fit configures the epoch loop.
type Fit struct {
	MaxEpochs     int     `yaml:"max_epochs" env:"MAX_EPOCHS"`
	EarlyStopping bool    `yaml:"early_stopping" env:"EARLY_STOPPING"`
	Patience      int     `yaml:"patience" env:"PATIENCE"`
	StartSave     int     `yaml:"start_save" env:"START_SAVE"`
	LogInterval   int     `yaml:"log_interval" env:"LOG_INTERVAL"`
	GradClip      float64 `yaml:"grad_clip" env:"GRAD_CLIP"`
	EMADecay      float64 `yaml:"ema_decay" env:"EMA_DECAY"` // 0 disables weight averaging
}

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "DEEPSERIES_"

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		RootDir: "runs",
		Seed:    1,
		Data: DataConfig{
			Column:        "value",
			Synthetic:     2000,
			Period:        24,
			Noise:         0.05,
			ValidFraction: 0.2,
			BatchSize:     32,
			Standardize:   true,
			Shuffle:       true,
		},
		Model: Model{
			Lookback: 48,
			Horizon:  12,
			Loss:     "mse",
		},
		Optim: Optim{
			Name:      "adam",
			LR:        0.001,
			Momentum:  0.9,
			Scheduler: "none",
			StepSize:  10,
			Gamma:     0.5,
		},
		Fit: Fit{
			MaxEpochs:     50,
			EarlyStopping: true,
			Patience:      10,
			StartSave:     -1,
			LogInterval:   4,
			GradClip:      5,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path when
// path is not empty, then environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, cfg)
}

// ParseEnv applies DEEPSERIES_* environment overrides to target.
func ParseEnv(target *Config) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.RootDir == "":
		return fmt.Errorf("root_dir is required")
	case c.Data.CSV == "" && c.Data.Synthetic <= 0:
		return fmt.Errorf("data.csv or data.synthetic is required")
	case c.Data.ValidFraction <= 0 || c.Data.ValidFraction >= 1:
		return fmt.Errorf("data.valid_fraction must be in (0, 1), got %v", c.Data.ValidFraction)
	case c.Data.BatchSize <= 0:
		return fmt.Errorf("data.batch_size must be > 0, got %d", c.Data.BatchSize)
	case c.Model.Lookback <= 0 || c.Model.Horizon <= 0:
		return fmt.Errorf("model.lookback and model.horizon must be > 0")
	case c.Optim.LR <= 0:
		return fmt.Errorf("optim.lr must be > 0, got %v", c.Optim.LR)
	case c.Fit.MaxEpochs <= 0:
		return fmt.Errorf("fit.max_epochs must be > 0, got %d", c.Fit.MaxEpochs)
	case c.Fit.EarlyStopping && c.Fit.Patience <= 0:
		return fmt.Errorf("fit.patience must be > 0 with early stopping, got %d", c.Fit.Patience)
	case c.Fit.LogInterval <= 0:
		return fmt.Errorf("fit.log_interval must be > 0, got %d", c.Fit.LogInterval)
	case c.Fit.EMADecay < 0 || c.Fit.EMADecay >= 1:
		return fmt.Errorf("fit.ema_decay must be in [0, 1), got %v", c.Fit.EMADecay)
	}
	return nil
}
