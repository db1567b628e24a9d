// Package config loads pipeline configuration from a YAML file and
// environment variables.
//
// Sources (priority order, high to low):
//  1. Environment variables (FLOWSENTRY_* prefix)
//  2. YAML config file (optional)
//  3. Built-in defaults
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config contains all pipeline configuration fields.
type Config struct {
	// Store configuration
	Store struct {
		Path          string `mapstructure:"path"`
		FetchPageSize int    `mapstructure:"fetch_page_size"`
	} `mapstructure:"store"`

	// Artifacts configuration
	Artifacts struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"artifacts"`

	// Alerts configuration
	Alerts struct {
		IndexBase string `mapstructure:"index_base"`
	} `mapstructure:"alerts"`

	// Training configuration
	Training struct {
		WindowDays int `mapstructure:"window_days"`
		SampleCap  int `mapstructure:"sample_cap"`
	} `mapstructure:"training"`

	// Prediction configuration
	Prediction struct {
		WindowMinutes int `mapstructure:"window_minutes"`
		SampleCap     int `mapstructure:"sample_cap"`
	} `mapstructure:"prediction"`

	// Forest configuration
	Forest struct {
		NumTrees      int   `mapstructure:"num_trees"`
		SubSampleSize int   `mapstructure:"sub_sample_size"`
		Seed          int64 `mapstructure:"seed"`
		Workers       int   `mapstructure:"workers"`
	} `mapstructure:"forest"`

	// Logging configuration
	Logging struct {
		Level string `mapstructure:"level"`
		File  string `mapstructure:"file"`
	} `mapstructure:"logging"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.Store.Path = "flowsentry.db"
	cfg.Store.FetchPageSize = 1000
	cfg.Artifacts.Dir = "artifacts"
	cfg.Alerts.IndexBase = "flowsentry-ml-alerts"
	cfg.Training.WindowDays = 7
	cfg.Training.SampleCap = 100000
	cfg.Prediction.WindowMinutes = 15
	cfg.Prediction.SampleCap = 10000
	cfg.Forest.NumTrees = 100
	cfg.Forest.SubSampleSize = 256
	cfg.Forest.Seed = 42
	cfg.Forest.Workers = 0 // 0 means GOMAXPROCS
	cfg.Logging.Level = "info"
	cfg.Logging.File = ""
	return cfg
}

// Load reads configuration from the optional YAML file at path and from
// FLOWSENTRY_* environment variables, layered over the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix("FLOWSENTRY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			// A missing file falls back to defaults plus env vars.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can see it.
func setDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("store.path", defaults.Store.Path)
	v.SetDefault("store.fetch_page_size", defaults.Store.FetchPageSize)
	v.SetDefault("artifacts.dir", defaults.Artifacts.Dir)
	v.SetDefault("alerts.index_base", defaults.Alerts.IndexBase)
	v.SetDefault("training.window_days", defaults.Training.WindowDays)
	v.SetDefault("training.sample_cap", defaults.Training.SampleCap)
	v.SetDefault("prediction.window_minutes", defaults.Prediction.WindowMinutes)
	v.SetDefault("prediction.sample_cap", defaults.Prediction.SampleCap)
	v.SetDefault("forest.num_trees", defaults.Forest.NumTrees)
	v.SetDefault("forest.sub_sample_size", defaults.Forest.SubSampleSize)
	v.SetDefault("forest.seed", defaults.Forest.Seed)
	v.SetDefault("forest.workers", defaults.Forest.Workers)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.file", defaults.Logging.File)
}

// Validate checks configuration is correct and complete.
func (c *Config) Validate() error {
	var errs []string

	if c.Store.Path == "" {
		errs = append(errs, "store.path is required")
	}
	if c.Store.FetchPageSize < 1 {
		errs = append(errs, "store.fetch_page_size must be >= 1")
	}
	if c.Artifacts.Dir == "" {
		errs = append(errs, "artifacts.dir is required")
	}
	if c.Alerts.IndexBase == "" {
		errs = append(errs, "alerts.index_base is required")
	}
	if c.Training.WindowDays < 1 {
		errs = append(errs, "training.window_days must be >= 1")
	}
	if c.Training.SampleCap < 1 {
		errs = append(errs, "training.sample_cap must be >= 1")
	}
	if c.Prediction.WindowMinutes < 1 {
		errs = append(errs, "prediction.window_minutes must be >= 1")
	}
	if c.Prediction.SampleCap < 1 {
		errs = append(errs, "prediction.sample_cap must be >= 1")
	}
	if c.Forest.NumTrees < 1 {
		errs = append(errs, "forest.num_trees must be >= 1")
	}
	if c.Forest.SubSampleSize < 2 {
		errs = append(errs, "forest.sub_sample_size must be >= 2")
	}
	if c.Forest.Workers < 0 {
		errs = append(errs, "forest.workers must be >= 0")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
