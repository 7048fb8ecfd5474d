// Package config provides configuration loading and management for volaudit.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"volaudit/internal/models"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Dataset checks
	Checks struct {
		// Dims compares voxel grid sizes across images
		Dims bool `yaml:"dims"`

		// Pixs compares pixel spacings across images and axes
		Pixs bool `yaml:"pixs"`

		// Dtypes compares pixel data types across images
		Dtypes bool `yaml:"dtypes"`

		// ExpectedDtype, when set, is the only data type the dtype check accepts
		ExpectedDtype string `yaml:"expectedDtype"`

		// Verbose prints explanations and per-value breakdowns
		Verbose bool `yaml:"verbose"`
	} `yaml:"checks"`

	// Resampling target
	Resample struct {
		// Reference is an image whose geometry every input is resampled onto
		Reference string `yaml:"reference"`

		// Standard uses unit spacing, zero origin and identity direction for unset fields
		Standard bool `yaml:"standard"`

		Spacing   []float64 `yaml:"spacing,omitempty"`
		Size      []int     `yaml:"size,omitempty"`
		Origin    []float64 `yaml:"origin,omitempty"`
		Direction []float64 `yaml:"direction,omitempty"`

		// Suffix is inserted before the extension of output files. Leaving it
		// empty is only valid together with a SaveFolder other than the inputs'.
		Suffix string `yaml:"suffix"`

		// SaveFolder receives outputs; empty writes next to inputs
		SaveFolder string `yaml:"saveFolder"`

		// RescaleOrigin scales the origin by the spacing ratio when no origin is given
		RescaleOrigin bool `yaml:"rescaleOrigin"`

		// Workers bounds the goroutines used inside one resample
		Workers int `yaml:"workers"`

		// DefaultValue fills voxels that map outside the input
		DefaultValue float64 `yaml:"defaultValue"`
	} `yaml:"resample"`

	// Thumbnail previews
	Thumbnail struct {
		// Folder enables thumbnails when set
		Folder   string `yaml:"folder"`
		Width    int    `yaml:"width"`
		Height   int    `yaml:"height"`
		MaxSlice bool   `yaml:"maxSlice"`
	} `yaml:"thumbnail"`

	// Output parameters
	Output struct {
		// Progress shows progress bars while reading headers and resampling
		Progress bool `yaml:"progress"`

		// Manifest is the path of the YAML run manifest; empty disables it
		Manifest string `yaml:"manifest"`

		// MetricsFile is a Prometheus textfile written at exit; empty disables it
		MetricsFile string `yaml:"metricsFile"`
	} `yaml:"output"`

	Logging struct {
		// Level is a zerolog level name
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Checks.Dims = true
	cfg.Checks.Pixs = true
	cfg.Checks.Dtypes = true
	cfg.Checks.Verbose = true

	cfg.Resample.Suffix = "_resampled"
	cfg.Resample.Workers = runtime.NumCPU()

	cfg.Thumbnail.Width = 128
	cfg.Thumbnail.Height = 128

	cfg.Output.Progress = true

	cfg.Logging.Level = "info"

	return cfg
}

// Validate reports the first inconsistent setting
func (c *Config) Validate() error {
	if c.Checks.ExpectedDtype != "" {
		if _, err := models.ParsePixelType(c.Checks.ExpectedDtype); err != nil {
			return fmt.Errorf("checks.expectedDtype: %w", err)
		}
	}

	r := c.Resample
	for i, s := range r.Spacing {
		if !(s > 0) {
			return fmt.Errorf("resample.spacing[%d] must be positive, got %g", i, s)
		}
	}
	for i, s := range r.Size {
		if s <= 0 {
			return fmt.Errorf("resample.size[%d] must be positive, got %d", i, s)
		}
	}
	dims := 0
	for _, n := range []int{len(r.Spacing), len(r.Size), len(r.Origin)} {
		if n == 0 {
			continue
		}
		if dims != 0 && n != dims {
			return fmt.Errorf("resample spacing, size and origin disagree on dimensions")
		}
		dims = n
	}
	if len(r.Direction) != 0 && dims != 0 && len(r.Direction) != dims*dims {
		return fmt.Errorf("resample.direction needs %d components, got %d", dims*dims, len(r.Direction))
	}
	if r.Workers < 0 {
		return fmt.Errorf("resample.workers must not be negative")
	}

	if c.Thumbnail.Width < 0 || c.Thumbnail.Height < 0 {
		return fmt.Errorf("thumbnail size must not be negative")
	}

	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
