// Package config provides configuration loading and management for histoseq.
// It handles loading configuration from YAML files, provides the production
// default values and validates the sampling geometry before any array work
// starts.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML. It is
// treated as immutable once loaded; pipeline components receive the values
// they need rather than reaching for process-wide state.
type Config struct {
	// Sampling parameters drive the tiling and sequence generation core.
	Sampling struct {
		// TileSize is the pixel side length of one square grid tile.
		TileSize int `yaml:"tileSize"`

		// EdgeOverlap is the remainder-merge threshold percentage: an edge
		// remainder thinner than this fraction of a tile is merged with the
		// last full tile row/column.
		EdgeOverlap float64 `yaml:"edgeOverlap"`

		// PatchSize is the pixel side length of one extracted patch.
		PatchSize int `yaml:"patchSize"`

		// SampleSize is the side length patches are rescaled to before
		// serialization.
		SampleSize int `yaml:"sampleSize"`

		// PatchKeepPercentage is the minimum tissue percentage an accepted
		// patch window must contain.
		PatchKeepPercentage float64 `yaml:"patchKeepPercentage"`

		// TileKeepPercentage is the minimum tissue percentage a tile must
		// contain to be kept for sampling.
		TileKeepPercentage float64 `yaml:"tileKeepPercentage"`

		// MaximumStdDev is the Gaussian spread, in pixels, for a tile of
		// density 1; actual spread scales linearly with density.
		MaximumStdDev float64 `yaml:"maximumStdDev"`

		// MaximumSeqPerTile is the sequence count for a tile of density 1.
		MaximumSeqPerTile int `yaml:"maximumSeqPerTile"`

		// NumSteps is the fixed number of coordinates per sequence.
		NumSteps int `yaml:"numSteps"`
	} `yaml:"sampling"`

	// Data parameters locate the image data on disk.
	Data struct {
		// ImageDataDir is the root folder holding original_images/, masks/
		// and gaussian_patches/.
		ImageDataDir string `yaml:"imageDataDir"`

		// ImageListCSV is the image list file name, resolved against
		// ImageDataDir when relative.
		ImageListCSV string `yaml:"imageListCSV"`

		// ErrorCSV is where the per-image error report is written.
		ErrorCSV string `yaml:"errorCSV"`

		// CombinedBin is the name of the concatenated output binary.
		CombinedBin string `yaml:"combinedBin"`
	} `yaml:"data"`

	// Processing parameters
	Processing struct {
		// NumWorkers is how many images are processed concurrently.
		NumWorkers int `yaml:"numWorkers"`

		// Seed makes the Gaussian sampling reproducible across runs.
		Seed uint64 `yaml:"seed"`

		// Mode selects which image-list rows to process (train/valid/test).
		Mode string `yaml:"mode"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// Verbose controls per-step progress logging.
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with the production default values:
// 500px patches on 2500px tiles, rescaled to 100px, with the thresholds the
// downstream recurrent classifier was trained against.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Sampling.PatchSize = 500
	cfg.Sampling.TileSize = cfg.Sampling.PatchSize * 5
	cfg.Sampling.EdgeOverlap = 75
	cfg.Sampling.SampleSize = 100
	cfg.Sampling.PatchKeepPercentage = 75
	cfg.Sampling.TileKeepPercentage = 35
	cfg.Sampling.MaximumStdDev = 1.5 * float64(cfg.Sampling.PatchSize)
	cfg.Sampling.MaximumSeqPerTile = 3
	cfg.Sampling.NumSteps = 20

	cfg.Data.ImageDataDir = "image_data"
	cfg.Data.ImageListCSV = "image_list.csv"
	cfg.Data.ErrorCSV = "image_errors.csv"
	cfg.Data.CombinedBin = "test.bin"

	cfg.Processing.NumWorkers = runtime.NumCPU()
	cfg.Processing.Seed = 1
	cfg.Processing.Mode = "test"

	cfg.Output.Verbose = true

	return cfg
}

// Validate fails fast on configurations that cannot drive the pipeline.
func (cfg *Config) Validate() error {
	s := &cfg.Sampling
	switch {
	case s.TileSize <= 0:
		return fmt.Errorf("tileSize must be positive, got %d", s.TileSize)
	case s.PatchSize <= 0:
		return fmt.Errorf("patchSize must be positive, got %d", s.PatchSize)
	case s.PatchSize > s.TileSize:
		return fmt.Errorf("patchSize %d exceeds tileSize %d", s.PatchSize, s.TileSize)
	case s.SampleSize <= 0:
		return fmt.Errorf("sampleSize must be positive, got %d", s.SampleSize)
	case s.NumSteps <= 0:
		return fmt.Errorf("numSteps must be positive, got %d", s.NumSteps)
	case s.EdgeOverlap < 0 || s.EdgeOverlap > 100:
		return fmt.Errorf("edgeOverlap must be a percentage in [0,100], got %g", s.EdgeOverlap)
	case s.PatchKeepPercentage < 0 || s.PatchKeepPercentage > 100:
		return fmt.Errorf("patchKeepPercentage must be a percentage in [0,100], got %g", s.PatchKeepPercentage)
	case s.TileKeepPercentage < 0 || s.TileKeepPercentage > 100:
		return fmt.Errorf("tileKeepPercentage must be a percentage in [0,100], got %g", s.TileKeepPercentage)
	case s.MaximumStdDev < 0:
		return fmt.Errorf("maximumStdDev must be non-negative, got %g", s.MaximumStdDev)
	case s.MaximumSeqPerTile < 0:
		return fmt.Errorf("maximumSeqPerTile must be non-negative, got %d", s.MaximumSeqPerTile)
	}
	if cfg.Processing.NumWorkers <= 0 {
		return fmt.Errorf("numWorkers must be positive, got %d", cfg.Processing.NumWorkers)
	}
	return nil
}

// ImagesDir returns the folder holding the full-resolution images.
func (cfg *Config) ImagesDir() string {
	return filepath.Join(cfg.Data.ImageDataDir, "original_images")
}

// MasksDir returns the folder holding the binary tissue masks.
func (cfg *Config) MasksDir() string {
	return filepath.Join(cfg.Data.ImageDataDir, "masks")
}

// PatchesDir returns the folder the per-image binaries are written to.
func (cfg *Config) PatchesDir() string {
	return filepath.Join(cfg.Data.ImageDataDir, "gaussian_patches")
}

// ImageListPath resolves the image list location against ImageDataDir when
// the configured name is relative.
func (cfg *Config) ImageListPath() string {
	if filepath.IsAbs(cfg.Data.ImageListCSV) {
		return cfg.Data.ImageListCSV
	}
	return filepath.Join(cfg.Data.ImageDataDir, cfg.Data.ImageListCSV)
}

// LoadConfig loads configuration from a YAML file. If the file doesn't
// exist, it returns the default configuration. The result is validated
// either way.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
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

// CreateDefaultConfigFile creates a default configuration file at the
// specified path.
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
