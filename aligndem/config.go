package aligndem

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/demalign/pointcloud"
	"go.viam.com/demalign/ransac"
	rutils "go.viam.com/demalign/utils"
)

// DefaultMaxMatchPoints caps how many correspondences feed the estimator.
const DefaultMaxMatchPoints = 800

// Config describes one alignment run.
type Config struct {
	DEM1   string `json:"dem1"`
	Ortho1 string `json:"ortho1"`
	DEM2   string `json:"dem2"`
	Ortho2 string `json:"ortho2"`

	MaxMatchPoints int `json:"max_match_points"`
	// DefaultValue overrides the no-data value of the first DEM when set.
	DefaultValue *float64 `json:"default_value,omitempty"`
	// OutputPrefix defaults to the first DEM's path without its extension.
	OutputPrefix string `json:"output_prefix,omitempty"`
	TileSize     int    `json:"tile_size"`

	InlierThreshold  float64 `json:"inlier_threshold"`
	RANSACIterations int     `json:"ransac_iterations"`
	// Seed makes RANSAC deterministic. Without it sampling is seeded from the clock.
	Seed *int64 `json:"seed,omitempty"`

	WriteInliers bool `json:"write_inliers"`
	MatchPlot    bool `json:"match_plot"`
	ResidualPlot bool `json:"residual_plot"`
	// Quiet suppresses progress bars and the summary table.
	Quiet bool `json:"quiet"`
}

// DefaultConfig returns a Config with every optional setting at its default.
func DefaultConfig() Config {
	return Config{
		MaxMatchPoints:   DefaultMaxMatchPoints,
		TileSize:         pointcloud.DefaultTileSize,
		InlierThreshold:  ransac.DefaultInlierThreshold,
		RANSACIterations: ransac.DefaultIterations,
	}
}

// ConfigError is a problem with the run configuration, found before any processing.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err comes from configuration validation.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// LoadConfig reads a Config from a json file. Unset fields keep their defaults.
func LoadConfig(file string) (*Config, error) {
	config := DefaultConfig()
	filePath := filepath.Clean(file)
	//nolint:gosec
	configFile, err := os.Open(filePath)
	if err != nil {
		return nil, &ConfigError{Err: errors.Wrapf(err, "opening %q", file)}
	}
	defer utils.UncheckedErrorFunc(configFile.Close)
	if err := json.NewDecoder(configFile).Decode(&config); err != nil {
		return nil, &ConfigError{Err: errors.Wrapf(err, "decoding %q", file)}
	}
	return &config, nil
}

// Validate ensures all parts of the config are valid. Errors name the offending field.
func (config *Config) Validate(path string) error {
	for _, field := range []struct {
		name, value string
	}{
		{"dem1", config.DEM1},
		{"ortho1", config.Ortho1},
		{"dem2", config.DEM2},
		{"ortho2", config.Ortho2},
	} {
		if field.value == "" {
			return &ConfigError{Err: utils.NewConfigValidationFieldRequiredError(path, field.name)}
		}
	}
	if config.MaxMatchPoints < 1 {
		return &ConfigError{Err: utils.NewConfigValidationError(path, errors.New("max_match_points should be >= 1"))}
	}
	if config.TileSize < 16 || config.TileSize%16 != 0 {
		return &ConfigError{Err: utils.NewConfigValidationError(path, errors.New("tile_size should be a positive multiple of 16"))}
	}
	if config.InlierThreshold <= 0 {
		return &ConfigError{Err: utils.NewConfigValidationError(path, errors.New("inlier_threshold should be > 0"))}
	}
	if config.RANSACIterations < 1 {
		return &ConfigError{Err: utils.NewConfigValidationError(path, errors.New("ransac_iterations should be >= 1"))}
	}
	return nil
}

// Prefix returns the output prefix, defaulting to the first DEM's path without its extension.
func (config *Config) Prefix() string {
	if config.OutputPrefix != "" {
		return config.OutputPrefix
	}
	return rutils.ChangeExtension(config.DEM1, "")
}
