// Package config loads the tuning of the SLAM back end from JSON.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"

	"github.com/banshee-data/vislam/internal/fsutil"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/slam.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Defaults used when a field is omitted.
const (
	DefaultLoopClosureTranslationVariance = 0.01
	DefaultLoopClosureRotationVariance    = 0.0001
	DefaultMinLoopClosureCorrespondences  = 8
	DefaultOdometryTranslationVariance    = 0.0025
	DefaultOdometryRotationVariance       = 0.0001
)

// SlamConfig holds the noise model of relative-pose constraints and the
// loop-closure acceptance threshold. Omitted fields fall back to the
// defaults through the Get* accessors, so partial files are safe.
type SlamConfig struct {
	// Variances of relative-pose constraints created by loop closure.
	LoopClosureTranslationVariance *float64 `json:"loop_closure_translation_variance,omitempty"`
	LoopClosureRotationVariance    *float64 `json:"loop_closure_rotation_variance,omitempty"`
	// Fewer 2D-3D correspondences than this rejects a loop-closure candidate.
	MinLoopClosureCorrespondences *int `json:"min_loop_closure_correspondences,omitempty"`

	// Variances of relative-pose constraints between consecutive keyframes.
	OdometryTranslationVariance *float64 `json:"odometry_translation_variance,omitempty"`
	OdometryRotationVariance    *float64 `json:"odometry_rotation_variance,omitempty"`
}

// EmptySlamConfig returns a config with every field unset.
func EmptySlamConfig() *SlamConfig {
	return &SlamConfig{}
}

// LoadSlamConfig loads a SlamConfig from a JSON file on the OS filesystem.
func LoadSlamConfig(path string) (*SlamConfig, error) {
	return LoadSlamConfigFS(fsutil.OSFileSystem{}, path)
}

// LoadSlamConfigFS loads a SlamConfig through fsys. The file must have a
// .json extension and be at most 1MB.
func LoadSlamConfigFS(fsys fsutil.FileSystem, path string) (*SlamConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := fsys.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := fsys.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySlamConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or one of its parents. Panics if the file cannot be loaded; intended for
// test setup.
func MustLoadDefaultConfig() *SlamConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/storage/sqlite/
	}
	for _, path := range candidates {
		if cfg, err := LoadSlamConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks every set field.
func (c *SlamConfig) Validate() error {
	var errs []error
	checkVariance := func(name string, v *float64) {
		if v != nil && (!(*v > 0) || math.IsInf(*v, 0)) {
			errs = append(errs, fmt.Errorf("%s must be positive and finite, got %g", name, *v))
		}
	}
	checkVariance("loop_closure_translation_variance", c.LoopClosureTranslationVariance)
	checkVariance("loop_closure_rotation_variance", c.LoopClosureRotationVariance)
	checkVariance("odometry_translation_variance", c.OdometryTranslationVariance)
	checkVariance("odometry_rotation_variance", c.OdometryRotationVariance)

	if c.MinLoopClosureCorrespondences != nil && *c.MinLoopClosureCorrespondences < 0 {
		errs = append(errs, fmt.Errorf("min_loop_closure_correspondences must be non-negative, got %d", *c.MinLoopClosureCorrespondences))
	}
	return errors.Join(errs...)
}

// GetLoopClosureTranslationVariance returns the value or the default.
func (c *SlamConfig) GetLoopClosureTranslationVariance() float64 {
	if c.LoopClosureTranslationVariance == nil {
		return DefaultLoopClosureTranslationVariance
	}
	return *c.LoopClosureTranslationVariance
}

// GetLoopClosureRotationVariance returns the value or the default.
func (c *SlamConfig) GetLoopClosureRotationVariance() float64 {
	if c.LoopClosureRotationVariance == nil {
		return DefaultLoopClosureRotationVariance
	}
	return *c.LoopClosureRotationVariance
}

// GetMinLoopClosureCorrespondences returns the value or the default.
func (c *SlamConfig) GetMinLoopClosureCorrespondences() int {
	if c.MinLoopClosureCorrespondences == nil {
		return DefaultMinLoopClosureCorrespondences
	}
	return *c.MinLoopClosureCorrespondences
}

// GetOdometryTranslationVariance returns the value or the default.
func (c *SlamConfig) GetOdometryTranslationVariance() float64 {
	if c.OdometryTranslationVariance == nil {
		return DefaultOdometryTranslationVariance
	}
	return *c.OdometryTranslationVariance
}

// GetOdometryRotationVariance returns the value or the default.
func (c *SlamConfig) GetOdometryRotationVariance() float64 {
	if c.OdometryRotationVariance == nil {
		return DefaultOdometryRotationVariance
	}
	return *c.OdometryRotationVariance
}
