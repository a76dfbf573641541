package track

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/i474232898/weather-inference/internal/forecast"
)

// Config is the YAML tracking job description.
//
//	input_file: /data/out/<run>/combined_2018-10-01-06-00_2018-10-06-06-00.nc
//	start_lat: 17.0
//	start_lon: 134.0
//	search_radius_deg: 3.0
//	correction_factor: 1.4
//	output_base_dir: /data/tracks
type Config struct {
	InputFile         string        `yaml:"input_file"`
	StartLat          float64       `yaml:"start_lat"`
	StartLon          float64       `yaml:"start_lon"`
	TrackingRadiusDeg float64       `yaml:"tracking_radius_deg"`
	SearchRadiusDeg   float64       `yaml:"search_radius_deg"`
	CorrectionFactor  float64       `yaml:"correction_factor"`
	OutputBaseDir     string        `yaml:"output_base_dir"`
	Region            *forecast.Box `yaml:"region,omitempty"`
}

// LoadConfig reads and validates a YAML config, filling defaults.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.TrackingRadiusDeg == 0 {
		c.TrackingRadiusDeg = 5.0
	}
	if c.SearchRadiusDeg == 0 {
		c.SearchRadiusDeg = 3.0
	}
	if c.CorrectionFactor == 0 {
		c.CorrectionFactor = 1.4
	}
	if c.OutputBaseDir == "" {
		c.OutputBaseDir = "tracks"
	}
}

// Validate checks the fields a tracking pass depends on.
func (c Config) Validate() error {
	switch {
	case c.InputFile == "":
		return errors.New("input_file is required")
	case c.StartLat < -90 || c.StartLat > 90:
		return fmt.Errorf("start_lat %v out of range", c.StartLat)
	case c.TrackingRadiusDeg <= 0 || c.SearchRadiusDeg <= 0:
		return errors.New("radii must be positive")
	case c.CorrectionFactor <= 0:
		return errors.New("correction_factor must be positive")
	}
	return nil
}

// Options converts the config into tracking options.
func (c Config) Options() Options {
	return Options{
		StartLat:         c.StartLat,
		StartLon:         c.StartLon,
		TrackingRadius:   c.TrackingRadiusDeg,
		WindRadius:       c.SearchRadiusDeg,
		CorrectionFactor: c.CorrectionFactor,
	}
}

// OutputPath names the CSV after the directory holding the input file:
// <output_base_dir>/<experiment>/<experiment>_intensity.csv.
func (c Config) OutputPath() string {
	experiment := filepath.Base(filepath.Dir(c.InputFile))
	return filepath.Join(c.OutputBaseDir, experiment, experiment+"_intensity.csv")
}
