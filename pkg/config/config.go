// Package config provides configuration loading and management for
// niftiview. It handles loading configuration from YAML files and
// provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the viewer configuration loaded from YAML
type Config struct {
	// Display parameters applied to every view
	Display struct {
		// Width and Height are the destination surface size in pixels
		// for each rendered plane
		Width  int `yaml:"width"`
		Height int `yaml:"height"`

		// Contrast is the initial contrast factor (neutral = 1)
		Contrast float64 `yaml:"contrast"`

		// Brightness is the initial additive brightness offset
		// (neutral = 0)
		Brightness float64 `yaml:"brightness"`
	} `yaml:"display"`

	// Output parameters for rendered slice images
	Output struct {
		// Dir is the directory where rendered images are written
		Dir string `yaml:"dir"`

		// Format selects the image encoding, png or jpeg
		Format string `yaml:"format"`

		// JPEGQuality applies when Format is jpeg
		JPEGQuality int `yaml:"jpegQuality"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Display.Width = 512
	cfg.Display.Height = 512
	cfg.Display.Contrast = 1.0
	cfg.Display.Brightness = 0.0

	cfg.Output.Dir = "rendered_slices"
	cfg.Output.Format = "png"
	cfg.Output.JPEGQuality = 90

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the
// specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
