package ml

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// BaseConfig provides common configuration functionality
type BaseConfig struct {
	ConfigPath string `json:"-"`
}

// LoadConfig loads configuration from a file, falling back to environment
// variables. A file that exists but does not parse is an error.
func (c *BaseConfig) LoadConfig(configPath string, envPrefix string, config interface{}) error {
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to read %s config: %w", envPrefix, err)
		}
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse %s config: %w", envPrefix, err)
		}
		slog.Debug("loaded model configuration", "path", configPath)
		return nil
	}

	// Try default config file in config directory
	defaultPath := filepath.Join("config", fmt.Sprintf("%s.json", envPrefix))
	if data, err := os.ReadFile(defaultPath); err == nil {
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse %s: %w", defaultPath, err)
		}
		slog.Debug("loaded model configuration", "path", defaultPath)
		return nil
	}

	slog.Debug("using environment variables for model configuration", "model", envPrefix)
	return nil
}
