package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server struct {
		Port      string `json:"port"`
		StaticDir string `json:"static_dir"`
		ImageDir  string `json:"image_dir"`
		Debug     bool   `json:"debug"`
	} `json:"server"`

	Backend struct {
		BaseURL string   `json:"base_url"`
		Timeout Duration `json:"timeout"`
	} `json:"backend"`

	Recognition struct {
		Type       string   `json:"type"` // "remote" or "google"
		ConfigPath string   `json:"config_path"`
		Timeout    Duration `json:"timeout"`
	} `json:"recognition"`

	Journal struct {
		Type    string `json:"type"` // "remote", "sqlite" or "amqp"
		Path    string `json:"path"`
		AMQPURL string `json:"amqp_url"`
		Queue   string `json:"queue"`
	} `json:"journal"`

	Identity struct {
		Secret string `json:"secret"`
		Issuer string `json:"issuer"`
	} `json:"identity"`
}

// Duration reads either a Go duration string ("30s") or whole seconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("invalid duration %s", b)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

const (
	defaultBackendURL = "http://localhost:8000"
	defaultTimeout    = 30 * time.Second
	defaultDBPath     = "nutritrack.db"
)

// LoadConfig loads configuration from a JSON file. Environment variables
// (and a .env file next to the process) fill fields the file leaves unset.
// A missing file is fine as long as the environment supplies the port.
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	var config Config
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		slog.Debug("config file not found, using environment", "path", configPath)
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnv(&config)

	// Handle missing values
	if config.Server.Port == "" {
		// Fail if port is not set
		return nil, fmt.Errorf("server port is not set in config file")
	}
	if config.Backend.BaseURL == "" {
		config.Backend.BaseURL = defaultBackendURL
	}
	if config.Backend.Timeout <= 0 {
		config.Backend.Timeout = Duration(defaultTimeout)
	}
	if config.Recognition.Type == "" {
		config.Recognition.Type = "remote"
	}
	if config.Recognition.Timeout <= 0 {
		config.Recognition.Timeout = Duration(defaultTimeout)
	}
	if config.Journal.Type == "" {
		config.Journal.Type = "remote"
	}
	if config.Journal.Path == "" {
		config.Journal.Path = defaultDBPath
	}

	switch config.Recognition.Type {
	case "remote", "google":
	default:
		return nil, fmt.Errorf("unsupported recognition type: %s", config.Recognition.Type)
	}
	switch config.Journal.Type {
	case "remote", "sqlite", "amqp":
	default:
		return nil, fmt.Errorf("unsupported journal type: %s", config.Journal.Type)
	}
	if config.Identity.Secret == "" {
		return nil, fmt.Errorf("identity secret is not set")
	}

	return &config, nil
}

func applyEnv(c *Config) {
	setString(&c.Server.Port, "NUTRITRACK_PORT")
	if !c.Server.Debug {
		if v, err := strconv.ParseBool(os.Getenv("NUTRITRACK_DEBUG")); err == nil {
			c.Server.Debug = v
		}
	}
	setString(&c.Server.StaticDir, "NUTRITRACK_STATIC_DIR")
	setString(&c.Server.ImageDir, "NUTRITRACK_IMAGE_DIR")
	setString(&c.Backend.BaseURL, "NUTRITRACK_BACKEND_URL")
	setString(&c.Recognition.Type, "NUTRITRACK_RECOGNITION")
	setString(&c.Recognition.ConfigPath, "NUTRITRACK_RECOGNITION_CONFIG")
	setString(&c.Journal.Type, "NUTRITRACK_JOURNAL")
	setString(&c.Journal.Path, "NUTRITRACK_DB_PATH")
	setString(&c.Journal.AMQPURL, "NUTRITRACK_AMQP_URL")
	setString(&c.Journal.AMQPURL, "RABBITMQ_URL")
	setString(&c.Journal.Queue, "NUTRITRACK_AMQP_QUEUE")
	setString(&c.Identity.Secret, "NUTRITRACK_IDENTITY_SECRET")
	setString(&c.Identity.Issuer, "NUTRITRACK_IDENTITY_ISSUER")
}

func setString(dst *string, key string) {
	if *dst != "" {
		return
	}
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// GetConfigPath returns the path to the configuration file
func GetConfigPath() string {
	// First try environment variable
	if path := os.Getenv("NUTRITRACK_CONFIG"); path != "" {
		return path
	}

	// Then try config directory
	configDir := "config"
	if _, err := os.Stat(configDir); err == nil {
		return filepath.Join(configDir, "config.json")
	}

	// Finally, try current directory
	return "config.json"
}
