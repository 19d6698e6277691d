package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the agent configuration
type Config struct {
	Server       ServerConfig       `yaml:"server" json:"server"`
	Storage      StorageConfig      `yaml:"storage" json:"storage"`
	Logging      LoggingConfig      `yaml:"logging" json:"logging"`
	Supervision  SupervisionConfig  `yaml:"supervision" json:"supervision"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" json:"orchestrator"`
}

// ServerConfig contains HTTPS listener settings
type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// StorageConfig contains on-disk layout paths
type StorageConfig struct {
	SettingsDir string `yaml:"settings_dir" json:"settings_dir"`
	BuildsDir   string `yaml:"builds_dir" json:"builds_dir"`
	LogsDir     string `yaml:"logs_dir" json:"logs_dir"`
}

// LoggingConfig contains agent log settings
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
}

// SupervisionConfig contains reconcile loop timings
type SupervisionConfig struct {
	WatchIntervalMs int `yaml:"watch_interval_ms" json:"watch_interval_ms"`
	GracefulWaitMs  int `yaml:"graceful_wait_ms" json:"graceful_wait_ms"`
	KillWaitMs      int `yaml:"kill_wait_ms" json:"kill_wait_ms"`
}

// OrchestratorConfig names the external registration endpoint
type OrchestratorConfig struct {
	URL string `yaml:"url" json:"url"`
}

// Load builds the configuration from defaults, an optional config.yaml in
// the settings directory, and environment variables.
func Load() (*Config, error) {
	settingsDir := os.Getenv("SETTINGS_DIR")
	if settingsDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		settingsDir = filepath.Join(home, ".siegeup")
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8443,
		},
		Storage: StorageConfig{
			SettingsDir: settingsDir,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			File:       "",
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     14,
		},
		Supervision: SupervisionConfig{
			WatchIntervalMs: 2000,
			GracefulWaitMs:  2000,
			KillWaitMs:      1000,
		},
	}

	configPath := filepath.Join(settingsDir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Environment overrides
	if buildsDir := os.Getenv("BUILDS_DIR"); buildsDir != "" {
		cfg.Storage.BuildsDir = buildsDir
	}
	if orchestratorURL := os.Getenv("ORCHESTRATOR_URL"); orchestratorURL != "" {
		cfg.Orchestrator.URL = orchestratorURL
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	cfg.Storage.SettingsDir = settingsDir
	cfg.normalizeStoragePaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if strings.TrimSpace(c.Storage.SettingsDir) == "" {
		return fmt.Errorf("settings directory must be set")
	}
	if c.Supervision.WatchIntervalMs <= 0 {
		return fmt.Errorf("watch_interval_ms must be positive")
	}
	return nil
}

// SettingsFile is the path of the persisted desired-server set.
func (c *Config) SettingsFile() string {
	return filepath.Join(c.Storage.SettingsDir, "settings.json")
}

// CertFile is the path of the HTTPS certificate.
func (c *Config) CertFile() string {
	return filepath.Join(c.Storage.SettingsDir, "cert.pem")
}

// KeyFile is the path of the HTTPS private key.
func (c *Config) KeyFile() string {
	return filepath.Join(c.Storage.SettingsDir, "key.pem")
}

// WatchInterval returns the reconcile tick cadence.
func (c *Config) WatchInterval() time.Duration {
	return time.Duration(c.Supervision.WatchIntervalMs) * time.Millisecond
}

// GracefulWait returns how long to wait for the port after SIGTERM.
func (c *Config) GracefulWait() time.Duration {
	return time.Duration(c.Supervision.GracefulWaitMs) * time.Millisecond
}

// KillWait returns how long to wait for the port after SIGKILL.
func (c *Config) KillWait() time.Duration {
	return time.Duration(c.Supervision.KillWaitMs) * time.Millisecond
}

func (c *Config) normalizeStoragePaths() {
	if !filepath.IsAbs(c.Storage.SettingsDir) {
		if abs, err := filepath.Abs(c.Storage.SettingsDir); err == nil {
			c.Storage.SettingsDir = abs
		}
	}

	resolvePath := func(value string) string {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return ""
		}
		if filepath.IsAbs(trimmed) {
			return filepath.Clean(trimmed)
		}
		return filepath.Clean(filepath.Join(c.Storage.SettingsDir, trimmed))
	}

	if strings.TrimSpace(c.Storage.BuildsDir) == "" {
		c.Storage.BuildsDir = filepath.Join(c.Storage.SettingsDir, "builds")
	}
	c.Storage.BuildsDir = resolvePath(c.Storage.BuildsDir)

	if strings.TrimSpace(c.Storage.LogsDir) == "" {
		c.Storage.LogsDir = filepath.Join(c.Storage.SettingsDir, "logs")
	}
	c.Storage.LogsDir = resolvePath(c.Storage.LogsDir)

	if strings.TrimSpace(c.Logging.File) == "" {
		c.Logging.File = filepath.Join(c.Storage.LogsDir, "agent.log")
	}
	c.Logging.File = resolvePath(c.Logging.File)
}
