package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Storage StorageConfig
	Camera  CameraConfig
	Vision  VisionConfig
	Agent   AgentConfig
}

// StorageConfig holds sqlite settings for the reference store.
type StorageConfig struct {
	Path string
}

// CameraConfig locates the capture spool.
type CameraConfig struct {
	SpoolDir string `mapstructure:"spool_dir"`
}

// VisionConfig holds Gemini settings.
type VisionConfig struct {
	Model      string
	ImageModel string `mapstructure:"image_model"`
	APIKeyEnv  string `mapstructure:"api_key_env"`
	APIKey     string `mapstructure:"api_key"`
}

// AgentConfig holds the monitoring loop timings, in seconds.
type AgentConfig struct {
	ScanIntervalSeconds int `mapstructure:"scan_interval_seconds"`
	CaptureRetrySeconds int `mapstructure:"capture_retry_seconds"`
}

// Load reads configuration from file and env. Env var overrides use
// prefix SHELFWATCH_.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("storage.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "shelfwatch", "shelfwatch.db"))
	v.SetDefault("camera.spool_dir", filepath.Join(os.Getenv("HOME"), ".local", "share", "shelfwatch", "frames"))
	v.SetDefault("vision.model", "gemini-2.5-flash")
	v.SetDefault("vision.image_model", "imagen-3.0-generate-002")
	v.SetDefault("vision.api_key_env", "GEMINI_API_KEY")
	v.SetDefault("vision.api_key", "")
	v.SetDefault("agent.scan_interval_seconds", 30)
	v.SetDefault("agent.capture_retry_seconds", 5)

	v.SetConfigType("toml")

	cfgPath := os.Getenv("SHELFWATCH_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "shelfwatch"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("SHELFWATCH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}

// Save writes the provided config to disk, creating the config
// directory if needed. Used by the TUI settings flow; prefer env vars
// for the API key.
func Save(cfg Config) error {
	path := os.Getenv("SHELFWATCH_CONFIG")
	if path == "" {
		path = filepath.Join(os.Getenv("HOME"), ".config", "shelfwatch", "config.toml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("storage.path", cfg.Storage.Path)
	v.Set("camera.spool_dir", cfg.Camera.SpoolDir)
	v.Set("vision.model", cfg.Vision.Model)
	v.Set("vision.image_model", cfg.Vision.ImageModel)
	v.Set("vision.api_key_env", cfg.Vision.APIKeyEnv)
	v.Set("vision.api_key", cfg.Vision.APIKey)
	v.Set("agent.scan_interval_seconds", cfg.Agent.ScanIntervalSeconds)
	v.Set("agent.capture_retry_seconds", cfg.Agent.CaptureRetrySeconds)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
