// Package config loads daemon configuration from TOML.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Name           string   `toml:"name"`
	ListenAddr     string   `toml:"listen_addr"`
	AdminAddr      string   `toml:"admin_addr"`
	AdminToken     string   `toml:"admin_token"`
	CorsOrigins    []string `toml:"cors_origins"`
	MaxRequestSize uint64   `toml:"max_request_size"`
	MaxContentSize uint64   `toml:"max_content_size"`
	IdleTimeoutSec int      `toml:"idle_timeout_seconds"`
	LogLevel       string   `toml:"log_level"`
}

// Default returns the standalone runtime defaults. An idle timeout of zero
// means a hung client holds its session until it disconnects.
func Default() Config {
	return Config{
		Name:           "depotd",
		ListenAddr:     ":12523",
		AdminAddr:      ":9090",
		MaxRequestSize: 1_000_000,
		MaxContentSize: 100 * 1024 * 1024,
		IdleTimeoutSec: 0,
		LogLevel:       "info",
	}
}

// Load reads path and fills unset fields with defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if err := loadToml(path, &cfg); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("config missing name")
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("config missing listen_addr")
	}
	if cfg.MaxRequestSize == 0 {
		return fmt.Errorf("config max_request_size must be positive")
	}
	if cfg.IdleTimeoutSec < 0 {
		return fmt.Errorf("config idle_timeout_seconds must not be negative")
	}
	return nil
}
