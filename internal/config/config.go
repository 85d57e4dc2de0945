package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents configuration data for the aggregation backend.
type Config struct {
	Port int `yaml:"port"`

	Wazuh struct {
		Host           string `yaml:"host"`
		Username       string `yaml:"username"`
		Password       string `yaml:"password"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"wazuh"`

	Indexer struct {
		Host           string `yaml:"host"`
		Username       string `yaml:"username"`
		Password       string `yaml:"password"`
		AlertsIndex    string `yaml:"alerts_index"`
		VulnIndex      string `yaml:"vulnerabilities_index"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"indexer"`

	Cache struct {
		ValkeyAddress  string `yaml:"valkey_address"`
		ValkeyPassword string `yaml:"valkey_password"`
		ValkeyDB       int    `yaml:"valkey_db"`
		TTLSeconds     int    `yaml:"ttl_seconds"`
	} `yaml:"cache"`

	RefreshSeconds    int `yaml:"refresh_seconds"`
	RunTimeoutSeconds int `yaml:"run_timeout_seconds"`
	FanoutLimit       int `yaml:"fanout_limit"`
}

// DefaultConfig returns sensible defaults in case no configuration file is provided.
func DefaultConfig() Config {
	cfg := Config{
		Port:              4000,
		RefreshSeconds:    10,
		RunTimeoutSeconds: 30,
		FanoutLimit:       8,
	}
	cfg.Wazuh.TimeoutSeconds = 5
	cfg.Indexer.TimeoutSeconds = 5
	cfg.Indexer.AlertsIndex = "wazuh-alerts-4.x-*"
	cfg.Indexer.VulnIndex = "wazuh-states-vulnerabilities-*"
	cfg.Cache.TTLSeconds = 60
	return cfg
}

// Load reads configuration from a yaml file, then applies environment
// overrides. A missing file falls back to defaults so container deployments
// can run on environment variables alone.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(content, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnv(&cfg)

	if cfg.Port <= 0 {
		cfg.Port = DefaultConfig().Port
	}
	if cfg.RefreshSeconds <= 0 {
		cfg.RefreshSeconds = DefaultConfig().RefreshSeconds
	}
	if cfg.Cache.TTLSeconds <= 0 {
		cfg.Cache.TTLSeconds = DefaultConfig().Cache.TTLSeconds
	}
	if cfg.RunTimeoutSeconds <= 0 {
		cfg.RunTimeoutSeconds = DefaultConfig().RunTimeoutSeconds
	}
	if cfg.FanoutLimit <= 0 {
		cfg.FanoutLimit = DefaultConfig().FanoutLimit
	}
	if cfg.Wazuh.TimeoutSeconds <= 0 {
		cfg.Wazuh.TimeoutSeconds = DefaultConfig().Wazuh.TimeoutSeconds
	}
	if cfg.Indexer.TimeoutSeconds <= 0 {
		cfg.Indexer.TimeoutSeconds = DefaultConfig().Indexer.TimeoutSeconds
	}
	if cfg.Indexer.AlertsIndex == "" {
		cfg.Indexer.AlertsIndex = DefaultConfig().Indexer.AlertsIndex
	}
	if cfg.Indexer.VulnIndex == "" {
		cfg.Indexer.VulnIndex = DefaultConfig().Indexer.VulnIndex
	}

	if cfg.Wazuh.Host == "" {
		return Config{}, errors.New("wazuh host is required (wazuh.host or WAZUH_HOST)")
	}
	if cfg.Indexer.Host == "" {
		return Config{}, errors.New("indexer host is required (indexer.host or INDEXER_HOST)")
	}
	return cfg, nil
}

// RefreshInterval returns the scheduler cadence for every logical endpoint.
func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshSeconds) * time.Second
}

// CacheTTL returns the freshness window applied to cache entries.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// RunTimeout bounds one full aggregation run.
func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutSeconds) * time.Second
}

func applyEnv(cfg *Config) {
	setString(&cfg.Wazuh.Host, "WAZUH_HOST")
	setString(&cfg.Wazuh.Username, "WAZUH_USER")
	setString(&cfg.Wazuh.Password, "WAZUH_PASS")
	setString(&cfg.Indexer.Host, "INDEXER_HOST")
	setString(&cfg.Indexer.Username, "INDEXER_USER")
	setString(&cfg.Indexer.Password, "INDEXER_PASS")
	setString(&cfg.Cache.ValkeyAddress, "VALKEY_ADDRESS")
	setString(&cfg.Cache.ValkeyPassword, "VALKEY_PASSWORD")
	setInt(&cfg.Port, "PORT")
	setInt(&cfg.RefreshSeconds, "REFRESH_SECONDS")
	setInt(&cfg.Cache.TTLSeconds, "CACHE_TTL_SECONDS")
}

func setString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func setInt(dst *int, key string) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	if value, err := strconv.Atoi(raw); err == nil && value > 0 {
		*dst = value
	}
}
