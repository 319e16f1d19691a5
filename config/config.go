package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"argus/anomaly"
)

// Config holds all configuration for the Argus service.
type Config struct {
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"` // json or console
	} `mapstructure:"logging"`

	API struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"api"`

	Storage struct {
		SQLitePath string `mapstructure:"sqlite_path"`
	} `mapstructure:"storage"`

	Redis struct {
		Enabled  bool   `mapstructure:"enabled"`
		Address  string `mapstructure:"address"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Policies struct {
		// BundleDir holds YAML policy/plan/escalation bundles loaded at
		// startup. Empty disables bundle loading.
		BundleDir     string        `mapstructure:"bundle_dir"`
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
		SweepLookback time.Duration `mapstructure:"sweep_lookback"`
		UnitTimeout   time.Duration `mapstructure:"unit_timeout"`
	} `mapstructure:"policies"`

	Anomaly struct {
		SweepInterval time.Duration            `mapstructure:"sweep_interval"`
		UnitTimeout   time.Duration            `mapstructure:"unit_timeout"`
		Detectors     []anomaly.DetectorConfig `mapstructure:"detectors"`
	} `mapstructure:"anomaly"`

	Profiles struct {
		CacheSize int           `mapstructure:"cache_size"`
		CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	} `mapstructure:"profiles"`

	Workers struct {
		Count     int `mapstructure:"count"`
		QueueSize int `mapstructure:"queue_size"`
	} `mapstructure:"workers"`

	Notifications struct {
		RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"`
		Channels           []struct {
			Name       string   `mapstructure:"name"`
			Type       string   `mapstructure:"type"` // email, slack, webhook
			Enabled    bool     `mapstructure:"enabled"`
			Severities []string `mapstructure:"severities"`
			Categories []string `mapstructure:"categories"`
			Recipients []string `mapstructure:"recipients"`
			Target     string   `mapstructure:"target"` // webhook URL or slack channel
		} `mapstructure:"channels"`
	} `mapstructure:"notifications"`
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("api.port", 8080)

	viper.SetDefault("storage.sqlite_path", "./data/argus.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("policies.sweep_interval", "5m")
	viper.SetDefault("policies.sweep_lookback", "15m")
	viper.SetDefault("policies.unit_timeout", "10s")

	viper.SetDefault("anomaly.sweep_interval", "10m")
	viper.SetDefault("anomaly.unit_timeout", "30s")

	viper.SetDefault("profiles.cache_size", 1024)
	viper.SetDefault("profiles.cache_ttl", "5m")

	viper.SetDefault("workers.count", 8)
	viper.SetDefault("workers.queue_size", 256)

	viper.SetDefault("notifications.rate_limit_per_minute", 30)
}

// LoadConfig reads config.yaml from the working directory or ./config,
// layered under ARGUS_* environment overrides. A missing file is fine; the
// defaults stand.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	viper.SetEnvPrefix("ARGUS")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, will use defaults and env vars
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be between 1 and 65535, got %d", c.API.Port)
	}
	if c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path is required")
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("workers.count must be positive, got %d", c.Workers.Count)
	}
	if c.Policies.SweepInterval <= 0 {
		return fmt.Errorf("policies.sweep_interval must be positive")
	}
	if c.Anomaly.SweepInterval <= 0 {
		return fmt.Errorf("anomaly.sweep_interval must be positive")
	}
	for _, d := range c.Anomaly.Detectors {
		if d.ID == "" {
			return fmt.Errorf("anomaly detector requires an id")
		}
		if d.Kind == "" {
			return fmt.Errorf("anomaly detector %s requires a kind", d.ID)
		}
	}
	for _, ch := range c.Notifications.Channels {
		if ch.Name == "" || ch.Type == "" {
			return fmt.Errorf("notification channels require name and type")
		}
	}
	return nil
}
