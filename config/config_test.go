package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"argus/anomaly"
	"argus/core"
)

func TestLoadConfigDefaults(t *testing.T) {
	viper.Reset()
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, "./data/argus.db", cfg.Storage.SQLitePath)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Policies.SweepInterval)
	assert.Equal(t, 10*time.Minute, cfg.Anomaly.SweepInterval)
	assert.Equal(t, 1024, cfg.Profiles.CacheSize)
	assert.Equal(t, 8, cfg.Workers.Count)
	assert.Equal(t, 30, cfg.Notifications.RateLimitPerMinute)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		viper.Reset()
		cfg, err := LoadConfig()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "api.port",
		},
		{
			name:    "missing sqlite path",
			mutate:  func(c *Config) { c.Storage.SQLitePath = "" },
			wantErr: "sqlite_path",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Workers.Count = 0 },
			wantErr: "workers.count",
		},
		{
			name:    "zero policy sweep interval",
			mutate:  func(c *Config) { c.Policies.SweepInterval = 0 },
			wantErr: "policies.sweep_interval",
		},
		{
			name: "detector without id",
			mutate: func(c *Config) {
				c.Anomaly.Detectors = []anomaly.DetectorConfig{{Kind: core.DetectorStatistical}}
			},
			wantErr: "requires an id",
		},
		{
			name: "detector without kind",
			mutate: func(c *Config) {
				c.Anomaly.Detectors = []anomaly.DetectorConfig{{ID: "d1"}}
			},
			wantErr: "requires a kind",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	viper.Reset()
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}
