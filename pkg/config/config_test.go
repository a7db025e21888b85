package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "./models", cfg.ML.ModelsDir)
	assert.Equal(t, 1000, cfg.ML.BatchSize)
	assert.Equal(t, 0.1, cfg.ML.Contamination)
	assert.Equal(t, int64(42), cfg.ML.RandomSeed)
	assert.Equal(t, 10*time.Minute, cfg.ML.TrainTimeout)
	assert.Equal(t, "holt", cfg.ML.Forecaster)
	assert.Equal(t, "0.0.0.0:8000", cfg.API.Addr())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Store.DSN)
	assert.Empty(t, cfg.Alerts.NATSURL)
	assert.Equal(t, "netguard.anomalies", cfg.Alerts.Subject)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ml:
  models_dir: /var/lib/netguard/models
  contamination: 0.05
  train_timeout: 2m
api:
  port: 9000
store:
  dsn: /var/lib/netguard/predictions.db
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/netguard/models", cfg.ML.ModelsDir)
	assert.Equal(t, 0.05, cfg.ML.Contamination)
	assert.Equal(t, 2*time.Minute, cfg.ML.TrainTimeout)
	assert.Equal(t, 9000, cfg.API.Port)
	assert.Equal(t, "/var/lib/netguard/predictions.db", cfg.Store.DSN)
	assert.Equal(t, 1000, cfg.ML.BatchSize)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api:\n  port: 9000\n"), 0o644))

	t.Setenv("ML_MODELS_DIR", "/models")
	t.Setenv("ML_BATCH_SIZE", "250")
	t.Setenv("ML_CONTAMINATION", "0.2")
	t.Setenv("API_PORT", "8081")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ALERTS_NATS_URL", "nats://localhost:4222")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/models", cfg.ML.ModelsDir)
	assert.Equal(t, 250, cfg.ML.BatchSize)
	assert.Equal(t, 0.2, cfg.ML.Contamination)
	assert.Equal(t, 8081, cfg.API.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "nats://localhost:4222", cfg.Alerts.NATSURL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "valid", modify: func(*Config) {}},
		{name: "zero contamination", modify: func(c *Config) { c.ML.Contamination = 0 }, wantErr: "ml.contamination"},
		{name: "contamination one", modify: func(c *Config) { c.ML.Contamination = 1 }, wantErr: "ml.contamination"},
		{name: "batch size", modify: func(c *Config) { c.ML.BatchSize = 0 }, wantErr: "ml.batch_size"},
		{name: "models dir", modify: func(c *Config) { c.ML.ModelsDir = "" }, wantErr: "ml.models_dir"},
		{name: "forecaster", modify: func(c *Config) { c.ML.Forecaster = "lstm" }, wantErr: "ml.forecaster"},
		{name: "no forecaster", modify: func(c *Config) { c.ML.Forecaster = "none" }},
		{name: "port", modify: func(c *Config) { c.API.Port = 70000 }, wantErr: "api.port"},
		{name: "max batch", modify: func(c *Config) { c.API.MaxBatchEvents = -1 }, wantErr: "api.max_batch_events"},
		{name: "timeout", modify: func(c *Config) { c.ML.TrainTimeout = -time.Second }, wantErr: "ml.train_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdir(t, t.TempDir())
			cfg, err := Load("")
			require.NoError(t, err)

			tt.modify(cfg)
			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
