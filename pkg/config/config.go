// Package config loads NetGuard configuration from an optional YAML file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"github.com/hed1ad/netguard/pkg/detectors"
	"github.com/hed1ad/netguard/pkg/forecast"
)

// Config is the complete NetGuard configuration.
type Config struct {
	ML     MLConfig     `mapstructure:"ml"`
	API    APIConfig    `mapstructure:"api"`
	Log    LogConfig    `mapstructure:"log"`
	Store  StoreConfig  `mapstructure:"store"`
	Alerts AlertsConfig `mapstructure:"alerts"`
}

// MLConfig configures training and inference.
type MLConfig struct {
	ModelsDir       string        `mapstructure:"models_dir"`
	TrainingDataDir string        `mapstructure:"training_data_dir"`
	BatchSize       int           `mapstructure:"batch_size"`
	Contamination   float64       `mapstructure:"contamination"`
	RandomSeed      int64         `mapstructure:"random_seed"`
	TrainTimeout    time.Duration `mapstructure:"train_timeout"`
	Forecaster      string        `mapstructure:"forecaster"`
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	MaxBatchEvents  int           `mapstructure:"max_batch_events"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns host:port.
func (c APIConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// StoreConfig configures the prediction store. An empty DSN disables it.
type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

// AlertsConfig configures alert publishing. An empty NATSURL disables it.
type AlertsConfig struct {
	NATSURL string `mapstructure:"nats_url"`
	Subject string `mapstructure:"subject"`
}

// envBindings maps configuration keys to their environment variables.
var envBindings = map[string]string{
	"ml.models_dir":        "ML_MODELS_DIR",
	"ml.training_data_dir": "ML_TRAINING_DATA_DIR",
	"ml.batch_size":        "ML_BATCH_SIZE",
	"ml.contamination":     "ML_CONTAMINATION",
	"ml.random_seed":       "ML_RANDOM_SEED",
	"ml.train_timeout":     "ML_TRAIN_TIMEOUT",
	"ml.forecaster":        "ML_FORECASTER",
	"api.host":             "API_HOST",
	"api.port":             "API_PORT",
	"api.max_batch_events": "API_MAX_BATCH_EVENTS",
	"api.shutdown_timeout": "API_SHUTDOWN_TIMEOUT",
	"log.level":            "LOG_LEVEL",
	"log.file":             "LOG_FILE",
	"store.dsn":            "STORE_DSN",
	"alerts.nats_url":      "ALERTS_NATS_URL",
	"alerts.subject":       "ALERTS_SUBJECT",
}

func setDefaults(v *viper.Viper) {
	detector := detectors.DefaultConfig()

	v.SetDefault("ml.models_dir", "./models")
	v.SetDefault("ml.training_data_dir", "./data")
	v.SetDefault("ml.batch_size", 1000)
	v.SetDefault("ml.contamination", detector.Contamination)
	v.SetDefault("ml.random_seed", detector.RandomSeed)
	v.SetDefault("ml.train_timeout", 10*time.Minute)
	v.SetDefault("ml.forecaster", forecast.NameHolt)

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8000)
	v.SetDefault("api.max_batch_events", 10000)
	v.SetDefault("api.shutdown_timeout", 15*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")

	v.SetDefault("store.dsn", "")

	v.SetDefault("alerts.nats_url", "")
	v.SetDefault("alerts.subject", "netguard.anomalies")
}

// Load reads configuration. When path is empty a config.yaml in the working
// directory or /etc/netguard is used if present; a named file must exist.
// Environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/netguard/")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error

	if c.ML.ModelsDir == "" {
		errs = append(errs, errors.New("ml.models_dir must be set"))
	}
	if c.ML.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("ml.batch_size must be positive, got %d", c.ML.BatchSize))
	}
	if c.ML.Contamination <= 0 || c.ML.Contamination >= 1 {
		errs = append(errs, fmt.Errorf("ml.contamination must be in (0, 1), got %v", c.ML.Contamination))
	}
	if c.ML.TrainTimeout < 0 {
		errs = append(errs, fmt.Errorf("ml.train_timeout must not be negative, got %s", c.ML.TrainTimeout))
	}
	if _, err := forecast.New(c.ML.Forecaster); err != nil {
		errs = append(errs, fmt.Errorf("ml.forecaster: %w", err))
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api.port must be in [1, 65535], got %d", c.API.Port))
	}
	if c.API.MaxBatchEvents <= 0 {
		errs = append(errs, fmt.Errorf("api.max_batch_events must be positive, got %d", c.API.MaxBatchEvents))
	}

	return errors.Join(errs...)
}
