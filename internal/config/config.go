package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	mu sync.Mutex
	v  = viper.New()
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	config := GetDefaults()

	v = viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/pii-redactor/")
	v.AddConfigPath("$HOME/.pii-redactor/")

	// Environment variable overrides, e.g. REDACTOR_REDACTION_USE_REMOTE_TIER
	v.SetEnvPrefix("REDACTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// bindEnv registers the keys that may be set only through the environment.
// AutomaticEnv alone does not reach keys Unmarshal never asks about.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"server.port",
		"redaction.use_remote_tier",
		"redaction.remote_model_identifier",
		"redaction.pass_budget",
		"redaction.confidence_threshold",
		"redaction.tier_policy",
		"redaction.min_value_length",
		"redaction.protected_terms_file",
		"remote.endpoint",
		"remote.timeout",
		"remote.health_check",
		"recognizer.backend",
		"recognizer.model_path",
		"recognizer.vocab_path",
		"batch.workers",
		"cache.enabled",
		"cache.backend",
		"cache.redis_url",
		"database.enabled",
		"database.url",
		"uploads.temp_dir",
		"logging.level",
		"logging.format",
	} {
		_ = v.BindEnv(key)
	}
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Redaction.TierPolicy != "short_circuit" && config.Redaction.TierPolicy != "augment" {
		return fmt.Errorf("invalid tier policy: %s (must be short_circuit or augment)", config.Redaction.TierPolicy)
	}

	if config.Redaction.PassBudget <= 0 {
		return fmt.Errorf("invalid pass budget: %d (must be positive)", config.Redaction.PassBudget)
	}

	if config.Redaction.ConfidenceThreshold <= 0 || config.Redaction.ConfidenceThreshold > 1 {
		return fmt.Errorf("invalid confidence threshold: %v (must be in (0, 1])", config.Redaction.ConfidenceThreshold)
	}

	if config.Redaction.UseRemoteTier && config.Redaction.RemoteModelIdentifier == "" {
		return fmt.Errorf("remote tier enabled without a model identifier")
	}

	if config.Recognizer.Backend != "pattern" && config.Recognizer.Backend != "onnx" {
		return fmt.Errorf("invalid recognizer backend: %s (must be pattern or onnx)", config.Recognizer.Backend)
	}

	if config.Batch.Workers <= 0 {
		return fmt.Errorf("invalid batch workers: %d", config.Batch.Workers)
	}

	if config.Batch.MaxRetries < 0 {
		return fmt.Errorf("invalid batch max_retries: %d", config.Batch.MaxRetries)
	}

	switch config.Cache.Backend {
	case "memory", "redis", "bolt":
	default:
		return fmt.Errorf("invalid cache backend: %s (must be memory, redis, or bolt)", config.Cache.Backend)
	}

	if config.Database.Enabled && config.Database.URL == "" {
		return fmt.Errorf("database enabled without a url")
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}

// Watch starts watching the configuration file for changes. Invalid edits
// are logged and ignored.
func Watch(logger *zap.Logger, callback func(*Config)) {
	mu.Lock()
	w := v
	mu.Unlock()

	w.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := w.Unmarshal(newConfig); err != nil {
			logger.Error("Failed to reload configuration", zap.String("file", e.Name), zap.Error(err))
			return
		}

		if err := validateConfig(newConfig); err != nil {
			logger.Error("Ignoring invalid configuration change", zap.String("file", e.Name), zap.Error(err))
			return
		}

		logger.Info("Configuration reloaded", zap.String("file", e.Name))
		callback(newConfig)
	})
	w.WatchConfig()
}
