package config

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// ServerConfig is the HTTP control plane's own startup configuration.
type ServerConfig struct {
	Host            string        `json:"host" yaml:"host"`
	Port            int           `json:"port" yaml:"port"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	TLS             *TLSConfig    `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// TLSConfig is the server's optional TLS configuration.
type TLSConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	CertFile string `json:"cert_file" yaml:"cert_file"`
	KeyFile  string `json:"key_file" yaml:"key_file"`
}

// MetricsConfig controls the ambient /metrics endpoint.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Path      string `json:"path" yaml:"path"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// LoggingConfig controls the process-wide zerolog logger.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // json, console
	Output string `json:"output" yaml:"output"` // stdout, stderr
}

// PipelineConfig holds batch sizes and retry budgets with the same default
// values the engine uses. The engine does not read them (it uses its own
// batchSizeFor and models.DefaultTableRetryPolicy), and a migration request
// carries no per-run override.
type PipelineConfig struct {
	RelationalBatchSize int           `json:"relational_batch_size" yaml:"relational_batch_size"`
	CRMBatchSize        int           `json:"crm_batch_size" yaml:"crm_batch_size"`
	WorkItemBatchSize   int           `json:"workitem_batch_size" yaml:"workitem_batch_size"`
	TableRetryAttempts  int           `json:"table_retry_attempts" yaml:"table_retry_attempts"`
	TableRetryDelay     time.Duration `json:"table_retry_delay" yaml:"table_retry_delay"`
	WriteRetryAttempts  int           `json:"write_retry_attempts" yaml:"write_retry_attempts"`
	WriteRetryDelay     time.Duration `json:"write_retry_delay" yaml:"write_retry_delay"`
}

// Config is the main application configuration.
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`
}

// Global is the process-wide configuration, set once at startup.
var Global *Config

// GetConfig returns the current global configuration.
func GetConfig() *Config {
	return Global
}

// SetConfig sets the global configuration (used by tests and reload).
func SetConfig(cfg *Config) {
	Global = cfg
}

// DefaultConfig returns the configuration used when no file or env override
// is present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5011,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    300 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "migrator",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Pipeline: PipelineConfig{
			RelationalBatchSize: 1000,
			CRMBatchSize:        200,
			WorkItemBatchSize:   50,
			TableRetryAttempts:  3,
			TableRetryDelay:     2 * time.Second,
			WriteRetryAttempts:  3,
			WriteRetryDelay:     3 * time.Second,
		},
	}
}

// Validate checks the server port range, the log level and format, and
// that both retry budgets are positive.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "console": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Pipeline.TableRetryAttempts <= 0 {
		return fmt.Errorf("pipeline.table_retry_attempts must be positive")
	}
	if c.Pipeline.WriteRetryAttempts <= 0 {
		return fmt.Errorf("pipeline.write_retry_attempts must be positive")
	}

	return nil
}

// LoadConfiguration layers defaults, an optional config file, and
// environment variables via viper, applies the result to the global log
// level, and starts watching the config file for changes.
func LoadConfiguration() *Config {
	viper.SetDefault("Server.Host", "0.0.0.0")
	viper.SetDefault("Server.Port", 5011)
	viper.SetDefault("Server.ReadTimeout", "30s")
	viper.SetDefault("Server.WriteTimeout", "300s")
	viper.SetDefault("Server.ShutdownTimeout", "10s")

	viper.SetDefault("Metrics.Enabled", true)
	viper.SetDefault("Metrics.Path", "/metrics")
	viper.SetDefault("Metrics.Namespace", "migrator")

	viper.SetDefault("Logging.Level", "info")
	viper.SetDefault("Logging.Format", "json")
	viper.SetDefault("Logging.Output", "stdout")

	viper.SetDefault("Pipeline.RelationalBatchSize", 1000)
	viper.SetDefault("Pipeline.CRMBatchSize", 200)
	viper.SetDefault("Pipeline.WorkItemBatchSize", 50)
	viper.SetDefault("Pipeline.TableRetryAttempts", 3)
	viper.SetDefault("Pipeline.TableRetryDelay", "2s")
	viper.SetDefault("Pipeline.WriteRetryAttempts", 3)
	viper.SetDefault("Pipeline.WriteRetryDelay", "3s")

	viper.SetConfigName("migrator.conf")
	viper.AddConfigPath("/etc/migrator/")
	viper.AddConfigPath("$HOME/.migrator")
	viper.AddConfigPath("./conf")
	if err := viper.ReadInConfig(); err != nil {
		log.Debug().Err(err).Msg("no config file found, using defaults and environment")
	}

	viper.WatchConfig()
	viper.OnConfigChange(reloadConfig)

	cfg := DefaultConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		log.Error().Err(err).Msg("unable to decode into struct")
	}

	applyLogLevel(cfg)
	Global = cfg
	return cfg
}

func applyLogLevel(cfg *Config) {
	level := zerolog.InfoLevel
	switch cfg.Logging.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)
}

func reloadConfig(e fsnotify.Event) {
	log.Info().Msgf("config file changed: %v", e.Name)
	cfg := DefaultConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		log.Error().Err(err).Msg("unable to decode into struct")
		return
	}
	applyLogLevel(cfg)
	Global = cfg
}
