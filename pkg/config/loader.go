package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading and validation.
type Loader struct {
	validator *validator.Validate
}

// LoaderOptions controls where Load looks for a configuration file.
type LoaderOptions struct {
	EnvPrefix    string
	DefaultPaths []string
	RequireFile  bool
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{validator: validator.New()}
}

// LoadFromFile loads configuration from a specific file.
func (l *Loader) LoadFromFile(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("filename cannot be empty")
	}

	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", filename, err)
	}
	defer file.Close()

	return l.loadFromReader(file, filepath.Ext(filename))
}

func (l *Loader) loadFromReader(reader io.Reader, fileExt string) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}

	config := DefaultConfig()

	switch strings.ToLower(fileExt) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", fileExt)
	}

	return config, nil
}

// Load resolves a config file (from env var, then default paths, then
// built-in defaults), layers environment variable overrides on top, and
// validates the result.
func (l *Loader) Load(opts LoaderOptions) (*Config, error) {
	var config *Config
	var err error

	if configFile := os.Getenv(opts.EnvPrefix + "CONFIG_FILE"); configFile != "" {
		config, err = l.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from env var specified file %s: %w", configFile, err)
		}
	} else {
		for _, path := range opts.DefaultPaths {
			if _, statErr := os.Stat(path); statErr == nil {
				config, err = l.LoadFromFile(path)
				if err != nil {
					return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
				}
				break
			}
		}

		if config == nil && opts.RequireFile {
			return nil, fmt.Errorf("no configuration file found in paths: %v", opts.DefaultPaths)
		}

		if config == nil {
			config = DefaultConfig()
		}
	}

	l.loadFromEnvironment(config, opts.EnvPrefix)

	if err := l.Validate(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// LoadDefault loads configuration with this service's conventional search
// paths and environment variable prefix.
func (l *Loader) LoadDefault() (*Config, error) {
	return l.Load(LoaderOptions{
		EnvPrefix: "MIGRATOR_",
		DefaultPaths: []string{
			"./config.yaml",
			"./config.yml",
			"./config.json",
			"./conf/config.yaml",
			"/etc/migrator/config.yaml",
			"/etc/migrator/config.json",
		},
		RequireFile: false,
	})
}

// Validate runs struct-tag validation, then the handful of cross-field
// rules that validator tags cannot express.
func (l *Loader) Validate(config *Config) error {
	if err := l.validator.Struct(config); err != nil {
		return l.formatValidationErrors(err)
	}
	return config.Validate()
}

func (l *Loader) loadFromEnvironment(config *Config, prefix string) {
	if port := os.Getenv(prefix + "SERVER_PORT"); port != "" {
		if portInt, err := strconv.Atoi(port); err == nil {
			config.Server.Port = portInt
		}
	}
	if host := os.Getenv(prefix + "SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if logLevel := os.Getenv(prefix + "LOG_LEVEL"); logLevel != "" {
		config.Logging.Level = logLevel
	}
	if enabled := os.Getenv(prefix + "METRICS_ENABLED"); enabled != "" {
		config.Metrics.Enabled = strings.ToLower(enabled) == "true"
	}
}

func (l *Loader) formatValidationErrors(err error) error {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		var messages []string
		for _, validationError := range validationErrors {
			messages = append(messages, fmt.Sprintf(
				"field '%s' failed validation: %s",
				validationError.Field(),
				validationError.Tag(),
			))
		}
		return fmt.Errorf("validation errors: %s", strings.Join(messages, "; "))
	}
	return err
}

// SaveToFile persists config as YAML or JSON, inferred from the extension.
func (l *Loader) SaveToFile(config *Config, filename string) error {
	if filename == "" {
		return fmt.Errorf("filename cannot be empty")
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create config file %s: %w", filename, err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		encoder := yaml.NewEncoder(file)
		encoder.SetIndent(2)
		if err := encoder.Encode(config); err != nil {
			return fmt.Errorf("failed to encode YAML config: %w", err)
		}
	case ".json":
		encoder := json.NewEncoder(file)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(config); err != nil {
			return fmt.Errorf("failed to encode JSON config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", filepath.Ext(filename))
	}

	return nil
}

// GenerateTemplate returns a config with every option set to a documented
// example value, written out by `migrator -generate-config`.
func (l *Loader) GenerateTemplate() *Config {
	cfg := DefaultConfig()
	return cfg
}
