package config

import "fmt"

// ValidateConfig is the plain guard-clause entry point used at startup,
// distinct in style from Loader.Validate's struct-tag-driven approach — this
// layer checks the server host/port and the pipeline batch sizes and retry
// budgets with explicit guard clauses.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := ValidateServerConfig(&cfg.Server); err != nil {
		return fmt.Errorf("server config validation failed: %w", err)
	}

	return ValidatePipelineConfig(&cfg.Pipeline)
}

// ValidateServerConfig checks the HTTP control plane's own config.
func ValidateServerConfig(cfg *ServerConfig) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

// ValidatePipelineConfig checks the engine's default batch sizes and retry
// budgets.
func ValidatePipelineConfig(cfg *PipelineConfig) error {
	if cfg.RelationalBatchSize <= 0 {
		return fmt.Errorf("relational batch size must be positive")
	}
	if cfg.CRMBatchSize <= 0 {
		return fmt.Errorf("CRM batch size must be positive")
	}
	if cfg.WorkItemBatchSize <= 0 {
		return fmt.Errorf("work-item batch size must be positive")
	}
	if cfg.TableRetryAttempts <= 0 {
		return fmt.Errorf("table retry attempts must be positive")
	}
	if cfg.WriteRetryAttempts <= 0 {
		return fmt.Errorf("write retry attempts must be positive")
	}
	return nil
}
