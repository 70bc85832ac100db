package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/saadactin/migrator/pkg/api"
	"github.com/saadactin/migrator/pkg/config"
	"github.com/saadactin/migrator/pkg/metrics"
	"github.com/saadactin/migrator/pkg/pipeline"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	var (
		configFile     = flag.String("config", "", "Configuration file path")
		logLevel       = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		showVersion    = flag.Bool("version", false, "Show version information")
		showConfig     = flag.Bool("show-config", false, "Show configuration and exit")
		validateOnly   = flag.Bool("validate", false, "Validate configuration and exit")
		sleep          = flag.Bool("sleep", false, "Sleep for a duration (for testing purposes)")
		generateConfig = flag.String("generate-config", "", "Generate configuration template to file")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("migrator %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Build Date: %s\n", date)
		os.Exit(0)
	}

	if *generateConfig != "" {
		loader := config.NewLoader()
		if err := loader.SaveToFile(loader.GenerateTemplate(), *generateConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Error generating config template: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration template generated: %s\n", *generateConfig)
		os.Exit(0)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := loadConfiguration(*configFile, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}

	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}

	logger.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"date":    date,
	}).Info("starting migrator")

	if *showConfig {
		showConfiguration(cfg, logger)
		os.Exit(0)
	}

	if *validateOnly {
		if err := config.NewLoader().Validate(cfg); err != nil {
			logger.WithError(err).Error("configuration validation failed")
			os.Exit(1)
		}
		logger.Info("configuration validation passed")
		os.Exit(0)
	}

	if *sleep {
		logger.Info("sleeping for 60 minutes before continuing")
		time.Sleep(60 * time.Minute)
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("migrator exited with an error")
	}
}

// loadConfiguration loads from an explicit file, the MIGRATOR_CONFIG_FILE
// environment variable, or the conventional search paths, in that order.
func loadConfiguration(configFile string, logger *logrus.Logger) (*config.Config, error) {
	loader := config.NewLoader()

	if configFile == "" {
		configFile = os.Getenv("MIGRATOR_CONFIG_FILE")
	}

	if configFile != "" {
		cfg, err := loader.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", configFile, err)
		}
		logger.WithField("file", configFile).Info("configuration loaded from file")
		return cfg, nil
	}

	cfg, err := loader.LoadDefault()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	logger.Info("configuration loaded with defaults")
	return cfg, nil
}

func showConfiguration(cfg *config.Config, logger *logrus.Logger) {
	fmt.Println("Configuration:")
	fmt.Printf("  Log Level: %s\n", cfg.Logging.Level)
	fmt.Printf("  Server:\n")
	fmt.Printf("    Host: %s\n", cfg.Server.Host)
	fmt.Printf("    Port: %d\n", cfg.Server.Port)
	fmt.Printf("  Metrics:\n")
	fmt.Printf("    Enabled: %t\n", cfg.Metrics.Enabled)
	fmt.Printf("    Path: %s\n", cfg.Metrics.Path)
	fmt.Printf("  Pipeline:\n")
	fmt.Printf("    Relational batch size: %d\n", cfg.Pipeline.RelationalBatchSize)
	fmt.Printf("    CRM batch size: %d\n", cfg.Pipeline.CRMBatchSize)
	fmt.Printf("    Work-item batch size: %d\n", cfg.Pipeline.WorkItemBatchSize)
}

// run wires the registry, engine, metrics collector, and control plane,
// then blocks until an interrupt or terminate signal arrives.
func run(cfg *config.Config, logger *logrus.Logger) error {
	reg := buildRegistry()
	collector := metrics.New()
	engine := pipeline.New(reg, collector)
	server := api.NewServer(cfg, reg, engine, collector)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	logger.WithField("address", server.GetAddr()).Info("control plane listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("control plane failed: %w", err)
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Stop(ctx)
}
