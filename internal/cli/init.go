// Package cli provides common CLI initialization utilities shared by
// cmd/scontrino-worker and cmd/categorize.
package cli

import (
	"os"

	"github.com/joho/godotenv"
	"scontrino/internal/config"
	"scontrino/internal/log"
	"scontrino/internal/rules"
	"scontrino/internal/storage"
)

// SetupLogger initializes structured logging with default settings.
// Returns the configured logger and sets it as the default logger.
func SetupLogger() *log.Logger {
	logger := log.New(log.DefaultConfig())
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// InitStorage initializes the SQLite repository with the given path.
// Returns the repository or exits the process on failure.
func InitStorage(logger *log.Logger, dbPath string) *storage.Repository {
	repo, err := storage.NewRepository(dbPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", log.FieldError, err, "path", dbPath)
		os.Exit(1)
	}
	return repo
}

// LoadRules loads the keyword table from cfg.RulesFile, or an empty table
// when no file is configured. Exits the process on a malformed file.
func LoadRules(logger *log.Logger, cfg *config.Config) *rules.Table {
	if cfg.RulesFile == "" {
		logger.Info("No rules file configured - rule job runs with an empty table")
		return rules.Empty()
	}
	table, err := rules.Load(cfg.RulesFile)
	if err != nil {
		logger.Error("Failed to load rules file", log.FieldError, err, "path", cfg.RulesFile)
		os.Exit(1)
	}
	logger.Info("Rules loaded", "path", cfg.RulesFile, "rules", table.Len())
	return table
}
