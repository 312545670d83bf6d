// Command categorize runs a one-shot categorization pass for a user:
// the rule-based job by default, or the oracle batch with -auto.
package main

import (
	"context"
	"flag"
	"os"

	"scontrino/internal/cli"
	"scontrino/internal/oracle"
	"scontrino/internal/services"
)

func main() {
	userID := flag.String("user", "", "user whose items to categorize")
	auto := flag.Bool("auto", false, "use the classifier oracle instead of the rule table")
	flag.Parse()

	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	if *userID == "" {
		logger.Error("Missing required -user flag")
		os.Exit(1)
	}

	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitStorage(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	table := cli.LoadRules(logger, cfg)

	classifier, err := oracle.NewFromConfig(cfg)
	if err != nil {
		logger.Error("Failed to initialize classifier oracle", "error", err)
		os.Exit(1)
	}
	if classifier != nil {
		defer classifier.Close()
	}

	categorizer := services.NewCategorizer(repo, table, classifier, cfg.OracleTimeout)
	ctx := context.Background()

	if *auto {
		categories, err := categorizer.AutoCategorize(ctx, *userID)
		if err != nil {
			logger.Error("Auto-categorization failed", "user_id", *userID, "error", err)
			os.Exit(1)
		}
		logger.Info("Auto-categorization finished",
			"user_id", *userID,
			"categories", len(categories))
		return
	}

	stats, err := categorizer.RunCategorizationJob(ctx, *userID)
	if err != nil {
		logger.Error("Rule job failed", "user_id", *userID, "error", err)
		os.Exit(1)
	}
	logger.Info("Rule job finished",
		"user_id", *userID,
		"scanned", stats.Scanned,
		"categorized", stats.Categorized)
}
