// Package cli provides the command-line interface for scoutflow.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/scoutflow/scoutflow/internal/config"
	"github.com/scoutflow/scoutflow/internal/db"
	"github.com/scoutflow/scoutflow/internal/functions"
	"github.com/scoutflow/scoutflow/internal/models"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Global config and db client
	cfg      config.Config
	dbClient *db.Client

	// Cleanup for the file logger, set in PersistentPreRunE.
	logCleanup func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "scoutflow",
	Short: "Workflow dashboard for browser automation runs",
	Long: `Scoutflow is a terminal dashboard for browser automation workflows.

Chats hold a conversation with the workflow assistant, the workflow's
steps, and the live output of automation runs. Everything updates in
real time through SurrealDB change feeds.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip DB connection for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
		logCleanup = cleanup
		slog.SetDefault(logger)

		// Connect to database
		ctx := context.Background()
		dbCfg := db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}

		dbClient, err = db.NewClient(ctx, dbCfg, nil)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}

		// Initialize schema
		if err := dbClient.InitSchema(ctx); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		// Close database connection
		if dbClient != nil {
			if err := dbClient.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
			}
		}
		if logCleanup != nil {
			_ = logCleanup()
		}
	},
}

// principal builds the identity pair from config.
func principal() models.Principal {
	return models.Principal{
		Username:       cfg.Username,
		SystemUsername: cfg.SystemUsername,
	}
}

// functionsClient creates a client for the serverless function endpoints.
func functionsClient() *functions.Client {
	return functions.NewClient(cfg.FunctionsURL, cfg.FunctionsToken)
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(chatsCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(schemaCmd)
}
