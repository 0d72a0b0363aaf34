package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var schemaWipeYes bool

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Manage the database schema",
	Long: `Manage the database schema.

Subcommands:
  init  Apply the schema (idempotent; also runs on every connect)
  wipe  Delete all rows while keeping the schema (testing only)`,
}

var schemaInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Apply the schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := dbClient.InitSchema(context.Background()); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
		fmt.Println("Schema applied.")
		return nil
	},
}

var schemaWipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Delete all rows (testing only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !schemaWipeYes {
			return fmt.Errorf("refusing to wipe without --yes")
		}
		if err := dbClient.WipeData(context.Background()); err != nil {
			return fmt.Errorf("wipe data: %w", err)
		}
		fmt.Println("All rows deleted.")
		return nil
	},
}

func init() {
	schemaWipeCmd.Flags().BoolVar(&schemaWipeYes, "yes", false, "confirm the wipe")

	schemaCmd.AddCommand(schemaInitCmd)
	schemaCmd.AddCommand(schemaWipeCmd)
}
