package cli

import (
	"context"
	"errors"
	"fmt"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
	"github.com/spf13/cobra"

	"github.com/scoutflow/scoutflow/internal/db"
	"github.com/scoutflow/scoutflow/internal/models"
	syncer "github.com/scoutflow/scoutflow/internal/sync"
)

var (
	runsStopReason string
	runsStatusRun  string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect and control automation runs",
	Long: `Inspect and control the automation runs of a chat.

Subcommands:
  status  Show the latest run and its progress
  stop    Abort the active run

Examples:
  scoutflow runs status chat-id
  scoutflow runs stop chat-id --reason "wrong workflow"`,
}

var runsStatusCmd = &cobra.Command{
	Use:   "status <chat-id>",
	Short: "Show the latest run for a chat",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsStatus,
}

var runsStopCmd = &cobra.Command{
	Use:   "stop <chat-id>",
	Short: "Abort the chat's active run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsStop,
}

func init() {
	runsStatusCmd.Flags().StringVar(&runsStatusRun, "run", "", "show a specific run instead of the latest")
	runsStopCmd.Flags().StringVarP(&runsStopReason, "reason", "r", "stopped from cli", "abort reason")

	runsCmd.AddCommand(runsStatusCmd)
	runsCmd.AddCommand(runsStopCmd)
}

func runRunsStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	chat := surrealmodels.NewRecordID("chat", args[0])

	var run *models.Run
	var err error
	if runsStatusRun != "" {
		run, err = dbClient.QueryGetRun(ctx, runsStatusRun)
	} else {
		run, err = dbClient.QueryLatestRunByChat(ctx, chat)
	}
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			fmt.Println("No runs for this chat.")
			return nil
		}
		return fmt.Errorf("load run: %w", err)
	}

	state := run.Status
	if run.InProgress {
		state += " (in progress)"
	}
	fmt.Printf("Run %s: %s\n", models.RecordKey(run.ID), state)

	msgs, err := dbClient.QueryRunMessagesByRun(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("run messages: %w", err)
	}
	for _, m := range msgs {
		fmt.Printf("  [%s] %s\n", m.CreatedAt.Format("15:04:05"), m.Text)
	}

	if verbose {
		events, err := dbClient.QueryCodeRunEventsByChat(ctx, chat)
		if err != nil {
			return fmt.Errorf("run events: %w", err)
		}
		fmt.Printf("\nEvents (%d, newest first):\n", len(events))
		for _, e := range events {
			line := "  - " + e.Description
			if e.FunctionName != nil {
				line = "  - " + *e.FunctionName
			}
			if e.Progress != nil && e.Total != nil {
				line += fmt.Sprintf(" %d/%d", *e.Progress, *e.Total)
			}
			fmt.Println(line)
		}
	}
	return nil
}

func runRunsStop(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	chat := surrealmodels.NewRecordID("chat", args[0])

	tracker := syncer.NewRunTracker(dbClient, principal())
	if err := tracker.Start(ctx, chat); err != nil {
		return fmt.Errorf("load run state: %w", err)
	}
	defer tracker.Close(context.Background())

	view := tracker.Snapshot()
	if view.Run == nil || !view.Run.InProgress {
		fmt.Println("No active run.")
		return nil
	}

	if err := tracker.Stop(ctx, runsStopReason); err != nil {
		return fmt.Errorf("stop run: %w", err)
	}

	fmt.Printf("Aborted run %s\n", models.RecordKey(view.Run.ID))
	return nil
}
