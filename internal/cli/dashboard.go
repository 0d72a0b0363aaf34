package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/scoutflow/scoutflow/internal/config"
	syncer "github.com/scoutflow/scoutflow/internal/sync"
	"github.com/scoutflow/scoutflow/internal/tui"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Open the interactive dashboard",
	Long: `Open the interactive terminal dashboard.

The dashboard shows your chats, the selected chat's conversation, its
workflow steps, and live run activity, all updated in real time.`,
	RunE: runDashboard,
}

func runDashboard(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Change feeds silently miss UPDATE events when the backend's replica
	// identity is misconfigured. Probe once and warn instead of leaving the
	// user with a dashboard that never refreshes.
	probeCtx, probeCancel := context.WithTimeout(ctx, 5*time.Second)
	if ok, err := functionsClient().CheckReplicaIdentity(probeCtx); err != nil {
		slog.Warn("replica identity probe failed", "error", err)
	} else if !ok {
		fmt.Fprintln(os.Stderr, "Warning: backend replica identity is misconfigured; live updates may be incomplete.")
	}
	probeCancel()

	failMode := syncer.FailModeMark
	if cfg.FailMode == config.FailModeDrop {
		failMode = syncer.FailModeDrop
	}

	return tui.Run(ctx, tui.Options{
		Client:       dbClient,
		Trigger:      functionsClient(),
		Principal:    principal(),
		FailMode:     failMode,
		HighlightTTL: cfg.HighlightTTL,
	})
}
