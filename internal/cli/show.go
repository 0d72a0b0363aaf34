package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scoutflow/scoutflow/internal/models"
	"github.com/scoutflow/scoutflow/internal/storage"
)

var chatsShowCmd = &cobra.Command{
	Use:   "show <chat-id>",
	Short: "Print a chat's messages, recordings, and keyframes",
	Args:  cobra.ExactArgs(1),
	RunE:  runChatsShow,
}

func init() {
	chatsCmd.AddCommand(chatsShowCmd)
}

func runChatsShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	chat, err := dbClient.QueryGetChat(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get chat: %w", err)
	}

	msgs, err := dbClient.QueryMessagesByChat(ctx, chat.ID)
	if err != nil {
		return fmt.Errorf("messages: %w", err)
	}

	resolver := storage.NewResolver(cfg.StorageURL, cfg.StorageBucket)

	fmt.Printf("%s (%d messages)\n\n", chat.Title, len(msgs))
	for _, m := range msgs {
		fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("2006-01-02 15:04"), m.Role, m.Content)

		if m.Type == models.MessageTypeScreenRecording {
			if m.ScreenRecordingURL != nil {
				fmt.Printf("  recording: %s\n", resolver.PublicURL(*m.ScreenRecordingURL))
			}
			frames, err := dbClient.QueryKeyframesByMessage(ctx, m.ID)
			if err != nil {
				return fmt.Errorf("keyframes: %w", err)
			}
			for _, f := range frames {
				fmt.Printf("  keyframe %d: %s\n", f.Seq, resolver.PublicURL(f.ImageURL))
			}
		}

		if verbose {
			for _, table := range m.Tables() {
				fmt.Printf("  table %s: %d rows\n", table.Name, len(table.Rows))
			}
		}
	}
	return nil
}
