package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scoutflow/scoutflow/internal/models"
	syncer "github.com/scoutflow/scoutflow/internal/sync"
)

var (
	chatsCreateTitle string
	chatsDupTitle    string
)

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List and manage chats",
	Long: `List and manage chats without opening the dashboard.

Subcommands:
  list       List your chats and the example chats (default)
  create     Create a new chat
  rename     Rename a chat
  delete     Delete a chat and everything under it
  duplicate  Copy a chat with its messages and steps

Examples:
  scoutflow chats
  scoutflow chats create --title "invoice download"
  scoutflow chats rename chat-id "new title"
  scoutflow chats duplicate chat-id --title "my copy"`,
	RunE: runChatsList,
}

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List chats",
	RunE:  runChatsList,
}

var chatsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new chat",
	RunE:  runChatsCreate,
}

var chatsRenameCmd = &cobra.Command{
	Use:   "rename <chat-id> <title>",
	Short: "Rename a chat",
	Args:  cobra.ExactArgs(2),
	RunE:  runChatsRename,
}

var chatsDeleteCmd = &cobra.Command{
	Use:   "delete <chat-id>",
	Short: "Delete a chat and all its messages, steps, and run data",
	Args:  cobra.ExactArgs(1),
	RunE:  runChatsDelete,
}

var chatsDuplicateCmd = &cobra.Command{
	Use:   "duplicate <chat-id>",
	Short: "Copy a chat with its messages and workflow steps",
	Args:  cobra.ExactArgs(1),
	RunE:  runChatsDuplicate,
}

func init() {
	chatsCreateCmd.Flags().StringVarP(&chatsCreateTitle, "title", "t", "New chat", "chat title")
	chatsDuplicateCmd.Flags().StringVarP(&chatsDupTitle, "title", "t", "", "title for the copy (defaults to the source title)")

	chatsCmd.AddCommand(chatsListCmd)
	chatsCmd.AddCommand(chatsCreateCmd)
	chatsCmd.AddCommand(chatsRenameCmd)
	chatsCmd.AddCommand(chatsDeleteCmd)
	chatsCmd.AddCommand(chatsDuplicateCmd)
}

func runChatsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	sets, err := dbClient.QueryChatSets(ctx, principal())
	if err != nil {
		return fmt.Errorf("list chats: %w", err)
	}

	printChatSet("Your chats", sets.Mine)
	printChatSet("Your examples", sets.MyExamples)
	printChatSet("Example workflows", sets.SystemExamples)
	return nil
}

func printChatSet(heading string, chats []models.Chat) {
	if len(chats) == 0 {
		return
	}
	fmt.Printf("%s (%d):\n\n", heading, len(chats))
	for _, c := range chats {
		fmt.Printf("- %s  %s\n", models.RecordKey(c.ID), c.Title)
		if verbose {
			fmt.Printf("  updated %s\n", c.UpdatedAt.Format("2006-01-02 15:04"))
		}
	}
	fmt.Println()
}

func runChatsCreate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	reg := syncer.NewRegistry(dbClient, principal())
	id, err := reg.Create(ctx, chatsCreateTitle)
	if err != nil {
		return fmt.Errorf("create chat: %w", err)
	}

	fmt.Printf("Created chat %s\n", id)
	return nil
}

func runChatsRename(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	ok, err := dbClient.QueryRenameChat(ctx, args[0], args[1])
	if err != nil {
		return fmt.Errorf("rename chat: %w", err)
	}
	if !ok {
		return fmt.Errorf("chat %s not found", args[0])
	}

	fmt.Println("Renamed.")
	return nil
}

func runChatsDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if err := dbClient.QueryDeleteChat(ctx, args[0]); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}

	fmt.Println("Deleted.")
	return nil
}

func runChatsDuplicate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	reg := syncer.NewRegistry(dbClient, principal())
	newID, err := reg.Duplicate(ctx, args[0], chatsDupTitle)
	if err != nil {
		return fmt.Errorf("duplicate chat: %w", err)
	}

	// Screenshot copies run server-side; a failure leaves text intact.
	if err := functionsClient().CopyImages(ctx, args[0], newID); err != nil {
		fmt.Printf("Warning: image copy failed: %v\n", err)
	}

	fmt.Printf("Created copy %s\n", newID)
	return nil
}
