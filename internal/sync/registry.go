package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/scoutflow/scoutflow/internal/db"
	"github.com/scoutflow/scoutflow/internal/models"
)

// RegistryStore is the subset of db.Client the chat registry needs.
type RegistryStore interface {
	QueryChatSets(ctx context.Context, p models.Principal) (db.ChatSets, error)
	QueryGetChat(ctx context.Context, id string) (*models.Chat, error)
	QueryCreateChat(ctx context.Context, chat models.Chat) error
	QueryRenameChat(ctx context.Context, id string, title string) (bool, error)
	QueryDeleteChat(ctx context.Context, id string) error
	QueryMessagesByChat(ctx context.Context, chat surrealmodels.RecordID) ([]models.Message, error)
	QueryStepsByChat(ctx context.Context, chat surrealmodels.RecordID) ([]models.WorkflowStep, error)
	QueryInsertMessage(ctx context.Context, msg models.Message) error
	QueryInsertStep(ctx context.Context, step models.WorkflowStep) error
	LiveChatsByUsername(ctx context.Context, username string) (*db.Feed[models.Chat], error)
}

// Registry maintains the principal's three chat lists. Any change event
// on either identity's chat feed triggers a full re-fetch; chat rows are
// small and the re-fetch keeps ordering authoritative.
type Registry struct {
	store     RegistryStore
	principal models.Principal

	mu   sync.RWMutex
	sets db.ChatSets

	feeds []*db.Feed[models.Chat]
	wg    sync.WaitGroup
}

// NewRegistry creates a registry for the given principal. Call Start
// before reading state.
func NewRegistry(store RegistryStore, principal models.Principal) *Registry {
	return &Registry{store: store, principal: principal}
}

// Start fetches the initial chat sets and subscribes to both identities'
// chat feeds.
func (r *Registry) Start(ctx context.Context) error {
	sets, err := r.store.QueryChatSets(ctx, r.principal)
	if err != nil {
		return fmt.Errorf("initial chat sets: %w", err)
	}
	r.mu.Lock()
	r.sets = sets
	r.mu.Unlock()

	usernames := []string{r.principal.Username}
	if r.principal.SystemUsername != "" && r.principal.SystemUsername != r.principal.Username {
		usernames = append(usernames, r.principal.SystemUsername)
	}
	for _, username := range usernames {
		feed, err := r.store.LiveChatsByUsername(ctx, username)
		if err != nil {
			r.closeFeeds(ctx)
			return fmt.Errorf("chat feed for %s: %w", username, err)
		}
		r.feeds = append(r.feeds, feed)

		r.wg.Add(1)
		go func(feed *db.Feed[models.Chat]) {
			defer r.wg.Done()
			for range feed.Events() {
				r.refetch(ctx)
			}
		}(feed)
	}
	return nil
}

// Close kills the chat feeds and waits for the pumps to drain.
func (r *Registry) Close(ctx context.Context) error {
	err := r.closeFeeds(ctx)
	r.wg.Wait()
	return err
}

func (r *Registry) closeFeeds(ctx context.Context) error {
	var firstErr error
	for _, feed := range r.feeds {
		if err := feed.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Registry) refetch(ctx context.Context) {
	sets, err := r.store.QueryChatSets(ctx, r.principal)
	if err != nil {
		// Keep the last good state; the next event retries.
		slog.Warn("chat registry refetch failed", "error", err)
		return
	}
	r.mu.Lock()
	r.sets = sets
	r.mu.Unlock()
}

// Snapshot returns a copy of the current chat sets.
func (r *Registry) Snapshot() db.ChatSets {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return db.ChatSets{
		Mine:           append([]models.Chat(nil), r.sets.Mine...),
		MyExamples:     append([]models.Chat(nil), r.sets.MyExamples...),
		SystemExamples: append([]models.Chat(nil), r.sets.SystemExamples...),
	}
}

// Create mints a new chat for the principal and returns its id. The chat
// appears locally before the backend confirms; the feed re-fetch corrects
// ordering afterwards.
func (r *Registry) Create(ctx context.Context, title string) (string, error) {
	chat := models.Chat{
		ID:       surrealmodels.NewRecordID("chat", uuid.NewString()),
		Title:    title,
		Username: r.principal.Username,
	}
	id := models.RecordKey(chat.ID)

	r.mu.Lock()
	r.sets.Mine = append([]models.Chat{chat}, r.sets.Mine...)
	r.mu.Unlock()

	if err := r.store.QueryCreateChat(ctx, chat); err != nil {
		r.removeLocal(id)
		return "", fmt.Errorf("create chat: %w", err)
	}
	return id, nil
}

// Rename sets a chat's title. Returns false when the chat no longer
// exists. The local list updates through the chat feed.
func (r *Registry) Rename(ctx context.Context, id string, title string) (bool, error) {
	return r.store.QueryRenameChat(ctx, id, title)
}

// Delete removes a chat and everything scoped to it. The chat vanishes
// locally right away; a failed backend delete re-fetches to restore it.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.removeLocal(id)
	if err := r.store.QueryDeleteChat(ctx, id); err != nil {
		r.refetch(ctx)
		return fmt.Errorf("delete chat: %w", err)
	}
	return nil
}

func (r *Registry) removeLocal(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets.Mine = removeChat(r.sets.Mine, id)
	r.sets.MyExamples = removeChat(r.sets.MyExamples, id)
	r.sets.SystemExamples = removeChat(r.sets.SystemExamples, id)
}

func removeChat(chats []models.Chat, id string) []models.Chat {
	for i, c := range chats {
		if models.RecordKey(c.ID) == id {
			return append(chats[:i:i], chats[i+1:]...)
		}
	}
	return chats
}

// Duplicate deep-copies a chat into a fresh one owned by the principal:
// the chat row first, then its messages (tagged from_template), then its
// workflow steps, preserving timestamps so ordering survives the copy.
// Row-level failures are logged and skipped rather than rolling back the
// partial copy.
func (r *Registry) Duplicate(ctx context.Context, srcID string, title string) (string, error) {
	src, err := r.store.QueryGetChat(ctx, srcID)
	if err != nil {
		return "", fmt.Errorf("duplicate chat: source: %w", err)
	}

	copyChat := models.Chat{
		ID:       surrealmodels.NewRecordID("chat", uuid.NewString()),
		Title:    title,
		Username: r.principal.Username,
	}
	if title == "" {
		copyChat.Title = src.Title
	}
	if err := r.store.QueryCreateChat(ctx, copyChat); err != nil {
		return "", fmt.Errorf("duplicate chat: %w", err)
	}
	newID := models.RecordKey(copyChat.ID)

	msgs, err := r.store.QueryMessagesByChat(ctx, src.ID)
	if err != nil {
		return "", fmt.Errorf("duplicate chat: messages: %w", err)
	}
	failed := 0
	for _, msg := range msgs {
		msg.ID = surrealmodels.NewRecordID("message", uuid.NewString())
		msg.Chat = copyChat.ID
		msg.FromTemplate = true
		if err := r.store.QueryInsertMessage(ctx, msg); err != nil {
			slog.Warn("duplicate chat: skipping message", "chat", newID, "error", err)
			failed++
		}
	}

	steps, err := r.store.QueryStepsByChat(ctx, src.ID)
	if err != nil {
		return "", fmt.Errorf("duplicate chat: steps: %w", err)
	}
	for _, step := range steps {
		step.ID = surrealmodels.NewRecordID("workflow_step", uuid.NewString())
		step.Chat = copyChat.ID
		if err := r.store.QueryInsertStep(ctx, step); err != nil {
			slog.Warn("duplicate chat: skipping step", "chat", newID, "error", err)
			failed++
		}
	}

	if failed > 0 {
		slog.Warn("duplicate chat finished with skipped rows", "chat", newID, "skipped", failed)
	}
	return newID, nil
}
