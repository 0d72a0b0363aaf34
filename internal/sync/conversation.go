package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/scoutflow/scoutflow/internal/db"
	"github.com/scoutflow/scoutflow/internal/models"
)

// DeliveryState tags how far a conversation entry has travelled.
type DeliveryState int

const (
	// DeliveryConfirmed means the backend owns the row.
	DeliveryConfirmed DeliveryState = iota
	// DeliverySending means the entry is optimistic; the persist is in
	// flight.
	DeliverySending
	// DeliveryFailed means the persist was rejected. Only seen under
	// FailModeMark.
	DeliveryFailed
)

func (s DeliveryState) String() string {
	switch s {
	case DeliverySending:
		return "sending"
	case DeliveryFailed:
		return "failed"
	default:
		return "confirmed"
	}
}

// Entry is one conversation message plus its delivery state.
type Entry struct {
	Message models.Message
	State   DeliveryState
}

// ConversationStore is the subset of db.Client the conversation needs.
type ConversationStore interface {
	QueryMessagesByChat(ctx context.Context, chat surrealmodels.RecordID) ([]models.Message, error)
	QueryInsertMessage(ctx context.Context, msg models.Message) error
	LiveMessagesByChat(ctx context.Context, chat surrealmodels.RecordID) (*db.Feed[models.Message], error)
}

// Conversation maintains one chat's message list in created_at order.
// Sends are optimistic: the entry appears immediately as "sending" and
// the feed echo (matched by the client-minted id) confirms it in place,
// so the list never grows by the echo.
type Conversation struct {
	store     ConversationStore
	trigger   Trigger
	principal models.Principal
	failMode  FailMode
	chat      surrealmodels.RecordID

	mu      sync.RWMutex
	entries []Entry

	feed *db.Feed[models.Message]
	wg   sync.WaitGroup
}

// NewConversation creates a conversation sync unit. trigger may be nil
// when no backend reply should be requested after a send.
func NewConversation(store ConversationStore, trigger Trigger, principal models.Principal, failMode FailMode) *Conversation {
	return &Conversation{store: store, trigger: trigger, principal: principal, failMode: failMode}
}

// Start loads the chat's messages and subscribes to its change feed.
func (c *Conversation) Start(ctx context.Context, chat surrealmodels.RecordID) error {
	c.chat = chat

	msgs, err := c.store.QueryMessagesByChat(ctx, chat)
	if err != nil {
		return fmt.Errorf("initial messages: %w", err)
	}
	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, Entry{Message: m, State: DeliveryConfirmed})
	}
	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()

	feed, err := c.store.LiveMessagesByChat(ctx, chat)
	if err != nil {
		return fmt.Errorf("message feed: %w", err)
	}
	c.feed = feed

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for change := range feed.Events() {
			c.apply(change)
		}
	}()
	return nil
}

// Close kills the message feed and waits for the pump to drain.
func (c *Conversation) Close(ctx context.Context) error {
	var err error
	if c.feed != nil {
		err = c.feed.Close(ctx)
	}
	c.wg.Wait()
	return err
}

// apply folds one feed event into the entry list. Replays are harmless:
// creates for known ids replace in place and deletes for unknown ids are
// no-ops.
func (c *Conversation) apply(change db.Change[models.Message]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := models.RecordKey(change.Row.ID)
	idx := c.indexOf(key)

	switch change.Action {
	case db.ActionCreate:
		if idx >= 0 {
			if c.entries[idx].State == DeliverySending {
				// Echo of an optimistic send. The local copy stays
				// authoritative for content; only the delivery state
				// flips. Keeps the entry stable even if the feed ever
				// delivers partial rows.
				c.entries[idx].State = DeliveryConfirmed
				return
			}
			// Replay of a confirmed row; adopting it is a no-op.
			c.entries[idx] = Entry{Message: change.Row, State: DeliveryConfirmed}
			return
		}
		c.insertSorted(Entry{Message: change.Row, State: DeliveryConfirmed})

	case db.ActionUpdate:
		if idx < 0 {
			// Update for a row we never saw created. Skip rather than
			// invent a partial entry; a later create replay fills it in.
			return
		}
		c.entries[idx] = Entry{Message: change.Row, State: DeliveryConfirmed}

	case db.ActionDelete:
		if idx >= 0 {
			c.entries = append(c.entries[:idx:idx], c.entries[idx+1:]...)
		}
	}
}

func (c *Conversation) indexOf(key string) int {
	for i, e := range c.entries {
		if models.RecordKey(e.Message.ID) == key {
			return i
		}
	}
	return -1
}

// insertSorted keeps created_at ascending, breaking ties on id so
// concurrent clients converge on the same order.
func (c *Conversation) insertSorted(entry Entry) {
	key := models.RecordKey(entry.Message.ID)
	at := len(c.entries)
	for i, e := range c.entries {
		if entry.Message.CreatedAt.Before(e.Message.CreatedAt) ||
			(entry.Message.CreatedAt.Equal(e.Message.CreatedAt) && key < models.RecordKey(e.Message.ID)) {
			at = i
			break
		}
	}
	c.entries = append(c.entries, Entry{})
	copy(c.entries[at+1:], c.entries[at:])
	c.entries[at] = entry
}

// Send appends the principal's message optimistically and persists it in
// the background, then asks the trigger for an assistant reply. Returns
// the minted message id immediately.
func (c *Conversation) Send(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", fmt.Errorf("send: empty message")
	}

	msg := models.Message{
		ID:        surrealmodels.NewRecordID("message", uuid.NewString()),
		Chat:      c.chat,
		Role:      models.RoleUser,
		Content:   text,
		Username:  c.principal.Username,
		Type:      models.MessageTypeText,
		CreatedAt: time.Now().UTC(),
	}
	key := models.RecordKey(msg.ID)

	c.mu.Lock()
	c.insertSorted(Entry{Message: msg, State: DeliverySending})
	c.mu.Unlock()

	// The persist must outlive the caller (e.g. a TUI keypress handler
	// whose context ends with the frame).
	bg := context.WithoutCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.store.QueryInsertMessage(bg, msg); err != nil {
			c.markFailed(key, err)
			return
		}
		if c.trigger != nil {
			chatID := models.RecordKey(c.chat)
			if err := c.trigger.RespondToMessage(bg, chatID, c.principal.Username); err != nil {
				slog.Warn("respond trigger failed", "chat", chatID, "error", err)
			}
		}
	}()
	return key, nil
}

func (c *Conversation) markFailed(key string, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.indexOf(key)
	if idx < 0 || c.entries[idx].State != DeliverySending {
		return
	}
	slog.Warn("message persist failed", "message", key, "fail_mode", c.failMode, "error", cause)
	if c.failMode == FailModeDrop {
		c.entries = append(c.entries[:idx:idx], c.entries[idx+1:]...)
		return
	}
	c.entries[idx].State = DeliveryFailed
}

// Snapshot returns a copy of the entry list in display order.
func (c *Conversation) Snapshot() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Entry(nil), c.entries...)
}

// Streaming reports whether any assistant message is mid-stream.
func (c *Conversation) Streaming() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.Message.TextIsStreaming {
			return true
		}
	}
	return false
}
