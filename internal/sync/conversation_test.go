package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/scoutflow/scoutflow/internal/db"
	"github.com/scoutflow/scoutflow/internal/models"
)

var testPrincipal = models.Principal{Username: "alice", SystemUsername: "scoutflow-system"}

type fakeConvStore struct {
	mu        stdsync.Mutex
	msgs      []models.Message
	insertErr error
	inserted  []models.Message
	events    chan db.Change[models.Message]
}

func newFakeConvStore(msgs ...models.Message) *fakeConvStore {
	return &fakeConvStore{
		msgs:   msgs,
		events: make(chan db.Change[models.Message], 16),
	}
}

func (f *fakeConvStore) QueryMessagesByChat(ctx context.Context, chat surrealmodels.RecordID) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Message(nil), f.msgs...), nil
}

func (f *fakeConvStore) QueryInsertMessage(ctx context.Context, msg models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, msg)
	return nil
}

func (f *fakeConvStore) LiveMessagesByChat(ctx context.Context, chat surrealmodels.RecordID) (*db.Feed[models.Message], error) {
	return db.NewFeed(f.events, func(context.Context) error {
		close(f.events)
		return nil
	}), nil
}

func (f *fakeConvStore) insertedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserted)
}

type recordingTrigger struct {
	mu    stdsync.Mutex
	calls []string
}

func (r *recordingTrigger) RespondToMessage(ctx context.Context, chatID, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, chatID+"/"+username)
	return nil
}

func (r *recordingTrigger) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func textMessage(chat surrealmodels.RecordID, content string, at time.Time) models.Message {
	return models.Message{
		ID:        surrealmodels.NewRecordID("message", uuid.NewString()),
		Chat:      chat,
		Role:      models.RoleUser,
		Content:   content,
		Username:  "alice",
		Type:      models.MessageTypeText,
		CreatedAt: at,
	}
}

func TestConversationInitialLoad(t *testing.T) {
	chat := surrealmodels.NewRecordID("chat", uuid.NewString())
	base := time.Now().UTC()
	store := newFakeConvStore(
		textMessage(chat, "first", base),
		textMessage(chat, "second", base.Add(time.Second)),
	)

	conv := NewConversation(store, nil, testPrincipal, FailModeMark)
	require.NoError(t, conv.Start(context.Background(), chat))
	defer conv.Close(context.Background())

	entries := conv.Snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Message.Content)
	assert.Equal(t, "second", entries[1].Message.Content)
	for _, e := range entries {
		assert.Equal(t, DeliveryConfirmed, e.State)
	}
}

func TestConversationOptimisticSendAndEcho(t *testing.T) {
	chat := surrealmodels.NewRecordID("chat", uuid.NewString())
	store := newFakeConvStore()
	trigger := &recordingTrigger{}

	conv := NewConversation(store, trigger, testPrincipal, FailModeMark)
	require.NoError(t, conv.Start(context.Background(), chat))
	defer conv.Close(context.Background())

	id, err := conv.Send(context.Background(), "hello there")
	require.NoError(t, err)

	// Visible immediately, tagged sending
	entries := conv.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, "hello there", entries[0].Message.Content)
	assert.Equal(t, DeliverySending, entries[0].State)
	assert.Equal(t, id, models.RecordKey(entries[0].Message.ID))

	// Background persist and trigger fire
	require.Eventually(t, func() bool { return store.insertedCount() == 1 },
		2*time.Second, 10*time.Millisecond, "persist should run in background")
	require.Eventually(t, func() bool { return trigger.callCount() == 1 },
		2*time.Second, 10*time.Millisecond, "respond trigger should fire")

	// Backend echo: same id arrives as CREATE. The entry confirms in
	// place, the list must not grow.
	store.mu.Lock()
	echo := store.inserted[0]
	store.mu.Unlock()
	store.events <- db.Change[models.Message]{Action: db.ActionCreate, Row: echo}

	require.Eventually(t, func() bool {
		entries := conv.Snapshot()
		return len(entries) == 1 && entries[0].State == DeliveryConfirmed
	}, 2*time.Second, 10*time.Millisecond, "echo should confirm without duplicating")
}

func TestConversationEchoKeepsLocalContent(t *testing.T) {
	chat := surrealmodels.NewRecordID("chat", uuid.NewString())
	store := newFakeConvStore()

	conv := NewConversation(store, nil, testPrincipal, FailModeMark)
	require.NoError(t, conv.Start(context.Background(), chat))
	defer conv.Close(context.Background())

	id, err := conv.Send(context.Background(), "the full message text")
	require.NoError(t, err)

	// Echo carrying a partial row (same id, degraded content) must not
	// displace the optimistic copy; it only confirms delivery.
	partial := models.Message{
		ID:      surrealmodels.NewRecordID("message", id),
		Chat:    chat,
		Role:    models.RoleUser,
		Content: "the full",
	}
	store.events <- db.Change[models.Message]{Action: db.ActionCreate, Row: partial}

	require.Eventually(t, func() bool {
		entries := conv.Snapshot()
		return len(entries) == 1 &&
			entries[0].State == DeliveryConfirmed &&
			entries[0].Message.Content == "the full message text"
	}, 2*time.Second, 10*time.Millisecond, "echo should confirm while the local copy stays authoritative")
}

func TestConversationSendFailureMark(t *testing.T) {
	chat := surrealmodels.NewRecordID("chat", uuid.NewString())
	store := newFakeConvStore()
	store.insertErr = errors.New("rejected")

	conv := NewConversation(store, nil, testPrincipal, FailModeMark)
	require.NoError(t, conv.Start(context.Background(), chat))
	defer conv.Close(context.Background())

	_, err := conv.Send(context.Background(), "doomed")
	require.NoError(t, err, "Send itself is optimistic and must not fail")

	require.Eventually(t, func() bool {
		entries := conv.Snapshot()
		return len(entries) == 1 && entries[0].State == DeliveryFailed
	}, 2*time.Second, 10*time.Millisecond, "failed persist should mark the entry")
}

func TestConversationSendFailureDrop(t *testing.T) {
	chat := surrealmodels.NewRecordID("chat", uuid.NewString())
	store := newFakeConvStore()
	store.insertErr = errors.New("rejected")

	conv := NewConversation(store, nil, testPrincipal, FailModeDrop)
	require.NoError(t, conv.Start(context.Background(), chat))
	defer conv.Close(context.Background())

	_, err := conv.Send(context.Background(), "doomed")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(conv.Snapshot()) == 0
	}, 2*time.Second, 10*time.Millisecond, "failed persist should drop the entry")
}

func TestConversationEmptySendRejected(t *testing.T) {
	chat := surrealmodels.NewRecordID("chat", uuid.NewString())
	store := newFakeConvStore()

	conv := NewConversation(store, nil, testPrincipal, FailModeMark)
	require.NoError(t, conv.Start(context.Background(), chat))
	defer conv.Close(context.Background())

	_, err := conv.Send(context.Background(), "")
	require.Error(t, err)
	assert.Empty(t, conv.Snapshot())
}

func TestConversationFeedReconciliation(t *testing.T) {
	chat := surrealmodels.NewRecordID("chat", uuid.NewString())
	base := time.Now().UTC()
	store := newFakeConvStore()

	conv := NewConversation(store, nil, testPrincipal, FailModeMark)
	require.NoError(t, conv.Start(context.Background(), chat))
	defer conv.Close(context.Background())

	later := textMessage(chat, "later", base.Add(time.Minute))
	earlier := textMessage(chat, "earlier", base)

	store.events <- db.Change[models.Message]{Action: db.ActionCreate, Row: later}
	store.events <- db.Change[models.Message]{Action: db.ActionCreate, Row: earlier}
	// Replay of the same create must be a no-op
	store.events <- db.Change[models.Message]{Action: db.ActionCreate, Row: later}

	require.Eventually(t, func() bool {
		entries := conv.Snapshot()
		return len(entries) == 2 &&
			entries[0].Message.Content == "earlier" &&
			entries[1].Message.Content == "later"
	}, 2*time.Second, 10*time.Millisecond, "creates should sort by created_at and dedupe")

	// Update for an unknown id is ignored
	ghost := textMessage(chat, "ghost", base.Add(2*time.Minute))
	store.events <- db.Change[models.Message]{Action: db.ActionUpdate, Row: ghost}

	// Streaming update replaces the known row wholesale
	later.Content = "later, streaming"
	later.TextIsStreaming = true
	store.events <- db.Change[models.Message]{Action: db.ActionUpdate, Row: later}

	require.Eventually(t, func() bool {
		entries := conv.Snapshot()
		return len(entries) == 2 &&
			entries[1].Message.Content == "later, streaming" &&
			conv.Streaming()
	}, 2*time.Second, 10*time.Millisecond, "update should replace the row")

	// Delete removes
	store.events <- db.Change[models.Message]{Action: db.ActionDelete, Row: earlier}
	require.Eventually(t, func() bool {
		return len(conv.Snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond, "delete should remove the row")
}

func TestConversationTieBreakOnEqualTimestamps(t *testing.T) {
	chat := surrealmodels.NewRecordID("chat", uuid.NewString())
	at := time.Now().UTC()
	store := newFakeConvStore()

	conv := NewConversation(store, nil, testPrincipal, FailModeMark)
	require.NoError(t, conv.Start(context.Background(), chat))
	defer conv.Close(context.Background())

	a := textMessage(chat, "a", at)
	a.ID = surrealmodels.NewRecordID("message", "aaaa")
	b := textMessage(chat, "b", at)
	b.ID = surrealmodels.NewRecordID("message", "bbbb")

	// Arrival order is b then a; display order must be id order.
	store.events <- db.Change[models.Message]{Action: db.ActionCreate, Row: b}
	store.events <- db.Change[models.Message]{Action: db.ActionCreate, Row: a}

	require.Eventually(t, func() bool {
		entries := conv.Snapshot()
		return len(entries) == 2 &&
			entries[0].Message.Content == "a" &&
			entries[1].Message.Content == "b"
	}, 2*time.Second, 10*time.Millisecond, "equal timestamps should break ties on id")
}
