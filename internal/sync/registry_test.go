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

type fakeRegStore struct {
	mu   stdsync.Mutex
	sets db.ChatSets

	chats map[string]models.Chat
	msgs  map[string][]models.Message // by chat key
	steps map[string][]models.WorkflowStep

	createErr     error
	deleteErr     error
	insertMsgErr  error
	setsFetches   int
	insertedMsgs  []models.Message
	insertedSteps []models.WorkflowStep

	feeds map[string]chan db.Change[models.Chat]
}

func newFakeRegStore() *fakeRegStore {
	return &fakeRegStore{
		chats: make(map[string]models.Chat),
		msgs:  make(map[string][]models.Message),
		steps: make(map[string][]models.WorkflowStep),
		feeds: make(map[string]chan db.Change[models.Chat]),
	}
}

func (f *fakeRegStore) QueryChatSets(ctx context.Context, p models.Principal) (db.ChatSets, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setsFetches++
	return db.ChatSets{
		Mine:           append([]models.Chat(nil), f.sets.Mine...),
		MyExamples:     append([]models.Chat(nil), f.sets.MyExamples...),
		SystemExamples: append([]models.Chat(nil), f.sets.SystemExamples...),
	}, nil
}

func (f *fakeRegStore) QueryGetChat(ctx context.Context, id string) (*models.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	chat, ok := f.chats[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &chat, nil
}

func (f *fakeRegStore) QueryCreateChat(ctx context.Context, chat models.Chat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.chats[models.RecordKey(chat.ID)] = chat
	return nil
}

func (f *fakeRegStore) QueryRenameChat(ctx context.Context, id string, title string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	chat, ok := f.chats[id]
	if !ok {
		return false, nil
	}
	chat.Title = title
	f.chats[id] = chat
	return true, nil
}

func (f *fakeRegStore) QueryDeleteChat(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.chats, id)
	return nil
}

func (f *fakeRegStore) QueryMessagesByChat(ctx context.Context, chat surrealmodels.RecordID) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Message(nil), f.msgs[models.RecordKey(chat)]...), nil
}

func (f *fakeRegStore) QueryStepsByChat(ctx context.Context, chat surrealmodels.RecordID) ([]models.WorkflowStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.WorkflowStep(nil), f.steps[models.RecordKey(chat)]...), nil
}

func (f *fakeRegStore) QueryInsertMessage(ctx context.Context, msg models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertMsgErr != nil {
		return f.insertMsgErr
	}
	f.insertedMsgs = append(f.insertedMsgs, msg)
	return nil
}

func (f *fakeRegStore) QueryInsertStep(ctx context.Context, step models.WorkflowStep) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertedSteps = append(f.insertedSteps, step)
	return nil
}

func (f *fakeRegStore) LiveChatsByUsername(ctx context.Context, username string) (*db.Feed[models.Chat], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := make(chan db.Change[models.Chat], 16)
	f.feeds[username] = events
	return db.NewFeed(events, func(context.Context) error {
		close(events)
		return nil
	}), nil
}

func (f *fakeRegStore) fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setsFetches
}

func namedChat(username, title string, isExample bool) models.Chat {
	return models.Chat{
		ID:        surrealmodels.NewRecordID("chat", uuid.NewString()),
		Title:     title,
		IsExample: isExample,
		Username:  username,
	}
}

func TestRegistryStartAndSnapshot(t *testing.T) {
	store := newFakeRegStore()
	mine := namedChat("alice", "Invoices", false)
	system := namedChat("scoutflow-system", "Demo Flow", true)
	store.sets = db.ChatSets{
		Mine:           []models.Chat{mine},
		SystemExamples: []models.Chat{system},
	}

	reg := NewRegistry(store, testPrincipal)
	require.NoError(t, reg.Start(context.Background()))
	defer reg.Close(context.Background())

	sets := reg.Snapshot()
	require.Len(t, sets.Mine, 1)
	assert.Equal(t, "Invoices", sets.Mine[0].Title)
	require.Len(t, sets.SystemExamples, 1)
	assert.Empty(t, sets.MyExamples)

	// Both identities get a feed
	store.mu.Lock()
	_, userFeed := store.feeds["alice"]
	_, systemFeed := store.feeds["scoutflow-system"]
	store.mu.Unlock()
	assert.True(t, userFeed, "user chat feed should be open")
	assert.True(t, systemFeed, "system chat feed should be open")
}

func TestRegistryRefetchOnFeedEvent(t *testing.T) {
	store := newFakeRegStore()
	reg := NewRegistry(store, testPrincipal)
	require.NoError(t, reg.Start(context.Background()))
	defer reg.Close(context.Background())

	// Backend state changes, then the feed signals it
	added := namedChat("alice", "Fresh Chat", false)
	store.mu.Lock()
	store.sets.Mine = []models.Chat{added}
	events := store.feeds["alice"]
	store.mu.Unlock()
	events <- db.Change[models.Chat]{Action: db.ActionCreate, Row: added}

	require.Eventually(t, func() bool {
		sets := reg.Snapshot()
		return len(sets.Mine) == 1 && sets.Mine[0].Title == "Fresh Chat"
	}, 2*time.Second, 10*time.Millisecond, "feed event should trigger a refetch")
}

func TestRegistryCreateOptimistic(t *testing.T) {
	store := newFakeRegStore()
	reg := NewRegistry(store, testPrincipal)
	require.NoError(t, reg.Start(context.Background()))
	defer reg.Close(context.Background())

	id, err := reg.Create(context.Background(), "New Chat")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	sets := reg.Snapshot()
	require.Len(t, sets.Mine, 1)
	assert.Equal(t, "New Chat", sets.Mine[0].Title)
	assert.Equal(t, id, models.RecordKey(sets.Mine[0].ID))

	store.mu.Lock()
	_, persisted := store.chats[id]
	store.mu.Unlock()
	assert.True(t, persisted, "chat should be persisted")
}

func TestRegistryCreateRollbackOnError(t *testing.T) {
	store := newFakeRegStore()
	store.createErr = errors.New("rejected")

	reg := NewRegistry(store, testPrincipal)
	require.NoError(t, reg.Start(context.Background()))
	defer reg.Close(context.Background())

	_, err := reg.Create(context.Background(), "Doomed")
	require.Error(t, err)
	assert.Empty(t, reg.Snapshot().Mine, "rejected create should roll back the optimistic chat")
}

func TestRegistryDeleteOptimisticAndRestore(t *testing.T) {
	store := newFakeRegStore()
	chat := namedChat("alice", "Keep Me", false)
	store.sets = db.ChatSets{Mine: []models.Chat{chat}}
	store.chats[models.RecordKey(chat.ID)] = chat

	reg := NewRegistry(store, testPrincipal)
	require.NoError(t, reg.Start(context.Background()))
	defer reg.Close(context.Background())

	t.Run("successful delete removes locally", func(t *testing.T) {
		require.NoError(t, reg.Delete(context.Background(), models.RecordKey(chat.ID)))
		assert.Empty(t, reg.Snapshot().Mine)
	})

	t.Run("failed delete restores from backend", func(t *testing.T) {
		store.mu.Lock()
		store.sets = db.ChatSets{Mine: []models.Chat{chat}}
		store.deleteErr = errors.New("backend down")
		store.mu.Unlock()
		reg.refetch(context.Background())

		err := reg.Delete(context.Background(), models.RecordKey(chat.ID))
		require.Error(t, err)
		assert.Len(t, reg.Snapshot().Mine, 1, "failed delete should restore the chat")
	})
}

func TestRegistryDuplicate(t *testing.T) {
	store := newFakeRegStore()
	src := namedChat("scoutflow-system", "Demo Flow", true)
	srcKey := models.RecordKey(src.ID)
	store.chats[srcKey] = src
	store.msgs[srcKey] = []models.Message{
		{ID: surrealmodels.NewRecordID("message", uuid.NewString()), Chat: src.ID, Role: models.RoleUser, Content: "one", CreatedAt: time.Now().UTC()},
		{ID: surrealmodels.NewRecordID("message", uuid.NewString()), Chat: src.ID, Role: models.RoleAssistant, Content: "two", CreatedAt: time.Now().UTC().Add(time.Second)},
	}
	store.steps[srcKey] = []models.WorkflowStep{
		{ID: surrealmodels.NewRecordID("workflow_step", uuid.NewString()), Chat: src.ID, Title: "Step 1", Status: models.StepStatusComplete, StepNumber: 1},
	}

	reg := NewRegistry(store, testPrincipal)
	require.NoError(t, reg.Start(context.Background()))
	defer reg.Close(context.Background())

	newID, err := reg.Duplicate(context.Background(), srcKey, "My Copy")
	require.NoError(t, err)
	require.NotEmpty(t, newID)
	assert.NotEqual(t, srcKey, newID)

	store.mu.Lock()
	defer store.mu.Unlock()

	copied, ok := store.chats[newID]
	require.True(t, ok, "copy chat should be persisted")
	assert.Equal(t, "My Copy", copied.Title)
	assert.Equal(t, "alice", copied.Username, "copy belongs to the principal")
	assert.False(t, copied.IsExample)

	require.Len(t, store.insertedMsgs, 2)
	for _, m := range store.insertedMsgs {
		assert.Equal(t, newID, models.RecordKey(m.Chat), "messages re-point at the copy")
		assert.True(t, m.FromTemplate, "copied messages carry from_template")
		assert.NotEqual(t, srcKey, models.RecordKey(m.ID))
	}
	assert.Equal(t, "one", store.insertedMsgs[0].Content)
	assert.Equal(t, "two", store.insertedMsgs[1].Content)

	require.Len(t, store.insertedSteps, 1)
	assert.Equal(t, newID, models.RecordKey(store.insertedSteps[0].Chat))
	assert.Equal(t, 1, store.insertedSteps[0].StepNumber)
}

func TestRegistryDuplicatePartialFailureContinues(t *testing.T) {
	store := newFakeRegStore()
	src := namedChat("scoutflow-system", "Demo Flow", true)
	srcKey := models.RecordKey(src.ID)
	store.chats[srcKey] = src
	store.msgs[srcKey] = []models.Message{
		{ID: surrealmodels.NewRecordID("message", uuid.NewString()), Chat: src.ID, Content: "lost"},
	}
	store.steps[srcKey] = []models.WorkflowStep{
		{ID: surrealmodels.NewRecordID("workflow_step", uuid.NewString()), Chat: src.ID, Title: "Survives", StepNumber: 1},
	}
	store.insertMsgErr = errors.New("row rejected")

	reg := NewRegistry(store, testPrincipal)
	require.NoError(t, reg.Start(context.Background()))
	defer reg.Close(context.Background())

	newID, err := reg.Duplicate(context.Background(), srcKey, "")
	require.NoError(t, err, "row-level failure must not abort the copy")
	require.NotEmpty(t, newID)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, "Demo Flow", store.chats[newID].Title, "empty title falls back to the source title")
	assert.Empty(t, store.insertedMsgs)
	assert.Len(t, store.insertedSteps, 1, "steps still copied after message failure")
}

func TestRegistryDuplicateMissingSource(t *testing.T) {
	store := newFakeRegStore()
	reg := NewRegistry(store, testPrincipal)
	require.NoError(t, reg.Start(context.Background()))
	defer reg.Close(context.Background())

	_, err := reg.Duplicate(context.Background(), uuid.NewString(), "Copy")
	require.ErrorIs(t, err, db.ErrNotFound)
}
