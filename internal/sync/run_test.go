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

type statusUpdate struct {
	id         string
	status     string
	inProgress bool
}

type fakeRunStore struct {
	mu      stdsync.Mutex
	run     *models.Run
	runMsgs map[string][]models.RunMessage
	events  []models.CodeRunEvent
	browser []models.BrowserEvent

	statusUpdates    []statusUpdate
	insertedBrowser  []models.BrowserEvent
	browserInsertErr error

	runEvents     chan db.Change[models.Run]
	eventEvents   chan db.Change[models.CodeRunEvent]
	browserEvents chan db.Change[models.BrowserEvent]

	runMsgRequests []string
	runMsgChans    map[string]chan db.Change[models.RunMessage]
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{
		runMsgs:       make(map[string][]models.RunMessage),
		runEvents:     make(chan db.Change[models.Run], 16),
		eventEvents:   make(chan db.Change[models.CodeRunEvent], 16),
		browserEvents: make(chan db.Change[models.BrowserEvent], 16),
		runMsgChans:   make(map[string]chan db.Change[models.RunMessage]),
	}
}

func (f *fakeRunStore) QueryLatestRunByChat(ctx context.Context, chat surrealmodels.RecordID) (*models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.run == nil {
		return nil, db.ErrNotFound
	}
	run := *f.run
	return &run, nil
}

func (f *fakeRunStore) QueryRunMessagesByRun(ctx context.Context, run surrealmodels.RecordID) ([]models.RunMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.RunMessage(nil), f.runMsgs[models.RecordKey(run)]...), nil
}

func (f *fakeRunStore) QueryCodeRunEventsByChat(ctx context.Context, chat surrealmodels.RecordID) ([]models.CodeRunEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.CodeRunEvent(nil), f.events...), nil
}

func (f *fakeRunStore) QueryBrowserEventsByChat(ctx context.Context, chat surrealmodels.RecordID) ([]models.BrowserEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.BrowserEvent(nil), f.browser...), nil
}

func (f *fakeRunStore) QueryUpdateRunStatus(ctx context.Context, id string, status string, inProgress bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusUpdates = append(f.statusUpdates, statusUpdate{id: id, status: status, inProgress: inProgress})
	return nil
}

func (f *fakeRunStore) QueryInsertBrowserEvent(ctx context.Context, ev models.BrowserEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browserInsertErr != nil {
		return f.browserInsertErr
	}
	f.insertedBrowser = append(f.insertedBrowser, ev)
	return nil
}

func (f *fakeRunStore) LiveRunsByChat(ctx context.Context, chat surrealmodels.RecordID) (*db.Feed[models.Run], error) {
	return db.NewFeed(f.runEvents, func(context.Context) error {
		close(f.runEvents)
		return nil
	}), nil
}

func (f *fakeRunStore) LiveRunMessages(ctx context.Context, run surrealmodels.RecordID) (*db.Feed[models.RunMessage], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := models.RecordKey(run)
	f.runMsgRequests = append(f.runMsgRequests, key)
	events := make(chan db.Change[models.RunMessage], 16)
	f.runMsgChans[key] = events
	return db.NewFeed(events, func(context.Context) error {
		close(events)
		return nil
	}), nil
}

func (f *fakeRunStore) LiveCodeRunEventsByChat(ctx context.Context, chat surrealmodels.RecordID) (*db.Feed[models.CodeRunEvent], error) {
	return db.NewFeed(f.eventEvents, func(context.Context) error {
		close(f.eventEvents)
		return nil
	}), nil
}

func (f *fakeRunStore) LiveBrowserEventsByChat(ctx context.Context, chat surrealmodels.RecordID) (*db.Feed[models.BrowserEvent], error) {
	return db.NewFeed(f.browserEvents, func(context.Context) error {
		close(f.browserEvents)
		return nil
	}), nil
}

func makeTestRun(chat surrealmodels.RecordID, at time.Time, inProgress bool) models.Run {
	return models.Run{
		ID:         surrealmodels.NewRecordID("run", uuid.NewString()),
		Chat:       chat,
		Status:     models.RunStatusRunning,
		InProgress: inProgress,
		Username:   "alice",
		CreatedAt:  at,
	}
}

func codeRunEvent(chat surrealmodels.RecordID, desc string, at time.Time, progress, total *int) models.CodeRunEvent {
	return models.CodeRunEvent{
		ID:          surrealmodels.NewRecordID("coderun_event", uuid.NewString()),
		Chat:        chat,
		Description: desc,
		Progress:    progress,
		Total:       total,
		CreatedAt:   at,
	}
}

func intPtr(v int) *int { return &v }

func TestRunTrackerInitialLoad(t *testing.T) {
	store := newFakeRunStore()
	chat := surrealmodels.NewRecordID("chat", uuid.NewString())
	base := time.Now().UTC()

	run := makeTestRun(chat, base, true)
	store.run = &run
	runKey := models.RecordKey(run.ID)
	store.runMsgs[runKey] = []models.RunMessage{
		{ID: surrealmodels.NewRecordID("run_message", uuid.NewString()), Run: run.ID, Sender: "orchestrator", Text: "starting", CreatedAt: base},
	}

	ev := codeRunEvent(chat, "opening portal", base, nil, nil)
	store.events = []models.CodeRunEvent{ev}
	evID := ev.ID
	store.browser = []models.BrowserEvent{
		{ID: surrealmodels.NewRecordID("browser_event", uuid.NewString()), Chat: chat, CodeRunEvent: &evID, Sender: "extension", Type: "click"},
		{ID: surrealmodels.NewRecordID("browser_event", uuid.NewString()), Chat: chat, Sender: "extension", Type: "start_recording"},
	}

	tracker := NewRunTracker(store, testPrincipal)
	require.NoError(t, tracker.Start(context.Background(), chat))
	defer tracker.Close(context.Background())

	view := tracker.Snapshot()
	require.NotNil(t, view.Run)
	assert.True(t, view.Run.InProgress)
	require.Len(t, view.RunMessages, 1)
	require.Len(t, view.Events, 1)
	assert.Len(t, view.Browser[models.RecordKey(evID)], 1, "scoped browser event grouped under its event")
	assert.Len(t, view.Browser[""], 1, "unscoped browser event grouped under empty key")
}

func TestRunTrackerNoActiveRun(t *testing.T) {
	store := newFakeRunStore()
	chat := surrealmodels.NewRecordID("chat", uuid.NewString())

	tracker := NewRunTracker(store, testPrincipal)
	require.NoError(t, tracker.Start(context.Background(), chat), "missing run is not an error")
	defer tracker.Close(context.Background())

	assert.Nil(t, tracker.Snapshot().Run)

	// Stop with nothing running is a no-op
	require.NoError(t, tracker.Stop(context.Background(), "nothing to stop"))
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.statusUpdates)
	assert.Empty(t, store.insertedBrowser)
}

func TestRunTrackerProgressMonotonic(t *testing.T) {
	store := newFakeRunStore()
	chat := surrealmodels.NewRecordID("chat", uuid.NewString())
	base := time.Now().UTC()

	ev := codeRunEvent(chat, "rows", base, intPtr(5), intPtr(10))
	store.events = []models.CodeRunEvent{ev}

	tracker := NewRunTracker(store, testPrincipal)
	require.NoError(t, tracker.Start(context.Background(), chat))
	defer tracker.Close(context.Background())

	// Stale replay with a lower counter must not rewind
	stale := ev
	stale.Progress = intPtr(3)
	store.eventEvents <- db.Change[models.CodeRunEvent]{Action: db.ActionUpdate, Row: stale}

	fresh := ev
	fresh.Progress = intPtr(8)
	store.eventEvents <- db.Change[models.CodeRunEvent]{Action: db.ActionUpdate, Row: fresh}

	require.Eventually(t, func() bool {
		events := tracker.ProgressEvents()
		return len(events) == 1 && *events[0].Progress == 8
	}, 2*time.Second, 10*time.Millisecond, "progress should only move forward")
}

func TestRunTrackerEventPartition(t *testing.T) {
	store := newFakeRunStore()
	chat := surrealmodels.NewRecordID("chat", uuid.NewString())
	base := time.Now().UTC()

	msgID := surrealmodels.NewRecordID("message", uuid.NewString())
	progress := codeRunEvent(chat, "rows", base, intPtr(1), intPtr(4))
	fn := codeRunEvent(chat, "login()", base.Add(time.Second), nil, nil)
	fn.Message = &msgID
	// Only one counter set still classifies as a function call
	half := codeRunEvent(chat, "odd", base.Add(2*time.Second), intPtr(1), nil)
	store.events = []models.CodeRunEvent{half, fn, progress}

	tracker := NewRunTracker(store, testPrincipal)
	require.NoError(t, tracker.Start(context.Background(), chat))
	defer tracker.Close(context.Background())

	progressEvents := tracker.ProgressEvents()
	fnEvents := tracker.FunctionCallEvents()
	require.Len(t, progressEvents, 1)
	require.Len(t, fnEvents, 2)
	assert.Equal(t, len(tracker.Snapshot().Events), len(progressEvents)+len(fnEvents),
		"the two classes partition the event set")

	forMsg := tracker.EventsForMessage(models.RecordKey(msgID))
	require.Len(t, forMsg, 1)
	assert.Equal(t, "login()", forMsg[0].Description)
}

func TestRunTrackerEventOrderingNewestFirst(t *testing.T) {
	store := newFakeRunStore()
	chat := surrealmodels.NewRecordID("chat", uuid.NewString())
	base := time.Now().UTC()

	tracker := NewRunTracker(store, testPrincipal)
	require.NoError(t, tracker.Start(context.Background(), chat))
	defer tracker.Close(context.Background())

	older := codeRunEvent(chat, "older", base, nil, nil)
	newer := codeRunEvent(chat, "newer", base.Add(time.Minute), nil, nil)
	store.eventEvents <- db.Change[models.CodeRunEvent]{Action: db.ActionCreate, Row: older}
	store.eventEvents <- db.Change[models.CodeRunEvent]{Action: db.ActionCreate, Row: newer}
	// Replay dedupes
	store.eventEvents <- db.Change[models.CodeRunEvent]{Action: db.ActionCreate, Row: older}

	require.Eventually(t, func() bool {
		events := tracker.Snapshot().Events
		return len(events) == 2 &&
			events[0].Description == "newer" && events[1].Description == "older"
	}, 2*time.Second, 10*time.Millisecond, "events display newest first without duplicates")
}

func TestRunTrackerNewRunReopensMessageScope(t *testing.T) {
	store := newFakeRunStore()
	chat := surrealmodels.NewRecordID("chat", uuid.NewString())
	base := time.Now().UTC()

	first := makeTestRun(chat, base, true)
	store.run = &first
	firstKey := models.RecordKey(first.ID)
	store.runMsgs[firstKey] = []models.RunMessage{
		{ID: surrealmodels.NewRecordID("run_message", uuid.NewString()), Run: first.ID, Text: "from first run", CreatedAt: base},
	}

	tracker := NewRunTracker(store, testPrincipal)
	require.NoError(t, tracker.Start(context.Background(), chat))
	defer tracker.Close(context.Background())

	require.Len(t, tracker.Snapshot().RunMessages, 1)

	// A newer run takes over
	second := makeTestRun(chat, base.Add(time.Minute), true)
	secondKey := models.RecordKey(second.ID)
	store.mu.Lock()
	store.runMsgs[secondKey] = []models.RunMessage{
		{ID: surrealmodels.NewRecordID("run_message", uuid.NewString()), Run: second.ID, Text: "from second run", CreatedAt: base.Add(time.Minute)},
	}
	store.mu.Unlock()
	store.runEvents <- db.Change[models.Run]{Action: db.ActionCreate, Row: second}

	require.Eventually(t, func() bool {
		view := tracker.Snapshot()
		return view.Run != nil && models.RecordKey(view.Run.ID) == secondKey &&
			len(view.RunMessages) == 1 && view.RunMessages[0].Text == "from second run"
	}, 2*time.Second, 10*time.Millisecond, "new run should displace the old scope")

	store.mu.Lock()
	requests := append([]string(nil), store.runMsgRequests...)
	secondChan := store.runMsgChans[secondKey]
	store.mu.Unlock()
	require.Equal(t, []string{firstKey, secondKey}, requests, "run message feed reopened for the new run")

	// Live messages for the new run flow in
	secondChan <- db.Change[models.RunMessage]{
		Action: db.ActionCreate,
		Row:    models.RunMessage{ID: surrealmodels.NewRecordID("run_message", uuid.NewString()), Run: second.ID, Text: "live", CreatedAt: base.Add(2 * time.Minute)},
	}
	require.Eventually(t, func() bool {
		return len(tracker.Snapshot().RunMessages) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// A stale replay of the first run must not displace the second
	store.runEvents <- db.Change[models.Run]{Action: db.ActionCreate, Row: first}
	time.Sleep(50 * time.Millisecond)
	view := tracker.Snapshot()
	require.NotNil(t, view.Run)
	assert.Equal(t, secondKey, models.RecordKey(view.Run.ID))
}

func TestRunTrackerStop(t *testing.T) {
	store := newFakeRunStore()
	chat := surrealmodels.NewRecordID("chat", uuid.NewString())
	base := time.Now().UTC()

	run := makeTestRun(chat, base, true)
	store.run = &run
	ev := codeRunEvent(chat, "in flight", base, nil, nil)
	store.events = []models.CodeRunEvent{ev}

	tracker := NewRunTracker(store, testPrincipal)
	require.NoError(t, tracker.Start(context.Background(), chat))
	defer tracker.Close(context.Background())

	require.NoError(t, tracker.Stop(context.Background(), "Stopped from dashboard"))

	store.mu.Lock()
	defer store.mu.Unlock()

	require.Len(t, store.insertedBrowser, 1, "abort browser event goes out first")
	abort := store.insertedBrowser[0]
	assert.Equal(t, models.BrowserEventSenderDashboard, abort.Sender)
	assert.Equal(t, models.BrowserEventTypeAbort, abort.Type)
	assert.Equal(t, models.RecordKey(ev.ID), models.RecordKeyPtr(abort.CodeRunEvent))
	require.NotNil(t, abort.DisplayText)
	assert.Equal(t, "Stopped from dashboard", *abort.DisplayText)

	require.Len(t, store.statusUpdates, 1)
	update := store.statusUpdates[0]
	assert.Equal(t, models.RecordKey(run.ID), update.id)
	assert.Equal(t, models.RunStatusAborted, update.status)
	assert.False(t, update.inProgress)

	// Local state flips without waiting for the echo
	view := tracker.Snapshot()
	require.NotNil(t, view.Run)
	assert.False(t, view.Run.InProgress)
	assert.Equal(t, models.RunStatusAborted, view.Run.Status)
}

func TestRunTrackerStopSurvivesBrowserEventFailure(t *testing.T) {
	store := newFakeRunStore()
	chat := surrealmodels.NewRecordID("chat", uuid.NewString())

	run := makeTestRun(chat, time.Now().UTC(), true)
	store.run = &run
	store.browserInsertErr = errors.New("insert refused")

	tracker := NewRunTracker(store, testPrincipal)
	require.NoError(t, tracker.Start(context.Background(), chat))
	defer tracker.Close(context.Background())

	require.NoError(t, tracker.Stop(context.Background(), "still stopping"),
		"abort event failure is best-effort, the status flip must proceed")

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.statusUpdates, 1)
	assert.Equal(t, models.RunStatusAborted, store.statusUpdates[0].status)
}
