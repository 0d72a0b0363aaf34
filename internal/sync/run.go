package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/scoutflow/scoutflow/internal/db"
	"github.com/scoutflow/scoutflow/internal/models"
)

// RunStore is the subset of db.Client the run tracker needs.
type RunStore interface {
	QueryLatestRunByChat(ctx context.Context, chat surrealmodels.RecordID) (*models.Run, error)
	QueryRunMessagesByRun(ctx context.Context, run surrealmodels.RecordID) ([]models.RunMessage, error)
	QueryCodeRunEventsByChat(ctx context.Context, chat surrealmodels.RecordID) ([]models.CodeRunEvent, error)
	QueryBrowserEventsByChat(ctx context.Context, chat surrealmodels.RecordID) ([]models.BrowserEvent, error)
	QueryUpdateRunStatus(ctx context.Context, id string, status string, inProgress bool) error
	QueryInsertBrowserEvent(ctx context.Context, ev models.BrowserEvent) error
	LiveRunsByChat(ctx context.Context, chat surrealmodels.RecordID) (*db.Feed[models.Run], error)
	LiveRunMessages(ctx context.Context, run surrealmodels.RecordID) (*db.Feed[models.RunMessage], error)
	LiveCodeRunEventsByChat(ctx context.Context, chat surrealmodels.RecordID) (*db.Feed[models.CodeRunEvent], error)
	LiveBrowserEventsByChat(ctx context.Context, chat surrealmodels.RecordID) (*db.Feed[models.BrowserEvent], error)
}

// RunView is a point-in-time copy of a chat's run activity.
type RunView struct {
	Run         *models.Run
	RunMessages []models.RunMessage   // created_at ascending
	Events      []models.CodeRunEvent // newest first
	// Browser groups browser events under the key of their code-run
	// event ("" for unscoped events), each group in arrival order.
	Browser map[string][]models.BrowserEvent
}

// RunTracker maintains one chat's active run, its orchestration
// messages, and the code-run / browser event streams. The run-message
// feed is scoped to the active run and is reopened whenever the active
// run changes.
type RunTracker struct {
	store     RunStore
	principal models.Principal
	chat      surrealmodels.RecordID

	// ctx spans Start..Close; reopening the run-message feed mid-flight
	// needs it.
	ctx context.Context

	mu          sync.Mutex
	run         *models.Run
	runMessages []models.RunMessage
	events      []models.CodeRunEvent
	browser     map[string][]models.BrowserEvent

	runFeed     *db.Feed[models.Run]
	runMsgFeed  *db.Feed[models.RunMessage]
	eventFeed   *db.Feed[models.CodeRunEvent]
	browserFeed *db.Feed[models.BrowserEvent]
	wg          sync.WaitGroup
}

// NewRunTracker creates a run tracker for the given principal.
func NewRunTracker(store RunStore, principal models.Principal) *RunTracker {
	return &RunTracker{
		store:     store,
		principal: principal,
		browser:   make(map[string][]models.BrowserEvent),
	}
}

// Start loads the chat's latest run and event history, then subscribes
// to the run, run-message, code-run event, and browser event feeds.
func (t *RunTracker) Start(ctx context.Context, chat surrealmodels.RecordID) error {
	t.chat = chat
	t.ctx = ctx

	run, err := t.store.QueryLatestRunByChat(ctx, chat)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("latest run: %w", err)
	}
	t.run = run

	if run != nil {
		msgs, err := t.store.QueryRunMessagesByRun(ctx, run.ID)
		if err != nil {
			return fmt.Errorf("initial run messages: %w", err)
		}
		t.runMessages = msgs
	}

	events, err := t.store.QueryCodeRunEventsByChat(ctx, chat)
	if err != nil {
		return fmt.Errorf("initial coderun events: %w", err)
	}
	t.events = events

	browserEvents, err := t.store.QueryBrowserEventsByChat(ctx, chat)
	if err != nil {
		return fmt.Errorf("initial browser events: %w", err)
	}
	for _, ev := range browserEvents {
		group := models.RecordKeyPtr(ev.CodeRunEvent)
		t.browser[group] = append(t.browser[group], ev)
	}

	if t.runFeed, err = t.store.LiveRunsByChat(ctx, chat); err != nil {
		return fmt.Errorf("run feed: %w", err)
	}
	if t.eventFeed, err = t.store.LiveCodeRunEventsByChat(ctx, chat); err != nil {
		t.closeFeeds(ctx)
		return fmt.Errorf("coderun event feed: %w", err)
	}
	if t.browserFeed, err = t.store.LiveBrowserEventsByChat(ctx, chat); err != nil {
		t.closeFeeds(ctx)
		return fmt.Errorf("browser event feed: %w", err)
	}
	if run != nil {
		feed, err := t.store.LiveRunMessages(ctx, run.ID)
		if err != nil {
			t.closeFeeds(ctx)
			return fmt.Errorf("run message feed: %w", err)
		}
		t.startRunMessagePump(feed)
	}

	t.wg.Add(3)
	go func() {
		defer t.wg.Done()
		for change := range t.runFeed.Events() {
			t.applyRun(change)
		}
	}()
	go func() {
		defer t.wg.Done()
		for change := range t.eventFeed.Events() {
			t.applyEvent(change)
		}
	}()
	go func() {
		defer t.wg.Done()
		for change := range t.browserFeed.Events() {
			t.applyBrowser(change)
		}
	}()
	return nil
}

// startRunMessagePump installs feed as the active run-message feed and
// drains it. Caller must not hold t.mu.
func (t *RunTracker) startRunMessagePump(feed *db.Feed[models.RunMessage]) {
	t.mu.Lock()
	t.runMsgFeed = feed
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for change := range feed.Events() {
			t.applyRunMessage(change)
		}
	}()
}

// Close kills every feed and waits for the pumps to drain.
func (t *RunTracker) Close(ctx context.Context) error {
	err := t.closeFeeds(ctx)
	t.wg.Wait()
	return err
}

func (t *RunTracker) closeFeeds(ctx context.Context) error {
	t.mu.Lock()
	runMsgFeed := t.runMsgFeed
	t.mu.Unlock()

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if t.runFeed != nil {
		keep(t.runFeed.Close(ctx))
	}
	if t.eventFeed != nil {
		keep(t.eventFeed.Close(ctx))
	}
	if t.browserFeed != nil {
		keep(t.browserFeed.Close(ctx))
	}
	if runMsgFeed != nil {
		keep(runMsgFeed.Close(ctx))
	}
	return firstErr
}

// applyRun adopts run changes. A newer run displaces the active one and
// moves the run-message scope with it.
func (t *RunTracker) applyRun(change db.Change[models.Run]) {
	row := change.Row
	key := models.RecordKey(row.ID)

	t.mu.Lock()
	current := t.run
	switch change.Action {
	case db.ActionCreate, db.ActionUpdate:
		if current != nil && models.RecordKey(current.ID) == key {
			t.run = &row
			t.mu.Unlock()
			return
		}
		if current != nil && row.CreatedAt.Before(current.CreatedAt) {
			// Stale run replayed after a newer one took over.
			t.mu.Unlock()
			return
		}
		t.run = &row
		t.runMessages = nil
		oldFeed := t.runMsgFeed
		t.runMsgFeed = nil
		t.mu.Unlock()
		t.switchRunScope(row.ID, oldFeed)
		return

	case db.ActionDelete:
		if current != nil && models.RecordKey(current.ID) == key {
			t.run = nil
			t.runMessages = nil
			oldFeed := t.runMsgFeed
			t.runMsgFeed = nil
			t.mu.Unlock()
			if oldFeed != nil {
				_ = oldFeed.Close(t.ctx)
			}
			return
		}
	}
	t.mu.Unlock()
}

// switchRunScope re-targets the run-message feed and backlog at a new
// active run.
func (t *RunTracker) switchRunScope(run surrealmodels.RecordID, oldFeed *db.Feed[models.RunMessage]) {
	if oldFeed != nil {
		_ = oldFeed.Close(t.ctx)
	}

	feed, err := t.store.LiveRunMessages(t.ctx, run)
	if err != nil {
		slog.Warn("run message feed reopen failed",
			"run", models.RecordKey(run), "error", err)
		return
	}

	msgs, err := t.store.QueryRunMessagesByRun(t.ctx, run)
	if err != nil {
		slog.Warn("run message backlog fetch failed",
			"run", models.RecordKey(run), "error", err)
	} else {
		t.mu.Lock()
		// Only adopt if this run is still the active one.
		if t.run != nil && models.RecordKey(t.run.ID) == models.RecordKey(run) {
			t.runMessages = msgs
		}
		t.mu.Unlock()
	}

	t.startRunMessagePump(feed)
}

func (t *RunTracker) applyRunMessage(change db.Change[models.RunMessage]) {
	if change.Action == db.ActionDelete {
		return // append-only table
	}
	row := change.Row

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.run == nil || models.RecordKey(t.run.ID) != models.RecordKey(row.Run) {
		return
	}
	key := models.RecordKey(row.ID)
	for i, m := range t.runMessages {
		if models.RecordKey(m.ID) == key {
			t.runMessages[i] = row
			return
		}
	}
	at := len(t.runMessages)
	for i, m := range t.runMessages {
		if row.CreatedAt.Before(m.CreatedAt) {
			at = i
			break
		}
	}
	t.runMessages = slices.Insert(t.runMessages, at, row)
}

func (t *RunTracker) applyEvent(change db.Change[models.CodeRunEvent]) {
	if change.Action == db.ActionDelete {
		return
	}
	row := change.Row

	t.mu.Lock()
	defer t.mu.Unlock()

	key := models.RecordKey(row.ID)
	for i, e := range t.events {
		if models.RecordKey(e.ID) == key {
			// Progress counters only grow; stale replays must not
			// rewind them.
			if row.Progress != nil && t.events[i].Progress != nil &&
				*row.Progress < *t.events[i].Progress {
				return
			}
			t.events[i] = row
			return
		}
	}
	// Newest first
	at := len(t.events)
	for i, e := range t.events {
		if row.CreatedAt.After(e.CreatedAt) {
			at = i
			break
		}
	}
	t.events = slices.Insert(t.events, at, row)
}

func (t *RunTracker) applyBrowser(change db.Change[models.BrowserEvent]) {
	if change.Action == db.ActionDelete {
		return
	}
	row := change.Row

	t.mu.Lock()
	defer t.mu.Unlock()

	group := models.RecordKeyPtr(row.CodeRunEvent)
	key := models.RecordKey(row.ID)
	for _, ev := range t.browser[group] {
		if models.RecordKey(ev.ID) == key {
			return
		}
	}
	t.browser[group] = append(t.browser[group], row)
}

// Snapshot returns a copy of the current run activity.
func (t *RunTracker) Snapshot() RunView {
	t.mu.Lock()
	defer t.mu.Unlock()

	view := RunView{
		RunMessages: append([]models.RunMessage(nil), t.runMessages...),
		Events:      append([]models.CodeRunEvent(nil), t.events...),
		Browser:     make(map[string][]models.BrowserEvent, len(t.browser)),
	}
	if t.run != nil {
		run := *t.run
		view.Run = &run
	}
	for group, evs := range t.browser {
		view.Browser[group] = append([]models.BrowserEvent(nil), evs...)
	}
	return view
}

// ProgressEvents returns the events carrying progress counters, newest
// first.
func (t *RunTracker) ProgressEvents() []models.CodeRunEvent {
	return t.filterEvents(true)
}

// FunctionCallEvents returns the events without progress counters,
// newest first. Together with ProgressEvents this covers every event
// exactly once.
func (t *RunTracker) FunctionCallEvents() []models.CodeRunEvent {
	return t.filterEvents(false)
}

func (t *RunTracker) filterEvents(progress bool) []models.CodeRunEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []models.CodeRunEvent
	for _, e := range t.events {
		if e.IsProgress() == progress {
			out = append(out, e)
		}
	}
	return out
}

// EventsForMessage returns the code-run events linked to one chat
// message, newest first.
func (t *RunTracker) EventsForMessage(messageID string) []models.CodeRunEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []models.CodeRunEvent
	for _, e := range t.events {
		if models.RecordKeyPtr(e.Message) == messageID {
			out = append(out, e)
		}
	}
	return out
}

// Stop aborts the active run: a best-effort abort browser event first so
// the extension side sees the intent, then the authoritative run status
// flip. Returns nil when no run is in progress.
func (t *RunTracker) Stop(ctx context.Context, reason string) error {
	t.mu.Lock()
	run := t.run
	var latestEvent *surrealmodels.RecordID
	if len(t.events) > 0 {
		id := t.events[0].ID
		latestEvent = &id
	}
	t.mu.Unlock()

	if run == nil || !run.InProgress {
		return nil
	}
	runID := models.RecordKey(run.ID)

	ev := models.BrowserEvent{
		ID:           surrealmodels.NewRecordID("browser_event", uuid.NewString()),
		Chat:         t.chat,
		CodeRunEvent: latestEvent,
		Sender:       models.BrowserEventSenderDashboard,
		Type:         models.BrowserEventTypeAbort,
	}
	if reason != "" {
		ev.DisplayText = &reason
	}
	if err := t.store.QueryInsertBrowserEvent(ctx, ev); err != nil {
		slog.Warn("abort browser event failed", "run", runID, "error", err)
	}

	if err := t.store.QueryUpdateRunStatus(ctx, runID, models.RunStatusAborted, false); err != nil {
		return fmt.Errorf("abort run: %w", err)
	}

	// Flip locally too; the feed echo will confirm.
	t.mu.Lock()
	if t.run != nil && models.RecordKey(t.run.ID) == runID {
		t.run.Status = models.RunStatusAborted
		t.run.InProgress = false
	}
	t.mu.Unlock()
	return nil
}
