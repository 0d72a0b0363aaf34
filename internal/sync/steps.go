package sync

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/scoutflow/scoutflow/internal/db"
	"github.com/scoutflow/scoutflow/internal/models"
)

// StepsStore is the subset of db.Client the step tracker needs.
type StepsStore interface {
	QueryStepsByChat(ctx context.Context, chat surrealmodels.RecordID) ([]models.WorkflowStep, error)
	QueryMessagesByChat(ctx context.Context, chat surrealmodels.RecordID) ([]models.Message, error)
	LiveStepsByChat(ctx context.Context, chat surrealmodels.RecordID) (*db.Feed[models.WorkflowStep], error)
	LiveMessagesByChat(ctx context.Context, chat surrealmodels.RecordID) (*db.Feed[models.Message], error)
}

// StepsView is a point-in-time copy of a chat's workflow steps.
type StepsView struct {
	Source      models.StepSource
	Steps       []models.Step
	CurrentStep int
	// Updating holds ids of steps whose highlight has not decayed yet.
	Updating []string
}

// StepTracker maintains one chat's workflow step list. Two sources feed
// it: the dedicated step table and the denormalized blob on the newest
// steps-carrying message. The table wins whenever it has rows; the blob
// is the fallback for chats created before the table existed.
type StepTracker struct {
	store        StepsStore
	highlightTTL time.Duration
	chat         surrealmodels.RecordID

	mu     sync.Mutex
	rows   []models.WorkflowStep // sorted by step_number
	blob   []models.Step
	blobAt time.Time // created_at of the message the blob came from

	updating map[string]*time.Timer

	stepFeed *db.Feed[models.WorkflowStep]
	msgFeed  *db.Feed[models.Message]
	wg       sync.WaitGroup
}

// NewStepTracker creates a step tracker. highlightTTL <= 0 selects
// DefaultHighlightTTL.
func NewStepTracker(store StepsStore, highlightTTL time.Duration) *StepTracker {
	if highlightTTL <= 0 {
		highlightTTL = DefaultHighlightTTL
	}
	return &StepTracker{
		store:        store,
		highlightTTL: highlightTTL,
		updating:     make(map[string]*time.Timer),
	}
}

// Start resolves the chat's step source and subscribes to both the step
// table feed and the message feed (for blob updates).
func (t *StepTracker) Start(ctx context.Context, chat surrealmodels.RecordID) error {
	t.chat = chat

	rows, err := t.store.QueryStepsByChat(ctx, chat)
	if err != nil {
		return fmt.Errorf("initial steps: %w", err)
	}

	msgs, err := t.store.QueryMessagesByChat(ctx, chat)
	if err != nil {
		return fmt.Errorf("initial messages for steps: %w", err)
	}

	t.mu.Lock()
	t.rows = rows
	// Cache the newest blob even in table mode; it becomes the fallback
	// if the table empties out.
	for _, m := range msgs {
		t.adoptBlobLocked(m)
	}
	t.mu.Unlock()

	stepFeed, err := t.store.LiveStepsByChat(ctx, chat)
	if err != nil {
		return fmt.Errorf("step feed: %w", err)
	}
	t.stepFeed = stepFeed

	msgFeed, err := t.store.LiveMessagesByChat(ctx, chat)
	if err != nil {
		_ = stepFeed.Close(ctx)
		return fmt.Errorf("message feed for steps: %w", err)
	}
	t.msgFeed = msgFeed

	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		for change := range stepFeed.Events() {
			t.applyStep(change)
		}
	}()
	go func() {
		defer t.wg.Done()
		for change := range msgFeed.Events() {
			t.applyMessage(change)
		}
	}()
	return nil
}

// Close kills both feeds, stops pending highlight timers, and waits for
// the pumps to drain.
func (t *StepTracker) Close(ctx context.Context) error {
	var firstErr error
	if t.stepFeed != nil {
		firstErr = t.stepFeed.Close(ctx)
	}
	if t.msgFeed != nil {
		if err := t.msgFeed.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.wg.Wait()

	t.mu.Lock()
	for id, timer := range t.updating {
		timer.Stop()
		delete(t.updating, id)
	}
	t.mu.Unlock()
	return firstErr
}

func (t *StepTracker) applyStep(change db.Change[models.WorkflowStep]) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := models.RecordKey(change.Row.ID)
	idx := -1
	for i, row := range t.rows {
		if models.RecordKey(row.ID) == key {
			idx = i
			break
		}
	}

	switch change.Action {
	case db.ActionCreate:
		if idx >= 0 {
			t.rows[idx] = change.Row
		} else {
			t.rows = append(t.rows, change.Row)
			slices.SortStableFunc(t.rows, func(a, b models.WorkflowStep) int {
				return a.StepNumber - b.StepNumber
			})
		}
		t.markUpdatingLocked(key)

	case db.ActionUpdate:
		if idx < 0 {
			return
		}
		t.rows[idx] = change.Row
		t.markUpdatingLocked(key)

	case db.ActionDelete:
		if idx >= 0 {
			t.rows = append(t.rows[:idx:idx], t.rows[idx+1:]...)
		}
	}
}

func (t *StepTracker) applyMessage(change db.Change[models.Message]) {
	if change.Action == db.ActionDelete || !change.Row.HasStepsBlob() {
		return
	}
	t.mu.Lock()
	t.adoptBlobLocked(change.Row)
	t.mu.Unlock()
}

// adoptBlobLocked re-derives blob steps when msg carries the newest blob
// seen so far. Malformed blobs are logged and the previous derivation is
// kept.
func (t *StepTracker) adoptBlobLocked(msg models.Message) {
	if !msg.HasStepsBlob() || msg.CreatedAt.Before(t.blobAt) {
		return
	}
	steps, err := models.StepsFromBlob(*msg.StepsBlob)
	if err != nil {
		slog.Warn("ignoring malformed steps blob",
			"message", models.RecordKey(msg.ID), "error", err)
		return
	}
	t.blob = steps
	t.blobAt = msg.CreatedAt
}

// markUpdatingLocked highlights a step and arms its decay timer. A fresh
// update on an already highlighted step restarts the clock.
func (t *StepTracker) markUpdatingLocked(id string) {
	if timer, ok := t.updating[id]; ok {
		timer.Reset(t.highlightTTL)
		return
	}
	t.updating[id] = time.AfterFunc(t.highlightTTL, func() {
		t.mu.Lock()
		delete(t.updating, id)
		t.mu.Unlock()
	})
}

// Snapshot resolves the current source and returns a copy of the step
// list in display form.
func (t *StepTracker) Snapshot() StepsView {
	t.mu.Lock()
	defer t.mu.Unlock()

	view := StepsView{Source: models.SourceNone}
	switch {
	case len(t.rows) > 0:
		view.Source = models.SourceTable
		view.Steps = make([]models.Step, 0, len(t.rows))
		for _, row := range t.rows {
			view.Steps = append(view.Steps, models.StepFromRow(row))
		}
	case len(t.blob) > 0:
		view.Source = models.SourceBlob
		view.Steps = append([]models.Step(nil), t.blob...)
	}
	view.CurrentStep = models.CurrentStep(view.Steps)

	for id := range t.updating {
		view.Updating = append(view.Updating, id)
	}
	slices.Sort(view.Updating)
	return view
}

// Highlighted reports whether a step's update marker is still live.
func (t *StepTracker) Highlighted(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.updating[id]
	return ok
}
