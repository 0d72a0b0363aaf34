package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Run statuses. in_progress is the sole liveness flag; status is display
// text alongside it.
const (
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusAborted = "aborted"
	RunStatusFailed  = "failed"
)

// Run is one execution instance of a browser-automation workflow.
type Run struct {
	ID          surrealmodels.RecordID `json:"id"`
	Chat        surrealmodels.RecordID `json:"chat"`
	DashboardID *string                `json:"dashboard_id,omitempty"`
	Status      string                 `json:"status"`
	InProgress  bool                   `json:"in_progress"`
	Username    string                 `json:"username"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// RunMessage is an append-only orchestration message scoped to a run,
// ordered by created_at ascending. Never updated or deleted by the client.
type RunMessage struct {
	ID        surrealmodels.RecordID `json:"id"`
	Run       surrealmodels.RecordID `json:"run"`
	Sender    string                 `json:"sender"`
	Type      string                 `json:"type"`
	Text      string                 `json:"text"`
	CreatedAt time.Time              `json:"created_at"`
}

// CodeRunEvent records code-execution progress for a chat, newest first in
// display order.
type CodeRunEvent struct {
	ID           surrealmodels.RecordID  `json:"id"`
	Chat         surrealmodels.RecordID  `json:"chat"`
	Run          *surrealmodels.RecordID `json:"run,omitempty"`
	Message      *surrealmodels.RecordID `json:"message,omitempty"`
	FunctionName *string                 `json:"function_name,omitempty"`
	Description  string                  `json:"description"`
	Progress     *int                    `json:"progress,omitempty"`
	Total        *int                    `json:"total,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
}

// IsProgress reports whether this is a progress event (both counters set)
// as opposed to a function-call event. The two classes partition the full
// event set.
func (e *CodeRunEvent) IsProgress() bool {
	return e.Progress != nil && e.Total != nil
}

// Browser event senders and types used by the dashboard itself.
const (
	BrowserEventSenderDashboard = "dashboard"
	BrowserEventTypeAbort       = "abort"
)

// BrowserEvent is an append-only event emitted by the browser extension
// (or, for aborts, by the dashboard), grouped under its code-run event.
type BrowserEvent struct {
	ID           surrealmodels.RecordID  `json:"id"`
	Chat         surrealmodels.RecordID  `json:"chat"`
	CodeRunEvent *surrealmodels.RecordID `json:"coderun_event,omitempty"`
	Sender       string                  `json:"sender"`
	Type         string                  `json:"type"`
	DisplayText  *string                 `json:"display_text,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
}

// Keyframe is a screenshot captured during a screen recording, scoped to
// the recording's message. seq is client-set and defines insertion order.
type Keyframe struct {
	ID        surrealmodels.RecordID `json:"id"`
	Message   surrealmodels.RecordID `json:"message"`
	Seq       int                    `json:"seq"`
	ImageURL  string                 `json:"image_url"`
	CreatedAt time.Time              `json:"created_at"`
}
