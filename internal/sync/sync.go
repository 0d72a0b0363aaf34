// Package sync keeps local dashboard state reconciled with the backend's
// live change feeds. Each unit owns one slice of state (chat registry,
// conversation, workflow steps, run activity), folds feed events into it
// under a lock, and hands out copies via Snapshot methods. Optimistic
// writes land locally first; the backend echo confirms or corrects them.
package sync

import (
	"context"
	"time"
)

// Trigger requests backend-side work after a local write. The functions
// client implements it against the serverless endpoints; tests substitute
// a recorder.
type Trigger interface {
	// RespondToMessage asks the backend to generate an assistant reply
	// for the chat's newest message.
	RespondToMessage(ctx context.Context, chatID, username string) error
}

// FailMode selects what happens to an optimistic entry whose persist
// failed.
type FailMode int

const (
	// FailModeMark keeps the entry visible, tagged failed.
	FailModeMark FailMode = iota
	// FailModeDrop removes the entry as if it was never sent.
	FailModeDrop
)

// DefaultHighlightTTL is how long an updated workflow step stays
// highlighted before the marker decays.
const DefaultHighlightTTL = 2 * time.Second
