package models

import (
	"encoding/json"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message types.
const (
	MessageTypeText            = "text_message"
	MessageTypeScreenRecording = "screen_recording"
	MessageTypeCodeRun         = "code_run"
)

// Message is one entry in a conversation, ordered by created_at ascending.
// Denormalized JSON payloads (code_output_tables, steps) are stored as raw
// text and parsed on read; a corrupt blob never invalidates the row itself.
type Message struct {
	ID                 surrealmodels.RecordID  `json:"id"`
	Chat               surrealmodels.RecordID  `json:"chat"`
	Role               string                  `json:"role"`
	Content            string                  `json:"content"`
	Username           string                  `json:"username"`
	Type               string                  `json:"type"`
	TextIsStreaming    bool                    `json:"text_is_currently_streaming"`
	CodeOutput         *string                 `json:"code_output,omitempty"`
	CodeOutputError    *string                 `json:"code_output_error,omitempty"`
	CodeRunSuccess     *bool                   `json:"code_run_success,omitempty"`
	CodeOutputTables   *string                 `json:"code_output_tables,omitempty"`
	Script             *string                 `json:"script,omitempty"`
	StepsBlob          *string                 `json:"steps,omitempty"`
	FunctionName       *string                 `json:"function_name,omitempty"`
	RunID              *string                 `json:"run_id,omitempty"`
	ScreenRecordingURL *string                 `json:"screenrecording_url,omitempty"`
	WorkflowStepID     *string                 `json:"workflow_step_id,omitempty"`
	FromTemplate       bool                    `json:"from_template"`
	RequiresTextReply  bool                    `json:"requires_text_reply"`
	CreatedAt          time.Time               `json:"created_at"`
}

// OutputTable is one table produced by a code run.
type OutputTable struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Tables parses the code_output_tables blob. Returns nil when the field is
// absent or the JSON is malformed; dependent views render empty instead of
// failing.
func (m *Message) Tables() []OutputTable {
	if m.CodeOutputTables == nil || *m.CodeOutputTables == "" {
		return nil
	}
	var tables []OutputTable
	if err := json.Unmarshal([]byte(*m.CodeOutputTables), &tables); err != nil {
		return nil
	}
	return tables
}

// HasStepsBlob reports whether this message carries a denormalized
// workflow-steps blob.
func (m *Message) HasStepsBlob() bool {
	return m.StepsBlob != nil && *m.StepsBlob != ""
}
