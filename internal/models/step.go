package models

import (
	"encoding/json"
	"fmt"
	"strings"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Workflow step statuses. Completed steps form a prefix of the step list
// under normal operation; the client displays whatever the backend says.
const (
	StepStatusComplete = "complete"
	StepStatusActive   = "active"
	StepStatusWaiting  = "waiting"
)

// WorkflowStep is one row of the dedicated step table. example_data and
// screenshots hold raw JSON text parsed on read.
type WorkflowStep struct {
	ID          surrealmodels.RecordID `json:"id"`
	Chat        surrealmodels.RecordID `json:"chat"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Status      string                 `json:"status"`
	Code        *string                `json:"code,omitempty"`
	ExampleData *string                `json:"example_data,omitempty"`
	Screenshots *string                `json:"screenshots,omitempty"`
	StepNumber  int                    `json:"step_number"`
}

// ScreenshotURLs parses the screenshots blob. A malformed blob yields nil;
// the step itself is kept.
func (s *WorkflowStep) ScreenshotURLs() []string {
	if s.Screenshots == nil || *s.Screenshots == "" {
		return nil
	}
	var urls []string
	if err := json.Unmarshal([]byte(*s.Screenshots), &urls); err != nil {
		return nil
	}
	return urls
}

// ExampleRows parses the example_data blob. A malformed blob yields nil.
func (s *WorkflowStep) ExampleRows() []map[string]any {
	if s.ExampleData == nil || *s.ExampleData == "" {
		return nil
	}
	var rows []map[string]any
	if err := json.Unmarshal([]byte(*s.ExampleData), &rows); err != nil {
		return nil
	}
	return rows
}

// StepSource tags where a chat's step list comes from. Resolved once per
// chat: the dedicated table wins whenever it has rows; the denormalized
// message blob is the fallback.
type StepSource int

const (
	SourceNone StepSource = iota
	SourceTable
	SourceBlob
)

func (s StepSource) String() string {
	switch s {
	case SourceTable:
		return "table"
	case SourceBlob:
		return "blob"
	default:
		return "none"
	}
}

// Step is the display form of a workflow step, unified across both
// sources. Table-backed steps keep their row id; blob-derived steps get a
// synthetic id from their JSON key.
type Step struct {
	ID            string
	Title         string
	Description   string
	Status        string
	StepNumber    int
	Code          *string
	ExampleData   *string
	Screenshots   *string
	ExampleInput  string
	ExampleOutput string
}

// StepFromRow converts a table row into its display form.
func StepFromRow(row WorkflowStep) Step {
	return Step{
		ID:          RecordKey(row.ID),
		Title:       row.Title,
		Description: row.Description,
		Status:      row.Status,
		StepNumber:  row.StepNumber,
		Code:        row.Code,
		ExampleData: row.ExampleData,
		Screenshots: row.Screenshots,
	}
}

// blobStep is the schema-on-read shape of one blob entry. Every field is
// optional; unknown fields are ignored.
type blobStep struct {
	Description   string `json:"description"`
	ExampleInput  string `json:"example_input"`
	ExampleOutput string `json:"example_output"`
}

// StepsFromBlob synthesizes steps from a message's steps blob: one step per
// top-level key, in document order, with 1-based step numbers and status
// "waiting" (the blob form has no status concept). Returns an error only
// when the blob as a whole is not a JSON object; malformed values inside
// are tolerated with empty optional fields.
func StepsFromBlob(raw string) ([]Step, error) {
	dec := json.NewDecoder(strings.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("parse steps blob: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("parse steps blob: expected object, got %v", tok)
	}

	var steps []Step
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parse steps blob key: %w", err)
		}
		key, _ := keyTok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("parse steps blob value: %w", err)
		}

		step := Step{
			ID:         "blob:" + key,
			Title:      key,
			Status:     StepStatusWaiting,
			StepNumber: len(steps) + 1,
		}

		// Values are either an object or a bare description string.
		var body blobStep
		if err := json.Unmarshal(value, &body); err == nil {
			step.Description = body.Description
			step.ExampleInput = body.ExampleInput
			step.ExampleOutput = body.ExampleOutput
		} else {
			var text string
			if err := json.Unmarshal(value, &text); err == nil {
				step.Description = text
			}
		}

		steps = append(steps, step)
	}

	return steps, nil
}

// CurrentStep computes the 1-based index of the step being worked on:
// one past the number of completed steps.
func CurrentStep(steps []Step) int {
	complete := 0
	for _, s := range steps {
		if s.Status == StepStatusComplete {
			complete++
		}
	}
	return complete + 1
}
