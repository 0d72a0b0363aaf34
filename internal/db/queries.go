// Package db provides SurrealDB query functions for scoutflow rows.
package db

import (
	"context"
	"fmt"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/scoutflow/scoutflow/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// ChatSets holds the three disjoint chat lists the registry renders,
// each ordered by updated_at descending.
type ChatSets struct {
	Mine           []models.Chat
	MyExamples     []models.Chat
	SystemExamples []models.Chat
}

// QueryChatSets fetches all chats visible to the principal, partitioned
// into the user's own chats, the user's example copies, and the system
// account's built-in examples.
func (c *Client) QueryChatSets(ctx context.Context, p models.Principal) (ChatSets, error) {
	results, err := surrealdb.Query[[]models.Chat](ctx, c.db, `
		SELECT * FROM chat WHERE username = $username AND is_example = false ORDER BY updated_at DESC;
		SELECT * FROM chat WHERE username = $username AND is_example = true ORDER BY updated_at DESC;
		SELECT * FROM chat WHERE username = $system AND is_example = true ORDER BY updated_at DESC;
	`, map[string]any{
		"username": p.Username,
		"system":   p.SystemUsername,
	})
	if err != nil {
		return ChatSets{}, fmt.Errorf("chat sets: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) < 3 {
		return ChatSets{}, fmt.Errorf("chat sets: expected 3 results, got %d", resultCount(results))
	}

	return ChatSets{
		Mine:           (*results)[0].Result,
		MyExamples:     (*results)[1].Result,
		SystemExamples: (*results)[2].Result,
	}, nil
}

func resultCount[T any](results *[]surrealdb.QueryResult[T]) int {
	if results == nil {
		return 0
	}
	return len(*results)
}

// QueryGetChat retrieves a chat by ID. Returns ErrNotFound if it does not
// exist.
func (c *Client) QueryGetChat(ctx context.Context, id string) (*models.Chat, error) {
	results, err := surrealdb.Query[[]models.Chat](ctx, c.db, `
		SELECT * FROM type::record("chat", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("get chat %s: %w", id, ErrNotFound)
	}
	return &(*results)[0].Result[0], nil
}

// QueryCreateChat inserts a chat under its client-minted id. Timestamps
// are left to the schema defaults.
func (c *Client) QueryCreateChat(ctx context.Context, chat models.Chat) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE type::record("chat", $id) CONTENT {
			title: $title,
			is_example: $is_example,
			username: $username
		}
	`, map[string]any{
		"id":         models.RecordKey(chat.ID),
		"title":      chat.Title,
		"is_example": chat.IsExample,
		"username":   chat.Username,
	})
	if err != nil {
		return fmt.Errorf("create chat: %w", wrapQueryError(err))
	}
	return nil
}

// QueryRenameChat sets a chat's title. Returns false when the chat does
// not exist (the row may have been deleted under us).
func (c *Client) QueryRenameChat(ctx context.Context, id string, title string) (bool, error) {
	results, err := surrealdb.Query[[]models.Chat](ctx, c.db, `
		UPDATE type::record("chat", $id) SET title = $title, updated_at = time::now()
	`, map[string]any{"id": id, "title": title})
	if err != nil {
		return false, fmt.Errorf("rename chat: %w", wrapQueryError(err))
	}
	return results != nil && len(*results) > 0 && len((*results)[0].Result) > 0, nil
}

// QueryDeleteChat deletes a chat and everything scoped to it. Child rows
// go first so a partial failure never leaves orphans pointing at a dead
// chat.
func (c *Client) QueryDeleteChat(ctx context.Context, id string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		LET $chat = type::record("chat", $id);
		DELETE keyframe WHERE message IN (SELECT VALUE id FROM message WHERE chat = $chat);
		DELETE browser_event WHERE chat = $chat;
		DELETE coderun_event WHERE chat = $chat;
		DELETE run_message WHERE run IN (SELECT VALUE id FROM run WHERE chat = $chat);
		DELETE run WHERE chat = $chat;
		DELETE workflow_step WHERE chat = $chat;
		DELETE message WHERE chat = $chat;
		DELETE $chat;
	`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("delete chat: %w", wrapQueryError(err))
	}
	return nil
}

// QueryMessagesByChat returns a chat's messages ordered by created_at
// ascending.
func (c *Client) QueryMessagesByChat(ctx context.Context, chat surrealmodels.RecordID) ([]models.Message, error) {
	results, err := surrealdb.Query[[]models.Message](ctx, c.db, `
		SELECT * FROM message WHERE chat = $chat ORDER BY created_at ASC
	`, map[string]any{"chat": chat})
	if err != nil {
		return nil, fmt.Errorf("messages by chat: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.Message{}, nil
	}
	return (*results)[0].Result, nil
}

// QueryInsertMessage inserts a message under its client-minted id. A zero
// CreatedAt is left to the schema default; a set one is preserved, which
// chat duplication relies on to keep conversation order.
func (c *Client) QueryInsertMessage(ctx context.Context, msg models.Message) error {
	content := map[string]any{
		"chat":                        msg.Chat,
		"role":                        msg.Role,
		"content":                     msg.Content,
		"username":                    msg.Username,
		"type":                        msg.Type,
		"text_is_currently_streaming": msg.TextIsStreaming,
		"from_template":               msg.FromTemplate,
		"requires_text_reply":         msg.RequiresTextReply,
	}
	putOpt(content, "code_output", msg.CodeOutput)
	putOpt(content, "code_output_error", msg.CodeOutputError)
	putOpt(content, "code_output_tables", msg.CodeOutputTables)
	putOpt(content, "script", msg.Script)
	putOpt(content, "steps", msg.StepsBlob)
	putOpt(content, "function_name", msg.FunctionName)
	putOpt(content, "run_id", msg.RunID)
	putOpt(content, "screenrecording_url", msg.ScreenRecordingURL)
	putOpt(content, "workflow_step_id", msg.WorkflowStepID)
	if msg.CodeRunSuccess != nil {
		content["code_run_success"] = *msg.CodeRunSuccess
	}
	if !msg.CreatedAt.IsZero() {
		content["created_at"] = msg.CreatedAt
	}

	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE type::record("message", $id) CONTENT $content
	`, map[string]any{
		"id":      models.RecordKey(msg.ID),
		"content": content,
	})
	if err != nil {
		return fmt.Errorf("insert message: %w", wrapQueryError(err))
	}
	return nil
}

// putOpt adds an optional string field to a content map, skipping nils so
// option<...> schema fields stay NONE.
func putOpt(content map[string]any, key string, val *string) {
	if val != nil {
		content[key] = *val
	}
}

// QueryUpdateMessageStream overwrites a streaming message's accumulated
// text and streaming flag. Used by the responder while tokens arrive.
func (c *Client) QueryUpdateMessageStream(ctx context.Context, id string, text string, streaming bool) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("message", $id) SET
			content = $content,
			text_is_currently_streaming = $streaming
	`, map[string]any{"id": id, "content": text, "streaming": streaming})
	if err != nil {
		return fmt.Errorf("update message stream: %w", wrapQueryError(err))
	}
	return nil
}

// QueryStepsByChat returns a chat's table-backed workflow steps ordered by
// step_number ascending.
func (c *Client) QueryStepsByChat(ctx context.Context, chat surrealmodels.RecordID) ([]models.WorkflowStep, error) {
	results, err := surrealdb.Query[[]models.WorkflowStep](ctx, c.db, `
		SELECT * FROM workflow_step WHERE chat = $chat ORDER BY step_number ASC
	`, map[string]any{"chat": chat})
	if err != nil {
		return nil, fmt.Errorf("steps by chat: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.WorkflowStep{}, nil
	}
	return (*results)[0].Result, nil
}

// QueryInsertStep inserts a workflow step row under its client-minted id.
func (c *Client) QueryInsertStep(ctx context.Context, step models.WorkflowStep) error {
	content := map[string]any{
		"chat":        step.Chat,
		"title":       step.Title,
		"description": step.Description,
		"status":      step.Status,
		"step_number": step.StepNumber,
	}
	putOpt(content, "code", step.Code)
	putOpt(content, "example_data", step.ExampleData)
	putOpt(content, "screenshots", step.Screenshots)

	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE type::record("workflow_step", $id) CONTENT $content
	`, map[string]any{
		"id":      models.RecordKey(step.ID),
		"content": content,
	})
	if err != nil {
		return fmt.Errorf("insert step: %w", wrapQueryError(err))
	}
	return nil
}

// QueryLatestRunByChat returns the chat's most recent run, or ErrNotFound
// when the chat has never run.
func (c *Client) QueryLatestRunByChat(ctx context.Context, chat surrealmodels.RecordID) (*models.Run, error) {
	results, err := surrealdb.Query[[]models.Run](ctx, c.db, `
		SELECT * FROM run WHERE chat = $chat ORDER BY created_at DESC LIMIT 1
	`, map[string]any{"chat": chat})
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, ErrNotFound
	}
	return &(*results)[0].Result[0], nil
}

// QueryGetRun retrieves a run by ID. Returns ErrNotFound if it does not
// exist.
func (c *Client) QueryGetRun(ctx context.Context, id string) (*models.Run, error) {
	results, err := surrealdb.Query[[]models.Run](ctx, c.db, `
		SELECT * FROM type::record("run", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get run: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("get run %s: %w", id, ErrNotFound)
	}
	return &(*results)[0].Result[0], nil
}

// QueryUpdateRunStatus sets a run's status text and liveness flag.
func (c *Client) QueryUpdateRunStatus(ctx context.Context, id string, status string, inProgress bool) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("run", $id) SET
			status = $status,
			in_progress = $in_progress,
			updated_at = time::now()
	`, map[string]any{"id": id, "status": status, "in_progress": inProgress})
	if err != nil {
		return fmt.Errorf("update run status: %w", wrapQueryError(err))
	}
	return nil
}

// QueryRunMessagesByRun returns a run's orchestration messages ordered by
// created_at ascending.
func (c *Client) QueryRunMessagesByRun(ctx context.Context, run surrealmodels.RecordID) ([]models.RunMessage, error) {
	results, err := surrealdb.Query[[]models.RunMessage](ctx, c.db, `
		SELECT * FROM run_message WHERE run = $run ORDER BY created_at ASC
	`, map[string]any{"run": run})
	if err != nil {
		return nil, fmt.Errorf("run messages: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.RunMessage{}, nil
	}
	return (*results)[0].Result, nil
}

// QueryCodeRunEventsByChat returns a chat's code-run events newest first,
// matching display order.
func (c *Client) QueryCodeRunEventsByChat(ctx context.Context, chat surrealmodels.RecordID) ([]models.CodeRunEvent, error) {
	results, err := surrealdb.Query[[]models.CodeRunEvent](ctx, c.db, `
		SELECT * FROM coderun_event WHERE chat = $chat ORDER BY created_at DESC
	`, map[string]any{"chat": chat})
	if err != nil {
		return nil, fmt.Errorf("coderun events: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.CodeRunEvent{}, nil
	}
	return (*results)[0].Result, nil
}

// QueryBrowserEventsByChat returns a chat's browser events ordered by
// created_at ascending. The caller groups them under their code-run event.
func (c *Client) QueryBrowserEventsByChat(ctx context.Context, chat surrealmodels.RecordID) ([]models.BrowserEvent, error) {
	results, err := surrealdb.Query[[]models.BrowserEvent](ctx, c.db, `
		SELECT * FROM browser_event WHERE chat = $chat ORDER BY created_at ASC
	`, map[string]any{"chat": chat})
	if err != nil {
		return nil, fmt.Errorf("browser events: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.BrowserEvent{}, nil
	}
	return (*results)[0].Result, nil
}

// QueryInsertBrowserEvent inserts a browser event under its client-minted
// id. The dashboard only emits abort events; everything else comes from
// the extension.
func (c *Client) QueryInsertBrowserEvent(ctx context.Context, ev models.BrowserEvent) error {
	content := map[string]any{
		"chat":   ev.Chat,
		"sender": ev.Sender,
		"type":   ev.Type,
	}
	if ev.CodeRunEvent != nil {
		content["coderun_event"] = *ev.CodeRunEvent
	}
	putOpt(content, "display_text", ev.DisplayText)

	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE type::record("browser_event", $id) CONTENT $content
	`, map[string]any{
		"id":      models.RecordKey(ev.ID),
		"content": content,
	})
	if err != nil {
		return fmt.Errorf("insert browser event: %w", wrapQueryError(err))
	}
	return nil
}

// QueryKeyframesByMessage returns a recording's keyframes in insertion
// order (client-set seq).
func (c *Client) QueryKeyframesByMessage(ctx context.Context, message surrealmodels.RecordID) ([]models.Keyframe, error) {
	results, err := surrealdb.Query[[]models.Keyframe](ctx, c.db, `
		SELECT * FROM keyframe WHERE message = $message ORDER BY seq ASC
	`, map[string]any{"message": message})
	if err != nil {
		return nil, fmt.Errorf("keyframes: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.Keyframe{}, nil
	}
	return (*results)[0].Result, nil
}

// ==========================================================================
// LIVE FEEDS
// ==========================================================================

// LiveChatsByUsername opens a change feed over one user's chats. The
// registry runs two of these, one per principal identity.
func (c *Client) LiveChatsByUsername(ctx context.Context, username string) (*Feed[models.Chat], error) {
	return Live[models.Chat](ctx, c,
		"LIVE SELECT * FROM chat WHERE username = $username",
		map[string]any{"username": username})
}

// LiveMessagesByChat opens a change feed over one chat's messages.
func (c *Client) LiveMessagesByChat(ctx context.Context, chat surrealmodels.RecordID) (*Feed[models.Message], error) {
	return Live[models.Message](ctx, c,
		"LIVE SELECT * FROM message WHERE chat = $chat",
		map[string]any{"chat": chat})
}

// LiveStepsByChat opens a change feed over one chat's table-backed steps.
func (c *Client) LiveStepsByChat(ctx context.Context, chat surrealmodels.RecordID) (*Feed[models.WorkflowStep], error) {
	return Live[models.WorkflowStep](ctx, c,
		"LIVE SELECT * FROM workflow_step WHERE chat = $chat",
		map[string]any{"chat": chat})
}

// LiveRunsByChat opens a change feed over one chat's runs.
func (c *Client) LiveRunsByChat(ctx context.Context, chat surrealmodels.RecordID) (*Feed[models.Run], error) {
	return Live[models.Run](ctx, c,
		"LIVE SELECT * FROM run WHERE chat = $chat",
		map[string]any{"chat": chat})
}

// LiveRunMessages opens a change feed over one run's orchestration
// messages. Reopened whenever the active run changes.
func (c *Client) LiveRunMessages(ctx context.Context, run surrealmodels.RecordID) (*Feed[models.RunMessage], error) {
	return Live[models.RunMessage](ctx, c,
		"LIVE SELECT * FROM run_message WHERE run = $run",
		map[string]any{"run": run})
}

// LiveCodeRunEventsByChat opens a change feed over one chat's code-run
// events.
func (c *Client) LiveCodeRunEventsByChat(ctx context.Context, chat surrealmodels.RecordID) (*Feed[models.CodeRunEvent], error) {
	return Live[models.CodeRunEvent](ctx, c,
		"LIVE SELECT * FROM coderun_event WHERE chat = $chat",
		map[string]any{"chat": chat})
}

// LiveBrowserEventsByChat opens a change feed over one chat's browser
// events.
func (c *Client) LiveBrowserEventsByChat(ctx context.Context, chat surrealmodels.RecordID) (*Feed[models.BrowserEvent], error) {
	return Live[models.BrowserEvent](ctx, c,
		"LIVE SELECT * FROM browser_event WHERE chat = $chat",
		map[string]any{"chat": chat})
}
