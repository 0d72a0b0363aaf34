// Package responder implements the assistant-reply worker. It builds the
// conversation history for a chat, streams LLM tokens into a fresh
// assistant message row, and clears the streaming flag when done. Every
// connected dashboard sees the reply grow through the message feed.
package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
	"github.com/tmc/langchaingo/llms"

	"github.com/scoutflow/scoutflow/internal/db"
	"github.com/scoutflow/scoutflow/internal/metrics"
	"github.com/scoutflow/scoutflow/internal/models"
)

const systemPrompt = `You are scoutflow's workflow assistant. You help users build and run
browser automation workflows. Answer questions about the conversation's
workflow, its steps, and its run results. Be concise.`

// DefaultFlushInterval is the minimum delay between streaming row
// updates. Every dashboard receives one feed event per flush, so this
// bounds fan-out write amplification.
const DefaultFlushInterval = 250 * time.Millisecond

// Store is the subset of db.Client the responder needs.
type Store interface {
	QueryGetChat(ctx context.Context, id string) (*models.Chat, error)
	QueryMessagesByChat(ctx context.Context, chat surrealmodels.RecordID) ([]models.Message, error)
	QueryInsertMessage(ctx context.Context, msg models.Message) error
	QueryUpdateMessageStream(ctx context.Context, id string, text string, streaming bool) error
}

// Generator produces streamed completions. *llm.Model satisfies it.
type Generator interface {
	Stream(ctx context.Context, systemPrompt string, history []llms.MessageContent, onToken func(chunk string)) (string, error)
}

// Service generates assistant replies.
type Service struct {
	store         Store
	gen           Generator
	flushInterval time.Duration
	collector     *metrics.Collector
}

// NewService creates a responder service. flushInterval <= 0 selects
// DefaultFlushInterval.
func NewService(store Store, gen Generator, flushInterval time.Duration) *Service {
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	return &Service{store: store, gen: gen, flushInterval: flushInterval}
}

// WithCollector attaches a metrics collector. Nil disables recording.
func (s *Service) WithCollector(c *metrics.Collector) *Service {
	s.collector = c
	return s
}

// Respond generates a reply to the chat's newest message. The reply row
// is inserted with the streaming flag set, updated throttled as tokens
// arrive, and finalized with the flag cleared. On generation failure the
// flag is still cleared so no dashboard is stuck on a spinner.
func (s *Service) Respond(ctx context.Context, chatID, username string) error {
	chat, err := s.store.QueryGetChat(ctx, chatID)
	if err != nil {
		return fmt.Errorf("respond: %w", err)
	}

	msgs, err := s.store.QueryMessagesByChat(ctx, chat.ID)
	if err != nil {
		return fmt.Errorf("respond: history: %w", err)
	}
	history := historyFromMessages(msgs)
	if len(history) == 0 {
		return fmt.Errorf("respond: chat %s has no messages", chatID)
	}

	reply := models.Message{
		ID:              surrealmodels.NewRecordID("message", uuid.NewString()),
		Chat:            chat.ID,
		Role:            models.RoleAssistant,
		Username:        username,
		Type:            models.MessageTypeText,
		TextIsStreaming: true,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.store.QueryInsertMessage(ctx, reply); err != nil {
		return fmt.Errorf("respond: insert reply: %w", err)
	}
	replyID := models.RecordKey(reply.ID)

	var mu sync.Mutex
	var buf string
	lastFlush := time.Now()
	streamStart := time.Now()

	full, genErr := s.gen.Stream(ctx, systemPrompt, history, func(chunk string) {
		mu.Lock()
		buf += chunk
		flush := time.Since(lastFlush) >= s.flushInterval
		if flush {
			lastFlush = time.Now()
		}
		text := buf
		mu.Unlock()

		if flush {
			if err := s.store.QueryUpdateMessageStream(ctx, replyID, text, true); err != nil {
				slog.Warn("streaming update failed", "message", replyID, "error", err)
			}
		}
	})

	if genErr != nil {
		// Leave whatever streamed in place but never leave the flag set.
		mu.Lock()
		text := buf
		mu.Unlock()
		if err := s.store.QueryUpdateMessageStream(context.WithoutCancel(ctx), replyID, text, false); err != nil {
			slog.Error("failed to clear streaming flag after error", "message", replyID, "error", err)
		}
		return fmt.Errorf("respond: generate: %w", genErr)
	}

	if s.collector != nil {
		// Providers do not report usage on the streaming path, so
		// approximate output tokens from the text length.
		s.collector.RecordLLMUsage(metrics.OpLLMStream, time.Since(streamStart), int64(len(full)/4))
	}

	if err := s.store.QueryUpdateMessageStream(ctx, replyID, full, false); err != nil {
		return fmt.Errorf("respond: finalize reply: %w", err)
	}
	return nil
}

// historyFromMessages converts persisted rows into LLM chat history,
// skipping rows with no text (recordings, pending streams).
func historyFromMessages(msgs []models.Message) []llms.MessageContent {
	history := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		if m.Content == "" || m.TextIsStreaming {
			continue
		}
		role := llms.ChatMessageTypeHuman
		if m.Role == models.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		history = append(history, llms.TextParts(role, m.Content))
	}
	return history
}

// IsNotFound reports whether an error means the chat does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, db.ErrNotFound)
}
