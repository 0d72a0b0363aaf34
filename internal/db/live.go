package db

import (
	"context"
	"fmt"
	"sync"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Action identifies what a change feed event did to its row.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Change is one event from a live query: the action plus the full row as
// it exists after the action (for deletes, as it existed before).
type Change[T any] struct {
	Action Action
	Row    T
}

// Feed is a typed live query subscription. Events() yields changes until
// the feed is closed or the live query is killed server-side; the channel
// is closed afterwards. Close is idempotent.
type Feed[T any] struct {
	events <-chan Change[T]
	kill   func(ctx context.Context) error

	closeOnce sync.Once
	closeErr  error
}

// NewFeed wraps an event channel and a kill function into a Feed. Exposed
// so consumers can be tested against hand-fed channels.
func NewFeed[T any](events <-chan Change[T], kill func(ctx context.Context) error) *Feed[T] {
	if kill == nil {
		kill = func(context.Context) error { return nil }
	}
	return &Feed[T]{events: events, kill: kill}
}

// Events returns the change channel. Closed when the feed ends.
func (f *Feed[T]) Events() <-chan Change[T] {
	return f.events
}

// Close kills the underlying live query. The events channel closes once
// the server acknowledges the kill.
func (f *Feed[T]) Close(ctx context.Context) error {
	f.closeOnce.Do(func() {
		f.closeErr = f.kill(ctx)
	})
	return f.closeErr
}

// Live starts a LIVE SELECT query and returns a typed feed over its
// notifications. The query must be a single LIVE SELECT statement; vars
// are its parameters.
//
// Notification payloads arrive as generic values and are re-encoded
// through the connection codec into T. A payload that fails to decode is
// logged and skipped rather than tearing down the feed.
func Live[T any](ctx context.Context, c *Client, query string, vars map[string]any) (*Feed[T], error) {
	res, err := surrealdb.Query[surrealmodels.UUID](ctx, c.db, query, vars)
	if err != nil {
		return nil, wrapQueryError(err)
	}
	if res == nil || len(*res) == 0 {
		return nil, fmt.Errorf("live query: empty result")
	}
	liveID := (*res)[0].Result

	notifications, err := c.db.LiveNotifications(liveID.String())
	if err != nil {
		return nil, fmt.Errorf("live notifications: %w", err)
	}

	events := make(chan Change[T], 64)
	go func() {
		defer close(events)
		for n := range notifications {
			var action Action
			switch n.Action {
			case connection.CreateAction:
				action = ActionCreate
			case connection.UpdateAction:
				action = ActionUpdate
			case connection.DeleteAction:
				action = ActionDelete
			default:
				// KILLED or an action this client does not know; the
				// channel closing ends the feed either way.
				continue
			}

			row, err := decodePayload[T](c.codec, n.Result)
			if err != nil {
				c.logger.Warn("skipping undecodable live notification",
					"live_id", liveID.String(), "action", string(action), "error", err)
				continue
			}

			events <- Change[T]{Action: action, Row: row}
		}
	}()

	kill := func(ctx context.Context) error {
		if err := surrealdb.Kill(ctx, c.db, liveID.String()); err != nil {
			return fmt.Errorf("kill live query: %w", err)
		}
		return nil
	}
	return NewFeed(events, kill), nil
}

// decodePayload round-trips a notification payload through the connection
// codec to land it in a typed struct, preserving SurrealDB custom types
// (record ids, datetimes) that a plain JSON pass would mangle.
func decodePayload[T any](codec payloadCodec, payload any) (T, error) {
	var row T
	raw, err := codec.Marshal(payload)
	if err != nil {
		return row, fmt.Errorf("encode payload: %w", err)
	}
	if err := codec.Unmarshal(raw, &row); err != nil {
		return row, fmt.Errorf("decode payload: %w", err)
	}
	return row, nil
}
