package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Chat represents one conversation with the assistant. Three disjoint
// logical sets exist, keyed by (is_example, username): the user's own
// chats, the user's example copies, and the system account's examples.
type Chat struct {
	ID        surrealmodels.RecordID `json:"id"`
	Title     string                 `json:"title"`
	IsExample bool                   `json:"is_example"`
	Username  string                 `json:"username"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}
