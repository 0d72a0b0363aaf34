// Package models defines the row types stored in the scoutflow backend.
package models

import (
	"fmt"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// RecordIDString safely extracts the string ID from a SurrealDB RecordID.
// Returns an error if the ID is not a string type.
func RecordIDString(id surrealmodels.RecordID) (string, error) {
	s, ok := id.ID.(string)
	if !ok {
		return "", fmt.Errorf("unexpected ID type: %T (expected string)", id.ID)
	}
	return s, nil
}

// RecordKey extracts the string ID from a RecordID, falling back to a
// formatted representation for non-string IDs. All scoutflow ids are
// client-minted UUID strings, so the fallback only fires on foreign rows.
func RecordKey(id surrealmodels.RecordID) string {
	if s, ok := id.ID.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", id.ID)
}

// RecordKeyPtr is RecordKey for optional record links. Returns "" for nil.
func RecordKeyPtr(id *surrealmodels.RecordID) string {
	if id == nil {
		return ""
	}
	return RecordKey(*id)
}

// Principal identifies the current user and the shared system account that
// owns the built-in example chats. Threaded explicitly through every sync
// unit so fixtures can substitute test identities.
type Principal struct {
	Username       string
	SystemUsername string
}
