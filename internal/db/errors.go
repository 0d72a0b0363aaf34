// Package db provides error types for database operations.
package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// Sentinel errors for database operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrRejected indicates the backend refused a write (constraint
	// violation, permission, malformed content). User-initiated mutations
	// surface it; background reconciliation writes only log it.
	ErrRejected = errors.New("write rejected")

	// ErrTransactionConflict indicates a SurrealDB transaction conflict.
	// Callers should typically retry or skip the operation.
	ErrTransactionConflict = errors.New("transaction conflict")

	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
)

// wrapQueryError inspects a SurrealDB error and wraps it with the
// appropriate sentinel if it's a known query error type. Returns the
// original error otherwise.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		msg := queryErr.Message
		if strings.Contains(msg, "Transaction conflict") {
			return fmt.Errorf("%w: %s", ErrTransactionConflict, msg)
		}
		if strings.Contains(msg, "already exists") ||
			strings.Contains(msg, "Found changed value") ||
			strings.Contains(msg, "does not allow") {
			return fmt.Errorf("%w: %s", ErrRejected, msg)
		}
	}

	return err
}
