package functions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondToMessage(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret-token")
	err := client.RespondToMessage(context.Background(), "chat-123", "alice")
	require.NoError(t, err)

	assert.Equal(t, "/functions/respond-to-message", gotPath)
	assert.Equal(t, "chat-123", gotBody["chat_id"])
	assert.Equal(t, "alice", gotBody["username"])
}

func TestRespondToMessageServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "chat not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	err := client.RespondToMessage(context.Background(), "missing", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestCopyImages(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	require.NoError(t, client.CopyImages(context.Background(), "src-1", "dst-2"))
	assert.Equal(t, "src-1", gotBody["source_chat_id"])
	assert.Equal(t, "dst-2", gotBody["target_chat_id"])
}

func TestCheckReplicaIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "detail": "full rows"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	ok, err := client.CheckReplicaIdentity(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}
