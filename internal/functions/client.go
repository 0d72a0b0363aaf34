// Package functions calls the backend's serverless endpoints. These are
// fire-and-forget helpers for work the dashboard cannot do itself:
// generating assistant replies, copying storage objects, and probing
// backend replication health.
package functions

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client is an HTTP client for the serverless function endpoints.
type Client struct {
	http *resty.Client
}

// NewClient creates a functions client. token is optional; when set it is
// sent as a bearer token.
func NewClient(baseURL, token string) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(60 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	if token != "" {
		http.SetAuthToken(token)
	}
	return &Client{http: http}
}

// RespondToMessage asks the backend to generate an assistant reply for
// the chat's newest message. The reply streams into the message table;
// the conversation feed picks it up.
func (c *Client) RespondToMessage(ctx context.Context, chatID, username string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"chat_id": chatID, "username": username}).
		Post("/functions/respond-to-message")
	if err != nil {
		return fmt.Errorf("respond-to-message: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("respond-to-message: %s: %s", resp.Status(), resp.String())
	}
	return nil
}

// CopyImages duplicates a chat's stored screenshots and recordings for a
// template copy, so the copy survives deletion of the original.
func (c *Client) CopyImages(ctx context.Context, srcChatID, dstChatID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"source_chat_id": srcChatID, "target_chat_id": dstChatID}).
		Post("/functions/copy-images")
	if err != nil {
		return fmt.Errorf("copy-images: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("copy-images: %s: %s", resp.Status(), resp.String())
	}
	return nil
}

type replicaIdentityResult struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

// CheckReplicaIdentity probes whether the backend's change feed
// replication is configured to emit full rows. Without it, update events
// arrive without unchanged columns and reconciliation degrades.
func (c *Client) CheckReplicaIdentity(ctx context.Context) (bool, error) {
	var result replicaIdentityResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Post("/functions/check-replica-identity")
	if err != nil {
		return false, fmt.Errorf("check-replica-identity: %w", err)
	}
	if resp.IsError() {
		return false, fmt.Errorf("check-replica-identity: %s: %s", resp.Status(), resp.String())
	}
	return result.OK, nil
}
