// Package client talks to a comclerk server over HTTP. It implements
// the live.Source contract so a Watcher can run against a remote
// conversation the same way it runs against local stores.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/m4xw311/comclerk/errors"
	"github.com/m4xw311/comclerk/permission"
	"github.com/m4xw311/comclerk/session"
)

// Client is a thin HTTP wrapper. Network failures are marked transient
// so the synchronization layer logs and retries instead of giving up.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the server at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "encoding %s %s body", method, path)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrapf(err, "building %s %s", method, path)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Transient(errors.Wrapf(err, "%s %s", method, path))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return session.ErrNotFound
	}
	if resp.StatusCode >= 500 {
		return errors.Transient(errors.New("%s %s: server returned %s", method, path, resp.Status))
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.New("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decoding %s %s response", method, path)
	}
	return nil
}

// CreateSession makes a new session on the server.
func (c *Client) CreateSession(ctx context.Context, title string) (*session.Session, error) {
	var out session.Session
	body := map[string]string{"title": title}
	if err := c.do(ctx, http.MethodPost, "/session", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSessions fetches all sessions.
func (c *Client) ListSessions(ctx context.Context) ([]*session.Session, error) {
	var out []*session.Session
	if err := c.do(ctx, http.MethodGet, "/session", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSession fetches one session.
func (c *Client) GetSession(ctx context.Context, id string) (*session.Session, error) {
	var out session.Session
	if err := c.do(ctx, http.MethodGet, "/session/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSession removes a session.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/session/"+url.PathEscape(id), nil, nil)
}

// ListMessages fetches the session's full conversation.
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]session.MessageWithParts, error) {
	var out []session.MessageWithParts
	path := fmt.Sprintf("/session/%s/message", url.PathEscape(sessionID))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendPrompt posts a user message, starting an assistant turn.
func (c *Client) SendPrompt(ctx context.Context, sessionID, text string) (*session.MessageWithParts, error) {
	var out session.MessageWithParts
	path := fmt.Sprintf("/session/%s/message", url.PathEscape(sessionID))
	body := map[string]string{"text": text}
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Abort cancels the session's in-flight turn.
func (c *Client) Abort(ctx context.Context, sessionID string) error {
	path := fmt.Sprintf("/session/%s/abort", url.PathEscape(sessionID))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// ListPermissions fetches the session's pending approval requests.
func (c *Client) ListPermissions(ctx context.Context, sessionID string) ([]permission.Request, error) {
	var out []permission.Request
	path := fmt.Sprintf("/session/%s/permission", url.PathEscape(sessionID))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReplyPermission resolves a pending approval request.
func (c *Client) ReplyPermission(ctx context.Context, sessionID, requestID, reply string) error {
	path := fmt.Sprintf("/session/%s/permission/%s", url.PathEscape(sessionID), url.PathEscape(requestID))
	body := map[string]string{"reply": reply}
	return c.do(ctx, http.MethodPost, path, body, nil)
}
