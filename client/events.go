package client

import (
	"bufio"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/m4xw311/comclerk/errors"
	"github.com/m4xw311/comclerk/events"
)

// Events subscribes to the server's SSE stream, filtered to one
// session ("" for all). The returned channel closes when ctx is
// cancelled or the stream drops; reconnecting is the caller's call,
// and the synchronization layer's polling covers the gap meanwhile.
func (c *Client) Events(ctx context.Context, sessionID string) (<-chan events.Event, error) {
	path := c.baseURL + "/event"
	if sessionID != "" {
		path += "?sessionID=" + url.QueryEscape(sessionID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "building event subscription")
	}
	req.Header.Set("Accept", "text/event-stream")

	// No client timeout here; the stream is long-lived and bounded by ctx.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return nil, errors.Transient(errors.Wrapf(err, "subscribing to events"))
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.Transient(errors.New("subscribing to events: server returned %s", resp.Status))
	}

	ch := make(chan events.Event)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}
			var ev events.Event
			if err := json.Unmarshal([]byte(payload), &ev); err != nil {
				log.Printf("skipping malformed event: %v", err)
				continue
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
