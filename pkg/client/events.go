package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/octapusprime/octapus/pkg/trace"
)

// Subscribe opens the server's event stream. The channel is closed when
// ctx is done or the connection drops; callers that still need updates
// then switch to Poll.
func (c *Client) Subscribe(ctx context.Context) (<-chan trace.Event, error) {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/ws"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", u.String(), err)
	}

	out := make(chan trace.Event, 64)
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		conn.Close()
	}()
	go func() {
		defer close(out)
		defer close(stop)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var evt trace.Event
			if err := json.Unmarshal(data, &evt); err != nil {
				continue
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Poll calls fn with the newly logged lines at a fixed interval until ctx
// is done. Failed fetches are reported to fn and polling continues; there
// is no backoff between attempts.
func (c *Client) Poll(ctx context.Context, fn func(lines []string, err error)) error {
	ticker := backoff.NewTicker(backoff.NewConstantBackOff(c.poll))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			lines, err := c.FetchLatestLogs(ctx)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fn(lines, err)
		}
	}
}
