// Package streamclient subscribes to a collector's event stream.
package streamclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"example.com/agentwatch/internal/domain"
)

// Handlers are called from the reading goroutine, one message at a time.
// Nil handlers are skipped.
type Handlers struct {
	OnInitial func([]domain.Event)
	OnEvent   func(domain.Event)
	OnUpdate  func(domain.Event)
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// StreamURL maps a collector base URL (http or https, optionally ending
// in /events) to its WebSocket stream endpoint.
func StreamURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/events") + "/stream"
	u.RawQuery = ""
	return u.String(), nil
}

// Subscribe reads the stream until ctx is cancelled (returning nil) or
// the connection fails.
func Subscribe(ctx context.Context, streamURL string, h Handlers) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", streamURL, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}
		if err := dispatch(data, h); err != nil {
			return err
		}
	}
}

func dispatch(data []byte, h Handlers) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	switch env.Type {
	case "initial":
		var events []domain.Event
		if err := json.Unmarshal(env.Data, &events); err != nil {
			return fmt.Errorf("decode initial: %w", err)
		}
		if h.OnInitial != nil {
			h.OnInitial(events)
		}
	case "event", "event_updated":
		var ev domain.Event
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		fn := h.OnEvent
		if env.Type == "event_updated" {
			fn = h.OnUpdate
		}
		if fn != nil {
			fn(ev)
		}
	case "pong", "ping":
	default:
		return errors.New("unknown message type " + env.Type)
	}
	return nil
}
