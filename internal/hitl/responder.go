// Package hitl delivers human responses back to the agent that asked,
// over the WebSocket callback named in the request.
package hitl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"example.com/agentwatch/internal/domain"
	"example.com/agentwatch/internal/logging"
	"example.com/agentwatch/internal/metrics"
)

// Callback is the single message written to the agent's socket.
type Callback struct {
	EventID     int64           `json:"event_id"`
	SessionID   string          `json:"session_id"`
	Response    json.RawMessage `json:"response"`
	RespondedAt int64           `json:"responded_at"`
}

var errNoCallback = errors.New("event has no callback url")

type Responder struct {
	dialer  websocket.Dialer
	timeout time.Duration
	wg      sync.WaitGroup
	log     *zerolog.Logger
}

func NewResponder(timeout time.Duration) *Responder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Responder{
		dialer:  websocket.Dialer{HandshakeTimeout: timeout},
		timeout: timeout,
		log:     logging.For("hitl"),
	}
}

// Notify delivers ev's response in the background. Events without a
// callback url are ignored.
func (r *Responder) Notify(ev domain.Event) {
	if ev.HumanInTheLoop == nil || ev.HumanInTheLoop.ResponseWebSocketURL == "" {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.Deliver(ctx, ev); err != nil {
			metrics.HITLCallbacks.WithLabelValues("failed").Inc()
			r.log.Warn().Err(err).Int64("event_id", ev.ID).Msg("hitl callback failed")
			return
		}
		metrics.HITLCallbacks.WithLabelValues("delivered").Inc()
	}()
}

// Deliver writes the callback message and closes the connection.
func (r *Responder) Deliver(ctx context.Context, ev domain.Event) error {
	if ev.HumanInTheLoop == nil || ev.HumanInTheLoop.ResponseWebSocketURL == "" {
		return errNoCallback
	}
	if ev.HumanInTheLoopStatus == nil || ev.HumanInTheLoopStatus.Status != domain.HITLResponded {
		return fmt.Errorf("event %d has no response yet", ev.ID)
	}
	url := ev.HumanInTheLoop.ResponseWebSocketURL
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return fmt.Errorf("unsupported callback url %q", url)
	}

	conn, _, err := r.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	msg, err := json.Marshal(Callback{
		EventID:     ev.ID,
		SessionID:   ev.SessionID,
		Response:    ev.HumanInTheLoopStatus.Response,
		RespondedAt: ev.HumanInTheLoopStatus.RespondedAt,
	})
	if err != nil {
		return fmt.Errorf("encode callback: %w", err)
	}
	deadline := time.Now().Add(r.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("write callback: %w", err)
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return nil
}

// Wait blocks until every background delivery has finished.
func (r *Responder) Wait() { r.wg.Wait() }
