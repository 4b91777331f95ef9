// Package hook turns agent hook input into events and forwards them to
// the collector. Forwarding is best effort; callers never fail the hook.
package hook

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/goccy/go-json"

	"example.com/agentwatch/internal/domain"
)

const (
	DefaultServerURL = "http://localhost:4000/events"
	ForwardTimeout   = 5 * time.Second
	userAgent        = "agentwatch-hook/1.0"
	unknownSession   = "unknown"
	maxTranscriptLen = 16 * 1024 * 1024
)

type Options struct {
	SourceApp string
	EventType string
	// AddChat attaches the transcript lines as the event chat.
	AddChat bool
	Now     func() time.Time
}

// hookInput holds the fields read from the hook payload; the payload is
// kept verbatim as well.
type hookInput struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
}

// BuildEvent builds the event for one hook invocation from its stdin.
func BuildEvent(stdin []byte, opts Options) (domain.Event, error) {
	var in hookInput
	if err := json.Unmarshal(stdin, &in); err != nil {
		return domain.Event{}, fmt.Errorf("parse hook input: %w", err)
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	session := in.SessionID
	if session == "" {
		session = unknownSession
	}
	ev := domain.Event{
		SourceApp:     opts.SourceApp,
		SessionID:     session,
		HookEventType: opts.EventType,
		Payload:       json.RawMessage(bytes.TrimSpace(stdin)),
		Timestamp:     now().UnixMilli(),
	}
	if in.TranscriptPath == "" {
		return ev, nil
	}
	lines, err := readTranscript(in.TranscriptPath)
	if err != nil {
		// A missing transcript only costs the model name and chat.
		return ev, nil
	}
	ev.ModelName = modelFromTranscript(lines)
	if opts.AddChat {
		chat, err := json.Marshal(lines)
		if err == nil {
			ev.Chat = chat
		}
	}
	return ev, nil
}

// readTranscript returns the JSON objects of a JSONL transcript. Lines
// that do not parse are skipped.
func readTranscript(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []json.RawMessage
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxTranscriptLen)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		lines = append(lines, json.RawMessage(bytes.Clone(line)))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if lines == nil {
		lines = []json.RawMessage{}
	}
	return lines, nil
}

// modelFromTranscript returns the model of the last assistant message.
func modelFromTranscript(lines []json.RawMessage) string {
	for i := len(lines) - 1; i >= 0; i-- {
		var entry struct {
			Message struct {
				Model string `json:"model"`
			} `json:"message"`
		}
		if json.Unmarshal(lines[i], &entry) == nil && entry.Message.Model != "" {
			return entry.Message.Model
		}
	}
	return ""
}

// Forward posts ev to url. Only a 200 response counts as delivered.
func Forward(ctx context.Context, client *http.Client, url string, ev domain.Event) error {
	if client == nil {
		client = &http.Client{Timeout: ForwardTimeout}
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return nil
}
