package hook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"example.com/agentwatch/internal/domain"
)

var fixedNow = func() time.Time { return time.UnixMilli(1_700_000_000_123) }

func writeTranscript(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBuildEventBasics(t *testing.T) {
	stdin := []byte(`{"session_id":"abc123","tool_name":"Bash","tool_input":{"command":"ls"}}`)
	ev, err := BuildEvent(stdin, Options{SourceApp: "my-app", EventType: "PreToolUse", Now: fixedNow})
	if err != nil {
		t.Fatalf("BuildEvent: %v", err)
	}
	if ev.SourceApp != "my-app" || ev.SessionID != "abc123" || ev.HookEventType != "PreToolUse" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Timestamp != 1_700_000_000_123 {
		t.Errorf("timestamp = %d", ev.Timestamp)
	}
	if string(ev.Payload) != string(stdin) {
		t.Errorf("payload = %s", ev.Payload)
	}
	if len(domain.ValidateEvent(&ev)) != 0 {
		t.Errorf("built event does not validate: %v", domain.ValidateEvent(&ev))
	}
}

func TestBuildEventDefaultsSession(t *testing.T) {
	ev, err := BuildEvent([]byte(`{}`), Options{SourceApp: "a", EventType: "Stop", Now: fixedNow})
	if err != nil {
		t.Fatal(err)
	}
	if ev.SessionID != "unknown" {
		t.Errorf("session = %q", ev.SessionID)
	}
}

func TestBuildEventRejectsBadJSON(t *testing.T) {
	if _, err := BuildEvent([]byte(`not json`), Options{}); err == nil {
		t.Error("expected parse error")
	}
}

func TestBuildEventReadsTranscript(t *testing.T) {
	path := writeTranscript(t,
		`{"type":"user","message":{"content":"hi"}}`,
		`{"type":"assistant","message":{"model":"model-a"}}`,
		`garbage line`,
		`{"type":"assistant","message":{"model":"model-b"}}`,
		`{"type":"user","message":{"content":"thanks"}}`,
	)
	stdin, _ := json.Marshal(map[string]string{"session_id": "s", "transcript_path": path})

	ev, err := BuildEvent(stdin, Options{SourceApp: "a", EventType: "Stop", AddChat: true, Now: fixedNow})
	if err != nil {
		t.Fatal(err)
	}
	if ev.ModelName != "model-b" {
		t.Errorf("model = %q, want model-b", ev.ModelName)
	}
	var chat []map[string]any
	if err := json.Unmarshal(ev.Chat, &chat); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if len(chat) != 4 {
		t.Errorf("chat has %d entries, want 4", len(chat))
	}

	noChat, err := BuildEvent(stdin, Options{SourceApp: "a", EventType: "Stop", Now: fixedNow})
	if err != nil {
		t.Fatal(err)
	}
	if noChat.Chat != nil || noChat.ModelName != "model-b" {
		t.Errorf("without AddChat: chat=%s model=%q", noChat.Chat, noChat.ModelName)
	}
}

func TestBuildEventMissingTranscript(t *testing.T) {
	stdin := []byte(`{"session_id":"s","transcript_path":"/does/not/exist.jsonl"}`)
	ev, err := BuildEvent(stdin, Options{SourceApp: "a", EventType: "Stop", AddChat: true, Now: fixedNow})
	if err != nil {
		t.Fatalf("missing transcript should not fail: %v", err)
	}
	if ev.Chat != nil || ev.ModelName != "" {
		t.Errorf("event = %+v", ev)
	}
}

func TestForward(t *testing.T) {
	var got domain.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ev := domain.Event{SourceApp: "a", SessionID: "s", HookEventType: "Stop", Payload: json.RawMessage(`{}`), Timestamp: 5}
	if err := Forward(context.Background(), nil, srv.URL, ev); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if got.SourceApp != "a" || got.Timestamp != 5 {
		t.Errorf("server received %+v", got)
	}
}

func TestForwardNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	if err := Forward(context.Background(), nil, srv.URL, domain.Event{}); err == nil {
		t.Error("expected error for non-200 status")
	}
}
