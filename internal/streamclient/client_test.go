package streamclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"example.com/agentwatch/internal/domain"
)

func TestStreamURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"http://localhost:4000", "ws://localhost:4000/stream"},
		{"http://localhost:4000/events", "ws://localhost:4000/stream"},
		{"https://obs.example.com/base/events/", "wss://obs.example.com/base/stream"},
	}
	for _, tt := range tests {
		got, err := StreamURL(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("StreamURL(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
	if _, err := StreamURL("ftp://x"); err == nil {
		t.Error("expected error for ftp")
	}
}

func TestSubscribeDispatches(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, msg := range []string{
			`{"type":"initial","data":[{"id":1,"source_app":"a","session_id":"s","hook_event_type":"Stop","payload":{},"timestamp":10}]}`,
			`{"type":"event","data":{"id":2,"source_app":"a","session_id":"s","hook_event_type":"PreToolUse","payload":{},"timestamp":20}}`,
			`{"type":"event_updated","data":{"id":1,"source_app":"a","session_id":"s","hook_event_type":"Stop","payload":{},"timestamp":10}}`,
		} {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	var initial, live, updated []int64
	err := Subscribe(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), Handlers{
		OnInitial: func(evs []domain.Event) {
			for _, e := range evs {
				initial = append(initial, e.ID)
			}
		},
		OnEvent:  func(e domain.Event) { live = append(live, e.ID) },
		OnUpdate: func(e domain.Event) { updated = append(updated, e.ID) },
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if len(initial) != 1 || len(live) != 1 || live[0] != 2 || len(updated) != 1 {
		t.Errorf("initial=%v live=%v updated=%v", initial, live, updated)
	}
}

func TestSubscribeStopsOnCancel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Subscribe(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), Handlers{}) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Subscribe after cancel: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return after cancel")
	}
}
