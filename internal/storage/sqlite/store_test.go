package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"example.com/agentwatch/internal/clock"
	"example.com/agentwatch/internal/domain"
)

func openTestStore(t *testing.T) (*Store, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(time.UnixMilli(1_700_000_000_000))
	s, err := Open(context.Background(), Config{
		Path:     filepath.Join(t.TempDir(), "agentwatch.db"),
		PoolSize: 2,
		Clock:    clk,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, clk
}

func newEvent(app, session, typ string, ts int64) domain.Event {
	return domain.Event{
		SourceApp:     app,
		SessionID:     session,
		HookEventType: typ,
		Payload:       json.RawMessage(`{"tool_name":"Bash","z":1,"a":2}`),
		Timestamp:     ts,
	}
}

func TestInsertAssignsIdentity(t *testing.T) {
	s, clk := openTestStore(t)
	ctx := context.Background()

	in := newEvent("app1", "s1", "PreToolUse", 0)
	in.ID = 999
	out, err := s.InsertEvents(ctx, []domain.Event{in, newEvent("app1", "s1", "PostToolUse", 42)})
	if err != nil {
		t.Fatalf("InsertEvents: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d events", len(out))
	}
	if out[0].ID == 999 || out[0].ID <= 0 || out[1].ID <= out[0].ID {
		t.Errorf("ids not store-assigned and increasing: %d, %d", out[0].ID, out[1].ID)
	}
	if out[0].Timestamp != clk.Now().UnixMilli() {
		t.Errorf("timestamp = %d, want store clock", out[0].Timestamp)
	}
	if out[1].Timestamp != 42 {
		t.Errorf("producer timestamp not kept: %d", out[1].Timestamp)
	}
	if out[0].HumanInTheLoopStatus != nil {
		t.Error("event without HITL got a status")
	}

	got, err := s.GetEvent(ctx, out[0].ID)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if string(got.Payload) != `{"tool_name":"Bash","z":1,"a":2}` {
		t.Errorf("payload not preserved verbatim: %s", got.Payload)
	}
}

func TestRecentOrdering(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	var batch []domain.Event
	for _, ts := range []int64{500, 100, 300, 400, 200} {
		batch = append(batch, newEvent("app", "s", "Stop", ts))
	}
	if _, err := s.InsertEvents(ctx, batch); err != nil {
		t.Fatal(err)
	}

	got, err := s.RecentEvents(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{300, 400, 500}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Timestamp != want[i] {
			t.Errorf("recent[%d].timestamp = %d, want %d", i, got[i].Timestamp, want[i])
		}
	}
}

func TestRecentEmpty(t *testing.T) {
	s, _ := openTestStore(t)
	got, err := s.RecentEvents(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("want empty non-nil slice, got %#v", got)
	}
}

func TestFilterOptions(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	_, err := s.InsertEvents(ctx, []domain.Event{
		newEvent("b-app", "s2", "Stop", 1),
		newEvent("a-app", "s1", "PreToolUse", 2),
		newEvent("a-app", "s1", "Stop", 3),
	})
	if err != nil {
		t.Fatal(err)
	}
	opts, err := s.FilterOptions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(opts.SourceApps) != 2 || opts.SourceApps[0] != "a-app" {
		t.Errorf("source apps = %v", opts.SourceApps)
	}
	if len(opts.SessionIDs) != 2 || len(opts.HookEventTypes) != 2 {
		t.Errorf("unexpected options %+v", opts)
	}
}

func TestResolveHITL(t *testing.T) {
	s, clk := openTestStore(t)
	ctx := context.Background()

	ev := newEvent("app1", "s1", "PermissionRequest", 0)
	ev.HumanInTheLoop = &domain.HumanInTheLoop{Question: "Allow write?", Type: domain.HITLPermission}
	stored, err := s.InsertEvents(ctx, []domain.Event{ev, newEvent("app1", "s1", "Stop", 0)})
	if err != nil {
		t.Fatal(err)
	}
	if st := stored[0].HumanInTheLoopStatus; st == nil || st.Status != domain.HITLPending {
		t.Fatalf("want pending status, got %+v", st)
	}

	clk.Advance(time.Second)
	resolved, err := s.ResolveHITL(ctx, stored[0].ID, json.RawMessage(`{"permission":true}`))
	if err != nil {
		t.Fatalf("ResolveHITL: %v", err)
	}
	st := resolved.HumanInTheLoopStatus
	if st.Status != domain.HITLResponded || string(st.Response) != `{"permission":true}` || st.RespondedAt != clk.Now().UnixMilli() {
		t.Errorf("unexpected status %+v", st)
	}
	if resolved.Timestamp != stored[0].Timestamp || string(resolved.Payload) != string(stored[0].Payload) {
		t.Error("resolve changed other fields")
	}

	_, err = s.ResolveHITL(ctx, stored[0].ID, json.RawMessage(`{"permission":false}`))
	if !domain.IsKind(err, domain.KindConflict) {
		t.Errorf("second resolve: want conflict, got %v", err)
	}
	again, _ := s.GetEvent(ctx, stored[0].ID)
	if string(again.HumanInTheLoopStatus.Response) != `{"permission":true}` {
		t.Errorf("stored response overwritten: %s", again.HumanInTheLoopStatus.Response)
	}

	if _, err := s.ResolveHITL(ctx, 999999, json.RawMessage(`{}`)); !domain.IsKind(err, domain.KindNotFound) {
		t.Errorf("unknown id: want not_found, got %v", err)
	}
	if _, err := s.ResolveHITL(ctx, stored[1].ID, json.RawMessage(`{}`)); !domain.IsKind(err, domain.KindConflict) {
		t.Errorf("event without HITL: want conflict, got %v", err)
	}
	plain, _ := s.GetEvent(ctx, stored[1].ID)
	if plain.HumanInTheLoopStatus != nil {
		t.Error("event without HITL acquired a status")
	}
}
