package aggregator

import (
	"testing"
	"time"

	"github.com/goccy/go-json"

	"example.com/agentwatch/internal/clock"
	"example.com/agentwatch/internal/domain"
)

// t0 is a multiple of every bucket width.
const t0 = int64(1_700_000_000_000)

func newAggregator(t *testing.T, opts Options) (*Aggregator, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(time.UnixMilli(t0))
	opts.Clock = clk
	a, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, clk
}

func event(app, session, typ string, ts int64) domain.Event {
	return domain.Event{SourceApp: app, SessionID: session, HookEventType: typ, Timestamp: ts, Payload: json.RawMessage(`{}`)}
}

func TestChartDataIsFixedLength(t *testing.T) {
	for _, r := range []TimeRange{Range1m, Range3m, Range5m, Range10m} {
		a, _ := newAggregator(t, Options{Range: r})
		points := a.GetChartData()
		if len(points) != MaxDataPoints {
			t.Fatalf("%s: %d points", r, len(points))
		}
		width := bucketWidths[r].Milliseconds()
		if points[MaxDataPoints-1].Timestamp != t0 {
			t.Errorf("%s: last bucket %d, want %d", r, points[MaxDataPoints-1].Timestamp, t0)
		}
		for i := 1; i < len(points); i++ {
			if points[i].Timestamp-points[i-1].Timestamp != width {
				t.Fatalf("%s: gap between %d and %d", r, i-1, i)
			}
			if points[i].Count != 0 || points[i].EventTypes == nil || points[i].Sessions == nil {
				t.Fatalf("%s: empty bucket not zero-valued: %+v", r, points[i])
			}
		}
	}
}

func TestDebounceCoalescesBursts(t *testing.T) {
	a, clk := newAggregator(t, Options{})

	a.AddEvent(event("app", "session-aaaa", "PreToolUse", t0-1500))
	clk.Advance(30 * time.Millisecond)
	a.AddEvent(event("app", "session-bbbb", "Stop", t0-1200))
	clk.Advance(30 * time.Millisecond)
	if a.TotalCount() != 0 {
		t.Fatal("processed before input quiesced")
	}
	if clk.PendingCount() != 1 {
		t.Errorf("pending timers = %d, want 1", clk.PendingCount())
	}

	clk.Advance(25 * time.Millisecond)
	if a.TotalCount() != 2 {
		t.Fatalf("total = %d, want 2", a.TotalCount())
	}
	points := a.GetChartData()
	p := points[MaxDataPoints-3]
	if p.Timestamp != t0-2000 || p.Count != 2 {
		t.Fatalf("bucket = %+v", p)
	}
	if p.EventTypes["PreToolUse"] != 1 || p.EventTypes["Stop"] != 1 {
		t.Errorf("event types = %v", p.EventTypes)
	}
	if len(p.Sessions) != 1 || p.Sessions[0] != "app:session-" {
		t.Errorf("sessions = %v", p.Sessions)
	}
}

func TestEventWithoutTimestampIsDropped(t *testing.T) {
	a, clk := newAggregator(t, Options{})
	a.AddEvent(event("app", "s", "Stop", 0))
	if clk.PendingCount() != 0 {
		t.Error("dropped event scheduled processing")
	}
	a.Cleanup()
	if a.TotalCount() != 0 {
		t.Error("event without timestamp was counted")
	}
}

func TestCleanupFlushesImmediately(t *testing.T) {
	a, clk := newAggregator(t, Options{})
	a.AddEvent(event("app", "s1", "PreToolUse", t0))
	a.Cleanup()
	if a.ToolCallCount() != 1 {
		t.Fatalf("tool calls = %d, want 1", a.ToolCallCount())
	}
	clk.Advance(time.Second)
	if a.TotalCount() != 1 {
		t.Errorf("stale debounce reprocessed: total = %d", a.TotalCount())
	}
}

func TestAgentFilter(t *testing.T) {
	a, _ := newAggregator(t, Options{AgentIDFilter: domain.AgentID("app", "abcdefgh-1")})
	a.AddEvents([]domain.Event{
		event("app", "abcdefgh-1", "Stop", t0),
		event("app", "abcdefgh-2", "Stop", t0),
		event("app", "zzzzzzzz", "Stop", t0),
		event("other", "abcdefgh-1", "Stop", t0),
	})
	a.Cleanup()
	if a.TotalCount() != 2 {
		t.Errorf("total = %d, want 2 (same 8-char prefix)", a.TotalCount())
	}
	if a.UniqueAgentCount() != 1 {
		t.Errorf("agents = %d, want 1", a.UniqueAgentCount())
	}
}

func TestMetrics(t *testing.T) {
	a, _ := newAggregator(t, Options{})
	a.AddEvents([]domain.Event{
		event("app", "s1", "PreToolUse", t0-5000),
		event("app", "s1", "PreToolUse", t0-4000),
		event("app", "s2", "PostToolUse", t0-3000),
		event("web", "s1", "Stop", t0),
	})
	a.Cleanup()

	if got := a.UniqueAgentCount(); got != 3 {
		t.Errorf("UniqueAgentCount = %d, want 3", got)
	}
	if got := a.ToolCallCount(); got != 2 {
		t.Errorf("ToolCallCount = %d, want 2", got)
	}
	if got := a.TypeCount("Stop"); got != 1 {
		t.Errorf("TypeCount(Stop) = %d, want 1", got)
	}
	if got := a.TotalCount(); got != 4 {
		t.Errorf("TotalCount = %d, want 4", got)
	}
}

func TestOldBucketsArePruned(t *testing.T) {
	a, clk := newAggregator(t, Options{})
	a.AddEvent(event("app", "s1", "Stop", t0))
	a.Cleanup()

	clk.Advance(2 * time.Minute)
	a.AddEvent(event("app", "s2", "Stop", t0+2*60_000))
	a.Cleanup()

	if a.TotalCount() != 1 {
		t.Errorf("total = %d, want 1 after pruning", a.TotalCount())
	}
}

func chartTotal(points []ChartPoint) (total int, agents map[string]bool) {
	agents = map[string]bool{}
	for _, p := range points {
		total += p.Count
		for _, s := range p.Sessions {
			agents[s] = true
		}
	}
	return total, agents
}

func TestMetricsMatchChartWindow(t *testing.T) {
	a, clk := newAggregator(t, Options{})
	a.AddEvents([]domain.Event{
		event("app", "future-1", "PreToolUse", t0+30_000),
		event("app", "edge-1", "PreToolUse", t0-59_000),
		event("app", "now-1", "PreToolUse", t0),
	})
	a.Cleanup()

	check := func(wantTotal, wantAgents int) {
		t.Helper()
		total, agents := chartTotal(a.GetChartData())
		if total != wantTotal || a.TotalCount() != total {
			t.Errorf("chart total %d, TotalCount %d, want %d", total, a.TotalCount(), wantTotal)
		}
		if len(agents) != wantAgents || a.UniqueAgentCount() != len(agents) {
			t.Errorf("chart agents %d, UniqueAgentCount %d, want %d", len(agents), a.UniqueAgentCount(), wantAgents)
		}
		if a.ToolCallCount() != total {
			t.Errorf("ToolCallCount = %d, want %d", a.ToolCallCount(), total)
		}
	}
	// The future-dated event is retained but not charted.
	check(2, 2)

	// edge-1 ages out without another processing pass.
	clk.Advance(5 * time.Second)
	check(1, 1)

	// The future bucket becomes visible once now reaches it.
	clk.Advance(25 * time.Second)
	check(2, 2)
}

func TestOutOfOrderArrival(t *testing.T) {
	a, _ := newAggregator(t, Options{})
	a.AddEvent(event("app", "s", "Stop", t0))
	a.AddEvent(event("app", "s", "Stop", t0-10_000))
	a.AddEvent(event("app", "s", "Stop", t0-5_000))
	a.Cleanup()

	points := a.GetChartData()
	for _, off := range []int{0, 5, 10} {
		if c := points[MaxDataPoints-1-off].Count; c != 1 {
			t.Errorf("bucket -%ds count = %d, want 1", off, c)
		}
	}
}

func TestSetTimeRangeDoesNotRebucket(t *testing.T) {
	a, _ := newAggregator(t, Options{})
	a.AddEvent(event("app", "s", "Stop", t0-3000))
	a.Cleanup()

	if err := a.SetTimeRange(Range5m); err != nil {
		t.Fatalf("SetTimeRange: %v", err)
	}
	if a.TimeRange() != Range5m {
		t.Errorf("range = %s", a.TimeRange())
	}
	// t0-3000 is not a 5s boundary, so the old bucket is invisible.
	total := 0
	for _, p := range a.GetChartData() {
		total += p.Count
	}
	if total != 0 {
		t.Errorf("old-width bucket surfaced in new series: %d", total)
	}
	if a.TotalCount() != total {
		t.Errorf("TotalCount = %d, chart shows %d", a.TotalCount(), total)
	}

	if err := a.SetTimeRange("2h"); err == nil {
		t.Error("expected error for unknown range")
	}
}

func TestClearData(t *testing.T) {
	a, clk := newAggregator(t, Options{})
	a.AddEvent(event("app", "s", "Stop", t0))
	a.Cleanup()
	a.AddEvent(event("app", "s", "Stop", t0))
	a.ClearData()
	clk.Advance(time.Second)

	if a.TotalCount() != 0 || a.UniqueAgentCount() != 0 {
		t.Error("ClearData left state behind")
	}
}

func TestParseRange(t *testing.T) {
	if r, err := ParseRange("10m"); err != nil || r != Range10m {
		t.Errorf("ParseRange(10m) = %q, %v", r, err)
	}
	if _, err := ParseRange("15m"); err == nil {
		t.Error("expected error")
	}
	if _, err := New(Options{Range: "15m"}); err == nil {
		t.Error("New accepted unknown range")
	}
}
