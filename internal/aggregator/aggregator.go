// Package aggregator turns an event stream into a fixed-length series of
// time buckets for charting. One Aggregator serves one chart; instances
// share nothing.
package aggregator

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"example.com/agentwatch/internal/clock"
	"example.com/agentwatch/internal/domain"
)

type TimeRange string

const (
	Range1m  TimeRange = "1m"
	Range3m  TimeRange = "3m"
	Range5m  TimeRange = "5m"
	Range10m TimeRange = "10m"
)

// MaxDataPoints is the series length for every range; bucket width grows
// with the range.
const MaxDataPoints = 60

const DefaultDebounce = 50 * time.Millisecond

// ToolCallEventType is the hook event type counted as a tool call.
const ToolCallEventType = "PreToolUse"

var bucketWidths = map[TimeRange]time.Duration{
	Range1m:  time.Second,
	Range3m:  3 * time.Second,
	Range5m:  5 * time.Second,
	Range10m: 10 * time.Second,
}

// ParseRange accepts "1m", "3m", "5m" or "10m".
func ParseRange(s string) (TimeRange, error) {
	r := TimeRange(s)
	if _, ok := bucketWidths[r]; !ok {
		return "", fmt.Errorf("unknown time range %q", s)
	}
	return r, nil
}

// ChartPoint is one bucket. Sessions holds agent ids, sorted.
type ChartPoint struct {
	Timestamp  int64          `json:"timestamp"`
	Count      int            `json:"count"`
	EventTypes map[string]int `json:"event_types"`
	Sessions   []string       `json:"sessions"`
}

type bucket struct {
	count      int
	eventTypes map[string]int
	sessions   map[string]struct{}
}

type Options struct {
	Range TimeRange // defaults to 1m
	// AgentIDFilter, when set, limits aggregation to events whose
	// domain.AgentID equals it.
	AgentIDFilter string
	Clock         clock.Clock
	Debounce      time.Duration
}

type Aggregator struct {
	mu       sync.Mutex
	clock    clock.Clock
	debounce time.Duration
	filter   string

	timeRange TimeRange
	bucketMs  int64

	buffer  []domain.Event
	buckets map[int64]*bucket
	timer   *clock.Timer
	gen     uint64
}

func New(opts Options) (*Aggregator, error) {
	if opts.Range == "" {
		opts.Range = Range1m
	}
	width, ok := bucketWidths[opts.Range]
	if !ok {
		return nil, fmt.Errorf("unknown time range %q", opts.Range)
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Aggregator{
		clock:     opts.Clock,
		debounce:  opts.Debounce,
		filter:    opts.AgentIDFilter,
		timeRange: opts.Range,
		bucketMs:  width.Milliseconds(),
		buckets:   make(map[int64]*bucket),
	}, nil
}

// AddEvent buffers ev and (re)starts the debounce delay. Events without a
// timestamp are dropped.
func (a *Aggregator) AddEvent(ev domain.Event) {
	if ev.Timestamp <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buffer = append(a.buffer, ev)
	a.schedule()
}

func (a *Aggregator) AddEvents(events []domain.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	added := false
	for _, ev := range events {
		if ev.Timestamp <= 0 {
			continue
		}
		a.buffer = append(a.buffer, ev)
		added = true
	}
	if added {
		a.schedule()
	}
}

// schedule must be called with mu held.
func (a *Aggregator) schedule() {
	a.cancelTimer()
	gen := a.gen
	a.timer = a.clock.AfterFunc(a.debounce, func() { a.fire(gen) })
}

// cancelTimer must be called with mu held. Bumping gen turns a callback
// that already started into a no-op.
func (a *Aggregator) cancelTimer() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.gen++
}

func (a *Aggregator) fire(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.gen {
		return
	}
	a.timer = nil
	a.process()
}

// process must be called with mu held.
func (a *Aggregator) process() {
	for _, ev := range a.buffer {
		if a.filter != "" && domain.AgentID(ev.SourceApp, ev.SessionID) != a.filter {
			continue
		}
		key := a.floor(ev.Timestamp)
		b := a.buckets[key]
		if b == nil {
			b = &bucket{eventTypes: make(map[string]int), sessions: make(map[string]struct{})}
			a.buckets[key] = b
		}
		b.count++
		b.eventTypes[ev.HookEventType]++
		b.sessions[domain.AgentID(ev.SourceApp, ev.SessionID)] = struct{}{}
	}
	a.buffer = nil

	start := a.windowStart()
	for key := range a.buckets {
		if key < start {
			delete(a.buckets, key)
		}
	}
}

func (a *Aggregator) floor(ts int64) int64 { return ts - ts%a.bucketMs }

func (a *Aggregator) windowEnd() int64 { return a.floor(a.clock.Now().UnixMilli()) }

func (a *Aggregator) windowStart() int64 {
	return a.windowEnd() - int64(MaxDataPoints-1)*a.bucketMs
}

// GetChartData returns MaxDataPoints buckets, oldest first, ending with
// the bucket that contains now. Empty buckets are included.
func (a *Aggregator) GetChartData() []ChartPoint {
	a.mu.Lock()
	defer a.mu.Unlock()

	end := a.windowEnd()
	out := make([]ChartPoint, MaxDataPoints)
	for i := range out {
		ts := end - int64(MaxDataPoints-1-i)*a.bucketMs
		p := ChartPoint{Timestamp: ts, EventTypes: map[string]int{}, Sessions: []string{}}
		if b := a.buckets[ts]; b != nil {
			p.Count = b.count
			for t, n := range b.eventTypes {
				p.EventTypes[t] = n
			}
			for s := range b.sessions {
				p.Sessions = append(p.Sessions, s)
			}
			sort.Strings(p.Sessions)
		}
		out[i] = p
	}
	return out
}

// SetTimeRange switches the bucket width. Existing buckets keep the old
// width; call ClearData first for a clean switch.
func (a *Aggregator) SetTimeRange(r TimeRange) error {
	width, ok := bucketWidths[r]
	if !ok {
		return fmt.Errorf("unknown time range %q", r)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.timeRange = r
	a.bucketMs = width.Milliseconds()
	return nil
}

func (a *Aggregator) TimeRange() TimeRange {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timeRange
}

// ClearData drops buffered and aggregated state.
func (a *Aggregator) ClearData() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelTimer()
	a.buffer = nil
	a.buckets = make(map[int64]*bucket)
}

// Cleanup processes anything still buffered without waiting for the
// debounce delay.
func (a *Aggregator) Cleanup() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelTimer()
	a.process()
}

// visible calls fn for each non-empty bucket of the charted window, so
// metrics match what GetChartData shows. Future-dated buckets and ones
// that aged out since the last processing pass are skipped. mu must be
// held.
func (a *Aggregator) visible(fn func(*bucket)) {
	end := a.windowEnd()
	for ts := a.windowStart(); ts <= end; ts += a.bucketMs {
		if b := a.buckets[ts]; b != nil {
			fn(b)
		}
	}
}

// UniqueAgentCount is the number of distinct agents in the charted window.
func (a *Aggregator) UniqueAgentCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	seen := make(map[string]struct{})
	a.visible(func(b *bucket) {
		for s := range b.sessions {
			seen[s] = struct{}{}
		}
	})
	return len(seen)
}

func (a *Aggregator) TypeCount(hookEventType string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	a.visible(func(b *bucket) { n += b.eventTypes[hookEventType] })
	return n
}

func (a *Aggregator) ToolCallCount() int { return a.TypeCount(ToolCallEventType) }

// TotalCount equals the sum of GetChartData counts.
func (a *Aggregator) TotalCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	a.visible(func(b *bucket) { n += b.count })
	return n
}
