package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHookEventLabel(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"PreToolUse", "PreToolUse"},
		{"Stop", "Stop"},
		{"pretooluse", OtherLabel},
		{"made-up-" + time.Now().String(), OtherLabel},
		{"", OtherLabel},
	}
	for _, tt := range tests {
		if got := HookEventLabel(tt.in); got != tt.want {
			t.Errorf("HookEventLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestObserveIngestedBucketsUnknownTypes(t *testing.T) {
	before := testutil.ToFloat64(EventsIngested.WithLabelValues(OtherLabel))
	ObserveIngested("custom-one")
	ObserveIngested("custom-two")
	if got := testutil.ToFloat64(EventsIngested.WithLabelValues(OtherLabel)) - before; got != 2 {
		t.Errorf("other counter moved by %v, want 2", got)
	}
	if n := testutil.CollectAndCount(EventsIngested); n > len(hookEventTypes)+1 {
		t.Errorf("EventsIngested has %d series, want at most %d", n, len(hookEventTypes)+1)
	}
}

func TestObserveHTTPBoundsMethod(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequests.WithLabelValues(OtherLabel, UnmatchedRoute, "405"))
	ObserveHTTP("BREW", UnmatchedRoute, http.StatusMethodNotAllowed, time.Millisecond)
	if got := testutil.ToFloat64(HTTPRequests.WithLabelValues(OtherLabel, UnmatchedRoute, "405")) - before; got != 1 {
		t.Errorf("counter moved by %v, want 1", got)
	}
}
