// Package clock abstracts the time operations the aggregator and stores
// depend on, so tests can drive timers deterministically.
package clock

import "time"

type Clock interface {
	Now() time.Time
	// AfterFunc calls f in its own goroutine (Real) or synchronously
	// during Advance (Fake) once d has elapsed.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a cancellable scheduled call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the call from running. It returns false if the call
// already ran or was stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stopFunc: t.Stop}
}
