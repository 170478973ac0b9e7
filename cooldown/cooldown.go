package cooldown

import (
	"sync"
	"time"
)

// DefaultWindowSeconds is an exported constant or variable used by the verification flow engine.
const DefaultWindowSeconds = 60

// Config defines a public type used by recoveryflow APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	// WindowSeconds is the countdown applied by Start(0) and after a
	// successful resend. Defaults to DefaultWindowSeconds.
	WindowSeconds int
	// TickInterval defaults to one second. Tests shorten it.
	TickInterval time.Duration
	// OnTick, when set, observes every remaining-seconds change.
	OnTick func(remaining int)
}

// Timer defines a public type used by recoveryflow APIs.
//
// Timer instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Timer struct {
	mu        sync.Mutex
	config    Config
	remaining int
	inFlight  bool
	stop      chan struct{}
}

// New describes the new operation and its observable behavior.
//
// New may return an error when input validation, dependency calls, or security checks fail.
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New(cfg Config) *Timer {
	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = DefaultWindowSeconds
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	return &Timer{config: cfg}
}

// Start describes the start operation and its observable behavior.
//
// Start sets the remaining window (the configured default when seconds <= 0)
// and begins ticking. Calling Start while a countdown is running resets the
// remaining time without spawning a second ticker.
func (t *Timer) Start(seconds int) {
	if seconds <= 0 {
		seconds = t.config.WindowSeconds
	}

	t.mu.Lock()
	t.remaining = seconds
	if t.stop == nil {
		t.stop = make(chan struct{})
		go t.run(t.stop)
	}
	t.mu.Unlock()

	t.notify(seconds)
}

// Stop describes the stop operation and its observable behavior.
//
// Stop cancels the ticking goroutine. Safe to call repeatedly and on a timer
// that never started; the remaining count is left as-is.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *Timer) stopLocked() {
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}

// Remaining describes the remaining operation and its observable behavior.
func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// CanResend describes the canresend operation and its observable behavior.
//
// CanResend is true iff the countdown reached zero and no resend request is
// currently in flight.
func (t *Timer) CanResend() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining == 0 && !t.inFlight
}

// BeginRequest describes the beginrequest operation and its observable behavior.
//
// BeginRequest claims the in-flight slot. It returns false without side
// effects when resending is not currently allowed, so a click during the
// countdown never reaches the backend.
func (t *Timer) BeginRequest() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.remaining != 0 || t.inFlight {
		return false
	}
	t.inFlight = true
	return true
}

// EndRequest describes the endrequest operation and its observable behavior.
//
// EndRequest releases the in-flight slot. A successful resend restarts the
// full window; a failed one leaves the timer at zero so the user can retry
// immediately.
func (t *Timer) EndRequest(succeeded bool) {
	t.mu.Lock()
	t.inFlight = false
	t.mu.Unlock()

	if succeeded {
		t.Start(0)
	}
}

func (t *Timer) run(stop chan struct{}) {
	ticker := time.NewTicker(t.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			remaining, done := t.tick(stop)
			t.notify(remaining)
			if done {
				return
			}
		case <-stop:
			return
		}
	}
}

// tick decrements toward zero and tears down the goroutine's stop channel on
// reaching it, unless Start replaced the channel in the meantime.
func (t *Timer) tick(stop chan struct{}) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.remaining > 0 {
		t.remaining--
	}
	if t.remaining == 0 && t.stop == stop {
		t.stop = nil
		return 0, true
	}
	return t.remaining, false
}

func (t *Timer) notify(remaining int) {
	if t.config.OnTick != nil {
		t.config.OnTick(remaining)
	}
}
