package source

import (
	"sync"
	"time"
)

const (
	defaultCallCeiling = 160
	defaultWindow      = 300 * time.Second
)

// RateBudgetConfig configures the sliding call budget. Clock and Sleep exist
// so tests can drive the window deterministically.
type RateBudgetConfig struct {
	Ceiling int
	Window  time.Duration
	Clock   func() time.Time
	Sleep   func(time.Duration)
}

// RateBudget tracks how many Source calls were issued inside the current
// window and suspends callers once the ceiling is reached. It is shared by
// every caller inside the process; the mutex is held across the suspension
// so concurrent callers serialize behind the wait instead of stampeding the
// upstream API.
type RateBudget struct {
	mu          sync.Mutex
	ceiling     int
	window      time.Duration
	count       int
	windowStart time.Time
	clock       func() time.Time
	sleep       func(time.Duration)
}

// NewRateBudget constructs a budget with conservative defaults below the
// upstream limit.
func NewRateBudget(cfg RateBudgetConfig) *RateBudget {
	ceiling := cfg.Ceiling
	if ceiling <= 0 {
		ceiling = defaultCallCeiling
	}
	window := cfg.Window
	if window <= 0 {
		window = defaultWindow
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	return &RateBudget{
		ceiling: ceiling,
		window:  window,
		clock:   clock,
		sleep:   sleep,
	}
}

// Acquire reserves one call slot, blocking until the window rolls over when
// the ceiling is exhausted. The wait is not cancellable once begun.
func (b *RateBudget) Acquire() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	if b.windowStart.IsZero() {
		b.windowStart = now
	}

	elapsed := now.Sub(b.windowStart)
	if elapsed > b.window {
		b.count = 0
		b.windowStart = now
		elapsed = 0
	}

	if b.count >= b.ceiling {
		if wait := b.window - elapsed; wait > 0 {
			b.sleep(wait)
		}
		b.count = 0
		b.windowStart = b.clock()
	}

	b.count++
}

// Penalty suspends for one full window and resets the budget. Called after
// the upstream explicitly rejected a request for rate reasons.
func (b *RateBudget) Penalty() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sleep(b.window)
	b.count = 0
	b.windowStart = b.clock()
}

// Window exposes the configured window length.
func (b *RateBudget) Window() time.Duration {
	return b.window
}
