package chat

import (
	"sync"
	"time"
)

// DefaultTypingQuietPeriod is how long after the last keystroke the false
// typing signal goes out.
const DefaultTypingQuietPeriod = 3 * time.Second

// typingDebouncer turns a stream of keystroke notifications into at most one
// typing=true signal, followed by a typing=false signal once a quiet period
// elapses with no further input. Every trigger resets the quiet-period timer
// (debounce, not throttle).
type typingDebouncer struct {
	quiet time.Duration
	emit  func(isTyping bool)

	mu     sync.Mutex
	active bool
	timer  *time.Timer
}

func newTypingDebouncer(quiet time.Duration, emit func(bool)) *typingDebouncer {
	if quiet <= 0 {
		quiet = DefaultTypingQuietPeriod
	}
	return &typingDebouncer{quiet: quiet, emit: emit}
}

// Trigger records a keystroke.
func (d *typingDebouncer) Trigger() {
	d.mu.Lock()
	first := !d.active
	d.active = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.quiet, d.expire)
	d.mu.Unlock()

	if first {
		d.emit(true)
	}
}

func (d *typingDebouncer) expire() {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return
	}
	d.active = false
	d.timer = nil
	d.mu.Unlock()

	d.emit(false)
}

// Stop cancels the pending timer without emitting. Used when the active
// recipient changes or the session closes.
func (d *typingDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.active = false
}
