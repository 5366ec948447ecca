package sync

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Debouncer calls fn once the calls to Touch have been quiet for window.
type Debouncer struct {
	clock  clockwork.Clock
	window time.Duration
	fn     func()

	mu    sync.Mutex
	timer clockwork.Timer
}

func NewDebouncer(clock clockwork.Clock, window time.Duration, fn func()) *Debouncer {
	return &Debouncer{clock: clock, window: window, fn: fn}
}

// Touch restarts the quiet window.
func (d *Debouncer) Touch() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = d.clock.AfterFunc(d.window, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	d.timer = nil
	d.mu.Unlock()
	d.fn()
}

// Stop cancels a pending call.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
