package watcher

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Gate policies.
const (
	ModeThrottle = "throttle"
	ModeDebounce = "debounce"
)

// Gate decides when change events turn into a build. A gate either fires
// immediately from Add or later through C.
type Gate interface {
	// Add offers an event. When fire is true the returned batch should be
	// handled right away.
	Add(event ChangeEvent) (batch []ChangeEvent, fire bool)
	// C delivers batches fired outside of Add. It may be nil.
	C() <-chan []ChangeEvent
	Stop()
}

// NewGate creates the gate for mode.
func NewGate(mode string, quiet time.Duration) (Gate, error) {
	if quiet <= 0 {
		return nil, fmt.Errorf("quiet interval must be positive, got %v", quiet)
	}

	switch mode {
	case ModeThrottle, "":
		return NewThrottle(quiet, nil), nil
	case ModeDebounce:
		return NewDebouncer(quiet), nil
	default:
		return nil, fmt.Errorf("unknown gate mode %q", mode)
	}
}

// Throttle fires for an event only if more than the quiet interval passed
// since the last event it fired for. Swallowed events are dropped and leave
// the reference time alone.
type Throttle struct {
	quiet time.Duration
	now   func() time.Time

	mutex sync.Mutex
	last  time.Time
}

// NewThrottle creates a throttle. A nil clock uses time.Now.
func NewThrottle(quiet time.Duration, clock func() time.Time) *Throttle {
	if clock == nil {
		clock = time.Now
	}
	return &Throttle{quiet: quiet, now: clock}
}

func (t *Throttle) Add(event ChangeEvent) ([]ChangeEvent, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	now := t.now()
	if !t.last.IsZero() && now.Sub(t.last) <= t.quiet {
		return nil, false
	}
	t.last = now

	return []ChangeEvent{event}, true
}

func (t *Throttle) C() <-chan []ChangeEvent { return nil }

func (t *Throttle) Stop() {}

// Debouncer groups rapid file changes together and fires once the stream
// has been quiet for the delay.
type Debouncer struct {
	delay   time.Duration
	output  chan []ChangeEvent
	timer   *time.Timer
	pending []ChangeEvent
	stopped bool
	mutex   sync.Mutex
}

// NewDebouncer creates a debouncer.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{
		delay:  delay,
		output: make(chan []ChangeEvent, 10),
	}
}

func (d *Debouncer) Add(event ChangeEvent) ([]ChangeEvent, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.stopped {
		return nil, false
	}

	d.pending = append(d.pending, event)

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.flush)

	return nil, false
}

func (d *Debouncer) C() <-chan []ChangeEvent { return d.output }

// Stop cancels a pending flush.
func (d *Debouncer) Stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = nil
}

func (d *Debouncer) flush() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if len(d.pending) == 0 || d.stopped {
		return
	}

	// last event per path wins
	byPath := make(map[string]ChangeEvent, len(d.pending))
	for _, event := range d.pending {
		byPath[event.Path] = event
	}

	events := make([]ChangeEvent, 0, len(byPath))
	for _, event := range byPath {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })

	select {
	case d.output <- events:
	default:
		// a batch is already waiting; it triggers the same full rebuild
	}

	d.pending = d.pending[:0]
}
