// Package errors defines the failure taxonomy of the build pipeline and a
// collector for the non-fatal failures of one build.
package errors

import (
	"sync"
	"time"
)

// Entry is a collected failure with the time it was recorded.
type Entry struct {
	Err       *BuildError
	Timestamp time.Time
}

// Collector collects the non-fatal failures of one build.
type Collector struct {
	entries []Entry
	mutex   sync.RWMutex
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		entries: make([]Entry, 0),
	}
}

// Add records a failure. Nil errors are ignored.
func (c *Collector) Add(err *BuildError) {
	if err == nil {
		return
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries = append(c.entries, Entry{Err: err, Timestamp: time.Now()})
}

// Entries returns a copy of the collected failures in insertion order.
func (c *Collector) Entries() []Entry {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	result := make([]Entry, len(c.entries))
	copy(result, c.entries)

	return result
}

// Errors returns the collected failures.
func (c *Collector) Errors() []*BuildError {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	result := make([]*BuildError, 0, len(c.entries))
	for _, e := range c.entries {
		result = append(result, e.Err)
	}

	return result
}

// Count returns the number of failures of the given kind.
func (c *Collector) Count(kind Kind) int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	n := 0
	for _, e := range c.entries {
		if e.Err.Kind == kind {
			n++
		}
	}

	return n
}

// HasErrors returns true if anything was collected.
func (c *Collector) HasErrors() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return len(c.entries) > 0
}

// Clear removes all collected failures.
func (c *Collector) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries = c.entries[:0]
}
