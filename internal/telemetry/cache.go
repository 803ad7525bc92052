// Package telemetry holds the latest engine readings decoded from the vehicle
// bus and the sources that feed them.
package telemetry

import (
	"sync"
	"time"
)

// Signal names as published by the bus decoder.
const (
	SignalRPM               = "Engine RPM"
	SignalEngineHours       = "Engine Hours"
	SignalCoolantTemp       = "Coolant Temperature"
	SignalAlternatorVoltage = "Alternator Voltage"
)

// DefaultTimeout is how old a reading may be before it is treated as absent.
const DefaultTimeout = 10 * time.Second

// Entry is the last value seen for a signal.
type Entry struct {
	Value     float64
	Timestamp time.Time
}

// Cache maps signal names to their most recent reading. It is safe for
// concurrent use. Entries are overwritten in place; no history is kept.
type Cache struct {
	timeout time.Duration

	mu      sync.Mutex
	entries map[string]Entry
}

// NewCache returns an empty cache. A non-positive timeout selects
// DefaultTimeout.
func NewCache(timeout time.Duration) *Cache {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Cache{
		timeout: timeout,
		entries: make(map[string]Entry),
	}
}

// Update overwrites or inserts the reading for name.
func (c *Cache) Update(name string, value float64, ts time.Time) {
	c.mu.Lock()
	c.entries[name] = Entry{Value: value, Timestamp: ts}
	c.mu.Unlock()
}

// Read returns the value for name and true, or false when the signal has never
// been seen or its reading is older than the cache timeout at now.
func (c *Cache) Read(name string, now time.Time) (float64, bool) {
	c.mu.Lock()
	e, ok := c.entries[name]
	c.mu.Unlock()

	if !ok || now.Sub(e.Timestamp) > c.timeout {
		return 0, false
	}
	return e.Value, true
}

// Snapshot copies every entry, stale or not.
func (c *Cache) Snapshot() map[string]Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]Entry, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}
