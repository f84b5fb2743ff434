// Package reading holds the latest numeric reading received per feed topic.
//
// The Cache is written by the feed listener and read by the refresh cycle of
// every virtual device. It is the only structure shared between the MQTT
// delivery goroutine and the publish timer goroutine.
//
// Thread Safety: All methods are safe for concurrent use.
package reading

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Entry is the last reading received on one topic.
type Entry struct {
	Topic string    `json:"topic"`
	Value float64   `json:"value"`
	Seq   uint64    `json:"seq"`
	At    time.Time `json:"received_at"`
}

// Cache maps topic names to their most recent reading.
//
// Every Put is stamped with a cache-wide sequence number so consumers can
// tell a new reading from the one they already applied, even when the
// value itself did not change.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	seq     uint64
	now     func() time.Time
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// Put stores value as the latest reading for topic, overwriting any previous one.
//
// Returns ErrNotFinite for NaN and ±Inf; the cache is left unchanged.
func (c *Cache) Put(topic string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: %s=%v", ErrNotFinite, topic, value)
	}

	c.mu.Lock()
	c.seq++
	c.entries[topic] = Entry{
		Topic: topic,
		Value: value,
		Seq:   c.seq,
		At:    c.now(),
	}
	c.mu.Unlock()

	return nil
}

// Get returns the latest value for topic. ok is false if no reading
// was ever stored for it.
func (c *Cache) Get(topic string) (value float64, ok bool) {
	c.mu.RLock()
	e, ok := c.entries[topic]
	c.mu.RUnlock()
	return e.Value, ok
}

// Lookup returns the full entry for topic.
func (c *Cache) Lookup(topic string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[topic]
	return e, ok
}

// Snapshot returns a copy of all entries ordered by topic.
func (c *Cache) Snapshot() []Entry {
	c.mu.RLock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}

// Len returns the number of topics that have a reading.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// ParsePayload decodes an MQTT payload as UTF-8 text holding a decimal number.
//
// Accepted: an optional sign, digits with an optional fraction and exponent
// ("1234.5", "-3", "1e3"), surrounded by optional whitespace. Hexadecimal
// floats ("0x1p4") and digit separators ("1_000") are rejected.
func ParsePayload(payload []byte) (float64, error) {
	if !utf8.Valid(payload) {
		return 0, fmt.Errorf("%w: invalid UTF-8", ErrParse)
	}

	text := strings.TrimSpace(string(payload))
	unsigned := strings.TrimLeft(text, "+-")
	if len(unsigned) > 1 && unsigned[0] == '0' && (unsigned[1] == 'x' || unsigned[1] == 'X') {
		return 0, fmt.Errorf("%w: hexadecimal %q", ErrParse, text)
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrParse, text)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: %q", ErrNotFinite, text)
	}

	return value, nil
}
