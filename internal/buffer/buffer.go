// Package buffer holds spans waiting to be delivered, deduplicated by
// (traceId, spanId).
package buffer

import (
	"sync"

	"github.com/JSGette/span_conduit/internal/span"
)

// Buffer is an ordered queue of pending records plus the set of keys the exporter
// is responsible for. The key set also covers records that were drained and are
// in flight, so it is always a superset of the keys of the queued records.
type Buffer struct {
	mu sync.Mutex

	records []span.Record
	keys    map[span.Key]struct{}

	// maxSpans bounds the queue; zero means unbounded
	maxSpans int
	onDrop   func(dropped []span.Record)
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithMaxSpans bounds the queue length. When the bound is exceeded the oldest
// records are evicted and their keys released.
func WithMaxSpans(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.maxSpans = n
		}
	}
}

// WithDropHandler registers a callback for evicted records. It runs with the
// buffer lock held and must not call back into the Buffer.
func WithDropHandler(fn func(dropped []span.Record)) Option {
	return func(b *Buffer) {
		b.onDrop = fn
	}
}

// New creates an empty Buffer.
func New(opts ...Option) *Buffer {
	b := &Buffer{
		records: make([]span.Record, 0),
		keys:    make(map[span.Key]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Enqueue appends the records whose keys are not already tracked and returns how
// many were added. Duplicates within the input are also skipped; the first wins.
func (b *Buffer) Enqueue(records []span.Record) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	added := 0
	for _, r := range records {
		key := r.Key()
		if _, exists := b.keys[key]; exists {
			continue
		}
		b.keys[key] = struct{}{}
		b.records = append(b.records, r)
		added++
	}

	b.evictLocked(false)

	return added
}

// Drain removes and returns every queued record. Keys stay tracked until the
// caller releases them.
func (b *Buffer) Drain() []span.Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	drained := b.records
	b.records = make([]span.Record, 0, len(drained))
	return drained
}

// ReleaseKeys stops tracking the keys of the given records.
func (b *Buffer) ReleaseKeys(records []span.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range records {
		delete(b.keys, records[i].Key())
	}
}

// Restore puts records back at the front of the queue, ahead of anything enqueued
// since they were drained, and rebuilds the key set from the queue contents.
func (b *Buffer) Restore(records []span.Record) {
	if len(records) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	restored := make([]span.Record, 0, len(records)+len(b.records))
	restored = append(restored, records...)
	restored = append(restored, b.records...)
	b.records = restored

	b.evictLocked(true)

	b.keys = make(map[span.Key]struct{}, len(b.records))
	for i := range b.records {
		b.keys[b.records[i].Key()] = struct{}{}
	}
}

// Clear drops every queued record and every tracked key.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.records = make([]span.Record, 0)
	b.keys = make(map[span.Key]struct{})
}

// Len returns the number of queued records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.records)
}

// Tracked returns the number of tracked keys, queued or in flight.
func (b *Buffer) Tracked() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.keys)
}

// Contains reports whether key is tracked.
func (b *Buffer) Contains(key span.Key) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.keys[key]
	return ok
}

// Snapshot returns a copy of the queued records in order.
func (b *Buffer) Snapshot() []span.Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]span.Record, len(b.records))
	copy(out, b.records)
	return out
}

// evictLocked trims the queue to maxSpans by dropping from the front.
// rebuilding skips key deletion because the caller recomputes the key set.
func (b *Buffer) evictLocked(rebuilding bool) {
	if b.maxSpans == 0 || len(b.records) <= b.maxSpans {
		return
	}

	excess := len(b.records) - b.maxSpans
	dropped := make([]span.Record, excess)
	copy(dropped, b.records[:excess])
	b.records = append(b.records[:0:0], b.records[excess:]...)

	if !rebuilding {
		for i := range dropped {
			delete(b.keys, dropped[i].Key())
		}
	}

	if b.onDrop != nil {
		b.onDrop(dropped)
	}
}
