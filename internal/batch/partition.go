// Package batch splits buffered spans into request-sized groups.
package batch

import (
	"encoding/json"
	"fmt"

	"github.com/JSGette/span_conduit/internal/span"
)

// DefaultMaxBytes is the default ceiling for one request body.
const DefaultMaxBytes = 5 * 1024 * 1024

// Batch is a group of spans sent in one request.
type Batch struct {
	Spans []span.Record

	// Bytes is the sum of the encoded sizes of Spans.
	Bytes int

	// Oversized is set when the batch holds a single span whose encoding alone
	// exceeds the ceiling. It is still sent.
	Oversized bool
}

// Partition groups records into batches of at most maxBytes encoded bytes,
// preserving order. A record larger than maxBytes is placed in a batch of its own.
func Partition(records []span.Record, maxBytes int) []Batch {
	if len(records) == 0 {
		return nil
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	var batches []Batch
	current := Batch{}

	for i := range records {
		size := EncodedSize(&records[i])

		if size > maxBytes {
			if len(current.Spans) > 0 {
				batches = append(batches, current)
				current = Batch{}
			}
			batches = append(batches, Batch{
				Spans:     records[i : i+1 : i+1],
				Bytes:     size,
				Oversized: true,
			})
			continue
		}

		if len(current.Spans) > 0 && current.Bytes+size > maxBytes {
			batches = append(batches, current)
			current = Batch{}
		}

		current.Spans = append(current.Spans, records[i])
		current.Bytes += size
	}

	if len(current.Spans) > 0 {
		batches = append(batches, current)
	}

	return batches
}

// EncodedSize returns the length of the record's JSON encoding. A record that
// cannot be encoded is measured by its %v rendering instead.
func EncodedSize(r *span.Record) int {
	data, err := json.Marshal(r)
	if err != nil {
		return len(fmt.Sprintf("%v", *r))
	}
	return len(data)
}
