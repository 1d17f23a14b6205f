package batch

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/JSGette/span_conduit/internal/span"
)

func sized(i int, padding int) span.Record {
	return span.Record{
		Name:       fmt.Sprintf("span-%d", i),
		TraceID:    "0102030405060708090a0b0c0d0e0f10",
		SpanID:     fmt.Sprintf("%016x", i+1),
		Attributes: map[string]any{"payload": strings.Repeat("x", padding)},
	}
}

// TestPartitionEmpty tests that no input produces no batches
func TestPartitionEmpty(t *testing.T) {
	if batches := Partition(nil, 100); batches != nil {
		t.Errorf("expected nil, got %v", batches)
	}
}

// TestPartitionSingleBatch tests that small inputs stay together
func TestPartitionSingleBatch(t *testing.T) {
	records := []span.Record{sized(0, 10), sized(1, 10), sized(2, 10)}

	batches := Partition(records, 1024*1024)
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}
	if len(batches[0].Spans) != 3 || batches[0].Oversized {
		t.Errorf("unexpected batch %+v", batches[0])
	}
}

// TestPartitionByteCeiling tests that no regular batch exceeds the ceiling and order is kept
func TestPartitionByteCeiling(t *testing.T) {
	var records []span.Record
	for i := 0; i < 20; i++ {
		records = append(records, sized(i, 50+i*7))
	}

	ceiling := EncodedSize(&records[19]) * 3

	batches := Partition(records, ceiling)
	if len(batches) < 2 {
		t.Fatalf("expected several batches, got %d", len(batches))
	}

	var flattened []span.Record
	for i, b := range batches {
		if b.Oversized {
			t.Errorf("batch %d unexpectedly oversized", i)
		}
		total := 0
		for j := range b.Spans {
			total += EncodedSize(&b.Spans[j])
		}
		if total != b.Bytes {
			t.Errorf("batch %d: Bytes=%d, measured %d", i, b.Bytes, total)
		}
		if b.Bytes > ceiling {
			t.Errorf("batch %d exceeds ceiling: %d > %d", i, b.Bytes, ceiling)
		}
		flattened = append(flattened, b.Spans...)
	}

	if len(flattened) != len(records) {
		t.Fatalf("expected %d spans across batches, got %d", len(records), len(flattened))
	}
	for i := range records {
		if flattened[i].SpanID != records[i].SpanID {
			t.Fatalf("order changed at %d: got %s, want %s", i, flattened[i].SpanID, records[i].SpanID)
		}
	}
}

// TestPartitionExactFit tests that a batch may reach the ceiling exactly
func TestPartitionExactFit(t *testing.T) {
	records := []span.Record{sized(0, 40), sized(1, 40)}
	ceiling := EncodedSize(&records[0]) + EncodedSize(&records[1])

	batches := Partition(records, ceiling)
	if len(batches) != 1 {
		t.Errorf("expected spans summing to the ceiling to share a batch, got %d batches", len(batches))
	}
}

// TestPartitionOversizedSpan tests that a span larger than the ceiling is sent alone
func TestPartitionOversizedSpan(t *testing.T) {
	small := sized(0, 10)
	huge := sized(1, 5000)
	tail := sized(2, 10)

	ceiling := EncodedSize(&small) * 3

	batches := Partition([]span.Record{small, huge, tail}, ceiling)
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	if batches[0].Oversized || batches[0].Spans[0].Name != small.Name {
		t.Errorf("unexpected first batch %+v", batches[0])
	}
	if !batches[1].Oversized || len(batches[1].Spans) != 1 || batches[1].Spans[0].Name != huge.Name {
		t.Errorf("expected oversized batch with only the huge span, got %+v", batches[1])
	}
	if batches[2].Oversized || batches[2].Spans[0].Name != tail.Name {
		t.Errorf("unexpected last batch %+v", batches[2])
	}
}

// TestPartitionSingleOversizedSpan tests the single-span case
func TestPartitionSingleOversizedSpan(t *testing.T) {
	huge := sized(0, 2048)

	batches := Partition([]span.Record{huge}, 100)
	if len(batches) != 1 || len(batches[0].Spans) != 1 || !batches[0].Oversized {
		t.Fatalf("expected one oversized batch with the span, got %+v", batches)
	}
	if batches[0].Spans[0].SpanID != huge.SpanID {
		t.Error("batch should contain exactly the oversized span")
	}
}

// TestPartitionDefaultCeiling tests fallback for a non-positive ceiling
func TestPartitionDefaultCeiling(t *testing.T) {
	batches := Partition([]span.Record{sized(0, 10), sized(1, 10)}, 0)
	if len(batches) != 1 {
		t.Errorf("expected default ceiling to keep spans together, got %d batches", len(batches))
	}
}

// TestEncodedSizeMatchesJSON tests the size estimate
func TestEncodedSizeMatchesJSON(t *testing.T) {
	r := sized(0, 33)
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if EncodedSize(&r) != len(data) {
		t.Errorf("expected %d, got %d", len(data), EncodedSize(&r))
	}
}

// TestEncodedSizeFallback tests that unencodable records still get a size
func TestEncodedSizeFallback(t *testing.T) {
	r := sized(0, 0)
	r.Attributes["bad"] = math.NaN()

	if size := EncodedSize(&r); size <= 0 {
		t.Errorf("expected positive fallback size, got %d", size)
	}
}
