// Package delivery POSTs span batches to the collector's /span endpoint.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/JSGette/span_conduit/internal/batch"
	"github.com/JSGette/span_conduit/internal/span"
)

// Send modes reported to the Observer.
const (
	ModeAsync = "async"
	ModeSync  = "sync"
)

const (
	// DefaultSyncTimeout bounds each request of a synchronous send.
	DefaultSyncTimeout = 10 * time.Second

	// DefaultAsyncTimeout bounds each request of an asynchronous send.
	DefaultAsyncTimeout = 30 * time.Second

	// DefaultMaxConcurrent is the number of batches in flight per asynchronous send.
	DefaultMaxConcurrent = 4
)

// Config holds the destination and limits of a Sender.
type Config struct {
	ServerURL     string
	APIKey        string
	MaxBatchBytes int
	SyncTimeout   time.Duration
	AsyncTimeout  time.Duration
	MaxConcurrent int

	// NewTransport returns the transport for one asynchronous session.
	// Defaults to a clone of http.DefaultTransport.
	NewTransport func() http.RoundTripper
}

// Observer receives the outcome of every batch request.
type Observer interface {
	ObserveBatch(mode string, spans, bytes int, elapsed time.Duration, err error)
}

// Sender delivers records to the collector, either concurrently on a per-call
// session (SendAsync) or sequentially with blocking requests (SendSync).
type Sender struct {
	serverURL     string
	apiKey        string
	maxBatchBytes int
	asyncTimeout  time.Duration
	maxConcurrent int
	newTransport  func() http.RoundTripper
	syncClient    *http.Client
	observer      Observer
	logger        *slog.Logger

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// NewSender creates a Sender. A nil logger uses slog.Default().
func NewSender(cfg Config, observer Observer, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.MaxBatchBytes <= 0 {
		cfg.MaxBatchBytes = batch.DefaultMaxBytes
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = DefaultSyncTimeout
	}
	if cfg.AsyncTimeout <= 0 {
		cfg.AsyncTimeout = DefaultAsyncTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.NewTransport == nil {
		cfg.NewTransport = func() http.RoundTripper {
			return http.DefaultTransport.(*http.Transport).Clone()
		}
	}

	return &Sender{
		serverURL:     strings.TrimRight(cfg.ServerURL, "/"),
		apiKey:        cfg.APIKey,
		maxBatchBytes: cfg.MaxBatchBytes,
		asyncTimeout:  cfg.AsyncTimeout,
		maxConcurrent: cfg.MaxConcurrent,
		newTransport:  cfg.NewTransport,
		syncClient:    &http.Client{Timeout: cfg.SyncTimeout},
		observer:      observer,
		logger:        logger.With("component", "delivery"),
	}
}

// HasDestination reports whether a server URL is configured.
func (s *Sender) HasDestination() bool {
	return s.serverURL != ""
}

// Endpoint returns the span ingestion URL.
func (s *Sender) Endpoint() (string, error) {
	if s.serverURL == "" {
		return "", ErrNoDestination
	}
	return s.serverURL + "/span", nil
}

// Headers returns the request headers for a batch.
func (s *Sender) Headers() http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		h.Set("Authorization", "ApiKey "+s.apiKey)
	}
	return h
}

// SendAsync delivers records over a session opened for this call. Batches are
// sent concurrently and every batch is attempted; the returned *SendError lists
// the failures. After CloseAsync it fails with ErrSenderClosed.
func (s *Sender) SendAsync(ctx context.Context, records []span.Record) error {
	url, err := s.Endpoint()
	if err != nil {
		return err
	}
	if !s.acquire() {
		return ErrSenderClosed
	}
	defer s.inflight.Done()

	batches := s.partition(records, ModeAsync)
	headers := s.Headers()

	transport := s.newTransport()
	client := &http.Client{Transport: transport, Timeout: s.asyncTimeout}
	defer closeIdle(transport)

	errs := make([]*BatchError, len(batches))
	sem := make(chan struct{}, s.maxConcurrent)
	var wg sync.WaitGroup

	for i := range batches {
		if s.isClosed() {
			errs[i] = s.batchError(i, batches, ErrSenderClosed)
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.post(ctx, client, url, headers, batches[i], ModeAsync); err != nil {
				errs[i] = s.batchError(i, batches, err)
			}
		}(i)
	}
	wg.Wait()

	return s.result(errs, batches, ModeAsync)
}

// SendSync delivers records one batch at a time with blocking requests, each
// bounded by the sync timeout. It does not depend on the asynchronous path and
// keeps working after CloseAsync.
func (s *Sender) SendSync(ctx context.Context, records []span.Record) error {
	url, err := s.Endpoint()
	if err != nil {
		return err
	}

	batches := s.partition(records, ModeSync)
	headers := s.Headers()

	errs := make([]*BatchError, len(batches))
	for i := range batches {
		if err := s.post(ctx, s.syncClient, url, headers, batches[i], ModeSync); err != nil {
			errs[i] = s.batchError(i, batches, err)
		}
	}

	return s.result(errs, batches, ModeSync)
}

// CloseAsync stops the asynchronous path and waits for in-flight sends to
// finish. Subsequent SendAsync calls return ErrSenderClosed.
func (s *Sender) CloseAsync() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.inflight.Wait()
	s.logger.Debug("Asynchronous delivery closed")
}

func (s *Sender) acquire() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}
	s.inflight.Add(1)
	return true
}

func (s *Sender) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.closed
}

func (s *Sender) partition(records []span.Record, mode string) []batch.Batch {
	batches := batch.Partition(records, s.maxBatchBytes)

	if len(batches) > 1 {
		s.logger.Info("Splitting spans into batches",
			"mode", mode,
			"spans", len(records),
			"batches", len(batches),
		)
	}

	for _, b := range batches {
		if b.Oversized {
			s.logger.Warn("Span exceeds max batch size, sending it alone",
				"span_name", b.Spans[0].Name,
				"trace_id", b.Spans[0].TraceID,
				"span_bytes", b.Bytes,
				"max_batch_bytes", s.maxBatchBytes,
			)
		}
	}

	return batches
}

// post sends one batch and checks the response status.
func (s *Sender) post(
	ctx context.Context,
	client *http.Client,
	url string,
	headers http.Header,
	b batch.Batch,
	mode string,
) (err error) {
	start := time.Now()
	defer func() {
		if s.observer != nil {
			s.observer.ObserveBatch(mode, len(b.Spans), b.Bytes, time.Since(start), err)
		}
	}()

	body, err := json.Marshal(b.Spans)
	if err != nil {
		return fmt.Errorf("failed to marshal spans: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = headers.Clone()

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send spans: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(text),
		}
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	s.logger.Debug("Batch delivered",
		"mode", mode,
		"spans", len(b.Spans),
		"bytes", len(body),
		"status", resp.StatusCode,
	)

	return nil
}

func (s *Sender) batchError(i int, batches []batch.Batch, err error) *BatchError {
	be := &BatchError{
		Index: i + 1,
		Total: len(batches),
		Spans: len(batches[i].Spans),
		Err:   err,
	}
	s.logger.Error("Failed to send batch",
		"batch", be.Index,
		"batches", be.Total,
		"spans", be.Spans,
		"error", err,
	)
	return be
}

func (s *Sender) result(errs []*BatchError, batches []batch.Batch, mode string) error {
	var failed []*BatchError
	for _, e := range errs {
		if e != nil {
			failed = append(failed, e)
		}
	}

	if len(failed) > 0 {
		return &SendError{Batches: failed, Total: len(batches)}
	}

	s.logger.Debug("All batches delivered",
		"mode", mode,
		"batches", len(batches),
	)
	return nil
}

func closeIdle(rt http.RoundTripper) {
	if c, ok := rt.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}
