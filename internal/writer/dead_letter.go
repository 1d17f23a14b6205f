// Package writer dumps spans that could not be delivered to JSON Lines files
package writer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JSGette/span_conduit/internal/span"
)

const (
	filePrefix = "dead-letter-"
	fileExt    = ".jsonl"

	// ReplayedExt is appended to a file once its spans have been re-enqueued.
	ReplayedExt = ".replayed"
)

// Config holds configuration for the dead-letter writer
type Config struct {
	OutputDir string
	Enabled   bool
}

// Entry is one line of a dead-letter file
type Entry struct {
	Timestamp time.Time   `json:"timestamp"`
	Span      span.Record `json:"span"`
}

// DeadLetterWriter writes undeliverable spans to files, one file per call
type DeadLetterWriter struct {
	outputDir string
	logger    *slog.Logger
	now       func() time.Time
	mu        sync.Mutex
}

// NewDeadLetterWriter creates a new dead-letter writer. It returns nil when
// disabled; a nil writer accepts and discards everything.
func NewDeadLetterWriter(config Config, logger *slog.Logger) (*DeadLetterWriter, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if !config.Enabled || config.OutputDir == "" {
		logger.Info("Dead-letter writer disabled")
		return nil, nil
	}

	// Create output directory if it doesn't exist
	if err := os.MkdirAll(config.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	logger.Info("Dead-letter writer initialized",
		"output_dir", config.OutputDir,
	)

	return &DeadLetterWriter{
		outputDir: config.OutputDir,
		logger:    logger.With("component", "dead_letter"),
		now:       time.Now,
	}, nil
}

// WriteRecords writes records to a new file and returns its path
func (w *DeadLetterWriter) WriteRecords(records []span.Record) (string, error) {
	if w == nil || len(records) == 0 {
		return "", nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	filename := fmt.Sprintf("%s%s-%s%s",
		filePrefix,
		now.Format("20060102-150405"),
		uuid.NewString()[:8],
		fileExt,
	)
	path := filepath.Join(w.outputDir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	buf := bufio.NewWriter(file)
	encoder := json.NewEncoder(buf)

	for i := range records {
		if err := encoder.Encode(Entry{Timestamp: now, Span: records[i]}); err != nil {
			file.Close()
			return path, fmt.Errorf("failed to write span %s: %w", records[i].SpanID, err)
		}
	}

	if err := buf.Flush(); err != nil {
		file.Close()
		return path, fmt.Errorf("failed to flush file: %w", err)
	}
	if err := file.Close(); err != nil {
		return path, fmt.Errorf("failed to close file: %w", err)
	}

	w.logger.Debug("Wrote dead-letter file",
		"file", path,
		"spans", len(records),
	)

	return path, nil
}

// Pending lists dead-letter files in dir that have not been replayed, oldest first
func Pending(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)

	return files, nil
}

// ReadRecords loads the spans of one dead-letter file
func ReadRecords(path string) ([]span.Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var records []span.Record
	decoder := json.NewDecoder(bufio.NewReader(file))
	for decoder.More() {
		var entry Entry
		if err := decoder.Decode(&entry); err != nil {
			return records, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		records = append(records, entry.Span)
	}

	return records, nil
}

// MarkReplayed renames a file so Pending no longer returns it
func MarkReplayed(path string) error {
	if err := os.Rename(path, path+ReplayedExt); err != nil {
		return fmt.Errorf("failed to mark %s replayed: %w", path, err)
	}
	return nil
}
