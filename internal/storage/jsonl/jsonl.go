// Package jsonl stores ingested messages as JSON lines in an append-only file.
package jsonl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"faultgate/internal/clock"
	"faultgate/internal/fault"
	"faultgate/internal/storage"
)

// DefaultPath is used when no output file is configured
const DefaultPath = "logs/kafka_messages.jsonl"

const (
	utcLayout   = "2006-01-02T15:04:05.000000Z"
	localLayout = "2006-01-02T15:04:05.000000"
)

// Entry is one line of the file
type Entry struct {
	Timestamp  string          `json:"timestamp"`
	ReceivedAt string          `json:"received_at"`
	Message    json.RawMessage `json:"message"`
}

// Sink appends one Entry per message. Safe for concurrent use.
type Sink struct {
	path   string
	clock  clock.Clock
	logger *slog.Logger

	mu sync.Mutex
}

var _ storage.Archive = (*Sink)(nil)

// Option customises a Sink
type Option func(*Sink)

// WithClock overrides the wall clock used for timestamps
func WithClock(c clock.Clock) Option {
	return func(s *Sink) { s.clock = c }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) { s.logger = logger }
}

// New creates the sink and its parent directory
func New(path string, opts ...Option) (*Sink, error) {
	if path == "" {
		path = DefaultPath
	}
	s := &Sink{
		path:   path,
		clock:  clock.RealClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "jsonl_sink")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	s.logger.Info("JSONL sink initialized", "output_file", path)
	return s, nil
}

// Path returns the output file
func (s *Sink) Path() string {
	return s.path
}

// Name implements storage.Namer
func (s *Sink) Name() string {
	return "jsonl"
}

// Record appends msg with its ingest (UTC) and receipt (local) timestamps.
func (s *Sink) Record(msg json.RawMessage) bool {
	now := s.clock.Now()
	line, err := json.Marshal(Entry{
		Timestamp:  now.UTC().Format(utcLayout),
		ReceivedAt: now.Local().Format(localLayout),
		Message:    msg,
	})
	if err != nil {
		s.logger.Error("Failed to encode message", "error", err)
		return false
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.logger.Error("Failed to open output file", "output_file", s.path, "error", err)
		return false
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		s.logger.Error("Failed to write message", "output_file", s.path, "error", err)
		return false
	}

	s.logger.Debug("Message written", "output_file", s.path)
	return true
}

// Count returns the number of lines in the file; 0 when it does not exist.
func (s *Sink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Error("Failed to count messages", "error", err)
		}
		return 0
	}
	defer f.Close()

	count := 0
	buf := make([]byte, 32*1024)
	for {
		n, err := f.Read(buf)
		count += bytes.Count(buf[:n], []byte{'\n'})
		if err == io.EOF {
			return count
		}
		if err != nil {
			s.logger.Error("Failed to count messages", "error", err)
			return count
		}
	}
}

// SizeBytes returns the file size; 0 when it does not exist.
func (s *Sink) SizeBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Error("Failed to get file size", "error", err)
		}
		return 0
	}
	return info.Size()
}

// Clear removes the file. A missing file counts as cleared.
func (s *Sink) Clear() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Error("Failed to clear output file", "error", err)
		return false
	}
	s.logger.Info("Cleared output file", "output_file", s.path)
	return true
}

// List implements storage.Lister. The file carries no record IDs, so ID is
// left empty.
func (s *Sink) List(ctx context.Context, severity string, limit int) ([]storage.StoredMessage, error) {
	entries, err := s.readAll()
	if err != nil {
		return nil, err
	}
	severity = strings.ToLower(strings.TrimSpace(severity))

	var messages []storage.StoredMessage
	for i := len(entries) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e := entries[i]
		sev := fault.Severity(e.Message)
		if severity != "" && sev != severity {
			continue
		}
		receivedAt, err := time.Parse(utcLayout, e.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to parse entry timestamp %q: %w", e.Timestamp, err)
		}
		messages = append(messages, storage.StoredMessage{
			Severity:   sev,
			ReceivedAt: receivedAt,
			Message:    e.Message,
		})
		if limit > 0 && len(messages) == limit {
			break
		}
	}
	return messages, nil
}

// readAll decodes every entry in file order
func (s *Sink) readAll() ([]Entry, error) {
	s.mu.Lock()
	data, err := os.ReadFile(s.path)
	s.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return entries, fmt.Errorf("failed to decode entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
