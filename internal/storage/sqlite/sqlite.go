package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"faultgate/internal/clock"
	"faultgate/internal/fault"
	"faultgate/internal/idgen"
	"faultgate/internal/storage"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultWriteTimeout bounds a single insert
const DefaultWriteTimeout = 5 * time.Second

// SQLiteSink implements storage.Sink using SQLite
type SQLiteSink struct {
	db     *sql.DB
	clock  clock.Clock
	logger *slog.Logger
}

var _ storage.Archive = (*SQLiteSink)(nil)

// Option customises a SQLiteSink
type Option func(*SQLiteSink)

// WithClock overrides the wall clock used for ingest timestamps
func WithClock(c clock.Clock) Option {
	return func(s *SQLiteSink) { s.clock = c }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *SQLiteSink) { s.logger = logger }
}

// New opens (or creates) the database at dbPath, creating its parent
// directory when missing
func New(dbPath string, opts ...Option) (*SQLiteSink, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	s := &SQLiteSink{
		db:     db,
		clock:  clock.RealClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "sqlite_sink")

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	s.logger.Info("SQLite sink initialized", "path", dbPath)
	return s, nil
}

// migrate creates the database schema
func (s *SQLiteSink) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS fault_messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			severity TEXT,
			ingested_at DATETIME NOT NULL,
			received_at TEXT NOT NULL,
			message TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_fault_messages_severity ON fault_messages(severity);
		CREATE INDEX IF NOT EXISTS idx_fault_messages_ingested ON fault_messages(ingested_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Name implements storage.Namer
func (s *SQLiteSink) Name() string {
	return "sqlite"
}

// Record inserts msg with its ingest timestamp
func (s *SQLiteSink) Record(msg json.RawMessage) bool {
	if !json.Valid(msg) {
		s.logger.Error("Refusing to store invalid JSON message")
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultWriteTimeout)
	defer cancel()

	now := s.clock.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fault_messages (id, severity, ingested_at, received_at, message)
		VALUES (?, ?, ?, ?, ?)
	`, idgen.NewRecord(), severityOf(msg), now.UTC(), now.Local().Format("2006-01-02T15:04:05.000000"), string(msg))
	if err != nil {
		s.logger.Error("Failed to insert message", "error", err)
		return false
	}

	s.logger.Debug("Message stored")
	return true
}

// Count returns the number of stored messages
func (s *SQLiteSink) Count() int {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM fault_messages`).Scan(&n); err != nil {
		s.logger.Error("Failed to count messages", "error", err)
		return 0
	}
	return n
}

// SizeBytes returns the database size as reported by SQLite
func (s *SQLiteSink) SizeBytes() int64 {
	var pageCount, pageSize int64
	if err := s.db.QueryRow(`PRAGMA page_count`).Scan(&pageCount); err != nil {
		s.logger.Error("Failed to read page count", "error", err)
		return 0
	}
	if err := s.db.QueryRow(`PRAGMA page_size`).Scan(&pageSize); err != nil {
		s.logger.Error("Failed to read page size", "error", err)
		return 0
	}
	return pageCount * pageSize
}

// Clear deletes every stored message
func (s *SQLiteSink) Clear() bool {
	if _, err := s.db.Exec(`DELETE FROM fault_messages`); err != nil {
		s.logger.Error("Failed to clear messages", "error", err)
		return false
	}
	s.logger.Info("Cleared stored messages")
	return true
}

// List implements storage.Lister
func (s *SQLiteSink) List(ctx context.Context, severity string, limit int) ([]storage.StoredMessage, error) {
	query := `SELECT id, severity, ingested_at, message FROM fault_messages`
	var args []interface{}
	if severity != "" {
		query += ` WHERE severity = ?`
		args = append(args, strings.ToLower(strings.TrimSpace(severity)))
	}
	query += ` ORDER BY seq DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []storage.StoredMessage
	for rows.Next() {
		var m storage.StoredMessage
		var sev sql.NullString
		var message string
		if err := rows.Scan(&m.ID, &sev, &m.ReceivedAt, &message); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Severity = sev.String
		m.Message = json.RawMessage(message)
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// Close closes the database connection
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// severityOf returns the message severity, or NULL when absent
func severityOf(msg json.RawMessage) sql.NullString {
	severity := fault.Severity(msg)
	if severity == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: severity, Valid: true}
}
