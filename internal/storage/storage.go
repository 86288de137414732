package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"faultgate/internal/metrics"
)

// Recorder accepts one decoded fault message
type Recorder interface {
	// Record persists or forwards msg and reports success
	Record(msg json.RawMessage) bool
}

// Sink is a durable append-only store for ingested messages
type Sink interface {
	Recorder

	// Count returns the number of stored records
	Count() int
	// SizeBytes returns the size of the backing store
	SizeBytes() int64
	// Clear drops every stored record
	Clear() bool
}

// StoredMessage is one persisted fault read back from an Archive
type StoredMessage struct {
	ID         string          `json:"id,omitempty"`
	Severity   string          `json:"severity,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
	Message    json.RawMessage `json:"message"`
}

// Lister reads stored messages back, newest first. An empty severity matches
// every message; a non-positive limit returns all of them.
type Lister interface {
	List(ctx context.Context, severity string, limit int) ([]StoredMessage, error)
}

// Archive is a Sink whose records can be queried
type Archive interface {
	Sink
	Lister
}

// Namer is implemented by recorders that report their own metric label
type Namer interface {
	Name() string
}

// NameOf returns the recorder's label
func NameOf(r Recorder) string {
	if n, ok := r.(Namer); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", r)
}

// TeeSink writes each message to a primary sink and then to secondary recorders.
// Only the primary's result is reported; secondary failures are logged.
type TeeSink struct {
	primary Sink
	extras  []Recorder
	metrics metrics.Collector
	logger  *slog.Logger
}

// Tee builds a TeeSink. Count, SizeBytes and Clear delegate to primary.
func Tee(primary Sink, extras ...Recorder) *TeeSink {
	return &TeeSink{
		primary: primary,
		extras:  extras,
		metrics: metrics.NewNop(),
		logger:  slog.Default(),
	}
}

// WithMetrics counts every write per recorder
func (t *TeeSink) WithMetrics(c metrics.Collector) *TeeSink {
	if c != nil {
		t.metrics = c
	}
	return t
}

// WithLogger sets the logger used for secondary failures
func (t *TeeSink) WithLogger(logger *slog.Logger) *TeeSink {
	if logger != nil {
		t.logger = logger.With("component", "sink")
	}
	return t
}

func (t *TeeSink) Record(msg json.RawMessage) bool {
	ok := t.primary.Record(msg)
	t.metrics.IncSinkRecords(NameOf(t.primary), metrics.Outcome(ok))

	for _, extra := range t.extras {
		extraOK := extra.Record(msg)
		t.metrics.IncSinkRecords(NameOf(extra), metrics.Outcome(extraOK))
		if !extraOK {
			t.logger.Warn("Secondary recorder failed", "recorder", NameOf(extra))
		}
	}
	return ok
}

func (t *TeeSink) Count() int       { return t.primary.Count() }
func (t *TeeSink) SizeBytes() int64 { return t.primary.SizeBytes() }
func (t *TeeSink) Clear() bool      { return t.primary.Clear() }
func (t *TeeSink) Name() string     { return NameOf(t.primary) }
