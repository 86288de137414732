package logging

import (
	"encoding/json"
	"log/slog"
	"time"

	"faultgate/internal/storage"
)

// SinkLogger wraps a storage.Sink and logs all method calls
type SinkLogger struct {
	sink   storage.Sink
	logger *slog.Logger
}

// NewSinkLogger creates a new logging decorator for a Sink
func NewSinkLogger(sink storage.Sink, logger *slog.Logger) *SinkLogger {
	return &SinkLogger{
		sink:   sink,
		logger: logger.With("interface", "Sink", "sink", storage.NameOf(sink)),
	}
}

func (l *SinkLogger) Record(msg json.RawMessage) bool {
	start := time.Now()
	l.logger.Debug("Record called",
		"size", len(msg))

	ok := l.sink.Record(msg)
	duration := time.Since(start)

	if !ok {
		l.logger.Error("Record failed",
			"size", len(msg),
			"duration", duration)
		return false
	}

	l.logger.Debug("Record completed",
		"size", len(msg),
		"duration", duration)

	return true
}

func (l *SinkLogger) Count() int {
	count := l.sink.Count()
	l.logger.Debug("Count completed", "count", count)
	return count
}

func (l *SinkLogger) SizeBytes() int64 {
	size := l.sink.SizeBytes()
	l.logger.Debug("SizeBytes completed", "size_bytes", size)
	return size
}

func (l *SinkLogger) Clear() bool {
	l.logger.Info("Clear called")

	if !l.sink.Clear() {
		l.logger.Error("Clear failed")
		return false
	}

	l.logger.Info("Clear completed")
	return true
}

// Name keeps the wrapped sink's metric label
func (l *SinkLogger) Name() string {
	return storage.NameOf(l.sink)
}
