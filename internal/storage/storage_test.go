package storage

import (
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"faultgate/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memorySink is an in-memory Sink for tests
type memorySink struct {
	records []json.RawMessage
	fail    bool
}

func (m *memorySink) Record(msg json.RawMessage) bool {
	if m.fail {
		return false
	}
	m.records = append(m.records, msg)
	return true
}

func (m *memorySink) Count() int { return len(m.records) }

func (m *memorySink) SizeBytes() int64 {
	var n int64
	for _, r := range m.records {
		n += int64(len(r))
	}
	return n
}

func (m *memorySink) Clear() bool {
	m.records = nil
	return true
}

func (m *memorySink) Name() string { return "memory" }

type recorderFunc func(json.RawMessage) bool

func (f recorderFunc) Record(msg json.RawMessage) bool { return f(msg) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestTee_FansOutInOrder(t *testing.T) {
	primary := &memorySink{}
	var order []string
	first := recorderFunc(func(json.RawMessage) bool { order = append(order, "first"); return true })
	second := recorderFunc(func(json.RawMessage) bool { order = append(order, "second"); return true })

	tee := Tee(primary, first, second).WithLogger(quietLogger())

	require.True(t, tee.Record(json.RawMessage(`{"severity":"major"}`)))
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, 1, tee.Count())
	assert.Equal(t, int64(len(`{"severity":"major"}`)), tee.SizeBytes())
	assert.Equal(t, "memory", tee.Name())

	assert.True(t, tee.Clear())
	assert.Equal(t, 0, primary.Count())
}

func TestTee_ReportsPrimaryResult(t *testing.T) {
	failing := recorderFunc(func(json.RawMessage) bool { return false })

	ok := Tee(&memorySink{}, failing).WithLogger(quietLogger()).Record(json.RawMessage(`{}`))
	assert.True(t, ok, "secondary failure must not fail the record")

	called := false
	extra := recorderFunc(func(json.RawMessage) bool { called = true; return true })
	ok = Tee(&memorySink{fail: true}, extra).WithLogger(quietLogger()).Record(json.RawMessage(`{}`))
	assert.False(t, ok)
	assert.True(t, called, "secondaries still run when the primary fails")
}

// countingMetrics records sink outcomes
type countingMetrics struct {
	metrics.NopMetrics
	sinks map[string]int
}

func (c *countingMetrics) IncSinkRecords(sink, outcome string) {
	c.sinks[sink+"/"+outcome]++
}

func TestTee_CountsOutcomes(t *testing.T) {
	collector := &countingMetrics{sinks: map[string]int{}}
	failing := recorderFunc(func(json.RawMessage) bool { return false })

	tee := Tee(&memorySink{}, failing).WithMetrics(collector).WithLogger(quietLogger())
	tee.Record(json.RawMessage(`{}`))
	tee.Record(json.RawMessage(`{}`))

	assert.Equal(t, map[string]int{
		"memory/success":               2,
		"storage.recorderFunc/failure": 2,
	}, collector.sinks)
}
