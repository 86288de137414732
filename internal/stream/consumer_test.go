package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"faultgate/internal/metrics"
	"faultgate/internal/platform"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader serves queued messages until closed
type fakeReader struct {
	msgs      chan Message
	errs      chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		msgs:   make(chan Message, 16),
		errs:   make(chan error, 4),
		closed: make(chan struct{}),
	}
}

func (f *fakeReader) ReadMessage(ctx context.Context) (Message, error) {
	select {
	case err := <-f.errs:
		return Message{}, err
	default:
	}
	select {
	case m := <-f.msgs:
		return m, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-f.closed:
		return Message{}, io.EOF
	}
}

func (f *fakeReader) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeReader) push(values ...string) {
	for i, v := range values {
		f.msgs <- Message{Topic: "Top1", Offset: int64(i), Value: []byte(v)}
	}
}

// stuckReader ignores cancellation until released
type stuckReader struct {
	release chan struct{}
}

func (s *stuckReader) ReadMessage(context.Context) (Message, error) {
	<-s.release
	return Message{}, io.EOF
}

func (s *stuckReader) Close() error { return nil }

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type memoryRecorder struct {
	mu      sync.Mutex
	records []json.RawMessage
}

func (m *memoryRecorder) Record(msg json.RawMessage) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, msg)
	return true
}

func (m *memoryRecorder) all() []json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]json.RawMessage(nil), m.records...)
}

type errorMetrics struct {
	metrics.NopMetrics
	mu     sync.Mutex
	errors map[string]int
}

func (e *errorMetrics) IncMessageErrors(topic, stage string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errors[stage]++
}

func (e *errorMetrics) count(stage string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errors[stage]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func factoryFor(r Reader) (ReaderFactory, *int) {
	calls := 0
	return func(topic string) (Reader, error) {
		calls++
		return r, nil
	}, &calls
}

func newTestConsumer(factory ReaderFactory, opts ...Option) *Consumer {
	opts = append([]Option{WithLogger(testLogger()), WithTrace(nil)}, opts...)
	c := NewConsumer(Config{StopTimeout: time.Second, RetryDelay: 10 * time.Millisecond}, factory, opts...)
	return c
}

func TestConsumer_DispatchesInOrder(t *testing.T) {
	reader := newFakeReader()
	factory, _ := factoryFor(reader)
	c := newTestConsumer(factory)

	var mu sync.Mutex
	var got []string
	c.SetMessageHandler(func(payload json.RawMessage) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(payload))
		return nil
	})

	require.NoError(t, c.StartConsuming("Top1"))
	defer c.StopConsuming()

	reader.push(`{"id":"m1"}`, `{"id":"m2"}`)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{`{"id":"m1"}`, `{"id":"m2"}`}, got)
	mu.Unlock()
}

func TestConsumer_HandlerFailureIsIsolated(t *testing.T) {
	tests := []struct {
		name string
		fail func() error
	}{
		{name: "panic", fail: func() error { panic("boom") }},
		{name: "error", fail: func() error { return errors.New("boom") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := newFakeReader()
			factory, _ := factoryFor(reader)
			collector := &errorMetrics{errors: map[string]int{}}
			c := newTestConsumer(factory, WithMetrics(collector))

			var mu sync.Mutex
			var handled []string
			c.SetMessageHandler(func(payload json.RawMessage) error {
				if string(payload) == `{"id":"m1"}` {
					return tt.fail()
				}
				mu.Lock()
				defer mu.Unlock()
				handled = append(handled, string(payload))
				return nil
			})

			require.NoError(t, c.StartConsuming("Top1"))
			defer c.StopConsuming()

			reader.push(`{"id":"m1"}`, `{"id":"m2"}`)

			assert.Eventually(t, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return len(handled) == 1
			}, time.Second, 5*time.Millisecond)
			assert.True(t, c.IsConsuming())
			assert.Equal(t, 1, collector.count(metrics.StageHandler))
		})
	}
}

func TestConsumer_MalformedMessageIsSkipped(t *testing.T) {
	reader := newFakeReader()
	factory, _ := factoryFor(reader)
	collector := &errorMetrics{errors: map[string]int{}}
	sink := &memoryRecorder{}
	c := newTestConsumer(factory, WithSink(sink), WithMetrics(collector))

	require.NoError(t, c.StartConsuming("Top1"))
	defer c.StopConsuming()

	reader.push(`{not json`, ``, `{"severity":"major"}`)

	assert.Eventually(t, func() bool { return len(sink.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.JSONEq(t, `{"severity":"major"}`, string(sink.all()[0]))
	assert.Equal(t, 1, collector.count(metrics.StageDecode))
}

func TestConsumer_DefaultHandlerRecordsAndTraces(t *testing.T) {
	reader := newFakeReader()
	factory, _ := factoryFor(reader)
	sink := &memoryRecorder{}
	trace := &syncBuffer{}
	c := newTestConsumer(factory, WithSink(sink), WithTrace(trace))

	require.NoError(t, c.StartConsuming("Top1"))
	reader.push(`{"severity":"critical"}`)

	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(trace.String()), []byte("NEW ALARM/FAULT EVENT"))
	}, time.Second, 5*time.Millisecond)
	c.StopConsuming()

	require.Len(t, sink.all(), 1)
	assert.Contains(t, trace.String(), "\"severity\": \"critical\"")
}

func TestConsumer_ResetHandlerToDefault(t *testing.T) {
	reader := newFakeReader()
	factory, _ := factoryFor(reader)
	sink := &memoryRecorder{}
	c := newTestConsumer(factory, WithSink(sink))

	c.SetMessageHandler(func(json.RawMessage) error { return nil })
	c.SetMessageHandler(nil)

	require.NoError(t, c.StartConsuming("Top1"))
	defer c.StopConsuming()
	reader.push(`{"a":1}`)

	assert.Eventually(t, func() bool { return len(sink.all()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestConsumer_StartTwiceIsNoop(t *testing.T) {
	reader := newFakeReader()
	factory, calls := factoryFor(reader)
	c := newTestConsumer(factory)

	require.NoError(t, c.StartConsuming("Top1"))
	require.NoError(t, c.StartConsuming("Top2"))
	defer c.StopConsuming()

	assert.Equal(t, 1, *calls)
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, "Top1", c.topic)
}

func TestConsumer_StartErrors(t *testing.T) {
	c := newTestConsumer(func(string) (Reader, error) {
		return nil, errors.New("bad certificate")
	})

	err := c.StartConsuming("")
	assert.ErrorIs(t, err, platform.ErrState)

	err = c.StartConsuming("Top1")
	assert.ErrorContains(t, err, "bad certificate")
	assert.False(t, c.IsConsuming())
}

func TestConsumer_StopWhenNotRunning(t *testing.T) {
	factory, _ := factoryFor(newFakeReader())
	c := newTestConsumer(factory)

	start := time.Now()
	c.StopConsuming()
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.False(t, c.IsConsuming())
}

func TestConsumer_StopAndRestart(t *testing.T) {
	first := newFakeReader()
	second := newFakeReader()
	readers := []Reader{first, second}
	c := newTestConsumer(func(string) (Reader, error) {
		r := readers[0]
		readers = readers[1:]
		return r, nil
	})

	require.NoError(t, c.StartConsuming("Top1"))
	assert.True(t, c.IsConsuming())

	c.StopConsuming()
	assert.False(t, c.IsConsuming())

	require.NoError(t, c.StartConsuming("Top1"))
	assert.True(t, c.IsConsuming())
	c.StopConsuming()
	assert.False(t, c.IsConsuming())
}

func TestConsumer_StopAbandonsStuckLoop(t *testing.T) {
	reader := &stuckReader{release: make(chan struct{})}
	t.Cleanup(func() { close(reader.release) })

	c := NewConsumer(Config{StopTimeout: 50 * time.Millisecond}, func(string) (Reader, error) {
		return reader, nil
	}, WithLogger(testLogger()))

	require.NoError(t, c.StartConsuming("Top1"))

	start := time.Now()
	c.StopConsuming()
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.True(t, c.IsConsuming(), "abandoned loop is still alive")
}

func TestConsumer_ReadErrorRetries(t *testing.T) {
	reader := newFakeReader()
	reader.errs <- errors.New("leader not available")
	factory, _ := factoryFor(reader)
	sink := &memoryRecorder{}
	c := newTestConsumer(factory, WithSink(sink))

	require.NoError(t, c.StartConsuming("Top1"))
	defer c.StopConsuming()
	reader.push(`{"after":"error"}`)

	assert.Eventually(t, func() bool { return len(sink.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, c.IsConsuming())
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    string
		wantErr bool
	}{
		{name: "object", value: `{"severity":"minor"}`, want: `{"severity":"minor"}`},
		{name: "whitespace", value: "  {\"a\":1}\n", want: `{"a":1}`},
		{name: "empty", value: ``},
		{name: "null", value: `null`},
		{name: "garbage", value: `<xml/>`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.value))
			if tt.wantErr {
				assert.ErrorIs(t, err, platform.ErrMessage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}
