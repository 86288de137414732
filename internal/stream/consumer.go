// Package stream consumes fault notifications from the broker topic bound to
// the active subscription and dispatches each decoded message to a handler.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"faultgate/internal/metrics"
	"faultgate/internal/platform"
	"faultgate/internal/storage"
)

const (
	// DefaultGroupID is the consumer group joined by every gateway instance
	DefaultGroupID = "nokia-gateway-group"
	// DefaultStopTimeout bounds how long StopConsuming waits for the loop
	DefaultStopTimeout = 5 * time.Second
	// DefaultRetryDelay is the pause after a broker read error
	DefaultRetryDelay = 5 * time.Second
)

// Message is one record pulled from the broker
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

// Reader pulls messages from one topic. ReadMessage blocks until a message is
// available, ctx is cancelled, or the reader is closed (io.EOF).
type Reader interface {
	ReadMessage(ctx context.Context) (Message, error)
	Close() error
}

// ReaderFactory opens a Reader for topic
type ReaderFactory func(topic string) (Reader, error)

// Handler processes one decoded message
type Handler func(payload json.RawMessage) error

// Config contains the consumer's timing settings
type Config struct {
	StopTimeout time.Duration
	RetryDelay  time.Duration
}

// Consumer runs a single background consumption loop
type Consumer struct {
	config  Config
	factory ReaderFactory
	sink    storage.Recorder
	trace   io.Writer
	metrics metrics.Collector
	logger  *slog.Logger

	handler atomic.Pointer[Handler]

	mu     sync.Mutex
	topic  string
	reader Reader
	cancel context.CancelFunc
	done   chan struct{}
}

// Option customises a Consumer
type Option func(*Consumer)

// WithSink sets the recorder used by the default handler
func WithSink(sink storage.Recorder) Option {
	return func(c *Consumer) { c.sink = sink }
}

// WithTrace sets where the default handler prints each fault; nil disables it
func WithTrace(w io.Writer) Option {
	return func(c *Consumer) { c.trace = w }
}

// WithMetrics sets the metrics collector
func WithMetrics(m metrics.Collector) Option {
	return func(c *Consumer) { c.metrics = m }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Consumer) { c.logger = logger }
}

// NewConsumer creates a consumer that opens readers through factory
func NewConsumer(config Config, factory ReaderFactory, opts ...Option) *Consumer {
	if config.StopTimeout <= 0 {
		config.StopTimeout = DefaultStopTimeout
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultRetryDelay
	}

	c := &Consumer{
		config:  config,
		factory: factory,
		trace:   os.Stdout,
		metrics: metrics.NewNop(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "stream")
	return c
}

// SetMessageHandler replaces the dispatch target. A nil handler restores the
// default sink-and-trace handler. The swap is atomic, but a message already
// being dispatched finishes with the previous handler.
func (c *Consumer) SetMessageHandler(h Handler) {
	if h == nil {
		c.handler.Store(nil)
		c.logger.Info("Message handler reset to default")
		return
	}
	c.handler.Store(&h)
	c.logger.Info("Message handler set")
}

// StartConsuming opens a reader for topic and starts the consumption loop.
// Calling it while the loop is alive logs a warning and does nothing.
func (c *Consumer) StartConsuming(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.aliveLocked() {
		c.logger.Warn("Consumer is already running", "topic", c.topic)
		return nil
	}
	if topic == "" {
		return fmt.Errorf("%w: no topic to consume", platform.ErrState)
	}

	c.logger.Info("Creating consumer", "topic", topic)
	reader, err := c.factory(topic)
	if err != nil {
		c.logger.Error("Failed to create consumer", "topic", topic, "error", err)
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.topic = topic
	c.reader = reader
	c.cancel = cancel
	c.done = done

	c.metrics.SetConsuming(true)
	go c.consume(ctx, reader, topic, done)

	c.logger.Info("Started consuming", "topic", topic)
	return nil
}

// StopConsuming cancels the loop, closes the reader and waits up to the stop
// timeout. A loop that does not exit in time is abandoned with a warning.
func (c *Consumer) StopConsuming() {
	c.mu.Lock()
	if !c.aliveLocked() {
		c.mu.Unlock()
		c.logger.Debug("Consumer is not running")
		return
	}
	cancel, reader, done := c.cancel, c.reader, c.done
	c.mu.Unlock()

	c.logger.Info("Stopping consumer")
	cancel()

	if err := reader.Close(); err != nil {
		c.logger.Error("Error closing consumer", "error", err)
	} else {
		c.logger.Info("Consumer closed")
	}

	select {
	case <-done:
		c.logger.Info("Consumer loop stopped")
	case <-time.After(c.config.StopTimeout):
		c.logger.Warn("Consumer loop did not stop within timeout", "timeout", c.config.StopTimeout)
	}
}

// IsConsuming reports whether the consumption loop is alive
func (c *Consumer) IsConsuming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aliveLocked()
}

func (c *Consumer) aliveLocked() bool {
	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *Consumer) consume(ctx context.Context, reader Reader, topic string, done chan struct{}) {
	count := 0
	defer func() {
		c.metrics.SetConsuming(false)
		c.logger.Info("Consumer loop exited", "topic", topic, "messages_processed", count)
		close(done)
	}()

	c.logger.Info("Listening for messages", "topic", topic)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			c.logger.Error("Broker read failed", "topic", topic, "error", err, "retry_in", c.config.RetryDelay)
			timer := time.NewTimer(c.config.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}

		count++
		c.dispatch(topic, count, msg)
	}
}

// dispatch decodes and handles one message. Any failure, including a
// handler panic, is logged and confined to this message.
func (c *Consumer) dispatch(topic string, n int, msg Message) {
	c.metrics.IncMessages(topic)

	c.logger.Debug("Received message",
		"partition", msg.Partition,
		"offset", msg.Offset)

	defer func() {
		if r := recover(); r != nil {
			c.metrics.IncMessageErrors(topic, metrics.StageHandler)
			c.logger.Error("Handler panicked",
				"offset", msg.Offset,
				"panic", r)
		}
	}()

	payload, err := Decode(msg.Value)
	if err != nil {
		c.metrics.IncMessageErrors(topic, metrics.StageDecode)
		c.logger.Error("Error decoding message",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err)
		return
	}
	if payload == nil {
		c.logger.Debug("Skipping empty message", "offset", msg.Offset)
		return
	}

	c.logger.Info("Message received", "number", n, "topic", topic)

	handle := c.defaultHandler
	if h := c.handler.Load(); h != nil {
		handle = *h
	}
	if err := handle(payload); err != nil {
		c.metrics.IncMessageErrors(topic, metrics.StageHandler)
		c.logger.Error("Error processing message",
			"offset", msg.Offset,
			"error", err)
	}
}

// defaultHandler records payload to the sink and prints it to the trace
func (c *Consumer) defaultHandler(payload json.RawMessage) error {
	ok := true
	if c.sink != nil {
		ok = c.sink.Record(payload)
	}
	if c.trace != nil {
		writeTrace(c.trace, payload)
	}
	if !ok {
		return fmt.Errorf("%w: sink rejected message", platform.ErrMessage)
	}
	return nil
}

// Decode validates a broker value as JSON. Empty values and JSON null yield
// a nil payload.
func Decode(value []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("%w: value is not valid JSON", platform.ErrMessage)
	}
	return json.RawMessage(trimmed), nil
}

var banner = strings.Repeat("=", 80)

func writeTrace(w io.Writer, payload json.RawMessage) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, payload, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(payload)
	}
	fmt.Fprintf(w, "\n%s\nNEW ALARM/FAULT EVENT\n%s\n%s\n%s\n\n", banner, banner, pretty.String(), banner)
}
