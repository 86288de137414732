// Package lifecycle sequences credential, subscription and stream startup and
// shutdown, and runs the periodic renewal cycle that keeps them alive.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"faultgate/internal/clock"
	"faultgate/internal/metrics"
	"faultgate/internal/platform"
	"faultgate/internal/stream"
	"faultgate/internal/subscription"
)

// ErrNoTopic is returned by Initialize when the platform creates a
// subscription without a topic to consume.
var ErrNoTopic = errors.New("no topic ID received from subscription")

const (
	// DefaultRenewalInterval is the period of the renewal cycle
	DefaultRenewalInterval = 30 * time.Minute
	// DefaultStopTimeout bounds the wait for the renewal worker on shutdown
	DefaultStopTimeout = 5 * time.Second
	// DefaultCallTimeout bounds each remote step of a cycle
	DefaultCallTimeout = time.Minute
)

// Credentials is the credential store as seen by the manager
type Credentials interface {
	IsValid() bool
	AcquireInitial(ctx context.Context) error
	Refresh(ctx context.Context) error
}

// Subscriptions is the subscription service as seen by the manager
type Subscriptions interface {
	Create(ctx context.Context, categoryName, propertyFilter string) (subscription.Info, error)
	Renew(ctx context.Context) bool
	Delete(ctx context.Context) bool
	DeleteByID(ctx context.Context, id string) bool
	Status() subscription.Info
}

// Stream is the message consumer as seen by the manager
type Stream interface {
	SetMessageHandler(h stream.Handler)
	StartConsuming(topic string) error
	StopConsuming()
	IsConsuming() bool
}

// Config contains the manager's settings
type Config struct {
	Category        string
	PropertyFilter  string
	RenewalInterval time.Duration
	StopTimeout     time.Duration
	CallTimeout     time.Duration
}

// Status is a point-in-time snapshot derived from the managed components
type Status struct {
	IsRunning      bool       `json:"is_running"`
	KafkaConsuming bool       `json:"kafka_consuming"`
	SubscriptionID *string    `json:"subscription_id"`
	TopicID        *string    `json:"topic_id"`
	ExpiresAt      *time.Time `json:"expires_at"`
}

// Manager owns startup, shutdown and the renewal worker
type Manager struct {
	config        Config
	credentials   Credentials
	subscriptions Subscriptions
	stream        Stream
	clock         clock.Clock
	metrics       metrics.Collector
	logger        *slog.Logger

	// mu serialises Initialize and Shutdown
	mu       sync.Mutex
	running  atomic.Bool
	stopChan chan struct{}
	done     chan struct{}
}

// Option customises a Manager
type Option func(*Manager)

// WithClock overrides the clock driving the renewal ticker
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithMetrics sets the metrics collector
func WithMetrics(c metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a lifecycle manager
func NewManager(config Config, credentials Credentials, subscriptions Subscriptions, s Stream, opts ...Option) *Manager {
	if config.Category == "" {
		config.Category = subscription.DefaultCategory
	}
	if config.PropertyFilter == "" {
		config.PropertyFilter = subscription.DefaultPropertyFilter
	}
	if config.RenewalInterval <= 0 {
		config.RenewalInterval = DefaultRenewalInterval
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = DefaultStopTimeout
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultCallTimeout
	}

	m := &Manager{
		config:        config,
		credentials:   credentials,
		subscriptions: subscriptions,
		stream:        s,
		clock:         clock.RealClock{},
		metrics:       metrics.NewNop(),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "lifecycle")
	return m
}

// Initialize ensures a valid credential, creates the subscription, starts
// consuming its topic and starts the renewal worker. A nil handler keeps the
// consumer's default handler. Any failure is returned and leaves the manager
// not running.
func (m *Manager) Initialize(ctx context.Context, handler stream.Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running.Load() {
		m.logger.Warn("Lifecycle manager is already running")
		return nil
	}

	m.logger.Info("Initializing lifecycle manager")

	if !m.credentials.IsValid() {
		m.logger.Info("Credential not valid, acquiring")
		if err := m.credentials.AcquireInitial(ctx); err != nil {
			m.logger.Error("Initialization failed", "step", "credential", "error", err)
			return fmt.Errorf("acquire credential: %w", err)
		}
	} else {
		m.logger.Info("Credential is valid")
	}

	info, err := m.subscriptions.Create(ctx, m.config.Category, m.config.PropertyFilter)
	if err != nil {
		m.logger.Error("Initialization failed", "step", "subscription", "error", err)
		return err
	}
	if info.TopicID == "" {
		m.logger.Error("Initialization failed", "step", "subscription", "subscription_id", info.ID, "error", ErrNoTopic)
		if info.ID != "" && !m.subscriptions.DeleteByID(ctx, info.ID) {
			m.logger.Warn("Could not delete subscription without topic", "subscription_id", info.ID)
		}
		return ErrNoTopic
	}

	if handler != nil {
		m.stream.SetMessageHandler(handler)
		m.logger.Info("Custom message handler registered")
	} else {
		m.logger.Info("Using default message handler")
	}

	if err := m.stream.StartConsuming(info.TopicID); err != nil {
		m.logger.Error("Initialization failed", "step", "stream", "topic_id", info.TopicID, "error", err)
		if !m.subscriptions.Delete(ctx) {
			m.logger.Warn("Could not delete subscription after failed start", "subscription_id", info.ID)
		}
		return fmt.Errorf("start consuming: %w", err)
	}

	m.startRenewalWorker()
	m.running.Store(true)

	m.logger.Info("Lifecycle manager initialized",
		"subscription_id", info.ID,
		"topic_id", info.TopicID,
		"renewal_interval", m.config.RenewalInterval)
	return nil
}

// startRenewalWorker creates the ticker before returning so that a clock
// advanced right after Initialize is observed by the worker.
func (m *Manager) startRenewalWorker() {
	ticker := m.clock.NewTicker(m.config.RenewalInterval)
	m.stopChan = make(chan struct{})
	m.done = make(chan struct{})

	go m.renewalLoop(ticker, m.stopChan, m.done)
	m.logger.Info("Renewal worker started", "interval", m.config.RenewalInterval)
}

func (m *Manager) renewalLoop(ticker clock.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			m.renewOnce()
		case <-stop:
			m.logger.Info("Renewal worker stopped")
			return
		}
	}
}

// renewOnce runs one cycle: credential first, then subscription. Failures are
// logged and retried on the next tick.
func (m *Manager) renewOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.CallTimeout)
	defer cancel()

	m.logger.Info("Renewal cycle triggered")

	err := m.credentials.Refresh(ctx)
	if err != nil && (errors.Is(err, platform.ErrAuth) || errors.Is(err, platform.ErrState)) {
		m.logger.Warn("Refresh rejected, acquiring a new credential", "error", err)
		err = m.credentials.AcquireInitial(ctx)
	}
	if err != nil {
		m.metrics.IncCredentialRenewal(metrics.OutcomeFailure)
		m.metrics.IncSubscriptionRenewal(metrics.OutcomeSkipped)
		m.logger.Error("Renewal cycle failed, will retry on next cycle", "step", "credential", "error", err)
		return
	}
	m.metrics.IncCredentialRenewal(metrics.OutcomeSuccess)

	if !m.subscriptions.Renew(ctx) {
		m.metrics.IncSubscriptionRenewal(metrics.OutcomeFailure)
		m.logger.Error("Renewal cycle failed, will retry on next cycle", "step", "subscription")
		return
	}
	m.metrics.IncSubscriptionRenewal(metrics.OutcomeSuccess)

	m.logger.Info("Renewal cycle completed")
}

// Shutdown stops the renewal worker, then the consumer, then deletes the
// subscription. Each step is best-effort. Calling it when not running is a
// no-op.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running.Load() {
		m.logger.Info("Lifecycle manager is not running")
		return
	}

	m.logger.Info("Shutting down lifecycle manager")

	close(m.stopChan)
	select {
	case <-m.done:
	case <-time.After(m.config.StopTimeout):
		m.logger.Warn("Renewal worker did not stop within timeout", "timeout", m.config.StopTimeout)
	}

	m.stream.StopConsuming()

	ctx, cancel := context.WithTimeout(context.Background(), m.config.CallTimeout)
	defer cancel()
	if !m.subscriptions.Delete(ctx) {
		m.logger.Error("Failed to delete subscription during shutdown", "subscription_id", m.subscriptions.Status().ID)
	}

	m.running.Store(false)
	m.logger.Info("Lifecycle manager shut down")
}

// Status reads the current state of every component without blocking them
func (m *Manager) Status() Status {
	info := m.subscriptions.Status()

	status := Status{
		IsRunning:      m.running.Load(),
		KafkaConsuming: m.stream.IsConsuming(),
		ExpiresAt:      info.ExpiresAt,
	}
	if info.ID != "" {
		id := info.ID
		status.SubscriptionID = &id
	}
	if info.TopicID != "" {
		topic := info.TopicID
		status.TopicID = &topic
	}
	return status
}

// IsRunning reports whether Initialize succeeded and Shutdown has not run
func (m *Manager) IsRunning() bool {
	return m.running.Load()
}
