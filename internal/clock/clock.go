package clock

import (
	"sync"
	"time"
)

// Clock abstracts time operations for testing
type Clock interface {
	// Now returns the current time
	Now() time.Time
	// NewTicker creates a ticker that fires every d
	NewTicker(d time.Duration) Ticker
}

// Ticker is the subset of time.Ticker the workers use
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock implements Clock using the real system time
type RealClock struct{}

// Now returns the current time
func (RealClock) Now() time.Time {
	return time.Now()
}

// NewTicker creates a new time.Ticker
func (RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// MockClock implements Clock for testing. Time only moves on Advance or Set,
// and tickers fire once for every period boundary Advance crosses.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*mockTicker
}

// NewMockClock returns a MockClock starting at t
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the mocked current time
func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// NewTicker registers a ticker driven by Advance
func (m *MockClock) NewTicker(d time.Duration) Ticker {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &mockTicker{
		clock:  m,
		period: d,
		next:   m.now.Add(d),
		ch:     make(chan time.Time, 16),
	}
	m.tickers = append(m.tickers, t)
	return t
}

// Tickers returns the number of live tickers. Tests use it to wait until a
// worker has started before advancing time.
func (m *MockClock) Tickers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tickers)
}

// Advance moves the mocked time forward by d, firing tickers on the way
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.now = m.now.Add(d)
	for _, t := range m.tickers {
		for !t.next.After(m.now) {
			select {
			case t.ch <- t.next:
			default:
				// Dropped like a real ticker drops ticks for slow receivers
			}
			t.next = t.next.Add(t.period)
		}
	}
}

// Set sets the mocked current time without firing tickers
func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

func (m *MockClock) remove(t *mockTicker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.tickers {
		if existing == t {
			m.tickers = append(m.tickers[:i], m.tickers[i+1:]...)
			return
		}
	}
}

type mockTicker struct {
	clock  *MockClock
	period time.Duration
	next   time.Time
	ch     chan time.Time
}

func (t *mockTicker) C() <-chan time.Time { return t.ch }
func (t *mockTicker) Stop()               { t.clock.remove(t) }

// Ensure implementations satisfy the interface
var (
	_ Clock = RealClock{}
	_ Clock = (*MockClock)(nil)
)
