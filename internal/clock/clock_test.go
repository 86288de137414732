package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMockClock_AdvanceFiresTicker(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := NewMockClock(start)
	ticker := clk.NewTicker(30 * time.Minute)
	defer ticker.Stop()

	clk.Advance(29 * time.Minute)
	assert.Len(t, ticker.C(), 0)

	clk.Advance(2 * time.Minute)
	assert.Len(t, ticker.C(), 1)
	assert.Equal(t, start.Add(30*time.Minute), <-ticker.C())
	assert.Equal(t, start.Add(31*time.Minute), clk.Now())
}

func TestMockClock_AdvanceAcrossSeveralPeriods(t *testing.T) {
	clk := NewMockClock(time.Unix(0, 0))
	ticker := clk.NewTicker(time.Minute)

	clk.Advance(3 * time.Minute)
	assert.Len(t, ticker.C(), 3)
}

func TestMockClock_StoppedTickerDoesNotFire(t *testing.T) {
	clk := NewMockClock(time.Unix(0, 0))
	ticker := clk.NewTicker(time.Minute)
	assert.Equal(t, 1, clk.Tickers())

	ticker.Stop()
	assert.Equal(t, 0, clk.Tickers())

	clk.Advance(time.Hour)
	assert.Len(t, ticker.C(), 0)
}

func TestMockClock_Set(t *testing.T) {
	clk := NewMockClock(time.Unix(0, 0))
	target := time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)
	clk.Set(target)
	assert.Equal(t, target, clk.Now())
}
