package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealClock(t *testing.T) {
	t.Parallel()
	var c Clock = RealClock{}
	start := c.Now()
	assert.GreaterOrEqual(t, c.Since(start), time.Duration(0))
}

func TestMockClock_Stopped(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(base)

	assert.Equal(t, base, c.Now())
	assert.Equal(t, base, c.Now())
	assert.Zero(t, c.Since(base))
	assert.Equal(t, time.Minute, c.Since(base.Add(-time.Minute)))
}

func TestMockClock_AutoStep(t *testing.T) {
	t.Parallel()
	base := time.Unix(0, 0)
	c := NewMockClock(base)
	c.SetAutoStep(time.Second)

	first := c.Now()
	second := c.Now()
	assert.Equal(t, base, first)
	assert.Equal(t, time.Second, second.Sub(first))
	// Since reads without stepping.
	assert.Equal(t, 2*time.Second, c.Since(base))
	assert.Equal(t, 2*time.Second, c.Since(base))
}
