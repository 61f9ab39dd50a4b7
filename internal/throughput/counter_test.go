package throughput

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCounter(t *testing.T) *Counter {
	t.Helper()
	c, err := New(time.Second, 10*time.Second)
	require.NoError(t, err)
	return c
}

func tick(c *Counter, n int) {
	for i := 0; i < n; i++ {
		c.Update(time.Second, time.Second)
	}
}

func TestNewRejectsNonPositiveIntervals(t *testing.T) {
	_, err := New(0, time.Second)
	assert.ErrorIs(t, err, ErrInvalidInterval)

	_, err = New(time.Second, -time.Second)
	assert.ErrorIs(t, err, ErrInvalidInterval)
}

func TestRecordIgnoresNonPositive(t *testing.T) {
	c := newCounter(t)
	c.RecordDeltaLength(0)
	c.RecordDeltaLength(-5)
	assert.Empty(t, c.nodes)

	tick(c, 1)
	assert.Zero(t, c.CurrentSpeed())
}

func TestRecordCoalescesWithinUpdateInterval(t *testing.T) {
	c := newCounter(t)
	c.RecordDeltaLength(100)
	c.RecordDeltaLength(200)
	require.Len(t, c.nodes, 1)

	tick(c, 1)
	assert.InDelta(t, 300, c.CurrentSpeed(), 0.001)

	// The newest node is now one update interval old, so a new one starts.
	c.RecordDeltaLength(50)
	require.Len(t, c.nodes, 2)

	tick(c, 1)
	assert.InDelta(t, 175, c.CurrentSpeed(), 0.001)
}

func TestExpiredSamplesLeaveTheWindow(t *testing.T) {
	c := newCounter(t)

	c.RecordDeltaLength(1000)
	tick(c, 5)
	assert.InDelta(t, 200, c.CurrentSpeed(), 0.001)

	c.RecordDeltaLength(500)
	tick(c, 5)

	// The first sample is ten seconds old and no longer counted.
	require.Len(t, c.nodes, 1)
	assert.InDelta(t, 50, c.CurrentSpeed(), 0.001)
}

func TestEmptyWindowResets(t *testing.T) {
	c := newCounter(t)
	c.RecordDeltaLength(1000)
	tick(c, 3)
	require.NotZero(t, c.CurrentSpeed())

	tick(c, 7)
	assert.Empty(t, c.nodes)
	assert.Zero(t, c.CurrentSpeed())
	assert.Zero(t, c.accumulator)
	assert.Zero(t, c.timeLeft)
}

func TestSpeedRefreshesOncePerUpdateInterval(t *testing.T) {
	c, err := New(2*time.Second, 10*time.Second)
	require.NoError(t, err)

	c.RecordDeltaLength(400)
	c.Update(time.Second, time.Second)
	// First update computes immediately because the countdown starts at zero.
	assert.InDelta(t, 400, c.CurrentSpeed(), 0.001)

	c.Update(time.Second, time.Second)
	assert.InDelta(t, 200, c.CurrentSpeed(), 0.001)

	c.Update(time.Second, time.Second)
	// Countdown still positive, the published value is unchanged.
	assert.InDelta(t, 200, c.CurrentSpeed(), 0.001)

	c.Update(time.Second, time.Second)
	assert.InDelta(t, 100, c.CurrentSpeed(), 0.001)
}
