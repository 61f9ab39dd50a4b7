// Package throughput estimates transfer speed over a trailing time window.
package throughput

import (
	"errors"
	"time"
)

// ErrInvalidInterval is returned when an interval is not positive.
var ErrInvalidInterval = errors.New("throughput: interval must be positive")

// node is one time slice of the window.
type node struct {
	deltaLength int64
	elapse      time.Duration
}

// Counter is a sliding-window byte-rate estimator.
//
// Samples recorded within one update interval are coalesced into a single
// node. Nodes older than the record interval are evicted, so CurrentSpeed is
// the average over roughly the last record interval. Counter is not safe for
// concurrent use; drive it from the same loop that records samples.
type Counter struct {
	updateInterval time.Duration
	recordInterval time.Duration

	nodes        []node
	accumulator  time.Duration
	timeLeft     time.Duration
	currentSpeed float64
}

// New creates a counter. updateInterval is how often CurrentSpeed is
// recomputed, recordInterval is how far back samples are kept.
func New(updateInterval, recordInterval time.Duration) (*Counter, error) {
	if updateInterval <= 0 || recordInterval <= 0 {
		return nil, ErrInvalidInterval
	}
	return &Counter{
		updateInterval: updateInterval,
		recordInterval: recordInterval,
	}, nil
}

// UpdateInterval returns the speed refresh interval.
func (c *Counter) UpdateInterval() time.Duration {
	return c.updateInterval
}

// RecordInterval returns the window length.
func (c *Counter) RecordInterval() time.Duration {
	return c.recordInterval
}

// CurrentSpeed returns the last computed speed in bytes per second.
func (c *Counter) CurrentSpeed() float64 {
	return c.currentSpeed
}

// RecordDeltaLength adds n bytes to the window. Non-positive values are ignored.
func (c *Counter) RecordDeltaLength(n int64) {
	if n <= 0 {
		return
	}

	if last := len(c.nodes) - 1; last >= 0 && c.nodes[last].elapse < c.updateInterval {
		c.nodes[last].deltaLength += n
		return
	}

	c.nodes = append(c.nodes, node{deltaLength: n})
}

// Update advances the window by realDt.
func (c *Counter) Update(dt, realDt time.Duration) {
	if len(c.nodes) == 0 {
		return
	}

	c.accumulator += realDt
	if c.accumulator > c.recordInterval {
		c.accumulator = c.recordInterval
	}

	c.timeLeft -= realDt
	for i := range c.nodes {
		c.nodes[i].elapse += realDt
	}

	expired := 0
	for expired < len(c.nodes) && c.nodes[expired].elapse >= c.recordInterval {
		expired++
	}
	if expired > 0 {
		c.nodes = append(c.nodes[:0], c.nodes[expired:]...)
	}

	if len(c.nodes) == 0 {
		c.Reset()
		return
	}

	if c.timeLeft <= 0 {
		var total int64
		for _, n := range c.nodes {
			total += n.deltaLength
		}
		if c.accumulator > 0 {
			c.currentSpeed = float64(total) / c.accumulator.Seconds()
		} else {
			c.currentSpeed = 0
		}
		c.timeLeft += c.updateInterval
	}
}

// Reset clears all samples and the published speed.
func (c *Counter) Reset() {
	c.nodes = c.nodes[:0]
	c.currentSpeed = 0
	c.accumulator = 0
	c.timeLeft = 0
}
