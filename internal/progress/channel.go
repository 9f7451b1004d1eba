// Package progress carries best-effort status text from a running job to
// its supervisor. One Channel exists per job: single writer, single reader,
// bounded depth, never blocking the writer.
package progress

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultDepth    = 64
	dropLogInterval = 5 * time.Second
)

// Channel is the per-job message pipe. Emit never blocks; if the buffer is
// full the message is dropped and a rate-limited warning is logged. Within
// one job, messages that are delivered arrive in emission order.
type Channel struct {
	ch          chan string
	dropped     atomic.Int64
	dropLimiter rateLimiter
	logger      *zap.Logger
}

// NewChannel builds a Channel with the given buffer depth.
func NewChannel(depth int, logger *zap.Logger) *Channel {
	if depth <= 0 {
		depth = defaultDepth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{
		ch:          make(chan string, depth),
		dropLimiter: rateLimiter{interval: dropLogInterval},
		logger:      logger,
	}
}

// Emit enqueues a status message, dropping it when the buffer is full.
func (c *Channel) Emit(text string) {
	if c == nil || text == "" {
		return
	}
	select {
	case c.ch <- text:
	default:
		c.dropped.Add(1)
		if c.dropLimiter.Allow(time.Now()) {
			count := c.dropped.Swap(0)
			c.logger.Warn("progress messages dropped due to backpressure", zap.Int64("dropped", count))
		}
	}
}

// TryRecv returns the next pending message without blocking.
func (c *Channel) TryRecv() (string, bool) {
	if c == nil {
		return "", false
	}
	select {
	case text := <-c.ch:
		return text, true
	default:
		return "", false
	}
}

// Dropped returns how many messages were discarded since the last warning.
func (c *Channel) Dropped() int64 {
	return c.dropped.Load()
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
