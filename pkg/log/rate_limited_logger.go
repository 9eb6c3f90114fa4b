package log

import (
	"sync"
	"time"

	"github.com/go-kit/log"
)

// RateLimitedLogger drops log lines once more than limit have been emitted
// within the current one-second window, for hot paths where a
// misbehaving upstream could otherwise produce unbounded log volume.
// No component wraps its logger in it; the Kafka consumer's decode
// warnings go through the plain logger.
type RateLimitedLogger struct {
	mu        sync.Mutex
	underlying log.Logger
	limit     int
	window    time.Time
	count     int
}

// NewRateLimitedLogger wraps underlying, allowing at most limit Log calls
// per second before subsequent calls in that second are silently dropped.
func NewRateLimitedLogger(limit int, underlying log.Logger) *RateLimitedLogger {
	return &RateLimitedLogger{
		underlying: underlying,
		limit:      limit,
	}
}

// Log implements log.Logger.
func (r *RateLimitedLogger) Log(keyvals ...interface{}) error {
	r.mu.Lock()
	now := time.Now()
	if now.Sub(r.window) >= time.Second {
		r.window = now
		r.count = 0
	}
	r.count++
	drop := r.count > r.limit
	r.mu.Unlock()

	if drop {
		return nil
	}
	return r.underlying.Log(keyvals...)
}
