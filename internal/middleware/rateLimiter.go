package middleware

import (
	"sync/atomic"
	"time"
)

const defaultBurst = 5

// RateLimiter is a lock-free token bucket, one per connection. Commands drain
// tokens; elapsed time refills them up to the burst ceiling.
type RateLimiter struct {
	token    int32
	burst    int32
	rate     time.Duration
	lastTick int64 // unix nanos of the last refill
}

func NewRatelimiter(token int32, rate time.Duration) *RateLimiter {
	return &RateLimiter{
		token:    token,
		burst:    defaultBurst,
		rate:     rate,
		lastTick: time.Now().UnixNano(),
	}
}

func (l *RateLimiter) Allow() bool {
	now := time.Now().UnixNano()
	last := atomic.LoadInt64(&l.lastTick)

	generated := int32((now - last) / int64(l.rate))
	if generated > 0 && atomic.CompareAndSwapInt64(&l.lastTick, last, now) {
		current := atomic.LoadInt32(&l.token)
		newBalance := current + generated
		if newBalance > l.burst {
			newBalance = l.burst
		}
		atomic.StoreInt32(&l.token, newBalance)
	}

	for {
		current := atomic.LoadInt32(&l.token)
		if current <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt32(&l.token, current, current-1) {
			return true
		}
	}
}
