package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// CheckResult is the outcome of a rate limit check.
type CheckResult struct {
	Exceeded bool
	Tool     string
	Current  int
	Limit    int
	Reason   string
}

// Check compares the current count against the rate limit.
func Check(count int, limit *ToolRateLimit) CheckResult {
	if !limit.active() {
		return CheckResult{}
	}
	if count >= limit.MaxRequests {
		return CheckResult{
			Exceeded: true,
			Current:  count,
			Limit:    limit.MaxRequests,
			Reason: fmt.Sprintf("rate limit exceeded: %d/%d requests in %s window",
				count, limit.MaxRequests, limit.Window),
		}
	}
	return CheckResult{}
}

// Limiter applies a RateLimitConfig to a stream of tool calls. Safe for
// concurrent use.
type Limiter struct {
	cfg   RateLimitConfig
	state *State
	now   func() time.Time
	mu    sync.Mutex
}

// NewLimiter creates a Limiter. A nil or empty config allows everything.
func NewLimiter(cfg RateLimitConfig) *Limiter {
	return &Limiter{cfg: cfg, state: NewState(), now: time.Now}
}

// Allow checks tool against its limit. When the check passes, the call is
// counted.
func (l *Limiter) Allow(tool string) CheckResult {
	limit := l.cfg.For(tool)
	if limit == nil {
		return CheckResult{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	count := Snapshot(l.state, tool, limit.Window, l.now())
	result := Check(count, limit)
	if result.Exceeded {
		result.Tool = tool
		return result
	}
	Increment(l.state, tool)
	return CheckResult{}
}
