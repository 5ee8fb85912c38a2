// Package ratelimit caps how often each MCP tool may be called.
package ratelimit

import "time"

// ToolRateLimit defines the rate limit for a single tool.
// Zero values mean no limit for that tool.
type ToolRateLimit struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// RateLimitConfig maps tool names to their rate limits. The "*" key applies
// to tools without their own entry.
type RateLimitConfig map[string]*ToolRateLimit

// HasLimits returns true if any tool has a configured limit.
func (c RateLimitConfig) HasLimits() bool {
	for _, trl := range c {
		if trl.active() {
			return true
		}
	}
	return false
}

// For returns the limit that applies to tool, or nil.
func (c RateLimitConfig) For(tool string) *ToolRateLimit {
	if trl := c[tool]; trl.active() {
		return trl
	}
	if trl := c["*"]; trl.active() {
		return trl
	}
	return nil
}

func (l *ToolRateLimit) active() bool {
	return l != nil && l.MaxRequests > 0 && l.Window > 0
}
