package ratelimit

import (
	"strings"
	"testing"
	"time"
)

// --- Config tests ---

func TestHasLimitsEmpty(t *testing.T) {
	cfg := RateLimitConfig{}
	if cfg.HasLimits() {
		t.Error("expected empty config to have no limits")
	}
}

func TestHasLimitsConfigured(t *testing.T) {
	cfg := RateLimitConfig{
		"sandguard_run": {MaxRequests: 10, Window: time.Minute},
	}
	if !cfg.HasLimits() {
		t.Error("expected HasLimits=true for configured limit")
	}
}

func TestHasLimitsZeroMaxRequests(t *testing.T) {
	cfg := RateLimitConfig{
		"sandguard_run": {MaxRequests: 0, Window: time.Minute},
	}
	if cfg.HasLimits() {
		t.Error("expected HasLimits=false for zero MaxRequests")
	}
}

func TestHasLimitsZeroWindow(t *testing.T) {
	cfg := RateLimitConfig{
		"sandguard_run": {MaxRequests: 10, Window: 0},
	}
	if cfg.HasLimits() {
		t.Error("expected HasLimits=false for zero Window")
	}
}

func TestForFallsBackToWildcard(t *testing.T) {
	run := &ToolRateLimit{MaxRequests: 2, Window: time.Minute}
	wild := &ToolRateLimit{MaxRequests: 50, Window: time.Minute}
	cfg := RateLimitConfig{"sandguard_run": run, "*": wild}

	if got := cfg.For("sandguard_run"); got != run {
		t.Errorf("expected tool limit, got %+v", got)
	}
	if got := cfg.For("sandguard_check"); got != wild {
		t.Errorf("expected wildcard limit, got %+v", got)
	}
	if got := (RateLimitConfig{}).For("sandguard_check"); got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

// --- Tracker tests ---

func TestSnapshotStartsWindow(t *testing.T) {
	state := NewState()
	now := time.Now().UTC()
	if count := Snapshot(state, "sandguard_run", time.Minute, now); count != 0 {
		t.Errorf("expected 0, got %d", count)
	}
	if !state.starts["sandguard_run"].Equal(now) {
		t.Error("expected window to start now")
	}
}

func TestSnapshotReturnsCount(t *testing.T) {
	state := NewState()
	start := time.Now().UTC()
	Snapshot(state, "sandguard_run", time.Minute, start)
	for i := 0; i < 5; i++ {
		Increment(state, "sandguard_run")
	}

	count := Snapshot(state, "sandguard_run", time.Minute, start.Add(30*time.Second))
	if count != 5 {
		t.Errorf("expected 5, got %d", count)
	}
}

func TestSnapshotResetsOnWindowExpiry(t *testing.T) {
	state := NewState()
	start := time.Now().UTC()
	Snapshot(state, "sandguard_run", time.Minute, start)
	for i := 0; i < 10; i++ {
		Increment(state, "sandguard_run")
	}

	now := start.Add(2 * time.Minute)
	if count := Snapshot(state, "sandguard_run", time.Minute, now); count != 0 {
		t.Errorf("expected 0 after window reset, got %d", count)
	}
	if !state.starts["sandguard_run"].Equal(now) {
		t.Error("expected window start to be reset")
	}
}

func TestWindowsAreIndependentPerTool(t *testing.T) {
	state := NewState()
	start := time.Now().UTC()
	Snapshot(state, "a", time.Minute, start)
	Increment(state, "a")
	Snapshot(state, "b", time.Second, start)
	Increment(state, "b")

	later := start.Add(2 * time.Second)
	if count := Snapshot(state, "b", time.Second, later); count != 0 {
		t.Errorf("b: expected reset, got %d", count)
	}
	if count := Snapshot(state, "a", time.Minute, later); count != 1 {
		t.Errorf("a: expected 1, got %d", count)
	}
}

// --- Check tests ---

func TestCheckNilLimit(t *testing.T) {
	if r := Check(100, nil); r.Exceeded {
		t.Error("nil limit should never be exceeded")
	}
}

func TestCheckUnderLimit(t *testing.T) {
	if r := Check(4, &ToolRateLimit{MaxRequests: 5, Window: time.Minute}); r.Exceeded {
		t.Error("expected not exceeded")
	}
}

func TestCheckAtLimit(t *testing.T) {
	r := Check(5, &ToolRateLimit{MaxRequests: 5, Window: time.Minute})
	if !r.Exceeded {
		t.Fatal("expected exceeded at limit")
	}
	if r.Current != 5 || r.Limit != 5 {
		t.Errorf("expected 5/5, got %d/%d", r.Current, r.Limit)
	}
	if !strings.Contains(r.Reason, "5/5 requests in 1m0s window") {
		t.Errorf("unexpected reason %q", r.Reason)
	}
}

// --- Limiter tests ---

func TestLimiterDeniesAfterMax(t *testing.T) {
	l := NewLimiter(RateLimitConfig{
		"sandguard_run": {MaxRequests: 2, Window: time.Minute},
	})
	now := time.Now()
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if r := l.Allow("sandguard_run"); r.Exceeded {
			t.Fatalf("call %d: unexpected deny", i+1)
		}
	}
	r := l.Allow("sandguard_run")
	if !r.Exceeded {
		t.Fatal("third call should be denied")
	}
	if r.Tool != "sandguard_run" {
		t.Errorf("expected tool name, got %q", r.Tool)
	}

	// Unlimited tools pass.
	if r := l.Allow("sandguard_check"); r.Exceeded {
		t.Error("unlimited tool was denied")
	}

	// A new window admits calls again.
	now = now.Add(time.Minute)
	if r := l.Allow("sandguard_run"); r.Exceeded {
		t.Error("expected allow after window expiry")
	}
}

func TestLimiterNilConfig(t *testing.T) {
	l := NewLimiter(nil)
	for i := 0; i < 100; i++ {
		if r := l.Allow("sandguard_run"); r.Exceeded {
			t.Fatal("nil config should allow everything")
		}
	}
}
