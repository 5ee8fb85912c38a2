package ratelimit

import "time"

// State holds per-tool call counts for the current fixed windows.
type State struct {
	counts map[string]int
	starts map[string]time.Time
}

// NewState returns an empty State.
func NewState() *State {
	return &State{counts: make(map[string]int), starts: make(map[string]time.Time)}
}

// Snapshot reads the current call count for tool. If the tool's window has
// expired, its counter and window start are reset.
func Snapshot(state *State, tool string, window time.Duration, now time.Time) int {
	start, ok := state.starts[tool]
	if !ok || now.Sub(start) >= window {
		state.counts[tool] = 0
		state.starts[tool] = now
	}
	return state.counts[tool]
}

// Increment records a call for tool.
func Increment(state *State, tool string) {
	state.counts[tool]++
}
