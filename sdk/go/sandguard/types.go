package sandguard

import (
	"time"

	"github.com/ppiankov/sandguard/internal/interp"
	"github.com/ppiankov/sandguard/internal/rewrite"
	"github.com/ppiankov/sandguard/internal/runguard"
)

type (
	// Limits bounds one invocation. Zero fields take defaults.
	Limits = runguard.Limits
	// Token names the guard slot an instrumented module resolves.
	Token = runguard.Token
	// PolicyViolation rejects a module at load or rewrite time.
	PolicyViolation = rewrite.PolicyViolation
	// Violation is a budget exceeded at run time.
	Violation = runguard.Violation
	// Exception is a sandboxed exception that escaped the invoked method.
	Exception = interp.Exception
	// Stats counts what instrumentation inserted.
	Stats = rewrite.Stats
)

// Sentinels for errors.Is on Invoke results.
var (
	ErrStackLimit      = runguard.ErrStackLimit
	ErrAllocationLimit = runguard.ErrAllocationLimit
	ErrTimeLimit       = runguard.ErrTimeLimit
	ErrScopeActive     = runguard.ErrScopeActive
)

// Run is the outcome of one invocation.
type Run struct {
	Value      any
	Violated   bool
	Violation  *Violation
	StackBytes int64
	Allocated  int64
	Jumps      int64
	Elapsed    time.Duration
}

func newRun(v any, g *runguard.Guard) *Run {
	u := g.Usage()
	return &Run{
		Value:      v,
		Violated:   g.State() == runguard.StateViolated,
		Violation:  g.Violation(),
		StackBytes: u.StackBytes,
		Allocated:  u.Allocations,
		Jumps:      u.Jumps,
		Elapsed:    u.Elapsed,
	}
}
