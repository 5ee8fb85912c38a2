// Package sandguard runs untrusted bytecode modules under a deny-by-default
// API policy and a runtime quota guard. Modules are validated and
// instrumented once, then invoked any number of times, each invocation
// inside its own guarded scope.
//
// Usage:
//
//	sg, err := sandguard.New(sandguard.WithLimits(sandguard.Limits{Time: time.Second}))
//	prog, err := sg.Load(moduleFile)
//	run, err := prog.Invoke(ctx, "Demo.Program", "Main")
//	if errors.Is(err, sandguard.ErrTimeLimit) { ... }
//
// The SDK links directly against internal packages. External users import
// github.com/ppiankov/sandguard/sdk/go/sandguard.
package sandguard
