package sandguard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ppiankov/sandguard/internal/audit"
	"github.com/ppiankov/sandguard/internal/bytecode"
	"github.com/ppiankov/sandguard/internal/interp"
	"github.com/ppiankov/sandguard/internal/runguard"
)

// Program is an instrumented module bound to its client's registry.
// Invocations of one Program are serialized: its token has a single slot.
type Program struct {
	client *Client
	module *bytecode.Module
	token  Token
	stats  Stats
	ref    audit.ModuleRef
	// policyHash is the policy the module was instrumented under.
	policyHash string
	mu         sync.Mutex
}

// Token returns the token the module's guard calls resolve.
func (p *Program) Token() Token { return p.token }

// Module returns the instrumented module.
func (p *Program) Module() *bytecode.Module { return p.module }

// Stats reports what instrumentation inserted.
func (p *Program) Stats() Stats { return p.stats }

// Invoke runs the static method typeName::method inside a fresh guarded
// scope. A budget violation that escapes the method is returned as an
// error matching ErrStackLimit, ErrAllocationLimit or ErrTimeLimit; the
// returned Run is non-nil whenever the scope was opened.
func (p *Program) Invoke(ctx context.Context, typeName, method string, args ...any) (*Run, error) {
	return p.InvokeWith(ctx, nil, typeName, method, args...)
}

// InvokeWith is Invoke with per-call options.
func (p *Program) InvokeWith(ctx context.Context, opts []InvokeOption, typeName, method string, args ...any) (*Run, error) {
	icfg := invokeConfig{limits: p.client.limits, stdout: p.client.cfg.stdout}
	for _, o := range opts {
		o(&icfg)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	c := p.client
	scope, err := c.registry.Open(ctx, p.token, icfg.limits)
	if err != nil {
		return nil, fmt.Errorf("sandguard: %w", err)
	}

	m := interp.New(p.module,
		interp.WithRegistry(c.registry),
		interp.WithHost(c.host),
		interp.WithStdout(icfg.stdout),
		interp.WithLogger(c.logger),
	)
	released := false
	defer func() {
		if released {
			return
		}
		r := recover()
		_ = scope.Close()
		c.record(audit.AuditEntry{
			Token:  p.token.String(),
			Module: p.ref,
			Method: typeName + "::" + method,
			Event:  audit.EventFailed,
			Reason: fmt.Sprintf("panic: %v", r),
		}, p.policyHash)
		c.logger.Error("invocation panicked",
			zap.String("module", p.module.Name),
			zap.String("token", p.token.String()),
			zap.Any("panic", r),
		)
		if r != nil {
			panic(r)
		}
	}()

	v, runErr := m.Invoke(ctx, typeName, method, args...)
	closeErr := scope.Close()
	released = true

	run := newRun(v, scope.Guard())
	entry := audit.AuditEntry{
		Token:  p.token.String(),
		Module: p.ref,
		Method: typeName + "::" + method,
		Usage: &audit.Usage{
			StackBytes:  run.StackBytes,
			Allocations: run.Allocated,
			Jumps:       run.Jumps,
			ElapsedMS:   run.Elapsed.Milliseconds(),
		},
	}
	switch {
	case run.Violated:
		entry.Event = audit.EventViolated
		entry.Kind = string(run.Violation.Kind)
		entry.Reason = run.Violation.Error()
	case runErr != nil:
		entry.Event = audit.EventFailed
		entry.Reason = runErr.Error()
	default:
		entry.Event = audit.EventCompleted
	}
	c.record(entry, p.policyHash)

	c.logger.Info("invocation finished",
		zap.String("module", p.module.Name),
		zap.String("token", p.token.String()),
		zap.String("method", entry.Method),
		zap.String("event", string(entry.Event)),
		zap.Int64("allocations", run.Allocated),
		zap.Duration("took", run.Elapsed),
	)

	if runErr != nil {
		return run, runErr
	}
	if closeErr != nil {
		return run, fmt.Errorf("sandguard: release resources: %w", closeErr)
	}
	return run, nil
}

// IsBudgetExceeded reports whether err is any runtime budget violation.
func IsBudgetExceeded(err error) bool {
	var v *runguard.Violation
	return errors.As(err, &v)
}
