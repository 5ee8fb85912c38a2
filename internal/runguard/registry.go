package runguard

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Registry maps tokens to slots. A slot outlives the scopes bound to it, so
// an instrumented module can resolve its slot once and reuse it across
// invocations.
type Registry struct {
	mu     sync.Mutex
	slots  map[Token]*Slot
	clock  func() time.Time
	logger *zap.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger for scope lifecycle events.
func WithLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the clock guards use for time budgets.
func WithClock(clock func() time.Time) RegistryOption {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		slots:  make(map[Token]*Slot),
		clock:  time.Now,
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Slot returns the slot for t, creating it on first use.
func (r *Registry) Slot(t Token) *Slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[t]
	if !ok {
		s = &Slot{token: t}
		r.slots[t] = s
	}
	return s
}

// Lookup resolves the string form of a token, as embedded in an
// instrumented module, to its slot.
func (r *Registry) Lookup(id string) (*Slot, error) {
	t, err := ParseToken(id)
	if err != nil {
		return nil, err
	}
	return r.Slot(t), nil
}

// Release forgets the slot for t. Scopes already open keep working.
func (r *Registry) Release(t Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, t)
}

// Len returns the number of known slots.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// Open creates a guard with limits and binds it to the token's slot.
// Callers must Close the scope on every exit path.
func (r *Registry) Open(ctx context.Context, t Token, limits Limits) (*Scope, error) {
	slot := r.Slot(t)
	g := newGuard(ctx, limits, r.clock)
	if !slot.current.CompareAndSwap(nil, g) {
		return nil, fmt.Errorf("open scope for %s: %w", t, ErrScopeActive)
	}
	g.start()
	r.logger.Debug("guard scope opened",
		zap.String("token", t.String()),
		zap.Int64("stack_bytes", g.limits.StackBytes),
		zap.Int64("allocations", g.limits.Allocations),
		zap.Duration("time", g.limits.Time),
	)
	return &Scope{registry: r, slot: slot, guard: g}, nil
}

// Slot is the per-token cell holding the currently bound guard.
type Slot struct {
	token   Token
	current atomic.Pointer[Guard]
}

// Token returns the slot's token.
func (s *Slot) Token() Token { return s.token }

// Guard returns the bound guard, or ErrNoActiveScope.
func (s *Slot) Guard() (*Guard, error) {
	g := s.current.Load()
	if g == nil {
		return nil, ErrNoActiveScope
	}
	return g, nil
}

// Scope is one bound guard. Close unbinds it.
type Scope struct {
	registry *Registry
	slot     *Slot
	guard    *Guard
	once     sync.Once
	err      error
}

// Guard returns the scope's guard.
func (s *Scope) Guard() *Guard { return s.guard }

// Token returns the token the scope is bound to.
func (s *Scope) Token() Token { return s.slot.token }

// Close unbinds the guard, disposes tracked resources and ends the scope.
// It is safe to call more than once.
func (s *Scope) Close() error {
	s.once.Do(func() {
		s.slot.current.CompareAndSwap(s.guard, nil)
		s.err = s.guard.complete()
		u := s.guard.Usage()
		fields := []zap.Field{
			zap.String("token", s.slot.token.String()),
			zap.String("state", s.guard.State().String()),
			zap.Int64("peak_stack_bytes", u.StackBytes),
			zap.Int64("allocations", u.Allocations),
			zap.Int64("jumps", u.Jumps),
			zap.Duration("elapsed", u.Elapsed),
		}
		if v := s.guard.Violation(); v != nil {
			fields = append(fields, zap.String("kind", string(v.Kind)), zap.String("reason", v.Reason))
		}
		if s.err != nil {
			fields = append(fields, zap.Error(s.err))
		}
		s.registry.logger.Debug("guard scope closed", fields...)
	})
	return s.err
}
