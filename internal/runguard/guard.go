package runguard

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// State is the lifecycle stage of a Guard.
type State int

const (
	StateCreated State = iota
	StateActive
	StateViolated
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateViolated:
		return "violated"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// timeCheckInterval is how many ticks pass between clock reads.
const timeCheckInterval = 64

// Guard tracks one guarded scope. It is confined to the goroutine running
// the guarded invocation.
type Guard struct {
	ctx    context.Context
	limits Limits
	clock  func() time.Time

	state       State
	peakStack   int64
	allocated   int64
	jumps       int64
	ticks       int64
	started     time.Time
	ended       time.Time
	deadline    time.Time
	violation   *Violation
	disposables []Disposable
}

func newGuard(ctx context.Context, limits Limits, clock func() time.Time) *Guard {
	if clock == nil {
		clock = time.Now
	}
	return &Guard{ctx: ctx, limits: limits.WithDefaults(), clock: clock}
}

func (g *Guard) start() {
	g.started = g.clock()
	g.deadline = g.started.Add(g.limits.Time)
	g.state = StateActive
}

// State returns the current lifecycle stage.
func (g *Guard) State() State { return g.state }

// Limits returns the effective limits.
func (g *Guard) Limits() Limits { return g.limits }

// Violation returns the sticky violation, if any.
func (g *Guard) Violation() *Violation { return g.violation }

// Usage returns a consumption snapshot.
func (g *Guard) Usage() Usage {
	u := Usage{StackBytes: g.peakStack, Allocations: g.allocated, Jumps: g.jumps}
	switch {
	case !g.ended.IsZero():
		u.Elapsed = g.ended.Sub(g.started)
	case !g.started.IsZero():
		u.Elapsed = g.clock().Sub(g.started)
	}
	return u
}

func (g *Guard) ready() error {
	switch g.state {
	case StateActive:
		return nil
	case StateViolated:
		return g.violation
	default:
		return ErrNoActiveScope
	}
}

func (g *Guard) violate(kind Kind, current, limit int64, reason string, cause error) error {
	g.violation = &Violation{Kind: kind, Current: current, Limit: limit, Reason: reason, Cause: cause}
	g.state = StateViolated
	return g.violation
}

// Enter records the stack footprint of a method being entered, including
// its locals.
func (g *Guard) Enter(stackBytes int64) error {
	if err := g.ready(); err != nil {
		return err
	}
	if stackBytes > g.peakStack {
		g.peakStack = stackBytes
	}
	if stackBytes > g.limits.StackBytes {
		return g.violate(KindStack, stackBytes, g.limits.StackBytes,
			fmt.Sprintf("stack limit exceeded: %d bytes > %d", stackBytes, g.limits.StackBytes), nil)
	}
	return g.tick()
}

// Jump records a backward branch.
func (g *Guard) Jump() error {
	if err := g.ready(); err != nil {
		return err
	}
	g.jumps++
	return g.tick()
}

func (g *Guard) tick() error {
	g.ticks++
	if g.ticks%timeCheckInterval != 0 {
		return nil
	}
	return g.checkTime()
}

func (g *Guard) checkTime() error {
	if g.ctx != nil {
		select {
		case <-g.ctx.Done():
			elapsed := g.clock().Sub(g.started)
			return g.violate(KindTime, int64(elapsed), int64(g.limits.Time),
				fmt.Sprintf("time limit exceeded: scope cancelled after %s", elapsed), g.ctx.Err())
		default:
		}
	}
	now := g.clock()
	if now.After(g.deadline) {
		elapsed := now.Sub(g.started)
		return g.violate(KindTime, int64(elapsed), int64(g.limits.Time),
			fmt.Sprintf("time limit exceeded: %s > %s", elapsed, g.limits.Time), nil)
	}
	return nil
}

// charge adds units to the allocation counter without overflowing.
func (g *Guard) charge(units int64) error {
	if units > math.MaxInt64-g.allocated {
		g.allocated = math.MaxInt64
	} else {
		g.allocated += units
	}
	if g.allocated > g.limits.Allocations {
		return g.violate(KindAllocation, g.allocated, g.limits.Allocations,
			fmt.Sprintf("allocation limit exceeded: %d > %d", g.allocated, g.limits.Allocations), nil)
	}
	return nil
}

// NewArray charges count elements of elemSize bytes and returns count.
// Negative counts pass through for the runtime to reject.
func (g *Guard) NewArray(count, elemSize int64) (int64, error) {
	if err := g.ready(); err != nil {
		return count, err
	}
	if count <= 0 {
		return count, nil
	}
	if elemSize < 1 {
		elemSize = 1
	}
	units := int64(math.MaxInt64)
	if count <= math.MaxInt64/elemSize {
		units = count * elemSize
	}
	if err := g.charge(units); err != nil {
		return count, err
	}
	return count, nil
}

// Count charges a requested capacity and returns it.
func (g *Guard) Count(n int64) (int64, error) {
	if err := g.ready(); err != nil {
		return n, err
	}
	if n <= 0 {
		return n, nil
	}
	if err := g.charge(n); err != nil {
		return n, err
	}
	return n, nil
}

// Grow charges one unit for a collection growth call.
func (g *Guard) Grow() error {
	if err := g.ready(); err != nil {
		return err
	}
	return g.charge(1)
}

// TrackDisposable registers d for release when the scope closes.
func (g *Guard) TrackDisposable(d Disposable) (Disposable, error) {
	if err := g.ready(); err != nil {
		return d, err
	}
	if d != nil {
		g.disposables = append(g.disposables, d)
	}
	return d, nil
}

// Iterated wraps seq so each element pulled counts as a jump.
func (g *Guard) Iterated(seq Sequence) (Sequence, error) {
	return g.wrap(seq, false)
}

// Collected wraps seq so each element pulled counts as a jump and charges
// one allocation unit.
func (g *Guard) Collected(seq Sequence) (Sequence, error) {
	return g.wrap(seq, true)
}

func (g *Guard) wrap(seq Sequence, collect bool) (Sequence, error) {
	if err := g.ready(); err != nil {
		return seq, err
	}
	if seq == nil {
		return nil, nil
	}
	return &guardedSequence{inner: seq, guard: g, collect: collect}, nil
}

// complete releases tracked resources, newest first, and ends the scope.
func (g *Guard) complete() error {
	var errs []error
	for i := len(g.disposables) - 1; i >= 0; i-- {
		if err := g.disposables[i].Dispose(); err != nil {
			errs = append(errs, err)
		}
	}
	g.disposables = nil
	g.ended = g.clock()
	if g.state != StateViolated {
		g.state = StateCompleted
	}
	return errors.Join(errs...)
}
