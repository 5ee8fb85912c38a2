package runguard

import (
	"fmt"
	"time"
)

// Defaults applied when a limit is zero.
const (
	DefaultStackBytes  int64 = 64 * 1024
	DefaultAllocations int64 = 10_000_000
	DefaultTime              = 500 * time.Millisecond
)

// Limits bounds one guarded scope. Zero values mean "use the default".
type Limits struct {
	StackBytes  int64         `yaml:"stack_bytes"`
	Allocations int64         `yaml:"allocations"`
	Time        time.Duration `yaml:"time"`
}

// DefaultLimits returns the built-in limits.
func DefaultLimits() Limits {
	return Limits{
		StackBytes:  DefaultStackBytes,
		Allocations: DefaultAllocations,
		Time:        DefaultTime,
	}
}

// WithDefaults fills zero limits with defaults.
func (l Limits) WithDefaults() Limits {
	if l.StackBytes <= 0 {
		l.StackBytes = DefaultStackBytes
	}
	if l.Allocations <= 0 {
		l.Allocations = DefaultAllocations
	}
	if l.Time <= 0 {
		l.Time = DefaultTime
	}
	return l
}

// Usage captures a guard's consumption snapshot.
type Usage struct {
	StackBytes  int64
	Allocations int64
	Jumps       int64
	Elapsed     time.Duration
}

// CheckResult is the outcome of a limit check.
type CheckResult struct {
	Exceeded bool
	Kind     Kind
	Current  int64
	Limit    int64
	Reason   string
}

// Check compares usage against limits.
// Checks stack, then allocations, then time. Returns the first exceeded dimension.
func Check(usage Usage, limits Limits) CheckResult {
	limits = limits.WithDefaults()
	if usage.StackBytes > limits.StackBytes {
		return CheckResult{
			Exceeded: true,
			Kind:     KindStack,
			Current:  usage.StackBytes,
			Limit:    limits.StackBytes,
			Reason:   fmt.Sprintf("stack limit exceeded: %d bytes > %d stack_bytes", usage.StackBytes, limits.StackBytes),
		}
	}
	if usage.Allocations > limits.Allocations {
		return CheckResult{
			Exceeded: true,
			Kind:     KindAllocation,
			Current:  usage.Allocations,
			Limit:    limits.Allocations,
			Reason:   fmt.Sprintf("allocation limit exceeded: %d units > %d allocations", usage.Allocations, limits.Allocations),
		}
	}
	if usage.Elapsed > limits.Time {
		return CheckResult{
			Exceeded: true,
			Kind:     KindTime,
			Current:  int64(usage.Elapsed),
			Limit:    int64(limits.Time),
			Reason:   fmt.Sprintf("time limit exceeded: %s > %s time", usage.Elapsed, limits.Time),
		}
	}
	return CheckResult{}
}
