package runguard

import (
	"errors"
	"fmt"
)

// Kind is the budget dimension a violation exceeded.
type Kind string

const (
	KindStack      Kind = "stack"
	KindAllocation Kind = "allocation"
	KindTime       Kind = "time"
)

var (
	ErrStackLimit      = errors.New("stack limit exceeded")
	ErrAllocationLimit = errors.New("allocation limit exceeded")
	ErrTimeLimit       = errors.New("time limit exceeded")

	ErrScopeActive   = errors.New("a guarded scope is already active for this token")
	ErrNoActiveScope = errors.New("no active guarded scope")
)

// Violation is raised by a guard primitive once a budget is exceeded. The
// guard keeps returning the same violation afterwards.
type Violation struct {
	Kind    Kind
	Current int64
	Limit   int64
	Reason  string
	Cause   error
}

func (v *Violation) Error() string {
	if v.Reason != "" {
		return v.Reason
	}
	return fmt.Sprintf("%s limit exceeded: %d > %d", v.Kind, v.Current, v.Limit)
}

// Is matches the sentinel for the violation's kind.
func (v *Violation) Is(target error) bool {
	switch v.Kind {
	case KindStack:
		return target == ErrStackLimit
	case KindAllocation:
		return target == ErrAllocationLimit
	case KindTime:
		return target == ErrTimeLimit
	}
	return false
}

// Unwrap returns the underlying cause, such as a cancelled context.
func (v *Violation) Unwrap() error { return v.Cause }
