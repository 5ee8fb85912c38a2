package interp

import (
	"fmt"

	"github.com/ppiankov/sandguard/internal/runguard"
)

var (
	guardTypeName     = runguard.Namespace + "." + runguard.GuardName
	instancesTypeName = runguard.Namespace + "." + runguard.InstancesName
)

// GuardHost binds the runtime guard API that instrumented code calls. Each
// primitive resolves the slot's bound guard, so calls made outside an open
// scope fail with runguard.ErrNoActiveScope.
func GuardHost() *Host {
	h := NewHost()
	h.Bind(instancesTypeName, runguard.MethodGet, func(c *Call, args []any) (any, error) {
		id, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		return c.Machine.registry.Lookup(id)
	})
	h.Bind(guardTypeName, runguard.MethodEnter, func(c *Call, args []any) (any, error) {
		g, err := guardArg(args, 0)
		if err != nil {
			return nil, err
		}
		return nil, g.Enter(c.Machine.stackBytes)
	})
	h.Bind(guardTypeName, runguard.MethodJump, func(c *Call, args []any) (any, error) {
		g, err := guardArg(args, 0)
		if err != nil {
			return nil, err
		}
		return nil, g.Jump()
	})
	h.Bind(guardTypeName, runguard.MethodGrowth, func(c *Call, args []any) (any, error) {
		g, err := guardArg(args, 0)
		if err != nil {
			return nil, err
		}
		return nil, g.Grow()
	})
	h.Bind(guardTypeName, runguard.MethodNewArrayFlowThrough, func(c *Call, args []any) (any, error) {
		count, g, err := countAndGuard(args)
		if err != nil {
			return nil, err
		}
		var elemSize int64 = 1
		if len(c.Method.GenericArgs) == 1 {
			elemSize = c.Machine.module.SizeOf(c.Method.GenericArgs[0])
		}
		return g.NewArray(count, elemSize)
	})
	h.Bind(guardTypeName, runguard.MethodCountFlowThrough, func(c *Call, args []any) (any, error) {
		count, g, err := countAndGuard(args)
		if err != nil {
			return nil, err
		}
		return g.Count(count)
	})
	h.Bind(guardTypeName, runguard.MethodDisposableFlowThrough, func(c *Call, args []any) (any, error) {
		if err := arity(args, 2); err != nil {
			return nil, err
		}
		g, err := guardArg(args, 1)
		if err != nil {
			return nil, err
		}
		if d, ok := args[0].(runguard.Disposable); ok {
			if _, err := g.TrackDisposable(d); err != nil {
				return nil, err
			}
		}
		return args[0], nil
	})
	h.Bind(guardTypeName, runguard.MethodIteratedEnumerable, sequenceGuard((*runguard.Guard).Iterated))
	h.Bind(guardTypeName, runguard.MethodCollectedEnumerable, sequenceGuard((*runguard.Guard).Collected))
	return h
}

func guardArg(args []any, i int) (*runguard.Guard, error) {
	if i >= len(args) {
		return nil, fmt.Errorf("guard argument %d missing: %w", i, ErrInvalidProgram)
	}
	slot, ok := args[i].(*runguard.Slot)
	if !ok {
		return nil, fmt.Errorf("guard argument is %T: %w", args[i], ErrInvalidProgram)
	}
	return slot.Guard()
}

func countAndGuard(args []any) (int64, *runguard.Guard, error) {
	if err := arity(args, 2); err != nil {
		return 0, nil, err
	}
	count, err := argInt(args, 0)
	if err != nil {
		return 0, nil, err
	}
	g, err := guardArg(args, 1)
	if err != nil {
		return 0, nil, err
	}
	return count, g, nil
}

func sequenceGuard(wrap func(*runguard.Guard, runguard.Sequence) (runguard.Sequence, error)) HostFunc {
	return func(c *Call, args []any) (any, error) {
		if err := arity(args, 2); err != nil {
			return nil, err
		}
		g, err := guardArg(args, 1)
		if err != nil {
			return nil, err
		}
		if args[0] == nil {
			return nil, nil
		}
		seq, ok := args[0].(runguard.Sequence)
		if !ok {
			return nil, newException(ArgumentType, "not a sequence: %T", args[0])
		}
		return wrap(g, seq)
	}
}
