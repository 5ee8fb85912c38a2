package interp

import (
	"fmt"
	"sort"

	"github.com/ppiankov/sandguard/internal/bytecode"
)

// Call is the context a host function runs in.
type Call struct {
	Machine *Machine
	Method  *bytecode.MethodRef
	// New is set when the call allocates a new object (newobj); args then
	// exclude the receiver.
	New bool
}

// HostFunc implements a host member. For instance members args[0] is the
// receiver. The result is ignored for void methods.
type HostFunc func(c *Call, args []any) (any, error)

// Host binds host members by "Namespace.Type::Member". Overloads share one
// binding and dispatch on their arguments.
type Host struct {
	funcs map[string]HostFunc
}

// NewHost returns an empty host.
func NewHost() *Host {
	return &Host{funcs: make(map[string]HostFunc)}
}

// Bind registers fn for typeName::member, replacing any earlier binding.
func (h *Host) Bind(typeName, member string, fn HostFunc) *Host {
	h.funcs[typeName+"::"+member] = fn
	return h
}

// Lookup returns the binding for a key of the form Namespace.Type::Member.
func (h *Host) Lookup(key string) (HostFunc, bool) {
	fn, ok := h.funcs[key]
	return fn, ok
}

// Keys returns every bound key in order.
func (h *Host) Keys() []string {
	keys := make([]string, 0, len(h.funcs))
	for k := range h.funcs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge copies o's bindings into h.
func (h *Host) Merge(o *Host) *Host {
	for k, fn := range o.funcs {
		h.funcs[k] = fn
	}
	return h
}

func arity(args []any, counts ...int) error {
	for _, n := range counts {
		if len(args) == n {
			return nil
		}
	}
	return newException(ArgumentType, "unexpected argument count %d", len(args))
}

func argInt(args []any, i int) (int64, error) {
	n, ok := toInt(args[i])
	if !ok {
		return 0, newException(ArgumentType, "argument %d: want integer, got %T", i, args[i])
	}
	return n, nil
}

func argString(args []any, i int) (string, error) {
	switch s := args[i].(type) {
	case string:
		return s, nil
	case nil:
		return "", nil
	}
	return "", newException(ArgumentType, "argument %d: want string, got %T", i, args[i])
}

func receiver[T any](args []any) (T, error) {
	var zero T
	if len(args) == 0 {
		return zero, newException(NullReferenceType, "missing receiver")
	}
	r, ok := args[0].(T)
	if !ok {
		if args[0] == nil {
			return zero, newException(NullReferenceType, "receiver is null")
		}
		return zero, newException(InvalidOperationType, "receiver: want %T, got %T", zero, args[0])
	}
	return r, nil
}

func errNoBinding(key string) error {
	return fmt.Errorf("%s: %w", key, ErrNoBinding)
}
