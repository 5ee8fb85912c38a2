// Package interp executes bytecode modules on a small stack machine with a
// bound host library and the runtime guard API.
package interp

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/ppiankov/sandguard/internal/bytecode"
	"github.com/ppiankov/sandguard/internal/runguard"
)

const (
	// DefaultMaxDepth caps the interpreter call depth independently of any
	// guard.
	DefaultMaxDepth = 4096
	// FrameOverhead is the bytes charged per call on top of locals and
	// arguments.
	FrameOverhead = 64
)

var (
	ErrNoBinding      = errors.New("no host binding")
	ErrMethodNotFound = errors.New("method not found")
	ErrCallDepth      = errors.New("call depth limit exceeded")
	ErrInvalidProgram = errors.New("invalid program")
	ErrUnsupported    = errors.New("unsupported instruction")
)

// Machine runs one module. It is not safe for concurrent invocations.
type Machine struct {
	module   *bytecode.Module
	host     *Host
	registry *runguard.Registry
	stdout   io.Writer
	logger   *zap.Logger
	maxDepth int

	statics     map[string]any
	initialized map[*bytecode.TypeDef]bool
	depth       int
	stackBytes  int64
	caught      *runguard.Violation
}

// Option configures a Machine.
type Option func(*Machine)

// WithHost replaces the host library.
func WithHost(h *Host) Option {
	return func(m *Machine) {
		if h != nil {
			m.host = h
		}
	}
}

// WithRegistry sets the registry guard slots resolve through.
func WithRegistry(r *runguard.Registry) Option {
	return func(m *Machine) {
		if r != nil {
			m.registry = r
		}
	}
}

// WithStdout sets where Console output goes.
func WithStdout(w io.Writer) Option {
	return func(m *Machine) {
		if w != nil {
			m.stdout = w
		}
	}
}

// WithLogger sets the machine logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMaxDepth overrides DefaultMaxDepth.
func WithMaxDepth(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.maxDepth = n
		}
	}
}

// New prepares module for execution with the standard host library and
// guard API bound.
func New(module *bytecode.Module, opts ...Option) *Machine {
	m := &Machine{
		module:      module,
		host:        StandardHost(),
		registry:    runguard.NewRegistry(),
		stdout:      io.Discard,
		logger:      zap.NewNop(),
		maxDepth:    DefaultMaxDepth,
		statics:     make(map[string]any),
		initialized: make(map[*bytecode.TypeDef]bool),
	}
	for _, o := range opts {
		o(m)
	}
	m.host = NewHost().Merge(m.host).Merge(GuardHost())
	return m
}

// Module returns the module being run.
func (m *Machine) Module() *bytecode.Module { return m.module }

// Registry returns the registry guard slots resolve through.
func (m *Machine) Registry() *runguard.Registry { return m.registry }

// StackBytes is the current frame accounting: the summed size of every
// active frame.
func (m *Machine) StackBytes() int64 { return m.stackBytes }

// Static returns a static field value by Type::Field.
func (m *Machine) Static(key string) any { return m.statics[key] }

// Invoke calls the static method typeName::method with args. An exception
// that escapes the method is returned as *Exception.
func (m *Machine) Invoke(ctx context.Context, typeName, method string, args ...any) (any, error) {
	t := m.module.FindType(typeName)
	if t == nil {
		return nil, fmt.Errorf("type %s: %w", typeName, ErrMethodNotFound)
	}
	md := t.Method(method, len(args))
	if md == nil || md.Body == nil {
		return nil, fmt.Errorf("%s::%s/%d: %w", typeName, method, len(args), ErrMethodNotFound)
	}
	vals := make([]any, len(args))
	for i, a := range args {
		vals[i] = normalize(a)
	}
	m.logger.Debug("invoke", zap.String("module", m.module.Name), zap.String("method", md.FullName()))
	return m.callMethod(ctx, md, vals)
}

// internalType resolves a reference to a module-defined type.
func (m *Machine) internalType(t *bytecode.TypeRef) *bytecode.TypeDef {
	if t == nil {
		return nil
	}
	if t.Kind == bytecode.KindGenericInstance {
		t = t.Element
	}
	if t.Kind != bytecode.KindNamed || !t.Internal {
		return nil
	}
	return m.module.FindType(t.FullName())
}

// ensureInit runs a type's static constructor once.
func (m *Machine) ensureInit(ctx context.Context, t *bytecode.TypeDef) error {
	if m.initialized[t] {
		return nil
	}
	m.initialized[t] = true
	cctor := t.Method(".cctor", 0)
	if cctor == nil || cctor.Body == nil {
		return nil
	}
	_, err := m.callMethod(ctx, cctor, nil)
	return err
}

// resolveVirtual finds the most derived override of md for receiver this.
func (m *Machine) resolveVirtual(md *bytecode.MethodDef, this any) *bytecode.MethodDef {
	obj, ok := this.(*Object)
	if !ok || md.Static || !md.Virtual {
		return md
	}
	for def, n := obj.Type, 0; def != nil && n < maxBaseDepth; n++ {
		if o := def.Method(md.Name, len(md.Params)); o != nil && o.Body != nil && !o.Static {
			return o
		}
		def = m.internalType(def.Base)
	}
	return md
}

func (m *Machine) frameSize(md *bytecode.MethodDef, args int) int64 {
	size := int64(FrameOverhead) + int64(args)*bytecode.PointerSize
	if md.Body != nil {
		size += m.module.LocalsSize(md.Body)
	}
	return size
}

func (m *Machine) callMethod(ctx context.Context, md *bytecode.MethodDef, args []any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if md.Body == nil {
		return nil, fmt.Errorf("%s: no body: %w", md.FullName(), ErrMethodNotFound)
	}
	if m.depth >= m.maxDepth {
		return nil, fmt.Errorf("%s: %w", md.FullName(), ErrCallDepth)
	}
	size := m.frameSize(md, len(args))
	m.depth++
	m.stackBytes += size
	defer func() {
		m.depth--
		m.stackBytes -= size
	}()

	f := &frame{
		method: md,
		args:   args,
		locals: make([]any, len(md.Body.Locals)),
	}
	for i, l := range md.Body.Locals {
		f.locals[i] = zeroValue(l)
	}
	return m.run(ctx, f)
}

// callRef dispatches a call or newobj operand.
func (m *Machine) callRef(ctx context.Context, ref *bytecode.MethodRef, args []any, isNew bool) (any, error) {
	if def := m.internalType(ref.Declaring); def != nil {
		if err := m.ensureInit(ctx, def); err != nil {
			return nil, err
		}
		if isNew {
			obj := newObject(def)
			ctor := def.Method(ref.Name, len(ref.Params))
			if ctor == nil {
				if len(args) > 0 {
					return nil, fmt.Errorf("%s: %w", ref.Key(), ErrMethodNotFound)
				}
				return obj, nil
			}
			_, err := m.callMethod(ctx, ctor, append([]any{obj}, args...))
			return obj, err
		}
		md := def.Method(ref.Name, len(ref.Params))
		if md == nil {
			return nil, fmt.Errorf("%s: %w", ref.Key(), ErrMethodNotFound)
		}
		if ref.HasThis && len(args) > 0 {
			md = m.resolveVirtual(md, args[0])
		}
		return m.callMethod(ctx, md, args)
	}

	// Host virtuals such as ToString dispatch to module overrides first.
	if ref.HasThis && !isNew && len(args) > 0 {
		if obj, ok := args[0].(*Object); ok {
			for def, n := obj.Type, 0; def != nil && n < maxBaseDepth; n++ {
				if o := def.Method(ref.Name, len(ref.Params)); o != nil && o.Virtual && o.Body != nil {
					return m.callMethod(ctx, o, args)
				}
				def = m.internalType(def.Base)
			}
		}
	}

	key := ref.Key()
	fn, ok := m.host.Lookup(key)
	if !ok {
		return nil, errNoBinding(key)
	}
	return fn(&Call{Machine: m, Method: ref, New: isNew}, args)
}
