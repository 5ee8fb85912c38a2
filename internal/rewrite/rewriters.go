package rewrite

import (
	"fmt"
	"strings"

	"github.com/ppiankov/sandguard/internal/bytecode"
	"github.com/ppiankov/sandguard/internal/policy"
	"github.com/ppiankov/sandguard/internal/runguard"
)

// callSite is a call or newobj being rewritten. index tracks the call as
// instructions are inserted before it.
type callSite struct {
	proc   *bytecode.Processor
	op     bytecode.Opcode
	index  int
	method *bytecode.MethodRef
	guard  int
	before int
	after  int
}

func (c *callSite) loadGuard() *bytecode.Instruction {
	return bytecode.OpInt(bytecode.Ldloc, int64(c.guard))
}

// insertBefore places ins directly before the call. Branches that reached
// the call now reach the inserted code.
func (c *callSite) insertBefore(ins ...*bytecode.Instruction) error {
	if err := c.proc.InsertBeforeRetarget(c.index, ins...); err != nil {
		return err
	}
	c.index += len(ins)
	c.before += len(ins)
	return nil
}

// insertAfter places ins after the call and anything already inserted after
// it.
func (c *callSite) insertAfter(ins ...*bytecode.Instruction) error {
	if err := c.proc.InsertAfter(c.index+c.after, ins...); err != nil {
		return err
	}
	c.after += len(ins)
	return nil
}

// argGuard returns the guard call for parameter i, or nil when the
// parameter needs none.
type argGuard func(i int, paramType *bytecode.TypeRef) []*bytecode.Instruction

// guardArguments applies guard to the call's arguments. A single guarded
// argument on top of the stack is guarded in place; otherwise every
// argument is spilled to a new local in reverse order and reloaded, with
// guards after the ones that need them.
func (c *callSite) guardArguments(guard argGuard) error {
	params := c.method.Params
	guards := make([][]*bytecode.Instruction, len(params))
	needed := 0
	last := -1
	for i := range params {
		guards[i] = guard(i, c.method.ParamType(i))
		if guards[i] != nil {
			needed++
			last = i
		}
	}
	if needed == 0 {
		return nil
	}
	if needed == 1 && last == len(params)-1 {
		return c.insertBefore(guards[last]...)
	}

	locals := make([]int, len(params))
	for i := range params {
		locals[i] = c.proc.AddLocal(c.method.ParamType(i))
	}
	var seq []*bytecode.Instruction
	for i := len(params) - 1; i >= 0; i-- {
		seq = append(seq, bytecode.OpInt(bytecode.Stloc, int64(locals[i])))
	}
	for i := range params {
		seq = append(seq, bytecode.OpInt(bytecode.Ldloc, int64(locals[i])))
		seq = append(seq, guards[i]...)
	}
	return c.insertBefore(seq...)
}

// memberRewriter rewrites a call site to an allowed member.
type memberRewriter func(c *callSite) error

var memberRewriters = map[policy.RewriterName]memberRewriter{
	policy.RewriteGrowth:              rewriteGrowth,
	policy.RewriteCapacity:            rewriteCapacity,
	policy.RewriteDisposable:          rewriteDisposable,
	policy.RewriteEnumerableIterated:  rewriteEnumerable(runguard.IteratedRef),
	policy.RewriteEnumerableCollected: rewriteEnumerable(runguard.CollectedRef),
}

func lookupRewriter(name policy.RewriterName) (memberRewriter, error) {
	r, ok := memberRewriters[name]
	if !ok {
		return nil, fmt.Errorf("unknown rewriter %q", name)
	}
	return r, nil
}

// rewriteGrowth charges one allocation unit before a call that grows a
// collection.
func rewriteGrowth(c *callSite) error {
	return c.insertBefore(c.loadGuard(), bytecode.OpMethod(bytecode.Call, runguard.GrowthRef()))
}

func isIndexParam(name string) bool {
	return name == "index" || (len(name) > len("Index") && strings.HasSuffix(name, "Index"))
}

func isCountParam(name string) bool {
	return name == "count" || name == "capacity"
}

// rewriteCapacity charges count and capacity arguments as they flow into
// the call. Members taking an index are left alone: their count bounds a
// range of existing elements.
func rewriteCapacity(c *callSite) error {
	params := c.method.Params
	for _, p := range params {
		if isIndexParam(p.Name) {
			return nil
		}
	}
	return c.guardArguments(func(i int, _ *bytecode.TypeRef) []*bytecode.Instruction {
		if !isCountParam(params[i].Name) {
			return nil
		}
		return []*bytecode.Instruction{c.loadGuard(), bytecode.OpMethod(bytecode.Call, runguard.CountRef())}
	})
}

// rewriteDisposable registers the returned handle with the guard so it is
// released when the scope closes. Enumerators are left alone.
func rewriteDisposable(c *callSite) error {
	if c.method.Name == "GetEnumerator" {
		return nil
	}
	if c.op != bytecode.Newobj && c.method.Return == nil {
		return nil
	}
	return c.insertAfter(c.loadGuard(), bytecode.OpMethod(bytecode.Call, runguard.DisposableRef()))
}

// sequenceElement returns T when t is IEnumerable`1<T>.
func sequenceElement(t *bytecode.TypeRef) *bytecode.TypeRef {
	if t == nil || t.Kind != bytecode.KindGenericInstance || len(t.Args) != 1 {
		return nil
	}
	if t.Element.FullName() != "System.Collections.Generic.IEnumerable`1" {
		return nil
	}
	return t.Args[0]
}

// rewriteEnumerable wraps every sequence argument with the guard call ref
// builds for its element type.
func rewriteEnumerable(ref func(*bytecode.TypeRef) *bytecode.MethodRef) memberRewriter {
	return func(c *callSite) error {
		return c.guardArguments(func(_ int, t *bytecode.TypeRef) []*bytecode.Instruction {
			elem := sequenceElement(t)
			if elem == nil {
				return nil
			}
			return []*bytecode.Instruction{c.loadGuard(), bytecode.OpMethod(bytecode.Call, ref(elem))}
		})
	}
}
