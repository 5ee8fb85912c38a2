package rewrite

import (
	"fmt"

	"github.com/ppiankov/sandguard/internal/bytecode"
)

// maxStackDepth computes the deepest evaluation stack a body can reach by
// walking every path from the entry and from each handler. It stops early
// once the depth passes limit.
func maxStackDepth(m *bytecode.MethodDef, limit int) (int, error) {
	b := m.Body
	n := len(b.Instructions)
	if n == 0 {
		return 0, nil
	}
	retVoid := m.Return == nil

	depthAt := make([]int, n)
	for i := range depthAt {
		depthAt[i] = -1
	}
	type entry struct{ index, depth int }
	var work []entry
	push := func(i, d int) {
		if i < 0 || i >= n || depthAt[i] >= d {
			return
		}
		depthAt[i] = d
		work = append(work, entry{i, d})
	}

	push(0, 0)
	for _, h := range b.Handlers {
		// A catch block starts with the exception on the stack.
		push(h.HandlerStart, 1)
	}

	deepest := 0
	for len(work) > 0 {
		e := work[len(work)-1]
		work = work[:len(work)-1]
		if e.depth < depthAt[e.index] {
			continue
		}
		in := b.Instructions[e.index]
		pop, pushed := in.StackEffect(retVoid, e.depth)
		if pop > e.depth {
			return 0, fmt.Errorf("IL_%04d %s: stack underflow: %w", e.index, in.Op, ErrInvalidBody)
		}
		d := e.depth - pop + pushed
		if d > deepest {
			deepest = d
			if deepest > limit {
				return deepest, nil
			}
		}

		switch in.Op.Flow() {
		case bytecode.FlowNext, bytecode.FlowCall:
			push(e.index+1, d)
		case bytecode.FlowCondBranch:
			push(e.index+1, d)
			for _, t := range in.BranchTargets() {
				push(t, d)
			}
		case bytecode.FlowBranch:
			for _, t := range in.BranchTargets() {
				push(t, d)
			}
		}
	}
	return deepest, nil
}
