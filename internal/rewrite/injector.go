package rewrite

import (
	"fmt"

	"github.com/ppiankov/sandguard/internal/bytecode"
	"github.com/ppiankov/sandguard/internal/runguard"
)

// Names of the type that holds the module's guard slot.
const (
	HolderNamespace = "<Sandguard>"
	HolderName      = "<RuntimeGuardInstance>"
	HolderField     = "Instance"
)

// prologueLen is the number of instructions the prologue inserts.
const prologueLen = 4

// Stats counts what a rewrite inserted.
type Stats struct {
	Types        int `json:"types"`
	Methods      int `json:"methods"`
	Bodies       int `json:"bodies"`
	Instructions int `json:"instructions"`
	JumpGuards   int `json:"jump_guards"`
	ArrayGuards  int `json:"array_guards"`
	CallRewrites int `json:"call_rewrites"`
}

// injector walks method bodies, filtering operands and inserting guard
// calls.
type injector struct {
	v     *validator
	slot  *bytecode.FieldRef
	stats Stats
}

// newHolder builds the guard holder type. Its static constructor resolves
// the token to the slot every guard call goes through.
func newHolder(token runguard.Token) (*bytecode.TypeDef, *bytecode.FieldRef) {
	holder := &bytecode.TypeDef{
		Namespace: HolderNamespace,
		Name:      HolderName,
		Base:      bytecode.Object,
		Fields: []*bytecode.FieldDef{
			{Name: HolderField, Type: runguard.GuardType, Static: true},
		},
	}
	slot := &bytecode.FieldRef{
		Declaring: holder.Ref(),
		Name:      HolderField,
		Type:      runguard.GuardType,
	}
	cctor := &bytecode.MethodDef{
		Name:   ".cctor",
		Static: true,
		Body: &bytecode.Body{Instructions: []*bytecode.Instruction{
			{Op: bytecode.Ldstr, Str: token.String()},
			bytecode.OpMethod(bytecode.Call, runguard.InstancesGetRef()),
			bytecode.OpField(bytecode.Stsfld, slot),
			bytecode.Op(bytecode.Ret),
		}},
	}
	holder.Methods = []*bytecode.MethodDef{cctor}
	return holder, slot
}

func (j *injector) loadGuard(local int) *bytecode.Instruction {
	return bytecode.OpInt(bytecode.Ldloc, int64(local))
}

// instrument rewrites one validated, non-empty body.
func (j *injector) instrument(m *bytecode.MethodDef) error {
	proc := bytecode.NewProcessor(m.Body)
	start := proc.Len()
	guard := proc.AddLocal(runguard.GuardType)

	// Branches to the first instruction keep reaching it, so loops back to
	// the method start do not re-enter.
	err := proc.InsertBefore(0,
		bytecode.OpField(bytecode.Ldsfld, j.slot),
		bytecode.Op(bytecode.Dup),
		bytecode.OpInt(bytecode.Stloc, int64(guard)),
		bytecode.OpMethod(bytecode.Call, runguard.EnterRef()),
	)
	if err != nil {
		return fmt.Errorf("%s: insert prologue: %w", m.FullName(), err)
	}

	for i := prologueLen; i < proc.Len(); {
		next, err := j.instruction(m, proc, i, guard)
		if err != nil {
			return err
		}
		i = next
	}

	j.stats.Bodies++
	j.stats.Instructions += proc.Len() - start
	return nil
}

// instruction handles the original instruction at index i and returns the
// index of the next original instruction.
func (j *injector) instruction(m *bytecode.MethodDef, proc *bytecode.Processor, i, guard int) (int, error) {
	in := proc.At(i)
	j.v.location = fmt.Sprintf("%s at IL_%04d", m.FullName(), i)

	rule, err := j.v.checkOperand(in)
	if err != nil {
		return 0, err
	}

	if in.Op == bytecode.Newarr {
		err := proc.InsertBeforeRetarget(i,
			j.loadGuard(guard),
			bytecode.OpMethod(bytecode.Call, runguard.NewArrayRef(in.Type)),
		)
		if err != nil {
			return 0, fmt.Errorf("%s: guard newarr: %w", m.FullName(), err)
		}
		j.stats.ArrayGuards++
		return i + 3, nil
	}

	if (in.Op == bytecode.Call || in.Op == bytecode.Newobj) && rule != nil && len(rule.Rewriters) > 0 {
		site := &callSite{proc: proc, op: in.Op, index: i, method: in.Method, guard: guard}
		for _, name := range rule.Rewriters {
			rw, err := lookupRewriter(name)
			if err != nil {
				return 0, fmt.Errorf("%s: %w", in.Method.Key(), err)
			}
			if err := rw(site); err != nil {
				return 0, fmt.Errorf("%s: rewrite %s with %s: %w", m.FullName(), in.Method.Key(), name, err)
			}
		}
		if site.before+site.after > 0 {
			j.stats.CallRewrites++
		}
		return site.index + 1 + site.after, nil
	}

	if in.Op.IsBranch() && isBackward(in, i) {
		err := proc.InsertBeforeRetarget(i,
			j.loadGuard(guard),
			bytecode.OpMethod(bytecode.Call, runguard.JumpRef()),
		)
		if err != nil {
			return 0, fmt.Errorf("%s: guard jump: %w", m.FullName(), err)
		}
		j.stats.JumpGuards++
		return i + 3, nil
	}

	return i + 1, nil
}

// isBackward reports whether a branch at index i can reach i or an earlier
// instruction.
func isBackward(in *bytecode.Instruction, i int) bool {
	for _, t := range in.BranchTargets() {
		if t <= i {
			return true
		}
	}
	return false
}
