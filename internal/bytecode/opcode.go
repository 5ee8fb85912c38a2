package bytecode

import "fmt"

// Opcode is a single instruction kind.
type Opcode uint8

const (
	Nop Opcode = iota
	LdcI8
	LdcR8
	Ldstr
	Ldnull
	Ldarg
	Starg
	Ldloc
	Stloc
	Dup
	Pop
	Add
	Sub
	Mul
	Div
	Rem
	Neg
	Ceq
	Clt
	Cgt
	Br
	Brtrue
	Brfalse
	Switch
	Leave
	Ret
	Throw
	Call
	Newobj
	Ldfld
	Stfld
	Ldsfld
	Stsfld
	Newarr
	Ldlen
	Ldelem
	Stelem
	Ldind
	Stind
	Localloc

	opcodeCount
)

// FlowControl classifies how an instruction transfers control.
type FlowControl uint8

const (
	FlowNext FlowControl = iota
	FlowBranch
	FlowCondBranch
	FlowCall
	FlowReturn
	FlowThrow
)

// OperandKind says which Instruction field carries the operand.
type OperandKind uint8

const (
	OperandNone OperandKind = iota
	OperandInt
	OperandFloat
	OperandString
	OperandVar
	OperandBranch
	OperandSwitch
	OperandType
	OperandMethod
	OperandField
)

// varies marks a stack effect that depends on the operand.
const varies = -1

type opInfo struct {
	name    string
	flow    FlowControl
	operand OperandKind
	pop     int
	push    int
	pointer bool
}

var opTable = [opcodeCount]opInfo{
	Nop:      {"nop", FlowNext, OperandNone, 0, 0, false},
	LdcI8:    {"ldc.i8", FlowNext, OperandInt, 0, 1, false},
	LdcR8:    {"ldc.r8", FlowNext, OperandFloat, 0, 1, false},
	Ldstr:    {"ldstr", FlowNext, OperandString, 0, 1, false},
	Ldnull:   {"ldnull", FlowNext, OperandNone, 0, 1, false},
	Ldarg:    {"ldarg", FlowNext, OperandVar, 0, 1, false},
	Starg:    {"starg", FlowNext, OperandVar, 1, 0, false},
	Ldloc:    {"ldloc", FlowNext, OperandVar, 0, 1, false},
	Stloc:    {"stloc", FlowNext, OperandVar, 1, 0, false},
	Dup:      {"dup", FlowNext, OperandNone, 1, 2, false},
	Pop:      {"pop", FlowNext, OperandNone, 1, 0, false},
	Add:      {"add", FlowNext, OperandNone, 2, 1, false},
	Sub:      {"sub", FlowNext, OperandNone, 2, 1, false},
	Mul:      {"mul", FlowNext, OperandNone, 2, 1, false},
	Div:      {"div", FlowNext, OperandNone, 2, 1, false},
	Rem:      {"rem", FlowNext, OperandNone, 2, 1, false},
	Neg:      {"neg", FlowNext, OperandNone, 1, 1, false},
	Ceq:      {"ceq", FlowNext, OperandNone, 2, 1, false},
	Clt:      {"clt", FlowNext, OperandNone, 2, 1, false},
	Cgt:      {"cgt", FlowNext, OperandNone, 2, 1, false},
	Br:       {"br", FlowBranch, OperandBranch, 0, 0, false},
	Brtrue:   {"brtrue", FlowCondBranch, OperandBranch, 1, 0, false},
	Brfalse:  {"brfalse", FlowCondBranch, OperandBranch, 1, 0, false},
	Switch:   {"switch", FlowCondBranch, OperandSwitch, 1, 0, false},
	Leave:    {"leave", FlowBranch, OperandBranch, varies, 0, false},
	Ret:      {"ret", FlowReturn, OperandNone, varies, 0, false},
	Throw:    {"throw", FlowThrow, OperandNone, 1, 0, false},
	Call:     {"call", FlowCall, OperandMethod, varies, varies, false},
	Newobj:   {"newobj", FlowCall, OperandMethod, varies, 1, false},
	Ldfld:    {"ldfld", FlowNext, OperandField, 1, 1, false},
	Stfld:    {"stfld", FlowNext, OperandField, 2, 0, false},
	Ldsfld:   {"ldsfld", FlowNext, OperandField, 0, 1, false},
	Stsfld:   {"stsfld", FlowNext, OperandField, 1, 0, false},
	Newarr:   {"newarr", FlowNext, OperandType, 1, 1, false},
	Ldlen:    {"ldlen", FlowNext, OperandNone, 1, 1, false},
	Ldelem:   {"ldelem", FlowNext, OperandNone, 2, 1, false},
	Stelem:   {"stelem", FlowNext, OperandNone, 3, 0, false},
	Ldind:    {"ldind", FlowNext, OperandNone, 1, 1, true},
	Stind:    {"stind", FlowNext, OperandNone, 2, 0, true},
	Localloc: {"localloc", FlowNext, OperandNone, 1, 1, true},
}

// Valid reports whether op is a known opcode.
func (op Opcode) Valid() bool { return op < opcodeCount }

// String returns the mnemonic.
func (op Opcode) String() string {
	if !op.Valid() {
		return fmt.Sprintf("op(%d)", uint8(op))
	}
	return opTable[op].name
}

// Flow returns the flow-control class.
func (op Opcode) Flow() FlowControl { return opTable[op].flow }

// Operand returns the operand kind.
func (op Opcode) Operand() OperandKind { return opTable[op].operand }

// IsBranch reports whether op carries branch target operands.
func (op Opcode) IsBranch() bool {
	k := opTable[op].operand
	return k == OperandBranch || k == OperandSwitch
}

// IsPointerOp reports whether op dereferences or allocates raw memory.
func (op Opcode) IsPointerOp() bool { return opTable[op].pointer }

// Instruction is one element of a method body. Only the field matching the
// opcode's OperandKind is meaningful; branch operands are indices into the
// owning body's instruction list.
type Instruction struct {
	Op      Opcode
	Int     int64
	Float   float64
	Str     string
	Target  int
	Targets []int
	Type    *TypeRef
	Method  *MethodRef
	Field   *FieldRef
}

// Op builds an operand-less instruction.
func Op(op Opcode) *Instruction { return &Instruction{Op: op} }

// OpInt builds an instruction with an integer or variable-index operand.
func OpInt(op Opcode, v int64) *Instruction { return &Instruction{Op: op, Int: v} }

// OpMethod builds a call-class instruction.
func OpMethod(op Opcode, m *MethodRef) *Instruction { return &Instruction{Op: op, Method: m} }

// OpField builds a field access instruction.
func OpField(op Opcode, f *FieldRef) *Instruction { return &Instruction{Op: op, Field: f} }

// OpType builds an instruction with a type operand.
func OpType(op Opcode, t *TypeRef) *Instruction { return &Instruction{Op: op, Type: t} }

// BranchTargets returns every target index of a branch instruction.
func (in *Instruction) BranchTargets() []int {
	switch in.Op.Operand() {
	case OperandBranch:
		return []int{in.Target}
	case OperandSwitch:
		return in.Targets
	}
	return nil
}

// StackEffect returns how many slots the instruction pops and pushes.
// retVoid is consulted for ret; stackDepth for leave, which empties the stack.
func (in *Instruction) StackEffect(retVoid bool, stackDepth int) (pop, push int) {
	info := opTable[in.Op]
	pop, push = info.pop, info.push
	switch in.Op {
	case Ret:
		if retVoid {
			return 0, 0
		}
		return 1, 0
	case Leave:
		return stackDepth, 0
	case Call:
		pop = in.Method.StackPops()
		push = 0
		if in.Method.Return != nil {
			push = 1
		}
	case Newobj:
		pop = len(in.Method.Params)
	}
	return pop, push
}

// String renders the instruction without its index.
func (in *Instruction) String() string {
	switch in.Op.Operand() {
	case OperandInt, OperandVar:
		return fmt.Sprintf("%s %d", in.Op, in.Int)
	case OperandFloat:
		return fmt.Sprintf("%s %g", in.Op, in.Float)
	case OperandString:
		return fmt.Sprintf("%s %q", in.Op, in.Str)
	case OperandBranch:
		return fmt.Sprintf("%s IL_%04d", in.Op, in.Target)
	case OperandSwitch:
		s := in.Op.String() + " ("
		for i, t := range in.Targets {
			if i > 0 {
				s += ", "
			}
			s += fmt.Sprintf("IL_%04d", t)
		}
		return s + ")"
	case OperandType:
		return fmt.Sprintf("%s %s", in.Op, in.Type.FullName())
	case OperandMethod:
		return fmt.Sprintf("%s %s", in.Op, in.Method)
	case OperandField:
		return fmt.Sprintf("%s %s %s", in.Op, in.Field.Type.FullName(), in.Field.Key())
	}
	return in.Op.String()
}
