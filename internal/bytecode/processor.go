package bytecode

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidBranchTarget = errors.New("invalid branch target")
	ErrInvalidHandlerRange = errors.New("invalid exception handler range")
	ErrInvalidLocal        = errors.New("invalid local index")
	ErrInvalidOperand      = errors.New("invalid operand")
)

// Processor edits a method body in place. Every insertion shifts branch
// operands and exception handler bounds so that the body stays well formed,
// and is followed by a validation pass.
type Processor struct {
	body *Body
}

// NewProcessor returns a processor editing body.
func NewProcessor(body *Body) *Processor {
	return &Processor{body: body}
}

// Body returns the body being edited.
func (p *Processor) Body() *Body { return p.body }

// Len returns the current instruction count.
func (p *Processor) Len() int { return len(p.body.Instructions) }

// At returns the instruction at index i.
func (p *Processor) At(i int) *Instruction { return p.body.Instructions[i] }

// AddLocal appends a local of type t and returns its index.
func (p *Processor) AddLocal(t *TypeRef) int {
	p.body.Locals = append(p.body.Locals, t)
	return len(p.body.Locals) - 1
}

// InsertBefore inserts ins before index i without retargeting: anything that
// referred to the instruction at i still refers to it. The inserted
// instructions join whatever region ends at i.
func (p *Processor) InsertBefore(i int, ins ...*Instruction) error {
	return p.insert(i, false, ins)
}

// InsertAfter inserts ins after index i, see InsertBefore.
func (p *Processor) InsertAfter(i int, ins ...*Instruction) error {
	return p.insert(i+1, false, ins)
}

// InsertBeforeRetarget inserts ins before index i and moves every branch that
// targeted i, and every try or handler end at i, onto the first inserted
// instruction. Try and handler starts keep pointing at the original.
func (p *Processor) InsertBeforeRetarget(i int, ins ...*Instruction) error {
	return p.insert(i, true, ins)
}

func (p *Processor) insert(at int, retarget bool, ins []*Instruction) error {
	if at < 0 || at > len(p.body.Instructions) {
		return fmt.Errorf("insert at %d of %d: %w", at, len(p.body.Instructions), ErrInvalidBranchTarget)
	}
	n := len(ins)
	if n == 0 {
		return nil
	}

	// Branch operands first, on the original instructions only.
	shiftTarget := func(t int) int {
		if t > at || (t == at && !retarget) {
			return t + n
		}
		return t
	}
	for _, in := range p.body.Instructions {
		switch in.Op.Operand() {
		case OperandBranch:
			in.Target = shiftTarget(in.Target)
		case OperandSwitch:
			for k, t := range in.Targets {
				in.Targets[k] = shiftTarget(t)
			}
		}
	}

	shiftStart := func(v int) int {
		if v >= at {
			return v + n
		}
		return v
	}
	shiftEnd := func(v int) int {
		if v > at || (v == at && !retarget) {
			return v + n
		}
		return v
	}
	for _, h := range p.body.Handlers {
		h.TryStart = shiftStart(h.TryStart)
		h.TryEnd = shiftEnd(h.TryEnd)
		h.HandlerStart = shiftStart(h.HandlerStart)
		h.HandlerEnd = shiftEnd(h.HandlerEnd)
	}

	out := make([]*Instruction, 0, len(p.body.Instructions)+n)
	out = append(out, p.body.Instructions[:at]...)
	out = append(out, ins...)
	out = append(out, p.body.Instructions[at:]...)
	p.body.Instructions = out

	return p.Validate()
}

// Validate checks branch targets, handler ranges and local indices.
func (p *Processor) Validate() error {
	return ValidateBody(p.body)
}

// ValidateBody checks that every branch target is an instruction index, every
// handler range is non-empty and in bounds, and every local index exists.
func ValidateBody(b *Body) error {
	n := len(b.Instructions)
	for i, in := range b.Instructions {
		if !in.Op.Valid() {
			return fmt.Errorf("IL_%04d: opcode %d: %w", i, in.Op, ErrInvalidOperand)
		}
		for _, t := range in.BranchTargets() {
			if t < 0 || t >= n {
				return fmt.Errorf("IL_%04d %s: target %d: %w", i, in.Op, t, ErrInvalidBranchTarget)
			}
		}
		switch in.Op {
		case Ldloc, Stloc:
			if in.Int < 0 || in.Int >= int64(len(b.Locals)) {
				return fmt.Errorf("IL_%04d %s %d: %w", i, in.Op, in.Int, ErrInvalidLocal)
			}
		case Call, Newobj:
			if in.Method == nil || in.Method.Declaring == nil {
				return fmt.Errorf("IL_%04d %s: missing method: %w", i, in.Op, ErrInvalidOperand)
			}
		case Ldfld, Stfld, Ldsfld, Stsfld:
			if in.Field == nil || in.Field.Declaring == nil {
				return fmt.Errorf("IL_%04d %s: missing field: %w", i, in.Op, ErrInvalidOperand)
			}
		case Newarr:
			if in.Type == nil {
				return fmt.Errorf("IL_%04d %s: missing type: %w", i, in.Op, ErrInvalidOperand)
			}
		}
	}
	for k, h := range b.Handlers {
		if h.TryStart < 0 || h.TryStart >= h.TryEnd || h.TryEnd > n {
			return fmt.Errorf("handler %d: try [%d,%d) of %d: %w", k, h.TryStart, h.TryEnd, n, ErrInvalidHandlerRange)
		}
		if h.HandlerStart < 0 || h.HandlerStart >= h.HandlerEnd || h.HandlerEnd > n {
			return fmt.Errorf("handler %d: catch [%d,%d) of %d: %w", k, h.HandlerStart, h.HandlerEnd, n, ErrInvalidHandlerRange)
		}
	}
	return nil
}
