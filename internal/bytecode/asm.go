package bytecode

import "fmt"

// Assembler builds a Body with symbolic labels. Labels are resolved when
// Body is called.
type Assembler struct {
	locals   []*TypeRef
	ins      []*Instruction
	labels   map[string]int
	fixups   []fixup
	handlers []handlerLabels
}

type fixup struct {
	index int
	slot  int // -1 for Target, otherwise Targets[slot]
	label string
}

type handlerLabels struct {
	tryStart, tryEnd, handlerStart, handlerEnd string
	catch                                      *TypeRef
}

// NewAssembler returns an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{labels: make(map[string]int)}
}

// Local declares a local and returns its index.
func (a *Assembler) Local(t *TypeRef) int {
	a.locals = append(a.locals, t)
	return len(a.locals) - 1
}

// Label marks the next emitted instruction. A label may also sit one past
// the last instruction to close a handler range.
func (a *Assembler) Label(name string) *Assembler {
	a.labels[name] = len(a.ins)
	return a
}

// Emit appends instructions.
func (a *Assembler) Emit(ins ...*Instruction) *Assembler {
	a.ins = append(a.ins, ins...)
	return a
}

// Op appends an operand-less instruction.
func (a *Assembler) Op(op Opcode) *Assembler { return a.Emit(Op(op)) }

// Int appends ldc.i8 v.
func (a *Assembler) Int(v int64) *Assembler { return a.Emit(OpInt(LdcI8, v)) }

// Float appends ldc.r8 v.
func (a *Assembler) Float(v float64) *Assembler { return a.Emit(&Instruction{Op: LdcR8, Float: v}) }

// Str appends ldstr s.
func (a *Assembler) Str(s string) *Assembler { return a.Emit(&Instruction{Op: Ldstr, Str: s}) }

// Var appends a local or argument access.
func (a *Assembler) Var(op Opcode, index int) *Assembler { return a.Emit(OpInt(op, int64(index))) }

// Call appends call m.
func (a *Assembler) Call(m *MethodRef) *Assembler { return a.Emit(OpMethod(Call, m)) }

// New appends newobj m.
func (a *Assembler) New(m *MethodRef) *Assembler { return a.Emit(OpMethod(Newobj, m)) }

// Field appends a field access.
func (a *Assembler) Field(op Opcode, f *FieldRef) *Assembler { return a.Emit(OpField(op, f)) }

// NewArr appends newarr elem.
func (a *Assembler) NewArr(elem *TypeRef) *Assembler { return a.Emit(OpType(Newarr, elem)) }

// Branch appends a branch to label.
func (a *Assembler) Branch(op Opcode, label string) *Assembler {
	a.fixups = append(a.fixups, fixup{index: len(a.ins), slot: -1, label: label})
	return a.Emit(&Instruction{Op: op})
}

// Switch appends a switch over labels.
func (a *Assembler) Switch(labels ...string) *Assembler {
	for k, l := range labels {
		a.fixups = append(a.fixups, fixup{index: len(a.ins), slot: k, label: l})
	}
	return a.Emit(&Instruction{Op: Switch, Targets: make([]int, len(labels))})
}

// Try registers a handler whose bounds are given as labels. A nil catch
// type catches everything.
func (a *Assembler) Try(tryStart, tryEnd, handlerStart, handlerEnd string, catch *TypeRef) *Assembler {
	a.handlers = append(a.handlers, handlerLabels{tryStart, tryEnd, handlerStart, handlerEnd, catch})
	return a
}

// Body resolves labels and returns a validated body.
func (a *Assembler) Body() (*Body, error) {
	resolve := func(l string) (int, error) {
		i, ok := a.labels[l]
		if !ok {
			return 0, fmt.Errorf("undefined label %q", l)
		}
		return i, nil
	}
	for _, f := range a.fixups {
		t, err := resolve(f.label)
		if err != nil {
			return nil, err
		}
		if f.slot < 0 {
			a.ins[f.index].Target = t
		} else {
			a.ins[f.index].Targets[f.slot] = t
		}
	}
	b := &Body{Locals: a.locals, Instructions: a.ins}
	for _, h := range a.handlers {
		var bounds [4]int
		for k, l := range []string{h.tryStart, h.tryEnd, h.handlerStart, h.handlerEnd} {
			v, err := resolve(l)
			if err != nil {
				return nil, err
			}
			bounds[k] = v
		}
		b.Handlers = append(b.Handlers, &ExceptionHandler{
			TryStart: bounds[0], TryEnd: bounds[1],
			HandlerStart: bounds[2], HandlerEnd: bounds[3],
			CatchType: h.catch,
		})
	}
	if err := ValidateBody(b); err != nil {
		return nil, err
	}
	return b, nil
}

// MustBody is Body for statically known programs; it panics on error.
func (a *Assembler) MustBody() *Body {
	b, err := a.Body()
	if err != nil {
		panic(err)
	}
	return b
}
