package interp

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/ppiankov/sandguard/internal/bytecode"
	"github.com/ppiankov/sandguard/internal/runguard"
)

type frame struct {
	method *bytecode.MethodDef
	args   []any
	locals []any
	stack  []any
	pc     int
}

func (f *frame) push(v any) { f.stack = append(f.stack, v) }

func (f *frame) pop() (any, error) {
	if len(f.stack) == 0 {
		return nil, fmt.Errorf("%s at IL_%04d: stack underflow: %w", f.method.FullName(), f.pc, ErrInvalidProgram)
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v, nil
}

// popN pops n values and returns them in push order.
func (f *frame) popN(n int) ([]any, error) {
	if n > len(f.stack) {
		return nil, fmt.Errorf("%s at IL_%04d: stack underflow: %w", f.method.FullName(), f.pc, ErrInvalidProgram)
	}
	out := make([]any, n)
	copy(out, f.stack[len(f.stack)-n:])
	f.stack = f.stack[:len(f.stack)-n]
	return out, nil
}

func (f *frame) slot(vars []any, in *bytecode.Instruction) (int, error) {
	i := int(in.Int)
	if i < 0 || i >= len(vars) {
		return 0, fmt.Errorf("%s at IL_%04d: %s index %d out of range: %w", f.method.FullName(), f.pc, in.Op, i, ErrInvalidProgram)
	}
	return i, nil
}

// run executes f until it returns or an exception escapes it.
func (m *Machine) run(ctx context.Context, f *frame) (any, error) {
	body := f.method.Body
	for {
		if f.pc < 0 || f.pc >= len(body.Instructions) {
			return nil, fmt.Errorf("%s: control left the body at IL_%04d: %w", f.method.FullName(), f.pc, ErrInvalidProgram)
		}
		ret, done, err := m.step(ctx, f, body.Instructions[f.pc])
		if err != nil {
			exc, ok := asException(err)
			if !ok {
				return nil, err
			}
			if !m.handle(f, exc) {
				return nil, exc
			}
			continue
		}
		if done {
			return ret, nil
		}
	}
}

// handle transfers control to the first handler covering the faulting
// instruction that catches exc. A budget violation can be caught once; when
// the guard raises it again it unwinds to the host.
func (m *Machine) handle(f *frame, exc *Exception) bool {
	var v *runguard.Violation
	if errors.As(exc.Cause, &v) {
		if m.caught == v {
			return false
		}
	}
	for _, h := range f.method.Body.Handlers {
		if f.pc < h.TryStart || f.pc >= h.TryEnd || !m.catches(h.CatchType, exc) {
			continue
		}
		if v != nil {
			m.caught = v
		}
		f.stack = f.stack[:0]
		if exc.Value != nil {
			f.push(exc.Value)
		} else {
			f.push(exc)
		}
		f.pc = h.HandlerStart
		return true
	}
	return false
}

// step executes one instruction. done is set when the method returns.
func (m *Machine) step(ctx context.Context, f *frame, in *bytecode.Instruction) (ret any, done bool, err error) {
	next := f.pc + 1
	switch in.Op {
	case bytecode.Nop:
	case bytecode.LdcI8:
		f.push(in.Int)
	case bytecode.LdcR8:
		f.push(in.Float)
	case bytecode.Ldstr:
		f.push(in.Str)
	case bytecode.Ldnull:
		f.push(nil)

	case bytecode.Ldarg, bytecode.Starg, bytecode.Ldloc, bytecode.Stloc:
		vars := f.locals
		if in.Op == bytecode.Ldarg || in.Op == bytecode.Starg {
			vars = f.args
		}
		i, err := f.slot(vars, in)
		if err != nil {
			return nil, false, err
		}
		if in.Op == bytecode.Ldarg || in.Op == bytecode.Ldloc {
			f.push(vars[i])
			break
		}
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		vars[i] = v

	case bytecode.Dup:
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		f.push(v)
		f.push(v)
	case bytecode.Pop:
		if _, err := f.pop(); err != nil {
			return nil, false, err
		}

	case bytecode.Add, bytecode.Sub, bytecode.Mul, bytecode.Div, bytecode.Rem,
		bytecode.Ceq, bytecode.Clt, bytecode.Cgt:
		vals, err := f.popN(2)
		if err != nil {
			return nil, false, err
		}
		v, err := binary(in.Op, vals[0], vals[1])
		if err != nil {
			return nil, false, err
		}
		f.push(v)
	case bytecode.Neg:
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		switch x := v.(type) {
		case int64:
			f.push(-x)
		case float64:
			f.push(-x)
		default:
			return nil, false, newException(InvalidOperationType, "neg of %T", v)
		}

	case bytecode.Br, bytecode.Leave:
		if in.Op == bytecode.Leave {
			f.stack = f.stack[:0]
		}
		next = in.Target
	case bytecode.Brtrue, bytecode.Brfalse:
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		if truthy(v) == (in.Op == bytecode.Brtrue) {
			next = in.Target
		}
	case bytecode.Switch:
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		if i, ok := toInt(v); ok && i >= 0 && i < int64(len(in.Targets)) {
			next = in.Targets[i]
		}

	case bytecode.Ret:
		if f.method.Return == nil {
			return nil, true, nil
		}
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		return v, true, nil
	case bytecode.Throw:
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		return nil, false, m.thrown(v)

	case bytecode.Call, bytecode.Newobj:
		isNew := in.Op == bytecode.Newobj
		n := len(in.Method.Params)
		if !isNew {
			n = in.Method.StackPops()
		}
		args, err := f.popN(n)
		if err != nil {
			return nil, false, err
		}
		v, err := m.callRef(ctx, in.Method, args, isNew)
		if err != nil {
			return nil, false, err
		}
		if isNew || in.Method.Return != nil {
			f.push(v)
		}

	case bytecode.Ldfld, bytecode.Stfld:
		var val any
		if in.Op == bytecode.Stfld {
			if val, err = f.pop(); err != nil {
				return nil, false, err
			}
		}
		target, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		obj, ok := target.(*Object)
		if !ok {
			if target == nil {
				return nil, false, newException(NullReferenceType, "field %s on null", in.Field.Name)
			}
			return nil, false, fmt.Errorf("field %s on %T: %w", in.Field.Key(), target, ErrUnsupported)
		}
		if in.Op == bytecode.Ldfld {
			f.push(obj.load(in.Field))
		} else {
			obj.Fields[in.Field.Name] = val
		}
	case bytecode.Ldsfld, bytecode.Stsfld:
		if def := m.internalType(in.Field.Declaring); def != nil {
			if err := m.ensureInit(ctx, def); err != nil {
				return nil, false, err
			}
		}
		key := in.Field.Key()
		if in.Op == bytecode.Ldsfld {
			v, ok := m.statics[key]
			if !ok {
				v = zeroValue(in.Field.Type)
			}
			f.push(v)
			break
		}
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		m.statics[key] = v

	case bytecode.Newarr:
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		n, ok := toInt(v)
		if !ok {
			return nil, false, newException(ArgumentType, "array length must be an integer, got %T", v)
		}
		if n < 0 || n > math.MaxInt32 {
			return nil, false, newException(OverflowType, "array length %d", n)
		}
		arr := &Array{Elem: in.Type, Items: make([]any, n)}
		if zero := zeroValue(in.Type); zero != nil {
			for i := range arr.Items {
				arr.Items[i] = zero
			}
		}
		f.push(arr)
	case bytecode.Ldlen:
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		arr, err := asArray(v)
		if err != nil {
			return nil, false, err
		}
		f.push(int64(len(arr.Items)))
	case bytecode.Ldelem, bytecode.Stelem:
		var val any
		if in.Op == bytecode.Stelem {
			if val, err = f.pop(); err != nil {
				return nil, false, err
			}
		}
		vals, err := f.popN(2)
		if err != nil {
			return nil, false, err
		}
		arr, err := asArray(vals[0])
		if err != nil {
			return nil, false, err
		}
		i, ok := toInt(vals[1])
		if !ok || i < 0 || i >= int64(len(arr.Items)) {
			return nil, false, newException(IndexOutOfRangeType, "index %s outside array of length %d", format(vals[1]), len(arr.Items))
		}
		if in.Op == bytecode.Ldelem {
			f.push(arr.Items[i])
		} else {
			arr.Items[i] = val
		}

	default:
		return nil, false, fmt.Errorf("%s at IL_%04d: %s: %w", f.method.FullName(), f.pc, in.Op, ErrUnsupported)
	}
	f.pc = next
	return nil, false, nil
}

func asArray(v any) (*Array, error) {
	switch a := v.(type) {
	case *Array:
		return a, nil
	case nil:
		return nil, newException(NullReferenceType, "array is null")
	}
	return nil, newException(InvalidOperationType, "not an array: %T", v)
}

func binary(op bytecode.Opcode, a, b any) (any, error) {
	if op == bytecode.Ceq {
		return boolValue(equal(a, b)), nil
	}
	if op == bytecode.Add {
		if s, ok := a.(string); ok {
			return s + format(b), nil
		}
	}
	x, xok := a.(int64)
	y, yok := b.(int64)
	if xok && yok {
		switch op {
		case bytecode.Add:
			return x + y, nil
		case bytecode.Sub:
			return x - y, nil
		case bytecode.Mul:
			return x * y, nil
		case bytecode.Div, bytecode.Rem:
			if y == 0 {
				return nil, newException(DivideByZeroType, "division by zero")
			}
			if x == math.MinInt64 && y == -1 {
				return nil, newException(OverflowType, "%d / -1 overflows", x)
			}
			if op == bytecode.Div {
				return x / y, nil
			}
			return x % y, nil
		case bytecode.Clt:
			return boolValue(x < y), nil
		case bytecode.Cgt:
			return boolValue(x > y), nil
		}
	}
	fx, fok := toFloat(a)
	fy, gok := toFloat(b)
	if !fok || !gok {
		return nil, newException(InvalidOperationType, "%s on %T and %T", op, a, b)
	}
	switch op {
	case bytecode.Add:
		return fx + fy, nil
	case bytecode.Sub:
		return fx - fy, nil
	case bytecode.Mul:
		return fx * fy, nil
	case bytecode.Div:
		return fx / fy, nil
	case bytecode.Rem:
		return math.Mod(fx, fy), nil
	case bytecode.Clt:
		return boolValue(fx < fy), nil
	case bytecode.Cgt:
		return boolValue(fx > fy), nil
	}
	return nil, fmt.Errorf("%s: %w", op, ErrUnsupported)
}

func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return a == b
}
