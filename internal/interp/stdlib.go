package interp

import (
	"fmt"
	"hash/fnv"
	"math"
	"reflect"
	"strconv"

	"github.com/ppiankov/sandguard/internal/runguard"
)

// StandardHost binds the host library the default policy allows.
func StandardHost() *Host {
	h := NewHost()
	bindSystem(h)
	bindExceptions(h)
	bindText(h)
	bindCollections(h)
	bindLinq(h)
	return h
}

// plainObject is an instance of System.Object itself.
type plainObject struct{}

func (*plainObject) String() string { return "System.Object" }

func bindSystem(h *Host) {
	h.Bind("System.Object", ".ctor", func(c *Call, args []any) (any, error) {
		if c.New {
			return &plainObject{}, nil
		}
		return nil, nil
	})
	h.Bind("System.Object", "ToString", func(c *Call, args []any) (any, error) {
		if err := arity(args, 1); err != nil {
			return nil, err
		}
		return format(args[0]), nil
	})
	h.Bind("System.Object", "Equals", func(c *Call, args []any) (any, error) {
		if err := arity(args, 2); err != nil {
			return nil, err
		}
		return boolValue(equal(args[0], args[1])), nil
	})
	h.Bind("System.Object", "GetHashCode", func(c *Call, args []any) (any, error) {
		if err := arity(args, 1); err != nil {
			return nil, err
		}
		return hashCode(args[0]), nil
	})

	h.Bind("System.Console", "WriteLine", func(c *Call, args []any) (any, error) {
		if err := arity(args, 0, 1); err != nil {
			return nil, err
		}
		line := ""
		if len(args) == 1 {
			line = format(args[0])
		}
		_, err := fmt.Fprintln(c.Machine.stdout, line)
		return nil, err
	})
	h.Bind("System.Console", "Write", func(c *Call, args []any) (any, error) {
		if err := arity(args, 1); err != nil {
			return nil, err
		}
		_, err := fmt.Fprint(c.Machine.stdout, format(args[0]))
		return nil, err
	})
	h.Bind("System.Environment", "get_NewLine", func(c *Call, args []any) (any, error) {
		return "\n", nil
	})

	for _, t := range []string{"System.Int32", "System.Int64", "System.Double", "System.Boolean", "System.Char"} {
		h.Bind(t, "ToString", func(c *Call, args []any) (any, error) {
			if err := arity(args, 1); err != nil {
				return nil, err
			}
			return format(args[0]), nil
		})
	}
	for _, t := range []string{"System.Int32", "System.Int64"} {
		h.Bind(t, "Parse", func(c *Call, args []any) (any, error) {
			if err := arity(args, 1); err != nil {
				return nil, err
			}
			s, err := argString(args, 0)
			if err != nil {
				return nil, err
			}
			n, perr := strconv.ParseInt(s, 10, 64)
			if perr != nil {
				return nil, newException("System.FormatException", "%q is not a number", s)
			}
			return n, nil
		})
	}
	h.Bind("System.Double", "Parse", func(c *Call, args []any) (any, error) {
		if err := arity(args, 1); err != nil {
			return nil, err
		}
		s, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		f, perr := strconv.ParseFloat(s, 64)
		if perr != nil {
			return nil, newException("System.FormatException", "%q is not a number", s)
		}
		return f, nil
	})

	bindMath(h)
}

func bindMath(h *Host) {
	unary := func(fi func(int64) int64, ff func(float64) float64) HostFunc {
		return func(c *Call, args []any) (any, error) {
			if err := arity(args, 1); err != nil {
				return nil, err
			}
			if n, ok := args[0].(int64); ok && fi != nil {
				return fi(n), nil
			}
			f, ok := toFloat(args[0])
			if !ok {
				return nil, newException(ArgumentType, "not a number: %T", args[0])
			}
			return ff(f), nil
		}
	}
	pair := func(fi func(a, b int64) int64, ff func(a, b float64) float64) HostFunc {
		return func(c *Call, args []any) (any, error) {
			if err := arity(args, 2); err != nil {
				return nil, err
			}
			x, xok := args[0].(int64)
			y, yok := args[1].(int64)
			if xok && yok && fi != nil {
				return fi(x, y), nil
			}
			a, aok := toFloat(args[0])
			b, bok := toFloat(args[1])
			if !aok || !bok {
				return nil, newException(ArgumentType, "not numbers: %T, %T", args[0], args[1])
			}
			return ff(a, b), nil
		}
	}
	abs := func(n int64) int64 {
		if n < 0 {
			return -n
		}
		return n
	}
	h.Bind("System.Math", "Abs", unary(abs, math.Abs))
	h.Bind("System.Math", "Sqrt", unary(nil, math.Sqrt))
	h.Bind("System.Math", "Floor", unary(nil, math.Floor))
	h.Bind("System.Math", "Ceiling", unary(nil, math.Ceil))
	h.Bind("System.Math", "Max", pair(func(a, b int64) int64 { return max(a, b) }, math.Max))
	h.Bind("System.Math", "Min", pair(func(a, b int64) int64 { return min(a, b) }, math.Min))
	h.Bind("System.Math", "Pow", pair(nil, math.Pow))
}

func hashCode(v any) int64 {
	switch x := v.(type) {
	case nil:
		return 0
	case int64:
		return x
	case string:
		h := fnv.New32a()
		_, _ = h.Write([]byte(x))
		return int64(h.Sum32())
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer {
		return int64(uint32(rv.Pointer()))
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(format(v)))
	return int64(h.Sum32())
}

func bindExceptions(h *Host) {
	for _, t := range []string{ExceptionType, InvalidOperationType, ArgumentType} {
		h.Bind(t, ".ctor", func(c *Call, args []any) (any, error) {
			msg := ""
			rest := args
			if !c.New {
				if len(args) == 0 {
					return nil, newException(NullReferenceType, "missing receiver")
				}
				rest = args[1:]
			}
			if len(rest) > 0 {
				msg = format(rest[0])
			}
			if c.New {
				return &Exception{Type: t, Message: msg}, nil
			}
			// Base constructor of a module-defined exception.
			if obj, ok := args[0].(*Object); ok {
				obj.Fields[messageField] = msg
			}
			return nil, nil
		})
	}
	h.Bind(ExceptionType, "get_Message", func(c *Call, args []any) (any, error) {
		if err := arity(args, 1); err != nil {
			return nil, err
		}
		switch e := args[0].(type) {
		case *Exception:
			return e.Message, nil
		case *Object:
			msg, _ := e.Fields[messageField].(string)
			return msg, nil
		case nil:
			return nil, newException(NullReferenceType, "receiver is null")
		}
		return nil, newException(InvalidOperationType, "not an exception: %T", args[0])
	})
	h.Bind("System.IDisposable", "Dispose", func(c *Call, args []any) (any, error) {
		d, err := receiver[runguard.Disposable](args)
		if err != nil {
			return nil, err
		}
		if err := d.Dispose(); err != nil {
			return nil, newException(InvalidOperationType, "dispose: %v", err)
		}
		return nil, nil
	})
}
