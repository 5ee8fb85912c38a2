package interp

import (
	"github.com/ppiankov/sandguard/internal/bytecode"
	"github.com/ppiankov/sandguard/internal/runguard"
)

// initialCapacityCap bounds how much of a requested capacity is reserved up
// front; the guard has already charged the full request.
const initialCapacityCap = 1 << 12

// List backs System.Collections.Generic.List`1.
type List struct {
	Items []any
}

// Cursor implements runguard.Sequence.
func (l *List) Cursor() runguard.Cursor { return &sliceCursor{items: l.Items, pos: -1} }

func (l *List) String() string { return "System.Collections.Generic.List`1" }

// Stack backs System.Collections.Generic.Stack`1.
type Stack struct {
	items []any
}

// Queue backs System.Collections.Generic.Queue`1.
type Queue struct {
	items []any
}

// Dictionary backs System.Collections.Generic.Dictionary`2. Keys keep
// insertion order for enumeration.
type Dictionary struct {
	values map[any]any
	keys   []any
}

// Enumerator is what GetEnumerator returns.
type Enumerator struct {
	cursor runguard.Cursor
}

func (e *Enumerator) String() string { return "System.Collections.Generic.IEnumerator`1" }

func elemType(c *Call) *bytecode.TypeRef {
	if d := c.Method.Declaring; d != nil && d.Kind == bytecode.KindGenericInstance && len(d.Args) > 0 {
		return d.Args[0]
	}
	if len(c.Method.GenericArgs) > 0 {
		return c.Method.GenericArgs[0]
	}
	return bytecode.Object
}

// collect drains seq.
func collect(seq runguard.Sequence) ([]any, error) {
	var out []any
	cur := seq.Cursor()
	for {
		ok, err := cur.MoveNext()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, cur.Current())
	}
}

func sequenceArg(args []any, i int) (runguard.Sequence, error) {
	seq, ok := args[i].(runguard.Sequence)
	if !ok {
		if args[i] == nil {
			return nil, newException(NullReferenceType, "sequence argument %d is null", i)
		}
		return nil, newException(ArgumentType, "argument %d is not a sequence: %T", i, args[i])
	}
	return seq, nil
}

// capacityArg reads an optional leading capacity argument.
func capacityArg(args []any) (int, error) {
	if len(args) == 0 {
		return 0, nil
	}
	n, ok := args[0].(int64)
	if !ok {
		return 0, nil
	}
	if n < 0 {
		return 0, newException(ArgumentType, "capacity is negative")
	}
	return int(min(n, initialCapacityCap)), nil
}

func indexArg(args []any, i int, length int) (int, error) {
	n, err := argInt(args, i)
	if err != nil {
		return 0, err
	}
	if n < 0 || n >= int64(length) {
		return 0, newException(IndexOutOfRangeType, "index %d outside collection of length %d", n, length)
	}
	return int(n), nil
}

func bindCollections(h *Host) {
	bindList(h)
	bindStack(h)
	bindQueue(h)
	bindDictionary(h)

	getEnumerator := func(c *Call, args []any) (any, error) {
		seq, err := receiver[runguard.Sequence](args)
		if err != nil {
			return nil, err
		}
		return &Enumerator{cursor: seq.Cursor()}, nil
	}
	h.Bind("System.Collections.IEnumerable", "GetEnumerator", getEnumerator)
	h.Bind("System.Collections.Generic.IEnumerable`1", "GetEnumerator", getEnumerator)
	h.Bind("System.Collections.IEnumerator", "MoveNext", func(c *Call, args []any) (any, error) {
		e, err := receiver[*Enumerator](args)
		if err != nil {
			return nil, err
		}
		ok, err := e.cursor.MoveNext()
		if err != nil {
			return nil, err
		}
		return boolValue(ok), nil
	})
	h.Bind("System.Collections.Generic.IEnumerator`1", "get_Current", func(c *Call, args []any) (any, error) {
		e, err := receiver[*Enumerator](args)
		if err != nil {
			return nil, err
		}
		return e.cursor.Current(), nil
	})
}

func bindList(h *Host) {
	const list = "System.Collections.Generic.List`1"
	h.Bind(list, ".ctor", func(c *Call, args []any) (any, error) {
		if len(args) == 1 {
			if seq, ok := args[0].(runguard.Sequence); ok {
				items, err := collect(seq)
				if err != nil {
					return nil, err
				}
				return &List{Items: items}, nil
			}
		}
		n, err := capacityArg(args)
		if err != nil {
			return nil, err
		}
		return &List{Items: make([]any, 0, n)}, nil
	})
	h.Bind(list, "Add", func(c *Call, args []any) (any, error) {
		if err := arity(args, 2); err != nil {
			return nil, err
		}
		l, err := receiver[*List](args)
		if err != nil {
			return nil, err
		}
		l.Items = append(l.Items, args[1])
		return nil, nil
	})
	h.Bind(list, "Insert", func(c *Call, args []any) (any, error) {
		if err := arity(args, 3); err != nil {
			return nil, err
		}
		l, err := receiver[*List](args)
		if err != nil {
			return nil, err
		}
		i, err := argInt(args, 1)
		if err != nil {
			return nil, err
		}
		if i < 0 || i > int64(len(l.Items)) {
			return nil, newException(IndexOutOfRangeType, "index %d outside list of length %d", i, len(l.Items))
		}
		l.Items = append(l.Items, nil)
		copy(l.Items[i+1:], l.Items[i:])
		l.Items[i] = args[2]
		return nil, nil
	})
	h.Bind(list, "AddRange", func(c *Call, args []any) (any, error) {
		if err := arity(args, 2); err != nil {
			return nil, err
		}
		l, err := receiver[*List](args)
		if err != nil {
			return nil, err
		}
		seq, err := sequenceArg(args, 1)
		if err != nil {
			return nil, err
		}
		items, err := collect(seq)
		if err != nil {
			return nil, err
		}
		l.Items = append(l.Items, items...)
		return nil, nil
	})
	h.Bind(list, "get_Count", func(c *Call, args []any) (any, error) {
		l, err := receiver[*List](args)
		if err != nil {
			return nil, err
		}
		return int64(len(l.Items)), nil
	})
	h.Bind(list, "get_Item", func(c *Call, args []any) (any, error) {
		if err := arity(args, 2); err != nil {
			return nil, err
		}
		l, err := receiver[*List](args)
		if err != nil {
			return nil, err
		}
		i, err := indexArg(args, 1, len(l.Items))
		if err != nil {
			return nil, err
		}
		return l.Items[i], nil
	})
	h.Bind(list, "set_Item", func(c *Call, args []any) (any, error) {
		if err := arity(args, 3); err != nil {
			return nil, err
		}
		l, err := receiver[*List](args)
		if err != nil {
			return nil, err
		}
		i, err := indexArg(args, 1, len(l.Items))
		if err != nil {
			return nil, err
		}
		l.Items[i] = args[2]
		return nil, nil
	})
	h.Bind(list, "Clear", func(c *Call, args []any) (any, error) {
		l, err := receiver[*List](args)
		if err != nil {
			return nil, err
		}
		l.Items = l.Items[:0]
		return nil, nil
	})
	h.Bind(list, "Contains", func(c *Call, args []any) (any, error) {
		if err := arity(args, 2); err != nil {
			return nil, err
		}
		l, err := receiver[*List](args)
		if err != nil {
			return nil, err
		}
		for _, v := range l.Items {
			if equal(v, args[1]) {
				return boolValue(true), nil
			}
		}
		return boolValue(false), nil
	})
	h.Bind(list, "RemoveAt", func(c *Call, args []any) (any, error) {
		if err := arity(args, 2); err != nil {
			return nil, err
		}
		l, err := receiver[*List](args)
		if err != nil {
			return nil, err
		}
		i, err := indexArg(args, 1, len(l.Items))
		if err != nil {
			return nil, err
		}
		l.Items = append(l.Items[:i], l.Items[i+1:]...)
		return nil, nil
	})
	h.Bind(list, "ToArray", func(c *Call, args []any) (any, error) {
		l, err := receiver[*List](args)
		if err != nil {
			return nil, err
		}
		return &Array{Elem: elemType(c), Items: append([]any(nil), l.Items...)}, nil
	})
	h.Bind(list, "GetEnumerator", func(c *Call, args []any) (any, error) {
		l, err := receiver[*List](args)
		if err != nil {
			return nil, err
		}
		return &Enumerator{cursor: l.Cursor()}, nil
	})
}

func bindStack(h *Host) {
	const stack = "System.Collections.Generic.Stack`1"
	h.Bind(stack, ".ctor", func(c *Call, args []any) (any, error) {
		n, err := capacityArg(args)
		if err != nil {
			return nil, err
		}
		return &Stack{items: make([]any, 0, n)}, nil
	})
	h.Bind(stack, "Push", func(c *Call, args []any) (any, error) {
		if err := arity(args, 2); err != nil {
			return nil, err
		}
		s, err := receiver[*Stack](args)
		if err != nil {
			return nil, err
		}
		s.items = append(s.items, args[1])
		return nil, nil
	})
	top := func(remove bool) HostFunc {
		return func(c *Call, args []any) (any, error) {
			s, err := receiver[*Stack](args)
			if err != nil {
				return nil, err
			}
			if len(s.items) == 0 {
				return nil, newException(InvalidOperationType, "stack is empty")
			}
			v := s.items[len(s.items)-1]
			if remove {
				s.items = s.items[:len(s.items)-1]
			}
			return v, nil
		}
	}
	h.Bind(stack, "Pop", top(true))
	h.Bind(stack, "Peek", top(false))
	h.Bind(stack, "get_Count", func(c *Call, args []any) (any, error) {
		s, err := receiver[*Stack](args)
		if err != nil {
			return nil, err
		}
		return int64(len(s.items)), nil
	})
}

func bindQueue(h *Host) {
	const queue = "System.Collections.Generic.Queue`1"
	h.Bind(queue, ".ctor", func(c *Call, args []any) (any, error) {
		n, err := capacityArg(args)
		if err != nil {
			return nil, err
		}
		return &Queue{items: make([]any, 0, n)}, nil
	})
	h.Bind(queue, "Enqueue", func(c *Call, args []any) (any, error) {
		if err := arity(args, 2); err != nil {
			return nil, err
		}
		q, err := receiver[*Queue](args)
		if err != nil {
			return nil, err
		}
		q.items = append(q.items, args[1])
		return nil, nil
	})
	h.Bind(queue, "Dequeue", func(c *Call, args []any) (any, error) {
		q, err := receiver[*Queue](args)
		if err != nil {
			return nil, err
		}
		if len(q.items) == 0 {
			return nil, newException(InvalidOperationType, "queue is empty")
		}
		v := q.items[0]
		q.items = q.items[1:]
		return v, nil
	})
	h.Bind(queue, "get_Count", func(c *Call, args []any) (any, error) {
		q, err := receiver[*Queue](args)
		if err != nil {
			return nil, err
		}
		return int64(len(q.items)), nil
	})
}

func bindDictionary(h *Host) {
	const dict = "System.Collections.Generic.Dictionary`2"
	h.Bind(dict, ".ctor", func(c *Call, args []any) (any, error) {
		n, err := capacityArg(args)
		if err != nil {
			return nil, err
		}
		return &Dictionary{values: make(map[any]any, n)}, nil
	})
	set := func(replace bool) HostFunc {
		return func(c *Call, args []any) (any, error) {
			if err := arity(args, 3); err != nil {
				return nil, err
			}
			d, err := receiver[*Dictionary](args)
			if err != nil {
				return nil, err
			}
			key := args[1]
			if key == nil {
				return nil, newException(ArgumentType, "key is null")
			}
			if _, ok := d.values[key]; ok {
				if !replace {
					return nil, newException(ArgumentType, "duplicate key %s", format(key))
				}
			} else {
				d.keys = append(d.keys, key)
			}
			d.values[key] = args[2]
			return nil, nil
		}
	}
	h.Bind(dict, "Add", set(false))
	h.Bind(dict, "set_Item", set(true))
	h.Bind(dict, "get_Item", func(c *Call, args []any) (any, error) {
		if err := arity(args, 2); err != nil {
			return nil, err
		}
		d, err := receiver[*Dictionary](args)
		if err != nil {
			return nil, err
		}
		v, ok := d.values[args[1]]
		if !ok {
			return nil, newException("System.Collections.Generic.KeyNotFoundException", "key %s not found", format(args[1]))
		}
		return v, nil
	})
	h.Bind(dict, "ContainsKey", func(c *Call, args []any) (any, error) {
		if err := arity(args, 2); err != nil {
			return nil, err
		}
		d, err := receiver[*Dictionary](args)
		if err != nil {
			return nil, err
		}
		_, ok := d.values[args[1]]
		return boolValue(ok), nil
	})
	h.Bind(dict, "Remove", func(c *Call, args []any) (any, error) {
		if err := arity(args, 2); err != nil {
			return nil, err
		}
		d, err := receiver[*Dictionary](args)
		if err != nil {
			return nil, err
		}
		if _, ok := d.values[args[1]]; !ok {
			return boolValue(false), nil
		}
		delete(d.values, args[1])
		for i, k := range d.keys {
			if k == args[1] {
				d.keys = append(d.keys[:i], d.keys[i+1:]...)
				break
			}
		}
		return boolValue(true), nil
	})
	h.Bind(dict, "get_Count", func(c *Call, args []any) (any, error) {
		d, err := receiver[*Dictionary](args)
		if err != nil {
			return nil, err
		}
		return int64(len(d.values)), nil
	})
}
