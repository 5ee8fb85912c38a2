package interp

import (
	"github.com/ppiankov/sandguard/internal/bytecode"
	"github.com/ppiankov/sandguard/internal/runguard"
)

type rangeSeq struct{ start, count int64 }

func (s *rangeSeq) Cursor() runguard.Cursor { return &rangeCursor{seq: s, pos: -1} }

type rangeCursor struct {
	seq *rangeSeq
	pos int64
}

func (c *rangeCursor) MoveNext() (bool, error) {
	if c.pos+1 >= c.seq.count {
		return false, nil
	}
	c.pos++
	return true, nil
}

func (c *rangeCursor) Current() any { return c.seq.start + c.pos }

type repeatSeq struct {
	value any
	count int64
}

func (s *repeatSeq) Cursor() runguard.Cursor { return &repeatCursor{seq: s} }

type repeatCursor struct {
	seq  *repeatSeq
	done int64
}

func (c *repeatCursor) MoveNext() (bool, error) {
	if c.done >= c.seq.count {
		return false, nil
	}
	c.done++
	return true, nil
}

func (c *repeatCursor) Current() any { return c.seq.value }

type concatSeq struct{ first, second runguard.Sequence }

func (s *concatSeq) Cursor() runguard.Cursor {
	return &concatCursor{cur: s.first.Cursor(), next: s.second}
}

type concatCursor struct {
	cur  runguard.Cursor
	next runguard.Sequence
}

func (c *concatCursor) MoveNext() (bool, error) {
	for {
		ok, err := c.cur.MoveNext()
		if err != nil || ok {
			return ok, err
		}
		if c.next == nil {
			return false, nil
		}
		c.cur, c.next = c.next.Cursor(), nil
	}
}

func (c *concatCursor) Current() any { return c.cur.Current() }

// fold walks seq calling fn per element; fn returns false to stop.
func fold(seq runguard.Sequence, fn func(v any) bool) error {
	cur := seq.Cursor()
	for {
		ok, err := cur.MoveNext()
		if err != nil || !ok {
			return err
		}
		if !fn(cur.Current()) {
			return nil
		}
	}
}

func bindLinq(h *Host) {
	const enumerable = "System.Linq.Enumerable"
	h.Bind(enumerable, "Range", func(c *Call, args []any) (any, error) {
		if err := arity(args, 2); err != nil {
			return nil, err
		}
		start, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		count, err := argInt(args, 1)
		if err != nil {
			return nil, err
		}
		if count < 0 {
			return nil, newException(ArgumentType, "count is negative")
		}
		return &rangeSeq{start: start, count: count}, nil
	})
	h.Bind(enumerable, "Repeat", func(c *Call, args []any) (any, error) {
		if err := arity(args, 2); err != nil {
			return nil, err
		}
		count, err := argInt(args, 1)
		if err != nil {
			return nil, err
		}
		if count < 0 {
			return nil, newException(ArgumentType, "count is negative")
		}
		return &repeatSeq{value: args[0], count: count}, nil
	})
	h.Bind(enumerable, "ToList", func(c *Call, args []any) (any, error) {
		if err := arity(args, 1); err != nil {
			return nil, err
		}
		seq, err := sequenceArg(args, 0)
		if err != nil {
			return nil, err
		}
		items, err := collect(seq)
		if err != nil {
			return nil, err
		}
		return &List{Items: items}, nil
	})
	h.Bind(enumerable, "ToArray", func(c *Call, args []any) (any, error) {
		if err := arity(args, 1); err != nil {
			return nil, err
		}
		seq, err := sequenceArg(args, 0)
		if err != nil {
			return nil, err
		}
		items, err := collect(seq)
		if err != nil {
			return nil, err
		}
		return &Array{Elem: elemType(c), Items: items}, nil
	})
	h.Bind(enumerable, "Count", func(c *Call, args []any) (any, error) {
		if err := arity(args, 1); err != nil {
			return nil, err
		}
		seq, err := sequenceArg(args, 0)
		if err != nil {
			return nil, err
		}
		var n int64
		err = fold(seq, func(any) bool { n++; return true })
		return n, err
	})
	h.Bind(enumerable, "Sum", func(c *Call, args []any) (any, error) {
		if err := arity(args, 1); err != nil {
			return nil, err
		}
		seq, err := sequenceArg(args, 0)
		if err != nil {
			return nil, err
		}
		var sum any = int64(0)
		var bad error
		err = fold(seq, func(v any) bool {
			sum, bad = binary(bytecode.Add, sum, v)
			return bad == nil
		})
		if err != nil {
			return nil, err
		}
		return sum, bad
	})
	extreme := func(less bool) HostFunc {
		return func(c *Call, args []any) (any, error) {
			if err := arity(args, 1); err != nil {
				return nil, err
			}
			seq, err := sequenceArg(args, 0)
			if err != nil {
				return nil, err
			}
			var best any
			seen := false
			var bad error
			err = fold(seq, func(v any) bool {
				if !seen {
					best, seen = v, true
					return true
				}
				var cmp any
				if less {
					cmp, bad = binary(bytecode.Clt, v, best)
				} else {
					cmp, bad = binary(bytecode.Cgt, v, best)
				}
				if bad != nil {
					return false
				}
				if truthy(cmp) {
					best = v
				}
				return true
			})
			if err != nil {
				return nil, err
			}
			if bad != nil {
				return nil, bad
			}
			if !seen {
				return nil, newException(InvalidOperationType, "sequence contains no elements")
			}
			return best, nil
		}
	}
	h.Bind(enumerable, "Max", extreme(false))
	h.Bind(enumerable, "Min", extreme(true))
	h.Bind(enumerable, "Contains", func(c *Call, args []any) (any, error) {
		if err := arity(args, 2); err != nil {
			return nil, err
		}
		seq, err := sequenceArg(args, 0)
		if err != nil {
			return nil, err
		}
		found := false
		err = fold(seq, func(v any) bool {
			found = equal(v, args[1])
			return !found
		})
		return boolValue(found), err
	})
	h.Bind(enumerable, "Concat", func(c *Call, args []any) (any, error) {
		if err := arity(args, 2); err != nil {
			return nil, err
		}
		first, err := sequenceArg(args, 0)
		if err != nil {
			return nil, err
		}
		second, err := sequenceArg(args, 1)
		if err != nil {
			return nil, err
		}
		return &concatSeq{first: first, second: second}, nil
	})
}
