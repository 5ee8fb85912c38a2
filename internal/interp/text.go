package interp

import (
	"strings"
	"unicode/utf8"
)

// StringBuilder backs System.Text.StringBuilder.
type StringBuilder struct {
	sb strings.Builder
}

func (b *StringBuilder) String() string { return b.sb.String() }

// StringWriter backs System.IO.StringWriter.
type StringWriter struct {
	sb       strings.Builder
	disposed bool
}

func (w *StringWriter) String() string { return w.sb.String() }

// Dispose implements runguard.Disposable.
func (w *StringWriter) Dispose() error {
	w.disposed = true
	return nil
}

// Disposed reports whether Dispose ran.
func (w *StringWriter) Disposed() bool { return w.disposed }

func (w *StringWriter) write(s string) error {
	if w.disposed {
		return newException("System.ObjectDisposedException", "writer is disposed")
	}
	w.sb.WriteString(s)
	return nil
}

func runes(s string) []rune { return []rune(s) }

func bindText(h *Host) {
	const str = "System.String"
	h.Bind(str, ".ctor", func(c *Call, args []any) (any, error) {
		// String(char c, int count)
		if err := arity(args, 2); err != nil {
			return nil, err
		}
		ch, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		n, err := argInt(args, 1)
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, newException(ArgumentType, "count is negative")
		}
		return strings.Repeat(string(rune(ch)), int(n)), nil
	})
	h.Bind(str, "Concat", func(c *Call, args []any) (any, error) {
		var sb strings.Builder
		for _, a := range args {
			sb.WriteString(format(a))
		}
		return sb.String(), nil
	})
	h.Bind(str, "get_Length", func(c *Call, args []any) (any, error) {
		s, err := receiver[string](args)
		if err != nil {
			return nil, err
		}
		return int64(utf8.RuneCountInString(s)), nil
	})
	h.Bind(str, "get_Chars", func(c *Call, args []any) (any, error) {
		if err := arity(args, 2); err != nil {
			return nil, err
		}
		s, err := receiver[string](args)
		if err != nil {
			return nil, err
		}
		i, err := argInt(args, 1)
		if err != nil {
			return nil, err
		}
		r := runes(s)
		if i < 0 || i >= int64(len(r)) {
			return nil, newException(IndexOutOfRangeType, "index %d outside string of length %d", i, len(r))
		}
		return int64(r[i]), nil
	})
	h.Bind(str, "Substring", func(c *Call, args []any) (any, error) {
		if err := arity(args, 2, 3); err != nil {
			return nil, err
		}
		s, err := receiver[string](args)
		if err != nil {
			return nil, err
		}
		r := runes(s)
		start, err := argInt(args, 1)
		if err != nil {
			return nil, err
		}
		length := int64(len(r)) - start
		if len(args) == 3 {
			if length, err = argInt(args, 2); err != nil {
				return nil, err
			}
		}
		if start < 0 || length < 0 || start+length > int64(len(r)) {
			return nil, newException(ArgumentType, "substring [%d, +%d) outside string of length %d", start, length, len(r))
		}
		return string(r[start : start+length]), nil
	})
	h.Bind(str, "Equals", func(c *Call, args []any) (any, error) {
		if err := arity(args, 2); err != nil {
			return nil, err
		}
		return boolValue(equal(args[0], args[1])), nil
	})
	h.Bind(str, "IsNullOrEmpty", func(c *Call, args []any) (any, error) {
		if err := arity(args, 1); err != nil {
			return nil, err
		}
		s, _ := args[0].(string)
		return boolValue(s == ""), nil
	})
	h.Bind(str, "ToString", func(c *Call, args []any) (any, error) {
		return receiver[string](args)
	})

	const builder = "System.Text.StringBuilder"
	h.Bind(builder, ".ctor", func(c *Call, args []any) (any, error) {
		b := &StringBuilder{}
		if len(args) > 0 {
			if s, ok := args[0].(string); ok {
				b.sb.WriteString(s)
			}
		}
		return b, nil
	})
	h.Bind(builder, "Append", func(c *Call, args []any) (any, error) {
		if err := arity(args, 2); err != nil {
			return nil, err
		}
		b, err := receiver[*StringBuilder](args)
		if err != nil {
			return nil, err
		}
		b.sb.WriteString(format(args[1]))
		return b, nil
	})
	h.Bind(builder, "Insert", func(c *Call, args []any) (any, error) {
		if err := arity(args, 3); err != nil {
			return nil, err
		}
		b, err := receiver[*StringBuilder](args)
		if err != nil {
			return nil, err
		}
		i, err := argInt(args, 1)
		if err != nil {
			return nil, err
		}
		r := runes(b.sb.String())
		if i < 0 || i > int64(len(r)) {
			return nil, newException(ArgumentType, "index %d outside builder of length %d", i, len(r))
		}
		s := string(r[:i]) + format(args[2]) + string(r[i:])
		b.sb.Reset()
		b.sb.WriteString(s)
		return b, nil
	})
	h.Bind(builder, "ToString", func(c *Call, args []any) (any, error) {
		b, err := receiver[*StringBuilder](args)
		if err != nil {
			return nil, err
		}
		return b.sb.String(), nil
	})
	h.Bind(builder, "get_Length", func(c *Call, args []any) (any, error) {
		b, err := receiver[*StringBuilder](args)
		if err != nil {
			return nil, err
		}
		return int64(utf8.RuneCountInString(b.sb.String())), nil
	})

	const writer = "System.IO.StringWriter"
	h.Bind(writer, ".ctor", func(c *Call, args []any) (any, error) {
		return &StringWriter{}, nil
	})
	h.Bind(writer, "Write", func(c *Call, args []any) (any, error) {
		if err := arity(args, 2); err != nil {
			return nil, err
		}
		w, err := receiver[*StringWriter](args)
		if err != nil {
			return nil, err
		}
		return nil, w.write(format(args[1]))
	})
	h.Bind(writer, "WriteLine", func(c *Call, args []any) (any, error) {
		if err := arity(args, 1, 2); err != nil {
			return nil, err
		}
		w, err := receiver[*StringWriter](args)
		if err != nil {
			return nil, err
		}
		line := "\n"
		if len(args) == 2 {
			line = format(args[1]) + "\n"
		}
		return nil, w.write(line)
	})
	h.Bind(writer, "ToString", func(c *Call, args []any) (any, error) {
		w, err := receiver[*StringWriter](args)
		if err != nil {
			return nil, err
		}
		return w.sb.String(), nil
	})
	h.Bind(writer, "Dispose", func(c *Call, args []any) (any, error) {
		w, err := receiver[*StringWriter](args)
		if err != nil {
			return nil, err
		}
		return nil, w.Dispose()
	})
}
