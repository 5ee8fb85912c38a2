package interp

import (
	"fmt"
	"strconv"

	"github.com/ppiankov/sandguard/internal/bytecode"
	"github.com/ppiankov/sandguard/internal/runguard"
)

// Values on the evaluation stack are int64, float64, string, bool, nil,
// *Object, *Array, *Exception or a host object.

// Object is an instance of a module-defined type.
type Object struct {
	Type   *bytecode.TypeDef
	Fields map[string]any
}

func newObject(t *bytecode.TypeDef) *Object {
	return &Object{Type: t, Fields: make(map[string]any)}
}

// load reads a field, falling back to the zero value of its type.
func (o *Object) load(f *bytecode.FieldRef) any {
	if v, ok := o.Fields[f.Name]; ok {
		return v
	}
	return zeroValue(f.Type)
}

func (o *Object) String() string { return o.Type.FullName() }

// Array is a single-dimension array.
type Array struct {
	Elem  *bytecode.TypeRef
	Items []any
}

// Cursor implements runguard.Sequence.
func (a *Array) Cursor() runguard.Cursor { return &sliceCursor{items: a.Items, pos: -1} }

func (a *Array) String() string { return a.Elem.FullName() + "[]" }

type sliceCursor struct {
	items []any
	pos   int
}

func (c *sliceCursor) MoveNext() (bool, error) {
	if c.pos+1 >= len(c.items) {
		return false, nil
	}
	c.pos++
	return true, nil
}

func (c *sliceCursor) Current() any {
	if c.pos < 0 || c.pos >= len(c.items) {
		return nil
	}
	return c.items[c.pos]
}

var zeroValues = map[string]any{
	"System.Boolean": false,
	"System.Char":    int64(0),
	"System.Byte":    int64(0),
	"System.SByte":   int64(0),
	"System.Int16":   int64(0),
	"System.UInt16":  int64(0),
	"System.Int32":   int64(0),
	"System.UInt32":  int64(0),
	"System.Int64":   int64(0),
	"System.UInt64":  int64(0),
	"System.Single":  float64(0),
	"System.Double":  float64(0),
}

func zeroValue(t *bytecode.TypeRef) any {
	if t == nil || t.Kind != bytecode.KindNamed {
		return nil
	}
	return zeroValues[t.FullName()]
}

// normalize converts Go arguments to interpreter values.
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	case bool:
		return boolValue(x)
	}
	return v
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	}
	return true
}

func boolValue(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// format renders a value the way ToString and Console do.
func format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		if x {
			return "True"
		}
		return "False"
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprintf("%v", v)
}

func toInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case bool:
		return boolValue(x), true
	case float64:
		return int64(x), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}
