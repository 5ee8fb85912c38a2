package bytecode

import "strconv"

// PointerSize is the byte width of a reference on the running platform.
const PointerSize = strconv.IntSize / 8

var primitiveSizes = map[string]int64{
	"System.Boolean": 1,
	"System.SByte":   1,
	"System.Byte":    1,
	"System.Char":    2,
	"System.Int16":   2,
	"System.UInt16":  2,
	"System.Int32":   4,
	"System.UInt32":  4,
	"System.Single":  4,
	"System.Int64":   8,
	"System.UInt64":  8,
	"System.Double":  8,
	"System.IntPtr":  PointerSize,
	"System.UIntPtr": PointerSize,
}

// SizeOf estimates the storage size of a value of type t. Module-defined
// value types sum their instance fields; everything else is either a known
// primitive or a reference.
func (m *Module) SizeOf(t *TypeRef) int64 {
	return m.sizeOf(t, map[string]bool{})
}

func (m *Module) sizeOf(t *TypeRef, seen map[string]bool) int64 {
	if t == nil || t.Kind != KindNamed {
		return PointerSize
	}
	name := t.FullName()
	if n, ok := primitiveSizes[name]; ok {
		return n
	}
	if !t.Internal || !t.ValueType || m == nil || seen[name] {
		return PointerSize
	}
	def := m.FindType(name)
	if def == nil {
		return PointerSize
	}
	seen[name] = true
	defer delete(seen, name)
	var total int64
	for _, f := range def.Fields {
		if f.Static {
			continue
		}
		total += m.sizeOf(f.Type, seen)
	}
	if total == 0 {
		return 1
	}
	return total
}

// LocalsSize is the summed size of a body's locals.
func (m *Module) LocalsSize(b *Body) int64 {
	var total int64
	for _, l := range b.Locals {
		total += m.SizeOf(l)
	}
	return total
}
