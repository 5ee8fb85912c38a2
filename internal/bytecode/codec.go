package bytecode

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Magic prefixes every encoded module.
const Magic = "SGBC"

// FormatVersion is the only encoding version this package reads and writes.
const FormatVersion = 1

var (
	ErrBadMagic     = errors.New("not a sandguard module")
	ErrVersion      = errors.New("unsupported module format version")
	ErrMalformed    = errors.New("malformed module")
	ErrUnknownField = errors.New("unknown field")
)

// Marshal encodes m. The encoding is deterministic: fields are written in
// a fixed order and zero scalars are omitted, so decoding and re-encoding
// an untouched module yields identical bytes.
func Marshal(m *Module) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("marshal: nil module: %w", ErrMalformed)
	}
	w := &writer{b: append([]byte(Magic), FormatVersion)}
	writeModule(w, m)
	return w.b, nil
}

// Encode writes the encoding of m to dst.
func Encode(dst io.Writer, m *Module) error {
	b, err := Marshal(m)
	if err != nil {
		return err
	}
	_, err = dst.Write(b)
	return err
}

// Unmarshal decodes a module, links it and validates every body.
func Unmarshal(b []byte) (*Module, error) {
	if !bytes.HasPrefix(b, []byte(Magic)) {
		return nil, ErrBadMagic
	}
	b = b[len(Magic):]
	if len(b) == 0 {
		return nil, fmt.Errorf("missing version: %w", ErrMalformed)
	}
	if b[0] != FormatVersion {
		return nil, fmt.Errorf("version %d: %w", b[0], ErrVersion)
	}
	r := &reader{b: b[1:]}
	m := readModule(r)
	if r.err != nil {
		return nil, fmt.Errorf("decode module: %w", r.err)
	}
	m.Link()
	for _, t := range m.AllTypes() {
		for _, md := range t.Methods {
			if md.Body == nil {
				continue
			}
			if err := ValidateBody(md.Body); err != nil {
				return nil, fmt.Errorf("decode %s: %w", md.FullName(), err)
			}
		}
	}
	return m, nil
}

// Decode reads a whole module from src.
func Decode(src io.Reader) (*Module, error) {
	b, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("read module: %w", err)
	}
	return Unmarshal(b)
}

type writer struct {
	b []byte
}

func (w *writer) uint(num protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	w.b = protowire.AppendTag(w.b, num, protowire.VarintType)
	w.b = protowire.AppendVarint(w.b, v)
}

func (w *writer) int(num protowire.Number, v int) { w.uint(num, uint64(int64(v))) }

func (w *writer) bool(num protowire.Number, v bool) {
	if v {
		w.uint(num, 1)
	}
}

func (w *writer) str(num protowire.Number, s string) {
	if s == "" {
		return
	}
	w.b = protowire.AppendTag(w.b, num, protowire.BytesType)
	w.b = protowire.AppendString(w.b, s)
}

func (w *writer) message(num protowire.Number, fn func(*writer)) {
	sub := &writer{}
	fn(sub)
	w.b = protowire.AppendTag(w.b, num, protowire.BytesType)
	w.b = protowire.AppendBytes(w.b, sub.b)
}

func (w *writer) typeRef(num protowire.Number, t *TypeRef) {
	if t == nil {
		return
	}
	w.message(num, func(s *writer) { writeTypeRef(s, t) })
}

func (w *writer) typeRefs(num protowire.Number, ts []*TypeRef) {
	for _, t := range ts {
		if t == nil {
			t = &TypeRef{}
		}
		w.message(num, func(s *writer) { writeTypeRef(s, t) })
	}
}

func (w *writer) params(num protowire.Number, ps []Param) {
	for _, p := range ps {
		w.message(num, func(s *writer) {
			s.str(1, p.Name)
			s.typeRef(2, p.Type)
		})
	}
}

func writeModule(w *writer, m *Module) {
	w.str(1, m.Name)
	w.typeRefs(2, m.Attributes)
	for _, t := range m.Types {
		w.message(3, func(s *writer) { writeTypeDef(s, t) })
	}
}

func writeTypeRef(w *writer, t *TypeRef) {
	w.uint(1, uint64(t.Kind))
	w.str(2, t.Namespace)
	w.str(3, t.Name)
	w.typeRef(4, t.Declaring)
	w.typeRef(5, t.Element)
	w.typeRefs(6, t.Args)
	w.int(7, t.Position)
	w.bool(8, t.Method)
	w.bool(9, t.Internal)
	w.bool(10, t.ValueType)
}

func writeTypeDef(w *writer, t *TypeDef) {
	w.str(1, t.Namespace)
	w.str(2, t.Name)
	w.typeRef(3, t.Base)
	w.uint(4, uint64(t.Layout))
	w.bool(5, t.ValueType)
	w.typeRefs(6, t.Attributes)
	for _, n := range t.Nested {
		w.message(7, func(s *writer) { writeTypeDef(s, n) })
	}
	for _, f := range t.Fields {
		w.message(8, func(s *writer) {
			s.str(1, f.Name)
			s.typeRef(2, f.Type)
			s.bool(3, f.Static)
			s.typeRefs(4, f.Attributes)
		})
	}
	for _, md := range t.Methods {
		w.message(9, func(s *writer) { writeMethodDef(s, md) })
	}
}

func writeMethodDef(w *writer, m *MethodDef) {
	w.str(1, m.Name)
	w.params(2, m.Params)
	w.typeRef(3, m.Return)
	w.bool(4, m.Static)
	w.bool(5, m.Virtual)
	w.bool(6, m.Native)
	for _, o := range m.Overrides {
		w.message(7, func(s *writer) { writeMethodRef(s, o) })
	}
	w.typeRefs(8, m.Attributes)
	if m.Body != nil {
		w.message(9, func(s *writer) { writeBody(s, m.Body) })
	}
}

func writeMethodRef(w *writer, m *MethodRef) {
	w.typeRef(1, m.Declaring)
	w.str(2, m.Name)
	w.params(3, m.Params)
	w.typeRef(4, m.Return)
	w.bool(5, m.HasThis)
	w.typeRefs(6, m.GenericArgs)
}

func writeFieldRef(w *writer, f *FieldRef) {
	w.typeRef(1, f.Declaring)
	w.str(2, f.Name)
	w.typeRef(3, f.Type)
}

func writeBody(w *writer, b *Body) {
	w.typeRefs(1, b.Locals)
	for _, in := range b.Instructions {
		w.message(2, func(s *writer) { writeInstruction(s, in) })
	}
	for _, h := range b.Handlers {
		w.message(3, func(s *writer) {
			s.int(1, h.TryStart)
			s.int(2, h.TryEnd)
			s.int(3, h.HandlerStart)
			s.int(4, h.HandlerEnd)
			s.typeRef(5, h.CatchType)
		})
	}
}

func writeInstruction(w *writer, in *Instruction) {
	w.uint(1, uint64(in.Op))
	w.uint(2, protowire.EncodeZigZag(in.Int))
	if bits := math.Float64bits(in.Float); bits != 0 {
		w.b = protowire.AppendTag(w.b, 3, protowire.Fixed64Type)
		w.b = protowire.AppendFixed64(w.b, bits)
	}
	w.str(4, in.Str)
	w.int(5, in.Target)
	for _, t := range in.Targets {
		// Repeated entries are written even when zero to keep the count.
		w.b = protowire.AppendTag(w.b, 6, protowire.VarintType)
		w.b = protowire.AppendVarint(w.b, uint64(int64(t)))
	}
	w.typeRef(7, in.Type)
	if in.Method != nil {
		w.message(8, func(s *writer) { writeMethodRef(s, in.Method) })
	}
	if in.Field != nil {
		w.message(9, func(s *writer) { writeFieldRef(s, in.Field) })
	}
}

type reader struct {
	b   []byte
	err error
	num protowire.Number
	typ protowire.Type
}

func (r *reader) next() bool {
	if r.err != nil || len(r.b) == 0 {
		return false
	}
	num, typ, n := protowire.ConsumeTag(r.b)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return false
	}
	r.b = r.b[n:]
	r.num, r.typ = num, typ
	return true
}

func (r *reader) expect(typ protowire.Type) bool {
	if r.err != nil {
		return false
	}
	if r.typ != typ {
		r.err = fmt.Errorf("field %d: wire type %d: %w", r.num, r.typ, ErrMalformed)
		return false
	}
	return true
}

func (r *reader) uint() uint64 {
	if !r.expect(protowire.VarintType) {
		return 0
	}
	v, n := protowire.ConsumeVarint(r.b)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return 0
	}
	r.b = r.b[n:]
	return v
}

func (r *reader) int() int { return int(int64(r.uint())) }

func (r *reader) bool() bool { return r.uint() != 0 }

func (r *reader) fixed64() uint64 {
	if !r.expect(protowire.Fixed64Type) {
		return 0
	}
	v, n := protowire.ConsumeFixed64(r.b)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return 0
	}
	r.b = r.b[n:]
	return v
}

func (r *reader) bytes() []byte {
	if !r.expect(protowire.BytesType) {
		return nil
	}
	v, n := protowire.ConsumeBytes(r.b)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return nil
	}
	r.b = r.b[n:]
	return v
}

func (r *reader) str() string { return string(r.bytes()) }

func (r *reader) unknown() {
	r.err = fmt.Errorf("field %d: %w", r.num, ErrUnknownField)
}

func message[T any](r *reader, decode func(*reader) T) T {
	var zero T
	b := r.bytes()
	if r.err != nil {
		return zero
	}
	sub := &reader{b: b}
	v := decode(sub)
	if sub.err != nil {
		r.err = sub.err
		return zero
	}
	return v
}

func readParam(r *reader) Param {
	var p Param
	for r.next() {
		switch r.num {
		case 1:
			p.Name = r.str()
		case 2:
			p.Type = message(r, readTypeRef)
		default:
			r.unknown()
		}
	}
	return p
}

func readModule(r *reader) *Module {
	m := &Module{}
	for r.next() {
		switch r.num {
		case 1:
			m.Name = r.str()
		case 2:
			m.Attributes = append(m.Attributes, message(r, readTypeRef))
		case 3:
			m.Types = append(m.Types, message(r, readTypeDef))
		default:
			r.unknown()
		}
	}
	return m
}

func readTypeRef(r *reader) *TypeRef {
	t := &TypeRef{}
	for r.next() {
		switch r.num {
		case 1:
			t.Kind = TypeKind(r.uint())
			if t.Kind > KindGenericParam {
				r.err = fmt.Errorf("type kind %d: %w", t.Kind, ErrMalformed)
			}
		case 2:
			t.Namespace = r.str()
		case 3:
			t.Name = r.str()
		case 4:
			t.Declaring = message(r, readTypeRef)
		case 5:
			t.Element = message(r, readTypeRef)
		case 6:
			t.Args = append(t.Args, message(r, readTypeRef))
		case 7:
			t.Position = r.int()
		case 8:
			t.Method = r.bool()
		case 9:
			t.Internal = r.bool()
		case 10:
			t.ValueType = r.bool()
		default:
			r.unknown()
		}
	}
	if r.err == nil && (t.Kind == KindArray || t.Kind == KindGenericInstance) && t.Element == nil {
		r.err = fmt.Errorf("type without element: %w", ErrMalformed)
	}
	return t
}

func readTypeDef(r *reader) *TypeDef {
	t := &TypeDef{}
	for r.next() {
		switch r.num {
		case 1:
			t.Namespace = r.str()
		case 2:
			t.Name = r.str()
		case 3:
			t.Base = message(r, readTypeRef)
		case 4:
			t.Layout = Layout(r.uint())
		case 5:
			t.ValueType = r.bool()
		case 6:
			t.Attributes = append(t.Attributes, message(r, readTypeRef))
		case 7:
			t.Nested = append(t.Nested, message(r, readTypeDef))
		case 8:
			t.Fields = append(t.Fields, message(r, readFieldDef))
		case 9:
			t.Methods = append(t.Methods, message(r, readMethodDef))
		default:
			r.unknown()
		}
	}
	return t
}

func readFieldDef(r *reader) *FieldDef {
	f := &FieldDef{}
	for r.next() {
		switch r.num {
		case 1:
			f.Name = r.str()
		case 2:
			f.Type = message(r, readTypeRef)
		case 3:
			f.Static = r.bool()
		case 4:
			f.Attributes = append(f.Attributes, message(r, readTypeRef))
		default:
			r.unknown()
		}
	}
	return f
}

func readMethodDef(r *reader) *MethodDef {
	m := &MethodDef{}
	for r.next() {
		switch r.num {
		case 1:
			m.Name = r.str()
		case 2:
			m.Params = append(m.Params, message(r, readParam))
		case 3:
			m.Return = message(r, readTypeRef)
		case 4:
			m.Static = r.bool()
		case 5:
			m.Virtual = r.bool()
		case 6:
			m.Native = r.bool()
		case 7:
			m.Overrides = append(m.Overrides, message(r, readMethodRef))
		case 8:
			m.Attributes = append(m.Attributes, message(r, readTypeRef))
		case 9:
			m.Body = message(r, readBody)
		default:
			r.unknown()
		}
	}
	return m
}

func readMethodRef(r *reader) *MethodRef {
	m := &MethodRef{}
	for r.next() {
		switch r.num {
		case 1:
			m.Declaring = message(r, readTypeRef)
		case 2:
			m.Name = r.str()
		case 3:
			m.Params = append(m.Params, message(r, readParam))
		case 4:
			m.Return = message(r, readTypeRef)
		case 5:
			m.HasThis = r.bool()
		case 6:
			m.GenericArgs = append(m.GenericArgs, message(r, readTypeRef))
		default:
			r.unknown()
		}
	}
	return m
}

func readFieldRef(r *reader) *FieldRef {
	f := &FieldRef{}
	for r.next() {
		switch r.num {
		case 1:
			f.Declaring = message(r, readTypeRef)
		case 2:
			f.Name = r.str()
		case 3:
			f.Type = message(r, readTypeRef)
		default:
			r.unknown()
		}
	}
	return f
}

func readBody(r *reader) *Body {
	b := &Body{}
	for r.next() {
		switch r.num {
		case 1:
			b.Locals = append(b.Locals, message(r, readTypeRef))
		case 2:
			b.Instructions = append(b.Instructions, message(r, readInstruction))
		case 3:
			b.Handlers = append(b.Handlers, message(r, readHandler))
		default:
			r.unknown()
		}
	}
	return b
}

func readHandler(r *reader) *ExceptionHandler {
	h := &ExceptionHandler{}
	for r.next() {
		switch r.num {
		case 1:
			h.TryStart = r.int()
		case 2:
			h.TryEnd = r.int()
		case 3:
			h.HandlerStart = r.int()
		case 4:
			h.HandlerEnd = r.int()
		case 5:
			h.CatchType = message(r, readTypeRef)
		default:
			r.unknown()
		}
	}
	return h
}

func readInstruction(r *reader) *Instruction {
	in := &Instruction{}
	for r.next() {
		switch r.num {
		case 1:
			op := r.uint()
			if op >= uint64(opcodeCount) {
				r.err = fmt.Errorf("opcode %d: %w", op, ErrMalformed)
			}
			in.Op = Opcode(op)
		case 2:
			in.Int = protowire.DecodeZigZag(r.uint())
		case 3:
			in.Float = math.Float64frombits(r.fixed64())
		case 4:
			in.Str = r.str()
		case 5:
			in.Target = r.int()
		case 6:
			in.Targets = append(in.Targets, r.int())
		case 7:
			in.Type = message(r, readTypeRef)
		case 8:
			in.Method = message(r, readMethodRef)
		case 9:
			in.Field = message(r, readFieldRef)
		default:
			r.unknown()
		}
	}
	return in
}
