// Package bytecode models compiled modules as an explicit graph of types,
// methods and index-addressed instruction streams, and encodes them to a
// deterministic binary form.
package bytecode

import (
	"fmt"
	"strings"
)

// TypeKind distinguishes the shapes a type reference can take.
type TypeKind uint8

const (
	KindNamed TypeKind = iota
	KindArray
	KindGenericInstance
	KindGenericParam
)

// TypeRef references a type, either defined by the module (Internal) or
// provided by the host.
type TypeRef struct {
	Kind      TypeKind
	Namespace string
	Name      string
	Declaring *TypeRef // enclosing type of a nested named type
	Element   *TypeRef // array element, or open type of a generic instance
	Args      []*TypeRef
	Position  int  // generic parameter position
	Method    bool // generic parameter declared by a method rather than a type
	Internal  bool
	ValueType bool
}

// Named returns a reference to a top-level host type.
func Named(namespace, name string) *TypeRef {
	return &TypeRef{Kind: KindNamed, Namespace: namespace, Name: name}
}

// ArrayOf returns a single-dimension array of elem.
func ArrayOf(elem *TypeRef) *TypeRef {
	return &TypeRef{Kind: KindArray, Element: elem}
}

// Instantiate closes an open generic type over args.
func Instantiate(open *TypeRef, args ...*TypeRef) *TypeRef {
	return &TypeRef{Kind: KindGenericInstance, Element: open, Args: args}
}

// TypeParam references the pos-th generic parameter of the declaring type.
func TypeParam(pos int) *TypeRef {
	return &TypeRef{Kind: KindGenericParam, Position: pos}
}

// MethodTypeParam references the pos-th generic parameter of the method.
func MethodTypeParam(pos int) *TypeRef {
	return &TypeRef{Kind: KindGenericParam, Position: pos, Method: true}
}

// Nested returns a reference to a type nested inside t.
func (t *TypeRef) Nested(name string) *TypeRef {
	return &TypeRef{Kind: KindNamed, Name: name, Declaring: t, Internal: t.Internal}
}

// Primitive value types used across the repo.
var (
	Boolean = primitive("Boolean")
	Char    = primitive("Char")
	Int32   = primitive("Int32")
	Int64   = primitive("Int64")
	Double  = primitive("Double")
	String  = Named("System", "String")
	Object  = Named("System", "Object")
)

func primitive(name string) *TypeRef {
	t := Named("System", name)
	t.ValueType = true
	return t
}

// IsArray reports whether t is an array type.
func (t *TypeRef) IsArray() bool { return t != nil && t.Kind == KindArray }

// IsGenericParam reports whether t is an unbound generic parameter.
func (t *TypeRef) IsGenericParam() bool { return t != nil && t.Kind == KindGenericParam }

// IsNested reports whether t is declared inside another type.
func (t *TypeRef) IsNested() bool { return t != nil && t.Kind == KindNamed && t.Declaring != nil }

// Open returns the open generic type of an instance, or t itself.
func (t *TypeRef) Open() *TypeRef {
	if t.Kind == KindGenericInstance {
		return t.Element
	}
	return t
}

// FullName renders t in Namespace.Outer/Inner form with array and generic
// suffixes.
func (t *TypeRef) FullName() string {
	if t == nil {
		return "System.Void"
	}
	switch t.Kind {
	case KindArray:
		return t.Element.FullName() + "[]"
	case KindGenericInstance:
		args := make([]string, len(t.Args))
		for i, a := range t.Args {
			args[i] = a.FullName()
		}
		return t.Element.FullName() + "<" + strings.Join(args, ",") + ">"
	case KindGenericParam:
		if t.Method {
			return fmt.Sprintf("!!%d", t.Position)
		}
		return fmt.Sprintf("!%d", t.Position)
	}
	if t.Declaring != nil {
		return t.Declaring.FullName() + "/" + t.Name
	}
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// String implements fmt.Stringer.
func (t *TypeRef) String() string { return t.FullName() }

// Equal reports structural equality.
func (t *TypeRef) Equal(o *TypeRef) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.FullName() == o.FullName()
}

// Resolve substitutes generic parameters with the given type and method
// arguments. Parameters without a matching argument are left in place.
func (t *TypeRef) Resolve(typeArgs, methodArgs []*TypeRef) *TypeRef {
	if t == nil {
		return nil
	}
	switch t.Kind {
	case KindGenericParam:
		args := typeArgs
		if t.Method {
			args = methodArgs
		}
		if t.Position < len(args) {
			return args[t.Position]
		}
		return t
	case KindArray:
		return ArrayOf(t.Element.Resolve(typeArgs, methodArgs))
	case KindGenericInstance:
		args := make([]*TypeRef, len(t.Args))
		for i, a := range t.Args {
			args[i] = a.Resolve(typeArgs, methodArgs)
		}
		return Instantiate(t.Element, args...)
	}
	return t
}

// Param is a named method parameter.
type Param struct {
	Name string
	Type *TypeRef
}

// MethodRef references a method on a type.
type MethodRef struct {
	Declaring   *TypeRef
	Name        string
	Params      []Param
	Return      *TypeRef // nil for void
	HasThis     bool
	GenericArgs []*TypeRef
}

// Key identifies the method by declaring type and name, ignoring overloads.
func (m *MethodRef) Key() string {
	return m.Declaring.Open().FullName() + "::" + m.Name
}

// ParamType returns the i-th parameter type with generic parameters
// resolved against the declaring instance and method arguments.
func (m *MethodRef) ParamType(i int) *TypeRef {
	var typeArgs []*TypeRef
	if m.Declaring != nil && m.Declaring.Kind == KindGenericInstance {
		typeArgs = m.Declaring.Args
	}
	return m.Params[i].Type.Resolve(typeArgs, m.GenericArgs)
}

// StackPops is the number of evaluation stack slots a call consumes.
func (m *MethodRef) StackPops() int {
	n := len(m.Params)
	if m.HasThis {
		n++
	}
	return n
}

// String implements fmt.Stringer.
func (m *MethodRef) String() string {
	params := make([]string, len(m.Params))
	for i, p := range m.Params {
		params[i] = p.Type.FullName()
	}
	return fmt.Sprintf("%s %s(%s)", m.Return.FullName(), m.Key(), strings.Join(params, ","))
}

// FieldRef references a field on a type.
type FieldRef struct {
	Declaring *TypeRef
	Name      string
	Type      *TypeRef
}

// Key identifies the field by declaring type and name.
func (f *FieldRef) Key() string {
	return f.Declaring.Open().FullName() + "::" + f.Name
}

// Layout controls how a type's fields are placed in memory.
type Layout uint8

const (
	LayoutAuto Layout = iota
	LayoutSequential
	LayoutExplicit
)

// Module is a compiled unit: its custom attributes and top-level types.
type Module struct {
	Name       string
	Attributes []*TypeRef
	Types      []*TypeDef
}

// TypeDef is a type defined by the module.
type TypeDef struct {
	Namespace  string
	Name       string
	Base       *TypeRef
	Layout     Layout
	ValueType  bool
	Attributes []*TypeRef
	Nested     []*TypeDef
	Fields     []*FieldDef
	Methods    []*MethodDef

	declaring *TypeDef
}

// FieldDef is a field defined on a TypeDef.
type FieldDef struct {
	Name       string
	Type       *TypeRef
	Static     bool
	Attributes []*TypeRef
}

// MethodDef is a method defined on a TypeDef. Body is nil for methods
// without an implementation.
type MethodDef struct {
	Name       string
	Params     []Param
	Return     *TypeRef
	Static     bool
	Virtual    bool
	Native     bool
	Overrides  []*MethodRef
	Attributes []*TypeRef
	Body       *Body

	declaring *TypeDef
}

// Body is a method implementation.
type Body struct {
	Locals       []*TypeRef
	Instructions []*Instruction
	Handlers     []*ExceptionHandler
}

// ExceptionHandler protects [TryStart, TryEnd) with a catch block at
// [HandlerStart, HandlerEnd). Ends are exclusive instruction indices and may
// equal the instruction count. A nil CatchType catches everything.
type ExceptionHandler struct {
	TryStart     int
	TryEnd       int
	HandlerStart int
	HandlerEnd   int
	CatchType    *TypeRef
}

// Link sets declaring pointers for every type and method in the module.
// Decode calls it; callers building modules by hand should too.
func (m *Module) Link() {
	var link func(t, parent *TypeDef)
	link = func(t, parent *TypeDef) {
		t.declaring = parent
		for _, md := range t.Methods {
			md.declaring = t
		}
		for _, n := range t.Nested {
			link(n, t)
		}
	}
	for _, t := range m.Types {
		link(t, nil)
	}
}

// AllTypes returns every type in depth-first order, nested types after
// their parent.
func (m *Module) AllTypes() []*TypeDef {
	var out []*TypeDef
	var walk func(t *TypeDef)
	walk = func(t *TypeDef) {
		out = append(out, t)
		for _, n := range t.Nested {
			walk(n)
		}
	}
	for _, t := range m.Types {
		walk(t)
	}
	return out
}

// FindType looks a type up by FullName.
func (m *Module) FindType(fullName string) *TypeDef {
	for _, t := range m.AllTypes() {
		if t.FullName() == fullName {
			return t
		}
	}
	return nil
}

// DeclaringType returns the enclosing type of a nested type.
func (t *TypeDef) DeclaringType() *TypeDef { return t.declaring }

// FullName renders Namespace.Outer/Inner.
func (t *TypeDef) FullName() string {
	if t.declaring != nil {
		return t.declaring.FullName() + "/" + t.Name
	}
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// Ref returns an Internal reference to t.
func (t *TypeDef) Ref() *TypeRef {
	if t.declaring != nil {
		n := t.declaring.Ref().Nested(t.Name)
		n.ValueType = t.ValueType
		return n
	}
	return &TypeRef{Kind: KindNamed, Namespace: t.Namespace, Name: t.Name, Internal: true, ValueType: t.ValueType}
}

// Method finds a method by name and parameter count.
func (t *TypeDef) Method(name string, params int) *MethodDef {
	for _, m := range t.Methods {
		if m.Name == name && len(m.Params) == params {
			return m
		}
	}
	return nil
}

// Field finds a field by name.
func (t *TypeDef) Field(name string) *FieldDef {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// DeclaringType returns the type that defines m.
func (m *MethodDef) DeclaringType() *TypeDef { return m.declaring }

// FullName renders Type::Name.
func (m *MethodDef) FullName() string {
	if m.declaring == nil {
		return m.Name
	}
	return m.declaring.FullName() + "::" + m.Name
}

// Ref returns a reference to m suitable for call operands.
func (m *MethodDef) Ref() *MethodRef {
	return &MethodRef{
		Declaring: m.declaring.Ref(),
		Name:      m.Name,
		Params:    m.Params,
		Return:    m.Return,
		HasThis:   !m.Static,
	}
}
