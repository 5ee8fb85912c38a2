package bytecode

import (
	"fmt"
	"io"
	"strings"
)

// Disassemble writes a readable listing of m.
func Disassemble(w io.Writer, m *Module) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, ".module %s\n", m.Name)
	for _, a := range m.Attributes {
		fmt.Fprintf(&sb, ".custom %s\n", a.FullName())
	}
	for _, t := range m.AllTypes() {
		sb.WriteString("\n")
		disasmType(&sb, t)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func disasmType(sb *strings.Builder, t *TypeDef) {
	kind := "class"
	if t.ValueType {
		kind = "struct"
	}
	fmt.Fprintf(sb, ".%s %s", kind, t.FullName())
	if t.Base != nil {
		fmt.Fprintf(sb, " extends %s", t.Base.FullName())
	}
	switch t.Layout {
	case LayoutSequential:
		sb.WriteString(" sequential")
	case LayoutExplicit:
		sb.WriteString(" explicit")
	}
	sb.WriteString("\n")
	for _, a := range t.Attributes {
		fmt.Fprintf(sb, "  .custom %s\n", a.FullName())
	}
	for _, f := range t.Fields {
		static := ""
		if f.Static {
			static = "static "
		}
		fmt.Fprintf(sb, "  .field %s%s %s\n", static, f.Type.FullName(), f.Name)
	}
	for _, md := range t.Methods {
		disasmMethod(sb, md)
	}
}

func disasmMethod(sb *strings.Builder, m *MethodDef) {
	var flags []string
	if m.Static {
		flags = append(flags, "static")
	}
	if m.Virtual {
		flags = append(flags, "virtual")
	}
	if m.Native {
		flags = append(flags, "native")
	}
	params := make([]string, len(m.Params))
	for i, p := range m.Params {
		params[i] = p.Type.FullName() + " " + p.Name
	}
	prefix := ""
	if len(flags) > 0 {
		prefix = strings.Join(flags, " ") + " "
	}
	fmt.Fprintf(sb, "  .method %s%s %s(%s)\n", prefix, m.Return.FullName(), m.Name, strings.Join(params, ", "))
	for _, o := range m.Overrides {
		fmt.Fprintf(sb, "    .override %s\n", o.Key())
	}
	if m.Body == nil {
		return
	}
	for i, l := range m.Body.Locals {
		fmt.Fprintf(sb, "    .local [%d] %s\n", i, l.FullName())
	}
	for k, h := range m.Body.Handlers {
		catch := "*"
		if h.CatchType != nil {
			catch = h.CatchType.FullName()
		}
		fmt.Fprintf(sb, "    .try [%d] IL_%04d to IL_%04d catch %s handler IL_%04d to IL_%04d\n",
			k, h.TryStart, h.TryEnd, catch, h.HandlerStart, h.HandlerEnd)
	}
	for i, in := range m.Body.Instructions {
		fmt.Fprintf(sb, "    IL_%04d: %s\n", i, in)
	}
}
