package rewrite

import (
	"fmt"
	"strings"

	"github.com/ppiankov/sandguard/internal/bytecode"
	"github.com/ppiankov/sandguard/internal/policy"
)

// validator checks definitions and references against the denylist and the
// API policy.
type validator struct {
	settings *Settings
	module   *bytecode.Module
	internal map[string]*bytecode.TypeDef
	location string
}

func newValidator(m *bytecode.Module, s *Settings) *validator {
	v := &validator{settings: s, module: m, internal: make(map[string]*bytecode.TypeDef)}
	for _, t := range m.AllTypes() {
		v.internal[t.FullName()] = t
	}
	return v
}

func (v *validator) violation(kind ViolationKind, ns, typ, member, reason string) *PolicyViolation {
	return &PolicyViolation{
		Kind:      kind,
		Namespace: ns,
		Type:      typ,
		Member:    member,
		Location:  v.location,
		Reason:    reason,
	}
}

// lookupInternal returns the module's definition of a named type. The
// reference's own Internal flag is not trusted.
func (v *validator) lookupInternal(t *bytecode.TypeRef) *bytecode.TypeDef {
	if t == nil || t.Kind != bytecode.KindNamed || !t.Internal {
		return nil
	}
	return v.internal[t.FullName()]
}

// policyName splits a named type into its outermost namespace and a
// nested-aware short name (Outer+Inner).
func policyName(t *bytecode.TypeRef) (string, string) {
	names := []string{t.Name}
	outer := t
	for outer.Declaring != nil {
		outer = outer.Declaring
		names = append([]string{outer.Name}, names...)
	}
	return outer.Namespace, strings.Join(names, "+")
}

// checkType validates a type reference, and member on it when non-empty.
// It returns the matched member rule, if any.
func (v *validator) checkType(t *bytecode.TypeRef, member string) (*policy.MemberRule, error) {
	if t == nil {
		return nil, nil
	}
	switch t.Kind {
	case bytecode.KindGenericParam:
		return nil, nil
	case bytecode.KindArray:
		// Array members are runtime intrinsics; only the element is checked.
		_, err := v.checkType(t.Element, "")
		return nil, err
	case bytecode.KindGenericInstance:
		for _, a := range t.Args {
			if _, err := v.checkType(a, ""); err != nil {
				return nil, err
			}
		}
		return v.checkType(t.Element, member)
	}

	if v.lookupInternal(t) != nil {
		return nil, nil
	}

	ns, name := policyName(t)
	api := name
	if ns != "" {
		api = ns + "." + name
	}
	if member != "" {
		api += "::" + member
	}
	if blocked, reason := v.settings.Denylist.IsBlocked(api); blocked {
		return nil, v.violation(KindDenylisted, ns, name, member, reason)
	}

	res := v.settings.Policy.Filter(ns, name, policy.TypeExternal, member)
	switch res.Kind {
	case policy.ResultAllowed:
		return res.Member, nil
	case policy.ResultDeniedNamespace:
		return nil, v.violation(KindDeniedNamespace, ns, name, member, "namespace "+quoteNamespace(ns)+" is not allowed")
	case policy.ResultDeniedType:
		return nil, v.violation(KindDeniedType, ns, name, member, "type is not allowed")
	default:
		return nil, v.violation(KindDeniedMember, ns, name, member, "member is not allowed")
	}
}

func quoteNamespace(ns string) string {
	if ns == "" {
		return "<global>"
	}
	return ns
}

func (v *validator) checkTypes(ts ...*bytecode.TypeRef) error {
	for _, t := range ts {
		if _, err := v.checkType(t, ""); err != nil {
			return err
		}
	}
	return nil
}

// checkMethodRef validates a called or overridden method and returns its
// member rule.
func (v *validator) checkMethodRef(m *bytecode.MethodRef) (*policy.MemberRule, error) {
	rule, err := v.checkType(m.Declaring, m.Name)
	if err != nil {
		return nil, err
	}
	if err := v.checkTypes(m.Return); err != nil {
		return nil, err
	}
	if err := v.checkTypes(m.GenericArgs...); err != nil {
		return nil, err
	}
	return rule, nil
}

func (v *validator) checkFieldRef(f *bytecode.FieldRef) error {
	if _, err := v.checkType(f.Declaring, f.Name); err != nil {
		return err
	}
	return v.checkTypes(f.Type)
}

// checkModule checks the module's own attributes as type references.
func (v *validator) checkModule(m *bytecode.Module) error {
	v.location = m.Name
	return v.checkTypes(m.Attributes...)
}

// checkTypeDef applies the type-level hard rules and checks the type's
// attributes, base type and fields.
func (v *validator) checkTypeDef(t *bytecode.TypeDef) error {
	v.location = t.FullName()

	if t.DeclaringType() == nil {
		// A dotted name declares into the namespace its prefix spells.
		full := t.FullName()
		ns, name := "", full
		if i := strings.LastIndexByte(full, '.'); i >= 0 {
			ns, name = full[:i], full[i+1:]
		}
		if reserved, reason := v.settings.Denylist.IsReservedNamespace(ns); reserved {
			return v.violation(KindSystemNamespace, ns, name, "", reason)
		}
	}
	if t.Layout == bytecode.LayoutExplicit && !v.settings.ExplicitLayoutPattern.MatchString(t.FullName()) {
		return v.violation(KindExplicitLayout, "", t.FullName(), "", "explicit layout is not allowed")
	}
	if err := v.checkTypes(t.Attributes...); err != nil {
		return err
	}
	if err := v.checkTypes(t.Base); err != nil {
		return err
	}
	for _, f := range t.Fields {
		v.location = t.FullName() + "::" + f.Name
		if err := v.checkTypes(f.Attributes...); err != nil {
			return err
		}
		if err := v.checkTypes(f.Type); err != nil {
			return err
		}
	}
	return nil
}

func isFinalizer(m *bytecode.MethodDef) bool {
	for _, o := range m.Overrides {
		if o.Name == "Finalize" && o.Declaring != nil && o.Declaring.FullName() == "System.Object" {
			return true
		}
	}
	return m.Virtual && !m.Static && m.Name == "Finalize" && len(m.Params) == 0 && m.Return == nil
}

// checkMethodDef applies the method-level hard rules and checks the
// signature, attributes and overrides. Bodies are handled by the injector.
func (v *validator) checkMethodDef(m *bytecode.MethodDef) error {
	v.location = m.FullName()
	owner := m.DeclaringType()

	if m.Native {
		return v.violation(KindNativeMethod, "", owner.FullName(), m.Name, "native methods are not allowed")
	}
	if isFinalizer(m) {
		return v.violation(KindFinalizer, "", owner.FullName(), m.Name, "finalizers are not allowed")
	}
	if err := v.checkTypes(m.Attributes...); err != nil {
		return err
	}
	if err := v.checkTypes(m.Return); err != nil {
		return err
	}
	for _, p := range m.Params {
		if err := v.checkTypes(p.Type); err != nil {
			return err
		}
	}
	for _, o := range m.Overrides {
		if _, err := v.checkMethodRef(o); err != nil {
			return err
		}
	}

	if m.Body == nil {
		return nil
	}
	if err := v.checkTypes(m.Body.Locals...); err != nil {
		return err
	}
	for _, h := range m.Body.Handlers {
		if err := v.checkTypes(h.CatchType); err != nil {
			return err
		}
	}
	if size := v.module.LocalsSize(m.Body); size > v.settings.MethodLocalsSizeLimit {
		return v.violation(KindLocalsSize, "", owner.FullName(), m.Name,
			fmt.Sprintf("locals use %d bytes, limit is %d", size, v.settings.MethodLocalsSizeLimit))
	}
	depth, err := maxStackDepth(m, v.settings.MethodStackPushSizeLimit)
	if err != nil {
		return fmt.Errorf("%s: %w", m.FullName(), err)
	}
	if depth > v.settings.MethodStackPushSizeLimit {
		return v.violation(KindStackSize, "", owner.FullName(), m.Name,
			fmt.Sprintf("evaluation stack reaches %d, limit is %d", depth, v.settings.MethodStackPushSizeLimit))
	}
	if !v.settings.PointerOperationsPattern.MatchString(owner.FullName()) {
		for i, in := range m.Body.Instructions {
			if in.Op.IsPointerOp() {
				v.location = fmt.Sprintf("%s at IL_%04d", m.FullName(), i)
				return v.violation(KindPointerOperation, "", owner.FullName(), m.Name,
					in.Op.String()+" is not allowed")
			}
		}
	}
	return nil
}

// checkOperand filters the type, field or method an instruction names.
func (v *validator) checkOperand(in *bytecode.Instruction) (*policy.MemberRule, error) {
	switch in.Op.Operand() {
	case bytecode.OperandMethod:
		return v.checkMethodRef(in.Method)
	case bytecode.OperandField:
		return nil, v.checkFieldRef(in.Field)
	case bytecode.OperandType:
		return nil, v.checkTypes(in.Type)
	}
	return nil, nil
}
