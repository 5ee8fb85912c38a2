package policy

// TypeKind tells the filter what kind of type a reference names.
type TypeKind int

const (
	TypeExternal TypeKind = iota
	TypeArray
	TypeDelegate
)

// ResultKind is the outcome of a filter check.
type ResultKind int

const (
	ResultAllowed ResultKind = iota
	ResultDeniedNamespace
	ResultDeniedType
	ResultDeniedMember
)

func (k ResultKind) String() string {
	switch k {
	case ResultAllowed:
		return "allowed"
	case ResultDeniedNamespace:
		return "denied_namespace"
	case ResultDeniedType:
		return "denied_type"
	case ResultDeniedMember:
		return "denied_member"
	default:
		return "unknown"
	}
}

// Result is the filter verdict, with the matched member rule when the
// member was listed.
type Result struct {
	Kind   ResultKind
	Member *MemberRule
}

// Allowed reports whether the reference passed.
func (r Result) Allowed() bool { return r.Kind == ResultAllowed }

// Filter checks a reference. An empty member checks the type alone.
//
// Evaluation order (must not be changed):
//  1. Arrays and module-defined delegates pass; the caller checks the element.
//  2. Namespace: missing or denied denies everything beneath it.
//  3. Type: missing passes only under an allowed namespace; denied denies.
//  4. Member: listed passes unless denied; missing passes only under an
//     allowed type.
func (p *ApiPolicy) Filter(namespace, typeName string, kind TypeKind, member string) Result {
	if kind == TypeArray || kind == TypeDelegate {
		return Result{Kind: ResultAllowed}
	}
	if p == nil {
		return Result{Kind: ResultDeniedNamespace}
	}

	ns, ok := p.Namespaces[namespace]
	if !ok || ns == nil || ns.Access.level() == Denied {
		return Result{Kind: ResultDeniedNamespace}
	}

	typ, ok := ns.Types[typeName]
	if !ok || typ == nil {
		if ns.Access.level() == Allowed {
			return Result{Kind: ResultAllowed}
		}
		return Result{Kind: ResultDeniedType}
	}
	if typ.Access.level() == Denied {
		return Result{Kind: ResultDeniedType}
	}

	if member == "" {
		return Result{Kind: ResultAllowed}
	}

	rule, ok := typ.Members[member]
	if ok && rule != nil {
		if rule.Access.memberLevel() == Denied {
			return Result{Kind: ResultDeniedMember}
		}
		return Result{Kind: ResultAllowed, Member: rule}
	}
	if typ.Access.level() == Allowed {
		return Result{Kind: ResultAllowed}
	}
	return Result{Kind: ResultDeniedMember}
}
