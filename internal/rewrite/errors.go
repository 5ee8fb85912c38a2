package rewrite

import (
	"errors"
	"fmt"
	"strings"
)

// ViolationKind classifies why a module was rejected.
type ViolationKind string

const (
	KindDeniedNamespace  ViolationKind = "denied_namespace"
	KindDeniedType       ViolationKind = "denied_type"
	KindDeniedMember     ViolationKind = "denied_member"
	KindDenylisted       ViolationKind = "denylisted"
	KindSystemNamespace  ViolationKind = "system_namespace"
	KindExplicitLayout   ViolationKind = "explicit_layout"
	KindNativeMethod     ViolationKind = "native_method"
	KindFinalizer        ViolationKind = "finalizer"
	KindLocalsSize       ViolationKind = "locals_size"
	KindStackSize        ViolationKind = "stack_size"
	KindPointerOperation ViolationKind = "pointer_operation"
)

var (
	ErrSameStream  = errors.New("source and destination must differ")
	ErrInvalidBody = errors.New("invalid method body")
)

// PolicyViolation rejects a module. Rewriting stops at the first one.
type PolicyViolation struct {
	Kind      ViolationKind
	Namespace string
	Type      string
	Member    string
	Location  string
	Reason    string
}

// Subject renders the offending reference as Namespace.Type::Member.
func (e *PolicyViolation) Subject() string {
	s := e.Type
	if e.Namespace != "" {
		s = e.Namespace + "." + s
	}
	if e.Member != "" {
		s += "::" + e.Member
	}
	return s
}

func (e *PolicyViolation) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	if subject := e.Subject(); subject != "" {
		sb.WriteString(": ")
		sb.WriteString(subject)
	}
	if e.Reason != "" {
		fmt.Fprintf(&sb, " (%s)", e.Reason)
	}
	if e.Location != "" {
		sb.WriteString(" in ")
		sb.WriteString(e.Location)
	}
	return sb.String()
}
