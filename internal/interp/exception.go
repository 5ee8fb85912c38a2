package interp

import (
	"errors"
	"fmt"

	"github.com/ppiankov/sandguard/internal/bytecode"
	"github.com/ppiankov/sandguard/internal/runguard"
)

// Host exception type names.
const (
	ExceptionType          = "System.Exception"
	InvalidOperationType   = "System.InvalidOperationException"
	ArgumentType           = "System.ArgumentException"
	IndexOutOfRangeType    = "System.IndexOutOfRangeException"
	NullReferenceType      = "System.NullReferenceException"
	DivideByZeroType       = "System.DivideByZeroException"
	OverflowType           = "System.OverflowException"
	GuardExceptionFullName = runguard.Namespace + "." + runguard.ExceptionName
)

// messageField holds the message of module-defined exceptions.
const messageField = "<message>"

// Exception is an exception raised inside the interpreter. Guarded code can
// catch it; when it escapes an invocation it is returned as the error.
type Exception struct {
	Type    string
	Message string
	// Value is the thrown object when the exception type is module-defined.
	Value *Object
	Cause error
}

func newException(typ, format string, args ...any) *Exception {
	return &Exception{Type: typ, Message: fmt.Sprintf(format, args...)}
}

func (e *Exception) Error() string {
	if e.Message == "" {
		return e.Type
	}
	return e.Type + ": " + e.Message
}

func (e *Exception) Unwrap() error { return e.Cause }

// guardException converts a budget violation into the exception guarded
// code sees.
func guardException(v *runguard.Violation) *Exception {
	return &Exception{Type: GuardExceptionFullName, Message: v.Error(), Cause: v}
}

// asException reports whether err can be caught by guarded code. Violations
// become guard exceptions; anything else stays fatal.
func asException(err error) (*Exception, bool) {
	var exc *Exception
	if errors.As(err, &exc) {
		return exc, true
	}
	var v *runguard.Violation
	if errors.As(err, &v) {
		return guardException(v), true
	}
	return nil, false
}

// thrown converts a value popped by throw into an exception.
func (m *Machine) thrown(v any) *Exception {
	switch x := v.(type) {
	case *Exception:
		return x
	case *Object:
		msg, _ := x.Fields[messageField].(string)
		return &Exception{Type: x.Type.FullName(), Message: msg, Value: x}
	case nil:
		return newException(NullReferenceType, "throw of null")
	}
	return newException(InvalidOperationType, "throw of non-exception value %s", format(v))
}

// catches reports whether a handler for catchType handles exc.
func (m *Machine) catches(catchType *bytecode.TypeRef, exc *Exception) bool {
	if catchType == nil {
		return true
	}
	want := catchType.FullName()
	if want == ExceptionType || want == exc.Type {
		return true
	}
	if exc.Value == nil {
		return false
	}
	for _, base := range m.bases(exc.Value.Type) {
		if base == want {
			return true
		}
	}
	return false
}

// maxBaseDepth bounds base chains, which a malformed module could make cyclic.
const maxBaseDepth = 64

// bases lists the full names of t's base types, nearest first.
func (m *Machine) bases(t *bytecode.TypeDef) []string {
	var out []string
	for def := t; def != nil && def.Base != nil && len(out) < maxBaseDepth; {
		out = append(out, def.Base.FullName())
		def = m.internalType(def.Base)
	}
	return out
}
