package runguard

import "github.com/ppiankov/sandguard/internal/bytecode"

// Names of the guard API that instrumented code calls.
const (
	Namespace     = "Sandguard.Runtime"
	GuardName     = "RuntimeGuard"
	InstancesName = "RuntimeGuardInstances"

	MethodEnter                 = "GuardEnter"
	MethodJump                  = "GuardJump"
	MethodNewArrayFlowThrough   = "GuardNewArrayFlowThrough"
	MethodCountFlowThrough      = "GuardCountFlowThrough"
	MethodGrowth                = "GuardGrowth"
	MethodDisposableFlowThrough = "GuardDisposableFlowThrough"
	MethodIteratedEnumerable    = "GuardIteratedEnumerable"
	MethodCollectedEnumerable   = "GuardCollectedEnumerable"
	MethodGet                   = "Get"

	// ExceptionName is the type of the exception guarded code sees when a
	// budget is exceeded.
	ExceptionName = "GuardException"
)

// GuardType is the type of guard slots in instrumented code.
var GuardType = bytecode.Named(Namespace, GuardName)

var (
	disposableType = bytecode.Named("System", "IDisposable")
	enumerableType = bytecode.Named("System.Collections.Generic", "IEnumerable`1")
)

func guardParam() bytecode.Param { return bytecode.Param{Name: "guard", Type: GuardType} }

func static(name string, ret *bytecode.TypeRef, params ...bytecode.Param) *bytecode.MethodRef {
	return &bytecode.MethodRef{Declaring: GuardType, Name: name, Params: params, Return: ret}
}

// EnterRef is GuardEnter(guard).
func EnterRef() *bytecode.MethodRef { return static(MethodEnter, nil, guardParam()) }

// JumpRef is GuardJump(guard).
func JumpRef() *bytecode.MethodRef { return static(MethodJump, nil, guardParam()) }

// GrowthRef is GuardGrowth(guard).
func GrowthRef() *bytecode.MethodRef { return static(MethodGrowth, nil, guardParam()) }

// NewArrayRef is GuardNewArrayFlowThrough<elem>(count, guard) -> count.
func NewArrayRef(elem *bytecode.TypeRef) *bytecode.MethodRef {
	m := static(MethodNewArrayFlowThrough, bytecode.Int64,
		bytecode.Param{Name: "count", Type: bytecode.Int64}, guardParam())
	m.GenericArgs = []*bytecode.TypeRef{elem}
	return m
}

// CountRef is GuardCountFlowThrough(count, guard) -> count.
func CountRef() *bytecode.MethodRef {
	return static(MethodCountFlowThrough, bytecode.Int64,
		bytecode.Param{Name: "count", Type: bytecode.Int64}, guardParam())
}

// DisposableRef is GuardDisposableFlowThrough(handle, guard) -> handle.
func DisposableRef() *bytecode.MethodRef {
	return static(MethodDisposableFlowThrough, disposableType,
		bytecode.Param{Name: "handle", Type: disposableType}, guardParam())
}

// IteratedRef is GuardIteratedEnumerable<elem>(seq, guard) -> seq.
func IteratedRef(elem *bytecode.TypeRef) *bytecode.MethodRef {
	return enumerableRef(MethodIteratedEnumerable, elem)
}

// CollectedRef is GuardCollectedEnumerable<elem>(seq, guard) -> seq.
func CollectedRef(elem *bytecode.TypeRef) *bytecode.MethodRef {
	return enumerableRef(MethodCollectedEnumerable, elem)
}

func enumerableRef(name string, elem *bytecode.TypeRef) *bytecode.MethodRef {
	seq := bytecode.Instantiate(enumerableType, bytecode.MethodTypeParam(0))
	m := static(name, seq, bytecode.Param{Name: "enumerable", Type: seq}, guardParam())
	m.GenericArgs = []*bytecode.TypeRef{elem}
	return m
}

// InstancesGetRef is RuntimeGuardInstances::Get(id) -> guard slot.
func InstancesGetRef() *bytecode.MethodRef {
	return &bytecode.MethodRef{
		Declaring: bytecode.Named(Namespace, InstancesName),
		Name:      MethodGet,
		Params:    []bytecode.Param{{Name: "id", Type: bytecode.String}},
		Return:    GuardType,
	}
}
