package rewrite

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ppiankov/sandguard/internal/bytecode"
	"github.com/ppiankov/sandguard/internal/policy"
	"github.com/ppiankov/sandguard/internal/runguard"
)

var (
	listOfLong = bytecode.Instantiate(bytecode.Named("System.Collections.Generic", "List`1"), bytecode.Int64)
	listCtor   = &bytecode.MethodRef{Declaring: listOfLong, Name: ".ctor", HasThis: true}
	listAdd    = &bytecode.MethodRef{
		Declaring: listOfLong, Name: "Add", HasThis: true,
		Params: []bytecode.Param{{Name: "item", Type: bytecode.TypeParam(0)}},
	}
)

// program wraps a body as Demo.Program::Main.
func program(body *bytecode.Body) *bytecode.Module {
	m := &bytecode.Module{
		Name: "demo",
		Types: []*bytecode.TypeDef{{
			Namespace: "Demo",
			Name:      "Program",
			Base:      bytecode.Object,
			Methods:   []*bytecode.MethodDef{{Name: "Main", Static: true, Body: body}},
		}},
	}
	m.Link()
	return m
}

func mainOf(m *bytecode.Module) *bytecode.MethodDef {
	return m.FindType("Demo.Program").Method("Main", 0)
}

func rewriteBody(t *testing.T, body *bytecode.Body) (*Result, *bytecode.Body) {
	t.Helper()
	m := program(body)
	res, err := RewriteModule(m, nil)
	require.NoError(t, err)
	out := mainOf(res.Module).Body
	require.NoError(t, bytecode.ValidateBody(out))
	return res, out
}

func violationOf(t *testing.T, err error) *PolicyViolation {
	t.Helper()
	var pv *PolicyViolation
	require.True(t, errors.As(err, &pv), "expected policy violation, got %v", err)
	return pv
}

func calls(b *bytecode.Body, name string) []int {
	var out []int
	for i, in := range b.Instructions {
		if in.Op == bytecode.Call && in.Method.Name == name && in.Method.Declaring.Equal(runguard.GuardType) {
			out = append(out, i)
		}
	}
	return out
}

func TestPrologueComesFirst(t *testing.T) {
	a := bytecode.NewAssembler()
	a.Int(1).Op(bytecode.Pop).Op(bytecode.Ret)

	_, b := rewriteBody(t, a.MustBody())

	require.Len(t, b.Instructions, 7)
	assert.Equal(t, bytecode.Ldsfld, b.Instructions[0].Op)
	assert.Equal(t, HolderField, b.Instructions[0].Field.Name)
	assert.Equal(t, bytecode.Dup, b.Instructions[1].Op)
	assert.Equal(t, bytecode.Stloc, b.Instructions[2].Op)
	assert.Equal(t, []int{3}, calls(b, runguard.MethodEnter))
	require.Len(t, b.Locals, 1)
	assert.True(t, b.Locals[0].Equal(runguard.GuardType))
}

func TestHolderIsAddedAndNotInstrumented(t *testing.T) {
	a := bytecode.NewAssembler()
	a.Op(bytecode.Ret)

	res, _ := rewriteBody(t, a.MustBody())

	holder := res.Module.FindType(HolderNamespace + "." + HolderName)
	require.NotNil(t, holder)
	f := holder.Field(HolderField)
	require.NotNil(t, f)
	assert.True(t, f.Static)

	cctor := holder.Method(".cctor", 0)
	require.NotNil(t, cctor)
	require.Len(t, cctor.Body.Instructions, 4)
	assert.Equal(t, bytecode.Ldstr, cctor.Body.Instructions[0].Op)
	assert.Equal(t, res.Token.String(), cctor.Body.Instructions[0].Str)
	assert.Empty(t, calls(cctor.Body, runguard.MethodEnter))
	// Stats count the input module only.
	assert.Equal(t, 1, res.Stats.Types)
}

func TestEmptyBodyIsLeftAlone(t *testing.T) {
	m := program(&bytecode.Body{})
	res, err := RewriteModule(m, nil)
	require.NoError(t, err)
	assert.Empty(t, mainOf(res.Module).Body.Instructions)
	assert.Zero(t, res.Stats.Bodies)
}

func TestBackwardBranchGetsOneJumpGuard(t *testing.T) {
	a := bytecode.NewAssembler()
	i := a.Local(bytecode.Int64)
	a.Int(0).Var(bytecode.Stloc, i)
	a.Label("loop").Var(bytecode.Ldloc, i).Int(1).Op(bytecode.Add).Var(bytecode.Stloc, i)
	a.Var(bytecode.Ldloc, i).Int(10).Op(bytecode.Clt).Branch(bytecode.Brtrue, "loop")
	a.Op(bytecode.Ret)

	res, b := rewriteBody(t, a.MustBody())

	jumps := calls(b, runguard.MethodJump)
	require.Len(t, jumps, 1)
	br := b.Instructions[jumps[0]+1]
	assert.Equal(t, bytecode.Brtrue, br.Op)
	assert.Equal(t, bytecode.Ldloc, b.Instructions[br.Target].Op, "loop head is the original instruction")
	assert.Equal(t, 6, br.Target)
	assert.Equal(t, 1, res.Stats.JumpGuards)
}

func TestForwardBranchIsNotGuarded(t *testing.T) {
	a := bytecode.NewAssembler()
	a.Int(1).Branch(bytecode.Brtrue, "end")
	a.Op(bytecode.Nop)
	a.Label("end").Op(bytecode.Ret)

	_, b := rewriteBody(t, a.MustBody())
	assert.Empty(t, calls(b, runguard.MethodJump))
}

func TestSelfLoopGuardIsInsideTheLoop(t *testing.T) {
	a := bytecode.NewAssembler()
	a.Label("spin").Branch(bytecode.Br, "spin")

	_, b := rewriteBody(t, a.MustBody())

	require.Len(t, b.Instructions, 7)
	assert.Equal(t, bytecode.Ldloc, b.Instructions[4].Op)
	assert.Equal(t, []int{5}, calls(b, runguard.MethodJump))
	assert.Equal(t, 4, b.Instructions[6].Target)
}

func TestLoopToMethodStartSkipsPrologue(t *testing.T) {
	a := bytecode.NewAssembler()
	a.Label("top").Op(bytecode.Nop).Branch(bytecode.Br, "top")

	_, b := rewriteBody(t, a.MustBody())

	last := b.Instructions[len(b.Instructions)-1]
	assert.Equal(t, 4, last.Target)
	assert.Equal(t, bytecode.Nop, b.Instructions[4].Op)
}

func TestSwitchBackwardIsGuarded(t *testing.T) {
	a := bytecode.NewAssembler()
	a.Label("top").Int(0).Switch("top", "end")
	a.Label("end").Op(bytecode.Ret)

	_, b := rewriteBody(t, a.MustBody())
	assert.Len(t, calls(b, runguard.MethodJump), 1)
}

func TestNewarrIsGuarded(t *testing.T) {
	a := bytecode.NewAssembler()
	a.Int(3).NewArr(bytecode.Int64).Op(bytecode.Pop).Op(bytecode.Ret)

	res, b := rewriteBody(t, a.MustBody())

	guards := calls(b, runguard.MethodNewArrayFlowThrough)
	require.Len(t, guards, 1)
	g := b.Instructions[guards[0]]
	require.Len(t, g.Method.GenericArgs, 1)
	assert.True(t, g.Method.GenericArgs[0].Equal(bytecode.Int64))
	assert.Equal(t, bytecode.Newarr, b.Instructions[guards[0]+1].Op)
	assert.Equal(t, bytecode.Ldloc, b.Instructions[guards[0]-1].Op)
	assert.Equal(t, 1, res.Stats.ArrayGuards)
}

func TestGrowthCallIsGuarded(t *testing.T) {
	a := bytecode.NewAssembler()
	l := a.Local(listOfLong)
	a.New(listCtor).Var(bytecode.Stloc, l)
	a.Var(bytecode.Ldloc, l).Int(7).Call(listAdd)
	a.Op(bytecode.Ret)

	res, b := rewriteBody(t, a.MustBody())

	growth := calls(b, runguard.MethodGrowth)
	require.Len(t, growth, 1)
	next := b.Instructions[growth[0]+1]
	assert.Equal(t, "Add", next.Method.Name)
	assert.Equal(t, 1, res.Stats.CallRewrites)
}

func TestBranchToGuardedCallReachesGuard(t *testing.T) {
	a := bytecode.NewAssembler()
	l := a.Local(listOfLong)
	a.New(listCtor).Var(bytecode.Stloc, l)
	a.Var(bytecode.Ldloc, l).Int(7)
	a.Branch(bytecode.Br, "add")
	a.Label("add").Call(listAdd)
	a.Op(bytecode.Ret)

	_, b := rewriteBody(t, a.MustBody())

	growth := calls(b, runguard.MethodGrowth)
	require.Len(t, growth, 1)
	for _, in := range b.Instructions {
		if in.Op == bytecode.Br {
			assert.Equal(t, growth[0]-1, in.Target)
		}
	}
}

func TestCapacityArgumentGuardedInPlace(t *testing.T) {
	ctor := &bytecode.MethodRef{
		Declaring: listOfLong, Name: ".ctor", HasThis: true,
		Params: []bytecode.Param{{Name: "capacity", Type: bytecode.Int32}},
	}
	a := bytecode.NewAssembler()
	a.Int(16).New(ctor).Op(bytecode.Pop).Op(bytecode.Ret)

	_, b := rewriteBody(t, a.MustBody())

	counts := calls(b, runguard.MethodCountFlowThrough)
	require.Len(t, counts, 1)
	assert.Equal(t, bytecode.Newobj, b.Instructions[counts[0]+1].Op)
	assert.Equal(t, bytecode.LdcI8, b.Instructions[counts[0]-2].Op)
	assert.Len(t, b.Locals, 1, "no spill locals")
}

func TestCapacityArgumentNotLastIsSpilled(t *testing.T) {
	sb := bytecode.Named("System.Text", "StringBuilder")
	ctor := &bytecode.MethodRef{
		Declaring: sb, Name: ".ctor", HasThis: true,
		Params: []bytecode.Param{
			{Name: "capacity", Type: bytecode.Int32},
			{Name: "maxCapacity", Type: bytecode.Int32},
		},
	}
	a := bytecode.NewAssembler()
	a.Int(16).Int(64).New(ctor).Op(bytecode.Pop).Op(bytecode.Ret)

	_, b := rewriteBody(t, a.MustBody())

	require.Len(t, b.Locals, 3)
	ops := make([]bytecode.Opcode, 0, len(b.Instructions))
	for _, in := range b.Instructions[6:] {
		ops = append(ops, in.Op)
	}
	assert.Equal(t, []bytecode.Opcode{
		bytecode.Stloc, bytecode.Stloc,
		bytecode.Ldloc, bytecode.Ldloc, bytecode.Call,
		bytecode.Ldloc,
		bytecode.Newobj, bytecode.Pop, bytecode.Ret,
	}, ops)
	assert.Equal(t, int64(2), b.Instructions[6].Int, "last argument spilled first")
	assert.Equal(t, int64(1), b.Instructions[7].Int)
	assert.Equal(t, int64(1), b.Instructions[8].Int)
	assert.Equal(t, int64(2), b.Instructions[11].Int)
}

func TestCollectedEnumerableIsWrapped(t *testing.T) {
	seq := bytecode.Instantiate(bytecode.Named("System.Collections.Generic", "IEnumerable`1"), bytecode.MethodTypeParam(0))
	toList := &bytecode.MethodRef{
		Declaring:   bytecode.Named("System.Linq", "Enumerable"),
		Name:        "ToList",
		Params:      []bytecode.Param{{Name: "source", Type: seq}},
		Return:      bytecode.Instantiate(bytecode.Named("System.Collections.Generic", "List`1"), bytecode.MethodTypeParam(0)),
		GenericArgs: []*bytecode.TypeRef{bytecode.Int64},
	}
	a := bytecode.NewAssembler()
	l := a.Local(listOfLong)
	a.New(listCtor).Var(bytecode.Stloc, l)
	a.Var(bytecode.Ldloc, l).Call(toList).Op(bytecode.Pop).Op(bytecode.Ret)

	_, b := rewriteBody(t, a.MustBody())

	wraps := calls(b, runguard.MethodCollectedEnumerable)
	require.Len(t, wraps, 1)
	assert.True(t, b.Instructions[wraps[0]].Method.GenericArgs[0].Equal(bytecode.Int64))
	assert.Equal(t, "ToList", b.Instructions[wraps[0]+1].Method.Name)
}

func TestDisposableIsTrackedAfterConstruction(t *testing.T) {
	writer := bytecode.Named("System.IO", "StringWriter")
	a := bytecode.NewAssembler()
	a.New(&bytecode.MethodRef{Declaring: writer, Name: ".ctor", HasThis: true}).Op(bytecode.Pop).Op(bytecode.Ret)

	_, b := rewriteBody(t, a.MustBody())

	tracked := calls(b, runguard.MethodDisposableFlowThrough)
	require.Len(t, tracked, 1)
	assert.Equal(t, bytecode.Newobj, b.Instructions[tracked[0]-2].Op)
	assert.Equal(t, bytecode.Pop, b.Instructions[tracked[0]+1].Op)
}

func TestDeniedNamespaceBeatsMemberAllow(t *testing.T) {
	p := policy.Default()
	p.Namespace("Evil", policy.Denied).Type("Tool", policy.Allowed).Member("Run")

	a := bytecode.NewAssembler()
	a.Call(&bytecode.MethodRef{Declaring: bytecode.Named("Evil", "Tool"), Name: "Run"}).Op(bytecode.Ret)

	_, err := RewriteModule(program(a.MustBody()), &Settings{Policy: p})
	pv := violationOf(t, err)
	assert.Equal(t, KindDeniedNamespace, pv.Kind)
	assert.Equal(t, "Evil.Tool::Run", pv.Subject())
	assert.Contains(t, pv.Location, "Demo.Program::Main")
}

func TestDeniedMemberOnNeutralType(t *testing.T) {
	a := bytecode.NewAssembler()
	a.Op(bytecode.Ldnull).Call(&bytecode.MethodRef{Declaring: listOfLong, Name: "Sort", HasThis: true}).Op(bytecode.Ret)

	_, err := RewriteModule(program(a.MustBody()), nil)
	assert.Equal(t, KindDeniedMember, violationOf(t, err).Kind)
}

func TestDeniedGenericArgument(t *testing.T) {
	socket := bytecode.Named("System.Net.Sockets", "Socket")
	list := bytecode.Instantiate(bytecode.Named("System.Collections.Generic", "List`1"), socket)
	a := bytecode.NewAssembler()
	a.New(&bytecode.MethodRef{Declaring: list, Name: ".ctor", HasThis: true}).Op(bytecode.Pop).Op(bytecode.Ret)

	_, err := RewriteModule(program(a.MustBody()), nil)
	pv := violationOf(t, err)
	assert.Equal(t, KindDeniedNamespace, pv.Kind)
	assert.Equal(t, "System.Net.Sockets", pv.Namespace)
}

func TestDenylistWinsOverPolicy(t *testing.T) {
	p := policy.Default()
	p.Namespace("System.Reflection", policy.Allowed)

	a := bytecode.NewAssembler()
	a.Call(&bytecode.MethodRef{Declaring: bytecode.Named("System.Reflection", "Assembly"), Name: "Load"}).Op(bytecode.Ret)

	_, err := RewriteModule(program(a.MustBody()), &Settings{Policy: p})
	assert.Equal(t, KindDenylisted, violationOf(t, err).Kind)
}

func TestSpoofedInternalFlagIsIgnored(t *testing.T) {
	fake := bytecode.Named("System.Reflection", "Emitter")
	fake.Internal = true

	a := bytecode.NewAssembler()
	a.Call(&bytecode.MethodRef{Declaring: fake, Name: "Emit"}).Op(bytecode.Ret)

	_, err := RewriteModule(program(a.MustBody()), nil)
	assert.Error(t, err)
}

func TestInternalCallsPass(t *testing.T) {
	helper := &bytecode.MethodDef{Name: "Helper", Static: true, Body: bytecode.NewAssembler().Op(bytecode.Ret).MustBody()}
	m := program(nil)
	prog := m.Types[0]
	prog.Methods = append(prog.Methods, helper)
	m.Link()

	a := bytecode.NewAssembler()
	a.Call(helper.Ref()).Op(bytecode.Ret)
	mainOf(m).Body = a.MustBody()

	res, err := RewriteModule(m, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stats.Bodies)
}

func TestReservedNamespaceRejected(t *testing.T) {
	m := &bytecode.Module{Name: "evil", Types: []*bytecode.TypeDef{{Namespace: "System.Evil", Name: "Type", Base: bytecode.Object}}}
	m.Link()

	_, err := RewriteModule(m, nil)
	assert.Equal(t, KindSystemNamespace, violationOf(t, err).Kind)
}

func TestExplicitLayout(t *testing.T) {
	bad := &bytecode.Module{Name: "m", Types: []*bytecode.TypeDef{{Namespace: "Demo", Name: "Union", ValueType: true, Layout: bytecode.LayoutExplicit}}}
	bad.Link()
	_, err := RewriteModule(bad, nil)
	assert.Equal(t, KindExplicitLayout, violationOf(t, err).Kind)

	ok := &bytecode.Module{Name: "m", Types: []*bytecode.TypeDef{{Name: "<PrivateImplementationDetails>", ValueType: true, Layout: bytecode.LayoutExplicit}}}
	ok.Link()
	_, err = RewriteModule(ok, nil)
	assert.NoError(t, err)
}

func TestFinalizerRejected(t *testing.T) {
	m := program(bytecode.NewAssembler().Op(bytecode.Ret).MustBody())
	m.Types[0].Methods = append(m.Types[0].Methods, &bytecode.MethodDef{
		Name:    "Finalize",
		Virtual: true,
		Body:    bytecode.NewAssembler().Op(bytecode.Ret).MustBody(),
	})
	m.Link()

	_, err := RewriteModule(m, nil)
	assert.Equal(t, KindFinalizer, violationOf(t, err).Kind)
}

func TestNonVirtualFinalizeIsAllowed(t *testing.T) {
	m := program(bytecode.NewAssembler().Op(bytecode.Ret).MustBody())
	m.Types[0].Methods = append(m.Types[0].Methods, &bytecode.MethodDef{
		Name:   "Finalize",
		Static: true,
		Body:   bytecode.NewAssembler().Op(bytecode.Ret).MustBody(),
	})
	m.Link()

	_, err := RewriteModule(m, nil)
	assert.NoError(t, err)
}

func TestNativeMethodRejected(t *testing.T) {
	m := program(bytecode.NewAssembler().Op(bytecode.Ret).MustBody())
	m.Types[0].Methods = append(m.Types[0].Methods, &bytecode.MethodDef{Name: "Peek", Static: true, Native: true})
	m.Link()

	_, err := RewriteModule(m, nil)
	assert.Equal(t, KindNativeMethod, violationOf(t, err).Kind)
}

func TestLocalsSizeLimit(t *testing.T) {
	a := bytecode.NewAssembler()
	for range 40 {
		a.Local(bytecode.Int64)
	}
	a.Op(bytecode.Ret)

	_, err := RewriteModule(program(a.MustBody()), nil)
	assert.Equal(t, KindLocalsSize, violationOf(t, err).Kind)

	_, err = RewriteModule(program(a.MustBody()), &Settings{MethodLocalsSizeLimit: 1024})
	assert.NoError(t, err)
}

func TestStackSizeLimit(t *testing.T) {
	a := bytecode.NewAssembler()
	for range 65 {
		a.Int(1)
	}
	for range 65 {
		a.Op(bytecode.Pop)
	}
	a.Op(bytecode.Ret)

	_, err := RewriteModule(program(a.MustBody()), nil)
	assert.Equal(t, KindStackSize, violationOf(t, err).Kind)
}

func TestStackUnderflowIsInvalid(t *testing.T) {
	a := bytecode.NewAssembler()
	a.Op(bytecode.Pop).Op(bytecode.Ret)

	_, err := RewriteModule(program(a.MustBody()), nil)
	assert.ErrorIs(t, err, ErrInvalidBody)
}

func TestPointerOperations(t *testing.T) {
	a := bytecode.NewAssembler()
	a.Int(8).Op(bytecode.Localloc).Op(bytecode.Pop).Op(bytecode.Ret)

	_, err := RewriteModule(program(a.MustBody()), nil)
	assert.Equal(t, KindPointerOperation, violationOf(t, err).Kind)

	anon := &bytecode.Module{Name: "m", Types: []*bytecode.TypeDef{{
		Name:    "<>f__AnonymousType0",
		Base:    bytecode.Object,
		Methods: []*bytecode.MethodDef{{Name: "M", Static: true, Body: a.MustBody()}},
	}}}
	anon.Link()
	_, err = RewriteModule(anon, nil)
	assert.NoError(t, err)
}

func TestHolderCollisionRejected(t *testing.T) {
	m := &bytecode.Module{Name: "m", Types: []*bytecode.TypeDef{{Namespace: HolderNamespace, Name: HolderName}}}
	m.Link()
	_, err := RewriteModule(m, nil)
	assert.ErrorIs(t, err, ErrHolderExists)
}

func TestCheckRejectsLikeRewrite(t *testing.T) {
	a := bytecode.NewAssembler()
	a.Int(8).Op(bytecode.Localloc).Op(bytecode.Pop).Op(bytecode.Ret)
	src, err := bytecode.Marshal(program(a.MustBody()))
	require.NoError(t, err)

	err = Check(bytes.NewReader(src), nil)
	assert.Equal(t, KindPointerOperation, violationOf(t, err).Kind)
}

func TestCheckLeavesModuleUntouched(t *testing.T) {
	a := bytecode.NewAssembler()
	a.Label("spin").Branch(bytecode.Br, "spin")
	m := program(a.MustBody())

	require.NoError(t, CheckModule(m, nil))
	assert.Len(t, mainOf(m).Body.Instructions, 1)
	assert.Len(t, m.Types, 1)
}

func TestRewriteStreams(t *testing.T) {
	a := bytecode.NewAssembler()
	a.Label("spin").Branch(bytecode.Br, "spin")
	src, err := bytecode.Marshal(program(a.MustBody()))
	require.NoError(t, err)

	var dst bytes.Buffer
	token, err := Rewrite(bytes.NewReader(src), &dst, nil)
	require.NoError(t, err)
	assert.False(t, token.IsZero())

	out, err := bytecode.Unmarshal(dst.Bytes())
	require.NoError(t, err)
	require.NotNil(t, out.FindType(HolderNamespace+"."+HolderName))
	assert.Len(t, calls(mainOf(out).Body, runguard.MethodJump), 1)
}

func TestRewriteWritesNothingOnViolation(t *testing.T) {
	a := bytecode.NewAssembler()
	a.Call(&bytecode.MethodRef{Declaring: bytecode.Named("System", "GC"), Name: "Collect"}).Op(bytecode.Ret)
	src, err := bytecode.Marshal(program(a.MustBody()))
	require.NoError(t, err)

	var dst bytes.Buffer
	_, err = Rewrite(bytes.NewReader(src), &dst, nil)
	require.Error(t, err)
	assert.Zero(t, dst.Len())
}

func TestRewriteRejectsSameStream(t *testing.T) {
	var buf bytes.Buffer
	_, err := Rewrite(&buf, &buf, nil)
	assert.ErrorIs(t, err, ErrSameStream)
}

func TestRewriteLogsRejection(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	a := bytecode.NewAssembler()
	a.Call(&bytecode.MethodRef{Declaring: bytecode.Named("System", "GC"), Name: "Collect"}).Op(bytecode.Ret)

	_, err := RewriteModule(program(a.MustBody()), &Settings{Logger: zap.New(core)})
	require.Error(t, err)

	entries := logs.FilterMessage("module rejected").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "denylisted", entries[0].ContextMap()["kind"])
	assert.Equal(t, "System.GC::Collect", entries[0].ContextMap()["subject"])
}

func TestDeniedAttributesRejectModule(t *testing.T) {
	socketAttr := bytecode.Named("System.Net.Sockets", "SocketAttribute")
	tests := []struct {
		name     string
		attach   func(m *bytecode.Module)
		location string
	}{
		{"module", func(m *bytecode.Module) { m.Attributes = []*bytecode.TypeRef{socketAttr} }, "demo"},
		{"type", func(m *bytecode.Module) { m.Types[0].Attributes = []*bytecode.TypeRef{socketAttr} }, "Demo.Program"},
		{"field", func(m *bytecode.Module) {
			m.Types[0].Fields = []*bytecode.FieldDef{{Name: "state", Type: bytecode.Int64, Attributes: []*bytecode.TypeRef{socketAttr}}}
		}, "Demo.Program::state"},
		{"method", func(m *bytecode.Module) { mainOf(m).Attributes = []*bytecode.TypeRef{socketAttr} }, "Demo.Program::Main"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			build := func() *bytecode.Module {
				m := program(bytecode.NewAssembler().Op(bytecode.Ret).MustBody())
				tt.attach(m)
				m.Link()
				return m
			}

			err := CheckModule(build(), nil)
			pv := violationOf(t, err)
			assert.Equal(t, KindDeniedNamespace, pv.Kind)
			assert.Equal(t, "System.Net.Sockets.SocketAttribute", pv.Subject())
			assert.Contains(t, pv.Location, tt.location)

			_, err = RewriteModule(build(), nil)
			assert.Equal(t, KindDeniedNamespace, violationOf(t, err).Kind)
		})
	}
}

func TestAllowedAttributesPass(t *testing.T) {
	m := program(bytecode.NewAssembler().Op(bytecode.Ret).MustBody())
	m.Attributes = []*bytecode.TypeRef{bytecode.Named("System.Runtime.CompilerServices", "CompilationRelaxationsAttribute")}
	m.Link()

	_, err := RewriteModule(m, nil)
	assert.NoError(t, err)
}

func TestDottedTypeNameCannotClaimReservedNamespace(t *testing.T) {
	tests := []struct {
		name      string
		namespace string
		typeName  string
		reserved  bool
	}{
		{"namespace", "System", "Console", true},
		{"empty namespace", "", "System.Console", true},
		{"nested dots", "Sandguard", "Runtime.Guard", true},
		{"plain", "", "Program", false},
		{"dotted user name", "Demo", "Util.Strings", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &bytecode.Module{Name: "m", Types: []*bytecode.TypeDef{{Namespace: tt.namespace, Name: tt.typeName, Base: bytecode.Object}}}
			m.Link()

			err := CheckModule(m, nil)
			if !tt.reserved {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, KindSystemNamespace, violationOf(t, err).Kind)
		})
	}
}

func TestNestedTypesCheckedBeforeMethods(t *testing.T) {
	a := bytecode.NewAssembler()
	a.Call(&bytecode.MethodRef{Declaring: bytecode.Named("System", "GC"), Name: "Collect"}).Op(bytecode.Ret)
	m := program(a.MustBody())
	m.Types[0].Nested = []*bytecode.TypeDef{{
		Name:       "Inner",
		Base:       bytecode.Object,
		Attributes: []*bytecode.TypeRef{bytecode.Named("System.Net.Sockets", "SocketAttribute")},
	}}
	m.Link()

	for _, err := range []error{CheckModule(m, nil), func() error { _, err := RewriteModule(m, nil); return err }()} {
		pv := violationOf(t, err)
		assert.Equal(t, KindDeniedNamespace, pv.Kind)
		assert.Equal(t, "Demo.Program/Inner", pv.Location)
	}
}

func TestCapacityRewriterParameterNames(t *testing.T) {
	p := policy.Default()
	p.Namespace("Demo.Lib", policy.Neutral).Type("Buffer", policy.Neutral).Member("Take", policy.RewriteCapacity)

	tests := []struct {
		name    string
		params  []string
		charged int
	}{
		{"count", []string{"count"}, 1},
		{"capacity", []string{"capacity"}, 1},
		{"case sensitive", []string{"Count"}, 0},
		{"index excludes member", []string{"index", "count"}, 0},
		{"suffix index excludes member", []string{"startIndex", "capacity"}, 0},
		{"bare Index does not exclude", []string{"Index", "count"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := &bytecode.MethodRef{Declaring: bytecode.Named("Demo.Lib", "Buffer"), Name: "Take"}
			a := bytecode.NewAssembler()
			for _, n := range tt.params {
				ref.Params = append(ref.Params, bytecode.Param{Name: n, Type: bytecode.Int32})
				a.Int(4)
			}
			a.Call(ref).Op(bytecode.Ret)

			m := program(a.MustBody())
			res, err := RewriteModule(m, &Settings{Policy: p})
			require.NoError(t, err)
			b := mainOf(res.Module).Body
			require.NoError(t, bytecode.ValidateBody(b))
			assert.Len(t, calls(b, runguard.MethodCountFlowThrough), tt.charged)
		})
	}
}
