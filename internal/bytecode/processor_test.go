package bytecode

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopBody is: 0 ldc 0; 1 stloc 0; 2 ldloc 0; 3 ldc 1; 4 add; 5 stloc 0; 6 br 2
func loopBody(t *testing.T) *Body {
	t.Helper()
	a := NewAssembler()
	a.Local(Int64)
	a.Int(0).Var(Stloc, 0)
	a.Label("loop").Var(Ldloc, 0).Int(1).Op(Add).Var(Stloc, 0)
	a.Branch(Br, "loop")
	b, err := a.Body()
	require.NoError(t, err)
	return b
}

func TestInsertBeforeKeepsTargets(t *testing.T) {
	b := loopBody(t)
	p := NewProcessor(b)

	require.NoError(t, p.InsertBefore(2, Op(Nop), Op(Nop)))

	assert.Equal(t, 9, p.Len())
	assert.Equal(t, Ldloc, p.At(4).Op)
	assert.Equal(t, 4, p.At(8).Target, "branch still reaches the original instruction")
}

func TestInsertBeforeRetargetMovesTargets(t *testing.T) {
	b := loopBody(t)
	p := NewProcessor(b)

	require.NoError(t, p.InsertBeforeRetarget(2, Op(Nop)))

	assert.Equal(t, 2, p.At(7).Target, "branch now reaches the inserted instruction")
	assert.Equal(t, Nop, p.At(2).Op)
}

func TestInsertBeforeRetargetSelfLoop(t *testing.T) {
	a := NewAssembler()
	a.Label("spin").Branch(Br, "spin")
	b := a.MustBody()
	p := NewProcessor(b)

	require.NoError(t, p.InsertBeforeRetarget(0, Op(Nop), Op(Nop)))

	require.Equal(t, 3, p.Len())
	assert.Equal(t, 0, p.At(2).Target)
}

func TestInsertHandlerBounds(t *testing.T) {
	a := NewAssembler()
	a.Label("try").Op(Nop).Op(Nop).Branch(Leave, "done")
	a.Label("catch").Op(Pop).Branch(Leave, "done")
	a.Label("done").Op(Ret)
	a.Try("try", "catch", "catch", "done", nil)
	b := a.MustBody()
	h := b.Handlers[0]
	require.Equal(t, [4]int{0, 3, 3, 5}, [4]int{h.TryStart, h.TryEnd, h.HandlerStart, h.HandlerEnd})

	p := NewProcessor(b)
	require.NoError(t, p.InsertBeforeRetarget(3, Op(Nop)))

	assert.Equal(t, 0, h.TryStart)
	assert.Equal(t, 3, h.TryEnd, "try end moves to the inserted instruction")
	assert.Equal(t, 4, h.HandlerStart, "handler start keeps the original")
	assert.Equal(t, 6, h.HandlerEnd)
	assert.Equal(t, 6, p.At(2).Target)

	require.NoError(t, p.InsertBefore(0, Op(Nop)))
	assert.Equal(t, 1, h.TryStart)
}

func TestInsertAfterJoinsPrecedingRegion(t *testing.T) {
	a := NewAssembler()
	a.Label("try").Op(Nop).Label("tryEnd").Op(Pop).Op(Ret).Label("end")
	a.Try("try", "tryEnd", "tryEnd", "end", nil)
	b := a.MustBody()
	p := NewProcessor(b)

	require.NoError(t, p.InsertAfter(0, Op(Dup), Op(Pop)))

	h := b.Handlers[0]
	assert.Equal(t, 3, h.TryEnd)
	assert.Equal(t, 3, h.HandlerStart)
}

func TestAddLocal(t *testing.T) {
	b := loopBody(t)
	p := NewProcessor(b)
	idx := p.AddLocal(String)
	assert.Equal(t, 1, idx)
	assert.Len(t, b.Locals, 2)
}

func TestValidateRejectsBadTargets(t *testing.T) {
	b := &Body{Instructions: []*Instruction{{Op: Br, Target: 5}}}
	err := ValidateBody(b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidBranchTarget))

	b = &Body{
		Instructions: []*Instruction{Op(Nop), Op(Ret)},
		Handlers:     []*ExceptionHandler{{TryStart: 1, TryEnd: 1, HandlerStart: 1, HandlerEnd: 2}},
	}
	assert.ErrorIs(t, ValidateBody(b), ErrInvalidHandlerRange)

	b = &Body{Instructions: []*Instruction{OpInt(Ldloc, 0), Op(Ret)}}
	assert.ErrorIs(t, ValidateBody(b), ErrInvalidLocal)
}

func TestInsertOutOfRange(t *testing.T) {
	p := NewProcessor(loopBody(t))
	assert.Error(t, p.InsertBefore(99, Op(Nop)))
}

func TestAssemblerUndefinedLabel(t *testing.T) {
	a := NewAssembler()
	a.Branch(Br, "nowhere")
	_, err := a.Body()
	assert.Error(t, err)
}

func TestSwitchRetarget(t *testing.T) {
	a := NewAssembler()
	a.Label("a").Op(Nop)
	a.Label("b").Int(0).Switch("a", "b", "c")
	a.Label("c").Op(Ret)
	b := a.MustBody()
	p := NewProcessor(b)

	require.NoError(t, p.InsertBeforeRetarget(1, Op(Nop)))

	assert.Equal(t, []int{0, 1, 4}, p.At(3).Targets)
}
