package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrencc/wrencc/internal/ir"
)

func TestResolveLocalInSameFunction(t *testing.T) {
	mod := &ir.Module{}
	fn := &ir.Fn{Name: "f"}
	r := NewResolver(mod)
	f, err := r.PushFn(fn)
	require.NoError(t, err)
	x := &ir.Local{Name: "x", Slot: 0}
	require.NoError(t, f.Declare(x))

	got := r.Resolve("x", 1)
	assert.Same(t, x, got)
}

func TestResolveCapturesLocalAsUpvalueOneLevelOut(t *testing.T) {
	mod := &ir.Module{}
	outer := &ir.Fn{Name: "outer"}
	inner := &ir.Fn{Name: "inner"}

	r := NewResolver(mod)
	of, err := r.PushFn(outer)
	require.NoError(t, err)
	x := &ir.Local{Name: "x", Slot: 0}
	require.NoError(t, of.Declare(x))

	_, err = r.PushFn(inner)
	require.NoError(t, err)
	got := r.Resolve("x", 5)

	up, ok := got.(*ir.Upvalue)
	require.True(t, ok)
	assert.Same(t, x, up.Parent)
	assert.True(t, x.BeginUpvalues)
	assert.Len(t, x.Upvalues, 1)
	assert.Len(t, inner.Upvalues, 1)
	assert.Same(t, up, inner.Upvalues[0])
}

func TestResolveChainsUpvalueThroughTwoLevels(t *testing.T) {
	mod := &ir.Module{}
	fn0 := &ir.Fn{Name: "f0"}
	fn1 := &ir.Fn{Name: "f1"}
	fn2 := &ir.Fn{Name: "f2"}

	r := NewResolver(mod)
	f0, err := r.PushFn(fn0)
	require.NoError(t, err)
	x := &ir.Local{Name: "x"}
	require.NoError(t, f0.Declare(x))
	_, err = r.PushFn(fn1)
	require.NoError(t, err)
	_, err = r.PushFn(fn2)
	require.NoError(t, err)

	got := r.Resolve("x", 10)

	up2, ok := got.(*ir.Upvalue)
	require.True(t, ok)
	require.Len(t, fn2.Upvalues, 1)
	assert.Same(t, up2, fn2.Upvalues[0])

	up1, ok := up2.Parent.(*ir.Upvalue)
	require.True(t, ok)
	require.Len(t, fn1.Upvalues, 1)
	assert.Same(t, up1, fn1.Upvalues[0])

	local, ok := up1.Parent.(*ir.Local)
	require.True(t, ok)
	assert.Same(t, x, local)
	assert.True(t, x.BeginUpvalues)
}

func TestResolveFallsBackToGlobal(t *testing.T) {
	mod := &ir.Module{}
	r := NewResolver(mod)
	_, err := r.PushFn(&ir.Fn{Name: "f"})
	require.NoError(t, err)

	got := r.Resolve("Bar", 3)
	g, ok := got.(*ir.Global)
	require.True(t, ok)
	assert.Equal(t, "Bar", g.Name)
	assert.Equal(t, 3, g.UndeclaredLineUsed)

	// Second resolution of the same name returns the same Global.
	got2 := r.Resolve("Bar", 99)
	assert.Same(t, got, got2)
}

func TestUndefinedGlobalsReportsOnlyUnresolved(t *testing.T) {
	mod := &ir.Module{}
	r := NewResolver(mod)
	_, err := r.PushFn(&ir.Fn{Name: "f"})
	require.NoError(t, err)
	r.Resolve("Known", 1)
	r.Resolve("Unknown", 2)

	undef := r.UndefinedGlobals(map[string]bool{"Known": true})
	require.Len(t, undef, 1)
	assert.Equal(t, "Unknown", undef[0].Name)
}

func TestFramePushPopTracksLocalsPerBlock(t *testing.T) {
	f, err := NewFrame(&ir.Fn{Name: "f"})
	require.NoError(t, err)
	f.Push()
	a := &ir.Local{Name: "a"}
	require.NoError(t, f.Declare(a))
	popped := f.Pop()
	require.Len(t, popped, 1)
	assert.Same(t, a, popped[0])
}

func TestDeclareRejectsDuplicateNameInSameBlock(t *testing.T) {
	f, err := NewFrame(&ir.Fn{Name: "f"})
	require.NoError(t, err)
	a := &ir.Local{Name: "x"}
	require.NoError(t, f.Declare(a))

	b := &ir.Local{Name: "x"}
	err = f.Declare(b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "x")

	// The first declaration is left untouched by the rejected second one.
	got, ok := f.resolveLocal("x")
	require.True(t, ok)
	assert.Same(t, a, got)
}

func TestDeclareAllowsShadowingInNestedBlock(t *testing.T) {
	f, err := NewFrame(&ir.Fn{Name: "f"})
	require.NoError(t, err)
	outer := &ir.Local{Name: "x"}
	require.NoError(t, f.Declare(outer))

	f.Push()
	inner := &ir.Local{Name: "x"}
	require.NoError(t, f.Declare(inner))

	got, ok := f.resolveLocal("x")
	require.True(t, ok)
	assert.Same(t, inner, got)
}

func TestNewFrameRejectsDuplicateParamNames(t *testing.T) {
	dup := &ir.Local{Name: "a", IsParam: true}
	fn := &ir.Fn{Name: "f", Params: []*ir.Local{{Name: "a", IsParam: true}, dup}}
	_, err := NewFrame(fn)
	require.Error(t, err)
}
