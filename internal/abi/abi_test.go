package abi

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumberRoundTrips(t *testing.T) {
	for _, f := range []float64{0, 1, -1, 3.5, math.Pi, -1e300} {
		v := NumberValue(f)
		require.True(t, v.IsNumber())
		assert.Equal(t, f, v.Number())
	}
}

func TestSingletonsAreDistinguishedFromNumbers(t *testing.T) {
	assert.False(t, Null.IsNumber())
	assert.False(t, True.IsNumber())
	assert.False(t, False.IsNumber())
	assert.True(t, Null.IsNull())
	assert.True(t, True.IsBool())
	assert.True(t, True.Bool())
	assert.False(t, False.Bool())
}

func TestObjHandleRoundTrips(t *testing.T) {
	v := ObjValue(42)
	require.True(t, v.IsObj())
	assert.Equal(t, uint64(42), v.ObjHandle())
	assert.False(t, v.IsNumber())
}

func TestTruthiness(t *testing.T) {
	assert.False(t, Null.IsTruthy())
	assert.False(t, False.IsTruthy())
	assert.True(t, True.IsTruthy())
	assert.True(t, NumberValue(0).IsTruthy())
	assert.True(t, ObjValue(16).IsTruthy())
}

func TestClassDescRoundTrips(t *testing.T) {
	var b ClassDescBuilder
	b.AddMethod(0, "call", 7)
	b.AddMethod(FlagStatic, "create", 9)
	block := b.Bytes()

	entries := DecodeClassDesc(block)
	require.Len(t, entries, 2)
	assert.Equal(t, "call", entries[0].Name)
	assert.False(t, entries[0].IsStatic())
	assert.Equal(t, uint32(7), entries[0].FnRef)
	assert.Equal(t, "create", entries[1].Name)
	assert.True(t, entries[1].IsStatic())
	assert.Equal(t, uint32(9), entries[1].FnRef)
}

func TestEmptyClassDescDecodesToNoEntries(t *testing.T) {
	var b ClassDescBuilder
	entries := DecodeClassDesc(b.Bytes())
	assert.Empty(t, entries)
}
