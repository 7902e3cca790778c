package wrencc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrencc/wrencc/internal/ir"
)

func TestCompileEmitsLLVMIRForSimpleModule(t *testing.T) {
	main := &ir.Fn{Name: "main", Body: []ir.Stmt{
		&ir.StmtReturn{Value: &ir.ExprLiteralNum{Value: 7}},
	}}
	mod := &ir.Module{Functions: []*ir.Fn{main}}

	result, err := Compile(mod, CompileOptions{})
	require.NoError(t, err)
	assert.Equal(t, FormatLLVMIR, result.Format)
	assert.Contains(t, string(result.Output), "wrencc.main")
}

func TestCompileTagsObjectFormatWhenRequested(t *testing.T) {
	mod := &ir.Module{Functions: []*ir.Fn{{Name: "main"}}}
	result, err := Compile(mod, CompileOptions{EmitObjectTag: true})
	require.NoError(t, err)
	assert.Equal(t, FormatObject, result.Format)
}

func TestCompileReportsUndefinedGlobalAsUserError(t *testing.T) {
	mod := &ir.Module{
		Globals:   []*ir.Global{{Name: "missing", UndeclaredLineUsed: 12}},
		Functions: []*ir.Fn{{Name: "main"}},
	}
	_, err := Compile(mod, CompileOptions{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "missing"))
}

func TestCompileInternsMethodSignatures(t *testing.T) {
	method := &ir.Fn{Name: "value", IsMethod: true, Body: []ir.Stmt{&ir.StmtReturn{}}}
	class := &ir.Class{Name: "Counter", Methods: []*ir.Fn{method}}
	method.ClassOwner = class
	mod := &ir.Module{Classes: []*ir.Class{class}, Functions: []*ir.Fn{{Name: "main"}}}

	_, err := Compile(mod, CompileOptions{})
	require.NoError(t, err)
	assert.NotZero(t, method.SignatureID)
}
