package codegen

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wrencc/wrencc/internal/ir"
	"github.com/wrencc/wrencc/internal/reloc"
)

func TestModuleEmitsDeclaredFunctions(t *testing.T) {
	main := &ir.Fn{Name: "main", Body: []ir.Stmt{
		&ir.StmtReturn{Value: &ir.ExprLiteralNum{Value: 42}},
	}}
	mod := &ir.Module{Functions: []*ir.Fn{main}}

	gen := NewGenerator()
	llMod := gen.Module(mod)

	text := llMod.String()
	assert.Contains(t, text, "wrencc.main")
	assert.Contains(t, text, "module_init")
	assert.Contains(t, text, "declare")
}

// TestModuleEmitsRelocationAndClosureMachinery is the regression test
// for the ordering bug this package's closure/relocation machinery used
// to have: reloc.Insert only places a StmtRelocateUpvalues at a scope's
// exit, so the closure capturing "i" is always built first, while "i"
// still lives in its stack slot. Building the module must not panic on
// that ordering, and the emitted text must show the documented
// relocation and closure-registration machinery rather than an ad hoc
// scheme invented for this package alone.
func TestModuleEmitsRelocationAndClosureMachinery(t *testing.T) {
	i := &ir.Local{Name: "i", BeginUpvalues: true}
	up := &ir.Upvalue{Name: "i", Index: 0, Parent: i}
	printer := &ir.Fn{Name: "printer", Upvalues: []*ir.Upvalue{up}, Body: []ir.Stmt{
		&ir.StmtReturn{Value: &ir.ExprVarRef{Decl: up}},
	}}
	g := &ir.Global{Name: "captured"}
	main := &ir.Fn{Name: "main", Body: []ir.Stmt{
		&ir.StmtVarDecl{Decl: i, Init: &ir.ExprLiteralNum{Value: 1}},
		&ir.StmtAssign{Target: g, Value: &ir.ExprClosure{Fn: printer}},
		&ir.StmtReturn{},
	}}
	reloc.Insert(main) // places StmtRelocateUpvalues after the closure is built, not before

	mod := &ir.Module{Globals: []*ir.Global{g}, Functions: []*ir.Fn{main, printer}}

	gen := NewGenerator()
	llMod := gen.Module(mod)
	text := llMod.String()

	assert.Contains(t, text, "wren_register_closure", "closures must register their spec with the runtime")
	assert.Contains(t, text, "wren_create_closure", "closure construction must use the documented ABI call")
	assert.Contains(t, text, "wren_alloc_upvalue_storage", "relocation must allocate heap storage for escaping locals")
	assert.Contains(t, text, "wren_get_closure_upvalue_pack", "relocation must walk live closures' packs to patch them")
	assert.Contains(t, text, "wren_get_closure_chain_next", "relocation must walk the closure-instance list, not just promote in place")
	assert.Contains(t, text, "wrencc.printer")
	assert.NotContains(t, text, "wren_alloc_cell")
	assert.NotContains(t, text, "wren_make_closure")
}

func TestModuleWiresClassDescriptionIntoInitClass(t *testing.T) {
	method := &ir.Fn{Name: "value", IsMethod: true, Body: []ir.Stmt{&ir.StmtReturn{}}}
	class := &ir.Class{Name: "Counter", Fields: []string{"count"}, Methods: []*ir.Fn{method}}
	method.ClassOwner = class
	mod := &ir.Module{Classes: []*ir.Class{class}, Functions: []*ir.Fn{{Name: "main"}}}

	gen := NewGenerator()
	llMod := gen.Module(mod)
	text := llMod.String()

	assert.Contains(t, text, "wren_init_class", "each class must be registered via the documented ABI call")
	assert.Contains(t, text, "wren_alloc_obj", "instance allocation must go through the class value, not an ad hoc tag")
	assert.Contains(t, text, "wren_class_get_field_offset")
	assert.NotContains(t, text, "wren_alloc_object")
}

func TestCallLowersThroughVirtualMethodLookup(t *testing.T) {
	main := &ir.Fn{Name: "main", Body: []ir.Stmt{
		&ir.StmtReturn{Value: &ir.ExprCall{
			Receiver:    &ir.ExprLiteralNum{Value: 1},
			SignatureID: 42,
		}},
	}}
	mod := &ir.Module{Functions: []*ir.Fn{main}}

	gen := NewGenerator()
	llMod := gen.Module(mod)
	text := llMod.String()

	assert.Contains(t, text, "wren_virtual_method_lookup")
	assert.NotContains(t, text, "wren_dispatch")
}
