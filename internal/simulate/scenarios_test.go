package simulate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrencc/wrencc/internal/ir"
	"github.com/wrencc/wrencc/internal/reloc"
)

func varRef(d ir.VarDecl) *ir.ExprVarRef { return &ir.ExprVarRef{Decl: d} }

func callClosure(callee ir.Expr, args ...ir.Expr) *ir.ExprCall {
	return &ir.ExprCall{Callee: callee, Args: args}
}

func num(n float64) *ir.ExprLiteralNum { return &ir.ExprLiteralNum{Value: n} }

func printCall(arg ir.Expr) *ir.StmtExpr {
	printGlobal := &ir.Global{Name: "print"}
	return &ir.StmtExpr{Expr: callClosure(varRef(printGlobal), arg)}
}

func runModule(t *testing.T, mod *ir.Module, entry string) string {
	t.Helper()
	it := New(mod)
	require.NoError(t, it.Run(entry))
	return it.Out.String()
}

// Scenario 1: closures created across independent loop iterations each
// capture their own iteration's value of the loop variable.
func TestScenarioLoopClosuresCaptureIndependently(t *testing.T) {
	n := &ir.Local{Name: "n"}
	i := &ir.Local{Name: "i", BeginUpvalues: true}
	g0 := &ir.Global{Name: "g0"}
	g1 := &ir.Global{Name: "g1"}
	g2 := &ir.Global{Name: "g2"}

	up := &ir.Upvalue{Name: "i", Index: 0, Parent: i}
	printI := &ir.Fn{Name: "printI", Upvalues: []*ir.Upvalue{up}, Body: []ir.Stmt{printCall(varRef(up))}}

	assignIf := func(n_ int, g *ir.Global) ir.Stmt {
		return &ir.StmtIf{
			Cond: &ir.ExprBinary{Op: "==", L: varRef(n), R: num(float64(n_))},
			Then: []ir.Stmt{&ir.StmtAssign{Target: g, Value: &ir.ExprClosure{Fn: printI}}},
		}
	}

	main := &ir.Fn{Name: "main", Body: []ir.Stmt{
		&ir.StmtVarDecl{Decl: n, Init: num(0)},
		&ir.StmtWhile{
			Cond: &ir.ExprBinary{Op: "<", L: varRef(n), R: num(3)},
			Body: []ir.Stmt{
				&ir.StmtVarDecl{Decl: i, Init: varRef(n)},
				assignIf(0, g0),
				assignIf(1, g1),
				assignIf(2, g2),
				&ir.StmtAssign{Target: n, Value: &ir.ExprBinary{Op: "+", L: varRef(n), R: num(1)}},
			},
		},
		&ir.StmtExpr{Expr: callClosure(varRef(g0))},
		&ir.StmtExpr{Expr: callClosure(varRef(g1))},
		&ir.StmtExpr{Expr: callClosure(varRef(g2))},
	}}
	reloc.Insert(main)

	mod := &ir.Module{Globals: []*ir.Global{g0, g1, g2}, Functions: []*ir.Fn{main, printI}}
	out := runModule(t, mod, "main")
	assert.Equal(t, "0\n1\n2\n", out)
}

// Scenario 2: two closures capturing the same mutable local both
// observe writes made through either one.
func TestScenarioSharedMutableCaptureIsVisibleAcrossClosures(t *testing.T) {
	counter := &ir.Local{Name: "counter", BeginUpvalues: true}
	upInc := &ir.Upvalue{Name: "counter", Index: 0, Parent: counter}
	incFn := &ir.Fn{Name: "inc", Upvalues: []*ir.Upvalue{upInc}, Body: []ir.Stmt{
		&ir.StmtAssign{Target: upInc, Value: &ir.ExprBinary{Op: "+", L: varRef(upInc), R: num(1)}},
	}}
	upRead := &ir.Upvalue{Name: "counter", Index: 0, Parent: counter}
	readFn := &ir.Fn{Name: "read", Upvalues: []*ir.Upvalue{upRead}, Body: []ir.Stmt{
		printCall(varRef(upRead)),
	}}
	gInc := &ir.Global{Name: "inc"}
	gRead := &ir.Global{Name: "read"}

	main := &ir.Fn{Name: "main", Body: []ir.Stmt{
		&ir.StmtVarDecl{Decl: counter, Init: num(0)},
		&ir.StmtAssign{Target: gInc, Value: &ir.ExprClosure{Fn: incFn}},
		&ir.StmtAssign{Target: gRead, Value: &ir.ExprClosure{Fn: readFn}},
		&ir.StmtExpr{Expr: callClosure(varRef(gInc))},
		&ir.StmtExpr{Expr: callClosure(varRef(gInc))},
		&ir.StmtExpr{Expr: callClosure(varRef(gRead))},
	}}
	reloc.Insert(main)

	mod := &ir.Module{Globals: []*ir.Global{gInc, gRead}, Functions: []*ir.Fn{main, incFn, readFn}}
	out := runModule(t, mod, "main")
	assert.Equal(t, "2\n", out)
}

// Scenario 3: an upvalue chains through two levels of nested function
// (grandparent local captured by grandchild closure).
func TestScenarioUpvalueChainsThroughTwoLevels(t *testing.T) {
	x := &ir.Local{Name: "x", BeginUpvalues: true}
	midUp := &ir.Upvalue{Name: "x", Index: 0, Parent: x}
	innerUp := &ir.Upvalue{Name: "x", Index: 0, Parent: midUp}

	innerFn := &ir.Fn{Name: "inner", Upvalues: []*ir.Upvalue{innerUp}, Body: []ir.Stmt{
		printCall(varRef(innerUp)),
	}}
	midFn := &ir.Fn{Name: "mid", Upvalues: []*ir.Upvalue{midUp}, Body: []ir.Stmt{
		&ir.StmtReturn{Value: &ir.ExprClosure{Fn: innerFn}},
	}}
	gMid := &ir.Global{Name: "mid"}
	gInner := &ir.Global{Name: "inner"}

	main := &ir.Fn{Name: "main", Body: []ir.Stmt{
		&ir.StmtVarDecl{Decl: x, Init: num(42)},
		&ir.StmtAssign{Target: gMid, Value: &ir.ExprClosure{Fn: midFn}},
		&ir.StmtAssign{Target: gInner, Value: callClosure(varRef(gMid))},
		&ir.StmtExpr{Expr: callClosure(varRef(gInner))},
	}}
	reloc.Insert(main)

	mod := &ir.Module{Globals: []*ir.Global{gMid, gInner}, Functions: []*ir.Fn{main, midFn, innerFn}}
	out := runModule(t, mod, "main")
	assert.Equal(t, "42\n", out)
}

// Scenario 4: a closure sees a mutation made to its captured local
// after capture but before the closure is called.
func TestScenarioCaptureObservesMutationAfterCaptureBeforeCall(t *testing.T) {
	x := &ir.Local{Name: "x", BeginUpvalues: true}
	up := &ir.Upvalue{Name: "x", Index: 0, Parent: x}
	fn := &ir.Fn{Name: "show", Upvalues: []*ir.Upvalue{up}, Body: []ir.Stmt{
		printCall(varRef(up)),
	}}
	g := &ir.Global{Name: "show"}

	main := &ir.Fn{Name: "main", Body: []ir.Stmt{
		&ir.StmtVarDecl{Decl: x, Init: num(1)},
		&ir.StmtAssign{Target: g, Value: &ir.ExprClosure{Fn: fn}},
		&ir.StmtAssign{Target: x, Value: num(99)},
		&ir.StmtExpr{Expr: callClosure(varRef(g))},
	}}
	reloc.Insert(main)

	mod := &ir.Module{Globals: []*ir.Global{g}, Functions: []*ir.Fn{main, fn}}
	out := runModule(t, mod, "main")
	assert.Equal(t, "99\n", out)
}

// Scenario 5: breaking out of a loop early still leaves every closure
// created before the break correctly bound to its own iteration.
func TestScenarioBreakPreservesPriorIterationsCaptures(t *testing.T) {
	n := &ir.Local{Name: "n"}
	i := &ir.Local{Name: "i", BeginUpvalues: true}
	g0 := &ir.Global{Name: "g0"}
	g1 := &ir.Global{Name: "g1"}

	printI := &ir.Fn{Name: "printI"}
	up := &ir.Upvalue{Name: "i", Index: 0, Parent: i}
	printI.Upvalues = []*ir.Upvalue{up}
	printI.Body = []ir.Stmt{printCall(varRef(up))}

	assignIf := func(n_ int, g *ir.Global) ir.Stmt {
		return &ir.StmtIf{
			Cond: &ir.ExprBinary{Op: "==", L: varRef(n), R: num(float64(n_))},
			Then: []ir.Stmt{&ir.StmtAssign{Target: g, Value: &ir.ExprClosure{Fn: printI}}},
		}
	}

	main := &ir.Fn{Name: "main", Body: []ir.Stmt{
		&ir.StmtVarDecl{Decl: n, Init: num(0)},
		&ir.StmtWhile{
			Cond: &ir.ExprLiteralBool{Value: true},
			Body: []ir.Stmt{
				&ir.StmtVarDecl{Decl: i, Init: varRef(n)},
				&ir.StmtIf{
					Cond: &ir.ExprBinary{Op: ">=", L: varRef(n), R: num(2)},
					Then: []ir.Stmt{&ir.StmtBreak{}},
				},
				assignIf(0, g0),
				assignIf(1, g1),
				&ir.StmtAssign{Target: n, Value: &ir.ExprBinary{Op: "+", L: varRef(n), R: num(1)}},
			},
		},
		&ir.StmtExpr{Expr: callClosure(varRef(g0))},
		&ir.StmtExpr{Expr: callClosure(varRef(g1))},
	}}
	reloc.Insert(main)

	mod := &ir.Module{Globals: []*ir.Global{g0, g1}, Functions: []*ir.Fn{main, printI}}
	out := runModule(t, mod, "main")
	assert.Equal(t, "0\n1\n", out)
}

// Scenario 6: a method dispatched on an instance reads the receiver's
// field through `this`.
func TestScenarioMethodReadsReceiverField(t *testing.T) {
	class := &ir.Class{Name: "Counter", Fields: []string{"value"}}
	getter := &ir.Fn{Name: "value", IsMethod: true, ClassOwner: class, Body: []ir.Stmt{
		&ir.StmtReturn{Value: &ir.ExprFieldGet{Receiver: &ir.ExprThis{}, Field: "value"}},
	}}
	class.Methods = []*ir.Fn{getter}

	gVal := &ir.Global{Name: "result"}
	main := &ir.Fn{Name: "main", Body: []ir.Stmt{
		&ir.StmtVarDecl{Decl: &ir.Local{Name: "c"}, Init: &ir.ExprNew{Class: "Counter"}},
	}}
	c := main.Body[0].(*ir.StmtVarDecl).Decl
	main.Body = append(main.Body, &ir.StmtFieldAssign{Receiver: varRef(c), Field: "value", Value: num(7)})
	main.Body = append(main.Body, &ir.StmtAssign{Target: gVal, Value: &ir.ExprCall{
		Receiver: varRef(c), SignatureID: 0, Args: nil,
	}})
	main.Body = append(main.Body, printCall(varRef(gVal)))

	mod := &ir.Module{Globals: []*ir.Global{gVal}, Classes: []*ir.Class{class}, Functions: []*ir.Fn{main}}
	out := runModule(t, mod, "main")
	assert.Equal(t, "7\n", out)
}
