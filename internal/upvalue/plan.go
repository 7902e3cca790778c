// Package upvalue builds, per function, the ordered "upvalue pack" that
// the code generator materializes as the closure's captured-variable
// array, plus the inverse index from each Upvalue to its pack slot. A
// function that captures nothing gets an empty pack, and the code
// generator then gives it no pack parameter at all.
package upvalue

import "github.com/wrencc/wrencc/internal/ir"

// Pack is the ordered list of upvalues a single Fn closes over, in the
// order they were first captured (insertion order), together with the
// inverse index from Upvalue to its position in the pack.
type Pack struct {
	Fn      *ir.Fn
	Entries []*ir.Upvalue
	index   map[*ir.Upvalue]int
}

// Len reports the pack size; zero means the generated function takes no
// upvalue-pack parameter.
func (p *Pack) Len() int { return len(p.Entries) }

// IndexOf returns the slot of u within the pack.
func (p *Pack) IndexOf(u *ir.Upvalue) (int, bool) {
	i, ok := p.index[u]
	return i, ok
}

// Plan builds Packs for fn and every function nested within it,
// recursively, from the Upvalues slices that the scope resolver already
// populated in capture order.
func Plan(fn *ir.Fn) map[*ir.Fn]*Pack {
	out := make(map[*ir.Fn]*Pack)
	planOne(fn, out)
	return out
}

func planOne(fn *ir.Fn, out map[*ir.Fn]*Pack) {
	pack := &Pack{Fn: fn, index: make(map[*ir.Upvalue]int, len(fn.Upvalues))}
	for i, u := range fn.Upvalues {
		pack.Entries = append(pack.Entries, u)
		pack.index[u] = i
	}
	out[fn] = pack
	for _, stmt := range fn.Body {
		walkStmt(stmt, out)
	}
}

// walkStmt recurses into nested StmtBlock/If/While bodies to find
// ExprClosure nodes introducing nested Fns, and into ExprClosure values
// reachable from StmtVarDecl/StmtAssign/StmtExpr initializers.
func walkStmt(s ir.Stmt, out map[*ir.Fn]*Pack) {
	switch st := s.(type) {
	case *ir.StmtVarDecl:
		walkExpr(st.Init, out)
	case *ir.StmtAssign:
		walkExpr(st.Value, out)
	case *ir.StmtFieldAssign:
		walkExpr(st.Receiver, out)
		walkExpr(st.Value, out)
	case *ir.StmtExpr:
		walkExpr(st.Expr, out)
	case *ir.StmtEvalAndIgnore:
		walkExpr(st.Expr, out)
	case *ir.StmtIf:
		walkExpr(st.Cond, out)
		for _, b := range st.Then {
			walkStmt(b, out)
		}
		for _, b := range st.Else {
			walkStmt(b, out)
		}
	case *ir.StmtWhile:
		walkExpr(st.Cond, out)
		for _, b := range st.Body {
			walkStmt(b, out)
		}
	case *ir.StmtBlock:
		for _, b := range st.Body {
			walkStmt(b, out)
		}
	case *ir.StmtReturn:
		if st.Value != nil {
			walkExpr(st.Value, out)
		}
	}
}

func walkExpr(e ir.Expr, out map[*ir.Fn]*Pack) {
	switch ex := e.(type) {
	case nil:
	case *ir.ExprClosure:
		if _, ok := out[ex.Fn]; !ok {
			planOne(ex.Fn, out)
		}
	case *ir.ExprBinary:
		walkExpr(ex.L, out)
		walkExpr(ex.R, out)
	case *ir.ExprUnary:
		walkExpr(ex.X, out)
	case *ir.ExprCall:
		walkExpr(ex.Receiver, out)
		walkExpr(ex.Callee, out)
		for _, a := range ex.Args {
			walkExpr(a, out)
		}
	case *ir.ExprNew:
		for _, a := range ex.Args {
			walkExpr(a, out)
		}
	case *ir.ExprFieldGet:
		walkExpr(ex.Receiver, out)
	}
}
