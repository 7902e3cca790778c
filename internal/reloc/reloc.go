// Package reloc is an IR-to-IR pass that inserts ir.StmtRelocateUpvalues
// statements at every control-flow exit from a scope that declared
// escape-capable locals (locals with BeginUpvalues set by the scope
// resolver). One relocate statement is emitted per exit path, naming the
// union of capturable locals from every scope that path passes through,
// so a single promotion site precedes the jump or fallthrough rather
// than one per nested scope.
package reloc

import "github.com/wrencc/wrencc/internal/ir"

type frame struct {
	isLoop bool
	locals []*ir.Local
}

// Insert runs the relocation pass over fn's body in place.
func Insert(fn *ir.Fn) {
	fn.Body = processSeq(fn.Body, []*frame{{}})
}

func processSeq(body []ir.Stmt, stack []*frame) []ir.Stmt {
	top := stack[len(stack)-1]
	out := make([]ir.Stmt, 0, len(body))
	for _, s := range body {
		switch st := s.(type) {
		case *ir.StmtVarDecl:
			if st.Decl != nil && st.Decl.BeginUpvalues {
				top.locals = append(top.locals, st.Decl)
			}
			out = append(out, st)
		case *ir.StmtReturn:
			if relocated := collectAll(stack); len(relocated) > 0 {
				out = append(out, &ir.StmtRelocateUpvalues{Locals: relocated})
			}
			out = append(out, st)
		case *ir.StmtBreak:
			if relocated := collectUntilLoop(stack); len(relocated) > 0 {
				out = append(out, &ir.StmtRelocateUpvalues{Locals: relocated})
			}
			out = append(out, st)
		case *ir.StmtIf:
			thenFrame := &frame{}
			st.Then = closeScope(processSeq(st.Then, append(stack, thenFrame)), thenFrame)
			if st.Else != nil {
				elseFrame := &frame{}
				st.Else = closeScope(processSeq(st.Else, append(stack, elseFrame)), elseFrame)
			}
			out = append(out, st)
		case *ir.StmtWhile:
			loopFrame := &frame{isLoop: true}
			st.Body = closeScope(processSeq(st.Body, append(stack, loopFrame)), loopFrame)
			out = append(out, st)
		case *ir.StmtBlock:
			blockFrame := &frame{}
			st.Body = closeScope(processSeq(st.Body, append(stack, blockFrame)), blockFrame)
			out = append(out, st)
		default:
			out = append(out, st)
		}
	}
	return out
}

// closeScope appends a relocate statement for the scope's own
// fallthrough exit, unless the body already ends in a return or break
// (which already received their own relocate covering this scope).
func closeScope(body []ir.Stmt, f *frame) []ir.Stmt {
	if len(f.locals) == 0 {
		return body
	}
	if endsInJump(body) {
		return body
	}
	return append(body, &ir.StmtRelocateUpvalues{Locals: f.locals})
}

func endsInJump(body []ir.Stmt) bool {
	if len(body) == 0 {
		return false
	}
	switch body[len(body)-1].(type) {
	case *ir.StmtReturn, *ir.StmtBreak:
		return true
	default:
		return false
	}
}

func collectAll(stack []*frame) []*ir.Local {
	var out []*ir.Local
	for _, f := range stack {
		out = append(out, f.locals...)
	}
	return out
}

func collectUntilLoop(stack []*frame) []*ir.Local {
	var out []*ir.Local
	for i := len(stack) - 1; i >= 0; i-- {
		out = append(stack[i].locals, out...)
		if stack[i].isLoop {
			break
		}
	}
	return out
}
