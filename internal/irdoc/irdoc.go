// Package irdoc defines a YAML document format for hand- or
// tool-authored ir.Module values. With lexing/parsing out of scope,
// this format plays the role a pre-built AST would play in a front end
// that was in scope: a doc names variables by plain strings, and
// Build runs them through internal/scope exactly as a real name
// resolution pass would, producing a fully resolved ir.Module with
// Local/Upvalue/Global decls and upvalue packs ready for
// internal/reloc and internal/codegen.
package irdoc

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/wrencc/wrencc/internal/ir"
	"github.com/wrencc/wrencc/internal/scope"
	"github.com/wrencc/wrencc/internal/sig"
)

// Doc is the top-level YAML shape.
type Doc struct {
	Module string    `yaml:"module"`
	Funcs  []FuncDoc  `yaml:"functions"`
	Classes []ClassDoc `yaml:"classes"`
}

// FuncDoc describes one function or method.
type FuncDoc struct {
	Name   string   `yaml:"name"`
	Params []string `yaml:"params"`
	Body   []StmtDoc `yaml:"body"`
}

// ClassDoc describes one class declaration.
type ClassDoc struct {
	Name    string    `yaml:"name"`
	Fields  []string  `yaml:"fields"`
	Methods []FuncDoc `yaml:"methods"`
}

// StmtDoc is a tagged union over statement kinds; exactly one field
// matching Kind should be populated.
type StmtDoc struct {
	Kind   string    `yaml:"kind"`
	Name   string    `yaml:"name,omitempty"`   // var/assign/break target name
	Expr   *ExprDoc  `yaml:"expr,omitempty"`   // expr-stmt / var init / return value
	Field  string    `yaml:"field,omitempty"`  // field-assign target
	Recv   *ExprDoc  `yaml:"recv,omitempty"`   // field-assign receiver
	Cond   *ExprDoc  `yaml:"cond,omitempty"`   // if/while condition
	Then   []StmtDoc `yaml:"then,omitempty"`
	Else   []StmtDoc `yaml:"else,omitempty"`
	Body   []StmtDoc `yaml:"body,omitempty"`
}

// ExprDoc is a tagged union over expression kinds.
type ExprDoc struct {
	Kind   string     `yaml:"kind"`
	Num    float64    `yaml:"num,omitempty"`
	Str    string     `yaml:"str,omitempty"`
	Bool   bool       `yaml:"bool,omitempty"`
	Name   string     `yaml:"name,omitempty"`   // var reference
	Op     string     `yaml:"op,omitempty"`
	L      *ExprDoc   `yaml:"l,omitempty"`
	R      *ExprDoc   `yaml:"r,omitempty"`
	X      *ExprDoc   `yaml:"x,omitempty"`
	Recv   *ExprDoc   `yaml:"recv,omitempty"`
	Field  string     `yaml:"field,omitempty"`
	Callee string     `yaml:"callee,omitempty"` // free function / closure value name
	Sig    string     `yaml:"sig,omitempty"`    // method signature text, e.g. "add(_,_)"
	Class  string     `yaml:"class,omitempty"`
	Args   []ExprDoc  `yaml:"args,omitempty"`
	Fn     string     `yaml:"fn,omitempty"` // closure literal: references a function defined elsewhere in the doc
}

// Parse decodes YAML bytes into a Doc.
func Parse(data []byte) (*Doc, error) {
	var doc Doc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("irdoc: parse: %w", err)
	}
	return &doc, nil
}

// Build resolves doc into a fully name-resolved ir.Module, running every
// function body through internal/scope so Local/Upvalue/Global decls
// and each Fn's Upvalues pack are populated exactly as a real front end
// would leave them for internal/reloc and internal/upvalue to consume.
func Build(doc *Doc) (*ir.Module, error) {
	mod := &ir.Module{Name: doc.Module}
	b := &builder{
		mod:         mod,
		resolver:    scope.NewResolver(mod),
		registry:    sig.NewRegistry(),
		fnsByName:   make(map[string]*ir.Fn),
		fnDocsByName: make(map[string]FuncDoc),
		built:       make(map[*ir.Fn]bool),
	}

	for _, fd := range doc.Funcs {
		fn := &ir.Fn{Name: fd.Name}
		b.fnsByName[fd.Name] = fn
		b.fnDocsByName[fd.Name] = fd
		mod.Functions = append(mod.Functions, fn)
	}
	for _, cd := range doc.Classes {
		cls := &ir.Class{Name: cd.Name, Fields: append([]string(nil), cd.Fields...)}
		for _, md := range cd.Methods {
			m := &ir.Fn{Name: md.Name, IsMethod: true, ClassOwner: cls}
			m.SignatureID = sig.ID(sig.Signature{Name: m.Name, Arity: len(md.Params), Kind: sig.KindMethod})
			cls.Methods = append(cls.Methods, m)
			b.fnsByName[cd.Name+"."+md.Name] = m
			b.fnDocsByName[cd.Name+"."+md.Name] = md
		}
		mod.Classes = append(mod.Classes, cls)
	}

	// Top-level functions are built in document order; a function
	// referenced earlier as a nested closure is built in place (while
	// its enclosing function's scope frame is still open on the
	// resolver's stack) and skipped here.
	for i, fd := range doc.Funcs {
		fn := mod.Functions[i]
		if b.built[fn] {
			continue
		}
		if err := b.buildFn(fn, fd); err != nil {
			return nil, err
		}
	}
	for ci, cd := range doc.Classes {
		cls := mod.Classes[ci]
		for mi, md := range cd.Methods {
			m := cls.Methods[mi]
			if b.built[m] {
				continue
			}
			if err := b.buildFn(m, md); err != nil {
				return nil, err
			}
		}
	}
	return mod, nil
}

type builder struct {
	mod          *ir.Module
	resolver     *scope.Resolver
	registry     *sig.Registry
	fnsByName    map[string]*ir.Fn
	fnDocsByName map[string]FuncDoc
	built        map[*ir.Fn]bool
}

func (b *builder) buildFn(fn *ir.Fn, fd FuncDoc) error {
	if b.built[fn] {
		return nil
	}
	b.built[fn] = true
	frame, err := b.resolver.PushFn(fn)
	if err != nil {
		return err
	}
	defer b.resolver.PopFn()
	for _, pn := range fd.Params {
		l := &ir.Local{Name: pn, IsParam: true}
		fn.Params = append(fn.Params, l)
		fn.Locals = append(fn.Locals, l)
		if err := frame.Declare(l); err != nil {
			return err
		}
	}
	body, err := b.buildStmts(fd.Body, fn, frame)
	if err != nil {
		return err
	}
	fn.Body = body
	return nil
}

func (b *builder) buildStmts(docs []StmtDoc, fn *ir.Fn, frame *scope.Frame) ([]ir.Stmt, error) {
	out := make([]ir.Stmt, 0, len(docs))
	for _, sd := range docs {
		s, err := b.buildStmt(sd, fn, frame)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (b *builder) buildStmt(sd StmtDoc, fn *ir.Fn, frame *scope.Frame) (ir.Stmt, error) {
	switch sd.Kind {
	case "var":
		l := &ir.Local{Name: sd.Name}
		fn.Locals = append(fn.Locals, l)
		if err := frame.Declare(l); err != nil {
			return nil, err
		}
		init, err := b.buildExprOpt(sd.Expr, fn)
		if err != nil {
			return nil, err
		}
		return &ir.StmtVarDecl{Decl: l, Init: init}, nil
	case "assign":
		target := b.resolver.Resolve(sd.Name, 0)
		val, err := b.buildExpr(sd.Expr, fn)
		if err != nil {
			return nil, err
		}
		return &ir.StmtAssign{Target: target, Value: val}, nil
	case "field_assign":
		recv, err := b.buildExpr(sd.Recv, fn)
		if err != nil {
			return nil, err
		}
		val, err := b.buildExpr(sd.Expr, fn)
		if err != nil {
			return nil, err
		}
		return &ir.StmtFieldAssign{Receiver: recv, Field: sd.Field, Value: val}, nil
	case "expr":
		e, err := b.buildExpr(sd.Expr, fn)
		if err != nil {
			return nil, err
		}
		return &ir.StmtExpr{Expr: e}, nil
	case "return":
		v, err := b.buildExprOpt(sd.Expr, fn)
		if err != nil {
			return nil, err
		}
		return &ir.StmtReturn{Value: v}, nil
	case "break":
		return &ir.StmtBreak{}, nil
	case "if":
		cond, err := b.buildExpr(sd.Cond, fn)
		if err != nil {
			return nil, err
		}
		frame.Push()
		thenBody, err := b.buildStmts(sd.Then, fn, frame)
		if err != nil {
			return nil, err
		}
		frame.Pop()
		var elseBody []ir.Stmt
		if sd.Else != nil {
			frame.Push()
			elseBody, err = b.buildStmts(sd.Else, fn, frame)
			if err != nil {
				return nil, err
			}
			frame.Pop()
		}
		return &ir.StmtIf{Cond: cond, Then: thenBody, Else: elseBody}, nil
	case "while":
		cond, err := b.buildExpr(sd.Cond, fn)
		if err != nil {
			return nil, err
		}
		frame.Push()
		body, err := b.buildStmts(sd.Body, fn, frame)
		if err != nil {
			return nil, err
		}
		frame.Pop()
		return &ir.StmtWhile{Cond: cond, Body: body}, nil
	case "block":
		frame.Push()
		body, err := b.buildStmts(sd.Body, fn, frame)
		if err != nil {
			return nil, err
		}
		frame.Pop()
		return &ir.StmtBlock{Body: body}, nil
	default:
		return nil, fmt.Errorf("irdoc: unknown statement kind %q", sd.Kind)
	}
}

func (b *builder) buildExprOpt(ed *ExprDoc, fn *ir.Fn) (ir.Expr, error) {
	if ed == nil {
		return nil, nil
	}
	return b.buildExpr(ed, fn)
}

func (b *builder) buildExpr(ed *ExprDoc, fn *ir.Fn) (ir.Expr, error) {
	if ed == nil {
		return nil, fmt.Errorf("irdoc: nil expression")
	}
	switch ed.Kind {
	case "num":
		return &ir.ExprLiteralNum{Value: ed.Num}, nil
	case "str":
		return &ir.ExprLiteralStr{Value: ed.Str}, nil
	case "bool":
		return &ir.ExprLiteralBool{Value: ed.Bool}, nil
	case "null":
		return &ir.ExprLiteralNull{}, nil
	case "this":
		return &ir.ExprThis{}, nil
	case "var":
		return &ir.ExprVarRef{Decl: b.resolver.Resolve(ed.Name, 0)}, nil
	case "unary":
		x, err := b.buildExpr(ed.X, fn)
		if err != nil {
			return nil, err
		}
		return &ir.ExprUnary{Op: ed.Op, X: x}, nil
	case "binary":
		l, err := b.buildExpr(ed.L, fn)
		if err != nil {
			return nil, err
		}
		r, err := b.buildExpr(ed.R, fn)
		if err != nil {
			return nil, err
		}
		return &ir.ExprBinary{Op: ed.Op, L: l, R: r}, nil
	case "field":
		recv, err := b.buildExpr(ed.Recv, fn)
		if err != nil {
			return nil, err
		}
		return &ir.ExprFieldGet{Receiver: recv, Field: ed.Field}, nil
	case "new":
		args, err := b.buildArgs(ed.Args, fn)
		if err != nil {
			return nil, err
		}
		return &ir.ExprNew{Class: ed.Class, Args: args}, nil
	case "call":
		args, err := b.buildArgs(ed.Args, fn)
		if err != nil {
			return nil, err
		}
		if ed.Recv != nil {
			recv, err := b.buildExpr(ed.Recv, fn)
			if err != nil {
				return nil, err
			}
			return &ir.ExprCall{Receiver: recv, SignatureID: sigIDFromText(ed.Sig, len(args)), Args: args}, nil
		}
		return &ir.ExprCall{Callee: &ir.ExprVarRef{Decl: b.resolver.Resolve(ed.Callee, 0)}, Args: args}, nil
	case "closure":
		target, ok := b.fnsByName[ed.Fn]
		if !ok {
			return nil, fmt.Errorf("irdoc: closure references unknown function %q", ed.Fn)
		}
		if !b.built[target] {
			// Build the nested function now, while the enclosing
			// function's frame is still open on the resolver's stack,
			// so names it doesn't declare itself resolve as upvalues
			// into the correct enclosing scope.
			if err := b.buildFn(target, b.fnDocsByName[ed.Fn]); err != nil {
				return nil, err
			}
		}
		return &ir.ExprClosure{Fn: target}, nil
	default:
		return nil, fmt.Errorf("irdoc: unknown expression kind %q", ed.Kind)
	}
}

func (b *builder) buildArgs(docs []ExprDoc, fn *ir.Fn) ([]ir.Expr, error) {
	out := make([]ir.Expr, 0, len(docs))
	for i := range docs {
		e, err := b.buildExpr(&docs[i], fn)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// sigIDFromText interns a raw signature text (e.g. "add(_,_)") by
// re-deriving arity from the caller's argument count; the text's name
// portion up to '(' is used verbatim, which is sufficient for the
// method-kind signatures this doc format emits (plain methods).
func sigIDFromText(text string, arity int) uint64 {
	name := text
	for i, c := range text {
		if c == '(' {
			name = text[:i]
			break
		}
	}
	return sig.ID(sig.Signature{Name: name, Arity: arity, Kind: sig.KindMethod})
}
