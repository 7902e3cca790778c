// Package simulate is a Go-native reference interpreter for the typed
// tree ir, standing in for the linked native runtime in tests. It
// honors the same closure/upvalue capture contract the code generator
// and runtime ABI implement: a captured local's storage is shared by
// pointer identity between every closure that captures it, and a fresh
// declaration (including a fresh loop iteration) always gets fresh
// storage.
//
// Unlike the native backend, which must lazily promote stack locals to
// heap cells and sweep live closure-instance lists at every relocation
// site (internal/reloc, internal/codegen), this interpreter allocates
// every local's storage as a heap Cell from the moment it is declared.
// Go's own pointers then give the correct sharing-without-aliasing
// behavior for free, so ir.StmtRelocateUpvalues is a documented no-op
// here: the invariant it exists to guarantee is vacuously true. The
// interpreter is only a behavioral oracle for the pipeline's output, not
// a model of the native calling convention.
package simulate

import (
	"bytes"
	"fmt"

	"github.com/wrencc/wrencc/internal/ir"
)

// Value is the interpreter's runtime representation, a flat tagged
// union in the style of a tree-walking interpreter's value type.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindClosure
	KindInstance
)

type Value struct {
	Kind    Kind
	Num     float64
	Str     string
	B       bool
	Closure *Closure
	Inst    *Instance
}

func Null() Value           { return Value{Kind: KindNull} }
func BoolVal(b bool) Value  { return Value{Kind: KindBool, B: b} }
func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }
func String(s string) Value { return Value{Kind: KindString, Str: s} }

func Truthy(v Value) bool {
	switch v.Kind {
	case KindNull:
		return false
	case KindBool:
		return v.B
	default:
		return true
	}
}

// Cell is a local variable's shared storage. A closure that captures a
// local holds a pointer to the same Cell the declaring frame holds.
type Cell struct {
	V Value
}

// Closure is a first-class function value: the Fn it wraps, plus the
// upvalue pack captured at creation time, in the order the upvalue
// planner assigned (which equals ir.Fn.Upvalues order).
type Closure struct {
	Fn   *ir.Fn
	Pack []*Cell
}

// Instance is a runtime object of a declared Class.
type Instance struct {
	Class  *ir.Class
	Fields map[string]Value
}

// Interp runs a Module. Stdout is captured in Out for tests to assert
// against, mirroring "compile, link, run, capture stdout" without a
// linker.
type Interp struct {
	Out     bytes.Buffer
	globals map[string]Value
	classes map[string]*ir.Class
}

// New constructs an interpreter, registering every class by name and
// every top-level function as a closure-valued global. print is not
// registered here: evalCall recognizes calls to it (see isPrintCallee).
func New(mod *ir.Module) *Interp {
	it := &Interp{
		globals: make(map[string]Value),
		classes: make(map[string]*ir.Class),
	}
	for _, c := range mod.Classes {
		it.classes[c.Name] = c
	}
	for _, fn := range mod.Functions {
		it.globals[fn.Name] = Value{Kind: KindClosure, Closure: &Closure{Fn: fn}}
	}
	return it
}

// Run invokes the named top-level function with no arguments, the
// entry point convention the end-to-end scenarios use.
func (it *Interp) Run(name string) error {
	v, ok := it.globals[name]
	if !ok || v.Kind != KindClosure {
		return fmt.Errorf("simulate: no function %q", name)
	}
	_, err := it.call(v.Closure, nil)
	return err
}

type ctrl int

const (
	ctrlNone ctrl = iota
	ctrlReturn
	ctrlBreak
)

type frame struct {
	locals map[*ir.Local]*Cell
	pack   []*Cell
	fn     *ir.Fn
	this   Value
}

func (it *Interp) call(c *Closure, args []Value) (Value, error) {
	f := &frame{locals: make(map[*ir.Local]*Cell), pack: c.Pack, fn: c.Fn}
	for i, p := range c.Fn.Params {
		var v Value
		if i < len(args) {
			v = args[i]
		}
		f.locals[p] = &Cell{V: v}
	}
	sig, ret, err := it.exec(c.Fn.Body, f)
	if err != nil {
		return Value{}, err
	}
	if sig == ctrlReturn {
		return ret, nil
	}
	return Null(), nil
}

func (it *Interp) exec(body []ir.Stmt, f *frame) (ctrl, Value, error) {
	for _, s := range body {
		switch st := s.(type) {
		case *ir.StmtVarDecl:
			var v Value
			var err error
			if st.Init != nil {
				v, err = it.eval(st.Init, f)
				if err != nil {
					return ctrlNone, Value{}, err
				}
			} else {
				v = Null()
			}
			f.locals[st.Decl] = &Cell{V: v}
		case *ir.StmtExpr:
			if _, err := it.eval(st.Expr, f); err != nil {
				return ctrlNone, Value{}, err
			}
		case *ir.StmtEvalAndIgnore:
			if _, err := it.eval(st.Expr, f); err != nil {
				return ctrlNone, Value{}, err
			}
		case *ir.StmtAssign:
			v, err := it.eval(st.Value, f)
			if err != nil {
				return ctrlNone, Value{}, err
			}
			if err := it.assign(st.Target, v, f); err != nil {
				return ctrlNone, Value{}, err
			}
		case *ir.StmtFieldAssign:
			recv, err := it.eval(st.Receiver, f)
			if err != nil {
				return ctrlNone, Value{}, err
			}
			v, err := it.eval(st.Value, f)
			if err != nil {
				return ctrlNone, Value{}, err
			}
			if recv.Kind != KindInstance {
				return ctrlNone, Value{}, fmt.Errorf("simulate: field assignment on non-instance")
			}
			recv.Inst.Fields[st.Field] = v
		case *ir.StmtIf:
			cond, err := it.eval(st.Cond, f)
			if err != nil {
				return ctrlNone, Value{}, err
			}
			branch := st.Else
			if Truthy(cond) {
				branch = st.Then
			}
			sig, v, err := it.exec(branch, f)
			if err != nil || sig != ctrlNone {
				return sig, v, err
			}
		case *ir.StmtWhile:
			for {
				cond, err := it.eval(st.Cond, f)
				if err != nil {
					return ctrlNone, Value{}, err
				}
				if !Truthy(cond) {
					break
				}
				sig, v, err := it.exec(st.Body, f)
				if err != nil {
					return ctrlNone, Value{}, err
				}
				if sig == ctrlReturn {
					return sig, v, nil
				}
				if sig == ctrlBreak {
					break
				}
			}
		case *ir.StmtBlock:
			sig, v, err := it.exec(st.Body, f)
			if err != nil || sig != ctrlNone {
				return sig, v, err
			}
		case *ir.StmtReturn:
			var v Value = Null()
			if st.Value != nil {
				var err error
				v, err = it.eval(st.Value, f)
				if err != nil {
					return ctrlNone, Value{}, err
				}
			}
			return ctrlReturn, v, nil
		case *ir.StmtBreak:
			return ctrlBreak, Value{}, nil
		case *ir.StmtRelocateUpvalues:
			// No-op: see package doc. Cells already live on the heap.
		default:
			return ctrlNone, Value{}, fmt.Errorf("simulate: unhandled stmt %T", st)
		}
	}
	return ctrlNone, Value{}, nil
}

func (it *Interp) assign(target ir.VarDecl, v Value, f *frame) error {
	switch t := target.(type) {
	case *ir.Local:
		cell, ok := f.locals[t]
		if !ok {
			cell = &Cell{}
			f.locals[t] = cell
		}
		cell.V = v
		return nil
	case *ir.Upvalue:
		if t.Index >= len(f.pack) {
			return fmt.Errorf("simulate: upvalue index %d out of range", t.Index)
		}
		f.pack[t.Index].V = v
		return nil
	case *ir.Global:
		it.globals[t.Name] = v
		return nil
	default:
		return fmt.Errorf("simulate: unknown assignment target %T", target)
	}
}

func (it *Interp) eval(e ir.Expr, f *frame) (Value, error) {
	switch ex := e.(type) {
	case *ir.ExprLiteralNum:
		return Number(ex.Value), nil
	case *ir.ExprLiteralStr:
		return String(ex.Value), nil
	case *ir.ExprLiteralBool:
		return BoolVal(ex.Value), nil
	case *ir.ExprLiteralNull:
		return Null(), nil
	case *ir.ExprThis:
		return f.this, nil
	case *ir.ExprVarRef:
		return it.readVar(ex.Decl, f)
	case *ir.ExprUnary:
		x, err := it.eval(ex.X, f)
		if err != nil {
			return Value{}, err
		}
		return evalUnary(ex.Op, x)
	case *ir.ExprBinary:
		l, err := it.eval(ex.L, f)
		if err != nil {
			return Value{}, err
		}
		r, err := it.eval(ex.R, f)
		if err != nil {
			return Value{}, err
		}
		return evalBinary(ex.Op, l, r)
	case *ir.ExprClosure:
		return it.makeClosure(ex.Fn, f), nil
	case *ir.ExprFieldGet:
		recv, err := it.eval(ex.Receiver, f)
		if err != nil {
			return Value{}, err
		}
		if recv.Kind != KindInstance {
			return Value{}, fmt.Errorf("simulate: field access on non-instance")
		}
		return recv.Inst.Fields[ex.Field], nil
	case *ir.ExprNew:
		return it.instantiate(ex, f)
	case *ir.ExprCall:
		return it.evalCall(ex, f)
	default:
		return Value{}, fmt.Errorf("simulate: unhandled expr %T", ex)
	}
}

func (it *Interp) readVar(decl ir.VarDecl, f *frame) (Value, error) {
	switch d := decl.(type) {
	case *ir.Local:
		cell, ok := f.locals[d]
		if !ok {
			return Null(), nil
		}
		return cell.V, nil
	case *ir.Upvalue:
		if d.Index >= len(f.pack) {
			return Value{}, fmt.Errorf("simulate: upvalue index %d out of range", d.Index)
		}
		return f.pack[d.Index].V, nil
	case *ir.Global:
		return it.globals[d.Name], nil
	default:
		return Value{}, fmt.Errorf("simulate: unknown var decl %T", decl)
	}
}

// makeClosure captures the current frame's cells for fn's declared
// upvalue chain: a *ir.Local parent is captured from this frame
// directly, an *ir.Upvalue parent is forwarded from this frame's own
// pack (the chain the scope resolver built one hop at a time).
func (it *Interp) makeClosure(fn *ir.Fn, f *frame) Value {
	pack := make([]*Cell, len(fn.Upvalues))
	for i, up := range fn.Upvalues {
		switch parent := up.Parent.(type) {
		case *ir.Local:
			cell, ok := f.locals[parent]
			if !ok {
				cell = &Cell{}
				f.locals[parent] = cell
			}
			pack[i] = cell
		case *ir.Upvalue:
			pack[i] = f.pack[parent.Index]
		}
	}
	return Value{Kind: KindClosure, Closure: &Closure{Fn: fn, Pack: pack}}
}

func (it *Interp) instantiate(ex *ir.ExprNew, f *frame) (Value, error) {
	class, ok := it.classes[ex.Class]
	if !ok {
		return Value{}, fmt.Errorf("simulate: unknown class %q", ex.Class)
	}
	inst := &Instance{Class: class, Fields: make(map[string]Value, len(class.Fields))}
	for _, fld := range class.Fields {
		inst.Fields[fld] = Null()
	}
	v := Value{Kind: KindInstance, Inst: inst}
	for _, m := range class.Methods {
		if m.Name == "init" || m.Name == "new" {
			args, err := it.evalArgs(ex.Args, f)
			if err != nil {
				return Value{}, err
			}
			if _, err := it.callMethod(m, v, args); err != nil {
				return Value{}, err
			}
			break
		}
	}
	return v, nil
}

func (it *Interp) callMethod(m *ir.Fn, recv Value, args []Value) (Value, error) {
	mf := &frame{locals: make(map[*ir.Local]*Cell), fn: m, this: recv}
	for i, p := range m.Params {
		var v Value
		if i < len(args) {
			v = args[i]
		}
		mf.locals[p] = &Cell{V: v}
	}
	sig, ret, err := it.exec(m.Body, mf)
	if err != nil {
		return Value{}, err
	}
	if sig == ctrlReturn {
		return ret, nil
	}
	return Null(), nil
}

func (it *Interp) evalArgs(exprs []ir.Expr, f *frame) ([]Value, error) {
	args := make([]Value, len(exprs))
	for i, a := range exprs {
		v, err := it.eval(a, f)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

func (it *Interp) evalCall(ex *ir.ExprCall, f *frame) (Value, error) {
	args, err := it.evalArgs(ex.Args, f)
	if err != nil {
		return Value{}, err
	}
	if ex.Receiver != nil {
		recv, err := it.eval(ex.Receiver, f)
		if err != nil {
			return Value{}, err
		}
		return it.dispatch(recv, ex.SignatureID, args)
	}
	callee, err := it.eval(ex.Callee, f)
	if err != nil {
		return Value{}, err
	}
	if isPrintCallee(ex.Callee) {
		return it.builtinPrint(args), nil
	}
	if callee.Kind != KindClosure {
		return Value{}, fmt.Errorf("simulate: call target is not callable")
	}
	return it.call(callee.Closure, args)
}

// isPrintCallee special-cases calling the "print" global, the one
// builtin the end-to-end scenarios need to observe output; stdlib
// method bodies are otherwise out of scope.
func isPrintCallee(e ir.Expr) bool {
	ref, ok := e.(*ir.ExprVarRef)
	if !ok {
		return false
	}
	g, ok := ref.Decl.(*ir.Global)
	return ok && g.Name == "print"
}

func (it *Interp) builtinPrint(args []Value) Value {
	for i, a := range args {
		if i > 0 {
			it.Out.WriteString(" ")
		}
		it.Out.WriteString(Stringify(a))
	}
	it.Out.WriteString("\n")
	return Null()
}

// Stringify renders a Value the way print displays it.
func Stringify(v Value) string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		if v.B {
			return "true"
		}
		return "false"
	case KindNumber:
		return formatNumber(v.Num)
	case KindString:
		return v.Str
	case KindClosure:
		return "<fn>"
	case KindInstance:
		return "<instance " + v.Inst.Class.Name + ">"
	default:
		return "<?>"
	}
}

func formatNumber(n float64) string {
	if n == float64(int64(n)) {
		return fmt.Sprintf("%d", int64(n))
	}
	return fmt.Sprintf("%g", n)
}

func (it *Interp) dispatch(recv Value, sigID uint64, args []Value) (Value, error) {
	if recv.Kind != KindInstance {
		return Value{}, fmt.Errorf("simulate: method dispatch on non-instance")
	}
	for _, m := range recv.Inst.Class.Methods {
		if m.SignatureID == sigID {
			return it.callMethod(m, recv, args)
		}
	}
	return Value{}, fmt.Errorf("simulate: no method matches signature %d on %s", sigID, recv.Inst.Class.Name)
}
