// Package ir defines the typed tree intermediate representation that sits
// between front-end parsing (out of scope) and native code generation.
// Nodes carry debug info for diagnostics and dispatch by tag, not by
// virtual call: every Stmt and Expr implementation is a plain struct with
// a marker method, and passes switch on the concrete type.
package ir

// DebugInfo is attached to every node for diagnostics and relocation
// bookkeeping.
type DebugInfo struct {
	Line      int
	Column    int
	Synthetic bool
}

// VarDecl is the sum type of places a name can resolve to: a Local slot
// in the current function, an Upvalue captured from an enclosing
// function, or a Global resolved at module scope.
type VarDecl interface {
	varDecl()
	DeclName() string
}

// Local is a stack-slot variable owned by a single Fn activation. If it
// is ever captured by a nested closure, Upvalues records every Upvalue
// that points at it and BeginUpvalues marks the point at which escape
// analysis decided the slot needs relocation tracking.
type Local struct {
	Name          string
	Slot          int
	IsParam       bool
	BeginUpvalues bool
	Upvalues      []*Upvalue
	Debug         DebugInfo
}

func (*Local) varDecl()          {}
func (l *Local) DeclName() string { return l.Name }

// Upvalue is a name resolved in a function strictly enclosing the
// function that references it. Parent is either the captured Local in
// the immediately enclosing function, or another Upvalue one level
// further out, forming the capture chain that the upvalue planner later
// flattens into per-function packs.
type Upvalue struct {
	Name   string
	Index  int
	Parent VarDecl
	Owner  *Fn
	Debug  DebugInfo
}

func (*Upvalue) varDecl()          {}
func (u *Upvalue) DeclName() string { return u.Name }

// Global is a module-level binding. UndeclaredLineUsed records the first
// line a reference appeared before any declaration was seen, so the
// "global never defined" diagnostic can be raised once at module end
// instead of at first use.
type Global struct {
	Name               string
	UndeclaredLineUsed int
	Debug              DebugInfo
}

func (*Global) varDecl()          {}
func (g *Global) DeclName() string { return g.Name }

// Fn is a compiled function or method body.
type Fn struct {
	Name        string
	Params      []*Local
	Locals      []*Local
	Upvalues    []*Upvalue // filled in by the scope resolver, in capture order
	Body        []Stmt
	Parent      *Fn // enclosing function, nil at module scope
	IsMethod    bool
	Receiver    *Local
	ClassOwner  *Class
	SignatureID uint64 // interned via internal/sig for methods; unused for free functions
	Debug       DebugInfo
}

// Class describes a class declaration: its fields and its instance and
// static method tables.
type Class struct {
	Name          string
	Superclass    string
	Fields        []string
	Methods       []*Fn
	StaticMethods []*Fn
	Debug         DebugInfo
}

// Module is the root of a compiled program.
type Module struct {
	Name      string
	Globals   []*Global
	Functions []*Fn
	Classes   []*Class
}

// Stmt is the tagged-dispatch interface for statement nodes.
type Stmt interface {
	stmt()
	DebugInfo() DebugInfo
}

type stmtBase struct {
	Debug       DebugInfo
	BackendData any // backend-attached state (LLVM block, etc.), opaque here
}

func (b stmtBase) DebugInfo() DebugInfo { return b.Debug }

// StmtExpr evaluates an expression and discards its result.
type StmtExpr struct {
	stmtBase
	Expr Expr
}

func (StmtExpr) stmt() {}

// StmtVarDecl declares and initializes a local.
type StmtVarDecl struct {
	stmtBase
	Decl *Local
	Init Expr
}

func (StmtVarDecl) stmt() {}

// StmtAssign assigns to any VarDecl (local, upvalue, or global).
type StmtAssign struct {
	stmtBase
	Target VarDecl
	Value  Expr
}

func (StmtAssign) stmt() {}

// StmtFieldAssign assigns to an object field: receiver.field = value.
type StmtFieldAssign struct {
	stmtBase
	Receiver Expr
	Field    string
	Value    Expr
}

func (StmtFieldAssign) stmt() {}

// StmtIf is a conditional with optional else branch.
type StmtIf struct {
	stmtBase
	Cond Expr
	Then []Stmt
	Else []Stmt
}

func (StmtIf) stmt() {}

// StmtWhile is a pre-test loop.
type StmtWhile struct {
	stmtBase
	Cond Expr
	Body []Stmt
}

func (StmtWhile) stmt() {}

// StmtReturn returns from the enclosing Fn, optionally with a value.
type StmtReturn struct {
	stmtBase
	Value Expr // nil means return null
}

func (StmtReturn) stmt() {}

// StmtBreak exits the innermost enclosing loop.
type StmtBreak struct {
	stmtBase
}

func (StmtBreak) stmt() {}

// StmtBlock introduces a lexical scope. Locals declared inside Body go
// out of scope when the block exits; if any of them have
// BeginUpvalues set, the relocation pass inserts a StmtRelocateUpvalues
// at every exit path from this block.
type StmtBlock struct {
	stmtBase
	Body []Stmt
}

func (StmtBlock) stmt() {}

// StmtRelocateUpvalues is inserted by the relocation pass, never by a
// front end, at every control-flow exit (fallthrough, return, break, or
// outward jump) from a scope that declared escape-capable locals. It
// names exactly the locals whose storage must be promoted off the stack
// before the exit completes.
type StmtRelocateUpvalues struct {
	stmtBase
	Locals []*Local
}

func (StmtRelocateUpvalues) stmt() {}

// StmtEvalAndIgnore evaluates an expression purely for its side effects,
// distinct from StmtExpr in that it is only ever synthesized (e.g. to
// sequence an implicit drop), never produced directly by a declaration.
type StmtEvalAndIgnore struct {
	stmtBase
	Expr Expr
}

func (StmtEvalAndIgnore) stmt() {}

// Expr is the tagged-dispatch interface for expression nodes.
type Expr interface {
	expr()
	DebugInfo() DebugInfo
}

type exprBase struct {
	Debug DebugInfo
}

func (b exprBase) DebugInfo() DebugInfo { return b.Debug }

type ExprLiteralNum struct {
	exprBase
	Value float64
}

func (ExprLiteralNum) expr() {}

type ExprLiteralStr struct {
	exprBase
	Value string
}

func (ExprLiteralStr) expr() {}

type ExprLiteralBool struct {
	exprBase
	Value bool
}

func (ExprLiteralBool) expr() {}

type ExprLiteralNull struct {
	exprBase
}

func (ExprLiteralNull) expr() {}

// ExprVarRef reads the current value of a VarDecl.
type ExprVarRef struct {
	exprBase
	Decl VarDecl
}

func (ExprVarRef) expr() {}

type ExprBinary struct {
	exprBase
	Op   string
	L, R Expr
}

func (ExprBinary) expr() {}

type ExprUnary struct {
	exprBase
	Op string
	X  Expr
}

func (ExprUnary) expr() {}

// ExprCall invokes a callable with Args. When Receiver is non-nil, the
// call is dispatched through SignatureID against the receiver's class
// method table (virtual dispatch). When Receiver is nil, Callee is
// evaluated to a closure value and invoked directly (a bare function or
// local closure call).
type ExprCall struct {
	exprBase
	Receiver    Expr // non-nil for method/virtual dispatch
	SignatureID uint64
	Callee      Expr // non-nil for direct closure invocation
	Args        []Expr
}

func (ExprCall) expr() {}

// ExprNew allocates a new instance of Class and runs its initializer.
type ExprNew struct {
	exprBase
	Class string
	Args  []Expr
}

func (ExprNew) expr() {}

type ExprFieldGet struct {
	exprBase
	Receiver Expr
	Field    string
}

func (ExprFieldGet) expr() {}

// ExprClosure captures Fn as a first-class value in the current scope.
type ExprClosure struct {
	exprBase
	Fn *Fn
}

func (ExprClosure) expr() {}

type ExprThis struct {
	exprBase
}

func (ExprThis) expr() {}
