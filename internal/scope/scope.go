// Package scope performs name resolution over the ir tree: given a name
// reference at some point in a function, it walks frames innermost to
// outermost, then recurses into the parent function chain (synthesizing
// ir.Upvalue nodes as it goes), and finally falls back to module
// globals. This is the Go-generalized form of the teacher compiler's
// single-function scope/resolveUpvalue algorithm, lifted to operate
// directly on the typed ir tree across an arbitrary function nest.
package scope

import (
	"fmt"

	"github.com/wrencc/wrencc/internal/diag"
	"github.com/wrencc/wrencc/internal/ir"
)

// Frame tracks the locals declared in one function, as a stack of
// lexical blocks (innermost last).
type Frame struct {
	fn     *ir.Fn
	blocks []map[string]*ir.Local
}

// NewFrame starts a resolution frame for fn, seeded with its parameters.
func NewFrame(fn *ir.Fn) (*Frame, error) {
	f := &Frame{fn: fn}
	f.Push()
	for _, p := range fn.Params {
		if err := f.Declare(p); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Push opens a new lexical block.
func (f *Frame) Push() {
	f.blocks = append(f.blocks, make(map[string]*ir.Local))
}

// Pop closes the innermost lexical block, returning the locals declared
// directly within it (in declaration order is not preserved here; callers
// needing order should track it alongside Declare).
func (f *Frame) Pop() []*ir.Local {
	n := len(f.blocks) - 1
	blk := f.blocks[n]
	f.blocks = f.blocks[:n]
	out := make([]*ir.Local, 0, len(blk))
	for _, l := range blk {
		out = append(out, l)
	}
	return out
}

// Declare registers a local in the innermost open block. It fails if a
// local with the same name is already declared in that same block —
// shadowing an outer block's binding is fine, redeclaring within one
// block is not.
func (f *Frame) Declare(l *ir.Local) error {
	blk := f.blocks[len(f.blocks)-1]
	if _, exists := blk[l.Name]; exists {
		return &diag.SourceError{
			Line:    l.Debug.Line,
			Column:  l.Debug.Column,
			Message: fmt.Sprintf("duplicate local %q in the same frame", l.Name),
		}
	}
	blk[l.Name] = l
	return nil
}

// resolveLocal looks for name in this frame's blocks, innermost first.
func (f *Frame) resolveLocal(name string) (*ir.Local, bool) {
	for i := len(f.blocks) - 1; i >= 0; i-- {
		if l, ok := f.blocks[i][name]; ok {
			return l, true
		}
	}
	return nil, false
}

// GetFramesSince returns the open blocks from the top down to (but not
// including) the block at depth: every scope a break/return/outward jump
// back to that depth passes through. internal/reloc does not call it; it
// keeps its own scope stack.
func (f *Frame) GetFramesSince(depth int) []map[string]*ir.Local {
	if depth < 0 {
		depth = 0
	}
	if depth > len(f.blocks) {
		depth = len(f.blocks)
	}
	return f.blocks[depth:]
}

// Depth reports the number of currently open blocks.
func (f *Frame) Depth() int { return len(f.blocks) }

// Resolver walks a stack of Frames (one per function in the current call
// nest, outermost first is Frames[0]) plus a module's globals.
type Resolver struct {
	module  *ir.Module
	frames  []*Frame
	globals map[string]*ir.Global
}

// NewResolver starts a resolver for module, with no active function
// frames; PushFn/PopFn manage the function nest as the caller descends
// into nested function bodies.
func NewResolver(module *ir.Module) *Resolver {
	r := &Resolver{module: module, globals: make(map[string]*ir.Global)}
	for _, g := range module.Globals {
		r.globals[g.Name] = g
	}
	return r
}

// PushFn enters a nested function, returning its resolution Frame.
func (r *Resolver) PushFn(fn *ir.Fn) (*Frame, error) {
	f, err := NewFrame(fn)
	if err != nil {
		return nil, err
	}
	r.frames = append(r.frames, f)
	return f, nil
}

// PopFn leaves the innermost function.
func (r *Resolver) PopFn() {
	r.frames = r.frames[:len(r.frames)-1]
}

// Top returns the innermost active Frame.
func (r *Resolver) Top() *Frame {
	return r.frames[len(r.frames)-1]
}

// Resolve finds name's VarDecl starting from the innermost frame. If
// found as a local in a strictly outer function, an ir.Upvalue chain is
// synthesized through every intervening function (mutating each Fn's
// Upvalues slice), matching resolveUpvalue's recursive-capture
// behavior. If not found in any active function, it resolves to the
// module Global, marking UndeclaredLineUsed if no Global exists yet at
// this name (the caller declares one first call site, then the pass
// that runs after parsing decides whether it is ever defined).
func (r *Resolver) Resolve(name string, line int) ir.VarDecl {
	if len(r.frames) > 0 {
		if v, ok := r.resolveInFrame(len(r.frames)-1, name); ok {
			return v
		}
	}
	return r.resolveGlobal(name, line)
}

func (r *Resolver) resolveInFrame(idx int, name string) (ir.VarDecl, bool) {
	f := r.frames[idx]
	if l, ok := f.resolveLocal(name); ok {
		return l, true
	}
	if idx == 0 {
		return nil, false
	}
	outer, ok := r.resolveInFrame(idx-1, name)
	if !ok {
		return nil, false
	}
	switch o := outer.(type) {
	case *ir.Local:
		o.BeginUpvalues = true
		up := &ir.Upvalue{Name: name, Index: len(f.fn.Upvalues), Parent: o, Owner: f.fn}
		o.Upvalues = append(o.Upvalues, up)
		f.fn.Upvalues = append(f.fn.Upvalues, up)
		return up, true
	case *ir.Upvalue:
		up := &ir.Upvalue{Name: name, Index: len(f.fn.Upvalues), Parent: o, Owner: f.fn}
		f.fn.Upvalues = append(f.fn.Upvalues, up)
		return up, true
	default:
		return nil, false
	}
}

func (r *Resolver) resolveGlobal(name string, line int) *ir.Global {
	if g, ok := r.globals[name]; ok {
		return g
	}
	g := &ir.Global{Name: name, UndeclaredLineUsed: line}
	r.globals[name] = g
	r.module.Globals = append(r.module.Globals, g)
	return g
}

// UndefinedGlobals returns every Global that was referenced before any
// declaration ever defined it, for the "global never defined" diagnostic
// raised once at module end.
func (r *Resolver) UndefinedGlobals(defined map[string]bool) []*ir.Global {
	var out []*ir.Global
	for _, g := range r.module.Globals {
		if !defined[g.Name] {
			out = append(out, g)
		}
	}
	return out
}
