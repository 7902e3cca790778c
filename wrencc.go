// Package wrencc compiles a resolved wren-like intermediate representation
// to native LLVM IR. Compile is the single entry point: it runs the upvalue
// planner, the relocation inserter, and the code generator over a Module in
// that order, recovering any internal panic at this boundary rather than
// letting it escape as a crash. It does not run the scope analyzer: the
// Module must already be name-resolved (for example by internal/irdoc.Build).
package wrencc

import (
	"bytes"
	"fmt"

	"github.com/wrencc/wrencc/internal/codegen"
	"github.com/wrencc/wrencc/internal/diag"
	"github.com/wrencc/wrencc/internal/ir"
	"github.com/wrencc/wrencc/internal/reloc"
	"github.com/wrencc/wrencc/internal/sig"
	"github.com/wrencc/wrencc/internal/upvalue"
)

// UserError is a diagnostic tied to a source position in the input
// program. Compile collects these across a pass instead of aborting on
// the first one, where the pass allows it.
type UserError = diag.SourceError

// InternalError wraps a compiler-bug panic recovered at the Compile
// boundary. Seeing one always indicates a defect in this compiler, never
// a problem with the input program.
type InternalError = diag.InternalError

// ArtifactFormat tags what a CompileResult's Output is intended for.
// Since no native assembler is invoked in this repository, Output is
// always LLVM IR text; the tag records the downstream stage the caller
// should feed it to next.
type ArtifactFormat int

const (
	// FormatLLVMIR marks Output as textual LLVM IR ready for llc/clang.
	FormatLLVMIR ArtifactFormat = iota
	// FormatObject marks that Output is *intended* for eventual object
	// code, even though this backend only emits LLVM IR text; downstream
	// tooling outside this repository is expected to invoke llc.
	FormatObject
)

// CompileResult is the outcome of a successful Compile.
type CompileResult struct {
	Output []byte
	Format ArtifactFormat
}

// CompileOptions tunes a single Compile call.
type CompileOptions struct {
	// EmitObjectTag requests FormatObject instead of FormatLLVMIR on the
	// returned CompileResult; the bytes produced are identical either
	// way.
	EmitObjectTag bool
}

// Compile runs the upvalue planner and the relocation inserter over mod
// and lowers the result to LLVM IR. Compile panics originating from any pass are recovered and
// reported as *InternalError; malformed input surfaces as *UserError (or,
// for a full pass such as undefined-global checking, a collection of
// them joined by diag.List).
func Compile(mod *ir.Module, opts CompileOptions) (result *CompileResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = diag.Recover("compile", r)
		}
	}()

	registry := sig.NewRegistry()
	if err := checkUndefinedGlobals(mod); err != nil {
		return nil, err
	}
	internSignatures(registry, mod)

	// upvalue.Plan discovers every nested closure reachable from a
	// top-level Fn; reloc.Insert must run over each of those bodies too,
	// since a nested closure's own scope exits need their own relocation
	// sites independent of its enclosing function's.
	for _, fn := range allFunctions(mod) {
		for nested := range upvalue.Plan(fn) {
			reloc.Insert(nested)
		}
	}

	gen := codegen.NewGenerator()
	llMod := gen.Module(mod)

	var buf bytes.Buffer
	fmt.Fprint(&buf, llMod.String())

	format := FormatLLVMIR
	if opts.EmitObjectTag {
		format = FormatObject
	}
	return &CompileResult{Output: buf.Bytes(), Format: format}, nil
}

// checkUndefinedGlobals runs the module-end diagnostic described in the
// scope analyzer's design: a global referenced before any assignment
// anywhere in the module is reported once, by line of first use, rather
// than failing fast at the first reference.
func checkUndefinedGlobals(mod *ir.Module) error {
	var list diag.List
	for _, g := range mod.Globals {
		if g.UndeclaredLineUsed > 0 {
			list.Add(g.UndeclaredLineUsed, 0, "global %q used before any assignment in this module", g.Name)
		}
	}
	if list.HasErrors() {
		return &list
	}
	return nil
}

// internSignatures interns every method's canonical signature once, up
// front, so the IDs embedded in each ExprCall's SignatureID and the
// runtime's method tables agree without either side recomputing a hash
// per call site. Codegen also recomputes these same signatures
// independently when it builds the registration table wren_register_
// signatures_table installs, so a program's dispatch ids and its
// registered names are always derived from the one canonical encoding.
func internSignatures(registry *sig.Registry, mod *ir.Module) {
	for _, c := range mod.Classes {
		for _, m := range c.Methods {
			m.SignatureID = registry.Intern(sig.Signature{Name: m.Name, Arity: len(m.Params), Kind: sig.KindMethod})
		}
		for _, m := range c.StaticMethods {
			m.SignatureID = registry.Intern(sig.Signature{Name: m.Name, Arity: len(m.Params), Kind: sig.KindMethod, Static: true})
		}
	}
}

func allFunctions(mod *ir.Module) []*ir.Fn {
	fns := append([]*ir.Fn{}, mod.Functions...)
	for _, c := range mod.Classes {
		fns = append(fns, c.Methods...)
		fns = append(fns, c.StaticMethods...)
	}
	return fns
}
