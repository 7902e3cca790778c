// Package diag formats compiler diagnostics, distinguishing user-facing
// source errors (collected across a pass) from internal compiler-bug
// aborts (caught at the single top-level compile boundary and converted
// to a typed error rather than crashing the process), in the style of
// the teacher's runtime diagnostics package.
package diag

import "fmt"

// SourceError is one user-facing diagnostic tied to a source position.
type SourceError struct {
	Line    int
	Column  int
	Message string
}

func (e *SourceError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// List collects SourceErrors across a pass instead of aborting on the
// first one, matching the module-global-never-defined diagnostic, which
// is only known once the whole module has been resolved.
type List struct {
	Errors []*SourceError
}

// Add appends a diagnostic.
func (l *List) Add(line, column int, format string, args ...any) {
	l.Errors = append(l.Errors, &SourceError{Line: line, Column: column, Message: fmt.Sprintf(format, args...)})
}

// HasErrors reports whether any diagnostic was collected.
func (l *List) HasErrors() bool { return len(l.Errors) > 0 }

func (l *List) Error() string {
	if len(l.Errors) == 1 {
		return l.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors, first: %s", len(l.Errors), l.Errors[0].Error())
}

// InternalError wraps a compiler-bug panic recovered at the compile
// boundary: it always indicates a defect in this compiler, never a
// problem with the input program.
type InternalError struct {
	Pass  string
	Cause any
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal compiler error in pass %q: %v", e.Pass, e.Cause)
}

// Recover turns a recovered panic value into an *InternalError, or
// returns nil if r is nil (the no-panic case). Intended for use in a
// deferred recover() at the single top-level compile entry point.
func Recover(pass string, r any) error {
	if r == nil {
		return nil
	}
	if err, ok := r.(error); ok {
		return &InternalError{Pass: pass, Cause: err}
	}
	return &InternalError{Pass: pass, Cause: r}
}
