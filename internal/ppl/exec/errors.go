// Package exec is the executor (component E): a stateful interpreter
// that drives the parsed AST against a mutable PipelineContext.
// Grounded on the teacher's internal/llmsh.Executor, which type-switches
// over parser.Node and owns the same kind of shared, mutable state
// (vfs, quotaManager) that our PipelineContext owns (table, grouping,
// variables, sandbox).
package exec

import (
	"errors"
	"fmt"
	"reflect"
)

// Kind is the error taxonomy of spec.md §7.
type Kind string

const (
	Syntax     Kind = "Syntax"
	NotFound   Kind = "NotFound"
	KeyErr     Kind = "KeyError"
	ValueErr   Kind = "Value"
	Permission Kind = "Permission"
	Runtime    Kind = "Runtime"
	Assertion  Kind = "Assertion"
)

// Error is a classified executor error.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func notFoundf(format string, args ...interface{}) error   { return newErr(NotFound, format, args...) }
func keyErrorf(format string, args ...interface{}) error   { return newErr(KeyErr, format, args...) }
func valuef(format string, args ...interface{}) error      { return newErr(ValueErr, format, args...) }
func permissionf(format string, args ...interface{}) error { return newErr(Permission, format, args...) }
func runtimef(format string, args ...interface{}) error    { return newErr(Runtime, format, args...) }
func assertf(format string, args ...interface{}) error     { return newErr(Assertion, format, args...) }

// wrapNode prefixes err with the command-variant name, preserving its
// Kind when it is already classified. Grounded exactly on
// original_source/executor.py's run_pipeline:
// raise type(exc)(f"[{node_name}] {exc}") from exc.
func wrapNode(nodeName string, err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return &Error{Kind: classified.Kind, Err: fmt.Errorf("[%s] %s", nodeName, classified.Err)}
	}
	return &Error{Kind: Runtime, Err: fmt.Errorf("[%s] %w", nodeName, err)}
}

// nodeName returns the bare Go type name of an ast.Node pointer, e.g.
// "Filter", "CompoundFilter", "AddIf" — these already match spec.md's
// command-variant names one-to-one.
func nodeName(n interface{}) string {
	t := reflect.TypeOf(n)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
