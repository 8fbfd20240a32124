// Package lex holds the small stateless helpers shared by the parser
// and the executor: the filter operator table, quote stripping, $NAME
// variable substitution, right-hand-side value coercion, and the
// path-sandbox check. Grounded on the longest-first operator matching
// and quote-stripping already present in the original Python parser
// (ppl_parser.py's _FILTER_OPERATORS / _strip_quotes), rendered the
// idiomatic-Go way.
package lex

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Operators lists the supported comparison operators, longest first so
// that two-character operators are matched before their one-character
// prefixes (">=" before ">").
var Operators = []string{">=", "<=", "!=", "==", ">", "<"}

var varRe = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)

// StripQuotes removes exactly one matched pair of surrounding single or
// double quotes from value, if present.
func StripQuotes(value string) string {
	v := strings.TrimSpace(value)
	if len(v) < 2 {
		return v
	}
	first, last := v[0], v[len(v)-1]
	if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
		return v[1 : len(v)-1]
	}
	return v
}

// SplitCondition splits a condition string into column, operator, and
// raw right-hand side, trying two-character operators before
// one-character ones. Returns false if no operator could be found or
// either side is empty.
func SplitCondition(s string) (col, op, rhs string, ok bool) {
	s = strings.TrimSpace(s)
	for _, candidate := range Operators {
		if idx := strings.Index(s, candidate); idx >= 0 {
			col = strings.TrimSpace(s[:idx])
			rhs = strings.TrimSpace(s[idx+len(candidate):])
			if col == "" || rhs == "" {
				continue
			}
			return col, candidate, rhs, true
		}
	}
	return "", "", "", false
}

// VarLookup resolves a variable name to its string value.
type VarLookup func(name string) (string, bool)

// Substitute replaces every $NAME token in s with its variable value.
// An unknown name returns an error naming it, matching spec.md's
// KeyError-class "unknown reference" failure.
func Substitute(s string, lookup VarLookup) (string, error) {
	var outerErr error
	result := varRe.ReplaceAllStringFunc(s, func(tok string) string {
		if outerErr != nil {
			return tok
		}
		name := tok[1:]
		val, ok := lookup(name)
		if !ok {
			outerErr = fmt.Errorf("unknown variable '$%s'", name)
			return tok
		}
		return val
	})
	if outerErr != nil {
		return "", outerErr
	}
	return result, nil
}

// ResolveSingle resolves a bare value that may itself be a single $NAME
// reference; any other value is returned unchanged.
func ResolveSingle(value string, lookup VarLookup) (string, error) {
	if strings.HasPrefix(value, "$") && varRe.FindString(value) == value {
		name := value[1:]
		val, ok := lookup(name)
		if !ok {
			return "", fmt.Errorf("unknown variable '$%s'", name)
		}
		return val, nil
	}
	return value, nil
}

// Value is a runtime-typed right-hand-side value: either a float64 or
// a string, mirroring spec.md §9's two-variant sum type.
type Value struct {
	IsNumber bool
	Number   float64
	Str      string
}

func (v Value) String() string {
	if v.IsNumber {
		return strconv.FormatFloat(v.Number, 'g', -1, 64)
	}
	return v.Str
}

// CoerceRHS strips outer quotes and attempts to parse the remainder as
// a float64; on failure it is kept as a string.
func CoerceRHS(raw string) Value {
	s := StripQuotes(raw)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Value{IsNumber: true, Number: f}
	}
	return Value{Str: s}
}

// CheckSandbox verifies that path, once resolved relative to cwd, is
// equal to or strictly nested under sandboxDir. Both sides are
// canonicalised (absolute + symlinks resolved where possible) so that
// ".." traversals and symlink escapes are caught, and so that sibling
// prefixes like "/data" vs "/data2" are correctly rejected.
func CheckSandbox(sandboxDir, path string) error {
	if sandboxDir == "" {
		return nil
	}
	canonSandbox, err := canonicalize(sandboxDir)
	if err != nil {
		return fmt.Errorf("permission: cannot resolve sandbox directory '%s': %w", sandboxDir, err)
	}
	canonPath, err := canonicalize(path)
	if err != nil {
		return fmt.Errorf("permission: cannot resolve path '%s': %w", path, err)
	}
	if canonPath == canonSandbox {
		return nil
	}
	if strings.HasPrefix(canonPath, canonSandbox+string(filepath.Separator)) {
		return nil
	}
	return fmt.Errorf("permission: path '%s' escapes sandbox '%s'", path, sandboxDir)
}

// canonicalize resolves path to an absolute, symlink-free form. When
// the path (or one of its ancestors) does not yet exist, it falls back
// to filepath.Abs + filepath.Clean so that paths about to be created
// by a "save" command can still be sandbox-checked.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	// Path doesn't exist yet (e.g. a "save" destination): resolve as
	// far up the tree as symlinks actually exist, then re-append the
	// missing tail.
	dir := filepath.Dir(abs)
	base := filepath.Base(abs)
	for {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(resolved, base), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return filepath.Clean(abs), nil
		}
		base = filepath.Join(filepath.Base(dir), base)
		dir = parent
	}
}
