package parser

import (
	"fmt"
	"testing"

	"github.com/mako10k/llmcmd/internal/ppl/ast"
)

func mustParse(t *testing.T, lines []string) []ast.Node {
	t.Helper()
	nodes, err := Parse(lines)
	if err != nil {
		t.Fatalf("Parse(%v) unexpected error: %v", lines, err)
	}
	return nodes
}

func TestParseSource(t *testing.T) {
	nodes := mustParse(t, []string{`source "data.csv"`})
	if len(nodes) != 1 {
		t.Fatalf("expected 1 node, got %d", len(nodes))
	}
	src, ok := nodes[0].(*ast.Source)
	if !ok {
		t.Fatalf("expected *ast.Source, got %T", nodes[0])
	}
	if src.Path != "data.csv" {
		t.Errorf("Path = %q, want data.csv", src.Path)
	}
	if src.ChunkSize != nil {
		t.Errorf("ChunkSize = %v, want nil", src.ChunkSize)
	}
}

func TestParseSourceWithChunk(t *testing.T) {
	nodes := mustParse(t, []string{"source data.csv chunk 500"})
	src := nodes[0].(*ast.Source)
	if src.ChunkSize == nil || *src.ChunkSize != 500 {
		t.Errorf("ChunkSize = %v, want 500", src.ChunkSize)
	}
}

func TestParseFilterSimple(t *testing.T) {
	nodes := mustParse(t, []string{"filter age >= 30"})
	f, ok := nodes[0].(*ast.Filter)
	if !ok {
		t.Fatalf("expected *ast.Filter, got %T", nodes[0])
	}
	if f.Col != "age" || f.Op != ">=" || f.RHS != "30" {
		t.Errorf("Filter = %+v, want age >= 30", f)
	}
}

func TestParseFilterCompound(t *testing.T) {
	nodes := mustParse(t, []string{"filter age >= 30 and status == active"})
	cf, ok := nodes[0].(*ast.CompoundFilter)
	if !ok {
		t.Fatalf("expected *ast.CompoundFilter, got %T", nodes[0])
	}
	if len(cf.Conds) != 2 || len(cf.Logic) != 1 || cf.Logic[0] != "and" {
		t.Errorf("CompoundFilter = %+v, want 2 conds joined by and", cf)
	}
}

func TestParseSelectAndDrop(t *testing.T) {
	nodes := mustParse(t, []string{"select name, age", "drop age"})
	sel, ok := nodes[0].(*ast.Select)
	if !ok || len(sel.Cols) != 2 || sel.Cols[0] != "name" || sel.Cols[1] != "age" {
		t.Fatalf("Select = %+v", nodes[0])
	}
	drop, ok := nodes[1].(*ast.Drop)
	if !ok || len(drop.Cols) != 1 || drop.Cols[0] != "age" {
		t.Fatalf("Drop = %+v", nodes[1])
	}
}

func TestParseSortByWithDirections(t *testing.T) {
	nodes := mustParse(t, []string{"sort by age desc, name"})
	s, ok := nodes[0].(*ast.Sort)
	if !ok {
		t.Fatalf("expected *ast.Sort, got %T", nodes[0])
	}
	if len(s.Cols) != 2 || s.Cols[0] != "age" || s.Cols[1] != "name" {
		t.Fatalf("Sort.Cols = %v", s.Cols)
	}
	if s.Ascending[0] != false || s.Ascending[1] != true {
		t.Errorf("Sort.Ascending = %v, want [false true]", s.Ascending)
	}
}

func TestParseCountBareAndConditional(t *testing.T) {
	nodes := mustParse(t, []string{"count", "count if age > 18"})
	if _, ok := nodes[0].(*ast.Count); !ok {
		t.Errorf("nodes[0] = %T, want *ast.Count", nodes[0])
	}
	ci, ok := nodes[1].(*ast.CountIf)
	if !ok || ci.Col != "age" || ci.Op != ">" || ci.RHS != "18" {
		t.Errorf("nodes[1] = %+v, want CountIf(age > 18)", nodes[1])
	}
}

func TestParseNoArgCommands(t *testing.T) {
	nodes := mustParse(t, []string{"print", "schema", "inspect", "distinct"})
	wantTypes := []ast.Node{&ast.Print{}, &ast.Schema{}, &ast.Inspect{}, &ast.Distinct{}}
	for i, want := range wantTypes {
		if got := nodes[i]; got == nil {
			t.Fatalf("node %d is nil", i)
		} else if _, ok := got.(interface{ Line() int }); !ok {
			t.Fatalf("node %d = %T not an ast.Node", i, got)
		}
		if fmt.Sprintf("%T", nodes[i]) != fmt.Sprintf("%T", want) {
			t.Errorf("node %d = %T, want %T", i, nodes[i], want)
		}
	}
}

func TestParseTryOnErrorSkip(t *testing.T) {
	nodes := mustParse(t, []string{
		"try",
		"filter age > 0",
		"on_error skip",
	})
	try, ok := nodes[0].(*ast.Try)
	if !ok {
		t.Fatalf("expected *ast.Try, got %T", nodes[0])
	}
	if len(try.Body) != 1 {
		t.Fatalf("Try.Body = %v, want 1 node", try.Body)
	}
	if try.OnError.Kind != ast.HandlerSkip {
		t.Errorf("OnError.Kind = %v, want HandlerSkip", try.OnError.Kind)
	}
}

func TestParseTryOnErrorLog(t *testing.T) {
	nodes := mustParse(t, []string{
		"try",
		"filter age > 0",
		`on_error log "bad row"`,
	})
	try := nodes[0].(*ast.Try)
	if try.OnError.Kind != ast.HandlerLog || try.OnError.Msg != "bad row" {
		t.Errorf("OnError = %+v, want Log(bad row)", try.OnError)
	}
}

func TestParseNestedTry(t *testing.T) {
	nodes := mustParse(t, []string{
		"try",
		"try",
		"filter age > 0",
		"on_error skip",
		"on_error skip",
	})
	outer, ok := nodes[0].(*ast.Try)
	if !ok {
		t.Fatalf("expected *ast.Try, got %T", nodes[0])
	}
	if len(outer.Body) != 1 {
		t.Fatalf("outer.Body = %v, want 1 nested Try node", outer.Body)
	}
	if _, ok := outer.Body[0].(*ast.Try); !ok {
		t.Fatalf("outer.Body[0] = %T, want *ast.Try", outer.Body[0])
	}
}

func TestParseTryWithoutOnErrorFails(t *testing.T) {
	if _, err := Parse([]string{"try", "filter age > 0"}); err == nil {
		t.Error("expected error for 'try' without matching 'on_error'")
	}
}

func TestParseOnErrorWithoutTryFails(t *testing.T) {
	if _, err := Parse([]string{"on_error skip"}); err == nil {
		t.Error("expected error for stray 'on_error'")
	}
}

func TestParseUnknownCommandFails(t *testing.T) {
	if _, err := Parse([]string{"frobnicate everything"}); err == nil {
		t.Error("expected error for unknown command")
	}
}

func TestParseSourceRequiresPath(t *testing.T) {
	if _, err := Parse([]string{"source"}); err == nil {
		t.Error("expected error for 'source' without a path")
	}
}

func TestParseLimitRejectsNegative(t *testing.T) {
	if _, err := Parse([]string{"limit -1"}); err == nil {
		t.Error("expected error for negative limit")
	}
}

func TestParseSamplePercent(t *testing.T) {
	nodes := mustParse(t, []string{"sample 10%"})
	s := nodes[0].(*ast.Sample)
	if s.Pct == nil || *s.Pct != 10 {
		t.Errorf("Sample.Pct = %v, want 10", s.Pct)
	}
}
