package exec

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mako10k/llmcmd/internal/ppl/ast"
)

func writeCSVFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture %s: %v", name, err)
	}
	return path
}

func newTestContext(t *testing.T) (*Context, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	ctx, err := NewContext(&out, false)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	t.Cleanup(func() { ctx.Close() })
	return ctx, &out
}

// TestRunDispatchesSourceThenFilter exercises Run's top-level dispatch
// across two distinct node kinds sharing one context, the gap Comment 2
// called "not Context.exec/Run dispatch".
func TestRunDispatchesSourceThenFilter(t *testing.T) {
	dir := t.TempDir()
	path := writeCSVFixture(t, dir, "people.csv", "name,age\nalice,30\nbob,16\ncarol,42\n")

	ctx, _ := newTestContext(t)
	nodes := []ast.Node{
		&ast.Source{Path: path},
		&ast.Filter{Col: "age", Op: ">=", RHS: "18"},
	}
	if err := Run(ctx, nodes); err != nil {
		t.Fatalf("Run: %v", err)
	}
	n, err := ctx.Table.RowCount()
	if err != nil {
		t.Fatalf("RowCount: %v", err)
	}
	if n != 2 {
		t.Errorf("RowCount after filter = %d, want 2 (alice, carol)", n)
	}
}

// TestRunDispatchesGroupByAndSum exercises the pending-grouping
// consume-and-clear path through Run's dispatch.
func TestRunDispatchesGroupByAndSum(t *testing.T) {
	dir := t.TempDir()
	path := writeCSVFixture(t, dir, "orders.csv", "region,amount\neast,10\neast,20\nwest,5\n")

	ctx, _ := newTestContext(t)
	nodes := []ast.Node{
		&ast.Source{Path: path},
		&ast.GroupBy{Cols: []string{"region"}},
		&ast.Sum{Col: "amount"},
	}
	if err := Run(ctx, nodes); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ctx.Grouping != nil {
		t.Errorf("Grouping = %v, want nil after aggregation consumed it", ctx.Grouping)
	}
	n, err := ctx.Table.RowCount()
	if err != nil {
		t.Fatalf("RowCount: %v", err)
	}
	if n != 2 {
		t.Errorf("RowCount after group+sum = %d, want 2 groups", n)
	}
}

// TestJoinViaRun exercises execJoin through the real dispatch path,
// against two sources loaded into the same context.
func TestJoinViaRun(t *testing.T) {
	dir := t.TempDir()
	leftPath := writeCSVFixture(t, dir, "left.csv", "id,name\n1,alice\n2,bob\n")
	rightPath := writeCSVFixture(t, dir, "right.csv", "id,score\n1,90\n2,80\n")

	ctx, _ := newTestContext(t)
	nodes := []ast.Node{
		&ast.Source{Path: leftPath},
		&ast.Join{Path: rightPath, Key: "id", How: ast.JoinInner},
	}
	if err := Run(ctx, nodes); err != nil {
		t.Fatalf("Run (join): %v", err)
	}
	n, err := ctx.Table.RowCount()
	if err != nil {
		t.Fatalf("RowCount: %v", err)
	}
	if n != 2 {
		t.Errorf("joined RowCount = %d, want 2", n)
	}
	allCols, err := ctx.Table.ColumnNames()
	if err != nil {
		t.Fatalf("ColumnNames: %v", err)
	}
	// The left side carries the hidden row-ordinal column added at load
	// time; compare only the user-visible columns.
	var cols []string
	for _, c := range allCols {
		if c != internalRowOrdColName {
			cols = append(cols, c)
		}
	}
	want := map[string]bool{"id": true, "name": true, "score": true}
	if len(cols) != len(want) {
		t.Errorf("joined columns = %v, want %v", cols, want)
	}
	for _, c := range cols {
		if !want[c] {
			t.Errorf("unexpected joined column %q", c)
		}
	}
}

func TestMergeConcatenatesRows(t *testing.T) {
	dir := t.TempDir()
	aPath := writeCSVFixture(t, dir, "a.csv", "name,age\nalice,30\n")
	bPath := writeCSVFixture(t, dir, "b.csv", "age,name\n40,bob\n")

	ctx, _ := newTestContext(t)
	nodes := []ast.Node{
		&ast.Source{Path: aPath},
		&ast.Merge{Path: bPath},
	}
	if err := Run(ctx, nodes); err != nil {
		t.Fatalf("Run (merge): %v", err)
	}
	n, err := ctx.Table.RowCount()
	if err != nil {
		t.Fatalf("RowCount: %v", err)
	}
	if n != 2 {
		t.Errorf("merged RowCount = %d, want 2", n)
	}
}

// TestFillForwardBackwardViaRun exercises Fill dispatch end to end,
// confirming ordering runs over __ppl_rowid rather than column value.
func TestFillForwardBackwardViaRun(t *testing.T) {
	dir := t.TempDir()
	path := writeCSVFixture(t, dir, "series.csv", "seq,value\n1,10\n2,\n3,\n4,40\n")

	fwdCtx, _ := newTestContext(t)
	if err := Run(fwdCtx, []ast.Node{
		&ast.Source{Path: path},
		&ast.Fill{Col: "value", Strategy: "forward"},
	}); err != nil {
		t.Fatalf("Run (fill forward): %v", err)
	}
	fwdRows, err := fwdCtx.Table.Rows("ORDER BY seq")
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	defer fwdRows.Close()
	assertColumnValues(t, fwdRows, 1, []float64{10, 10, 10, 40})

	backCtx, _ := newTestContext(t)
	if err := Run(backCtx, []ast.Node{
		&ast.Source{Path: path},
		&ast.Fill{Col: "value", Strategy: "backward"},
	}); err != nil {
		t.Fatalf("Run (fill backward): %v", err)
	}
	backRows, err := backCtx.Table.Rows("ORDER BY seq")
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	defer backRows.Close()
	assertColumnValues(t, backRows, 1, []float64{10, 40, 40, 40})
}

// assertColumnValues scans every row of rows and compares column colIdx
// against want, coercing whatever numeric Go type the driver returned.
func assertColumnValues(t *testing.T, rows interface {
	Next() bool
	Scan(...interface{}) error
	Columns() ([]string, error)
	Err() error
}, colIdx int, want []float64) {
	t.Helper()
	cols, err := rows.Columns()
	if err != nil {
		t.Fatalf("Columns: %v", err)
	}
	i := 0
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for j := range vals {
			ptrs[j] = &vals[j]
		}
		if err := rows.Scan(ptrs...); err != nil {
			t.Fatalf("Scan: %v", err)
		}
		if i >= len(want) {
			t.Fatalf("more rows than expected (row %d)", i)
		}
		got, ok := asFloatExec(vals[colIdx])
		if !ok || got != want[i] {
			t.Errorf("row %d col %d = %v, want %v", i, colIdx, vals[colIdx], want[i])
		}
		i++
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows.Err: %v", err)
	}
	if i != len(want) {
		t.Errorf("got %d rows, want %d", i, len(want))
	}
}

func asFloatExec(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// --- try / on_error recovery -------------------------------------------

func failingAssert() *ast.Assert {
	// age > 1000 is false for every row in the fixtures above, so this
	// always fails the assertion and drives the on_error handler.
	return &ast.Assert{Col: "age", Op: ">", RHS: "1000"}
}

func TestTrySkipSwallowsError(t *testing.T) {
	dir := t.TempDir()
	path := writeCSVFixture(t, dir, "people.csv", "name,age\nalice,30\n")

	ctx, out := newTestContext(t)
	nodes := []ast.Node{
		&ast.Source{Path: path},
		&ast.Try{
			Body:    []ast.Node{failingAssert()},
			OnError: ast.Handler{Kind: ast.HandlerSkip},
		},
	}
	if err := Run(ctx, nodes); err != nil {
		t.Fatalf("Run: %v, want try/skip to swallow the assert failure", err)
	}
	if strings.Contains(out.String(), "[TRY]") {
		t.Errorf("skip handler should not write to stdout, got %q", out.String())
	}
}

func TestTryLogSwallowsErrorAndWritesMessage(t *testing.T) {
	dir := t.TempDir()
	path := writeCSVFixture(t, dir, "people.csv", "name,age\nalice,30\n")

	ctx, out := newTestContext(t)
	nodes := []ast.Node{
		&ast.Source{Path: path},
		&ast.Try{
			Body:    []ast.Node{failingAssert()},
			OnError: ast.Handler{Kind: ast.HandlerLog, Msg: "age check failed"},
		},
	}
	if err := Run(ctx, nodes); err != nil {
		t.Fatalf("Run: %v, want try/log to swallow the assert failure", err)
	}
	if !strings.Contains(out.String(), "[TRY] age check failed") {
		t.Errorf("log handler should write a [TRY] line, got %q", out.String())
	}
}

func TestTryRunExecutesHandlerBody(t *testing.T) {
	dir := t.TempDir()
	path := writeCSVFixture(t, dir, "people.csv", "name,age\nalice,30\nbob,16\n")

	ctx, _ := newTestContext(t)
	nodes := []ast.Node{
		&ast.Source{Path: path},
		&ast.Try{
			Body: []ast.Node{failingAssert()},
			OnError: ast.Handler{
				Kind: ast.HandlerRun,
				Body: []ast.Node{&ast.Filter{Col: "age", Op: ">=", RHS: "18"}},
			},
		},
	}
	if err := Run(ctx, nodes); err != nil {
		t.Fatalf("Run: %v, want try/run to recover via handler body", err)
	}
	n, err := ctx.Table.RowCount()
	if err != nil {
		t.Fatalf("RowCount: %v", err)
	}
	if n != 1 {
		t.Errorf("RowCount after recovery filter = %d, want 1 (alice only)", n)
	}
}

func TestTryRunHandlerFailureEscapesWrapped(t *testing.T) {
	dir := t.TempDir()
	path := writeCSVFixture(t, dir, "people.csv", "name,age\nalice,30\n")

	ctx, _ := newTestContext(t)
	nodes := []ast.Node{
		&ast.Source{Path: path},
		&ast.Try{
			Body: []ast.Node{failingAssert()},
			OnError: ast.Handler{
				Kind: ast.HandlerRun,
				Body: []ast.Node{failingAssert()},
			},
		},
	}
	err := Run(ctx, nodes)
	if err == nil {
		t.Fatal("Run: want error when the handler body also fails")
	}
	if !strings.Contains(err.Error(), "Try") {
		t.Errorf("escaping handler error should be wrapped with the Try node name, got %q", err.Error())
	}
}

// TestChunkedSourceMatchesPlainSource is spec.md's "chunk equivalence"
// property: loading the same file with and without a chunk size set
// must produce the same row count and column schema.
func TestChunkedSourceMatchesPlainSource(t *testing.T) {
	dir := t.TempDir()
	path := writeCSVFixture(t, dir, "data.csv", "a,b\n1,2\n3,4\n5,6\n7,8\n")

	plainCtx, _ := newTestContext(t)
	if err := Run(plainCtx, []ast.Node{&ast.Source{Path: path}}); err != nil {
		t.Fatalf("Run (plain): %v", err)
	}

	chunkSize := 2
	chunkedCtx, _ := newTestContext(t)
	if err := Run(chunkedCtx, []ast.Node{&ast.Source{Path: path, ChunkSize: &chunkSize}}); err != nil {
		t.Fatalf("Run (chunked): %v", err)
	}
	if !chunkedCtx.Streaming {
		t.Error("Streaming = false, want true when ChunkSize is set")
	}
	if chunkedCtx.ChunkSize != chunkSize {
		t.Errorf("ChunkSize = %d, want %d", chunkedCtx.ChunkSize, chunkSize)
	}

	plainN, err := plainCtx.Table.RowCount()
	if err != nil {
		t.Fatalf("RowCount (plain): %v", err)
	}
	chunkedN, err := chunkedCtx.Table.RowCount()
	if err != nil {
		t.Fatalf("RowCount (chunked): %v", err)
	}
	if plainN != chunkedN {
		t.Errorf("row count mismatch: plain=%d chunked=%d", plainN, chunkedN)
	}

	plainCols, err := plainCtx.Table.Schema()
	if err != nil {
		t.Fatalf("Schema (plain): %v", err)
	}
	chunkedCols, err := chunkedCtx.Table.Schema()
	if err != nil {
		t.Fatalf("Schema (chunked): %v", err)
	}
	if len(plainCols) != len(chunkedCols) {
		t.Fatalf("column count mismatch: plain=%d chunked=%d", len(plainCols), len(chunkedCols))
	}
	for i := range plainCols {
		if plainCols[i].Name != chunkedCols[i].Name || plainCols[i].Type != chunkedCols[i].Type {
			t.Errorf("column %d mismatch: plain=%+v chunked=%+v", i, plainCols[i], chunkedCols[i])
		}
	}
}
