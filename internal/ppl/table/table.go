// Package table implements the Table Adapter (component F): a narrow
// interface over the columnar engine that stores and transforms the
// working dataset, backed by an embedded DuckDB connection. Grounded
// on other_examples/connor15mcc-pbql-go, which drives DuckDB the same
// way: a *sql.DB opened once, SQL issued per operation, *sql.Rows
// scanned into []interface{}. The executor (internal/ppl/exec) never
// sees SQL; it only calls the methods below.
package table

import (
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
)

// DType is the engine-neutral type tag spec.md §3 requires.
type DType string

const (
	Int64    DType = "Int64"
	Float64  DType = "Float64"
	Bool     DType = "Bool"
	String   DType = "String"
	Date     DType = "Date"
	Datetime DType = "Datetime"
	Null     DType = "Null"
)

// Column describes one column of the working table.
type Column struct {
	Name string
	Type DType
}

// AggSpec is one aggregation in a group_aggregate call.
type AggSpec struct {
	Verb string // sum | avg | min | max | count
	Col  string // empty when Verb == "count"
}

// Engine owns the per-pipeline DuckDB connection and materialised
// table naming.
type Engine struct {
	db      *sql.DB
	counter int
}

// Open creates a fresh in-memory DuckDB connection for one pipeline
// run.
func Open() (*Engine, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return &Engine{db: db}, nil
}

// Close releases the underlying connection.
func (e *Engine) Close() error {
	return e.db.Close()
}

func (e *Engine) nextName() string {
	e.counter++
	return fmt.Sprintf("ppl_t%d", e.counter)
}

// Table is a materialised view onto one point in the pipeline:
// a named DuckDB table or view living in Engine's connection.
type Table struct {
	engine *Engine
	name   string
}

func (t *Table) exec(sqlText string) error {
	_, err := t.engine.db.Exec(sqlText)
	return err
}

func (t *Table) materialize(selectBody string) (*Table, error) {
	name := t.engine.nextName()
	stmt := fmt.Sprintf("CREATE TABLE %s AS %s", quoteIdent(name), selectBody)
	if _, err := t.engine.db.Exec(stmt); err != nil {
		return nil, err
	}
	return &Table{engine: t.engine, name: name}, nil
}

// --- loading -----------------------------------------------------------

// Load reads path in the given format into a brand-new table on e's
// existing connection.
func Load(e *Engine, path, format string) (*Table, error) {
	name := e.nextName()
	reader, err := readerExpr(path, format)
	if err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s", quoteIdent(name), reader)
	if _, err := e.db.Exec(stmt); err != nil {
		return nil, fmt.Errorf("load '%s': %w", path, err)
	}
	return &Table{engine: e, name: name}, nil
}

// LoadStreaming behaves like Load but is used when the source
// requests chunked collection. DuckDB streams query execution
// internally, so the engine-level contract is honoured by simply
// loading normally; the executor decides how to present this as
// chunked behaviour at the semantic level (option (a) of spec.md
// §4.5's two streaming strategies).
func LoadStreaming(e *Engine, path, format string) (*Table, error) {
	return Load(e, path, format)
}

func readerExpr(path, format string) (string, error) {
	lit := quoteLiteral(path)
	switch format {
	case "csv":
		return fmt.Sprintf("read_csv_auto(%s)", lit), nil
	case "parquet":
		return fmt.Sprintf("read_parquet(%s)", lit), nil
	case "json", "ndjson":
		return fmt.Sprintf("read_json_auto(%s)", lit), nil
	default:
		return "", fmt.Errorf("unsupported format '%s'", format)
	}
}

// DetectFormat maps a lowercased path extension to a loader format
// name, per spec.md §6.
func DetectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return "parquet"
	case ".json":
		return "json"
	case ".ndjson":
		return "ndjson"
	default:
		return "csv"
	}
}

// --- introspection -------------------------------------------------------

// Schema returns the working table's columns in declaration order.
func (t *Table) Schema() ([]Column, error) {
	rows, err := t.engine.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(t.name)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull bool
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, Column{Name: name, Type: mapDuckType(ctype)})
	}
	return cols, rows.Err()
}

func mapDuckType(duckType string) DType {
	t := strings.ToUpper(duckType)
	switch {
	case strings.Contains(t, "INT"):
		return Int64
	case strings.Contains(t, "DOUBLE"), strings.Contains(t, "FLOAT"), strings.Contains(t, "DECIMAL"):
		return Float64
	case strings.Contains(t, "BOOL"):
		return Bool
	case strings.Contains(t, "TIMESTAMP"):
		return Datetime
	case strings.Contains(t, "DATE"):
		return Date
	case strings.Contains(t, "VARCHAR"), strings.Contains(t, "CHAR"), strings.Contains(t, "TEXT"):
		return String
	default:
		return Null
	}
}

// ColumnNames is a convenience built on Schema.
func (t *Table) ColumnNames() ([]string, error) {
	cols, err := t.Schema()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names, nil
}

// HasColumn reports whether name is a column of the working table.
func (t *Table) HasColumn(name string) (bool, error) {
	names, err := t.ColumnNames()
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

// DistinctCount returns the number of distinct values in col.
func (t *Table) DistinctCount(col string) (int64, error) {
	var n int64
	q := fmt.Sprintf("SELECT COUNT(DISTINCT %s) FROM %s", quoteIdent(col), quoteIdent(t.name))
	err := t.engine.db.QueryRow(q).Scan(&n)
	return n, err
}

// RowCount returns the number of rows in the working table.
func (t *Table) RowCount() (int64, error) {
	var n int64
	err := t.engine.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(t.name))).Scan(&n)
	return n, err
}

// Rows runs an arbitrary read-only query against the working table
// and returns the raw *sql.Rows for the caller (CLI preview, print,
// inspect) to scan and format.
func (t *Table) Rows(suffix string) (*sql.Rows, error) {
	q := fmt.Sprintf("SELECT * FROM %s %s", quoteIdent(t.name), suffix)
	return t.engine.db.Query(q)
}

// --- projection / restriction -------------------------------------------

func (t *Table) Project(cols []string) (*Table, error) {
	return t.materialize(fmt.Sprintf("SELECT %s FROM %s", quoteIdentList(cols), quoteIdent(t.name)))
}

func (t *Table) DropCols(cols []string) (*Table, error) {
	return t.materialize(fmt.Sprintf("SELECT * EXCLUDE (%s) FROM %s", quoteIdentList(cols), quoteIdent(t.name)))
}

// Filter applies a raw SQL boolean expression built by the executor
// from the AST condition(s).
func (t *Table) Filter(whereExpr string) (*Table, error) {
	return t.materialize(fmt.Sprintf("SELECT * FROM %s WHERE %s", quoteIdent(t.name), whereExpr))
}

func (t *Table) Distinct() (*Table, error) {
	return t.materialize(fmt.Sprintf("SELECT DISTINCT * FROM %s", quoteIdent(t.name)))
}

func (t *Table) Limit(n int) (*Table, error) {
	return t.materialize(fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(t.name), n))
}

func (t *Table) Sample(n *int, pct *float64) (*Table, error) {
	switch {
	case pct != nil:
		return t.materialize(fmt.Sprintf("SELECT * FROM %s USING SAMPLE %s PERCENT", quoteIdent(t.name), strconv.FormatFloat(*pct, 'f', -1, 64)))
	case n != nil:
		rc, err := t.RowCount()
		if err != nil {
			return nil, err
		}
		clamped := *n
		if int64(clamped) > rc {
			clamped = int(rc)
		}
		return t.materialize(fmt.Sprintf("SELECT * FROM %s USING SAMPLE %d", quoteIdent(t.name), clamped))
	default:
		return nil, fmt.Errorf("sample requires n or pct")
	}
}

func (t *Table) Sort(cols []string, ascending []bool) (*Table, error) {
	parts := make([]string, len(cols))
	for i, c := range cols {
		dir := "ASC"
		if i < len(ascending) && !ascending[i] {
			dir = "DESC"
		}
		parts[i] = fmt.Sprintf("%s %s", quoteIdent(c), dir)
	}
	return t.materialize(fmt.Sprintf("SELECT * FROM %s ORDER BY %s", quoteIdent(t.name), strings.Join(parts, ", ")))
}

// --- transform -----------------------------------------------------------

func (t *Table) AddColumn(name, exprSQL string) (*Table, error) {
	return t.materialize(fmt.Sprintf("SELECT *, %s AS %s FROM %s", exprSQL, quoteIdent(name), quoteIdent(t.name)))
}

func (t *Table) Rename(oldName, newName string) (*Table, error) {
	return t.materialize(fmt.Sprintf("SELECT * RENAME (%s AS %s) FROM %s", quoteIdent(oldName), quoteIdent(newName), quoteIdent(t.name)))
}

func (t *Table) ReplaceValue(col, oldLit, newLit string) (*Table, error) {
	expr := fmt.Sprintf("CASE WHEN %s = %s THEN %s ELSE %s END", quoteIdent(col), oldLit, newLit, quoteIdent(col))
	return t.replaceColumn(col, expr)
}

func (t *Table) Cast(col string, sqlType string) (*Table, error) {
	expr := fmt.Sprintf("TRY_CAST(%s AS %s)", quoteIdent(col), sqlType)
	return t.replaceColumn(col, expr)
}

func (t *Table) StringLower(col string) (*Table, error) {
	return t.replaceColumn(col, fmt.Sprintf("LOWER(CAST(%s AS VARCHAR))", quoteIdent(col)))
}

func (t *Table) StringUpper(col string) (*Table, error) {
	return t.replaceColumn(col, fmt.Sprintf("UPPER(CAST(%s AS VARCHAR))", quoteIdent(col)))
}

func (t *Table) StringTrim(col string) (*Table, error) {
	return t.replaceColumn(col, fmt.Sprintf("TRIM(CAST(%s AS VARCHAR))", quoteIdent(col)))
}

func (t *Table) replaceColumn(col, expr string) (*Table, error) {
	return t.materialize(fmt.Sprintf("SELECT * REPLACE (%s AS %s) FROM %s", expr, quoteIdent(col), quoteIdent(t.name)))
}

func (t *Table) Pivot(index, column, value string) (*Table, error) {
	return t.materialize(fmt.Sprintf(
		"PIVOT %s ON %s USING sum(%s) GROUP BY %s",
		quoteIdent(t.name), quoteIdent(column), quoteIdent(value), quoteIdent(index),
	))
}

// --- aggregation -----------------------------------------------------------

func (t *Table) GroupAggregate(groupCols []string, specs []AggSpec) (*Table, error) {
	selectParts := append([]string{}, quoteIdentListSlice(groupCols)...)
	for _, s := range specs {
		selectParts = append(selectParts, aggExpr(s))
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s GROUP BY %s",
		strings.Join(selectParts, ", "), quoteIdent(t.name), quoteIdentList(groupCols))
	return t.materialize(stmt)
}

func aggExpr(s AggSpec) string {
	if s.Verb == "count" {
		return "COUNT(*) AS " + quoteIdent("count")
	}
	fn := strings.ToUpper(s.Verb)
	return fmt.Sprintf("%s(%s) AS %s", fn, quoteIdent(s.Col), quoteIdent(s.Col))
}

// CountGrouped produces (group_cols..., count) for a bare `count`
// after `group by`.
func (t *Table) CountGrouped(groupCols []string) (*Table, error) {
	return t.GroupAggregate(groupCols, []AggSpec{{Verb: "count"}})
}

// CountUngrouped produces a one-row, one-column "count" table.
func (t *Table) CountUngrouped() (*Table, error) {
	return t.materialize(fmt.Sprintf("SELECT COUNT(*) AS %s FROM %s", quoteIdent("count"), quoteIdent(t.name)))
}

// AggUngrouped produces a one-row, single-column table for a bare
// sum/avg/min/max with no active grouping.
func (t *Table) AggUngrouped(verb, col string) (*Table, error) {
	fn := strings.ToUpper(verb)
	return t.materialize(fmt.Sprintf("SELECT %s(%s) AS %s FROM %s", fn, quoteIdent(col), quoteIdent(col), quoteIdent(t.name)))
}

// CountIf counts rows satisfying a condition without mutating the
// table; the caller (executor) handles printing.
func (t *Table) CountIf(whereExpr string) (int64, error) {
	var n int64
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", quoteIdent(t.name), whereExpr)
	err := t.engine.db.QueryRow(q).Scan(&n)
	return n, err
}

// AssertFailCount counts rows that FAIL the asserted condition (i.e.
// match the negated expression).
func (t *Table) AssertFailCount(negatedWhereExpr string) (int64, error) {
	return t.CountIf(negatedWhereExpr)
}

// --- multi-source -----------------------------------------------------------

type JoinHow string

const (
	JoinInner JoinHow = "INNER"
	JoinLeft  JoinHow = "LEFT"
	JoinRight JoinHow = "RIGHT"
	JoinOuter JoinHow = "FULL OUTER"
)

func (t *Table) Join(right *Table, key string, how JoinHow) (*Table, error) {
	l := quoteIdent(t.name)
	r := quoteIdent(right.name)
	k := quoteIdent(key)
	stmt := fmt.Sprintf(
		"SELECT COALESCE(l.%s, r.%s) AS %s, l.* EXCLUDE (%s), r.* EXCLUDE (%s) FROM %s AS l %s JOIN %s AS r ON l.%s = r.%s",
		k, k, k, k, k, l, how, r, k, k,
	)
	return t.materialize(stmt)
}

func (t *Table) Concat(other *Table) (*Table, error) {
	stmt := fmt.Sprintf("SELECT * FROM %s UNION ALL BY NAME SELECT * FROM %s", quoteIdent(t.name), quoteIdent(other.name))
	return t.materialize(stmt)
}

// --- quality -----------------------------------------------------------

func (t *Table) FillLiteral(col, literalSQL string) (*Table, error) {
	return t.replaceColumn(col, fmt.Sprintf("COALESCE(%s, %s)", quoteIdent(col), literalSQL))
}

func (t *Table) FillScalarQuery(col, aggSQL string) (*Table, error) {
	var scalar sql.NullString
	q := fmt.Sprintf("SELECT CAST(%s(%s) AS VARCHAR) FROM %s", aggSQL, quoteIdent(col), quoteIdent(t.name))
	if err := t.engine.db.QueryRow(q).Scan(&scalar); err != nil {
		return nil, err
	}
	if !scalar.Valid {
		return t, nil
	}
	return t.FillLiteral(col, quoteLiteral(scalar.String))
}

func (t *Table) FillForward(col string) (*Table, error) {
	expr := fmt.Sprintf(
		"COALESCE(%s, LAST_VALUE(%s IGNORE NULLS) OVER (ORDER BY %s ROWS UNBOUNDED PRECEDING))",
		quoteIdent(col), quoteIdent(col), quoteIdent(rowOrdCol),
	)
	return t.replaceColumn(col, expr)
}

func (t *Table) FillBackward(col string) (*Table, error) {
	expr := fmt.Sprintf(
		"COALESCE(%s, FIRST_VALUE(%s IGNORE NULLS) OVER (ORDER BY %s ROWS BETWEEN CURRENT ROW AND UNBOUNDED FOLLOWING))",
		quoteIdent(col), quoteIdent(col), quoteIdent(rowOrdCol),
	)
	return t.replaceColumn(col, expr)
}

func (t *Table) DropNulls(col string) (*Table, error) {
	return t.materialize(fmt.Sprintf("SELECT * FROM %s WHERE %s IS NOT NULL", quoteIdent(t.name), quoteIdent(col)))
}

// rowOrdCol is a reserved ordinal column name used only internally by
// forward/backward fill to establish row order. Schema and
// ColumnNames list it like any other column; the executor hides it
// from schema/print/inspect/head output.
const rowOrdCol = "__ppl_rowid"

// WithRowOrd adds a stable row-ordinal column; called once right
// after a table is freshly loaded so later fills have something to
// order by.
func (t *Table) WithRowOrd() (*Table, error) {
	has, err := t.HasColumn(rowOrdCol)
	if err != nil {
		return nil, err
	}
	if has {
		return t, nil
	}
	return t.materialize(fmt.Sprintf("SELECT *, ROW_NUMBER() OVER () AS %s FROM %s", quoteIdent(rowOrdCol), quoteIdent(t.name)))
}

// --- datetime -----------------------------------------------------------

func (t *Table) ParseDate(col, format string) (*Table, error) {
	expr := fmt.Sprintf("strptime(CAST(%s AS VARCHAR), %s)", quoteIdent(col), quoteLiteral(format))
	return t.replaceColumn(col, expr)
}

var extractFn = map[string]string{
	"year": "year", "month": "month", "day": "day",
	"hour": "hour", "minute": "minute", "second": "second",
	"weekday": "dayofweek", "quarter": "quarter",
}

func (t *Table) Extract(part, col, newCol string) (*Table, error) {
	fn, ok := extractFn[part]
	if !ok {
		return nil, fmt.Errorf("unsupported date part '%s'", part)
	}
	expr := fmt.Sprintf("EXTRACT(%s FROM %s)", fn, quoteIdent(col))
	return t.AddColumn(newCol, expr)
}

var diffUnit = map[string]string{
	"days": "day", "hours": "hour", "minutes": "minute", "seconds": "second",
}

func (t *Table) DateDiff(col1, col2, newCol, unit string) (*Table, error) {
	u, ok := diffUnit[unit]
	if !ok {
		return nil, fmt.Errorf("unsupported date_diff unit '%s'", unit)
	}
	expr := fmt.Sprintf("DATE_DIFF('%s', %s, %s)", u, quoteIdent(col1), quoteIdent(col2))
	return t.AddColumn(newCol, expr)
}

func (t *Table) FilterDate(col, op, isoDate string) (*Table, error) {
	expr := fmt.Sprintf("%s %s DATE %s", quoteIdent(col), op, quoteLiteral(isoDate))
	return t.Filter(expr)
}

var truncUnit = map[string]string{
	"year": "year", "month": "month", "week": "week", "day": "day", "hour": "hour",
}

func (t *Table) TruncateDate(col, unit string) (*Table, error) {
	u, ok := truncUnit[unit]
	if !ok {
		return nil, fmt.Errorf("unsupported truncate_date unit '%s'", unit)
	}
	expr := fmt.Sprintf("DATE_TRUNC('%s', %s)", u, quoteIdent(col))
	return t.replaceColumn(col, expr)
}

// --- writing -----------------------------------------------------------

// Write dispatches by lowercased extension to DuckDB's native COPY for
// CSV/Parquet, or a row-scan + encoding/json encoder for NDJSON
// (DuckDB's own JSON copy target writes a JSON array, not
// newline-delimited records).
func (t *Table) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	switch DetectFormat(path) {
	case "parquet":
		return t.exec(fmt.Sprintf("COPY %s TO %s (FORMAT PARQUET)", quoteIdent(t.name), quoteLiteral(path)))
	case "json", "ndjson":
		return t.writeNDJSON(path)
	default:
		return t.exec(fmt.Sprintf("COPY %s TO %s (FORMAT CSV, HEADER)", quoteIdent(t.name), quoteLiteral(path)))
	}
}

func (t *Table) writeNDJSON(path string) error {
	rows, err := t.engine.db.Query(fmt.Sprintf("SELECT * FROM %s", quoteIdent(t.name)))
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create '%s': %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	vals := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		record := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			record[c] = normalizeJSONValue(vals[i])
		}
		if err := enc.Encode(record); err != nil {
			return err
		}
	}
	return rows.Err()
}

func normalizeJSONValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// --- CSV preview helper (ambient: CLI rendering) ------------------------

// PreviewCSV renders the first n rows as CSV text, used by cmd/ppl's
// success summary. Grounded on pbql-go's outputCSV row-scan pattern.
func (t *Table) PreviewCSV(w *csv.Writer, n int) error {
	rows, err := t.Rows(fmt.Sprintf("LIMIT %d", n))
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	if err := w.Write(cols); err != nil {
		return err
	}

	vals := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		record := make([]string, len(cols))
		for i, v := range vals {
			record[i] = formatValue(v)
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return rows.Err()
}

// formatValue renders a scanned cell for CSV/preview display, mirroring
// pbql-go's main.go formatValue nil/[]byte/default handling.
func formatValue(val interface{}) string {
	if val == nil {
		return ""
	}
	switch v := val.(type) {
	case []byte:
		return string(v)
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// --- identifier / literal quoting ---------------------------------------

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteIdentList(names []string) string {
	return strings.Join(quoteIdentListSlice(names), ", ")
}

func quoteIdentListSlice(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdent(n)
	}
	return out
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
