package exec

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mako10k/llmcmd/internal/ppl/ast"
	"github.com/mako10k/llmcmd/internal/ppl/lex"
	"github.com/mako10k/llmcmd/internal/ppl/lines"
	"github.com/mako10k/llmcmd/internal/ppl/parser"
	"github.com/mako10k/llmcmd/internal/ppl/ppllog"
	"github.com/mako10k/llmcmd/internal/ppl/table"
)

// Context is the PipelineContext threaded through execution: one
// working table, a pending grouping, a variable environment, sandbox
// configuration, and streaming state. Grounded on the teacher's
// llmsh.Executor, which threads an equivalent bundle (vfs, quota,
// commands) through every dispatch.
type Context struct {
	Engine     *table.Engine
	Table      *table.Table
	Grouping   []string
	Vars       map[string]string
	SandboxDir string
	Streaming  bool
	ChunkSize  int
	Out        io.Writer
	Log        *ppllog.Logger
}

// NewContext opens a fresh table engine and returns an empty context.
// verbose gates Log's Debugf output (the run's "-v"/"--verbose" flag).
func NewContext(out io.Writer, verbose bool) (*Context, error) {
	engine, err := table.Open()
	if err != nil {
		return nil, runtimef("open table engine: %w", err)
	}
	return &Context{
		Engine: engine,
		Vars:   map[string]string{},
		Out:    out,
		Log:    ppllog.New(os.Stderr, verbose),
	}, nil
}

// Close releases the context's table engine.
func (c *Context) Close() error {
	return c.Engine.Close()
}

func (c *Context) lookup(name string) (string, bool) {
	v, ok := c.Vars[name]
	return v, ok
}

// Run executes nodes in order, wrapping each failing top-level command
// with its variant name per spec.md §7. This is the only place that
// wraps; Try executes its body and handler without an extra layer so
// that a handler failure is wrapped exactly once when it escapes Try.
func Run(ctx *Context, nodes []ast.Node) error {
	for _, n := range nodes {
		if err := ctx.execTop(n); err != nil {
			return err
		}
	}
	return nil
}

func (ctx *Context) execTop(n ast.Node) error {
	err := ctx.exec(n)
	return wrapNode(nodeName(n), err)
}

func (ctx *Context) requireTable() error {
	if ctx.Table == nil {
		return runtimef("no data loaded")
	}
	return nil
}

func (ctx *Context) clearGrouping() { ctx.Grouping = nil }

// exec dispatches one node against the context. Errors returned here
// are NOT yet prefixed with the node name; execTop does that.
func (ctx *Context) exec(n ast.Node) error {
	switch node := n.(type) {

	case *ast.Source:
		return ctx.execSource(node)
	case *ast.Foreach:
		return ctx.execForeach(node)
	case *ast.Include:
		return ctx.execInclude(node)

	case *ast.Filter:
		return ctx.execFilter(node)
	case *ast.CompoundFilter:
		return ctx.execCompoundFilter(node)

	case *ast.Select:
		return ctx.rebind(func() (*table.Table, error) { return ctx.Table.Project(node.Cols) }, node.Cols)
	case *ast.Drop:
		return ctx.rebind(func() (*table.Table, error) { return ctx.Table.DropCols(node.Cols) }, node.Cols)
	case *ast.Limit:
		return ctx.rebind(func() (*table.Table, error) { return ctx.Table.Limit(node.N) }, nil)
	case *ast.Distinct:
		return ctx.rebind(func() (*table.Table, error) { return ctx.Table.Distinct() }, nil)
	case *ast.Sample:
		return ctx.rebind(func() (*table.Table, error) { return ctx.Table.Sample(node.N, node.Pct) }, nil)

	case *ast.Sort:
		return ctx.execSort(node)
	case *ast.Rename:
		return ctx.execRename(node)
	case *ast.Add:
		return ctx.execAdd(node)
	case *ast.AddIf:
		return ctx.execAddIf(node)
	case *ast.Trim:
		return ctx.execColOnly(node.Col, ctx.Table.StringTrim)
	case *ast.Uppercase:
		return ctx.execColOnly(node.Col, ctx.Table.StringUpper)
	case *ast.Lowercase:
		return ctx.execColOnly(node.Col, ctx.Table.StringLower)
	case *ast.Cast:
		return ctx.execCast(node)
	case *ast.Replace:
		return ctx.execReplace(node)
	case *ast.Pivot:
		return ctx.execPivot(node)

	case *ast.GroupBy:
		return ctx.execGroupBy(node)

	case *ast.Count:
		return ctx.execCount(node)
	case *ast.CountIf:
		return ctx.execCountIf(node)
	case *ast.Sum:
		return ctx.execAggSingle("sum", node.Col)
	case *ast.Avg:
		return ctx.execAggSingle("avg", node.Col)
	case *ast.Min:
		return ctx.execAggSingle("min", node.Col)
	case *ast.Max:
		return ctx.execAggSingle("max", node.Col)
	case *ast.MultiAgg:
		return ctx.execMultiAgg(node)

	case *ast.Join:
		return ctx.execJoin(node)
	case *ast.Merge:
		return ctx.execMerge(node)

	case *ast.Save:
		return ctx.execSave(node)
	case *ast.Print:
		return ctx.execPrint()
	case *ast.Schema:
		return ctx.execSchema()
	case *ast.Inspect:
		return ctx.execInspect()
	case *ast.Head:
		return ctx.execHead(node)
	case *ast.Log:
		return ctx.execLog(node)
	case *ast.Timer:
		return ctx.execTimer(node)

	case *ast.Assert:
		return ctx.execAssert(node)
	case *ast.Fill:
		return ctx.execFill(node)

	case *ast.Set:
		return ctx.execSet(node)
	case *ast.Env:
		return ctx.execEnv(node)

	case *ast.Try:
		return ctx.execTry(node)

	case *ast.ParseDate:
		return ctx.rebind(func() (*table.Table, error) { return ctx.Table.ParseDate(node.Col, node.Format) }, nil)
	case *ast.Extract:
		return ctx.rebind(func() (*table.Table, error) { return ctx.Table.Extract(string(node.Part), node.Col, node.NewCol) }, nil)
	case *ast.DateDiff:
		return ctx.rebind(func() (*table.Table, error) {
			return ctx.Table.DateDiff(node.Col1, node.Col2, node.NewCol, string(node.Unit))
		}, nil)
	case *ast.FilterDate:
		return ctx.execFilterDate(node)
	case *ast.TruncateDate:
		return ctx.rebind(func() (*table.Table, error) { return ctx.Table.TruncateDate(node.Col, string(node.Unit)) }, nil)
	case *ast.TsSort:
		return ctx.rebind(func() (*table.Table, error) { return ctx.Table.Sort([]string{node.Col}, []bool{true}) }, nil)

	default:
		return runtimef("unsupported command")
	}
}

// rebind runs op against the current table, checking any named
// columns exist first, replaces ctx.Table with the result, and clears
// pending grouping (every rebind command that isn't an aggregation
// clears it per spec.md §3).
func (ctx *Context) rebind(op func() (*table.Table, error), checkCols []string) error {
	if err := ctx.requireTable(); err != nil {
		return err
	}
	if err := ctx.checkColumns(checkCols); err != nil {
		return err
	}
	next, err := op()
	if err != nil {
		return runtimef("%w", err)
	}
	ctx.Table = next
	ctx.clearGrouping()
	return nil
}

func (ctx *Context) checkColumns(cols []string) error {
	if len(cols) == 0 {
		return nil
	}
	names, err := ctx.Table.ColumnNames()
	if err != nil {
		return runtimef("%w", err)
	}
	set := map[string]bool{}
	for _, n := range names {
		set[n] = true
	}
	for _, c := range cols {
		if !set[c] {
			return keyErrorf("column '%s' not found", c)
		}
	}
	return nil
}

func (ctx *Context) execColOnly(col string, op func(string) (*table.Table, error)) error {
	return ctx.rebind(func() (*table.Table, error) { return op(col) }, []string{col})
}

// --- loading -------------------------------------------------------------

func (ctx *Context) resolvePath(raw string) (string, error) {
	resolved, err := lex.Substitute(raw, ctx.lookup)
	if err != nil {
		return "", keyErrorf("%w", err)
	}
	if err := lex.CheckSandbox(ctx.SandboxDir, resolved); err != nil {
		return "", permissionf("%w", err)
	}
	return resolved, nil
}

func (ctx *Context) execSource(node *ast.Source) error {
	path, err := ctx.resolvePath(node.Path)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(path); statErr != nil {
		return notFoundf("source file not found: '%s'", path)
	}
	format := table.DetectFormat(path)
	var t *table.Table
	if node.ChunkSize != nil {
		t, err = table.LoadStreaming(ctx.Engine, path, format)
		ctx.Streaming = true
		ctx.ChunkSize = *node.ChunkSize
	} else {
		t, err = table.Load(ctx.Engine, path, format)
	}
	if err != nil {
		return runtimef("%w", err)
	}
	t, err = t.WithRowOrd()
	if err != nil {
		return runtimef("%w", err)
	}
	ctx.Table = t
	ctx.clearGrouping()
	return nil
}

func (ctx *Context) execForeach(node *ast.Foreach) error {
	pattern, err := lex.Substitute(node.Pattern, ctx.lookup)
	if err != nil {
		return keyErrorf("%w", err)
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return valuef("invalid glob pattern '%s': %w", pattern, err)
	}
	if len(matches) == 0 {
		return notFoundf("no files match '%s'", pattern)
	}
	sort.Strings(matches)

	var combined *table.Table
	for _, path := range matches {
		if err := lex.CheckSandbox(ctx.SandboxDir, path); err != nil {
			return permissionf("%w", err)
		}
		if _, statErr := os.Stat(path); statErr != nil {
			return notFoundf("source file not found: '%s'", path)
		}
		t, err := table.Load(ctx.Engine, path, table.DetectFormat(path))
		if err != nil {
			return runtimef("%w", err)
		}
		if combined == nil {
			combined = t
			continue
		}
		combined, err = combined.Concat(t)
		if err != nil {
			return runtimef("%w", err)
		}
	}
	combined, err = combined.WithRowOrd()
	if err != nil {
		return runtimef("%w", err)
	}
	ctx.Table = combined
	ctx.clearGrouping()
	return nil
}

func (ctx *Context) execInclude(node *ast.Include) error {
	path, err := ctx.resolvePath(node.Path)
	if err != nil {
		return err
	}
	cleaned, err := lines.Read(path)
	if err != nil {
		return notFoundf("include file not found: '%s'", path)
	}
	subNodes, err := parser.Parse(cleaned)
	if err != nil {
		return &Error{Kind: Syntax, Err: fmt.Errorf("include '%s': %w", path, err)}
	}
	if err := Run(ctx, subNodes); err != nil {
		return fmt.Errorf("include '%s': %w", path, err)
	}
	return nil
}

// --- filtering -------------------------------------------------------------

func (ctx *Context) condSQL(col, op, rhsRaw string) (string, error) {
	has, err := ctx.Table.HasColumn(col)
	if err != nil {
		return "", runtimef("%w", err)
	}
	if !has {
		return "", keyErrorf("column '%s' not found", col)
	}
	resolved, err := lex.ResolveSingle(rhsRaw, ctx.lookup)
	if err != nil {
		return "", keyErrorf("%w", err)
	}
	val := lex.CoerceRHS(resolved)
	sqlOp := op
	if op == "==" {
		sqlOp = "="
	}
	return fmt.Sprintf("%s %s %s", quoteIdentLocal(col), sqlOp, literalSQL(val)), nil
}

func quoteIdentLocal(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func literalSQL(v lex.Value) string {
	if v.IsNumber {
		return strconv.FormatFloat(v.Number, 'g', -1, 64)
	}
	return "'" + strings.ReplaceAll(v.Str, "'", "''") + "'"
}

func (ctx *Context) execFilter(node *ast.Filter) error {
	if err := ctx.requireTable(); err != nil {
		return err
	}
	expr, err := ctx.condSQL(node.Col, node.Op, node.RHS)
	if err != nil {
		return err
	}
	next, err := ctx.Table.Filter(expr)
	if err != nil {
		return runtimef("%w", err)
	}
	ctx.Table = next
	ctx.clearGrouping()
	return nil
}

func (ctx *Context) execCompoundFilter(node *ast.CompoundFilter) error {
	if err := ctx.requireTable(); err != nil {
		return err
	}
	if len(node.Conds) == 0 {
		return valuef("compound filter requires at least one condition")
	}
	expr, err := ctx.condSQL(node.Conds[0].Col, node.Conds[0].Op, node.Conds[0].RHS)
	if err != nil {
		return err
	}
	for i := 1; i < len(node.Conds); i++ {
		piece, err := ctx.condSQL(node.Conds[i].Col, node.Conds[i].Op, node.Conds[i].RHS)
		if err != nil {
			return err
		}
		connector := strings.ToUpper(node.Logic[i-1])
		expr = fmt.Sprintf("(%s %s %s)", expr, connector, piece)
	}
	next, err := ctx.Table.Filter(expr)
	if err != nil {
		return runtimef("%w", err)
	}
	ctx.Table = next
	ctx.clearGrouping()
	return nil
}

// --- transform -------------------------------------------------------------

func (ctx *Context) execSort(node *ast.Sort) error {
	return ctx.rebind(func() (*table.Table, error) { return ctx.Table.Sort(node.Cols, node.Ascending) }, node.Cols)
}

func (ctx *Context) execRename(node *ast.Rename) error {
	return ctx.rebind(func() (*table.Table, error) { return ctx.Table.Rename(node.Old, node.New) }, []string{node.Old})
}

func (ctx *Context) execAdd(node *ast.Add) error {
	if err := ctx.requireTable(); err != nil {
		return err
	}
	expr, err := lex.Substitute(node.Expr, ctx.lookup)
	if err != nil {
		return keyErrorf("%w", err)
	}
	names, err := ctx.Table.ColumnNames()
	if err != nil {
		return runtimef("%w", err)
	}
	colSet := map[string]bool{}
	for _, n := range names {
		colSet[n] = true
	}
	sqlExpr, err := renderArithmetic(expr, colSet)
	if err != nil {
		return err
	}
	next, err := ctx.Table.AddColumn(node.Col, sqlExpr)
	if err != nil {
		return runtimef("%w", err)
	}
	ctx.Table = next
	ctx.clearGrouping()
	return nil
}

func (ctx *Context) execAddIf(node *ast.AddIf) error {
	if err := ctx.requireTable(); err != nil {
		return err
	}
	cond, err := ctx.condSQL(node.CondCol, node.CondOp, node.CondRHS)
	if err != nil {
		return err
	}
	trueExpr, err := resolveBranchValue(ctx.Table, node.TrueVal)
	if err != nil {
		return runtimef("%w", err)
	}
	falseExpr, err := resolveBranchValue(ctx.Table, node.FalseVal)
	if err != nil {
		return runtimef("%w", err)
	}
	sqlExpr := fmt.Sprintf("CASE WHEN %s THEN %s ELSE %s END", cond, trueExpr, falseExpr)
	next, err := ctx.Table.AddColumn(node.Col, sqlExpr)
	if err != nil {
		return runtimef("%w", err)
	}
	ctx.Table = next
	ctx.clearGrouping()
	return nil
}

var castTypes = map[string]string{
	"int": "BIGINT", "integer": "BIGINT",
	"float": "DOUBLE", "double": "DOUBLE",
	"str": "VARCHAR", "string": "VARCHAR", "text": "VARCHAR",
	"datetime": "TIMESTAMP", "date": "DATE",
	"bool": "BOOLEAN", "boolean": "BOOLEAN",
}

func (ctx *Context) execCast(node *ast.Cast) error {
	sqlType, ok := castTypes[node.TypeName]
	if !ok {
		return valuef("unsupported cast target '%s'", node.TypeName)
	}
	return ctx.rebind(func() (*table.Table, error) { return ctx.Table.Cast(node.Col, sqlType) }, []string{node.Col})
}

func (ctx *Context) execReplace(node *ast.Replace) error {
	return ctx.rebind(func() (*table.Table, error) {
		return ctx.Table.ReplaceValue(node.Col, literalSQL(lex.CoerceRHS(node.Old)), literalSQL(lex.CoerceRHS(node.New)))
	}, []string{node.Col})
}

func (ctx *Context) execPivot(node *ast.Pivot) error {
	return ctx.rebind(func() (*table.Table, error) { return ctx.Table.Pivot(node.Index, node.Column, node.Value) },
		[]string{node.Index, node.Column, node.Value})
}

// --- grouping & aggregation -------------------------------------------------

func (ctx *Context) execGroupBy(node *ast.GroupBy) error {
	if err := ctx.requireTable(); err != nil {
		return err
	}
	if err := ctx.checkColumns(node.Cols); err != nil {
		return err
	}
	ctx.Grouping = append([]string{}, node.Cols...)
	return nil
}

func (ctx *Context) execCount(node *ast.Count) error {
	if err := ctx.requireTable(); err != nil {
		return err
	}
	var next *table.Table
	var err error
	if len(ctx.Grouping) > 0 {
		next, err = ctx.Table.CountGrouped(ctx.Grouping)
		ctx.clearGrouping()
	} else {
		next, err = ctx.Table.CountUngrouped()
	}
	if err != nil {
		return runtimef("%w", err)
	}
	ctx.Table = next
	return nil
}

func (ctx *Context) execCountIf(node *ast.CountIf) error {
	if err := ctx.requireTable(); err != nil {
		return err
	}
	expr, err := ctx.condSQL(node.Col, node.Op, node.RHS)
	if err != nil {
		return err
	}
	n, err := ctx.Table.CountIf(expr)
	if err != nil {
		return runtimef("%w", err)
	}
	fmt.Fprintf(ctx.Out, "count if %s %s %s: %d\n", node.Col, node.Op, node.RHS, n)
	return nil
}

func (ctx *Context) execAggSingle(verb, col string) error {
	if err := ctx.requireTable(); err != nil {
		return err
	}
	if err := ctx.checkColumns([]string{col}); err != nil {
		return err
	}
	var next *table.Table
	var err error
	if len(ctx.Grouping) > 0 {
		next, err = ctx.Table.GroupAggregate(ctx.Grouping, []table.AggSpec{{Verb: verb, Col: col}})
		ctx.clearGrouping()
	} else {
		next, err = ctx.Table.AggUngrouped(verb, col)
	}
	if err != nil {
		return runtimef("%w", err)
	}
	ctx.Table = next
	return nil
}

func (ctx *Context) execMultiAgg(node *ast.MultiAgg) error {
	if err := ctx.requireTable(); err != nil {
		return err
	}
	if len(ctx.Grouping) == 0 {
		return runtimef("'agg' requires an active 'group by'")
	}
	specs := make([]table.AggSpec, 0, len(node.Specs))
	for _, s := range node.Specs {
		if s.Col != "" {
			if err := ctx.checkColumns([]string{s.Col}); err != nil {
				return err
			}
		}
		specs = append(specs, table.AggSpec{Verb: s.Verb, Col: s.Col})
	}
	next, err := ctx.Table.GroupAggregate(ctx.Grouping, specs)
	if err != nil {
		return runtimef("%w", err)
	}
	ctx.Table = next
	ctx.clearGrouping()
	return nil
}

// --- multi-source -------------------------------------------------------------

var joinHowMap = map[ast.JoinHow]table.JoinHow{
	ast.JoinInner: table.JoinInner,
	ast.JoinLeft:  table.JoinLeft,
	ast.JoinRight: table.JoinRight,
	ast.JoinOuter: table.JoinOuter,
}

func (ctx *Context) execJoin(node *ast.Join) error {
	if err := ctx.requireTable(); err != nil {
		return err
	}
	path, err := ctx.resolvePath(node.Path)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(path); statErr != nil {
		return notFoundf("join file not found: '%s'", path)
	}
	if err := ctx.checkColumns([]string{node.Key}); err != nil {
		return err
	}
	right, err := table.Load(ctx.Engine, path, table.DetectFormat(path))
	if err != nil {
		return runtimef("%w", err)
	}
	rightHas, err := right.HasColumn(node.Key)
	if err != nil {
		return runtimef("%w", err)
	}
	if !rightHas {
		return keyErrorf("join key '%s' not found in '%s'", node.Key, path)
	}
	next, err := ctx.Table.Join(right, node.Key, joinHowMap[node.How])
	if err != nil {
		return runtimef("%w", err)
	}
	ctx.Table = next
	ctx.clearGrouping()
	return nil
}

func (ctx *Context) execMerge(node *ast.Merge) error {
	if err := ctx.requireTable(); err != nil {
		return err
	}
	path, err := ctx.resolvePath(node.Path)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(path); statErr != nil {
		return notFoundf("merge file not found: '%s'", path)
	}
	other, err := table.Load(ctx.Engine, path, table.DetectFormat(path))
	if err != nil {
		return runtimef("%w", err)
	}
	next, err := ctx.Table.Concat(other)
	if err != nil {
		return runtimef("%w", err)
	}
	ctx.Table = next
	ctx.clearGrouping()
	return nil
}

// --- output -------------------------------------------------------------

func (ctx *Context) execSave(node *ast.Save) error {
	if err := ctx.requireTable(); err != nil {
		return err
	}
	path, err := ctx.resolvePath(node.Path)
	if err != nil {
		return err
	}
	if err := ctx.Table.Write(path); err != nil {
		return runtimef("%w", err)
	}
	return nil
}

func (ctx *Context) execPrint() error {
	if err := ctx.requireTable(); err != nil {
		return err
	}
	return printRows(ctx.Out, ctx.Table, "")
}

func (ctx *Context) execHead(node *ast.Head) error {
	if err := ctx.requireTable(); err != nil {
		return err
	}
	return printRows(ctx.Out, ctx.Table, fmt.Sprintf("LIMIT %d", node.N))
}

func (ctx *Context) execSchema() error {
	if err := ctx.requireTable(); err != nil {
		return err
	}
	cols, err := ctx.Table.Schema()
	if err != nil {
		return runtimef("%w", err)
	}
	for _, c := range cols {
		if c.Name == internalRowOrdColName {
			continue
		}
		fmt.Fprintf(ctx.Out, "%s: %s\n", c.Name, c.Type)
	}
	return nil
}

func (ctx *Context) execLog(node *ast.Log) error {
	msg, err := lex.Substitute(node.Message, ctx.lookup)
	if err != nil {
		return keyErrorf("%w", err)
	}
	fmt.Fprintf(ctx.Out, "[LOG] %s\n", msg)
	ctx.Log.Debugf("log: %s", msg)
	return nil
}

func (ctx *Context) execTimer(node *ast.Timer) error {
	key := "__timer_" + node.Label
	ctx.Log.Debugf("timer: action=%s label=%s", node.Action, node.Label)
	switch node.Action {
	case ast.TimerStart:
		ctx.Vars[key] = strconv.FormatInt(time.Now().UnixNano(), 10)
		return nil
	case ast.TimerLap, ast.TimerStop:
		raw, ok := ctx.Vars[key]
		if !ok {
			return runtimef("timer '%s' was never started", node.Label)
		}
		startNanos, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return runtimef("corrupt timer state for '%s'", node.Label)
		}
		elapsed := time.Duration(time.Now().UnixNano() - startNanos)
		tag := "LAP"
		if node.Action == ast.TimerStop {
			tag = "TIMER"
			delete(ctx.Vars, key)
		}
		fmt.Fprintf(ctx.Out, "[%s] %s: %s\n", tag, node.Label, elapsed)
		ctx.Log.Debugf("timer: %s %s elapsed=%s", node.Label, tag, elapsed)
		return nil
	default:
		return valuef("unsupported timer action")
	}
}

// --- quality -------------------------------------------------------------

func (ctx *Context) execAssert(node *ast.Assert) error {
	if err := ctx.requireTable(); err != nil {
		return err
	}
	passExpr, err := ctx.condSQL(node.Col, node.Op, node.RHS)
	if err != nil {
		return err
	}
	failExpr := fmt.Sprintf("NOT (%s)", passExpr)
	n, err := ctx.Table.AssertFailCount(failExpr)
	if err != nil {
		return runtimef("%w", err)
	}
	if n > 0 {
		return assertf("assert %s %s %s failed for %d row(s)", node.Col, node.Op, node.RHS, n)
	}
	return nil
}

var fillStrategies = map[string]string{"mean": "AVG", "median": "MEDIAN", "mode": "MODE"}

func (ctx *Context) execFill(node *ast.Fill) error {
	if err := ctx.requireTable(); err != nil {
		return err
	}
	if err := ctx.checkColumns([]string{node.Col}); err != nil {
		return err
	}
	strat := strings.ToLower(strings.TrimSpace(node.Strategy))
	var next *table.Table
	var err error
	switch strat {
	case "forward":
		next, err = ctx.Table.FillForward(node.Col)
	case "backward":
		next, err = ctx.Table.FillBackward(node.Col)
	case "drop":
		next, err = ctx.Table.DropNulls(node.Col)
	case "mean", "median", "mode":
		next, err = ctx.Table.FillScalarQuery(node.Col, fillStrategies[strat])
	default:
		next, err = ctx.Table.FillLiteral(node.Col, literalSQL(lex.CoerceRHS(node.Strategy)))
	}
	if err != nil {
		return runtimef("%w", err)
	}
	ctx.Table = next
	ctx.clearGrouping()
	return nil
}

// --- variables -------------------------------------------------------------

func (ctx *Context) execSet(node *ast.Set) error {
	value := lex.StripQuotes(node.Value)
	ctx.Vars[node.Name] = value
	if node.Name == "sandbox" {
		ctx.SandboxDir = value
	}
	return nil
}

func (ctx *Context) execEnv(node *ast.Env) error {
	value, ok := os.LookupEnv(node.VarName)
	if !ok {
		return runtimef("environment variable '%s' is not set", node.VarName)
	}
	ctx.Vars[node.VarName] = value
	return nil
}

// --- error recovery -------------------------------------------------------------

func (ctx *Context) execTry(node *ast.Try) error {
	bodyErr := ctx.runBody(node.Body)
	if bodyErr == nil {
		return nil
	}
	switch node.OnError.Kind {
	case ast.HandlerSkip:
		ctx.Log.Warnf("try: swallowed error (skip): %v", bodyErr)
		return nil
	case ast.HandlerLog:
		msg, subErr := lex.Substitute(node.OnError.Msg, ctx.lookup)
		if subErr != nil {
			msg = node.OnError.Msg
		}
		fmt.Fprintf(ctx.Out, "[TRY] %s: %s\n", msg, bodyErr)
		ctx.Log.Warnf("try: swallowed error (log): %v", bodyErr)
		return nil
	case ast.HandlerRun:
		ctx.Log.Debugf("try: recovering from error via handler body: %v", bodyErr)
		return ctx.runBody(node.OnError.Body)
	default:
		return bodyErr
	}
}

// runBody executes nodes without the execTop wrapping, matching
// original_source/executor.py's run_pipeline prefixing only happening
// at the outer loop: body/handler commands inside try are unprefixed
// until (if at all) the Try node's own result is wrapped by its caller.
func (ctx *Context) runBody(nodes []ast.Node) error {
	for _, n := range nodes {
		if err := ctx.exec(n); err != nil {
			return err
		}
	}
	return nil
}

// --- datetime -------------------------------------------------------------

func (ctx *Context) execFilterDate(node *ast.FilterDate) error {
	if err := ctx.requireTable(); err != nil {
		return err
	}
	if err := ctx.checkColumns([]string{node.Col}); err != nil {
		return err
	}
	sqlOp := node.Op
	if sqlOp == "==" {
		sqlOp = "="
	}
	next, err := ctx.Table.FilterDate(node.Col, sqlOp, node.ISODate)
	if err != nil {
		return runtimef("%w", err)
	}
	ctx.Table = next
	ctx.clearGrouping()
	return nil
}

// internalRowOrdColName mirrors table.rowOrdCol; duplicated here since
// it is an implementation detail of the table package that the
// executor still needs to hide from schema/print output.
const internalRowOrdColName = "__ppl_rowid"

func printRows(out io.Writer, t *table.Table, suffix string) error {
	rows, err := t.Rows(suffix)
	if err != nil {
		return runtimef("%w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return runtimef("%w", err)
	}
	visible := make([]int, 0, len(cols))
	header := make([]string, 0, len(cols))
	for i, c := range cols {
		if c == internalRowOrdColName {
			continue
		}
		visible = append(visible, i)
		header = append(header, c)
	}
	fmt.Fprintln(out, strings.Join(header, "\t"))

	vals := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return runtimef("%w", err)
		}
		rendered := make([]string, len(visible))
		for j, idx := range visible {
			rendered[j] = fmt.Sprintf("%v", normalizeCell(vals[idx]))
		}
		fmt.Fprintln(out, strings.Join(rendered, "\t"))
	}
	return rows.Err()
}

func normalizeCell(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	if v == nil {
		return ""
	}
	return v
}

func (ctx *Context) execInspect() error {
	if err := ctx.requireTable(); err != nil {
		return err
	}
	cols, err := ctx.Table.Schema()
	if err != nil {
		return runtimef("%w", err)
	}
	rowCount, err := ctx.Table.RowCount()
	if err != nil {
		return runtimef("%w", err)
	}
	for _, c := range cols {
		if c.Name == internalRowOrdColName {
			continue
		}
		nullExpr := fmt.Sprintf("%s IS NULL", quoteIdentLocal(c.Name))
		if c.Type == table.String {
			nullExpr = fmt.Sprintf("(%s IS NULL OR %s = '')", quoteIdentLocal(c.Name), quoteIdentLocal(c.Name))
		}
		nullCount, err := ctx.Table.CountIf(nullExpr)
		if err != nil {
			return runtimef("%w", err)
		}
		distinct, err := ctx.Table.DistinctCount(c.Name)
		if err != nil {
			return runtimef("%w", err)
		}
		fmt.Fprintf(ctx.Out, "%s: dtype=%s nulls=%d/%d distinct=%d\n", c.Name, c.Type, nullCount, rowCount, distinct)
	}
	return nil
}
