// Package parser implements the two-phase parser (component D):
// keyword dispatch over cleaned lines, plus structured nested-block
// assembly for try/on_error. Grounded on the teacher's
// internal/llmsh/parser (a hand-written recursive-descent parser
// building a closed Node set from tokens) and on original_source's
// ppl_parser.py (single-keyword dispatch table, "Line N:" errors,
// longest-first operator split).
package parser

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mako10k/llmcmd/internal/ppl/ast"
	"github.com/mako10k/llmcmd/internal/ppl/lex"
)

// Parse converts cleaned pipeline lines into an ordered AST.
func Parse(lines []string) ([]ast.Node, error) {
	nodes, _, err := parseBlock(lines, 1)
	return nodes, err
}

// parseBlock parses lines starting at absolute line number startLine,
// returning the nodes produced and the number of lines consumed. It is
// called once for the whole file and recursively for try/on_error
// bodies.
func parseBlock(lines []string, startLine int) ([]ast.Node, int, error) {
	var nodes []ast.Node
	i := 0
	for i < len(lines) {
		lineNo := startLine + i
		line := lines[i]
		keyword, rest := splitKeyword(line)
		kwLower := strings.ToLower(keyword)

		if kwLower == "on_error" {
			// Only valid as the terminator of a try block; reaching one
			// at the top level of parseBlock means the matching `try`
			// was never opened.
			return nil, 0, fmt.Errorf("Line %d: 'on_error' without matching 'try'", lineNo)
		}

		if kwLower == "try" {
			body, bodyLen, handler, consumed, err := parseTryBlock(lines[i:], lineNo)
			if err != nil {
				return nil, 0, err
			}
			nodes = append(nodes, &ast.Try{Base: ast.Base{Ln: lineNo}, Body: body, OnError: handler})
			_ = bodyLen
			i += consumed
			continue
		}

		node, err := parseLine(kwLower, keyword, rest, lineNo)
		if err != nil {
			return nil, 0, err
		}
		nodes = append(nodes, node)
		i++
	}
	return nodes, i, nil
}

// parseTryBlock consumes a `try` line and everything up to and
// including its matching `on_error` line. Nesting depth starts at 1;
// each further `try` increments it, each `on_error` decrements it; the
// `on_error` that drops depth to zero terminates the block.
func parseTryBlock(lines []string, tryLineNo int) (body []ast.Node, bodyLineCount int, handler ast.Handler, consumed int, err error) {
	depth := 1
	var bodyLines []string
	j := 1 // lines[0] is the "try" line itself
	var onErrorLine string
	var onErrorLineNo int

	for j < len(lines) {
		kw, _ := splitKeyword(lines[j])
		kwLower := strings.ToLower(kw)
		switch kwLower {
		case "try":
			depth++
		case "on_error":
			depth--
			if depth == 0 {
				onErrorLine = lines[j]
				onErrorLineNo = tryLineNo + j
				j++
				goto found
			}
		}
		bodyLines = append(bodyLines, lines[j])
		j++
	}
	return nil, 0, ast.Handler{}, 0, fmt.Errorf("Line %d: 'try' has no matching 'on_error'", tryLineNo)

found:
	body, _, err = parseBlock(bodyLines, tryLineNo+1)
	if err != nil {
		return nil, 0, ast.Handler{}, 0, err
	}

	handler, err = parseHandler(onErrorLine, onErrorLineNo)
	if err != nil {
		return nil, 0, ast.Handler{}, 0, err
	}
	return body, len(bodyLines), handler, j, nil
}

func parseHandler(line string, lineNo int) (ast.Handler, error) {
	_, rest := splitKeyword(line)
	rest = strings.TrimSpace(rest)
	lowered := strings.ToLower(rest)

	switch {
	case lowered == "skip":
		return ast.Handler{Kind: ast.HandlerSkip}, nil
	case strings.HasPrefix(lowered, "log"):
		_, msgArgs := splitKeyword(rest)
		msg := lex.StripQuotes(strings.TrimSpace(msgArgs))
		return ast.Handler{Kind: ast.HandlerLog, Msg: msg}, nil
	case rest == "":
		return ast.Handler{}, fmt.Errorf("Line %d: 'on_error' requires 'skip', 'log \"msg\"', or a command", lineNo)
	default:
		cmdKeyword, cmdRest := splitKeyword(rest)
		node, err := parseLine(strings.ToLower(cmdKeyword), cmdKeyword, cmdRest, lineNo)
		if err != nil {
			return ast.Handler{}, err
		}
		return ast.Handler{Kind: ast.HandlerRun, Body: []ast.Node{node}}, nil
	}
}

// splitKeyword splits a line at the first whitespace into keyword and
// remainder.
func splitKeyword(line string) (keyword, rest string) {
	idx := strings.IndexAny(line, " \t")
	if idx < 0 {
		return line, ""
	}
	return line[:idx], strings.TrimSpace(line[idx+1:])
}

type parseFunc func(rest string, lineNo int) (ast.Node, error)

var noArgNodes = map[string]func(int) ast.Node{
	"distinct": func(ln int) ast.Node { return &ast.Distinct{Base: ast.Base{Ln: ln}} },
	"print":    func(ln int) ast.Node { return &ast.Print{Base: ast.Base{Ln: ln}} },
	"schema":   func(ln int) ast.Node { return &ast.Schema{Base: ast.Base{Ln: ln}} },
	"inspect":  func(ln int) ast.Node { return &ast.Inspect{Base: ast.Base{Ln: ln}} },
}

// parseCount handles both bare "count" and "count if COL OP VAL".
func parseCount(rest string, ln int) (ast.Node, error) {
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return &ast.Count{Base: ast.Base{Ln: ln}}, nil
	}
	kw, condRest := splitKeyword(rest)
	if strings.ToLower(kw) != "if" {
		return nil, fmt.Errorf("Line %d: 'count' takes no arguments, or 'count if <column> <op> <value>'", ln)
	}
	col, op, rhs, ok := lex.SplitCondition(condRest)
	if !ok {
		return nil, fmt.Errorf("Line %d: could not parse 'count if' condition '%s'", ln, condRest)
	}
	return &ast.CountIf{Base: ast.Base{Ln: ln}, Col: col, Op: op, RHS: rhs}, nil
}

var parsers map[string]parseFunc

func init() {
	parsers = map[string]parseFunc{
		"source":       parseSource,
		"count":        parseCount,
		"foreach":      parseForeach,
		"include":      parseInclude,
		"filter":       parseFilter,
		"where":        parseFilter,
		"select":       parseCSVCols(func(ln int, cols []string) ast.Node { return &ast.Select{Base: ast.Base{Ln: ln}, Cols: cols} }, "select"),
		"drop":         parseCSVCols(func(ln int, cols []string) ast.Node { return &ast.Drop{Base: ast.Base{Ln: ln}, Cols: cols} }, "drop"),
		"limit":        parseLimit,
		"sample":       parseSample,
		"sort":         parseSort,
		"rename":       parseRename,
		"add":          parseAdd,
		"trim":         parseSingleCol(func(ln int, c string) ast.Node { return &ast.Trim{Base: ast.Base{Ln: ln}, Col: c} }, "trim"),
		"uppercase":    parseSingleCol(func(ln int, c string) ast.Node { return &ast.Uppercase{Base: ast.Base{Ln: ln}, Col: c} }, "uppercase"),
		"lowercase":    parseSingleCol(func(ln int, c string) ast.Node { return &ast.Lowercase{Base: ast.Base{Ln: ln}, Col: c} }, "lowercase"),
		"cast":         parseCast,
		"replace":      parseReplace,
		"pivot":        parsePivot,
		"group":        parseGroupBy,
		"sum":          parseAggCol(func(ln int, c string) ast.Node { return &ast.Sum{Base: ast.Base{Ln: ln}, Col: c} }, "sum"),
		"avg":          parseAggCol(func(ln int, c string) ast.Node { return &ast.Avg{Base: ast.Base{Ln: ln}, Col: c} }, "avg"),
		"min":          parseAggCol(func(ln int, c string) ast.Node { return &ast.Min{Base: ast.Base{Ln: ln}, Col: c} }, "min"),
		"max":          parseAggCol(func(ln int, c string) ast.Node { return &ast.Max{Base: ast.Base{Ln: ln}, Col: c} }, "max"),
		"agg":          parseMultiAgg,
		"join":         parseJoin,
		"merge":        parseMerge,
		"save":         parseSave,
		"head":         parseHead,
		"log":          parseLog,
		"timer":        parseTimer,
		"assert":       parseAssert,
		"fill":         parseFill,
		"set":          parseSet,
		"env":          parseEnv,
		"parse_date":   parseParseDate,
		"extract":      parseExtract,
		"date_diff":    parseDateDiff,
		"filter_date":  parseFilterDate,
		"truncate_date": parseTruncateDate,
		"ts_sort":      parseTsSort,
	}
}

func parseLine(kwLower, keyword, rest string, lineNo int) (ast.Node, error) {
	if mk, ok := noArgNodes[kwLower]; ok {
		return mk(lineNo), nil
	}
	if p, ok := parsers[kwLower]; ok {
		return p(rest, lineNo)
	}
	return nil, fmt.Errorf("Line %d: unknown command '%s'. Supported commands: %s", lineNo, keyword, supportedList())
}

func supportedList() string {
	set := map[string]bool{}
	for k := range parsers {
		set[k] = true
	}
	for k := range noArgNodes {
		set[k] = true
	}
	set["on_error"] = true
	set["try"] = true
	list := make([]string, 0, len(set))
	for k := range set {
		list = append(list, k)
	}
	sort.Strings(list)
	return strings.Join(list, ", ")
}

// --- individual command parsers ---------------------------------------

func parseSource(rest string, ln int) (ast.Node, error) {
	rest = strings.TrimSpace(rest)
	var pathPart, chunkPart string
	lowered := strings.ToLower(rest)
	if idx := strings.Index(lowered, "chunk"); idx >= 0 {
		pathPart = rest[:idx]
		chunkPart = strings.TrimSpace(rest[idx+len("chunk"):])
	} else {
		pathPart = rest
	}
	path := lex.StripQuotes(strings.TrimSpace(pathPart))
	if path == "" {
		return nil, fmt.Errorf("Line %d: 'source' requires a file path. Example: source \"data/people.csv\"", ln)
	}
	node := &ast.Source{Base: ast.Base{Ln: ln}, Path: path}
	if chunkPart != "" {
		n, err := strconv.Atoi(strings.TrimSpace(chunkPart))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("Line %d: 'source ... chunk N' requires a positive integer", ln)
		}
		node.ChunkSize = &n
	}
	return node, nil
}

func parseForeach(rest string, ln int) (ast.Node, error) {
	pattern := lex.StripQuotes(strings.TrimSpace(rest))
	if pattern == "" {
		return nil, fmt.Errorf("Line %d: 'foreach' requires a glob pattern", ln)
	}
	return &ast.Foreach{Base: ast.Base{Ln: ln}, Pattern: pattern}, nil
}

func parseInclude(rest string, ln int) (ast.Node, error) {
	path := lex.StripQuotes(strings.TrimSpace(rest))
	if path == "" {
		return nil, fmt.Errorf("Line %d: 'include' requires a file path", ln)
	}
	return &ast.Include{Base: ast.Base{Ln: ln}, Path: path}, nil
}

func parseFilter(rest string, ln int) (ast.Node, error) {
	return parseFilterLike(rest, ln, "filter", func(col, op, rhs string) ast.Node {
		return &ast.Filter{Base: ast.Base{Ln: ln}, Col: col, Op: op, RHS: rhs}
	})
}

func parseFilterLike(rest string, ln int, verb string, mk func(col, op, rhs string) ast.Node) (ast.Node, error) {
	conds, logic, err := splitCompound(rest)
	if err != nil {
		return nil, fmt.Errorf("Line %d: %s", ln, err)
	}
	if len(conds) == 1 {
		col, op, rhs, ok := lex.SplitCondition(conds[0])
		if !ok {
			return nil, fmt.Errorf("Line %d: could not parse '%s' condition '%s'. Expected: %s <column> <op> <value>", ln, verb, rest, verb)
		}
		return mk(col, op, rhs), nil
	}
	cs := make([]ast.Cond, 0, len(conds))
	for _, c := range conds {
		col, op, rhs, ok := lex.SplitCondition(c)
		if !ok {
			return nil, fmt.Errorf("Line %d: could not parse '%s' condition '%s'", ln, verb, c)
		}
		cs = append(cs, ast.Cond{Col: col, Op: op, RHS: rhs})
	}
	return &ast.CompoundFilter{Base: ast.Base{Ln: ln}, Conds: cs, Logic: logic}, nil
}

// splitCompound splits a condition string on "and"/"or" (case
// insensitive, surrounded by whitespace only), returning the list of
// individual condition strings and the connecting logic operators.
func splitCompound(s string) ([]string, []string, error) {
	fields := tokenizeLogic(s)
	var conds []string
	var logic []string
	var cur strings.Builder
	for _, tok := range fields {
		lowered := strings.ToLower(tok)
		if lowered == "and" || lowered == "or" {
			conds = append(conds, strings.TrimSpace(cur.String()))
			logic = append(logic, lowered)
			cur.Reset()
			continue
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(tok)
	}
	conds = append(conds, strings.TrimSpace(cur.String()))
	return conds, logic, nil
}

// tokenizeLogic splits on whitespace while keeping quoted substrings
// intact, so that e.g. filter name == "and sons" is not mistaken for a
// logic operator.
func tokenizeLogic(s string) []string {
	var toks []string
	var cur strings.Builder
	inQuote := byte(0)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inQuote != 0 {
			cur.WriteByte(c)
			if c == inQuote {
				inQuote = 0
			}
			continue
		}
		if c == '"' || c == '\'' {
			inQuote = c
			cur.WriteByte(c)
			continue
		}
		if c == ' ' || c == '\t' {
			if cur.Len() > 0 {
				toks = append(toks, cur.String())
				cur.Reset()
			}
			continue
		}
		cur.WriteByte(c)
	}
	if cur.Len() > 0 {
		toks = append(toks, cur.String())
	}
	return toks
}

func parseCSVCols(mk func(ln int, cols []string) ast.Node, verb string) parseFunc {
	return func(rest string, ln int) (ast.Node, error) {
		cols := splitCSV(rest)
		if len(cols) == 0 {
			return nil, fmt.Errorf("Line %d: '%s' requires at least one column", ln, verb)
		}
		return mk(ln, cols), nil
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLimit(rest string, ln int) (ast.Node, error) {
	n, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil || n < 0 {
		return nil, fmt.Errorf("Line %d: 'limit' requires a non-negative integer", ln)
	}
	return &ast.Limit{Base: ast.Base{Ln: ln}, N: n}, nil
}

func parseSample(rest string, ln int) (ast.Node, error) {
	rest = strings.TrimSpace(rest)
	if strings.HasSuffix(rest, "%") {
		pctStr := strings.TrimSpace(strings.TrimSuffix(rest, "%"))
		pct, err := strconv.ParseFloat(pctStr, 64)
		if err != nil || pct <= 0 || pct > 100 {
			return nil, fmt.Errorf("Line %d: 'sample N%%' requires 0 < N <= 100", ln)
		}
		return &ast.Sample{Base: ast.Base{Ln: ln}, Pct: &pct}, nil
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("Line %d: 'sample' requires a non-negative integer or 'N%%'", ln)
	}
	return &ast.Sample{Base: ast.Base{Ln: ln}, N: &n}, nil
}

func parseSort(rest string, ln int) (ast.Node, error) {
	lowered := strings.ToLower(strings.TrimSpace(rest))
	if !strings.HasPrefix(lowered, "by") {
		return nil, fmt.Errorf("Line %d: 'sort' must be followed by 'by'. Example: sort by age desc", ln)
	}
	remainder := strings.TrimSpace(strings.TrimSpace(rest)[2:])
	parts := splitCSV(remainder)
	if len(parts) == 0 {
		return nil, fmt.Errorf("Line %d: 'sort by' requires at least one column", ln)
	}
	cols := make([]string, 0, len(parts))
	asc := make([]bool, 0, len(parts))
	for _, p := range parts {
		tokens := strings.Fields(p)
		col := tokens[0]
		dir := "asc"
		if len(tokens) > 1 {
			dir = strings.ToLower(tokens[1])
		}
		if dir != "asc" && dir != "desc" {
			return nil, fmt.Errorf("Line %d: sort direction must be 'asc' or 'desc', got '%s'", ln, dir)
		}
		cols = append(cols, col)
		asc = append(asc, dir == "asc")
	}
	return &ast.Sort{Base: ast.Base{Ln: ln}, Cols: cols, Ascending: asc}, nil
}

func parseRename(rest string, ln int) (ast.Node, error) {
	parts := strings.Fields(rest)
	if len(parts) != 2 {
		return nil, fmt.Errorf("Line %d: 'rename' requires exactly two column names", ln)
	}
	return &ast.Rename{Base: ast.Base{Ln: ln}, Old: parts[0], New: parts[1]}, nil
}

var addIfRe = regexp.MustCompile(`^\s*if\s+(.+?)\s+then\s+(.+?)\s+else\s+(.+?)\s*$`)

func parseAdd(rest string, ln int) (ast.Node, error) {
	idx := strings.Index(rest, "=")
	if idx < 0 {
		return nil, fmt.Errorf("Line %d: 'add' requires '='. Example: add tax = price * 0.2", ln)
	}
	col := strings.TrimSpace(rest[:idx])
	expr := strings.TrimSpace(rest[idx+1:])
	if col == "" || expr == "" {
		return nil, fmt.Errorf("Line %d: 'add' requires a column name and expression", ln)
	}
	if m := addIfRe.FindStringSubmatch(expr); m != nil {
		condCol, condOp, condRHS, ok := lex.SplitCondition(m[1])
		if !ok {
			return nil, fmt.Errorf("Line %d: could not parse 'if' condition '%s'", ln, m[1])
		}
		return &ast.AddIf{
			Base:     ast.Base{Ln: ln},
			Col:      col,
			CondCol:  condCol,
			CondOp:   condOp,
			CondRHS:  condRHS,
			TrueVal:  strings.TrimSpace(m[2]),
			FalseVal: strings.TrimSpace(m[3]),
		}, nil
	}
	return &ast.Add{Base: ast.Base{Ln: ln}, Col: col, Expr: expr}, nil
}

func parseSingleCol(mk func(ln int, c string) ast.Node, verb string) parseFunc {
	return func(rest string, ln int) (ast.Node, error) {
		col := strings.TrimSpace(rest)
		if col == "" {
			return nil, fmt.Errorf("Line %d: '%s' requires a column name", ln, verb)
		}
		return mk(ln, col), nil
	}
}

func parseCast(rest string, ln int) (ast.Node, error) {
	parts := strings.Fields(rest)
	if len(parts) != 2 {
		return nil, fmt.Errorf("Line %d: 'cast' requires a column and a target type. Example: cast age int", ln)
	}
	return &ast.Cast{Base: ast.Base{Ln: ln}, Col: parts[0], TypeName: strings.ToLower(parts[1])}, nil
}

func parseReplace(rest string, ln int) (ast.Node, error) {
	parts, err := splitQuotedArgs(rest)
	if err != nil || len(parts) != 3 {
		return nil, fmt.Errorf("Line %d: 'replace' requires a column, old value, and new value. Example: replace col \"a\" \"b\"", ln)
	}
	return &ast.Replace{Base: ast.Base{Ln: ln}, Col: parts[0], Old: lex.StripQuotes(parts[1]), New: lex.StripQuotes(parts[2])}, nil
}

func parsePivot(rest string, ln int) (ast.Node, error) {
	cols := splitCSV(rest)
	if len(cols) != 3 {
		return nil, fmt.Errorf("Line %d: 'pivot' requires index, column, value. Example: pivot region, quarter, revenue", ln)
	}
	return &ast.Pivot{Base: ast.Base{Ln: ln}, Index: cols[0], Column: cols[1], Value: cols[2]}, nil
}

func parseGroupBy(rest string, ln int) (ast.Node, error) {
	lowered := strings.ToLower(strings.TrimSpace(rest))
	if !strings.HasPrefix(lowered, "by") {
		return nil, fmt.Errorf("Line %d: 'group' must be followed by 'by'. Example: group by country", ln)
	}
	remainder := strings.TrimSpace(strings.TrimSpace(rest)[2:])
	cols := splitCSV(remainder)
	if len(cols) == 0 {
		return nil, fmt.Errorf("Line %d: 'group by' requires at least one column", ln)
	}
	return &ast.GroupBy{Base: ast.Base{Ln: ln}, Cols: cols}, nil
}

func parseAggCol(mk func(ln int, c string) ast.Node, verb string) parseFunc {
	return func(rest string, ln int) (ast.Node, error) {
		col := strings.TrimSpace(rest)
		if col == "" {
			return nil, fmt.Errorf("Line %d: '%s' requires a column name", ln, verb)
		}
		return mk(ln, col), nil
	}
}

func parseMultiAgg(rest string, ln int) (ast.Node, error) {
	parts := splitCSV(rest)
	if len(parts) == 0 {
		return nil, fmt.Errorf("Line %d: 'agg' requires at least one spec. Example: agg sum salary, count", ln)
	}
	specs := make([]ast.AggSpec, 0, len(parts))
	for _, p := range parts {
		fields := strings.Fields(p)
		if len(fields) == 0 {
			return nil, fmt.Errorf("Line %d: empty 'agg' spec", ln)
		}
		verb := strings.ToLower(fields[0])
		switch verb {
		case "count":
			specs = append(specs, ast.AggSpec{Verb: "count"})
		case "sum", "avg", "min", "max":
			if len(fields) != 2 {
				return nil, fmt.Errorf("Line %d: 'agg %s' requires a column name", ln, verb)
			}
			specs = append(specs, ast.AggSpec{Verb: verb, Col: fields[1]})
		default:
			return nil, fmt.Errorf("Line %d: unsupported 'agg' verb '%s'", ln, verb)
		}
	}
	return &ast.MultiAgg{Base: ast.Base{Ln: ln}, Specs: specs}, nil
}

func parseJoin(rest string, ln int) (ast.Node, error) {
	path, remainder, ok := splitLeadingQuoted(rest)
	if !ok {
		return nil, fmt.Errorf("Line %d: 'join' requires a quoted file path. Example: join \"data/other.csv\" on id", ln)
	}
	remainder = strings.TrimSpace(remainder)
	lowered := strings.ToLower(remainder)
	if !strings.HasPrefix(lowered, "on") {
		return nil, fmt.Errorf("Line %d: 'join' requires 'on <column>'. Example: join \"data/other.csv\" on id", ln)
	}
	remainder = strings.TrimSpace(remainder[2:])
	fields := strings.Fields(remainder)
	if len(fields) == 0 {
		return nil, fmt.Errorf("Line %d: 'join ... on' requires a key column name", ln)
	}
	key := fields[0]
	how := ast.JoinInner
	if len(fields) > 1 {
		switch strings.ToLower(fields[1]) {
		case "inner":
			how = ast.JoinInner
		case "left":
			how = ast.JoinLeft
		case "right":
			how = ast.JoinRight
		case "outer":
			how = ast.JoinOuter
		default:
			return nil, fmt.Errorf("Line %d: 'join' how must be one of inner,left,right,outer", ln)
		}
	}
	return &ast.Join{Base: ast.Base{Ln: ln}, Path: path, Key: key, How: how}, nil
}

func parseMerge(rest string, ln int) (ast.Node, error) {
	path := lex.StripQuotes(strings.TrimSpace(rest))
	if path == "" {
		return nil, fmt.Errorf("Line %d: 'merge' requires a file path", ln)
	}
	return &ast.Merge{Base: ast.Base{Ln: ln}, Path: path}, nil
}

func parseSave(rest string, ln int) (ast.Node, error) {
	path := lex.StripQuotes(strings.TrimSpace(rest))
	if path == "" {
		return nil, fmt.Errorf("Line %d: 'save' requires a file path", ln)
	}
	return &ast.Save{Base: ast.Base{Ln: ln}, Path: path}, nil
}

func parseHead(rest string, ln int) (ast.Node, error) {
	n, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil || n < 0 {
		return nil, fmt.Errorf("Line %d: 'head' requires a non-negative integer", ln)
	}
	return &ast.Head{Base: ast.Base{Ln: ln}, N: n}, nil
}

func parseLog(rest string, ln int) (ast.Node, error) {
	msg := lex.StripQuotes(strings.TrimSpace(rest))
	return &ast.Log{Base: ast.Base{Ln: ln}, Message: msg}, nil
}

func parseTimer(rest string, ln int) (ast.Node, error) {
	fields := strings.Fields(rest)
	if len(fields) != 2 {
		return nil, fmt.Errorf("Line %d: 'timer' requires an action and a label. Example: timer start load", ln)
	}
	var action ast.TimerAction
	switch strings.ToLower(fields[0]) {
	case "start":
		action = ast.TimerStart
	case "stop":
		action = ast.TimerStop
	case "lap":
		action = ast.TimerLap
	default:
		return nil, fmt.Errorf("Line %d: 'timer' action must be start, stop, or lap", ln)
	}
	return &ast.Timer{Base: ast.Base{Ln: ln}, Action: action, Label: fields[1]}, nil
}

func parseAssert(rest string, ln int) (ast.Node, error) {
	col, op, rhs, ok := lex.SplitCondition(rest)
	if !ok {
		return nil, fmt.Errorf("Line %d: could not parse 'assert' condition '%s'", ln, rest)
	}
	return &ast.Assert{Base: ast.Base{Ln: ln}, Col: col, Op: op, RHS: rhs}, nil
}

func parseFill(rest string, ln int) (ast.Node, error) {
	fields := strings.SplitN(strings.TrimSpace(rest), " ", 2)
	if len(fields) < 2 || strings.TrimSpace(fields[1]) == "" {
		return nil, fmt.Errorf("Line %d: 'fill' requires a column and a strategy or value", ln)
	}
	return &ast.Fill{Base: ast.Base{Ln: ln}, Col: fields[0], Strategy: strings.TrimSpace(fields[1])}, nil
}

func parseSet(rest string, ln int) (ast.Node, error) {
	idx := strings.Index(rest, "=")
	if idx < 0 {
		return nil, fmt.Errorf("Line %d: 'set' requires '='. Example: set min_age = 18", ln)
	}
	name := strings.TrimSpace(rest[:idx])
	value := lex.StripQuotes(strings.TrimSpace(rest[idx+1:]))
	if name == "" {
		return nil, fmt.Errorf("Line %d: 'set' requires a variable name", ln)
	}
	return &ast.Set{Base: ast.Base{Ln: ln}, Name: name, Value: value}, nil
}

func parseEnv(rest string, ln int) (ast.Node, error) {
	name := strings.TrimSpace(rest)
	if name == "" {
		return nil, fmt.Errorf("Line %d: 'env' requires a variable name", ln)
	}
	return &ast.Env{Base: ast.Base{Ln: ln}, VarName: name}, nil
}

func parseParseDate(rest string, ln int) (ast.Node, error) {
	parts, err := splitQuotedArgs(rest)
	if err != nil || len(parts) != 2 {
		return nil, fmt.Errorf("Line %d: 'parse_date' requires a column and a format. Example: parse_date col \"2006-01-02\"", ln)
	}
	return &ast.ParseDate{Base: ast.Base{Ln: ln}, Col: parts[0], Format: lex.StripQuotes(parts[1])}, nil
}

func parseExtract(rest string, ln int) (ast.Node, error) {
	fields := strings.Fields(rest)
	if len(fields) != 3 {
		return nil, fmt.Errorf("Line %d: 'extract' requires part, column, new column. Example: extract year created_at created_year", ln)
	}
	part := ast.DatePart(strings.ToLower(fields[0]))
	switch part {
	case ast.PartYear, ast.PartMonth, ast.PartDay, ast.PartHour, ast.PartMinute, ast.PartSecond, ast.PartWeekday, ast.PartQuarter:
	default:
		return nil, fmt.Errorf("Line %d: unsupported 'extract' part '%s'", ln, fields[0])
	}
	return &ast.Extract{Base: ast.Base{Ln: ln}, Part: part, Col: fields[1], NewCol: fields[2]}, nil
}

func parseDateDiff(rest string, ln int) (ast.Node, error) {
	fields := strings.Fields(rest)
	if len(fields) != 4 {
		return nil, fmt.Errorf("Line %d: 'date_diff' requires col1, col2, new_col, unit", ln)
	}
	unit := ast.DateDiffUnit(strings.ToLower(fields[3]))
	switch unit {
	case ast.UnitDays, ast.UnitHours, ast.UnitMinutes, ast.UnitSeconds:
	default:
		return nil, fmt.Errorf("Line %d: unsupported 'date_diff' unit '%s'", ln, fields[3])
	}
	return &ast.DateDiff{Base: ast.Base{Ln: ln}, Col1: fields[0], Col2: fields[1], NewCol: fields[2], Unit: unit}, nil
}

func parseFilterDate(rest string, ln int) (ast.Node, error) {
	col, op, rhs, ok := lex.SplitCondition(rest)
	if !ok {
		return nil, fmt.Errorf("Line %d: could not parse 'filter_date' condition '%s'", ln, rest)
	}
	return &ast.FilterDate{Base: ast.Base{Ln: ln}, Col: col, Op: op, ISODate: lex.StripQuotes(rhs)}, nil
}

func parseTruncateDate(rest string, ln int) (ast.Node, error) {
	fields := strings.Fields(rest)
	if len(fields) != 2 {
		return nil, fmt.Errorf("Line %d: 'truncate_date' requires a column and a unit", ln)
	}
	unit := ast.TruncateUnit(strings.ToLower(fields[1]))
	switch unit {
	case ast.TruncYear, ast.TruncMonth, ast.TruncWeek, ast.TruncDay, ast.TruncHour:
	default:
		return nil, fmt.Errorf("Line %d: unsupported 'truncate_date' unit '%s'", ln, fields[1])
	}
	return &ast.TruncateDate{Base: ast.Base{Ln: ln}, Col: fields[0], Unit: unit}, nil
}

func parseTsSort(rest string, ln int) (ast.Node, error) {
	col := strings.TrimSpace(rest)
	if col == "" {
		return nil, fmt.Errorf("Line %d: 'ts_sort' requires a column name", ln)
	}
	return &ast.TsSort{Base: ast.Base{Ln: ln}, Col: col}, nil
}

// splitLeadingQuoted extracts a leading quoted string ("..." or
// '...') from s and returns its content plus the remainder.
func splitLeadingQuoted(s string) (content, remainder string, ok bool) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return "", s, false
	}
	q := s[0]
	if q != '"' && q != '\'' {
		return "", s, false
	}
	end := strings.IndexByte(s[1:], q)
	if end < 0 {
		return "", s, false
	}
	end++ // index within s
	return s[1:end], s[end+1:], true
}

// splitQuotedArgs splits s into whitespace-separated arguments while
// keeping quoted substrings (with their quotes) intact.
func splitQuotedArgs(s string) ([]string, error) {
	var args []string
	var cur strings.Builder
	inQuote := byte(0)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote != 0:
			cur.WriteByte(c)
			if c == inQuote {
				inQuote = 0
			}
		case c == '"' || c == '\'':
			inQuote = c
			cur.WriteByte(c)
		case c == ' ' || c == '\t':
			if cur.Len() > 0 {
				args = append(args, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(c)
		}
	}
	if inQuote != 0 {
		return nil, fmt.Errorf("unterminated quote")
	}
	if cur.Len() > 0 {
		args = append(args, cur.String())
	}
	return args, nil
}
