package sqlcheck

import (
	"errors"
	"fmt"
	"strings"

	"github.com/parseqri/parseqri/internal/pipeline"
)

var forbiddenKeywords = setOf(
	"insert", "update", "delete", "merge", "upsert", "drop", "create", "alter", "truncate",
	"copy", "attach", "detach", "install", "load", "pragma", "call", "export", "import",
	"grant", "revoke", "vacuum", "checkpoint",
)

var keywords = setOf(
	"select", "with", "recursive", "from", "where", "group", "by", "order", "having", "limit", "offset",
	"as", "on", "using", "join", "inner", "left", "right", "full", "outer", "cross", "natural", "lateral",
	"positional", "asof", "semi", "anti", "union", "intersect", "except", "all", "distinct", "any", "some",
	"exists", "in", "is", "not", "and", "or", "like", "ilike", "glob", "similar", "escape", "between",
	"case", "when", "then", "else", "end", "null", "true", "false", "asc", "desc", "nulls", "first", "last",
	"over", "partition", "rows", "range", "groups", "unbounded", "preceding", "following", "current", "row",
	"filter", "within", "qualify", "window", "cast", "try_cast", "extract", "interval", "collate", "fetch",
	"next", "only", "ties", "exclude", "replace", "rename", "at", "time", "zone", "materialized", "values",
	"rollup", "cube", "grouping", "sets", "array", "struct", "map", "to", "for", "of", "default",
	"int", "integer", "bigint", "smallint", "tinyint", "hugeint", "ubigint", "uinteger", "double", "float",
	"real", "decimal", "numeric", "varchar", "text", "string", "char", "boolean", "bool", "date", "timestamp",
	"timestamptz", "uuid", "blob", "json", "year", "years", "quarter", "month", "months", "week", "weeks",
	"day", "days", "hour", "hours", "minute", "minutes", "second", "seconds", "millisecond", "milliseconds",
	"microsecond", "microseconds", "epoch", "dow", "doy", "isodow", "century", "decade",
	"both", "leading", "trailing",
)

// functions that read files, list directories or run nested SQL
var forbiddenFunctions = setOf(
	"read_parquet", "parquet_scan", "parquet_metadata", "parquet_schema", "parquet_file_metadata",
	"read_csv", "read_csv_auto", "sniff_csv", "read_json", "read_json_auto", "read_json_objects",
	"read_ndjson", "read_ndjson_auto", "read_text", "read_blob", "glob", "query", "query_table",
	"getenv", "iceberg_scan", "delta_scan", "sqlite_scan", "postgres_scan", "mysql_scan",
)

// parenthesized keywords that take FROM as an argument separator
var callKeywords = setOf("extract", "trim", "substring", "position", "overlay", "cast", "try_cast")

func setOf(words ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}

func isKeyword(t token) bool {
	if t.kind != tokIdent {
		return false
	}
	_, ok := keywords[strings.ToLower(t.text)]
	return ok
}

// ErrNotReadOnly is returned by ReadOnly for anything but one SELECT/WITH.
var ErrNotReadOnly = errors.New("only a single read-only SELECT or WITH statement is allowed")

// ReadOnly checks that sql is a single statement that cannot modify data and
// reads only named tables: no table functions and no file references.
func ReadOnly(sql string) error {
	tokens, err := tokenize(sql)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotReadOnly, err)
	}
	tokens = trimTrailingSemicolons(tokens)
	issues := statementIssues(tokens, nil)
	if len(issues) == 0 {
		issues = analyze(tokens).checkTables("")
	}
	if len(issues) > 0 {
		return fmt.Errorf("%w: %s", ErrNotReadOnly, strings.Join(issues, "; "))
	}
	return nil
}

// Check applies the deterministic rules to a sanitized statement and returns
// the issues found, or nil when the statement is acceptable.
func Check(sql, tableRef string, schema pipeline.Schema) []string {
	if strings.TrimSpace(sql) == "" {
		return []string{"statement is empty"}
	}
	tokens, err := tokenize(sql)
	if err != nil {
		return []string{err.Error()}
	}
	tokens = trimTrailingSemicolons(tokens)
	if len(tokens) == 0 {
		return []string{"statement is empty"}
	}

	columns := make(map[string]struct{}, len(schema))
	for _, col := range schema {
		columns[strings.ToLower(col.Name)] = struct{}{}
	}

	issues := &issueList{}
	issues.add(statementIssues(tokens, columns)...)
	if !issues.empty() {
		return issues.items
	}

	a := analyze(tokens)
	issues.add(a.checkTables(tableRef)...)
	issues.add(a.checkColumns(tableRef, columns)...)
	return issues.items
}

func statementIssues(tokens []token, columns map[string]struct{}) []string {
	if len(tokens) == 0 {
		return []string{"statement is empty"}
	}
	issues := &issueList{}
	for _, t := range tokens {
		if t.is(";") {
			issues.add("multiple statements are not allowed")
			break
		}
	}

	first := tokens[0]
	for i := 0; i < len(tokens) && tokens[i].is("("); i++ {
		if i+1 < len(tokens) {
			first = tokens[i+1]
		}
	}
	if !first.isKeyword("select") && !first.isKeyword("with") {
		issues.add(fmt.Sprintf("statement type %q is not allowed, only SELECT or WITH", strings.ToUpper(first.text)))
	}

	depth := 0
	for _, t := range tokens {
		switch {
		case t.is("("):
			depth++
		case t.is(")"):
			depth--
		}
		if depth < 0 {
			break
		}
	}
	if depth != 0 {
		issues.add("unbalanced parentheses")
	}

	for i, t := range tokens {
		if t.kind != tokIdent {
			continue
		}
		word := strings.ToLower(t.text)
		if _, bad := forbiddenKeywords[word]; !bad {
			continue
		}
		if _, isColumn := columns[word]; isColumn {
			continue
		}
		if i+1 < len(tokens) && tokens[i+1].is("(") {
			continue
		}
		if i > 0 && (tokens[i-1].is(".") || tokens[i-1].isKeyword("as")) {
			continue
		}
		issues.add(fmt.Sprintf("%s statements are not allowed", strings.ToUpper(word)))
	}

	for i, t := range tokens {
		if t.kind != tokIdent || i+1 >= len(tokens) || !tokens[i+1].is("(") {
			continue
		}
		if _, bad := forbiddenFunctions[strings.ToLower(t.text)]; bad {
			issues.add(fmt.Sprintf("function %q is not allowed", strings.ToLower(t.text)))
		}
	}
	return issues.items
}

func trimTrailingSemicolons(tokens []token) []token {
	for len(tokens) > 0 && tokens[len(tokens)-1].is(";") {
		tokens = tokens[:len(tokens)-1]
	}
	return tokens
}

type analysis struct {
	tokens  []token
	ctes    map[string]struct{}
	aliases map[string]struct{}
	// tableAt marks token indexes that name a table in a FROM or JOIN.
	tableAt map[int]struct{}
	// callParen marks '(' indexes that open a function argument list.
	callParen map[int]bool
}

func analyze(tokens []token) *analysis {
	a := &analysis{
		tokens:    tokens,
		ctes:      map[string]struct{}{},
		aliases:   map[string]struct{}{},
		tableAt:   map[int]struct{}{},
		callParen: map[int]bool{},
	}
	for i, t := range tokens {
		if !t.is("(") || i == 0 {
			continue
		}
		prev := tokens[i-1]
		if prev.kind == tokQuotedIdent || (prev.kind == tokIdent && !isKeyword(prev)) {
			a.callParen[i] = true
		} else if prev.kind == tokIdent {
			_, ok := callKeywords[strings.ToLower(prev.text)]
			a.callParen[i] = ok
		}
	}
	a.collectCTEs()
	a.collectAliases()
	return a
}

func (a *analysis) at(i int) token {
	if i < 0 || i >= len(a.tokens) {
		return token{kind: tokSymbol}
	}
	return a.tokens[i]
}

func (a *analysis) matching(open int) int {
	depth := 0
	for i := open; i < len(a.tokens); i++ {
		switch {
		case a.tokens[i].is("("):
			depth++
		case a.tokens[i].is(")"):
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return len(a.tokens) - 1
}

// collectCTEs records names declared as `name [(cols)] AS [NOT] [MATERIALIZED] (`.
func (a *analysis) collectCTEs() {
	for i, t := range a.tokens {
		if !t.isIdent() || isKeyword(t) {
			continue
		}
		j := i + 1
		var declared []token
		if a.at(j).is("(") {
			end := a.matching(j)
			for k := j + 1; k < end; k++ {
				if a.tokens[k].isIdent() {
					declared = append(declared, a.tokens[k])
				}
			}
			j = end + 1
		}
		if !a.at(j).isKeyword("as") {
			continue
		}
		j++
		if a.at(j).isKeyword("not") {
			j++
		}
		if a.at(j).isKeyword("materialized") {
			j++
		}
		if !a.at(j).is("(") {
			continue
		}
		a.ctes[t.name()] = struct{}{}
		for _, col := range declared {
			a.aliases[col.name()] = struct{}{}
		}
	}
}

func (a *analysis) collectAliases() {
	for i, t := range a.tokens {
		if !t.isIdent() || isKeyword(t) || a.at(i+1).is("(") || a.at(i+1).is(".") {
			continue
		}
		prev := a.at(i - 1)
		switch {
		case prev.isKeyword("as"):
			a.aliases[t.name()] = struct{}{}
		case prev.is(")"), prev.kind == tokQuotedIdent, prev.kind == tokIdent && !isKeyword(prev):
			a.aliases[t.name()] = struct{}{}
		}
	}
}

// insideCall reports whether token i sits directly inside a function call's
// argument list, as the FROM in EXTRACT(YEAR FROM d) does.
func (a *analysis) insideCall(i int) bool {
	depth := 0
	for k := i - 1; k >= 0; k-- {
		switch {
		case a.tokens[k].is(")"):
			depth++
		case a.tokens[k].is("("):
			if depth == 0 {
				return a.callParen[k]
			}
			depth--
		}
	}
	return false
}

// checkTables rejects table functions and file references after FROM or
// JOIN. With a non-empty tableRef it also rejects tables other than tableRef
// and the statement's CTEs.
func (a *analysis) checkTables(tableRef string) []string {
	issues := &issueList{}
	for i, t := range a.tokens {
		isFrom := t.isKeyword("from")
		if !isFrom && !t.isKeyword("join") {
			continue
		}
		if isFrom && (a.at(i-1).isKeyword("distinct") || a.insideCall(i)) {
			continue
		}
		j := i + 1
		for j < len(a.tokens) {
			if a.at(j).isKeyword("lateral") {
				j++
			}
			ref := a.at(j)
			if ref.kind == tokString {
				issues.add(fmt.Sprintf("file reference %q is not allowed", ref.text))
				break
			}
			if ref.isIdent() && a.at(j+1).is("(") {
				issues.add(fmt.Sprintf("table function %q is not allowed", ref.name()))
				break
			}
			if !ref.isIdent() || (isKeyword(ref) && !strings.EqualFold(ref.text, tableRef)) {
				break
			}
			nameIdx := j
			k := j + 1
			for a.at(k).is(".") && a.at(k + 1).isIdent() {
				nameIdx = k + 1
				k += 2
			}
			name := a.tokens[nameIdx].name()
			if a.at(k).is("(") {
				issues.add(fmt.Sprintf("table function %q is not allowed", name))
				break
			}
			a.tableAt[nameIdx] = struct{}{}
			for q := j; q < nameIdx; q += 2 {
				a.tableAt[q] = struct{}{}
			}
			if _, isCTE := a.ctes[strings.ToLower(name)]; !isCTE && tableRef != "" && !strings.EqualFold(name, tableRef) {
				issues.add(fmt.Sprintf("unknown table %q", name))
			}
			if a.at(k).isKeyword("as") {
				k += 2
			} else if a.at(k).isIdent() && !isKeyword(a.at(k)) {
				k++
			}
			if !isFrom || !a.at(k).is(",") {
				break
			}
			j = k + 1
		}
	}
	return issues.items
}

func (a *analysis) checkColumns(tableRef string, columns map[string]struct{}) []string {
	issues := &issueList{}
	for i, t := range a.tokens {
		if !t.isIdent() || isKeyword(t) {
			continue
		}
		if _, ok := a.tableAt[i]; ok {
			continue
		}
		next, prev := a.at(i+1), a.at(i-1)
		if next.is("(") || next.is("->") || next.is("=>") || prev.is("::") || prev.isKeyword("as") {
			continue
		}
		name := strings.ToLower(t.name())
		if next.is(".") {
			if !a.knownQualifier(name, tableRef) {
				issues.add(fmt.Sprintf("unknown table %q", t.name()))
			}
			continue
		}
		if prev.is(".") {
			qualifier := strings.ToLower(a.at(i - 2).name())
			if _, isCTE := a.ctes[qualifier]; isCTE {
				continue
			}
			if _, ok := columns[name]; !ok {
				issues.add(fmt.Sprintf("unknown column %q", t.name()))
			}
			continue
		}
		if _, ok := columns[name]; ok {
			continue
		}
		if _, ok := a.aliases[name]; ok {
			continue
		}
		if _, ok := a.ctes[name]; ok {
			continue
		}
		issues.add(fmt.Sprintf("unknown column %q", t.name()))
	}
	return issues.items
}

func (a *analysis) knownQualifier(name, tableRef string) bool {
	if strings.EqualFold(name, tableRef) {
		return true
	}
	if _, ok := a.ctes[name]; ok {
		return true
	}
	_, ok := a.aliases[name]
	return ok
}

type issueList struct {
	items []string
	seen  map[string]struct{}
}

func (l *issueList) add(issues ...string) {
	if l.seen == nil {
		l.seen = map[string]struct{}{}
	}
	for _, issue := range issues {
		if _, dup := l.seen[issue]; dup {
			continue
		}
		l.seen[issue] = struct{}{}
		l.items = append(l.items, issue)
	}
}

func (l *issueList) empty() bool { return len(l.items) == 0 }
