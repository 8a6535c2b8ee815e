// Package translator rewrites source SQL written against the embedded
// library's dialect (SQLite) into semantically equivalent PostgreSQL SQL.
//
// The translator is a fixed-order multi-pass source-to-source rewriter,
// not a full SQL grammar parser — like the teacher's parser.Parse, it is
// intentionally lightweight and regex/scan based to keep the prepare-time
// hot path cheap. Every pass is pure: same input, same output, for the
// life of one build.
package translator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Result is the output of a successful translation.
type Result struct {
	SQL         string
	ParamNames  []string // ordered, one entry per $N, "" for anonymous ? placeholders
	ParamCount  int
	OriginalSQL string
}

// Translate runs the full fixed-order pipeline against source SQL written
// in the embedded library's dialect and returns PostgreSQL-compatible SQL.
//
// redirectedWrite controls whether step 8 (append RETURNING id) applies;
// pass false for reads, pass-through statements, and non-INSERT writes.
func Translate(src string, redirectedWrite bool) (*Result, error) {
	namedParams := newOrderedNames()
	sql, err := translatePlaceholders(src, namedParams)
	if err != nil {
		return nil, fmt.Errorf("translator: placeholder pass: %w", err)
	}

	sql = rewriteFunctions(sql)

	sql, err = fixQueryStructure(sql)
	if err != nil {
		return nil, fmt.Errorf("translator: query-structure pass: %w", err)
	}

	sql = rewriteDDLTypes(sql)

	sql = rewriteUpsert(sql)

	sql = rewriteQuotes(sql)

	sql = hygieneDDL(sql)

	if redirectedWrite {
		sql = appendReturningID(sql)
	}

	return &Result{
		SQL:         sql,
		ParamNames:  namedParams.names,
		ParamCount:  len(namedParams.names),
		OriginalSQL: src,
	}, nil
}

// orderedNames tracks the distinct parameter names seen, in first-seen
// order, and maps a name back to its 1-based $N index (spec.md §4.1 step
// 1: "same name reused => same index").
type orderedNames struct {
	names []string       // index i -> name for $(i+1); "" for anonymous
	index map[string]int // name -> 1-based index, only for named params
}

func newOrderedNames() *orderedNames {
	return &orderedNames{index: make(map[string]int)}
}

// anonymous allocates a fresh index for a `?` placeholder.
func (o *orderedNames) anonymous() int {
	o.names = append(o.names, "")
	return len(o.names)
}

// named returns the existing index for name, or allocates a new one.
func (o *orderedNames) named(name string) int {
	if idx, ok := o.index[name]; ok {
		return idx
	}
	o.names = append(o.names, name)
	idx := len(o.names)
	o.index[name] = idx
	return idx
}

// quoteScanner walks src tracking single/double quoted string state so
// passes can skip rewriting inside string literals. The embedded dialect
// escapes an embedded quote by doubling it ('' inside '...', "" inside "...").
type quoteScanner struct {
	inSingle bool
	inDouble bool
	skip     bool // next byte is the second quote of a doubled pair
}

// step consumes one rune and updates quote state. It returns true if
// the rune at position i is "inside a string literal" for the purposes
// of the calling pass (i.e. the state *before* processing rune i).
func (q *quoteScanner) step(s string, i int) (insideString bool) {
	insideString = q.inSingle || q.inDouble
	if q.skip {
		q.skip = false
		return insideString
	}
	c := s[i]
	switch {
	case q.inSingle:
		if c == '\'' {
			// Doubled '' stays inside the string; a lone ' closes it.
			if i+1 < len(s) && s[i+1] == '\'' {
				q.skip = true
				return insideString
			}
			q.inSingle = false
		}
	case q.inDouble:
		if c == '"' {
			if i+1 < len(s) && s[i+1] == '"' {
				q.skip = true
				return insideString
			}
			q.inDouble = false
		}
	default:
		if c == '\'' {
			q.inSingle = true
		} else if c == '"' {
			q.inDouble = true
		}
	}
	return insideString
}

// translatePlaceholders implements spec.md §4.1 step 1.
func translatePlaceholders(src string, names *orderedNames) (string, error) {
	var out strings.Builder
	out.Grow(len(src) + 16)

	var q quoteScanner
	i := 0
	for i < len(src) {
		inString := q.step(src, i)
		c := src[i]

		if inString || isQuoteChar(c) {
			out.WriteByte(c)
			i++
			continue
		}

		switch {
		case c == '?':
			idx := names.anonymous()
			out.WriteString("$")
			out.WriteString(strconv.Itoa(idx))
			i++
		case c == ':' || c == '@' || c == '$':
			// Only treat as a named placeholder if followed by an
			// identifier character; otherwise it's a bare operator/sigil.
			j := i + 1
			for j < len(src) && isIdentChar(src[j]) {
				j++
			}
			if j == i+1 {
				out.WriteByte(c)
				i++
				continue
			}
			name := src[i+1 : j]
			idx := names.named(name)
			out.WriteString("$")
			out.WriteString(strconv.Itoa(idx))
			i = j
		default:
			out.WriteByte(c)
			i++
		}
	}
	return out.String(), nil
}

func isQuoteChar(c byte) bool { return c == '\'' || c == '"' }

func isIdentChar(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

// --- function rewrites (spec.md §4.1 step 2) ---

var (
	iifRe           = regexp.MustCompile(`(?i)\biif\s*\(`)
	typeofRe        = regexp.MustCompile(`(?i)\btypeof\s*\(\s*([^()]+?)\s*\)`)
	ifnullRe        = regexp.MustCompile(`(?i)\bifnull\s*\(`)
	substrRe        = regexp.MustCompile(`(?i)\bsubstr\s*\(`)
	strftimeNowRe   = regexp.MustCompile(`(?i)strftime\s*\(\s*'%s'\s*,\s*'now'\s*(,\s*'([+-]\d+\s+\w+)'\s*)?\)`)
	strftimeColRe   = regexp.MustCompile(`(?i)strftime\s*\(\s*'%s'\s*,\s*([^(),]+?)\s*(,\s*'([^']+)'\s*)?\)`)
	unixepochRe     = regexp.MustCompile(`(?i)unixepoch\s*\(\s*([^()]*?)\s*\)`)
	datetimeNowRe   = regexp.MustCompile(`(?i)datetime\s*\(\s*'now'\s*\)`)
	jsonEachRe      = regexp.MustCompile(`(?i)json_each\s*\(\s*([^()]+?)\s*\)`)
	lastInsertIDRe  = regexp.MustCompile(`(?i)\blast_insert_rowid\s*\(\s*\)`)
	maxMinRe        = regexp.MustCompile(`(?i)\b(max|min)\s*\(([^()]*)\)`)
	typeLiteralQuot = regexp.MustCompile(`'(integer|real)'`)
)

// rewriteFunctions applies the embedded-dialect -> PostgreSQL function
// equivalents listed in spec.md §4.1 step 2.
func rewriteFunctions(sql string) string {
	sql = rewriteIIF(sql)

	sql = typeofRe.ReplaceAllString(sql, "pg_typeof($1)::text")
	// typeof() comparisons: 'integer' must also match 'bigint', 'real'
	// must become 'double precision'. We can't know which side of a
	// comparison is the typeof() call without a real parser, so this
	// normalization is applied to the literal set typeof() is commonly
	// compared against; callers comparing against 'integer'/'real'
	// against a typeof(...) expression get matching semantics.
	sql = typeLiteralQuot.ReplaceAllStringFunc(sql, func(m string) string {
		switch m {
		case "'integer'":
			return "'bigint'"
		case "'real'":
			return "'double precision'"
		}
		return m
	})

	sql = ifnullRe.ReplaceAllString(sql, "COALESCE(")
	sql = substrRe.ReplaceAllString(sql, "SUBSTRING(")

	sql = strftimeNowRe.ReplaceAllStringFunc(sql, rewriteStrftimeNow)
	sql = strftimeColRe.ReplaceAllStringFunc(sql, rewriteStrftimeCol)
	sql = unixepochRe.ReplaceAllString(sql, "EXTRACT(EPOCH FROM $1)::bigint")
	sql = datetimeNowRe.ReplaceAllString(sql, "NOW()")

	sql = jsonEachRe.ReplaceAllString(sql, "json_array_elements($1::json)")

	sql = lastInsertIDRe.ReplaceAllString(sql, "lastval()")

	sql = maxMinRe.ReplaceAllStringFunc(sql, func(m string) string {
		sub := maxMinRe.FindStringSubmatch(m)
		fn, args := sub[1], sub[2]
		if !strings.Contains(args, ",") {
			return m // single-arg max()/min() is an aggregate, leave it
		}
		if strings.EqualFold(fn, "max") {
			return "GREATEST(" + args + ")"
		}
		return "LEAST(" + args + ")"
	})

	return sql
}

// rewriteIIF turns iif(c,a,b) into CASE WHEN c THEN a ELSE b END, handling
// nested parens inside each argument via balanced scanning
// (the regex above only detects the call site; this does the split).
func rewriteIIF(sql string) string {
	for {
		loc := iifRe.FindStringIndex(sql)
		if loc == nil {
			return sql
		}
		open := strings.IndexByte(sql[loc[1]-1:], '(') + (loc[1] - 1)
		args, end, ok := splitBalancedArgs(sql, open)
		if !ok || len(args) != 3 {
			// Malformed iif(); leave as-is rather than corrupt the query.
			return sql[:loc[1]] + rewriteIIF(sql[loc[1]:])
		}
		replacement := fmt.Sprintf("CASE WHEN %s THEN %s ELSE %s END",
			strings.TrimSpace(args[0]), strings.TrimSpace(args[1]), strings.TrimSpace(args[2]))
		sql = sql[:loc[0]] + replacement + sql[end:]
	}
}

// splitBalancedArgs splits the comma-separated, paren-balanced argument
// list starting at sql[openParen] == '(' and returns the args plus the
// index just past the matching close paren.
func splitBalancedArgs(sql string, openParen int) ([]string, int, bool) {
	depth := 0
	var q quoteScanner
	start := openParen + 1
	var args []string
	i := openParen
	for i < len(sql) {
		inString := q.step(sql, i)
		c := sql[i]
		if !inString {
			switch c {
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 {
					args = append(args, sql[start:i])
					return args, i + 1, true
				}
			case ',':
				if depth == 1 {
					args = append(args, sql[start:i])
					start = i + 1
				}
			}
		}
		i++
	}
	return nil, 0, false
}

func rewriteStrftimeNow(m string) string {
	sub := strftimeNowRe.FindStringSubmatch(m)
	modifier := sub[2]
	if modifier == "" {
		return "EXTRACT(EPOCH FROM NOW())::bigint"
	}
	sign := modifier[:1]
	rest := strings.TrimSpace(modifier[1:])
	op := "+"
	if sign == "-" {
		op = "-"
	}
	return fmt.Sprintf("EXTRACT(EPOCH FROM (NOW() %s INTERVAL '%s'))::bigint", op, rest)
}

func rewriteStrftimeCol(m string) string {
	sub := strftimeColRe.FindStringSubmatch(m)
	col := strings.TrimSpace(sub[1])
	if strings.EqualFold(col, "'now'") || col == "now" {
		return rewriteStrftimeNow(m)
	}
	return fmt.Sprintf("EXTRACT(EPOCH FROM %s)::bigint", col)
}

// --- query-structure fixes (spec.md §4.1 step 3) ---

var (
	matchClauseRe = regexp.MustCompile(`(?is)(\w+)\.(\w+)\s+MATCH\s+'([^']*)'`)
	ftsJoinRe     = regexp.MustCompile(`(?is)JOIN\s+(fts\d?_\w+)\s+ON\s+`)
	subqueryRe    = regexp.MustCompile(`(?is)FROM\s*\(\s*SELECT`)
	distinctRe    = regexp.MustCompile(`(?i)\bSELECT\s+DISTINCT\b`)
	nullsFirstRe  = regexp.MustCompile(`(?i)\bNULLS\s+FIRST\b`)
	nullsLastRe   = regexp.MustCompile(`(?i)\bNULLS\s+LAST\b`)
	topClauseKw   = regexp.MustCompile(`(?i)\s*(?:\b(?:WHERE|GROUP\s+BY|ORDER\s+BY|HAVING|LIMIT|JOIN|INNER\s+JOIN|LEFT\s+JOIN|UNION)\b|\)|;)`)
)

func fixQueryStructure(sql string) (string, error) {
	sql = rewriteFTSMatch(sql)
	sql = aliasBareSubqueries(sql)
	sql = reorderSelfJoins(sql)
	sql = dropRedundantDistinct(sql)
	sql = nullsFirstRe.ReplaceAllString(sql, "")
	sql = nullsLastRe.ReplaceAllString(sql, "")
	sql = coerceJSONEachValue(sql)
	sql = enforceGroupByStrictness(sql)
	return sql, nil
}

var (
	selectGroupByRe = regexp.MustCompile(`(?is)SELECT\s+(.*?)\s+FROM\s`)
	groupByListRe   = regexp.MustCompile(`(?is)GROUP\s+BY\s+(.+?)(?:ORDER\s+BY|HAVING|LIMIT|$)`)
	aggFuncRe       = regexp.MustCompile(`(?i)^(COUNT|SUM|AVG|MIN|MAX|GREATEST|LEAST|ARRAY_AGG|STRING_AGG|JSON_AGG)\s*\(`)
)

// enforceGroupByStrictness adds every non-aggregated, non-constant
// projection to the GROUP BY list, since PostgreSQL (unlike the embedded
// dialect) rejects ungrouped columns in a GROUP BY query (spec.md §4.1
// step 3).
func enforceGroupByStrictness(sql string) string {
	groupLoc := groupByListRe.FindStringSubmatchIndex(sql)
	if groupLoc == nil {
		return sql
	}
	selLoc := selectGroupByRe.FindStringSubmatchIndex(sql)
	if selLoc == nil {
		return sql
	}
	projections := splitTopLevelCSV(sql[selLoc[2]:selLoc[3]])
	existing := splitTopLevelCSV(sql[groupLoc[2]:groupLoc[3]])
	existingSet := make(map[string]bool, len(existing))
	for _, e := range existing {
		existingSet[normalizeExpr(e)] = true
	}

	var toAdd []string
	for _, p := range projections {
		expr, alias := splitAlias(p)
		if isAggregateExpr(expr) || isConstantExpr(expr) {
			continue
		}
		if existingSet[normalizeExpr(expr)] {
			continue
		}
		_ = alias
		toAdd = append(toAdd, expr)
		existingSet[normalizeExpr(expr)] = true
	}
	if len(toAdd) == 0 {
		return sql
	}
	insertAt := groupLoc[3]
	return sql[:insertAt] + ", " + strings.Join(toAdd, ", ") + sql[insertAt:]
}

func splitTopLevelCSV(s string) []string {
	var out []string
	depth := 0
	start := 0
	var q quoteScanner
	for i := 0; i < len(s); i++ {
		inString := q.step(s, i)
		if inString {
			continue
		}
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	out = append(out, strings.TrimSpace(s[start:]))
	return out
}

func splitAlias(expr string) (base string, alias string) {
	fields := regexp.MustCompile(`(?i)\s+AS\s+`).Split(expr, 2)
	if len(fields) == 2 {
		return strings.TrimSpace(fields[0]), strings.TrimSpace(fields[1])
	}
	return strings.TrimSpace(expr), ""
}

func isAggregateExpr(expr string) bool {
	return aggFuncRe.MatchString(strings.TrimSpace(expr))
}

func isConstantExpr(expr string) bool {
	e := strings.TrimSpace(expr)
	if e == "" {
		return true
	}
	if _, err := strconv.ParseFloat(e, 64); err == nil {
		return true
	}
	if len(e) >= 2 && (e[0] == '\'' || e[0] == '"') {
		return true
	}
	return false
}

func normalizeExpr(e string) string {
	return strings.ToLower(strings.Join(strings.Fields(e), " "))
}

var (
	jsonArrayElemPresent = regexp.MustCompile(`(?i)json_array_elements\(`)
	jsonEachSelectValue  = regexp.MustCompile(`(?i)SELECT\s+value\b`)
	jsonEachNumericCmp   = regexp.MustCompile(`(?i)\bvalue\s*(=|<>|!=|<=|>=|<|>)\s*(\d+(?:\.\d+)?)\b`)
)

// coerceJSONEachValue casts both the projected `value` column and any
// numeric comparison against it to text, since json_array_elements'
// `value` column is json, not a scalar (spec.md §4.1 step 3 last bullet,
// S6).
func coerceJSONEachValue(sql string) string {
	if !jsonArrayElemPresent.MatchString(sql) {
		return sql
	}
	sql = jsonEachSelectValue.ReplaceAllString(sql, "SELECT value::text")
	sql = jsonEachNumericCmp.ReplaceAllString(sql, "value::text $1 '$2'")
	return sql
}

// rewriteFTSMatch rewrites `table.col MATCH 'term*'` full-text predicates
// into `ILIKE '%term%'` against the same-named column of the table the
// FTS virtual table was joined to, and drops the FTS JOIN from the FROM
// clause.
func rewriteFTSMatch(sql string) string {
	sql = matchClauseRe.ReplaceAllStringFunc(sql, func(m string) string {
		sub := matchClauseRe.FindStringSubmatch(m)
		tbl, col, term := sub[1], sub[2], sub[3]
		term = strings.ReplaceAll(term, "''", "'") // undo dialect's quote-doubling escape
		term = strings.TrimSuffix(term, "*")
		return fmt.Sprintf("%s.%s ILIKE '%%%s%%'", tbl, col, term)
	})

	// Remove the FTS table join: scan forward from "JOIN fts..." to the
	// next top-level clause keyword and delete the span in between.
	for {
		loc := ftsJoinRe.FindStringSubmatchIndex(sql)
		if loc == nil {
			return sql
		}
		rest := sql[loc[1]:]
		end := loc[1]
		if kw := topClauseKw.FindStringIndex(rest); kw != nil {
			end = loc[1] + kw[0]
		} else {
			end = len(sql)
		}
		ftsTable, onPredicate := sql[loc[2]:loc[3]], sql[loc[1]:end]
		sql = sql[:loc[0]] + sql[end:]
		// Re-point predicates that still name the FTS table at the table
		// its ON predicate joined it to.
		for _, ref := range regexp.MustCompile(`(\w+)\.\w+`).FindAllStringSubmatch(onPredicate, -1) {
			if ref[1] != ftsTable {
				sql = strings.ReplaceAll(sql, ftsTable+".", ref[1]+".")
				break
			}
		}
	}
}

func aliasBareSubqueries(sql string) string {
	out := sql
	offset := 0
	subqAliasCounter := 0
	for {
		loc := subqueryRe.FindStringIndex(out[offset:])
		if loc == nil {
			return out
		}
		closeIdx := matchingParen(out, offset+loc[0]+strings.IndexByte(out[offset+loc[0]:], '('))
		if closeIdx < 0 {
			return out
		}
		after := out[closeIdx+1:]
		trimmed := strings.TrimLeft(after, " \t\n\r")
		hasAlias := false
		if trimmed != "" {
			// An explicit alias (bare identifier or AS ident) means the
			// first token isn't a clause keyword / comma / paren.
			firstWord := firstToken(trimmed)
			if firstWord != "" && !isClauseKeyword(firstWord) {
				hasAlias = true
			}
		}
		if !hasAlias {
			subqAliasCounter++
			alias := fmt.Sprintf(" subq%d", subqAliasCounter)
			out = out[:closeIdx+1] + alias + out[closeIdx+1:]
		}
		offset = closeIdx + 1
	}
}

func firstToken(s string) string {
	i := 0
	for i < len(s) && isIdentChar(s[i]) {
		i++
	}
	return s[:i]
}

var clauseKeywords = map[string]bool{
	"WHERE": true, "GROUP": true, "ORDER": true, "HAVING": true, "LIMIT": true,
	"JOIN": true, "INNER": true, "LEFT": true, "RIGHT": true, "UNION": true,
	"AS": true, "ON": true,
}

func isClauseKeyword(w string) bool {
	return clauseKeywords[strings.ToUpper(w)]
}

// matchingParen returns the index of the ')' matching the '(' at open,
// accounting for nested parens and quoted strings.
func matchingParen(s string, open int) int {
	if open < 0 || open >= len(s) || s[open] != '(' {
		return -1
	}
	depth := 0
	var q quoteScanner
	for i := open; i < len(s); i++ {
		inString := q.step(s, i)
		if inString {
			continue
		}
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

var selfJoinRe = regexp.MustCompile(`(?is)JOIN\s+(\w+)\s+AS\s+(\w+)\s+ON\b`)
var bareJoinRe = regexp.MustCompile(`(?is)JOIN\s+(\w+)\s+ON\b`)

// reorderSelfJoins moves an unaliased `JOIN m ON ...` to precede aliased
// `JOIN m AS x ON ...` joins on the same table when the aliased join
// appears first in source order (spec.md §4.1 step 3).
func reorderSelfJoins(sql string) string {
	aliased := selfJoinRe.FindAllStringSubmatchIndex(sql, -1)
	if len(aliased) == 0 {
		return sql
	}
	for _, a := range aliased {
		table := sql[a[2]:a[3]]
		// Find a later bare join of the same table.
		bare := bareJoinRe.FindAllStringSubmatchIndex(sql, -1)
		for _, b := range bare {
			if sql[b[2]:b[3]] != table {
				continue
			}
			if b[0] <= a[0] {
				continue // already precedes, or is this join's own match
			}
			// Move the bare join clause (up to its terminating ON
			// predicate's end, approximated as the next top-level
			// clause keyword) to just before the aliased join.
			rest := sql[b[1]:]
			end := len(sql)
			if kw := topClauseKw.FindStringIndex(rest); kw != nil {
				end = b[1] + kw[0]
			}
			bareClause := strings.TrimSpace(sql[b[0]:end])
			remaining := sql[:b[0]] + sql[end:]
			// Recompute aliased join start in the trimmed string.
			aliasedLoc := selfJoinRe.FindStringIndex(remaining)
			if aliasedLoc == nil {
				return sql
			}
			return remaining[:aliasedLoc[0]] + bareClause + " " + remaining[aliasedLoc[0]:]
		}
	}
	return sql
}

func dropRedundantDistinct(sql string) string {
	if !distinctRe.MatchString(sql) {
		return sql
	}
	upper := strings.ToUpper(sql)
	if strings.Contains(upper, "GROUP BY") || strings.Contains(upper, "ORDER BY") {
		return distinctRe.ReplaceAllString(sql, "SELECT")
	}
	return sql
}

// --- DDL type rewrites (spec.md §4.1 step 4) ---

var (
	autoIncrementPK = regexp.MustCompile(`(?i)INTEGER\s+PRIMARY\s+KEY\s+AUTOINCREMENT`)
	bareAutoInc     = regexp.MustCompile(`(?i)\s+AUTOINCREMENT\b`)
	integer8Re      = regexp.MustCompile(`(?i)\binteger\s*\(\s*8\s*\)`)
	defaultTrue     = regexp.MustCompile(`(?i)DEFAULT\s+'t'\b`)
	defaultFalse    = regexp.MustCompile(`(?i)DEFAULT\s+'f'\b`)
	datetimeColRe   = regexp.MustCompile(`(?i)\bdatetime\b`)
	blobColRe       = regexp.MustCompile(`(?i)\bBLOB\b`)
)

func rewriteDDLTypes(sql string) string {
	if !looksLikeDDL(sql) {
		return sql
	}
	sql = autoIncrementPK.ReplaceAllString(sql, "SERIAL PRIMARY KEY")
	sql = bareAutoInc.ReplaceAllString(sql, "")
	sql = integer8Re.ReplaceAllString(sql, "BIGINT")
	sql = defaultTrue.ReplaceAllString(sql, "DEFAULT TRUE")
	sql = defaultFalse.ReplaceAllString(sql, "DEFAULT FALSE")
	sql = datetimeColRe.ReplaceAllString(sql, "TIMESTAMP")
	sql = blobColRe.ReplaceAllString(sql, "BYTEA")
	return sql
}

func looksLikeDDL(sql string) bool {
	u := strings.ToUpper(strings.TrimSpace(sql))
	return strings.HasPrefix(u, "CREATE") || strings.HasPrefix(u, "ALTER") || strings.HasPrefix(u, "DROP")
}

// --- UPSERT rewrite (spec.md §4.1 step 5) ---

var insertOrReplaceRe = regexp.MustCompile(`(?is)INSERT\s+OR\s+REPLACE\s+INTO\s+(\w+)\s*\(([^()]*)\)\s*VALUES\s*\(([^()]*)\)`)

// upsertConflictTargets is the hard-coded table-specific fallback rule
// registry spec.md §4.1 step 5 calls for when the conflict target can't
// be inferred structurally (no declared primary/unique key visible to a
// regex-based rewriter).
var upsertConflictTargets = map[string]string{
	"statistics_media": "media_id, stat_date",
	"session_state":    "session_id",
}

func rewriteUpsert(sql string) string {
	loc := insertOrReplaceRe.FindStringSubmatchIndex(sql)
	if loc == nil {
		return sql
	}
	table := sql[loc[2]:loc[3]]
	cols := splitCSV(sql[loc[4]:loc[5]])

	conflictTarget, ok := upsertConflictTargets[strings.ToLower(table)]
	if !ok {
		conflictTarget = inferConflictTarget(cols)
	}

	var setClauses []string
	for _, c := range cols {
		setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}

	prefix := sql[:loc[0]]
	suffix := sql[loc[1]:]
	newStmt := fmt.Sprintf("INSERT INTO %s(%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table, sql[loc[4]:loc[5]], sql[loc[6]:loc[7]], conflictTarget, strings.Join(setClauses, ", "))
	return prefix + newStmt + suffix
}

// inferConflictTarget guesses a conflict target from the column list:
// a column literally named "id" is assumed to be the primary key.
func inferConflictTarget(cols []string) string {
	for _, c := range cols {
		if strings.EqualFold(strings.TrimSpace(c), "id") {
			return "id"
		}
	}
	if len(cols) > 0 {
		return strings.TrimSpace(cols[0])
	}
	return "id"
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// --- quote translations (spec.md §4.1 step 6) ---

var (
	backtickIdentRe  = regexp.MustCompile("`([^`]*)`")
	collateICURe     = regexp.MustCompile(`(?i)\s*COLLATE\s+icu_root\b`)
	collateNoCaseRe  = regexp.MustCompile(`(?i)(\w+(?:\.\w+)?)\s*(=|LIKE)\s*(\S+?)\s+COLLATE\s+NOCASE`)
	collateOrderByRe = regexp.MustCompile(`(?i)\bORDER\s+BY\s+(\w+(?:\.\w+)?)\s+COLLATE\s+NOCASE`)
	onConflictQuoted = regexp.MustCompile(`(?i)ON\s+CONFLICT\s*\(\s*"([^"]+)"\s*\)`)
)

func rewriteQuotes(sql string) string {
	sql = backtickIdentRe.ReplaceAllString(sql, `"$1"`)
	sql = collateICURe.ReplaceAllString(sql, "")

	sql = collateNoCaseRe.ReplaceAllStringFunc(sql, func(m string) string {
		sub := collateNoCaseRe.FindStringSubmatch(m)
		lhs, op, rhs := sub[1], sub[2], sub[3]
		if strings.EqualFold(op, "LIKE") {
			return fmt.Sprintf("%s ILIKE %s", lhs, rhs)
		}
		return fmt.Sprintf("LOWER(%s) = LOWER(%s)", lhs, rhs)
	})
	sql = collateOrderByRe.ReplaceAllString(sql, "ORDER BY LOWER($1)")

	sql = onConflictQuoted.ReplaceAllString(sql, "ON CONFLICT($1)")

	sql = rewriteDDLIdentifierQuotes(sql)
	return sql
}

// rewriteDDLIdentifierQuotes rewrites single-quoted identifiers to
// double-quoted identifiers in DDL position and after '.' or 'AS', per
// spec.md §4.1 step 6. This is approximated by rewriting single-quoted
// tokens that look like bare identifiers (no spaces) when the statement
// is DDL, or when immediately preceded by '.' or a case-insensitive 'AS'.
var ddlIdentQuoteRe = regexp.MustCompile(`(\.|(?i:AS))\s*'([A-Za-z_][A-Za-z0-9_]*)'`)

func rewriteDDLIdentifierQuotes(sql string) string {
	sql = ddlIdentQuoteRe.ReplaceAllString(sql, `$1 "$2"`)
	if looksLikeDDL(sql) {
		sql = regexp.MustCompile(`'([A-Za-z_][A-Za-z0-9_]*)'`).ReplaceAllStringFunc(sql, func(m string) string {
			inner := m[1 : len(m)-1]
			if looksLikeIdentifier(inner) {
				return `"` + inner + `"`
			}
			return m
		})
	}
	return sql
}

func looksLikeIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isIdentChar(s[i]) {
			return false
		}
	}
	return true
}

// --- keyword & DDL hygiene (spec.md §4.1 step 7) ---

var (
	createTableRe = regexp.MustCompile(`(?i)CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?`)
	createIndexRe = regexp.MustCompile(`(?i)CREATE\s+(UNIQUE\s+)?INDEX\s+(?:IF\s+NOT\s+EXISTS\s+)?`)
	placeholderOp = regexp.MustCompile(`\$(\d+)([A-Za-z_])`)
)

func hygieneDDL(sql string) string {
	if createTableRe.MatchString(sql) && !strings.Contains(strings.ToUpper(sql), "IF NOT EXISTS") {
		sql = createTableRe.ReplaceAllString(sql, "CREATE TABLE IF NOT EXISTS ")
	}
	if createIndexRe.MatchString(sql) && !strings.Contains(strings.ToUpper(sql), "IF NOT EXISTS") {
		sql = createIndexRe.ReplaceAllString(sql, "CREATE ${1}INDEX IF NOT EXISTS ")
	}
	// Fix operator spacing where a placeholder abuts an identifier, e.g.
	// "$1x" is ambiguous; insert a space so PostgreSQL doesn't try to
	// parse a parameter named "1x".
	sql = placeholderOp.ReplaceAllString(sql, "$$$1 $2")
	return sql
}

// --- redirected-write RETURNING id (spec.md §4.1 step 8) ---

var insertStmtRe = regexp.MustCompile(`(?i)^\s*INSERT\s+INTO\b`)

func appendReturningID(sql string) string {
	if !insertStmtRe.MatchString(sql) {
		return sql
	}
	if strings.Contains(strings.ToUpper(sql), "RETURNING") {
		return sql
	}
	trimmed := strings.TrimRight(sql, " \t\n\r;")
	return trimmed + " RETURNING id"
}
