package translator

import (
	"strings"
	"testing"
)

// S1 - named params reused.
func TestTranslate_NamedParamReuse(t *testing.T) {
	res, err := Translate("SELECT a FROM t WHERE x=:id OR y=:id", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ParamCount != 1 {
		t.Fatalf("want param count 1, got %d", res.ParamCount)
	}
	if len(res.ParamNames) != 1 || res.ParamNames[0] != "id" {
		t.Fatalf("want names [id], got %v", res.ParamNames)
	}
	if strings.Count(res.SQL, "$1") != 2 {
		t.Fatalf("want two occurrences of $1, got SQL %q", res.SQL)
	}
}

// S2 - IFNULL + iif + backticks.
func TestTranslate_IfnullIifBackticks(t *testing.T) {
	res, err := Translate("SELECT IFNULL(`a`, iif(b>0, 1, 0)) FROM t", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `COALESCE("a", CASE WHEN b>0 THEN 1 ELSE 0 END)`
	if !strings.Contains(res.SQL, want) {
		t.Fatalf("want SQL to contain %q, got %q", want, res.SQL)
	}
}

// S3 - INSERT gets RETURNING id when redirected.
func TestTranslate_InsertReturningID(t *testing.T) {
	res, err := Translate("INSERT INTO gen(uri, limit) VALUES(?, ?)", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(strings.TrimSpace(res.SQL), "RETURNING id") {
		t.Fatalf("want SQL to end with RETURNING id, got %q", res.SQL)
	}
	if res.ParamCount != 2 {
		t.Fatalf("want 2 params, got %d", res.ParamCount)
	}
}

// Non-redirected writes must not get RETURNING appended.
func TestTranslate_InsertNoReturningWhenNotRedirectedWrite(t *testing.T) {
	res, err := Translate("INSERT INTO gen(uri) VALUES(?)", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(res.SQL, "RETURNING") {
		t.Fatalf("did not expect RETURNING, got %q", res.SQL)
	}
}

// S5 - FTS rewrite.
func TestTranslate_FTSRewrite(t *testing.T) {
	src := "SELECT metadata_items.title FROM metadata_items JOIN fts4_metadata_titles_icu ON metadata_items.id = fts4_metadata_titles_icu.rowid WHERE fts4_metadata_titles_icu.title MATCH 'star*'"
	res, err := Translate(src, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(res.SQL, "JOIN fts4_metadata_titles_icu") {
		t.Fatalf("expected FTS join removed, got %q", res.SQL)
	}
	if !strings.Contains(res.SQL, `metadata_items.title ILIKE '%star%'`) {
		t.Fatalf("expected ILIKE predicate, got %q", res.SQL)
	}
}

// S6 - json_each type coercion.
func TestTranslate_JSONEachCoercion(t *testing.T) {
	res, err := Translate("SELECT value FROM json_each(payload) WHERE value = 42", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.SQL, "json_array_elements(payload::json)") {
		t.Fatalf("expected json_array_elements rewrite, got %q", res.SQL)
	}
	if !strings.Contains(res.SQL, "SELECT value::text") {
		t.Fatalf("expected value::text projection, got %q", res.SQL)
	}
	if !strings.Contains(res.SQL, "value::text = '42'") {
		t.Fatalf("expected text-coerced comparison, got %q", res.SQL)
	}
}

// Invariant 6: ? placeholders translate to $1..$k in source order.
func TestTranslate_AnonymousPlaceholderOrder(t *testing.T) {
	res, err := Translate("SELECT * FROM t WHERE a=? AND b=? AND c=?", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ParamCount != 3 {
		t.Fatalf("want 3 params, got %d", res.ParamCount)
	}
	for i, want := range []string{"$1", "$2", "$3"} {
		if !strings.Contains(res.SQL, want) {
			t.Fatalf("missing placeholder %s (index %d) in %q", want, i, res.SQL)
		}
	}
}

// Invariant 4: translation is idempotent in one direction.
func TestTranslate_Idempotent(t *testing.T) {
	src := "SELECT IFNULL(`a`, iif(b>0, 1, 0)) FROM t WHERE x = ?"
	first, err := Translate(src, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Translate(first.SQL, false)
	if err != nil {
		t.Fatalf("unexpected error on second pass: %v", err)
	}
	if second.SQL != first.SQL {
		t.Fatalf("translation not idempotent:\nfirst:  %q\nsecond: %q", first.SQL, second.SQL)
	}
}

func TestTranslate_QuoteLiteralsNotRewritten(t *testing.T) {
	res, err := Translate("SELECT * FROM t WHERE name = 'has a ? and :colon'", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ParamCount != 0 {
		t.Fatalf("want 0 params (placeholder-looking text was inside a string literal), got %d: %q", res.ParamCount, res.SQL)
	}
}

func TestTranslate_DDLAutoincrement(t *testing.T) {
	res, err := Translate("CREATE TABLE t (id INTEGER PRIMARY KEY AUTOINCREMENT, name BLOB)", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.SQL, "SERIAL PRIMARY KEY") {
		t.Fatalf("want SERIAL PRIMARY KEY, got %q", res.SQL)
	}
	if !strings.Contains(res.SQL, "BYTEA") {
		t.Fatalf("want BYTEA, got %q", res.SQL)
	}
	if !strings.Contains(res.SQL, "IF NOT EXISTS") {
		t.Fatalf("want IF NOT EXISTS inserted, got %q", res.SQL)
	}
}

func TestTranslate_GroupByStrictness(t *testing.T) {
	res, err := Translate("SELECT a, b, COUNT(*) FROM t GROUP BY a", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.SQL, "GROUP BY a, b") {
		t.Fatalf("want b added to GROUP BY, got %q", res.SQL)
	}
}

func TestCache_HitAndMiss(t *testing.T) {
	c := NewCache()
	sql := "SELECT * FROM t WHERE x = ?"
	if c.Lookup(sql) != nil {
		t.Fatalf("expected cache miss on empty cache")
	}
	res, err := c.TranslateCached(sql, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hit := c.Lookup(sql)
	if hit == nil {
		t.Fatalf("expected cache hit after store")
	}
	if hit.SQL != res.SQL {
		t.Fatalf("cached result mismatch: %q vs %q", hit.SQL, res.SQL)
	}
}
