package config

import (
	"os"
	"strings"
	"testing"
)

func TestLoad_DefaultsWhenEnvUnset(t *testing.T) {
	for _, k := range []string{"PGSHIM_PG_HOST", "PGSHIM_PG_PORT", "PGSHIM_PG_SCHEMA", "PGSHIM_REDIRECT_PATTERNS", "PGSHIM_SKIP_PATTERNS"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg := Load()
	if cfg.PGHost != "localhost" {
		t.Errorf("want default host localhost, got %q", cfg.PGHost)
	}
	if cfg.PGPort != 5432 {
		t.Errorf("want default port 5432, got %d", cfg.PGPort)
	}
	if cfg.PGSchema != "public" {
		t.Errorf("want default schema public, got %q", cfg.PGSchema)
	}
	if !cfg.IsRedirected("/redirected/app.db") {
		t.Error("want built-in redirect pattern to still apply")
	}
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("PGSHIM_PG_HOST", "db.internal")
	t.Setenv("PGSHIM_PG_PORT", "6543")

	cfg := Load()
	if cfg.PGHost != "db.internal" {
		t.Errorf("want overridden host, got %q", cfg.PGHost)
	}
	if cfg.PGPort != 6543 {
		t.Errorf("want overridden port, got %d", cfg.PGPort)
	}
}

func TestGetEnvAsInt_FallsBackOnGarbage(t *testing.T) {
	t.Setenv("PGSHIM_PG_PORT", "not-a-number")
	if got := getEnvAsInt("PGSHIM_PG_PORT", 5432); got != 5432 {
		t.Errorf("want fallback 5432 on unparseable value, got %d", got)
	}
}

func TestMergeList_AppendsAndTrimsExtras(t *testing.T) {
	got := mergeList([]string{"a", "b"}, " c , ,d")
	want := []string{"a", "b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("want %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("want %v, got %v", want, got)
		}
	}
}

func TestIsRedirected_MatchesSubstring(t *testing.T) {
	cfg := &Config{RedirectPatterns: []string{"/redirected/"}}
	if !cfg.IsRedirected("/var/lib/redirected/app.db") {
		t.Error("want a path containing the pattern to be redirected")
	}
	if cfg.IsRedirected("/var/lib/app.db") {
		t.Error("want a path without the pattern to not be redirected")
	}
}

func TestMatchesSkipPattern_MatchesSubstring(t *testing.T) {
	cfg := &Config{SkipPatterns: []string{"icu_root"}}
	if !cfg.MatchesSkipPattern("SELECT * FROM t ORDER BY name COLLATE icu_root") {
		t.Error("want a statement referencing the skip pattern to match")
	}
	if cfg.MatchesSkipPattern("SELECT 1") {
		t.Error("want an unrelated statement to not match")
	}
}

func TestDSN_IncludesOnlyNonEmptyFields(t *testing.T) {
	cfg := &Config{PGHost: "localhost", PGPort: 5432, PGDatabase: "app"}
	dsn := cfg.DSN()
	if !strings.Contains(dsn, "host=localhost") || !strings.Contains(dsn, "port=5432") {
		t.Fatalf("want host and port in DSN, got %q", dsn)
	}
	if !strings.Contains(dsn, "dbname=app") {
		t.Fatalf("want dbname in DSN, got %q", dsn)
	}
	if strings.Contains(dsn, "user=") || strings.Contains(dsn, "password=") {
		t.Fatalf("want no user/password clause when unset, got %q", dsn)
	}
}
