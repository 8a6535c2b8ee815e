// Package config loads the shim's environment-variable configuration and
// holds the compile-time constants referenced throughout the engine.
//
// There is no file format and no hot reload: the host process attaches
// once, reads its environment once, and that configuration is fixed for
// the life of the process.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Compile-time capacity and budget constants (spec.md §4 throughout).
// These size fixed-capacity arrays, so they are untyped constants
// rather than Config fields — the host process does not get to resize
// them at runtime, matching the embedded library's own fixed tables.
const (
	// MaxStatements bounds the global statement registry (spec.md §3
	// "Statement" capacity note).
	MaxStatements = 4096

	// MaxConnections bounds the remote connection pool (spec.md §4.3).
	MaxConnections = 64

	// RecentStatementCacheSize bounds each thread's most-recently-used
	// statement cache (spec.md §4.6).
	RecentStatementCacheSize = 16

	// FakeValuePoolSize bounds the cyclic fake-value token pool (spec.md
	// §4.7); must be a power of two so handle decoding can mask instead
	// of dividing.
	FakeValuePoolSize = 4096

	// ResultCacheSize bounds each thread's result cache (spec.md §4.5).
	ResultCacheSize = 256

	// ResultCacheRowCap and ResultCacheByteCap refuse to cache results
	// too large to be worth holding in memory (spec.md §4.5 "Refuse
	// oversized results outright").
	ResultCacheRowCap  = 10_000
	ResultCacheByteCap = 4 << 20 // 4 MiB

	// WorkerDelegationDepth is the soft call-depth threshold past which a
	// redirected read is delegated to the worker goroutine instead of
	// recursing further on the calling thread (spec.md §4.2 step 3,
	// §4.4). HardAbortDepth is the point past which prepare fails
	// outright rather than delegating again.
	WorkerDelegationDepth = 24
	HardAbortDepth        = 48
)

// ResultCacheTTL bounds how long a cached result is considered fresh
// before a lookup treats it as a miss (spec.md §4.5).
const ResultCacheTTL = 30 * time.Second

// Config is the parsed environment-variable configuration (spec.md §6).
type Config struct {
	PGHost     string
	PGPort     int
	PGDatabase string
	PGUser     string
	PGPassword string
	PGSchema   string

	LogLevel string
	LogFile  string

	RedirectPatterns []string
	SkipPatterns     []string
}

// defaultRedirectPatterns are the built-in substrings that mark a database
// path as redirected. Overridable via PGSHIM_REDIRECT_PATTERNS.
var defaultRedirectPatterns = []string{
	"/redirected/",
	"_pgshim",
}

// defaultSkipPatterns mark statements that are executed as no-ops instead
// of being forwarded anywhere (FTS tokenizer and ICU collation
// references; transaction control, pragmas and similar statements are
// matched separately by the statement package). These are always active;
// PGSHIM_SKIP_PATTERNS only appends to them.
var defaultSkipPatterns = []string{
	"fts4_metadata_titles_icu_tokenizer",
	"icu_root",
}

// Load reads all PGSHIM_* environment variables and returns a populated
// Config. Unlike a typical service config, there is nothing to validate
// against here — every field has a usable default, matching spec.md §6's
// "default host localhost, port 5432, everything else a literal default".
func Load() *Config {
	redirectDefaults := defaultRedirectPatterns
	if os.Getenv("PGSHIM_REDIRECT_PATTERNS") != "" {
		redirectDefaults = nil // a configured list replaces the built-in one
	}
	return &Config{
		PGHost:           getEnv("PGSHIM_PG_HOST", "localhost"),
		PGPort:           getEnvAsInt("PGSHIM_PG_PORT", 5432),
		PGDatabase:       os.Getenv("PGSHIM_PG_DATABASE"),
		PGUser:           os.Getenv("PGSHIM_PG_USER"),
		PGPassword:       os.Getenv("PGSHIM_PG_PASSWORD"),
		PGSchema:         getEnv("PGSHIM_PG_SCHEMA", "public"),
		LogLevel:         getEnv("PGSHIM_LOG_LEVEL", "error"),
		LogFile:          getEnv("PGSHIM_LOG_FILE", "/var/log/pgshim/pgshim.log"),
		RedirectPatterns: mergeList(redirectDefaults, os.Getenv("PGSHIM_REDIRECT_PATTERNS")),
		SkipPatterns:     mergeList(defaultSkipPatterns, os.Getenv("PGSHIM_SKIP_PATTERNS")),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// mergeList combines a built-in default list with a comma-separated
// override/append list from the environment. Empty entries are dropped.
func mergeList(defaults []string, extra string) []string {
	out := make([]string, 0, len(defaults))
	out = append(out, defaults...)
	if extra == "" {
		return out
	}
	for _, p := range strings.Split(extra, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsRedirected reports whether a database path matches one of the
// configured redirect patterns (spec.md §6 redirect policy).
func (c *Config) IsRedirected(path string) bool {
	for _, pat := range c.RedirectPatterns {
		if strings.Contains(path, pat) {
			return true
		}
	}
	return false
}

// MatchesSkipPattern reports whether sql contains one of the configured
// skip-pattern substrings (spec.md §6 "Skip policy": references to
// internal metadata tables, custom tokenizers/extensions).
func (c *Config) MatchesSkipPattern(sql string) bool {
	for _, pat := range c.SkipPatterns {
		if strings.Contains(sql, pat) {
			return true
		}
	}
	return false
}

// DSN builds the pgx/libpq connection string for the remote session.
func (c *Config) DSN() string {
	var b strings.Builder
	b.WriteString("host=")
	b.WriteString(c.PGHost)
	b.WriteString(" port=")
	b.WriteString(strconv.Itoa(c.PGPort))
	if c.PGDatabase != "" {
		b.WriteString(" dbname=")
		b.WriteString(c.PGDatabase)
	}
	if c.PGUser != "" {
		b.WriteString(" user=")
		b.WriteString(c.PGUser)
	}
	if c.PGPassword != "" {
		b.WriteString(" password=")
		b.WriteString(c.PGPassword)
	}
	b.WriteString(" sslmode=disable")
	return b.String()
}
