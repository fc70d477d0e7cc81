// Package classify implements the small SQL classifier shared by pgretry
// and stash: canonicalization, the read/write predicate, and the
// affected/read table extractors. None of this is a general-purpose SQL
// parser — it is the same regex-driven approach the source system uses,
// limitations and all (see the note on ReadTables about lowercase-only
// identifier matching).
package classify

import (
	"regexp"
	"strings"

	"github.com/jinzhu/inflection"
)

// Canonicalize joins fragments with single spaces (if sql is a []string),
// squeezes runs of whitespace to one space, and trims the ends. It is the
// single normalization point every classifier rule and every cache key is
// built from.
func Canonicalize(sql any) string {
	var joined string
	switch v := sql.(type) {
	case string:
		joined = v
	case []string:
		joined = strings.Join(v, " ")
	default:
		return ""
	}
	return squeezeWhitespace(joined)
}

var whitespaceRun = regexp.MustCompile(`\s+`)

func squeezeWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// modifierPredicate matches a write/DDL keyword as a whole word at the
// start of the statement or after whitespace, or a call to any
// pg_<name>( administrative function.
var modifierPredicate = regexp.MustCompile(`(?i)(^|\s)(INSERT|DELETE|UPDATE|LOCK|VACUUM|TRANSACTION|COMMIT|ROLLBACK|REINDEX|TRUNCATE|CREATE|ALTER|DROP|SET)\b|\bpg_\w+\(`)

// IsModifier reports whether canonical SQL p is classified as a write
// statement for Stash invalidation purposes.
func IsModifier(p string) bool {
	return modifierPredicate.MatchString(p)
}

// selectPredicate is the coarser classifier used by Retry: only the first
// token matters, and only SELECT counts as read-only.
var selectPredicate = regexp.MustCompile(`(?i)^\s*SELECT\b`)

// IsSelect reports whether canonical SQL p's first token is SELECT,
// case-insensitively. This is deliberately narrower than IsModifier: a
// statement can be neither a SELECT nor a recognized modifier (e.g. an
// unrecognized administrative command) and Retry treats that as
// non-read-only out of caution.
func IsSelect(p string) bool {
	return selectPredicate.MatchString(p)
}

var affectedTableExtractor = regexp.MustCompile(`\b(?i:UPDATE|INSERT INTO|DELETE FROM|TRUNCATE|ALTER TABLE|DROP TABLE)\s+([a-z_][a-z0-9_]*)`)

// AffectedTables extracts the single lowercase table identifier following
// UPDATE, INSERT INTO, DELETE FROM, TRUNCATE, ALTER TABLE or DROP TABLE.
// DDL with no recognizable table name (e.g. a bare CREATE EXTENSION)
// yields an empty slice, not an error.
func AffectedTables(p string) []string {
	m := affectedTableExtractor.FindStringSubmatch(p)
	if m == nil {
		return nil
	}
	return []string{m[1]}
}

var readTableExtractor = regexp.MustCompile(`\b(?i:FROM|JOIN)\s+([a-z_][a-z0-9_]*)`)

// ReadTables extracts every lowercase table identifier following FROM or
// JOIN, deduplicated but not otherwise ordered beyond first occurrence.
// Known limitation: identifiers are matched lowercase-only; mixed-case
// PostgreSQL identifiers will not be recognized.
func ReadTables(p string) []string {
	matches := readTableExtractor.FindAllStringSubmatch(p, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		t := m[1]
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

var nowToken = regexp.MustCompile(`(?i)(^|\s)NOW\(\)(\s|$)`)

// ContainsNow reports whether canonical SQL p contains the token NOW()
// flanked by whitespace or the statement boundary. Queries matching this
// are never cached.
func ContainsNow(p string) bool {
	return nowToken.MatchString(p)
}

// TableVariants returns name alongside its plural and singular forms, so a
// WithCacheTags hint of "author" still matches regex-extracted table
// references to "authors" and vice versa. Order is [name, plural,
// singular] with duplicates removed.
func TableVariants(name string) []string {
	plural := inflection.Plural(name)
	singular := inflection.Singular(name)

	out := make([]string, 0, 3)
	seen := make(map[string]struct{}, 3)
	for _, v := range []string{name, plural, singular} {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
