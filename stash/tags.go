package stash

import (
	"context"

	"github.com/arcwell/pgstash/internal/classify"
)

type cacheTagsContextKey struct{}

// WithCacheTags attaches extra table names to ctx, expanding each one to
// every plural/singular form classify.TableVariants knows about before
// merging, so a hint written as "author" still matches a statement the
// classifier extracted as "authors". Stash merges the expanded set with
// whatever the regex-driven affected/read-table extractors found on the
// next Exec/Transaction, so a statement the classifier can't fully parse
// (a CTE, a stored-procedure call, an UPDATE ... USING) can still be
// invalidated or keyed correctly.
func WithCacheTags(ctx context.Context, tags ...string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(tags) == 0 {
		return ctx
	}

	expanded := make([]string, 0, len(tags))
	for _, t := range tags {
		expanded = append(expanded, classify.TableVariants(t)...)
	}

	combined := dedupe(append(cacheTagsFromContext(ctx), expanded...))
	if len(combined) == 0 {
		return ctx
	}
	return context.WithValue(ctx, cacheTagsContextKey{}, combined)
}

func cacheTagsFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	if tags, ok := ctx.Value(cacheTagsContextKey{}).([]string); ok {
		return append([]string(nil), tags...)
	}
	return nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
