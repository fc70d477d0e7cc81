package stash

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arcwell/pgstash/internal/pgtest"
	"github.com/arcwell/pgstash/pgexec"
	"github.com/arcwell/pgstash/pglog"
)

func newTestStash(fake *pgtest.FakeExecutor, cfg Config) *Stash {
	return New(fake, NewShared(cfg), pglog.Nop(), nil, nil)
}

func TestStashCachesRepeatedReads(t *testing.T) {
	fake := pgtest.New("")
	fake.Enqueue(pgtest.Response{Rows: pgexec.Rows{{"id": "1"}}})

	s := newTestStash(fake, DefaultConfig())
	ctx := context.Background()

	rows1, err := s.Exec(ctx, "SELECT id FROM authors WHERE id = $1", []any{1}, pgexec.FormatText)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows2, err := s.Exec(ctx, "SELECT id FROM authors WHERE id = $1", []any{1}, pgexec.FormatText)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if &rows1[0] != &rows2[0] {
		// Rows is a slice value stored directly in the entry; both reads
		// must return the very same slice, not a copy, so compare the
		// underlying array pointer via the first element's address.
		t.Fatalf("expected identical cached result, got distinct rows")
	}
	if got := fake.CallCount(); got != 1 {
		t.Fatalf("expected exactly 1 underlying call, got %d", got)
	}
}

func TestStashWriteInvalidatesMatchingReads(t *testing.T) {
	fake := pgtest.New("")
	fake.Enqueue(pgtest.Response{Rows: pgexec.Rows{{"id": "1"}}})
	fake.Enqueue(pgtest.Response{Rows: pgexec.Rows{}})
	fake.Enqueue(pgtest.Response{Rows: pgexec.Rows{{"id": "2"}}})

	s := newTestStash(fake, DefaultConfig())
	ctx := context.Background()

	first, err := s.Exec(ctx, "SELECT id FROM authors", nil, pgexec.FormatText)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := s.Exec(ctx, "UPDATE authors SET name = $1 WHERE id = $2", []any{"x", 1}, pgexec.FormatText); err != nil {
		t.Fatalf("unexpected error on write: %v", err)
	}

	second, err := s.Exec(ctx, "SELECT id FROM authors", nil, pgexec.FormatText)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(second) != 1 || second[0]["id"] != "2" {
		t.Fatalf("expected refreshed rows after invalidation, got %v", second)
	}
	if &first[0] == &second[0] {
		t.Fatalf("expected a fresh result after invalidation, got the stale cached one")
	}
	if got := fake.CallCount(); got != 3 {
		t.Fatalf("expected 3 underlying calls (read, write, re-read), got %d", got)
	}
}

func TestStashRejectsUncacheableRead(t *testing.T) {
	fake := pgtest.New("")
	fake.Enqueue(pgtest.Response{Rows: pgexec.Rows{{"one": "1"}}})

	s := newTestStash(fake, DefaultConfig())
	_, err := s.Exec(context.Background(), "SELECT 1", nil, pgexec.FormatText)

	var cacheErr *pgexec.CacheError
	if !errors.As(err, &cacheErr) {
		t.Fatalf("expected CacheError, got %v", err)
	}
}

func TestStashNeverCachesNowCalls(t *testing.T) {
	fake := pgtest.New("")
	fake.Enqueue(pgtest.Response{Rows: pgexec.Rows{{"ts": "a"}}})
	fake.Enqueue(pgtest.Response{Rows: pgexec.Rows{{"ts": "b"}}})

	s := newTestStash(fake, DefaultConfig())
	ctx := context.Background()

	if _, err := s.Exec(ctx, "SELECT NOW() FROM events", nil, pgexec.FormatText); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Exec(ctx, "SELECT NOW() FROM events", nil, pgexec.FormatText); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := fake.CallCount(); got != 2 {
		t.Fatalf("expected NOW() queries to bypass the cache entirely, got %d calls", got)
	}
}

func TestStashCapEnforcement(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cap = 2

	sh := NewShared(cfg)
	now := time.Now()
	sh.insert("SELECT 1 FROM a", "k1", []string{"a"}, &entry{used: now.Add(-3 * time.Second)}, nil)
	sh.insert("SELECT 1 FROM a", "k2", []string{"a"}, &entry{used: now.Add(-2 * time.Second)}, nil)
	sh.insert("SELECT 1 FROM a", "k3", []string{"a"}, &entry{used: now.Add(-1 * time.Second)}, nil)

	dropped := sh.enforceCap(nil)
	if dropped != 1 {
		t.Fatalf("expected 1 entry dropped to satisfy cap, got %d", dropped)
	}

	sh.mu.Lock()
	total := sh.totalEntriesLocked()
	_, oldestStillPresent := sh.queries["SELECT 1 FROM a"]["k1"]
	sh.mu.Unlock()

	if total != cfg.Cap {
		t.Fatalf("expected total entries to equal cap %d, got %d", cfg.Cap, total)
	}
	if oldestStillPresent {
		t.Fatalf("expected the least-recently-used entry to be dropped first")
	}
}

func TestStashRetirement(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retire = time.Minute

	sh := NewShared(cfg)
	now := time.Now()
	sh.insert("SELECT 1 FROM a", "stale", []string{"a"}, &entry{used: now.Add(-2 * time.Minute)}, nil)
	sh.insert("SELECT 1 FROM a", "fresh", []string{"a"}, &entry{used: now}, nil)

	dropped := sh.enforceRetirement(nil)
	if dropped != 1 {
		t.Fatalf("expected 1 retired entry, got %d", dropped)
	}

	sh.mu.Lock()
	_, staleStillPresent := sh.queries["SELECT 1 FROM a"]["stale"]
	_, freshStillPresent := sh.queries["SELECT 1 FROM a"]["fresh"]
	sh.mu.Unlock()

	if staleStillPresent {
		t.Fatalf("expected the old entry to be retired")
	}
	if !freshStillPresent {
		t.Fatalf("expected the recently used entry to survive retirement")
	}
}

func TestStashLaunchIsIdempotent(t *testing.T) {
	sh := NewShared(DefaultConfig())
	fake := pgtest.New("")

	if err := sh.launch(fake, pglog.Nop(), nil); err != nil {
		t.Fatalf("first launch should succeed: %v", err)
	}
	defer sh.shutdown(context.Background())

	err := sh.launch(fake, pglog.Nop(), nil)
	var cacheErr *pgexec.CacheError
	if !errors.As(err, &cacheErr) {
		t.Fatalf("expected CacheError on second launch, got %v", err)
	}
}

func TestStashTransactionWritesInvalidateImmediately(t *testing.T) {
	fake := pgtest.New("")
	fake.Enqueue(pgtest.Response{Rows: pgexec.Rows{{"id": "1"}}})
	fake.Enqueue(pgtest.Response{Rows: pgexec.Rows{}})
	fake.Enqueue(pgtest.Response{Rows: pgexec.Rows{{"id": "2"}}})

	s := newTestStash(fake, DefaultConfig())
	ctx := context.Background()

	if _, err := s.Exec(ctx, "SELECT id FROM authors", nil, pgexec.FormatText); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := s.Transaction(ctx, func(ctx context.Context, tx pgexec.Executor) (any, error) {
		return tx.Exec(ctx, "UPDATE authors SET name = $1 WHERE id = $2", []any{"x", 1}, pgexec.FormatText)
	})
	if err != nil {
		t.Fatalf("unexpected transaction error: %v", err)
	}

	second, err := s.Exec(ctx, "SELECT id FROM authors", nil, pgexec.FormatText)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(second) != 1 || second[0]["id"] != "2" {
		t.Fatalf("expected invalidation to take effect without waiting for commit, got %v", second)
	}
}

func TestStashCacheTagHintsDriveInvalidation(t *testing.T) {
	fake := pgtest.New("")
	fake.Enqueue(pgtest.Response{Rows: pgexec.Rows{{"v": "1"}}})
	fake.Enqueue(pgtest.Response{Rows: pgexec.Rows{}})
	fake.Enqueue(pgtest.Response{Rows: pgexec.Rows{{"v": "2"}}})

	s := newTestStash(fake, DefaultConfig())
	ctx := WithCacheTags(context.Background(), "authors")

	if _, err := s.Exec(ctx, "SELECT v FROM author_totals()", nil, pgexec.FormatText); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := s.Exec(ctx, "UPDATE author_totals_cache SET v = $1", []any{2}, pgexec.FormatText); err != nil {
		t.Fatalf("unexpected error on write: %v", err)
	}

	second, err := s.Exec(ctx, "SELECT v FROM author_totals()", nil, pgexec.FormatText)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(second) != 1 || second[0]["v"] != "2" {
		t.Fatalf("expected the cache-tag hint to drive invalidation, got %v", second)
	}
}
