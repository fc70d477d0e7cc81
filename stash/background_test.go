package stash

import (
	"context"
	"testing"
	"time"

	"github.com/arcwell/pgstash/internal/pgtest"
	"github.com/arcwell/pgstash/pgexec"
	"github.com/arcwell/pgstash/pglog"
)

func TestRefillOnceRefreshesStaleEntry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CapInterval = Disabled
	cfg.RetireInterval = Disabled
	cfg.RefillInterval = time.Hour
	cfg.RefillDelay = 0

	sh := NewShared(cfg)

	fake := pgtest.New("")
	fake.Enqueue(pgtest.Response{Rows: pgexec.Rows{{"id": "2"}}})

	if err := sh.launch(fake, pglog.Nop(), nil); err != nil {
		t.Fatalf("unexpected error launching shared cache: %v", err)
	}
	defer sh.shutdown(context.Background())

	sh.insert("SELECT id FROM authors", "k1", []string{"authors"}, &entry{
		result:       pgexec.Rows{{"id": "1"}},
		resultFormat: pgexec.FormatText,
		used:         time.Now(),
	}, nil)

	sh.invalidate([]string{"authors"})
	sh.refillOnce(context.Background(), fake, pglog.Nop(), nil)

	deadline := time.Now().Add(time.Second)
	for {
		sh.mu.Lock()
		e := sh.queries["SELECT id FROM authors"]["k1"]
		stillStale := e.stale != nil
		result := e.result
		sh.mu.Unlock()

		if !stillStale {
			if len(result) != 1 || result[0]["id"] != "2" {
				t.Fatalf("expected refreshed result after refill, got %v", result)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the refill job to clear staleness")
		}
		time.Sleep(time.Millisecond)
	}

	if got := fake.CallCount(); got != 1 {
		t.Fatalf("expected exactly 1 refill exec, got %d", got)
	}
}

func TestRefillOnceLeavesFreshEntriesAlone(t *testing.T) {
	cfg := DefaultConfig()
	sh := NewShared(cfg)

	fake := pgtest.New("")

	if err := sh.launch(fake, pglog.Nop(), nil); err != nil {
		t.Fatalf("unexpected error launching shared cache: %v", err)
	}
	defer sh.shutdown(context.Background())

	sh.insert("SELECT id FROM authors", "k1", []string{"authors"}, &entry{
		result:       pgexec.Rows{{"id": "1"}},
		resultFormat: pgexec.FormatText,
		used:         time.Now(),
	}, nil)

	sh.refillOnce(context.Background(), fake, pglog.Nop(), nil)

	time.Sleep(10 * time.Millisecond)

	if got := fake.CallCount(); got != 0 {
		t.Fatalf("expected a non-stale entry to be left alone, got %d refill execs", got)
	}
}

// snapshotRefillJobs sorts candidates by their owning query's aggregate
// popularity, not any single entry's, so the two SQL statements below
// must differ in their summed popularity to exercise the ordering.
func TestSnapshotRefillJobsOrdersByAggregatePopularityDescending(t *testing.T) {
	cfg := DefaultConfig()
	sh := NewShared(cfg)

	sh.insert("SELECT id FROM authors WHERE id = $1", "k1", []string{"authors"}, &entry{popularity: 1, used: time.Now()}, nil)
	sh.insert("SELECT id FROM books WHERE id = $1", "k1", []string{"books"}, &entry{popularity: 20, used: time.Now()}, nil)

	sh.invalidate([]string{"authors", "books"})

	jobs := sh.snapshotRefillJobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 refill jobs, got %d", len(jobs))
	}
	if jobs[0].sql != "SELECT id FROM books WHERE id = $1" {
		t.Fatalf("expected the more popular query's job first, got %q", jobs[0].sql)
	}
}

func TestSnapshotRefillJobsSkipsEntriesNotYetPastRefillDelay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RefillDelay = time.Hour
	sh := NewShared(cfg)

	sh.insert("SELECT id FROM authors", "k1", []string{"authors"}, &entry{used: time.Now()}, nil)
	sh.invalidate([]string{"authors"})

	jobs := sh.snapshotRefillJobs()
	if len(jobs) != 0 {
		t.Fatalf("expected no refill jobs before RefillDelay elapses, got %d", len(jobs))
	}
}
