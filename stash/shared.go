package stash

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arcwell/pgstash/internal/classify"
	"github.com/arcwell/pgstash/internal/workerpool"
	"github.com/arcwell/pgstash/pgexec"
	"github.com/arcwell/pgstash/pglog"
	"github.com/arcwell/pgstash/pgmetrics"
)

// entry is one cache entry, keyed by (canonical SQL, params key) in
// Shared.queries.
type entry struct {
	result       pgexec.Rows
	params       []any
	resultFormat int
	popularity   int64
	used         time.Time
	stale        *time.Time
}

// Shared is the cache state and worker pool shared by every Stash
// instance built over the same underlying cache, including the fresh
// Stash a Transaction yields. Exactly one Shared exists per "cache" in
// the idempotency-rule sense below.
type Shared struct {
	mu      sync.Mutex
	queries map[string]map[string]*entry
	tables  map[string]map[string]struct{}

	cfg      Config
	launched atomic.Bool
	pool     *workerpool.Pool
	stop     context.CancelFunc
}

// NewShared constructs cache state for cfg. It holds no background
// goroutines until the owning Stash's Start is called.
func NewShared(cfg Config) *Shared {
	return &Shared{
		queries: make(map[string]map[string]*entry),
		tables:  make(map[string]map[string]struct{}),
		cfg:     cfg,
	}
}

// launch starts the shared worker pool and every non-disabled background
// task, sized and bound to inner only once per Shared instance — a
// second call returns a CacheError.
func (sh *Shared) launch(inner pgexec.Executor, log pglog.Logger, metrics *pgmetrics.Metrics) error {
	if !sh.launched.CompareAndSwap(false, true) {
		return &pgexec.CacheError{Message: "cannot launch multiple times on same cache data"}
	}

	sh.pool = workerpool.New(sh.cfg.Workers, sh.cfg.QueueDepth)
	ctx, cancel := context.WithCancel(context.Background())
	sh.stop = cancel

	if sh.cfg.CapInterval != Disabled {
		go sh.runCapTask(ctx, log, metrics)
	}
	if sh.cfg.RetireInterval != Disabled {
		go sh.runRetireTask(ctx, log, metrics)
	}
	if sh.cfg.RefillInterval != Disabled {
		go sh.runRefillTask(ctx, inner, log, metrics)
	}
	return nil
}

// shutdown signals every background task to stop and drains the shared
// worker pool, bounded by ctx.
func (sh *Shared) shutdown(ctx context.Context) error {
	if !sh.launched.Load() {
		return nil
	}
	if sh.stop != nil {
		sh.stop()
	}
	if sh.pool != nil {
		return sh.pool.Shutdown(ctx)
	}
	return nil
}

// totalEntriesLocked returns the number of cached entries across every
// query. Callers must hold sh.mu.
func (sh *Shared) totalEntriesLocked() int {
	n := 0
	for _, keys := range sh.queries {
		n += len(keys)
	}
	return n
}

// lookup returns the entry for (sql, paramsKey) and whether it exists
// and is not stale.
func (sh *Shared) lookup(sql, paramsKey string) (*entry, bool) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	keys, ok := sh.queries[sql]
	if !ok {
		return nil, false
	}
	e, ok := keys[paramsKey]
	if !ok || e.stale != nil {
		return nil, false
	}
	return e, true
}

// recordHit increments popularity and refreshes used for a cache hit.
func (sh *Shared) recordHit(e *entry) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e.popularity++
	e.used = time.Now()
}

// insert stores a fresh entry for (sql, paramsKey) and indexes it under
// every read table, deduped.
func (sh *Shared) insert(sql, paramsKey string, readTables []string, e *entry, metrics *pgmetrics.Metrics) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	keys, ok := sh.queries[sql]
	if !ok {
		keys = make(map[string]*entry)
		sh.queries[sql] = keys
	}
	keys[paramsKey] = e

	for _, t := range readTables {
		set, ok := sh.tables[t]
		if !ok {
			set = make(map[string]struct{})
			sh.tables[t] = set
		}
		set[sql] = struct{}{}
	}

	sh.observeEntriesLocked(metrics)
}

// observeEntriesLocked publishes the current entry count to metrics.
// Callers must hold sh.mu.
func (sh *Shared) observeEntriesLocked(metrics *pgmetrics.Metrics) {
	if metrics != nil {
		metrics.CacheEntries.Set(float64(sh.totalEntriesLocked()))
	}
}

// invalidate marks stale every cached entry that reads any of tables.
// sh.tables[t] is left intact so future reads still re-associate
// correctly.
func (sh *Shared) invalidate(tables []string) {
	if len(tables) == 0 {
		return
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := time.Now()
	for _, t := range tables {
		for sql := range sh.tables[t] {
			keys, ok := sh.queries[sql]
			if !ok {
				continue
			}
			for _, e := range keys {
				e.stale = &now
			}
		}
	}
}

// withTableVariants expands every table name to its plural/singular
// forms so a WithCacheTags hint and a regex-extracted identifier still
// refer to the same logical table.
func withTableVariants(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, classify.TableVariants(n)...)
	}
	return dedupe(out)
}
