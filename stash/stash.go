package stash

import (
	"context"
	"strconv"
	"time"

	"github.com/arcwell/pgstash/internal/classify"
	"github.com/arcwell/pgstash/pgcache"
	"github.com/arcwell/pgstash/pgexec"
	"github.com/arcwell/pgstash/pglog"
	"github.com/arcwell/pgstash/pgmetrics"
)

// Stash is the table-invalidated, parameter-keyed result cache decorator.
// Every Stash built over the same Shared — including the one a
// Transaction yields — reads and writes the same queries/tables index
// and the same background worker pool.
type Stash struct {
	inner   pgexec.Executor
	shared  *Shared
	log     pglog.Logger
	metrics *pgmetrics.Metrics

	classifier *classify.Cache
}

var _ pgexec.Executor = (*Stash)(nil)
var _ pgexec.Starter = (*Stash)(nil)

// New wraps inner with a Stash bound to shared's cache state. classifier
// may be nil, in which case every statement is classified directly
// without memoization.
func New(inner pgexec.Executor, shared *Shared, log pglog.Logger, metrics *pgmetrics.Metrics, classifier *classify.Cache) *Stash {
	return &Stash{inner: inner, shared: shared, log: log, metrics: metrics, classifier: classifier}
}

func (s *Stash) Version(ctx context.Context) (string, error) {
	return s.inner.Version(ctx)
}

// Start starts the inner executor (only meaningful when inner is the
// outermost Pool) and launches the shared cache's background tasks. A
// second Start sharing the same cache data fails.
func (s *Stash) Start(ctx context.Context, n int) error {
	if starter, ok := s.inner.(pgexec.Starter); ok {
		if err := starter.Start(ctx, n); err != nil {
			return err
		}
	}
	return s.shared.launch(s.inner, s.log, s.metrics)
}

// Shutdown stops the shared cache's background tasks and drains its
// worker pool. It is not part of pgexec.Executor; callers that own the
// outermost Stash should call it during process shutdown.
func (s *Stash) Shutdown(ctx context.Context) error {
	return s.shared.shutdown(ctx)
}

func (s *Stash) classify(ctx context.Context, p string) classify.Classification {
	if s.classifier != nil {
		return s.classifier.Classify(ctx, p)
	}
	return classify.Classification{
		IsRead:          classify.IsSelect(p),
		IsWrite:         classify.IsModifier(p),
		AffectedTables:  classify.AffectedTables(p),
		ReadTables:      classify.ReadTables(p),
		ContainsNowCall: classify.ContainsNow(p),
	}
}

// Exec implements the write and read paths.
func (s *Stash) Exec(ctx context.Context, sql pgexec.SQL, params []any, format int) (pgexec.Rows, error) {
	p := classify.Canonicalize(sql)
	cls := s.classify(ctx, p)
	hints := cacheTagsFromContext(ctx)

	if cls.IsWrite {
		return s.execWrite(ctx, p, params, format, cls, hints)
	}
	return s.execRead(ctx, p, params, format, cls, hints)
}

func (s *Stash) execWrite(ctx context.Context, p string, params []any, format int, cls classify.Classification, hints []string) (pgexec.Rows, error) {
	rows, err := s.inner.Exec(ctx, p, params, format)
	if err != nil {
		return nil, err
	}

	affected := withTableVariants(append(append([]string{}, cls.AffectedTables...), hints...))
	if len(affected) > 0 {
		s.shared.invalidate(affected)
	}
	return rows, nil
}

func (s *Stash) execRead(ctx context.Context, p string, params []any, format int, cls classify.Classification, hints []string) (pgexec.Rows, error) {
	paramsKey := pgcache.ParamsKey(params)

	if e, ok := s.shared.lookup(p, paramsKey); ok {
		s.shared.recordHit(e)
		s.observeCache(true)
		return e.result, nil
	}
	s.observeCache(false)

	rows, err := s.inner.Exec(ctx, p, params, format)
	if err != nil {
		return nil, err
	}

	if cls.ContainsNowCall {
		return rows, nil
	}

	readTables := withTableVariants(append(append([]string{}, cls.ReadTables...), hints...))
	if len(readTables) == 0 {
		return nil, &pgexec.CacheError{SQL: p, Message: "cacheable read must reference at least one table"}
	}

	s.shared.insert(p, paramsKey, readTables, &entry{
		result:       rows,
		params:       params,
		resultFormat: format,
		popularity:   1,
		used:         time.Now(),
	}, s.metrics)
	return rows, nil
}

func (s *Stash) observeCache(hit bool) {
	if s.metrics == nil {
		return
	}
	if hit {
		s.metrics.CacheHits.Inc()
	} else {
		s.metrics.CacheMisses.Inc()
	}
}

// Transaction delegates to the inner executor's Transaction and wraps
// the yielded handle in a fresh Stash sharing this Stash's Shared cache
// state, log, metrics and classifier. Writes inside the
// transaction invalidate immediately rather than waiting for COMMIT.
func (s *Stash) Transaction(ctx context.Context, fn pgexec.TxFunc) (any, error) {
	return s.inner.Transaction(ctx, func(ctx context.Context, tx pgexec.Executor) (any, error) {
		return fn(ctx, New(tx, s.shared, s.log, s.metrics, s.classifier))
	})
}

// Dump returns a human-readable snapshot of the cache's size and
// staleness, in addition to the inner executor's own dump.
func (s *Stash) Dump(ctx context.Context) (string, error) {
	inner, err := s.inner.Dump(ctx)
	if err != nil {
		inner = "unavailable: " + err.Error()
	}

	s.shared.mu.Lock()
	queries := len(s.shared.queries)
	total := s.shared.totalEntriesLocked()
	stale := 0
	for _, keys := range s.shared.queries {
		for _, e := range keys {
			if e.stale != nil {
				stale++
			}
		}
	}
	s.shared.mu.Unlock()

	return "stash.Stash: queries=" + strconv.Itoa(queries) + " entries=" + strconv.Itoa(total) + " stale=" + strconv.Itoa(stale) + " cap=" + strconv.Itoa(s.shared.cfg.Cap) + "\n" + inner, nil
}
