package stash

import (
	"context"
	"sort"
	"time"

	"github.com/arcwell/pgstash/pgexec"
	"github.com/arcwell/pgstash/pglog"
	"github.com/arcwell/pgstash/pgmetrics"
)

// runCapTask enforces sh.cfg.Cap every sh.cfg.CapInterval until ctx is
// canceled.
func (sh *Shared) runCapTask(ctx context.Context, log pglog.Logger, metrics *pgmetrics.Metrics) {
	ticker := time.NewTicker(sh.cfg.CapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if dropped := sh.enforceCap(metrics); dropped > 0 {
				log.Info("stash cap sweep", map[string]any{"dropped": dropped})
			}
		}
	}
}

// enforceCap drops the oldest-used entry per query, one query at a time,
// until the total entry count is at or below cfg.Cap.
func (sh *Shared) enforceCap(metrics *pgmetrics.Metrics) int {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	dropped := 0
	for sh.totalEntriesLocked() > sh.cfg.Cap {
		progressed := false
		for sql, keys := range sh.queries {
			if len(keys) == 0 {
				continue
			}
			oldestKey := oldestUsedKey(keys)
			delete(keys, oldestKey)
			dropped++
			progressed = true
			if len(keys) == 0 {
				delete(sh.queries, sql)
			}
			if sh.totalEntriesLocked() <= sh.cfg.Cap {
				break
			}
		}
		if !progressed {
			break
		}
	}
	if dropped > 0 {
		sh.observeEntriesLocked(metrics)
	}
	return dropped
}

func oldestUsedKey(keys map[string]*entry) string {
	var oldestKey string
	var oldestUsed time.Time
	first := true
	for k, e := range keys {
		if first || e.used.Before(oldestUsed) {
			oldestKey = k
			oldestUsed = e.used
			first = false
		}
	}
	return oldestKey
}

// runRetireTask drops entries whose last use is older than sh.cfg.Retire,
// every sh.cfg.RetireInterval, until ctx is canceled.
func (sh *Shared) runRetireTask(ctx context.Context, log pglog.Logger, metrics *pgmetrics.Metrics) {
	ticker := time.NewTicker(sh.cfg.RetireInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if dropped := sh.enforceRetirement(metrics); dropped > 0 {
				log.Info("stash retirement sweep", map[string]any{"dropped": dropped})
			}
		}
	}
}

func (sh *Shared) enforceRetirement(metrics *pgmetrics.Metrics) int {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cutoff := time.Now().Add(-sh.cfg.Retire)
	dropped := 0
	for sql, keys := range sh.queries {
		for k, e := range keys {
			if e.used.Before(cutoff) {
				delete(keys, k)
				dropped++
			}
		}
		if len(keys) == 0 {
			delete(sh.queries, sql)
		}
	}
	if dropped > 0 {
		sh.observeEntriesLocked(metrics)
	}
	return dropped
}

// refillJob is one stale entry due for background re-execution.
type refillJob struct {
	sql          string
	paramsKey    string
	params       []any
	resultFormat int
}

// runRefillTask posts refill jobs for stale entries older than
// cfg.RefillDelay, sorted by aggregate per-query popularity descending,
// every sh.cfg.RefillInterval, until ctx is canceled.
func (sh *Shared) runRefillTask(ctx context.Context, inner pgexec.Executor, log pglog.Logger, metrics *pgmetrics.Metrics) {
	ticker := time.NewTicker(sh.cfg.RefillInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sh.refillOnce(ctx, inner, log, metrics)
		}
	}
}

func (sh *Shared) refillOnce(ctx context.Context, inner pgexec.Executor, log pglog.Logger, metrics *pgmetrics.Metrics) {
	jobs := sh.snapshotRefillJobs()

	for _, job := range jobs {
		if !sh.pool.HasCapacity() {
			// Leave it stale; the next tick will try again once the worker
			// queue has capacity.
			continue
		}
		job := job
		sh.pool.Submit(func(ctx context.Context) {
			sh.runRefillJob(ctx, inner, job, log, metrics)
		})
	}
}

// refillCandidate bundles a job with its stale timestamp for cutoff
// filtering and its owning query's aggregate popularity for ordering.
type refillCandidate struct {
	job        refillJob
	stale      time.Time
	popularity int64
}

// snapshotRefillJobs takes the cache lock only long enough to copy out
// every stale entry eligible for refill, ordered by aggregate per-query
// popularity descending, then releases it before any I/O runs.
func (sh *Shared) snapshotRefillJobs() []refillJob {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cutoff := time.Now().Add(-sh.cfg.RefillDelay)

	var candidates []refillCandidate

	for sql, keys := range sh.queries {
		var pop int64
		for _, e := range keys {
			pop += e.popularity
		}

		for paramsKey, e := range keys {
			if e.stale == nil || e.stale.After(cutoff) {
				continue
			}
			candidates = append(candidates, refillCandidate{
				job: refillJob{
					sql:          sql,
					paramsKey:    paramsKey,
					params:       e.params,
					resultFormat: e.resultFormat,
				},
				stale:      *e.stale,
				popularity: pop,
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].popularity > candidates[j].popularity
	})

	jobs := make([]refillJob, len(candidates))
	for i, c := range candidates {
		jobs[i] = c.job
	}
	return jobs
}

// runRefillJob re-executes one stale entry's SQL with its stored params
// and format, then writes the fresh result back under the cache lock.
// I/O runs entirely outside the lock.
func (sh *Shared) runRefillJob(ctx context.Context, inner pgexec.Executor, job refillJob, log pglog.Logger, metrics *pgmetrics.Metrics) {
	rows, err := inner.Exec(ctx, job.sql, job.params, job.resultFormat)
	if err != nil {
		log.Warn("stash refill failed", err, map[string]any{"sql": job.sql})
		if metrics != nil {
			metrics.CacheRefills.WithLabelValues("error").Inc()
		}
		return
	}

	sh.mu.Lock()
	if keys, ok := sh.queries[job.sql]; ok {
		if e, ok := keys[job.paramsKey]; ok {
			e.result = rows
			e.stale = nil
		}
	}
	sh.mu.Unlock()

	if metrics != nil {
		metrics.CacheRefills.WithLabelValues("ok").Inc()
	}
}
