// Package di assembles the Wire → Pool → [Spy] → Impatient → Retry →
// Stash decorator chain (Spy only when an observer is supplied) from a
// pgconfig.Config, wiring a connection
// source, a classification cache, and a decorator chain together behind
// a small set of functional options.
package di

import (
	"context"
	"regexp"

	"github.com/arcwell/pgstash/internal/classify"
	"github.com/arcwell/pgstash/pgcache"
	"github.com/arcwell/pgstash/pgconfig"
	"github.com/arcwell/pgstash/pgexec"
	"github.com/arcwell/pgstash/pgimpatient"
	"github.com/arcwell/pgstash/pglog"
	"github.com/arcwell/pgstash/pgmetrics"
	"github.com/arcwell/pgstash/pgpool"
	"github.com/arcwell/pgstash/pgretry"
	"github.com/arcwell/pgstash/pgspy"
	"github.com/arcwell/pgstash/pgwire"
	"github.com/arcwell/pgstash/stash"
)

// Container holds every long-lived component the assembled chain shares:
// the pool itself (for Start/Shutdown), the log and metrics sinks handed
// to every layer, and the shared cache state Stash instances (including
// transaction-scoped ones) all read and write.
type Container struct {
	Pool    *pgpool.Pool
	Log     pglog.Logger
	Metrics *pgmetrics.Metrics

	classifier *classify.Cache
	shared     *stash.Shared
	stashLayer *stash.Stash

	// Executor is the outermost decorator: the one application code
	// should call Exec/Transaction/Dump on.
	Executor pgexec.Executor
}

// Option customizes container construction beyond what pgconfig.Config
// carries, e.g. swapping in an observer for Spy.
type Option func(*options)

type options struct {
	observer pgspy.Observer
	log      pglog.Logger
}

// WithObserver registers a callback invoked on every successful Exec that
// reaches the Spy layer above Pool, wiring pgspy.Observer through to it.
// Reads served from Stash's cache and failed attempts are not reported.
func WithObserver(obs pgspy.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithLogger overrides the default zerolog-backed logger every layer
// shares.
func WithLogger(log pglog.Logger) Option {
	return func(o *options) { o.log = log }
}

// New assembles Wire → Pool → [Spy] → Impatient → Retry → Stash from cfg
// and wire (Spy only when WithObserver is given), wiring a classification cache (internal/classify, backed by
// internal/cacheinfra's sturdyc adapter) through to Stash's table
// extraction so hot statements skip re-running the classification
// regexes. It does not call Start; the caller decides when to open
// connections and launch Stash's background tasks.
func New(cfg pgconfig.Config, wire pgpool.Wire, opts ...Option) (*Container, error) {
	o := options{log: pglog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	metrics := pgmetrics.New()

	exempt, err := compileExemptPatterns(cfg.ExemptPatterns)
	if err != nil {
		return nil, err
	}

	classifyCache, err := pgcache.NewCacheService(classify.DefaultCacheConfig())
	if err != nil {
		return nil, err
	}
	classifier := classify.NewCache(classifyCache)

	pool := pgpool.New(wire, o.log, metrics)

	var exec pgexec.Executor = pool
	if o.observer != nil {
		exec = pgspy.New(exec, o.observer)
	}
	exec = pgimpatient.New(exec, cfg.StatementTimeout, exempt)
	exec = pgretry.New(exec, cfg.RetryAttempts, metrics)

	shared := stash.NewShared(cfg.Stash)
	stashLayer := stash.New(exec, shared, o.log, metrics, classifier)

	return &Container{
		Pool:       pool,
		Log:        o.log,
		Metrics:    metrics,
		classifier: classifier,
		shared:     shared,
		stashLayer: stashLayer,
		Executor:   stashLayer,
	}, nil
}

// NewFromYAML loads pgconfig.Config from path (with an optional
// environment-variable connection override) and builds a Wire out of its
// Connection before delegating to New.
func NewFromYAML(path, envVar string, opts ...Option) (*Container, error) {
	cfg, err := pgconfig.Load(path, envVar)
	if err != nil {
		return nil, err
	}

	wire := pgwire.Direct{
		Host:     cfg.Connection.Host,
		Port:     cfg.Connection.Port,
		DBName:   cfg.Connection.DBName,
		User:     cfg.Connection.User,
		Password: cfg.Connection.Password,
	}

	return New(cfg, wire, opts...)
}

// Start opens n connections on the underlying Pool and launches Stash's
// background cap/retirement/refill tasks.
func (c *Container) Start(ctx context.Context, n int) error {
	return c.stashLayer.Start(ctx, n)
}

// Shutdown stops Stash's background tasks and drains its worker pool.
func (c *Container) Shutdown(ctx context.Context) error {
	return c.stashLayer.Shutdown(ctx)
}

func compileExemptPatterns(patterns []string) ([]*regexp.Regexp, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, &pgexec.ConfigError{Field: "ExemptPatterns", Message: err.Error()}
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
