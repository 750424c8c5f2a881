// Package app wires the synchronizer from configuration: clients, retry
// policies, the checkpoint backend, the stage catalog, health checks and the
// optional Kafka notifier and trigger consumer.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/alena-kono/ugc-service-2/internal/etl/catalog"
	"github.com/alena-kono/ugc-service-2/internal/etl/checkpoint"
	"github.com/alena-kono/ugc-service-2/internal/etl/index"
	"github.com/alena-kono/ugc-service-2/internal/etl/load"
	"github.com/alena-kono/ugc-service-2/internal/etl/notify"
	"github.com/alena-kono/ugc-service-2/internal/etl/pipeline"
	"github.com/alena-kono/ugc-service-2/internal/etl/transform"
	"github.com/alena-kono/ugc-service-2/internal/etl/trigger"
	"github.com/alena-kono/ugc-service-2/pkg/config"
	"github.com/alena-kono/ugc-service-2/pkg/health"
	"github.com/alena-kono/ugc-service-2/pkg/kafka"
	"github.com/alena-kono/ugc-service-2/pkg/metrics"
	"github.com/alena-kono/ugc-service-2/pkg/middleware"
	"github.com/alena-kono/ugc-service-2/pkg/postgres"
	"github.com/alena-kono/ugc-service-2/pkg/redis"
	"github.com/alena-kono/ugc-service-2/pkg/resilience"
)

// opsRequestTimeout bounds one ops server request, health probes included.
const opsRequestTimeout = 5 * time.Second

// Options tweak how New builds the application.
type Options struct {
	// DryRun indexes into memory and never moves the stored watermark.
	DryRun bool
}

// App is a fully wired synchronizer.
type App struct {
	cfg          *config.Config
	Orchestrator *pipeline.Orchestrator
	Checkpoint   *Checkpoint
	Checker      *health.Checker
	Registry     *prometheus.Registry
	Metrics      *metrics.Metrics
	Index        index.Index
	trigger      *kafka.Consumer
	indexes      []string
	closers      []func() error
	logger       *slog.Logger
}

// New connects to every dependency named in cfg. On error, whatever was
// already opened is closed.
func New(cfg *config.Config, opts Options) (_ *App, err error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	a := &App{
		cfg:      cfg,
		Checker:  health.NewChecker(),
		Registry: reg,
		Metrics:  m,
		logger:   slog.Default().With("component", "app"),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	pg, err := postgres.New(cfg.Postgres)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pg.Close)
	a.Checker.Register("postgres", health.PingCheck(pg.Ping))

	cp, err := OpenCheckpoint(cfg, m)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, cp.Close)
	a.Checker.Register(cp.Backend, health.PingCheck(cp.Ping))
	a.Checkpoint = cp
	a.Checker.Register("watermark", cp.WatermarkCheck(3*cfg.ETL.Interval))

	if opts.DryRun {
		a.Index = index.NewMemory()
	} else {
		es, err := index.NewElastic(cfg.Elastic)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { es.Stop(); return nil })
		a.Checker.Register("elastic", health.PingCheck(es.Ping))
		a.Index = es
	}

	notifier, closeNotifier := newNotifier(cfg.Kafka, opts)
	a.closers = append(a.closers, closeNotifier)

	policy, err := transform.ParsePolicy(cfg.ETL.OnMalformedRow)
	if err != nil {
		return nil, err
	}
	entries, err := catalog.Movies(a.Index, catalog.Options{
		Schema:    cfg.ETL.Schema,
		BatchSize: cfg.ETL.BatchSize,
		Policy:    policy,
		Loader: load.Options{
			Backoff:  NewBackoff(cfg.Backoff, "elastic", m),
			Timeout:  cfg.Elastic.RequestTimeout,
			Notifier: notifier,
		},
	})
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		a.indexes = append(a.indexes, e.Loader.Index())
	}

	var store checkpoint.Store = cp
	if opts.DryRun {
		store = readOnlyStore{Store: cp}
	}
	a.Orchestrator = pipeline.New(entries, pg, store, pipeline.Options{
		Interval:        cfg.ETL.Interval,
		PostgresBackoff: NewBackoff(cfg.Backoff, "postgres", m),
		Notifier:        notifier,
		Metrics:         m,
		Tracing:         cfg.Tracing.Enabled,
	})

	if cfg.Kafka.Enabled && !opts.DryRun {
		a.trigger = trigger.NewConsumer(cfg.Kafka, a.Orchestrator)
	}
	return a, nil
}

// Run creates the indexes, then runs the cycle loop next to the metrics
// server and the trigger consumer until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.Orchestrator.Prepare(ctx); err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Metrics.Enabled {
		g.Go(func() error {
			handler := middleware.Chain(metrics.NewMux(a.Registry, a.Checker),
				middleware.Metrics(a.Metrics),
				middleware.Timeout(opsRequestTimeout),
			)
			return metrics.Serve(ctx, a.cfg.Metrics.Port, handler)
		})
	}
	if a.trigger != nil {
		g.Go(func() error {
			return a.trigger.Start(ctx)
		})
	}
	g.Go(func() error {
		return a.Orchestrator.Run(ctx)
	})
	return g.Wait()
}

// RunOnce creates the indexes and runs a single cycle.
func (a *App) RunOnce(ctx context.Context) (pipeline.Summary, error) {
	if err := a.Orchestrator.Prepare(ctx); err != nil {
		return pipeline.Summary{}, err
	}
	summary, err := a.Orchestrator.RunCycle(ctx)
	if err != nil {
		return summary, err
	}
	return summary, refresh(ctx, a.Index, a.indexes)
}

type refresher interface {
	Refresh(ctx context.Context, names ...string) error
}

// refresh makes the documents of a one-shot cycle searchable right away.
// Indexes without a refresh notion are left alone.
func refresh(ctx context.Context, idx index.Index, names []string) error {
	r, ok := idx.(refresher)
	if !ok || len(names) == 0 {
		return nil
	}
	if err := r.Refresh(ctx, names...); err != nil {
		return fmt.Errorf("refreshing indexes: %w", err)
	}
	return nil
}

type notifier interface {
	load.Notifier
	pipeline.Notifier
}

// newNotifier publishes sync events only when Kafka is enabled and the
// documents really reach the search index.
func newNotifier(cfg config.KafkaConfig, opts Options) (notifier, func() error) {
	if !cfg.Enabled || opts.DryRun {
		return notify.Nop{}, func() error { return nil }
	}
	producer := kafka.NewProducer(cfg, cfg.Topics.SyncEvents)
	return notify.NewKafka(producer), producer.Close
}

// Close releases every client in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// NewBackoff builds the retry policy of one dependency, with its own circuit
// breaker, reporting retries and breaker transitions to m.
func NewBackoff(cfg config.BackoffConfig, name string, m *metrics.Metrics) *resilience.Backoff {
	breaker := resilience.NewCircuitBreaker(name, resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
		OnStateChange: func(name string, _, to resilience.State) {
			m.SetBreakerState(name, int(to))
		},
	})
	m.SetBreakerState(name, int(resilience.StateClosed))
	return resilience.NewBackoff(resilience.BackoffConfig{
		Base:           cfg.Base,
		Factor:         cfg.Factor,
		MaxDelay:       cfg.MaxDelay,
		MaxAttempts:    cfg.MaxAttempts,
		JitterFraction: cfg.Jitter,
	}, breaker).OnRetry(func(operation string, _ int, _ error) {
		m.IncRetries(operation)
	})
}

// Checkpoint is the configured watermark store with retries applied.
type Checkpoint struct {
	checkpoint.Store
	Backend string
	// raw is the store without retries, for probes that must answer fast.
	raw   checkpoint.Store
	ping  func(ctx context.Context) error
	close func() error
}

// OpenCheckpoint opens the backend selected by cfg.Checkpoint.Backend.
func OpenCheckpoint(cfg *config.Config, m *metrics.Metrics) (*Checkpoint, error) {
	backoff := NewBackoff(cfg.Backoff, cfg.Checkpoint.Backend, m)
	switch cfg.Checkpoint.Backend {
	case config.CheckpointRedis:
		rdb, err := redis.NewClient(cfg.Redis)
		if err != nil {
			return nil, err
		}
		store := checkpoint.NewRedisStore(rdb, cfg.Checkpoint.Prefix)
		return &Checkpoint{
			Store:   checkpoint.WithBackoff(store, backoff),
			Backend: config.CheckpointRedis,
			raw:     store,
			ping:    rdb.Ping,
			close:   rdb.Close,
		}, nil
	case config.CheckpointSQLite:
		db, err := checkpoint.OpenSQLite(cfg.Checkpoint.SQLitePath, cfg.Checkpoint.Prefix)
		if err != nil {
			return nil, err
		}
		return &Checkpoint{
			Store:   checkpoint.WithBackoff(db, backoff),
			Backend: config.CheckpointSQLite,
			raw:     db,
			ping:    db.Ping,
			close:   db.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}
}

// WatermarkCheck reports the stored watermark stale past maxAge. It reads
// with a single attempt, outside the retry policy and its circuit breaker.
func (c *Checkpoint) WatermarkCheck(maxAge time.Duration) health.Check {
	return health.WatermarkCheck(c.raw.Read, maxAge, time.Now)
}

func (c *Checkpoint) Ping(ctx context.Context) error {
	return c.ping(ctx)
}

func (c *Checkpoint) Close() error {
	return c.close()
}

// readOnlyStore serves reads and drops writes.
type readOnlyStore struct {
	checkpoint.Store
}

func (s readOnlyStore) Write(_ context.Context, mark time.Time) error {
	slog.Info("dry run, watermark not persisted", "watermark", mark)
	return nil
}

func (s readOnlyStore) Reset(context.Context) error {
	return nil
}
