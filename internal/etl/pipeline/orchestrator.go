package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alena-kono/ugc-service-2/internal/etl/checkpoint"
	"github.com/alena-kono/ugc-service-2/internal/etl/content"
	"github.com/alena-kono/ugc-service-2/internal/etl/staging"
	"github.com/alena-kono/ugc-service-2/pkg/logger"
	"github.com/alena-kono/ugc-service-2/pkg/metrics"
	"github.com/alena-kono/ugc-service-2/pkg/postgres"
	"github.com/alena-kono/ugc-service-2/pkg/resilience"
	"github.com/alena-kono/ugc-service-2/pkg/tracing"
)

// Source hands out read-only transactions on the relational store.
type Source interface {
	ReadTx(ctx context.Context, fn func(q postgres.Querier) error) error
}

// Notifier learns about every persisted watermark.
type Notifier interface {
	CycleCompleted(ctx context.Context, summary Summary)
}

// Summary describes one finished cycle.
type Summary struct {
	CycleID   string
	Previous  time.Time
	Watermark time.Time
	Full      bool
	Changed   map[content.Kind]int
	Batches   map[content.Kind]int
	Skipped   map[content.Kind]int
	Documents map[string]int
	Rounds    int
	Duration  time.Duration
}

type Options struct {
	Interval time.Duration
	// PostgresBackoff retries the discovery and merge phases on transient
	// store failures.
	PostgresBackoff *resilience.Backoff
	Notifier        Notifier
	Metrics         *metrics.Metrics
	Tracing         bool
	Now             func() time.Time
}

// Orchestrator drives the cycle state machine: read watermark, produce,
// enrich, merge rounds, persist watermark, sleep.
type Orchestrator struct {
	entries []Entry
	source  Source
	store   checkpoint.Store
	opts    Options
	wake    chan struct{}
	full    atomic.Bool
	logger  *slog.Logger
}

func New(entries []Entry, source Source, store checkpoint.Store, opts Options) *Orchestrator {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.PostgresBackoff == nil {
		opts.PostgresBackoff = resilience.NewBackoff(resilience.BackoffConfig{MaxAttempts: 1}, nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		entries: entries,
		source:  source,
		store:   store,
		opts:    opts,
		wake:    make(chan struct{}, 1),
		logger:  slog.Default().With("component", "orchestrator"),
	}
}

// Prepare creates every index before the first cycle.
func (o *Orchestrator) Prepare(ctx context.Context) error {
	for _, e := range o.entries {
		if e.Loader == nil {
			continue
		}
		if err := e.Loader.LoadSchema(ctx); err != nil {
			return fmt.Errorf("loading schema of %s: %w", e.Loader.Index(), err)
		}
	}
	return nil
}

// Trigger wakes a sleeping loop. With full set, the next cycle starts from
// the epoch instead of the stored watermark.
func (o *Orchestrator) Trigger(full bool) {
	if full {
		o.full.Store(true)
	}
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Run repeats cycles until ctx is cancelled. A failed cycle leaves the
// watermark in place, so the next one replays the same window.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("synchronization loop started", "interval", o.opts.Interval)
	for {
		summary, err := o.RunCycle(ctx)
		if ctx.Err() != nil {
			o.logger.Info("synchronization loop stopped", "reason", ctx.Err())
			return nil
		}
		if err != nil {
			o.logger.Error("cycle failed", "cycle_id", summary.CycleID, "error", err)
		}
		if !o.sleep(ctx) {
			o.logger.Info("synchronization loop stopped", "reason", ctx.Err())
			return nil
		}
	}
}

func (o *Orchestrator) sleep(ctx context.Context) bool {
	timer := time.NewTimer(o.opts.Interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	case <-o.wake:
		o.logger.Info("woken by trigger")
	}
	return true
}

// RunCycle runs one full cycle and persists the new watermark only when
// every phase succeeded.
func (o *Orchestrator) RunCycle(ctx context.Context) (summary Summary, err error) {
	start := o.opts.Now()
	summary = Summary{
		CycleID:   uuid.NewString(),
		Batches:   make(map[content.Kind]int),
		Skipped:   make(map[content.Kind]int),
		Documents: make(map[string]int),
	}
	ctx = logger.WithCycleID(ctx, summary.CycleID)
	log := logger.FromContext(ctx).With("component", "orchestrator")
	ctx, span := tracing.StartSpan(ctx, "cycle", summary.CycleID)
	defer func() {
		if summary.Duration == 0 {
			summary.Duration = o.opts.Now().Sub(start)
		}
		span.End(err)
		if o.opts.Tracing {
			span.Log(log)
		}
		status := metrics.CycleSucceeded
		if err != nil {
			status = metrics.CycleFailed
			if summary.Full {
				o.full.Store(true)
			}
		}
		o.opts.Metrics.ObserveCycle(status, summary.Duration)
	}()

	var stored time.Time
	if err = o.phase(ctx, "read_watermark", func(ctx context.Context) error {
		var readErr error
		stored, readErr = o.store.Read(ctx)
		return readErr
	}); err != nil {
		return summary, fmt.Errorf("reading watermark: %w", err)
	}
	next := start.UTC()
	if stored.After(next) {
		next = stored
	}
	summary.Previous = stored
	if o.full.Swap(false) {
		summary.Full = true
		summary.Previous = checkpoint.Epoch
	}
	log.Info("cycle started", "since", summary.Previous, "full", summary.Full)

	ch, err := o.discover(ctx, summary.Previous, &summary)
	if err != nil {
		return summary, err
	}

	if err = o.phase(ctx, "merge", func(ctx context.Context) error {
		return o.opts.PostgresBackoff.Do(ctx, "merge", func(ctx context.Context) error {
			ch.Drop(rowAndDocTopics...)
			return o.source.ReadTx(ctx, func(q postgres.Querier) error {
				return o.merge(ctx, q, ch, &summary)
			})
		})
	}); err != nil {
		return summary, fmt.Errorf("merging: %w", err)
	}

	if err = o.phase(ctx, "persist_watermark", func(ctx context.Context) error {
		return o.store.Write(ctx, next)
	}); err != nil {
		return summary, fmt.Errorf("persisting watermark: %w", err)
	}
	summary.Watermark = next
	summary.Duration = o.opts.Now().Sub(start)
	o.opts.Metrics.SetWatermark(next)

	log.Info("cycle completed",
		"watermark", next,
		"rounds", summary.Rounds,
		"documents", summary.Documents,
		"skipped", summary.Skipped,
	)
	if o.opts.Notifier != nil {
		o.opts.Notifier.CycleCompleted(ctx, summary)
	}
	return summary, nil
}

var rowAndDocTopics = []staging.Topic{
	staging.TopicMovieRows, staging.TopicGenreRows, staging.TopicPersonRows,
	staging.TopicMovieDocs, staging.TopicGenreDocs, staging.TopicPersonDocs,
}

func (o *Orchestrator) phase(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := tracing.StartChildSpan(ctx, name)
	err := fn(ctx)
	span.End(err)
	return err
}

// discover runs every producer, then every enricher, in one read-only
// transaction. Each attempt starts from a fresh channel so a retried attempt
// never sees keys of a failed one.
func (o *Orchestrator) discover(ctx context.Context, since time.Time, summary *Summary) (*staging.Channel, error) {
	var (
		ch      *staging.Channel
		changed map[content.Kind]int
	)
	err := o.phase(ctx, "produce_enrich", func(ctx context.Context) error {
		return o.opts.PostgresBackoff.Do(ctx, "produce and enrich", func(ctx context.Context) error {
			ch = staging.NewWithWatermark(since)
			changed = make(map[content.Kind]int)
			return o.source.ReadTx(ctx, func(q postgres.Querier) error {
				for _, e := range o.entries {
					if e.Producer == nil {
						continue
					}
					n, err := e.Producer.Produce(ctx, q, ch)
					if err != nil {
						return fmt.Errorf("producing %s: %w", e.Kind, err)
					}
					changed[e.Kind] += n
				}
				for _, e := range o.entries {
					for _, enricher := range e.Enrichers {
						n, err := enricher.Enrich(ctx, q, ch)
						if err != nil {
							return fmt.Errorf("enriching %s: %w", e.Kind, err)
						}
						changed[e.Kind] += n
					}
				}
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}
	summary.Changed = changed
	for kind, n := range changed {
		o.opts.Metrics.AddChangedKeys(string(kind), n)
	}
	return ch, nil
}

type kindCursor struct {
	entry  Entry
	cursor Cursor
}

// merge opens one cursor per kind and interleaves them round by round: every
// live cursor stages one batch, then each kind that got a batch transforms
// and loads it. Kinds run out independently. Cursors left open by a failed
// round go away with the transaction.
func (o *Orchestrator) merge(ctx context.Context, q postgres.Querier, ch *staging.Channel, summary *Summary) error {
	active := make([]kindCursor, 0, len(o.entries))
	for _, e := range o.entries {
		if e.Merger == nil {
			continue
		}
		cur, err := e.Merger.Merge(ctx, q, ch)
		if err != nil {
			return fmt.Errorf("opening %s cursor: %w", e.Kind, err)
		}
		if cur != nil {
			active = append(active, kindCursor{entry: e, cursor: cur})
		}
	}

	summary.Rounds = 0
	clear(summary.Batches)
	clear(summary.Skipped)
	clear(summary.Documents)
	for len(active) > 0 {
		produced := make([]Entry, 0, len(active))
		live := active[:0]
		for _, kc := range active {
			more, err := kc.cursor.Next(ctx)
			if err != nil {
				return fmt.Errorf("fetching %s batch: %w", kc.entry.Kind, err)
			}
			if !more {
				continue
			}
			produced = append(produced, kc.entry)
			live = append(live, kc)
		}
		active = live
		if len(produced) == 0 {
			break
		}
		summary.Rounds++

		for _, e := range produced {
			summary.Batches[e.Kind]++
			o.opts.Metrics.IncBatches(string(e.Kind))
			if err := o.transformAndLoad(ctx, e, ch, summary); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Orchestrator) transformAndLoad(ctx context.Context, e Entry, ch *staging.Channel, summary *Summary) error {
	if e.Transformer != nil {
		stats, err := e.Transformer.Transform(ctx, ch)
		if err != nil {
			return err
		}
		summary.Skipped[e.Kind] += stats.Skipped
		o.opts.Metrics.AddSkipped(string(e.Kind), stats.Skipped)
	}
	if e.Loader == nil {
		return nil
	}
	n, err := e.Loader.LoadBulk(ctx, ch)
	if err != nil {
		return fmt.Errorf("loading %s: %w", e.Loader.Index(), err)
	}
	summary.Documents[e.Loader.Index()] += n
	o.opts.Metrics.AddIndexed(e.Loader.Index(), n)
	return nil
}
