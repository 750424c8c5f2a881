package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alena-kono/ugc-service-2/internal/etl/checkpoint"
	"github.com/alena-kono/ugc-service-2/internal/etl/content"
	"github.com/alena-kono/ugc-service-2/internal/etl/index"
	"github.com/alena-kono/ugc-service-2/internal/etl/load"
	"github.com/alena-kono/ugc-service-2/internal/etl/pipeline"
	"github.com/alena-kono/ugc-service-2/internal/etl/staging"
	"github.com/alena-kono/ugc-service-2/internal/etl/transform"
	apperrors "github.com/alena-kono/ugc-service-2/pkg/errors"
	"github.com/alena-kono/ugc-service-2/pkg/postgres"
	"github.com/alena-kono/ugc-service-2/pkg/resilience"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func id(kind string, n int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s/%d", kind, n))).String()
}

// world is an in-memory stand-in for the relational store.
type world struct {
	films      map[string]time.Time
	genres     map[string]time.Time
	genreFilms map[string][]string
}

func newWorld(films, genres int) *world {
	w := &world{films: map[string]time.Time{}, genres: map[string]time.Time{}, genreFilms: map[string][]string{}}
	for i := 0; i < films; i++ {
		w.films[id("film", i)] = now.Add(-time.Duration(i+1) * time.Minute)
	}
	for i := 0; i < genres; i++ {
		w.genres[id("genre", i)] = now.Add(-time.Duration(i+1) * time.Minute)
	}
	return w
}

type tableProducer struct {
	rows   map[string]time.Time
	output staging.Topic
	calls  int
}

func (p *tableProducer) Produce(_ context.Context, _ postgres.Querier, ch *staging.Channel) (int, error) {
	p.calls++
	mark, err := ch.Watermark()
	if err != nil {
		return 0, err
	}
	var ids []string
	for id, modified := range p.rows {
		if modified.After(mark) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if len(ids) > 0 {
		ch.Push(p.output, ids)
	}
	return len(ids), nil
}

type linkEnricher struct {
	links map[string][]string
}

func (e *linkEnricher) Enrich(_ context.Context, _ postgres.Querier, ch *staging.Channel) (int, error) {
	lists, err := staging.Items[[]string](ch, staging.TopicGenreIDs)
	if err != nil {
		return 0, err
	}
	var ids []string
	for _, list := range lists {
		for _, key := range list {
			ids = append(ids, e.links[key]...)
		}
	}
	if len(ids) > 0 {
		ch.Push(staging.TopicFilmIDs, ids)
	}
	return len(ids), nil
}

type sliceMerger[R any] struct {
	input, output staging.Topic
	batch         int
	row           func(id string) R
}

func (m *sliceMerger[R]) Merge(_ context.Context, _ postgres.Querier, ch *staging.Channel) (pipeline.Cursor, error) {
	lists, err := staging.Items[[]string](ch, m.input)
	if err != nil || len(lists) == 0 {
		return nil, err
	}
	var keys []string
	for _, list := range lists {
		keys = append(keys, list...)
	}
	slices.Sort(keys)
	keys = slices.Compact(keys)
	return &sliceCursor[R]{merger: m, keys: keys, ch: ch}, nil
}

type sliceCursor[R any] struct {
	merger *sliceMerger[R]
	keys   []string
	ch     *staging.Channel
}

func (c *sliceCursor[R]) Next(context.Context) (bool, error) {
	if len(c.keys) == 0 {
		return false, nil
	}
	n := min(c.merger.batch, len(c.keys))
	batch := make([]R, 0, n)
	for _, key := range c.keys[:n] {
		batch = append(batch, c.merger.row(key))
	}
	c.keys = c.keys[n:]
	c.ch.Push(c.merger.output, batch)
	return true, nil
}

func (c *sliceCursor[R]) Close(context.Context) error { return nil }

// flakyIndex fails failCount bulk calls starting with call number failFrom.
type flakyIndex struct {
	*index.Memory
	mu        sync.Mutex
	failFrom  int
	failCount int
	bulks     int
	failWith  error
}

func (f *flakyIndex) Bulk(ctx context.Context, name string, actions []index.Action) error {
	f.mu.Lock()
	f.bulks++
	fail := f.failFrom != 0 && f.bulks >= f.failFrom && f.failCount > 0
	if fail {
		f.failCount--
	}
	f.mu.Unlock()
	if fail {
		return f.failWith
	}
	return f.Memory.Bulk(ctx, name, actions)
}

type memStore struct {
	mu     sync.Mutex
	mark   time.Time
	writes []time.Time
}

func (s *memStore) Read(context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mark.IsZero() {
		return checkpoint.Epoch, nil
	}
	return s.mark, nil
}

func (s *memStore) Write(_ context.Context, mark time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mark = mark
	s.writes = append(s.writes, mark)
	return nil
}

func (s *memStore) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mark = time.Time{}
	return nil
}

type flakySource struct {
	failures int
	txs      int
}

func (s *flakySource) ReadTx(_ context.Context, fn func(q postgres.Querier) error) error {
	s.txs++
	if s.failures > 0 {
		s.failures--
		return apperrors.Unavailable("beginning read-only transaction", errors.New("connection refused"))
	}
	return fn(nil)
}

type harness struct {
	loader   load.Options
	world    *world
	idx      *flakyIndex
	store    *memStore
	source   *flakySource
	films    *tableProducer
	notified chan pipeline.Summary
}

func (h *harness) CycleCompleted(_ context.Context, s pipeline.Summary) {
	select {
	case h.notified <- s:
	default:
	}
}

func newHarness(t *testing.T, w *world) *harness {
	t.Helper()
	return &harness{
		world:    w,
		idx:      &flakyIndex{Memory: index.NewMemory()},
		store:    &memStore{},
		source:   &flakySource{},
		notified: make(chan pipeline.Summary, 8),
	}
}

func (h *harness) orchestrator(t *testing.T, opts pipeline.Options) *pipeline.Orchestrator {
	t.Helper()
	movies, err := load.NewMovies(h.idx, h.loader)
	require.NoError(t, err)
	genres, err := load.NewGenres(h.idx, h.loader)
	require.NoError(t, err)

	h.films = &tableProducer{rows: h.world.films, output: staging.TopicFilmIDs}
	entries := []pipeline.Entry{
		{
			Kind:      content.KindFilmWork,
			Producer:  h.films,
			Enrichers: []pipeline.Enricher{&linkEnricher{links: h.world.genreFilms}},
			Merger: &sliceMerger[content.FilmWorkRow]{
				input: staging.TopicFilmIDs, output: staging.TopicMovieRows, batch: 50,
				row: func(key string) content.FilmWorkRow {
					return content.FilmWorkRow{ID: uuid.MustParse(key), Title: "Film " + key[:8]}
				},
			},
			Transformer: transform.NewMovies(transform.Abort),
			Loader:      movies,
		},
		{
			Kind:     content.KindGenre,
			Producer: &tableProducer{rows: h.world.genres, output: staging.TopicGenreIDs},
			Merger: &sliceMerger[content.GenreRow]{
				input: staging.TopicGenreIDs, output: staging.TopicGenreRows, batch: 50,
				row: func(key string) content.GenreRow {
					return content.GenreRow{ID: uuid.MustParse(key), Name: "Genre " + key[:8]}
				},
			},
			Transformer: transform.NewGenres(transform.Abort),
			Loader:      genres,
		},
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return now }
	}
	if opts.Notifier == nil {
		opts.Notifier = h
	}
	o := pipeline.New(entries, h.source, h.store, opts)
	require.NoError(t, o.Prepare(context.Background()))
	return o
}

func TestCycleStreamsBoundedBatches(t *testing.T) {
	h := newHarness(t, newWorld(125, 0))
	o := h.orchestrator(t, pipeline.Options{})

	summary, err := o.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, h.idx.Bulks(load.IndexMovies))
	assert.Equal(t, 125, h.idx.Count(load.IndexMovies))
	assert.Equal(t, 3, summary.Batches[content.KindFilmWork])
	assert.Equal(t, 3, summary.Rounds)
	assert.Equal(t, 125, summary.Documents[load.IndexMovies])
	assert.Equal(t, 125, summary.Changed[content.KindFilmWork])
	assert.Equal(t, []time.Time{now}, h.store.writes)
	assert.Equal(t, checkpoint.Epoch, summary.Previous)
	assert.Equal(t, now, summary.Watermark)
}

func TestFailedRoundKeepsWatermarkAndReplayConverges(t *testing.T) {
	h := newHarness(t, newWorld(125, 0))
	h.idx.failFrom, h.idx.failCount = 2, 1
	h.idx.failWith = apperrors.New(apperrors.ErrIndexRejected, "bulk movies", "1 of 50 failed")
	o := h.orchestrator(t, pipeline.Options{})

	_, err := o.RunCycle(context.Background())

	require.ErrorIs(t, err, apperrors.ErrIndexRejected)
	assert.Empty(t, h.store.writes)
	assert.Equal(t, 50, h.idx.Count(load.IndexMovies))

	summary, err := o.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, checkpoint.Epoch, summary.Previous)
	assert.Equal(t, 125, h.idx.Count(load.IndexMovies))
	assert.Equal(t, []time.Time{now}, h.store.writes)
}

func TestUnavailableIndexKeepsWatermarkAndReplayConverges(t *testing.T) {
	h := newHarness(t, newWorld(125, 0))
	h.idx.failFrom, h.idx.failCount = 2, 3
	h.idx.failWith = apperrors.Unavailable("bulk movies", errors.New("connection refused"))
	h.loader = load.Options{
		Backoff: resilience.NewBackoff(resilience.BackoffConfig{Factor: time.Millisecond, MaxDelay: time.Millisecond, MaxAttempts: 3}, nil),
	}
	o := h.orchestrator(t, pipeline.Options{})

	_, err := o.RunCycle(context.Background())

	require.ErrorIs(t, err, apperrors.ErrRetryExhausted)
	assert.ErrorIs(t, err, apperrors.ErrUnavailable)
	assert.Empty(t, h.store.writes)
	assert.Equal(t, 50, h.idx.Count(load.IndexMovies))

	summary, err := o.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, checkpoint.Epoch, summary.Previous)
	assert.Equal(t, 125, h.idx.Count(load.IndexMovies))
	assert.Equal(t, []time.Time{now}, h.store.writes)
}

func TestNotifiedSummaryCarriesDuration(t *testing.T) {
	h := newHarness(t, newWorld(3, 0))
	tick := now
	clock := func() time.Time {
		cur := tick
		tick = tick.Add(time.Second)
		return cur
	}
	o := h.orchestrator(t, pipeline.Options{Now: clock})

	summary, err := o.RunCycle(context.Background())
	require.NoError(t, err)

	notified := <-h.notified
	assert.Equal(t, time.Second, notified.Duration)
	assert.Equal(t, summary.Duration, notified.Duration)
	assert.Equal(t, 1, notified.Rounds)
	assert.Equal(t, summary.CycleID, notified.CycleID)
}

func TestWatermarkNeverMovesBackwards(t *testing.T) {
	h := newHarness(t, newWorld(3, 0))
	future := now.Add(time.Hour)
	h.store.mark = future
	o := h.orchestrator(t, pipeline.Options{})

	summary, err := o.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, future, summary.Watermark)
	assert.Zero(t, h.idx.Count(load.IndexMovies))
}

func TestEnrichmentReindexesDependentFilms(t *testing.T) {
	w := newWorld(4, 1)
	for filmID := range w.films {
		w.films[filmID] = now.Add(-48 * time.Hour)
	}
	genreID := id("genre", 0)
	w.genreFilms[genreID] = []string{id("film", 1), id("film", 3), id("film", 1)}
	h := newHarness(t, w)
	h.store.mark = now.Add(-24 * time.Hour)
	o := h.orchestrator(t, pipeline.Options{})

	summary, err := o.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{id("genre", 0)}, h.idx.IDs(load.IndexGenres))
	want := []string{id("film", 1), id("film", 3)}
	slices.Sort(want)
	assert.Equal(t, want, h.idx.IDs(load.IndexMovies))
	assert.Equal(t, 1, summary.Batches[content.KindFilmWork])
	assert.Equal(t, 1, summary.Rounds)
}

func TestRoundRobinAcrossKinds(t *testing.T) {
	h := newHarness(t, newWorld(120, 30))
	o := h.orchestrator(t, pipeline.Options{})

	summary, err := o.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, summary.Rounds)
	assert.Equal(t, 3, summary.Batches[content.KindFilmWork])
	assert.Equal(t, 1, summary.Batches[content.KindGenre])
	assert.Equal(t, 30, h.idx.Count(load.IndexGenres))
}

func TestSecondCycleIsIdempotent(t *testing.T) {
	h := newHarness(t, newWorld(10, 2))
	o := h.orchestrator(t, pipeline.Options{})

	_, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	bulks := h.idx.Bulks(load.IndexMovies)

	summary, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Rounds)
	assert.Equal(t, bulks, h.idx.Bulks(load.IndexMovies))

	o.Trigger(true)
	summary, err = o.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Full)
	assert.Equal(t, 10, h.idx.Count(load.IndexMovies))
	assert.Equal(t, 2, h.idx.Count(load.IndexGenres))
	assert.Equal(t, now, summary.Watermark)
}

func TestDiscoveryRetriesFromFreshChannel(t *testing.T) {
	h := newHarness(t, newWorld(60, 0))
	h.source.failures = 2
	backoff := resilience.NewBackoff(resilience.BackoffConfig{Factor: time.Millisecond, MaxDelay: time.Millisecond, MaxAttempts: 5}, nil)
	o := h.orchestrator(t, pipeline.Options{PostgresBackoff: backoff})

	summary, err := o.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 60, summary.Changed[content.KindFilmWork])
	assert.Equal(t, 2, summary.Batches[content.KindFilmWork])
	assert.Equal(t, 60, h.idx.Count(load.IndexMovies))
	assert.Equal(t, 1, h.films.calls)
	assert.Equal(t, 4, h.source.txs)
}

func TestDiscoveryGivesUpAfterBudget(t *testing.T) {
	h := newHarness(t, newWorld(5, 0))
	h.source.failures = 10
	backoff := resilience.NewBackoff(resilience.BackoffConfig{Factor: time.Millisecond, MaxDelay: time.Millisecond, MaxAttempts: 3}, nil)
	o := h.orchestrator(t, pipeline.Options{PostgresBackoff: backoff})

	_, err := o.RunCycle(context.Background())

	assert.ErrorIs(t, err, apperrors.ErrRetryExhausted)
	assert.Empty(t, h.store.writes)
}

func TestRunWakesOnTriggerAndStopsOnCancel(t *testing.T) {
	h := newHarness(t, newWorld(2, 0))
	o := h.orchestrator(t, pipeline.Options{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	first := <-h.notified
	assert.Equal(t, 2, first.Documents[load.IndexMovies])

	o.Trigger(true)
	second := <-h.notified
	assert.True(t, second.Full)
	assert.Equal(t, 2, second.Documents[load.IndexMovies])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
