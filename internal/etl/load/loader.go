// Package load writes staged document batches to the search index.
package load

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/alena-kono/ugc-service-2/internal/etl/content"
	"github.com/alena-kono/ugc-service-2/internal/etl/index"
	"github.com/alena-kono/ugc-service-2/internal/etl/staging"
	"github.com/alena-kono/ugc-service-2/pkg/resilience"
)

//go:embed schemas/*.json
var schemas embed.FS

// Index names.
const (
	IndexMovies  = "movies"
	IndexGenres  = "genres"
	IndexPersons = "persons"
)

// Mapping returns the settings and mappings index is created with.
func Mapping(name string) ([]byte, error) {
	data, err := schemas.ReadFile("schemas/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("no mapping for index %s: %w", name, err)
	}
	return data, nil
}

// Notifier learns about every batch that reached the index.
type Notifier interface {
	BatchIndexed(ctx context.Context, kind content.Kind, index string, ids []string)
}

type Options struct {
	Backoff *resilience.Backoff
	// Timeout bounds one bulk request; zero means no bound.
	Timeout  time.Duration
	Notifier Notifier
}

// IndexLoader pops []D batches staged under its input topic and upserts them
// by document id.
type IndexLoader[D content.Document] struct {
	kind    content.Kind
	name    string
	input   staging.Topic
	mapping []byte
	idx     index.Index
	opts    Options
	logger  *slog.Logger
}

func New[D content.Document](kind content.Kind, name string, input staging.Topic, idx index.Index, opts Options) (*IndexLoader[D], error) {
	mapping, err := Mapping(name)
	if err != nil {
		return nil, err
	}
	if opts.Backoff == nil {
		opts.Backoff = resilience.NewBackoff(resilience.BackoffConfig{MaxAttempts: 1}, nil)
	}
	return &IndexLoader[D]{
		kind:    kind,
		name:    name,
		input:   input,
		mapping: mapping,
		idx:     idx,
		opts:    opts,
		logger:  slog.Default().With("component", "loader", "index", name),
	}, nil
}

func (l *IndexLoader[D]) Index() string {
	return l.name
}

// LoadSchema creates the index if it does not exist yet.
func (l *IndexLoader[D]) LoadSchema(ctx context.Context) error {
	err := l.opts.Backoff.Do(ctx, "create index "+l.name, func(ctx context.Context) error {
		return l.idx.EnsureIndex(ctx, l.name, l.mapping)
	})
	if err != nil {
		return err
	}
	l.logger.Info("index schema loaded")
	return nil
}

// LoadBulk writes the latest staged batch. Only the bulk request is retried,
// with the same actions, so a retry never loses or reorders documents.
func (l *IndexLoader[D]) LoadBulk(ctx context.Context, ch *staging.Channel) (int, error) {
	docs, ok, err := staging.Pop[[]D](ch, l.input)
	if err != nil || !ok || len(docs) == 0 {
		return 0, err
	}

	actions := make([]index.Action, len(docs))
	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.DocumentID()
		actions[i] = index.Action{ID: ids[i], Doc: doc}
	}

	op := "bulk " + l.name
	err = l.opts.Backoff.Do(ctx, op, func(ctx context.Context) error {
		return resilience.WithTimeout(ctx, l.opts.Timeout, op, func(ctx context.Context) error {
			return l.idx.Bulk(ctx, l.name, actions)
		})
	})
	if err != nil {
		return 0, err
	}

	l.logger.Debug("bulk loaded", "documents", len(actions))
	if l.opts.Notifier != nil {
		l.opts.Notifier.BatchIndexed(ctx, l.kind, l.name, ids)
	}
	return len(actions), nil
}

func NewMovies(idx index.Index, opts Options) (*IndexLoader[content.MovieDocument], error) {
	return New[content.MovieDocument](content.KindFilmWork, IndexMovies, staging.TopicMovieDocs, idx, opts)
}

func NewGenres(idx index.Index, opts Options) (*IndexLoader[content.GenreDocument], error) {
	return New[content.GenreDocument](content.KindGenre, IndexGenres, staging.TopicGenreDocs, idx, opts)
}

func NewPersons(idx index.Index, opts Options) (*IndexLoader[content.PersonDocument], error) {
	return New[content.PersonDocument](content.KindPerson, IndexPersons, staging.TopicPersonDocs, idx, opts)
}
