// Package pipeline runs synchronization cycles: it reads the watermark,
// discovers changed keys, streams their denormalized rows in bounded batches
// through the transformers and loaders, and persists the new watermark once
// everything was written.
package pipeline

import (
	"context"

	"github.com/alena-kono/ugc-service-2/internal/etl/content"
	"github.com/alena-kono/ugc-service-2/internal/etl/staging"
	"github.com/alena-kono/ugc-service-2/pkg/postgres"
)

// Producer stages the keys of one kind modified after the cycle watermark.
type Producer interface {
	Produce(ctx context.Context, q postgres.Querier, ch *staging.Channel) (int, error)
}

// Enricher stages keys of a dependent kind whose documents embed entities
// staged by a producer.
type Enricher interface {
	Enrich(ctx context.Context, q postgres.Querier, ch *staging.Channel) (int, error)
}

// Merger opens a cursor over the denormalized rows of every staged key. A nil
// Cursor means nothing was staged.
type Merger interface {
	Merge(ctx context.Context, q postgres.Querier, ch *staging.Channel) (Cursor, error)
}

// Cursor stages one batch of rows per Next call and reports false once the
// rows are exhausted.
type Cursor interface {
	Next(ctx context.Context) (bool, error)
	Close(ctx context.Context) error
}

// TransformStats counts what one transform call did.
type TransformStats struct {
	Rows      int
	Documents int
	Skipped   int
}

// Transformer maps the latest staged row batch to a document batch.
type Transformer interface {
	Transform(ctx context.Context, ch *staging.Channel) (TransformStats, error)
}

// Loader writes staged document batches to one search index.
type Loader interface {
	Index() string
	LoadSchema(ctx context.Context) error
	LoadBulk(ctx context.Context, ch *staging.Channel) (int, error)
}

// Entry wires the stages of one entity kind. Any stage may be nil.
type Entry struct {
	Kind        content.Kind
	Producer    Producer
	Enrichers   []Enricher
	Merger      Merger
	Transformer Transformer
	Loader      Loader
}
