// Package catalog assembles the stage set for the movies database: one
// entry per entity kind, each with its producer, enrichers, merger,
// transformer and loader.
package catalog

import (
	"github.com/alena-kono/ugc-service-2/internal/etl/content"
	"github.com/alena-kono/ugc-service-2/internal/etl/extract"
	"github.com/alena-kono/ugc-service-2/internal/etl/index"
	"github.com/alena-kono/ugc-service-2/internal/etl/load"
	"github.com/alena-kono/ugc-service-2/internal/etl/pipeline"
	"github.com/alena-kono/ugc-service-2/internal/etl/staging"
	"github.com/alena-kono/ugc-service-2/internal/etl/transform"
)

// Options parameterises Movies.
type Options struct {
	Schema    string
	BatchSize int
	Policy    transform.Policy
	Loader    load.Options
}

// Movies returns the film work, genre and person entries. Film works also
// pick up every film linked to a changed genre or person.
func Movies(idx index.Index, opts Options) ([]pipeline.Entry, error) {
	movies, err := load.NewMovies(idx, opts.Loader)
	if err != nil {
		return nil, err
	}
	genres, err := load.NewGenres(idx, opts.Loader)
	if err != nil {
		return nil, err
	}
	persons, err := load.NewPersons(idx, opts.Loader)
	if err != nil {
		return nil, err
	}

	return []pipeline.Entry{
		{
			Kind:     content.KindFilmWork,
			Producer: extract.NewTableProducer(content.KindFilmWork, opts.Schema, "film_work", staging.TopicFilmIDs),
			Enrichers: []pipeline.Enricher{
				extract.NewJunctionEnricher(extract.JunctionSpec{
					Schema:    opts.Schema,
					Table:     "person_film_work",
					KeyColumn: "person_id",
					Input:     staging.TopicPersonIDs,
					Output:    staging.TopicFilmIDs,
				}),
				extract.NewJunctionEnricher(extract.JunctionSpec{
					Schema:    opts.Schema,
					Table:     "genre_film_work",
					KeyColumn: "genre_id",
					Input:     staging.TopicGenreIDs,
					Output:    staging.TopicFilmIDs,
				}),
			},
			Merger:      extract.NewFilmWorkMerger(opts.Schema, opts.BatchSize),
			Transformer: transform.NewMovies(opts.Policy),
			Loader:      movies,
		},
		{
			Kind:        content.KindGenre,
			Producer:    extract.NewTableProducer(content.KindGenre, opts.Schema, "genre", staging.TopicGenreIDs),
			Merger:      extract.NewGenreMerger(opts.Schema, opts.BatchSize),
			Transformer: transform.NewGenres(opts.Policy),
			Loader:      genres,
		},
		{
			Kind:        content.KindPerson,
			Producer:    extract.NewTableProducer(content.KindPerson, opts.Schema, "person", staging.TopicPersonIDs),
			Merger:      extract.NewPersonMerger(opts.Schema, opts.BatchSize),
			Transformer: transform.NewPersons(opts.Policy),
			Loader:      persons,
		},
	}, nil
}
