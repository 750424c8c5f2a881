package transform

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alena-kono/ugc-service-2/internal/etl/content"
	"github.com/alena-kono/ugc-service-2/internal/etl/staging"
	apperrors "github.com/alena-kono/ugc-service-2/pkg/errors"
)

var (
	starWars = uuid.MustParse("3d825f60-9fff-4dfe-b294-1a45fa1e115d")
	thx1138  = uuid.MustParse("025c58cd-1b7e-43be-9ffb-8571a613579b")
	hamill   = uuid.MustParse("26e83050-29ef-4163-a99d-b546cac208f8")
	ford     = uuid.MustParse("5b4bf1bc-3397-4e83-9b17-8b10c6544ed1")
	lucas    = uuid.MustParse("a5a8f573-3cee-4ccc-8a2b-91cb9f55250a")
)

func ptr[T any](v T) *T { return &v }

func assertGolden(t *testing.T, name string, v any) {
	t.Helper()
	data, err := json.MarshalIndent(v, "", "  ")
	require.NoError(t, err)
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, append(data, '\n'))
}

func starWarsRow() content.FilmWorkRow {
	return content.FilmWorkRow{
		ID:          starWars,
		Title:       "Star Wars: Episode IV - A New Hope",
		Description: ptr("The Imperial Forces hold Princess Leia hostage."),
		Rating:      ptr(8.6),
		Type:        "movie",
		Genres: []content.GenreRel{
			{ID: uuid.MustParse("120a21cf-9097-479e-904a-13dd7198c1dd"), Name: "Adventure"},
			{ID: uuid.MustParse("3d8d9bf5-0d90-4353-88ba-4ccc5d2c07ff"), Name: "Action"},
		},
		Persons: []content.PersonRel{
			{ID: hamill, Name: "Mark Hamill", Role: content.RoleActor},
			{ID: lucas, Name: "George Lucas", Role: content.RoleDirector},
			{ID: ford, Name: "Harrison Ford", Role: content.RoleActor},
			{ID: lucas, Name: "George Lucas", Role: content.RoleWriter},
		},
	}
}

func TestMovieDocumentGolden(t *testing.T) {
	doc, err := MovieDocument(starWarsRow())
	require.NoError(t, err)
	assertGolden(t, "movie_document", doc)
}

func TestPersonDocumentGolden(t *testing.T) {
	doc, err := PersonDocument(content.PersonRow{
		ID:       lucas,
		FullName: "George Lucas",
		Films: []content.FilmRole{
			{FilmWorkID: starWars, Role: content.RoleWriter},
			{FilmWorkID: thx1138, Role: content.RoleDirector},
			{FilmWorkID: starWars, Role: content.RoleDirector},
			{FilmWorkID: starWars, Role: content.RoleWriter},
		},
	})
	require.NoError(t, err)
	assertGolden(t, "person_document", doc)
}

func TestMovieDocumentWithoutRelations(t *testing.T) {
	doc, err := MovieDocument(content.FilmWorkRow{ID: starWars, Title: "Untitled"})
	require.NoError(t, err)

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "3d825f60-9fff-4dfe-b294-1a45fa1e115d",
		"imdb_rating": null,
		"title": "Untitled",
		"description": null,
		"actors_names": [], "writers_names": [], "directors_names": [],
		"actors": [], "writers": [], "directors": [],
		"genres": []
	}`, string(data))
	assert.Equal(t, starWars.String(), doc.DocumentID())
}

func TestMalformedRows(t *testing.T) {
	cases := map[string]content.FilmWorkRow{
		"nil id":       {Title: "x"},
		"empty title":  {ID: starWars, Title: "  "},
		"unknown role": {ID: starWars, Title: "x", Persons: []content.PersonRel{{ID: lucas, Name: "G", Role: "producer"}}},
		"nil genre":    {ID: starWars, Title: "x", Genres: []content.GenreRel{{Name: "Drama"}}},
	}
	for name, row := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := MovieDocument(row)
			assert.ErrorIs(t, err, apperrors.ErrMalformedRow)
		})
	}

	_, err := GenreDocument(content.GenreRow{ID: starWars})
	assert.ErrorIs(t, err, apperrors.ErrMalformedRow)
	_, err = PersonDocument(content.PersonRow{ID: lucas, FullName: "G", Films: []content.FilmRole{{FilmWorkID: starWars, Role: "grip"}}})
	assert.ErrorIs(t, err, apperrors.ErrMalformedRow)
}

func stagedRows() *staging.Channel {
	ch := staging.New()
	ch.Push(staging.TopicMovieRows, []content.FilmWorkRow{{ID: thx1138, Title: "THX 1138"}})
	ch.Push(staging.TopicMovieRows, []content.FilmWorkRow{
		starWarsRow(),
		{ID: thx1138, Title: ""},
	})
	return ch
}

func TestTransformSkipsMalformedRows(t *testing.T) {
	ch := stagedRows()

	stats, err := NewMovies(Skip).Transform(context.Background(), ch)

	require.NoError(t, err)
	assert.Equal(t, 2, stats.Rows)
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, ch.Len(staging.TopicMovieRows))

	docs, ok, err := staging.Pop[[]content.MovieDocument](ch, staging.TopicMovieDocs)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, docs, 1)
	assert.Equal(t, starWars.String(), docs[0].ID)
}

func TestTransformAbortsOnMalformedRow(t *testing.T) {
	ch := stagedRows()

	_, err := NewMovies(Abort).Transform(context.Background(), ch)

	assert.ErrorIs(t, err, apperrors.ErrMalformedRow)
	assert.Zero(t, ch.Len(staging.TopicMovieDocs))
}

func TestTransformEmptyTopicIsNoop(t *testing.T) {
	ch := staging.New()

	stats, err := NewGenres(Skip).Transform(context.Background(), ch)

	require.NoError(t, err)
	assert.Zero(t, stats.Rows)
	assert.Zero(t, ch.Len(staging.TopicGenreDocs))
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, Skip, p)

	p, err = ParsePolicy("abort")
	require.NoError(t, err)
	assert.Equal(t, Abort, p)

	_, err = ParsePolicy("retry")
	assert.Error(t, err)
}
