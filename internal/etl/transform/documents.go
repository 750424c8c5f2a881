package transform

import (
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/alena-kono/ugc-service-2/internal/etl/content"
	"github.com/alena-kono/ugc-service-2/internal/etl/staging"
	apperrors "github.com/alena-kono/ugc-service-2/pkg/errors"
)

func malformed(kind content.Kind, id uuid.UUID, msg string) error {
	return apperrors.New(apperrors.ErrMalformedRow, "map "+string(kind)+" "+id.String(), msg)
}

// MovieDocument partitions the participants of a film work by role and keeps
// their relative order within each role.
func MovieDocument(row content.FilmWorkRow) (content.MovieDocument, error) {
	if row.ID == uuid.Nil {
		return content.MovieDocument{}, malformed(content.KindFilmWork, row.ID, "missing id")
	}
	if strings.TrimSpace(row.Title) == "" {
		return content.MovieDocument{}, malformed(content.KindFilmWork, row.ID, "empty title")
	}

	doc := content.MovieDocument{
		ID:             row.ID.String(),
		IMDBRating:     row.Rating,
		Title:          row.Title,
		Description:    row.Description,
		ActorsNames:    []string{},
		WritersNames:   []string{},
		DirectorsNames: []string{},
		Actors:         []content.PersonRef{},
		Writers:        []content.PersonRef{},
		Directors:      []content.PersonRef{},
		Genres:         make([]content.GenreRef, 0, len(row.Genres)),
	}
	for _, p := range row.Persons {
		if p.ID == uuid.Nil {
			return content.MovieDocument{}, malformed(content.KindFilmWork, row.ID, "participant without id")
		}
		ref := content.PersonRef{ID: p.ID.String(), FullName: p.Name}
		switch p.Role {
		case content.RoleActor:
			doc.Actors = append(doc.Actors, ref)
			doc.ActorsNames = append(doc.ActorsNames, p.Name)
		case content.RoleWriter:
			doc.Writers = append(doc.Writers, ref)
			doc.WritersNames = append(doc.WritersNames, p.Name)
		case content.RoleDirector:
			doc.Directors = append(doc.Directors, ref)
			doc.DirectorsNames = append(doc.DirectorsNames, p.Name)
		default:
			return content.MovieDocument{}, malformed(content.KindFilmWork, row.ID, "unknown role "+string(p.Role))
		}
	}
	for _, g := range row.Genres {
		if g.ID == uuid.Nil {
			return content.MovieDocument{}, malformed(content.KindFilmWork, row.ID, "genre without id")
		}
		doc.Genres = append(doc.Genres, content.GenreRef{ID: g.ID.String(), Name: g.Name})
	}
	return doc, nil
}

func GenreDocument(row content.GenreRow) (content.GenreDocument, error) {
	if row.ID == uuid.Nil {
		return content.GenreDocument{}, malformed(content.KindGenre, row.ID, "missing id")
	}
	if strings.TrimSpace(row.Name) == "" {
		return content.GenreDocument{}, malformed(content.KindGenre, row.ID, "empty name")
	}
	return content.GenreDocument{
		ID:          row.ID.String(),
		Name:        row.Name,
		Description: row.Description,
	}, nil
}

// PersonDocument groups the roles of a person per film work. Films are
// ordered by id and roles follow content.Roles.
func PersonDocument(row content.PersonRow) (content.PersonDocument, error) {
	if row.ID == uuid.Nil {
		return content.PersonDocument{}, malformed(content.KindPerson, row.ID, "missing id")
	}
	if strings.TrimSpace(row.FullName) == "" {
		return content.PersonDocument{}, malformed(content.KindPerson, row.ID, "empty full name")
	}

	roles := make(map[uuid.UUID][]content.Role)
	for _, f := range row.Films {
		if f.FilmWorkID == uuid.Nil {
			return content.PersonDocument{}, malformed(content.KindPerson, row.ID, "film without id")
		}
		if !f.Role.Valid() {
			return content.PersonDocument{}, malformed(content.KindPerson, row.ID, "unknown role "+string(f.Role))
		}
		if !slices.Contains(roles[f.FilmWorkID], f.Role) {
			roles[f.FilmWorkID] = append(roles[f.FilmWorkID], f.Role)
		}
	}

	films := make([]content.PersonFilm, 0, len(roles))
	for id, rs := range roles {
		slices.SortFunc(rs, func(a, b content.Role) int {
			return slices.Index(content.Roles, a) - slices.Index(content.Roles, b)
		})
		films = append(films, content.PersonFilm{ID: id.String(), Roles: rs})
	}
	slices.SortFunc(films, func(a, b content.PersonFilm) int {
		return strings.Compare(a.ID, b.ID)
	})

	return content.PersonDocument{
		ID:       row.ID.String(),
		FullName: row.FullName,
		Films:    films,
	}, nil
}

// NewMovies transforms staged film work rows into movie documents.
func NewMovies(policy Policy) *Transformer[content.FilmWorkRow, content.MovieDocument] {
	return New(content.KindFilmWork, staging.TopicMovieRows, staging.TopicMovieDocs, MovieDocument, policy)
}

func NewGenres(policy Policy) *Transformer[content.GenreRow, content.GenreDocument] {
	return New(content.KindGenre, staging.TopicGenreRows, staging.TopicGenreDocs, GenreDocument, policy)
}

func NewPersons(policy Policy) *Transformer[content.PersonRow, content.PersonDocument] {
	return New(content.KindPerson, staging.TopicPersonRows, staging.TopicPersonDocs, PersonDocument, policy)
}
