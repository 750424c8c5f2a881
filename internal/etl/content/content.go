// Package content describes the entities of the movies catalogue as they are
// read from the relational store and as they are written to the search index.
package content

import (
	"time"

	"github.com/google/uuid"
)

// Kind is an entity kind that gets re-indexed as a unit.
type Kind string

const (
	KindFilmWork Kind = "film_work"
	KindGenre    Kind = "genre"
	KindPerson   Kind = "person"
)

// Role is a person's participation in a film work.
type Role string

const (
	RoleActor    Role = "actor"
	RoleDirector Role = "director"
	RoleWriter   Role = "writer"
)

// Roles lists every known role in document order.
var Roles = []Role{RoleActor, RoleDirector, RoleWriter}

func (r Role) Valid() bool {
	switch r {
	case RoleActor, RoleDirector, RoleWriter:
		return true
	}
	return false
}

// GenreRel is one genre of a film work row.
type GenreRel struct {
	ID   uuid.UUID `json:"genre_id"`
	Name string    `json:"genre_name"`
}

// PersonRel is one participant of a film work row.
type PersonRel struct {
	ID   uuid.UUID `json:"person_id"`
	Name string    `json:"person_name"`
	Role Role      `json:"person_role"`
}

// FilmRole is one film work a person took part in, with one role.
type FilmRole struct {
	FilmWorkID uuid.UUID `json:"film_work_id"`
	Role       Role      `json:"role"`
}

// FilmWorkRow is a film work joined with its genres and participants.
type FilmWorkRow struct {
	ID          uuid.UUID
	Title       string
	Description *string
	Rating      *float64
	Type        string
	Created     time.Time
	Modified    time.Time
	Genres      []GenreRel
	Persons     []PersonRel
}

type GenreRow struct {
	ID          uuid.UUID
	Name        string
	Description *string
	Modified    time.Time
}

// PersonRow is a person joined with the film works they took part in.
type PersonRow struct {
	ID       uuid.UUID
	FullName string
	Modified time.Time
	Films    []FilmRole
}

// PersonRef is a participant nested in a movie document.
type PersonRef struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
}

// GenreRef is a genre nested in a movie document.
type GenreRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MovieDocument is a document of the movies index.
type MovieDocument struct {
	ID             string      `json:"id"`
	IMDBRating     *float64    `json:"imdb_rating"`
	Title          string      `json:"title"`
	Description    *string     `json:"description"`
	ActorsNames    []string    `json:"actors_names"`
	WritersNames   []string    `json:"writers_names"`
	DirectorsNames []string    `json:"directors_names"`
	Actors         []PersonRef `json:"actors"`
	Writers        []PersonRef `json:"writers"`
	Directors      []PersonRef `json:"directors"`
	Genres         []GenreRef  `json:"genres"`
}

func (d MovieDocument) DocumentID() string { return d.ID }

// GenreDocument is a document of the genres index.
type GenreDocument struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

func (d GenreDocument) DocumentID() string { return d.ID }

// PersonFilm is a film work nested in a person document.
type PersonFilm struct {
	ID    string `json:"id"`
	Roles []Role `json:"roles"`
}

// PersonDocument is a document of the persons index.
type PersonDocument struct {
	ID       string       `json:"id"`
	FullName string       `json:"full_name"`
	Films    []PersonFilm `json:"films"`
}

func (d PersonDocument) DocumentID() string { return d.ID }

// Document is anything that can be written to the index under a stable id.
type Document interface {
	DocumentID() string
}
