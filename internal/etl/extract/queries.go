package extract

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/alena-kono/ugc-service-2/internal/etl/content"
	"github.com/alena-kono/ugc-service-2/internal/etl/staging"
)

const filmWorkQuery = `SELECT
	fw.id,
	fw.title,
	fw.description,
	fw.rating,
	fw.type,
	fw.created,
	fw.modified,
	COALESCE(
		json_agg(DISTINCT jsonb_build_object('genre_id', g.id, 'genre_name', g.name))
			FILTER (WHERE g.id IS NOT NULL),
		'[]'
	) AS genres,
	COALESCE(
		json_agg(DISTINCT jsonb_build_object('person_id', p.id, 'person_name', p.full_name, 'person_role', pfw.role))
			FILTER (WHERE p.id IS NOT NULL),
		'[]'
	) AS persons
FROM %[1]s AS fw
LEFT JOIN %[2]s AS pfw ON pfw.film_work_id = fw.id
LEFT JOIN %[3]s AS p ON p.id = pfw.person_id
LEFT JOIN %[4]s AS gfw ON gfw.film_work_id = fw.id
LEFT JOIN %[5]s AS g ON g.id = gfw.genre_id
WHERE fw.id = ANY($1::uuid[])
GROUP BY fw.id
ORDER BY fw.modified`

const genreQuery = `SELECT g.id, g.name, g.description, g.modified
FROM %[1]s AS g
WHERE g.id = ANY($1::uuid[])
ORDER BY g.modified`

const personQuery = `SELECT
	p.id,
	p.full_name,
	p.modified,
	COALESCE(
		json_agg(DISTINCT jsonb_build_object('film_work_id', pfw.film_work_id, 'role', pfw.role))
			FILTER (WHERE pfw.film_work_id IS NOT NULL),
		'[]'
	) AS films
FROM %[1]s AS p
LEFT JOIN %[2]s AS pfw ON pfw.person_id = p.id
WHERE p.id = ANY($1::uuid[])
GROUP BY p.id
ORDER BY p.modified`

// NewFilmWorkMerger merges staged film work ids with their genres and
// participants.
func NewFilmWorkMerger(schema string, batchSize int) *QueryMerger[content.FilmWorkRow] {
	return NewQueryMerger(MergeSpec[content.FilmWorkRow]{
		Kind:   content.KindFilmWork,
		Input:  staging.TopicFilmIDs,
		Output: staging.TopicMovieRows,
		Cursor: "movies_rows_cursor",
		Query: fmt.Sprintf(filmWorkQuery,
			qualified(schema, "film_work"),
			qualified(schema, "person_film_work"),
			qualified(schema, "person"),
			qualified(schema, "genre_film_work"),
			qualified(schema, "genre"),
		),
		Scan:      ScanFilmWork,
		BatchSize: batchSize,
	})
}

func NewGenreMerger(schema string, batchSize int) *QueryMerger[content.GenreRow] {
	return NewQueryMerger(MergeSpec[content.GenreRow]{
		Kind:      content.KindGenre,
		Input:     staging.TopicGenreIDs,
		Output:    staging.TopicGenreRows,
		Cursor:    "genres_rows_cursor",
		Query:     fmt.Sprintf(genreQuery, qualified(schema, "genre")),
		Scan:      ScanGenre,
		BatchSize: batchSize,
	})
}

// NewPersonMerger merges staged person ids with the film works and roles of
// each person.
func NewPersonMerger(schema string, batchSize int) *QueryMerger[content.PersonRow] {
	return NewQueryMerger(MergeSpec[content.PersonRow]{
		Kind:   content.KindPerson,
		Input:  staging.TopicPersonIDs,
		Output: staging.TopicPersonRows,
		Cursor: "persons_rows_cursor",
		Query: fmt.Sprintf(personQuery,
			qualified(schema, "person"),
			qualified(schema, "person_film_work"),
		),
		Scan:      ScanPerson,
		BatchSize: batchSize,
	})
}

func ScanFilmWork(rows *sql.Rows) (content.FilmWorkRow, error) {
	var (
		row             content.FilmWorkRow
		description     sql.NullString
		rating          sql.NullFloat64
		filmType        sql.NullString
		genres, persons []byte
	)
	if err := rows.Scan(&row.ID, &row.Title, &description, &rating, &filmType, &row.Created, &row.Modified, &genres, &persons); err != nil {
		return row, err
	}
	if description.Valid {
		row.Description = &description.String
	}
	if rating.Valid {
		row.Rating = &rating.Float64
	}
	row.Type = filmType.String
	if err := json.Unmarshal(genres, &row.Genres); err != nil {
		return row, fmt.Errorf("decoding genres of %s: %w", row.ID, err)
	}
	if err := json.Unmarshal(persons, &row.Persons); err != nil {
		return row, fmt.Errorf("decoding persons of %s: %w", row.ID, err)
	}
	return row, nil
}

func ScanGenre(rows *sql.Rows) (content.GenreRow, error) {
	var (
		row         content.GenreRow
		description sql.NullString
	)
	if err := rows.Scan(&row.ID, &row.Name, &description, &row.Modified); err != nil {
		return row, err
	}
	if description.Valid {
		row.Description = &description.String
	}
	return row, nil
}

func ScanPerson(rows *sql.Rows) (content.PersonRow, error) {
	var (
		row   content.PersonRow
		films []byte
	)
	if err := rows.Scan(&row.ID, &row.FullName, &row.Modified, &films); err != nil {
		return row, err
	}
	if err := json.Unmarshal(films, &row.Films); err != nil {
		return row, fmt.Errorf("decoding films of %s: %w", row.ID, err)
	}
	return row, nil
}
