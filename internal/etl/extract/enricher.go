package extract

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/alena-kono/ugc-service-2/internal/etl/staging"
	"github.com/alena-kono/ugc-service-2/pkg/postgres"
)

// JunctionSpec describes how a dependency kind links to film works.
type JunctionSpec struct {
	Schema string
	// Table is the junction table, e.g. person_film_work.
	Table string
	// KeyColumn references the dependency kind, e.g. person_id.
	KeyColumn string
	Input     staging.Topic
	Output    staging.Topic
}

// JunctionEnricher stages the film works linked to staged dependency keys,
// so a renamed genre or person reaches every movie document embedding it.
type JunctionEnricher struct {
	spec   JunctionSpec
	query  string
	logger *slog.Logger
}

func NewJunctionEnricher(spec JunctionSpec) *JunctionEnricher {
	query := fmt.Sprintf(`SELECT DISTINCT fw.id, fw.modified
FROM %s AS fw
JOIN %s AS j ON j.film_work_id = fw.id
WHERE j.%s = ANY($1::uuid[])
ORDER BY fw.modified`,
		qualified(spec.Schema, "film_work"),
		qualified(spec.Schema, spec.Table),
		pq.QuoteIdentifier(spec.KeyColumn),
	)
	return &JunctionEnricher{
		spec:   spec,
		query:  query,
		logger: slog.Default().With("component", "enricher", "junction", spec.Table),
	}
}

func (e *JunctionEnricher) Enrich(ctx context.Context, q postgres.Querier, ch *staging.Channel) (int, error) {
	keys, err := stagedKeys(ch, e.spec.Input)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	rows, err := q.QueryContext(ctx, e.query, pq.Array(keys))
	if err != nil {
		return 0, postgres.Classify("selecting film works via "+e.spec.Table, err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var (
			id       string
			modified any
		)
		if err := rows.Scan(&id, &modified); err != nil {
			return 0, fmt.Errorf("scanning film work id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return 0, postgres.Classify("reading film works via "+e.spec.Table, err)
	}

	e.logger.Debug("dependent keys found", "input", len(keys), "found", len(ids))
	if len(ids) > 0 {
		ch.Push(e.spec.Output, ids)
	}
	return len(ids), nil
}
