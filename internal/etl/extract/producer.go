package extract

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alena-kono/ugc-service-2/internal/etl/content"
	"github.com/alena-kono/ugc-service-2/internal/etl/staging"
	"github.com/alena-kono/ugc-service-2/pkg/postgres"
)

// TableProducer stages the ids of table rows modified after the watermark.
type TableProducer struct {
	kind   content.Kind
	output staging.Topic
	query  string
	logger *slog.Logger
}

func NewTableProducer(kind content.Kind, schema, table string, output staging.Topic) *TableProducer {
	return &TableProducer{
		kind:   kind,
		output: output,
		query:  fmt.Sprintf(`SELECT id FROM %s WHERE modified > $1 ORDER BY modified`, qualified(schema, table)),
		logger: slog.Default().With("component", "producer", "kind", kind),
	}
}

func (p *TableProducer) Produce(ctx context.Context, q postgres.Querier, ch *staging.Channel) (int, error) {
	mark, err := ch.Watermark()
	if err != nil {
		return 0, err
	}
	rows, err := q.QueryContext(ctx, p.query, mark)
	if err != nil {
		return 0, postgres.Classify(fmt.Sprintf("selecting modified %s ids", p.kind), err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("scanning %s id: %w", p.kind, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return 0, postgres.Classify(fmt.Sprintf("reading modified %s ids", p.kind), err)
	}

	p.logger.Debug("modified keys found", "count", len(ids), "since", mark)
	if len(ids) > 0 {
		ch.Push(p.output, ids)
	}
	return len(ids), nil
}
