package extract

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/alena-kono/ugc-service-2/internal/etl/content"
	"github.com/alena-kono/ugc-service-2/internal/etl/pipeline"
	"github.com/alena-kono/ugc-service-2/internal/etl/staging"
	"github.com/alena-kono/ugc-service-2/pkg/postgres"
)

// DefaultBatchSize is the number of rows fetched per merge round.
const DefaultBatchSize = 50

// ScanFunc reads the current row of rows into an R.
type ScanFunc[R any] func(rows *sql.Rows) (R, error)

// MergeSpec configures a QueryMerger.
type MergeSpec[R any] struct {
	Kind   content.Kind
	Input  staging.Topic
	Output staging.Topic
	// Cursor names the server-side cursor; unique per merger within a
	// transaction.
	Cursor string
	// Query selects the denormalized rows of the keys bound to $1 as uuid[].
	Query     string
	Scan      ScanFunc[R]
	BatchSize int
}

// QueryMerger joins staged keys with their relations through a server-side
// cursor and stages the resulting rows one []R batch at a time.
type QueryMerger[R any] struct {
	spec   MergeSpec[R]
	logger *slog.Logger
}

func NewQueryMerger[R any](spec MergeSpec[R]) *QueryMerger[R] {
	if spec.BatchSize <= 0 {
		spec.BatchSize = DefaultBatchSize
	}
	return &QueryMerger[R]{
		spec:   spec,
		logger: slog.Default().With("component", "merger", "kind", spec.Kind),
	}
}

func (m *QueryMerger[R]) Merge(ctx context.Context, q postgres.Querier, ch *staging.Channel) (pipeline.Cursor, error) {
	keys, err := stagedKeys(ch, m.spec.Input)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	declare := fmt.Sprintf("DECLARE %s NO SCROLL CURSOR FOR %s", pq.QuoteIdentifier(m.spec.Cursor), m.spec.Query)
	if _, err := q.ExecContext(ctx, declare, pq.Array(keys)); err != nil {
		return nil, postgres.Classify(fmt.Sprintf("declaring %s cursor", m.spec.Kind), err)
	}
	m.logger.Debug("cursor opened", "keys", len(keys), "batch_size", m.spec.BatchSize)
	return &rowCursor[R]{
		merger: m,
		q:      q,
		ch:     ch,
		fetch:  fmt.Sprintf("FETCH FORWARD %d FROM %s", m.spec.BatchSize, pq.QuoteIdentifier(m.spec.Cursor)),
		close:  fmt.Sprintf("CLOSE %s", pq.QuoteIdentifier(m.spec.Cursor)),
	}, nil
}

type rowCursor[R any] struct {
	merger *QueryMerger[R]
	q      postgres.Querier
	ch     *staging.Channel
	fetch  string
	close  string
	done   bool
	closed bool
}

// Next fetches one batch. A batch shorter than the batch size exhausts the
// cursor, so N keys yield exactly ceil(N/size) staged batches.
func (c *rowCursor[R]) Next(ctx context.Context) (bool, error) {
	if c.done {
		return false, nil
	}
	batch, err := c.fetchBatch(ctx)
	if err != nil {
		return false, err
	}
	if len(batch) < c.merger.spec.BatchSize {
		c.done = true
		if err := c.Close(ctx); err != nil {
			return false, err
		}
	}
	if len(batch) == 0 {
		return false, nil
	}
	c.merger.logger.Debug("rows fetched", "count", len(batch))
	c.ch.Push(c.merger.spec.Output, batch)
	return true, nil
}

func (c *rowCursor[R]) fetchBatch(ctx context.Context) ([]R, error) {
	kind := c.merger.spec.Kind
	rows, err := c.q.QueryContext(ctx, c.fetch)
	if err != nil {
		return nil, postgres.Classify(fmt.Sprintf("fetching %s rows", kind), err)
	}
	defer rows.Close()

	batch := make([]R, 0, c.merger.spec.BatchSize)
	for rows.Next() {
		row, err := c.merger.spec.Scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", kind, err)
		}
		batch = append(batch, row)
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.Classify(fmt.Sprintf("reading %s rows", kind), err)
	}
	return batch, nil
}

func (c *rowCursor[R]) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.done = true
	if _, err := c.q.ExecContext(ctx, c.close); err != nil {
		return postgres.Classify(fmt.Sprintf("closing %s cursor", c.merger.spec.Kind), err)
	}
	return nil
}
