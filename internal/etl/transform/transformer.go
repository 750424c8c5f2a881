// Package transform projects denormalized rows into search documents.
package transform

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alena-kono/ugc-service-2/internal/etl/content"
	"github.com/alena-kono/ugc-service-2/internal/etl/pipeline"
	"github.com/alena-kono/ugc-service-2/internal/etl/staging"
	apperrors "github.com/alena-kono/ugc-service-2/pkg/errors"
)

// Policy decides what a malformed row does to its batch.
type Policy string

const (
	// Skip drops the row, logs it and keeps the rest of the batch.
	Skip Policy = "skip"
	// Abort fails the cycle so the watermark does not move.
	Abort Policy = "abort"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case Skip, Abort:
		return p, nil
	case "":
		return Skip, nil
	}
	return "", fmt.Errorf("unknown malformed row policy %q", s)
}

// MapFunc builds the document of one row. Errors matching
// errors.ErrMalformedRow are subject to the policy; any other error aborts.
type MapFunc[R any, D any] func(row R) (D, error)

// Transformer pops the latest staged []R batch and stages the matching []D.
type Transformer[R any, D any] struct {
	kind   content.Kind
	input  staging.Topic
	output staging.Topic
	mapFn  MapFunc[R, D]
	policy Policy
	logger *slog.Logger
}

func New[R any, D any](kind content.Kind, input, output staging.Topic, mapFn MapFunc[R, D], policy Policy) *Transformer[R, D] {
	return &Transformer[R, D]{
		kind:   kind,
		input:  input,
		output: output,
		mapFn:  mapFn,
		policy: policy,
		logger: slog.Default().With("component", "transformer", "kind", kind),
	}
}

func (t *Transformer[R, D]) Transform(ctx context.Context, ch *staging.Channel) (pipeline.TransformStats, error) {
	var stats pipeline.TransformStats
	batch, ok, err := staging.Pop[[]R](ch, t.input)
	if err != nil || !ok {
		return stats, err
	}
	stats.Rows = len(batch)

	docs := make([]D, 0, len(batch))
	for _, row := range batch {
		doc, err := t.mapFn(row)
		if err != nil {
			if t.policy == Abort || !apperrors.Is(err, apperrors.ErrMalformedRow) {
				return stats, fmt.Errorf("transforming %s batch: %w", t.kind, err)
			}
			stats.Skipped++
			t.logger.WarnContext(ctx, "skipping malformed row", "error", err)
			continue
		}
		docs = append(docs, doc)
	}
	stats.Documents = len(docs)
	ch.Push(t.output, docs)
	return stats, nil
}
