// Package checkpoint persists the watermark: the time up to which the search
// index is known to reflect the relational store.
package checkpoint

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/alena-kono/ugc-service-2/pkg/errors"
	"github.com/alena-kono/ugc-service-2/pkg/resilience"
)

// Epoch is the watermark of a store that has never been written, so a first
// run resynchronizes everything.
var Epoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Store reads and writes the single watermark.
type Store interface {
	Read(ctx context.Context) (time.Time, error)
	Write(ctx context.Context, mark time.Time) error
	// Reset forgets the watermark; the next Read returns Epoch.
	Reset(ctx context.Context) error
}

// Key is the name the watermark is stored under for prefix.
func Key(prefix string) string {
	if prefix == "" {
		return "etl_last_checkup"
	}
	return prefix + "_etl_last_checkup"
}

const legacyLayout = "2006-01-02 15:04:05.999999"

func format(mark time.Time) string {
	return mark.UTC().Format(time.RFC3339Nano)
}

func parse(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if mark, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return mark.UTC(), nil
	}
	mark, err := time.ParseInLocation(legacyLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, apperrors.InvalidData("parsing watermark", fmt.Errorf("%q: %w", raw, err))
	}
	return mark, nil
}

type backoffStore struct {
	store   Store
	backoff *resilience.Backoff
}

// WithBackoff retries transient failures of every store call.
func WithBackoff(store Store, backoff *resilience.Backoff) Store {
	return &backoffStore{store: store, backoff: backoff}
}

func (s *backoffStore) Read(ctx context.Context) (time.Time, error) {
	var mark time.Time
	err := s.backoff.Do(ctx, "checkpoint read", func(ctx context.Context) error {
		var err error
		mark, err = s.store.Read(ctx)
		return err
	})
	return mark, err
}

func (s *backoffStore) Write(ctx context.Context, mark time.Time) error {
	return s.backoff.Do(ctx, "checkpoint write", func(ctx context.Context) error {
		return s.store.Write(ctx, mark)
	})
}

func (s *backoffStore) Reset(ctx context.Context) error {
	return s.backoff.Do(ctx, "checkpoint reset", func(ctx context.Context) error {
		return s.store.Reset(ctx)
	})
}
