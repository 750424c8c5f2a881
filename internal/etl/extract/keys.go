// Package extract reads changed keys and denormalized rows from the
// relational store into the staging channel.
package extract

import (
	"fmt"
	"slices"

	"github.com/lib/pq"

	"github.com/alena-kono/ugc-service-2/internal/etl/staging"
)

// stagedKeys flattens every key list staged under topic, dropping duplicates.
// The result is sorted so identical inputs give identical queries.
func stagedKeys(ch *staging.Channel, topic staging.Topic) ([]string, error) {
	lists, err := staging.Items[[]string](ch, topic)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	keys := make([]string, 0)
	for _, list := range lists {
		for _, key := range list {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func qualified(schema, table string) string {
	if schema == "" {
		return pq.QuoteIdentifier(table)
	}
	return fmt.Sprintf("%s.%s", pq.QuoteIdentifier(schema), pq.QuoteIdentifier(table))
}
