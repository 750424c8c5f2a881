// Package index writes documents to the search cluster.
package index

import "context"

// Action is one document to upsert under an explicit id.
type Action struct {
	ID  string
	Doc any
}

// Index is the search index surface the loaders need.
type Index interface {
	// EnsureIndex creates name with mapping. An existing index is success.
	EnsureIndex(ctx context.Context, name string, mapping []byte) error
	// Bulk upserts actions into name in one request.
	Bulk(ctx context.Context, name string, actions []Action) error
}
