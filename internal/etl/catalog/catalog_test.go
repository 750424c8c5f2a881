package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alena-kono/ugc-service-2/internal/etl/content"
	"github.com/alena-kono/ugc-service-2/internal/etl/index"
	"github.com/alena-kono/ugc-service-2/internal/etl/load"
	"github.com/alena-kono/ugc-service-2/internal/etl/transform"
)

func TestMoviesEntries(t *testing.T) {
	idx := index.NewMemory()

	entries, err := Movies(idx, Options{Schema: "content", BatchSize: 50, Policy: transform.Skip})
	require.NoError(t, err)

	kinds := make([]content.Kind, 0, len(entries))
	for _, e := range entries {
		kinds = append(kinds, e.Kind)
		assert.NotNil(t, e.Producer, e.Kind)
		assert.NotNil(t, e.Merger, e.Kind)
		assert.NotNil(t, e.Transformer, e.Kind)
		require.NotNil(t, e.Loader, e.Kind)
		require.NoError(t, e.Loader.LoadSchema(context.Background()))
	}
	assert.Equal(t, []content.Kind{content.KindFilmWork, content.KindGenre, content.KindPerson}, kinds)
	assert.Len(t, entries[0].Enrichers, 2)
	assert.Equal(t, []string{load.IndexGenres, load.IndexMovies, load.IndexPersons}, idx.Indexes())
}
