package storage

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlug(t *testing.T) {
	assert.Equal(t, "the-motley-fool", Slug("The Motley Fool"))
	assert.Equal(t, "sec-gov", Slug("SEC.gov"))
	assert.Equal(t, "unknown", Slug("  "))
	assert.Equal(t, "benzinga", Slug("Benzinga"))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "reuters/article-123", Key("Reuters", "article-123"))
}

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	key := Key("SEC.gov", "0001318605-26-000010")

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrObjectNotFound)

	require.NoError(t, store.Put(ctx, key, []byte("cleaned filing text")))

	exists, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("cleaned filing text"), data)

	require.NoError(t, store.Delete(ctx, key))
	exists, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	assert.Error(t, store.Put(context.Background(), "../outside", []byte("x")))
	assert.Error(t, store.Put(context.Background(), "/etc/passwd", []byte("x")))
}
