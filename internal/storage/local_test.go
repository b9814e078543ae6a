package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreWriteReadChunk(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	transferID := uuid.New()

	has, err := store.HasChunk(ctx, transferID, 0)
	require.NoError(t, err)
	assert.False(t, has)

	payload := []byte("bytes cifrados do chunk zero")
	require.NoError(t, store.WriteChunk(ctx, transferID, 0, payload))

	has, err = store.HasChunk(ctx, transferID, 0)
	require.NoError(t, err)
	assert.True(t, has)

	data, err := store.ReadChunk(ctx, transferID, 0)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestLocalStoreReadMissingChunk(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.ReadChunk(context.Background(), uuid.New(), 3)
	assert.True(t, errors.Is(err, ErrChunkNotFound))
}

func TestLocalStoreEnsureTransfer(t *testing.T) {
	baseDir := t.TempDir()
	store, err := NewLocalStore(baseDir)
	require.NoError(t, err)

	transferID := uuid.New()
	path, err := store.EnsureTransfer(context.Background(), transferID)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(baseDir, transferID.String()), path)
	assert.DirExists(t, path)
}

func TestLocalStoreDeleteTransfer(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	transferID := uuid.New()

	require.NoError(t, store.WriteChunk(ctx, transferID, 0, []byte("a")))
	require.NoError(t, store.WriteChunk(ctx, transferID, 1, []byte("b")))

	require.NoError(t, store.DeleteTransfer(ctx, transferID))

	has, err := store.HasChunk(ctx, transferID, 0)
	require.NoError(t, err)
	assert.False(t, has)

	// Idempotente: remover de novo não é erro
	require.NoError(t, store.DeleteTransfer(ctx, transferID))
}

func TestLocalStoreListAreas(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()

	areas, err := store.ListAreas(ctx)
	require.NoError(t, err)
	assert.Empty(t, areas)

	first := uuid.New()
	second := uuid.New()
	require.NoError(t, store.WriteChunk(ctx, first, 0, []byte("a")))
	require.NoError(t, store.WriteChunk(ctx, second, 0, []byte("b")))

	areas, err = store.ListAreas(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{first.String(), second.String()}, areas)

	require.NoError(t, store.DeleteArea(ctx, first.String()))

	areas, err = store.ListAreas(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{second.String()}, areas)
}
