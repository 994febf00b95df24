package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, KeyToken)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, KeyToken, "abc"))
	require.NoError(t, s.Set(ctx, KeyToken, "def"))
	v, ok, err := s.Get(ctx, KeyToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "def", v)

	require.NoError(t, s.Delete(ctx, KeyToken))
	require.NoError(t, s.Delete(ctx, KeyToken))
	_, ok, err = s.Get(ctx, KeyToken)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInMemoryStore(t *testing.T) {
	exerciseStore(t, NewInMemoryStore())
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)
	exerciseStore(t, s)

	require.NoError(t, s.Set(context.Background(), KeyExpiresAt, "1700000000000"))
	require.NoError(t, s.Close())

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	v, ok, err := reopened.Get(context.Background(), KeyExpiresAt)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1700000000000", v)
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := NewFileStore(path)
	assert.Error(t, err)
}

func TestNewStoreFallbacks(t *testing.T) {
	s, err := NewStore(context.Background(), "", "")
	require.NoError(t, err)
	assert.IsType(t, &InMemoryStore{}, s)

	s, err = NewStore(context.Background(), " ", filepath.Join(t.TempDir(), "s.json"))
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("EDVOICE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("EDVOICE_TEST_DATABASE_URL not set")
	}
	s, err := NewPostgresStore(context.Background(), url)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Ping(context.Background()))
	exerciseStore(t, s)
}
