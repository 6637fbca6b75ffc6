package badgerstore

import (
	"context"
	"testing"

	"github.com/hupe1980/xweb/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ core.ResourceHandler = (*Handler)(nil)

func openInMemory(t *testing.T) *Handler {
	t.Helper()
	h, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestHandler_LoadSave(t *testing.T) {
	ctx := context.Background()
	h := openInMemory(t)

	loc, err := h.Resolve("models/a.mydsl")
	require.NoError(t, err)
	assert.Equal(t, "resource/models/a.mydsl", loc.Key)
	assert.Equal(t, "badger:///models/a.mydsl", loc.URI)

	_, err = h.Load(ctx, loc)
	assert.ErrorIs(t, err, core.ErrResourceNotFound)

	require.NoError(t, h.Save(ctx, loc, []byte("entity A {}")))
	data, err := h.Load(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, "entity A {}", string(data))

	ids, err := h.IDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"models/a.mydsl"}, ids)
}

func TestHandler_ResolveInvalid(t *testing.T) {
	h := openInMemory(t)
	_, err := h.Resolve("")
	assert.ErrorIs(t, err, core.ErrResourceNotFound)
}

func TestHandler_Persistent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	h, err := Open(Config{Dir: dir, SyncWrites: true})
	require.NoError(t, err)
	loc, err := h.Resolve("doc.txt")
	require.NoError(t, err)
	require.NoError(t, h.Save(ctx, loc, []byte("persisted")))
	require.NoError(t, h.Close())

	h, err = Open(Config{Dir: dir})
	require.NoError(t, err)
	defer h.Close()

	data, err := h.Load(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(data))
}

func TestOpen_RequiresDir(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestHandler_CancelledContext(t *testing.T) {
	h := openInMemory(t)
	loc, err := h.Resolve("doc.txt")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.Load(ctx, loc)
	assert.ErrorIs(t, err, core.ErrCancelled)
	assert.ErrorIs(t, h.Save(ctx, loc, nil), core.ErrCancelled)
}
