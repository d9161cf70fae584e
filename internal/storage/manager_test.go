package storage_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stardrive/stardrive/internal/storage"
	"github.com/stardrive/stardrive/internal/storage/local"
)

func newLocal(t *testing.T) *local.LocalBackend {
	t.Helper()
	b, err := local.New(local.Config{RootPath: t.TempDir()})
	require.NoError(t, err)
	return b
}

func newManager(t *testing.T, opts ...storage.Option) (*storage.Manager, *local.LocalBackend) {
	t.Helper()
	b := newLocal(t)
	m := storage.NewManager(opts...)
	require.NoError(t, m.Register("local", b))
	require.NoError(t, m.SetActive("local"))
	t.Cleanup(func() { m.Close() })
	return m, b
}

func put(t *testing.T, b *local.LocalBackend, rel, content string) {
	t.Helper()
	abs := filepath.Join(b.Root(), filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0644))
}

// probeFailing is a backend whose health check always fails.
type probeFailing struct {
	storage.Backend
}

func (probeFailing) Probe(context.Context) error { return errors.New("unreachable") }
func (probeFailing) Type() string                { return "broken" }

func TestManagerWithoutActiveBackend(t *testing.T) {
	m := storage.NewManager()

	_, err := m.Active()
	assert.ErrorIs(t, err, storage.ErrBackendNotFound)
	_, err = m.List("")
	assert.ErrorIs(t, err, storage.ErrBackendNotFound)
	_, err = m.StreamArchive(context.Background(), storage.Selection{Paths: []string{"a"}}, "")
	assert.ErrorIs(t, err, storage.ErrBackendNotFound)
	assert.Equal(t, "", m.Type())
	assert.Equal(t, "", m.ActiveName())
}

func TestManagerRegister(t *testing.T) {
	m := storage.NewManager()
	b := newLocal(t)

	assert.ErrorIs(t, m.Register("", b), storage.ErrConfiguration)
	assert.ErrorIs(t, m.Register("x", nil), storage.ErrConfiguration)
	assert.ErrorIs(t, m.Register("broken", probeFailing{}), storage.ErrConfiguration)

	require.NoError(t, m.Register("primary", b))
	assert.ErrorIs(t, m.Register("primary", newLocal(t)), storage.ErrBackendExists)
	require.NoError(t, m.Register("archive", newLocal(t)))

	assert.Equal(t, []string{"archive", "primary"}, m.Names())
}

func TestManagerSetActive(t *testing.T) {
	m := storage.NewManager()
	first, second := newLocal(t), newLocal(t)
	require.NoError(t, m.Register("first", first))
	require.NoError(t, m.Register("second", second))

	assert.ErrorIs(t, m.SetActive("third"), storage.ErrBackendNotFound)

	require.NoError(t, m.SetActive("first"))
	_, err := m.Upload(context.Background(), strings.NewReader("one"), "f.txt")
	require.NoError(t, err)

	require.NoError(t, m.SetActive("second"))
	assert.Equal(t, "second", m.ActiveName())
	ok, err := m.Exists("f.txt")
	require.NoError(t, err)
	assert.False(t, ok, "operations follow the active backend")

	active, err := m.Active()
	require.NoError(t, err)
	assert.Same(t, second, active)
	assert.Equal(t, "local", m.Type())
}

func TestManagerProxiesOperations(t *testing.T) {
	m, b := newManager(t)
	ctx := context.Background()

	_, err := m.Upload(ctx, strings.NewReader("hello"), "dir/a.txt")
	require.NoError(t, err)
	require.NoError(t, m.Copy("dir/a.txt", "dir/b.txt"))
	require.NoError(t, m.Move("dir/b.txt", "c.txt"))
	require.NoError(t, m.CreateDirectory("empty"))

	entries, err := m.List("")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "c.txt", entries[0].Name)

	info, err := m.Stat("dir/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)

	size, err := m.DirectorySize(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)

	found, err := m.Search(ctx, ".txt", storage.SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	seq, err := m.SearchIter(ctx, "a", storage.SearchOptions{})
	require.NoError(t, err)
	var lazy []string
	for fi := range seq {
		lazy = append(lazy, fi.Path)
	}
	assert.Equal(t, []string{"dir/a.txt"}, lazy)

	full, err := m.FullPath("c.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(b.Root(), "c.txt"), full)

	require.NoError(t, m.DeleteFile("c.txt"))
	require.NoError(t, m.DeleteDirectory("dir"))
	ok, err := m.Exists("dir/a.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManagerClose(t *testing.T) {
	m, _ := newManager(t)
	require.NoError(t, m.Close())
	assert.Empty(t, m.Names())
	_, err := m.Active()
	assert.ErrorIs(t, err, storage.ErrBackendNotFound)
}
