package local

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stardrive/stardrive/internal/storage"
)

func TestDirectorySize(t *testing.T) {
	b := newTestBackend(t)
	writeFile(t, b, "a.bin", strings.Repeat("a", 10))
	writeFile(t, b, "sub/b.bin", strings.Repeat("b", 20))
	writeFile(t, b, "sub/deeper/c.bin", strings.Repeat("c", 30))
	writeFile(t, b, ".hidden", strings.Repeat("h", 100))
	writeFile(t, b, ".cache/big.bin", strings.Repeat("x", 1000))
	writeFile(t, b, "sub/.skip", strings.Repeat("s", 500))

	size, err := b.DirectorySize(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(60), size)

	size, err = b.DirectorySize(context.Background(), "sub")
	require.NoError(t, err)
	assert.Equal(t, int64(50), size)
}

func TestDirectorySizeEmpty(t *testing.T) {
	b := newTestBackend(t)
	require.NoError(t, b.CreateDirectory("empty"))

	size, err := b.DirectorySize(context.Background(), "empty")
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestDirectorySizeErrors(t *testing.T) {
	b := newTestBackend(t)
	writeFile(t, b, "a.bin", "x")

	_, err := b.DirectorySize(context.Background(), "a.bin")
	assert.ErrorIs(t, err, storage.ErrNotDirectory)

	_, err = b.DirectorySize(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = b.DirectorySize(context.Background(), "../..")
	assert.ErrorIs(t, err, storage.ErrPathTraversal)
}
