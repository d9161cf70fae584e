// Package storage defines the Backend interface for file storage and the
// Manager that routes operations to the active backend and streams archives.
package storage

import (
	"context"
	"io"
)

// Backend is the interface for file storage backends.
// Paths are relative to the backend root; a leading "/" is ignored.
// Implementations must confine every path to their root.
type Backend interface {
	// Exists reports whether path exists. It only fails on invalid or
	// escaping paths.
	Exists(path string) (bool, error)

	// FullPath returns the canonical absolute location of an existing path.
	FullPath(path string) (string, error)

	// Upload writes r to path, replacing any existing file, and returns
	// the number of bytes written.
	Upload(ctx context.Context, r io.Reader, path string) (int64, error)

	// Download opens a file for streaming.
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// DeleteFile removes a single file.
	DeleteFile(path string) error

	// List returns the non-hidden direct entries of a directory.
	List(path string) ([]FileInfo, error)

	// CreateDirectory creates path and missing parents. It is idempotent.
	CreateDirectory(path string) error

	// DeleteDirectory removes a directory and everything below it.
	DeleteDirectory(path string) error

	// Move renames src to dst, creating the parents of dst.
	Move(src, dst string) error

	// Copy copies a regular file from src to dst, creating the parents of dst.
	Copy(src, dst string) error

	// Stat returns the metadata of a single entry.
	Stat(path string) (*FileInfo, error)

	// DirectorySize sums the sizes of non-hidden regular files below path.
	DirectorySize(ctx context.Context, path string) (int64, error)

	// Search returns a page of entries whose names contain query.
	Search(ctx context.Context, query string, opts SearchOptions) ([]FileInfo, error)

	// Type returns the backend type identifier ("local").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}

// Prober is implemented by backends that can verify their configuration.
// The Manager probes a backend when it is registered.
type Prober interface {
	Probe(ctx context.Context) error
}

// FullLister is implemented by backends that can also list hidden entries.
// Archives use it so that dotfiles inside a selected directory are kept.
type FullLister interface {
	ListAll(path string) ([]FileInfo, error)
}
