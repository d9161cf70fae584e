// Package local provides a local filesystem storage backend confined to a
// single root directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/stardrive/stardrive/internal/logging"
	"github.com/stardrive/stardrive/internal/storage"
)

const (
	// DefaultMaxSearchDepth is the BFS depth limit for searches.
	DefaultMaxSearchDepth = 5
	// DefaultMaxSearchResults caps the matches a single search produces.
	DefaultMaxSearchResults = 2000

	downloadChunkSize = 8 << 10
	tempPattern       = ".stardrive-*.tmp"
)

// Config holds local filesystem backend settings.
type Config struct {
	RootPath         string `mapstructure:"root_path" validate:"required"`
	CreateDirs       bool   `mapstructure:"create_dirs"`
	MaxSearchDepth   int    `mapstructure:"max_search_depth" validate:"gte=0"`
	MaxSearchResults int    `mapstructure:"max_search_results" validate:"gte=0"`
}

// LocalBackend implements storage.Backend using the local filesystem.
type LocalBackend struct {
	root       string
	platform   Platform
	maxDepth   int
	maxResults int
}

var (
	_ storage.Backend    = (*LocalBackend)(nil)
	_ storage.FullLister = (*LocalBackend)(nil)
)

// New creates a new local filesystem backend.
func New(cfg Config) (*LocalBackend, error) {
	if cfg.RootPath == "" {
		return nil, storage.NewError("init", "", storage.ErrConfiguration, errors.New("root_path is required"))
	}

	info, err := os.Stat(cfg.RootPath)
	if err != nil {
		if os.IsNotExist(err) && cfg.CreateDirs {
			if mkErr := os.MkdirAll(cfg.RootPath, 0755); mkErr != nil {
				return nil, storage.NewError("init", cfg.RootPath, storage.ErrConfiguration,
					fmt.Errorf("create root path: %w", mkErr))
			}
		} else {
			return nil, storage.NewError("init", cfg.RootPath, storage.ErrConfiguration, err)
		}
	} else if !info.IsDir() {
		return nil, storage.NewError("init", cfg.RootPath, storage.ErrConfiguration,
			errors.New("root path is not a directory"))
	}

	root, err := canonicalRoot(cfg.RootPath)
	if err != nil {
		return nil, storage.NewError("init", cfg.RootPath, storage.ErrConfiguration, err)
	}

	b := &LocalBackend{
		root:       root,
		platform:   detectPlatform(root),
		maxDepth:   cfg.MaxSearchDepth,
		maxResults: cfg.MaxSearchResults,
	}
	if b.maxDepth == 0 {
		b.maxDepth = DefaultMaxSearchDepth
	}
	if b.maxResults == 0 {
		b.maxResults = DefaultMaxSearchResults
	}

	logging.Info("local storage backend ready",
		logging.String("root", root),
		logging.String("platform", b.platform.String()))
	return b, nil
}

// Root returns the canonical root directory.
func (b *LocalBackend) Root() string { return b.root }

// Platform returns the timestamp semantics detected for the root.
func (b *LocalBackend) Platform() Platform { return b.platform }

// Probe checks that the root is still a readable directory.
func (b *LocalBackend) Probe(_ context.Context) error {
	f, err := os.Open(b.root)
	if err != nil {
		return storage.NewError("probe", b.root, storage.ErrConnection, err)
	}
	defer f.Close()
	if _, err := f.Readdirnames(1); err != nil && err != io.EOF {
		return storage.NewError("probe", b.root, storage.ErrConnection, err)
	}
	return nil
}

// Exists reports whether path exists.
func (b *LocalBackend) Exists(path string) (bool, error) {
	abs, err := resolve(b.root, path)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(abs); err != nil {
		return false, nil
	}
	return true, nil
}

// FullPath returns the canonical absolute path of an existing entry.
func (b *LocalBackend) FullPath(path string) (string, error) {
	abs, err := resolve(b.root, path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err != nil {
		return "", statError("full path", path, err)
	}
	return abs, nil
}

// Upload streams r into path through a temp file and renames it into place.
func (b *LocalBackend) Upload(ctx context.Context, r io.Reader, path string) (int64, error) {
	abs, err := resolve(b.root, path)
	if err != nil {
		return 0, err
	}
	if abs == b.root {
		return 0, storage.NewError("upload", path, storage.ErrIsDirectory, nil)
	}
	if fi, err := os.Stat(abs); err == nil && fi.IsDir() {
		return 0, storage.NewError("upload", path, storage.ErrIsDirectory, nil)
	}

	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, osError("upload", path, err)
	}

	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return 0, osError("upload", path, err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: r})
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return n, osError("upload", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return n, osError("upload", path, err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		os.Remove(tmpName)
		return n, osError("upload", path, err)
	}
	return n, nil
}

// Download opens a regular file. Reads return at most 8 KiB at a time.
func (b *LocalBackend) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	abs, err := resolve(b.root, path)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, statError("download", path, err)
	}
	if fi.IsDir() {
		return nil, storage.NewError("download", path, storage.ErrIsDirectory, nil)
	}
	if !fi.Mode().IsRegular() {
		return nil, storage.NewError("download", path, storage.ErrNotFound, errors.New("not a regular file"))
	}

	f, err := os.Open(abs)
	if err != nil {
		return nil, osError("download", path, err)
	}
	return &chunkReader{ctx: ctx, f: f}, nil
}

// DeleteFile removes a single file.
func (b *LocalBackend) DeleteFile(path string) error {
	abs, err := resolve(b.root, path)
	if err != nil {
		return err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return statError("delete file", path, err)
	}
	if fi.IsDir() {
		return storage.NewError("delete file", path, storage.ErrIsDirectory, nil)
	}
	if err := os.Remove(abs); err != nil {
		return osError("delete file", path, err)
	}
	return nil
}

// List returns the non-hidden entries of a directory sorted by name.
func (b *LocalBackend) List(path string) ([]storage.FileInfo, error) {
	return b.list("list", path, false)
}

// ListAll is List including hidden entries. Temporary files of uploads in
// progress are still left out.
func (b *LocalBackend) ListAll(path string) ([]storage.FileInfo, error) {
	return b.list("list all", path, true)
}

func (b *LocalBackend) list(op, path string, hidden bool) ([]storage.FileInfo, error) {
	abs, err := resolve(b.root, path)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, statError(op, path, err)
	}
	if !fi.IsDir() {
		return nil, storage.NewError(op, path, storage.ErrNotDirectory, nil)
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, osError(op, path, err)
	}

	out := make([]storage.FileInfo, 0, len(entries))
	for _, e := range entries {
		if storage.IsHidden(e.Name()) && (!hidden || isTemp(e.Name())) {
			continue
		}
		info, err := b.entryInfo(filepath.Join(abs, e.Name()), e)
		if err != nil {
			logging.Debug(op+": skipping entry",
				logging.String("path", path),
				logging.String("name", e.Name()),
				logging.Err(err))
			continue
		}
		out = append(out, *info)
	}
	return out, nil
}

func isTemp(name string) bool {
	ok, _ := filepath.Match(tempPattern, name)
	return ok
}

// CreateDirectory creates path and its parents. An existing directory is
// not an error; an existing file is.
func (b *LocalBackend) CreateDirectory(path string) error {
	abs, err := resolve(b.root, path)
	if err != nil {
		return err
	}
	if fi, err := os.Stat(abs); err == nil {
		if fi.IsDir() {
			return nil
		}
		return storage.NewError("create directory", path, storage.ErrExists, nil)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return osError("create directory", path, err)
	}
	return nil
}

// DeleteDirectory removes a directory recursively. The root cannot be removed.
func (b *LocalBackend) DeleteDirectory(path string) error {
	abs, err := resolve(b.root, path)
	if err != nil {
		return err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return statError("delete directory", path, err)
	}
	if !fi.IsDir() {
		return storage.NewError("delete directory", path, storage.ErrNotDirectory, nil)
	}
	if abs == b.root {
		return storage.NewError("delete directory", path, storage.ErrPermission, errors.New("cannot remove storage root"))
	}
	if err := os.RemoveAll(abs); err != nil {
		return osError("delete directory", path, err)
	}
	return nil
}

// Move renames src to dst, creating the parent directories of dst.
func (b *LocalBackend) Move(src, dst string) error {
	srcAbs, err := resolve(b.root, src)
	if err != nil {
		return err
	}
	dstAbs, err := resolve(b.root, dst)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(srcAbs); err != nil {
		return statError("move", src, err)
	}
	if srcAbs == b.root || dstAbs == b.root {
		return storage.NewError("move", src, storage.ErrPermission, errors.New("cannot move storage root"))
	}
	if err := os.MkdirAll(filepath.Dir(dstAbs), 0755); err != nil {
		return osError("move", dst, err)
	}
	if err := os.Rename(srcAbs, dstAbs); err != nil {
		return osError("move", src, err)
	}
	return nil
}

// Copy copies a regular file, keeping its mode and modification time.
func (b *LocalBackend) Copy(src, dst string) error {
	srcAbs, err := resolve(b.root, src)
	if err != nil {
		return err
	}
	dstAbs, err := resolve(b.root, dst)
	if err != nil {
		return err
	}
	fi, err := os.Stat(srcAbs)
	if err != nil {
		return statError("copy", src, err)
	}
	if !fi.Mode().IsRegular() {
		return storage.NewError("copy", src, storage.ErrNotFound, errors.New("source is not a regular file"))
	}
	if dfi, err := os.Stat(dstAbs); err == nil && dfi.IsDir() {
		return storage.NewError("copy", dst, storage.ErrIsDirectory, nil)
	}

	dir := filepath.Dir(dstAbs)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return osError("copy", dst, err)
	}

	in, err := os.Open(srcAbs)
	if err != nil {
		return osError("copy", src, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return osError("copy", dst, err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return osError("copy", dst, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return osError("copy", dst, err)
	}
	if err := os.Chmod(tmpName, fi.Mode().Perm()); err != nil {
		os.Remove(tmpName)
		return osError("copy", dst, err)
	}
	if err := os.Chtimes(tmpName, fi.ModTime(), fi.ModTime()); err != nil {
		os.Remove(tmpName)
		return osError("copy", dst, err)
	}
	if err := os.Rename(tmpName, dstAbs); err != nil {
		os.Remove(tmpName)
		return osError("copy", dst, err)
	}
	return nil
}

// Stat returns the metadata of a single entry.
func (b *LocalBackend) Stat(path string) (*storage.FileInfo, error) {
	abs, err := resolve(b.root, path)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, statError("stat", path, err)
	}
	return b.fileInfo(abs, fi), nil
}

// Type returns "local".
func (b *LocalBackend) Type() string { return "local" }

// Close is a no-op for local backends.
func (b *LocalBackend) Close() error { return nil }

// entryInfo builds metadata for a directory entry, following symlinks only
// while they stay inside the root.
func (b *LocalBackend) entryInfo(abs string, e fs.DirEntry) (*storage.FileInfo, error) {
	if e.Type()&fs.ModeSymlink != 0 {
		target, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return nil, err
		}
		if !within(b.root, target) {
			return nil, storage.NewError("stat", relPath(b.root, abs), storage.ErrPathTraversal, nil)
		}
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	info := b.fileInfo(abs, fi)
	info.Symlink = e.Type()&fs.ModeSymlink != 0
	info.Name = e.Name()
	info.Path = relPath(b.root, abs)
	if info.Type == storage.TypeFile {
		info.Extension = extension(e.Name())
	}
	return info, nil
}

func (b *LocalBackend) fileInfo(abs string, fi fs.FileInfo) *storage.FileInfo {
	info := &storage.FileInfo{
		Name:       filepath.Base(abs),
		Path:       relPath(b.root, abs),
		Timestamps: ParseStat(rawStat(abs, fi), b.platform),
	}
	if fi.IsDir() {
		info.Type = storage.TypeDir
		n := countVisible(abs)
		info.NumChildren = &n
		return info
	}
	info.Type = storage.TypeFile
	info.Size = fi.Size()
	info.Extension = extension(info.Name)
	return info
}

// extension returns the final suffix including the dot. Dotfiles without a
// further suffix and names ending in a dot have none.
func extension(name string) string {
	ext := filepath.Ext(name)
	if ext == name || ext == "." {
		return ""
	}
	return ext
}

func countVisible(dir string) int {
	f, err := os.Open(dir)
	if err != nil {
		return 0
	}
	defer f.Close()
	names, _ := f.Readdirnames(-1)
	n := 0
	for _, name := range names {
		if !storage.IsHidden(name) {
			n++
		}
	}
	return n
}

// statError is osError for the stat that looks a path up: a component that
// is not a directory means the path does not exist.
func statError(op, path string, err error) error {
	if errors.Is(err, syscall.ENOTDIR) {
		return storage.NewError(op, path, storage.ErrNotFound, err)
	}
	return osError(op, path, err)
}

// osError maps an OS error onto a storage error kind, keeping the cause.
func osError(op, path string, err error) error {
	var kind error
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return storage.NewError(op, path, storage.ErrStorage, err)
	case errors.Is(err, fs.ErrNotExist):
		kind = storage.ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		kind = storage.ErrPermission
	case errors.Is(err, fs.ErrExist):
		kind = storage.ErrExists
	case errors.Is(err, syscall.EISDIR):
		kind = storage.ErrIsDirectory
	case errors.Is(err, syscall.ENOTDIR):
		kind = storage.ErrNotDirectory
	}
	return storage.NewError(op, path, kind, err)
}

// ctxReader stops an upload once its context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// chunkReader hands out a file in bounded chunks.
type chunkReader struct {
	ctx context.Context
	f   *os.File
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	if len(p) > downloadChunkSize {
		p = p[:downloadChunkSize]
	}
	return c.f.Read(p)
}

func (c *chunkReader) Close() error {
	return c.f.Close()
}
