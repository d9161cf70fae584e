package local

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/charlievieth/fastwalk"

	"github.com/stardrive/stardrive/internal/logging"
	"github.com/stardrive/stardrive/internal/storage"
)

// DirectorySize sums the sizes of the non-hidden regular files below path.
// Hidden directories are not descended into and unreadable entries are
// skipped, so the result is a best-effort lower bound.
func (b *LocalBackend) DirectorySize(ctx context.Context, path string) (int64, error) {
	abs, err := resolve(b.root, path)
	if err != nil {
		return 0, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return 0, statError("directory size", path, err)
	}
	if !fi.IsDir() {
		return 0, storage.NewError("directory size", path, storage.ErrNotDirectory, nil)
	}

	var total atomic.Int64
	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, abs, func(p string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			if !errors.Is(err, fs.ErrPermission) {
				logging.Warn("directory size: skipping entry", logging.String("path", p), logging.Err(err))
			}
			return nil
		}
		if p == abs {
			return nil
		}
		if storage.IsHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		total.Add(info.Size())
		return nil
	})
	if err != nil {
		return total.Load(), storage.NewError("directory size", path, storage.ErrStorage, err)
	}
	return total.Load(), nil
}
