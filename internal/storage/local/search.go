package local

import (
	"context"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/stardrive/stardrive/internal/logging"
	"github.com/stardrive/stardrive/internal/storage"
)

type searchNode struct {
	abs   string
	depth int
}

// SearchIter returns a lazy breadth-first search for entries whose names
// contain query. The start directory is depth 0 and entries directly inside
// it are depth 1. A directory is only enumerated while its depth is below
// the depth limit, and the sequence ends after the result limit.
// Errors about the start directory are reported before iteration begins.
func (b *LocalBackend) SearchIter(ctx context.Context, query string, opts storage.SearchOptions) (iter.Seq[storage.FileInfo], error) {
	start, err := resolve(b.root, opts.Path)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(start)
	if err != nil {
		return nil, statError("search", opts.Path, err)
	}
	if !fi.IsDir() {
		return nil, storage.NewError("search", opts.Path, storage.ErrNotDirectory, nil)
	}

	needle := query
	if !opts.MatchCase {
		needle = strings.ToLower(query)
	}
	maxDepth, maxResults := b.maxDepth, b.maxResults
	if opts.MaxDepth > 0 {
		maxDepth = opts.MaxDepth
	}
	if opts.MaxResults > 0 {
		maxResults = opts.MaxResults
	}

	return func(yield func(storage.FileInfo) bool) {
		queue := []searchNode{{abs: start}}
		found := 0

		for len(queue) > 0 {
			if ctx.Err() != nil {
				return
			}
			node := queue[0]
			queue = queue[1:]
			if node.depth >= maxDepth {
				continue
			}

			entries, err := os.ReadDir(node.abs)
			if err != nil {
				logging.Warn("search: skipping unreadable directory",
					logging.String("path", relPath(b.root, node.abs)),
					logging.Err(err))
				continue
			}

			for _, e := range entries {
				name := e.Name()
				if storage.IsHidden(name) {
					continue
				}
				abs := filepath.Join(node.abs, name)

				if e.IsDir() {
					queue = append(queue, searchNode{abs: abs, depth: node.depth + 1})
				}

				candidate := name
				if !opts.MatchCase {
					candidate = strings.ToLower(name)
				}
				if !strings.Contains(candidate, needle) || (opts.FileOnly && e.IsDir()) {
					continue
				}

				info, err := b.entryInfo(abs, e)
				if err != nil {
					logging.Debug("search: skipping entry",
						logging.String("path", relPath(b.root, abs)),
						logging.Err(err))
					continue
				}
				if opts.FileOnly && info.IsDir() {
					continue
				}
				if !yield(*info) {
					return
				}
				if found++; found >= maxResults {
					return
				}
			}
		}
	}, nil
}

// Search returns one page of SearchIter results: the first opts.Offset
// matches are skipped and at most opts.Limit are returned.
func (b *LocalBackend) Search(ctx context.Context, query string, opts storage.SearchOptions) ([]storage.FileInfo, error) {
	seq, err := b.SearchIter(ctx, query, opts)
	if err != nil {
		return nil, err
	}

	results := []storage.FileInfo{}
	index := 0
	for info := range seq {
		if index >= opts.Offset {
			results = append(results, info)
			if opts.Limit > 0 && len(results) >= opts.Limit {
				break
			}
		}
		index++
	}
	if err := ctx.Err(); err != nil {
		return nil, storage.NewError("search", opts.Path, storage.ErrStorage, err)
	}
	return results, nil
}
