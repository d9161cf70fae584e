package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/stardrive/stardrive/internal/archive"
	"github.com/stardrive/stardrive/internal/logging"
	"github.com/stardrive/stardrive/internal/metrics"
	"github.com/stardrive/stardrive/internal/stream"
)

type archiveItem struct {
	path string // root relative
	name string // member name relative to the selection base
}

// StreamArchive validates sel against the active backend and starts
// producing a compressed archive of it on a background goroutine.
//
// Every path must resolve inside the backend and lie under sel.Base,
// otherwise nothing is produced. Paths that disappear before they are
// reached are skipped. Directories are added recursively in name order,
// hidden entries included when the backend is a FullLister. Symbolic links
// below them are left out, and empty directories get an explicit member.
//
// The caller must Close the returned reader. A producer failure surfaces
// from Read as an error wrapping stream.ErrAborted instead of io.EOF.
func (m *Manager) StreamArchive(ctx context.Context, sel Selection, format archive.Format) (*stream.Reader, error) {
	b, err := m.Active()
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = m.opts.format
	}
	if _, err := archive.ParseFormat(string(format)); err != nil {
		return nil, NewError("archive", "", ErrConfiguration, err)
	}

	items, err := m.planArchive(b, sel)
	if err != nil {
		return nil, err
	}

	log := logging.WithContext(ctx).With(
		logging.String("format", string(format)),
		logging.String("base", sel.Base),
		logging.Int("paths", len(items)))

	produce := func(ctx context.Context, w io.Writer) (err error) {
		start := time.Now()
		cw := &countingWriter{w: w}
		p := &archiveProducer{backend: b, log: log}
		metrics.ArchiveStarted()
		defer func() {
			metrics.RecordArchive(string(format), time.Since(start), err == nil)
			metrics.RecordArchiveBytes(string(format), cw.n)
			if err != nil {
				log.Warn("archive stream aborted", logging.Err(err),
					logging.String("sent", humanize.IBytes(uint64(cw.n))))
				return
			}
			log.Info("archive stream completed",
				logging.Int("members", p.added),
				logging.Int("skipped", p.skipped),
				logging.String("size", humanize.IBytes(uint64(cw.n))),
				logging.Duration("duration", time.Since(start)))
		}()

		aw, err := archive.NewWriter(cw, format, m.opts.level)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := p.addPath(ctx, aw, item); err != nil {
				aw.Close()
				return err
			}
		}
		return aw.Close()
	}

	return stream.Start(ctx, m.opts.chunkSize, m.opts.bufferChunks, produce), nil
}

// planArchive checks the selection up front and computes member names.
func (m *Manager) planArchive(b Backend, sel Selection) ([]archiveItem, error) {
	if len(sel.Paths) == 0 {
		return nil, NewError("archive", sel.Base, ErrPathParse, errors.New("empty selection"))
	}

	base := CleanPath(sel.Base)
	baseInfo, err := b.Stat(base)
	if err != nil {
		return nil, err
	}
	if !baseInfo.IsDir() {
		return nil, NewError("archive", sel.Base, ErrNotDirectory, nil)
	}

	items := make([]archiveItem, 0, len(sel.Paths))
	for _, p := range sel.Paths {
		if _, err := b.Exists(p); err != nil {
			return nil, err
		}
		cp := CleanPath(p)
		var name string
		switch {
		case cp == base:
			name = baseInfo.Name
		case base == "":
			name = cp
		case strings.HasPrefix(cp, base+"/"):
			name = cp[len(base)+1:]
		default:
			return nil, NewError("archive", p, ErrOutsideBase, nil)
		}
		items = append(items, archiveItem{path: cp, name: name})
	}
	return items, nil
}

type archiveProducer struct {
	backend Backend
	log     *zap.Logger
	added   int
	skipped int
}

func (p *archiveProducer) skip(path string, err error) {
	p.skipped++
	metrics.RecordArchiveMember(false)
	p.log.Debug("archive: skipping entry", logging.String("path", path), logging.Err(err))
}

func (p *archiveProducer) addPath(ctx context.Context, aw archive.Writer, item archiveItem) error {
	info, err := p.backend.Stat(item.path)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			p.skip(item.path, err)
			return nil
		}
		return err
	}
	return p.addEntry(ctx, aw, info, item.name)
}

func (p *archiveProducer) addEntry(ctx context.Context, aw archive.Writer, info *FileInfo, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !info.IsDir() {
		rc, err := p.backend.Download(ctx, info.Path)
		if err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrPermission) {
				p.skip(info.Path, err)
				return nil
			}
			return err
		}
		defer rc.Close()
		if err := aw.AddFile(name, memberInfo{info}, rc); err != nil {
			return err
		}
		p.added++
		metrics.RecordArchiveMember(true)
		return nil
	}

	children, err := p.list(info.Path)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrPermission) {
			p.skip(info.Path, err)
			return nil
		}
		return err
	}

	empty := true
	for i := range children {
		child := &children[i]
		if child.Symlink {
			p.skip(child.Path, nil)
			continue
		}
		empty = false
		if err := p.addEntry(ctx, aw, child, name+"/"+child.Name); err != nil {
			return err
		}
	}
	if empty {
		if err := aw.AddDir(name, memberInfo{info}); err != nil {
			return err
		}
		p.added++
		metrics.RecordArchiveMember(true)
	}
	return nil
}

func (p *archiveProducer) list(path string) ([]FileInfo, error) {
	if fl, ok := p.backend.(FullLister); ok {
		return fl.ListAll(path)
	}
	return p.backend.List(path)
}

// memberInfo adapts FileInfo to fs.FileInfo for archive headers.
type memberInfo struct {
	fi *FileInfo
}

func (m memberInfo) Name() string { return path.Base(m.fi.Name) }
func (m memberInfo) Size() int64  { return m.fi.Size }
func (m memberInfo) IsDir() bool  { return m.fi.IsDir() }
func (m memberInfo) Sys() any     { return nil }

func (m memberInfo) Mode() fs.FileMode {
	if m.fi.IsDir() {
		return fs.ModeDir | 0755
	}
	return 0644
}

func (m memberInfo) ModTime() time.Time {
	if m.fi.ModifiedAt != nil {
		return *m.fi.ModifiedAt
	}
	return time.Time{}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
