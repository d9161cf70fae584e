package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/stardrive/stardrive/internal/archive"
	"github.com/stardrive/stardrive/internal/logging"
	"github.com/stardrive/stardrive/internal/metrics"
)

const (
	// DefaultChunkSize is the size of one archive stream chunk.
	DefaultChunkSize = 10 << 10
	// DefaultBufferChunks is how many chunks may queue ahead of the client.
	DefaultBufferChunks = 16
)

// Searcher is implemented by backends that can search lazily.
type Searcher interface {
	SearchIter(ctx context.Context, query string, opts SearchOptions) (iter.Seq[FileInfo], error)
}

type managerOptions struct {
	format       archive.Format
	chunkSize    int
	bufferChunks int
	level        int
	probeTimeout time.Duration
}

// Option configures a Manager.
type Option func(*managerOptions)

// WithArchiveFormat sets the default archive format.
func WithArchiveFormat(f archive.Format) Option {
	return func(o *managerOptions) { o.format = f }
}

// WithChunkSize sets the archive stream chunk size in bytes.
func WithChunkSize(n int) Option {
	return func(o *managerOptions) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// WithBufferChunks sets how many chunks may be queued ahead of the consumer.
func WithBufferChunks(n int) Option {
	return func(o *managerOptions) {
		if n > 0 {
			o.bufferChunks = n
		}
	}
}

// WithCompressionLevel sets the archive compression level.
func WithCompressionLevel(level int) Option {
	return func(o *managerOptions) { o.level = level }
}

// WithProbeTimeout bounds the probe run when a backend is registered.
func WithProbeTimeout(d time.Duration) Option {
	return func(o *managerOptions) {
		if d > 0 {
			o.probeTimeout = d
		}
	}
}

// Manager holds the registered backends and routes every operation to the
// active one. It is safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	backends map[string]Backend
	active   string
	opts     managerOptions
}

var _ Backend = (*Manager)(nil)

// NewManager creates an empty Manager.
func NewManager(opts ...Option) *Manager {
	o := managerOptions{
		format:       archive.FormatTarGz,
		chunkSize:    DefaultChunkSize,
		bufferChunks: DefaultBufferChunks,
		probeTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager{
		backends: make(map[string]Backend),
		opts:     o,
	}
}

// Register adds a backend under name. Backends implementing Prober are
// probed first so a misconfigured backend is rejected at startup.
func (m *Manager) Register(name string, b Backend) error {
	if name == "" {
		return NewError("register", "", ErrConfiguration, errors.New("backend name is required"))
	}
	if b == nil {
		return NewError("register", name, ErrConfiguration, errors.New("backend is nil"))
	}

	if p, ok := b.(Prober); ok {
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.probeTimeout)
		err := p.Probe(ctx)
		cancel()
		if err != nil {
			return NewError("register", name, ErrConfiguration, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.backends[name]; exists {
		return NewError("register", name, ErrBackendExists, nil)
	}
	m.backends[name] = b

	logging.Info("storage backend registered",
		logging.String("name", name),
		logging.String("type", b.Type()))
	return nil
}

// SetActive selects the backend that receives all operations.
func (m *Manager) SetActive(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.backends[name]; !ok {
		return NewError("set active", name, ErrBackendNotFound, nil)
	}
	m.active = name
	logging.Info("active storage backend changed", logging.String("name", name))
	return nil
}

// Active returns the active backend.
func (m *Manager) Active() (Backend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.backends[m.active]
	if !ok {
		return nil, NewError("active", "", ErrBackendNotFound, errors.New("no active storage backend"))
	}
	return b, nil
}

// ActiveName returns the name of the active backend, or "" if none.
func (m *Manager) ActiveName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Names returns the registered backend names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.backends))
	for name := range m.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ArchiveFormat returns the default archive format.
func (m *Manager) ArchiveFormat() archive.Format {
	return m.opts.format
}

func (m *Manager) Exists(path string) (bool, error) {
	b, err := m.Active()
	if err != nil {
		return false, err
	}
	return b.Exists(path)
}

func (m *Manager) FullPath(path string) (string, error) {
	b, err := m.Active()
	if err != nil {
		return "", err
	}
	return b.FullPath(path)
}

func (m *Manager) Upload(ctx context.Context, r io.Reader, path string) (int64, error) {
	b, err := m.Active()
	if err != nil {
		return 0, err
	}
	n, err := b.Upload(ctx, r, path)
	metrics.RecordStorageOperation("upload", err == nil)
	return n, err
}

func (m *Manager) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	b, err := m.Active()
	if err != nil {
		return nil, err
	}
	return b.Download(ctx, path)
}

func (m *Manager) DeleteFile(path string) error {
	b, err := m.Active()
	if err != nil {
		return err
	}
	err = b.DeleteFile(path)
	metrics.RecordStorageOperation("delete_file", err == nil)
	return err
}

func (m *Manager) List(path string) ([]FileInfo, error) {
	b, err := m.Active()
	if err != nil {
		return nil, err
	}
	return b.List(path)
}

func (m *Manager) CreateDirectory(path string) error {
	b, err := m.Active()
	if err != nil {
		return err
	}
	err = b.CreateDirectory(path)
	metrics.RecordStorageOperation("create_directory", err == nil)
	return err
}

func (m *Manager) DeleteDirectory(path string) error {
	b, err := m.Active()
	if err != nil {
		return err
	}
	err = b.DeleteDirectory(path)
	metrics.RecordStorageOperation("delete_directory", err == nil)
	return err
}

func (m *Manager) Move(src, dst string) error {
	b, err := m.Active()
	if err != nil {
		return err
	}
	err = b.Move(src, dst)
	metrics.RecordStorageOperation("move", err == nil)
	return err
}

func (m *Manager) Copy(src, dst string) error {
	b, err := m.Active()
	if err != nil {
		return err
	}
	err = b.Copy(src, dst)
	metrics.RecordStorageOperation("copy", err == nil)
	return err
}

func (m *Manager) Stat(path string) (*FileInfo, error) {
	b, err := m.Active()
	if err != nil {
		return nil, err
	}
	return b.Stat(path)
}

func (m *Manager) DirectorySize(ctx context.Context, path string) (int64, error) {
	b, err := m.Active()
	if err != nil {
		return 0, err
	}
	start := time.Now()
	n, err := b.DirectorySize(ctx, path)
	metrics.RecordDirectorySize(time.Since(start))
	return n, err
}

func (m *Manager) Search(ctx context.Context, query string, opts SearchOptions) ([]FileInfo, error) {
	b, err := m.Active()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	results, err := b.Search(ctx, query, opts)
	if err == nil {
		metrics.RecordSearch(time.Since(start), len(results))
	}
	return results, err
}

// SearchIter returns the lazy search sequence of the active backend.
func (m *Manager) SearchIter(ctx context.Context, query string, opts SearchOptions) (iter.Seq[FileInfo], error) {
	b, err := m.Active()
	if err != nil {
		return nil, err
	}
	s, ok := b.(Searcher)
	if !ok {
		return nil, NewError("search", opts.Path, ErrConfiguration,
			fmt.Errorf("backend %q does not support lazy search", b.Type()))
	}
	return s.SearchIter(ctx, query, opts)
}

// Type returns the type of the active backend, or "" if none is active.
func (m *Manager) Type() string {
	b, err := m.Active()
	if err != nil {
		return ""
	}
	return b.Type()
}

// Close closes every registered backend.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for name, b := range m.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close backend %s: %w", name, err))
		}
	}
	m.backends = make(map[string]Backend)
	m.active = ""
	return errors.Join(errs...)
}
