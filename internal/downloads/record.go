// Package downloads issues short-lived download links for files and
// selections and keeps their records in a pluggable store.
package downloads

import (
	"context"
	"errors"
	"time"

	"github.com/stardrive/stardrive/internal/storage"
)

var (
	ErrRecordNotFound = errors.New("download record not found")
	ErrInvalidLink    = errors.New("download link invalid or expired")
	ErrAccessCode     = errors.New("access code missing or wrong")
	ErrInvalidRequest = errors.New("invalid download request")
)

// Source tells how a download record was created.
type Source string

const (
	SourceDownload Source = "download"
	SourceShare    Source = "share"
)

// Record describes what a download link serves.
type Record struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Type           storage.FileType `json:"type"`
	Paths          []string         `json:"paths"`
	BasePath       string           `json:"base_path"`
	AccessCodeHash string           `json:"access_code_hash,omitempty"`
	Source         Source           `json:"source"`
	ShareID        string           `json:"share_id,omitempty"`
	ExpiresAt      time.Time        `json:"expires_at"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Expired reports whether the record is past its expiry at now.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Selection returns the storage selection the record points at.
func (r *Record) Selection() storage.Selection {
	paths := make([]string, len(r.Paths))
	copy(paths, r.Paths)
	return storage.Selection{Paths: paths, Base: r.BasePath}
}

// Store persists download records.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	// Get returns ErrRecordNotFound for unknown records. Expired records
	// may or may not be returned.
	Get(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
	// PurgeExpired removes records that expired before now.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
	Close() error
}
