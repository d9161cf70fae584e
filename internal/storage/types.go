package storage

import (
	"path"
	"time"
)

// FileType is the kind of a storage entry.
type FileType string

const (
	TypeFile  FileType = "file"
	TypeDir   FileType = "dir"
	TypeMixed FileType = "mixed" // download selections only
)

// Timestamps holds the platform dependent times of an entry.
// A nil field means the platform does not expose that time.
type Timestamps struct {
	AccessedAt      *time.Time `json:"accessed_at,omitempty"`
	ModifiedAt      *time.Time `json:"modified_at,omitempty"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	StatusChangedAt *time.Time `json:"status_changed_at,omitempty"`
	CustomUpdatedAt *time.Time `json:"custom_updated_at,omitempty"`
}

// FileInfo is the metadata record for a file or directory.
type FileInfo struct {
	Name      string   `json:"name"`
	Path      string   `json:"path"` // relative to the backend root, forward slashes
	Type      FileType `json:"type"`
	Extension string   `json:"extension,omitempty"`
	Size      int64    `json:"size"`
	Timestamps
	NumChildren *int `json:"num_children,omitempty"`

	// Symlink is set for entries reached through a symbolic link.
	Symlink bool `json:"symlink,omitempty"`
}

// IsDir reports whether the entry is a directory.
func (fi *FileInfo) IsDir() bool { return fi.Type == TypeDir }

// Selection is a set of paths to download together, all under Base.
type Selection struct {
	Paths []string
	Base  string
}

// SearchOptions controls a bounded search.
type SearchOptions struct {
	Path      string // start directory, root when empty
	Offset    int
	Limit     int // 0 means no page limit
	MatchCase bool
	FileOnly  bool

	// Bounds override the backend defaults when positive.
	MaxDepth   int
	MaxResults int
}

// IsHidden reports whether a name is hidden (leading dot).
func IsHidden(name string) bool {
	return len(name) > 0 && name[0] == '.'
}

// CleanPath normalizes a caller path to a root-relative, slash separated form.
// The root itself is "".
func CleanPath(p string) string {
	p = path.Clean("/" + p)
	if p == "/" {
		return ""
	}
	return p[1:]
}
