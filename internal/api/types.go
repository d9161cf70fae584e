package api

import (
	"time"

	"github.com/stardrive/stardrive/internal/storage"
)

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// ListResponse is returned by the list endpoint.
type ListResponse struct {
	Path    string             `json:"path"`
	Entries []storage.FileInfo `json:"entries"`
}

// SizeResponse is returned by the directory size endpoint.
type SizeResponse struct {
	Path  string `json:"path"`
	Size  int64  `json:"size"`
	Human string `json:"human"`
}

// SearchResponse is one page of search results.
type SearchResponse struct {
	Query   string             `json:"query"`
	Path    string             `json:"path"`
	Offset  int                `json:"offset"`
	Limit   int                `json:"limit"`
	Results []storage.FileInfo `json:"results"`
}

// ExistsResponse is returned by the exists endpoint.
type ExistsResponse struct {
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
}

// TransferRequest is the body of move and copy requests.
type TransferRequest struct {
	Src  string `json:"src"`
	Dest string `json:"dest"`
}

// CreateLinkRequest is the body of a download link request.
type CreateLinkRequest struct {
	Paths      []string `json:"paths"`
	BasePath   string   `json:"base_path,omitempty"`
	AccessCode string   `json:"access_code,omitempty"`
	Source     string   `json:"source,omitempty"`
	ShareID    string   `json:"share_id,omitempty"`
	TTLSeconds int      `json:"ttl_seconds,omitempty"`
}

// LinkResponse describes a created download link.
type LinkResponse struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Type      storage.FileType `json:"type"`
	URL       string           `json:"url"`
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// BackendsResponse lists the registered storage backends.
type BackendsResponse struct {
	Active   string   `json:"active"`
	Backends []string `json:"backends"`
}

// SetActiveRequest selects the active storage backend.
type SetActiveRequest struct {
	Name string `json:"name"`
}
