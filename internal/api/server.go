// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/stardrive/stardrive/internal/downloads"
	"github.com/stardrive/stardrive/internal/logging"
	"github.com/stardrive/stardrive/internal/metrics"
	"github.com/stardrive/stardrive/internal/storage"
)

// Options configures the HTTP server.
type Options struct {
	MaxUploadSize int64
	// PublicURL prefixes download link URLs. Relative URLs are returned when empty.
	PublicURL string
}

// Server is the HTTP server.
type Server struct {
	files         *storage.Manager
	links         *downloads.Service
	maxUploadSize int64
	publicURL     string
}

// NewServer creates a new server.
func NewServer(files *storage.Manager, links *downloads.Service, opts Options) *Server {
	return &Server{
		files:         files,
		links:         links,
		maxUploadSize: opts.MaxUploadSize,
		publicURL:     strings.TrimSuffix(opts.PublicURL, "/"),
	}
}

// Handler returns the HTTP handler with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Files
	mux.HandleFunc("GET /api/v1/list", s.handleList)
	mux.HandleFunc("GET /api/v1/list/{path...}", s.handleList)
	mux.HandleFunc("GET /api/v1/metadata/{path...}", s.handleMetadata)
	mux.HandleFunc("GET /api/v1/exists/{path...}", s.handleExists)
	mux.HandleFunc("GET /api/v1/size/{path...}", s.handleSize)
	mux.HandleFunc("GET /api/v1/search", s.handleSearch)
	mux.HandleFunc("GET /api/v1/content/{path...}", s.handleContent)
	mux.HandleFunc("POST /api/v1/content/{path...}", s.handleUpload)
	mux.HandleFunc("DELETE /api/v1/files/{path...}", s.handleDeleteFile)
	mux.HandleFunc("POST /api/v1/dirs/{path...}", s.handleCreateDirectory)
	mux.HandleFunc("DELETE /api/v1/dirs/{path...}", s.handleDeleteDirectory)
	mux.HandleFunc("POST /api/v1/move", s.handleMove)
	mux.HandleFunc("POST /api/v1/copy", s.handleCopy)

	// Download links
	mux.HandleFunc("POST /api/v1/links", s.handleCreateLink)
	mux.HandleFunc("GET /d/{token}", s.handleLinkDownload)

	// Storage admin
	mux.HandleFunc("GET /api/v1/admin/backends", s.handleListBackends)
	mux.HandleFunc("PUT /api/v1/admin/backends/active", s.handleSetActiveBackend)

	return logging.Middleware(metrics.Middleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok", "backend": s.files.ActiveName()}
	if _, err := s.files.Active(); err != nil {
		status["status"] = "degraded"
		s.sendJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	s.sendJSON(w, http.StatusOK, status)
}

func (s *Server) handleListBackends(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, BackendsResponse{
		Active:   s.files.ActiveName(),
		Backends: s.files.Names(),
	})
}

func (s *Server) handleSetActiveBackend(w http.ResponseWriter, r *http.Request) {
	var req SetActiveRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := s.files.SetActive(req.Name); err != nil {
		if errors.Is(err, storage.ErrBackendNotFound) {
			s.sendError(w, http.StatusNotFound, "unknown storage backend: "+req.Name)
			return
		}
		s.sendStorageError(w, r, err)
		return
	}
	s.handleListBackends(w, r)
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.sendJSON(w, code, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// sendStorageError maps a storage or download error onto an HTTP status.
// Causes stay in the log; clients only see the operation, path and kind.
func (s *Server) sendStorageError(w http.ResponseWriter, r *http.Request, err error) {
	code := errorStatus(err)
	log := logging.WithContext(r.Context())
	if code >= http.StatusInternalServerError {
		log.Error("request failed", logging.Int("status", code), logging.Err(err))
	} else {
		log.Debug("request rejected", logging.Int("status", code), logging.Err(err))
	}
	s.sendError(w, code, publicMessage(err))
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrBackendNotFound), errors.Is(err, storage.ErrConnection):
		return http.StatusServiceUnavailable
	case errors.Is(err, storage.ErrPermission), errors.Is(err, downloads.ErrAccessCode):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, downloads.ErrInvalidLink):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrExists), errors.Is(err, storage.ErrBackendExists):
		return http.StatusConflict
	case errors.Is(err, storage.ErrIsDirectory), errors.Is(err, storage.ErrNotDirectory),
		errors.Is(err, storage.ErrPathParse), errors.Is(err, storage.ErrOutsideBase),
		errors.Is(err, downloads.ErrInvalidRequest):
		return http.StatusBadRequest
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

func publicMessage(err error) string {
	if errorStatus(err) == http.StatusRequestEntityTooLarge {
		return "upload too large"
	}
	var se *storage.Error
	if errors.As(err, &se) {
		if se.Path != "" {
			return se.Op + " " + se.Path + ": " + se.Kind.Error()
		}
		return se.Op + ": " + se.Kind.Error()
	}
	for _, known := range []error{
		downloads.ErrInvalidLink, downloads.ErrAccessCode, downloads.ErrInvalidRequest,
	} {
		if errors.Is(err, known) {
			return err.Error()
		}
	}
	return "internal error"
}
