package api

import (
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"

	"github.com/stardrive/stardrive/internal/storage"
)

const (
	defaultSearchLimit = 100
	maxSearchLimit     = 1000
)

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	entries, err := s.files.List(path)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, ListResponse{Path: storage.CleanPath(path), Entries: entries})
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	info, err := s.files.Stat(r.PathValue("path"))
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, info)
}

func (s *Server) handleExists(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	ok, err := s.files.Exists(path)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, ExistsResponse{Path: storage.CleanPath(path), Exists: ok})
}

func (s *Server) handleSize(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	size, err := s.files.DirectorySize(r.Context(), path)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, SizeResponse{
		Path:  storage.CleanPath(path),
		Size:  size,
		Human: humanize.IBytes(uint64(size)),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		s.sendError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}

	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		s.sendError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	limit, err := intParam(q.Get("limit"), defaultSearchLimit)
	if err != nil || limit <= 0 {
		s.sendError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	opts := storage.SearchOptions{
		Path:      q.Get("path"),
		Offset:    offset,
		Limit:     limit,
		MatchCase: boolParam(q.Get("match_case")),
		FileOnly:  boolParam(q.Get("file_only")),
	}
	results, err := s.files.Search(r.Context(), query, opts)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, SearchResponse{
		Query:   query,
		Path:    storage.CleanPath(opts.Path),
		Offset:  offset,
		Limit:   limit,
		Results: results,
	})
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	if err := s.files.DeleteFile(r.PathValue("path")); err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateDirectory(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	if storage.CleanPath(path) == "" {
		s.sendError(w, http.StatusBadRequest, "path required")
		return
	}
	if err := s.files.CreateDirectory(path); err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	s.sendInfo(w, r, http.StatusCreated, path)
}

func (s *Server) handleDeleteDirectory(w http.ResponseWriter, r *http.Request) {
	if err := s.files.DeleteDirectory(r.PathValue("path")); err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Src == "" || req.Dest == "" {
		s.sendError(w, http.StatusBadRequest, "src and dest are required")
		return
	}
	if err := s.files.Move(req.Src, req.Dest); err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	s.sendInfo(w, r, http.StatusOK, req.Dest)
}

func (s *Server) handleCopy(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Src == "" || req.Dest == "" {
		s.sendError(w, http.StatusBadRequest, "src and dest are required")
		return
	}
	if err := s.files.Copy(req.Src, req.Dest); err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	s.sendInfo(w, r, http.StatusCreated, req.Dest)
}

// sendInfo replies with the metadata of path after a successful change.
func (s *Server) sendInfo(w http.ResponseWriter, r *http.Request, code int, path string) {
	info, err := s.files.Stat(path)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	s.sendJSON(w, code, info)
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func boolParam(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}
