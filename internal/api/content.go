package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"

	"github.com/stardrive/stardrive/internal/archive"
	"github.com/stardrive/stardrive/internal/downloads"
	"github.com/stardrive/stardrive/internal/logging"
	"github.com/stardrive/stardrive/internal/metrics"
	"github.com/stardrive/stardrive/internal/storage"
	"github.com/stardrive/stardrive/internal/stream"
)

// sniffLen is how much of a file is read to detect its content type.
const sniffLen = 3072

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	info, err := s.files.Stat(path)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}

	if info.IsDir() {
		format, ok := s.archiveFormat(w, r)
		if !ok {
			return
		}
		sel := storage.Selection{Paths: []string{info.Path}, Base: parentDir(info.Path)}
		s.streamArchive(w, r, sel, archiveFilename(info.Name, format, time.Now()), format)
		return
	}
	s.streamFile(w, r, info)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	if storage.CleanPath(path) == "" {
		s.sendError(w, http.StatusBadRequest, "path required")
		return
	}

	body := r.Body
	if s.maxUploadSize > 0 {
		body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	}
	n, err := s.files.Upload(r.Context(), body, path)
	metrics.RecordContentUpload(n, err == nil)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}

	logging.WithContext(r.Context()).Info("file uploaded",
		logging.String("path", storage.CleanPath(path)),
		logging.String("size", humanize.IBytes(uint64(n))))
	s.sendInfo(w, r, http.StatusCreated, path)
}

func (s *Server) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	var req CreateLinkRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.TTLSeconds < 0 {
		s.sendError(w, http.StatusBadRequest, "ttl_seconds must not be negative")
		return
	}

	link, err := s.links.Create(r.Context(), downloads.Request{
		Paths:      req.Paths,
		BasePath:   req.BasePath,
		AccessCode: req.AccessCode,
		Source:     downloads.Source(req.Source),
		ShareID:    req.ShareID,
		TTL:        time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}

	s.sendJSON(w, http.StatusCreated, LinkResponse{
		ID:        link.Record.ID,
		Name:      link.Record.Name,
		Type:      link.Record.Type,
		URL:       s.publicURL + "/d/" + link.Token,
		Token:     link.Token,
		ExpiresAt: link.ExpiresAt,
	})
}

func (s *Server) handleLinkDownload(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		code = r.Header.Get("X-Access-Code")
	}
	rec, err := s.links.Resolve(r.Context(), r.PathValue("token"), code)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}

	if rec.Type == storage.TypeFile {
		info, err := s.files.Stat(rec.Paths[0])
		if err != nil {
			s.sendStorageError(w, r, err)
			return
		}
		if !info.IsDir() {
			s.streamFile(w, r, info)
			return
		}
	}

	format, ok := s.archiveFormat(w, r)
	if !ok {
		return
	}
	filename := archiveFilename(rec.Name, format, time.Now())
	if rec.Type == storage.TypeMixed {
		filename = fmt.Sprintf("bulk_download_%d%s", time.Now().Unix(), format.Extension())
	}
	s.streamArchive(w, r, rec.Selection(), filename, format)
}

// streamFile sends a single file with a detected content type.
func (s *Server) streamFile(w http.ResponseWriter, r *http.Request, info *storage.FileInfo) {
	rc, err := s.files.Download(r.Context(), info.Path)
	if err != nil {
		metrics.RecordContentDownload(0, false)
		s.sendStorageError(w, r, err)
		return
	}
	defer rc.Close()

	head := make([]byte, sniffLen)
	hn, err := io.ReadFull(rc, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		metrics.RecordContentDownload(0, false)
		s.sendStorageError(w, r, storage.NewError("download", info.Path, nil, err))
		return
	}
	head = head[:hn]

	w.Header().Set("Content-Type", mimetype.Detect(head).String())
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.Header().Set("Content-Disposition", attachment(info.Name))
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, io.MultiReader(bytes.NewReader(head), rc))
	if err != nil {
		logging.WithContext(r.Context()).Warn("content transfer error",
			logging.String("path", info.Path), logging.Err(err))
	}
	metrics.RecordContentDownload(n, err == nil)
}

// streamArchive pipes an archive of sel to the client chunk by chunk. If
// production fails after the headers went out, the connection is aborted so
// the client sees a truncated transfer instead of a complete archive.
func (s *Server) streamArchive(w http.ResponseWriter, r *http.Request, sel storage.Selection, filename string, format archive.Format) {
	rd, err := s.files.StreamArchive(r.Context(), sel, format)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	defer rd.Close()

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", attachment(filename))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	for {
		chunk, err := rd.Next()
		if len(chunk) > 0 {
			if _, werr := w.Write(chunk); werr != nil {
				logging.WithContext(r.Context()).Debug("archive client went away", logging.Err(werr))
				return
			}
			rc.Flush()
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			if !errors.Is(err, stream.ErrAborted) {
				logging.WithContext(r.Context()).Error("archive stream failed", logging.Err(err))
			}
			panic(http.ErrAbortHandler)
		}
	}
}

func (s *Server) archiveFormat(w http.ResponseWriter, r *http.Request) (archive.Format, bool) {
	name := r.URL.Query().Get("format")
	if name == "" {
		return s.files.ArchiveFormat(), true
	}
	format, err := archive.ParseFormat(name)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return format, true
}

func archiveFilename(name string, format archive.Format, now time.Time) string {
	return fmt.Sprintf("%s_archive_%d%s", name, now.Unix(), format.Extension())
}

func attachment(filename string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": filename})
}

func parentDir(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[:i]
		}
	}
	return ""
}
